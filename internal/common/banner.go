package common

import (
	"fmt"

	"github.com/ternarybob/banner"
)

// PrintBanner displays the application banner followed by the settings an
// operator usually wants to confirm at startup
func PrintBanner(config *Config) {
	banner.PrintSimple("Data Machine", GetVersion())

	provider := string(config.LLM.DefaultProvider)
	if provider == "" {
		provider = "none"
	}
	fmt.Printf("  Environment: %s\n", config.Environment)
	fmt.Printf("  Database:    %s\n", config.Storage.Badger.Path)
	fmt.Printf("  Flows:       %s\n", config.Flows.DefinitionsDir)
	fmt.Printf("  Workers:     %d\n", config.Queue.Concurrency)
	fmt.Printf("  AI provider: %s\n", provider)
	if config.Recovery.Enabled {
		fmt.Printf("  Recovery:    every %s, timeout %.1fh\n", config.Recovery.Interval, config.Recovery.TimeoutHours)
	}
	fmt.Println()
}
