package main

import (
	"fmt"
	"os"

	"github.com/saraichinwag/data-machine-sub002/internal/common"
	"github.com/spf13/cobra"
	"github.com/ternarybob/arbor"
)

var (
	// Command-line flags
	configFiles []string // Multiple --config flags supported, later files override earlier ones
	badgerPath  string
	flowsDir    string
	logLevel    string

	// Global state, set by loadConfig before any subcommand runs
	config *common.Config
	logger arbor.ILogger
)

var rootCmd = &cobra.Command{
	Use:   "datamachine",
	Short: "Run scheduled fetch, AI and publish pipelines",
	Long: `Data Machine executes flows: saved pipelines of fetch, ai, publish and update
steps, run on a schedule or on demand, with AI agents calling tools between steps.`,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

func init() {
	rootCmd.PersistentFlags().StringSliceVarP(&configFiles, "config", "c", nil, "Configuration file path (repeatable, later files override earlier ones)")
	rootCmd.PersistentFlags().StringVar(&badgerPath, "badger-path", "", "Badger database directory (overrides config)")
	rootCmd.PersistentFlags().StringVar(&flowsDir, "flows-dir", "", "Flow definitions directory (overrides config)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (overrides config)")

	rootCmd.AddCommand(serveCmd, runCmd, chatCmd, versionCmd)
}

func main() {
	common.InstallCrashHandler("")
	defer common.RecoverWithCrashFile()

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig resolves configuration in order: defaults, config files, env, CLI flags.
// The logger is initialized from the final configuration.
func loadConfig(cmd *cobra.Command, args []string) error {
	// Auto-discover config file if not specified
	if len(configFiles) == 0 {
		if _, err := os.Stat("datamachine.toml"); err == nil {
			configFiles = append(configFiles, "datamachine.toml")
		} else if _, err := os.Stat("deployments/local/datamachine.toml"); err == nil {
			configFiles = append(configFiles, "deployments/local/datamachine.toml")
		}
	}

	var err error
	config, err = common.LoadFromFiles(configFiles...)
	if err != nil {
		return fmt.Errorf("failed to load configuration %v: %w", configFiles, err)
	}

	common.ApplyFlagOverrides(config, badgerPath, flowsDir, logLevel)
	logger = common.InitLogger(config)

	logger.Debug().
		Strs("config_files", configFiles).
		Str("badger_path", config.Storage.Badger.Path).
		Str("flows_dir", config.Flows.DefinitionsDir).
		Str("log_level", config.Logging.Level).
		Strs("log_output", config.Logging.Output).
		Str("llm_provider", string(config.LLM.DefaultProvider)).
		Msg("Resolved configuration")
	return nil
}
