package common

import (
	"fmt"
	"runtime"
)

// Set via -ldflags "-X github.com/saraichinwag/data-machine-sub002/internal/common.Version=..."
var (
	Version   = "dev"
	Build     = "unknown"
	GitCommit = "unknown"
)

// GetVersion returns the release version
func GetVersion() string {
	return Version
}

// GetFullVersion returns the version with build metadata and the toolchain it was built with
func GetFullVersion() string {
	return fmt.Sprintf("%s (build: %s, commit: %s, %s %s/%s)",
		Version, Build, GitCommit, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}
