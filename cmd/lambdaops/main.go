package main

import (
	"fmt"
	"os"

	"github.com/3leaps/lambdaops/internal/cmd"
	"github.com/3leaps/lambdaops/internal/observability"
)

// Set by -ldflags at build time.
var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	cmd.SetVersionInfo(version, commit, buildDate)

	err := cmd.Execute()
	_ = observability.CLILogger.Sync()
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(cmd.ExitCode(err))
	}
}
