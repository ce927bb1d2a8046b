package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/lambdaops/internal/observability"
	"github.com/3leaps/lambdaops/pkg/layer"
	"github.com/3leaps/lambdaops/pkg/output"
)

var (
	optimizeDryRun   bool
	optimizeRules    string
	optimizeAuditLog string
)

var optimizeLayerCmd = &cobra.Command{
	Use:   "optimize-layer <packages-directory>",
	Short: "Shrink an installed-packages directory before it is zipped into a layer",
	Long: `Remove parts of installed packages that a deployed function never loads.

The built-in rules target the requests stack: urllib3's contrib package,
typing stubs, dist-info metadata, license files and example directories. A
YAML rules file replaces the built-in rules entirely.

Running the command twice leaves the same tree as running it once.

Examples:
  # Optimize the packages of a layer build
  lambdaops optimize-layer build/python

  # Show what would be removed
  lambdaops optimize-layer build/python --dry-run

  # Use custom rules
  lambdaops optimize-layer build/python --rules layer-rules.yaml

  # Keep a JSONL record of every removal
  lambdaops optimize-layer build/python --audit-log layer.jsonl`,
	Args: cobra.ExactArgs(1),
	RunE: runOptimizeLayer,
}

func init() {
	rootCmd.AddCommand(optimizeLayerCmd)
	optimizeLayerCmd.Flags().BoolVar(&optimizeDryRun, "dry-run", false, "Report removals without changing anything")
	optimizeLayerCmd.Flags().StringVar(&optimizeRules, "rules", "", "YAML rules file replacing the built-in rules")
	optimizeLayerCmd.Flags().StringVar(&optimizeAuditLog, "audit-log", "", "Write a JSONL record of every removed entry to this file")
}

func runOptimizeLayer(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	dir := args[0]

	opts := layer.Options{
		DryRun: optimizeDryRun,
		Output: cmd.OutOrStdout(),
		Logger: observability.CLILogger,
	}
	if optimizeRules != "" {
		rules, err := layer.LoadRules(optimizeRules)
		if err != nil {
			return exitError(ExitFailure, "Invalid --rules file", err)
		}
		opts.Rules = &rules
	}

	report, err := layer.OptimizeDir(ctx, dir, opts)
	if err != nil {
		if errors.Is(err, layer.ErrPackagesDirNotFound) {
			return exitError(ExitFailure, "Directory "+dir+" does not exist", err)
		}
		observability.CLILogger.Error("Layer optimization failed", zap.String("dir", dir), zap.Error(err))
		return exitError(ExitFailure, "Layer optimization failed", err)
	}

	if optimizeAuditLog != "" {
		if err := writeLayerAudit(ctx, optimizeAuditLog, dir, report); err != nil {
			return exitError(ExitFailure, "Failed to write audit log", err)
		}
	}

	verb := "Removed"
	if report.DryRun {
		verb = "Would remove"
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s %d entries, reclaimed %s\n",
		verb, report.Entries(), humanize.Bytes(uint64(report.ReclaimedBytes)))
	return nil
}

// writeLayerAudit records a finished optimization run.
func writeLayerAudit(ctx context.Context, path, dir string, report *layer.Report) error {
	audit, closeAudit, err := openAuditLog(path, uuid.New().String(), dir)
	if err != nil {
		return err
	}
	defer closeAudit()

	for _, rm := range report.Removed {
		if err := audit.WriteRemoval(ctx, &output.RemovalRecord{
			Path:   rm.Path,
			Size:   rm.Size,
			Dir:    rm.Dir,
			DryRun: report.DryRun,
		}); err != nil {
			return err
		}
	}
	return audit.WriteLayerSummary(ctx, &output.LayerSummaryRecord{
		DryRun:            report.DryRun,
		Removed:           report.Entries(),
		MetadataRewritten: report.MetadataRewritten,
		ReclaimedBytes:    report.ReclaimedBytes,
		Duration:          report.Duration,
		DurationHuman:     report.Duration.Round(time.Millisecond).String(),
	})
}
