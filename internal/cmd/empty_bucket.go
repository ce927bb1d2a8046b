package cmd

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/lambdaops/internal/observability"
	"github.com/3leaps/lambdaops/pkg/emptier"
	"github.com/3leaps/lambdaops/pkg/provider"
	"github.com/3leaps/lambdaops/pkg/provider/s3"
)

var (
	emptyRegion    string
	emptyEndpoint  string
	emptyPrefix    string
	emptyBatchSize int
	emptyRateLimit float64
	emptyDryRun    bool
	emptyAuditLog  string
)

var emptyBucketCmd = &cobra.Command{
	Use:   "empty-bucket <bucket-name> [credential-profile]",
	Short: "Delete every object version and delete marker in an S3 bucket",
	Long: `Delete every object version and delete marker in an S3 bucket so that the
bucket itself can be deleted.

The bucket listing is walked page by page and each page is removed with batch
delete requests of at most 1000 entries. The optional second argument selects a
named credential profile from the shared AWS config.

Examples:
  # Empty a bucket with the default credential chain
  lambdaops empty-bucket my-deploy-bucket

  # Use a named profile
  lambdaops empty-bucket my-deploy-bucket staging

  # Count what would be deleted under a prefix
  lambdaops empty-bucket my-deploy-bucket --prefix logs/ --dry-run

  # Keep a JSONL record of every deleted version
  lambdaops empty-bucket my-deploy-bucket --audit-log empty.jsonl

  # Local S3-compatible store
  lambdaops empty-bucket test-bucket --endpoint http://localhost:9000`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runEmptyBucket,
}

func init() {
	rootCmd.AddCommand(emptyBucketCmd)
	emptyBucketCmd.Flags().StringVar(&emptyRegion, "region", "", "AWS region (default: from profile or environment)")
	emptyBucketCmd.Flags().StringVar(&emptyEndpoint, "endpoint", "", "Custom S3 endpoint (S3-compatible stores); forces path-style addressing")
	emptyBucketCmd.Flags().StringVar(&emptyPrefix, "prefix", "", "Only delete versions of keys under this prefix")
	emptyBucketCmd.Flags().IntVar(&emptyBatchSize, "batch-size", 0, "Entries per delete request, 1-1000 (default: emptier.batch_size)")
	emptyBucketCmd.Flags().Float64Var(&emptyRateLimit, "rate-limit", 0, "Maximum delete requests per second, 0 for unlimited (default: emptier.rate_limit)")
	emptyBucketCmd.Flags().BoolVar(&emptyDryRun, "dry-run", false, "List and count versions without deleting")
	emptyBucketCmd.Flags().StringVar(&emptyAuditLog, "audit-log", "", "Write a JSONL record of every deleted or refused version to this file")
}

func runEmptyBucket(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := appConfig(ctx)
	if err != nil {
		return exitError(ExitFailure, "Failed to load configuration", err)
	}

	s3Cfg := s3.Config{
		Bucket:         args[0],
		Region:         cfg.S3.Region,
		Endpoint:       cfg.S3.Endpoint,
		ForcePathStyle: cfg.S3.ForcePathStyle,
	}
	if len(args) > 1 {
		s3Cfg.Profile = args[1]
	}
	if cmd.Flags().Changed("region") {
		s3Cfg.Region = emptyRegion
	}
	if cmd.Flags().Changed("endpoint") {
		s3Cfg.Endpoint = emptyEndpoint
	}
	if s3Cfg.Endpoint != "" {
		s3Cfg.ForcePathStyle = true
	}

	runCfg := emptier.Config{
		Prefix:    emptyPrefix,
		BatchSize: cfg.Emptier.BatchSize,
		RateLimit: cfg.Emptier.RateLimit,
		DryRun:    emptyDryRun,
		RunID:     uuid.New().String(),
	}
	if cmd.Flags().Changed("batch-size") {
		if emptyBatchSize < 1 || emptyBatchSize > emptier.MaxBatchSize {
			return exitError(ExitFailure, "Invalid --batch-size value", errors.New("batch size must be between 1 and 1000"))
		}
		runCfg.BatchSize = emptyBatchSize
	}
	if cmd.Flags().Changed("rate-limit") {
		if emptyRateLimit < 0 {
			return exitError(ExitFailure, "Invalid --rate-limit value", errors.New("rate limit must not be negative"))
		}
		runCfg.RateLimit = emptyRateLimit
	}

	store, err := newVersionStore(ctx, s3Cfg)
	if err != nil {
		return exitError(ExitFailure, "Failed to connect to S3", err)
	}
	defer func() { _ = store.Close() }()

	opts := []emptier.Option{
		emptier.WithOutput(cmd.OutOrStdout()),
		emptier.WithLogger(observability.CLILogger),
	}
	if emptyAuditLog != "" {
		audit, closeAudit, err := openAuditLog(emptyAuditLog, runCfg.RunID, s3Cfg.Bucket)
		if err != nil {
			return exitError(ExitFailure, "Invalid --audit-log value", err)
		}
		defer closeAudit()
		opts = append(opts, emptier.WithRecorder(audit))
	}

	e := emptier.New(store, runCfg, opts...)

	summary, err := e.Empty(ctx)
	if err != nil {
		observability.CLILogger.Error("Failed to empty bucket",
			zap.String("bucket", s3Cfg.Bucket),
			zap.Int64("deleted", summary.Deleted),
			zap.Error(err))
		msg := "Failed to empty bucket " + s3Cfg.Bucket
		if hint := failureHint(err); hint != "" {
			msg += " (" + hint + ")"
		}
		return exitError(ExitFailure, msg, err)
	}
	return nil
}

// failureHint names the likely cause of a failed S3 call.
func failureHint(err error) string {
	switch {
	case provider.IsBucketNotFound(err):
		return "bucket does not exist"
	case provider.IsAccessDenied(err):
		return "access denied: check s3:ListBucketVersions and s3:DeleteObjectVersion permissions"
	case provider.IsInvalidCredentials(err):
		return "invalid credentials"
	case provider.IsThrottled(err):
		return "throttled by S3: retry with a lower --rate-limit"
	case provider.IsProviderUnavailable(err):
		return "S3 unavailable: retry later"
	case provider.IsProviderError(err):
		return "S3 request failed"
	}
	return ""
}

// newVersionStore is swapped in tests to avoid real AWS clients.
var newVersionStore = func(ctx context.Context, cfg s3.Config) (provider.VersionStore, error) {
	return s3.New(ctx, cfg)
}
