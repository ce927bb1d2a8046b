package cmd

import (
	"context"
	"fmt"
	"runtime"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/lambdaops/internal/observability"
	"github.com/3leaps/lambdaops/pkg/relay"
)

var (
	doctorProvider string
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run diagnostic checks",
	Long: `Run diagnostic checks on the local environment and suggest fixes for common issues.

Examples:
  lambdaops doctor                 # Environment and configuration checks
  lambdaops doctor --provider s3   # Also check AWS credentials for empty-bucket`,
	Args: cobra.NoArgs,
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
	doctorCmd.Flags().StringVar(&doctorProvider, "provider", "", "Run provider-specific checks (s3)")
}

func runDoctor(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	log := observability.CLILogger

	log.Info("=== lambdaops doctor ===")
	log.Info("Running diagnostic checks...")

	allChecks := true
	checkNum := 1
	totalChecks := 4
	if doctorProvider == "s3" {
		totalChecks = 6
	} else if doctorProvider != "" {
		return exitError(ExitFailure, "Invalid --provider value", fmt.Errorf("unsupported provider: %s", doctorProvider))
	}

	// Check 1: Go runtime
	log.Info(fmt.Sprintf("[%d/%d] Checking Go runtime... ✅ %s", checkNum, totalChecks, runtime.Version()),
		zap.String("go_version", runtime.Version()))
	checkNum++

	// Check 2: Configuration
	cfg, err := appConfig(ctx)
	if err != nil {
		log.Error(fmt.Sprintf("[%d/%d] Checking configuration... ❌ %v", checkNum, totalChecks, err))
		allChecks = false
	} else {
		log.Info(fmt.Sprintf("[%d/%d] Checking configuration... ✅ valid", checkNum, totalChecks),
			zap.Int("batch_size", cfg.Emptier.BatchSize),
			zap.String("default_url", cfg.Relay.DefaultURL))
	}
	checkNum++

	// Check 3: Relay default URL
	if cfg != nil {
		if err := relay.FromConfig(cfg.Relay, log).CheckHealth(ctx); err != nil {
			log.Error(fmt.Sprintf("[%d/%d] Checking relay default URL... ❌ %v", checkNum, totalChecks, err))
			allChecks = false
		} else {
			log.Info(fmt.Sprintf("[%d/%d] Checking relay default URL... ✅ %s", checkNum, totalChecks, cfg.Relay.DefaultURL))
		}
	}
	checkNum++

	// Check 4: Environment
	log.Info(fmt.Sprintf("[%d/%d] Checking environment... ✅ %s/%s", checkNum, totalChecks, runtime.GOOS, runtime.GOARCH),
		zap.String("os", runtime.GOOS),
		zap.String("arch", runtime.GOARCH))
	checkNum++

	if doctorProvider == "s3" {
		allChecks = runS3Checks(ctx, checkNum, totalChecks) && allChecks
	}

	if !allChecks {
		log.Warn("⚠️  Some checks failed. Review the output above for details.")
		return exitError(ExitFailure, "Diagnostics failed", fmt.Errorf("one or more checks failed"))
	}
	log.Info("✅ All checks passed!")
	return nil
}

// runS3Checks runs S3-specific diagnostic checks.
func runS3Checks(ctx context.Context, checkNum, totalChecks int) bool {
	log := observability.CLILogger
	log.Info("S3 Provider Checks:")

	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		log.Error(fmt.Sprintf("[%d/%d] Checking AWS credentials... ❌ Cannot load AWS config", checkNum, totalChecks),
			zap.Error(err))
		printAWSCredentialsHelp()
		return false
	}

	creds, err := cfg.Credentials.Retrieve(ctx)
	if err != nil {
		log.Error(fmt.Sprintf("[%d/%d] Checking AWS credentials... ❌ Cannot retrieve credentials", checkNum, totalChecks),
			zap.Error(err))
		printAWSCredentialsHelp()
		return false
	}

	log.Info(fmt.Sprintf("[%d/%d] Checking AWS credentials... ✅ Found credentials", checkNum, totalChecks),
		zap.String("access_key", maskAccessKey(creds.AccessKeyID)),
		zap.String("source", creds.Source))
	checkNum++

	region := cfg.Region
	if region == "" {
		region = "us-east-1 (default)"
	}
	log.Info(fmt.Sprintf("[%d/%d] Checking AWS region... ✅ %s", checkNum, totalChecks, region),
		zap.String("region", region))

	return true
}

// maskAccessKey masks all but the last 4 characters of an access key.
func maskAccessKey(key string) string {
	if len(key) <= 4 {
		return "****"
	}
	return "****" + key[len(key)-4:]
}

// printAWSCredentialsHelp prints help for configuring AWS credentials.
func printAWSCredentialsHelp() {
	log := observability.CLILogger
	log.Info("To configure AWS credentials:")
	log.Info("  1. Set AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY environment variables, or")
	log.Info("  2. Run 'aws configure' to set up a profile and pass it as the second empty-bucket argument, or")
	log.Info("  3. Use an IAM role when running on AWS infrastructure")
	log.Info("For S3-compatible storage (MinIO, moto, etc.), also set s3.endpoint or use --endpoint.")
}
