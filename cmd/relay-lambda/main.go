// Command relay-lambda is the deployable HTTP relay function.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"go.uber.org/zap"

	"github.com/3leaps/lambdaops/internal/config"
	"github.com/3leaps/lambdaops/internal/observability"
	"github.com/3leaps/lambdaops/pkg/relay"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load(ctx)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	logger, err := observability.NewLogger(observability.Options{
		Service: "relay-lambda",
		Level:   cfg.Logging.Level,
		Format:  observability.FormatJSON,
	})
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Relay function starting",
		zap.String("default_url", cfg.Relay.DefaultURL),
		zap.Duration("timeout", cfg.Relay.Timeout))

	lambda.Start(relay.FromConfig(cfg.Relay, logger).Handle)
}
