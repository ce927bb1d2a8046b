package relay

import (
	"go.uber.org/zap"

	"github.com/3leaps/lambdaops/internal/config"
)

// FromConfig builds a relay from the relay section of the application
// configuration. Zero values keep the package defaults.
func FromConfig(cfg config.RelayConfig, logger *zap.Logger) *Relay {
	return New(
		WithDefaultURL(cfg.DefaultURL),
		WithTimeout(cfg.Timeout),
		WithPreviewChars(cfg.PreviewChars),
		WithLogger(logger),
	)
}
