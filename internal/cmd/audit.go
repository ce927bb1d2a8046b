package cmd

import (
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/3leaps/lambdaops/internal/observability"
	"github.com/3leaps/lambdaops/pkg/output"
)

// openAuditLog creates (or truncates) the JSONL audit log at path.
// The returned close function closes both the writer and the file.
func openAuditLog(path, runID, target string) (*output.JSONLWriter, func(), error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open audit log: %w", err)
	}

	w := output.NewJSONLWriter(f, runID, target)
	closeFn := func() {
		_ = w.Close()
		if err := f.Close(); err != nil {
			observability.CLILogger.Warn("Failed to close audit log", zap.String("path", path), zap.Error(err))
		}
	}
	return w, closeFn, nil
}
