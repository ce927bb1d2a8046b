// Package emptier deletes every object version and delete marker in a bucket.
//
// The emptier walks the version listing page by page and deletes each page's
// entries in batches no larger than the provider limit (1000 for S3). It is
// strictly sequential: one list or delete request is in flight at a time.
package emptier

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/3leaps/lambdaops/pkg/output"
	"github.com/3leaps/lambdaops/pkg/provider"
)

// MaxBatchSize is the largest batch a single delete request may carry.
const MaxBatchSize = provider.MaxDeleteBatch

// ErrIncompleteDelete is returned when the provider rejected some entries
// of an otherwise successful batch delete.
var ErrIncompleteDelete = errors.New("some versions could not be deleted")

// maxRecordedErrors bounds the per-key failures kept in a Summary.
const maxRecordedErrors = 100

// Config configures an Emptier.
type Config struct {
	// Prefix restricts the run to keys starting with this value.
	// Empty empties the whole bucket.
	Prefix string

	// BatchSize is the number of entries per delete request.
	// Zero uses MaxBatchSize; larger values are clamped to it.
	BatchSize int

	// RateLimit caps delete requests per second. Zero means unlimited.
	RateLimit float64

	// DryRun lists and counts without deleting anything.
	DryRun bool

	// RunID correlates logs and audit records. Generated when empty.
	RunID string
}

// DefaultConfig returns the default emptier configuration.
func DefaultConfig() Config {
	return Config{BatchSize: MaxBatchSize}
}

// Summary reports the outcome of a run.
type Summary struct {
	RunID  string
	Bucket string
	DryRun bool

	// Pages is the number of listing pages processed.
	Pages int

	// Listed is the number of versions plus delete markers seen.
	Listed int64

	// Deleted is the number of entries removed (or that would be, for dry runs).
	Deleted int64

	// Failed is the number of entries the provider refused to delete.
	Failed int64

	// DeleteCalls is the number of batch delete requests issued.
	DeleteCalls int

	// Errors holds the first per-key failures, up to an internal cap.
	Errors []provider.DeleteError

	Duration time.Duration
}

// Emptier removes all versions from one bucket.
//
// Emptier is safe for single use only. Create a new Emptier for each run.
type Emptier struct {
	store    provider.VersionStore
	config   Config
	out      io.Writer
	logger   *zap.Logger
	recorder output.Writer
	limiter  *rate.Limiter
}

// Option customises an Emptier.
type Option func(*Emptier)

// WithOutput sets the writer receiving progress lines. Defaults to io.Discard.
func WithOutput(w io.Writer) Option {
	return func(e *Emptier) {
		if w != nil {
			e.out = w
		}
	}
}

// WithLogger sets the structured logger. Defaults to a no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Emptier) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithRecorder sets the audit log receiving one record per deleted or
// refused entry and a closing summary. Recorder failures are logged and do
// not stop the run.
func WithRecorder(w output.Writer) Option {
	return func(e *Emptier) {
		e.recorder = w
	}
}

// New creates an emptier for the store's bucket.
func New(store provider.VersionStore, cfg Config, opts ...Option) *Emptier {
	if cfg.BatchSize <= 0 || cfg.BatchSize > MaxBatchSize {
		cfg.BatchSize = MaxBatchSize
	}
	if cfg.RunID == "" {
		cfg.RunID = uuid.New().String()
	}

	e := &Emptier{
		store:  store,
		config: cfg,
		out:    io.Discard,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}

	if cfg.RateLimit > 0 {
		e.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}

	return e
}

// Empty deletes every version and delete marker in the bucket.
//
// Provider errors abort the run and are returned as-is (typically a
// *provider.ProviderError). When every request succeeded but some entries
// were refused, the summary is returned together with ErrIncompleteDelete.
// The summary is never nil.
func (e *Emptier) Empty(ctx context.Context) (*Summary, error) {
	start := time.Now()
	summary := &Summary{
		RunID:  e.config.RunID,
		Bucket: e.store.Bucket(),
		DryRun: e.config.DryRun,
	}
	log := e.logger.With(
		zap.String("run_id", summary.RunID),
		zap.String("bucket", summary.Bucket),
		zap.Bool("dry_run", summary.DryRun))

	e.printf("Emptying bucket: %s\n", summary.Bucket)
	log.Debug("Starting bucket empty",
		zap.String("prefix", e.config.Prefix),
		zap.Int("batch_size", e.config.BatchSize),
		zap.Float64("rate_limit", e.config.RateLimit))

	err := e.store.WalkVersions(ctx, e.config.Prefix, func(page *provider.VersionPage) error {
		summary.Pages++
		entries := page.Entries()
		summary.Listed += int64(len(entries))

		log.Debug("Listed version page",
			zap.Int("page", summary.Pages),
			zap.Int("versions", len(page.Versions)),
			zap.Int("delete_markers", len(page.DeleteMarkers)),
			zap.Bool("truncated", page.IsTruncated))

		for _, batch := range splitBatches(entries, e.config.BatchSize) {
			if err := e.deleteBatch(ctx, batch, summary); err != nil {
				return err
			}
		}
		return nil
	})
	summary.Duration = time.Since(start)

	if err != nil {
		log.Error("Bucket empty failed",
			zap.Int64("deleted", summary.Deleted),
			zap.Error(err))
		e.recordSummary(ctx, summary, err)
		return summary, err
	}

	if e.config.DryRun {
		e.printf("  Total: %d objects/versions would be deleted\n", summary.Deleted)
	} else {
		e.printf("  Total deleted: %d objects/versions\n", summary.Deleted)
	}

	if summary.Failed > 0 {
		log.Warn("Some versions could not be deleted",
			zap.Int64("deleted", summary.Deleted),
			zap.Int64("failed", summary.Failed))
		err = fmt.Errorf("%w: %d of %d entries failed", ErrIncompleteDelete, summary.Failed, summary.Listed)
		e.recordSummary(ctx, summary, err)
		return summary, err
	}

	if !e.config.DryRun {
		e.printf("  Bucket %s is now empty\n", summary.Bucket)
	}

	log.Info("Bucket empty completed",
		zap.Int("pages", summary.Pages),
		zap.Int64("deleted", summary.Deleted),
		zap.Int("delete_calls", summary.DeleteCalls),
		zap.Duration("duration", summary.Duration))

	e.recordSummary(ctx, summary, nil)
	return summary, nil
}

// deleteBatch issues one delete request and folds its result into summary.
func (e *Emptier) deleteBatch(ctx context.Context, batch []provider.ObjectVersion, summary *Summary) error {
	if e.config.DryRun {
		e.printf("  Would delete %d objects/versions...\n", len(batch))
		summary.Deleted += int64(len(batch))
		e.recordDeletes(ctx, batch, nil)
		return nil
	}

	if err := e.waitForRateLimit(ctx); err != nil {
		return err
	}

	e.printf("  Deleting %d objects/versions...\n", len(batch))
	result, err := e.store.DeleteVersions(ctx, batch)
	if err != nil {
		return err
	}
	summary.DeleteCalls++

	summary.Deleted += int64(len(result.Deleted))
	summary.Failed += int64(len(result.Errors))

	e.recordDeletes(ctx, result.Deleted, result.Errors)

	for _, de := range result.Errors {
		e.logger.Warn("Version delete refused",
			zap.String("key", de.Key),
			zap.String("version_id", de.VersionID),
			zap.String("code", de.Code),
			zap.String("message", de.Message))
		if len(summary.Errors) < maxRecordedErrors {
			summary.Errors = append(summary.Errors, de)
		}
	}

	return nil
}

// waitForRateLimit blocks until the rate limiter allows a request.
// Returns immediately if rate limiting is disabled.
func (e *Emptier) waitForRateLimit(ctx context.Context) error {
	if e.limiter == nil {
		return nil
	}
	return e.limiter.Wait(ctx)
}

// recordDeletes writes an error record for every refused entry, then a
// delete record for every removed one.
func (e *Emptier) recordDeletes(ctx context.Context, deleted []provider.ObjectVersion, refused []provider.DeleteError) {
	if e.recorder == nil {
		return
	}

	for _, de := range refused {
		e.record(e.recorder.WriteError(ctx, &output.ErrorRecord{
			Code:      de.Code,
			Message:   de.Message,
			Key:       de.Key,
			VersionID: de.VersionID,
		}))
	}

	for _, v := range deleted {
		e.record(e.recorder.WriteDelete(ctx, &output.DeleteRecord{
			Key:          v.Key,
			VersionID:    v.VersionID,
			DeleteMarker: v.IsDeleteMarker,
			DryRun:       e.config.DryRun,
		}))
	}
}

func (e *Emptier) recordSummary(ctx context.Context, summary *Summary, runErr error) {
	if e.recorder == nil {
		return
	}

	rec := &output.SummaryRecord{
		Prefix:        e.config.Prefix,
		DryRun:        summary.DryRun,
		Pages:         summary.Pages,
		Listed:        summary.Listed,
		Deleted:       summary.Deleted,
		Failed:        summary.Failed,
		DeleteCalls:   summary.DeleteCalls,
		Duration:      summary.Duration,
		DurationHuman: summary.Duration.Round(time.Millisecond).String(),
	}
	if runErr != nil {
		rec.Error = runErr.Error()
	}

	// The summary closes the log even when ctx was cancelled.
	e.record(e.recorder.WriteSummary(context.WithoutCancel(ctx), rec))
}

func (e *Emptier) record(err error) {
	if err != nil {
		e.logger.Warn("Failed to write audit record", zap.Error(err))
	}
}

func (e *Emptier) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(e.out, format, args...)
}

// splitBatches splits entries into consecutive chunks of at most size.
func splitBatches(entries []provider.ObjectVersion, size int) [][]provider.ObjectVersion {
	if len(entries) == 0 {
		return nil
	}
	batches := make([][]provider.ObjectVersion, 0, (len(entries)+size-1)/size)
	for i := 0; i < len(entries); i += size {
		end := i + size
		if end > len(entries) {
			end = len(entries)
		}
		batches = append(batches, entries[i:end])
	}
	return batches
}
