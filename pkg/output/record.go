// Package output writes JSONL audit logs for destructive runs.
//
// Output is structured as typed record envelopes. Each line is a
// self-contained JSON object that can be parsed independently, so a log
// cut short by a failure is still readable.
package output

import (
	"encoding/json"
	"errors"
	"time"
)

// Record type constants define the envelope types for JSONL output.
// These follow the pattern: lambdaops.<type>.v<version>
const (
	// TypeDelete identifies a deleted object version or delete marker.
	TypeDelete = "lambdaops.delete.v1"

	// TypeError identifies per-entry failures.
	TypeError = "lambdaops.error.v1"

	// TypeSummary identifies the final record of a bucket empty run.
	TypeSummary = "lambdaops.summary.v1"

	// TypeRemoval identifies a file or directory removed from a layer.
	TypeRemoval = "lambdaops.removal.v1"

	// TypeLayerSummary identifies the final record of a layer optimization.
	TypeLayerSummary = "lambdaops.layer_summary.v1"
)

// Record is the envelope for all JSONL output.
type Record struct {
	// Type identifies the record type (e.g., "lambdaops.delete.v1").
	Type string `json:"type"`

	// TS is the timestamp when the record was created (RFC3339Nano).
	TS time.Time `json:"ts"`

	// RunID correlates all records of one run.
	RunID string `json:"run_id"`

	// Target is the bucket or directory the run operates on.
	Target string `json:"target"`

	// Data contains the type-specific payload as raw JSON.
	Data json.RawMessage `json:"data"`
}

// DeleteRecord is the data payload for a deleted version.
type DeleteRecord struct {
	Key          string `json:"key"`
	VersionID    string `json:"version_id,omitempty"`
	DeleteMarker bool   `json:"delete_marker,omitempty"`

	// DryRun is set when the entry was only counted.
	DryRun bool `json:"dry_run,omitempty"`
}

// ErrorRecord is the data payload for an entry the provider refused to
// delete.
type ErrorRecord struct {
	// Code is the provider error code (e.g., "AccessDenied").
	Code string `json:"code"`

	// Message is the provider's description.
	Message string `json:"message"`

	Key       string `json:"key,omitempty"`
	VersionID string `json:"version_id,omitempty"`
}

// SummaryRecord is the data payload closing a bucket empty run.
type SummaryRecord struct {
	Prefix      string `json:"prefix,omitempty"`
	DryRun      bool   `json:"dry_run"`
	Pages       int    `json:"pages"`
	Listed      int64  `json:"listed"`
	Deleted     int64  `json:"deleted"`
	Failed      int64  `json:"failed"`
	DeleteCalls int    `json:"delete_calls"`

	// Duration is the total run duration.
	Duration time.Duration `json:"duration_ns"`

	// DurationHuman is a human-readable duration string.
	DurationHuman string `json:"duration"`

	// Error is the error that stopped the run, if any.
	Error string `json:"error,omitempty"`
}

// RemovalRecord is the data payload for a removed layer entry.
type RemovalRecord struct {
	// Path is slash-separated and relative to the packages root.
	Path   string `json:"path"`
	Size   int64  `json:"size"`
	Dir    bool   `json:"dir,omitempty"`
	DryRun bool   `json:"dry_run,omitempty"`
}

// LayerSummaryRecord is the data payload closing a layer optimization.
type LayerSummaryRecord struct {
	DryRun            bool          `json:"dry_run"`
	Removed           int           `json:"removed"`
	MetadataRewritten []string      `json:"metadata_rewritten,omitempty"`
	ReclaimedBytes    int64         `json:"reclaimed_bytes"`
	Duration          time.Duration `json:"duration_ns"`
	DurationHuman     string        `json:"duration"`
}

// Writer errors.
var (
	// ErrWriterClosed is returned when writing to a closed writer.
	ErrWriterClosed = errors.New("writer is closed")
)

// WriteError wraps errors that occur during write operations.
type WriteError struct {
	Op  string // Operation that failed (e.g., "marshal_data", "write")
	Err error  // Underlying error
}

func (e *WriteError) Error() string {
	return "output: " + e.Op + ": " + e.Err.Error()
}

func (e *WriteError) Unwrap() error {
	return e.Err
}
