package output

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"
)

// Writer outputs JSONL audit records.
//
// Implementations must be safe for concurrent use from multiple
// goroutines. Each Write* method emits a complete record as a
// single line of JSON followed by a newline.
type Writer interface {
	// WriteDelete emits a delete record.
	WriteDelete(ctx context.Context, rec *DeleteRecord) error

	// WriteError emits an error record.
	WriteError(ctx context.Context, rec *ErrorRecord) error

	// WriteSummary emits a bucket empty summary record.
	WriteSummary(ctx context.Context, sum *SummaryRecord) error

	// WriteRemoval emits a layer removal record.
	WriteRemoval(ctx context.Context, rec *RemovalRecord) error

	// WriteLayerSummary emits a layer optimization summary record.
	WriteLayerSummary(ctx context.Context, sum *LayerSummaryRecord) error

	// Close flushes any buffered output and releases resources.
	Close() error
}

// JSONLWriter writes records as newline-delimited JSON to an io.Writer.
//
// JSONLWriter is safe for concurrent use. Writes are serialized using
// a mutex to ensure atomic line writes (no interleaved output).
type JSONLWriter struct {
	w      io.Writer
	runID  string
	target string
	mu     sync.Mutex

	// closed indicates the writer has been closed.
	closed bool
}

// NewJSONLWriter creates a new JSONL writer.
//
// Parameters:
//   - w: The underlying writer (usually a file)
//   - runID: Correlation ID for this run
//   - target: The bucket or directory being processed
func NewJSONLWriter(w io.Writer, runID, target string) *JSONLWriter {
	return &JSONLWriter{
		w:      w,
		runID:  runID,
		target: target,
	}
}

// WriteDelete emits a delete record.
func (jw *JSONLWriter) WriteDelete(ctx context.Context, rec *DeleteRecord) error {
	return jw.writeRecord(ctx, TypeDelete, rec)
}

// WriteError emits an error record.
func (jw *JSONLWriter) WriteError(ctx context.Context, rec *ErrorRecord) error {
	return jw.writeRecord(ctx, TypeError, rec)
}

// WriteSummary emits a bucket empty summary record.
func (jw *JSONLWriter) WriteSummary(ctx context.Context, sum *SummaryRecord) error {
	return jw.writeRecord(ctx, TypeSummary, sum)
}

// WriteRemoval emits a layer removal record.
func (jw *JSONLWriter) WriteRemoval(ctx context.Context, rec *RemovalRecord) error {
	return jw.writeRecord(ctx, TypeRemoval, rec)
}

// WriteLayerSummary emits a layer optimization summary record.
func (jw *JSONLWriter) WriteLayerSummary(ctx context.Context, sum *LayerSummaryRecord) error {
	return jw.writeRecord(ctx, TypeLayerSummary, sum)
}

// Close marks the writer as closed.
//
// If the underlying writer implements io.Closer, it is NOT closed.
// The caller is responsible for closing the underlying writer.
func (jw *JSONLWriter) Close() error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	jw.closed = true
	return nil
}

// writeRecord marshals data and writes a complete record line.
func (jw *JSONLWriter) writeRecord(ctx context.Context, recordType string, data any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	dataBytes, err := json.Marshal(data)
	if err != nil {
		return &WriteError{Op: "marshal_data", Err: err}
	}

	jw.mu.Lock()
	defer jw.mu.Unlock()

	if jw.closed {
		return ErrWriterClosed
	}

	record := Record{
		Type:   recordType,
		TS:     time.Now().UTC(),
		RunID:  jw.runID,
		Target: jw.target,
		Data:   dataBytes,
	}

	recordBytes, err := json.Marshal(record)
	if err != nil {
		return &WriteError{Op: "marshal_record", Err: err}
	}

	// io.Writer may return n < len(p) with a nil error, which would
	// silently truncate a JSONL line.
	recordBytes = append(recordBytes, '\n')
	if err := writeAll(jw.w, recordBytes); err != nil {
		return &WriteError{Op: "write", Err: err}
	}

	return nil
}

// writeAll writes all bytes to w, handling short writes.
func writeAll(w io.Writer, p []byte) error {
	for len(p) > 0 {
		n, err := w.Write(p)
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		p = p[n:]
	}
	return nil
}

// Compile-time check that JSONLWriter implements Writer.
var _ Writer = (*JSONLWriter)(nil)
