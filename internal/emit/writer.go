// Package emit validates candidate events against the adapter contract and
// appends them to the compressed line-delimited output stream.
package emit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/chudamax/asm4-adapter-runtime/internal/model"
)

// Writer owns the output stream for one run. It is opened once at run start
// and closed exactly once on every exit path, so everything emitted before
// a fatal error stays recoverable. Safe for concurrent Emit calls.
type Writer struct {
	mx       sync.Mutex
	file     *os.File
	gz       *gzip.Writer
	closed   bool
	emitted  int
	rejected int

	path     string
	produces map[string]struct{}
	now      func() time.Time

	tool        string
	toolVersion string
	runID       string
	batchID     string
	imageDigest string
}

// Option mutates a Writer under construction.
type Option func(*Writer)

// WithClock replaces the timestamp source, used by tests for deterministic
// envelopes.
func WithClock(now func() time.Time) Option {
	return func(w *Writer) { w.now = now }
}

// NewWriter opens the stream at path. produces is the adapter's declared
// event type set; events outside it are dropped and counted, never written.
func NewWriter(path string, cfg *model.BatchConfig, imageDigest string, produces []string, opts ...Option) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("opening event stream: %w", err)
	}

	set := make(map[string]struct{}, len(produces))
	for _, p := range produces {
		set[p] = struct{}{}
	}

	w := &Writer{
		file:        f,
		gz:          gzip.NewWriter(f),
		path:        path,
		produces:    set,
		now:         time.Now,
		tool:        cfg.Tool,
		toolVersion: cfg.ToolVersion,
		runID:       cfg.RunID,
		batchID:     cfg.BatchID,
		imageDigest: imageDigest,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Envelope stamps payload with run metadata and ts. Pure; identical inputs
// yield identical envelopes.
func (w *Writer) Envelope(eventType string, payload any, ts time.Time) model.Envelope {
	return model.Envelope{
		Tool:            w.tool,
		ToolVersion:     w.toolVersion,
		RunID:           w.runID,
		BatchID:         w.batchID,
		EventType:       eventType,
		Timestamp:       model.Timestamp(ts),
		Payload:         payload,
		ToolImageDigest: w.imageDigest,
	}
}

// Emit validates eventType, stamps the envelope and appends it as one line.
// An undeclared event type increments the rejected counter and returns nil:
// bad events never terminate a run. Unserializable payloads and stream IO
// failures return an error; neither touches the rejected counter.
func (w *Writer) Emit(eventType string, payload any) error {
	w.mx.Lock()
	defer w.mx.Unlock()

	if w.closed {
		return fmt.Errorf("event stream already closed")
	}
	if len(w.produces) > 0 {
		if _, ok := w.produces[eventType]; !ok {
			w.rejected++
			return nil
		}
	}

	line, err := json.Marshal(w.Envelope(eventType, payload, w.now()))
	if err != nil {
		slog.Warn("event payload not serializable", "event_type", eventType, "error", err)
		return fmt.Errorf("encoding %s event: %w", eventType, err)
	}
	if _, err := w.gz.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("writing event stream: %w", err)
	}
	w.emitted++
	return nil
}

// Emitted returns the number of accepted events so far.
func (w *Writer) Emitted() int {
	w.mx.Lock()
	defer w.mx.Unlock()
	return w.emitted
}

// Rejected returns the number of dropped events so far.
func (w *Writer) Rejected() int {
	w.mx.Lock()
	defer w.mx.Unlock()
	return w.rejected
}

// Path returns the local stream location.
func (w *Writer) Path() string { return w.path }

// Close flushes and closes the stream. Idempotent; the first error wins.
func (w *Writer) Close() error {
	w.mx.Lock()
	defer w.mx.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	gzErr := w.gz.Close()
	fErr := w.file.Close()
	if gzErr != nil {
		return gzErr
	}
	return fErr
}

// SHA256 returns the hex digest of the finalized stream file.
func (w *Writer) SHA256() (string, error) {
	f, err := os.Open(w.path)
	if err != nil {
		return "", err
	}
	defer func() {
		_ = f.Close()
	}()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
