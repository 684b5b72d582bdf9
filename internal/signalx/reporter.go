// Package signalx reports run progress and terminal status to the optional
// external sink. Delivery is fire-and-forget: a slow or unreachable sink is
// logged, bounded and never fails the run.
package signalx

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/chudamax/asm4-adapter-runtime/internal/model"
)

// deliveryRetries bounds re-delivery of one signal; together with the
// per-attempt timeout it caps how long any signal can occupy the reporter.
const (
	deliveryRetries  = 2
	deliveryInterval = 500 * time.Millisecond
)

// Poster delivers a JSON payload to a URL. Implemented by blob.Client.
type Poster interface {
	PostJSON(ctx context.Context, rawURL string, payload any) error
}

// Reporter owns the heartbeat state of a run: targets seen, events emitted,
// current phase, elapsed time and last signal time. The driver and emitter
// update counters through its methods; a background ticker turns the state
// into progress@v1 signals.
type Reporter struct {
	poster   Poster
	url      string
	interval time.Duration
	timeout  time.Duration
	now      func() time.Time

	seen    atomic.Int64
	emitted atomic.Int64
	phase   atomic.Value // string

	started    time.Time
	lastSignal atomic.Int64 // unix nanos, 0 until first delivery

	base map[string]any

	pulse chan struct{}
	stop  chan struct{}
	wg    sync.WaitGroup
}

// NewReporter builds a Reporter for one run. An empty sink URL disables
// delivery while the counters keep working, so adapters never need to care
// whether a sink is configured.
func NewReporter(poster Poster, url string, cfg *model.BatchConfig, imageDigest string, interval, timeout time.Duration) *Reporter {
	base := map[string]any{
		"tenant_id":    cfg.TenantID,
		"run_id":       cfg.RunID,
		"batch_id":     cfg.BatchID,
		"tool":         cfg.Tool,
		"tool_version": cfg.ToolVersion,
	}
	if imageDigest != "" {
		base["tool_image_digest"] = imageDigest
	}
	r := &Reporter{
		poster:   poster,
		url:      url,
		interval: interval,
		timeout:  timeout,
		now:      time.Now,
		started:  time.Now(),
		base:     base,
		pulse:    make(chan struct{}, 1),
		stop:     make(chan struct{}),
	}
	r.phase.Store("init")
	return r
}

// SetSeen records the number of targets processed so far.
func (r *Reporter) SetSeen(n int) { r.seen.Store(int64(n)) }

// AddSeen increments the processed-targets counter.
func (r *Reporter) AddSeen(n int) { r.seen.Add(int64(n)) }

// SetEmitted records the number of accepted events so far.
func (r *Reporter) SetEmitted(n int) { r.emitted.Store(int64(n)) }

// SetPhase records the lifecycle phase reported with each signal.
func (r *Reporter) SetPhase(phase string) { r.phase.Store(phase) }

// Seen returns the processed-targets counter.
func (r *Reporter) Seen() int { return int(r.seen.Load()) }

// Emitted returns the accepted-events counter.
func (r *Reporter) Emitted() int { return int(r.emitted.Load()) }

// Elapsed returns time since the reporter was created.
func (r *Reporter) Elapsed() time.Duration { return r.now().Sub(r.started) }

// LastSignal returns the time of the most recent delivery attempt, zero if
// none happened yet.
func (r *Reporter) LastSignal() time.Time {
	n := r.lastSignal.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// Pulse asks the reporter to send a progress signal now, without waiting
// for the next tick. Never blocks.
func (r *Reporter) Pulse() {
	select {
	case r.pulse <- struct{}{}:
	default:
	}
}

// Start launches the heartbeat loop. Stop must be called exactly once.
func (r *Reporter) Start(ctx context.Context) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-r.stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.Progress(ctx)
			case <-r.pulse:
				r.Progress(ctx)
			}
		}
	}()
}

// Stop halts the loop and sends a final progress signal.
func (r *Reporter) Stop(ctx context.Context) {
	close(r.stop)
	r.wg.Wait()
	r.Progress(ctx)
}

// Progress delivers a progress@v1 signal with the current counters.
func (r *Reporter) Progress(ctx context.Context) {
	payload := r.payload("progress@v1")
	payload["seen"] = r.Seen()
	payload["emitted"] = r.Emitted()
	payload["phase"] = r.phase.Load()
	payload["at"] = model.Timestamp(r.now())
	r.deliver(ctx, payload)
}

// Error delivers a progress@v1 signal flagging a fatal failure.
func (r *Reporter) Error(ctx context.Context, errMsg string) {
	payload := r.payload("progress@v1")
	payload["seen"] = r.Seen()
	payload["emitted"] = r.Emitted()
	payload["phase"] = "error"
	payload["error"] = errMsg
	payload["at"] = model.Timestamp(r.now())
	r.deliver(ctx, payload)
}

// ResultsReady delivers the completion signal carrying the output blob
// location and its content hash.
func (r *Reporter) ResultsReady(ctx context.Context, eventsBlob, sha string, docCount int) {
	payload := r.payload("results_ready@v1")
	payload["doc_count"] = docCount
	payload["events_blob"] = eventsBlob
	payload["sha256"] = sha
	payload["created_at"] = model.Timestamp(r.now())
	r.deliver(ctx, payload)
}

func (r *Reporter) payload(kind string) map[string]any {
	payload := make(map[string]any, len(r.base)+6)
	for k, v := range r.base {
		payload[k] = v
	}
	payload["type"] = kind
	return payload
}

// deliver posts payload with bounded retries. Failures are logged, never
// surfaced: signals must not influence run outcome.
func (r *Reporter) deliver(ctx context.Context, payload map[string]any) {
	if r.url == "" {
		return
	}
	r.lastSignal.Store(r.now().UnixNano())

	// Detached from ctx cancellation: terminal signals still go out after a
	// run timeout. Total time stays bounded by retries x timeout.
	policy := backoff.WithMaxRetries(backoff.NewConstantBackOff(deliveryInterval), deliveryRetries)
	err := backoff.Retry(func() error {
		attemptCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
		defer cancel()
		return r.poster.PostJSON(attemptCtx, r.url, payload)
	}, policy)
	if err != nil {
		slog.WarnContext(ctx, "signal delivery failed", "sink", r.url, "type", payload["type"], "error", err)
	}
}
