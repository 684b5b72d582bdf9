// Package runctl drives one batch end to end: load inputs, materialize
// resources, run the adapter under a budget, finalize the event stream and
// report the outcome.
package runctl

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/chudamax/asm4-adapter-runtime/internal/adapter"
	"github.com/chudamax/asm4-adapter-runtime/internal/blob"
	"github.com/chudamax/asm4-adapter-runtime/internal/driver"
	"github.com/chudamax/asm4-adapter-runtime/internal/emit"
	"github.com/chudamax/asm4-adapter-runtime/internal/input"
	"github.com/chudamax/asm4-adapter-runtime/internal/log"
	"github.com/chudamax/asm4-adapter-runtime/internal/model"
	"github.com/chudamax/asm4-adapter-runtime/internal/resource"
	"github.com/chudamax/asm4-adapter-runtime/internal/signalx"
)

// eventsFile is the name of the gzip JSONL stream inside the workdir and
// the suffix of the uploaded blob name.
const eventsFile = "events.jsonl.gz"

// Controller executes batches for adapters registered in its registry.
type Controller struct {
	registry *adapter.Registry
	settings model.Settings
	blob     *blob.Client
}

// New builds a controller around resolved settings. The blob client it
// creates is shared by input loading, resource staging, upload and signal
// delivery.
func New(st model.Settings, reg *adapter.Registry) (*Controller, error) {
	bc, err := blob.New(st.FetchRetries, st.S3)
	if err != nil {
		return nil, err
	}
	return &Controller{registry: reg, settings: st, blob: bc}, nil
}

// Execute runs one batch for the named adapter and returns the terminal
// result. It never panics on tool failure; every failure mode maps onto a
// status and an exit code.
func (c *Controller) Execute(ctx context.Context, adapterName string) model.RunResult {
	ad, ok := c.registry.Lookup(adapterName)
	if !ok {
		err := &model.LoadError{Source: "adapter", Err: errors.New("unknown adapter " + adapterName)}
		return model.RunResult{Status: model.StatusFailed, ExitCode: model.ExitUsage, Err: err}
	}
	meta := ad.Metadata()

	st := c.settings
	if err := st.Validate(); err != nil {
		return model.RunResult{Status: model.StatusFailed, ExitCode: model.ExitUsage, Err: err}
	}
	st.FillLocalIDs()

	ctx = log.ContextAttrs(ctx,
		slog.String("run_id", st.RunID),
		slog.String("batch_id", st.BatchID),
		slog.String("tool", meta.Name),
	)

	workdir, cleanup, err := c.workdir(st)
	if err != nil {
		return model.RunResult{Status: model.StatusFailed, ExitCode: model.ExitFatal, Err: err}
	}
	defer cleanup()

	loader := input.NewLoader(c.blob)
	targets, err := loader.Targets(ctx, st.InputsURL)
	if err != nil {
		return c.fail(ctx, nil, model.ExitUsage, err)
	}
	cfg, err := loader.Manifest(ctx, st.ManifestURL, st, meta.Name, meta.Version)
	if err != nil {
		return c.fail(ctx, nil, model.ExitUsage, err)
	}
	slog.InfoContext(ctx, "batch loaded",
		slog.Int("targets", len(targets)),
		slog.String("tool_version", cfg.ToolVersion),
		slog.Int("resources", len(cfg.Resources)))

	cfg.ResourcesDir = filepath.Join(workdir, "resources")
	staged, err := resource.NewMaterializer(c.blob).Materialize(ctx, cfg.Resources, cfg.ResourcesDir)
	if err != nil {
		return c.fail(ctx, nil, model.ExitFatal, err)
	}
	if err := requiredFailures(staged, meta.Requires); err != nil {
		return c.fail(ctx, nil, model.ExitFatal, err)
	}

	writer, err := emit.NewWriter(filepath.Join(workdir, eventsFile), cfg, st.ToolImageDigest, meta.Produces)
	if err != nil {
		return c.fail(ctx, nil, model.ExitFatal, err)
	}
	defer writer.Close()

	hb := signalx.NewReporter(c.blob, st.SignalURL, cfg, st.ToolImageDigest,
		st.HeartbeatInterval(), st.SignalTimeout())
	hb.SetSeen(len(targets))
	hb.SetPhase("start")
	hb.Start(ctx)

	emitFn := func(eventType string, payload any) {
		if err := writer.Emit(eventType, payload); err != nil {
			slog.WarnContext(ctx, "emit failed", slog.String("event_type", eventType), slog.Any("error", err))
			return
		}
		hb.SetEmitted(writer.Emitted())
	}

	budget := meta.Timeout
	if budget <= 0 && st.RunTimeoutSeconds > 0 {
		budget = time.Duration(st.RunTimeoutSeconds) * time.Second
	}
	outcome := driver.New(ad, cfg, targets, workdir, emitFn, hb, budget).Run(ctx)

	hb.SetPhase("finalize")
	if err := writer.Close(); err != nil {
		hb.Stop(ctx)
		return c.fail(ctx, hb, model.ExitFatal, err)
	}
	res := c.finalize(ctx, st, hb, writer, outcome)
	slog.InfoContext(ctx, "batch finished",
		slog.String("status", string(res.Status)),
		slog.Int("exit_code", res.ExitCode),
		slog.Int("emitted", res.Emitted),
		slog.Int("rejected", res.Rejected),
		slog.String("state", outcome.State.String()))
	return res
}

// finalize uploads the closed stream, sends the terminal signal and maps
// the driver outcome onto status and exit code. A failed or timed-out tool
// downgrades to partial when events were emitted; it stays failed on an
// empty stream. Finalization runs detached from the run budget so an
// expired context cannot strand the output.
func (c *Controller) finalize(ctx context.Context, st model.Settings, hb *signalx.Reporter, writer *emit.Writer, outcome driver.Outcome) model.RunResult {
	finCtx := context.WithoutCancel(ctx)

	sha, err := writer.SHA256()
	if err != nil {
		hb.Stop(finCtx)
		return c.fail(finCtx, hb, model.ExitFatal, err)
	}
	if st.OutputURL != "" {
		if err := c.blob.Put(finCtx, st.OutputURL, writer.Path(), "application/gzip"); err != nil {
			hb.Stop(finCtx)
			return c.fail(finCtx, hb, model.ExitFatal, err)
		}
	} else {
		slog.InfoContext(finCtx, "no output url, stream left in workdir", slog.String("path", writer.Path()))
	}

	res := model.RunResult{Emitted: writer.Emitted(), Rejected: writer.Rejected()}
	switch {
	case outcome.Err == nil:
		res.Status, res.ExitCode = model.StatusSuccess, model.ExitOK
	case writer.Emitted() > 0:
		res.Status, res.ExitCode, res.Err = model.StatusPartial, model.ExitOK, outcome.Err
		slog.WarnContext(finCtx, "tool failed after emitting events, marking partial", slog.Any("error", outcome.Err))
	default:
		res.Status, res.ExitCode, res.Err = model.StatusFailed, model.ExitFatal, outcome.Err
	}

	hb.Stop(finCtx)
	if res.Status == model.StatusFailed {
		hb.Error(finCtx, res.Err.Error())
		return res
	}
	hb.ResultsReady(finCtx, st.OCSPrefix+eventsFile, sha, writer.Emitted())
	return res
}

// fail reports a fatal pre- or post-run error. The error signal rides the
// reporter when one exists and a bare one-shot reporter otherwise, so load
// failures are still visible to the launcher.
func (c *Controller) fail(ctx context.Context, hb *signalx.Reporter, exitCode int, err error) model.RunResult {
	slog.ErrorContext(ctx, "batch failed", slog.Any("error", err))
	if hb == nil && c.settings.SignalURL != "" {
		st := c.settings
		cfg := &model.BatchConfig{
			TenantID: st.TenantID, RunID: st.RunID, BatchID: st.BatchID,
		}
		hb = signalx.NewReporter(c.blob, st.SignalURL, cfg, st.ToolImageDigest,
			st.HeartbeatInterval(), st.SignalTimeout())
	}
	if hb != nil {
		hb.Error(ctx, err.Error())
	}
	return model.RunResult{Status: model.StatusFailed, ExitCode: exitCode, Err: err}
}

// workdir resolves the scratch directory. A pinned directory is created if
// missing and never removed; a temp dir is removed on return unless the
// preserve knob is set.
func (c *Controller) workdir(st model.Settings) (string, func(), error) {
	if st.Workdir != "" {
		if err := os.MkdirAll(st.Workdir, 0o755); err != nil {
			return "", nil, err
		}
		return st.Workdir, func() {}, nil
	}
	dir, err := os.MkdirTemp("", "asm-batch-"+st.BatchID+"-")
	if err != nil {
		return "", nil, err
	}
	if st.PreserveWorkdir {
		return dir, func() {
			slog.Info("workdir preserved", slog.String("path", dir))
		}, nil
	}
	return dir, func() { os.RemoveAll(dir) }, nil
}

// requiredFailures surfaces the first staging failure of a resource the
// adapter declared as required. Failures of optional resources were already
// logged by the materializer and do not stop the run.
func requiredFailures(staged []resource.Staged, required []string) error {
	for _, s := range staged {
		if s.Err == nil {
			continue
		}
		for _, name := range required {
			if s.Ref.Name == name {
				return s.Err
			}
		}
	}
	return nil
}
