package runctl_test

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/require"

	"github.com/chudamax/asm4-adapter-runtime/internal/adapter"
	"github.com/chudamax/asm4-adapter-runtime/internal/model"
	"github.com/chudamax/asm4-adapter-runtime/internal/runctl"
	"github.com/chudamax/asm4-adapter-runtime/internal/signalx"
)

// genAdapter emits one event per target through the generation pattern.
type genAdapter struct {
	timeout time.Duration
	fn      func(ctx context.Context, targets []string, cfg *model.BatchConfig, emit adapter.EmitFunc) (int, error)
}

func (a *genAdapter) Metadata() adapter.Metadata {
	return adapter.Metadata{
		Name:     "fake-gen",
		Version:  "1.0.0",
		Produces: []string{"network.service"},
		Timeout:  a.timeout,
	}
}

func (a *genAdapter) Generate(ctx context.Context, targets []string, cfg *model.BatchConfig, emit adapter.EmitFunc, _ *signalx.Reporter) (int, error) {
	return a.fn(ctx, targets, cfg, emit)
}

// resourceAdapter requires one named manifest resource.
type resourceAdapter struct {
	genAdapter
	requires []string
}

func (a *resourceAdapter) Metadata() adapter.Metadata {
	meta := a.genAdapter.Metadata()
	meta.Name = "fake-resource"
	meta.Requires = a.requires
	return meta
}

type signalSink struct {
	mx      sync.Mutex
	signals []map[string]any
}

func (s *signalSink) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var doc map[string]any
		_ = json.NewDecoder(r.Body).Decode(&doc)
		s.mx.Lock()
		s.signals = append(s.signals, doc)
		s.mx.Unlock()
		w.WriteHeader(http.StatusOK)
	})
}

func (s *signalSink) ofType(kind string) []map[string]any {
	s.mx.Lock()
	defer s.mx.Unlock()
	var out []map[string]any
	for _, sig := range s.signals {
		if sig["type"] == kind {
			out = append(out, sig)
		}
	}
	return out
}

func writeInputs(t *testing.T, lines string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "inputs.txt")
	require.NoError(t, os.WriteFile(path, []byte(lines), 0o644))
	return "file://" + path
}

func readStream(t *testing.T, path string) []map[string]any {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer func() {
		_ = f.Close()
	}()
	gz, err := gzip.NewReader(f)
	require.NoError(t, err)

	var lines []map[string]any
	sc := bufio.NewScanner(gz)
	for sc.Scan() {
		var doc map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &doc))
		lines = append(lines, doc)
	}
	require.NoError(t, sc.Err())
	return lines
}

func baseSettings(t *testing.T, inputsURL string) model.Settings {
	t.Helper()
	st := model.DefaultSettings()
	st.InputsURL = inputsURL
	st.TenantID = "t-1"
	st.RunID = "r-1"
	st.BatchID = "b-1"
	st.OCSPrefix = "runs/r-1/batches/b-1/"
	st.OutputURL = "file://" + filepath.Join(t.TempDir(), "out", "events.jsonl.gz")
	return st
}

func newController(t *testing.T, st model.Settings, ads ...adapter.Adapter) *runctl.Controller {
	t.Helper()
	reg := adapter.NewRegistry()
	for _, ad := range ads {
		require.NoError(t, reg.Register(ad))
	}
	ctl, err := runctl.New(st, reg)
	require.NoError(t, err)
	return ctl
}

func TestExecute_HappyPath(t *testing.T) {
	t.Parallel()
	sink := &signalSink{}
	srv := httptest.NewServer(sink.handler())
	t.Cleanup(srv.Close)

	st := baseSettings(t, writeInputs(t, "10.0.0.1\n10.0.0.2\n"))
	st.SignalURL = srv.URL
	st.ToolImageDigest = "sha256:img"

	ad := &genAdapter{fn: func(_ context.Context, targets []string, _ *model.BatchConfig, emit adapter.EmitFunc) (int, error) {
		for i, tgt := range targets {
			emit("network.service", map[string]any{"ip": tgt, "port": 80 + i})
		}
		return len(targets), nil
	}}

	res := newController(t, st, ad).Execute(t.Context(), "fake-gen")
	require.NoError(t, res.Err)
	require.Equal(t, model.StatusSuccess, res.Status)
	require.Equal(t, model.ExitOK, res.ExitCode)
	require.Equal(t, 2, res.Emitted)
	require.Zero(t, res.Rejected)

	// Uploaded stream is valid gzip JSONL with stamped envelopes.
	outPath := st.OutputURL[len("file://"):]
	lines := readStream(t, outPath)
	require.Len(t, lines, 2)
	require.Equal(t, "fake-gen", lines[0]["tool"])
	require.Equal(t, "r-1", lines[0]["run_id"])
	require.Equal(t, "network.service", lines[0]["event_type"])
	require.Equal(t, "sha256:img", lines[0]["tool_image_digest"])

	ready := sink.ofType("results_ready@v1")
	require.Len(t, ready, 1)
	require.Equal(t, "runs/r-1/batches/b-1/events.jsonl.gz", ready[0]["events_blob"])
	require.EqualValues(t, 2, ready[0]["doc_count"])
	require.NotEmpty(t, ready[0]["sha256"])
	require.NotEmpty(t, sink.ofType("progress@v1"), "final progress precedes results")
}

func TestExecute_NoFindingsStillSucceeds(t *testing.T) {
	t.Parallel()
	st := baseSettings(t, writeInputs(t, "10.0.0.1\n"))
	ad := &genAdapter{fn: func(context.Context, []string, *model.BatchConfig, adapter.EmitFunc) (int, error) {
		return 0, nil
	}}

	res := newController(t, st, ad).Execute(t.Context(), "fake-gen")
	require.Equal(t, model.StatusSuccess, res.Status)
	require.Equal(t, model.ExitOK, res.ExitCode)
	require.Zero(t, res.Emitted)

	lines := readStream(t, st.OutputURL[len("file://"):])
	require.Empty(t, lines, "empty stream is still well-formed gzip")
}

func TestExecute_TimeoutWithZeroEventsFails(t *testing.T) {
	t.Parallel()
	sink := &signalSink{}
	srv := httptest.NewServer(sink.handler())
	t.Cleanup(srv.Close)

	st := baseSettings(t, writeInputs(t, "10.0.0.1\n"))
	st.SignalURL = srv.URL

	ad := &genAdapter{
		timeout: 100 * time.Millisecond,
		fn: func(ctx context.Context, _ []string, _ *model.BatchConfig, _ adapter.EmitFunc) (int, error) {
			<-ctx.Done()
			return 0, ctx.Err()
		},
	}

	res := newController(t, st, ad).Execute(t.Context(), "fake-gen")
	require.Equal(t, model.StatusFailed, res.Status)
	require.Equal(t, model.ExitFatal, res.ExitCode)
	var timeoutErr *model.TimeoutError
	require.ErrorAs(t, res.Err, &timeoutErr)

	lines := readStream(t, st.OutputURL[len("file://"):])
	require.Empty(t, lines, "stream exists and is well-formed despite the timeout")

	var errSignals []map[string]any
	for _, sig := range sink.ofType("progress@v1") {
		if sig["phase"] == "error" {
			errSignals = append(errSignals, sig)
		}
	}
	require.NotEmpty(t, errSignals)
}

func TestExecute_TimeoutWithEventsIsPartial(t *testing.T) {
	t.Parallel()
	st := baseSettings(t, writeInputs(t, "10.0.0.1\n"))
	ad := &genAdapter{
		timeout: 100 * time.Millisecond,
		fn: func(ctx context.Context, _ []string, _ *model.BatchConfig, emit adapter.EmitFunc) (int, error) {
			emit("network.service", map[string]any{"ip": "10.0.0.1", "port": 22})
			<-ctx.Done()
			return 1, ctx.Err()
		},
	}

	res := newController(t, st, ad).Execute(t.Context(), "fake-gen")
	require.Equal(t, model.StatusPartial, res.Status)
	require.Equal(t, model.ExitOK, res.ExitCode)
	require.Equal(t, 1, res.Emitted)

	lines := readStream(t, st.OutputURL[len("file://"):])
	require.Len(t, lines, 1, "events before the budget expiry survive")
}

func TestExecute_UndeclaredEventsRejected(t *testing.T) {
	t.Parallel()
	st := baseSettings(t, writeInputs(t, "10.0.0.1\n"))
	ad := &genAdapter{fn: func(_ context.Context, _ []string, _ *model.BatchConfig, emit adapter.EmitFunc) (int, error) {
		emit("dns.domain", map[string]any{"name": "x.example.com"})
		emit("network.service", map[string]any{"ip": "10.0.0.1"})
		return 2, nil
	}}

	res := newController(t, st, ad).Execute(t.Context(), "fake-gen")
	require.Equal(t, model.StatusSuccess, res.Status)
	require.Equal(t, 1, res.Emitted)
	require.Equal(t, 1, res.Rejected)

	lines := readStream(t, st.OutputURL[len("file://"):])
	require.Len(t, lines, 1)
	require.Equal(t, "network.service", lines[0]["event_type"])
}

func TestExecute_UnknownAdapter(t *testing.T) {
	t.Parallel()
	st := baseSettings(t, writeInputs(t, "10.0.0.1\n"))
	res := newController(t, st).Execute(t.Context(), "no-such-tool")
	require.Equal(t, model.StatusFailed, res.Status)
	require.Equal(t, model.ExitUsage, res.ExitCode)
}

func TestExecute_MissingInputsURL(t *testing.T) {
	t.Parallel()
	st := model.DefaultSettings()
	ad := &genAdapter{fn: func(context.Context, []string, *model.BatchConfig, adapter.EmitFunc) (int, error) {
		return 0, nil
	}}
	res := newController(t, st, ad).Execute(t.Context(), "fake-gen")
	require.Equal(t, model.StatusFailed, res.Status)
	require.Equal(t, model.ExitUsage, res.ExitCode)
}

func TestExecute_UnreachableInputs(t *testing.T) {
	t.Parallel()
	st := baseSettings(t, "file:///does/not/exist.txt")
	ad := &genAdapter{fn: func(context.Context, []string, *model.BatchConfig, adapter.EmitFunc) (int, error) {
		return 0, nil
	}}
	res := newController(t, st, ad).Execute(t.Context(), "fake-gen")
	require.Equal(t, model.StatusFailed, res.Status)
	require.Equal(t, model.ExitUsage, res.ExitCode)
	var loadErr *model.LoadError
	require.ErrorAs(t, res.Err, &loadErr)
}

func TestExecute_RequiredResourceFailureIsFatal(t *testing.T) {
	t.Parallel()
	manifest := filepath.Join(t.TempDir(), "manifest.json")
	doc := `{
		"tool": "fake-resource",
		"tool_version": "1.0.0",
		"resources": [{"name": "wordlist", "url": "file:///does/not/exist"}]
	}`
	require.NoError(t, os.WriteFile(manifest, []byte(doc), 0o644))

	st := baseSettings(t, writeInputs(t, "example.com\n"))
	st.ManifestURL = "file://" + manifest

	ad := &resourceAdapter{requires: []string{"wordlist"}}
	ad.fn = func(context.Context, []string, *model.BatchConfig, adapter.EmitFunc) (int, error) {
		return 0, nil
	}

	res := newController(t, st, ad).Execute(t.Context(), "fake-resource")
	require.Equal(t, model.StatusFailed, res.Status)
	require.Equal(t, model.ExitFatal, res.ExitCode)
	var resErr *model.ResourceError
	require.ErrorAs(t, res.Err, &resErr)
	require.Equal(t, "wordlist", resErr.Name)
}

func TestExecute_OptionalResourceFailureTolerated(t *testing.T) {
	t.Parallel()
	manifest := filepath.Join(t.TempDir(), "manifest.json")
	doc := `{
		"tool": "fake-gen",
		"tool_version": "1.0.0",
		"resources": [{"name": "nice-to-have", "url": "file:///does/not/exist"}]
	}`
	require.NoError(t, os.WriteFile(manifest, []byte(doc), 0o644))

	st := baseSettings(t, writeInputs(t, "10.0.0.1\n"))
	st.ManifestURL = "file://" + manifest

	ad := &genAdapter{fn: func(_ context.Context, _ []string, _ *model.BatchConfig, emit adapter.EmitFunc) (int, error) {
		emit("network.service", map[string]any{"ip": "10.0.0.1", "port": 80})
		return 1, nil
	}}

	res := newController(t, st, ad).Execute(t.Context(), "fake-gen")
	require.Equal(t, model.StatusSuccess, res.Status)
	require.Equal(t, 1, res.Emitted)
}

func TestExecute_ManifestParametersReachAdapter(t *testing.T) {
	t.Parallel()
	manifest := filepath.Join(t.TempDir(), "manifest.json")
	doc := `{"tool": "fake-gen", "tool_version": "2.0.0", "parameters": {"ports": "80,443"}}`
	require.NoError(t, os.WriteFile(manifest, []byte(doc), 0o644))

	st := baseSettings(t, writeInputs(t, "10.0.0.1\n"))
	st.ManifestURL = "file://" + manifest

	var gotPorts string
	ad := &genAdapter{fn: func(_ context.Context, _ []string, cfg *model.BatchConfig, _ adapter.EmitFunc) (int, error) {
		gotPorts = cfg.StringParam("ports", "")
		return 0, nil
	}}

	res := newController(t, st, ad).Execute(t.Context(), "fake-gen")
	require.Equal(t, model.StatusSuccess, res.Status)
	require.Equal(t, "80,443", gotPorts)

	lines := readStream(t, st.OutputURL[len("file://"):])
	require.Empty(t, lines)
}

func TestExecute_GeneratorCrashWithZeroEvents(t *testing.T) {
	t.Parallel()
	st := baseSettings(t, writeInputs(t, "10.0.0.1\n"))
	ad := &genAdapter{fn: func(context.Context, []string, *model.BatchConfig, adapter.EmitFunc) (int, error) {
		return 0, context.DeadlineExceeded
	}}

	res := newController(t, st, ad).Execute(t.Context(), "fake-gen")
	require.Equal(t, model.StatusFailed, res.Status)
	require.Equal(t, model.ExitFatal, res.ExitCode)
	var execErr *model.ExecutionError
	require.ErrorAs(t, res.Err, &execErr)
}

func TestExecute_PinnedWorkdirKept(t *testing.T) {
	t.Parallel()
	workdir := filepath.Join(t.TempDir(), "scratch")
	st := baseSettings(t, writeInputs(t, "10.0.0.1\n"))
	st.Workdir = workdir
	st.OutputURL = ""

	ad := &genAdapter{fn: func(_ context.Context, _ []string, _ *model.BatchConfig, emit adapter.EmitFunc) (int, error) {
		emit("network.service", map[string]any{"ip": "10.0.0.1", "port": 80})
		return 1, nil
	}}

	res := newController(t, st, ad).Execute(t.Context(), "fake-gen")
	require.Equal(t, model.StatusSuccess, res.Status)

	lines := readStream(t, filepath.Join(workdir, "events.jsonl.gz"))
	require.Len(t, lines, 1, "no output url leaves the stream in the pinned workdir")
}
