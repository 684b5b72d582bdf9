// Package httpx wraps projectdiscovery/httpx: probe HTTP services on the
// given hosts and emit one http.response per live endpoint.
package httpx

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/chudamax/asm4-adapter-runtime/internal/adapter"
	"github.com/chudamax/asm4-adapter-runtime/internal/events"
	"github.com/chudamax/asm4-adapter-runtime/internal/model"
	"github.com/chudamax/asm4-adapter-runtime/internal/signalx"
)

const defaultBinary = "/usr/local/bin/httpx"

type Adapter struct {
	// Binary overrides the tool path, mainly for tests.
	Binary string
}

func New() *Adapter { return &Adapter{} }

func (*Adapter) Metadata() adapter.Metadata {
	return adapter.Metadata{
		Name:      "httpx",
		Version:   "1.6.1",
		Produces:  []string{"http.response"},
		InputKind: adapter.InputHost,
		Timeout:   30 * time.Minute,
	}
}

func (a *Adapter) BuildCommand(_ context.Context, targets []string, cfg *model.BatchConfig, workdir string) ([]string, error) {
	if len(targets) == 0 {
		return nil, nil
	}
	targetFile := filepath.Join(workdir, "targets.txt")
	if err := os.WriteFile(targetFile, []byte(strings.Join(targets, "\n")+"\n"), 0o644); err != nil {
		return nil, err
	}

	bin := a.Binary
	if bin == "" {
		bin = defaultBinary
	}
	cmd := []string{bin, "-json", "-no-color", "-silent", "-l", targetFile}

	if threads := cfg.IntParam("threads", 0); threads > 0 {
		cmd = append(cmd, "-threads", strconv.Itoa(threads))
	}
	if timeout := cfg.IntParam("timeout", 0); timeout > 0 {
		cmd = append(cmd, "-timeout", strconv.Itoa(timeout))
	}
	if rate := cfg.IntParam("rate", 0); rate > 0 {
		cmd = append(cmd, "-rate", strconv.Itoa(rate))
	}
	cmd = append(cmd, cfg.StringsParam("extra_args")...)
	return cmd, nil
}

func (*Adapter) ParseLine(line string, emit adapter.EmitFunc, hb *signalx.Reporter) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	var doc map[string]any
	if err := json.Unmarshal([]byte(line), &doc); err != nil {
		// httpx interleaves human-readable noise with -json output.
		return nil
	}
	ev := events.FromHTTPXDoc(doc)
	if ev.URL == "" {
		return nil
	}
	events.Emit(emit, ev)
	hb.Pulse()
	return nil
}
