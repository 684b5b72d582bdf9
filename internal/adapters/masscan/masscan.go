// Package masscan wraps the masscan port scanner. Masscan's stdout is
// progress noise only; results are drained from the -oJ file after the
// process ends, so partial output survives a kill.
package masscan

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

const (
	defaultBinary = "masscan"
	resultsFile   = "masscan.jsonl"

	defaultPorts = "1-1024"
	defaultRate  = 1000
)

type Adapter struct {
	Binary string
}

func New() *Adapter { return &Adapter{} }

func (*Adapter) Metadata() adapter.Metadata {
	return adapter.Metadata{
		Name:      "masscan",
		Version:   "1.3.2",
		Produces:  []string{"network.service"},
		InputKind: adapter.InputCIDR,
		Timeout:   time.Hour,
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
	cmd := []string{
		bin,
		"-p", cfg.StringParam("ports", defaultPorts),
		"--rate", strconv.Itoa(cfg.IntParam("rate", defaultRate)),
		"--open",
		"-oJ", filepath.Join(workdir, resultsFile),
		"-iL", targetFile,
	}
	if iface := cfg.StringParam("interface", ""); iface != "" {
		cmd = append(cmd, "--interface", iface)
	}
	if exclude := cfg.StringParam("exclude", ""); exclude != "" {
		cmd = append(cmd, "--excludefile", exclude)
	}
	if cfg.BoolParam("banners", false) {
		cmd = append(cmd, "--banners")
	}
	cmd = append(cmd, cfg.StringsParam("extra_args")...)
	return cmd, nil
}

// ParseLine ignores stdout and only nudges the heartbeat; masscan prints
// unstructured rate lines there.
func (*Adapter) ParseLine(_ string, _ adapter.EmitFunc, hb *signalx.Reporter) error {
	hb.Pulse()
	return nil
}

// DrainFiles parses the -oJ results file. Masscan writes either a JSON
// array or, when killed mid-scan, raw object lines with dangling commas;
// both shapes are accepted.
func (*Adapter) DrainFiles(workdir string, emit adapter.EmitFunc) error {
	raw, err := os.ReadFile(filepath.Join(workdir, resultsFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	text := strings.TrimSpace(string(raw))
	if text == "" {
		return nil
	}

	var docs []map[string]any
	if err := json.Unmarshal([]byte(text), &docs); err == nil {
		for _, doc := range docs {
			emitServices(doc, emit)
		}
		return nil
	}
	for _, line := range strings.Split(text, "\n") {
		line = strings.Trim(strings.TrimSpace(line), ",")
		if line == "" || line == "[" || line == "]" || strings.HasPrefix(line, "#") {
			continue
		}
		var doc map[string]any
		if err := json.Unmarshal([]byte(line), &doc); err != nil {
			continue
		}
		emitServices(doc, emit)
	}
	return nil
}

func emitServices(doc map[string]any, emit adapter.EmitFunc) {
	ip, _ := doc["ip"].(string)
	if ip == "" {
		return
	}
	ports, _ := doc["ports"].([]any)
	for _, p := range ports {
		info, ok := p.(map[string]any)
		if !ok {
			continue
		}
		if status, _ := info["status"].(string); status != "" && status != "open" {
			continue
		}
		port := intField(info, "port")
		if port <= 0 {
			continue
		}
		proto, _ := info["proto"].(string)
		if proto == "" {
			proto = "tcp"
		}
		events.Emit(emit, events.NetworkService{IP: ip, Port: port, Protocol: proto, Banner: banner(info)})
	}
}

func banner(info map[string]any) string {
	if svc, ok := info["service"].(map[string]any); ok {
		name, _ := svc["name"].(string)
		text, _ := svc["banner"].(string)
		if name != "" && text != "" {
			return name + ": " + text
		}
		if text != "" {
			return text
		}
		return name
	}
	if s, ok := info["service"].(string); ok {
		return s
	}
	s, _ := info["banner"].(string)
	return s
}

func intField(doc map[string]any, key string) int {
	switch v := doc[key].(type) {
	case float64:
		return int(v)
	case string:
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0
		}
		return n
	default:
		return 0
	}
}
