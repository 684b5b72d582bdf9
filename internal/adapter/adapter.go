// Package adapter defines the contract every tool integration implements
// and the registry the CLI resolves adapters from.
package adapter

import (
	"context"
	"fmt"
	"time"

	"github.com/chudamax/asm4-adapter-runtime/internal/model"
	"github.com/chudamax/asm4-adapter-runtime/internal/signalx"
)

// EmitFunc hands one candidate event to the emitter. The runtime validates
// the event type against the adapter's declared Produces set.
type EmitFunc func(eventType string, payload any)

// InputKind is the target shape an adapter consumes.
type InputKind string

const (
	InputIP       InputKind = "ip"
	InputCIDR     InputKind = "cidr"
	InputHost     InputKind = "host"
	InputDomain   InputKind = "domain"
	InputURL      InputKind = "url"
	InputHostPort InputKind = "hostport"
)

// Metadata is what an adapter declares about itself; the run controller
// consumes it for validation, budgets and the produced-type contract.
type Metadata struct {
	Name      string
	Version   string
	Produces  []string
	InputKind InputKind
	// Requires names manifest resources the tool cannot run without; a
	// materialization failure of one of these is fatal for the run.
	Requires []string
	// Timeout is the wall-clock budget per batch; zero defers to the
	// runtime default.
	Timeout time.Duration
}

// Adapter is the minimal surface every integration exposes. A concrete
// adapter additionally implements exactly one of CommandBuilder or
// Generator.
type Adapter interface {
	Metadata() Metadata
}

// CommandBuilder is execution pattern (a): build an argument vector for an
// external binary and parse its stdout line by line.
type CommandBuilder interface {
	Adapter
	// BuildCommand returns the argv to execute. The workdir is scoped to
	// this run; the target list may be written there as a file.
	BuildCommand(ctx context.Context, targets []string, cfg *model.BatchConfig, workdir string) ([]string, error)
	// ParseLine converts one stdout line into zero or more emitted events.
	// Errors are absorbed by the driver into a parse-error counter.
	ParseLine(line string, emit EmitFunc, hb *signalx.Reporter) error
}

// Generator is execution pattern (b): the adapter produces events itself,
// no external process involved. It returns the number of events it emitted.
type Generator interface {
	Adapter
	Generate(ctx context.Context, targets []string, cfg *model.BatchConfig, emit EmitFunc, hb *signalx.Reporter) (int, error)
}

// FileDrainer is an optional hook for pattern (a) tools that write results
// to files instead of stdout. It runs during the draining stage, after the
// process ended, on success and failure alike.
type FileDrainer interface {
	DrainFiles(workdir string, emit EmitFunc) error
}

// Validate checks the adapter declares a coherent contract: a name, at
// least one produced type and exactly one execution pattern. The two
// patterns are mutually exclusive by design; an adapter providing both is
// a configuration error surfaced at startup, never resolved silently.
func Validate(a Adapter) error {
	meta := a.Metadata()
	if meta.Name == "" {
		return fmt.Errorf("adapter declares no name")
	}
	if len(meta.Produces) == 0 {
		return fmt.Errorf("adapter %s declares no produced event types", meta.Name)
	}
	_, cmd := a.(CommandBuilder)
	_, gen := a.(Generator)
	switch {
	case cmd && gen:
		return fmt.Errorf("adapter %s implements both command and generation patterns", meta.Name)
	case !cmd && !gen:
		return fmt.Errorf("adapter %s implements neither command nor generation pattern", meta.Name)
	}
	return nil
}
