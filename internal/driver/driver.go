// Package driver runs an adapter's execution pattern under supervision:
// command construction, child process streaming, generation, draining and
// failure classification.
package driver

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/chudamax/asm4-adapter-runtime/internal/adapter"
	"github.com/chudamax/asm4-adapter-runtime/internal/model"
	"github.com/chudamax/asm4-adapter-runtime/internal/signalx"
)

// State is the driver's position in the run state machine.
type State int

const (
	StateIdle State = iota
	StateBuilding
	StateRunning
	StateDraining
	StateTimedOut
	StateCrashed
	StateDone
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateBuilding:
		return "building"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateTimedOut:
		return "timed_out"
	case StateCrashed:
		return "crashed"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

// Outcome summarizes one driver run for the controller.
type Outcome struct {
	// State is the terminal state: Done, TimedOut or Crashed.
	State State
	// ToolExitCode is the external process's own exit code; 0 for the
	// generation pattern and -1 when no process ran.
	ToolExitCode int
	// ParseErrors counts stdout lines the adapter failed to parse.
	ParseErrors int
	// Err is the classified failure, nil on the success path. A nonzero
	// tool exit surfaces as *model.ExecutionError even though draining
	// already salvaged whatever output existed.
	Err error
}

// Driver executes one adapter against one batch.
type Driver struct {
	ad      adapter.Adapter
	cfg     *model.BatchConfig
	targets []string
	workdir string
	emit    adapter.EmitFunc
	hb      *signalx.Reporter
	budget  time.Duration

	state State
}

// New builds a driver. budget is the wall-clock allowance for the run;
// zero means unbounded. Run applies it to its own context so budget expiry
// is distinguishable from a cancelled caller.
func New(ad adapter.Adapter, cfg *model.BatchConfig, targets []string, workdir string, emit adapter.EmitFunc, hb *signalx.Reporter, budget time.Duration) *Driver {
	return &Driver{
		ad:      ad,
		cfg:     cfg,
		targets: targets,
		workdir: workdir,
		emit:    emit,
		hb:      hb,
		budget:  budget,
		state:   StateIdle,
	}
}

// State returns the driver's current machine state.
func (d *Driver) State() State { return d.state }

// Run executes the adapter's declared pattern. A positive budget bounds the
// run; on expiry the child process group is killed and the outcome is
// TimedOut. Draining still runs on every path so file-writing tools salvage
// output.
func (d *Driver) Run(ctx context.Context) Outcome {
	runCtx := ctx
	if d.budget > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, d.budget)
		defer cancel()
	}

	switch a := d.ad.(type) {
	case adapter.CommandBuilder:
		return d.runCommand(ctx, runCtx, a)
	case adapter.Generator:
		return d.runGenerate(ctx, runCtx, a)
	default:
		// Registry validation makes this unreachable.
		d.state = StateCrashed
		return Outcome{State: StateCrashed, ToolExitCode: -1, Err: &model.BuildError{
			Tool: d.cfg.Tool,
			Err:  errors.New("adapter implements no execution pattern"),
		}}
	}
}

// budgetExpired reports whether the run budget lapsed on its own, as
// opposed to a cancellation arriving through the caller's context.
func (d *Driver) budgetExpired(parent, run context.Context) bool {
	return d.budget > 0 && parent.Err() == nil && errors.Is(run.Err(), context.DeadlineExceeded)
}

func (d *Driver) runCommand(ctx, runCtx context.Context, a adapter.CommandBuilder) Outcome {
	d.transition(ctx, StateBuilding)
	argv, err := a.BuildCommand(runCtx, d.targets, d.cfg, d.workdir)
	if err != nil {
		d.state = StateCrashed
		return Outcome{State: StateCrashed, ToolExitCode: -1, Err: &model.BuildError{Tool: d.cfg.Tool, Err: err}}
	}

	out := Outcome{ToolExitCode: -1}

	if len(argv) > 0 {
		d.transition(ctx, StateRunning)
		d.hb.SetPhase("exec")

		onStdout := func(lineCtx context.Context, line string) {
			if perr := a.ParseLine(line, d.emit, d.hb); perr != nil {
				out.ParseErrors++
				slog.DebugContext(lineCtx, "output line skipped", "error", perr)
			}
		}
		onStderr := func(lineCtx context.Context, line string) {
			slog.DebugContext(lineCtx, "tool stderr", "line", line)
		}

		started := time.Now()
		exitCode, dropped, runErr := runProcess(runCtx, Command{
			Path: argv[0],
			Args: argv[1:],
			Dir:  d.workdir,
		}, onStdout, onStderr)
		out.ToolExitCode = exitCode
		out.ParseErrors += dropped
		if dropped > 0 {
			slog.WarnContext(ctx, "oversized output lines dropped", "lines", dropped)
		}
		elapsed := time.Since(started)

		switch {
		case d.budgetExpired(ctx, runCtx) && (runErr != nil || exitCode != 0):
			d.state = StateTimedOut
			out.State = StateTimedOut
			out.Err = &model.TimeoutError{Budget: d.budget}
			slog.WarnContext(ctx, "tool terminated on budget expiry", "elapsed", elapsed.String())
		case runErr != nil:
			d.state = StateCrashed
			out.State = StateCrashed
			out.Err = &model.ExecutionError{Tool: d.cfg.Tool, ExitCode: exitCode, Err: runErr}
		case ctx.Err() != nil && exitCode != 0:
			d.state = StateCrashed
			out.State = StateCrashed
			out.Err = &model.ExecutionError{Tool: d.cfg.Tool, ExitCode: exitCode, Err: context.Cause(ctx)}
			slog.WarnContext(ctx, "tool terminated on caller cancellation", "elapsed", elapsed.String())
		case exitCode != 0:
			out.State = StateDone
			out.Err = &model.ExecutionError{Tool: d.cfg.Tool, ExitCode: exitCode}
			slog.WarnContext(ctx, "tool exited nonzero", "exit_code", exitCode, "elapsed", elapsed.String())
		default:
			out.State = StateDone
			slog.DebugContext(ctx, "tool finished", "elapsed", elapsed.String())
		}
	} else {
		// Nothing to execute (e.g. empty target list); draining may still
		// produce events from files.
		out.State = StateDone
		out.ToolExitCode = 0
	}

	// Draining: give file-writing tools their postprocess pass whatever
	// happened above, so partial output is never lost.
	if drainer, ok := d.ad.(adapter.FileDrainer); ok {
		d.transition(ctx, StateDraining)
		d.hb.SetPhase("drain")
		if derr := drainer.DrainFiles(d.workdir, d.emit); derr != nil {
			slog.WarnContext(ctx, "draining tool output failed", "error", derr)
			if out.Err == nil {
				out.State = StateCrashed
				out.Err = &model.ExecutionError{Tool: d.cfg.Tool, ExitCode: out.ToolExitCode, Err: derr}
			}
		}
	}

	if out.State == StateDone {
		d.state = StateDone
	}
	return out
}

func (d *Driver) runGenerate(ctx, runCtx context.Context, a adapter.Generator) Outcome {
	d.transition(ctx, StateBuilding)
	d.transition(ctx, StateRunning)
	d.hb.SetPhase("generate")
	d.hb.SetSeen(len(d.targets))

	n, err := a.Generate(runCtx, d.targets, d.cfg, d.emit, d.hb)
	switch {
	case err != nil && d.budgetExpired(ctx, runCtx):
		d.state = StateTimedOut
		return Outcome{State: StateTimedOut, ToolExitCode: -1, Err: &model.TimeoutError{Budget: d.budget}}
	case err != nil:
		d.state = StateCrashed
		return Outcome{State: StateCrashed, ToolExitCode: -1, Err: &model.ExecutionError{Tool: d.cfg.Tool, Err: err}}
	}

	slog.DebugContext(ctx, "generation finished", "events", n)
	d.state = StateDone
	return Outcome{State: StateDone, ToolExitCode: 0}
}

func (d *Driver) transition(ctx context.Context, next State) {
	slog.DebugContext(ctx, "driver state", "from", d.state.String(), "to", next.String())
	d.state = next
}
