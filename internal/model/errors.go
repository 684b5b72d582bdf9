package model

import (
	"fmt"
	"time"
)

// The runtime classifies failures into a small taxonomy so the run
// controller can map them to run status and process exit codes. Per-line
// and per-event errors never reach this level; they are absorbed into
// counters by the driver and emitter.

// LoadError indicates the target list or manifest could not be read or was
// malformed. No events are possible; always fatal.
type LoadError struct {
	Source string
	Err    error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("loading %s: %v", e.Source, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// ResourceError indicates a single resource could not be materialized.
// Fatal only when the adapter declared the resource required.
type ResourceError struct {
	Name string
	Err  error
}

func (e *ResourceError) Error() string {
	return fmt.Sprintf("resource %q: %v", e.Name, e.Err)
}

func (e *ResourceError) Unwrap() error { return e.Err }

// BuildError indicates the adapter could not construct a command for the
// given inputs. Always fatal.
type BuildError struct {
	Tool string
	Err  error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("building %s command: %v", e.Tool, e.Err)
}

func (e *BuildError) Unwrap() error { return e.Err }

// ExecutionError indicates the child process crashed or exited nonzero.
// The run downgrades to partial when events were emitted before the
// failure, failed otherwise.
type ExecutionError struct {
	Tool     string
	ExitCode int
	Err      error
}

func (e *ExecutionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s execution: %v", e.Tool, e.Err)
	}
	return fmt.Sprintf("%s exited with code %d", e.Tool, e.ExitCode)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// TimeoutError indicates the wall-clock budget expired and the child was
// terminated. Same partial/failed downgrade rule as ExecutionError.
type TimeoutError struct {
	Budget time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("run exceeded budget of %s", e.Budget)
}
