package model

// RunStatus is the terminal classification of a run.
type RunStatus string

const (
	// StatusSuccess means the tool completed and the stream is authoritative,
	// including the "no findings" case.
	StatusSuccess RunStatus = "success"
	// StatusPartial means the tool failed or timed out after emitting events;
	// the stream is usable up to the failure point.
	StatusPartial RunStatus = "partial"
	// StatusFailed means a fatal error before any event was emitted.
	StatusFailed RunStatus = "failed"
)

// Process exit codes of the runtime itself.
const (
	ExitOK    = 0 // success or no findings
	ExitFatal = 1 // crash, timeout or execution failure with zero events
	ExitUsage = 2 // load/configuration error, unknown adapter
)

// RunResult is the only externally observable summary of a run besides the
// output stream. Computed once by the run controller.
type RunResult struct {
	Status   RunStatus
	ExitCode int
	Emitted  int
	Rejected int
	Err      error
}
