package driver

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"syscall"
	"time"
)

// Command describes one external tool invocation.
type Command struct {
	Path string
	Args []string
	Env  []string
	Dir  string
}

// LineFunc receives one output line, trailing newline stripped.
type LineFunc func(ctx context.Context, line string)

// killDelay is how long after cancellation the runtime waits for pipes to
// close before giving up on the child.
const killDelay = 5 * time.Second

// maxLine bounds a single scanned output line. Tools occasionally dump a
// whole blob on one line; that line is dropped, never the rest of the
// stream.
const maxLine = 4 * 1024 * 1024

// runProcess launches the command and streams its stdout to onStdout and
// stderr to onStderr until the process ends or ctx is cancelled. The child
// runs in its own process group and the whole group is killed on
// cancellation, so tool descendants never outlive the run.
//
// Returns the process exit code and the number of oversized stdout lines
// dropped. The error is non-nil for spawn failures and abnormal
// termination; a plain nonzero exit is reported only through the exit
// code, since tools routinely exit nonzero after useful output.
func runProcess(ctx context.Context, command Command, onStdout, onStderr LineFunc) (int, int, error) {
	cmd := exec.CommandContext(ctx, command.Path, command.Args...)
	cmd.Dir = command.Dir
	cmd.Env = command.Env
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		// Negative pid addresses the process group.
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = killDelay

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return -1, 0, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return -1, 0, err
	}

	if err := cmd.Start(); err != nil {
		return -1, 0, fmt.Errorf("starting %s: %w", command.Path, err)
	}

	stderrDone := make(chan struct{})
	go func() {
		defer close(stderrDone)
		scanLines(ctx, stderr, onStderr)
	}()

	// Stdout is consumed on the calling goroutine so emitted events are
	// counted before the driver observes process exit.
	dropped := scanLines(ctx, stdout, onStdout)
	<-stderrDone

	err = cmd.Wait()
	exitCode := cmd.ProcessState.ExitCode()
	if err == nil {
		return exitCode, dropped, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		// Normal nonzero exit; informative, not authoritative.
		return exitCode, dropped, nil
	}
	return exitCode, dropped, err
}

// scanLines streams r to fn line by line and returns the number of
// oversized lines dropped. It always consumes r to EOF: a child blocked on
// a full pipe would otherwise never exit, so the reader must not stop
// before the pipe closes.
func scanLines(ctx context.Context, r io.Reader, fn LineFunc) int {
	if fn == nil {
		_, _ = io.Copy(io.Discard, r)
		return 0
	}
	dropped := 0
	br := bufio.NewReaderSize(r, 64*1024)
	for {
		sc := bufio.NewScanner(br)
		sc.Buffer(make([]byte, 0, 64*1024), maxLine)
		for sc.Scan() {
			fn(ctx, sc.Text())
		}
		err := sc.Err()
		if err == nil {
			return dropped
		}
		if !errors.Is(err, bufio.ErrTooLong) {
			// Pipe teardown on cancellation; the driver classifies the
			// run from ctx and the exit code, not from here.
			_, _ = io.Copy(io.Discard, r)
			return dropped
		}
		// The scanner buffered up to maxLine bytes without finding a
		// newline, all of them part of the oversized line. Skip ahead to
		// the line's end and resume scanning from the next one.
		dropped++
		if !skipToNewline(br) {
			return dropped
		}
	}
}

func skipToNewline(br *bufio.Reader) bool {
	for {
		_, err := br.ReadSlice('\n')
		switch {
		case err == nil:
			return true
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		default:
			return false
		}
	}
}
