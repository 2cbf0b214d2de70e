package procsup

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors.
var (
	// ErrEmptyCommand indicates a Command with neither Args nor Shell.
	ErrEmptyCommand = errors.New("empty command")

	// ErrCommandNotFound indicates the executable could not be found, so
	// no exit code exists. It is distinct from a non-zero exit.
	ErrCommandNotFound = errors.New("command not found")

	// ErrCommandTimeout indicates a foreground command exceeded its timeout
	// and was killed.
	ErrCommandTimeout = errors.New("command timed out")

	// ErrProcessStart indicates a background process failed to launch or
	// exited right after launch.
	ErrProcessStart = errors.New("process failed to start")

	// ErrProcessStop indicates a process could not be confirmed dead.
	ErrProcessStop = errors.New("process could not be stopped")

	// ErrNotStarted indicates an operation on a handle that never ran.
	ErrNotStarted = errors.New("process not started")

	// ErrOutputNotFound indicates WaitForOutput gave up.
	ErrOutputNotFound = errors.New("expected output not found")
)

// StartError reports a background process that died during startup
// verification.
type StartError struct {
	ID      string
	Command string

	// Output is the tail of the captured output.
	Output string

	Err error
}

func (e *StartError) Error() string {
	msg := fmt.Sprintf("process %s (%s) stopped right after start", e.ID, e.Command)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Output != "" {
		msg += "\ncaptured output:\n" + e.Output
	}
	return msg
}

func (e *StartError) Unwrap() error        { return e.Err }
func (e *StartError) Is(target error) bool { return target == ErrProcessStart }

// StopError reports a process still alive after the stop confirmation
// window, or a signal that could not be delivered. Elapsed is the time
// actually spent confirming; it is zero when signalling failed.
type StopError struct {
	ID       string
	Graceful bool
	Timeout  time.Duration
	Elapsed  time.Duration
	Err      error
}

func (e *StopError) Error() string {
	mode := "forceful"
	if e.Graceful {
		mode = "graceful"
	}
	var msg string
	if e.Elapsed > 0 {
		msg = fmt.Sprintf("process %s still running %v after %s stop (confirm timeout %v)",
			e.ID, e.Elapsed.Round(time.Millisecond), mode, e.Timeout)
	} else {
		msg = fmt.Sprintf("%s stop of process %s failed", mode, e.ID)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *StopError) Unwrap() error        { return e.Err }
func (e *StopError) Is(target error) bool { return target == ErrProcessStop }
