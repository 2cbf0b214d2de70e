package procsup

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"
)

// Handle is a started process, local or remote, whose lifecycle the
// supervisor manages. A handle is owned by the test step that started it.
type Handle interface {
	// ID identifies the handle in logs and errors.
	ID() string

	// Alive reports whether the process has not exited. It never blocks.
	Alive() bool

	// Signal asks the process to stop: SIGTERM when graceful, SIGKILL
	// otherwise. Remote handles use the session equivalents.
	Signal(graceful bool) error

	// Output returns the captured combined output so far.
	Output() string
}

// Process is a local background process running in its own process group.
type Process struct {
	id      string
	command Command
	cmd     *exec.Cmd
	out     *OutputBuffer
	output  *os.File
	started time.Time
	done    chan struct{}
	drained chan struct{}

	mu       sync.Mutex
	exitCode int
}

var _ Handle = (*Process)(nil)

func (p *Process) ID() string { return p.id }

// PID returns the OS process id, which is also the process group id.
func (p *Process) PID() int {
	if p.cmd == nil || p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// Command returns the command the process was started with.
func (p *Process) Command() Command { return p.command }

// Started returns the launch time.
func (p *Process) Started() time.Time { return p.started }

func (p *Process) Alive() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

// Done is closed once the process has exited and been reaped.
func (p *Process) Done() <-chan struct{} { return p.done }

// ExitCode returns the exit status and true once the process has exited.
// A process killed by a signal reports -1.
func (p *Process) ExitCode() (int, bool) {
	if p.Alive() {
		return 0, false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitCode, true
}

// Signal signals the process group. Once the leader has exited, members
// it left behind in the group are still signalled.
func (p *Process) Signal(graceful bool) error {
	pid := p.PID()
	if pid == 0 {
		return fmt.Errorf("signal %s: %w", p.id, ErrNotStarted)
	}
	if !p.Alive() {
		signalLeftovers(pid, graceful)
		return nil
	}
	return signalGroup(pid, graceful)
}

// Output returns the captured output. After the process exited it first
// waits for the pipe to drain, at most waitDelay.
func (p *Process) Output() string {
	if !p.Alive() {
		<-p.drained
	}
	return p.out.String()
}

func (p *Process) String() string {
	return fmt.Sprintf("%s[pid %d] %s", p.id, p.PID(), p.command)
}

func (p *Process) drain() {
	_, _ = io.Copy(p.out, p.output)
	_ = p.output.Close()
	close(p.drained)
}

// wait reaps the process, marks it exited and bounds the drain of output
// still held open by descendants.
func (p *Process) wait() {
	_ = p.cmd.Wait()
	p.mu.Lock()
	p.exitCode = p.cmd.ProcessState.ExitCode()
	p.mu.Unlock()
	close(p.done)

	timer := time.NewTimer(waitDelay)
	defer timer.Stop()
	select {
	case <-p.drained:
	case <-timer.C:
		_ = p.output.Close()
		<-p.drained
	}
}
