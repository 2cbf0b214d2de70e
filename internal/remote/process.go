package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/ssh"

	"github.com/dantte-lp/gocsit/internal/procsup"
)

// interruptByte is what a terminal sends for Ctrl-C.
const interruptByte = 0x03

// Process is a command running on the remote host in a pty session. It
// owns its SSH connection and releases it when the command ends.
type Process struct {
	id      string
	line    string
	client  *ssh.Client
	session *ssh.Session
	stdin   io.WriteCloser
	out     *procsup.OutputBuffer
	logger  *slog.Logger
	done    chan struct{}

	mu       sync.Mutex
	exitCode int
	closed   bool
}

var _ procsup.Handle = (*Process)(nil)

// Start launches cmd on the remote host and returns once it is running.
// The caller must end it with exactly one procsup.Supervisor.Stop.
func (r *Runner) Start(ctx context.Context, cmd procsup.Command) (*Process, error) {
	if len(cmd.Args) == 0 && strings.TrimSpace(cmd.Shell) == "" {
		return nil, procsup.ErrEmptyCommand
	}
	line := commandLine(cmd)

	client, err := r.dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("start %s: %w: %w", line, procsup.ErrProcessStart, err)
	}
	p, err := r.startSession(client, line)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("start %s: %w: %w", line, procsup.ErrProcessStart, err)
	}
	go p.wait()

	r.logger.Info("started remote process", slog.String("id", p.id), slog.String("command", line))
	return p, nil
}

func (r *Runner) startSession(client *ssh.Client, line string) (*Process, error) {
	sess, err := client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSession, err)
	}
	modes := ssh.TerminalModes{
		ssh.ECHO:          0,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	if err := sess.RequestPty("xterm", 40, 200, modes); err != nil {
		_ = sess.Close()
		return nil, fmt.Errorf("%w: request pty: %w", ErrSession, err)
	}
	stdin, err := sess.StdinPipe()
	if err != nil {
		_ = sess.Close()
		return nil, fmt.Errorf("%w: %w", ErrSession, err)
	}
	out := procsup.NewOutputBuffer(r.limit)
	sess.Stdout = out
	sess.Stderr = out
	if err := sess.Start(line); err != nil {
		_ = sess.Close()
		return nil, fmt.Errorf("%w: %w", ErrSession, err)
	}
	return &Process{
		id:       uuid.NewString(),
		line:     line,
		client:   client,
		session:  sess,
		stdin:    stdin,
		out:      out,
		logger:   r.logger,
		done:     make(chan struct{}),
		exitCode: -1,
	}, nil
}

func (p *Process) ID() string { return p.id }

// Line returns the remote command line.
func (p *Process) Line() string { return p.line }

func (p *Process) String() string { return p.id + " " + p.line }

func (p *Process) Alive() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

// Done is closed once the remote command has ended and the connection
// has been released.
func (p *Process) Done() <-chan struct{} { return p.done }

// ExitCode returns the remote exit status and true once the command ended.
func (p *Process) ExitCode() (int, bool) {
	if p.Alive() {
		return 0, false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitCode, true
}

func (p *Process) Output() string { return p.out.String() }

// Signal stops the remote command. Graceful writes the terminal interrupt
// character, as a user pressing Ctrl-C would. Forceful sends SIGKILL over
// the channel and closes the session.
func (p *Process) Signal(graceful bool) error {
	if !p.Alive() {
		return nil
	}
	if graceful {
		if _, err := p.stdin.Write([]byte{interruptByte}); err != nil {
			return fmt.Errorf("interrupt %s: %w", p.id, err)
		}
		return nil
	}
	if err := p.session.Signal(ssh.SIGKILL); err != nil && !errors.Is(err, io.EOF) {
		p.logger.Debug("sending SIGKILL", slog.String("id", p.id), slog.String("error", err.Error()))
	}
	p.release()
	return nil
}

// wait blocks until the remote command ends, then releases the session and
// the connection.
func (p *Process) wait() {
	err := p.session.Wait()
	code, ok := exitStatus(err)
	if !ok {
		p.logger.Debug("remote session ended", slog.String("id", p.id), slog.String("error", err.Error()))
	}
	p.mu.Lock()
	p.exitCode = code
	p.mu.Unlock()
	p.release()
	close(p.done)
}

func (p *Process) release() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	_ = p.session.Close()
	_ = p.client.Close()
}

// closeTimeout bounds how long Close waits for the command to end.
const closeTimeout = 5 * time.Second

// Close force-stops the command if it is still running and waits for the
// connection to be released. It is safe to call more than once.
func (p *Process) Close() error {
	if err := p.Signal(false); err != nil {
		return err
	}
	select {
	case <-p.done:
		return nil
	case <-time.After(closeTimeout):
		return fmt.Errorf("close %s: %w", p.id, procsup.ErrProcessStop)
	}
}
