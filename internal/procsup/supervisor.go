package procsup

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"time"

	"github.com/google/uuid"

	"github.com/dantte-lp/gocsit/internal/converge"
)

// Stop confirmation defaults: a check every second for five seconds.
const (
	DefaultConfirmTimeout = 5 * time.Second
	DefaultConfirmPoll    = time.Second
)

// waitDelay bounds how long output is drained after a process exited,
// for descendants that keep the pipe open.
const waitDelay = 2 * time.Second

// Observer receives process lifecycle events. metrics.Collector
// implements it.
type Observer interface {
	ObserveStart(ok bool)
	ObserveStop(graceful, ok bool)
}

type noopObserver struct{}

func (noopObserver) ObserveStart(bool)      {}
func (noopObserver) ObserveStop(bool, bool) {}

// StopOptions controls Stop.
type StopOptions struct {
	// Graceful selects SIGTERM (true) or SIGKILL (false).
	Graceful bool

	// ConfirmTimeout is how long to wait for the process to die.
	ConfirmTimeout time.Duration

	// Interval is the liveness poll period.
	Interval time.Duration
}

// DefaultStopOptions returns a graceful stop confirmed within five seconds.
func DefaultStopOptions() StopOptions {
	return StopOptions{
		Graceful:       true,
		ConfirmTimeout: DefaultConfirmTimeout,
		Interval:       DefaultConfirmPoll,
	}
}

// window returns the confirmation timeout and poll interval with defaults
// applied. The interval never exceeds the timeout.
func (o StopOptions) window() (timeout, interval time.Duration) {
	timeout, interval = o.ConfirmTimeout, o.Interval
	if timeout <= 0 {
		timeout = DefaultConfirmTimeout
	}
	if interval <= 0 {
		interval = DefaultConfirmPoll
	}
	return timeout, min(interval, timeout)
}

// policy checks liveness right after the signal and then every interval
// until a check lands at or after the confirmation timeout.
func (o StopOptions) policy() converge.RetryPolicy {
	timeout, interval := o.window()
	sleeps := int((timeout + interval - 1) / interval)
	return converge.RetryPolicy{
		MaxAttempts:    sleeps + 1,
		Interval:       interval,
		SkipFinalSleep: true,
	}
}

// Supervisor runs and stops processes. It holds no per-process state; the
// caller owns every handle it gets back.
type Supervisor struct {
	logger      *slog.Logger
	engine      *converge.Engine
	observer    Observer
	outputLimit int
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithEngine sets the engine used for start and stop confirmation.
func WithEngine(e *converge.Engine) Option {
	return func(s *Supervisor) {
		if e != nil {
			s.engine = e
		}
	}
}

// WithObserver sets the lifecycle observer.
func WithObserver(o Observer) Option {
	return func(s *Supervisor) {
		if o != nil {
			s.observer = o
		}
	}
}

// WithOutputLimit caps the bytes of output retained per background process.
func WithOutputLimit(n int) Option {
	return func(s *Supervisor) { s.outputLimit = n }
}

// New creates a Supervisor. A nil logger discards logs.
func New(logger *slog.Logger, opts ...Option) *Supervisor {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	s := &Supervisor{
		logger:      logger.With(slog.String("component", "procsup")),
		observer:    noopObserver{},
		outputLimit: defaultOutputLimit,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.engine == nil {
		s.engine = converge.New(logger)
	}
	return s
}

// Engine returns the convergence engine the supervisor uses.
func (s *Supervisor) Engine() *converge.Engine { return s.engine }

// Run executes cmd in the foreground and waits for it to finish. A non-zero
// exit is not an error: it is reported in Result.ExitCode. Errors are
// reserved for commands that could not run (ErrCommandNotFound), that hit
// cmd.Timeout (ErrCommandTimeout) or whose ctx was canceled.
func (s *Supervisor) Run(ctx context.Context, cmd Command) (Result, error) {
	if cmd.empty() {
		return Result{ExitCode: -1}, ErrEmptyCommand
	}
	runCtx := ctx
	if cmd.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, cmd.Timeout)
		defer cancel()
	}

	c := cmd.build(runCtx, false)
	c.Cancel = func() error { return signalGroup(c.Process.Pid, false) }
	c.WaitDelay = waitDelay
	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	s.logger.Info("running command", slog.String("command", cmd.String()))
	start := time.Now()
	err := c.Run()
	res := Result{
		ExitCode: -1,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}
	if c.ProcessState != nil {
		res.ExitCode = c.ProcessState.ExitCode()
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case errors.Is(err, exec.ErrNotFound):
		s.logger.Error("command not found", slog.String("command", cmd.String()))
		return res, fmt.Errorf("run %s: %w: %w", cmd, ErrCommandNotFound, err)
	case cmd.Timeout > 0 && errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
		return res, fmt.Errorf("run %s: %w after %v", cmd, ErrCommandTimeout, cmd.Timeout)
	case ctx.Err() != nil:
		return res, fmt.Errorf("run %s: %w", cmd, ctx.Err())
	case errors.As(err, &exitErr):
		if cmd.Shell != "" && res.ExitCode == exitCodeNotFound {
			s.logger.Error("command not found", slog.String("command", cmd.String()))
			return res, fmt.Errorf("run %s: %w: %s", cmd, ErrCommandNotFound, bytes.TrimSpace(stderr.Bytes()))
		}
	default:
		return res, fmt.Errorf("run %s: %w", cmd, err)
	}

	s.logger.Debug("command finished",
		slog.String("command", cmd.String()),
		slog.Int("exit_code", res.ExitCode),
		slog.Duration("duration", res.Duration),
	)
	if res.ExitCode != 0 {
		s.logger.Warn("command exited with non-zero status",
			slog.String("command", cmd.String()),
			slog.Int("exit_code", res.ExitCode),
			slog.String("stderr", res.Stderr),
		)
	}
	return res, nil
}

// RunUntilSuccess reruns cmd until it exits with status 0 and returns that
// run's result. A missing command aborts at once.
func (s *Supervisor) RunUntilSuccess(ctx context.Context, cmd Command, p converge.RetryPolicy) (Result, error) {
	probe := converge.NewProbe("run", func(ctx context.Context) (Result, error) {
		res, err := s.Run(ctx, cmd)
		if errors.Is(err, ErrCommandNotFound) || errors.Is(err, ErrEmptyCommand) {
			return res, converge.Fatal(err)
		}
		return res, err
	}, cmd.String())
	return converge.Retry(ctx, s.engine, p,
		converge.Custom("exit code 0", Result.Success), probe)
}

// Start launches cmd in the background and returns at once. The process is
// not bound to ctx; the caller must end it with exactly one Stop. Launch
// failures are fatal.
func (s *Supervisor) Start(_ context.Context, cmd Command) (*Process, error) {
	if cmd.empty() {
		s.observer.ObserveStart(false)
		return nil, converge.Fatal(fmt.Errorf("start: %w: %w", ErrProcessStart, ErrEmptyCommand))
	}

	// The child writes to a pipe we own. exec.Cmd.Wait then returns when
	// the process exits, not when every descendant closed its output.
	r, w, err := os.Pipe()
	if err != nil {
		s.observer.ObserveStart(false)
		return nil, converge.Fatal(fmt.Errorf("start %s: %w: output pipe: %w", cmd, ErrProcessStart, err))
	}
	c := cmd.build(context.Background(), true)
	c.Stdout = w
	c.Stderr = w

	p := &Process{
		id:      uuid.NewString(),
		command: cmd,
		cmd:     c,
		out:     NewOutputBuffer(s.outputLimit),
		output:  r,
		done:    make(chan struct{}),
		drained: make(chan struct{}),
	}
	err = c.Start()
	_ = w.Close()
	if err != nil {
		_ = r.Close()
		s.observer.ObserveStart(false)
		if errors.Is(err, exec.ErrNotFound) {
			err = fmt.Errorf("%w: %w", ErrCommandNotFound, err)
		}
		return nil, converge.Fatal(fmt.Errorf("start %s: %w: %w", cmd, ErrProcessStart, err))
	}
	p.started = time.Now()
	go p.drain()
	go p.wait()

	s.observer.ObserveStart(true)
	s.logger.Info("started background process",
		slog.String("id", p.id),
		slog.Int("pid", p.PID()),
		slog.String("command", cmd.String()),
	)
	return p, nil
}

// VerifyStarted checks that h stays alive on every one of p.MaxAttempts
// samples. A process that exits during the window fails fast with a fatal
// *StartError carrying its output.
func (s *Supervisor) VerifyStarted(ctx context.Context, h Handle, p converge.RetryPolicy) error {
	probe := converge.NewProbe("alive", func(context.Context) (bool, error) {
		return h.Alive(), nil
	}, h.ID())
	if _, err := converge.HoldsFor(ctx, s.engine, p, converge.Equals(true), probe); err != nil {
		if ctx.Err() != nil {
			return err
		}
		s.logger.Error("process stopped right after start", slog.String("id", h.ID()))
		return converge.Fatal(&StartError{
			ID:      h.ID(),
			Command: commandOf(h),
			Output:  Tail(h.Output(), 20),
			Err:     err,
		})
	}
	s.logger.Debug("process verified running", slog.String("id", h.ID()))
	return nil
}

// Stop signals h and confirms it died within opts.ConfirmTimeout. Failing
// to confirm is a fatal *StopError.
func (s *Supervisor) Stop(ctx context.Context, h Handle, opts StopOptions) error {
	timeout, _ := opts.window()
	s.logger.Info("stopping process",
		slog.String("id", h.ID()),
		slog.Bool("graceful", opts.Graceful),
	)

	if err := h.Signal(opts.Graceful); err != nil {
		s.observer.ObserveStop(opts.Graceful, false)
		return converge.Fatal(&StopError{ID: h.ID(), Graceful: opts.Graceful, Timeout: timeout, Err: err})
	}

	clock := s.engine.Clock()
	start := clock.Now()
	probe := converge.NewProbe("alive", func(context.Context) (bool, error) {
		return h.Alive(), nil
	}, h.ID())
	if _, err := converge.UntilEquals(ctx, s.engine, opts.policy(), false, probe); err != nil {
		elapsed := clock.Now().Sub(start)
		s.observer.ObserveStop(opts.Graceful, false)
		s.logger.Error("process still running after stop",
			slog.String("id", h.ID()),
			slog.Bool("graceful", opts.Graceful),
			slog.Duration("timeout", timeout),
			slog.Duration("elapsed", elapsed),
		)
		return converge.Fatal(&StopError{
			ID:       h.ID(),
			Graceful: opts.Graceful,
			Timeout:  timeout,
			Elapsed:  elapsed,
			Err:      err,
		})
	}

	s.observer.ObserveStop(opts.Graceful, true)
	s.logger.Debug("process output", slog.String("id", h.ID()), slog.String("output", Tail(h.Output(), 20)))
	return nil
}

// WaitForOutput polls h's captured output until a line contains text and
// returns that line. On failure the error carries the captured output.
func (s *Supervisor) WaitForOutput(ctx context.Context, h Handle, text string, p converge.RetryPolicy) (string, error) {
	probe := converge.NewProbe("output", func(context.Context) (string, error) {
		if line, ok := lineContaining(h.Output(), text); ok {
			return line, nil
		}
		if !h.Alive() {
			return "", converge.Fatal(fmt.Errorf("%w: process %s exited", ErrOutputNotFound, h.ID()))
		}
		return "", ErrOutputNotFound
	}, h.ID(), text)

	line, err := converge.Pass(ctx, s.engine, p, probe)
	if err != nil {
		return "", fmt.Errorf("wait for %q: %w\ncaptured output:\n%s", text, err, Tail(h.Output(), 50))
	}
	return line, nil
}

func commandOf(h Handle) string {
	if p, ok := h.(interface{ Command() Command }); ok {
		return p.Command().String()
	}
	if st, ok := h.(fmt.Stringer); ok {
		return st.String()
	}
	return h.ID()
}
