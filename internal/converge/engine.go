package converge

import (
	"context"
	"log/slog"
	"time"
)

// Kind labels the primitive that ran a wait.
type Kind string

// Wait kinds reported to the Observer.
const (
	KindRetry  Kind = "retry"
	KindHold   Kind = "hold"
	KindStable Kind = "stable"
)

// Outcome labels how a wait finished.
type Outcome string

// Wait outcomes reported to the Observer.
const (
	OutcomeConverged Outcome = "converged"
	OutcomeExhausted Outcome = "exhausted"
	OutcomeFailed    Outcome = "failed"
	OutcomeCanceled  Outcome = "canceled"
)

// Observer receives engine events. The metrics package provides the
// Prometheus implementation.
type Observer interface {
	// ObserveAttempt is called after every probe invocation.
	ObserveAttempt(kind Kind, probe string, ok bool)

	// ObserveWait is called once when a wait finishes.
	ObserveWait(kind Kind, probe string, outcome Outcome, attempts int, elapsed time.Duration)
}

type noopObserver struct{}

func (noopObserver) ObserveAttempt(Kind, string, bool)                     {}
func (noopObserver) ObserveWait(Kind, string, Outcome, int, time.Duration) {}

// Engine carries the collaborators shared by every wait: logger, clock,
// and observer. It holds no per-wait state and is safe for concurrent use.
type Engine struct {
	logger   *slog.Logger
	clock    Clock
	observer Observer
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces the wall clock. If c is nil, the wall clock is kept.
func WithClock(c Clock) Option {
	return func(e *Engine) {
		if c != nil {
			e.clock = c
		}
	}
}

// WithObserver attaches an Observer. If o is nil, a no-op observer is used.
func WithObserver(o Observer) Option {
	return func(e *Engine) {
		if o != nil {
			e.observer = o
		}
	}
}

// New creates an Engine.
func New(logger *slog.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	e := &Engine{
		logger:   logger.With(slog.String("component", "converge")),
		clock:    realClock{},
		observer: noopObserver{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Clock returns the engine's clock.
func (e *Engine) Clock() Clock {
	return e.orDefault().clock
}

// orDefault lets callers pass a nil *Engine for a silent wall-clock engine.
func (e *Engine) orDefault() *Engine {
	if e == nil {
		return New(nil)
	}
	return e
}

func (e *Engine) finish(kind Kind, probe string, outcome Outcome, attempts int, start time.Time) time.Duration {
	elapsed := e.clock.Now().Sub(start)
	e.observer.ObserveWait(kind, probe, outcome, attempts, elapsed)
	return elapsed
}

// IgnoreErrors runs step and drops its error after logging it at Warn.
// It is meant for best-effort teardown work.
func IgnoreErrors(ctx context.Context, e *Engine, name string, step func(ctx context.Context) error) {
	e = e.orDefault()
	if err := step(ctx); err != nil {
		e.logger.Warn("ignoring failed step",
			slog.String("step", name),
			slog.String("error", err.Error()),
		)
	}
}
