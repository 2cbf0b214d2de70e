package converge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Retry invokes probe up to p.MaxAttempts times and returns the first value
// accepted by v. A probe error or a rejected value is logged and the next
// attempt runs after p.Interval. An error marked with Fatal is returned at
// once. When every attempt fails the result is an *ExhaustedError whose
// cause is the last attempt's error.
func Retry[T any](ctx context.Context, e *Engine, p RetryPolicy, v Validator[T], probe Probe[T]) (T, error) {
	var zero T
	if err := p.Validate(); err != nil {
		return zero, fmt.Errorf("retry %s: %w", probe, err)
	}
	if v == nil {
		v = AlwaysPass[T]()
	}
	e = e.orDefault()

	name := probe.String()
	start := e.clock.Now()

	var (
		last     T
		hasValue bool
		lastErr  error
	)

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		val, err := probe.invoke(ctx)

		switch {
		case err != nil && IsFatal(err):
			e.observer.ObserveAttempt(KindRetry, probe.Name, false)
			e.finish(KindRetry, probe.Name, OutcomeFailed, attempt, start)
			return zero, err

		case err != nil:
			lastErr = err
			e.logger.Info("probe failed",
				slog.String("probe", name),
				slog.Int("attempt", attempt),
				slog.Int("max_attempts", p.MaxAttempts),
				slog.String("error", err.Error()),
			)

		case v.Evaluate(val):
			e.observer.ObserveAttempt(KindRetry, probe.Name, true)
			elapsed := e.finish(KindRetry, probe.Name, OutcomeConverged, attempt, start)
			e.logger.Debug("probe passed",
				slog.String("probe", name),
				slog.Int("attempt", attempt),
				slog.Duration("elapsed", elapsed),
			)
			return val, nil

		default:
			last, hasValue = val, true
			lastErr = ErrValidation
			e.logger.Info("probe returned unexpected value",
				slog.String("probe", name),
				slog.Int("attempt", attempt),
				slog.Int("max_attempts", p.MaxAttempts),
				slog.String("expected", v.String()),
				slog.Any("value", val),
			)
		}

		e.observer.ObserveAttempt(KindRetry, probe.Name, false)

		if attempt == p.MaxAttempts && p.SkipFinalSleep {
			break
		}
		if err := e.clock.Sleep(ctx, p.Interval); err != nil {
			e.finish(KindRetry, probe.Name, OutcomeCanceled, attempt, start)
			return zero, fmt.Errorf("retry %s interrupted after attempt %d/%d: %w",
				name, attempt, p.MaxAttempts, err)
		}
	}

	e.finish(KindRetry, probe.Name, OutcomeExhausted, p.MaxAttempts, start)

	exhausted := &ExhaustedError{
		Probe:       name,
		Attempts:    p.MaxAttempts,
		Expectation: v.String(),
		Cause:       lastErr,
	}
	if hasValue {
		exhausted.LastValue = last
		exhausted.HasValue = true
	}
	return zero, exhausted
}

// Pass retries probe until it returns without error.
func Pass[T any](ctx context.Context, e *Engine, p RetryPolicy, probe Probe[T]) (T, error) {
	return Retry(ctx, e, p, AlwaysPass[T](), probe)
}

// UntilEquals retries probe until it returns want.
func UntilEquals[T comparable](ctx context.Context, e *Engine, p RetryPolicy, want T, probe Probe[T]) (T, error) {
	return Retry(ctx, e, p, Equals(want), probe)
}

// NeverPasses succeeds only if probe fails on every attempt of p. A probe
// that passes makes it return ErrUnexpectedPass. Fatal errors propagate.
func NeverPasses[T any](ctx context.Context, e *Engine, p RetryPolicy, probe Probe[T]) error {
	_, err := Pass(ctx, e, p, probe)
	switch {
	case err == nil:
		return fmt.Errorf("%s: %w", probe, ErrUnexpectedPass)
	case errors.Is(err, ErrRetryExhausted):
		return nil
	default:
		return err
	}
}

// HoldsFor samples probe p.MaxAttempts times, p.Interval apart, and
// requires every sample to pass v. The first error or rejected value ends
// the wait with ErrConditionBroken. It returns the last sampled value.
func HoldsFor[T any](ctx context.Context, e *Engine, p RetryPolicy, v Validator[T], probe Probe[T]) (T, error) {
	var zero T
	if err := p.Validate(); err != nil {
		return zero, fmt.Errorf("hold %s: %w", probe, err)
	}
	if v == nil {
		v = AlwaysPass[T]()
	}
	e = e.orDefault()

	name := probe.String()
	start := e.clock.Now()

	var last T
	for sample := 1; sample <= p.MaxAttempts; sample++ {
		val, err := probe.invoke(ctx)
		if err != nil {
			e.observer.ObserveAttempt(KindHold, probe.Name, false)
			e.finish(KindHold, probe.Name, OutcomeFailed, sample, start)
			return zero, fmt.Errorf("%s failed on sample %d/%d: %w: %w",
				name, sample, p.MaxAttempts, ErrConditionBroken, err)
		}
		if !v.Evaluate(val) {
			e.observer.ObserveAttempt(KindHold, probe.Name, false)
			e.finish(KindHold, probe.Name, OutcomeFailed, sample, start)
			return zero, fmt.Errorf("%s returned %v on sample %d/%d, expected %s: %w",
				name, val, sample, p.MaxAttempts, v, ErrConditionBroken)
		}
		last = val
		e.observer.ObserveAttempt(KindHold, probe.Name, true)
		e.logger.Debug("probe held expected value",
			slog.String("probe", name),
			slog.Int("sample", sample),
			slog.Int("samples", p.MaxAttempts),
		)

		if sample == p.MaxAttempts && p.SkipFinalSleep {
			break
		}
		if err := e.clock.Sleep(ctx, p.Interval); err != nil {
			e.finish(KindHold, probe.Name, OutcomeCanceled, sample, start)
			return zero, fmt.Errorf("hold %s interrupted after sample %d/%d: %w",
				name, sample, p.MaxAttempts, err)
		}
	}

	e.finish(KindHold, probe.Name, OutcomeConverged, p.MaxAttempts, start)
	return last, nil
}

// Retrying wraps probe so that every call is itself a Pass with policy p.
// It is used to give WaitForStable a probe that tolerates transient errors.
func Retrying[T any](e *Engine, p RetryPolicy, probe Probe[T]) Probe[T] {
	return Probe[T]{
		Name: probe.Name,
		Args: probe.Args,
		Call: func(ctx context.Context) (T, error) {
			return Pass(ctx, e, p, probe)
		},
	}
}
