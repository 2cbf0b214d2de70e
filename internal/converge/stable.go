package converge

import (
	"context"
	"fmt"
	"log/slog"
)

// WaitForStable samples probe every p.Interval until the same value has
// been returned p.Repetitions times in a row and that value is accepted by
// the policy (not the excluded value, passing the floor). It returns the
// stable value.
//
// The probe is expected not to fail. A probe error ends the wait at once;
// wrap the probe with Retrying to tolerate transient errors.
//
// The wait fails with *StabilityTimeoutError once p.Timeout has elapsed.
// The last sleep is shortened so the final sample lands on the deadline.
func WaitForStable[T comparable](ctx context.Context, e *Engine, p StabilityPolicy[T], probe Probe[T]) (T, error) {
	var zero T
	if err := p.Validate(); err != nil {
		return zero, fmt.Errorf("wait for stable %s: %w", probe, err)
	}
	e = e.orDefault()

	name := probe.String()
	start := e.clock.Now()

	var (
		last    T
		hasLast bool
		count   int
		samples int
	)

	for {
		val, err := probe.invoke(ctx)
		samples++
		if err != nil {
			e.observer.ObserveAttempt(KindStable, probe.Name, false)
			e.finish(KindStable, probe.Name, OutcomeFailed, samples, start)
			return zero, fmt.Errorf("wait for stable %s: sample %d: %w", name, samples, err)
		}

		if hasLast && val == last {
			count++
		} else {
			count = 1
			last = val
			hasLast = true
		}

		stable := count >= p.Repetitions && p.accepts(val)
		e.observer.ObserveAttempt(KindStable, probe.Name, stable)
		e.logger.Debug("sampled value",
			slog.String("probe", name),
			slog.Any("value", val),
			slog.Int("consecutive", count),
			slog.Int("required", p.Repetitions),
		)

		if stable {
			elapsed := e.finish(KindStable, probe.Name, OutcomeConverged, samples, start)
			e.logger.Info("value became stable",
				slog.String("probe", name),
				slog.Any("value", val),
				slog.Int("samples", samples),
				slog.Duration("elapsed", elapsed),
			)
			return val, nil
		}

		elapsed := e.clock.Now().Sub(start)
		if elapsed >= p.Timeout {
			e.finish(KindStable, probe.Name, OutcomeExhausted, samples, start)
			return zero, &StabilityTimeoutError{
				Probe:     name,
				Timeout:   p.Timeout,
				Elapsed:   elapsed,
				Samples:   samples,
				LastValue: last,
				HasValue:  true,
				StableFor: count,
				Required:  p.Repetitions,
			}
		}

		wait := min(p.Interval, p.Timeout-elapsed)
		if err := e.clock.Sleep(ctx, wait); err != nil {
			e.finish(KindStable, probe.Name, OutcomeCanceled, samples, start)
			return zero, fmt.Errorf("wait for stable %s interrupted after %d samples: %w", name, samples, err)
		}
	}
}
