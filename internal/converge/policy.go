package converge

import (
	"fmt"
	"time"
)

// RetryPolicy bounds a Retry call: how many times the probe runs and how
// long to wait between runs.
type RetryPolicy struct {
	// MaxAttempts is the number of probe invocations. Must be >= 1.
	MaxAttempts int

	// Interval is the wait after each attempt that did not succeed.
	Interval time.Duration

	// SkipFinalSleep drops the wait after the last failed attempt. The
	// default keeps it, so an exhausted call takes MaxAttempts*Interval.
	SkipFinalSleep bool
}

// Validate checks the policy invariants.
func (p RetryPolicy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("max attempts %d: %w", p.MaxAttempts, ErrInvalidPolicy)
	}
	if p.Interval < 0 {
		return fmt.Errorf("interval %v: %w", p.Interval, ErrInvalidPolicy)
	}
	return nil
}

// Within returns a policy with enough attempts to cover timeout when
// sampling every interval, the way test suites convert a timeout budget
// into a retry count. At least one attempt is always made.
func Within(timeout, interval time.Duration) RetryPolicy {
	attempts := 1
	if interval > 0 && timeout > interval {
		attempts = int(timeout / interval)
	}
	return RetryPolicy{MaxAttempts: attempts, Interval: interval}
}

// StabilityPolicy governs WaitForStable.
//
// A value is stable once Repetitions consecutive samples were identical,
// the first of them counting as one. The stable value must also differ from
// the excluded value, if set, and pass Floor, if set.
type StabilityPolicy[T comparable] struct {
	// Timeout bounds the whole wait in wall-clock time.
	Timeout time.Duration

	// Interval is the time between samples.
	Interval time.Duration

	// Repetitions is the number of identical consecutive samples required.
	Repetitions int

	// Floor, when non-nil, must accept the stable value.
	Floor Validator[T]

	excluded    T
	hasExcluded bool
}

// Stability returns a StabilityPolicy with no exclusion and no floor.
func Stability[T comparable](timeout, interval time.Duration, repetitions int) StabilityPolicy[T] {
	return StabilityPolicy[T]{
		Timeout:     timeout,
		Interval:    interval,
		Repetitions: repetitions,
	}
}

// Excluding returns a copy of p that never accepts v as the stable value.
// Typically v is the baseline observed before the change under test.
func (p StabilityPolicy[T]) Excluding(v T) StabilityPolicy[T] {
	p.excluded = v
	p.hasExcluded = true
	return p
}

// WithFloor returns a copy of p whose stable value must also pass floor.
func (p StabilityPolicy[T]) WithFloor(floor Validator[T]) StabilityPolicy[T] {
	p.Floor = floor
	return p
}

// Excluded reports the excluded value and whether one is set.
func (p StabilityPolicy[T]) Excluded() (T, bool) {
	return p.excluded, p.hasExcluded
}

// Validate checks the policy invariants.
func (p StabilityPolicy[T]) Validate() error {
	if p.Repetitions < 1 {
		return fmt.Errorf("repetitions %d: %w", p.Repetitions, ErrInvalidPolicy)
	}
	if p.Timeout <= 0 {
		return fmt.Errorf("timeout %v: %w", p.Timeout, ErrInvalidPolicy)
	}
	if p.Interval < 0 {
		return fmt.Errorf("interval %v: %w", p.Interval, ErrInvalidPolicy)
	}
	return nil
}

// accepts reports whether v may be reported as the stable value.
func (p StabilityPolicy[T]) accepts(v T) bool {
	if p.hasExcluded && v == p.excluded {
		return false
	}
	if p.Floor != nil && !p.Floor.Evaluate(v) {
		return false
	}
	return true
}
