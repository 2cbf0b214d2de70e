package converge

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors.
var (
	// ErrInvalidPolicy indicates a retry or stability policy that violates
	// its invariants.
	ErrInvalidPolicy = errors.New("invalid convergence policy")

	// ErrNilProbe indicates a probe without a Call function.
	ErrNilProbe = errors.New("probe has no call function")

	// ErrRetryExhausted matches every error returned when all attempts or
	// the whole time budget were consumed without success.
	ErrRetryExhausted = errors.New("retry exhausted")

	// ErrStabilityTimeout matches errors from WaitForStable timing out.
	ErrStabilityTimeout = errors.New("value did not become stable")

	// ErrFatal matches errors wrapped with Fatal.
	ErrFatal = errors.New("fatal")

	// ErrUnexpectedPass is returned by NeverPasses when the probe passed.
	ErrUnexpectedPass = errors.New("probe passed within the retry budget")

	// ErrConditionBroken is returned by HoldsFor when a sample failed.
	ErrConditionBroken = errors.New("condition did not hold")

	// ErrValidation is the cause recorded for attempts whose value was
	// rejected by the validator.
	ErrValidation = errors.New("value rejected by validator")
)

// fatalError marks an error that must not be retried.
type fatalError struct{ err error }

func (e *fatalError) Error() string        { return e.err.Error() }
func (e *fatalError) Unwrap() error        { return e.err }
func (e *fatalError) Is(target error) bool { return target == ErrFatal }

// Fatal marks err so that any retry loop returns it at once instead of
// treating it as a transient probe failure. Fatal(nil) returns nil.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	var fe *fatalError
	if errors.As(err, &fe) {
		return err
	}
	return &fatalError{err: err}
}

// IsFatal reports whether err was marked with Fatal.
func IsFatal(err error) bool {
	return errors.Is(err, ErrFatal)
}

// ExhaustedError reports a Retry that used every attempt.
type ExhaustedError struct {
	// Probe is the probe identity, name(args).
	Probe string

	// Attempts is the number of probe invocations made.
	Attempts int

	// Expectation describes the validator.
	Expectation string

	// LastValue is the last value the probe returned, if any.
	LastValue any

	// HasValue reports whether LastValue is set.
	HasValue bool

	// Cause is the error of the last attempt: the probe error, or
	// ErrValidation when the value was rejected.
	Cause error
}

func (e *ExhaustedError) Error() string {
	msg := fmt.Sprintf("failed to execute %s after %d attempts", e.Probe, e.Attempts)
	if e.HasValue {
		msg += fmt.Sprintf(": expected %s, last value %v", e.Expectation, e.LastValue)
	}
	if e.Cause != nil && !errors.Is(e.Cause, ErrValidation) {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *ExhaustedError) Unwrap() error        { return e.Cause }
func (e *ExhaustedError) Is(target error) bool { return target == ErrRetryExhausted }

// StabilityTimeoutError reports a WaitForStable that ran out of time.
type StabilityTimeoutError struct {
	Probe   string
	Timeout time.Duration
	Elapsed time.Duration

	// Samples is the number of probe invocations made.
	Samples int

	// LastValue is the last sampled value, if any.
	LastValue any
	HasValue  bool

	// StableFor is how many consecutive samples LastValue had been seen.
	StableFor int

	// Required is the policy's Repetitions.
	Required int
}

func (e *StabilityTimeoutError) Error() string {
	if !e.HasValue {
		return fmt.Sprintf("%s did not become stable within %v: no value sampled", e.Probe, e.Timeout)
	}
	return fmt.Sprintf("%s did not become stable within %v (elapsed %v, %d samples): last value %v seen %d of %d required times",
		e.Probe, e.Timeout, e.Elapsed.Round(time.Millisecond), e.Samples, e.LastValue, e.StableFor, e.Required)
}

// Is matches both ErrStabilityTimeout and ErrRetryExhausted.
func (e *StabilityTimeoutError) Is(target error) bool {
	return target == ErrStabilityTimeout || target == ErrRetryExhausted
}
