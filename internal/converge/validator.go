package converge

import (
	"cmp"
	"fmt"
)

// ValidatorKind identifies one of the closed set of validator variants.
type ValidatorKind uint8

// Validator variants.
const (
	KindAlwaysPass ValidatorKind = iota + 1
	KindEquals
	KindAtLeast
	KindCustom
)

// String returns the variant name.
func (k ValidatorKind) String() string {
	switch k {
	case KindAlwaysPass:
		return "always-pass"
	case KindEquals:
		return "equals"
	case KindAtLeast:
		return "at-least"
	case KindCustom:
		return "custom"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// Validator is a pure predicate over a probe value. Implementations are
// only created through AlwaysPass, Equals, AtLeast and Custom.
type Validator[T any] interface {
	// Evaluate reports whether v is acceptable.
	Evaluate(v T) bool

	// Kind returns the variant tag.
	Kind() ValidatorKind

	// String describes the expectation for logs and errors.
	String() string

	sealed()
}

type alwaysPass[T any] struct{}

// AlwaysPass accepts every value. Retrying with it means "until the probe
// returns without error".
func AlwaysPass[T any]() Validator[T] { return alwaysPass[T]{} }

func (alwaysPass[T]) Evaluate(T) bool     { return true }
func (alwaysPass[T]) Kind() ValidatorKind { return KindAlwaysPass }
func (alwaysPass[T]) String() string      { return "any value" }
func (alwaysPass[T]) sealed()             {}

type equals[T comparable] struct{ want T }

// Equals accepts only values equal to want.
func Equals[T comparable](want T) Validator[T] { return equals[T]{want: want} }

func (e equals[T]) Evaluate(v T) bool { return v == e.want }
func (equals[T]) Kind() ValidatorKind { return KindEquals }
func (e equals[T]) String() string    { return fmt.Sprintf("== %v", e.want) }
func (equals[T]) sealed()             {}

type atLeast[T cmp.Ordered] struct{ floor T }

// AtLeast accepts values >= floor.
func AtLeast[T cmp.Ordered](floor T) Validator[T] { return atLeast[T]{floor: floor} }

func (a atLeast[T]) Evaluate(v T) bool { return cmp.Compare(v, a.floor) >= 0 }
func (atLeast[T]) Kind() ValidatorKind { return KindAtLeast }
func (a atLeast[T]) String() string    { return fmt.Sprintf(">= %v", a.floor) }
func (atLeast[T]) sealed()             {}

type custom[T any] struct {
	desc string
	fn   func(T) bool
}

// Custom wraps an arbitrary predicate. desc names the expectation in logs.
// A nil fn rejects every value.
func Custom[T any](desc string, fn func(T) bool) Validator[T] {
	return custom[T]{desc: desc, fn: fn}
}

func (c custom[T]) Evaluate(v T) bool {
	if c.fn == nil {
		return false
	}
	return c.fn(v)
}
func (custom[T]) Kind() ValidatorKind { return KindCustom }
func (c custom[T]) String() string {
	if c.desc == "" {
		return "custom predicate"
	}
	return c.desc
}
func (custom[T]) sealed() {}
