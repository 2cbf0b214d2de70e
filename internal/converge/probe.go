package converge

import (
	"context"
	"fmt"
	"strings"
)

// Probe samples an external observable. Name and Args identify the probe
// in logs and in exhaustion errors; Call does the sampling and must be safe
// to invoke repeatedly.
type Probe[T any] struct {
	Name string
	Args []any
	Call func(ctx context.Context) (T, error)
}

// NewProbe builds a Probe from a function and the arguments it is bound to.
func NewProbe[T any](name string, call func(ctx context.Context) (T, error), args ...any) Probe[T] {
	return Probe[T]{Name: name, Args: args, Call: call}
}

// String renders the probe as name(arg, arg).
func (p Probe[T]) String() string {
	name := p.Name
	if name == "" {
		name = "probe"
	}
	if len(p.Args) == 0 {
		return name + "()"
	}
	parts := make([]string, 0, len(p.Args))
	for _, a := range p.Args {
		parts = append(parts, fmt.Sprint(a))
	}
	return name + "(" + strings.Join(parts, ", ") + ")"
}

func (p Probe[T]) invoke(ctx context.Context) (v T, err error) {
	if p.Call == nil {
		return v, fmt.Errorf("%s: %w", p, ErrNilProbe)
	}
	return p.Call(ctx)
}
