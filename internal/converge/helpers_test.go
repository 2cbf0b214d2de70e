package converge_test

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/dantte-lp/gocsit/internal/converge"
)

// fakeClock advances only when Sleep or Advance is called.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	return nil
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *fakeClock) Slept() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

func (c *fakeClock) TotalSlept() time.Duration {
	var total time.Duration
	for _, d := range c.Slept() {
		total += d
	}
	return total
}

func newTestEngine(clock converge.Clock, opts ...converge.Option) *converge.Engine {
	opts = append([]converge.Option{converge.WithClock(clock)}, opts...)
	return converge.New(slog.New(slog.DiscardHandler), opts...)
}

// sequence returns a probe that yields values in order and then keeps
// returning the last one. calls counts invocations.
func sequence[T any](values ...T) (converge.Probe[T], *int) {
	calls := 0
	return converge.NewProbe("sequence", func(context.Context) (T, error) {
		i := min(calls, len(values)-1)
		calls++
		return values[i], nil
	}), &calls
}

var errProbe = errors.New("probe backend unavailable")

// failing returns a probe that always fails with errProbe.
func failing[T any]() (converge.Probe[T], *int) {
	calls := 0
	return converge.NewProbe("failing", func(context.Context) (T, error) {
		calls++
		var zero T
		return zero, errProbe
	}), &calls
}

type waitEvent struct {
	kind     converge.Kind
	probe    string
	outcome  converge.Outcome
	attempts int
}

// recordingObserver captures engine events.
type recordingObserver struct {
	mu       sync.Mutex
	attempts map[bool]int
	waits    []waitEvent
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{attempts: make(map[bool]int)}
}

func (o *recordingObserver) ObserveAttempt(_ converge.Kind, _ string, ok bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.attempts[ok]++
}

func (o *recordingObserver) ObserveWait(kind converge.Kind, probe string, outcome converge.Outcome, attempts int, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.waits = append(o.waits, waitEvent{kind: kind, probe: probe, outcome: outcome, attempts: attempts})
}
