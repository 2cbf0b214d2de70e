package gobgp

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dantte-lp/gocsit/internal/converge"
)

// FlapOptions configures Flap.
type FlapOptions struct {
	// Cycles is the number of down/up cycles. Zero means one.
	Cycles int

	// HoldDown is how long the session stays disabled once it is down.
	HoldDown time.Duration

	// Policy bounds each wait for the session to go down and come back.
	Policy converge.RetryPolicy

	// Step names the test step in the shutdown communication.
	Step string
}

// FlapCycle reports one completed cycle.
type FlapCycle struct {
	Cycle int

	// Down is the time from DisablePeer until the session left ESTABLISHED.
	Down time.Duration

	// Up is the time from EnablePeer until the session was ESTABLISHED again.
	Up time.Duration
}

// Flap takes the session with addr down and back up, waiting for each
// transition to be observed. It stops at the first failed cycle and
// returns the cycles completed so far.
func Flap(ctx context.Context, e *converge.Engine, logger *slog.Logger, c Client, addr string, opts FlapOptions) ([]FlapCycle, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	logger = logger.With(slog.String("component", "gobgp.flap"), slog.String("peer", addr))
	if e == nil {
		e = converge.New(logger)
	}
	cycles := max(opts.Cycles, 1)
	established := Established(c, addr)
	clock := e.Clock()

	var done []FlapCycle
	for i := 1; i <= cycles; i++ {
		comm := FormatShutdownCommunication(opts.Step, fmt.Sprintf("flap %d/%d", i, cycles))

		start := clock.Now()
		if err := c.DisablePeer(ctx, addr, comm); err != nil {
			return done, fmt.Errorf("flap %s cycle %d: %w", addr, i, err)
		}
		if _, err := converge.UntilEquals(ctx, e, opts.Policy, false, established); err != nil {
			return done, fmt.Errorf("flap %s cycle %d: wait down: %w", addr, i, err)
		}
		down := clock.Now().Sub(start)

		if opts.HoldDown > 0 {
			if err := clock.Sleep(ctx, opts.HoldDown); err != nil {
				return done, fmt.Errorf("flap %s cycle %d: %w", addr, i, err)
			}
		}

		start = clock.Now()
		if err := c.EnablePeer(ctx, addr); err != nil {
			return done, fmt.Errorf("flap %s cycle %d: %w", addr, i, err)
		}
		if _, err := converge.UntilEquals(ctx, e, opts.Policy, true, established); err != nil {
			return done, fmt.Errorf("flap %s cycle %d: wait up: %w", addr, i, err)
		}
		cycle := FlapCycle{Cycle: i, Down: down, Up: clock.Now().Sub(start)}
		done = append(done, cycle)
		logger.Info("session flapped",
			slog.Int("cycle", i),
			slog.Duration("down", cycle.Down),
			slog.Duration("up", cycle.Up),
		)
	}
	return done, nil
}
