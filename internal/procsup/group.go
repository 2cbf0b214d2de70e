package procsup

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
)

// Group owns the handles started within one test step and guarantees that
// each gets exactly one terminal stop, on success and failure paths alike.
// Typical use:
//
//	g := sup.NewGroup(procsup.DefaultStopOptions())
//	defer func() { err = errors.Join(err, g.StopAll(ctx)) }()
type Group struct {
	sup  *Supervisor
	opts StopOptions

	mu      sync.Mutex
	handles []Handle
}

// NewGroup returns an empty Group stopping its handles with opts.
func (s *Supervisor) NewGroup(opts StopOptions) *Group {
	return &Group{sup: s, opts: opts}
}

// Start launches cmd and registers the process with the group.
func (g *Group) Start(ctx context.Context, cmd Command) (*Process, error) {
	p, err := g.sup.Start(ctx, cmd)
	if err != nil {
		return nil, err
	}
	g.Adopt(p)
	return p, nil
}

// Adopt registers a handle started elsewhere, such as a remote process.
func (g *Group) Adopt(h Handle) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.handles = append(g.handles, h)
}

// Len returns the number of handles still owned.
func (g *Group) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.handles)
}

func (g *Group) owns(h Handle) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return slices.Contains(g.handles, h)
}

func (g *Group) release(h Handle) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if i := slices.Index(g.handles, h); i >= 0 {
		g.handles = slices.Delete(g.handles, i, i+1)
	}
}

// Stop stops one owned handle with opts, escalating a graceful stop that
// cannot be confirmed. The handle is released once it is no longer alive;
// otherwise it stays owned and StopAll tries again. Handles the group does
// not own are left alone.
func (g *Group) Stop(ctx context.Context, h Handle, opts StopOptions) error {
	if !g.owns(h) {
		return nil
	}
	err := g.stopEscalating(ctx, h, opts)
	if !h.Alive() {
		g.release(h)
	}
	return err
}

// StopAll stops every handle still owned, newest first. A graceful stop
// that cannot be confirmed is escalated to a forceful one; the graceful
// failure is still reported. All errors are joined.
func (g *Group) StopAll(ctx context.Context) error {
	g.mu.Lock()
	handles := g.handles
	g.handles = nil
	g.mu.Unlock()

	var errs []error
	for _, h := range slices.Backward(handles) {
		errs = append(errs, g.stopEscalating(ctx, h, g.opts))
	}
	return errors.Join(errs...)
}

func (g *Group) stopEscalating(ctx context.Context, h Handle, opts StopOptions) error {
	err := g.sup.Stop(ctx, h, opts)
	if err == nil || !opts.Graceful || !errors.Is(err, ErrProcessStop) {
		return err
	}
	g.sup.logger.Warn("escalating to forceful stop", slog.String("id", h.ID()))
	force := opts
	force.Graceful = false
	return errors.Join(err, g.sup.Stop(ctx, h, force))
}
