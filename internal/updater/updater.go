package updater

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/netip"
	"text/template"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/dantte-lp/gocsit/internal/probe"
)

// Sentinel errors.
var (
	// ErrNoWorkers indicates a run configured with fewer than one worker.
	ErrNoWorkers = errors.New("updater needs at least one worker")

	// ErrInvalidJobs indicates a PCC or LSP count below one, or a tunnel
	// number outside the LSP range.
	ErrInvalidJobs = errors.New("invalid updater job set")
)

// DefaultFirstPCC is the address of the first simulated PCC.
var DefaultFirstPCC = netip.MustParseAddr("127.0.1.0")

// Config describes one update run.
type Config struct {
	// PCCs and LSPs size the job set: LSPs updates for each of PCCs
	// consecutive addresses starting at FirstPCC.
	PCCs     int
	LSPs     int
	FirstPCC netip.Addr

	// Tunnel restricts the run to one tunnel number per PCC when nonzero.
	Tunnel int

	Workers int

	// Hop is the new first hop of every updated LSP.
	Hop         string
	Destination string
	Delegate    bool

	// Path, ContentType and Template define the request. Zero values
	// select the update-lsp operation with an XML body.
	Path        string
	ContentType string
	Template    string

	// Timeout bounds the whole run. Zero means no bound beyond ctx.
	Timeout time.Duration

	// Refresh is the progress log interval. Zero disables progress logs.
	Refresh time.Duration
}

// Job is one LSP update. Its fields are the template data.
type Job struct {
	RunID       string
	Index       int
	PCC         netip.Addr
	LSP         int
	Hop         string
	Destination string
	Delegate    bool
}

// String identifies the LSP the job updates.
func (j Job) String() string {
	return fmt.Sprintf("pcc_%s_tunnel_%d", j.PCC, j.LSP)
}

// Observer receives one event per request. metrics.Collector implements it.
type Observer interface {
	ObserveUpdate(outcome string, d time.Duration)
}

type noopObserver struct{}

func (noopObserver) ObserveUpdate(string, time.Duration) {}

// Option configures an Updater.
type Option func(*Updater)

// WithObserver registers an observer for request outcomes.
func WithObserver(o Observer) Option {
	return func(u *Updater) {
		if o != nil {
			u.observer = o
		}
	}
}

// Updater issues update requests through a RESTCONF client.
type Updater struct {
	client   *probe.Client
	logger   *slog.Logger
	observer Observer
	cfg      Config
	tmpl     *template.Template
}

// New validates cfg and compiles its body template.
func New(logger *slog.Logger, client *probe.Client, cfg Config, opts ...Option) (*Updater, error) {
	if cfg.Workers < 1 {
		return nil, fmt.Errorf("create updater: %w (got %d)", ErrNoWorkers, cfg.Workers)
	}
	if cfg.PCCs < 1 || cfg.LSPs < 1 || cfg.Tunnel < 0 || cfg.Tunnel > cfg.LSPs {
		return nil, fmt.Errorf("create updater: %w: pccs=%d lsps=%d tunnel=%d",
			ErrInvalidJobs, cfg.PCCs, cfg.LSPs, cfg.Tunnel)
	}
	if !cfg.FirstPCC.IsValid() {
		cfg.FirstPCC = DefaultFirstPCC
	}
	if cfg.Path == "" {
		cfg.Path = DefaultPath
	}
	if cfg.ContentType == "" {
		cfg.ContentType = probe.ContentTypeXML
	}
	if cfg.Template == "" {
		cfg.Template = DefaultTemplate
	}
	tmpl, err := parseTemplate(cfg.Template)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	u := &Updater{
		client:   client,
		logger:   logger.With(slog.String("component", "updater")),
		observer: noopObserver{},
		cfg:      cfg,
		tmpl:     tmpl,
	}
	for _, opt := range opts {
		opt(u)
	}
	return u, nil
}

// Jobs expands the configuration into the ordered job list of one run.
func (u *Updater) Jobs(runID string) []Job {
	lsps := make([]int, 0, u.cfg.LSPs)
	if u.cfg.Tunnel > 0 {
		lsps = append(lsps, u.cfg.Tunnel)
	} else {
		for n := 1; n <= u.cfg.LSPs; n++ {
			lsps = append(lsps, n)
		}
	}

	jobs := make([]Job, 0, u.cfg.PCCs*len(lsps))
	pcc := u.cfg.FirstPCC
	for range u.cfg.PCCs {
		for _, n := range lsps {
			jobs = append(jobs, Job{
				RunID:       runID,
				Index:       len(jobs),
				PCC:         pcc,
				LSP:         n,
				Hop:         u.cfg.Hop,
				Destination: u.cfg.Destination,
				Delegate:    u.cfg.Delegate,
			})
		}
		pcc = pcc.Next()
	}
	return jobs
}

// Run sends every job and returns the tally. Jobs left unsent when ctx is
// canceled or the run times out are tallied as skipped and the context
// error is returned with the partial tally.
func (u *Updater) Run(ctx context.Context) (*Tally, error) {
	if u.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, u.cfg.Timeout)
		defer cancel()
	}

	runID := uuid.NewString()
	jobs := u.Jobs(runID)
	workers := min(u.cfg.Workers, len(jobs))
	logger := u.logger.With(slog.String("run_id", runID))
	logger.Info("update run started",
		slog.Int("jobs", len(jobs)),
		slog.Int("workers", workers),
	)

	tally := &Tally{}
	start := time.Now()
	stopProgress := u.progress(logger, tally)
	defer stopProgress()

	var g errgroup.Group
	for w := range workers {
		g.Go(func() error {
			for i := w; i < len(jobs); i += workers {
				if ctx.Err() != nil {
					tally.Add(OutcomeSkipped)
					continue
				}
				tally.Add(u.send(ctx, logger, jobs[i]))
			}
			return nil
		})
	}
	_ = g.Wait()

	logger.Info("update run finished",
		slog.String("tally", tally.String()),
		slog.Duration("elapsed", time.Since(start)),
	)
	if err := ctx.Err(); err != nil {
		return tally, fmt.Errorf("update run %s: %w", runID, err)
	}
	return tally, nil
}

func (u *Updater) send(ctx context.Context, logger *slog.Logger, j Job) Outcome {
	start := time.Now()
	outcome := u.classify(ctx, logger, j)
	u.observer.ObserveUpdate(string(outcome), time.Since(start))
	return outcome
}

func (u *Updater) classify(ctx context.Context, logger *slog.Logger, j Job) Outcome {
	body, err := render(u.tmpl, j)
	if err != nil {
		logger.Warn("update not sent", slog.String("lsp", j.String()), slog.String("error", err.Error()))
		return OutcomeError
	}
	_, err = u.client.Post(ctx, u.cfg.Path, body, u.cfg.ContentType, http.StatusOK, http.StatusNoContent)
	switch {
	case err == nil:
		return OutcomePass
	case errors.Is(err, probe.ErrUnexpectedStatus):
		logger.Debug("update rejected", slog.String("lsp", j.String()), slog.String("error", err.Error()))
		return OutcomeBadStatus
	case ctx.Err() != nil:
		return OutcomeSkipped
	default:
		logger.Debug("update failed", slog.String("lsp", j.String()), slog.String("error", err.Error()))
		return OutcomeError
	}
}

// progress logs the tally every Refresh until the returned func is called.
func (u *Updater) progress(logger *slog.Logger, tally *Tally) func() {
	if u.cfg.Refresh <= 0 {
		return func() {}
	}
	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		ticker := time.NewTicker(u.cfg.Refresh)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				logger.Info("update progress", slog.String("tally", tally.String()))
			}
		}
	}()
	return func() {
		close(done)
		<-stopped
	}
}
