package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/dantte-lp/gocsit/internal/config"
	"github.com/dantte-lp/gocsit/internal/converge"
	"github.com/dantte-lp/gocsit/internal/gobgp"
	csitmetrics "github.com/dantte-lp/gocsit/internal/metrics"
	"github.com/dantte-lp/gocsit/internal/probe"
	"github.com/dantte-lp/gocsit/internal/procsup"
	"github.com/dantte-lp/gocsit/internal/remote"
	appversion "github.com/dantte-lp/gocsit/internal/version"
)

// shutdownTimeout bounds the metrics server shutdown.
const shutdownTimeout = 5 * time.Second

// app holds what every command shares: configuration, logger, metrics,
// the convergence engine and the process supervisor. It is built once in
// the root's PersistentPreRunE.
type app struct {
	// Flags.
	configPath  string
	logLevel    string
	format      string
	metricsAddr string

	out    io.Writer
	logOut io.Writer

	cfg       *config.Config
	logger    *slog.Logger
	registry  *prometheus.Registry
	collector *csitmetrics.Collector
	engine    *converge.Engine
	sup       *procsup.Supervisor

	// Metrics server lifetime.
	metrics     *errgroup.Group
	stopMetrics context.CancelFunc
}

func (a *app) setup(ctx context.Context) error {
	if err := checkFormat(a.format); err != nil {
		return err
	}

	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	if a.metricsAddr != "" {
		cfg.Metrics.Addr = a.metricsAddr
	}
	a.cfg = cfg

	level := new(slog.LevelVar)
	level.Set(config.ParseLogLevel(cfg.Log.Level))
	a.logger = newLogger(a.logOut, cfg.Log, level)

	a.registry = prometheus.NewRegistry()
	a.collector = csitmetrics.NewCollector(a.registry)
	a.engine = converge.New(a.logger, converge.WithObserver(a.collector))
	a.sup = procsup.New(a.logger,
		procsup.WithEngine(a.engine),
		procsup.WithObserver(a.collector),
	)

	a.logger.Debug("csitctl starting",
		slog.String("version", appversion.Version),
		slog.String("restconf", cfg.RestconfURL()),
		slog.Float64("duration_multiplier", cfg.DurationMultiplier),
	)

	if cfg.Metrics.Addr != "" {
		if err := a.serveMetrics(ctx); err != nil {
			return err
		}
	}
	return nil
}

// serveMetrics starts the Prometheus endpoint. The listener is opened
// synchronously so a bad address fails the command before it runs.
func (a *app) serveMetrics(ctx context.Context) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", a.cfg.Metrics.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", a.cfg.Metrics.Addr, err)
	}
	srv := newMetricsServer(a.cfg.Metrics, a.registry)

	ctx, cancel := context.WithCancel(ctx)
	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve metrics on %s: %w", a.cfg.Metrics.Addr, err)
		}
		return nil
	})
	g.Go(func() error {
		<-gCtx.Done()
		shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
		defer done()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown metrics server: %w", err)
		}
		return nil
	})

	a.metrics = g
	a.stopMetrics = cancel
	a.logger.Info("metrics endpoint listening",
		slog.String("addr", ln.Addr().String()),
		slog.String("path", a.cfg.Metrics.Path),
	)
	return nil
}

// close stops the metrics server. It is safe to call when setup never ran.
func (a *app) close() error {
	if a.metrics == nil {
		return nil
	}
	a.stopMetrics()
	err := a.metrics.Wait()
	a.metrics = nil
	return err
}

// newMetricsServer creates an HTTP server for the Prometheus metrics endpoint.
func newMetricsServer(cfg config.MetricsConfig, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// newLogger creates a structured logger using a shared LevelVar.
func newLogger(out io.Writer, cfg config.LogConfig, level *slog.LevelVar) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(out, opts)
	default:
		handler = slog.NewTextHandler(out, opts)
	}

	return slog.New(handler)
}

// --- Clients built from configuration ---

func (a *app) restconf() (*probe.Client, error) {
	return probe.NewClient(a.logger, probe.Config{
		BaseURL:  a.cfg.RestconfURL(),
		Username: a.cfg.Controller.User,
		Password: a.cfg.Controller.Password,
		Timeout:  a.cfg.Scale(a.cfg.Controller.Timeout),
	})
}

func (a *app) gobgp() (*gobgp.GRPCClient, error) {
	return gobgp.NewGRPCClient(gobgp.GRPCClientConfig{
		Addr:        a.cfg.GoBGP.Addr,
		DialTimeout: a.cfg.Scale(a.cfg.GoBGP.DialTimeout),
	}, a.logger)
}

func (a *app) remote() *remote.Runner {
	return remote.New(a.logger, a.cfg.SSHTarget())
}

func (a *app) render(v any, table func(io.Writer)) error {
	return render(a.out, a.format, v, table)
}

// closeGoBGPClient closes the client and logs any error.
func (a *app) closeGoBGPClient(c gobgp.Client) {
	if err := c.Close(); err != nil {
		a.logger.Warn("close gobgp client", slog.String("error", err.Error()))
	}
}
