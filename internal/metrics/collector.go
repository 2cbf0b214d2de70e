package csitmetrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dantte-lp/gocsit/internal/converge"
	"github.com/dantte-lp/gocsit/internal/procsup"
	"github.com/dantte-lp/gocsit/internal/updater"
)

// -------------------------------------------------------------------------
// Prometheus Metric Constants
// -------------------------------------------------------------------------

const (
	namespace         = "gocsit"
	subsystemConverge = "converge"
	subsystemProcess  = "process"
	subsystemUpdater  = "updater"
	resultOK          = "ok"
	resultFailed      = "failed"
	stopModeGraceful  = "graceful"
	stopModeForceful  = "forceful"
)

// Label names.
const (
	labelKind    = "kind"
	labelProbe   = "probe"
	labelResult  = "result"
	labelOutcome = "outcome"
	labelMode    = "mode"
)

// waitBuckets span sub-second probes up to multi-minute convergence waits.
var waitBuckets = []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 900}

// -------------------------------------------------------------------------
// Collector: Prometheus test-run metrics
// -------------------------------------------------------------------------

// Collector holds the Prometheus metrics of a test run. It implements
// converge.Observer, procsup.Observer and updater.Observer so one value can
// be handed to every component.
//
// Probe labels carry the probe name, never its arguments, so cardinality
// stays bounded by the number of probe kinds.
type Collector struct {
	// ProbeAttempts counts probe invocations by wait kind, probe and
	// whether the sample was accepted.
	ProbeAttempts *prometheus.CounterVec

	// Waits counts finished waits by kind, probe and outcome.
	Waits *prometheus.CounterVec

	// WaitDuration observes how long finished waits took.
	WaitDuration *prometheus.HistogramVec

	// ProcessStarts counts background process starts.
	ProcessStarts *prometheus.CounterVec

	// ProcessStops counts stop requests by signal mode and result.
	ProcessStops *prometheus.CounterVec

	// Updates counts update requests by outcome.
	Updates *prometheus.CounterVec

	// UpdateDuration observes update request latency.
	UpdateDuration prometheus.Histogram
}

var (
	_ converge.Observer = (*Collector)(nil)
	_ procsup.Observer  = (*Collector)(nil)
	_ updater.Observer  = (*Collector)(nil)
)

// NewCollector creates a Collector with all metrics registered against reg.
// If reg is nil, prometheus.DefaultRegisterer is used.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := newMetrics()

	reg.MustRegister(
		c.ProbeAttempts,
		c.Waits,
		c.WaitDuration,
		c.ProcessStarts,
		c.ProcessStops,
		c.Updates,
		c.UpdateDuration,
	)

	return c
}

// newMetrics creates all metric vectors without registering them.
func newMetrics() *Collector {
	return &Collector{
		ProbeAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemConverge,
			Name:      "probe_attempts_total",
			Help:      "Total probe invocations by wait kind and result.",
		}, []string{labelKind, labelProbe, labelResult}),

		Waits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemConverge,
			Name:      "waits_total",
			Help:      "Total finished waits by kind and outcome.",
		}, []string{labelKind, labelProbe, labelOutcome}),

		WaitDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemConverge,
			Name:      "wait_duration_seconds",
			Help:      "Time from the first probe call to the end of a wait.",
			Buckets:   waitBuckets,
		}, []string{labelKind, labelOutcome}),

		ProcessStarts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemProcess,
			Name:      "starts_total",
			Help:      "Total background process starts by result.",
		}, []string{labelResult}),

		ProcessStops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemProcess,
			Name:      "stops_total",
			Help:      "Total process stop requests by signal mode and result.",
		}, []string{labelMode, labelResult}),

		Updates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemUpdater,
			Name:      "requests_total",
			Help:      "Total LSP update requests by outcome.",
		}, []string{labelOutcome}),

		UpdateDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemUpdater,
			Name:      "request_duration_seconds",
			Help:      "LSP update request latency.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

// -------------------------------------------------------------------------
// Convergence waits
// -------------------------------------------------------------------------

// ObserveAttempt counts one probe invocation.
func (c *Collector) ObserveAttempt(kind converge.Kind, probe string, ok bool) {
	c.ProbeAttempts.WithLabelValues(string(kind), probe, result(ok)).Inc()
}

// ObserveWait records a finished wait.
func (c *Collector) ObserveWait(kind converge.Kind, probe string, outcome converge.Outcome, _ int, elapsed time.Duration) {
	c.Waits.WithLabelValues(string(kind), probe, string(outcome)).Inc()
	c.WaitDuration.WithLabelValues(string(kind), string(outcome)).Observe(elapsed.Seconds())
}

// -------------------------------------------------------------------------
// Processes
// -------------------------------------------------------------------------

// ObserveStart counts a background process start.
func (c *Collector) ObserveStart(ok bool) {
	c.ProcessStarts.WithLabelValues(result(ok)).Inc()
}

// ObserveStop counts a stop request.
func (c *Collector) ObserveStop(graceful, ok bool) {
	mode := stopModeForceful
	if graceful {
		mode = stopModeGraceful
	}
	c.ProcessStops.WithLabelValues(mode, result(ok)).Inc()
}

// -------------------------------------------------------------------------
// Updates
// -------------------------------------------------------------------------

// ObserveUpdate records one update request.
func (c *Collector) ObserveUpdate(outcome string, d time.Duration) {
	c.Updates.WithLabelValues(outcome).Inc()
	c.UpdateDuration.Observe(d.Seconds())
}

func result(ok bool) string {
	if ok {
		return resultOK
	}
	return resultFailed
}
