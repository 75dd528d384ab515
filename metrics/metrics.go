// Package metrics exposes Prometheus instrumentation for guard decisions,
// validation warnings, audit events, and table sweeps.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tokenguard/tokenguard"
)

const (
	namespace = "tokenguard"
	subsystem = "guard"
)

// Metrics implements tokenguard.MetricsHooks on Prometheus collectors.
// Hand it to the guard via tokenguard.WithMetrics.
type Metrics struct {
	reg prometheus.Registerer

	operationsBegun   *prometheus.CounterVec
	operationsBlocked *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	warnings          *prometheus.CounterVec
	checkFailures     *prometheus.CounterVec
	sweepRemoved      *prometheus.CounterVec
	events            *prometheus.CounterVec
}

var _ tokenguard.MetricsHooks = (*Metrics)(nil)

// New registers the guard collectors with reg. A nil reg falls back to the
// default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		reg: reg,
		operationsBegun: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "operations_begun_total",
			Help:      "Operations granted a lock, by operation kind.",
		}, []string{"kind"}),
		operationsBlocked: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "operations_blocked_total",
			Help:      "Operations rejected before starting, by kind and error code.",
		}, []string{"kind", "code"}),
		operationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "operation_duration_seconds",
			Help:      "Time from Begin to settlement, by kind and outcome.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind", "outcome"}),
		warnings: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "warnings_total",
			Help:      "Advisory validation warnings, by warning kind.",
		}, []string{"kind"}),
		checkFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "check_failures_total",
			Help:      "Validation checks that failed internally, by check name.",
		}, []string{"check"}),
		sweepRemoved: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "sweep_removed_total",
			Help:      "Expired entries removed by background sweeps, by table.",
		}, []string{"table"}),
		events: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "events_total",
			Help:      "Audit events recorded, by event kind.",
		}, []string{"kind"}),
	}
}

// OperationBegun counts a granted operation.
func (m *Metrics) OperationBegun(kind tokenguard.OperationKind) {
	m.operationsBegun.WithLabelValues(string(kind)).Inc()
}

// OperationBlocked counts a rejected operation.
func (m *Metrics) OperationBlocked(kind tokenguard.OperationKind, code string) {
	m.operationsBlocked.WithLabelValues(string(kind), code).Inc()
}

// OperationSettled observes an operation's lifetime.
func (m *Metrics) OperationSettled(kind tokenguard.OperationKind, outcome string, elapsed time.Duration) {
	m.operationDuration.WithLabelValues(string(kind), outcome).Observe(elapsed.Seconds())
}

// WarningObserved counts an advisory warning.
func (m *Metrics) WarningObserved(kind tokenguard.WarningKind) {
	m.warnings.WithLabelValues(string(kind)).Inc()
}

// CheckFailed counts an internal check failure.
func (m *Metrics) CheckFailed(check string) {
	m.checkFailures.WithLabelValues(check).Inc()
}

// SweepRemoved counts removed expired entries.
func (m *Metrics) SweepRemoved(table string, removed int) {
	if removed <= 0 {
		return
	}
	m.sweepRemoved.WithLabelValues(table).Add(float64(removed))
}

// EventSink returns a sink that counts recorded events by kind, for fan-out
// alongside a persistent store via tokenguard.MultiSink.
func (m *Metrics) EventSink() tokenguard.EventSink {
	return tokenguard.SinkFunc(func(_ context.Context, event tokenguard.Event) error {
		m.events.WithLabelValues(string(event.Kind)).Inc()
		return nil
	})
}

// ObserveTables registers gauges tracking the live size of the guard's lock
// and attempt tables. Call once after constructing the guard.
func (m *Metrics) ObserveTables(guard *tokenguard.Guard) {
	factory := promauto.With(m.reg)
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "locks_held",
		Help:      "Locks currently stored, expired-but-unswept included.",
	}, func() float64 { return float64(guard.Locks().Len()) })
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "attempt_records",
		Help:      "Failure records currently stored, expired-but-unswept included.",
	}, func() float64 { return float64(guard.Attempts().Len()) })
}

// Handler serves the gathered metrics over HTTP.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
