// Package relaymetrics exposes optional Prometheus metrics for parceld,
// following the promauto registration pattern.
package relaymetrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "parceld"

// Metrics implements relay.Metrics. A nil *Metrics is never constructed by
// this package; callers that don't want metrics simply pass a nil
// relay.Metrics interface value instead of calling New.
type Metrics struct {
	connectionsActive prometheus.Gauge
	connectionsTotal   prometheus.Counter
	rekeysSucceeded    prometheus.Counter
	rekeysFailed       prometheus.Counter
	fanoutErrors       prometheus.Counter
}

// New registers parceld's metrics against prometheus.DefaultRegisterer.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry registers against a caller-supplied registry, useful for
// tests that don't want to pollute the global default registry.
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		connectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_active",
			Help:      "Number of clients currently connected to the relay.",
		}),
		connectionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_total",
			Help:      "Total number of client connections accepted.",
		}),
		rekeysSucceeded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rekeys_succeeded_total",
			Help:      "Total number of N-party rekey rounds that completed successfully.",
		}),
		rekeysFailed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rekeys_failed_total",
			Help:      "Total number of N-party rekey rounds that aborted.",
		}),
		fanoutErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fanout_errors_total",
			Help:      "Total number of per-peer message fan-out send failures.",
		}),
	}
}

// ConnectionOpened records a new client joining the slot table.
func (m *Metrics) ConnectionOpened() {
	m.connectionsActive.Inc()
	m.connectionsTotal.Inc()
}

// ConnectionClosed records a client leaving the slot table.
func (m *Metrics) ConnectionClosed() {
	m.connectionsActive.Dec()
}

// RekeySucceeded records a completed N-party rekey round.
func (m *Metrics) RekeySucceeded() {
	m.rekeysSucceeded.Inc()
}

// RekeyFailed records an aborted N-party rekey round.
func (m *Metrics) RekeyFailed() {
	m.rekeysFailed.Inc()
}

// FanoutError records a single peer's fan-out send failure.
func (m *Metrics) FanoutError() {
	m.fanoutErrors.Inc()
}

// Handler returns the standard Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
