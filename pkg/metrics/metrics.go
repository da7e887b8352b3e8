// Package metrics wraps Prometheus collectors for the engine's cache,
// search and index operations, following kadirpekel-hector's
// pkg/observability.Metrics: a struct of CounterVec/HistogramVec/GaugeVec
// fields built in init*Metrics groups, registered against a private
// registry, with every recorder method nil-safe so metrics can be
// compiled in but disabled with zero call-site branching.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "blz"

// Metrics holds every collector the engine records to. A nil *Metrics is
// valid everywhere below; every method checks for it first.
type Metrics struct {
	registry *prometheus.Registry

	cacheHits   *prometheus.CounterVec
	cacheMisses prometheus.Counter

	searchCalls    *prometheus.CounterVec
	searchDuration *prometheus.HistogramVec
	searchHits     *prometheus.HistogramVec

	indexOps     *prometheus.CounterVec
	indexErrors  *prometheus.CounterVec
	refreshState *prometheus.GaugeVec
}

// New builds a Metrics instance with its own registry. Passing enabled =
// false yields a nil *Metrics, matching hector's NewMetrics(cfg) shape for
// "metrics compiled in but off by config".
func New(enabled bool) *Metrics {
	if !enabled {
		return nil
	}

	m := &Metrics{registry: prometheus.NewRegistry()}

	m.initCacheMetrics()
	m.initSearchMetrics()
	m.initIndexMetrics()

	return m
}

func (m *Metrics) initCacheMetrics() {
	m.cacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Total result cache hits by tier (l1, l2)",
		},
		[]string{"tier"},
	)

	m.cacheMisses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Total result cache misses",
		},
	)

	m.registry.MustRegister(m.cacheHits, m.cacheMisses)
}

func (m *Metrics) initSearchMetrics() {
	m.searchCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "calls_total",
			Help:      "Total search calls by outcome (ok, partial, error)",
		},
		[]string{"outcome"},
	)

	m.searchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "duration_seconds",
			Help:      "Search call latency in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~2s
		},
		[]string{"outcome"},
	)

	m.searchHits = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "hits",
			Help:      "Number of hits returned per search call",
			Buckets:   prometheus.LinearBuckets(0, 5, 10),
		},
		[]string{"outcome"},
	)

	m.registry.MustRegister(m.searchCalls, m.searchDuration, m.searchHits)
}

func (m *Metrics) initIndexMetrics() {
	m.indexOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "index",
			Name:      "operations_total",
			Help:      "Total index operations by kind (reindex, swap, archive)",
		},
		[]string{"kind"},
	)

	m.indexErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "index",
			Name:      "errors_total",
			Help:      "Total index operation errors by kind",
		},
		[]string{"kind"},
	)

	m.refreshState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "refresh",
			Name:      "state",
			Help:      "Current refresh state machine value per source (0=Idle,1=Fetching,2=Parsing,3=Indexing,4=Swapping,5=Failed)",
		},
		[]string{"alias"},
	)

	m.registry.MustRegister(m.indexOps, m.indexErrors, m.refreshState)
}

// Hit implements cache.Recorder.
func (m *Metrics) Hit(tier string) {
	if m == nil {
		return
	}

	m.cacheHits.WithLabelValues(tier).Inc()
}

// Miss implements cache.Recorder.
func (m *Metrics) Miss() {
	if m == nil {
		return
	}

	m.cacheMisses.Inc()
}

// ObserveSearch records a completed search call's outcome, latency and hit
// count.
func (m *Metrics) ObserveSearch(outcome string, d time.Duration, hits int) {
	if m == nil {
		return
	}

	m.searchCalls.WithLabelValues(outcome).Inc()
	m.searchDuration.WithLabelValues(outcome).Observe(d.Seconds())
	m.searchHits.WithLabelValues(outcome).Observe(float64(hits))
}

// IndexOp records a successful index operation (reindex, swap, archive).
func (m *Metrics) IndexOp(kind string) {
	if m == nil {
		return
	}

	m.indexOps.WithLabelValues(kind).Inc()
}

// IndexError records a failed index operation.
func (m *Metrics) IndexError(kind string) {
	if m == nil {
		return
	}

	m.indexErrors.WithLabelValues(kind).Inc()
}

// SetRefreshState records a source's current refresh state machine value.
func (m *Metrics) SetRefreshState(alias string, state int) {
	if m == nil {
		return
	}

	m.refreshState.WithLabelValues(alias).Set(float64(state))
}

// Handler returns an http.Handler exposing the registry in the Prometheus
// text exposition format, nil when metrics are disabled.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return nil
	}

	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
