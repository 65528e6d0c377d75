// Package metrics exposes Prometheus collectors for fetch outcomes, cache
// behaviour, panel transitions and reminders.
//
// All Collector methods are safe to call on a nil *Collector, so components
// can be constructed without metrics in tests.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "claudit"

// Fetch outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
	OutcomeTimeout = "timeout"
)

// Collector owns a private registry and the application metrics.
type Collector struct {
	registry *prometheus.Registry

	fetchTotal      *prometheus.CounterVec
	fetchDuration   *prometheus.HistogramVec
	cacheLookups    *prometheus.CounterVec
	historySnapshot prometheus.Gauge
	historyWrites   *prometheus.CounterVec
	panelEvents     *prometheus.CounterVec
	reminders       prometheus.Counter
}

// New creates a Collector. A nil registry gets a fresh one with the Go and
// process collectors attached.
func New(registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	c := &Collector{
		registry: registry,
		fetchTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fetch_total",
				Help:      "Source fetches by source and outcome",
			},
			[]string{"source", "outcome"},
		),
		fetchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "fetch_duration_seconds",
				Help:      "Source fetch latency",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 45},
			},
			[]string{"source"},
		),
		cacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cost_cache_lookups_total",
				Help:      "Cost cache lookups by result",
			},
			[]string{"result"},
		),
		historySnapshot: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "history_snapshots",
				Help:      "Snapshots retained after the last history load",
			},
		),
		historyWrites: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "history_writes_total",
				Help:      "History document writes by outcome",
			},
			[]string{"outcome"},
		),
		panelEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "panel_events_total",
				Help:      "Panel state transitions by event",
			},
			[]string{"event"},
		),
		reminders: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reminders_sent_total",
				Help:      "Session reminders delivered",
			},
		),
	}

	registry.MustRegister(
		c.fetchTotal,
		c.fetchDuration,
		c.cacheLookups,
		c.historySnapshot,
		c.historyWrites,
		c.panelEvents,
		c.reminders,
	)
	return c
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// ObserveFetch records one fetch of source ("usage" or "cost").
func (c *Collector) ObserveFetch(source, outcome string, d time.Duration) {
	if c == nil {
		return
	}
	c.fetchTotal.WithLabelValues(source, outcome).Inc()
	c.fetchDuration.WithLabelValues(source).Observe(d.Seconds())
}

// CacheLookup records a cost cache hit or miss.
func (c *Collector) CacheLookup(hit bool) {
	if c == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	c.cacheLookups.WithLabelValues(result).Inc()
}

// HistoryLoaded records the retained snapshot count.
func (c *Collector) HistoryLoaded(n int) {
	if c == nil {
		return
	}
	c.historySnapshot.Set(float64(n))
}

// HistoryWrite records a history save attempt.
func (c *Collector) HistoryWrite(err error) {
	if c == nil {
		return
	}
	outcome := OutcomeSuccess
	if err != nil {
		outcome = OutcomeError
	}
	c.historyWrites.WithLabelValues(outcome).Inc()
}

// PanelEvent records a panel transition.
func (c *Collector) PanelEvent(event string) {
	if c == nil {
		return
	}
	c.panelEvents.WithLabelValues(event).Inc()
}

// ReminderSent records a delivered reminder.
func (c *Collector) ReminderSent() {
	if c == nil {
		return
	}
	c.reminders.Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		ErrorHandling: promhttp.ContinueOnError,
	})
}
