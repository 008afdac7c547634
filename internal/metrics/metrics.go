// Package metrics holds the overlay's Prometheus collectors.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "oi_overlay"

// Pass outcomes.
const (
	OutcomeDrawn      = "drawn"
	OutcomeUnchanged  = "unchanged"
	OutcomeStale      = "stale"
	OutcomeNoData     = "no_data"
	OutcomeWaiting    = "waiting"
	OutcomeLayout     = "layout_unrecognized"
	OutcomeError      = "error"
	OutcomePanic      = "panic"
	OutcomeNotStarted = "not_started"
)

// Metrics is safe to use as a nil pointer; every method is then a no-op.
type Metrics struct {
	registry *prometheus.Registry

	passes       *prometheus.CounterVec
	passDuration prometheus.Histogram
	coalesced    prometheus.Counter
	events       *prometheus.CounterVec
	dropped      *prometheus.CounterVec
	locates      *prometheus.CounterVec
	remaps       prometheus.Counter
	records      prometheus.Gauge
	history      prometheus.Gauge
	radius       prometheus.Gauge
}

// New registers the collectors on a fresh registry, plus the Go and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		passes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "redraw_passes_total",
			Help:      "Redraw passes by outcome.",
		}, []string{"trigger", "outcome"}),
		passDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "redraw_pass_duration_seconds",
			Help:      "Wall time of one redraw pass, page round trips included.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}),
		coalesced: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "redraw_coalesced_total",
			Help:      "Redraw triggers dropped because a pass was in flight.",
		}),
		events: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Scheduler events received by kind.",
		}, []string{"kind"}),
		dropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Scheduler events dropped because the queue was full.",
		}, []string{"kind"}),
		locates: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "table_locate_total",
			Help:      "Table locate polls by result.",
		}, []string{"result"}),
		remaps: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "column_remaps_total",
			Help:      "Column mappings computed for a new table identity.",
		}),
		records: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "parsed_records",
			Help:      "Strike records parsed in the last pass.",
		}),
		history: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "history_snapshots",
			Help:      "Snapshots currently held by the history tracker.",
		}),
		radius: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "window_radius",
			Help:      "Current strikes-per-side radius.",
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ObservePass(trigger, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.passes.WithLabelValues(trigger, outcome).Inc()
	m.passDuration.Observe(d.Seconds())
}

func (m *Metrics) Coalesced() {
	if m == nil {
		return
	}
	m.coalesced.Inc()
}

func (m *Metrics) Event(kind string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(kind).Inc()
}

func (m *Metrics) EventDropped(kind string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(kind).Inc()
}

func (m *Metrics) Locate(found bool) {
	if m == nil {
		return
	}
	result := "found"
	if !found {
		result = "not_found"
	}
	m.locates.WithLabelValues(result).Inc()
}

func (m *Metrics) Remapped() {
	if m == nil {
		return
	}
	m.remaps.Inc()
}

func (m *Metrics) SetRecords(n int) {
	if m == nil {
		return
	}
	m.records.Set(float64(n))
}

func (m *Metrics) SetHistory(n int) {
	if m == nil {
		return
	}
	m.history.Set(float64(n))
}

func (m *Metrics) SetRadius(r int) {
	if m == nil {
		return
	}
	m.radius.Set(float64(r))
}
