package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
)

const namespace = "qrbatch"

// Registry owns the service collectors. All methods are nil-safe so
// components can run without metrics in tests.
type Registry struct {
	registry        *prometheus.Registry
	jobsStarted     *prometheus.CounterVec
	jobsFinished    *prometheus.CounterVec
	reservations    *prometheus.CounterVec
	artifacts       prometheus.Counter
	stageDuration   *prometheus.HistogramVec
	eventsPublished *prometheus.CounterVec
	eventsDropped   *prometheus.CounterVec
	subscribers     *prometheus.GaugeVec
}

var Default = New()

func New() *Registry {
	r := &Registry{
		registry: prometheus.NewRegistry(),
		jobsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_started_total",
			Help:      "Generation jobs accepted for processing.",
		}, []string{"mode"}),
		jobsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_finished_total",
			Help:      "Generation jobs that reached a terminal state.",
		}, []string{"mode", "state"}),
		reservations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reservations_total",
			Help:      "Range reservation attempts by outcome.",
		}, []string{"outcome"}),
		artifacts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "artifacts_rendered_total",
			Help:      "Cards rendered across all jobs.",
		}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of job stages.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"stage"}),
		eventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Events published on a bus.",
		}, []string{"bus", "type"}),
		eventsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Events dropped because a subscriber was full or gone.",
		}, []string{"bus", "type"}),
		subscribers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "event_subscribers",
			Help:      "Active subscribers per bus.",
		}, []string{"bus"}),
	}
	r.registry.MustRegister(
		r.jobsStarted,
		r.jobsFinished,
		r.reservations,
		r.artifacts,
		r.stageDuration,
		r.eventsPublished,
		r.eventsDropped,
		r.subscribers,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

func (r *Registry) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

func (r *Registry) IncJobStarted(mode string) {
	if r == nil {
		return
	}
	r.jobsStarted.WithLabelValues(mode).Inc()
}

func (r *Registry) IncJobFinished(mode, state string) {
	if r == nil {
		return
	}
	r.jobsFinished.WithLabelValues(mode, state).Inc()
}

func (r *Registry) IncReservation(outcome string) {
	if r == nil {
		return
	}
	r.reservations.WithLabelValues(outcome).Inc()
}

func (r *Registry) AddArtifacts(count int) {
	if r == nil || count <= 0 {
		return
	}
	r.artifacts.Add(float64(count))
}

func (r *Registry) ObserveStage(stage string, duration time.Duration) {
	if r == nil {
		return
	}
	r.stageDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

func (r *Registry) IncEventPublished(bus, eventType string) {
	if r == nil {
		return
	}
	r.eventsPublished.WithLabelValues(bus, eventType).Inc()
}

func (r *Registry) IncEventDropped(bus, eventType string) {
	if r == nil {
		return
	}
	r.eventsDropped.WithLabelValues(bus, eventType).Inc()
}

func (r *Registry) SetSubscribers(bus string, count int) {
	if r == nil {
		return
	}
	r.subscribers.WithLabelValues(bus).Set(float64(count))
}

// Dropped reports how many events of a type a bus has dropped.
func (r *Registry) Dropped(bus, eventType string) float64 {
	if r == nil {
		return 0
	}
	var metric dto.Metric
	if err := r.eventsDropped.WithLabelValues(bus, eventType).Write(&metric); err != nil {
		return 0
	}
	return metric.GetCounter().GetValue()
}

// Reservations reports reservation attempts recorded with outcome.
func (r *Registry) Reservations(outcome string) float64 {
	if r == nil {
		return 0
	}
	var metric dto.Metric
	if err := r.reservations.WithLabelValues(outcome).Write(&metric); err != nil {
		return 0
	}
	return metric.GetCounter().GetValue()
}
