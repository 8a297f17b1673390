package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/seenimoa/b3fetch/pkg/models"
)

// Prometheus is a Sink backed by client_golang collectors.
type Prometheus struct {
	gatherer prometheus.Gatherer

	classifications *prometheus.CounterVec
	lookupFailures  prometheus.Counter
	acquisitions    *prometheus.CounterVec
	acquireSeconds  *prometheus.HistogramVec
	channels        *prometheus.HistogramVec
	fallbacks       *prometheus.CounterVec
	breakerChanges  *prometheus.CounterVec
	freshness       *prometheus.CounterVec
}

// NewPrometheus registers the b3fetch collectors on reg. Passing a fresh
// prometheus.NewRegistry() keeps tests independent of the global registry.
func NewPrometheus(namespace string, reg *prometheus.Registry) *Prometheus {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Prometheus{
		gatherer: reg,
		classifications: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "classify",
			Name:      "results_total",
			Help:      "Classification results by method and resulting type",
		}, []string{"method", "type"}),
		lookupFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "classify",
			Name:      "lookup_failures_total",
			Help:      "Remote lookups that failed and fell back to the heuristic",
		}),
		acquisitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scraper",
			Name:      "attempts_total",
			Help:      "Scrape attempts by pipeline, engine and outcome",
		}, []string{"group", "engine", "outcome"}),
		acquireSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scraper",
			Name:      "attempt_duration_seconds",
			Help:      "Duration of scrape attempts",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10), // 0.25s to ~2min
		}, []string{"group", "engine"}),
		channels: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scraper",
			Name:      "channels_captured",
			Help:      "Logical channels observed per attempt",
			Buckets:   prometheus.LinearBuckets(0, 1, 7),
		}, []string{"group"}),
		fallbacks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scraper",
			Name:      "fallbacks_total",
			Help:      "Fallbacks to the secondary engine",
		}, []string{"group", "from", "to"}),
		breakerChanges: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scraper",
			Name:      "breaker_transitions_total",
			Help:      "Circuit breaker state transitions",
		}, []string{"breaker", "from", "to"}),
		freshness: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orchestrator",
			Name:      "freshness_checks_total",
			Help:      "Cache freshness decisions by pipeline",
		}, []string{"group", "state"}),
	}
}

// Handler exposes the registry in the Prometheus text format.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.gatherer, promhttp.HandlerOpts{})
}

func (p *Prometheus) ClassificationRecorded(method models.ClassificationMethod, it models.InstrumentType) {
	p.classifications.WithLabelValues(string(method), string(it)).Inc()
}

func (p *Prometheus) LookupFailed() { p.lookupFailures.Inc() }

func (p *Prometheus) AcquisitionRecorded(a Acquisition) {
	p.acquisitions.WithLabelValues(string(a.Group), a.Engine, a.Outcome).Inc()
	p.acquireSeconds.WithLabelValues(string(a.Group), a.Engine).Observe(a.Duration.Seconds())
	p.channels.WithLabelValues(string(a.Group)).Observe(float64(a.Captured))
}

func (p *Prometheus) FallbackInvoked(group models.Group, from, to string) {
	p.fallbacks.WithLabelValues(string(group), from, to).Inc()
}

func (p *Prometheus) BreakerStateChanged(name, from, to string) {
	p.breakerChanges.WithLabelValues(name, from, to).Inc()
}

func (p *Prometheus) FreshnessChecked(group models.Group, fresh bool) {
	state := "stale"
	if fresh {
		state = "fresh"
	}
	p.freshness.WithLabelValues(string(group), state).Inc()
}
