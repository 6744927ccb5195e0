// Package metrics provides Prometheus metrics export for the query
// pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Exporter exports pipeline metrics in Prometheus format.
type Exporter struct {
	registry *prometheus.Registry

	queryTotal   *prometheus.CounterVec
	queryLatency *prometheus.HistogramVec

	toolCalls  *prometheus.CounterVec
	toolErrors *prometheus.CounterVec

	cacheHits   prometheus.Counter
	cacheMisses prometheus.Counter

	llmLatency *prometheus.HistogramVec
}

// Config configures the exporter.
type Config struct {
	// Registry to use (if nil, creates a new one)
	Registry *prometheus.Registry

	// Buckets for latency histograms (in seconds)
	LatencyBuckets []float64
}

// DefaultConfig returns default exporter configuration.
func DefaultConfig() Config {
	return Config{
		LatencyBuckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
	}
}

// NewExporter creates an Exporter with its own metric families registered.
func NewExporter(cfg Config) *Exporter {
	if len(cfg.LatencyBuckets) == 0 {
		cfg.LatencyBuckets = DefaultConfig().LatencyBuckets
	}
	registry := cfg.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	e := &Exporter{registry: registry}

	e.queryTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cognigate",
			Subsystem: "query",
			Name:      "total",
			Help:      "Queries handled, by model tier and outcome",
		},
		[]string{"tier", "outcome"},
	)
	e.queryLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "cognigate",
			Subsystem: "query",
			Name:      "latency_seconds",
			Help:      "End-to-end query latency in seconds",
			Buckets:   cfg.LatencyBuckets,
		},
		[]string{"tier"},
	)
	e.toolCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cognigate",
			Subsystem: "tools",
			Name:      "calls_total",
			Help:      "Tool invocations by tool name",
		},
		[]string{"tool"},
	)
	e.toolErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cognigate",
			Subsystem: "tools",
			Name:      "errors_total",
			Help:      "Tool invocation failures by tool name",
		},
		[]string{"tool"},
	)
	e.cacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "cognigate",
		Subsystem: "cache",
		Name:      "hits_total",
		Help:      "Result cache hits",
	})
	e.cacheMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "cognigate",
		Subsystem: "cache",
		Name:      "misses_total",
		Help:      "Result cache misses",
	})
	e.llmLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "cognigate",
			Subsystem: "llm",
			Name:      "latency_seconds",
			Help:      "LLM completion latency in seconds",
			Buckets:   cfg.LatencyBuckets,
		},
		[]string{"model"},
	)

	registry.MustRegister(
		e.queryTotal,
		e.queryLatency,
		e.toolCalls,
		e.toolErrors,
		e.cacheHits,
		e.cacheMisses,
		e.llmLatency,
	)
	return e
}

// ObserveQuery records one handled query.
func (e *Exporter) ObserveQuery(tier, outcome string, d time.Duration) {
	e.queryTotal.WithLabelValues(tier, outcome).Inc()
	e.queryLatency.WithLabelValues(tier).Observe(d.Seconds())
}

// ObserveToolCall records one tool invocation.
func (e *Exporter) ObserveToolCall(tool string, err error) {
	e.toolCalls.WithLabelValues(tool).Inc()
	if err != nil {
		e.toolErrors.WithLabelValues(tool).Inc()
	}
}

// ObserveCache records a cache lookup outcome.
func (e *Exporter) ObserveCache(hit bool) {
	if hit {
		e.cacheHits.Inc()
	} else {
		e.cacheMisses.Inc()
	}
}

// ObserveLLM records one completion latency.
func (e *Exporter) ObserveLLM(model string, d time.Duration) {
	e.llmLatency.WithLabelValues(model).Observe(d.Seconds())
}

// Handler returns the scrape endpoint handler.
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}
