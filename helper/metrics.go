package helper

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects retrieval and tree-building metrics.
// All methods are safe to call on a nil *Metrics.
type Metrics struct {
	tierDuration   *prometheus.HistogramVec
	tierCandidates *prometheus.HistogramVec
	searchRetries  prometheus.Counter

	llmCalls        *prometheus.CounterVec
	embeddingCalls  *prometheus.CounterVec
	cacheHits       *prometheus.CounterVec
	clusterFailures prometheus.Counter
	summaries       prometheus.Counter
}

// NewMetrics registers all collectors under namespace on reg.
// A nil reg registers on the default Prometheus registry.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		tierDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "tier_duration_seconds",
				Help:      "Duration of a hierarchical retrieval tier in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"tier"},
		),
		tierCandidates: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "tier_candidates",
				Help:      "Number of candidates leaving a hierarchical retrieval tier",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
			},
			[]string{"tier"},
		),
		searchRetries: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "search_retries_total",
				Help:      "Number of relaxed re-queries after a zero hit vector search",
			},
		),
		llmCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "raptor_llm_calls_total",
				Help:      "Number of summarization calls",
			},
			[]string{"status"},
		),
		embeddingCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "raptor_embedding_calls_total",
				Help:      "Number of summary embedding calls",
			},
			[]string{"status"},
		),
		cacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "raptor_cache_hits_total",
				Help:      "Number of cache hits",
			},
			[]string{"kind"},
		),
		clusterFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "raptor_cluster_failures_total",
				Help:      "Number of clusters whose summary could not be built",
			},
		),
		summaries: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "raptor_summaries_total",
				Help:      "Number of summary nodes appended to a tree",
			},
		),
	}
}

// ObserveTier records the duration and candidate count of a tier.
func (m *Metrics) ObserveTier(tier string, d time.Duration, candidates int) {
	if m == nil {
		return
	}
	m.tierDuration.WithLabelValues(tier).Observe(d.Seconds())
	m.tierCandidates.WithLabelValues(tier).Observe(float64(candidates))
}

func (m *Metrics) IncSearchRetry() {
	if m == nil {
		return
	}
	m.searchRetries.Inc()
}

func (m *Metrics) IncLLMCall(status string) {
	if m == nil {
		return
	}
	m.llmCalls.WithLabelValues(status).Inc()
}

func (m *Metrics) IncEmbeddingCall(status string) {
	if m == nil {
		return
	}
	m.embeddingCalls.WithLabelValues(status).Inc()
}

func (m *Metrics) IncCacheHit(kind string) {
	if m == nil {
		return
	}
	m.cacheHits.WithLabelValues(kind).Inc()
}

func (m *Metrics) IncClusterFailure() {
	if m == nil {
		return
	}
	m.clusterFailures.Inc()
}

func (m *Metrics) AddSummaries(n int) {
	if m == nil {
		return
	}
	m.summaries.Add(float64(n))
}
