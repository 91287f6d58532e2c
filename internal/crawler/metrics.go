// File: internal/crawler/metrics.go
package crawler

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles the crawl counters on a dedicated registry so multiple
// engines (and tests) never collide on the default one. All methods are
// nil-safe; a nil *Metrics disables instrumentation.
type Metrics struct {
	registry *prometheus.Registry

	pagesFetched   *prometheus.CounterVec
	itemsExtracted prometheus.Counter
	retries        prometheus.Counter
	errors         *prometheus.CounterVec
	crawlDuration  prometheus.Histogram
}

// NewMetrics creates and registers the crawl collectors.
func NewMetrics() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.pagesFetched = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "collector",
		Subsystem: "crawler",
		Name:      "pages_fetched_total",
		Help:      "Pages fetched, labeled by outcome.",
	}, []string{"outcome"})

	m.itemsExtracted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "collector",
		Subsystem: "crawler",
		Name:      "items_extracted_total",
		Help:      "Items extracted before filtering.",
	})

	m.retries = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "collector",
		Subsystem: "crawler",
		Name:      "fetch_retries_total",
		Help:      "Fetch retries performed.",
	})

	m.errors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "collector",
		Subsystem: "crawler",
		Name:      "errors_total",
		Help:      "Errors encountered, labeled by type.",
	}, []string{"type"})

	m.crawlDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "collector",
		Subsystem: "crawler",
		Name:      "crawl_duration_seconds",
		Help:      "Wall-clock duration of complete crawls.",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
	})

	m.registry.MustRegister(m.pagesFetched, m.itemsExtracted, m.retries, m.errors, m.crawlDuration)
	return m
}

// Registry exposes the underlying registry for an HTTP handler or tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) IncPageFetched(outcome string) {
	if m != nil {
		m.pagesFetched.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) AddItemsExtracted(n int) {
	if m != nil {
		m.itemsExtracted.Add(float64(n))
	}
}

func (m *Metrics) IncRetries() {
	if m != nil {
		m.retries.Inc()
	}
}

func (m *Metrics) IncError(errType string) {
	if m != nil {
		m.errors.WithLabelValues(errType).Inc()
	}
}

func (m *Metrics) ObserveCrawlDuration(seconds float64) {
	if m != nil {
		m.crawlDuration.Observe(seconds)
	}
}
