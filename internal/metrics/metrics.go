// Package metrics exposes the Prometheus collectors shared across the
// service: fetch-cache effectiveness and analysis latency.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles the collectors. A single instance is created in main and
// passed to the components that record into it; a nil *Metrics disables
// recording, so tests don't need a registry.
type Metrics struct {
	CacheHits        prometheus.Counter
	CacheMisses      prometheus.Counter
	CacheEvictions   prometheus.Counter
	CoalescedFetches prometheus.Counter
	FetchErrors      prometheus.Counter
	AnalyzeDuration  prometheus.Histogram
}

// New creates the collectors and registers them with the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rufous",
			Name:      "fetch_cache_hits_total",
			Help:      "Transaction fetches served from the session cache",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rufous",
			Name:      "fetch_cache_misses_total",
			Help:      "Transaction fetches that went to the external source",
		}),
		CacheEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rufous",
			Name:      "fetch_cache_evictions_total",
			Help:      "Cache entries evicted after the session timeout",
		}),
		CoalescedFetches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rufous",
			Name:      "fetch_cache_coalesced_total",
			Help:      "Requests that attached to an already in-flight fetch",
		}),
		FetchErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rufous",
			Name:      "fetch_errors_total",
			Help:      "External fetches that failed",
		}),
		AnalyzeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "rufous",
			Name:      "analyze_duration_seconds",
			Help:      "End-to-end duration of analysis requests",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		m.CacheHits,
		m.CacheMisses,
		m.CacheEvictions,
		m.CoalescedFetches,
		m.FetchErrors,
		m.AnalyzeDuration,
	)
	return m
}

// incr is a nil-safe counter increment helper.
func incr(c prometheus.Counter) {
	if c != nil {
		c.Inc()
	}
}

// IncCacheHit records a cache hit; safe on a nil receiver.
func (m *Metrics) IncCacheHit() {
	if m != nil {
		incr(m.CacheHits)
	}
}

func (m *Metrics) IncCacheMiss() {
	if m != nil {
		incr(m.CacheMisses)
	}
}

func (m *Metrics) IncCacheEviction() {
	if m != nil {
		incr(m.CacheEvictions)
	}
}

func (m *Metrics) IncCoalescedFetch() {
	if m != nil {
		incr(m.CoalescedFetches)
	}
}

func (m *Metrics) IncFetchError() {
	if m != nil {
		incr(m.FetchErrors)
	}
}

// ObserveAnalyzeDuration records one request duration in seconds.
func (m *Metrics) ObserveAnalyzeDuration(seconds float64) {
	if m != nil && m.AnalyzeDuration != nil {
		m.AnalyzeDuration.Observe(seconds)
	}
}
