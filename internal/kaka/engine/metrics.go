package engine

import "github.com/prometheus/client_golang/prometheus"

type metrics struct {
	checks         prometheus.Counter
	duplicates     prometheus.Counter
	inserts        prometheus.Counter
	contentInserts prometheus.Counter
	similarQueries prometheus.Counter
	similarHits    prometheus.Counter
	errors         prometheus.Counter

	insertLatency prometheus.Histogram
	queryLatency  prometheus.Histogram
}

// newMetrics builds the engine's collectors and registers them on r when r is
// non-nil. The fill and FPR gauges read the live filter on scrape.
func newMetrics(e *Engine, r prometheus.Registerer) *metrics {
	m := &metrics{
		checks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kaka_url_checks_total",
			Help: "Total number of URL membership checks",
		}),
		duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kaka_url_duplicates_total",
			Help: "Total number of checks that found the URL present",
		}),
		inserts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kaka_url_inserts_total",
			Help: "Total number of URL inserts that changed the filter",
		}),
		contentInserts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kaka_content_inserts_total",
			Help: "Total number of fingerprints inserted into the LSH indexes",
		}),
		similarQueries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kaka_similar_queries_total",
			Help: "Total number of near-duplicate queries",
		}),
		similarHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kaka_similar_hits_total",
			Help: "Total number of near-duplicate queries that matched",
		}),
		errors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kaka_operation_errors_total",
			Help: "Total number of failed engine operations",
		}),
		insertLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "kaka_insert_duration_seconds",
			Help:    "Duration of insert operations in seconds",
			Buckets: prometheus.ExponentialBuckets(0.0000001, 4, 10), // 100ns to ~26ms
		}),
		queryLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "kaka_query_duration_seconds",
			Help:    "Duration of membership and similarity queries in seconds",
			Buckets: prometheus.ExponentialBuckets(0.0000001, 4, 10),
		}),
	}
	if r == nil {
		return m
	}

	fill := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "kaka_filter_fill_ratio",
		Help: "Fraction of exact-match filter bits set",
	}, func() float64 { return e.exact.FillRatio() })
	fpr := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "kaka_filter_estimated_fpr",
		Help: "Estimated false positive rate of the exact-match filter",
	}, func() float64 { return e.exact.EstimatedFalsePositiveRate() })

	r.MustRegister(
		m.checks, m.duplicates, m.inserts, m.contentInserts,
		m.similarQueries, m.similarHits, m.errors,
		m.insertLatency, m.queryLatency,
		fill, fpr,
	)
	return m
}
