// Package observability exposes Prometheus metrics for the query pipeline.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the pipeline's Prometheus collectors.
type Metrics struct {
	RequestsTotal      *prometheus.CounterVec
	StageDuration      *prometheus.HistogramVec
	CacheLookups       *prometheus.CounterVec
	Refusals           *prometheus.CounterVec
	FaithfulnessScores prometheus.Histogram
}

// NewMetrics registers the pipeline collectors on the given registerer.
// Pass prometheus.DefaultRegisterer in production.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "climateqa",
			Name:      "requests_total",
			Help:      "Query requests by outcome.",
		}, []string{"status"}),
		StageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "climateqa",
			Name:      "stage_duration_seconds",
			Help:      "Wall-clock duration per pipeline stage.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20},
		}, []string{"stage"}),
		CacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "climateqa",
			Name:      "cache_lookups_total",
			Help:      "Query cache lookups by result (hit, fuzzy_hit, miss).",
		}, []string{"result"}),
		Refusals: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "climateqa",
			Name:      "refusals_total",
			Help:      "Requests refused before generation, by reason.",
		}, []string{"reason"}),
		FaithfulnessScores: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "climateqa",
			Name:      "faithfulness_score",
			Help:      "Distribution of faithfulness scores for generated answers.",
			Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
		}),
	}
}
