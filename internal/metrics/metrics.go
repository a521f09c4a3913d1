package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EBirdAPICallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wandibirds_ebird_api_calls_total",
			Help: "Total eBird API calls",
		},
		[]string{"status"},
	)

	EBirdAPILatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "wandibirds_ebird_api_latency_seconds",
			Help:    "eBird API call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ObservationCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "wandibirds_observation_cache_hits_total",
			Help: "Observation cache hits",
		},
	)

	ObservationCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "wandibirds_observation_cache_misses_total",
			Help: "Observation cache misses",
		},
	)

	RadiusWidenedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "wandibirds_radius_widened_total",
			Help: "Fetches that widened to the fallback radius after a sparse tight-radius result",
		},
	)

	StaleServedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "wandibirds_stale_served_total",
			Help: "Requests served from the last-good observation set after an upstream failure",
		},
	)
)
