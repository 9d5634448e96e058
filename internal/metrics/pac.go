package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PACRequests counts PAC fetches by outcome and internal reason. The
	// reason label never reaches the HTTP response.
	PACRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pac_requests_total",
			Help: "Total number of PAC fetch requests",
		},
		[]string{"outcome", "reason"},
	)

	// PACCompileCacheHits counts compiled documents served from the cache.
	PACCompileCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pac_compile_cache_hits_total",
			Help: "PAC documents served from the compile cache",
		},
	)

	// PACCompileCacheMisses counts compilations triggered by cache misses.
	PACCompileCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pac_compile_cache_misses_total",
			Help: "PAC compilations caused by cache misses",
		},
	)

	// UsageRecordsDropped counts usage records dropped because the async
	// recorder buffer was full.
	UsageRecordsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "usage_records_dropped_total",
			Help: "Usage records dropped due to a full recorder buffer",
		},
	)

	// RateLimitedIPs counts PAC fetches rejected by the failure rate limiter.
	RateLimitedIPs = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pac_rate_limited_total",
			Help: "PAC fetches rejected by the per-IP failure rate limiter",
		},
	)
)
