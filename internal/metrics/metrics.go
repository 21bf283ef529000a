package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	FetchesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "building_tiles_fetches_total",
		Help: "Tile fetches by result (ok, failed)",
	}, []string{"result"})
	FetchDurationMs = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "building_tiles_fetch_duration_ms",
		Help:    "Tile fetch and decode duration in milliseconds",
		Buckets: []float64{10, 50, 100, 200, 500, 1000, 2000, 5000, 10000},
	})
	SkippedTilesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "building_tiles_skipped_total",
		Help: "Uncached required tiles skipped for lack of fetch budget",
	})
	CoalescedTilesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "building_tiles_coalesced_total",
		Help: "Required tiles already being fetched when a pass ran",
	})
	CacheHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "building_tiles_cache_hits_total",
		Help: "Required tiles served from the tile cache",
	})
	CacheEvictionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "building_tiles_cache_evictions_total",
		Help: "Tiles evicted from the tile cache",
	})
	StoreHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "building_tiles_store_hits_total",
		Help: "Feature responses served from the response store",
	})
	StoreMissesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "building_tiles_store_misses_total",
		Help: "Feature responses missing from the response store",
	})
	InFlightFetches = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "building_tiles_in_flight_fetches",
		Help: "Tile fetches currently running",
	})
	VisibleEntities = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "building_tiles_visible_entities",
		Help: "Buildings currently attached to the scene",
	})
	PassesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "building_tiles_passes_total",
		Help: "Reconciliation passes by final state",
	}, []string{"state"})
	RejectedFeaturesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "building_tiles_rejected_features_total",
		Help: "Features dropped by the decoder by reason",
	}, []string{"reason"})
)

func init() {
	prometheus.MustRegister(FetchesTotal)
	prometheus.MustRegister(FetchDurationMs)
	prometheus.MustRegister(SkippedTilesTotal)
	prometheus.MustRegister(CoalescedTilesTotal)
	prometheus.MustRegister(CacheHitsTotal)
	prometheus.MustRegister(CacheEvictionsTotal)
	prometheus.MustRegister(StoreHitsTotal)
	prometheus.MustRegister(StoreMissesTotal)
	prometheus.MustRegister(InFlightFetches)
	prometheus.MustRegister(VisibleEntities)
	prometheus.MustRegister(PassesTotal)
	prometheus.MustRegister(RejectedFeaturesTotal)
}

// Handler exposes the default registry
func Handler() http.Handler {
	return promhttp.Handler()
}
