// Package metrics provides Prometheus metrics for the card desk back office.
// Scrape these at /metrics for Grafana dashboards and alerting.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"gorm.io/gorm"
)

var (
	// HTTP Metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "card_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "card_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Outbound fetch metrics
	FetchAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "card_fetch_attempts_total",
			Help: "Outbound HTTP attempts by source and outcome",
		},
		[]string{"source", "outcome"}, // outcome: "ok", "retry", "permanent", "exhausted", "canceled"
	)

	// Resolution metrics
	ResolutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "card_resolutions_total",
			Help: "Card resolutions by outcome",
		},
		[]string{"outcome"}, // "matched", "no_source_matched", "lookup_failed", "invalid"
	)

	SourceResultsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "card_source_results_total",
			Help: "Per-source search results",
		},
		[]string{"source", "result"}, // "hit", "empty", "warning"
	)

	ResolutionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "card_resolution_duration_seconds",
			Help:    "Time taken to resolve a card query across all sources",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
	)

	SheetCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "card_sheet_cache_hits_total",
			Help: "Spreadsheet catalog row cache hits",
		},
	)

	SheetCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "card_sheet_cache_misses_total",
			Help: "Spreadsheet catalog row cache misses",
		},
	)

	// JustTCG API Metrics
	JustTCGRequestsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "card_justtcg_requests_total",
			Help: "Total number of JustTCG API requests made",
		},
	)

	JustTCGQuotaRemaining = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "card_justtcg_quota_remaining",
			Help: "Remaining JustTCG API requests for today",
		},
	)

	// Gemini identification metrics
	GeminiRequestsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "card_gemini_requests_total",
			Help: "Total Gemini identification requests",
		},
	)

	GeminiAPILatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "card_gemini_api_latency_seconds",
			Help:    "Gemini API call latency",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
	)

	GeminiErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "card_gemini_errors_total",
			Help: "Gemini API errors by type",
		},
		[]string{"type"}, // "network", "read", "api", "parse", "empty", "no_name"
	)

	// Inventory metrics
	InventoryItemsTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "card_inventory_items_total",
			Help: "Number of items in inventory",
		},
	)

	InventoryListedValueUSD = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "card_inventory_listed_value_usd",
			Help: "Sum of listed prices of available inventory in USD",
		},
	)

	InventoryWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "card_inventory_writes_total",
			Help: "Inventory writes by operation",
		},
		[]string{"operation"}, // "create", "replay", "update", "delete", "error"
	)
)

// UpdateInventoryMetrics recomputes the inventory gauges from the database
func UpdateInventoryMetrics(db *gorm.DB) {
	if db == nil {
		return
	}

	var count int64
	if err := db.Table("inventory_items").Count(&count).Error; err != nil {
		return
	}
	InventoryItemsTotal.Set(float64(count))

	var listedCents int64
	db.Table("inventory_items").
		Where("availability = ?", true).
		Select("COALESCE(SUM(listed_price), 0)").
		Scan(&listedCents)
	InventoryListedValueUSD.Set(float64(listedCents) / 100)
}
