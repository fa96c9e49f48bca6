package internal

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics 服務的 Prometheus 指標
//
// path 標籤區分三種快取路徑：record（單筆完整記錄）、
// zset（完整記錄排行榜）、hash（雜湊排行榜）。
type Metrics struct {
	// CacheHits 快取命中次數
	CacheHits *prometheus.CounterVec

	// CacheMisses 快取未命中次數（含快取故障降級後的 miss）
	CacheMisses *prometheus.CounterVec

	// CacheDegradations Redis 故障被吞掉並降級的次數
	//
	// 這個數字上升代表快取層正在失效，但服務仍以 store-only 模式運作。
	CacheDegradations prometheus.Counter

	// LeaderboardSeeds 排行榜冷啟動重建次數，strategy 標籤為 full 或 hash
	LeaderboardSeeds *prometheus.CounterVec

	// StaleCacheWrites 資料庫寫入成功但快取回寫失敗的次數
	//
	// 快取會保持舊值直到 TTL 到期，需要告警關注。
	StaleCacheWrites prometheus.Counter

	// HTTPRequests HTTP 請求計數
	HTTPRequests *prometheus.CounterVec

	// HTTPDuration HTTP 請求延遲分布
	HTTPDuration *prometheus.HistogramVec
}

// NewMetrics 創建並註冊所有指標
//
// 測試時傳入獨立的 prometheus.NewRegistry() 避免重複註冊衝突。
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		CacheHits: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "movie_cache",
			Name:      "hits_total",
			Help:      "Cache hits by path",
		}, []string{"path"}),

		CacheMisses: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "movie_cache",
			Name:      "misses_total",
			Help:      "Cache misses by path",
		}, []string{"path"}),

		CacheDegradations: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "movie_cache",
			Name:      "degradations_total",
			Help:      "Redis failures swallowed at the cache boundary",
		}),

		LeaderboardSeeds: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "movie_cache",
			Name:      "leaderboard_seeds_total",
			Help:      "Leaderboard cold-start seed operations by strategy",
		}, []string{"strategy"}),

		StaleCacheWrites: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "movie_cache",
			Name:      "stale_cache_writes_total",
			Help:      "Store writes whose cache write-back failed",
		}),

		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "movie_cache",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method, path and status",
		}, []string{"method", "path", "status"}),

		HTTPDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "movie_cache",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
	}
}

// 快取路徑標籤值
const (
	cachePathRecord = "record"
	cachePathZSet   = "zset"
	cachePathHash   = "hash"
)
