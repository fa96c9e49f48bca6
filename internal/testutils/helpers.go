package testutils

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/koopa0/movie-cache/internal"
)

// DefaultTestConfig 返回測試用的預設配置
func DefaultTestConfig() *internal.Config {
	cfg := &internal.Config{}

	// Server 配置
	cfg.Server.Port = 8000
	cfg.Server.ReadTimeout = 5 * time.Second
	cfg.Server.WriteTimeout = 10 * time.Second

	// Redis 配置
	cfg.Redis.PoolSize = 10
	cfg.Redis.MinIdleConns = 5
	cfg.Redis.MaxRetries = 3
	cfg.Redis.ReadTimeout = 3 * time.Second
	cfg.Redis.WriteTimeout = 3 * time.Second

	// Mongo 配置
	cfg.Mongo.Database = "sample_mflix"
	cfg.Mongo.Collection = "movies"
	cfg.Mongo.ConnectTimeout = 10 * time.Second

	// Cache 配置
	cfg.Cache.TTL = 200 * time.Second
	cfg.Cache.RecordKeyPrefix = "movie:"
	cfg.Cache.HashKeyPrefix = "movie:hash:"
	cfg.Cache.LeaderboardKey = "top_movies:imdb"
	cfg.Cache.LeaderboardOptimizedKey = "top_movies:imdb:optimized"
	cfg.Cache.RankField = "imdb.rating"
	cfg.Cache.TopLimit = 10
	cfg.Cache.SeedMargin = 5

	// Log 配置
	cfg.Log.Level = "warn"
	cfg.Log.Format = "json"
	cfg.Log.Output = "stdout"

	return cfg
}

// TestService 測試用的服務組裝
type TestService struct {
	Movies *internal.MovieCache
	Store  *MockStore
	Cache  *MockCache
	Config *internal.Config
}

// NewTestService 用 mock 後端組裝一個完整的快取協調器
func NewTestService(t testing.TB) *TestService {
	t.Helper()

	config := DefaultTestConfig()
	store := NewMockStore()
	cache := NewMockCache()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelWarn, // 測試時減少日誌噪音
	}))

	// 每個測試用獨立的 registry 避免重複註冊
	metrics := internal.NewMetrics(prometheus.NewRegistry())

	return &TestService{
		Movies: internal.NewMovieCache(store, cache, config, logger, metrics),
		Store:  store,
		Cache:  cache,
		Config: config,
	}
}

// SeedMovie 插入一筆測試電影，回傳十六進位識別碼
func (ts *TestService) SeedMovie(t testing.TB, title string, year int, rating float64) string {
	t.Helper()

	oid, err := ts.Store.Insert(context.Background(), map[string]any{
		"title": title,
		"year":  int32(year),
		"imdb": map[string]any{
			"rating": rating,
			"votes":  int32(1000),
		},
		"poster":   "https://example.com/" + title + ".jpg",
		"released": time.Date(year, 6, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	// 種子插入不算進被測行為的呼叫計數
	ts.Store.InsertCalls.Add(-1)

	return oid.Hex()
}

// MustObjectID 解析十六進位識別碼（測試用）
func MustObjectID(t testing.TB, hex string) bson.ObjectID {
	t.Helper()

	oid, err := bson.ObjectIDFromHex(hex)
	require.NoError(t, err)
	return oid
}
