package internal_test

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/koopa0/movie-cache/internal"
	"github.com/koopa0/movie-cache/internal/testutils"
)

// 整合測試：真實的 Redis 與 MongoDB 容器
//
// 驗證 mock 驗證不到的部分：BSON 解碼型別、pipeline 往返、
// 真實 TTL。用 -short 跳過。

// newIntegrationService 用真實後端組裝快取協調器
func newIntegrationService(t *testing.T, env *testutils.TestEnvironment) (*internal.MovieCache, *internal.Config) {
	t.Helper()

	config := testutils.DefaultTestConfig()
	metrics := internal.NewMetrics(prometheus.NewRegistry())

	store := internal.NewMongoStore(env.MongoClient, config.Mongo.Database, config.Mongo.Collection)
	cache := internal.NewRedisCache(env.RedisClient, env.Logger, metrics)

	return internal.NewMovieCache(store, cache, config, env.Logger, metrics), config
}

// insertMovie 直接寫進 MongoDB，回傳十六進位識別碼
func insertMovie(t *testing.T, env *testutils.TestEnvironment, config *internal.Config, title string, year int, rating float64) string {
	t.Helper()

	coll := env.MongoClient.Database(config.Mongo.Database).Collection(config.Mongo.Collection)
	res, err := coll.InsertOne(context.Background(), bson.M{
		"title": title,
		"year":  int32(year),
		"imdb": bson.M{
			"rating": rating,
			"votes":  int32(1000),
		},
		"poster":   "https://example.com/" + title + ".jpg",
		"released": time.Date(year, 6, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	oid, ok := res.InsertedID.(bson.ObjectID)
	require.True(t, ok)
	return oid.Hex()
}

func resetBackends(t *testing.T, env *testutils.TestEnvironment, config *internal.Config) {
	t.Helper()

	env.FlushRedis(t)
	err := env.MongoClient.Database(config.Mongo.Database).
		Collection(config.Mongo.Collection).Drop(context.Background())
	require.NoError(t, err)
}

func TestIntegration_ReadThrough(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	env := testutils.SetupTestEnvironment(t)
	mc, config := newIntegrationService(t, env)
	resetBackends(t, env, config)

	id := insertMovie(t, env, config, "Interstellar", 2014, 8.7)

	// 未命中：從 MongoDB 讀取並回填
	first, source, err := mc.Fetch(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, internal.SourceStoreMiss, source)
	assert.Equal(t, "Interstellar", first["title"])

	// 回填的鍵帶 TTL
	ttl, err := env.RedisClient.TTL(ctx, config.Cache.RecordKeyPrefix+id).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
	assert.LessOrEqual(t, ttl, config.Cache.TTL)

	// 命中：兩條路徑解出的記錄逐欄位相等
	second, source, err := mc.Fetch(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, internal.SourceCacheHit, source)
	assert.Equal(t, first, second)

	// BSON 時間戳經正規化後在兩條路徑是同一個字串
	released, ok := second["released"].(string)
	require.True(t, ok)
	assert.Equal(t, "2014-06-01T00:00:00Z", released)
}

func TestIntegration_WriteThrough(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	env := testutils.SetupTestEnvironment(t)
	mc, config := newIntegrationService(t, env)
	resetBackends(t, env, config)

	id := insertMovie(t, env, config, "Old Title", 1994, 8.9)

	movie, source, err := mc.WriteThrough(ctx, id, map[string]any{
		"title":       "New Title",
		"imdb.rating": 9.3,
	})
	require.NoError(t, err)
	assert.Equal(t, internal.SourceWriteConfirmed, source)
	assert.Equal(t, "New Title", movie["title"])

	// 確認回應後讀取立即命中快取且為新值
	cached, source, err := mc.Fetch(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, internal.SourceCacheHit, source)
	assert.Equal(t, "New Title", cached["title"])

	rating, ok := cached.RankScore(config.Cache.RankField)
	require.True(t, ok)
	assert.InDelta(t, 9.3, rating, 0.001)

	// 刪除後單筆鍵消失
	_, err = mc.DeleteThrough(ctx, id)
	require.NoError(t, err)

	exists, err := env.RedisClient.Exists(ctx, config.Cache.RecordKeyPrefix+id).Result()
	require.NoError(t, err)
	assert.Zero(t, exists)

	_, _, err = mc.Fetch(ctx, id)
	assert.Error(t, err)
}

func TestIntegration_Leaderboards(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	env := testutils.SetupTestEnvironment(t)
	mc, config := newIntegrationService(t, env)
	resetBackends(t, env, config)

	ratings := []float64{9.2, 8.8, 8.4, 8.0, 7.6, 7.2}
	for i, rating := range ratings {
		insertMovie(t, env, config, "Movie", 2000+i, rating)
	}

	t.Run("full record strategy", func(t *testing.T) {
		movies, source, err := mc.TopN(ctx, 5)
		require.NoError(t, err)
		assert.Equal(t, internal.SourceStoreSeeded, source)
		require.Len(t, movies, 5)

		// zset 已播種且帶 TTL
		card, err := env.RedisClient.ZCard(ctx, config.Cache.LeaderboardKey).Result()
		require.NoError(t, err)
		assert.EqualValues(t, 5, card)

		ttl, err := env.RedisClient.TTL(ctx, config.Cache.LeaderboardKey).Result()
		require.NoError(t, err)
		assert.Greater(t, ttl, time.Duration(0))

		// 暖路徑回傳同樣的識別碼序列
		warm, source, err := mc.TopN(ctx, 5)
		require.NoError(t, err)
		assert.Equal(t, internal.SourceZSetHit, source)
		assert.Equal(t, recordIDs(movies), recordIDs(warm))
	})

	t.Run("denormalized hash strategy", func(t *testing.T) {
		movies, source, err := mc.TopNOptimized(ctx, 4)
		require.NoError(t, err)
		assert.Equal(t, internal.SourceStoreSeeded, source)
		require.Len(t, movies, 4)

		// 播種多出 SeedMargin 筆雜湊作餘量
		card, err := env.RedisClient.ZCard(ctx, config.Cache.LeaderboardOptimizedKey).Result()
		require.NoError(t, err)
		assert.EqualValues(t, len(ratings), card) // 4+5 超過總數，全部入榜

		hash, err := env.RedisClient.HGetAll(ctx,
			config.Cache.HashKeyPrefix+movies[0].ID()).Result()
		require.NoError(t, err)
		assert.Equal(t, "Movie", hash["title"])
		assert.Equal(t, "9.2", hash["rating"])

		// 暖路徑：pipeline 取回，分數降冪
		warm, source, err := mc.TopNOptimized(ctx, 4)
		require.NoError(t, err)
		assert.Equal(t, internal.SourceZSetHit, source)
		require.Len(t, warm, 4)
		assert.InDelta(t, 9.2, warm[0]["rating"].(float64), 0.001)
		assert.InDelta(t, 8.0, warm[3]["rating"].(float64), 0.001)
	})
}
