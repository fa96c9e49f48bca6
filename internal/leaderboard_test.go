package internal_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koopa0/movie-cache/internal"
	"github.com/koopa0/movie-cache/internal/testutils"
)

// recordIDs 取出回應中的識別碼序列
func recordIDs(records []internal.Record) []string {
	ids := make([]string, 0, len(records))
	for _, rec := range records {
		ids = append(ids, rec.ID())
	}
	return ids
}

// TestTopN_ColdStart 排行榜冷啟動：空 zset、非空資料庫
func TestTopN_ColdStart(t *testing.T) {
	ctx := context.Background()
	ts := testutils.NewTestService(t)

	ratings := []float64{9.0, 8.8, 8.5, 8.2, 7.9, 7.5, 7.0}
	for i, rating := range ratings {
		ts.SeedMovie(t, "Movie", 2000+i, rating)
	}

	// 冷啟動從資料庫排名查詢播種
	first, source, err := ts.Movies.TopN(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, internal.SourceStoreSeeded, source)
	require.Len(t, first, 5)

	// 降冪排列
	for i := 0; i < len(first)-1; i++ {
		si, _ := first[i].RankScore("imdb.rating")
		sj, _ := first[i+1].RankScore("imdb.rating")
		assert.GreaterOrEqual(t, si, sj)
	}

	rankedCalls := ts.Store.RankedCalls.Load()

	// TTL 內的第二次呼叫命中 zset，同樣的五筆
	second, source, err := ts.Movies.TopN(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, internal.SourceZSetHit, source)
	assert.Equal(t, recordIDs(first), recordIDs(second))
	assert.Equal(t, rankedCalls, ts.Store.RankedCalls.Load())
}

// TestTopN_StoreEmpty 資料庫沒有可排名的記錄
func TestTopN_StoreEmpty(t *testing.T) {
	ts := testutils.NewTestService(t)

	movies, source, err := ts.Movies.TopN(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, internal.SourceStoreEmpty, source)
	assert.Empty(t, movies)
}

// TestTopN_SkipsDeletedMembers 已刪除的成員留在 zset 裡，讀取時靜默略過
func TestTopN_SkipsDeletedMembers(t *testing.T) {
	ctx := context.Background()
	ts := testutils.NewTestService(t)

	for i, rating := range []float64{9.0, 8.0, 7.0} {
		ts.SeedMovie(t, "Movie", 2000+i, rating)
	}

	warm, _, err := ts.Movies.TopN(ctx, 3)
	require.NoError(t, err)
	require.Len(t, warm, 3)

	// 刪除第二名：zset 成員不主動移除（容忍的過期狀態）
	victim := warm[1].ID()
	_, err = ts.Movies.DeleteThrough(ctx, victim)
	require.NoError(t, err)

	movies, source, err := ts.Movies.TopN(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, internal.SourceZSetHit, source)
	assert.Len(t, movies, 2)
	assert.NotContains(t, recordIDs(movies), victim)
}

// TestTopN_CacheOutage Redis 完全不可用時排行榜退化為資料庫查詢
func TestTopN_CacheOutage(t *testing.T) {
	ctx := context.Background()
	ts := testutils.NewTestService(t)

	for i, rating := range []float64{8.6, 8.1, 7.7} {
		ts.SeedMovie(t, "Movie", 2010+i, rating)
	}
	ts.Cache.FailAll = true

	movies, source, err := ts.Movies.TopN(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, internal.SourceStoreSeeded, source)
	assert.Len(t, movies, 3)
}

// TestTopN_TieBreak 分數相同時沿用儲存層的自然順序
//
// 次要排序未定義是接受的行為：只驗證成員集合，不驗證並列者的先後。
func TestTopN_TieBreak(t *testing.T) {
	ctx := context.Background()
	ts := testutils.NewTestService(t)

	a := ts.SeedMovie(t, "Tied A", 2001, 8.0)
	b := ts.SeedMovie(t, "Tied B", 2002, 8.0)
	top := ts.SeedMovie(t, "Leader", 2003, 9.0)

	movies, _, err := ts.Movies.TopN(ctx, 3)
	require.NoError(t, err)
	require.Len(t, movies, 3)

	assert.Equal(t, top, movies[0].ID())
	assert.ElementsMatch(t, []string{a, b}, recordIDs(movies[1:]))
}

// TestTopNOptimized_SeedAndPipeline 雜湊排行榜的播種與批次讀取
func TestTopNOptimized_SeedAndPipeline(t *testing.T) {
	ctx := context.Background()
	ts := testutils.NewTestService(t)

	ratings := []float64{9.2, 8.9, 8.4, 8.0, 7.6, 7.2, 6.8}
	for i, rating := range ratings {
		ts.SeedMovie(t, "Movie", 1990+i, rating)
	}

	// 冷啟動：播種 limit+margin 筆雜湊後重查 zset
	movies, source, err := ts.Movies.TopNOptimized(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, internal.SourceStoreSeeded, source)
	require.Len(t, movies, 5)

	// 投影只含固定欄位
	first := movies[0]
	assert.Equal(t, "Movie", first["title"])
	assert.InDelta(t, 9.2, first["rating"].(float64), 0.001)
	assert.NotContains(t, first, "released")

	// 整個讀取只允許一次 pipeline 往返
	assert.Equal(t, int32(1), ts.Cache.BatchCalls.Load())
	assert.Len(t, ts.Cache.LastBatchKeys, 5)

	// 暖路徑：不再接觸資料庫
	rankedCalls := ts.Store.RankedCalls.Load()
	movies, source, err = ts.Movies.TopNOptimized(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, internal.SourceZSetHit, source)
	assert.Len(t, movies, 5)
	assert.Equal(t, rankedCalls, ts.Store.RankedCalls.Load())
	assert.Equal(t, int32(2), ts.Cache.BatchCalls.Load())
}

// TestTopNOptimized_OrderPreservation 回應嚴格保持 zset 的順序
func TestTopNOptimized_OrderPreservation(t *testing.T) {
	ctx := context.Background()
	ts := testutils.NewTestService(t)
	ttl := ts.Config.Cache.TTL

	// 手工排出 zset 順序 [id3, id1, id2]
	id1 := "65f000000000000000000001"
	id2 := "65f000000000000000000002"
	id3 := "65f000000000000000000003"

	ts.Cache.ZAddWithTTL(ctx, ts.Config.Cache.LeaderboardOptimizedKey, map[string]float64{
		id3: 9.0,
		id1: 8.0,
		id2: 7.0,
	}, ttl)

	for id, title := range map[string]string{id1: "First", id2: "Second", id3: "Third"} {
		ts.Cache.HSetWithTTL(ctx, "movie:hash:"+id, map[string]string{
			"title":  title,
			"rating": "8",
		}, ttl)
	}

	movies, source, err := ts.Movies.TopNOptimized(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, internal.SourceZSetHit, source)
	assert.Equal(t, []string{id3, id1, id2}, recordIDs(movies))
}

// TestTopNOptimized_SkipsExpiredHash 雜湊先於 zset 過期時該筆被靜默略過
func TestTopNOptimized_SkipsExpiredHash(t *testing.T) {
	ctx := context.Background()
	ts := testutils.NewTestService(t)

	for i, rating := range []float64{9.0, 8.0, 7.0} {
		ts.SeedMovie(t, "Movie", 2020+i, rating)
	}

	warm, _, err := ts.Movies.TopNOptimized(ctx, 3)
	require.NoError(t, err)
	require.Len(t, warm, 3)

	// 讓第二名的雜湊單獨過期，zset 成員仍在
	victim := warm[1].ID()
	ts.Cache.ExpireKey("movie:hash:" + victim)

	movies, source, err := ts.Movies.TopNOptimized(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, internal.SourceZSetHit, source)
	assert.Len(t, movies, 2)
	assert.NotContains(t, recordIDs(movies), victim)
}

// TestTopNOptimized_StoreEmpty 資料庫為空時明確回報
func TestTopNOptimized_StoreEmpty(t *testing.T) {
	ts := testutils.NewTestService(t)

	movies, source, err := ts.Movies.TopNOptimized(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, internal.SourceStoreEmpty, source)
	assert.Empty(t, movies)
}

// TestTopNOptimized_CacheOutage Redis 完全不可用時用種子投影直接回應
func TestTopNOptimized_CacheOutage(t *testing.T) {
	ctx := context.Background()
	ts := testutils.NewTestService(t)

	ratings := []float64{9.1, 8.7, 8.3, 7.9, 7.4, 7.1, 6.9}
	for i, rating := range ratings {
		ts.SeedMovie(t, "Movie", 1980+i, rating)
	}
	ts.Cache.FailAll = true

	movies, source, err := ts.Movies.TopNOptimized(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, internal.SourceStoreSeeded, source)
	assert.Len(t, movies, 5)
	assert.InDelta(t, 9.1, movies[0]["rating"].(float64), 0.001)
}

// TestLeaderboards_DivergeAfterWriteThrough 兩個排行榜鍵從不對帳
//
// 寫穿透只更新單筆快取，兩個 zset 保持舊分數直到各自 TTL 到期，
// 期間彼此（與資料庫）的順序可能分歧。這是設計內的行為。
func TestLeaderboards_DivergeAfterWriteThrough(t *testing.T) {
	ctx := context.Background()
	ts := testutils.NewTestService(t)

	low := ts.SeedMovie(t, "Sleeper Hit", 2000, 6.0)
	ts.SeedMovie(t, "Second", 2001, 8.0)
	ts.SeedMovie(t, "First", 2002, 9.0)

	// 暖起兩個排行榜
	warmA, _, err := ts.Movies.TopN(ctx, 3)
	require.NoError(t, err)
	warmB, _, err := ts.Movies.TopNOptimized(ctx, 3)
	require.NoError(t, err)
	require.Equal(t, low, warmA[2].ID())
	require.Equal(t, low, warmB[2].ID())

	// 寫穿透把墊底的分數拉到最高，但不碰任何排行榜
	_, _, err = ts.Movies.WriteThrough(ctx, low, map[string]any{"imdb.rating": 9.9})
	require.NoError(t, err)

	// TTL 內兩個排行榜都維持舊順序
	staleA, sourceA, err := ts.Movies.TopN(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, internal.SourceZSetHit, sourceA)
	assert.Equal(t, low, staleA[2].ID())

	staleB, sourceB, err := ts.Movies.TopNOptimized(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, internal.SourceZSetHit, sourceB)
	assert.Equal(t, low, staleB[2].ID())

	// TTL 到期後重播種，新分數浮上來
	ts.Cache.Advance(ts.Config.Cache.TTL + time.Second)

	freshA, sourceA, err := ts.Movies.TopN(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, internal.SourceStoreSeeded, sourceA)
	assert.Equal(t, low, freshA[0].ID())
}
