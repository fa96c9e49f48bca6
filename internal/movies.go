// Package internal 實現電影快取服務的核心功能
//
// 系統設計問題：
//
//	如何在文件資料庫（MongoDB）之上用鍵值快取（Redis）同時做到
//	低延遲讀取與可控的一致性？
//
// 核心挑戰：
//  1. 讀取延遲：熱門資料必須 O(1) 從快取返回
//  2. 一致性：快取內容不能領先資料庫的最後一次寫入
//  3. 部分故障：Redis 掛掉時服務必須繼續運作
//  4. 過期：快取是衍生資料，靠 TTL 自主失效，不需要顯式清理
//
// 設計方案：
//
//	✅ Read-Through：miss 時懶載入並回填快取
//	✅ Write-Through：先寫資料庫、再同步回寫快取
//	✅ 排行榜雙策略：完整記錄 zset 與反正規化雜湊 + pipeline
//	✅ 快取故障一律降級為 store-only，資料庫故障才回報錯誤
package internal

import (
	"context"
	"encoding/json"
	"log/slog"

	"go.mongodb.org/mongo-driver/v2/bson"

	apperrors "github.com/koopa0/movie-cache/pkg/errors"
)

// Source 回應的資料來源標記
type Source string

const (
	// SourceCacheHit 快取命中，未接觸資料庫
	SourceCacheHit Source = "cache-hit"

	// SourceStoreMiss 快取未命中，從資料庫讀取並回填快取
	SourceStoreMiss Source = "store-miss-then-cached"

	// SourceWriteConfirmed 寫穿透已同步完成
	SourceWriteConfirmed Source = "write-confirmed"

	// SourceZSetHit 排行榜 sorted set 命中
	SourceZSetHit Source = "zset-hit"

	// SourceStoreSeeded 排行榜冷啟動，剛從資料庫播種
	SourceStoreSeeded Source = "store-then-seeded"

	// SourceStoreEmpty 資料庫沒有可排名的記錄
	SourceStoreEmpty Source = "store-empty"

	// SourceStoreOnly 明確繞過快取的直讀（延遲對照用）
	SourceStoreOnly Source = "store-only"
)

// MovieCache 快取協調器
//
// 不持有任何跨請求的可變狀態，Redis 和 MongoDB 是僅有的共享資源，
// 依賴單一操作的原子性而非多鍵交易。已知競態：同一 ID 的併發
// 寫穿透可能交錯，最終快取內容由較晚完成資料庫寫入的一方決定；
// 夾在兩次寫入之間的併發讀取可能回填中間值。這在 TTL 上界的
// 最終一致性契約內，屬於接受的行為。
type MovieCache struct {
	store   Store
	cache   Cache
	config  *Config
	logger  *slog.Logger
	metrics *Metrics
}

// NewMovieCache 創建快取協調器
//
// Store 與 Cache 由呼叫端注入，連線生命週期由外層服務管理。
func NewMovieCache(store Store, cache Cache, config *Config, logger *slog.Logger, metrics *Metrics) *MovieCache {
	return &MovieCache{
		store:   store,
		cache:   cache,
		config:  config,
		logger:  logger,
		metrics: metrics,
	}
}

// movieKey 完整記錄的快取鍵
func (mc *MovieCache) movieKey(id string) string {
	return mc.config.Cache.RecordKeyPrefix + id
}

// movieHashKey 反正規化雜湊的快取鍵
func (mc *MovieCache) movieHashKey(id string) string {
	return mc.config.Cache.HashKeyPrefix + id
}

// parseID 驗證並解析 24 位十六進位識別碼
//
// 格式錯誤的 ID 是客戶端輸入錯誤，直接拒絕，不接觸任何後端。
func parseID(id string) (bson.ObjectID, error) {
	oid, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return bson.ObjectID{}, apperrors.ErrInvalidMovieID
	}
	return oid, nil
}

// Fetch 讀取單筆電影（Read-Through）
//
// 讀取流程：
//  1. 查詢快取，命中則直接返回，不接觸資料庫
//  2. 未命中（或快取故障、內容損毀）查詢資料庫
//  3. 查到後投機性回填快取（失敗只記 log，不影響結果）
//
// 無論命中與否，同一筆未被更新過的記錄沿兩條路徑回傳的內容
// 逐欄位相同（回填前先正規化，快取解碼後得到同樣的正規形）。
func (mc *MovieCache) Fetch(ctx context.Context, id string) (Record, Source, error) {
	oid, err := parseID(id)
	if err != nil {
		return nil, SourceStoreMiss, err
	}

	key := mc.movieKey(id)

	// 1. 查詢快取
	if data, ok := mc.cache.Get(ctx, key); ok {
		rec, err := DecodeRecord(data)
		if err == nil {
			mc.metrics.CacheHits.WithLabelValues(cachePathRecord).Inc()
			return rec, SourceCacheHit, nil
		}
		// 內容損毀視同 miss，走資料庫
		mc.logger.Warn("corrupted cache entry, falling back to store",
			"key", key, "error", err)
	}

	mc.metrics.CacheMisses.WithLabelValues(cachePathRecord).Inc()

	// 2. 快取未命中，查詢資料庫
	rec, err := mc.store.FindByID(ctx, oid)
	if err != nil {
		return nil, SourceStoreMiss, err
	}

	clean, err := Canonicalize(rec)
	if err != nil {
		// 無法序列化的記錄不能被靜默跳過
		return nil, SourceStoreMiss, err
	}

	// 3. 投機性回填快取
	if payload, err := json.Marshal(clean); err == nil {
		mc.cache.SetWithTTL(ctx, key, payload, mc.config.Cache.TTL)
	}

	return clean, SourceStoreMiss, nil
}

// FetchNoCache 繞過快取直讀資料庫
//
// 不讀也不寫任何快取鍵，用來對照快取路徑的延遲差異。
func (mc *MovieCache) FetchNoCache(ctx context.Context, id string) (Record, Source, error) {
	oid, err := parseID(id)
	if err != nil {
		return nil, SourceStoreOnly, err
	}

	rec, err := mc.store.FindByID(ctx, oid)
	if err != nil {
		return nil, SourceStoreOnly, err
	}

	clean, err := Canonicalize(rec)
	if err != nil {
		return nil, SourceStoreOnly, err
	}

	return clean, SourceStoreOnly, nil
}

// WriteThrough 更新電影（Write-Through）
//
// 寫入流程：
//  1. 先更新資料庫（happens-before 快取寫入，快取內容永遠
//     不會領先資料庫）
//  2. 重讀完整記錄
//  3. 同步回寫快取並刷新 TTL
//
// 資料庫寫入成功後，快取回寫失敗不影響操作結果（資料庫是權威），
// 但快取將保持舊值直到 TTL 到期，記入 StaleCacheWrites 指標。
func (mc *MovieCache) WriteThrough(ctx context.Context, id string, patch map[string]any) (Record, Source, error) {
	oid, err := parseID(id)
	if err != nil {
		return nil, SourceWriteConfirmed, err
	}

	// 1. 更新資料庫
	matched, err := mc.store.UpdateByID(ctx, oid, patch)
	if err != nil {
		return nil, SourceWriteConfirmed, err
	}
	if matched == 0 {
		return nil, SourceWriteConfirmed, apperrors.ErrMovieNotFound
	}

	// 2. 重讀完整記錄
	rec, err := mc.store.FindByID(ctx, oid)
	if err != nil {
		return nil, SourceWriteConfirmed, err
	}

	clean, err := Canonicalize(rec)
	if err != nil {
		return nil, SourceWriteConfirmed, err
	}

	// 3. 回寫快取
	mc.writeBack(ctx, id, clean)

	return clean, SourceWriteConfirmed, nil
}

// CreateThrough 創建電影（Write-Through）
//
// 插入資料庫取得新識別碼，重讀完整記錄後回填快取。
// 插入失敗中止整個操作；快取回寫失敗不會撤銷已創建的記錄。
func (mc *MovieCache) CreateThrough(ctx context.Context, data map[string]any) (Record, Source, error) {
	// 識別碼由資料庫分配，不接受客戶端指定
	delete(data, "_id")

	oid, err := mc.store.Insert(ctx, data)
	if err != nil {
		return nil, SourceWriteConfirmed, err
	}

	rec, err := mc.store.FindByID(ctx, oid)
	if err != nil {
		return nil, SourceWriteConfirmed, err
	}

	clean, err := Canonicalize(rec)
	if err != nil {
		return nil, SourceWriteConfirmed, err
	}

	mc.writeBack(ctx, oid.Hex(), clean)

	return clean, SourceWriteConfirmed, nil
}

// DeleteThrough 刪除電影（Write-Through）
//
// 先刪資料庫再刪快取鍵（對不存在的鍵冪等）。
// 排行榜裡的成員不主動移除：這是容忍的過期狀態，
// 後續的排行榜讀取解析不到該記錄時會靜默略過。
func (mc *MovieCache) DeleteThrough(ctx context.Context, id string) (Source, error) {
	oid, err := parseID(id)
	if err != nil {
		return SourceWriteConfirmed, err
	}

	deleted, err := mc.store.DeleteByID(ctx, oid)
	if err != nil {
		return SourceWriteConfirmed, err
	}
	if deleted == 0 {
		return SourceWriteConfirmed, apperrors.ErrMovieNotFound
	}

	mc.cache.Delete(ctx, mc.movieKey(id))
	mc.cache.Delete(ctx, mc.movieHashKey(id))

	return SourceWriteConfirmed, nil
}

// writeBack 寫入後的快取同步，失敗只記指標與 log
func (mc *MovieCache) writeBack(ctx context.Context, id string, clean Record) {
	payload, err := json.Marshal(clean)
	if err != nil {
		return
	}

	if !mc.cache.SetWithTTL(ctx, mc.movieKey(id), payload, mc.config.Cache.TTL) {
		mc.metrics.StaleCacheWrites.Inc()
		mc.logger.Warn("cache write-back failed, entry stale until ttl expiry",
			"movie_id", id)
	}
}
