package internal

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache 低延遲鍵值快取介面
//
// 系統設計決策：
//
//	快取是可選的加速層，不是權威資料。任何 Redis 故障都在這個
//	邊界被吞掉，以「不存在」或「失敗」的結果型別呈現，
//	上層的協調邏輯因此不需要任何針對快取的錯誤處理分支——
//	拿不到就當 miss，寫不進就先欠著等 TTL 重建。
//	錯誤會記 log 並累計降級指標，但絕不往呼叫端傳。
type Cache interface {
	// Get 讀取字串鍵；不存在或後端故障都回傳 false
	Get(ctx context.Context, key string) ([]byte, bool)

	// SetWithTTL 寫入字串鍵並設定存活時間，回傳是否成功
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) bool

	// Delete 刪除鍵，對不存在的鍵冪等
	Delete(ctx context.Context, key string) bool

	// ZRevRange 讀取 sorted set 的降冪區間，故障時回傳空切片
	ZRevRange(ctx context.Context, key string, start, stop int64) []string

	// ZAddWithTTL 批次寫入 sorted set 成員並刷新整個鍵的存活時間
	ZAddWithTTL(ctx context.Context, key string, members map[string]float64, ttl time.Duration) bool

	// HSetWithTTL 寫入整個雜湊並設定存活時間
	HSetWithTTL(ctx context.Context, key string, fields map[string]string, ttl time.Duration) bool

	// HGetAll 讀取整個雜湊；鍵不存在時回傳空 map 與 true，故障回傳 false
	HGetAll(ctx context.Context, key string) (map[string]string, bool)

	// HGetAllBatch 在單一網路往返內批次讀取多個雜湊
	//
	// 回傳切片與輸入鍵列表等長且順序一致；個別鍵不存在（或讀取失敗）
	// 對應位置為 nil。這是雜湊排行榜的效能關鍵路徑，
	// 必須用 pipeline，一個 key 一個請求會毀掉它存在的意義。
	HGetAllBatch(ctx context.Context, keys []string) []map[string]string
}

// RedisCache 以 Redis 實作的快取
type RedisCache struct {
	rdb     *redis.Client
	logger  *slog.Logger
	metrics *Metrics
}

// NewRedisCache 創建 Redis 快取
func NewRedisCache(rdb *redis.Client, logger *slog.Logger, metrics *Metrics) *RedisCache {
	return &RedisCache{
		rdb:     rdb,
		logger:  logger,
		metrics: metrics,
	}
}

// degrade 統一的故障降級處理
func (c *RedisCache) degrade(op string, err error) {
	c.logger.Warn("redis unavailable, degrading to store-only path",
		"operation", op,
		"error", err)
	c.metrics.CacheDegradations.Inc()
}

// Get 讀取字串鍵
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool) {
	data, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.degrade("GET", err)
		}
		return nil, false
	}
	return data, true
}

// SetWithTTL 寫入字串鍵並設定存活時間
func (c *RedisCache) SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) bool {
	if err := c.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		c.degrade("SETEX", err)
		return false
	}
	return true
}

// Delete 刪除鍵
func (c *RedisCache) Delete(ctx context.Context, key string) bool {
	if err := c.rdb.Del(ctx, key).Err(); err != nil {
		c.degrade("DEL", err)
		return false
	}
	return true
}

// ZRevRange 讀取 sorted set 的降冪區間
func (c *RedisCache) ZRevRange(ctx context.Context, key string, start, stop int64) []string {
	members, err := c.rdb.ZRevRange(ctx, key, start, stop).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.degrade("ZREVRANGE", err)
		}
		return nil
	}
	return members
}

// ZAddWithTTL 批次寫入 sorted set 成員並刷新存活時間
func (c *RedisCache) ZAddWithTTL(ctx context.Context, key string, members map[string]float64, ttl time.Duration) bool {
	if len(members) == 0 {
		return true
	}

	zs := make([]redis.Z, 0, len(members))
	for member, score := range members {
		zs = append(zs, redis.Z{Member: member, Score: score})
	}

	pipe := c.rdb.Pipeline()
	pipe.ZAdd(ctx, key, zs...)
	pipe.Expire(ctx, key, ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		c.degrade("ZADD", err)
		return false
	}
	return true
}

// HSetWithTTL 寫入整個雜湊並設定存活時間
func (c *RedisCache) HSetWithTTL(ctx context.Context, key string, fields map[string]string, ttl time.Duration) bool {
	if len(fields) == 0 {
		return true
	}

	pipe := c.rdb.Pipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		c.degrade("HSET", err)
		return false
	}
	return true
}

// HGetAll 讀取整個雜湊
func (c *RedisCache) HGetAll(ctx context.Context, key string) (map[string]string, bool) {
	fields, err := c.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		c.degrade("HGETALL", err)
		return nil, false
	}
	return fields, true
}

// HGetAllBatch 批次讀取多個雜湊
//
// 所有 HGETALL 指令進同一個 pipeline，一次網路往返全部送出。
func (c *RedisCache) HGetAllBatch(ctx context.Context, keys []string) []map[string]string {
	results := make([]map[string]string, len(keys))
	if len(keys) == 0 {
		return results
	}

	pipe := c.rdb.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(keys))
	for i, key := range keys {
		cmds[i] = pipe.HGetAll(ctx, key)
	}

	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		c.degrade("PIPELINE HGETALL", err)
		return results
	}

	for i, cmd := range cmds {
		fields, err := cmd.Result()
		if err != nil || len(fields) == 0 {
			// 雜湊在 zset 讀取與 pipeline 取回之間過期，略過該筆
			continue
		}
		results[i] = fields
	}

	return results
}
