package internal

import (
	"context"
	"strconv"

	apperrors "github.com/koopa0/movie-cache/pkg/errors"
)

// 排行榜協調邏輯
//
// 兩種策略、兩個互相獨立的 sorted set 鍵：
//
//	策略 A（TopN）：zset 只存成員與分數，每個成員再經過單筆
//	Read-Through 解析出完整記錄。
//	策略 B（TopNOptimized）：zset 搭配每筆一個反正規化雜湊，
//	全部雜湊用一次 pipeline 往返取回，不解析完整記錄。
//
// 兩個鍵從不對帳：只經過 WriteThrough 的更新不會反映到任一
// 排行榜，兩邊的成員與順序可能分歧，直到各自的 TTL 到期重建。
//
// 新鮮度模型：協調器只觀察得到「空」（觸發重播種）與「非空」
// （信任現有資料，即使資料庫在這期間更新過——TTL 上界的最終
// 一致性）。WARM 到過期之間沒有可觀察的狀態轉換。

// TopN 完整記錄排行榜（策略 A）
//
// zset 命中時逐成員走 Read-Through 解析，個別成員的快取故障
// 只影響該成員的解析路徑；已刪除的成員解析不到，靜默略過。
// zset 為空（冷啟動或已過期）時退回資料庫的排名查詢，
// 邊回應邊收集分數，最後一次批量寫回 zset 並設定 TTL。
func (mc *MovieCache) TopN(ctx context.Context, limit int64) ([]Record, Source, error) {
	key := mc.config.Cache.LeaderboardKey

	// 1. 查詢 sorted set
	ids := mc.cache.ZRevRange(ctx, key, 0, limit-1)
	if len(ids) > 0 {
		mc.metrics.CacheHits.WithLabelValues(cachePathZSet).Inc()

		movies := make([]Record, 0, len(ids))
		for _, id := range ids {
			rec, _, err := mc.Fetch(ctx, id)
			if err != nil {
				if isSkippable(err) {
					// 記錄已刪除但排行榜成員還在，容忍的過期狀態
					mc.logger.Debug("leaderboard member no longer resolvable, skipping",
						"movie_id", id)
					continue
				}
				return nil, SourceZSetHit, err
			}
			movies = append(movies, rec)
		}
		return movies, SourceZSetHit, nil
	}

	mc.metrics.CacheMisses.WithLabelValues(cachePathZSet).Inc()

	// 2. 冷啟動：資料庫排名查詢，只投影識別碼與分數
	rankField := mc.config.Cache.RankField
	records, err := mc.store.FindRanked(ctx, rankField, limit, "_id", rankField)
	if err != nil {
		return nil, SourceStoreEmpty, err
	}
	if len(records) == 0 {
		return nil, SourceStoreEmpty, nil
	}

	mc.metrics.LeaderboardSeeds.WithLabelValues("full").Inc()

	scores := make(map[string]float64, len(records))
	movies := make([]Record, 0, len(records))

	for _, rec := range records {
		id := rec.ID()
		if id == "" {
			continue
		}

		if score, ok := rec.RankScore(rankField); ok {
			scores[id] = score
		}

		// 逐筆 Read-Through，順便把完整記錄回填進單筆快取
		full, _, err := mc.Fetch(ctx, id)
		if err != nil {
			if isSkippable(err) {
				continue
			}
			return nil, SourceStoreSeeded, err
		}
		movies = append(movies, full)
	}

	// 3. 批量寫回 sorted set（投機性，失敗下次再播種）
	mc.cache.ZAddWithTTL(ctx, key, scores, mc.config.Cache.TTL)

	return movies, SourceStoreSeeded, nil
}

// TopNOptimized 反正規化雜湊排行榜（策略 B）
//
// 讀取路徑只碰 Redis：zset 給順序，pipeline 一次取回所有雜湊。
// 回應嚴格保持 zset 的順序；雜湊在 zset 讀取與 pipeline 取回
// 之間過期的成員被靜默略過，不會讓整個呼叫失敗。
func (mc *MovieCache) TopNOptimized(ctx context.Context, limit int64) ([]Record, Source, error) {
	key := mc.config.Cache.LeaderboardOptimizedKey
	source := SourceZSetHit

	// 1. 查詢獨立的 sorted set
	ids := mc.cache.ZRevRange(ctx, key, 0, limit-1)
	if len(ids) == 0 {
		mc.metrics.CacheMisses.WithLabelValues(cachePathHash).Inc()

		// 2. 播種：資料庫排名聚合 + 寫入雜湊投影 + 批量寫回 zset
		seeded, err := mc.seedOptimized(ctx, limit)
		if err != nil {
			return nil, SourceStoreEmpty, err
		}
		if len(seeded) == 0 {
			return nil, SourceStoreEmpty, nil
		}

		source = SourceStoreSeeded

		// 播種後重新查詢
		ids = mc.cache.ZRevRange(ctx, key, 0, limit-1)
		if len(ids) == 0 {
			// Redis 完全不可用：直接用種子資料回應（store-only 降級）
			if int64(len(seeded)) > limit {
				seeded = seeded[:limit]
			}
			return seeded, SourceStoreSeeded, nil
		}
	} else {
		mc.metrics.CacheHits.WithLabelValues(cachePathHash).Inc()
	}

	// 3. 單次 pipeline 往返取回全部雜湊
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = mc.movieHashKey(id)
	}

	hashes := mc.cache.HGetAllBatch(ctx, keys)

	movies := make([]Record, 0, len(ids))
	for i, fields := range hashes {
		if len(fields) == 0 {
			continue
		}
		movies = append(movies, hashToRecord(ids[i], fields))
	}

	return movies, source, nil
}

// seedOptimized 雜湊排行榜的冷啟動播種
//
// 多查 SeedMargin 筆作餘量，讓部分雜湊提前過期後排行榜仍湊得滿。
// 回傳已投影的記錄（降冪），Redis 不可用時拿來直接回應。
func (mc *MovieCache) seedOptimized(ctx context.Context, limit int64) ([]Record, error) {
	rankField := mc.config.Cache.RankField
	fetchLimit := limit + mc.config.Cache.SeedMargin

	records, err := mc.store.FindRanked(ctx, rankField, fetchLimit,
		"_id", "title", "year", "poster", rankField)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}

	mc.metrics.LeaderboardSeeds.WithLabelValues("hash").Inc()

	ttl := mc.config.Cache.TTL
	scores := make(map[string]float64, len(records))
	seeded := make([]Record, 0, len(records))

	for _, rec := range records {
		id := rec.ID()
		if id == "" {
			continue
		}

		score, ok := rec.RankScore(rankField)
		if !ok {
			continue
		}

		fields := projectHashFields(rec, score)
		mc.cache.HSetWithTTL(ctx, mc.movieHashKey(id), fields, ttl)

		scores[id] = score
		seeded = append(seeded, hashToRecord(id, fields))
	}

	// zset 批次只 flush 一次
	mc.cache.ZAddWithTTL(ctx, mc.config.Cache.LeaderboardOptimizedKey, scores, ttl)

	return seeded, nil
}

// projectHashFields 完整記錄到反正規化雜湊的固定投影
//
// 只保留排行列表需要的欄位：標題、年份、分數、縮圖（可選）。
func projectHashFields(rec Record, score float64) map[string]string {
	fields := map[string]string{
		"rating": strconv.FormatFloat(score, 'f', -1, 64),
	}

	if title, ok := rec["title"].(string); ok {
		fields["title"] = title
	}

	if year, ok := toFloat(rec["year"]); ok {
		fields["year"] = strconv.Itoa(int(year))
	} else if year, ok := rec["year"].(string); ok {
		// sample_mflix 少數年份帶註記字元，原樣保留
		fields["year"] = year
	}

	if poster, ok := rec["poster"].(string); ok && poster != "" {
		fields["poster"] = poster
	}

	return fields
}

// hashToRecord 雜湊欄位組回排行列表的回應形狀
func hashToRecord(id string, fields map[string]string) Record {
	rec := Record{"_id": id}

	if title, ok := fields["title"]; ok {
		rec["title"] = title
	}

	if year, ok := fields["year"]; ok {
		if n, err := strconv.Atoi(year); err == nil {
			rec["year"] = float64(n)
		} else {
			rec["year"] = year
		}
	}

	if rating, ok := fields["rating"]; ok {
		if n, err := strconv.ParseFloat(rating, 64); err == nil {
			rec["rating"] = n
		}
	}

	if poster, ok := fields["poster"]; ok {
		rec["poster"] = poster
	}

	return rec
}

// isSkippable 排行榜解析時可以靜默略過的錯誤
//
// 只有「記錄不存在」與「成員格式異常」可略過；
// 資料庫故障與序列化失敗必須讓整個呼叫失敗。
func isSkippable(err error) bool {
	return apperrors.IsNotFound(err) || apperrors.IsInvalidInput(err)
}
