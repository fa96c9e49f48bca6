package internal

import (
	"os"
	"time"
)

// Config 整個應用的配置
type Config struct {
	Server struct {
		Port         int           `yaml:"port"`
		ReadTimeout  time.Duration `yaml:"read_timeout"`
		WriteTimeout time.Duration `yaml:"write_timeout"`
	} `yaml:"server"`

	Redis struct {
		Addr         string        `yaml:"addr"`
		Password     string        `yaml:"password"`
		DB           int           `yaml:"db"`
		PoolSize     int           `yaml:"pool_size"`
		MinIdleConns int           `yaml:"min_idle_conns"`
		MaxRetries   int           `yaml:"max_retries"`
		ReadTimeout  time.Duration `yaml:"read_timeout"`
		WriteTimeout time.Duration `yaml:"write_timeout"`
	} `yaml:"redis"`

	Mongo struct {
		URI            string        `yaml:"uri"`
		Database       string        `yaml:"database"`
		Collection     string        `yaml:"collection"`
		ConnectTimeout time.Duration `yaml:"connect_timeout"`
	} `yaml:"mongo"`

	Cache struct {
		// TTL 所有快取鍵（單筆記錄、雜湊投影、排行榜 zset）共用的存活時間
		TTL time.Duration `yaml:"ttl"`

		// RecordKeyPrefix 完整記錄快取鍵前綴，如 movie:<id>
		RecordKeyPrefix string `yaml:"record_key_prefix"`

		// HashKeyPrefix 反正規化雜湊快取鍵前綴，如 movie:hash:<id>
		HashKeyPrefix string `yaml:"hash_key_prefix"`

		// LeaderboardKey 完整記錄排行榜的 sorted set 鍵
		LeaderboardKey string `yaml:"leaderboard_key"`

		// LeaderboardOptimizedKey 雜湊排行榜的 sorted set 鍵
		// 兩個排行榜各自獨立維護，不做合併或對帳
		LeaderboardOptimizedKey string `yaml:"leaderboard_optimized_key"`

		// RankField 排行榜排序依據的欄位路徑（點分隔巢狀路徑）
		RankField string `yaml:"rank_field"`

		// TopLimit 排行榜預設回傳筆數
		TopLimit int64 `yaml:"top_limit"`

		// SeedMargin 雜湊排行榜種子查詢的額外餘量，容忍部分雜湊提前過期
		SeedMargin int64 `yaml:"seed_margin"`
	} `yaml:"cache"`

	Log struct {
		Level     string `yaml:"level"`
		Format    string `yaml:"format"`
		Output    string `yaml:"output"`
		AddSource bool   `yaml:"add_source"`
	} `yaml:"log"`
}

// MongoURI 生成 MongoDB 連線字串
func (c *Config) MongoURI() string {
	// 支援環境變數覆蓋（生產環境常用，如 Atlas 連線字串）
	if uri := os.Getenv("MONGO_URL"); uri != "" {
		return uri
	}

	return c.Mongo.URI
}
