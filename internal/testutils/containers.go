package testutils

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	tc "github.com/testcontainers/testcontainers-go"
	tcmongo "github.com/testcontainers/testcontainers-go/modules/mongodb"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// TestEnvironment 封裝整合測試環境
//
// 啟動真實的 Redis 與 MongoDB 容器，測試結束時自動清理。
type TestEnvironment struct {
	RedisClient    *redis.Client
	MongoClient    *mongo.Client
	RedisContainer tc.Container
	MongoContainer tc.Container
	RedisAddr      string
	MongoURI       string
	Logger         *slog.Logger
	ctx            context.Context
}

// SetupTestEnvironment 設置完整的整合測試環境
//
// 這個函數會：
//  1. 啟動 Redis 容器
//  2. 啟動 MongoDB 容器
//  3. 建立兩邊的客戶端連線
//  4. 註冊清理函數
func SetupTestEnvironment(t testing.TB) *TestEnvironment {
	t.Helper()

	ctx := context.Background()
	env := &TestEnvironment{
		ctx: ctx,
		Logger: slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelWarn, // 測試時減少日誌噪音
		})),
	}

	env.setupRedis(t)
	env.setupMongo(t)

	t.Cleanup(func() {
		env.Cleanup()
	})

	return env
}

// setupRedis 啟動 Redis 測試容器
func (env *TestEnvironment) setupRedis(t testing.TB) {
	t.Helper()

	redisContainer, err := tcredis.Run(env.ctx, "redis:7-alpine")
	if err != nil {
		t.Fatalf("failed to start redis container: %v", err)
	}
	env.RedisContainer = redisContainer

	endpoint, err := redisContainer.Endpoint(env.ctx, "")
	if err != nil {
		t.Fatalf("failed to get redis endpoint: %v", err)
	}
	env.RedisAddr = endpoint

	env.RedisClient = redis.NewClient(&redis.Options{
		Addr:         endpoint,
		DB:           0,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 5,
	})

	if err := env.RedisClient.Ping(env.ctx).Err(); err != nil {
		t.Fatalf("failed to ping redis: %v", err)
	}
}

// setupMongo 啟動 MongoDB 測試容器
func (env *TestEnvironment) setupMongo(t testing.TB) {
	t.Helper()

	mongoContainer, err := tcmongo.Run(env.ctx, "mongo:7")
	if err != nil {
		t.Fatalf("failed to start mongodb container: %v", err)
	}
	env.MongoContainer = mongoContainer

	uri, err := mongoContainer.ConnectionString(env.ctx)
	if err != nil {
		t.Fatalf("failed to get mongodb connection string: %v", err)
	}
	env.MongoURI = uri

	client, err := mongo.Connect(options.Client().
		ApplyURI(uri).
		SetConnectTimeout(10 * time.Second))
	if err != nil {
		t.Fatalf("failed to connect to mongodb: %v", err)
	}
	env.MongoClient = client
}

// FlushRedis 清空 Redis（測試間隔離用）
func (env *TestEnvironment) FlushRedis(t testing.TB) {
	t.Helper()

	if err := env.RedisClient.FlushAll(env.ctx).Err(); err != nil {
		t.Fatalf("failed to flush redis: %v", err)
	}
}

// Cleanup 關閉連線並終止容器
func (env *TestEnvironment) Cleanup() {
	if env.RedisClient != nil {
		_ = env.RedisClient.Close()
	}
	if env.MongoClient != nil {
		_ = env.MongoClient.Disconnect(env.ctx)
	}
	if env.RedisContainer != nil {
		_ = env.RedisContainer.Terminate(env.ctx)
	}
	if env.MongoContainer != nil {
		_ = env.MongoContainer.Terminate(env.ctx)
	}
}
