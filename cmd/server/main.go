package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
	"gopkg.in/yaml.v3"

	"github.com/koopa0/movie-cache/internal"
	"github.com/koopa0/movie-cache/pkg/logger"
)

func main() {
	// 載入配置
	config, err := loadConfig("config.yaml")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 設定日誌
	if err := logger.Init(config.Log.Level, config.Log.Format, config.Log.Output, config.Log.AddSource); err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	log := logger.WithContext(context.Background())

	// 連接 Redis
	redisClient := redis.NewClient(&redis.Options{
		Addr:         config.Redis.Addr,
		Password:     config.Redis.Password,
		DB:           config.Redis.DB,
		PoolSize:     config.Redis.PoolSize,
		MinIdleConns: config.Redis.MinIdleConns,
		MaxRetries:   config.Redis.MaxRetries,
		ReadTimeout:  config.Redis.ReadTimeout,
		WriteTimeout: config.Redis.WriteTimeout,
	})
	defer redisClient.Close()

	ctx := context.Background()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		// Redis 是可選加速層，連不上只警告，服務以 store-only 模式啟動
		log.Warn("redis unreachable at startup, running store-only", "error", err)
	}

	// 連接 MongoDB
	mongoClient, err := mongo.Connect(options.Client().
		ApplyURI(config.MongoURI()).
		SetConnectTimeout(config.Mongo.ConnectTimeout))
	if err != nil {
		log.Error("failed to create mongodb client", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := mongoClient.Disconnect(context.Background()); err != nil {
			log.Error("failed to disconnect mongodb", "error", err)
		}
	}()

	// MongoDB 是權威資料來源，連不上直接失敗
	pingCtx, cancel := context.WithTimeout(ctx, config.Mongo.ConnectTimeout)
	err = mongoClient.Ping(pingCtx, readpref.Primary())
	cancel()
	if err != nil {
		log.Error("failed to connect to mongodb", "error", err)
		os.Exit(1)
	}

	// 組裝核心元件
	metrics := internal.NewMetrics(prometheus.DefaultRegisterer)
	store := internal.NewMongoStore(mongoClient, config.Mongo.Database, config.Mongo.Collection)
	cache := internal.NewRedisCache(redisClient, log, metrics)
	movies := internal.NewMovieCache(store, cache, config, log, metrics)

	handler := internal.NewHandler(movies, log, metrics,
		internal.ReadyCheck{
			Name: "redis",
			Check: func(ctx context.Context) error {
				return redisClient.Ping(ctx).Err()
			},
		},
		internal.ReadyCheck{
			Name: "mongodb",
			Check: func(ctx context.Context) error {
				return mongoClient.Ping(ctx, readpref.Primary())
			},
		},
	)

	// 設定 HTTP 伺服器
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", config.Server.Port),
		Handler:      handler.Routes(),
		ReadTimeout:  config.Server.ReadTimeout,
		WriteTimeout: config.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	// 啟動伺服器
	serverErrors := make(chan error, 1)
	go func() {
		log.Info("starting server", "port", config.Server.Port)
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}

	case sig := <-shutdown:
		log.Info("shutdown signal received", "signal", sig)

		// 給予 30 秒時間完成當前請求
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			log.Error("failed to shutdown server", "error", err)
			if closeErr := srv.Close(); closeErr != nil {
				log.Error("failed to force close server", "error", closeErr)
			}
		}
	}

	log.Info("server stopped")
}

// loadConfig 載入配置檔案
func loadConfig(path string) (*internal.Config, error) {
	// #nosec G304 - path 是硬編碼的配置檔案路徑，非使用者輸入
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var config internal.Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return &config, nil
}
