package internal

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	apperrors "github.com/koopa0/movie-cache/pkg/errors"
	"github.com/koopa0/movie-cache/pkg/logger"
)

// ReadyCheck 就緒檢查函數，名稱對應後端元件
type ReadyCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Handler HTTP 請求處理器
type Handler struct {
	movies      *MovieCache
	logger      *slog.Logger
	metrics     *Metrics
	readyChecks []ReadyCheck
}

// NewHandler 創建 HTTP 處理器
func NewHandler(movies *MovieCache, log *slog.Logger, metrics *Metrics, readyChecks ...ReadyCheck) *Handler {
	return &Handler{
		movies:      movies,
		logger:      log,
		metrics:     metrics,
		readyChecks: readyChecks,
	}
}

// Routes 設定路由
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	// 中間件鏈：請求 ID -> 日誌 -> 恢復 -> 業務處理
	wrap := func(handler http.HandlerFunc) http.HandlerFunc {
		return h.requestID(h.loggerMiddleware(h.recoverer(handler)))
	}

	// API 路由
	mux.HandleFunc("GET /movie/{id}", wrap(h.getMovie))
	mux.HandleFunc("PUT /movie/{id}", wrap(h.updateMovie))
	mux.HandleFunc("DELETE /movie/{id}", wrap(h.deleteMovie))
	mux.HandleFunc("POST /movie", wrap(h.createMovie))
	mux.HandleFunc("GET /top-movies", wrap(h.topMovies))
	mux.HandleFunc("GET /top-movies/optimized", wrap(h.topMoviesOptimized))

	// 健康檢查與指標
	mux.HandleFunc("GET /health", wrap(h.health))
	mux.HandleFunc("GET /ready", wrap(h.ready))
	mux.Handle("GET /metrics", promhttp.Handler())

	return mux
}

// movieResponse 回應信封
//
// latency_ms 與 source 用來對照快取與資料庫路徑的延遲差異。
type movieResponse struct {
	LatencyMs float64 `json:"latency_ms"`
	Source    string  `json:"source,omitempty"`
	Data      any     `json:"data,omitempty"`
	Error     string  `json:"error,omitempty"`
}

// getMovie 讀取單筆電影
//
// ?cache=false 時繞過快取直讀資料庫，作為延遲對照組。
func (h *Handler) getMovie(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	start := time.Now()

	var (
		movie  Record
		source Source
		err    error
	)

	if r.URL.Query().Get("cache") == "false" {
		movie, source, err = h.movies.FetchNoCache(r.Context(), id)
	} else {
		movie, source, err = h.movies.Fetch(r.Context(), id)
	}

	if err != nil {
		h.respondAppError(w, r, "fetch movie failed", err)
		return
	}

	h.respondJSON(w, movieResponse{
		LatencyMs: latencyMs(start),
		Source:    string(source),
		Data:      movie,
	})
}

// updateMovie 寫穿透更新
func (h *Handler) updateMovie(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	start := time.Now()

	var patch map[string]any
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		h.respondError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if len(patch) == 0 {
		h.respondError(w, "empty update", http.StatusBadRequest)
		return
	}

	movie, source, err := h.movies.WriteThrough(r.Context(), id, patch)
	if err != nil {
		h.respondAppError(w, r, "write-through update failed", err)
		return
	}

	h.respondJSON(w, movieResponse{
		LatencyMs: latencyMs(start),
		Source:    string(source),
		Data:      movie,
	})
}

// deleteMovie 寫穿透刪除
func (h *Handler) deleteMovie(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	start := time.Now()

	source, err := h.movies.DeleteThrough(r.Context(), id)
	if err != nil {
		h.respondAppError(w, r, "write-through delete failed", err)
		return
	}

	h.respondJSON(w, movieResponse{
		LatencyMs: latencyMs(start),
		Source:    string(source),
	})
}

// createMovie 寫穿透創建
func (h *Handler) createMovie(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var data map[string]any
	if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
		h.respondError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if len(data) == 0 {
		h.respondError(w, "empty movie data", http.StatusBadRequest)
		return
	}

	movie, source, err := h.movies.CreateThrough(r.Context(), data)
	if err != nil {
		h.respondAppError(w, r, "write-through create failed", err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(movieResponse{
		LatencyMs: latencyMs(start),
		Source:    string(source),
		Data:      movie,
	}); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

// topMovies 完整記錄排行榜
func (h *Handler) topMovies(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	limit := h.parseLimit(r)
	movies, source, err := h.movies.TopN(r.Context(), limit)
	if err != nil {
		h.respondAppError(w, r, "top movies failed", err)
		return
	}

	h.respondJSON(w, movieResponse{
		LatencyMs: latencyMs(start),
		Source:    string(source),
		Data:      movies,
	})
}

// topMoviesOptimized 反正規化雜湊排行榜
func (h *Handler) topMoviesOptimized(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	limit := h.parseLimit(r)
	movies, source, err := h.movies.TopNOptimized(r.Context(), limit)
	if err != nil {
		h.respondAppError(w, r, "optimized top movies failed", err)
		return
	}

	h.respondJSON(w, movieResponse{
		LatencyMs: latencyMs(start),
		Source:    string(source),
		Data:      movies,
	})
}

// parseLimit 解析 limit 參數，缺省用配置值
func (h *Handler) parseLimit(r *http.Request) int64 {
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil && n > 0 {
			return n
		}
	}
	return h.movies.config.Cache.TopLimit
}

// health 健康檢查
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}

// ready 就緒檢查
func (h *Handler) ready(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	for _, rc := range h.readyChecks {
		if err := rc.Check(ctx); err != nil {
			h.respondError(w, rc.Name+" not ready", http.StatusServiceUnavailable)
			return
		}
	}

	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "Ready")
}

// 中間件

// requestID 為每個請求生成 ID 並放進上下文
func (h *Handler) requestID(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next(w, r.WithContext(logger.WithRequestID(r.Context(), id)))
	}
}

// loggerMiddleware 記錄請求日誌並累計 HTTP 指標
func (h *Handler) loggerMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// 包裝 ResponseWriter 以捕獲狀態碼
		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next(ww, r)

		duration := time.Since(start)
		h.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.statusCode,
			"duration", duration,
			"remote", r.RemoteAddr,
		)

		h.metrics.HTTPRequests.WithLabelValues(
			r.Method, r.URL.Path, strconv.Itoa(ww.statusCode)).Inc()
		h.metrics.HTTPDuration.WithLabelValues(
			r.Method, r.URL.Path).Observe(duration.Seconds())
	}
}

// recoverer 恢復 panic
func (h *Handler) recoverer(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				h.logger.Error("panic recovered", "error", err)
				h.respondError(w, "internal server error", http.StatusInternalServerError)
			}
		}()
		next(w, r)
	}
}

// respondAppError 把錯誤分類映射到 HTTP 狀態碼
//
// 呼叫端看到的是明確的錯誤種類，不會把「找不到」
// 和「後端掛了」混成同一種失敗。
func (h *Handler) respondAppError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	h.logger.Error(msg, "error", err)

	switch {
	case apperrors.IsInvalidInput(err):
		h.respondError(w, err.Error(), http.StatusBadRequest)
	case apperrors.IsNotFound(err):
		h.respondError(w, err.Error(), http.StatusNotFound)
	case apperrors.IsUnavailable(err):
		h.respondError(w, err.Error(), http.StatusServiceUnavailable)
	default:
		h.respondError(w, err.Error(), http.StatusInternalServerError)
	}
}

func (h *Handler) respondJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) respondError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(movieResponse{Error: message}); err != nil {
		h.logger.Error("failed to encode error response", "error", err, "message", message)
	}
}

// latencyMs 計算毫秒延遲
func latencyMs(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}

// responseWriter 包裝以捕獲狀態碼
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (w *responseWriter) WriteHeader(code int) {
	if !w.written {
		w.statusCode = code
		w.written = true
		w.ResponseWriter.WriteHeader(code)
	}
}
