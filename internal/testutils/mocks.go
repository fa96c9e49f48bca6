// Package testutils 提供測試用的共用工具和輔助函數
package testutils

import (
	"context"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/koopa0/movie-cache/internal"
	apperrors "github.com/koopa0/movie-cache/pkg/errors"
)

// MockStore 實作 internal.Store 介面的 mock
type MockStore struct {
	mu     sync.RWMutex
	movies map[string]internal.Record
	order  []string // 插入順序，作為排名查詢的自然順序

	// 記錄呼叫次數
	FindCalls   atomic.Int32
	RankedCalls atomic.Int32
	UpdateCalls atomic.Int32
	InsertCalls atomic.Int32
	DeleteCalls atomic.Int32

	// 錯誤注入
	ShouldFailNext bool
	FailAll        bool
	FailError      error
}

// NewMockStore 創建新的 MockStore
func NewMockStore() *MockStore {
	return &MockStore{
		movies: make(map[string]internal.Record),
	}
}

// failure 檢查錯誤注入狀態
func (m *MockStore) failure() error {
	if m.FailAll {
		return m.failError()
	}
	if m.ShouldFailNext {
		m.ShouldFailNext = false
		return m.failError()
	}
	return nil
}

func (m *MockStore) failError() error {
	if m.FailError != nil {
		return m.FailError
	}
	return apperrors.ErrStoreUnavailable
}

// FindByID 實作 Store 的 FindByID 方法
func (m *MockStore) FindByID(ctx context.Context, id bson.ObjectID) (internal.Record, error) {
	m.FindCalls.Add(1)

	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.failure(); err != nil {
		return nil, err
	}

	rec, exists := m.movies[id.Hex()]
	if !exists {
		return nil, apperrors.ErrMovieNotFound
	}

	return copyRecord(rec), nil
}

// FindRanked 實作 Store 的 FindRanked 方法
//
// 只納入有有效排行分數的記錄；分數相同時保持插入順序（穩定排序）。
func (m *MockStore) FindRanked(ctx context.Context, rankField string, limit int64, projection ...string) ([]internal.Record, error) {
	m.RankedCalls.Add(1)

	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.failure(); err != nil {
		return nil, err
	}

	type scored struct {
		rec   internal.Record
		score float64
	}

	var ranked []scored
	for _, id := range m.order {
		rec := m.movies[id]
		if score, ok := rec.RankScore(rankField); ok {
			ranked = append(ranked, scored{rec: rec, score: score})
		}
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].score > ranked[j].score
	})

	if int64(len(ranked)) > limit {
		ranked = ranked[:limit]
	}

	results := make([]internal.Record, 0, len(ranked))
	for _, s := range ranked {
		results = append(results, projectRecord(s.rec, projection))
	}

	return results, nil
}

// UpdateByID 實作 Store 的 UpdateByID 方法，支援點分隔巢狀路徑
func (m *MockStore) UpdateByID(ctx context.Context, id bson.ObjectID, patch map[string]any) (int64, error) {
	m.UpdateCalls.Add(1)

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.failure(); err != nil {
		return 0, err
	}

	rec, exists := m.movies[id.Hex()]
	if !exists {
		return 0, nil
	}

	for path, value := range patch {
		setField(rec, path, value)
	}

	return 1, nil
}

// Insert 實作 Store 的 Insert 方法
func (m *MockStore) Insert(ctx context.Context, data map[string]any) (bson.ObjectID, error) {
	m.InsertCalls.Add(1)

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.failure(); err != nil {
		return bson.ObjectID{}, err
	}

	oid := bson.NewObjectID()
	rec := copyRecord(internal.Record(data))
	rec["_id"] = oid

	m.movies[oid.Hex()] = rec
	m.order = append(m.order, oid.Hex())

	return oid, nil
}

// DeleteByID 實作 Store 的 DeleteByID 方法
func (m *MockStore) DeleteByID(ctx context.Context, id bson.ObjectID) (int64, error) {
	m.DeleteCalls.Add(1)

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.failure(); err != nil {
		return 0, err
	}

	hex := id.Hex()
	if _, exists := m.movies[hex]; !exists {
		return 0, nil
	}

	delete(m.movies, hex)
	for i, o := range m.order {
		if o == hex {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}

	return 1, nil
}

// GetMovie 直接讀取記錄（測試用，繞過錯誤注入）
func (m *MockStore) GetMovie(hexID string) (internal.Record, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, exists := m.movies[hexID]
	if !exists {
		return nil, false
	}
	return copyRecord(rec), true
}

// setField 依點分隔路徑寫入巢狀欄位
func setField(rec internal.Record, path string, value any) {
	parts := strings.Split(path, ".")
	current := map[string]any(rec)

	for _, part := range parts[:len(parts)-1] {
		next, ok := current[part].(map[string]any)
		if !ok {
			if bm, isBM := current[part].(bson.M); isBM {
				next = map[string]any(bm)
			} else {
				next = make(map[string]any)
			}
			current[part] = next
		}
		current = next
	}

	current[parts[len(parts)-1]] = value
}

// projectRecord 模擬儲存層的欄位投影
func projectRecord(rec internal.Record, projection []string) internal.Record {
	if len(projection) == 0 {
		return copyRecord(rec)
	}

	out := internal.Record{"_id": rec["_id"]}
	for _, field := range projection {
		// 巢狀投影直接帶整個頂層子文件，測試夠用
		root := strings.SplitN(field, ".", 2)[0]
		if v, exists := rec[root]; exists {
			out[root] = v
		}
	}

	return out
}

// copyRecord 淺層欄位複製，避免測試共享底層 map
func copyRecord(rec internal.Record) internal.Record {
	out := make(internal.Record, len(rec))
	for k, v := range rec {
		out[k] = v
	}
	return out
}

// MockCache 實作 internal.Cache 介面的 mock
//
// 用假時鐘模擬 TTL：測試呼叫 Advance 推進時間，
// 過期的鍵在之後的讀取中一律視為不存在。
type MockCache struct {
	mu  sync.Mutex
	now time.Time

	strings map[string]stringEntry
	zsets   map[string]zsetEntry
	hashes  map[string]hashEntry

	// 記錄呼叫次數
	GetCalls    atomic.Int32
	SetCalls    atomic.Int32
	DeleteCalls atomic.Int32
	ZRangeCalls atomic.Int32
	ZAddCalls   atomic.Int32
	HSetCalls   atomic.Int32
	BatchCalls  atomic.Int32

	// LastBatchKeys 最近一次 pipeline 批次的鍵列表（驗證單次往返）
	LastBatchKeys []string

	// FailAll 模擬 Redis 完全不可用
	FailAll bool
}

type stringEntry struct {
	data      []byte
	expiresAt time.Time
}

type zsetEntry struct {
	members   map[string]float64
	expiresAt time.Time
}

type hashEntry struct {
	fields    map[string]string
	expiresAt time.Time
}

// NewMockCache 創建新的 MockCache
func NewMockCache() *MockCache {
	return &MockCache{
		now:     time.Now(),
		strings: make(map[string]stringEntry),
		zsets:   make(map[string]zsetEntry),
		hashes:  make(map[string]hashEntry),
	}
}

// Advance 推進假時鐘
func (m *MockCache) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}

// expired 檢查是否已過期
func (m *MockCache) expired(expiresAt time.Time) bool {
	return !expiresAt.IsZero() && !m.now.Before(expiresAt)
}

// Get 實作 Cache 的 Get 方法
func (m *MockCache) Get(ctx context.Context, key string) ([]byte, bool) {
	m.GetCalls.Add(1)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailAll {
		return nil, false
	}

	entry, exists := m.strings[key]
	if !exists || m.expired(entry.expiresAt) {
		return nil, false
	}

	return entry.data, true
}

// SetWithTTL 實作 Cache 的 SetWithTTL 方法
func (m *MockCache) SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) bool {
	m.SetCalls.Add(1)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailAll {
		return false
	}

	m.strings[key] = stringEntry{data: value, expiresAt: m.now.Add(ttl)}
	return true
}

// Delete 實作 Cache 的 Delete 方法
func (m *MockCache) Delete(ctx context.Context, key string) bool {
	m.DeleteCalls.Add(1)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailAll {
		return false
	}

	delete(m.strings, key)
	delete(m.hashes, key)
	return true
}

// ZRevRange 實作 Cache 的 ZRevRange 方法
//
// 分數相同時按成員字典序降冪，與 Redis ZREVRANGE 行為一致。
func (m *MockCache) ZRevRange(ctx context.Context, key string, start, stop int64) []string {
	m.ZRangeCalls.Add(1)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailAll {
		return nil
	}

	entry, exists := m.zsets[key]
	if !exists || m.expired(entry.expiresAt) {
		return nil
	}

	members := make([]string, 0, len(entry.members))
	for member := range entry.members {
		members = append(members, member)
	}

	sort.Slice(members, func(i, j int) bool {
		si, sj := entry.members[members[i]], entry.members[members[j]]
		if si != sj {
			return si > sj
		}
		return members[i] > members[j]
	})

	if start < 0 {
		start = 0
	}
	if stop >= int64(len(members)) {
		stop = int64(len(members)) - 1
	}
	if start > stop {
		return nil
	}

	return members[start : stop+1]
}

// ZAddWithTTL 實作 Cache 的 ZAddWithTTL 方法
func (m *MockCache) ZAddWithTTL(ctx context.Context, key string, members map[string]float64, ttl time.Duration) bool {
	m.ZAddCalls.Add(1)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailAll {
		return false
	}
	if len(members) == 0 {
		return true
	}

	entry, exists := m.zsets[key]
	if !exists || m.expired(entry.expiresAt) {
		entry = zsetEntry{members: make(map[string]float64)}
	}

	for member, score := range members {
		entry.members[member] = score
	}
	entry.expiresAt = m.now.Add(ttl)
	m.zsets[key] = entry

	return true
}

// HSetWithTTL 實作 Cache 的 HSetWithTTL 方法
func (m *MockCache) HSetWithTTL(ctx context.Context, key string, fields map[string]string, ttl time.Duration) bool {
	m.HSetCalls.Add(1)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailAll {
		return false
	}

	copied := make(map[string]string, len(fields))
	for k, v := range fields {
		copied[k] = v
	}

	m.hashes[key] = hashEntry{fields: copied, expiresAt: m.now.Add(ttl)}
	return true
}

// HGetAll 實作 Cache 的 HGetAll 方法
func (m *MockCache) HGetAll(ctx context.Context, key string) (map[string]string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailAll {
		return nil, false
	}

	entry, exists := m.hashes[key]
	if !exists || m.expired(entry.expiresAt) {
		return map[string]string{}, true
	}

	return entry.fields, true
}

// HGetAllBatch 實作 Cache 的 HGetAllBatch 方法
//
// 整個批次只累計一次 BatchCalls，測試據此驗證
// 排行榜讀取確實只用了一次網路往返。
func (m *MockCache) HGetAllBatch(ctx context.Context, keys []string) []map[string]string {
	m.BatchCalls.Add(1)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.LastBatchKeys = append([]string(nil), keys...)

	results := make([]map[string]string, len(keys))
	if m.FailAll {
		return results
	}

	for i, key := range keys {
		entry, exists := m.hashes[key]
		if !exists || m.expired(entry.expiresAt) {
			continue
		}
		results[i] = entry.fields
	}

	return results
}

// ExpireKey 直接讓單一鍵過期（測試用）
func (m *MockCache) ExpireKey(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	past := m.now.Add(-time.Second)
	if entry, exists := m.strings[key]; exists {
		entry.expiresAt = past
		m.strings[key] = entry
	}
	if entry, exists := m.zsets[key]; exists {
		entry.expiresAt = past
		m.zsets[key] = entry
	}
	if entry, exists := m.hashes[key]; exists {
		entry.expiresAt = past
		m.hashes[key] = entry
	}
}

// HasKey 檢查字串鍵是否存在且未過期（測試用）
func (m *MockCache) HasKey(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.strings[key]
	return exists && !m.expired(entry.expiresAt)
}
