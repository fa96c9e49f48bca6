package internal

import (
	"strings"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// Record 無固定綱要的文件記錄
//
// 系統設計決策：
//
//	電影文件的欄位由資料決定（sample_mflix 的文件彼此形狀不同），
//	所以用開放的 map 而不是固定 struct。核心只認得兩個欄位：
//	_id（24 位十六進位識別碼）與排行分數欄位（巢狀路徑，如 imdb.rating），
//	其餘欄位原樣透傳。
type Record map[string]any

// ID 取出記錄識別碼的十六進位字串形式
//
// 從資料庫讀出的記錄 _id 是 bson.ObjectID；
// 經過正規化（或從快取解碼）的記錄 _id 已是字串。兩者都接受。
func (r Record) ID() string {
	switch v := r["_id"].(type) {
	case bson.ObjectID:
		return v.Hex()
	case string:
		return v
	default:
		return ""
	}
}

// RankScore 依點分隔路徑取出排行分數
//
// 路徑中間節點缺失、型別不是文件、或葉節點不是數值時回傳 false。
// sample_mflix 把缺失的評分存成空字串，這裡一併視為無分數。
func (r Record) RankScore(path string) (float64, bool) {
	var current any = map[string]any(r)

	parts := strings.Split(path, ".")
	for _, part := range parts {
		field, ok := lookupField(current, part)
		if !ok {
			return 0, false
		}
		current = field
	}

	return toFloat(current)
}

// lookupField 在文件節點中查找欄位，支援解碼時可能出現的各種文件型別
func lookupField(node any, key string) (any, bool) {
	switch doc := node.(type) {
	case Record:
		v, ok := doc[key]
		return v, ok
	case map[string]any:
		v, ok := doc[key]
		return v, ok
	case bson.M:
		v, ok := doc[key]
		return v, ok
	case bson.D:
		for _, e := range doc {
			if e.Key == key {
				return e.Value, true
			}
		}
		return nil, false
	default:
		return nil, false
	}
}

// toFloat 數值型別統一轉 float64
//
// BSON 解碼可能給 int32/int64/float64，JSON 解碼只給 float64。
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
