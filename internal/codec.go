package internal

import (
	"encoding/json"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	apperrors "github.com/koopa0/movie-cache/pkg/errors"
)

// 序列化轉接層
//
// 把 BSON 專有型別正規化成純 JSON 值之後才放進 Redis：
//   - bson.ObjectID → 24 位十六進位字串
//   - bson.DateTime / time.Time → ISO-8601（UTC）
//   - 文件與陣列遞迴處理
//
// 輸出必須是確定性的：同一筆記錄永遠產生逐位元組相同的快取內容
// （encoding/json 對 map 鍵做排序，這點由標準庫保證），
// 整合測試據此直接比對快取內容。

// Canonicalize 將記錄正規化為純 JSON 值的形式
//
// 正規化是冪等的：對已正規化的記錄再呼叫一次，結果不變。
// 遇到無法辨識的值型別回傳 SERIALIZATION_ERROR，
// 常見的文件形狀一定會成功，這個錯誤只該出現在真正罕見的型別上。
func Canonicalize(rec Record) (Record, error) {
	out, err := canonicalMap(rec)
	if err != nil {
		return nil, err
	}
	return Record(out), nil
}

// canonicalMap 文件節點的正規化
//
// 巢狀文件一律回傳 map[string]any，與 JSON 解碼的形狀一致，
// 讓兩條讀取路徑（資料庫正規化、快取解碼）產出可直接深度比較的記錄。
func canonicalMap(doc map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(doc))
	for key, value := range doc {
		v, err := canonicalValue(value)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeSerialization,
				fmt.Sprintf("field %q not serializable", key))
		}
		out[key] = v
	}
	return out, nil
}

// canonicalValue 單一值的正規化
func canonicalValue(value any) (any, error) {
	switch v := value.(type) {
	case nil, string, bool, float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case bson.ObjectID:
		return v.Hex(), nil
	case bson.DateTime:
		return v.Time().UTC().Format(time.RFC3339), nil
	case time.Time:
		return v.UTC().Format(time.RFC3339), nil
	case Record:
		return canonicalMap(v)
	case map[string]any:
		return canonicalMap(v)
	case bson.M:
		return canonicalMap(v)
	case bson.D:
		// bson.D 保留欄位順序，但快取內容要求確定性，統一轉成 map
		doc := make(map[string]any, len(v))
		for _, e := range v {
			doc[e.Key] = e.Value
		}
		return canonicalMap(doc)
	case bson.A:
		return canonicalSlice(v)
	case []any:
		return canonicalSlice(v)
	default:
		return nil, fmt.Errorf("%w: %T", apperrors.ErrUnsupportedType, value)
	}
}

// canonicalSlice 陣列逐元素正規化
func canonicalSlice(items []any) ([]any, error) {
	out := make([]any, len(items))
	for i, item := range items {
		v, err := canonicalValue(item)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// EncodeRecord 正規化並編碼為快取内容
func EncodeRecord(rec Record) ([]byte, error) {
	clean, err := Canonicalize(rec)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(clean)
	if err != nil {
		// 正規化之後理論上不會發生
		return nil, apperrors.Wrap(err, apperrors.ErrCodeSerialization, "encode record")
	}

	return data, nil
}

// DecodeRecord 從快取內容還原記錄
func DecodeRecord(data []byte) (Record, error) {
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeSerialization, "decode cached record")
	}
	return rec, nil
}
