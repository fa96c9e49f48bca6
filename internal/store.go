package internal

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	apperrors "github.com/koopa0/movie-cache/pkg/errors"
)

// Store 持久化文件儲存介面
//
// 錯誤約定：找不到記錄回傳 NOT_FOUND，連線層故障回傳
// SERVICE_UNAVAILABLE，呼叫端據此區分「沒有資料」與「後端掛了」。
// 與 Cache 不同，Store 是權威資料來源，它的錯誤必須往上傳。
type Store interface {
	// FindByID 依識別碼查詢單筆記錄
	FindByID(ctx context.Context, id bson.ObjectID) (Record, error)

	// FindRanked 依排行欄位降冪查詢，可選擇只投影部分欄位
	//
	// 排行欄位為空字串的記錄會被過濾掉。
	// 分數相同時沿用儲存層的自然順序，次要排序未定義。
	FindRanked(ctx context.Context, rankField string, limit int64, projection ...string) ([]Record, error)

	// UpdateByID 對單筆記錄做部分更新（$set 語義），回傳匹配筆數
	UpdateByID(ctx context.Context, id bson.ObjectID, patch map[string]any) (int64, error)

	// Insert 插入新記錄並回傳分配的識別碼
	Insert(ctx context.Context, data map[string]any) (bson.ObjectID, error)

	// DeleteByID 刪除單筆記錄，回傳刪除筆數
	DeleteByID(ctx context.Context, id bson.ObjectID) (int64, error)
}

// MongoStore 以 MongoDB 實作的文件儲存
type MongoStore struct {
	coll *mongo.Collection
}

// NewMongoStore 創建 MongoDB 儲存
func NewMongoStore(client *mongo.Client, database, collection string) *MongoStore {
	return &MongoStore{
		coll: client.Database(database).Collection(collection),
	}
}

// FindByID 依識別碼查詢單筆記錄
func (s *MongoStore) FindByID(ctx context.Context, id bson.ObjectID) (Record, error) {
	var rec Record
	err := s.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&rec)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, apperrors.ErrMovieNotFound
		}
		return nil, apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "mongodb find failed")
	}

	return rec, nil
}

// FindRanked 依排行欄位降冪查詢
func (s *MongoStore) FindRanked(ctx context.Context, rankField string, limit int64, projection ...string) ([]Record, error) {
	// sample_mflix 把缺失的評分存成空字串，必須過濾
	filter := bson.M{rankField: bson.M{"$ne": ""}}

	opts := options.Find().
		SetSort(bson.D{{Key: rankField, Value: -1}}).
		SetLimit(limit)

	if len(projection) > 0 {
		proj := bson.D{}
		for _, field := range projection {
			proj = append(proj, bson.E{Key: field, Value: 1})
		}
		opts = opts.SetProjection(proj)
	}

	cursor, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "mongodb ranked query failed")
	}

	var records []Record
	if err := cursor.All(ctx, &records); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "mongodb cursor read failed")
	}

	return records, nil
}

// UpdateByID 對單筆記錄做部分更新
func (s *MongoStore) UpdateByID(ctx context.Context, id bson.ObjectID, patch map[string]any) (int64, error) {
	result, err := s.coll.UpdateByID(ctx, id, bson.M{"$set": patch})
	if err != nil {
		return 0, apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "mongodb update failed")
	}

	return result.MatchedCount, nil
}

// Insert 插入新記錄
func (s *MongoStore) Insert(ctx context.Context, data map[string]any) (bson.ObjectID, error) {
	result, err := s.coll.InsertOne(ctx, data)
	if err != nil {
		return bson.ObjectID{}, apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "mongodb insert failed")
	}

	oid, ok := result.InsertedID.(bson.ObjectID)
	if !ok {
		return bson.ObjectID{}, apperrors.New(apperrors.ErrCodeInternal, "unexpected inserted id type")
	}

	return oid, nil
}

// DeleteByID 刪除單筆記錄
func (s *MongoStore) DeleteByID(ctx context.Context, id bson.ObjectID) (int64, error) {
	result, err := s.coll.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return 0, apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "mongodb delete failed")
	}

	return result.DeletedCount, nil
}
