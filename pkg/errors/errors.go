// Package errors 提供應用程式錯誤處理
package errors

import (
	"errors"
	"fmt"
)

// 定義錯誤碼
const (
	// ErrCodeNotFound 資源未找到
	ErrCodeNotFound = "NOT_FOUND"
	// ErrCodeInvalidInput 無效輸入
	ErrCodeInvalidInput = "INVALID_INPUT"
	// ErrCodeInternal 內部錯誤
	ErrCodeInternal = "INTERNAL_ERROR"
	// ErrCodeUnavailable 服務不可用
	ErrCodeUnavailable = "SERVICE_UNAVAILABLE"
	// ErrCodeSerialization 序列化失敗
	ErrCodeSerialization = "SERIALIZATION_ERROR"
)

// AppError 應用程式錯誤
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
	Err     error  `json:"-"`
}

// Error 實現 error 介面
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap 實現 errors.Unwrap
func (e *AppError) Unwrap() error {
	return e.Err
}

// Is 實現 errors.Is
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// New 創建新的應用程式錯誤
func New(code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap 包裝錯誤
func Wrap(err error, code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// WithDetails 添加詳細資訊
func (e *AppError) WithDetails(details string) *AppError {
	e.Details = details
	return e
}

// 預定義錯誤
//
// 錯誤分類對應快取層的傳播策略：
//   - NOT_FOUND / INVALID_INPUT：終態，不重試
//   - SERVICE_UNAVAILABLE：資料庫是權威來源，失敗必須往上傳
//   - SERIALIZATION_ERROR：無法快取的記錄不能被靜默跳過
//
// Redis 故障不在此列：它在 Cache Client 邊界被吞掉並降級為 miss。
var (
	// ErrMovieNotFound 電影不存在
	ErrMovieNotFound = New(ErrCodeNotFound, "movie not found")

	// ErrInvalidMovieID 電影 ID 格式錯誤（必須是 24 位十六進位字串）
	ErrInvalidMovieID = New(ErrCodeInvalidInput, "invalid movie id")

	// ErrStoreUnavailable 資料庫不可用
	ErrStoreUnavailable = New(ErrCodeUnavailable, "document store unavailable")

	// ErrUnsupportedType 記錄包含無法序列化的值型別
	ErrUnsupportedType = New(ErrCodeSerialization, "unsupported value type")
)

// IsNotFound 檢查是否為未找到錯誤
func IsNotFound(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == ErrCodeNotFound
	}
	return false
}

// IsInvalidInput 檢查是否為無效輸入錯誤
func IsInvalidInput(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == ErrCodeInvalidInput
	}
	return false
}

// IsUnavailable 檢查是否為服務不可用錯誤
func IsUnavailable(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == ErrCodeUnavailable
	}
	return false
}

// IsSerialization 檢查是否為序列化錯誤
func IsSerialization(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == ErrCodeSerialization
	}
	return false
}
