package model

import (
	"errors"
	"fmt"
)

// CheckErrorKind は外部ソースへの確認失敗の種別を表す。
type CheckErrorKind string

const (
	// CheckErrorTransport はネットワーク障害・タイムアウト・非2xxレスポンス。
	CheckErrorTransport CheckErrorKind = "transport"
	// CheckErrorParse はレスポンスが想定外の形だった場合。
	// 取得失敗を「在庫なし」として記録すると変化検知の履歴が壊れるため、
	// どちらの種別も観測としては記録しない。
	CheckErrorParse CheckErrorKind = "parse"
)

// CheckError は外部ソースの確認失敗を表す。
type CheckError struct {
	Kind CheckErrorKind
	Err  error
}

// Error はerrorインターフェースを実装する。
func (e *CheckError) Error() string {
	return fmt.Sprintf("在庫確認に失敗しました (%s): %v", e.Kind, e.Err)
}

// Unwrap は原因エラーを返す。
func (e *CheckError) Unwrap() error { return e.Err }

// NewTransportError はtransport種別のCheckErrorを生成する。
func NewTransportError(err error) *CheckError {
	return &CheckError{Kind: CheckErrorTransport, Err: err}
}

// NewParseError はparse種別のCheckErrorを生成する。
func NewParseError(err error) *CheckError {
	return &CheckError{Kind: CheckErrorParse, Err: err}
}

// IsCheckError はerrがCheckErrorかどうかを判定し、該当すれば種別を返す。
func IsCheckError(err error) (CheckErrorKind, bool) {
	var ce *CheckError
	if errors.As(err, &ce) {
		return ce.Kind, true
	}
	return "", false
}

// StorageError は永続化層の障害を表す。
// 呼び出し側は内部でリトライせず、ポーリングループの次サイクルに委ねる。
type StorageError struct {
	Op  string
	Err error
}

// Error はerrorインターフェースを実装する。
func (e *StorageError) Error() string {
	return fmt.Sprintf("ストレージ操作に失敗しました (%s): %v", e.Op, e.Err)
}

// Unwrap は原因エラーを返す。
func (e *StorageError) Unwrap() error { return e.Err }

// NewStorageError はStorageErrorを生成する。
func NewStorageError(op string, err error) *StorageError {
	return &StorageError{Op: op, Err: err}
}

// DeliveryError は通知送信の失敗を表す。
// 認証失敗は運用設定の問題であり一時障害ではないため、Authで区別する。
type DeliveryError struct {
	Auth bool
	Err  error
}

// Error はerrorインターフェースを実装する。
func (e *DeliveryError) Error() string {
	if e.Auth {
		return fmt.Sprintf("通知の認証に失敗しました（EMAIL_FROM/EMAIL_PASSWORDを確認してください）: %v", e.Err)
	}
	return fmt.Sprintf("通知の送信に失敗しました: %v", e.Err)
}

// Unwrap は原因エラーを返す。
func (e *DeliveryError) Unwrap() error { return e.Err }

// APIError は統一エラーフォーマットを表す。
// クエリAPIのエラーレスポンスに使用する。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: validation, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeInvalidFilter   = "INVALID_FILTER"
	ErrCodeProductNotFound = "PRODUCT_NOT_FOUND"
	ErrCodeStoreNotFound   = "STORE_NOT_FOUND"
)

// NewInvalidFilterError は無効なクエリパラメータのエラーを生成する。
func NewInvalidFilterError(param, value string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidFilter,
		Message:  fmt.Sprintf("無効なクエリパラメータです: %s=%s", param, value),
		Category: "validation",
		Action:   "パラメータの形式を確認してください。",
	}
}

// NewProductNotFoundError は商品未検出エラーを生成する。
func NewProductNotFoundError(productID string) *APIError {
	return &APIError{
		Code:     ErrCodeProductNotFound,
		Message:  fmt.Sprintf("指定された商品が見つかりません: %s", productID),
		Category: "validation",
		Action:   "商品IDを確認してください。",
	}
}

// NewStoreNotFoundError は店舗未検出エラーを生成する。
func NewStoreNotFoundError(storeID string) *APIError {
	return &APIError{
		Code:     ErrCodeStoreNotFound,
		Message:  fmt.Sprintf("指定された店舗が見つかりません: %s", storeID),
		Category: "validation",
		Action:   "店舗IDを確認してください。",
	}
}
