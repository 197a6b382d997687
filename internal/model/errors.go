package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: validation, store, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeInvalidRequest   = "INVALID_REQUEST"
	ErrCodeInvalidTable     = "INVALID_TABLE"
	ErrCodeEmptyTag         = "EMPTY_TAG"
	ErrCodeStoreUnavailable = "STORE_UNAVAILABLE"
)

// NewInvalidRequestError は解釈できないリクエストのエラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("リクエストを解釈できません: %s", reason),
		Category: "validation",
		Action:   "リクエストのパスとJSONボディを確認してください。",
	}
}

// NewInvalidTableError は未対応テーブル指定のエラーを生成する。
func NewInvalidTableError(table string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidTable,
		Message:  fmt.Sprintf("対応していないテーブルです: %s", table),
		Category: "validation",
		Action:   "ダウンロードテーブルまたはお気に入りテーブルを指定してください。",
	}
}

// NewEmptyTagError はタグ未指定のエラーを生成する。
func NewEmptyTagError() *APIError {
	return &APIError{
		Code:     ErrCodeEmptyTag,
		Message:  "タグが指定されていません。",
		Category: "validation",
		Action:   "tagパラメータを指定してください。",
	}
}
