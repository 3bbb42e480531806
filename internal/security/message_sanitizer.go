package security

import "github.com/microcosm-cc/bluemonday"

// MessageSanitizerService はステータスメッセージのサニタイズ機能を定義する。
// 外部ソースのレスポンスから取り出した文字列は、履歴への保存前および
// 通知メール・ダッシュボードへの出力前にここを通す。
type MessageSanitizerService interface {
	// Sanitize はステータスメッセージから全てのマークアップを除去して返す。
	// 在庫APIの文言（「利用可能」「2025/01/15以降にお渡し」等）はプレーンテキストの
	// はずであり、タグが混入していた場合は攻撃とみなして落とす。
	// 同一入力に対して常に同一出力を返す（冪等）。
	Sanitize(raw string) string
}

// messageSanitizer はMessageSanitizerServiceの実装。
// bluemondayのStrictPolicyを保持し、スレッドセーフにサニタイズ処理を行う。
type messageSanitizer struct {
	policy *bluemonday.Policy
}

// NewMessageSanitizer はMessageSanitizerServiceの新しいインスタンスを生成する。
// StrictPolicyは全てのHTML要素と属性を除去し、テキストのみを残す。
func NewMessageSanitizer() *messageSanitizer {
	return &messageSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// Sanitize はステータスメッセージから全てのマークアップを除去して返す。
func (s *messageSanitizer) Sanitize(raw string) string {
	return s.policy.Sanitize(raw)
}
