// Package model はドメインモデルを定義する。
package model

import "time"

// Product は監視対象の商品を表す。
// 商品URLが自然キーであり、同一URLの再登録は既存行の更新として扱う。
type Product struct {
	ID          string
	Name        string
	URL         string
	PartNumbers []string
	CreatedAt   time.Time
}

// Store は受け取り店舗を表す。
// 店舗名が自然キーであり、作成後は変更しない。
type Store struct {
	ID        string
	Name      string
	Code      string
	Location  string
	CreatedAt time.Time
}
