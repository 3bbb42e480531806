// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/fruitcc/pickupwatch/internal/model"
)

// ProductRepository は商品データの永続化インターフェース。
type ProductRepository interface {
	// Upsert はproduct_urlをキーに商品を登録または更新する。
	// 既知のURLの場合は商品名とパート番号を更新して既存行を返す（冪等）。
	Upsert(ctx context.Context, name, url string, partNumbers []string) (*model.Product, error)

	// FindByID は指定IDの商品を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Product, error)

	// List は全商品を作成日時の新しい順に返す。
	List(ctx context.Context) ([]*model.Product, error)
}

// StoreRepository は店舗データの永続化インターフェース。
type StoreRepository interface {
	// Upsert はstore_nameをキーに店舗を登録する。
	// 既知の店舗名の場合は既存行をそのまま返す（作成後は不変）。
	Upsert(ctx context.Context, name, code, location string) (*model.Store, error)

	// FindByID は指定IDの店舗を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Store, error)

	// List は全店舗を店舗名順に返す。
	List(ctx context.Context) ([]*model.Store, error)
}

// HistoryRepository は観測履歴と変化イベントの永続化インターフェース。
// 2つのログを排他的に所有し、他のコンポーネントは行を変更しない。
type HistoryRepository interface {
	// RecordObservation は観測を1件追記し、同一キーの直近2件を比較して
	// 在庫可否が反転していた場合のみ変化イベントを追記する。
	// 2つの書き込みは同一トランザクションで行われ、呼び出し側からは原子的に見える。
	// checkedAtがゼロ値の場合は現在時刻を使用する。
	// 戻り値は生成された変化イベント（反転がなければnil）。
	RecordObservation(ctx context.Context, productID, storeID string, available bool, message string, checkedAt time.Time) (*model.ChangeEvent, error)

	// Timeline は観測履歴を新しい順に返す。lookbackHours時間前までを対象とする。
	Timeline(ctx context.Context, filter model.HistoryFilter, lookbackHours int) ([]*model.TimelineEntry, error)

	// Changes は変化イベントを新しい順に返す。lookbackDays日前までを対象とする。
	Changes(ctx context.Context, filter model.HistoryFilter, lookbackDays int) ([]*model.ChangeEntry, error)

	// CurrentStatus は既知の全 (Product × Store) ペアについて最新の観測と
	// 最後に在庫ありだった時刻を返す。一度も観測されていないペアも行として含まれ、
	// その場合は状態フィールドがnilになる。
	CurrentStatus(ctx context.Context) ([]*model.StatusEntry, error)

	// Stats は指定キーのlookbackDays日間の統計値を返す。
	// 観測が0件の場合も在庫率0としてエラーなしで返す。
	Stats(ctx context.Context, productID, storeID string, lookbackDays int) (*model.AvailabilityStats, error)
}
