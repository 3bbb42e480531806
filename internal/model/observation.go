package model

import "time"

// Observation は1回の在庫確認の生の観測結果を表す。
// (Product, Store) のキーごとに追記専用で、作成後は更新も削除もしない。
type Observation struct {
	ID        int64
	ProductID string
	StoreID   string
	Available bool
	Message   string
	CheckedAt time.Time
}

// ChangeEvent は同一キーの連続する2つの観測の間で
// 在庫可否が反転したことを記録する派生レコード。
// キーの最初の観測には「前回」が存在しないためChangeEventは生成されない。
type ChangeEvent struct {
	ID        int64
	ProductID string
	StoreID   string
	// Previous はキーの最初の観測に対してのみnil。
	Previous  *bool
	New       bool
	Message   string
	ChangedAt time.Time
}

// Reading は外部ソースから取得した1店舗分の生の読み取り値。
// 取得自体の失敗（transport/parse）は観測として扱わず、errorで区別する。
type Reading struct {
	Available bool
	Message   string
}

// TimelineEntry は観測履歴の照会結果1行を表す。
// 商品名・店舗名をJOIN済みで返す。
type TimelineEntry struct {
	Observation
	ProductName string
	ProductURL  string
	StoreName   string
}

// ChangeEntry は変化イベントの照会結果1行を表す。
type ChangeEntry struct {
	ChangeEvent
	ProductName string
	ProductURL  string
	StoreName   string
}

// StatusEntry は全 (Product × Store) ペアの現在状態を表す。
// 一度も観測されていないペアではAvailable/Message/CheckedAtがnilになる。
type StatusEntry struct {
	ProductID       string
	ProductName     string
	StoreID         string
	StoreName       string
	Available       *bool
	Message         *string
	CheckedAt       *time.Time
	LastAvailableAt *time.Time
}

// AvailabilityStats は指定期間内のキーごとの統計値を表す。
type AvailabilityStats struct {
	TotalChecks    int
	AvailableCount int
	// AvailabilityRate は available/total を百分率にした値。
	// TotalChecksが0の場合は0（ゼロ除算は発生させない）。
	AvailabilityRate     float64
	TimesBecameAvailable int
}

// HistoryFilter は履歴照会の絞り込み条件。
// ProductID / StoreID は空文字列の場合は絞り込まない。
type HistoryFilter struct {
	ProductID string
	StoreID   string
}
