// Package monitor は在庫確認のポーリングループを提供する。
// 外部ソースの照会、観測の記録、変化検知、通知の発火までを1サイクルとして回す。
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fruitcc/pickupwatch/internal/gate"
	"github.com/fruitcc/pickupwatch/internal/metrics"
	"github.com/fruitcc/pickupwatch/internal/model"
	"github.com/fruitcc/pickupwatch/internal/notify"
	"github.com/fruitcc/pickupwatch/internal/repository"
	"github.com/fruitcc/pickupwatch/internal/security"
	"github.com/fruitcc/pickupwatch/internal/source"
)

// AvailabilitySource は外部ソースへの在庫照会インターフェース。
type AvailabilitySource interface {
	// FetchProductInfo は商品ページから表示名とパート番号を抽出する。
	FetchProductInfo(ctx context.Context, productURL string) (*source.ProductInfo, error)
	// CheckPickup は対象店舗ごとの受け取り可否を返す。
	CheckPickup(ctx context.Context, parts []string, targetStores []string) (map[string]model.Reading, error)
	// ResetSession はHTTPセッションを作り直す。連続失敗時の回復アクション。
	ResetSession()
}

// watchTarget は監視対象の商品1件分の解決済み情報。
type watchTarget struct {
	product *model.Product
	stores  []*model.Store
}

// Monitor は在庫確認のポーリングループ。
// 単一ゴルーチンで全商品×全店舗を順に確認する。観測の記録順序を
// 安定させるため、サイクル内の処理は並列化しない。
type Monitor struct {
	src       AvailabilitySource
	products  repository.ProductRepository
	stores    repository.StoreRepository
	history   repository.HistoryRepository
	gate      *gate.Gate
	notifier  notify.Notifier
	sanitizer security.MessageSanitizerService
	collector metrics.MetricsCollector
	logger    *slog.Logger

	productURLs          []string
	targetStores         []string
	fallbackPartNumbers  []string
	pickupLocation       string
	maxConsecutiveErrors int

	targets           []watchTarget
	consecutiveErrors int

	// now はテストで時刻を固定するために差し替え可能にする。
	now func() time.Time
}

// Deps はNewMonitorに必要な依存関係をまとめた構造体。
type Deps struct {
	Source    AvailabilitySource
	Products  repository.ProductRepository
	Stores    repository.StoreRepository
	History   repository.HistoryRepository
	Gate      *gate.Gate
	Notifier  notify.Notifier
	Sanitizer security.MessageSanitizerService
	Collector metrics.MetricsCollector
	Logger    *slog.Logger

	ProductURLs          []string
	TargetStores         []string
	FallbackPartNumbers  []string
	PickupLocation       string
	MaxConsecutiveErrors int
}

// NewMonitor はMonitorの新しいインスタンスを生成する。
func NewMonitor(deps *Deps) *Monitor {
	maxErrors := deps.MaxConsecutiveErrors
	if maxErrors <= 0 {
		maxErrors = 10
	}
	return &Monitor{
		src:                  deps.Source,
		products:             deps.Products,
		stores:               deps.Stores,
		history:              deps.History,
		gate:                 deps.Gate,
		notifier:             deps.Notifier,
		sanitizer:            deps.Sanitizer,
		collector:            deps.Collector,
		logger:               deps.Logger,
		productURLs:          deps.ProductURLs,
		targetStores:         deps.TargetStores,
		fallbackPartNumbers:  deps.FallbackPartNumbers,
		pickupLocation:       deps.PickupLocation,
		maxConsecutiveErrors: maxErrors,
		now:                  time.Now,
	}
}

// Setup は監視対象の商品と店舗を解決して永続化する。
// 商品ページから表示名とパート番号を抽出し、失敗した場合は
// フォールバックのパート番号とURLをそのまま使う。
// Startの前に1回だけ呼ぶ。
func (m *Monitor) Setup(ctx context.Context) error {
	stores := make([]*model.Store, 0, len(m.targetStores))
	for _, name := range m.targetStores {
		store, err := m.stores.Upsert(ctx, name, "", m.pickupLocation)
		if err != nil {
			return fmt.Errorf("店舗の登録に失敗しました: %w", err)
		}
		stores = append(stores, store)
	}

	for _, url := range m.productURLs {
		name := url
		parts := m.fallbackPartNumbers

		info, err := m.src.FetchProductInfo(ctx, url)
		if err != nil {
			if len(parts) == 0 {
				return fmt.Errorf("商品情報の抽出に失敗し、フォールバックのパート番号もありません: %w", err)
			}
			m.logger.Warn("商品情報の抽出に失敗したためフォールバックを使用します",
				slog.String("product_url", url),
				slog.String("error", err.Error()),
			)
		} else {
			if info.Name != "" {
				name = info.Name
			}
			if len(info.PartNumbers) > 0 {
				parts = info.PartNumbers
			}
		}

		if len(parts) == 0 {
			return fmt.Errorf("商品ページからパート番号を抽出できませんでした: %s", url)
		}

		product, err := m.products.Upsert(ctx, name, url, parts)
		if err != nil {
			return fmt.Errorf("商品の登録に失敗しました: %w", err)
		}

		m.targets = append(m.targets, watchTarget{product: product, stores: stores})

		m.logger.Info("監視対象を登録しました",
			slog.String("product_id", product.ID),
			slog.String("product_name", product.Name),
			slog.Int("part_count", len(product.PartNumbers)),
			slog.Int("store_count", len(stores)),
		)
	}

	return nil
}

// Start は指定間隔のティッカーでポーリングループを起動する。
// コンテキストがキャンセルされるまで実行を継続する。
// サイクル内の個別の失敗でループは停止しない。
func (m *Monitor) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.logger.Info("在庫監視を開始しました",
		slog.Duration("interval", interval),
		slog.Int("product_count", len(m.targets)),
		slog.Int("store_count", len(m.targetStores)),
	)

	// 起動直後に1回実行
	m.RunOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("在庫監視を停止しました")
			return
		case <-ticker.C:
			m.RunOnce(ctx)
		}
	}
}

// RunOnce は全監視対象の在庫確認を1サイクル実行する。
func (m *Monitor) RunOnce(ctx context.Context) {
	for _, target := range m.targets {
		if ctx.Err() != nil {
			return
		}
		m.checkProduct(ctx, target)
	}
}

// checkProduct は1商品分の在庫確認・記録・通知を行う。
func (m *Monitor) checkProduct(ctx context.Context, target watchTarget) {
	storeNames := make([]string, len(target.stores))
	for i, s := range target.stores {
		storeNames[i] = s.Name
	}

	start := m.now()
	readings, err := m.src.CheckPickup(ctx, target.product.PartNumbers, storeNames)
	m.collector.RecordCheckLatency(m.now().Sub(start))

	if err != nil {
		m.handleCheckFailure(ctx, target.product, err)
		return
	}

	m.consecutiveErrors = 0
	m.collector.RecordCheckSuccess()

	for _, store := range target.stores {
		reading := readings[store.Name]
		m.recordAndNotify(ctx, target.product, store, reading)
	}
}

// handleCheckFailure は確認失敗を処理する。
// 取得失敗は観測として記録しない。連続失敗が閾値に達した場合は
// セッションをリセットし、運用者に通知する。
func (m *Monitor) handleCheckFailure(ctx context.Context, product *model.Product, err error) {
	kind, _ := model.IsCheckError(err)
	if kind == "" {
		kind = model.CheckErrorTransport
	}
	m.collector.RecordCheckFailure(string(kind))

	m.consecutiveErrors++
	m.logger.Error("在庫確認に失敗しました",
		slog.String("product_id", product.ID),
		slog.String("kind", string(kind)),
		slog.Int("consecutive_errors", m.consecutiveErrors),
		slog.String("error", err.Error()),
	)

	if m.consecutiveErrors < m.maxConsecutiveErrors {
		return
	}

	m.logger.Error("連続エラーが閾値に達したためセッションをリセットします",
		slog.Int("threshold", m.maxConsecutiveErrors),
	)
	m.src.ResetSession()
	m.collector.RecordSessionReset()
	m.consecutiveErrors = 0

	msg := fmt.Sprintf("在庫確認が%d回連続で失敗しました。セッションをリセットして監視を継続します。\n直近のエラー: %v", m.maxConsecutiveErrors, err)
	if nerr := m.notifier.NotifyError(ctx, msg); nerr != nil {
		m.logger.Error("運用者への障害通知に失敗しました",
			slog.String("error", nerr.Error()),
		)
	}
}

// recordAndNotify は1店舗分の観測を記録し、通知判定と送信を行う。
func (m *Monitor) recordAndNotify(ctx context.Context, product *model.Product, store *model.Store, reading model.Reading) {
	message := m.sanitizer.Sanitize(reading.Message)
	checkedAt := m.now()

	change, err := m.history.RecordObservation(ctx, product.ID, store.ID, reading.Available, message, checkedAt)
	if err != nil {
		// 記録の失敗でサイクルは止めない。次のサイクルに委ねる。
		m.logger.Error("観測の記録に失敗しました",
			slog.String("product_id", product.ID),
			slog.String("store_id", store.ID),
			slog.String("error", err.Error()),
		)
		return
	}

	m.collector.RecordObservation(reading.Available)

	if change != nil {
		m.collector.RecordChange()
		m.logger.Info("在庫状態の変化を検知しました",
			slog.String("product_name", product.Name),
			slog.String("store_name", store.Name),
			slog.Bool("new_status", change.New),
		)
	}

	shouldNotify := m.gate.Observe(product.ID, store.ID, reading.Available, checkedAt)
	if !shouldNotify {
		// 利用可能への変化だったのに発火しなかった場合はクールダウンによる抑制
		if change != nil && change.New {
			m.collector.RecordAlertSuppressed()
			m.logger.Info("クールダウン中のため通知を抑制しました",
				slog.String("product_name", product.Name),
				slog.String("store_name", store.Name),
			)
		}
		return
	}

	if err := m.notifier.NotifyAvailable(ctx, product.Name, product.URL, store.Name, message, checkedAt); err != nil {
		m.collector.RecordAlertFailed()

		var de *model.DeliveryError
		if errors.As(err, &de) && de.Auth {
			m.logger.Error("通知の認証に失敗しました。認証情報を確認してください",
				slog.String("error", err.Error()),
			)
		} else {
			m.logger.Error("通知の送信に失敗しました。次のサイクルで再試行します",
				slog.String("product_name", product.Name),
				slog.String("store_name", store.Name),
				slog.String("error", err.Error()),
			)
		}
		// MarkSentを呼ばないことで通知待ちが維持され、次のサイクルで再試行される
		return
	}

	m.gate.MarkSent(product.ID, store.ID, checkedAt)
	m.collector.RecordAlertSent()
	m.logger.Info("在庫通知を送信しました",
		slog.String("product_name", product.Name),
		slog.String("store_name", store.Name),
	)
}
