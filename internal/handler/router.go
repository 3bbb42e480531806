package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/fruitcc/pickupwatch/internal/metrics"
	"github.com/fruitcc/pickupwatch/internal/middleware"
	"github.com/fruitcc/pickupwatch/internal/repository"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger            *slog.Logger
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter

	Products repository.ProductRepository
	Stores   repository.StoreRepository
	History  repository.HistoryRepository

	// MetricsGatherer が設定されている場合は/metricsを公開する。
	MetricsGatherer prometheus.Gatherer
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → CORS → Logging → RateLimit
//
// /healthと/metricsはレート制限の外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))

	h := NewQueryHandler(deps.Products, deps.Stores, deps.History)

	// --- レート制限の外のルート ---
	r.Get("/health", h.Health)
	if deps.MetricsGatherer != nil {
		r.Handle("/metrics", metrics.Handler(deps.MetricsGatherer))
	}

	// --- クエリAPI（読み取り専用） ---
	r.Group(func(r chi.Router) {
		r.Use(deps.RateLimiter.Middleware())

		r.Route("/api", func(r chi.Router) {
			r.Get("/products", h.ListProducts)
			r.Get("/stores", h.ListStores)
			r.Get("/current-status", h.CurrentStatus)
			r.Get("/availability-timeline", h.Timeline)
			r.Get("/availability-changes", h.Changes)
			r.Get("/availability-stats/{productID}/{storeID}", h.Stats)
		})
	})

	return r
}
