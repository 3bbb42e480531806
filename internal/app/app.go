// Package app はアプリケーションの起動と依存関係のワイヤリングを提供する。
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/time/rate"

	"github.com/fruitcc/pickupwatch/internal/config"
	"github.com/fruitcc/pickupwatch/internal/database"
	"github.com/fruitcc/pickupwatch/internal/gate"
	"github.com/fruitcc/pickupwatch/internal/handler"
	"github.com/fruitcc/pickupwatch/internal/logger"
	"github.com/fruitcc/pickupwatch/internal/metrics"
	"github.com/fruitcc/pickupwatch/internal/middleware"
	"github.com/fruitcc/pickupwatch/internal/monitor"
	"github.com/fruitcc/pickupwatch/internal/notify"
	"github.com/fruitcc/pickupwatch/internal/repository"
	"github.com/fruitcc/pickupwatch/internal/security"
	"github.com/fruitcc/pickupwatch/internal/source"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.Int("product_count", len(cfg.ProductURLs)),
	)

	switch cmd {
	case CommandMonitor:
		return runMonitor(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// runServe はクエリAPIサーバーモードで起動する。
// DB接続を開き、読み取り専用のクエリAPIを提供する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	// 2. リポジトリの初期化
	productRepo := repository.NewPostgresProductRepo(db)
	storeRepo := repository.NewPostgresStoreRepo(db)
	historyRepo := repository.NewPostgresHistoryRepo(db)

	// 3. レート制限の初期化（configはreq/min単位なのでreq/secに変換する）
	rateLimiterCfg := middleware.DefaultRateLimiterConfig()
	if cfg.RateLimitGeneral > 0 {
		rateLimiterCfg.Rate = rate.Limit(float64(cfg.RateLimitGeneral) / 60.0)
		rateLimiterCfg.Burst = cfg.RateLimitGeneral
	}
	rateLimiter := middleware.NewRateLimiter(rateLimiterCfg)
	defer rateLimiter.Stop()

	// 4. メトリクスレジストリの構築
	// ドメイン指標（在庫確認・通知）はmonitorモードが所有するため、
	// serveモードはプロセス・ランタイム指標のみを公開する。
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	// 5. ルーターの構築
	router := handler.NewRouter(&handler.RouterDeps{
		Logger:            slog.Default(),
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		Products:          productRepo,
		Stores:            storeRepo,
		History:           historyRepo,
		MetricsGatherer:   registry,
	})

	// 6. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runMonitor は在庫監視モードで起動する。
// ポーリングループをメインゴルーチンで実行し、/metricsと/healthを
// MetricsPortで公開する。SIGINTまたはSIGTERMシグナルを受信すると
// シャットダウンする。
func runMonitor(cfg *config.Config) error {
	// 監視対象URLはmonitorモードでのみ必須（serveとmigrateはポーリングしない）
	if len(cfg.ProductURLs) == 0 {
		return fmt.Errorf("required environment variable is not set for monitor mode: PRODUCT_URLS")
	}

	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established (monitor)")

	// 2. リポジトリの初期化
	productRepo := repository.NewPostgresProductRepo(db)
	storeRepo := repository.NewPostgresStoreRepo(db)
	historyRepo := repository.NewPostgresHistoryRepo(db)

	// 3. セキュリティサービスの初期化
	ssrfGuard := security.NewSSRFGuard()
	sanitizer := security.NewMessageSanitizer()

	// 4. 外部ソースクライアントの初期化
	client := source.NewClient(ssrfGuard, slog.Default(), cfg.FetchTimeout, cfg.PickupLocation)

	// 5. 通知の初期化
	notifier, err := notify.NewFromConfig(cfg, slog.Default())
	if err != nil {
		return fmt.Errorf("failed to configure notifier: %w", err)
	}

	// 6. メトリクスの初期化
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	// 7. 監視ループの構築
	mon := monitor.NewMonitor(&monitor.Deps{
		Source:               client,
		Products:             productRepo,
		Stores:               storeRepo,
		History:              historyRepo,
		Gate:                 gate.New(cfg.NotifyCooldown),
		Notifier:             notifier,
		Sanitizer:            sanitizer,
		Collector:            collector,
		Logger:               slog.Default(),
		ProductURLs:          cfg.ProductURLs,
		TargetStores:         cfg.TargetStores,
		FallbackPartNumbers:  cfg.FallbackPartNumbers,
		PickupLocation:       cfg.PickupLocation,
		MaxConsecutiveErrors: cfg.MaxConsecutiveErrors,
	})

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("shutting down monitor...")
		cancel()
	}()

	// 8. メトリクスサーバーをバックグラウンドで起動
	metricsServer := newMetricsServer(cfg.MetricsPort, registry)
	go func() {
		slog.Info("metrics server starting",
			slog.String("addr", metricsServer.Addr),
		)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics server listen error", slog.String("error", err.Error()))
		}
	}()
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		metricsServer.Shutdown(shutdownCtx)
	}()

	// 9. 監視対象の解決と永続化
	if err := mon.Setup(ctx); err != nil {
		return fmt.Errorf("monitor setup failed: %w", err)
	}

	// 10. ポーリングループをメインgoroutineで実行（ブロッキング）
	mon.Start(ctx, cfg.CheckInterval)

	slog.Info("monitor stopped gracefully")
	return nil
}

// newMetricsServer は/metricsと/healthを提供するHTTPサーバーを生成する。
func newMetricsServer(port string, gatherer prometheus.Gatherer) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(gatherer))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})

	return &http.Server{
		Addr:         ":" + port,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
