// Package config はアプリケーション設定を提供する。
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Monitor
	ProductURLs          []string
	TargetStores         []string
	CheckInterval        time.Duration
	FetchTimeout         time.Duration
	MaxConsecutiveErrors int
	FallbackPartNumbers  []string
	PickupLocation       string

	// Notification
	NotifyCooldown time.Duration
	NotifyURLs     []string
	EmailFrom      string
	EmailPassword  string
	EmailTo        []string
	SMTPServer     string
	SMTPPort       int

	// Rate Limit（req/min）
	RateLimitGeneral int

	// Server
	ServerPort  string
	MetricsPort string

	// CORS
	CORSAllowedOrigin string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// 監視対象URL。serveとmigrateはポーリングしないため、
	// 必須チェックはmonitorモードの起動時に行う。
	cfg.ProductURLs = splitList(os.Getenv("PRODUCT_URLS"))

	// 対象店舗。既定は心斎橋と梅田の2店舗。
	cfg.TargetStores = splitList(getEnvString("TARGET_STORES", "心斎橋,梅田"))

	cfg.CheckInterval = getEnvDuration("CHECK_INTERVAL", 10*time.Second)
	cfg.FetchTimeout = getEnvDuration("FETCH_TIMEOUT", 15*time.Second)
	cfg.MaxConsecutiveErrors = getEnvInt("MAX_CONSECUTIVE_ERRORS", 10)
	cfg.FallbackPartNumbers = splitList(os.Getenv("FALLBACK_PART_NUMBERS"))
	cfg.PickupLocation = getEnvString("PICKUP_LOCATION", "大阪")

	cfg.NotifyCooldown = getEnvDuration("NOTIFY_COOLDOWN", 10*time.Minute)
	cfg.NotifyURLs = splitList(os.Getenv("NOTIFY_URLS"))
	cfg.EmailFrom = os.Getenv("EMAIL_FROM")
	cfg.EmailPassword = os.Getenv("EMAIL_PASSWORD")
	cfg.EmailTo = splitRecipients(os.Getenv("EMAIL_TO"))
	cfg.SMTPServer = getEnvString("SMTP_SERVER", "smtp.gmail.com")
	cfg.SMTPPort = getEnvInt("SMTP_PORT", 587)

	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)

	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.MetricsPort = getEnvString("METRICS_PORT", "9090")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	return cfg, nil
}

// splitList はカンマ区切りのリストを分割する。空要素は除外する。
func splitList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, v := range strings.Split(s, ",") {
		v = strings.TrimSpace(v)
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

// splitRecipients は通知先メールアドレスのリストを分割する。
// カンマ・セミコロン・空白のいずれも区切り文字として受け付ける。
func splitRecipients(s string) []string {
	if s == "" {
		return nil
	}
	sep := " "
	switch {
	case strings.Contains(s, ","):
		sep = ","
	case strings.Contains(s, ";"):
		sep = ";"
	}
	var out []string
	for _, v := range strings.Split(s, sep) {
		v = strings.TrimSpace(v)
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
