// Package notify は在庫変化の通知送信を提供する。
// shoutrrrのURL（smtp://、discord://など）を介して任意のサービスに送れる。
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/fruitcc/pickupwatch/internal/config"
)

// Notifier は在庫通知のインターフェース。
type Notifier interface {
	// NotifyAvailable は「受け取り可能になった」通知を送る。
	// 少なくとも1宛先への送信が成功すればnilを返す。
	NotifyAvailable(ctx context.Context, productName, productURL, storeName, message string, at time.Time) error
	// NotifyError は運用者向けの障害通知を送る。
	NotifyError(ctx context.Context, message string) error
}

// NewFromConfig は設定に応じたNotifierを生成する。
// NOTIFY_URLSが設定されていればそれを使い、なければEMAIL_*設定から
// SMTP URLを組み立てる。どちらも未設定の場合はログ出力のみの
// Notifierを返す（シミュレーションモード）。
func NewFromConfig(cfg *config.Config, logger *slog.Logger) (Notifier, error) {
	urls := cfg.NotifyURLs
	if len(urls) == 0 {
		urls = buildSMTPURLs(cfg)
	}
	if len(urls) == 0 {
		logger.Warn("通知先が未設定のためシミュレーションモードで動作します")
		return NewLogNotifier(logger), nil
	}
	return NewShoutrrrNotifier(urls, logger)
}

// buildSMTPURLs はEMAIL_*とSMTP_*設定からshoutrrrのsmtp URLを組み立てる。
// 宛先ごとに1 URLを生成し、宛先単位の成否を判定できるようにする。
func buildSMTPURLs(cfg *config.Config) []string {
	if cfg.EmailFrom == "" || cfg.EmailPassword == "" || len(cfg.EmailTo) == 0 {
		return nil
	}
	urls := make([]string, 0, len(cfg.EmailTo))
	for _, to := range cfg.EmailTo {
		u := fmt.Sprintf("smtp://%s:%s@%s:%d/?from=%s&to=%s&usestarttls=yes",
			url.QueryEscape(cfg.EmailFrom),
			url.QueryEscape(cfg.EmailPassword),
			cfg.SMTPServer,
			cfg.SMTPPort,
			url.QueryEscape(cfg.EmailFrom),
			url.QueryEscape(to),
		)
		urls = append(urls, u)
	}
	return urls
}

// formatAvailableMessage は在庫通知の本文を組み立てる。
func formatAvailableMessage(productName, productURL, storeName, message string, at time.Time) (title, body string) {
	title = fmt.Sprintf("【在庫速報】%s が %s で受け取り可能になりました", productName, storeName)
	body = fmt.Sprintf("%s\n\n商品: %s\n店舗: %s\n状況: %s\n確認時刻: %s\n\n%s",
		title,
		productName,
		storeName,
		message,
		at.Format("2006-01-02 15:04:05"),
		productURL,
	)
	return title, body
}
