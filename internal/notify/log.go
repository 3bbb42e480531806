package notify

import (
	"context"
	"log/slog"
	"time"
)

// LogNotifier は実際の送信を行わず、通知内容をログに出力するNotifier。
// 通知先が未設定の環境（開発・検証）で使う。
type LogNotifier struct {
	logger *slog.Logger
}

var _ Notifier = (*LogNotifier)(nil)

// NewLogNotifier はLogNotifierを生成する。
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// NotifyAvailable は通知内容をログに出力する。常に成功する。
func (n *LogNotifier) NotifyAvailable(_ context.Context, productName, productURL, storeName, message string, at time.Time) error {
	title, _ := formatAvailableMessage(productName, productURL, storeName, message, at)
	n.logger.Info("通知シミュレーション",
		slog.String("title", title),
		slog.String("product", productName),
		slog.String("store", storeName),
		slog.String("message", message))
	return nil
}

// NotifyError は障害内容をログに出力する。常に成功する。
func (n *LogNotifier) NotifyError(_ context.Context, message string) error {
	n.logger.Error("監視エラー通知シミュレーション", slog.String("message", message))
	return nil
}
