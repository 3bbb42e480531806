package notify

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"strings"
	"time"

	shoutrrr "github.com/nicholas-fedor/shoutrrr"
	stypes "github.com/nicholas-fedor/shoutrrr/pkg/types"

	"github.com/fruitcc/pickupwatch/internal/model"
)

// sendTimeout は1回の通知送信に許す時間。
const sendTimeout = 30 * time.Second

// sender はshoutrrrのServiceRouterを差し替え可能にするインターフェース。
type sender interface {
	Send(message string, params *stypes.Params) []error
}

// ShoutrrrNotifier はshoutrrr経由で通知を送るNotifier。
// 複数URLへ送信し、1件でも成功すれば成功として扱う。
type ShoutrrrNotifier struct {
	sender sender
	urlLen int
	logger *slog.Logger
}

var _ Notifier = (*ShoutrrrNotifier)(nil)

// NewShoutrrrNotifier は通知先URL群からNotifierを生成する。
// URLの形式が不正な場合はエラーを返す。
func NewShoutrrrNotifier(urls []string, logger *slog.Logger) (*ShoutrrrNotifier, error) {
	sr, err := shoutrrr.CreateSender(urls...)
	if err != nil {
		return nil, fmt.Errorf("通知先URLの検証に失敗しました: %w", err)
	}
	sr.Timeout = sendTimeout
	sr.SetLogger(log.New(io.Discard, "", 0))
	return &ShoutrrrNotifier{sender: sr, urlLen: len(urls), logger: logger}, nil
}

// 内部用。routerを直接差し込むテスト向けコンストラクタ。
func newWithSender(s sender, urlLen int, logger *slog.Logger) *ShoutrrrNotifier {
	return &ShoutrrrNotifier{sender: s, urlLen: urlLen, logger: logger}
}

// NotifyAvailable はNotifierインターフェースを実装する。
func (n *ShoutrrrNotifier) NotifyAvailable(ctx context.Context, productName, productURL, storeName, message string, at time.Time) error {
	title, body := formatAvailableMessage(productName, productURL, storeName, message, at)
	return n.send(ctx, title, body)
}

// NotifyError はNotifierインターフェースを実装する。
func (n *ShoutrrrNotifier) NotifyError(ctx context.Context, message string) error {
	return n.send(ctx, "【監視エラー】在庫監視で連続エラーが発生しています", message)
}

// send は全URLへ送信し、宛先単位の成否から結果を決める。
// 1宛先でも成功すればnil。全滅した場合はDeliveryErrorを返し、
// 認証失敗が含まれていればAuth付きで区別する。
// shoutrrrのSendはcontextを受け取らないため、ゴルーチンで実行して
// ctxのキャンセルと競わせる。シャットダウン中に送信で待たされない。
func (n *ShoutrrrNotifier) send(ctx context.Context, title, body string) error {
	if err := ctx.Err(); err != nil {
		return &model.DeliveryError{Err: err}
	}

	params := stypes.Params{}
	params.SetTitle(title)

	done := make(chan []error, 1)
	go func() {
		done <- n.sender.Send(body, &params)
	}()

	var errs []error
	select {
	case <-ctx.Done():
		return &model.DeliveryError{Err: ctx.Err()}
	case errs = <-done:
	}

	failed := 0
	var firstErr error
	auth := false
	for _, err := range errs {
		if err == nil {
			continue
		}
		failed++
		if firstErr == nil {
			firstErr = err
		}
		if isAuthError(err) {
			auth = true
		}
	}

	if failed == 0 {
		return nil
	}
	if failed < n.urlLen || n.urlLen == 0 {
		// 部分的な失敗。少なくとも1宛先には届いているので成功扱い。
		n.logger.Warn("一部の通知先への送信に失敗しました",
			slog.Int("failed", failed),
			slog.Int("total", n.urlLen),
			slog.String("error", firstErr.Error()))
		return nil
	}
	return &model.DeliveryError{Auth: auth, Err: firstErr}
}

// isAuthError は送信エラーが認証失敗かどうかを推定する。
// SMTPの535応答やユーザー名・パスワード関連の文言を手がかりにする。
func isAuthError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "535") ||
		strings.Contains(msg, "auth") ||
		strings.Contains(msg, "username") ||
		strings.Contains(msg, "password")
}
