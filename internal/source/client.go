// Package source は外部ソースへの在庫確認クライアントを提供する。
// 商品ページからの商品情報抽出と、受け取り在庫APIの照会を行う。
package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/fruitcc/pickupwatch/internal/model"
)

// defaultBaseURL は受け取り在庫APIの既定のベースURL。
const defaultBaseURL = "https://www.apple.com/jp/shop"

// maxBodySize はレスポンスボディの読み取り上限（5MB）。
const maxBodySize = 5 * 1024 * 1024

// SSRFValidator はSSRF検証のインターフェース。
type SSRFValidator interface {
	ValidateURL(rawURL string) error
	NewSafeClient(timeout time.Duration) *http.Client
}

// Client は受け取り在庫の外部ソースクライアント。
// 数秒間隔で繰り返し呼び出せる軽量なHTTP照会のみを行い、
// 取得失敗（transport/parse）と「在庫なし」を厳密に区別する。
type Client struct {
	guard    SSRFValidator
	logger   *slog.Logger
	timeout  time.Duration
	baseURL  string
	location string

	mu         sync.Mutex
	httpClient *http.Client
}

// Option はClientの生成オプション。
type Option func(*Client)

// WithBaseURL は在庫APIのベースURLを上書きする。主にテストで使用する。
func WithBaseURL(baseURL string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(baseURL, "/") }
}

// NewClient はClientの新しいインスタンスを生成する。
// locationは在庫APIに渡す地域パラメータ（例: 大阪）。
func NewClient(guard SSRFValidator, logger *slog.Logger, timeout time.Duration, location string, opts ...Option) *Client {
	c := &Client{
		guard:      guard,
		logger:     logger,
		timeout:    timeout,
		baseURL:    defaultBaseURL,
		location:   location,
		httpClient: guard.NewSafeClient(timeout),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ResetSession はHTTPクライアントを作り直す。
// 連続失敗が閾値に達した際の回復アクションとしてポーリングループから呼ばれる。
// 保持していたコネクションや内部状態を破棄して新規セッションで再開する。
func (c *Client) ResetSession() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.httpClient.CloseIdleConnections()
	c.httpClient = c.guard.NewSafeClient(c.timeout)
	c.logger.Info("外部ソースのセッションをリセットしました")
}

// client は現在のHTTPクライアントを返す。ResetSessionと競合しないよう保護する。
func (c *Client) client() *http.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.httpClient
}

// fulfillmentResponse は在庫APIレスポンスのうち参照するフィールドのみを写した型。
type fulfillmentResponse struct {
	Body struct {
		Content struct {
			PickupMessage struct {
				Stores []storePickup `json:"stores"`
			} `json:"pickupMessage"`
		} `json:"content"`
		// 一部のAPI変種はstoresをbody直下に返す。
		Stores []storePickup `json:"stores"`
	} `json:"body"`
}

// storePickup は1店舗分の受け取り可否情報。
type storePickup struct {
	StoreName         string                  `json:"storeName"`
	PartsAvailability map[string]partsMessage `json:"partsAvailability"`
}

// partsMessage はパート番号ごとの受け取り可否。
type partsMessage struct {
	PickupDisplay        string `json:"pickupDisplay"`
	PickupSearchQuote    string `json:"pickupSearchQuote"`
	StorePickupAvailable bool   `json:"storePickupAvailable"`
}

// CheckPickup は指定パート番号群の受け取り在庫を照会し、
// 対象店舗ごとのReadingを返す。
//
// transport障害（ネットワーク・タイムアウト・非200）とparse障害
// （想定外のレスポンス形状）はいずれもerrorとして返し、
// 「在庫なし」のReadingとしては決して返さない。取得失敗を観測として
// 記録すると変化検知の履歴が壊れるためである。
func (c *Client) CheckPickup(ctx context.Context, parts []string, targetStores []string) (map[string]model.Reading, error) {
	if len(parts) == 0 {
		return nil, model.NewParseError(fmt.Errorf("照会するパート番号がありません"))
	}

	endpoint, err := c.fulfillmentURL(parts)
	if err != nil {
		return nil, model.NewTransportError(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, model.NewTransportError(fmt.Errorf("リクエスト作成に失敗: %w", err))
	}
	setBrowserHeaders(req)
	req.Header.Set("Accept", "application/json, text/plain, */*")

	resp, err := c.client().Do(req)
	if err != nil {
		return nil, model.NewTransportError(fmt.Errorf("在庫APIへのリクエストに失敗: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, model.NewTransportError(fmt.Errorf("在庫APIがHTTP %dを返しました", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, model.NewTransportError(fmt.Errorf("レスポンス読み取りに失敗: %w", err))
	}

	var parsed fulfillmentResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, model.NewParseError(fmt.Errorf("在庫APIレスポンスの解析に失敗: %w", err))
	}

	stores := parsed.Body.Content.PickupMessage.Stores
	if len(stores) == 0 {
		stores = parsed.Body.Stores
	}
	if len(stores) == 0 {
		return nil, model.NewParseError(fmt.Errorf("在庫APIレスポンスに店舗情報が含まれていません"))
	}

	readings := make(map[string]model.Reading, len(targetStores))
	for _, store := range stores {
		for _, target := range targetStores {
			if !strings.Contains(store.StoreName, target) {
				continue
			}
			readings[target] = readingFromParts(store.PartsAvailability)
		}
	}

	// レスポンスに現れなかった対象店舗は「利用できません」として扱う。
	// 店舗自体が対象外になったケースで、取得失敗ではない。
	for _, target := range targetStores {
		if _, ok := readings[target]; !ok {
			readings[target] = model.Reading{
				Available: false,
				Message:   "店舗がレスポンスに含まれていません - 利用できません",
			}
		}
	}

	return readings, nil
}

// readingFromParts はパート番号ごとの可否情報を1店舗分のReadingに畳み込む。
// いずれかのパートが受け取り可能なら店舗として利用可能とみなす。
func readingFromParts(parts map[string]partsMessage) model.Reading {
	reading := model.Reading{
		Available: false,
		Message:   "利用できません",
	}
	for _, info := range parts {
		if info.PickupDisplay == "available" ||
			info.StorePickupAvailable ||
			strings.Contains(info.PickupSearchQuote, "利用可能") ||
			strings.Contains(info.PickupSearchQuote, "在庫あり") {
			reading.Available = true
			reading.Message = fmt.Sprintf("利用可能 - %s", info.PickupSearchQuote)
			return reading
		}
		if info.PickupSearchQuote != "" {
			reading.Message = info.PickupSearchQuote
		}
	}
	return reading
}

// fulfillmentURL はパート番号群からAPIのURLを組み立てる。
func (c *Client) fulfillmentURL(parts []string) (string, error) {
	endpoint := c.baseURL + "/fulfillment-messages"
	if err := c.guard.ValidateURL(endpoint); err != nil {
		return "", fmt.Errorf("SSRF検証に失敗: %w", err)
	}

	q := url.Values{}
	for i, part := range parts {
		q.Set(fmt.Sprintf("parts.%d", i), part)
	}
	if c.location != "" {
		q.Set("location", c.location)
	}
	q.Set("fae", "true")

	return endpoint + "?" + q.Encode(), nil
}

// setBrowserHeaders は外部ソースに拒否されにくい一般的なヘッダーを設定する。
func setBrowserHeaders(req *http.Request) {
	req.Header.Set("User-Agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	req.Header.Set("Accept-Language", "ja-JP,ja;q=0.9,en;q=0.8")
	req.Header.Set("Connection", "keep-alive")
}
