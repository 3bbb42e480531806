package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"

	"golang.org/x/net/html"

	"github.com/fruitcc/pickupwatch/internal/model"
)

// maxPartNumbers は1商品ページから採用するパート番号の上限。
// 商品ページには関連アクセサリのパート番号も埋め込まれているため、
// 先頭から一定数のみを対象とする。
const maxPartNumbers = 15

// partNumberPattern は商品ページ内に埋め込まれたパート番号を抽出する。
var partNumberPattern = regexp.MustCompile(`"partNumber"\s*:\s*"([A-Z0-9/]+)"`)

// ProductInfo は商品ページから抽出した商品情報。
type ProductInfo struct {
	Name        string
	PartNumbers []string
}

// FetchProductInfo は商品ページを取得し、表示名とパート番号群を抽出する。
// 監視開始時に一度だけ呼ばれる。表示名はh1要素、なければog:titleから得る。
func (c *Client) FetchProductInfo(ctx context.Context, productURL string) (*ProductInfo, error) {
	if err := c.guard.ValidateURL(productURL); err != nil {
		return nil, model.NewTransportError(fmt.Errorf("SSRF検証に失敗: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, productURL, nil)
	if err != nil {
		return nil, model.NewTransportError(fmt.Errorf("リクエスト作成に失敗: %w", err))
	}
	setBrowserHeaders(req)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := c.client().Do(req)
	if err != nil {
		return nil, model.NewTransportError(fmt.Errorf("商品ページの取得に失敗: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, model.NewTransportError(fmt.Errorf("商品ページがHTTP %dを返しました", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, model.NewTransportError(fmt.Errorf("商品ページの読み取りに失敗: %w", err))
	}

	name := extractProductName(body)
	parts := extractPartNumbers(body)
	if name == "" && len(parts) == 0 {
		return nil, model.NewParseError(fmt.Errorf("商品ページから商品情報を抽出できませんでした"))
	}

	return &ProductInfo{Name: name, PartNumbers: parts}, nil
}

// extractProductName はHTMLから商品の表示名を抽出する。
// 最初のh1要素のテキストを優先し、なければog:titleメタタグを使う。
func extractProductName(body []byte) string {
	tokenizer := html.NewTokenizer(strings.NewReader(string(body)))
	inH1 := false
	var h1Text strings.Builder
	ogTitle := ""

	for {
		tt := tokenizer.Next()
		switch tt {
		case html.ErrorToken:
			if title := strings.TrimSpace(h1Text.String()); title != "" {
				return title
			}
			return ogTitle
		case html.StartTagToken:
			token := tokenizer.Token()
			if token.Data == "h1" {
				inH1 = true
			}
			if token.Data == "meta" {
				if property, content := metaAttrs(token); property == "og:title" {
					ogTitle = content
				}
			}
		case html.SelfClosingTagToken:
			token := tokenizer.Token()
			if token.Data == "meta" {
				if property, content := metaAttrs(token); property == "og:title" {
					ogTitle = content
				}
			}
		case html.TextToken:
			if inH1 {
				h1Text.WriteString(tokenizer.Token().Data)
			}
		case html.EndTagToken:
			token := tokenizer.Token()
			if token.Data == "h1" && inH1 {
				if title := strings.TrimSpace(h1Text.String()); title != "" {
					return title
				}
				inH1 = false
			}
		}
	}
}

// metaAttrs はmetaタグのproperty属性とcontent属性を返す。
func metaAttrs(token html.Token) (property, content string) {
	for _, attr := range token.Attr {
		switch attr.Key {
		case "property":
			property = attr.Val
		case "content":
			content = attr.Val
		}
	}
	return property, content
}

// extractPartNumbers はページに埋め込まれたパート番号を重複なしで抽出する。
func extractPartNumbers(body []byte) []string {
	matches := partNumberPattern.FindAllSubmatch(body, -1)
	seen := make(map[string]struct{}, len(matches))
	parts := make([]string, 0, len(matches))
	for _, m := range matches {
		part := string(m[1])
		if _, ok := seen[part]; ok {
			continue
		}
		seen[part] = struct{}{}
		parts = append(parts, part)
		if len(parts) >= maxPartNumbers {
			break
		}
	}
	return parts
}
