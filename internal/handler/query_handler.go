// Package handler は読み取り専用のクエリAPIを提供する。
// 監視の観測履歴・変化イベント・現在状態・統計を公開する。
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fruitcc/pickupwatch/internal/model"
	"github.com/fruitcc/pickupwatch/internal/repository"
)

// 照会期間のデフォルト値。
const (
	defaultTimelineHours = 24
	defaultChangeDays    = 7
	defaultStatsDays     = 7
)

// QueryHandler は監視履歴照会のHTTPハンドラー。
// 読み取り専用であり、観測データを変更するエンドポイントは持たない。
type QueryHandler struct {
	products repository.ProductRepository
	stores   repository.StoreRepository
	history  repository.HistoryRepository
}

// NewQueryHandler はQueryHandlerを生成する。
func NewQueryHandler(products repository.ProductRepository, stores repository.StoreRepository, history repository.HistoryRepository) *QueryHandler {
	return &QueryHandler{
		products: products,
		stores:   stores,
		history:  history,
	}
}

// --- レスポンス型 ---

// apiErrorResponse はエラーレスポンスの統一フォーマット。
type apiErrorResponse struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// productResponse は商品のレスポンス。
type productResponse struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	URL         string    `json:"url"`
	PartNumbers []string  `json:"part_numbers"`
	CreatedAt   time.Time `json:"created_at"`
}

// storeResponse は店舗のレスポンス。
type storeResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Code      string    `json:"code,omitempty"`
	Location  string    `json:"location,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// timelineEntryResponse は観測履歴1行のレスポンス。
type timelineEntryResponse struct {
	ProductID   string    `json:"product_id"`
	ProductName string    `json:"product_name"`
	StoreID     string    `json:"store_id"`
	StoreName   string    `json:"store_name"`
	Available   bool      `json:"available"`
	Message     string    `json:"message"`
	CheckedAt   time.Time `json:"checked_at"`
}

// changeEntryResponse は変化イベント1行のレスポンス。
type changeEntryResponse struct {
	ProductID   string    `json:"product_id"`
	ProductName string    `json:"product_name"`
	StoreID     string    `json:"store_id"`
	StoreName   string    `json:"store_name"`
	Previous    *bool     `json:"previous_status"`
	New         bool      `json:"new_status"`
	Message     string    `json:"message"`
	ChangedAt   time.Time `json:"changed_at"`
}

// statusEntryResponse は現在状態1行のレスポンス。
// 一度も観測されていないペアではavailable/message/checked_atがnullになる。
type statusEntryResponse struct {
	ProductID       string     `json:"product_id"`
	ProductName     string     `json:"product_name"`
	StoreID         string     `json:"store_id"`
	StoreName       string     `json:"store_name"`
	Available       *bool      `json:"available"`
	Message         *string    `json:"message"`
	CheckedAt       *time.Time `json:"checked_at"`
	LastAvailableAt *time.Time `json:"last_available_at"`
}

// statsResponse は統計のレスポンス。
type statsResponse struct {
	ProductID            string  `json:"product_id"`
	StoreID              string  `json:"store_id"`
	LookbackDays         int     `json:"lookback_days"`
	TotalChecks          int     `json:"total_checks"`
	AvailableCount       int     `json:"available_count"`
	AvailabilityRate     float64 `json:"availability_rate"`
	TimesBecameAvailable int     `json:"times_became_available"`
}

// Health はヘルスチェックエンドポイント。
// GET /health
func (h *QueryHandler) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// ListProducts は監視対象の商品一覧を返す。
// GET /api/products
func (h *QueryHandler) ListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.products.List(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]productResponse, 0, len(products))
	for _, p := range products {
		resp = append(resp, productResponse{
			ID:          p.ID,
			Name:        p.Name,
			URL:         p.URL,
			PartNumbers: p.PartNumbers,
			CreatedAt:   p.CreatedAt,
		})
	}

	writeJSON(w, resp)
}

// ListStores は監視対象の店舗一覧を返す。
// GET /api/stores
func (h *QueryHandler) ListStores(w http.ResponseWriter, r *http.Request) {
	stores, err := h.stores.List(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]storeResponse, 0, len(stores))
	for _, s := range stores {
		resp = append(resp, storeResponse{
			ID:        s.ID,
			Name:      s.Name,
			Code:      s.Code,
			Location:  s.Location,
			CreatedAt: s.CreatedAt,
		})
	}

	writeJSON(w, resp)
}

// Timeline は観測履歴を新しい順に返す。
// GET /api/availability-timeline?product_id=xxx&store_id=yyy&hours=24
func (h *QueryHandler) Timeline(w http.ResponseWriter, r *http.Request) {
	hours, err := positiveIntParam(r, "hours", defaultTimelineHours)
	if err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidFilterError("hours", r.URL.Query().Get("hours")))
		return
	}

	filter, apiErr := h.resolveFilter(r)
	if apiErr != nil {
		writeAPIErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	entries, err := h.history.Timeline(r.Context(), filter, hours)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]timelineEntryResponse, 0, len(entries))
	for _, e := range entries {
		resp = append(resp, timelineEntryResponse{
			ProductID:   e.ProductID,
			ProductName: e.ProductName,
			StoreID:     e.StoreID,
			StoreName:   e.StoreName,
			Available:   e.Available,
			Message:     e.Message,
			CheckedAt:   e.CheckedAt,
		})
	}

	writeJSON(w, resp)
}

// Changes は変化イベントを新しい順に返す。
// GET /api/availability-changes?product_id=xxx&store_id=yyy&days=7
func (h *QueryHandler) Changes(w http.ResponseWriter, r *http.Request) {
	days, err := positiveIntParam(r, "days", defaultChangeDays)
	if err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidFilterError("days", r.URL.Query().Get("days")))
		return
	}

	filter, apiErr := h.resolveFilter(r)
	if apiErr != nil {
		writeAPIErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	entries, err := h.history.Changes(r.Context(), filter, days)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]changeEntryResponse, 0, len(entries))
	for _, e := range entries {
		resp = append(resp, changeEntryResponse{
			ProductID:   e.ProductID,
			ProductName: e.ProductName,
			StoreID:     e.StoreID,
			StoreName:   e.StoreName,
			Previous:    e.Previous,
			New:         e.New,
			Message:     e.Message,
			ChangedAt:   e.ChangedAt,
		})
	}

	writeJSON(w, resp)
}

// CurrentStatus は既知の全 (Product × Store) ペアの現在状態を返す。
// 一度も観測されていないペアも状態フィールドをnullにして含める。
// GET /api/current-status
func (h *QueryHandler) CurrentStatus(w http.ResponseWriter, r *http.Request) {
	entries, err := h.history.CurrentStatus(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]statusEntryResponse, 0, len(entries))
	for _, e := range entries {
		resp = append(resp, statusEntryResponse{
			ProductID:       e.ProductID,
			ProductName:     e.ProductName,
			StoreID:         e.StoreID,
			StoreName:       e.StoreName,
			Available:       e.Available,
			Message:         e.Message,
			CheckedAt:       e.CheckedAt,
			LastAvailableAt: e.LastAvailableAt,
		})
	}

	writeJSON(w, resp)
}

// Stats は指定キーの統計値を返す。
// GET /api/availability-stats/{productID}/{storeID}?days=7
func (h *QueryHandler) Stats(w http.ResponseWriter, r *http.Request) {
	days, err := positiveIntParam(r, "days", defaultStatsDays)
	if err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidFilterError("days", r.URL.Query().Get("days")))
		return
	}

	productID := chi.URLParam(r, "productID")
	storeID := chi.URLParam(r, "storeID")

	product, err := h.products.FindByID(r.Context(), productID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if product == nil {
		writeAPIErrorResponse(w, http.StatusNotFound, model.NewProductNotFoundError(productID))
		return
	}

	store, err := h.stores.FindByID(r.Context(), storeID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if store == nil {
		writeAPIErrorResponse(w, http.StatusNotFound, model.NewStoreNotFoundError(storeID))
		return
	}

	stats, err := h.history.Stats(r.Context(), productID, storeID, days)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, statsResponse{
		ProductID:            productID,
		StoreID:              storeID,
		LookbackDays:         days,
		TotalChecks:          stats.TotalChecks,
		AvailableCount:       stats.AvailableCount,
		AvailabilityRate:     stats.AvailabilityRate,
		TimesBecameAvailable: stats.TimesBecameAvailable,
	})
}

// --- ヘルパー関数 ---

// resolveFilter はクエリパラメータから絞り込み条件を組み立てる。
// 指定されたIDが存在しない場合はvalidationエラーを返す。
func (h *QueryHandler) resolveFilter(r *http.Request) (model.HistoryFilter, *model.APIError) {
	filter := model.HistoryFilter{
		ProductID: r.URL.Query().Get("product_id"),
		StoreID:   r.URL.Query().Get("store_id"),
	}

	if filter.ProductID != "" {
		product, err := h.products.FindByID(r.Context(), filter.ProductID)
		if err == nil && product == nil {
			return filter, model.NewProductNotFoundError(filter.ProductID)
		}
	}
	if filter.StoreID != "" {
		store, err := h.stores.FindByID(r.Context(), filter.StoreID)
		if err == nil && store == nil {
			return filter, model.NewStoreNotFoundError(filter.StoreID)
		}
	}

	return filter, nil
}

// positiveIntParam はクエリパラメータから正の整数を取り出す。
// 未指定の場合はデフォルト値、解析不能または0以下の場合はエラーを返す。
func positiveIntParam(r *http.Request, name string, defaultValue int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return defaultValue, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, err
	}
	if v <= 0 {
		return 0, errors.New("value must be positive")
	}
	return v, nil
}

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// writeAPIErrorResponse は統一エラーフォーマットでエラーレスポンスを書き込む。
func writeAPIErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(apiErrorResponse{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// handleServiceError はリポジトリ層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		writeAPIErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error", slog.String("error", err.Error()))
	writeAPIErrorResponse(w, http.StatusInternalServerError, &model.APIError{
		Code:     "INTERNAL_ERROR",
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	})
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeInvalidFilter:
		return http.StatusBadRequest
	case model.ErrCodeProductNotFound, model.ErrCodeStoreNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
