package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/time/rate"

	"github.com/fruitcc/pickupwatch/internal/middleware"
	"github.com/fruitcc/pickupwatch/internal/model"
)

// --- テスト用フェイクリポジトリ ---

type fakeProductRepo struct {
	products []*model.Product
}

func (f *fakeProductRepo) Upsert(ctx context.Context, name, url string, partNumbers []string) (*model.Product, error) {
	return nil, nil
}

func (f *fakeProductRepo) FindByID(ctx context.Context, id string) (*model.Product, error) {
	for _, p := range f.products {
		if p.ID == id {
			return p, nil
		}
	}
	return nil, nil
}

func (f *fakeProductRepo) List(ctx context.Context) ([]*model.Product, error) {
	return f.products, nil
}

type fakeStoreRepo struct {
	stores []*model.Store
}

func (f *fakeStoreRepo) Upsert(ctx context.Context, name, code, location string) (*model.Store, error) {
	return nil, nil
}

func (f *fakeStoreRepo) FindByID(ctx context.Context, id string) (*model.Store, error) {
	for _, s := range f.stores {
		if s.ID == id {
			return s, nil
		}
	}
	return nil, nil
}

func (f *fakeStoreRepo) List(ctx context.Context) ([]*model.Store, error) {
	return f.stores, nil
}

type fakeHistoryRepo struct {
	timeline   []*model.TimelineEntry
	changes    []*model.ChangeEntry
	status     []*model.StatusEntry
	stats      *model.AvailabilityStats
	lastFilter model.HistoryFilter
	lastHours  int
	lastDays   int
}

func (f *fakeHistoryRepo) RecordObservation(ctx context.Context, productID, storeID string, available bool, message string, checkedAt time.Time) (*model.ChangeEvent, error) {
	return nil, nil
}

func (f *fakeHistoryRepo) Timeline(ctx context.Context, filter model.HistoryFilter, lookbackHours int) ([]*model.TimelineEntry, error) {
	f.lastFilter = filter
	f.lastHours = lookbackHours
	return f.timeline, nil
}

func (f *fakeHistoryRepo) Changes(ctx context.Context, filter model.HistoryFilter, lookbackDays int) ([]*model.ChangeEntry, error) {
	f.lastFilter = filter
	f.lastDays = lookbackDays
	return f.changes, nil
}

func (f *fakeHistoryRepo) CurrentStatus(ctx context.Context) ([]*model.StatusEntry, error) {
	return f.status, nil
}

func (f *fakeHistoryRepo) Stats(ctx context.Context, productID, storeID string, lookbackDays int) (*model.AvailabilityStats, error) {
	f.lastDays = lookbackDays
	return f.stats, nil
}

// --- テストセットアップ ---

var (
	testProduct = &model.Product{
		ID:          "11111111-1111-1111-1111-111111111111",
		Name:        "iPhone 15 Pro",
		URL:         "https://example.com/shop/buy-iphone",
		PartNumbers: []string{"MTUW3J/A"},
		CreatedAt:   time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
	}
	testStore = &model.Store{
		ID:        "22222222-2222-2222-2222-222222222222",
		Name:      "心斎橋",
		Location:  "大阪",
		CreatedAt: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
	}
)

func newTestRouter(history *fakeHistoryRepo) http.Handler {
	rl := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		Rate:            rate.Limit(1000),
		Burst:           1000,
		CleanupInterval: time.Hour,
	})
	return NewRouter(&RouterDeps{
		Logger:            slog.New(slog.NewJSONHandler(io.Discard, nil)),
		CORSAllowedOrigin: "http://localhost:3000",
		RateLimiter:       rl,
		Products:          &fakeProductRepo{products: []*model.Product{testProduct}},
		Stores:            &fakeStoreRepo{stores: []*model.Store{testStore}},
		History:           history,
	})
}

func doRequest(t *testing.T, router http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// --- テスト ---

func TestHealth(t *testing.T) {
	router := newTestRouter(&fakeHistoryRepo{})
	w := doRequest(t, router, "/health")

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("JSONのデコードに失敗しました: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status = %q, want ok", body["status"])
	}
}

func TestListProducts(t *testing.T) {
	router := newTestRouter(&fakeHistoryRepo{})
	w := doRequest(t, router, "/api/products")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var body []productResponse
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("JSONのデコードに失敗しました: %v", err)
	}
	if len(body) != 1 {
		t.Fatalf("len = %d, want 1", len(body))
	}
	if body[0].Name != "iPhone 15 Pro" {
		t.Errorf("Name = %q", body[0].Name)
	}
}

func TestTimeline(t *testing.T) {
	t.Run("デフォルトは24時間", func(t *testing.T) {
		history := &fakeHistoryRepo{}
		router := newTestRouter(history)
		w := doRequest(t, router, "/api/availability-timeline")

		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
		}
		if history.lastHours != 24 {
			t.Errorf("lookbackHours = %d, want 24", history.lastHours)
		}
	})

	t.Run("hoursパラメータとフィルタを渡す", func(t *testing.T) {
		history := &fakeHistoryRepo{}
		router := newTestRouter(history)
		w := doRequest(t, router, "/api/availability-timeline?hours=48&product_id="+testProduct.ID)

		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
		}
		if history.lastHours != 48 {
			t.Errorf("lookbackHours = %d, want 48", history.lastHours)
		}
		if history.lastFilter.ProductID != testProduct.ID {
			t.Errorf("filter.ProductID = %q", history.lastFilter.ProductID)
		}
	})

	t.Run("不正なhoursは400を返す", func(t *testing.T) {
		router := newTestRouter(&fakeHistoryRepo{})
		for _, q := range []string{"hours=abc", "hours=-1", "hours=0"} {
			w := doRequest(t, router, "/api/availability-timeline?"+q)
			if w.Code != http.StatusBadRequest {
				t.Errorf("%s: status = %d, want %d", q, w.Code, http.StatusBadRequest)
			}
			var body apiErrorResponse
			if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
				t.Fatalf("JSONのデコードに失敗しました: %v", err)
			}
			if body.Code != model.ErrCodeInvalidFilter {
				t.Errorf("Code = %q, want %q", body.Code, model.ErrCodeInvalidFilter)
			}
		}
	})

	t.Run("存在しないproduct_idは404を返す", func(t *testing.T) {
		router := newTestRouter(&fakeHistoryRepo{})
		w := doRequest(t, router, "/api/availability-timeline?product_id=99999999-9999-9999-9999-999999999999")
		if w.Code != http.StatusNotFound {
			t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
		}
	})
}

func TestChanges(t *testing.T) {
	prev := false
	history := &fakeHistoryRepo{
		changes: []*model.ChangeEntry{
			{
				ChangeEvent: model.ChangeEvent{
					ProductID: testProduct.ID,
					StoreID:   testStore.ID,
					Previous:  &prev,
					New:       true,
					Message:   "利用可能",
					ChangedAt: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC),
				},
				ProductName: testProduct.Name,
				StoreName:   testStore.Name,
			},
		},
	}
	router := newTestRouter(history)
	w := doRequest(t, router, "/api/availability-changes?days=3")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if history.lastDays != 3 {
		t.Errorf("lookbackDays = %d, want 3", history.lastDays)
	}

	var body []changeEntryResponse
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("JSONのデコードに失敗しました: %v", err)
	}
	if len(body) != 1 {
		t.Fatalf("len = %d, want 1", len(body))
	}
	if body[0].Previous == nil || *body[0].Previous != false {
		t.Error("previous_status = false が返されるべきです")
	}
	if !body[0].New {
		t.Error("new_status = true が返されるべきです")
	}
}

func TestCurrentStatus_NeverObservedPair(t *testing.T) {
	history := &fakeHistoryRepo{
		status: []*model.StatusEntry{
			{
				ProductID:   testProduct.ID,
				ProductName: testProduct.Name,
				StoreID:     testStore.ID,
				StoreName:   testStore.Name,
				// 未観測ペア: 状態フィールドはすべてnil
			},
		},
	}
	router := newTestRouter(history)
	w := doRequest(t, router, "/api/current-status")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var body []statusEntryResponse
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("JSONのデコードに失敗しました: %v", err)
	}
	if len(body) != 1 {
		t.Fatalf("len = %d, want 1", len(body))
	}
	if body[0].Available != nil || body[0].CheckedAt != nil || body[0].LastAvailableAt != nil {
		t.Error("未観測ペアの状態フィールドはnullであるべきです")
	}
	if body[0].ProductName != testProduct.Name {
		t.Errorf("ProductName = %q", body[0].ProductName)
	}
}

func TestStats(t *testing.T) {
	t.Run("統計値を返す", func(t *testing.T) {
		history := &fakeHistoryRepo{
			stats: &model.AvailabilityStats{
				TotalChecks:          100,
				AvailableCount:       25,
				AvailabilityRate:     25.0,
				TimesBecameAvailable: 3,
			},
		}
		router := newTestRouter(history)
		w := doRequest(t, router, "/api/availability-stats/"+testProduct.ID+"/"+testStore.ID)

		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
		}

		var body statsResponse
		if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
			t.Fatalf("JSONのデコードに失敗しました: %v", err)
		}
		if body.AvailabilityRate != 25.0 {
			t.Errorf("AvailabilityRate = %v, want 25.0", body.AvailabilityRate)
		}
		if body.TimesBecameAvailable != 3 {
			t.Errorf("TimesBecameAvailable = %d, want 3", body.TimesBecameAvailable)
		}
	})

	t.Run("存在しない商品は404を返す", func(t *testing.T) {
		router := newTestRouter(&fakeHistoryRepo{})
		w := doRequest(t, router, "/api/availability-stats/99999999-9999-9999-9999-999999999999/"+testStore.ID)
		if w.Code != http.StatusNotFound {
			t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
		}

		var body apiErrorResponse
		if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
			t.Fatalf("JSONのデコードに失敗しました: %v", err)
		}
		if body.Code != model.ErrCodeProductNotFound {
			t.Errorf("Code = %q, want %q", body.Code, model.ErrCodeProductNotFound)
		}
	})

	t.Run("存在しない店舗は404を返す", func(t *testing.T) {
		router := newTestRouter(&fakeHistoryRepo{stats: &model.AvailabilityStats{}})
		w := doRequest(t, router, "/api/availability-stats/"+testProduct.ID+"/99999999-9999-9999-9999-999999999999")
		if w.Code != http.StatusNotFound {
			t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
		}
	})
}

func TestRouter_MetricsEndpoint(t *testing.T) {
	rl := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		Rate:            rate.Limit(1000),
		Burst:           1000,
		CleanupInterval: time.Hour,
	})

	// serveモードと同じ構成: プロセス・ランタイム収集のレジストリを渡す
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())

	router := NewRouter(&RouterDeps{
		Logger:            slog.New(slog.NewJSONHandler(io.Discard, nil)),
		CORSAllowedOrigin: "http://localhost:3000",
		RateLimiter:       rl,
		Products:          &fakeProductRepo{},
		Stores:            &fakeStoreRepo{},
		History:           &fakeHistoryRepo{},
		MetricsGatherer:   registry,
	})

	w := doRequest(t, router, "/metrics")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if !strings.Contains(w.Body.String(), "go_goroutines") {
		t.Error("expected /metrics output to contain go_goroutines")
	}
}

func TestRouter_MetricsNotExposedWithoutGatherer(t *testing.T) {
	router := newTestRouter(&fakeHistoryRepo{})

	w := doRequest(t, router, "/metrics")
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestRouter_WriteMethodsNotAllowed(t *testing.T) {
	router := newTestRouter(&fakeHistoryRepo{})

	for _, method := range []string{http.MethodPost, http.MethodPut, http.MethodDelete} {
		req := httptest.NewRequest(method, "/api/current-status", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		if w.Code != http.StatusMethodNotAllowed {
			t.Errorf("%s: status = %d, want %d", method, w.Code, http.StatusMethodNotAllowed)
		}
	}
}
