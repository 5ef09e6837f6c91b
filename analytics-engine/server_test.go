package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/promo-insight/pkg/analytics"
	"github.com/promo-insight/pkg/domain"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testEngine(t *testing.T, trained bool) *analytics.Engine {
	t.Helper()
	engine := analytics.NewEngine(analytics.DefaultConfig())
	if !trained {
		return engine
	}

	products := []domain.Product{
		{ID: 1, Name: "Laptop", Price: 1200, Category: "Electronics"},
		{ID: 2, Name: "Novel", Price: 20, Category: "Books"},
	}
	promotions := []domain.Promotion{
		{ID: 1, Name: "Spring Sale", DiscountPct: 20, ProductID: 1, Active: true},
		{ID: 2, Name: "Clearance", DiscountPct: 50, ProductID: 2, Active: true},
	}
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	var sales []domain.SaleRecord
	for i := 0; i < 14; i++ {
		sale := domain.SaleRecord{
			ID:        int64(i + 1),
			ProductID: int64(i%2 + 1),
			Quantity:  1 + i%4,
			Revenue:   100 + float64(i)*15 + float64(i%3)*7,
			Date:      start.AddDate(0, 0, i),
		}
		if i < 12 {
			promo := int64(i%2 + 1)
			sale.PromotionID = &promo
		}
		sales = append(sales, sale)
	}

	statuses := engine.TrainAll(products, promotions, sales)
	for slot, status := range statuses {
		if !status.Trained {
			t.Fatalf("slot %s did not train: %s", slot, status.Reason)
		}
	}
	return engine
}

func testApp(t *testing.T, trained bool) *app {
	t.Helper()
	return &app{
		cfg:             serviceConfig{horizonDays: 30},
		engine:          testEngine(t, trained),
		retrainRequests: make(chan struct{}, 1),
	}
}

func doRequest(a *app, method, path, body string) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	a.router().ServeHTTP(w, req)
	return w
}

func TestModelStatusEndpoint(t *testing.T) {
	a := testApp(t, true)

	w := doRequest(a, http.MethodGet, "/api/v1/models/status", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Models []analytics.SlotStatus `json:"models"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Models) != 4 {
		t.Fatalf("expected 4 slots, got %d", len(resp.Models))
	}
	if resp.Models[0].Slot != analytics.SlotRevenue {
		t.Errorf("expected revenue slot first, got %s", resp.Models[0].Slot)
	}
	for _, m := range resp.Models {
		if !m.Trained {
			t.Errorf("slot %s should be trained", m.Slot)
		}
	}
}

func TestPredictRevenueEndpoint(t *testing.T) {
	a := testApp(t, true)

	body := `{"quantity":2,"has_promotion":true,"discount_pct":20,"category":"Electronics","month":3,"day_of_week":1,"quarter":1}`
	w := doRequest(a, http.MethodPost, "/api/v1/predict/revenue", body)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp map[string]float64
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["predicted_revenue"] < 0 {
		t.Errorf("predicted revenue must be non-negative, got %f", resp["predicted_revenue"])
	}
}

func TestPredictRevenueBadRequest(t *testing.T) {
	a := testApp(t, true)

	w := doRequest(a, http.MethodPost, "/api/v1/predict/revenue", `{"quantity":`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestPredictRevenueUnseenCategory(t *testing.T) {
	a := testApp(t, true)

	body := `{"quantity":1,"category":"Furniture","month":3,"quarter":1}`
	w := doRequest(a, http.MethodPost, "/api/v1/predict/revenue", body)
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "Furniture") {
		t.Errorf("error should name the category: %s", w.Body.String())
	}
}

func TestPredictRevenueUntrained(t *testing.T) {
	a := testApp(t, false)

	body := `{"quantity":1,"category":"Electronics","month":3,"quarter":1}`
	w := doRequest(a, http.MethodPost, "/api/v1/predict/revenue", body)
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", w.Code, w.Body.String())
	}
}

func TestPredictPromotionSuccessEndpoint(t *testing.T) {
	a := testApp(t, true)

	body := `{"price":1200,"quantity":2,"discount_pct":20,"category":"Electronics","month":3,"quarter":1}`
	w := doRequest(a, http.MethodPost, "/api/v1/predict/promotion-success", body)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Probability float64 `json:"success_probability"`
		Band        string  `json:"band"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Probability < 0 || resp.Probability > 1 {
		t.Errorf("probability out of range: %f", resp.Probability)
	}
	switch resp.Band {
	case "high", "medium", "low":
	default:
		t.Errorf("unexpected band %q", resp.Band)
	}
}

func TestForecastEndpoint(t *testing.T) {
	a := testApp(t, true)

	w := doRequest(a, http.MethodGet, "/api/v1/forecast?days=7", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp domain.ForecastResult
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Points) != 7 {
		t.Errorf("expected 7 forecast points, got %d", len(resp.Points))
	}
}

func TestForecastEndpointValidation(t *testing.T) {
	a := testApp(t, true)

	for _, query := range []string{"days=abc", "days=0", "days=400", "days=-3"} {
		w := doRequest(a, http.MethodGet, "/api/v1/forecast?"+query, "")
		if w.Code != http.StatusBadRequest {
			t.Errorf("query %q: expected 400, got %d", query, w.Code)
		}
	}
}

func TestForecastEndpointUntrained(t *testing.T) {
	a := testApp(t, false)

	w := doRequest(a, http.MethodGet, "/api/v1/forecast?days=7", "")
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
}

func TestOptimizePriceEndpoint(t *testing.T) {
	a := testApp(t, true)

	w := doRequest(a, http.MethodPost, "/api/v1/optimize/price", `{"current_price":100,"current_quantity":2,"current_revenue":250}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp domain.PriceRecommendation
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Candidates) != 5 {
		t.Errorf("expected 5 candidates, got %d", len(resp.Candidates))
	}
	found := false
	for _, c := range resp.Candidates {
		if c.Price == resp.RecommendedPrice {
			found = true
		}
	}
	if !found {
		t.Error("recommended price is not one of the candidates")
	}
}

func TestOptimizePriceValidation(t *testing.T) {
	a := testApp(t, true)

	w := doRequest(a, http.MethodPost, "/api/v1/optimize/price", `{"current_quantity":2}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing price, got %d", w.Code)
	}
}

func TestOptimizePriceUntrained(t *testing.T) {
	a := testApp(t, false)

	w := doRequest(a, http.MethodPost, "/api/v1/optimize/price", `{"current_price":100}`)
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
}

func TestHealthEndpoint(t *testing.T) {
	a := testApp(t, false)

	w := doRequest(a, http.MethodGet, "/healthz", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}
