package analytics

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/promo-insight/pkg/domain"
)

// UnknownCategory is substituted when a sale joins to no product or the
// product carries an empty category.
const UnknownCategory = "Unknown"

// CategoryEncoder maps category names to stable integer codes assigned in
// first-seen order at training time. It is immutable after Build: unseen
// categories at inference are an error, never a silent mapping.
type CategoryEncoder struct {
	names []string
	codes map[string]int
}

func newCategoryEncoder() *CategoryEncoder {
	return &CategoryEncoder{codes: make(map[string]int)}
}

func (e *CategoryEncoder) fit(category string) int {
	if code, ok := e.codes[category]; ok {
		return code
	}
	code := len(e.names)
	e.codes[category] = code
	e.names = append(e.names, category)
	return code
}

// Encode returns the training-time code for category.
func (e *CategoryEncoder) Encode(category string) (int, error) {
	code, ok := e.codes[category]
	if !ok {
		return 0, &UnseenCategoryError{Category: category}
	}
	return code, nil
}

// Categories returns the known categories in code order.
func (e *CategoryEncoder) Categories() []string {
	out := make([]string, len(e.names))
	copy(out, e.names)
	return out
}

// Size returns the number of known categories.
func (e *CategoryEncoder) Size() int { return len(e.names) }

// MarshalJSON serializes the encoder as its code-ordered category list.
func (e *CategoryEncoder) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.names)
}

// UnmarshalJSON restores the encoder from a code-ordered category list.
func (e *CategoryEncoder) UnmarshalJSON(data []byte) error {
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return err
	}
	e.names = names
	e.codes = make(map[string]int, len(names))
	for i, name := range names {
		e.codes[name] = i
	}
	return nil
}

// FeatureRow is one sale after joining products and promotions and deriving
// the modeling columns.
type FeatureRow struct {
	SaleID         int64     `json:"sale_id"`
	ProductID      int64     `json:"product_id"`
	Price          float64   `json:"price"`
	Quantity       float64   `json:"quantity"`
	Revenue        float64   `json:"revenue"`
	HasPromotion   bool      `json:"has_promotion"`
	DiscountPct    float64   `json:"discount_pct"`
	DiscountAmount float64   `json:"discount_amount"`
	NetRevenue     float64   `json:"net_revenue"`
	RevenuePerUnit float64   `json:"revenue_per_unit"`
	Category       string    `json:"category"`
	CategoryCode   int       `json:"category_code"`
	Month          int       `json:"month"`
	DayOfWeek      int       `json:"day_of_week"`
	Quarter        int       `json:"quarter"`
	Date           time.Time `json:"date"`
}

// FeatureTable is the modeling-ready join of sales, products and promotions.
type FeatureTable struct {
	Rows []FeatureRow `json:"rows"`
}

// BuildFeatures left-joins sales to products and promotions, derives the
// engineered columns, and fits the category encoder over the joined rows.
// Sales with a missing product still yield a row with zero price and the
// Unknown category; a missing promotion yields has_promotion=false.
func BuildFeatures(products []domain.Product, promotions []domain.Promotion, sales []domain.SaleRecord, minRows int) (*FeatureTable, *CategoryEncoder, error) {
	productByID := make(map[int64]domain.Product, len(products))
	for _, p := range products {
		productByID[p.ID] = p
	}
	promotionByID := make(map[int64]domain.Promotion, len(promotions))
	for _, p := range promotions {
		promotionByID[p.ID] = p
	}

	encoder := newCategoryEncoder()
	rows := make([]FeatureRow, 0, len(sales))

	for _, sale := range sales {
		row := FeatureRow{
			SaleID:    sale.ID,
			ProductID: sale.ProductID,
			Quantity:  float64(sale.Quantity),
			Revenue:   sale.Revenue,
			Category:  UnknownCategory,
			Date:      sale.Date,
		}

		if product, ok := productByID[sale.ProductID]; ok {
			row.Price = product.Price
			if product.Category != "" {
				row.Category = product.Category
			}
		}

		if sale.PromotionID != nil {
			row.HasPromotion = true
			if promo, ok := promotionByID[*sale.PromotionID]; ok {
				row.DiscountPct = promo.DiscountPct
			}
		}

		row.DiscountAmount = row.Revenue * row.DiscountPct / 100
		row.NetRevenue = row.Revenue - row.DiscountAmount
		// Quantity is validated >0 at ingestion; guard anyway so a bad row
		// cannot produce Inf.
		if row.Quantity > 0 {
			row.RevenuePerUnit = row.Revenue / row.Quantity
		}

		row.CategoryCode = encoder.fit(row.Category)
		row.Month = int(sale.Date.Month())
		row.DayOfWeek = int(sale.Date.Weekday())
		row.Quarter = (int(sale.Date.Month())-1)/3 + 1

		rows = append(rows, row)
	}

	if len(rows) < minRows {
		return nil, nil, fmt.Errorf("%w: joined table has %d rows, need at least %d", ErrInsufficientData, len(rows), minRows)
	}

	return &FeatureTable{Rows: rows}, encoder, nil
}

// revenueFeatureVector is the revenue-model feature order. Product id and
// price are excluded: the model predicts from sale shape and calendar alone.
func revenueFeatureVector(quantity float64, hasPromotion bool, discountPct float64, categoryCode, month, dayOfWeek, quarter int) []float64 {
	promo := 0.0
	if hasPromotion {
		promo = 1.0
	}
	return []float64{quantity, promo, discountPct, float64(categoryCode), float64(month), float64(dayOfWeek), float64(quarter)}
}

// successFeatureVector is the promotion-success feature order.
func successFeatureVector(price, quantity, discountPct float64, categoryCode, month, quarter int) []float64 {
	return []float64{price, quantity, discountPct, float64(categoryCode), float64(month), float64(quarter)}
}

// RevenueMatrix returns the design matrix and revenue target for the revenue
// prediction task.
func (t *FeatureTable) RevenueMatrix() ([][]float64, []float64) {
	X := make([][]float64, 0, len(t.Rows))
	y := make([]float64, 0, len(t.Rows))
	for _, r := range t.Rows {
		X = append(X, revenueFeatureVector(r.Quantity, r.HasPromotion, r.DiscountPct, r.CategoryCode, r.Month, r.DayOfWeek, r.Quarter))
		y = append(y, r.Revenue)
	}
	return X, y
}

// PromotionMatrix returns the design matrix and ROI-based success labels over
// the promoted subset of the table. A promotion is labeled successful when
// roi = (net_revenue - discount_amount) / discount_amount exceeds 1; roi is 0
// when the discount amount is 0.
func (t *FeatureTable) PromotionMatrix() ([][]float64, []float64) {
	var X [][]float64
	var y []float64
	for _, r := range t.Rows {
		if !r.HasPromotion {
			continue
		}
		roi := 0.0
		if r.DiscountAmount != 0 {
			roi = (r.NetRevenue - r.DiscountAmount) / r.DiscountAmount
		}
		label := 0.0
		if roi > 1 {
			label = 1.0
		}
		X = append(X, successFeatureVector(r.Price, r.Quantity, r.DiscountPct, r.CategoryCode, r.Month, r.Quarter))
		y = append(y, label)
	}
	return X, y
}

// LatestRow returns the most recent row by sale date, used as the baseline
// context for price optimization. Returns nil on an empty table.
func (t *FeatureTable) LatestRow() *FeatureRow {
	if len(t.Rows) == 0 {
		return nil
	}
	idx := 0
	for i := 1; i < len(t.Rows); i++ {
		if t.Rows[i].Date.After(t.Rows[idx].Date) {
			idx = i
		}
	}
	row := t.Rows[idx]
	return &row
}

// DailyRevenue aggregates the raw sales by calendar date, summing revenue.
// The result is sorted by date and contains only observed days; zero-filling
// happens in the forecaster.
func DailyRevenue(sales []domain.SaleRecord) ([]time.Time, []float64) {
	byDay := make(map[time.Time]float64)
	for _, s := range sales {
		day := time.Date(s.Date.Year(), s.Date.Month(), s.Date.Day(), 0, 0, 0, 0, time.UTC)
		byDay[day] += s.Revenue
	}

	days := make([]time.Time, 0, len(byDay))
	for day := range byDay {
		days = append(days, day)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })

	revenue := make([]float64, len(days))
	for i, day := range days {
		revenue[i] = byDay[day]
	}
	return days, revenue
}
