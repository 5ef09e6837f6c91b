package domain

import (
	"time"
)

// Product is one row of the products table.
type Product struct {
	ID       int64   `json:"id"`
	Name     string  `json:"name"`
	Price    float64 `json:"price"`
	Category string  `json:"category"`
}

// Promotion is one row of the promotions table. ProductID may reference a
// product that has since been deleted; joins treat that as "no product".
type Promotion struct {
	ID          int64   `json:"id"`
	Name        string  `json:"name"`
	DiscountPct float64 `json:"discount_pct"`
	ProductID   int64   `json:"product_id"`
	Active      bool    `json:"active"`
}

// SaleRecord is one row of the sales table. PromotionID is nil when the sale
// happened without a promotion.
type SaleRecord struct {
	ID          int64     `json:"id"`
	ProductID   int64     `json:"product_id"`
	PromotionID *int64    `json:"promotion_id,omitempty"`
	Quantity    int       `json:"quantity"`
	Revenue     float64   `json:"revenue"`
	Date        time.Time `json:"date"`
}

// ForecastPoint is one forecast step. DayOffset 1 is the day after the last
// observed sale date.
type ForecastPoint struct {
	DayOffset int     `json:"day_offset"`
	Revenue   float64 `json:"revenue"`
}

// ForecastResult is an ordered horizon of predicted daily revenue with
// summary statistics.
type ForecastResult struct {
	Start  time.Time       `json:"start"`
	Points []ForecastPoint `json:"points"`
	Mean   float64         `json:"mean"`
	Trend  string          `json:"trend"` // "increasing" or "decreasing"
}

// PriceCandidate is one evaluated price point in a price search.
type PriceCandidate struct {
	Price             float64 `json:"price"`
	EstimatedQuantity float64 `json:"estimated_quantity"`
	PredictedRevenue  float64 `json:"predicted_revenue"`
}

// PriceRecommendation is the outcome of a price search. RecommendedPrice is
// always one of the evaluated candidates.
type PriceRecommendation struct {
	CurrentPrice     float64          `json:"current_price"`
	CurrentRevenue   float64          `json:"current_revenue"`
	RecommendedPrice float64          `json:"recommended_price"`
	PredictedRevenue float64          `json:"predicted_revenue"`
	Direction        string           `json:"direction"` // "increase", "decrease" or "hold"
	ChangePct        float64          `json:"change_pct"`
	Candidates       []PriceCandidate `json:"candidates"`
}
