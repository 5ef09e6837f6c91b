package analytics

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/promo-insight/pkg/domain"
)

// Slot names the four prediction tasks. Each slot holds an independent
// optional bundle; there is no aggregate trained flag.
type Slot string

const (
	SlotRevenue           Slot = "revenue"
	SlotPromotionSuccess  Slot = "promotion_success"
	SlotTimeSeries        Slot = "time_series"
	SlotPriceOptimization Slot = "price_optimization"
)

// Slots lists the slots in reporting order.
var Slots = []Slot{SlotRevenue, SlotPromotionSuccess, SlotTimeSeries, SlotPriceOptimization}

// SlotStatus is the reporter's read-only view of one slot.
type SlotStatus struct {
	Slot       Slot             `json:"slot"`
	Trained    bool             `json:"trained"`
	Algorithm  string           `json:"algorithm,omitempty"`
	MetricName string           `json:"metric_name,omitempty"`
	Metric     float64          `json:"metric,omitempty"`
	Reason     string           `json:"reason,omitempty"`
	TrainedAt  time.Time        `json:"trained_at,omitempty"`
	Candidates []CandidateScore `json:"candidates,omitempty"`
}

// Config bounds the engine's data requirements.
type Config struct {
	MinTrainingRows  int   // rows the joined feature table must reach
	MinPromotionRows int   // promoted rows the classifier needs
	MinForecastDays  int   // distinct sale days the forecaster needs
	CVFolds          int   // cross-validation folds (diagnostic)
	Seed             int64 // fixes splits and estimator randomness
}

// DefaultConfig matches the documented slot minimums.
func DefaultConfig() Config {
	return Config{
		MinTrainingRows:  5,
		MinPromotionRows: 10,
		MinForecastDays:  10,
		CVFolds:          5,
		Seed:             42,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MinTrainingRows < 2 {
		c.MinTrainingRows = d.MinTrainingRows
	}
	if c.MinPromotionRows < 2 {
		c.MinPromotionRows = d.MinPromotionRows
	}
	if c.MinForecastDays < 2 {
		c.MinForecastDays = d.MinForecastDays
	}
	if c.CVFolds < 2 {
		c.CVFolds = d.CVFolds
	}
	if c.Seed == 0 {
		c.Seed = d.Seed
	}
	return c
}

// RevenueFeatures is the input to revenue prediction.
type RevenueFeatures struct {
	Quantity     float64 `json:"quantity"`
	HasPromotion bool    `json:"has_promotion"`
	DiscountPct  float64 `json:"discount_pct"`
	Category     string  `json:"category"`
	Month        int     `json:"month"`
	DayOfWeek    int     `json:"day_of_week"`
	Quarter      int     `json:"quarter"`
}

// PromotionFeatures is the input to promotion-success prediction.
type PromotionFeatures struct {
	Price       float64 `json:"price"`
	Quantity    float64 `json:"quantity"`
	DiscountPct float64 `json:"discount_pct"`
	Category    string  `json:"category"`
	Month       int     `json:"month"`
	Quarter     int     `json:"quarter"`
}

// Engine owns the four model slots. Training builds a complete new state and
// swaps it in atomically, so concurrent inference never observes a
// half-updated model.
type Engine struct {
	cfg Config

	mu         sync.RWMutex
	encoder    *CategoryEncoder
	baseline   *FeatureRow
	revenue    *Bundle
	promotion  *Bundle
	forecaster *ForecastModel
	statuses   map[Slot]SlotStatus
}

// NewEngine creates an engine with every slot untrained.
func NewEngine(cfg Config) *Engine {
	e := &Engine{cfg: cfg.withDefaults(), statuses: make(map[Slot]SlotStatus)}
	for _, slot := range Slots {
		e.statuses[slot] = SlotStatus{Slot: slot, Reason: "not trained yet"}
	}
	return e
}

// TrainAll runs the full training pipeline over the three row sets. Each slot
// trains independently: a shortfall in one never blocks the others, and the
// outcome is reported per slot. The previous state is replaced wholesale only
// after every slot has finished.
func (e *Engine) TrainAll(products []domain.Product, promotions []domain.Promotion, sales []domain.SaleRecord) map[Slot]SlotStatus {
	statuses := make(map[Slot]SlotStatus, len(Slots))

	var encoder *CategoryEncoder
	var baseline *FeatureRow
	var revenue, promotion *Bundle

	table, enc, err := BuildFeatures(products, promotions, sales, e.cfg.MinTrainingRows)
	if err != nil {
		reason := err.Error()
		statuses[SlotRevenue] = SlotStatus{Slot: SlotRevenue, Reason: reason}
		statuses[SlotPromotionSuccess] = SlotStatus{Slot: SlotPromotionSuccess, Reason: reason}
	} else {
		encoder = enc
		baseline = table.LatestRow()

		X, y := table.RevenueMatrix()
		bundle, untrained := Train(RegressionCandidates(e.cfg.Seed), X, y, TaskRegression, TrainOptions{
			MinRows: e.cfg.MinTrainingRows,
			CVFolds: e.cfg.CVFolds,
			Seed:    e.cfg.Seed,
		})
		if untrained != nil {
			statuses[SlotRevenue] = SlotStatus{Slot: SlotRevenue, Reason: untrained.Reason}
		} else {
			revenue = bundle
			statuses[SlotRevenue] = bundleStatus(SlotRevenue, bundle)
		}

		promoX, promoY := table.PromotionMatrix()
		bundle, untrained = Train(ClassificationCandidates(e.cfg.Seed), promoX, promoY, TaskClassification, TrainOptions{
			MinRows: e.cfg.MinPromotionRows,
			CVFolds: e.cfg.CVFolds,
			Seed:    e.cfg.Seed,
		})
		if untrained != nil {
			statuses[SlotPromotionSuccess] = SlotStatus{Slot: SlotPromotionSuccess, Reason: untrained.Reason}
		} else {
			promotion = bundle
			statuses[SlotPromotionSuccess] = bundleStatus(SlotPromotionSuccess, bundle)
		}
	}

	// The forecaster aggregates raw sales on its own data path; it can train
	// even when the feature join falls short.
	forecaster, untrained := FitForecaster(sales, e.cfg.MinForecastDays)
	if untrained != nil {
		forecaster = nil
		statuses[SlotTimeSeries] = SlotStatus{Slot: SlotTimeSeries, Reason: untrained.Reason}
	} else {
		statuses[SlotTimeSeries] = SlotStatus{
			Slot:       SlotTimeSeries,
			Trained:    true,
			Algorithm:  forecaster.Algorithm,
			MetricName: "fit_mse",
			Metric:     forecaster.FitMSE,
			TrainedAt:  time.Now().UTC(),
		}
	}

	statuses[SlotPriceOptimization] = priceOptimizationStatus(revenue)

	e.mu.Lock()
	e.encoder = encoder
	e.baseline = baseline
	e.revenue = revenue
	e.promotion = promotion
	e.forecaster = forecaster
	e.statuses = statuses
	e.mu.Unlock()

	return e.Status()
}

func bundleStatus(slot Slot, b *Bundle) SlotStatus {
	status := SlotStatus{
		Slot:       slot,
		Trained:    true,
		Algorithm:  b.Algorithm,
		TrainedAt:  b.TrainedAt,
		Candidates: b.Candidates,
	}
	if b.Task == TaskClassification {
		status.MetricName = "accuracy"
		status.Metric = b.TestScore
	} else {
		status.MetricName = "test_mse"
		status.Metric = -b.TestScore
	}
	return status
}

// priceOptimizationStatus derives the optimizer slot: it is a search over the
// revenue bundle, so it is trained exactly when that bundle exists.
func priceOptimizationStatus(revenue *Bundle) SlotStatus {
	if revenue == nil {
		return SlotStatus{Slot: SlotPriceOptimization, Reason: "revenue model not trained"}
	}
	return SlotStatus{
		Slot:       SlotPriceOptimization,
		Trained:    true,
		Algorithm:  "elasticity_price_search",
		MetricName: "test_mse",
		Metric:     -revenue.TestScore,
		TrainedAt:  revenue.TrainedAt,
	}
}

// PredictRevenue encodes the category, applies the stored scaler and model,
// and clamps the result at zero: revenue cannot be negative.
func (e *Engine) PredictRevenue(f RevenueFeatures) (float64, error) {
	e.mu.RLock()
	bundle, encoder := e.revenue, e.encoder
	e.mu.RUnlock()

	if bundle == nil || encoder == nil {
		return 0, fmt.Errorf("revenue prediction: %w", ErrUntrainedModel)
	}
	code, err := encoder.Encode(f.Category)
	if err != nil {
		return 0, err
	}

	prediction := bundle.Predict(revenueFeatureVector(f.Quantity, f.HasPromotion, f.DiscountPct, code, f.Month, f.DayOfWeek, f.Quarter))
	if prediction < 0 {
		prediction = 0
	}
	return prediction, nil
}

// PredictPromotionSuccess returns the positive-class probability from the
// selected classifier, in [0,1].
func (e *Engine) PredictPromotionSuccess(f PromotionFeatures) (float64, error) {
	e.mu.RLock()
	bundle, encoder := e.promotion, e.encoder
	e.mu.RUnlock()

	if bundle == nil || encoder == nil {
		return 0, fmt.Errorf("promotion success prediction: %w", ErrUntrainedModel)
	}
	code, err := encoder.Encode(f.Category)
	if err != nil {
		return 0, err
	}

	return clamp01(bundle.Predict(successFeatureVector(f.Price, f.Quantity, f.DiscountPct, code, f.Month, f.Quarter))), nil
}

// SuccessBand maps a success probability to its advisory presentation band.
func SuccessBand(probability float64) string {
	switch {
	case probability > 0.7:
		return "high"
	case probability >= 0.5:
		return "medium"
	default:
		return "low"
	}
}

// ForecastRevenue forecasts exactly horizonDays daily revenue points.
func (e *Engine) ForecastRevenue(horizonDays int) (*domain.ForecastResult, error) {
	e.mu.RLock()
	forecaster := e.forecaster
	e.mu.RUnlock()

	if forecaster == nil {
		return nil, fmt.Errorf("revenue forecast: %w", ErrUntrainedModel)
	}
	return forecaster.Forecast(horizonDays)
}

// OptimizePrice searches the five candidate prices through the revenue model.
// An untrained revenue slot degrades to an explicit status, not an error.
func (e *Engine) OptimizePrice(currentPrice, currentQuantity, currentRevenue float64) (*domain.PriceRecommendation, *UntrainedStatus) {
	e.mu.RLock()
	bundle, baseline := e.revenue, e.baseline
	e.mu.RUnlock()

	if bundle == nil || baseline == nil {
		return nil, untrainedf("revenue model not trained")
	}
	if currentPrice <= 0 {
		return nil, untrainedf("current price must be positive")
	}

	// Baseline revenue context: the most recent sale's calendar and category,
	// priced without a promotion.
	predict := func(quantity float64) (float64, error) {
		prediction := bundle.Predict(revenueFeatureVector(quantity, false, 0, baseline.CategoryCode, baseline.Month, baseline.DayOfWeek, baseline.Quarter))
		if prediction < 0 {
			prediction = 0
		}
		return prediction, nil
	}

	recommendation, err := OptimizePrice(predict, currentPrice, currentQuantity)
	if err != nil {
		return nil, untrainedf("price optimization failed: %v", err)
	}
	recommendation.CurrentRevenue = currentRevenue
	return recommendation, nil
}

// Status reports every slot's state. The returned map is a copy.
func (e *Engine) Status() map[Slot]SlotStatus {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make(map[Slot]SlotStatus, len(e.statuses))
	for slot, status := range e.statuses {
		out[slot] = status
	}
	return out
}

// slotPayload is the persisted form of one trained slot: self-contained, so a
// restored slot carries its own encoder and baseline context.
type slotPayload struct {
	Slot       Slot             `json:"slot"`
	Status     SlotStatus       `json:"status"`
	Bundle     *Bundle          `json:"bundle,omitempty"`
	Encoder    *CategoryEncoder `json:"encoder,omitempty"`
	Baseline   *FeatureRow      `json:"baseline,omitempty"`
	Forecaster *ForecastModel   `json:"forecaster,omitempty"`
}

// ExportSlot serializes one trained slot for persistence. The price
// optimization slot is derived from the revenue slot and is not exportable.
func (e *Engine) ExportSlot(slot Slot) ([]byte, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	payload := slotPayload{Slot: slot, Status: e.statuses[slot]}
	switch slot {
	case SlotRevenue:
		if e.revenue == nil {
			return nil, fmt.Errorf("export %s: %w", slot, ErrUntrainedModel)
		}
		payload.Bundle = e.revenue
		payload.Encoder = e.encoder
		payload.Baseline = e.baseline
	case SlotPromotionSuccess:
		if e.promotion == nil {
			return nil, fmt.Errorf("export %s: %w", slot, ErrUntrainedModel)
		}
		payload.Bundle = e.promotion
		payload.Encoder = e.encoder
	case SlotTimeSeries:
		if e.forecaster == nil {
			return nil, fmt.Errorf("export %s: %w", slot, ErrUntrainedModel)
		}
		payload.Forecaster = e.forecaster
	default:
		return nil, fmt.Errorf("slot %q is not exportable", slot)
	}
	return json.Marshal(payload)
}

// ImportSlot restores one previously exported slot, replacing that slot's
// state atomically. Restores survive process restarts without retraining.
func (e *Engine) ImportSlot(data []byte) error {
	var payload slotPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("decode slot payload: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	switch payload.Slot {
	case SlotRevenue:
		if payload.Bundle == nil || payload.Encoder == nil {
			return fmt.Errorf("slot %s payload missing bundle or encoder", payload.Slot)
		}
		e.revenue = payload.Bundle
		e.encoder = payload.Encoder
		e.baseline = payload.Baseline
		e.statuses[SlotRevenue] = payload.Status
		e.statuses[SlotPriceOptimization] = priceOptimizationStatus(e.revenue)
	case SlotPromotionSuccess:
		if payload.Bundle == nil || payload.Encoder == nil {
			return fmt.Errorf("slot %s payload missing bundle or encoder", payload.Slot)
		}
		e.promotion = payload.Bundle
		if e.encoder == nil {
			e.encoder = payload.Encoder
		}
		e.statuses[SlotPromotionSuccess] = payload.Status
	case SlotTimeSeries:
		if payload.Forecaster == nil {
			return fmt.Errorf("slot %s payload missing forecaster", payload.Slot)
		}
		e.forecaster = payload.Forecaster
		e.statuses[SlotTimeSeries] = payload.Status
	default:
		return fmt.Errorf("unknown slot %q", payload.Slot)
	}
	return nil
}
