package analytics

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/promo-insight/pkg/domain"
)

// retailFixture is a dataset large enough to train every slot: 14 sales over
// 14 days, 12 of them promoted with both discount tiers represented.
func retailFixture() ([]domain.Product, []domain.Promotion, []domain.SaleRecord) {
	products := []domain.Product{
		{ID: 1, Name: "Laptop", Price: 1200, Category: "Electronics"},
		{ID: 2, Name: "Novel", Price: 20, Category: "Books"},
	}
	promotions := []domain.Promotion{
		{ID: 1, Name: "Spring Sale", DiscountPct: 20, ProductID: 1, Active: true},
		{ID: 2, Name: "Clearance", DiscountPct: 50, ProductID: 2, Active: true},
	}

	var sales []domain.SaleRecord
	for i := 0; i < 14; i++ {
		sale := domain.SaleRecord{
			ID:        int64(i + 1),
			ProductID: int64(i%2 + 1),
			Quantity:  1 + i%4,
			Revenue:   100 + float64(i)*15 + float64(i%3)*7,
			Date:      day(i),
		}
		if i < 12 {
			promo := int64(i%2 + 1)
			sale.PromotionID = &promo
		}
		sales = append(sales, sale)
	}
	return products, promotions, sales
}

func trainedEngine(t *testing.T) *Engine {
	t.Helper()
	engine := NewEngine(DefaultConfig())
	products, promotions, sales := retailFixture()
	statuses := engine.TrainAll(products, promotions, sales)
	for _, slot := range Slots {
		require.True(t, statuses[slot].Trained, "slot %s should train on the fixture: %s", slot, statuses[slot].Reason)
	}
	return engine
}

func TestEngineTrainAllTrainsEverySlot(t *testing.T) {
	engine := NewEngine(DefaultConfig())
	products, promotions, sales := retailFixture()

	statuses := engine.TrainAll(products, promotions, sales)
	require.Len(t, statuses, 4)

	assert.True(t, statuses[SlotRevenue].Trained)
	assert.NotEmpty(t, statuses[SlotRevenue].Algorithm)
	assert.Equal(t, "test_mse", statuses[SlotRevenue].MetricName)
	assert.NotEmpty(t, statuses[SlotRevenue].Candidates)

	assert.True(t, statuses[SlotPromotionSuccess].Trained)
	assert.Equal(t, "accuracy", statuses[SlotPromotionSuccess].MetricName)

	assert.True(t, statuses[SlotTimeSeries].Trained)
	assert.Equal(t, "fit_mse", statuses[SlotTimeSeries].MetricName)

	assert.True(t, statuses[SlotPriceOptimization].Trained)
	assert.Equal(t, "elasticity_price_search", statuses[SlotPriceOptimization].Algorithm)
}

func TestEnginePredictRevenueNonNegative(t *testing.T) {
	engine := trainedEngine(t)

	prediction, err := engine.PredictRevenue(RevenueFeatures{
		Quantity:     2,
		HasPromotion: true,
		DiscountPct:  20,
		Category:     "Electronics",
		Month:        3,
		DayOfWeek:    1,
		Quarter:      1,
	})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, prediction, 0.0)
}

func TestEnginePromotionSuccessProbability(t *testing.T) {
	engine := trainedEngine(t)

	probability, err := engine.PredictPromotionSuccess(PromotionFeatures{
		Price:       1200,
		Quantity:    2,
		DiscountPct: 20,
		Category:    "Electronics",
		Month:       3,
		Quarter:     1,
	})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, probability, 0.0)
	assert.LessOrEqual(t, probability, 1.0)
}

func TestEngineUnseenCategory(t *testing.T) {
	engine := trainedEngine(t)

	_, err := engine.PredictRevenue(RevenueFeatures{Quantity: 1, Category: "Furniture", Month: 3, Quarter: 1})
	var unseen *UnseenCategoryError
	require.True(t, errors.As(err, &unseen))
	assert.Equal(t, "Furniture", unseen.Category)

	_, err = engine.PredictPromotionSuccess(PromotionFeatures{Price: 10, Quantity: 1, Category: "Furniture", Month: 3, Quarter: 1})
	assert.True(t, errors.As(err, &unseen))
}

func TestEngineUntrainedInference(t *testing.T) {
	engine := NewEngine(DefaultConfig())

	_, err := engine.PredictRevenue(RevenueFeatures{Quantity: 1, Category: "Electronics"})
	assert.True(t, errors.Is(err, ErrUntrainedModel))

	_, err = engine.PredictPromotionSuccess(PromotionFeatures{Price: 1, Quantity: 1, Category: "Electronics"})
	assert.True(t, errors.Is(err, ErrUntrainedModel))

	_, err = engine.ForecastRevenue(7)
	assert.True(t, errors.Is(err, ErrUntrainedModel))

	rec, untrained := engine.OptimizePrice(100, 1, 100)
	assert.Nil(t, rec)
	require.NotNil(t, untrained)

	for _, status := range engine.Status() {
		assert.False(t, status.Trained)
		assert.Equal(t, "not trained yet", status.Reason)
	}
}

func TestEngineInsufficientDataReasons(t *testing.T) {
	engine := NewEngine(DefaultConfig())
	products, promotions, sales := retailFixture()

	statuses := engine.TrainAll(products, promotions, sales[:3])

	assert.False(t, statuses[SlotRevenue].Trained)
	assert.Contains(t, statuses[SlotRevenue].Reason, "insufficient data")
	assert.False(t, statuses[SlotPromotionSuccess].Trained)
	assert.False(t, statuses[SlotTimeSeries].Trained)
	assert.Contains(t, statuses[SlotTimeSeries].Reason, "distinct sale days")
	assert.False(t, statuses[SlotPriceOptimization].Trained)
	assert.Equal(t, "revenue model not trained", statuses[SlotPriceOptimization].Reason)
}

func TestEngineForecastHorizon(t *testing.T) {
	engine := trainedEngine(t)

	forecast, err := engine.ForecastRevenue(30)
	require.NoError(t, err)
	assert.Len(t, forecast.Points, 30)
	assert.Equal(t, day(14), forecast.Start)
	assert.Contains(t, []string{"increasing", "decreasing"}, forecast.Trend)
}

func TestEngineOptimizePrice(t *testing.T) {
	engine := trainedEngine(t)

	rec, untrained := engine.OptimizePrice(100, 2, 250)
	require.Nil(t, untrained)
	require.NotNil(t, rec)

	require.Len(t, rec.Candidates, 5)
	assert.Equal(t, 250.0, rec.CurrentRevenue)

	found := false
	for i, mult := range PriceMultipliers {
		assert.InDelta(t, 100*mult, rec.Candidates[i].Price, 1e-9)
		if rec.Candidates[i].Price == rec.RecommendedPrice {
			found = true
		}
	}
	assert.True(t, found)
	assert.Contains(t, []string{"increase", "decrease", "hold"}, rec.Direction)
}

func TestEngineOptimizePriceRejectsNonPositivePrice(t *testing.T) {
	engine := trainedEngine(t)

	rec, untrained := engine.OptimizePrice(0, 1, 0)
	assert.Nil(t, rec)
	require.NotNil(t, untrained)
	assert.Contains(t, untrained.Reason, "positive")
}

func TestEngineDeterministicRetrain(t *testing.T) {
	products, promotions, sales := retailFixture()

	a := NewEngine(DefaultConfig())
	b := NewEngine(DefaultConfig())
	statusesA := a.TrainAll(products, promotions, sales)
	statusesB := b.TrainAll(products, promotions, sales)

	for _, slot := range Slots {
		assert.Equal(t, statusesA[slot].Algorithm, statusesB[slot].Algorithm, "slot %s", slot)
		assert.Equal(t, statusesA[slot].Metric, statusesB[slot].Metric, "slot %s", slot)
	}

	input := RevenueFeatures{Quantity: 3, HasPromotion: true, DiscountPct: 20, Category: "Books", Month: 3, DayOfWeek: 4, Quarter: 1}
	predA, err := a.PredictRevenue(input)
	require.NoError(t, err)
	predB, err := b.PredictRevenue(input)
	require.NoError(t, err)
	assert.Equal(t, predA, predB)
}

func TestEngineExportImportRoundTrip(t *testing.T) {
	source := trainedEngine(t)
	restored := NewEngine(DefaultConfig())

	for _, slot := range []Slot{SlotRevenue, SlotPromotionSuccess, SlotTimeSeries} {
		payload, err := source.ExportSlot(slot)
		require.NoError(t, err)
		require.NoError(t, restored.ImportSlot(payload))
	}

	input := RevenueFeatures{Quantity: 2, HasPromotion: false, DiscountPct: 0, Category: "Electronics", Month: 3, DayOfWeek: 2, Quarter: 1}
	want, err := source.PredictRevenue(input)
	require.NoError(t, err)
	got, err := restored.PredictRevenue(input)
	require.NoError(t, err)
	assert.InDelta(t, want, got, 1e-9)

	wantForecast, err := source.ForecastRevenue(5)
	require.NoError(t, err)
	gotForecast, err := restored.ForecastRevenue(5)
	require.NoError(t, err)
	assert.Equal(t, wantForecast.Points, gotForecast.Points)

	// The derived optimizer slot follows the restored revenue bundle.
	statuses := restored.Status()
	assert.True(t, statuses[SlotPriceOptimization].Trained)

	rec, untrained := restored.OptimizePrice(100, 2, 200)
	require.Nil(t, untrained)
	assert.NotNil(t, rec)
}

func TestEngineExportUntrainedOrDerivedSlot(t *testing.T) {
	engine := NewEngine(DefaultConfig())

	_, err := engine.ExportSlot(SlotRevenue)
	assert.True(t, errors.Is(err, ErrUntrainedModel))

	trained := trainedEngine(t)
	_, err = trained.ExportSlot(SlotPriceOptimization)
	assert.Error(t, err)
}

func TestSuccessBand(t *testing.T) {
	assert.Equal(t, "high", SuccessBand(0.85))
	assert.Equal(t, "medium", SuccessBand(0.7))
	assert.Equal(t, "medium", SuccessBand(0.5))
	assert.Equal(t, "low", SuccessBand(0.49))
	assert.Equal(t, "low", SuccessBand(0))
}
