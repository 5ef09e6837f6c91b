package analytics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOptimizePriceEvaluatesFiveCandidates(t *testing.T) {
	predict := func(quantity float64) (float64, error) { return quantity * 100, nil }

	rec, err := OptimizePrice(predict, 200, 2)
	require.NoError(t, err)
	require.Len(t, rec.Candidates, 5)

	for i, mult := range PriceMultipliers {
		assert.InDelta(t, 200*mult, rec.Candidates[i].Price, 1e-9)
	}

	// Revenue grows with quantity, elasticity favors the cheapest candidate.
	assert.InDelta(t, 180.0, rec.RecommendedPrice, 1e-9)
	assert.Equal(t, "decrease", rec.Direction)
	assert.InDelta(t, -10.0, rec.ChangePct, 1e-9)
}

func TestOptimizePriceElasticityDemandResponse(t *testing.T) {
	var quantities []float64
	predict := func(quantity float64) (float64, error) {
		quantities = append(quantities, quantity)
		return 1, nil
	}

	_, err := OptimizePrice(predict, 100, 10)
	require.NoError(t, err)
	require.Len(t, quantities, 5)

	// -0.5 elasticity: a 10% price cut raises demand 5%, a 10% raise cuts it 5%.
	assert.InDelta(t, 10.5, quantities[0], 1e-9)
	assert.InDelta(t, 10.0, quantities[2], 1e-9)
	assert.InDelta(t, 9.5, quantities[4], 1e-9)
}

func TestOptimizePriceHoldAtPeak(t *testing.T) {
	// Revenue peaks exactly at the current quantity.
	predict := func(quantity float64) (float64, error) {
		d := quantity - 3
		return 1000 - d*d, nil
	}

	rec, err := OptimizePrice(predict, 50, 3)
	require.NoError(t, err)
	assert.Equal(t, "hold", rec.Direction)
	assert.InDelta(t, 50.0, rec.RecommendedPrice, 1e-9)
	assert.InDelta(t, 0.0, rec.ChangePct, 1e-9)
}

func TestOptimizePriceTieKeepsLowerCandidate(t *testing.T) {
	predict := func(quantity float64) (float64, error) { return 500, nil }

	rec, err := OptimizePrice(predict, 100, 1)
	require.NoError(t, err)
	assert.InDelta(t, 90.0, rec.RecommendedPrice, 1e-9)
	assert.Equal(t, "decrease", rec.Direction)
}

func TestOptimizePriceRecommendationIsACandidate(t *testing.T) {
	predict := func(quantity float64) (float64, error) { return quantity*quantity + 7, nil }

	rec, err := OptimizePrice(predict, 129.99, 4)
	require.NoError(t, err)

	found := false
	for _, c := range rec.Candidates {
		if c.Price == rec.RecommendedPrice {
			found = true
			assert.Equal(t, c.PredictedRevenue, rec.PredictedRevenue)
		}
	}
	assert.True(t, found, "recommended price must be one of the evaluated candidates")
}
