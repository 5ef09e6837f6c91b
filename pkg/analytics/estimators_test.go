package analytics

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLinearRegressionRecoversCoefficients(t *testing.T) {
	// y = 5 + 2*x1 + 3*x2, noise free.
	var X [][]float64
	var y []float64
	for i := 0; i < 20; i++ {
		x1 := float64(i)
		x2 := float64(i % 7)
		X = append(X, []float64{x1, x2})
		y = append(y, 5+2*x1+3*x2)
	}

	m := NewLinearRegression()
	require.NoError(t, m.Fit(X, y))

	assert.InDelta(t, 5+2*10+3*4, m.Predict([]float64{10, 4}), 1e-4)
	assert.InDelta(t, 5.0, m.Weights[0], 1e-4)
	assert.InDelta(t, 2.0, m.Weights[1], 1e-4)
	assert.InDelta(t, 3.0, m.Weights[2], 1e-4)
}

func TestLinearRegressionEmptyMatrix(t *testing.T) {
	m := NewLinearRegression()
	err := m.Fit(nil, nil)
	require.Error(t, err)
	assert.True(t, IsConvergence(err))
}

func TestLogisticRegressionSeparable(t *testing.T) {
	var X [][]float64
	var y []float64
	for i := -10; i <= 10; i++ {
		if i == 0 {
			continue
		}
		X = append(X, []float64{float64(i)})
		if i > 0 {
			y = append(y, 1)
		} else {
			y = append(y, 0)
		}
	}

	m := NewLogisticRegression()
	require.NoError(t, m.Fit(X, y))

	assert.Less(t, m.Predict([]float64{-5}), 0.5)
	assert.Greater(t, m.Predict([]float64{5}), 0.5)
}

func TestRandomForestDeterministicWithSeed(t *testing.T) {
	var X [][]float64
	var y []float64
	for i := 0; i < 30; i++ {
		X = append(X, []float64{float64(i), float64(i % 5)})
		if i < 15 {
			y = append(y, 100)
		} else {
			y = append(y, 300)
		}
	}

	a := NewRandomForestRegressor(42)
	b := NewRandomForestRegressor(42)
	require.NoError(t, a.Fit(X, y))
	require.NoError(t, b.Fit(X, y))

	probe := []float64{7, 2}
	assert.Equal(t, a.Predict(probe), b.Predict(probe))

	// Leaf means keep predictions inside the observed target range.
	p := a.Predict(probe)
	assert.GreaterOrEqual(t, p, 100.0)
	assert.LessOrEqual(t, p, 300.0)
}

func TestRandomForestClassifierProbabilityRange(t *testing.T) {
	var X [][]float64
	var y []float64
	for i := 0; i < 20; i++ {
		X = append(X, []float64{float64(i)})
		if i < 10 {
			y = append(y, 0)
		} else {
			y = append(y, 1)
		}
	}

	m := NewRandomForestClassifier(7)
	require.NoError(t, m.Fit(X, y))

	for _, probe := range []float64{-3, 2, 9.5, 15, 40} {
		p := m.Predict([]float64{probe})
		assert.GreaterOrEqual(t, p, 0.0)
		assert.LessOrEqual(t, p, 1.0)
	}
	assert.Greater(t, m.Predict([]float64{18}), m.Predict([]float64{2}))
}

func TestGradientBoostingImprovesOnBase(t *testing.T) {
	var X [][]float64
	var y []float64
	for i := 0; i < 25; i++ {
		X = append(X, []float64{float64(i)})
		if i < 12 {
			y = append(y, 10)
		} else {
			y = append(y, 90)
		}
	}

	m := NewGradientBoostingRegressor()
	require.NoError(t, m.Fit(X, y))

	prediction := m.Predict([]float64{20})
	baseErr := 90 - m.Base
	assert.Less(t, 90-prediction, baseErr)
	assert.InDelta(t, 90, prediction, 15)
}

func TestSigmoidSaturation(t *testing.T) {
	assert.Equal(t, 0.0, sigmoid(-40))
	assert.Equal(t, 1.0, sigmoid(40))
	assert.InDelta(t, 0.5, sigmoid(0), 1e-12)
}

func TestClassifierBundleJSONRoundTrip(t *testing.T) {
	var X [][]float64
	var y []float64
	for i := 0; i < 20; i++ {
		X = append(X, []float64{float64(i), float64(i % 3)})
		if i < 10 {
			y = append(y, 0)
		} else {
			y = append(y, 1)
		}
	}

	model := NewRandomForestClassifier(42)
	require.NoError(t, model.Fit(X, y))

	scaler := NewStandardScaler(2)
	scaler.Fit(X)

	original := &Bundle{
		Algorithm: "random_forest_classifier",
		Task:      TaskClassification,
		Model:     model,
		Scaler:    scaler,
		TestScore: 0.9,
	}

	data, err := json.Marshal(original)
	require.NoError(t, err)

	restored := &Bundle{}
	require.NoError(t, json.Unmarshal(data, restored))

	probe := []float64{14, 1}
	assert.InDelta(t, original.Predict(probe), restored.Predict(probe), 1e-12)
	assert.Equal(t, original.Algorithm, restored.Algorithm)
	assert.Equal(t, original.Task, restored.Task)

	// The restored classifier still clamps to a probability.
	p := restored.Predict([]float64{100, 0})
	assert.GreaterOrEqual(t, p, 0.0)
	assert.LessOrEqual(t, p, 1.0)
}
