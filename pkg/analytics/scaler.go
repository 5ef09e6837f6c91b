package analytics

import (
	"math"
)

// StandardScaler normalizes features to zero mean and unit variance. It is
// fit on the training split only and reapplied, never refit, at inference.
type StandardScaler struct {
	Means   []float64 `json:"means"`
	Stddevs []float64 `json:"stddevs"`
	Fitted  bool      `json:"fitted"`
}

// NewStandardScaler creates an unfitted scaler for numFeatures columns.
func NewStandardScaler(numFeatures int) *StandardScaler {
	return &StandardScaler{
		Means:   make([]float64, numFeatures),
		Stddevs: make([]float64, numFeatures),
	}
}

// Fit calculates per-column mean and standard deviation.
func (s *StandardScaler) Fit(data [][]float64) {
	if len(data) == 0 {
		return
	}

	numFeatures := len(data[0])
	if len(s.Means) != numFeatures {
		s.Means = make([]float64, numFeatures)
		s.Stddevs = make([]float64, numFeatures)
	}

	for i := 0; i < numFeatures; i++ {
		sum := 0.0
		for _, row := range data {
			sum += row[i]
		}
		s.Means[i] = sum / float64(len(data))
	}

	for i := 0; i < numFeatures; i++ {
		sumSq := 0.0
		for _, row := range data {
			diff := row[i] - s.Means[i]
			sumSq += diff * diff
		}
		s.Stddevs[i] = math.Sqrt(sumSq / float64(len(data)))

		// Constant columns would divide by zero otherwise.
		if s.Stddevs[i] < 1e-10 {
			s.Stddevs[i] = 1.0
		}
	}

	s.Fitted = true
}

// Transform normalizes one feature vector with the fitted parameters.
func (s *StandardScaler) Transform(features []float64) []float64 {
	if !s.Fitted || len(features) != len(s.Means) {
		out := make([]float64, len(features))
		copy(out, features)
		return out
	}

	normalized := make([]float64, len(features))
	for i, f := range features {
		normalized[i] = (f - s.Means[i]) / s.Stddevs[i]
	}
	return normalized
}

// TransformAll normalizes a whole matrix.
func (s *StandardScaler) TransformAll(data [][]float64) [][]float64 {
	normalized := make([][]float64, len(data))
	for i, row := range data {
		normalized[i] = s.Transform(row)
	}
	return normalized
}

// FitTransform fits the scaler and transforms the data in one step.
func (s *StandardScaler) FitTransform(data [][]float64) [][]float64 {
	s.Fit(data)
	return s.TransformAll(data)
}
