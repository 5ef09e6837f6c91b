package analytics

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"sort"
)

// Task distinguishes the two supervised tasks the trainer handles.
type Task string

const (
	TaskRegression     Task = "regression"
	TaskClassification Task = "classification"
)

// Trainable is the capability every candidate estimator implements. For
// regression Predict returns the target estimate; for classification it
// returns the positive-class probability.
type Trainable interface {
	Name() string
	Fit(X [][]float64, y []float64) error
	Predict(x []float64) float64
}

// Candidate pairs an algorithm name with a factory so the trainer can fit a
// fresh instance per cross-validation fold.
type Candidate struct {
	Name string
	New  func() Trainable
}

// RegressionCandidates is the default candidate set for regression slots.
func RegressionCandidates(seed int64) []Candidate {
	return []Candidate{
		{Name: "linear_regression", New: func() Trainable { return NewLinearRegression() }},
		{Name: "random_forest", New: func() Trainable { return NewRandomForestRegressor(seed) }},
		{Name: "gradient_boosting", New: func() Trainable { return NewGradientBoostingRegressor() }},
	}
}

// ClassificationCandidates is the default candidate set for classification
// slots.
func ClassificationCandidates(seed int64) []Candidate {
	return []Candidate{
		{Name: "logistic_regression", New: func() Trainable { return NewLogisticRegression() }},
		{Name: "random_forest_classifier", New: func() Trainable { return NewRandomForestClassifier(seed) }},
	}
}

// estimatorByName creates an empty estimator for deserialization.
func estimatorByName(name string) (Trainable, error) {
	switch name {
	case "linear_regression":
		return NewLinearRegression(), nil
	case "random_forest":
		return NewRandomForestRegressor(0), nil
	case "gradient_boosting":
		return NewGradientBoostingRegressor(), nil
	case "logistic_regression":
		return NewLogisticRegression(), nil
	case "random_forest_classifier":
		return NewRandomForestClassifier(0), nil
	}
	return nil, fmt.Errorf("unknown estimator %q", name)
}

// ---------------------------------------------------------------------------
// Linear regression

// LinearRegression is ordinary least squares solved by Gaussian elimination
// over the normal equations, with an intercept term.
type LinearRegression struct {
	Weights []float64 `json:"weights"` // intercept first
}

func NewLinearRegression() *LinearRegression { return &LinearRegression{} }

func (m *LinearRegression) Name() string { return "linear_regression" }

func (m *LinearRegression) Fit(X [][]float64, y []float64) error {
	if len(X) == 0 {
		return fmt.Errorf("%w: empty design matrix", ErrConvergence)
	}
	p := len(X[0]) + 1 // intercept

	// Normal equations: (XᵀX) w = Xᵀy, with a small ridge term so nearly
	// collinear columns do not blow up on tiny training sets.
	a := make([][]float64, p)
	b := make([]float64, p)
	for i := range a {
		a[i] = make([]float64, p)
	}
	for _, row := range X {
		xi := make([]float64, p)
		xi[0] = 1
		copy(xi[1:], row)
		for i := 0; i < p; i++ {
			for j := 0; j < p; j++ {
				a[i][j] += xi[i] * xi[j]
			}
		}
	}
	for k, row := range X {
		xi := make([]float64, p)
		xi[0] = 1
		copy(xi[1:], row)
		for i := 0; i < p; i++ {
			b[i] += xi[i] * y[k]
		}
	}
	for i := 1; i < p; i++ {
		a[i][i] += 1e-8
	}

	weights, err := solveLinearSystem(a, b)
	if err != nil {
		return err
	}
	m.Weights = weights
	return nil
}

func (m *LinearRegression) Predict(x []float64) float64 {
	if len(m.Weights) == 0 {
		return 0
	}
	out := m.Weights[0]
	for i, v := range x {
		if i+1 < len(m.Weights) {
			out += m.Weights[i+1] * v
		}
	}
	return out
}

// solveLinearSystem solves a·w = b by Gaussian elimination with partial
// pivoting. A vanishing pivot reports ErrConvergence.
func solveLinearSystem(a [][]float64, b []float64) ([]float64, error) {
	n := len(a)
	for col := 0; col < n; col++ {
		pivot := col
		for row := col + 1; row < n; row++ {
			if math.Abs(a[row][col]) > math.Abs(a[pivot][col]) {
				pivot = row
			}
		}
		if math.Abs(a[pivot][col]) < 1e-12 {
			return nil, fmt.Errorf("%w: singular normal equations", ErrConvergence)
		}
		a[col], a[pivot] = a[pivot], a[col]
		b[col], b[pivot] = b[pivot], b[col]

		for row := col + 1; row < n; row++ {
			factor := a[row][col] / a[col][col]
			for k := col; k < n; k++ {
				a[row][k] -= factor * a[col][k]
			}
			b[row] -= factor * b[col]
		}
	}

	w := make([]float64, n)
	for i := n - 1; i >= 0; i-- {
		sum := b[i]
		for j := i + 1; j < n; j++ {
			sum -= a[i][j] * w[j]
		}
		w[i] = sum / a[i][i]
	}
	for _, v := range w {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("%w: non-finite solution", ErrConvergence)
		}
	}
	return w, nil
}

// ---------------------------------------------------------------------------
// Logistic regression

// LogisticRegression is binary logistic regression fit by full-batch gradient
// descent on standardized features.
type LogisticRegression struct {
	Weights      []float64 `json:"weights"` // intercept first
	LearningRate float64   `json:"learning_rate"`
	Epochs       int       `json:"epochs"`
}

func NewLogisticRegression() *LogisticRegression {
	return &LogisticRegression{LearningRate: 0.1, Epochs: 500}
}

func (m *LogisticRegression) Name() string { return "logistic_regression" }

func (m *LogisticRegression) Fit(X [][]float64, y []float64) error {
	if len(X) == 0 {
		return fmt.Errorf("%w: empty design matrix", ErrConvergence)
	}
	p := len(X[0]) + 1
	w := make([]float64, p)
	n := float64(len(X))

	for epoch := 0; epoch < m.Epochs; epoch++ {
		grad := make([]float64, p)
		for k, row := range X {
			z := w[0]
			for i, v := range row {
				z += w[i+1] * v
			}
			err := sigmoid(z) - y[k]
			grad[0] += err
			for i, v := range row {
				grad[i+1] += err * v
			}
		}
		for i := range w {
			w[i] -= m.LearningRate * grad[i] / n
		}
	}

	for _, v := range w {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: weights diverged", ErrConvergence)
		}
	}
	m.Weights = w
	return nil
}

func (m *LogisticRegression) Predict(x []float64) float64 {
	if len(m.Weights) == 0 {
		return 0.5
	}
	z := m.Weights[0]
	for i, v := range x {
		if i+1 < len(m.Weights) {
			z += m.Weights[i+1] * v
		}
	}
	return sigmoid(z)
}

func sigmoid(z float64) float64 {
	if z < -30 {
		return 0
	}
	if z > 30 {
		return 1
	}
	return 1 / (1 + math.Exp(-z))
}

// ---------------------------------------------------------------------------
// Regression trees and forests

// TreeNode is one node of a CART regression tree. Leaf nodes carry the mean
// target of their training rows.
type TreeNode struct {
	Feature   int       `json:"feature"`
	Threshold float64   `json:"threshold"`
	Left      *TreeNode `json:"left,omitempty"`
	Right     *TreeNode `json:"right,omitempty"`
	Value     float64   `json:"value"`
	Leaf      bool      `json:"leaf"`
}

func (n *TreeNode) predict(x []float64) float64 {
	if n.Leaf {
		return n.Value
	}
	if n.Feature < len(x) && x[n.Feature] <= n.Threshold {
		return n.Left.predict(x)
	}
	return n.Right.predict(x)
}

// growTree builds a regression tree on the index subset idx, sampling mtry
// candidate features per split.
func growTree(X [][]float64, y []float64, idx []int, depth, maxDepth, minLeaf, mtry int, rng *rand.Rand) *TreeNode {
	mean := 0.0
	for _, i := range idx {
		mean += y[i]
	}
	mean /= float64(len(idx))

	if depth >= maxDepth || len(idx) < 2*minLeaf {
		return &TreeNode{Leaf: true, Value: mean}
	}

	sse := 0.0
	for _, i := range idx {
		d := y[i] - mean
		sse += d * d
	}
	if sse < 1e-12 {
		return &TreeNode{Leaf: true, Value: mean}
	}

	numFeatures := len(X[idx[0]])
	features := rng.Perm(numFeatures)
	if mtry < numFeatures {
		features = features[:mtry]
	}

	bestSSE := sse
	bestFeature, bestThreshold := -1, 0.0

	for _, f := range features {
		values := make([]float64, 0, len(idx))
		for _, i := range idx {
			values = append(values, X[i][f])
		}
		sort.Float64s(values)

		for v := 0; v < len(values)-1; v++ {
			if values[v] == values[v+1] {
				continue
			}
			threshold := (values[v] + values[v+1]) / 2
			leftSum, rightSum := 0.0, 0.0
			leftN, rightN := 0, 0
			for _, i := range idx {
				if X[i][f] <= threshold {
					leftSum += y[i]
					leftN++
				} else {
					rightSum += y[i]
					rightN++
				}
			}
			if leftN < minLeaf || rightN < minLeaf {
				continue
			}
			leftMean := leftSum / float64(leftN)
			rightMean := rightSum / float64(rightN)
			split := 0.0
			for _, i := range idx {
				if X[i][f] <= threshold {
					d := y[i] - leftMean
					split += d * d
				} else {
					d := y[i] - rightMean
					split += d * d
				}
			}
			if split < bestSSE {
				bestSSE = split
				bestFeature = f
				bestThreshold = threshold
			}
		}
	}

	if bestFeature < 0 {
		return &TreeNode{Leaf: true, Value: mean}
	}

	var leftIdx, rightIdx []int
	for _, i := range idx {
		if X[i][bestFeature] <= bestThreshold {
			leftIdx = append(leftIdx, i)
		} else {
			rightIdx = append(rightIdx, i)
		}
	}

	return &TreeNode{
		Feature:   bestFeature,
		Threshold: bestThreshold,
		Left:      growTree(X, y, leftIdx, depth+1, maxDepth, minLeaf, mtry, rng),
		Right:     growTree(X, y, rightIdx, depth+1, maxDepth, minLeaf, mtry, rng),
	}
}

// RandomForestRegressor is a bagged ensemble of CART regression trees with
// per-split feature subsampling. The seed fixes bootstrap sampling so a
// retrain over identical data reproduces the same forest.
type RandomForestRegressor struct {
	Trees    []*TreeNode `json:"trees"`
	NumTrees int         `json:"num_trees"`
	MaxDepth int         `json:"max_depth"`
	MinLeaf  int         `json:"min_leaf"`
	Seed     int64       `json:"seed"`

	classify bool
}

func NewRandomForestRegressor(seed int64) *RandomForestRegressor {
	return &RandomForestRegressor{NumTrees: 50, MaxDepth: 4, MinLeaf: 1, Seed: seed}
}

func (m *RandomForestRegressor) Name() string { return "random_forest" }

func (m *RandomForestRegressor) Fit(X [][]float64, y []float64) error {
	if len(X) == 0 {
		return fmt.Errorf("%w: empty design matrix", ErrConvergence)
	}
	rng := rand.New(rand.NewSource(m.Seed))
	mtry := int(math.Sqrt(float64(len(X[0]))))
	if mtry < 1 {
		mtry = 1
	}

	m.Trees = make([]*TreeNode, 0, m.NumTrees)
	for t := 0; t < m.NumTrees; t++ {
		idx := make([]int, len(X))
		for i := range idx {
			idx[i] = rng.Intn(len(X))
		}
		m.Trees = append(m.Trees, growTree(X, y, idx, 0, m.MaxDepth, m.MinLeaf, mtry, rng))
	}
	return nil
}

func (m *RandomForestRegressor) Predict(x []float64) float64 {
	if len(m.Trees) == 0 {
		return 0
	}
	sum := 0.0
	for _, tree := range m.Trees {
		sum += tree.predict(x)
	}
	out := sum / float64(len(m.Trees))
	if m.classify {
		return clamp01(out)
	}
	return out
}

// RandomForestClassifier reuses the regression forest over 0/1 labels; the
// averaged leaf means are the positive-class probability.
type RandomForestClassifier struct {
	RandomForestRegressor
}

func NewRandomForestClassifier(seed int64) *RandomForestClassifier {
	m := &RandomForestClassifier{RandomForestRegressor: *NewRandomForestRegressor(seed)}
	m.classify = true
	return m
}

func (m *RandomForestClassifier) Name() string { return "random_forest_classifier" }

// UnmarshalJSON restores the embedded forest and re-arms probability
// clamping, which is not serialized.
func (m *RandomForestClassifier) UnmarshalJSON(data []byte) error {
	if err := json.Unmarshal(data, &m.RandomForestRegressor); err != nil {
		return err
	}
	m.classify = true
	return nil
}

// ---------------------------------------------------------------------------
// Gradient boosting

// boostStump is one depth-1 regression tree in a boosted ensemble.
type boostStump struct {
	Feature   int     `json:"feature"`
	Threshold float64 `json:"threshold"`
	LeftVal   float64 `json:"left_val"`
	RightVal  float64 `json:"right_val"`
}

// GradientBoostingRegressor boosts least-squares stumps with a shrinkage
// factor, the classic slow-learner configuration.
type GradientBoostingRegressor struct {
	Base         float64      `json:"base"`
	Stumps       []boostStump `json:"stumps"`
	Rounds       int          `json:"rounds"`
	LearningRate float64      `json:"learning_rate"`
}

func NewGradientBoostingRegressor() *GradientBoostingRegressor {
	return &GradientBoostingRegressor{Rounds: 100, LearningRate: 0.1}
}

func (m *GradientBoostingRegressor) Name() string { return "gradient_boosting" }

func (m *GradientBoostingRegressor) Fit(X [][]float64, y []float64) error {
	if len(X) == 0 {
		return fmt.Errorf("%w: empty design matrix", ErrConvergence)
	}

	m.Base = 0
	for _, v := range y {
		m.Base += v
	}
	m.Base /= float64(len(y))

	pred := make([]float64, len(y))
	for i := range pred {
		pred[i] = m.Base
	}

	m.Stumps = m.Stumps[:0]
	numFeatures := len(X[0])

	for round := 0; round < m.Rounds; round++ {
		residual := make([]float64, len(y))
		for i := range y {
			residual[i] = y[i] - pred[i]
		}

		stump, ok := fitStump(X, residual, numFeatures)
		if !ok {
			break // residuals are flat, nothing left to learn
		}
		m.Stumps = append(m.Stumps, stump)

		for i, row := range X {
			pred[i] += m.LearningRate * stump.apply(row)
		}
	}
	return nil
}

func (s boostStump) apply(x []float64) float64 {
	if s.Feature < len(x) && x[s.Feature] <= s.Threshold {
		return s.LeftVal
	}
	return s.RightVal
}

func fitStump(X [][]float64, residual []float64, numFeatures int) (boostStump, bool) {
	bestSSE := math.Inf(1)
	var best boostStump
	found := false

	for f := 0; f < numFeatures; f++ {
		values := make([]float64, len(X))
		for i := range X {
			values[i] = X[i][f]
		}
		sort.Float64s(values)

		for v := 0; v < len(values)-1; v++ {
			if values[v] == values[v+1] {
				continue
			}
			threshold := (values[v] + values[v+1]) / 2
			leftSum, rightSum := 0.0, 0.0
			leftN, rightN := 0, 0
			for i := range X {
				if X[i][f] <= threshold {
					leftSum += residual[i]
					leftN++
				} else {
					rightSum += residual[i]
					rightN++
				}
			}
			if leftN == 0 || rightN == 0 {
				continue
			}
			leftMean := leftSum / float64(leftN)
			rightMean := rightSum / float64(rightN)
			sse := 0.0
			for i := range X {
				var d float64
				if X[i][f] <= threshold {
					d = residual[i] - leftMean
				} else {
					d = residual[i] - rightMean
				}
				sse += d * d
			}
			if sse < bestSSE {
				bestSSE = sse
				best = boostStump{Feature: f, Threshold: threshold, LeftVal: leftMean, RightVal: rightMean}
				found = true
			}
		}
	}

	if !found {
		return boostStump{}, false
	}
	if math.Abs(best.LeftVal) < 1e-12 && math.Abs(best.RightVal) < 1e-12 {
		return boostStump{}, false
	}
	return best, true
}

func (m *GradientBoostingRegressor) Predict(x []float64) float64 {
	out := m.Base
	for _, s := range m.Stumps {
		out += m.LearningRate * s.apply(x)
	}
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
