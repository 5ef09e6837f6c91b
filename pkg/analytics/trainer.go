package analytics

import (
	"encoding/json"
	"errors"
	"math"
	"math/rand"
	"time"
)

// TrainOptions controls the generic training routine.
type TrainOptions struct {
	MinRows      int     // minimum rows required to attempt training
	CVFolds      int     // k is capped at the training-split size
	TestFraction float64 // held-out share, default 0.2
	Seed         int64   // fixes the split and any estimator randomness
}

func (o TrainOptions) withDefaults() TrainOptions {
	if o.MinRows < 2 {
		o.MinRows = 2
	}
	if o.CVFolds < 2 {
		o.CVFolds = 5
	}
	if o.TestFraction <= 0 || o.TestFraction >= 1 {
		o.TestFraction = 0.2
	}
	return o
}

// CandidateScore is the per-candidate record kept for the status reporter.
// CV score is diagnostic only; selection goes by test score.
type CandidateScore struct {
	Name      string  `json:"name"`
	CVScore   float64 `json:"cv_score"`
	TestScore float64 `json:"test_score"`
	Selected  bool    `json:"selected"`
	FitError  string  `json:"fit_error,omitempty"`
}

// Bundle is one trained model together with its fitted scaler and evaluation
// metrics, treated as an atomic immutable unit. It is replaced wholesale on
// retrain, never mutated.
type Bundle struct {
	Algorithm  string           `json:"algorithm"`
	Task       Task             `json:"task"`
	Model      Trainable        `json:"-"`
	Scaler     *StandardScaler  `json:"scaler"`
	TestScore  float64          `json:"test_score"`
	CVScore    float64          `json:"cv_score"`
	Candidates []CandidateScore `json:"candidates"`
	TrainedAt  time.Time        `json:"trained_at"`
}

// bundleJSON is the serialized form of a Bundle; the model parameters ride
// along as raw JSON keyed by algorithm name.
type bundleJSON struct {
	Algorithm  string           `json:"algorithm"`
	Task       Task             `json:"task"`
	Model      json.RawMessage  `json:"model"`
	Scaler     *StandardScaler  `json:"scaler"`
	TestScore  float64          `json:"test_score"`
	CVScore    float64          `json:"cv_score"`
	Candidates []CandidateScore `json:"candidates"`
	TrainedAt  time.Time        `json:"trained_at"`
}

func (b *Bundle) MarshalJSON() ([]byte, error) {
	model, err := json.Marshal(b.Model)
	if err != nil {
		return nil, err
	}
	return json.Marshal(bundleJSON{
		Algorithm:  b.Algorithm,
		Task:       b.Task,
		Model:      model,
		Scaler:     b.Scaler,
		TestScore:  b.TestScore,
		CVScore:    b.CVScore,
		Candidates: b.Candidates,
		TrainedAt:  b.TrainedAt,
	})
}

func (b *Bundle) UnmarshalJSON(data []byte) error {
	var raw bundleJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	model, err := estimatorByName(raw.Algorithm)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw.Model, model); err != nil {
		return err
	}
	b.Algorithm = raw.Algorithm
	b.Task = raw.Task
	b.Model = model
	b.Scaler = raw.Scaler
	b.TestScore = raw.TestScore
	b.CVScore = raw.CVScore
	b.Candidates = raw.Candidates
	b.TrainedAt = raw.TrainedAt
	return nil
}

// Predict scales a raw feature vector with the bundle's scaler and runs the
// model.
func (b *Bundle) Predict(features []float64) float64 {
	return b.Model.Predict(b.Scaler.Transform(features))
}

// Train fits every candidate, cross-validates on the training split, scores
// on the held-out split, and returns a bundle around the candidate with the
// best test score. Exactly one of the two results is non-nil: shortfalls in
// the data come back as an UntrainedStatus, never as a panic or error.
func Train(candidates []Candidate, X [][]float64, y []float64, task Task, opts TrainOptions) (*Bundle, *UntrainedStatus) {
	opts = opts.withDefaults()

	if len(X) < opts.MinRows {
		return nil, untrainedf("insufficient data: %d rows, need at least %d", len(X), opts.MinRows)
	}
	if task == TaskClassification && distinctValues(y) < 2 {
		return nil, untrainedf("degenerate label: classification target has a single class")
	}

	trainIdx, testIdx := splitIndices(y, task, opts)

	trainX, trainY := subset(X, y, trainIdx)
	testX, testY := subset(X, y, testIdx)

	// The scaler is fit on the training split only and becomes part of the
	// bundle; inference reapplies it, never refits.
	scaler := NewStandardScaler(len(X[0]))
	scaledTrain := scaler.FitTransform(trainX)
	scaledTest := scaler.TransformAll(testX)

	scores := make([]CandidateScore, 0, len(candidates))
	bestIdx := -1
	bestScore := math.Inf(-1)
	var bestModel Trainable

	for _, c := range candidates {
		record := CandidateScore{Name: c.Name}

		// NaN and Inf are not representable in the persisted JSON; a fold-less
		// CV stays at zero with the fit error telling the story.
		if cv := crossValidate(c, scaledTrain, trainY, task, opts.CVFolds); !math.IsNaN(cv) && !math.IsInf(cv, 0) {
			record.CVScore = cv
		}

		model := c.New()
		if err := model.Fit(scaledTrain, trainY); err != nil {
			// A non-converging candidate is skipped, the rest continue.
			record.FitError = err.Error()
			scores = append(scores, record)
			continue
		}

		record.TestScore = scoreModel(model, scaledTest, testY, task)
		scores = append(scores, record)

		// Strict comparison keeps the first-enumerated candidate on ties.
		if record.TestScore > bestScore {
			bestScore = record.TestScore
			bestIdx = len(scores) - 1
			bestModel = model
		}
	}

	if bestIdx < 0 {
		return nil, untrainedf("all %d candidates failed to fit", len(candidates))
	}
	scores[bestIdx].Selected = true

	return &Bundle{
		Algorithm:  scores[bestIdx].Name,
		Task:       task,
		Model:      bestModel,
		Scaler:     scaler,
		TestScore:  scores[bestIdx].TestScore,
		CVScore:    scores[bestIdx].CVScore,
		Candidates: scores,
		TrainedAt:  time.Now().UTC(),
	}, nil
}

// splitIndices produces a seeded shuffled 80/20 split. Classification is
// stratified per class when every class has at least two members.
func splitIndices(y []float64, task Task, opts TrainOptions) (train, test []int) {
	rng := rand.New(rand.NewSource(opts.Seed))

	if task == TaskClassification && stratifiable(y) {
		byClass := make(map[float64][]int)
		for i, v := range y {
			byClass[v] = append(byClass[v], i)
		}
		// Deterministic class order.
		classes := distinctSorted(y)
		for _, class := range classes {
			idx := byClass[class]
			rng.Shuffle(len(idx), func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })
			n := testSize(len(idx), opts.TestFraction)
			test = append(test, idx[:n]...)
			train = append(train, idx[n:]...)
		}
		return train, test
	}

	idx := make([]int, len(y))
	for i := range idx {
		idx[i] = i
	}
	rng.Shuffle(len(idx), func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })
	n := testSize(len(idx), opts.TestFraction)
	return idx[n:], idx[:n]
}

func testSize(n int, fraction float64) int {
	size := int(math.Round(float64(n) * fraction))
	if size < 1 {
		size = 1
	}
	if size >= n {
		size = n - 1
	}
	return size
}

func stratifiable(y []float64) bool {
	counts := make(map[float64]int)
	for _, v := range y {
		counts[v]++
	}
	for _, c := range counts {
		if c < 2 {
			return false
		}
	}
	return len(counts) >= 2
}

// crossValidate runs k-fold CV over the (already scaled) training split and
// returns the mean fold score. k never exceeds the number of rows.
func crossValidate(c Candidate, X [][]float64, y []float64, task Task, folds int) float64 {
	k := folds
	if k > len(X) {
		k = len(X)
	}
	if k < 2 {
		return math.NaN()
	}

	total := 0.0
	counted := 0
	for fold := 0; fold < k; fold++ {
		var trainIdx, valIdx []int
		for i := range X {
			if i%k == fold {
				valIdx = append(valIdx, i)
			} else {
				trainIdx = append(trainIdx, i)
			}
		}
		foldTrainX, foldTrainY := subset(X, y, trainIdx)
		foldValX, foldValY := subset(X, y, valIdx)

		model := c.New()
		if err := model.Fit(foldTrainX, foldTrainY); err != nil {
			continue
		}
		total += scoreModel(model, foldValX, foldValY, task)
		counted++
	}
	if counted == 0 {
		return math.NaN()
	}
	return total / float64(counted)
}

// scoreModel scores X,y with the task's metric family: negative MSE for
// regression (higher is better), accuracy for classification.
func scoreModel(model Trainable, X [][]float64, y []float64, task Task) float64 {
	if len(X) == 0 {
		return math.Inf(-1)
	}
	if task == TaskClassification {
		correct := 0
		for i, row := range X {
			predicted := 0.0
			if model.Predict(row) >= 0.5 {
				predicted = 1.0
			}
			if predicted == y[i] {
				correct++
			}
		}
		return float64(correct) / float64(len(X))
	}

	sse := 0.0
	for i, row := range X {
		d := model.Predict(row) - y[i]
		sse += d * d
	}
	return -sse / float64(len(X))
}

func subset(X [][]float64, y []float64, idx []int) ([][]float64, []float64) {
	subX := make([][]float64, len(idx))
	subY := make([]float64, len(idx))
	for j, i := range idx {
		subX[j] = X[i]
		subY[j] = y[i]
	}
	return subX, subY
}

func distinctValues(y []float64) int {
	seen := make(map[float64]struct{})
	for _, v := range y {
		seen[v] = struct{}{}
	}
	return len(seen)
}

func distinctSorted(y []float64) []float64 {
	seen := make(map[float64]struct{})
	var out []float64
	for _, v := range y {
		if _, ok := seen[v]; !ok {
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j] < out[j-1]; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

// IsConvergence reports whether err came from an estimator that failed to
// fit.
func IsConvergence(err error) bool { return errors.Is(err, ErrConvergence) }
