package analytics

import (
	"errors"
	"fmt"
)

// Sentinel errors for the predictive core. Training-time shortfalls are
// reported through UntrainedStatus values instead; these errors are what
// inference callers receive.
var (
	// ErrInsufficientData: a row set is below the minimum a slot requires.
	ErrInsufficientData = errors.New("insufficient data")

	// ErrDegenerateLabel: a classification target has fewer than two classes.
	ErrDegenerateLabel = errors.New("degenerate label")

	// ErrUntrainedModel: inference requested before any successful training.
	ErrUntrainedModel = errors.New("model not trained")

	// ErrConvergence: a specific estimator failed to fit. Triggers a
	// candidate skip or a forecaster fallback, never a hard failure.
	ErrConvergence = errors.New("estimator failed to converge")
)

// UnseenCategoryError is returned when an inference-time category was not
// present in the training data. It is never silently mapped.
type UnseenCategoryError struct {
	Category string
}

func (e *UnseenCategoryError) Error() string {
	return fmt.Sprintf("category %q was not seen during training", e.Category)
}

// UntrainedStatus explains why a slot could not be trained. It is a value,
// not an error: expected data-insufficiency conditions are not control-flow
// exceptions.
type UntrainedStatus struct {
	Reason string `json:"reason"`
}

func untrainedf(format string, args ...interface{}) *UntrainedStatus {
	return &UntrainedStatus{Reason: fmt.Sprintf(format, args...)}
}
