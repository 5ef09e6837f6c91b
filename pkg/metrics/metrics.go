package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TrainingsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "model_trainings_total",
			Help: "Training runs per model slot and outcome",
		},
		[]string{"slot", "outcome"},
	)

	TrainingDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name: "model_training_duration_seconds",
			Help: "Duration of a full training pipeline run",
		},
	)

	PredictionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "predictions_total",
			Help: "Inference calls per prediction kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	StoreQueriesDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "store_queries_duration_seconds",
			Help: "Storage query duration",
		},
		[]string{"operation"},
	)

	SalesIngestedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sales_ingested_total",
			Help: "Sale records ingested from the event stream",
		},
	)
)
