package main

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/promo-insight/pkg/domain"
	"github.com/promo-insight/pkg/logger"
	"github.com/promo-insight/pkg/metrics"
)

// modelTrainedEvent is published after every completed training run so
// downstream dashboards can refresh.
type modelTrainedEvent struct {
	Slot      string    `json:"slot"`
	Trained   bool      `json:"trained"`
	Algorithm string    `json:"algorithm,omitempty"`
	Metric    float64   `json:"metric,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// consumeSales reads sale events from Kafka, appends them to the store and
// requests a debounced retrain. Blocks until the context is cancelled.
func (a *app) consumeSales(ctx context.Context) {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  a.cfg.kafkaBrokers,
		GroupID:  "analytics-engine",
		Topic:    a.cfg.salesTopic,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	defer reader.Close()

	logger.Info().Str("topic", a.cfg.salesTopic).Msg("Sale event consumer started")

	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error().Err(err).Msg("Failed to read sale event")
			time.Sleep(time.Second)
			continue
		}

		var sale domain.SaleRecord
		if err := json.Unmarshal(msg.Value, &sale); err != nil {
			logger.Warn().Err(err).Msg("Skipping malformed sale event")
			continue
		}
		if sale.Date.IsZero() {
			sale.Date = time.Now().UTC()
		}

		if err := a.store.InsertSale(ctx, &sale); err != nil {
			logger.Error().Err(err).Int64("product_id", sale.ProductID).Msg("Failed to store sale event")
			continue
		}
		metrics.SalesIngestedTotal.Inc()
		a.requestRetrain()
	}
}

// requestRetrain is non-blocking; coalescing happens in retrainLoop.
func (a *app) requestRetrain() {
	select {
	case a.retrainRequests <- struct{}{}:
	default:
	}
}

// retrainLoop coalesces retrain requests: a burst of sale events triggers one
// training run after the debounce window goes quiet.
func (a *app) retrainLoop(ctx context.Context) {
	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case <-a.retrainRequests:
			if timer == nil {
				timer = time.NewTimer(a.cfg.retrainDebounce)
				fire = timer.C
			} else {
				if !timer.Stop() {
					<-timer.C
				}
				timer.Reset(a.cfg.retrainDebounce)
			}
		case <-fire:
			timer = nil
			fire = nil
			if err := a.retrain(ctx); err != nil {
				logger.Error().Err(err).Msg("Debounced retrain failed")
			}
		}
	}
}

// publishModelEvents emits one event per slot to the model events topic. A nil
// producer (Kafka disabled) is a no-op.
func (a *app) publishModelEvents(ctx context.Context) {
	if a.producer == nil {
		return
	}

	statuses := a.engine.Status()
	messages := make([]kafka.Message, 0, len(statuses))
	now := time.Now().UTC()
	for slot, status := range statuses {
		event := modelTrainedEvent{
			Slot:      string(slot),
			Trained:   status.Trained,
			Algorithm: status.Algorithm,
			Metric:    status.Metric,
			Reason:    status.Reason,
			Timestamp: now,
		}
		value, err := json.Marshal(event)
		if err != nil {
			continue
		}
		messages = append(messages, kafka.Message{Key: []byte(slot), Value: value})
	}

	if err := a.producer.WriteMessages(ctx, messages...); err != nil {
		logger.Error().Err(err).Msg("Failed to publish model events")
		return
	}
	logger.Debug().Int("events", len(messages)).Msg("Published model events")
}
