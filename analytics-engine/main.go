package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/promo-insight/pkg/analytics"
	"github.com/promo-insight/pkg/logger"
	"github.com/promo-insight/pkg/metrics"
)

type app struct {
	cfg             serviceConfig
	store           *Store
	engine          *analytics.Engine
	producer        *kafka.Writer
	retrainRequests chan struct{}
}

// retrain loads the three row sets, runs the full training pipeline, persists
// the trained slots and publishes model events. A slot that stays untrained is
// a reported outcome, not an error.
func (a *app) retrain(ctx context.Context) error {
	start := time.Now()

	products, err := a.store.LoadProducts(ctx)
	if err != nil {
		return err
	}
	promotions, err := a.store.LoadPromotions(ctx)
	if err != nil {
		return err
	}
	sales, err := a.store.LoadSales(ctx)
	if err != nil {
		return err
	}

	statuses := a.engine.TrainAll(products, promotions, sales)
	metrics.TrainingDuration.Observe(time.Since(start).Seconds())

	for slot, status := range statuses {
		outcome := "untrained"
		if status.Trained {
			outcome = "trained"
		}
		metrics.TrainingsTotal.WithLabelValues(string(slot), outcome).Inc()

		event := logger.Info().Str("slot", string(slot)).Bool("trained", status.Trained)
		if status.Trained {
			event = event.Str("algorithm", status.Algorithm).Float64(status.MetricName, status.Metric)
		} else {
			event = event.Str("reason", status.Reason)
		}
		event.Msg("Training finished")
	}

	a.persistSlots(ctx)
	a.publishModelEvents(ctx)
	return nil
}

func main() {
	logger.InitLogger("analytics-engine")
	cfg := loadConfig()

	store, err := OpenStore(cfg.pgDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to open store")
	}
	defer store.Close()

	a := &app{
		cfg:             cfg,
		store:           store,
		engine:          analytics.NewEngine(cfg.engine),
		retrainRequests: make(chan struct{}, 1),
	}

	if len(cfg.kafkaBrokers) > 0 {
		a.producer = &kafka.Writer{
			Addr:     kafka.TCP(cfg.kafkaBrokers...),
			Topic:    cfg.modelEventsTopic,
			Balancer: &kafka.LeastBytes{},
		}
		defer a.producer.Close()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if restored := a.restoreSlots(ctx); restored > 0 {
		logger.Info().Int("slots", restored).Msg("Restored persisted models")
	} else if cfg.trainOnStart {
		go func() {
			if err := a.retrain(ctx); err != nil {
				logger.Error().Err(err).Msg("Initial training failed")
			}
		}()
	}

	if len(cfg.kafkaBrokers) > 0 {
		go a.consumeSales(ctx)
	}
	go a.retrainLoop(ctx)

	srv := a.serve()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info().Msg("Shutting down")

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP shutdown failed")
	}
}
