package main

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/promo-insight/pkg/analytics"
)

const (
	defaultHTTPAddr        = ":8087"
	defaultPGDSN           = "host=localhost user=admin password=password dbname=promo_insight sslmode=disable"
	defaultSalesTopic      = "sale_events"
	defaultModelTopic      = "model_events"
	defaultHorizonDays     = 30
	defaultRetrainDebounce = 2 * time.Minute
)

type serviceConfig struct {
	httpAddr         string
	pgDSN            string
	kafkaBrokers     []string
	salesTopic       string
	modelEventsTopic string
	horizonDays      int
	retrainDebounce  time.Duration
	trainOnStart     bool
	engine           analytics.Config
}

// loadConfig reads the environment (optionally seeded from a .env file) and
// clamps every knob to a sane range.
func loadConfig() serviceConfig {
	_ = godotenv.Load() // absent .env is fine, env vars win anyway

	cfg := serviceConfig{
		httpAddr:         getEnvStr("HTTP_ADDR", defaultHTTPAddr),
		pgDSN:            getEnvStr("PG_DSN", defaultPGDSN),
		salesTopic:       getEnvStr("SALES_TOPIC", defaultSalesTopic),
		modelEventsTopic: getEnvStr("MODEL_EVENTS_TOPIC", defaultModelTopic),
		horizonDays:      getEnvInt("FORECAST_HORIZON_DAYS", defaultHorizonDays),
		retrainDebounce:  getEnvDuration("RETRAIN_DEBOUNCE", defaultRetrainDebounce),
		trainOnStart:     getEnvInt("TRAIN_ON_START", 1) == 1,
		engine: analytics.Config{
			MinTrainingRows:  getEnvInt("MIN_TRAINING_ROWS", 5),
			MinPromotionRows: getEnvInt("MIN_PROMOTION_ROWS", 10),
			MinForecastDays:  getEnvInt("MIN_FORECAST_DAYS", 10),
			CVFolds:          getEnvInt("CV_FOLDS", 5),
			Seed:             int64(getEnvInt("TRAIN_SEED", 42)),
		},
	}

	if brokers := getEnvStr("KAFKA_BROKERS", ""); brokers != "" {
		cfg.kafkaBrokers = strings.Split(brokers, ",")
	}

	if cfg.horizonDays < 1 {
		cfg.horizonDays = defaultHorizonDays
	}
	if cfg.horizonDays > 365 {
		cfg.horizonDays = 365
	}
	if cfg.retrainDebounce < 10*time.Second {
		cfg.retrainDebounce = 10 * time.Second
	}
	if cfg.engine.MinTrainingRows < 2 {
		cfg.engine.MinTrainingRows = 5
	}
	if cfg.engine.MinPromotionRows < 2 {
		cfg.engine.MinPromotionRows = 10
	}
	if cfg.engine.MinForecastDays < 2 {
		cfg.engine.MinForecastDays = 10
	}
	if cfg.engine.CVFolds < 2 {
		cfg.engine.CVFolds = 5
	}

	return cfg
}

func getEnvStr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(name string, fallback int) int {
	v := os.Getenv(name)
	if v == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvDuration(name string, fallback time.Duration) time.Duration {
	v := os.Getenv(name)
	if v == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return parsed
}
