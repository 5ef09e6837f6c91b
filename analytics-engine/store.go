package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/promo-insight/pkg/domain"
	"github.com/promo-insight/pkg/metrics"
)

// Store wraps the Postgres connection used for the retail tables and for
// persisted model bundles.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS products (
	id       BIGSERIAL PRIMARY KEY,
	name     TEXT NOT NULL,
	price    DOUBLE PRECISION NOT NULL,
	category TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS promotions (
	id           BIGSERIAL PRIMARY KEY,
	name         TEXT NOT NULL,
	discount_pct DOUBLE PRECISION NOT NULL,
	product_id   BIGINT NOT NULL,
	active       BOOLEAN NOT NULL DEFAULT TRUE
);

CREATE TABLE IF NOT EXISTS sales (
	id           BIGSERIAL PRIMARY KEY,
	product_id   BIGINT NOT NULL,
	promotion_id BIGINT,
	quantity     INTEGER NOT NULL,
	revenue      DOUBLE PRECISION NOT NULL,
	sale_date    TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sales_date ON sales (sale_date);

CREATE TABLE IF NOT EXISTS model_bundles (
	id         BIGSERIAL PRIMARY KEY,
	slot       TEXT NOT NULL,
	payload    JSONB NOT NULL,
	trained_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_model_bundles_slot ON model_bundles (slot, trained_at DESC);
`

// OpenStore connects to Postgres, verifies the connection and ensures the
// schema exists.
func OpenStore(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func observe(op string, start time.Time) {
	metrics.StoreQueriesDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (s *Store) LoadProducts(ctx context.Context) ([]domain.Product, error) {
	defer observe("load_products", time.Now())

	rows, err := s.db.QueryContext(ctx, `SELECT id, name, price, category FROM products ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query products: %w", err)
	}
	defer rows.Close()

	var products []domain.Product
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Price, &p.Category); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

func (s *Store) LoadPromotions(ctx context.Context) ([]domain.Promotion, error) {
	defer observe("load_promotions", time.Now())

	rows, err := s.db.QueryContext(ctx, `SELECT id, name, discount_pct, product_id, active FROM promotions ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query promotions: %w", err)
	}
	defer rows.Close()

	var promotions []domain.Promotion
	for rows.Next() {
		var p domain.Promotion
		if err := rows.Scan(&p.ID, &p.Name, &p.DiscountPct, &p.ProductID, &p.Active); err != nil {
			return nil, fmt.Errorf("scan promotion: %w", err)
		}
		promotions = append(promotions, p)
	}
	return promotions, rows.Err()
}

func (s *Store) LoadSales(ctx context.Context) ([]domain.SaleRecord, error) {
	defer observe("load_sales", time.Now())

	rows, err := s.db.QueryContext(ctx, `SELECT id, product_id, promotion_id, quantity, revenue, sale_date FROM sales ORDER BY sale_date, id`)
	if err != nil {
		return nil, fmt.Errorf("query sales: %w", err)
	}
	defer rows.Close()

	var sales []domain.SaleRecord
	for rows.Next() {
		var (
			rec   domain.SaleRecord
			promo sql.NullInt64
		)
		if err := rows.Scan(&rec.ID, &rec.ProductID, &promo, &rec.Quantity, &rec.Revenue, &rec.Date); err != nil {
			return nil, fmt.Errorf("scan sale: %w", err)
		}
		if promo.Valid {
			id := promo.Int64
			rec.PromotionID = &id
		}
		sales = append(sales, rec)
	}
	return sales, rows.Err()
}

func (s *Store) InsertSale(ctx context.Context, rec *domain.SaleRecord) error {
	defer observe("insert_sale", time.Now())

	var promo sql.NullInt64
	if rec.PromotionID != nil {
		promo = sql.NullInt64{Int64: *rec.PromotionID, Valid: true}
	}
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO sales (product_id, promotion_id, quantity, revenue, sale_date)
		 VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		rec.ProductID, promo, rec.Quantity, rec.Revenue, rec.Date,
	).Scan(&rec.ID)
	if err != nil {
		return fmt.Errorf("insert sale: %w", err)
	}
	return nil
}

func (s *Store) SaveBundle(ctx context.Context, slot string, payload []byte) error {
	defer observe("save_bundle", time.Now())

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO model_bundles (slot, payload) VALUES ($1, $2)`,
		slot, payload,
	)
	if err != nil {
		return fmt.Errorf("save bundle %s: %w", slot, err)
	}
	return nil
}

// LoadLatestBundles returns the newest persisted payload per slot.
func (s *Store) LoadLatestBundles(ctx context.Context) (map[string][]byte, error) {
	defer observe("load_bundles", time.Now())

	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT ON (slot) slot, payload FROM model_bundles ORDER BY slot, trained_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("query bundles: %w", err)
	}
	defer rows.Close()

	bundles := make(map[string][]byte)
	for rows.Next() {
		var (
			slot    string
			payload []byte
		)
		if err := rows.Scan(&slot, &payload); err != nil {
			return nil, fmt.Errorf("scan bundle: %w", err)
		}
		bundles[slot] = payload
	}
	return bundles, rows.Err()
}
