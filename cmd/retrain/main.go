package main

import (
	"database/sql"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"

	_ "github.com/lib/pq"

	"github.com/promo-insight/pkg/analytics"
	"github.com/promo-insight/pkg/domain"
)

// retrain is a one-shot offline training run: load the row sets, train every
// slot, print the outcome. An untrained slot is a reported outcome; only a
// storage failure exits non-zero.
func main() {
	dsn := flag.String("dsn", envOr("PG_DSN", "host=localhost user=admin password=password dbname=promo_insight sslmode=disable"), "Postgres DSN")
	minRows := flag.Int("min-rows", 5, "minimum joined feature rows")
	minPromo := flag.Int("min-promo-rows", 10, "minimum promoted rows for the classifier")
	minDays := flag.Int("min-forecast-days", 10, "minimum distinct sale days for the forecaster")
	flag.Parse()

	db, err := sql.Open("postgres", *dsn)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open postgres: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		fmt.Fprintf(os.Stderr, "ping postgres: %v\n", err)
		os.Exit(1)
	}

	products, err := loadProducts(db)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load products: %v\n", err)
		os.Exit(1)
	}
	promotions, err := loadPromotions(db)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load promotions: %v\n", err)
		os.Exit(1)
	}
	sales, err := loadSales(db)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load sales: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Training on %d products, %d promotions, %d sales\n\n", len(products), len(promotions), len(sales))

	engine := analytics.NewEngine(analytics.Config{
		MinTrainingRows:  *minRows,
		MinPromotionRows: *minPromo,
		MinForecastDays:  *minDays,
	})
	statuses := engine.TrainAll(products, promotions, sales)

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SLOT\tTRAINED\tALGORITHM\tMETRIC\tREASON")
	for _, slot := range analytics.Slots {
		status := statuses[slot]
		metric := "-"
		if status.Trained {
			metric = fmt.Sprintf("%s=%.4f", status.MetricName, status.Metric)
		}
		fmt.Fprintf(w, "%s\t%v\t%s\t%s\t%s\n", slot, status.Trained, orDash(status.Algorithm), metric, orDash(status.Reason))
	}
	w.Flush()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func envOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

func loadProducts(db *sql.DB) ([]domain.Product, error) {
	rows, err := db.Query(`SELECT id, name, price, category FROM products ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Product
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Price, &p.Category); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func loadPromotions(db *sql.DB) ([]domain.Promotion, error) {
	rows, err := db.Query(`SELECT id, name, discount_pct, product_id, active FROM promotions ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Promotion
	for rows.Next() {
		var p domain.Promotion
		if err := rows.Scan(&p.ID, &p.Name, &p.DiscountPct, &p.ProductID, &p.Active); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func loadSales(db *sql.DB) ([]domain.SaleRecord, error) {
	rows, err := db.Query(`SELECT id, product_id, promotion_id, quantity, revenue, sale_date FROM sales ORDER BY sale_date, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.SaleRecord
	for rows.Next() {
		var (
			rec   domain.SaleRecord
			promo sql.NullInt64
		)
		if err := rows.Scan(&rec.ID, &rec.ProductID, &promo, &rec.Quantity, &rec.Revenue, &rec.Date); err != nil {
			return nil, err
		}
		if promo.Valid {
			id := promo.Int64
			rec.PromotionID = &id
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
