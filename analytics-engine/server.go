package main

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/promo-insight/pkg/analytics"
	"github.com/promo-insight/pkg/domain"
	"github.com/promo-insight/pkg/logger"
	"github.com/promo-insight/pkg/metrics"
)

func (a *app) router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", a.handleHealth)
	r.GET("/readyz", a.handleReady)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api/v1")
	{
		api.POST("/train", a.handleTrain)
		api.GET("/models/status", a.handleModelStatus)
		api.POST("/predict/revenue", a.handlePredictRevenue)
		api.POST("/predict/promotion-success", a.handlePredictPromotionSuccess)
		api.GET("/forecast", a.handleForecast)
		api.POST("/optimize/price", a.handleOptimizePrice)
		api.POST("/sales", a.handleAddSale)
		api.GET("/dashboard", a.handleDashboard)
		api.GET("/promotions/:id/analysis", a.handlePromotionAnalysis)
	}

	return r
}

func (a *app) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "service": "analytics-engine"})
}

func (a *app) handleReady(c *gin.Context) {
	if err := a.store.Ping(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (a *app) handleTrain(c *gin.Context) {
	if err := a.retrain(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"models": orderedStatuses(a.engine.Status())})
}

func (a *app) handleModelStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"models": orderedStatuses(a.engine.Status())})
}

// orderedStatuses flattens the status map into the fixed slot order so the
// response is stable across calls.
func orderedStatuses(statuses map[analytics.Slot]analytics.SlotStatus) []analytics.SlotStatus {
	out := make([]analytics.SlotStatus, 0, len(analytics.Slots))
	for _, slot := range analytics.Slots {
		if status, ok := statuses[slot]; ok {
			out = append(out, status)
		}
	}
	return out
}

// writeInferenceError maps core errors onto HTTP statuses: untrained slots are
// a conflict with the model lifecycle, unseen categories are unprocessable
// input.
func writeInferenceError(c *gin.Context, kind string, err error) {
	var unseen *analytics.UnseenCategoryError
	switch {
	case errors.Is(err, analytics.ErrUntrainedModel):
		metrics.PredictionsTotal.WithLabelValues(kind, "untrained").Inc()
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.As(err, &unseen):
		metrics.PredictionsTotal.WithLabelValues(kind, "unseen_category").Inc()
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error(), "category": unseen.Category})
	default:
		metrics.PredictionsTotal.WithLabelValues(kind, "error").Inc()
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func (a *app) handlePredictRevenue(c *gin.Context) {
	var req analytics.RevenueFeatures
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	prediction, err := a.engine.PredictRevenue(req)
	if err != nil {
		writeInferenceError(c, "revenue", err)
		return
	}

	metrics.PredictionsTotal.WithLabelValues("revenue", "ok").Inc()
	c.JSON(http.StatusOK, gin.H{"predicted_revenue": prediction})
}

func (a *app) handlePredictPromotionSuccess(c *gin.Context) {
	var req analytics.PromotionFeatures
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	probability, err := a.engine.PredictPromotionSuccess(req)
	if err != nil {
		writeInferenceError(c, "promotion_success", err)
		return
	}

	metrics.PredictionsTotal.WithLabelValues("promotion_success", "ok").Inc()
	c.JSON(http.StatusOK, gin.H{
		"success_probability": probability,
		"band":                analytics.SuccessBand(probability),
	})
}

func (a *app) handleForecast(c *gin.Context) {
	days := a.cfg.horizonDays
	if raw := c.Query("days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 365 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "days must be an integer between 1 and 365"})
			return
		}
		days = parsed
	}

	forecast, err := a.engine.ForecastRevenue(days)
	if err != nil {
		writeInferenceError(c, "forecast", err)
		return
	}

	metrics.PredictionsTotal.WithLabelValues("forecast", "ok").Inc()
	c.JSON(http.StatusOK, forecast)
}

type optimizePriceRequest struct {
	CurrentPrice    float64 `json:"current_price" binding:"required,gt=0"`
	CurrentQuantity float64 `json:"current_quantity"`
	CurrentRevenue  float64 `json:"current_revenue"`
}

func (a *app) handleOptimizePrice(c *gin.Context) {
	var req optimizePriceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	if req.CurrentQuantity <= 0 {
		req.CurrentQuantity = 1
	}

	recommendation, untrained := a.engine.OptimizePrice(req.CurrentPrice, req.CurrentQuantity, req.CurrentRevenue)
	if untrained != nil {
		metrics.PredictionsTotal.WithLabelValues("price_optimization", "untrained").Inc()
		c.JSON(http.StatusConflict, gin.H{"error": untrained.Reason})
		return
	}

	metrics.PredictionsTotal.WithLabelValues("price_optimization", "ok").Inc()
	c.JSON(http.StatusOK, recommendation)
}

type addSaleRequest struct {
	ProductID   int64   `json:"product_id" binding:"required"`
	PromotionID *int64  `json:"promotion_id"`
	Quantity    int     `json:"quantity" binding:"required,gt=0"`
	Revenue     float64 `json:"revenue" binding:"gte=0"`
	Date        string  `json:"date"`
}

func (a *app) handleAddSale(c *gin.Context) {
	var req addSaleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	date := time.Now().UTC()
	if req.Date != "" {
		parsed, err := time.Parse(time.RFC3339, req.Date)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "date must be RFC3339"})
			return
		}
		date = parsed
	}

	sale := domain.SaleRecord{
		ProductID:   req.ProductID,
		PromotionID: req.PromotionID,
		Quantity:    req.Quantity,
		Revenue:     req.Revenue,
		Date:        date,
	}
	if err := a.store.InsertSale(c.Request.Context(), &sale); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	metrics.SalesIngestedTotal.Inc()
	a.requestRetrain()
	c.JSON(http.StatusCreated, sale)
}

func (a *app) handleDashboard(c *gin.Context) {
	ctx := c.Request.Context()

	products, err := a.store.LoadProducts(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	promotions, err := a.store.LoadPromotions(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	sales, err := a.store.LoadSales(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	totalRevenue := 0.0
	for _, s := range sales {
		totalRevenue += s.Revenue
	}

	var topProduct *domain.Product
	for i := range products {
		if topProduct == nil || products[i].Price > topProduct.Price {
			topProduct = &products[i]
		}
	}

	activePromotions := 0
	roiSum, roiCount := 0.0, 0
	for _, p := range promotions {
		if !p.Active {
			continue
		}
		activePromotions++
		roi, sampled := promotionROI(p, sales)
		if sampled {
			roiSum += roi
			roiCount++
		}
	}
	avgROI := 0.0
	if roiCount > 0 {
		avgROI = roiSum / float64(roiCount)
	}

	resp := gin.H{
		"total_revenue":     totalRevenue,
		"product_count":     len(products),
		"sales_count":       len(sales),
		"active_promotions": activePromotions,
		"average_roi":       avgROI,
	}
	if topProduct != nil {
		resp["top_product"] = topProduct
	}
	c.JSON(http.StatusOK, resp)
}

// promotionROI computes (revenue - discount cost) / discount cost over the
// sales attributed to the promotion. Returns sampled=false when the promotion
// has no sales, so it does not drag down the dashboard average.
func promotionROI(p domain.Promotion, sales []domain.SaleRecord) (float64, bool) {
	revenue := 0.0
	matched := false
	for _, s := range sales {
		if s.PromotionID != nil && *s.PromotionID == p.ID {
			revenue += s.Revenue
			matched = true
		}
	}
	if !matched {
		return 0, false
	}
	discountCost := revenue * p.DiscountPct / 100
	if discountCost == 0 {
		return 0, true
	}
	return (revenue - discountCost) / discountCost, true
}

func (a *app) handlePromotionAnalysis(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "promotion id must be an integer"})
		return
	}

	ctx := c.Request.Context()
	promotions, err := a.store.LoadPromotions(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	var promo *domain.Promotion
	for i := range promotions {
		if promotions[i].ID == id {
			promo = &promotions[i]
			break
		}
	}
	if promo == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "promotion not found"})
		return
	}

	sales, err := a.store.LoadSales(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	revenue, quantity, count := 0.0, 0, 0
	for _, s := range sales {
		if s.PromotionID != nil && *s.PromotionID == id {
			revenue += s.Revenue
			quantity += s.Quantity
			count++
		}
	}
	discountCost := revenue * promo.DiscountPct / 100
	roi := 0.0
	if discountCost > 0 {
		roi = (revenue - discountCost) / discountCost
	}

	var recommendations []string
	if roi > 0 && roi <= 1 {
		recommendations = append(recommendations, "ROI below break-even, consider reducing the discount")
	}
	if count < 5 {
		recommendations = append(recommendations, "Low sales volume, promotion may need better visibility")
	}
	if roi > 2 {
		recommendations = append(recommendations, "Strong ROI, consider expanding the promotion to similar products")
	}

	resp := gin.H{
		"promotion":       promo,
		"sales_count":     count,
		"total_quantity":  quantity,
		"total_revenue":   revenue,
		"discount_cost":   discountCost,
		"roi":             roi,
		"recommendations": recommendations,
	}

	// AI overlay: attach model outputs when the relevant slots are trained.
	// An untrained model degrades to the rule-based analysis above.
	a.attachModelInsights(ctx, resp, promo, sales, count)

	c.JSON(http.StatusOK, resp)
}

// attachModelInsights enriches a promotion analysis with the classifier's
// success probability and the revenue model's estimate for an average sale
// under this promotion.
func (a *app) attachModelInsights(ctx context.Context, resp gin.H, promo *domain.Promotion, sales []domain.SaleRecord, count int) {
	products, err := a.store.LoadProducts(ctx)
	if err != nil {
		return
	}
	var product *domain.Product
	for i := range products {
		if products[i].ID == promo.ProductID {
			product = &products[i]
			break
		}
	}
	if product == nil {
		return
	}

	avgQuantity := 1.0
	if count > 0 {
		total := 0
		for _, s := range sales {
			if s.PromotionID != nil && *s.PromotionID == promo.ID {
				total += s.Quantity
			}
		}
		avgQuantity = float64(total) / float64(count)
	}

	now := time.Now().UTC()
	month := int(now.Month())
	quarter := (month-1)/3 + 1

	probability, err := a.engine.PredictPromotionSuccess(analytics.PromotionFeatures{
		Price:       product.Price,
		Quantity:    avgQuantity,
		DiscountPct: promo.DiscountPct,
		Category:    product.Category,
		Month:       month,
		Quarter:     quarter,
	})
	if err == nil {
		resp["success_probability"] = probability
		resp["success_band"] = analytics.SuccessBand(probability)
	}

	predicted, err := a.engine.PredictRevenue(analytics.RevenueFeatures{
		Quantity:     avgQuantity,
		HasPromotion: true,
		DiscountPct:  promo.DiscountPct,
		Category:     product.Category,
		Month:        month,
		DayOfWeek:    int(now.Weekday()),
		Quarter:      quarter,
	})
	if err == nil {
		resp["predicted_sale_revenue"] = predicted
	}
}

func (a *app) serve() *http.Server {
	srv := &http.Server{
		Addr:         a.cfg.httpAddr,
		Handler:      a.router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", a.cfg.httpAddr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	return srv
}
