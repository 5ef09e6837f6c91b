package analytics

import (
	"github.com/promo-insight/pkg/domain"
)

// PriceMultipliers are the five candidate price points evaluated around the
// current price. The recommendation is always one of these.
var PriceMultipliers = [5]float64{0.90, 0.95, 1.00, 1.05, 1.10}

// DemandElasticity is the assumed ratio of relative demand change to relative
// price change. It is a fixed design parameter, not learned from data.
const DemandElasticity = -0.5

// OptimizePrice scans the candidate prices, estimates the demand response at
// each under constant elasticity, scores every candidate through predict (the
// trained revenue model evaluated at the estimated quantity), and recommends
// the candidate with the highest predicted revenue. Ties keep the earlier,
// lower-priced candidate.
func OptimizePrice(predict func(quantity float64) (float64, error), currentPrice, currentQuantity float64) (*domain.PriceRecommendation, error) {
	candidates := make([]domain.PriceCandidate, 0, len(PriceMultipliers))
	bestIdx := -1

	for _, mult := range PriceMultipliers {
		price := currentPrice * mult
		priceChange := price - currentPrice
		quantityChange := DemandElasticity * (priceChange / currentPrice)
		quantity := currentQuantity * (1 + quantityChange)

		predicted, err := predict(quantity)
		if err != nil {
			return nil, err
		}

		candidates = append(candidates, domain.PriceCandidate{
			Price:             price,
			EstimatedQuantity: quantity,
			PredictedRevenue:  predicted,
		})
		if bestIdx < 0 || predicted > candidates[bestIdx].PredictedRevenue {
			bestIdx = len(candidates) - 1
		}
	}

	best := candidates[bestIdx]
	changePct := (best.Price - currentPrice) / currentPrice * 100

	direction := "hold"
	switch {
	case changePct > 1e-9:
		direction = "increase"
	case changePct < -1e-9:
		direction = "decrease"
	}

	return &domain.PriceRecommendation{
		CurrentPrice:     currentPrice,
		RecommendedPrice: best.Price,
		PredictedRevenue: best.PredictedRevenue,
		Direction:        direction,
		ChangePct:        changePct,
		Candidates:       candidates,
	}, nil
}
