package analytics

import (
	"fmt"
	"math"
	"time"

	"github.com/promo-insight/pkg/domain"
)

// Forecast algorithms, reported through the status endpoint.
const (
	AlgorithmARIMA = "arima(1,1,1)"
	AlgorithmHolt  = "holt_exponential_smoothing"
)

// ForecastModel is a fitted trend model over daily aggregated revenue. It
// carries the state of whichever algorithm fit: the ARIMA recursion tail or
// the Holt level/trend pair.
type ForecastModel struct {
	Algorithm    string    `json:"algorithm"`
	LastDate     time.Time `json:"last_date"`
	LastValue    float64   `json:"last_value"`
	ObservedDays int       `json:"observed_days"`
	FitMSE       float64   `json:"fit_mse"`

	// ARIMA(1,1,1) state.
	Phi       float64 `json:"phi,omitempty"`
	Theta     float64 `json:"theta,omitempty"`
	LastDiff  float64 `json:"last_diff,omitempty"`
	LastResid float64 `json:"last_resid,omitempty"`

	// Holt state.
	Level      float64 `json:"level,omitempty"`
	TrendSlope float64 `json:"trend_slope,omitempty"`
	Alpha      float64 `json:"alpha,omitempty"`
	Beta       float64 `json:"beta,omitempty"`
}

// FitForecaster aggregates sales by calendar date, zero-fills the daily
// calendar between the first and last observed dates, and fits ARIMA(1,1,1);
// when ARIMA cannot fit it falls back to Holt exponential smoothing. Fewer
// than minDays distinct days, or both fits failing, is an UntrainedStatus.
func FitForecaster(sales []domain.SaleRecord, minDays int) (*ForecastModel, *UntrainedStatus) {
	days, revenue := DailyRevenue(sales)
	if len(days) < minDays {
		return nil, untrainedf("insufficient data: %d distinct sale days, need at least %d", len(days), minDays)
	}

	series, lastDate := zeroFillDaily(days, revenue)

	model, err := fitARIMA(series)
	if err != nil {
		model, err = fitHolt(series)
		if err != nil {
			return nil, untrainedf("time series fit failed: %v", err)
		}
	}

	model.LastDate = lastDate
	model.LastValue = series[len(series)-1]
	model.ObservedDays = len(days)
	return model, nil
}

// zeroFillDaily expands the observed (day, revenue) pairs into a complete
// daily series between min and max date. Missing days become 0 revenue: no
// sales that day is a real observation, not a gap to interpolate.
func zeroFillDaily(days []time.Time, revenue []float64) ([]float64, time.Time) {
	first, last := days[0], days[len(days)-1]
	n := int(last.Sub(first).Hours()/24) + 1

	series := make([]float64, n)
	for i, day := range days {
		offset := int(day.Sub(first).Hours() / 24)
		series[offset] = revenue[i]
	}
	return series, last
}

// fitARIMA estimates ARIMA(1,1,1) by conditional sum of squares over a
// coefficient grid: the differenced series z follows
// z_t = phi*z_{t-1} + theta*e_{t-1} + e_t.
func fitARIMA(series []float64) (*ForecastModel, error) {
	if len(series) < 4 {
		return nil, fmt.Errorf("%w: series too short for arima", ErrConvergence)
	}

	diffs := make([]float64, len(series)-1)
	for i := 1; i < len(series); i++ {
		diffs[i-1] = series[i] - series[i-1]
	}

	bestSSE := math.Inf(1)
	bestPhi, bestTheta := 0.0, 0.0

	for phi := -0.95; phi <= 0.951; phi += 0.05 {
		for theta := -0.95; theta <= 0.951; theta += 0.05 {
			sse := 0.0
			prevResid := 0.0
			for t := 1; t < len(diffs); t++ {
				resid := diffs[t] - phi*diffs[t-1] - theta*prevResid
				sse += resid * resid
				prevResid = resid
			}
			if sse < bestSSE {
				bestSSE = sse
				bestPhi = phi
				bestTheta = theta
			}
		}
	}

	if math.IsInf(bestSSE, 1) || math.IsNaN(bestSSE) {
		return nil, fmt.Errorf("%w: arima grid produced no finite fit", ErrConvergence)
	}

	// Replay the residual recursion with the winning coefficients to obtain
	// the forecast starting state.
	prevResid := 0.0
	for t := 1; t < len(diffs); t++ {
		prevResid = diffs[t] - bestPhi*diffs[t-1] - bestTheta*prevResid
	}

	return &ForecastModel{
		Algorithm: AlgorithmARIMA,
		Phi:       bestPhi,
		Theta:     bestTheta,
		LastDiff:  diffs[len(diffs)-1],
		LastResid: prevResid,
		FitMSE:    bestSSE / float64(len(diffs)-1),
	}, nil
}

// fitHolt fits Holt's linear exponential smoothing with a small grid over the
// smoothing factors, minimizing one-step-ahead squared error.
func fitHolt(series []float64) (*ForecastModel, error) {
	if len(series) < 2 {
		return nil, fmt.Errorf("%w: series too short for exponential smoothing", ErrConvergence)
	}

	bestSSE := math.Inf(1)
	var best *ForecastModel

	for alpha := 0.1; alpha <= 0.91; alpha += 0.1 {
		for beta := 0.05; beta <= 0.51; beta += 0.05 {
			level := series[0]
			trend := series[1] - series[0]
			sse := 0.0
			for t := 1; t < len(series); t++ {
				forecast := level + trend
				err := series[t] - forecast
				sse += err * err
				prevLevel := level
				level = alpha*series[t] + (1-alpha)*(level+trend)
				trend = beta*(level-prevLevel) + (1-beta)*trend
			}
			if sse < bestSSE {
				bestSSE = sse
				best = &ForecastModel{
					Algorithm:  AlgorithmHolt,
					Level:      level,
					TrendSlope: trend,
					Alpha:      alpha,
					Beta:       beta,
					FitMSE:     sse / float64(len(series)-1),
				}
			}
		}
	}

	if best == nil {
		return nil, fmt.Errorf("%w: exponential smoothing grid produced no fit", ErrConvergence)
	}
	return best, nil
}

// Forecast produces exactly horizon daily revenue points starting the day
// after the last observed date, plus mean and trend summary. The trend is
// "increasing" iff the last forecast point exceeds the first.
func (m *ForecastModel) Forecast(horizon int) (*domain.ForecastResult, error) {
	if horizon <= 0 {
		return nil, fmt.Errorf("forecast horizon must be positive, got %d", horizon)
	}

	points := make([]domain.ForecastPoint, horizon)
	sum := 0.0

	switch m.Algorithm {
	case AlgorithmARIMA:
		value := m.LastValue
		diff := m.Phi*m.LastDiff + m.Theta*m.LastResid
		for h := 0; h < horizon; h++ {
			value += diff
			points[h] = domain.ForecastPoint{DayOffset: h + 1, Revenue: value}
			sum += value
			diff *= m.Phi // future shocks have zero expectation
		}
	case AlgorithmHolt:
		for h := 0; h < horizon; h++ {
			value := m.Level + float64(h+1)*m.TrendSlope
			points[h] = domain.ForecastPoint{DayOffset: h + 1, Revenue: value}
			sum += value
		}
	default:
		return nil, fmt.Errorf("unknown forecast algorithm %q", m.Algorithm)
	}

	trend := "decreasing"
	if points[horizon-1].Revenue > points[0].Revenue {
		trend = "increasing"
	}

	return &domain.ForecastResult{
		Start:  m.LastDate.AddDate(0, 0, 1),
		Points: points,
		Mean:   sum / float64(horizon),
		Trend:  trend,
	}, nil
}
