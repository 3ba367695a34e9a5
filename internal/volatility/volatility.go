// Package volatility computes annualized historical volatility from daily closes.
package volatility

import (
	"math"

	"RiskPull/internal/series"
	"RiskPull/pkg/util"
)

const tradingDays = 252

// LogReturns computes r_t = ln(C_t / C_{t-1}). Pairs with a missing or
// non-positive close are dropped.
func LogReturns(closes []float64) []float64 {
	if len(closes) < 2 {
		return nil
	}
	out := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		prev, cur := closes[i-1], closes[i]
		if !(prev > 0) || !(cur > 0) {
			continue
		}
		out = append(out, math.Log(cur/prev))
	}
	return out
}

// Realized is the annualized sample standard deviation of the last window
// returns, in percent. NaN when fewer than window returns exist.
func Realized(returns []float64, window int) float64 {
	if window < 2 || len(returns) < window {
		return math.NaN()
	}
	return series.Std(returns[len(returns)-window:], 1) * math.Sqrt(tradingDays) * 100
}

// HV rounds Realized to two decimals; nil when undefined.
func HV(closes []float64, window int) *float64 {
	v := Realized(LogReturns(closes), window)
	if math.IsNaN(v) {
		return nil
	}
	return util.FloatPtr(util.Round(v, 2))
}
