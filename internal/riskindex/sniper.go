package riskindex

import (
	"fmt"
	"math"

	"RiskPull/internal/domain/models"
	"RiskPull/internal/series"
	"RiskPull/pkg/util"
)

// Band linearly maps x clipped to [lo, hi] onto 0..100; inverse flips the scale.
func Band(x []float64, lo, hi float64, inverse bool) []float64 {
	out := make([]float64, len(x))
	for i, v := range x {
		if math.IsNaN(v) {
			out[i] = math.NaN()
			continue
		}
		s := (series.ClipValue(v, lo, hi) - lo) / (hi - lo)
		if inverse {
			s = 1 - s
		}
		out[i] = s * 100
	}
	return out
}

// SniperRegime labels the weighted trend/fear/credit score.
func SniperRegime(score float64) string {
	switch {
	case score < 20:
		return "RISK-OFF (SHORT)"
	case score < 50:
		return "CAUTION (CASH)"
	default:
		return "RISK-ON (LONG)"
	}
}

// Sniper computes the trend (40%), VIX (30%) and credit momentum (30%) index from
// market_core, smoothed over 3 days. Rows before SPY has a 200 day average are dropped.
// Leading gaps are back filled. Missing VIX or HYG/LQD fall back to a neutral 50.
func Sniper(market *series.Frame) ([]models.SniperRow, *models.SniperSnapshot, error) {
	if market.Empty() {
		return nil, nil, ErrNoInputs
	}
	f := market.Upper().FFill().BFill()
	if !f.Has("SPY") {
		return nil, nil, fmt.Errorf("sniper: SPY column missing")
	}
	n := f.Len()
	spy := f.Get("SPY")

	sma := series.RollingMean(spy, 200, 200)
	trend := Band(series.Div(series.Sub(spy, sma), sma), -0.10, 0.10, false)

	vix := series.Full(n, 50)
	if f.Has("VIX") {
		vix = Band(f.Get("VIX"), 12, 35, true)
	}
	credit := series.Full(n, 50)
	if f.Has("HYG", "LQD") {
		credit = Band(series.PctChange(series.Div(f.Get("HYG"), f.Get("LQD")), 30), -0.03, 0.03, false)
	}

	total := make([]float64, n)
	for i := range total {
		total[i] = 0.4*trend[i] + 0.3*vix[i] + 0.3*credit[i]
	}
	smooth := series.RollingMean(total, 3, 3)

	rows := make([]models.SniperRow, 0, n)
	last := -1
	for i := 0; i < n; i++ {
		if math.IsNaN(trend[i]) || math.IsNaN(vix[i]) || math.IsNaN(credit[i]) || math.IsNaN(smooth[i]) {
			continue
		}
		rows = append(rows, models.SniperRow{
			Date:        f.Index[i],
			TrendScore:  trend[i],
			VIXScore:    vix[i],
			CreditScore: credit[i],
			RiskIndex:   smooth[i],
		})
		last = i
	}
	if last < 0 {
		return rows, nil, fmt.Errorf("sniper: %w", ErrInsufficientHistory)
	}

	r := rows[len(rows)-1]
	snap := &models.SniperSnapshot{
		AsOf:      util.FormatDate(r.Date),
		Composite: r.RiskIndex,
		Regime:    SniperRegime(r.RiskIndex),
		Scores:    map[string]float64{"trend": r.TrendScore, "vix": r.VIXScore, "credit": r.CreditScore},
		Details:   map[string]float64{"spy_price": spy[last]},
		OneLiner:  fmt.Sprintf("Score: %.1f | %s", r.RiskIndex, SniperRegime(r.RiskIndex)),
	}
	if f.Has("VIX") {
		snap.Details["vix_price"] = f.Get("VIX")[last]
	}
	return rows, snap, nil
}
