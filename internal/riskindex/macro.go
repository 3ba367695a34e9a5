package riskindex

import (
	"errors"
	"fmt"
	"math"

	"RiskPull/internal/domain/models"
	"RiskPull/internal/series"
	"RiskPull/pkg/util"
)

var ErrInsufficientHistory = errors.New("insufficient history")

// TrafficLight maps a 0..100 health score to RED/YELLOW/GREEN.
func TrafficLight(score float64) string {
	switch {
	case score < 30:
		return "RED"
	case score < 60:
		return "YELLOW"
	default:
		return "GREEN"
	}
}

func lastOr(x []float64, def float64) float64 {
	v := series.Last(x)
	if math.IsNaN(v) {
		return def
	}
	return v
}

// hyOAS prefers HY_OAS and falls back to the raw FRED id.
func hyOAS(f *series.Frame) []float64 {
	if f.Has("HY_OAS") {
		return f.Get("HY_OAS")
	}
	return f.Get("BAMLH0A0HYM2")
}

// MacroStatus scores funding stress, net liquidity momentum and HY credit spreads.
// Missing inputs score a neutral 50.
func MacroStatus(in Inputs) (*models.MacroStatus, error) {
	f := Align(in)
	if f.Empty() {
		return nil, ErrNoInputs
	}

	fund := series.Sub(f.Get("SOFR"), f.Get("DGS3MO"))
	fundScore := Band(fund, -0.2, 0.2, true)

	// WALCL is in millions, TGA and RRP in billions
	nl := series.Sub(series.Sub(series.Scale(f.Get("WALCL"), 1e-3), f.Get("WDTGAL")), f.Get("RRPONTSYD"))
	nlChg := series.Change(nl, 20, 1)
	liqScore := Band(nlChg, -200, 200, false)

	hy := hyOAS(f)
	creditScore := Band(hy, 3, 8, true)

	indicator := func(name, value, desc string, score float64) models.MacroIndicator {
		return models.MacroIndicator{
			Name:   name,
			Value:  value,
			Score:  int(score),
			Status: TrafficLight(score),
			Desc:   desc,
		}
	}

	fs, ls, cs := lastOr(fundScore, 50), lastOr(liqScore, 50), lastOr(creditScore, 50)
	return &models.MacroStatus{
		AsOf: util.FormatDate(f.LastDate()),
		Indicators: map[string]models.MacroIndicator{
			"funding_stress": indicator("Funding Stress", fmt.Sprintf("%.2f%%", lastOr(fund, 0)), "SOFR vs 3M Yield", fs),
			"net_liquidity":  indicator("Net Liquidity (4w)", fmt.Sprintf("%+.0fB", lastOr(nlChg, 0)), "Fed Balance Sheet Momentum", ls),
			"credit_spread":  indicator("Credit Spreads", fmt.Sprintf("%.2f%%", lastOr(hy, 4)), "High Yield OAS", cs),
		},
	}, nil
}

// CreditRegime blends 60 day z-scores of HY (60%) and IG (40%) option adjusted spreads.
func CreditRegime(oas *series.Frame) models.CreditRegime {
	out := models.CreditRegime{State: models.RegimeNeutral, Reason: []string{}}
	if oas.Empty() {
		return out
	}
	f := oas.Upper()
	z := func(x []float64) []float64 {
		mu := series.RollingMean(x, 60, 20)
		sd := series.RollingStd(x, 60, 20, 1)
		return series.Div(series.Sub(x, mu), sd)
	}
	hy := z(hyOAS(f))
	ig := f.Get("IG_OAS")
	if !f.Has("IG_OAS") {
		ig = f.Get("BAMLC0A0CM")
	}
	igz := z(ig)

	last := math.NaN()
	for i := range hy {
		if v := 0.6*hy[i] + 0.4*igz[i]; !math.IsNaN(v) {
			last = v
		}
	}
	if math.IsNaN(last) {
		return out
	}
	out.Z = util.FloatPtr(last)
	switch {
	case last > 0.7:
		out.State, out.Reason = models.RegimeRiskOff, []string{"credit_widening"}
	case last < -0.7:
		out.State, out.Reason = models.RegimeRiskOn, []string{"credit_easing"}
	}
	return out
}

// PivotOAS joins per-bucket value frames of a long OAS table into IG_OAS/HY_OAS columns.
func PivotOAS(long map[string]*series.Frame) *series.Frame {
	var frames []*series.Frame
	for bucket, fr := range long {
		if fr.Empty() {
			continue
		}
		out := series.NewFrame(fr.Index)
		out.Set(bucket+"_OAS", fr.Get("value"))
		frames = append(frames, out)
	}
	if len(frames) == 0 {
		return series.NewFrame(nil)
	}
	return series.OuterJoin(frames...)
}
