package riskindex

import (
	"math"

	"RiskPull/internal/series"
)

var sqrt252 = math.Sqrt(252)

// block is one indicator of the composite. transform builds the raw series that is
// z-scored; rank blocks use the full-sample percentile rank instead of a z-score.
type block struct {
	key       string
	cols      []string
	invert    bool
	rank      bool
	composite bool // contributes to the per-date sc_comp
	transform func(f *series.Frame) []float64
}

func col(name string) func(f *series.Frame) []float64 {
	return func(f *series.Frame) []float64 { return f.Get(name) }
}

func spread(a, b string) func(f *series.Frame) []float64 {
	return func(f *series.Frame) []float64 { return series.Sub(f.Get(a), f.Get(b)) }
}

func ratioChange30(num, den string) func(f *series.Frame) []float64 {
	return func(f *series.Frame) []float64 {
		return series.Change(series.Div(f.Get(num), f.Get(den)), 30, 100)
	}
}

// ust10Vol is the annualised stdev of daily 10y yield changes over 20 days (min 10).
func ust10Vol(f *series.Frame) []float64 {
	return series.Scale(series.RollingStd(series.Diff(f.Get("DGS10")), 20, 10, 1), sqrt252)
}

func usdVol(f *series.Frame) []float64 {
	return series.Scale(series.RollingStd(series.PctChange(f.Get("USDJPY"), 1), 20, 20, 1), sqrt252*100)
}

// netLiquidity in billions: WALCL - TGA - RRP - reserves, reported in millions.
func netLiquidity(f *series.Frame) []float64 {
	nl := series.Sub(f.Get("WALCL"), f.Get("WTREGEN"))
	nl = series.Sub(nl, f.Get("RRPONTSYD"))
	nl = series.Sub(nl, f.Get("WRESBAL"))
	return series.Change(series.Scale(nl, 1e-3), 30, 1)
}

var blocks = []block{
	{key: "dgs30", cols: []string{"DGS30"}, composite: true, transform: col("DGS30")},
	{key: "2s30s", cols: []string{"DGS30", "DGS2"}, composite: true, transform: spread("DGS30", "DGS2")},
	{key: "sofr", cols: []string{"SOFR"}, composite: true, transform: func(f *series.Frame) []float64 {
		return series.Change(f.Get("SOFR"), 30, 100)
	}},
	{key: "rrp", cols: []string{"RRPONTSYD"}, rank: true, transform: col("RRPONTSYD")},
	{key: "stlfsi", cols: []string{"STLFSI4"}, composite: true, transform: col("STLFSI4")},

	{key: "vix", cols: []string{"VIX"}, composite: true, transform: col("VIX")},
	{key: "usdvol", cols: []string{"USDJPY"}, composite: true, transform: usdVol},
	{key: "dxy", cols: []string{"DXY"}, composite: true, transform: col("DXY")},
	{key: "cr", cols: []string{"HYG", "LQD"}, composite: true, transform: ratioChange30("HYG", "LQD")},
	{key: "vxterm", cols: []string{"VIX3M", "VIX"}, composite: true, transform: spread("VIX3M", "VIX")},

	{key: "10s2s", cols: []string{"DGS10", "DGS2"}, invert: true, composite: true, transform: spread("DGS10", "DGS2")},
	{key: "10s3m", cols: []string{"DGS10", "DGS3MO"}, invert: true, composite: true, transform: spread("DGS10", "DGS3MO")},
	{key: "relfin", cols: []string{"XLF", "SPY"}, invert: true, composite: true, transform: ratioChange30("XLF", "SPY")},
	{key: "ust10v", cols: []string{"DGS10"}, composite: true, transform: ust10Vol},
	{key: "netliq", cols: []string{"WALCL", "WTREGEN", "RRPONTSYD", "WRESBAL"}, invert: true, composite: true, transform: netLiquidity},

	{key: "ig_oas", cols: []string{"IG_OAS"}, transform: col("IG_OAS")},
	{key: "hy_oas", cols: []string{"HY_OAS"}, transform: col("HY_OAS")},
}

// BlockKeys lists score keys in snapshot order.
func BlockKeys() []string {
	out := make([]string, len(blocks))
	for i, b := range blocks {
		out[i] = b.key
	}
	return out
}

// ScoreFromZ maps a z-score to 0..100 as clip(50 + 10z). NaN stays NaN.
func ScoreFromZ(z float64, invert bool) float64 {
	if math.IsNaN(z) {
		return math.NaN()
	}
	if invert {
		z = -z
	}
	return series.ClipValue(50+10*z, 0, 100)
}

// ZMinPeriods is max(20, window/4).
func ZMinPeriods(window int) int {
	if window/4 > 20 {
		return window / 4
	}
	return 20
}

func (b block) missing(f *series.Frame) []string {
	var out []string
	for _, c := range b.cols {
		if !f.Has(c) {
			out = append(out, c)
		}
	}
	return out
}
