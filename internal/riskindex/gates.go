package riskindex

import (
	"math"

	"RiskPull/internal/series"
)

// GateCount is the number of rule gates.
const GateCount = 6

// ust10vGate is the annualised 10y vol above which gate 5 fires.
const ust10vGate = 0.05

// gate columns; a frame without any of them yields no gate series.
var gateColumns = []string{"VIX", "VIX3M", "DGS10", "DGS2", "DGS3MO", "HYG", "LQD", "DXY", "XLF", "SPY"}

func lt(a, b float64) bool { return !math.IsNaN(a) && !math.IsNaN(b) && a < b }
func gt(a, b float64) bool { return lt(b, a) }
func ge(a, b float64) bool { return !math.IsNaN(a) && !math.IsNaN(b) && a >= b }

func b2f(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// Gates counts the triggered stress rules per date (0..6). Comparisons against a
// missing value never trigger. ok is false when none of the gate inputs exist.
func Gates(f *series.Frame) (gates []float64, ok bool) {
	found := false
	for _, c := range gateColumns {
		if f.Has(c) {
			found = true
			break
		}
	}
	if !found {
		return nil, false
	}

	vix, vix3m := f.Get("VIX"), f.Get("VIX3M")
	dgs10 := f.Get("DGS10")
	c10s2 := series.Sub(dgs10, f.Get("DGS2"))
	c10s3m := series.Sub(dgs10, f.Get("DGS3MO"))
	cr30 := series.Change(series.Div(f.Get("HYG"), f.Get("LQD")), 30, 100)
	dxy30 := series.Change(f.Get("DXY"), 30, 100)
	ust10v := ust10Vol(f)

	rel := series.Div(f.Get("XLF"), f.Get("SPY"))
	relSMA200 := series.RollingMean(rel, 200, 50)
	// 50 day low up to the previous day
	relLow50 := series.Shift(series.RollingMin(rel, 50, 20), 1)

	gates = make([]float64, f.Len())
	for i := range gates {
		n := b2f(ge(vix[i], vix3m[i]))
		n += b2f(lt(c10s2[i], 0) || lt(c10s3m[i], 0))
		n += b2f(lt(cr30[i], 0))
		n += b2f(gt(dxy30[i], 0))
		n += b2f(gt(ust10v[i], ust10vGate))
		n += b2f(lt(rel[i], relSMA200[i]) && lt(rel[i], relLow50[i]))
		gates[i] = n
	}
	return gates, true
}

// BinScale rescales gate counts to 0..100 with a trailing min-max over window days
// (min 20 observations, or window when smaller). Where the window has no range, or window is 0, the count is
// scaled by the overall maximum instead.
func BinScale(gates []float64, window int) []float64 {
	maxG := series.Max(gates)
	if math.IsNaN(maxG) || maxG < 1 {
		maxG = 1
	}
	fallback := func(g float64) float64 { return series.ClipValue(g*100/maxG, 0, 100) }

	if window <= 0 {
		return series.Clip(series.Scale(gates, 100/maxG), 0, 100)
	}

	out := make([]float64, len(gates))

	minP := 20
	if window < minP {
		minP = window
	}
	lo := series.RollingMin(gates, window, minP)
	hi := series.RollingMax(gates, window, minP)
	for i, g := range gates {
		rng := hi[i] - lo[i]
		if math.IsNaN(rng) || rng == 0 {
			out[i] = fallback(g)
			continue
		}
		out[i] = series.ClipValue((g-lo[i])/rng*100, 0, 100)
	}
	return out
}
