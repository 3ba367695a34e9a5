package backtest

import (
	"math"

	"RiskPull/internal/domain/models"
	"RiskPull/internal/series"
)

const annualization = 252

// KPIs computes CAGR, Sharpe, max drawdown and Calmar of an equity curve.
func KPIs(eq []float64) models.KPI {
	var k models.KPI
	n := len(eq)
	if n == 0 {
		return k
	}
	if eq[0] > 0 {
		k.CAGR = math.Pow(eq[n-1]/eq[0], float64(annualization)/float64(n)) - 1
	}

	rets := make([]float64, 0, n)
	for i := 1; i < n; i++ {
		rets = append(rets, eq[i]/eq[i-1]-1)
	}
	vol := 0.0
	if len(rets) > 3 {
		vol = series.Std(rets, 1) * math.Sqrt(annualization)
	}
	if vol > 0 {
		k.Sharpe = series.Mean(rets) * annualization / vol
	}

	peak := math.Inf(-1)
	for _, v := range eq {
		if v > peak {
			peak = v
		}
		if peak > 0 {
			if dd := v/peak - 1; dd < k.MaxDD {
				k.MaxDD = dd
			}
		}
	}
	if k.MaxDD < 0 {
		k.Calmar = -k.CAGR / k.MaxDD
	}
	return k
}

// Better orders results by Sharpe, then CAGR, then Calmar, all descending.
// NaN sorts after any number.
func Better(a, b models.KPI) bool {
	for _, pair := range [][2]float64{{a.Sharpe, b.Sharpe}, {a.CAGR, b.CAGR}, {a.Calmar, b.Calmar}} {
		x, y := pair[0], pair[1]
		xn, yn := math.IsNaN(x), math.IsNaN(y)
		switch {
		case xn && yn:
			continue
		case xn:
			return false
		case yn:
			return true
		case x != y:
			return x > y
		}
	}
	return false
}
