package backtest

import (
	"RiskPull/internal/domain/models"
	"RiskPull/internal/series"
)

// Evaluate runs one parameter set over the dataset. Positions act with a one day
// delay so a signal never trades on the return it was computed from.
func Evaluate(d *Dataset, p models.Params) (models.EvalResult, error) {
	sig, err := Signal(d.Score, p)
	if err != nil {
		return models.EvalResult{}, err
	}
	return evaluatePositions(d, p, sig), nil
}

func evaluatePositions(d *Dataset, p models.Params, sig []float64) models.EvalResult {
	n := d.Len()
	strat := make([]float64, n)
	growth := make([]float64, n)
	base := make([]float64, n)
	wins, active, trades := 0, 0, 0
	for i := 0; i < n; i++ {
		if i > 0 {
			strat[i] = sig[i-1] * d.Ret[i]
			if sig[i] != sig[i-1] {
				trades++
			}
		}
		if strat[i] > 0 {
			wins++
		}
		if strat[i] != 0 {
			active++
		}
		growth[i] = 1 + strat[i]
		base[i] = 1 + d.Ret[i]
	}
	eq := series.CumProd(growth)
	bench := series.CumProd(base)

	if active < 1 {
		active = 1
	}
	return models.EvalResult{
		Params:  p,
		KPI:     KPIs(eq),
		Trades:  trades,
		HitRate: float64(wins) / float64(active),
		EqEnd:   series.Last(eq),
		EqBase:  series.Last(bench),
	}
}
