package backtest

import (
	"fmt"

	"RiskPull/internal/domain/models"
	"RiskPull/internal/series"
)

// Smooth is the adjusted EWM of the score with min_periods max(5, span/4).
func Smooth(score []float64, span int) []float64 {
	minP := span / 4
	if minP < 5 {
		minP = 5
	}
	return series.EWM(score, float64(span), minP, true)
}

// Positions turns a smoothed score into target weights. A low score is risk-on.
// NaN values hold the previous state.
func Positions(x []float64, p models.Params) ([]float64, error) {
	sig := make([]float64, len(x))
	switch p.Mode {
	case models.ModeLongOnly:
		long := false
		for i, v := range x {
			if !long && v < p.On {
				long = true
			} else if long && v > p.Off {
				long = false
			}
			if long {
				sig[i] = 1
			}
		}
	case models.ModeTriState:
		state := 0
		for i, v := range x {
			if v < p.On {
				state = 1
			} else if v > p.Off {
				state = -1
			}
			switch state {
			case 1:
				sig[i] = 1
			case -1:
				sig[i] = p.ShortW
			}
		}
	default:
		return nil, fmt.Errorf("unknown mode %q", p.Mode)
	}
	return sig, nil
}

// Signal smooths the score and derives positions in one step.
func Signal(score []float64, p models.Params) ([]float64, error) {
	return Positions(Smooth(score, p.EMA), p)
}
