package riskindex

import (
	"fmt"

	"RiskPull/internal/domain/models"
)

// gateKeys are the scores counted as stress hits for the regime threshold.
var gateKeys = []string{"cr", "vix", "vxterm", "ust10v", "relfin", "10s2s", "10s3m"}

// Classification is the regime decision with its intermediate values.
type Classification struct {
	Regime    models.Regime
	GateHits  int
	FSScore   int
	Threshold float64
	Distance  float64
}

// Classify applies the threshold heuristic: stress hits lower the tipping point
// the composite has to reach before the regime turns CAUTION or RISK-OFF.
func Classify(scores map[string]*float64, composite *float64, red float64) Classification {
	isRed := func(k string) bool {
		v := scores[k]
		return v != nil && *v >= red
	}

	hits := 0
	for _, k := range gateKeys {
		if isRed(k) {
			hits++
		}
	}
	fs := 0
	switch {
	case isRed("vix") && isRed("cr"):
		fs = 2
	case isRed("vix"):
		fs = 1
	}

	tip := 70.0
	if fs >= 2 {
		tip -= 10
	}
	if hits >= 3 {
		tip -= 3
	}
	if hits >= 5 {
		tip -= 3
	}
	tip = clamp(tip, 50, 90)

	c := Classification{GateHits: hits, FSScore: fs, Threshold: tip}
	if composite == nil {
		c.Regime = models.RegimeNeutral
		return c
	}
	d := *composite - tip
	c.Distance = d
	switch {
	case d >= 0 && (hits >= 4 || fs >= 2):
		c.Regime = models.RegimeRiskOff
	case d >= 0:
		c.Regime = models.RegimeCaution
	case hits <= 2 && fs <= 1 && d <= -10:
		c.Regime = models.RegimeRiskOn
	default:
		c.Regime = models.RegimeNeutral
	}
	return c
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func scoreOr(scores map[string]*float64, k string, def float64) float64 {
	if v := scores[k]; v != nil {
		return *v
	}
	return def
}

// OneLiner renders "Bias: X | Größe: Y | Dur Z".
func OneLiner(scores map[string]*float64, composite *float64, fs int) string {
	bias := "NEUTRAL"
	if composite != nil {
		switch {
		case *composite < 45:
			bias = "RISK-ON"
		case *composite > 55:
			bias = "RISK-OFF"
		}
	}

	size := "moderat"
	if fs >= 2 || scoreOr(scores, "netliq", 0) > 60 {
		size = "klein"
	}

	dur := "≙"
	switch {
	case scoreOr(scores, "dgs30", 0) > 60 || scoreOr(scores, "ust10v", 0) > 60:
		dur = "↓"
	case scoreOr(scores, "dgs30", 50) < 40 && scoreOr(scores, "ust10v", 50) < 40:
		dur = "↑"
	}
	return fmt.Sprintf("Bias: %s | Größe: %s | Dur %s", bias, size, dur)
}

// Risks lists the elevated risk notes.
func Risks(scores map[string]*float64) []string {
	out := []string{}
	if scoreOr(scores, "netliq", 0) > 60 {
		out = append(out, "Liquidität: knapp → Drawdowns können verstärkt werden.")
	}
	if scoreOr(scores, "vix", 0) > 60 {
		out = append(out, "Volatilität erhöht → Risiko für High-Beta.")
	}
	if scoreOr(scores, "cr", 0) > 60 {
		out = append(out, "Credit Spreads weit → HY/ZYK anfällig.")
	}
	if scoreOr(scores, "dxy", 0) > 60 {
		out = append(out, "USD stark → Gegenwind für EM/Gold.")
	}
	return out
}
