package models

import "time"

// PriceSeries is a daily close history, oldest first.
type PriceSeries struct {
	Symbol string
	Dates  []time.Time
	Close  []float64
}

func (p *PriceSeries) Len() int {
	if p == nil {
		return 0
	}
	return len(p.Close)
}
