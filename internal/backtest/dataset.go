// Package backtest evaluates EMA/threshold trading rules on the composite risk
// score against a benchmark, grid-searches their parameters and runs rolling
// train/test splits.
package backtest

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"RiskPull/internal/series"
)

var (
	ErrNoData        = errors.New("backtest: no overlapping score and benchmark data")
	ErrWindowOverlap = errors.New("backtest: test window overlaps training window")
)

// ScoreColumn is the timeseries column the rules trade on.
const ScoreColumn = "sc_comp"

// Dataset is the inner join of score and benchmark with daily log returns.
type Dataset struct {
	Dates []time.Time
	Score []float64
	Ret   []float64
}

// NewDataset joins the score timeseries with the benchmark close on date and
// drops rows where either is missing. The first return is 0.
func NewDataset(ts, market *series.Frame, benchmark string) (*Dataset, error) {
	if ts.Empty() || market.Empty() {
		return nil, ErrNoData
	}
	sc, ok := ts.Col(ScoreColumn)
	if !ok {
		return nil, fmt.Errorf("timeseries has no %s column: %w", ScoreColumn, ErrNoData)
	}
	m := market.Upper()
	bench := strings.ToUpper(benchmark)
	if !m.Has(bench) {
		return nil, fmt.Errorf("market_core has no %s column: %w", bench, ErrNoData)
	}

	left := series.NewFrame(ts.Index)
	left.Set(ScoreColumn, sc)
	right := series.NewFrame(m.Index)
	right.Set(bench, m.Get(bench))

	j := series.InnerJoin(left.Sorted(), right.Sorted()).DropNaN()
	if j.Len() == 0 {
		return nil, ErrNoData
	}

	px := j.Get(bench)
	ret := make([]float64, len(px))
	for i := 1; i < len(px); i++ {
		ret[i] = math.Log(px[i] / px[i-1])
		if math.IsNaN(ret[i]) || math.IsInf(ret[i], 0) {
			ret[i] = 0
		}
	}
	return &Dataset{Dates: j.Index, Score: j.Get(ScoreColumn), Ret: ret}, nil
}

func (d *Dataset) Len() int {
	if d == nil {
		return 0
	}
	return len(d.Dates)
}

// Slice returns rows [lo, hi). Returns keep their values from the full history.
func (d *Dataset) Slice(lo, hi int) *Dataset {
	return &Dataset{Dates: d.Dates[lo:hi], Score: d.Score[lo:hi], Ret: d.Ret[lo:hi]}
}
