package backtest

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"RiskPull/internal/domain/models"
	"RiskPull/internal/series"
)

var nan = math.NaN()

func daily(start string, n int) []time.Time {
	t0, _ := time.Parse("2006-01-02", start)
	out := make([]time.Time, n)
	for i := range out {
		out[i] = t0.AddDate(0, 0, i)
	}
	return out
}

// synthetic builds a score oscillating around 50 and a benchmark that rallies
// while the score is low.
func synthetic(start string, n int) *Dataset {
	dates := daily(start, n)
	score := make([]float64, n)
	ret := make([]float64, n)
	for i := range dates {
		score[i] = 50 + 12*math.Sin(float64(i)/25)
		if i > 0 {
			ret[i] = 0.002 * (50 - score[i-1]) / 12
		}
	}
	return &Dataset{Dates: dates, Score: score, Ret: ret}
}

func smallGrid() Grid {
	return Grid{EMAMin: 10, EMAMax: 14, OnMin: 40, OnMax: 42, OffMin: 55, OffMax: 56, ShortWs: []float64{-0.5}}
}

func TestLongOnlyHysteresis(t *testing.T) {
	p := models.Params{On: 46, Off: 54, Mode: models.ModeLongOnly}
	sig, err := Positions([]float64{60, 45, 48, 55, 52, 39}, p)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 1, 1, 0, 0, 1}, sig)

	sig, err = Positions([]float64{40, nan, 60}, p)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 1, 0}, sig)
}

func TestTriStateUsesShortWeight(t *testing.T) {
	p := models.Params{On: 45, Off: 55, Mode: models.ModeTriState, ShortW: -0.5}
	sig, err := Positions([]float64{50, 40, 50, 60, 50}, p)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 1, 1, -0.5, -0.5}, sig)
}

func TestUnknownMode(t *testing.T) {
	_, err := Positions([]float64{1}, models.Params{Mode: "both"})
	assert.Error(t, err)
}

func TestSmoothMinPeriods(t *testing.T) {
	x := Smooth([]float64{1, 2, 3, 4, 5, 6}, 10)
	for i := 0; i < 4; i++ {
		assert.True(t, math.IsNaN(x[i]), "index %d", i)
	}
	assert.False(t, math.IsNaN(x[4]))
}

func TestEvaluateAppliesOneDayDelay(t *testing.T) {
	d := &Dataset{Dates: daily("2024-01-01", 4), Ret: []float64{0, 0.1, 0.2, -0.1}}
	r := evaluatePositions(d, models.Params{}, []float64{1, 1, 0, 0})

	assert.InDelta(t, 1.32, r.EqEnd, 1e-12)
	assert.InDelta(t, 1.188, r.EqBase, 1e-12)
	assert.Equal(t, 1, r.Trades)
	assert.InDelta(t, 1.0, r.HitRate, 1e-12)
}

func TestEvaluateFlatHasZeroHitRate(t *testing.T) {
	d := &Dataset{Dates: daily("2024-01-01", 3), Ret: []float64{0, 0.1, -0.1}}
	r := evaluatePositions(d, models.Params{}, []float64{0, 0, 0})
	assert.Equal(t, 0, r.Trades)
	assert.Equal(t, 0.0, r.HitRate)
	assert.Equal(t, 1.0, r.EqEnd)
}

func TestKPIs(t *testing.T) {
	k := KPIs([]float64{1, 1, 1, 1, 1})
	assert.Equal(t, models.KPI{}, k)

	k = KPIs([]float64{1, 2, 1})
	assert.InDelta(t, 0, k.CAGR, 1e-12)
	assert.InDelta(t, -0.5, k.MaxDD, 1e-12)
	assert.InDelta(t, 0, k.Sharpe, 1e-12, "three returns or fewer have no volatility")

	k = KPIs([]float64{1, 1.01, 1.02, 1.01, 1.03, 1.05})
	assert.Greater(t, k.CAGR, 0.0)
	assert.Greater(t, k.Sharpe, 0.0)
	assert.InDelta(t, 1.01/1.02-1, k.MaxDD, 1e-12)
	assert.InDelta(t, -k.CAGR/k.MaxDD, k.Calmar, 1e-12)

	assert.Equal(t, models.KPI{}, KPIs(nil))
}

func TestBetterOrdering(t *testing.T) {
	assert.True(t, Better(models.KPI{Sharpe: 1}, models.KPI{Sharpe: 0.5}))
	assert.True(t, Better(models.KPI{Sharpe: 1, CAGR: 0.2}, models.KPI{Sharpe: 1, CAGR: 0.1}))
	assert.True(t, Better(models.KPI{Sharpe: 1, Calmar: 2}, models.KPI{Sharpe: 1, Calmar: 1}))
	assert.True(t, Better(models.KPI{Sharpe: -5}, models.KPI{Sharpe: nan}))
	assert.False(t, Better(models.KPI{Sharpe: nan}, models.KPI{Sharpe: -5}))
	assert.False(t, Better(models.KPI{Sharpe: 1}, models.KPI{Sharpe: 1}))
}

func TestDefaultGrid(t *testing.T) {
	g := DefaultGrid()
	assert.Equal(t, 117*168*5, g.Size())

	params := g.Params()
	require.Len(t, params, g.Size())
	assert.Equal(t, models.Params{EMA: 10, On: 38, Off: 50, Mode: models.ModeLongOnly}, params[0])
	assert.Equal(t, models.Params{EMA: 10, On: 38, Off: 50, Mode: models.ModeTriState, ShortW: -1}, params[1])
	for _, p := range params {
		require.Less(t, p.On, p.Off)
	}
}

func TestZeroValuesUseDefaults(t *testing.T) {
	o := NewOptimizer(Grid{})
	assert.Equal(t, DefaultGrid().Size(), o.Grid().Size())

	wf := NewWalkForward(o, WalkForwardConfig{}, nil)
	assert.Equal(t, DefaultWalkForwardConfig(), wf.cfg)

	custom := WalkForwardConfig{TrainYears: 1, TestYears: 1, StepDays: 90, MinTrainRows: 10, MinTestRows: 5}
	assert.Equal(t, custom, NewWalkForward(o, custom, nil).cfg)
}

func TestOptimizerDeterministicAcrossWorkers(t *testing.T) {
	d := synthetic("2020-01-01", 400)

	one, err := NewOptimizer(smallGrid(), WithWorkers(1)).Evaluate(context.Background(), d)
	require.NoError(t, err)
	many, err := NewOptimizer(smallGrid(), WithWorkers(4)).Evaluate(context.Background(), d)
	require.NoError(t, err)

	require.Len(t, one, smallGrid().Size())
	assert.Equal(t, one, many)
	for i := 0; i+1 < len(one); i++ {
		assert.False(t, Better(one[i+1].KPI, one[i].KPI), "row %d out of order", i)
	}
}

func TestOptimizerMatchesSingleEvaluate(t *testing.T) {
	d := synthetic("2020-01-01", 300)
	res, err := NewOptimizer(smallGrid()).Evaluate(context.Background(), d)
	require.NoError(t, err)

	want, err := Evaluate(d, res[0].Params)
	require.NoError(t, err)
	assert.Equal(t, want, res[0])
}

func TestOptimizerCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewOptimizer(smallGrid(), WithWorkers(2)).Evaluate(ctx, synthetic("2020-01-01", 100))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOptimizerNoData(t *testing.T) {
	_, err := NewOptimizer(smallGrid()).Evaluate(context.Background(), &Dataset{})
	assert.ErrorIs(t, err, ErrNoData)
}

func TestNewDatasetJoinsAndDropsGaps(t *testing.T) {
	ts := series.NewFrame(daily("2024-01-01", 5))
	ts.Set("sc_comp", []float64{40, 45, nan, 55, 60})
	mk := series.NewFrame(daily("2024-01-02", 5))
	mk.Set("spy", []float64{100, 110, 120, 132, 140})

	d, err := NewDataset(ts, mk, "SPY")
	require.NoError(t, err)
	require.Equal(t, 3, d.Len())
	assert.Equal(t, []float64{45, 55, 60}, d.Score)
	assert.Equal(t, 0.0, d.Ret[0])
	assert.InDelta(t, math.Log(120.0/100), d.Ret[1], 1e-12)
	assert.InDelta(t, math.Log(132.0/120), d.Ret[2], 1e-12)
}

func TestNewDatasetMissingColumns(t *testing.T) {
	ts := series.NewFrame(daily("2024-01-01", 2))
	ts.Set("risk_gates", []float64{1, 2})
	mk := series.NewFrame(daily("2024-01-01", 2))
	mk.Set("QQQ", []float64{1, 2})

	_, err := NewDataset(ts, mk, "SPY")
	assert.ErrorIs(t, err, ErrNoData)

	ts.Set("sc_comp", []float64{1, 2})
	_, err = NewDataset(ts, mk, "SPY")
	assert.ErrorIs(t, err, ErrNoData)

	_, err = NewDataset(nil, mk, "SPY")
	assert.ErrorIs(t, err, ErrNoData)
}

func TestWindowsRollYearly(t *testing.T) {
	dates := daily("2015-01-01", 2192) // through 2020-12-31
	ws := Windows(dates, DefaultWalkForwardConfig())
	require.Len(t, ws, 2)

	for _, w := range ws {
		require.NoError(t, w.Check(dates))
		assert.Equal(t, w.TrainHi, w.TestLo)
	}
	assert.Equal(t, "2015-01-01", dates[ws[0].TrainLo].Format("2006-01-02"))
	assert.Equal(t, "2018-01-01", dates[ws[0].TestLo].Format("2006-01-02"))
	assert.Equal(t, "2018-12-31", dates[ws[0].TestHi-1].Format("2006-01-02"))
	assert.Equal(t, "2016-01-01", dates[ws[1].TrainLo].Format("2006-01-02"))
}

func TestWindowsSkipShortSplits(t *testing.T) {
	cfg := DefaultWalkForwardConfig()
	cfg.MinTrainRows = 5000
	assert.Empty(t, Windows(daily("2015-01-01", 2192), cfg))
	assert.Empty(t, Windows(nil, DefaultWalkForwardConfig()))
}

func TestWindowCheckOverlap(t *testing.T) {
	dates := daily("2024-01-01", 10)
	err := Window{TrainLo: 0, TrainHi: 5, TestLo: 3, TestHi: 8}.Check(dates)
	assert.ErrorIs(t, err, ErrWindowOverlap)
	assert.NoError(t, Window{TrainLo: 0, TrainHi: 5, TestLo: 5, TestHi: 8}.Check(dates))
}

func TestWalkForwardRun(t *testing.T) {
	d := synthetic("2015-01-01", 2192)
	wf := NewWalkForward(NewOptimizer(smallGrid(), WithWorkers(2)), DefaultWalkForwardConfig(), nil)

	rows, err := wf.Run(context.Background(), d)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	for _, r := range rows {
		assert.Greater(t, r.TestStart, r.TrainEnd)
		assert.NotEmpty(t, r.Mode)
		assert.GreaterOrEqual(t, r.EMA, 10)
		assert.LessOrEqual(t, r.EMA, 14)
	}
	assert.Equal(t, "2015-01-01", rows[0].TrainStart)
	assert.Equal(t, "2017-12-31", rows[0].TrainEnd)
	assert.Equal(t, "2018-01-01", rows[0].TestStart)
}

func TestSummarize(t *testing.T) {
	assert.Nil(t, Summarize(nil))

	rows := []models.WindowResult{
		{Params: models.Params{EMA: 10, On: 40, Off: 55, Mode: models.ModeTriState, ShortW: -0.5}, KPI: models.KPI{CAGR: 0.1, Sharpe: 1, MaxDD: -0.1, Calmar: 1}},
		{Params: models.Params{EMA: 20, On: 42, Off: 56, Mode: models.ModeLongOnly}, KPI: models.KPI{CAGR: 0.3, Sharpe: 2, MaxDD: -0.2, Calmar: 1.5}},
	}
	s := Summarize(rows)
	require.NotNil(t, s)
	assert.Equal(t, 2, s.Windows)
	assert.InDelta(t, 0.2, s.CAGRMean, 1e-12)
	assert.InDelta(t, 1.5, s.SharpeMean, 1e-12)
	assert.InDelta(t, -0.15, s.MaxDDMean, 1e-12)
	assert.InDelta(t, 1.25, s.CalmarMean, 1e-12)
	assert.Equal(t, 20, s.BestWindow.EMA)
	assert.Equal(t, models.ModeLongOnly, s.ModeMostCommon, "ties resolve to the smaller mode name")
	assert.Equal(t, 15.0, s.EMAMedian)
	assert.Equal(t, 41.0, s.OnMedian)
	assert.Equal(t, 55.5, s.OffMedian)
	assert.Equal(t, -0.25, s.ShortWMedian)
}
