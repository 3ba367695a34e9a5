package backtest

import (
	"context"
	"fmt"
	"sort"
	"time"

	"RiskPull/internal/domain/models"
	"RiskPull/internal/series"
	"RiskPull/pkg/logger"
	"RiskPull/pkg/util"
)

type WalkForwardConfig struct {
	TrainYears   int
	TestYears    int
	StepDays     int
	MinTrainRows int
	MinTestRows  int
}

func DefaultWalkForwardConfig() WalkForwardConfig {
	return WalkForwardConfig{TrainYears: 3, TestYears: 1, StepDays: 365, MinTrainRows: 250, MinTestRows: 100}
}

// Window holds row ranges: train [TrainLo, TrainHi), test [TestLo, TestHi).
type Window struct {
	TrainLo, TrainHi int
	TestLo, TestHi   int
}

// Check fails with ErrWindowOverlap unless every test date is after every train date.
func (w Window) Check(dates []time.Time) error {
	if w.TrainHi <= w.TrainLo || w.TestHi <= w.TestLo {
		return fmt.Errorf("empty window %+v", w)
	}
	if w.TestLo < w.TrainHi || !dates[w.TestLo].After(dates[w.TrainHi-1]) {
		return fmt.Errorf("train ends %s, test starts %s: %w",
			util.FormatDate(dates[w.TrainHi-1]), util.FormatDate(dates[w.TestLo]), ErrWindowOverlap)
	}
	return nil
}

// Windows rolls a train/test split forward from the first date by StepDays until
// the test end would come within 5 days of the last date. Splits with too few
// rows are skipped.
func Windows(dates []time.Time, cfg WalkForwardConfig) []Window {
	if len(dates) == 0 || cfg.StepDays <= 0 {
		return nil
	}
	search := func(t time.Time) int {
		return sort.Search(len(dates), func(i int) bool { return !dates[i].Before(t) })
	}
	stop := dates[len(dates)-1].AddDate(0, 0, -5)

	var out []Window
	for ptr := dates[0]; ; ptr = ptr.AddDate(0, 0, cfg.StepDays) {
		trainEnd := util.AddYears(ptr, cfg.TrainYears)
		testEnd := util.AddYears(trainEnd, cfg.TestYears)
		if testEnd.After(stop) {
			break
		}
		w := Window{TrainLo: search(ptr), TrainHi: search(trainEnd), TestLo: search(trainEnd), TestHi: search(testEnd)}
		if w.TrainHi-w.TrainLo < cfg.MinTrainRows || w.TestHi-w.TestLo < cfg.MinTestRows {
			continue
		}
		out = append(out, w)
	}
	return out
}

// WalkForward picks the best grid point on each training split and applies it
// unchanged to the following test split.
type WalkForward struct {
	opt *Optimizer
	cfg WalkForwardConfig
	log *logger.Logger
}

// NewWalkForward uses DefaultWalkForwardConfig when cfg is the zero value.
func NewWalkForward(opt *Optimizer, cfg WalkForwardConfig, log *logger.Logger) *WalkForward {
	if cfg == (WalkForwardConfig{}) {
		cfg = DefaultWalkForwardConfig()
	}
	if log == nil {
		log = logger.Nop()
	}
	return &WalkForward{opt: opt, cfg: cfg, log: log}
}

func (wf *WalkForward) Run(ctx context.Context, d *Dataset) ([]models.WindowResult, error) {
	if d.Len() == 0 {
		return nil, ErrNoData
	}
	windows := Windows(d.Dates, wf.cfg)
	out := make([]models.WindowResult, 0, len(windows))
	for i, w := range windows {
		if err := w.Check(d.Dates); err != nil {
			return out, err
		}
		best, ok, err := wf.opt.Best(ctx, d.Slice(w.TrainLo, w.TrainHi))
		if err != nil {
			return out, fmt.Errorf("window %d: %w", i, err)
		}
		if !ok {
			continue
		}
		test, err := Evaluate(d.Slice(w.TestLo, w.TestHi), best.Params)
		if err != nil {
			return out, fmt.Errorf("window %d: %w", i, err)
		}
		row := models.WindowResult{
			TrainStart: util.FormatDate(d.Dates[w.TrainLo]),
			TrainEnd:   util.FormatDate(d.Dates[w.TrainHi-1]),
			TestStart:  util.FormatDate(d.Dates[w.TestLo]),
			TestEnd:    util.FormatDate(d.Dates[w.TestHi-1]),
			Params:     best.Params,
			EqEnd:      test.EqEnd,
			EqBase:     test.EqBase,
			KPI:        test.KPI,
		}
		wf.log.Info("walk-forward window",
			logger.String("train_start", row.TrainStart),
			logger.String("test_start", row.TestStart),
			logger.String("mode", string(row.Mode)),
			logger.Int("ema", row.EMA),
			logger.Float64("test_sharpe", row.Sharpe),
		)
		out = append(out, row)
	}
	return out, nil
}

// Summarize aggregates walk-forward rows; nil when there are none.
func Summarize(rows []models.WindowResult) *models.WalkForwardSummary {
	if len(rows) == 0 {
		return nil
	}
	col := func(fn func(r models.WindowResult) float64) []float64 {
		out := make([]float64, len(rows))
		for i, r := range rows {
			out[i] = fn(r)
		}
		return out
	}

	best := rows[0]
	for _, r := range rows[1:] {
		if Better(r.KPI, best.KPI) {
			best = r
		}
	}

	counts := map[models.Mode]int{}
	for _, r := range rows {
		counts[r.Mode]++
	}
	var mode models.Mode
	for m, c := range counts {
		if c > counts[mode] || (c == counts[mode] && m < mode) {
			mode = m
		}
	}

	return &models.WalkForwardSummary{
		Windows:        len(rows),
		CAGRMean:       series.Mean(col(func(r models.WindowResult) float64 { return r.CAGR })),
		SharpeMean:     series.Mean(col(func(r models.WindowResult) float64 { return r.Sharpe })),
		MaxDDMean:      series.Mean(col(func(r models.WindowResult) float64 { return r.MaxDD })),
		CalmarMean:     series.Mean(col(func(r models.WindowResult) float64 { return r.Calmar })),
		BestWindow:     &best,
		ModeMostCommon: mode,
		EMAMedian:      series.Median(col(func(r models.WindowResult) float64 { return float64(r.EMA) })),
		OnMedian:       series.Median(col(func(r models.WindowResult) float64 { return r.On })),
		OffMedian:      series.Median(col(func(r models.WindowResult) float64 { return r.Off })),
		ShortWMedian:   series.Median(col(func(r models.WindowResult) float64 { return r.ShortW })),
	}
}
