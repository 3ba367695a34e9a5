// Package riskindex builds the composite risk score, the rule gate score and the
// regime label from the aligned macro and market series.
package riskindex

import (
	"errors"
	"math"
	"time"

	"RiskPull/internal/domain/models"
	"RiskPull/internal/series"
	"RiskPull/pkg/logger"
	"RiskPull/pkg/util"
)

var ErrNoInputs = errors.New("riskindex: no input data")

type Config struct {
	ZWindow      int
	BinWindow    int
	RedThreshold float64
	Now          func() time.Time
}

type Option func(*Config)

func WithZWindow(n int) Option { return func(c *Config) { c.ZWindow = n } }

// WithBinWindow sets the trailing window of the gate min-max; 0 scales by the full sample.
func WithBinWindow(n int) Option { return func(c *Config) { c.BinWindow = n } }

func WithRedThreshold(v float64) Option { return func(c *Config) { c.RedThreshold = v } }

func WithClock(now func() time.Time) Option { return func(c *Config) { c.Now = now } }

func DefaultConfig() Config {
	return Config{ZWindow: 252, BinWindow: 252, RedThreshold: 70, Now: time.Now}
}

// Inputs are the three processed source tables; any may be nil or empty.
type Inputs struct {
	Fred   *series.Frame
	Market *series.Frame
	OAS    *series.Frame
}

func (in Inputs) empty() bool {
	return in.Fred.Empty() && in.Market.Empty() && in.OAS.Empty()
}

type Result struct {
	Snapshot   models.Snapshot
	Timeseries []models.TimeseriesRow
	Report     models.BuildReport
	Frame      *series.Frame
}

type Engine struct {
	cfg Config
	log *logger.Logger
}

func NewEngine(log *logger.Logger, opts ...Option) *Engine {
	cfg := DefaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Engine{cfg: cfg, log: log}
}

// Align forward fills each source to daily frequency, upper-cases column names,
// joins on the union of dates and forward fills again.
func Align(in Inputs) *series.Frame {
	var frames []*series.Frame
	for _, f := range []*series.Frame{in.Fred, in.Market, in.OAS} {
		if f.Empty() {
			continue
		}
		frames = append(frames, f.DailyFFill().Upper())
	}
	if len(frames) == 0 {
		return series.NewFrame(nil)
	}
	return series.OuterJoin(frames...).FFill()
}

// Build computes snapshot, timeseries and build report. ErrNoInputs means every source
// was missing; callers treat that as a soft abort.
func (e *Engine) Build(in Inputs) (*Result, error) {
	if in.empty() {
		return nil, ErrNoInputs
	}
	f := Align(in)
	if f.Empty() {
		return nil, ErrNoInputs
	}

	w := e.cfg.ZWindow
	minP := ZMinPeriods(w)

	report := models.BuildReport{
		GeneratedAt: e.cfg.Now().UTC(),
		Rows:        f.Len(),
		FirstDate:   util.FormatDate(f.Index[0]),
		LastDate:    util.FormatDate(f.LastDate()),
		BlocksOK:    []string{},
		Inputs: map[string]int{
			"fred_core":   in.Fred.Len(),
			"market_core": in.Market.Len(),
			"fred_oas":    in.OAS.Len(),
		},
	}

	scores := make(map[string]*float64, len(blocks))
	var zlist [][]float64
	for _, b := range blocks {
		if miss := b.missing(f); len(miss) > 0 {
			scores[b.key] = nil
			report.BlocksMissing = append(report.BlocksMissing, models.MissingBlock{Name: b.key, Columns: miss})
			continue
		}
		raw := b.transform(f)
		var score float64
		if b.rank {
			score = (1 - series.Last(series.PctRank(raw))) * 100
		} else {
			z := series.ZScore(raw, w, minP)
			score = ScoreFromZ(series.Last(z), b.invert)
			if b.composite {
				zlist = append(zlist, z)
			}
		}
		if math.IsNaN(score) {
			scores[b.key] = nil
			report.BlocksMissing = append(report.BlocksMissing, models.MissingBlock{
				Name: b.key, Columns: []string{}, Reason: "no value on the last row",
			})
			continue
		}
		scores[b.key] = util.FloatPtr(score)
		report.BlocksOK = append(report.BlocksOK, b.key)
	}

	var composite *float64
	vals := make([]float64, 0, len(scores))
	for _, b := range blocks {
		if v := scores[b.key]; v != nil {
			vals = append(vals, *v)
		}
	}
	if len(vals) > 0 {
		composite = util.FloatPtr(series.Mean(vals))
	}

	gates, hasGates := Gates(f)
	var bin []float64
	if hasGates {
		bin = BinScale(gates, e.cfg.BinWindow)
	}

	cls := Classify(scores, composite, e.cfg.RedThreshold)

	cols := f.SortedColumns()
	snap := models.Snapshot{
		AsOf:             e.cfg.Now().UTC(),
		DataAsOf:         util.FormatDate(f.LastDate()),
		Composite:        composite,
		Regime:           cls.Regime,
		FSScore:          float64(cls.FSScore),
		GateHits:         cls.GateHits,
		Threshold:        cls.Threshold,
		Distance:         cls.Distance,
		Scores:           scores,
		HasRiskIndexBin:  hasGates,
		OneLiner:         OneLiner(scores, composite, cls.FSScore),
		Risks:            Risks(scores),
		AvailableColumns: cols,
		Notes: []string{
			"Snapshot nutzt alle verfügbaren Reihen; fehlende Inputs werden ignoriert.",
			"risk_index_bin stammt aus festen Gates (VIXTerm, Curve, Credit, USD, UST10Vol, RelFin).",
		},
	}
	if hasGates {
		snap.RiskGates = util.FloatPtr(series.Last(gates))
		snap.RiskIndexBin = util.FloatPtr(series.Last(bin))
	}

	e.log.Info("riskindex built",
		logger.Int("rows", f.Len()),
		logger.Int("blocks_ok", len(report.BlocksOK)),
		logger.Int("blocks_missing", len(report.BlocksMissing)),
		logger.String("regime", string(cls.Regime)),
		logger.Int("gate_hits", cls.GateHits),
	)

	return &Result{
		Snapshot:   snap,
		Timeseries: timeseries(f, zlist, gates, bin),
		Report:     report,
		Frame:      f,
	}, nil
}

// timeseries emits sc_comp per date as the mean of the unclipped 50+10z values once
// at least max(6, n/3) of the n composite z-series are defined.
func timeseries(f *series.Frame, zlist [][]float64, gates, bin []float64) []models.TimeseriesRow {
	if len(zlist) == 0 && gates == nil {
		return nil
	}
	need := len(zlist) / 3
	if need < 6 {
		need = 6
	}

	rows := make([]models.TimeseriesRow, f.Len())
	buf := make([]float64, 0, len(zlist))
	for i, d := range f.Index {
		buf = buf[:0]
		for _, z := range zlist {
			if !math.IsNaN(z[i]) {
				buf = append(buf, 50+10*z[i])
			}
		}
		row := models.TimeseriesRow{Date: d, SCComp: math.NaN(), RiskGates: math.NaN(), RiskIndexBin: math.NaN()}
		if len(buf) >= need {
			row.SCComp = series.Mean(buf)
		}
		if gates != nil {
			row.RiskGates = gates[i]
			row.RiskIndexBin = bin[i]
		}
		rows[i] = row
	}
	return rows
}
