package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"RiskPull/internal/backtest"
	"RiskPull/internal/domain/models"
	drepo "RiskPull/internal/domain/repository"
	"RiskPull/internal/integrity"
	"RiskPull/internal/repository"
	"RiskPull/internal/riskindex"
	"RiskPull/internal/volatility"
	"RiskPull/internal/watchlist"
	"RiskPull/pkg/logger"
)

// Stage names accepted by Run.
const (
	StageRiskIndex   = "riskindex"
	StageSniper      = "sniper"
	StageMacro       = "macro"
	StageOptimize    = "optimize"
	StageWalkForward = "walkforward"
	StageHV          = "hv"
	StageReport      = stageReport
	StageIntegrity   = "integrity"
	StageNightly     = "nightly"
)

var ErrUnknownStage = errors.New("unknown stage")

// Stages lists every runnable stage in nightly order.
func Stages() []string {
	return []string{StageRiskIndex, StageSniper, StageMacro, StageOptimize, StageWalkForward,
		StageHV, StageReport, StageIntegrity, StageNightly}
}

// StageResult describes one stage run.
type StageResult struct {
	Stage      string    `json:"stage"`
	RunID      string    `json:"run_id"`
	StartedAt  time.Time `json:"started_at"`
	DurationMS int64     `json:"duration_ms"`
	Rows       int       `json:"rows"`
	Failed     int       `json:"failed"`
	Skipped    bool      `json:"skipped"`
	Note       string    `json:"note,omitempty"`
	Error      string    `json:"error,omitempty"`
}

type PipelineConfig struct {
	Benchmark     string
	WatchlistPath string
}

// Pipeline runs the batch stages over the artifact tree.
type Pipeline struct {
	cfg       PipelineConfig
	store     *repository.ArtifactStore
	engine    *riskindex.Engine
	optimizer *backtest.Optimizer
	walk      *backtest.WalkForward
	hv        *volatility.Builder
	reports   *ReportBatch
	checker   *integrity.Checker
	sinks     *SinkProcessor
	metrics   drepo.Metrics
	log       *logger.Logger
	now       func() time.Time

	locker  StageLocker
	lockTTL time.Duration
}

func NewPipeline(
	cfg PipelineConfig,
	store *repository.ArtifactStore,
	engine *riskindex.Engine,
	optimizer *backtest.Optimizer,
	walk *backtest.WalkForward,
	hv *volatility.Builder,
	reports *ReportBatch,
	checker *integrity.Checker,
	sinks *SinkProcessor,
	metrics drepo.Metrics,
	log *logger.Logger,
) *Pipeline {
	if cfg.Benchmark == "" {
		cfg.Benchmark = "SPY"
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Pipeline{
		cfg: cfg, store: store, engine: engine, optimizer: optimizer, walk: walk, hv: hv,
		reports: reports, checker: checker, sinks: sinks, metrics: metrics, log: log, now: time.Now,
	}
}

func (p *Pipeline) Store() *repository.ArtifactStore { return p.store }

// Run executes one stage, or every stage for nightly.
func (p *Pipeline) Run(ctx context.Context, stage string) ([]*StageResult, error) {
	if stage == StageNightly {
		return p.Nightly(ctx)
	}
	fn, ok := p.stage(stage)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStage, stage)
	}
	res, err := fn(ctx)
	return []*StageResult{res}, err
}

func (p *Pipeline) stage(name string) (func(context.Context) (*StageResult, error), bool) {
	m := map[string]func(context.Context) (*StageResult, error){
		StageRiskIndex:   p.RiskIndex,
		StageSniper:      p.Sniper,
		StageMacro:       p.Macro,
		StageOptimize:    p.Optimize,
		StageWalkForward: p.WalkForward,
		StageHV:          p.HV,
		StageReport:      p.Reports,
		StageIntegrity:   p.Integrity,
	}
	fn, ok := m[name]
	return fn, ok
}

// run wraps a stage body with run id, timing, metrics and logging.
func (p *Pipeline) run(ctx context.Context, stage string, body func(ctx context.Context, res *StageResult, log *logger.Logger) error) (*StageResult, error) {
	res := &StageResult{Stage: stage, RunID: uuid.NewString(), StartedAt: p.now().UTC()}
	log := p.log.With(logger.String("stage", stage), logger.String("run_id", res.RunID))

	ctx, release, err := p.Acquire(ctx, stage)
	if err != nil {
		res.Skipped = errors.Is(err, ErrStageRunning)
		res.Error = err.Error()
		log.Warn("stage not started", logger.Error(err))
		return res, err
	}
	defer release()

	start := time.Now()
	err = body(ctx, res, log)
	dur := time.Since(start)
	res.DurationMS = dur.Milliseconds()
	p.metrics.RecordStage(stage, dur, err)

	if err != nil {
		res.Error = err.Error()
		log.Error("stage failed", logger.Duration("elapsed", dur), logger.Error(err))
		return res, fmt.Errorf("%s: %w", stage, err)
	}
	log.Info("stage finished",
		logger.Int("rows", res.Rows),
		logger.Int("failed", res.Failed),
		logger.Bool("skipped", res.Skipped),
		logger.Duration("elapsed", dur))
	return res, nil
}

func skip(res *StageResult, log *logger.Logger, note string, err error) error {
	res.Skipped = true
	res.Note = note
	log.Warn("stage skipped", logger.String("reason", note), logger.Error(err))
	return nil
}

func isNoData(err error) bool {
	return errors.Is(err, drepo.ErrNoData) || errors.Is(err, riskindex.ErrNoInputs) ||
		errors.Is(err, riskindex.ErrInsufficientHistory) || errors.Is(err, backtest.ErrNoData)
}

// RiskIndex builds the composite score, writes its artifacts and feeds the sinks.
func (p *Pipeline) RiskIndex(ctx context.Context) (*StageResult, error) {
	return p.run(ctx, StageRiskIndex, func(ctx context.Context, res *StageResult, log *logger.Logger) error {
		in, err := p.store.LoadRiskInputs()
		if err != nil {
			return fmt.Errorf("load inputs: %w", err)
		}
		out, err := p.engine.Build(in)
		if errors.Is(err, riskindex.ErrNoInputs) {
			return skip(res, log, "no input tables", err)
		}
		if err != nil {
			return err
		}

		snap := &out.Snapshot
		if err := p.store.SaveSnapshot(snap); err != nil {
			return fmt.Errorf("save snapshot: %w", err)
		}
		if err := p.store.SaveTimeseries(out.Timeseries); err != nil {
			return fmt.Errorf("save timeseries: %w", err)
		}
		if err := p.store.SaveBuildReport(&out.Report); err != nil {
			return fmt.Errorf("save build report: %w", err)
		}

		res.Rows = len(out.Timeseries)
		res.Note = string(snap.Regime)
		p.metrics.RecordRows(repository.FileTimeseries, res.Rows)
		p.metrics.RecordRegime(string(snap.Regime), models.RegimeNames())
		p.metrics.RecordScore("fs_score", snap.FSScore)
		if snap.Composite != nil {
			p.metrics.RecordScore("composite", *snap.Composite)
		}

		if p.sinks != nil {
			if err := p.sinks.Process(ctx, snap, out.Timeseries); err != nil {
				res.Failed++
				log.Warn("sink delivery failed", logger.String("backend", p.sinks.Backend()), logger.Error(err))
			}
		}
		return nil
	})
}

// Sniper writes the trend/VIX/credit index from market_core.
func (p *Pipeline) Sniper(ctx context.Context) (*StageResult, error) {
	return p.run(ctx, StageSniper, func(ctx context.Context, res *StageResult, log *logger.Logger) error {
		market, err := p.store.LoadFrame(repository.FileMarketCore)
		if isNoData(err) {
			return skip(res, log, "market_core missing", err)
		}
		if err != nil {
			return err
		}
		rows, snap, err := riskindex.Sniper(market)
		if isNoData(err) {
			return skip(res, log, "market_core empty", err)
		}
		if err != nil {
			return err
		}
		if err := p.store.SaveSniper(rows, snap); err != nil {
			return fmt.Errorf("save sniper: %w", err)
		}
		res.Rows = len(rows)
		res.Note = snap.Regime
		p.metrics.RecordRows(repository.FileSniperCSV, len(rows))
		p.metrics.RecordScore("sniper", snap.Composite)
		return nil
	})
}

// Macro writes the macro traffic light and the OAS credit regime.
func (p *Pipeline) Macro(ctx context.Context) (*StageResult, error) {
	return p.run(ctx, StageMacro, func(ctx context.Context, res *StageResult, log *logger.Logger) error {
		in, err := p.store.LoadRiskInputs()
		if err != nil {
			return fmt.Errorf("load inputs: %w", err)
		}
		status, err := riskindex.MacroStatus(in)
		if isNoData(err) {
			return skip(res, log, "no input tables", err)
		}
		if err != nil {
			return err
		}
		if err := p.store.SaveMacroStatus(status); err != nil {
			return fmt.Errorf("save macro status: %w", err)
		}
		credit := riskindex.CreditRegime(in.OAS)
		if err := p.store.SaveRegimeState(credit); err != nil {
			return fmt.Errorf("save regime state: %w", err)
		}
		if credit.Z != nil {
			p.metrics.RecordScore("credit_z", *credit.Z)
		}
		for name, ind := range status.Indicators {
			p.metrics.RecordScore("macro_"+name, float64(ind.Score))
		}
		res.Rows = len(status.Indicators)
		res.Note = string(credit.State)
		return nil
	})
}

func (p *Pipeline) dataset() (*backtest.Dataset, error) {
	ts, err := p.store.LoadTimeseries()
	if err != nil {
		return nil, err
	}
	market, err := p.store.LoadFrame(repository.FileMarketCore)
	if err != nil {
		return nil, err
	}
	return backtest.NewDataset(ts, market, p.cfg.Benchmark)
}

// Optimize evaluates the parameter grid and writes the ranked results.
func (p *Pipeline) Optimize(ctx context.Context) (*StageResult, error) {
	return p.run(ctx, StageOptimize, func(ctx context.Context, res *StageResult, log *logger.Logger) error {
		d, err := p.dataset()
		if isNoData(err) {
			if err := p.store.SaveOptimizer(nil); err != nil {
				return err
			}
			return skip(res, log, "no score/benchmark overlap", err)
		}
		if err != nil {
			return err
		}
		rows, err := p.optimizer.Evaluate(ctx, d)
		if err != nil {
			return err
		}
		if err := p.store.SaveOptimizer(rows); err != nil {
			return fmt.Errorf("save optimizer: %w", err)
		}
		res.Rows = len(rows)
		p.metrics.RecordGridEvaluations(len(rows))
		p.metrics.RecordRows(repository.FileOptResults, len(rows))
		if len(rows) > 0 {
			best := rows[0]
			res.Note = fmt.Sprintf("%s ema=%d on=%g off=%g", best.Mode, best.EMA, best.On, best.Off)
			p.metrics.RecordScore("best_sharpe", best.Sharpe)
		}
		return nil
	})
}

// WalkForward runs the rolling train/test evaluation.
func (p *Pipeline) WalkForward(ctx context.Context) (*StageResult, error) {
	return p.run(ctx, StageWalkForward, func(ctx context.Context, res *StageResult, log *logger.Logger) error {
		d, err := p.dataset()
		if isNoData(err) {
			if err := p.store.SaveWalkForward(nil, nil); err != nil {
				return err
			}
			return skip(res, log, "no score/benchmark overlap", err)
		}
		if err != nil {
			return err
		}
		rows, err := p.walk.Run(ctx, d)
		if err != nil {
			return err
		}
		if err := p.store.SaveWalkForward(rows, backtest.Summarize(rows)); err != nil {
			return fmt.Errorf("save walk-forward: %w", err)
		}
		res.Rows = len(rows)
		p.metrics.RecordRows(repository.FileWFResults, len(rows))
		return nil
	})
}

func (p *Pipeline) symbols() ([]string, error) {
	syms, err := watchlist.Load(p.cfg.WatchlistPath)
	if err != nil {
		return nil, err
	}
	return syms, nil
}

// HV computes historical volatility for the watchlist.
func (p *Pipeline) HV(ctx context.Context) (*StageResult, error) {
	return p.run(ctx, StageHV, func(ctx context.Context, res *StageResult, log *logger.Logger) error {
		syms, err := p.symbols()
		if err != nil {
			return err
		}
		out, err := p.hv.Build(ctx, syms)
		if err != nil {
			return err
		}
		if err := p.store.SaveHV(out.Rows, out.Report); err != nil {
			return fmt.Errorf("save hv: %w", err)
		}
		if err := p.store.SaveStageErrors(StageHV, out.Errors, p.now()); err != nil {
			return fmt.Errorf("save hv errors: %w", err)
		}
		res.Rows = len(out.Rows)
		res.Failed = len(out.Errors)
		p.metrics.RecordRows(repository.FileHVSummary, len(out.Rows))
		return nil
	})
}

// Reports builds the equity report of every watchlist symbol.
func (p *Pipeline) Reports(ctx context.Context) (*StageResult, error) {
	return p.run(ctx, StageReport, func(ctx context.Context, res *StageResult, log *logger.Logger) error {
		syms, err := p.symbols()
		if err != nil {
			return err
		}
		out, err := p.reports.Run(ctx, syms)
		if err != nil {
			return err
		}
		res.Rows = out.Built
		res.Failed = len(out.Errors)
		if len(out.Queued) > 0 {
			res.Rows = len(out.Queued)
			res.Note = "queued"
		}
		p.metrics.RecordRows("eq_template", out.Built)
		return nil
	})
}

// Report rebuilds a single symbol.
func (p *Pipeline) Report(ctx context.Context, symbol string) (*models.EquityReport, error) {
	var rep *models.EquityReport
	_, err := p.run(ctx, StageReport, func(ctx context.Context, res *StageResult, log *logger.Logger) error {
		var err error
		rep, err = p.reports.Assembler().Build(ctx, symbol)
		if err == nil {
			res.Rows = 1
		}
		return err
	})
	return rep, err
}

// Integrity runs the data sanity checks.
func (p *Pipeline) Integrity(ctx context.Context) (*StageResult, error) {
	return p.run(ctx, StageIntegrity, func(ctx context.Context, res *StageResult, log *logger.Logger) error {
		rep, err := p.checker.Run(ctx)
		if err != nil {
			return err
		}
		res.Rows = len(rep.Checks)
		for _, c := range rep.Checks {
			if c.Status == models.CheckFail {
				res.Failed++
			}
		}
		res.Note = "ok"
		if !rep.OK {
			res.Note = "hard check failed"
		}
		return nil
	})
}

// Nightly runs every stage. Independent stages run concurrently; a failing
// stage does not stop the others, cancellation stops the remaining phases.
// The joined stage errors are returned.
func (p *Pipeline) Nightly(ctx context.Context) ([]*StageResult, error) {
	ctx, release, err := p.Acquire(ctx, StageNightly)
	if err != nil {
		return nil, err
	}
	defer release()

	var (
		mu      sync.Mutex
		results []*StageResult
		errs    []error
	)
	collect := func(res *StageResult, err error) {
		mu.Lock()
		defer mu.Unlock()
		if res != nil {
			results = append(results, res)
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	type chain []func(context.Context) (*StageResult, error)
	phase := func(chains ...chain) error {
		g, gctx := errgroup.WithContext(ctx)
		for _, c := range chains {
			g.Go(func() error {
				for _, fn := range c {
					if err := gctx.Err(); err != nil {
						return err
					}
					collect(fn(gctx))
				}
				return nil
			})
		}
		return g.Wait()
	}

	start := time.Now()
	phases := [][]chain{
		{{p.RiskIndex}, {p.HV}},
		{{p.Sniper}, {p.Macro}, {p.Optimize, p.WalkForward}, {p.Reports}},
		{{p.Integrity}},
	}
	for i, ph := range phases {
		if err := phase(ph...); err != nil {
			p.log.Warn("nightly run interrupted", logger.Int("phase", i+1), logger.Error(err))
			errs = append(errs, err)
			break
		}
	}

	err = errors.Join(errs...)
	p.metrics.RecordStage(StageNightly, time.Since(start), err)
	p.log.Info("nightly run finished",
		logger.Int("stages", len(results)),
		logger.Int("failed", len(errs)),
		logger.Duration("elapsed", time.Since(start)))
	return results, err
}
