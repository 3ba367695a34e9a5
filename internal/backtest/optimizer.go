package backtest

import (
	"context"
	"runtime"
	"sort"
	"sync"
	"time"

	"RiskPull/internal/domain/models"
	"RiskPull/pkg/logger"
)

// Grid bounds the parameter search. Ranges are inclusive.
type Grid struct {
	EMAMin, EMAMax int
	OnMin, OnMax   int
	OffMin, OffMax int
	ShortWs        []float64
}

func DefaultGrid() Grid {
	return Grid{
		EMAMin: 10, EMAMax: 126,
		OnMin: 38, OnMax: 50,
		OffMin: 50, OffMax: 62,
		ShortWs: []float64{-1, -0.75, -0.5, -0.25},
	}
}

// thresholds lists the (on, off) pairs with on < off, each followed by
// long_only and one tri_state entry per short weight.
func (g Grid) thresholds() []models.Params {
	var out []models.Params
	for on := g.OnMin; on <= g.OnMax; on++ {
		for off := g.OffMin; off <= g.OffMax; off++ {
			if on >= off {
				continue
			}
			out = append(out, models.Params{On: float64(on), Off: float64(off), Mode: models.ModeLongOnly})
			for _, sw := range g.ShortWs {
				out = append(out, models.Params{On: float64(on), Off: float64(off), Mode: models.ModeTriState, ShortW: sw})
			}
		}
	}
	return out
}

// Params enumerates the grid in evaluation order: ema, on, off, mode, short_w.
func (g Grid) Params() []models.Params {
	th := g.thresholds()
	out := make([]models.Params, 0, len(th)*(g.EMAMax-g.EMAMin+1))
	for ema := g.EMAMin; ema <= g.EMAMax; ema++ {
		for _, p := range th {
			p.EMA = ema
			out = append(out, p)
		}
	}
	return out
}

func (g Grid) Size() int {
	if g.EMAMax < g.EMAMin {
		return 0
	}
	return len(g.thresholds()) * (g.EMAMax - g.EMAMin + 1)
}

type Option func(*Optimizer)

// WithWorkers bounds the number of concurrent evaluators; <= 0 uses GOMAXPROCS.
func WithWorkers(n int) Option { return func(o *Optimizer) { o.workers = n } }

func WithLogger(l *logger.Logger) Option { return func(o *Optimizer) { o.log = l } }

// Optimizer evaluates every grid point on a dataset.
type Optimizer struct {
	grid    Grid
	workers int
	log     *logger.Logger
}

// NewOptimizer searches DefaultGrid when grid is the zero value.
func NewOptimizer(grid Grid, opts ...Option) *Optimizer {
	if grid.EMAMax == 0 && grid.OnMax == 0 && grid.OffMax == 0 && len(grid.ShortWs) == 0 {
		grid = DefaultGrid()
	}
	o := &Optimizer{grid: grid, log: logger.Nop()}
	for _, opt := range opts {
		opt(o)
	}
	if o.workers <= 0 {
		o.workers = runtime.GOMAXPROCS(0)
	}
	return o
}

func (o *Optimizer) Grid() Grid { return o.grid }

// Evaluate runs the full grid and returns the results ranked best first.
// One job per EMA span shares the smoothed score across its thresholds; each
// job writes its own slice of the result so the order does not depend on scheduling.
func (o *Optimizer) Evaluate(ctx context.Context, d *Dataset) ([]models.EvalResult, error) {
	if d.Len() == 0 {
		return nil, ErrNoData
	}
	start := time.Now()
	th := o.grid.thresholds()
	spans := o.grid.EMAMax - o.grid.EMAMin + 1
	if spans <= 0 || len(th) == 0 {
		return []models.EvalResult{}, nil
	}
	results := make([]models.EvalResult, spans*len(th))

	jobs := make(chan int)
	var wg sync.WaitGroup
	workers := o.workers
	if workers > spans {
		workers = spans
	}
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				ema := o.grid.EMAMin + j
				x := Smooth(d.Score, ema)
				base := j * len(th)
				for k, p := range th {
					p.EMA = ema
					sig, _ := Positions(x, p)
					results[base+k] = evaluatePositions(d, p, sig)
				}
			}
		}()
	}

	var err error
feed:
	for j := 0; j < spans; j++ {
		if err = ctx.Err(); err != nil {
			break
		}
		select {
		case <-ctx.Done():
			err = ctx.Err()
			break feed
		case jobs <- j:
		}
	}
	close(jobs)
	wg.Wait()
	if err != nil {
		return nil, err
	}

	Rank(results)
	o.log.Debug("grid evaluated",
		logger.Int("rows", d.Len()),
		logger.Int("combinations", len(results)),
		logger.Int("workers", workers),
		logger.Duration("elapsed", time.Since(start)),
	)
	return results, nil
}

// Best returns the top ranked parameter set on d.
func (o *Optimizer) Best(ctx context.Context, d *Dataset) (models.EvalResult, bool, error) {
	res, err := o.Evaluate(ctx, d)
	if err != nil || len(res) == 0 {
		return models.EvalResult{}, false, err
	}
	return res[0], true, nil
}

// Rank sorts results best first; ties keep grid order.
func Rank(rows []models.EvalResult) {
	sort.SliceStable(rows, func(i, j int) bool { return Better(rows[i].KPI, rows[j].KPI) })
}
