package volatility

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"RiskPull/internal/domain/models"
	"RiskPull/internal/domain/repository"
	"RiskPull/pkg/logger"
	"RiskPull/pkg/util"
)

// Result holds one HV run. Rows keep watchlist order; failed symbols are in Errors.
type Result struct {
	Rows   []models.HVRow
	Errors []models.StageError
	Report models.HVReport
}

type Builder struct {
	prices  repository.PriceSource
	workers int
	now     func() time.Time
	log     *logger.Logger
}

func NewBuilder(prices repository.PriceSource, workers int, log *logger.Logger) *Builder {
	if workers < 1 {
		workers = 1
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Builder{prices: prices, workers: workers, now: time.Now, log: log}
}

// Row computes hv20/hv60 for one symbol.
func (b *Builder) Row(ctx context.Context, symbol string) (models.HVRow, error) {
	ps, err := b.prices.Closes(ctx, symbol)
	if err != nil {
		return models.HVRow{}, err
	}
	if ps.Len() == 0 {
		return models.HVRow{}, fmt.Errorf("%s: %w", symbol, repository.ErrNoData)
	}
	return models.HVRow{
		Symbol: symbol,
		HV20:   HV(ps.Close, 20),
		HV60:   HV(ps.Close, 60),
		AsOf:   util.FormatDate(ps.Dates[len(ps.Dates)-1]),
	}, nil
}

// Build fans out over the symbols with at most workers concurrent reads.
// A symbol failure is recorded and does not stop the batch; cancellation does.
func (b *Builder) Build(ctx context.Context, symbols []string) (*Result, error) {
	rows := make([]*models.HVRow, len(symbols))
	var (
		mu   sync.Mutex
		errs []models.StageError
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.workers)
	for i, sym := range symbols {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			row, err := b.Row(gctx, sym)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return err
				}
				mu.Lock()
				errs = append(errs, models.StageError{Key: sym, Error: err.Error()})
				mu.Unlock()
				return nil
			}
			rows[i] = &row
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	res := &Result{Rows: make([]models.HVRow, 0, len(symbols))}
	for _, r := range rows {
		if r != nil {
			res.Rows = append(res.Rows, *r)
		}
	}
	sort.Slice(errs, func(i, j int) bool { return errs[i].Key < errs[j].Key })
	failed := make([]string, 0, len(errs))
	for _, e := range errs {
		failed = append(failed, e.Key)
	}
	res.Errors = errs
	res.Report = models.HVReport{
		Timestamp:    b.now().UTC(),
		SymbolsTotal: len(symbols),
		SymbolsOK:    len(res.Rows),
		SymbolsError: failed,
	}

	b.log.Info("hv summary built",
		logger.Int("symbols", len(symbols)),
		logger.Int("ok", len(res.Rows)),
		logger.Int("failed", len(errs)),
	)
	return res, nil
}
