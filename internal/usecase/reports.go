package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"RiskPull/internal/domain/models"
	"RiskPull/internal/report"
	"RiskPull/internal/repository"
	"RiskPull/pkg/logger"
	"RiskPull/pkg/queue"
)

const (
	ReportJobType = "report.build"
	stageReport   = "report"
)

// ReportPayload is the queue message of one report job.
type ReportPayload struct {
	Symbol string `json:"symbol"`
}

// ReportJob builds one equity report from a queue message.
type ReportJob struct {
	assembler *report.Assembler
}

var _ queue.Job = (*ReportJob)(nil)

func NewReportJob(a *report.Assembler) *ReportJob { return &ReportJob{assembler: a} }

func (j *ReportJob) Name() string { return "equity-report" }
func (j *ReportJob) Type() string { return ReportJobType }

func (j *ReportJob) Handle(ctx context.Context, payload interface{}) error {
	p, err := queue.ParsePayload[ReportPayload](payload)
	if err != nil {
		return err
	}
	_, err = j.assembler.Build(ctx, p.Symbol)
	return err
}

// ReportDeadLetter records symbols whose report job exhausted its retries.
func ReportDeadLetter(store *repository.ArtifactStore, log *logger.Logger) queue.DeadLetterFunc {
	return func(_ context.Context, msg queue.Message, err error) {
		key := msg.ID
		if p, perr := queue.ParsePayload[ReportPayload](msg.Payload); perr == nil && p.Symbol != "" {
			key = p.Symbol
		}
		if werr := store.AppendStageError(stageReport, models.StageError{Key: key, Error: err.Error()}, time.Now()); werr != nil {
			log.Error("record dead report job", logger.String("key", key), logger.Error(werr))
		}
	}
}

// BatchResult summarises one report batch.
type BatchResult struct {
	Built  int                 `json:"built"`
	Queued []string            `json:"queued,omitempty"`
	Errors []models.StageError `json:"errors"`
}

// ReportBatch builds reports for a watchlist, in process or through a queue.
type ReportBatch struct {
	assembler *report.Assembler
	store     *repository.ArtifactStore
	queue     queue.Publisher
	workers   int
	now       func() time.Time
	log       *logger.Logger
}

// NewReportBatch creates a batch runner. A nil queue builds in process.
func NewReportBatch(a *report.Assembler, store *repository.ArtifactStore, q queue.Publisher, workers int, log *logger.Logger) *ReportBatch {
	if workers < 1 {
		workers = 1
	}
	if log == nil {
		log = logger.Nop()
	}
	return &ReportBatch{assembler: a, store: store, queue: q, workers: workers, now: time.Now, log: log}
}

func (b *ReportBatch) Assembler() *report.Assembler { return b.assembler }

// Run builds or enqueues one report per symbol and rewrites report_errors.json.
func (b *ReportBatch) Run(ctx context.Context, symbols []string) (*BatchResult, error) {
	var (
		res *BatchResult
		err error
	)
	if b.queue != nil {
		res, err = b.enqueue(ctx, symbols)
	} else {
		res, err = b.build(ctx, symbols)
	}
	if err != nil {
		return nil, err
	}
	sort.Slice(res.Errors, func(i, j int) bool { return res.Errors[i].Key < res.Errors[j].Key })
	if err := b.store.SaveStageErrors(stageReport, res.Errors, b.now()); err != nil {
		return nil, fmt.Errorf("save report errors: %w", err)
	}
	return res, nil
}

func (b *ReportBatch) enqueue(ctx context.Context, symbols []string) (*BatchResult, error) {
	res := &BatchResult{Errors: []models.StageError{}}
	for _, sym := range symbols {
		id, err := b.queue.Enqueue(ctx, ReportJobType, ReportPayload{Symbol: sym})
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			res.Errors = append(res.Errors, models.StageError{Key: sym, Error: err.Error()})
			continue
		}
		res.Queued = append(res.Queued, id)
	}
	b.log.Info("report jobs enqueued", logger.Int("queued", len(res.Queued)), logger.Int("failed", len(res.Errors)))
	return res, nil
}

func (b *ReportBatch) build(ctx context.Context, symbols []string) (*BatchResult, error) {
	in := b.assembler.LoadInputs()
	res := &BatchResult{Errors: []models.StageError{}}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.workers)
	for _, sym := range symbols {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			_, err := b.assembler.BuildWith(gctx, sym, in)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return err
				}
				res.Errors = append(res.Errors, models.StageError{Key: sym, Error: err.Error()})
				return nil
			}
			res.Built++
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	b.log.Info("equity reports built", logger.Int("built", res.Built), logger.Int("failed", len(res.Errors)))
	return res, nil
}
