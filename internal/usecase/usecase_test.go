package usecase

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"RiskPull/internal/backtest"
	"RiskPull/internal/domain/models"
	"RiskPull/internal/integrity"
	"RiskPull/internal/report"
	"RiskPull/internal/repository"
	"RiskPull/internal/riskindex"
	"RiskPull/internal/series"
	"RiskPull/internal/volatility"
	"RiskPull/pkg/cache"
	"RiskPull/pkg/config"
	"RiskPull/pkg/metrics"
	"RiskPull/pkg/queue"
	"RiskPull/pkg/tabular"
)

type fakePublisher struct {
	snaps, rows int
	err         error
	closed      bool
}

func (f *fakePublisher) PublishSnapshot(context.Context, *models.Snapshot) error {
	if f.err != nil {
		return f.err
	}
	f.snaps++
	return nil
}

func (f *fakePublisher) PublishTimeseries(_ context.Context, rows []models.TimeseriesRow) error {
	f.rows += len(rows)
	return f.err
}

func (f *fakePublisher) Close() error { f.closed = true; return nil }

type fakeHistory struct {
	snaps, rows int
}

func (f *fakeHistory) Init(context.Context) error { return nil }
func (f *fakeHistory) StoreSnapshot(context.Context, *models.Snapshot) error {
	f.snaps++
	return nil
}
func (f *fakeHistory) StoreTimeseries(_ context.Context, rows []models.TimeseriesRow) error {
	f.rows += len(rows)
	return nil
}
func (f *fakeHistory) QueryTimeseries(context.Context, time.Time, time.Time, int) ([]models.TimeseriesRow, error) {
	return nil, nil
}
func (f *fakeHistory) Health(context.Context) error { return nil }
func (f *fakeHistory) Close() error                 { return nil }

type fakeQueue struct {
	mu   sync.Mutex
	got  []string
	fail string
}

func (q *fakeQueue) Enqueue(_ context.Context, msgType string, payload interface{}) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	p := payload.(ReportPayload)
	if p.Symbol == q.fail {
		return "", errors.New("redis down")
	}
	q.got = append(q.got, msgType+":"+p.Symbol)
	return "id-" + p.Symbol, nil
}

func newMetrics() *metrics.Recorder {
	return metrics.NewWithRegisterer(prometheus.NewRegistry())
}

func TestSinkProcessorBackends(t *testing.T) {
	ctx := context.Background()
	snap := &models.Snapshot{DataAsOf: "2024-05-01"}
	rows := make([]models.TimeseriesRow, 3)

	pub, hist := &fakePublisher{}, &fakeHistory{}
	require.NoError(t, NewSinkProcessor(pub, hist, newMetrics(), BackendNone).Process(ctx, snap, rows))
	assert.Zero(t, pub.snaps+hist.snaps)

	require.NoError(t, NewSinkProcessor(pub, hist, newMetrics(), BackendKafka).Process(ctx, snap, rows))
	assert.Equal(t, 1, pub.snaps)
	assert.Equal(t, 3, pub.rows)
	assert.Zero(t, hist.snaps)

	pub.err = errors.New("broker gone")
	p := NewSinkProcessor(pub, hist, newMetrics(), BackendBoth)
	err := p.Process(ctx, snap, rows)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kafka: broker gone")
	assert.Equal(t, 1, hist.snaps, "clickhouse still written")
	assert.Equal(t, 3, hist.rows)

	err = NewSinkProcessor(nil, nil, newMetrics(), BackendClickHouse).Process(ctx, snap, rows)
	assert.ErrorContains(t, err, "history store not configured")
	assert.Error(t, NewSinkProcessor(nil, nil, newMetrics(), "s3").Process(ctx, snap, rows))

	p.Close()
	assert.True(t, pub.closed)
}

var t0 = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

func wave(base, amp, period float64) func(i int) float64 {
	return func(i int) float64 { return base + amp*math.Sin(float64(i)/period) + 0.001*float64(i%7) }
}

func frame(idx []time.Time, cols map[string]func(i int) float64) *series.Frame {
	f := series.NewFrame(idx)
	for name, fn := range cols {
		vals := make([]float64, len(idx))
		for i := range vals {
			vals[i] = fn(i)
		}
		f.Set(name, vals)
	}
	return f
}

func writeFrame(t *testing.T, path string, f *series.Frame) {
	t.Helper()
	require.NoError(t, tabular.WriteCSV(path, f.ToTable()))
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

// seedTree writes market, fred, one price file and a watchlist for n days.
func seedTree(t *testing.T, s *repository.ArtifactStore, n int) string {
	t.Helper()
	daily := make([]time.Time, n)
	for i := range daily {
		daily[i] = t0.AddDate(0, 0, i)
	}
	writeFrame(t, s.Processed("market_core.csv.gz"), frame(daily, map[string]func(int) float64{
		"VIX": wave(20, 6, 17), "VIX3M": wave(22, 4, 23), "DXY": wave(100, 5, 41), "USDJPY": wave(140, 8, 13),
		"HYG": wave(78, 3, 29), "LQD": wave(108, 2, 37), "XLF": wave(35, 3, 19), "SPY": wave(450, 30, 53),
	}))
	var weekly []time.Time
	for i := 0; i < n; i += 7 {
		weekly = append(weekly, t0.AddDate(0, 0, i))
	}
	writeFrame(t, s.Processed("fred_core.csv.gz"), frame(weekly, map[string]func(int) float64{
		"DGS10": wave(4, 0.8, 3), "DGS2": wave(4.5, 0.6, 5), "DGS30": wave(4.2, 0.5, 7),
		"DGS3MO": wave(5, 0.3, 11), "SOFR": wave(5.3, 0.2, 4), "STLFSI4": wave(0, 1, 6),
		"RRPONTSYD": wave(500, 200, 9), "WALCL": wave(7.5e6, 3e5, 8), "WTREGEN": wave(700, 80, 5), "WDTGAL": wave(750, 60, 6),
		"WRESBAL": wave(3200, 150, 10),
	}))

	px := frame(daily[n-80:], map[string]func(int) float64{"close": wave(100, 5, 3)})
	writeFrame(t, filepath.Join(s.Paths().Prices(), "A", "AAA.csv"), px)

	wl := filepath.Join(t.TempDir(), "watchlist.txt")
	writeFile(t, wl, "# core\naaa\nZZZ // no prices\n")
	return wl
}

func newPipeline(t *testing.T, q queue.Publisher) (*Pipeline, *repository.ArtifactStore, *fakePublisher) {
	t.Helper()
	dir := t.TempDir()
	paths := config.Paths{DataDir: filepath.Join(dir, "data"), DocsDir: filepath.Join(dir, "docs")}
	store := repository.NewArtifactStore(paths)
	wl := seedTree(t, store, 900)

	m := newMetrics()
	grid := backtest.Grid{EMAMin: 10, EMAMax: 12, OnMin: 45, OnMax: 46, OffMin: 55, OffMax: 56, ShortWs: []float64{-0.5}}
	opt := backtest.NewOptimizer(grid, backtest.WithWorkers(2))
	wf := backtest.NewWalkForward(opt, backtest.WalkForwardConfig{TrainYears: 1, TestYears: 1, StepDays: 180, MinTrainRows: 200, MinTestRows: 100}, nil)
	asm := report.NewAssembler(store, nil, report.WithGzip(false))
	pub := &fakePublisher{}

	p := NewPipeline(
		PipelineConfig{Benchmark: "SPY", WatchlistPath: wl},
		store,
		riskindex.NewEngine(nil, riskindex.WithBinWindow(0)),
		opt, wf,
		volatility.NewBuilder(repository.NewPriceStore(paths.Prices(), ""), 2, nil),
		NewReportBatch(asm, store, q, 2, nil),
		integrity.NewChecker(store),
		NewSinkProcessor(pub, nil, m, BackendKafka),
		m, nil,
	)
	return p, store, pub
}

func TestNightlyWritesEveryArtifact(t *testing.T) {
	p, s, pub := newPipeline(t, nil)

	results, err := p.Run(context.Background(), StageNightly)
	require.NoError(t, err)
	require.Len(t, results, 8)
	byStage := map[string]*StageResult{}
	for _, r := range results {
		byStage[r.Stage] = r
		assert.NotEmpty(t, r.RunID)
	}

	assert.Positive(t, byStage[StageRiskIndex].Rows)
	assert.Equal(t, 1, pub.snaps)
	assert.Equal(t, byStage[StageRiskIndex].Rows, pub.rows)
	assert.Equal(t, 1, byStage[StageHV].Rows)
	assert.Equal(t, 1, byStage[StageHV].Failed)
	assert.Equal(t, 2, byStage[StageReport].Rows, "reports do not need prices")
	assert.Positive(t, byStage[StageOptimize].Rows)
	assert.False(t, byStage[StageSniper].Skipped)

	for _, path := range []string{
		s.Processed(repository.FileSnapshot),
		s.Processed(repository.FileTimeseries),
		s.Reports(repository.FileBuildReport),
		s.Processed(repository.FileSniperCSV),
		s.Processed(repository.FileMacroStatus),
		s.Processed(repository.FileRegimeState),
		s.Docs(repository.FileOptBest),
		s.Docs(repository.FileWFSummary),
		s.Processed(repository.FileHVSummary),
		s.Reports("hv_errors.json"),
		s.Reports("report_errors.json"),
		s.EquityReportPath("AAA", false),
		s.Reports(repository.FileIntegrity),
	} {
		assert.FileExists(t, path)
	}

	rep, err := s.LoadIntegrity()
	require.NoError(t, err)
	assert.True(t, rep.OK)

	var hvErrs models.StageErrors
	require.NoError(t, tabular.ReadJSON(s.Reports("hv_errors.json"), &hvErrs))
	require.Len(t, hvErrs.Errors, 1)
	assert.Equal(t, "ZZZ", hvErrs.Errors[0].Key)
}

func TestStagesSkipWithoutInputs(t *testing.T) {
	dir := t.TempDir()
	store := repository.NewArtifactStore(config.Paths{DataDir: dir, DocsDir: filepath.Join(dir, "docs")})
	opt := backtest.NewOptimizer(backtest.DefaultGrid())
	p := NewPipeline(PipelineConfig{}, store, riskindex.NewEngine(nil), opt,
		backtest.NewWalkForward(opt, backtest.DefaultWalkForwardConfig(), nil),
		nil, nil, integrity.NewChecker(store), nil, newMetrics(), nil)

	for _, stage := range []string{StageRiskIndex, StageSniper, StageMacro, StageOptimize, StageWalkForward} {
		res, err := p.Run(context.Background(), stage)
		require.NoError(t, err, stage)
		assert.True(t, res[0].Skipped, stage)
	}
	_, err := store.LoadBestParams()
	assert.Error(t, err, "empty optimizer output is {}")
	sum, err := store.LoadWalkForwardSummary()
	require.NoError(t, err)
	assert.Nil(t, sum)
}

func TestRunUnknownStage(t *testing.T) {
	p := NewPipeline(PipelineConfig{}, nil, nil, nil, nil, nil, nil, nil, nil, newMetrics(), nil)
	_, err := p.Run(context.Background(), "deploy")
	assert.ErrorIs(t, err, ErrUnknownStage)
	assert.Contains(t, Stages(), StageNightly)
}

func TestStageLocks(t *testing.T) {
	ctx := context.Background()
	p, s, _ := newPipeline(t, nil)
	mc := cache.NewMemoryCache()
	defer mc.Close()
	p.SetLocker(mc, time.Minute)

	ok, err := mc.TryLock(ctx, StageLockKey(StageIntegrity), time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	results, err := p.Run(ctx, StageNightly)
	require.ErrorIs(t, err, ErrStageRunning)
	require.Len(t, results, 8)
	for _, r := range results {
		if r.Stage == StageIntegrity {
			assert.True(t, r.Skipped)
			assert.Contains(t, r.Error, "already running")
			continue
		}
		assert.Empty(t, r.Error, r.Stage)
	}
	assert.NoFileExists(t, s.Reports(repository.FileIntegrity))
	for _, stage := range []string{StageNightly, StageRiskIndex, StageReport} {
		held, err := mc.Exists(ctx, StageLockKey(stage))
		require.NoError(t, err)
		assert.False(t, held, stage)
	}
	require.NoError(t, mc.Unlock(ctx, StageLockKey(StageIntegrity)))

	ok, err = mc.TryLock(ctx, StageLockKey(StageNightly), time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	results, err = p.Run(ctx, StageNightly)
	assert.ErrorIs(t, err, ErrStageRunning)
	assert.Nil(t, results)

	res, err := p.Run(ctx, StageIntegrity)
	require.NoError(t, err, "single stages only take their own lock")
	assert.False(t, res[0].Skipped)
}

func TestAcquireMarksStageHeld(t *testing.T) {
	ctx := context.Background()
	p := NewPipeline(PipelineConfig{}, nil, nil, nil, nil, nil, nil, nil, nil, newMetrics(), nil)

	got, release, err := p.Acquire(ctx, StageMacro)
	require.NoError(t, err, "no locker")
	release()
	assert.Equal(t, ctx, got)

	mc := cache.NewMemoryCache()
	defer mc.Close()
	p.SetLocker(mc, 0)
	held, release, err := p.Acquire(ctx, StageMacro)
	require.NoError(t, err)
	_, again, err := p.Acquire(held, StageMacro)
	require.NoError(t, err, "the holder does not lock again")
	again()
	exists, _ := mc.Exists(ctx, StageLockKey(StageMacro))
	assert.True(t, exists)

	_, _, err = p.Acquire(ctx, StageMacro)
	assert.ErrorIs(t, err, ErrStageRunning)
	release()
	exists, _ = mc.Exists(ctx, StageLockKey(StageMacro))
	assert.False(t, exists)
}

func TestNightlyStopsWhenCancelled(t *testing.T) {
	p, s, pub := newPipeline(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results, err := p.Run(ctx, StageNightly)
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, results)
	assert.Zero(t, pub.snaps)
	assert.NoFileExists(t, s.Processed(repository.FileSnapshot))
}

func TestReportBatchEnqueues(t *testing.T) {
	q := &fakeQueue{fail: "BBB"}
	dir := t.TempDir()
	store := repository.NewArtifactStore(config.Paths{DataDir: dir, DocsDir: dir})
	b := NewReportBatch(report.NewAssembler(store, nil), store, q, 1, nil)

	res, err := b.Run(context.Background(), []string{"AAA", "BBB", "CCC"})
	require.NoError(t, err)
	assert.Equal(t, []string{"id-AAA", "id-CCC"}, res.Queued)
	assert.Equal(t, []string{"report.build:AAA", "report.build:CCC"}, q.got)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "BBB", res.Errors[0].Key)
	assert.NoFileExists(t, store.EquityReportPath("AAA", false))

	dead := ReportDeadLetter(store, nil)
	dead(context.Background(), queue.Message{ID: "x", Payload: map[string]interface{}{"symbol": "CCC"}}, errors.New("timeout"))
	var got models.StageErrors
	require.NoError(t, tabular.ReadJSON(store.Reports("report_errors.json"), &got))
	require.Len(t, got.Errors, 2)
	assert.Equal(t, "CCC", got.Errors[1].Key)
}

func TestReportJobHandle(t *testing.T) {
	dir := t.TempDir()
	store := repository.NewArtifactStore(config.Paths{DataDir: dir, DocsDir: dir})
	job := NewReportJob(report.NewAssembler(store, nil, report.WithGzip(false)))
	assert.Equal(t, ReportJobType, job.Type())

	require.NoError(t, job.Handle(context.Background(), map[string]interface{}{"symbol": "msft"}))
	rep, err := store.LoadEquityReport("MSFT")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(rep.Links.JSONGz, "/MSFT.json.gz"))

	assert.Error(t, job.Handle(context.Background(), 42))
}
