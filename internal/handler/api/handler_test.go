package api

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"RiskPull/internal/backtest"
	"RiskPull/internal/domain/models"
	"RiskPull/internal/integrity"
	"RiskPull/internal/report"
	"RiskPull/internal/repository"
	"RiskPull/internal/riskindex"
	"RiskPull/internal/service/ratelimit"
	"RiskPull/internal/usecase"
	"RiskPull/pkg/cache"
	"RiskPull/pkg/config"
	"RiskPull/pkg/metrics"
)

type fakeHistory struct {
	rows []models.TimeseriesRow
	err  error
}

func (f *fakeHistory) Init(context.Context) error                            { return nil }
func (f *fakeHistory) StoreSnapshot(context.Context, *models.Snapshot) error { return nil }
func (f *fakeHistory) StoreTimeseries(context.Context, []models.TimeseriesRow) error {
	return nil
}
func (f *fakeHistory) QueryTimeseries(_ context.Context, _, _ time.Time, limit int) ([]models.TimeseriesRow, error) {
	if f.err != nil {
		return nil, f.err
	}
	if limit < len(f.rows) {
		return f.rows[:limit], nil
	}
	return f.rows, nil
}
func (f *fakeHistory) Health(context.Context) error { return f.err }
func (f *fakeHistory) Close() error                 { return nil }

type envelope struct {
	Status int             `json:"status"`
	Data   json.RawMessage `json:"data"`
}

func newTestPipeline(t *testing.T) (*usecase.Pipeline, *repository.ArtifactStore) {
	t.Helper()
	dir := t.TempDir()
	store := repository.NewArtifactStore(config.Paths{DataDir: filepath.Join(dir, "data"), DocsDir: filepath.Join(dir, "docs")})
	opt := backtest.NewOptimizer(backtest.DefaultGrid())
	p := usecase.NewPipeline(usecase.PipelineConfig{}, store,
		riskindex.NewEngine(nil), opt,
		backtest.NewWalkForward(opt, backtest.DefaultWalkForwardConfig(), nil),
		nil,
		usecase.NewReportBatch(report.NewAssembler(store, nil, report.WithGzip(false)), store, nil, 1, nil),
		integrity.NewChecker(store), nil,
		metrics.NewWithRegisterer(prometheus.NewRegistry()), nil)
	return p, store
}

func newServer(t *testing.T, opts ...Option) (*echo.Echo, *repository.ArtifactStore) {
	t.Helper()
	p, store := newTestPipeline(t)
	e := echo.New()
	NewHandler(p, opts...).RegisterRoutes(e)
	return e, store
}

func do(t *testing.T, e *echo.Echo, method, target string) (int, envelope) {
	t.Helper()
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	assert.Equal(t, rec.Code, env.Status)
	return rec.Code, env
}

func day(s string) time.Time {
	d, _ := time.Parse("2006-01-02", s)
	return d
}

func seedTimeseries(t *testing.T, store *repository.ArtifactStore, last float64) {
	t.Helper()
	require.NoError(t, store.SaveTimeseries([]models.TimeseriesRow{
		{Date: day("2024-05-01"), SCComp: math.NaN(), RiskGates: 0, RiskIndexBin: math.NaN()},
		{Date: day("2024-05-02"), SCComp: 41.5, RiskGates: 1, RiskIndexBin: 0.5},
		{Date: day("2024-05-03"), SCComp: last, RiskGates: 2, RiskIndexBin: 1},
	}))
}

func TestArtifactsNotFoundUntilWritten(t *testing.T) {
	e, store := newServer(t)
	for _, path := range []string{"/api/riskindex/snapshot", "/api/riskindex/macro", "/api/optimizer/best",
		"/api/walkforward/summary", "/api/integrity", "/api/reports/AAPL"} {
		code, _ := do(t, e, http.MethodGet, path)
		assert.Equal(t, http.StatusNotFound, code, path)
	}

	composite := 62.5
	require.NoError(t, store.SaveSnapshot(&models.Snapshot{DataAsOf: "2024-05-03", Composite: &composite, Regime: models.RegimeCaution}))
	require.NoError(t, store.SaveMacroStatus(&models.MacroStatus{}))
	require.NoError(t, store.SaveOptimizer(nil))
	require.NoError(t, store.SaveWalkForward(nil, nil))

	code, env := do(t, e, http.MethodGet, "/api/riskindex/snapshot")
	require.Equal(t, http.StatusOK, code)
	var snap models.Snapshot
	require.NoError(t, json.Unmarshal(env.Data, &snap))
	assert.Equal(t, models.RegimeCaution, snap.Regime)

	code, _ = do(t, e, http.MethodGet, "/api/riskindex/macro")
	assert.Equal(t, http.StatusOK, code)
	code, _ = do(t, e, http.MethodGet, "/api/optimizer/best")
	assert.Equal(t, http.StatusNotFound, code, "empty optimizer output")
	code, _ = do(t, e, http.MethodGet, "/api/walkforward/summary")
	assert.Equal(t, http.StatusNotFound, code, "empty summary")

	code, env = do(t, e, http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusOK, code)
	var h models.Health
	require.NoError(t, json.Unmarshal(env.Data, &h))
	assert.Equal(t, "2024-05-03", h.DataAsOf)
}

func TestTimeseriesRangeAndLimit(t *testing.T) {
	e, store := newServer(t)
	seedTimeseries(t, store, 55)

	code, env := do(t, e, http.MethodGet, "/api/riskindex/timeseries?limit=2")
	require.Equal(t, http.StatusOK, code)
	var list struct {
		Rows  []models.TimeseriesPoint `json:"rows"`
		Total int64                    `json:"total"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &list))
	require.Len(t, list.Rows, 2)
	assert.Equal(t, "2024-05-02", list.Rows[0].Date)
	assert.InDelta(t, 55, *list.Rows[1].SCComp, 1e-9)

	_, env = do(t, e, http.MethodGet, "/api/riskindex/timeseries?to=2024-05-01")
	require.NoError(t, json.Unmarshal(env.Data, &list))
	require.Len(t, list.Rows, 1)
	assert.Nil(t, list.Rows[0].SCComp, "NaN is null")

	code, _ = do(t, e, http.MethodGet, "/api/riskindex/timeseries?from=yesterday")
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = do(t, e, http.MethodGet, "/api/riskindex/timeseries?from=2024-05-03&to=2024-05-01")
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = do(t, e, http.MethodGet, "/api/riskindex/timeseries?limit=-1")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestStageRunPurgesResponseCache(t *testing.T) {
	mc := cache.NewMemoryCache()
	defer mc.Close()
	p, store := newTestPipeline(t)
	p.SetLocker(mc, time.Minute)
	e := echo.New()
	NewHandler(p, WithCache(mc)).RegisterRoutes(e)
	seedTimeseries(t, store, 55)

	last := func() float64 {
		_, env := do(t, e, http.MethodGet, "/api/riskindex/timeseries?limit=1")
		var list struct {
			Rows []models.TimeseriesPoint `json:"rows"`
		}
		require.NoError(t, json.Unmarshal(env.Data, &list))
		require.Len(t, list.Rows, 1)
		return *list.Rows[0].SCComp
	}
	assert.Equal(t, 55.0, last())
	seedTimeseries(t, store, 70)
	assert.Equal(t, 55.0, last(), "served from cache")

	code, env := do(t, e, http.MethodPost, "/api/pipeline/integrity?wait=true")
	require.Equal(t, http.StatusOK, code)
	var results []usecase.StageResult
	require.NoError(t, json.Unmarshal(env.Data, &results))
	require.Len(t, results, 1)
	assert.Equal(t, usecase.StageIntegrity, results[0].Stage)

	assert.Equal(t, 70.0, last())
}

func TestRunStageValidationAndLock(t *testing.T) {
	mc := cache.NewMemoryCache()
	defer mc.Close()
	p, store := newTestPipeline(t)
	p.SetLocker(mc, time.Minute)
	e := echo.New()
	NewHandler(p, WithCache(mc)).RegisterRoutes(e)

	code, _ := do(t, e, http.MethodPost, "/api/pipeline/deploy")
	assert.Equal(t, http.StatusBadRequest, code)

	ok, err := mc.TryLock(context.Background(), "pipeline:lock:integrity", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	code, _ = do(t, e, http.MethodPost, "/api/pipeline/integrity")
	assert.Equal(t, http.StatusConflict, code)
	require.NoError(t, mc.Unlock(context.Background(), "pipeline:lock:integrity"))

	ok, err = mc.TryLock(context.Background(), "pipeline:lock:nightly", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	code, _ = do(t, e, http.MethodPost, "/api/pipeline/nightly?wait=true")
	assert.Equal(t, http.StatusConflict, code)
	require.NoError(t, mc.Unlock(context.Background(), "pipeline:lock:nightly"))

	code, _ = do(t, e, http.MethodPost, "/api/pipeline/integrity")
	assert.Equal(t, http.StatusAccepted, code)
	require.Eventually(t, func() bool {
		_, err := store.LoadIntegrity()
		if err != nil {
			return false
		}
		exists, _ := mc.Exists(context.Background(), "pipeline:lock:integrity")
		return !exists
	}, 2*time.Second, 10*time.Millisecond)
}

func TestReportRebuildAndRead(t *testing.T) {
	e, _ := newServer(t)

	code, _ := do(t, e, http.MethodGet, "/api/reports/msft")
	assert.Equal(t, http.StatusNotFound, code)

	code, env := do(t, e, http.MethodPost, "/api/reports/msft")
	require.Equal(t, http.StatusOK, code)
	var rep models.EquityReport
	require.NoError(t, json.Unmarshal(env.Data, &rep))
	assert.Equal(t, "MSFT", rep.Ticker)

	code, _ = do(t, e, http.MethodGet, "/api/reports/MSFT")
	assert.Equal(t, http.StatusOK, code)

	code, _ = do(t, e, http.MethodGet, "/api/reports/ABCDEFGHIJKLMNOPQ")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestPostEndpointsAreThrottled(t *testing.T) {
	e, _ := newServer(t, WithLimiter(ratelimit.PerSecondMinute(1, 1)))
	code, _ := do(t, e, http.MethodPost, "/api/reports/MSFT")
	assert.Equal(t, http.StatusOK, code)
	code, _ = do(t, e, http.MethodPost, "/api/reports/MSFT")
	assert.Equal(t, http.StatusTooManyRequests, code)
	code, _ = do(t, e, http.MethodGet, "/api/reports/MSFT")
	assert.Equal(t, http.StatusOK, code, "reads are not throttled")
}

func TestHistory(t *testing.T) {
	e, _ := newServer(t)
	code, _ := do(t, e, http.MethodGet, "/api/riskindex/history")
	assert.Equal(t, http.StatusServiceUnavailable, code)

	hist := &fakeHistory{rows: []models.TimeseriesRow{
		{Date: day("2024-05-01"), SCComp: 40, RiskGates: 1, RiskIndexBin: math.NaN()},
		{Date: day("2024-05-02"), SCComp: 45, RiskGates: 2, RiskIndexBin: 0.5},
	}}
	e, _ = newServer(t, WithHistory(hist))
	code, env := do(t, e, http.MethodGet, "/api/riskindex/history?limit=1")
	require.Equal(t, http.StatusOK, code)
	var list struct {
		Rows []models.TimeseriesPoint `json:"rows"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &list))
	require.Len(t, list.Rows, 1)
	assert.Nil(t, list.Rows[0].RiskIndexBin)

	hist.err = errors.New("connection refused")
	code, _ = do(t, e, http.MethodGet, "/api/riskindex/history")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	code, env = do(t, e, http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusOK, code)
	var h models.Health
	require.NoError(t, json.Unmarshal(env.Data, &h))
	assert.Equal(t, "degraded", h.Status)
}
