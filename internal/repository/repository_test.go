package repository

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"RiskPull/internal/domain/models"
	domrepo "RiskPull/internal/domain/repository"
	"RiskPull/pkg/config"
	"RiskPull/pkg/tabular"
)

func newStore(t *testing.T) *ArtifactStore {
	t.Helper()
	dir := t.TempDir()
	return NewArtifactStore(config.Paths{DataDir: filepath.Join(dir, "data"), DocsDir: filepath.Join(dir, "docs")})
}

func write(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func day(s string) time.Time {
	d, _ := time.Parse("2006-01-02", s)
	return d
}

func TestSnapshotRoundTrip(t *testing.T) {
	s := newStore(t)
	c := 61.5
	in := &models.Snapshot{DataAsOf: "2024-05-01", Composite: &c, Regime: models.RegimeCaution, Scores: map[string]*float64{"vix": &c, "dxy": nil}}
	require.NoError(t, s.SaveSnapshot(in))

	out, err := s.LoadSnapshot()
	require.NoError(t, err)
	assert.Equal(t, models.RegimeCaution, out.Regime)
	assert.Equal(t, 61.5, *out.Composite)
	assert.Nil(t, out.Scores["dxy"])
}

func TestMissingArtifactsAreNoData(t *testing.T) {
	s := newStore(t)
	_, err := s.LoadSnapshot()
	assert.ErrorIs(t, err, domrepo.ErrNoData)
	_, err = s.LoadTimeseries()
	assert.ErrorIs(t, err, domrepo.ErrNoData)
	_, err = s.LoadBestParams()
	assert.ErrorIs(t, err, domrepo.ErrNoData)

	in, err := s.LoadRiskInputs()
	require.NoError(t, err)
	assert.Nil(t, in.Fred)
	assert.Nil(t, in.Market)
	assert.Nil(t, in.OAS)
}

func TestTimeseriesWritesEmptyCellsForNaN(t *testing.T) {
	s := newStore(t)
	rows := []models.TimeseriesRow{
		{Date: day("2024-01-01"), SCComp: math.NaN(), RiskGates: 1, RiskIndexBin: 50},
		{Date: day("2024-01-02"), SCComp: 48.25, RiskGates: 2, RiskIndexBin: 100},
	}
	require.NoError(t, s.SaveTimeseries(rows))

	b, err := os.ReadFile(s.Processed(FileTimeseries))
	require.NoError(t, err)
	assert.Equal(t, "date,sc_comp,risk_gates,risk_index_bin\n2024-01-01,,1,50\n2024-01-02,48.25,2,100\n", string(b))

	f, err := s.LoadTimeseries()
	require.NoError(t, err)
	got := TimeseriesRows(f, day("2024-01-02"), time.Time{}, 0)
	require.Len(t, got, 1)
	assert.Equal(t, 48.25, got[0].SCComp)

	assert.Len(t, TimeseriesRows(f, time.Time{}, time.Time{}, 1), 1)
}

func TestLoadOASLongFormat(t *testing.T) {
	s := newStore(t)
	write(t, s.Processed(FileFredOAS), "date,bucket,value\n2024-01-01,IG,1.1\n2024-01-01,HY,3.5\n2024-01-02,hy,3.6\n")

	f, err := s.LoadOAS()
	require.NoError(t, err)
	require.Equal(t, 2, f.Len())
	assert.Equal(t, []float64{3.5, 3.6}, f.Get("HY_OAS"))
	assert.True(t, math.IsNaN(f.Get("IG_OAS")[1]))
}

func TestLoadOASWideFormat(t *testing.T) {
	s := newStore(t)
	write(t, s.Processed(FileFredOAS), "date,IG_OAS,HY_OAS\n2024-01-01,1.1,3.5\n")
	f, err := s.LoadOAS()
	require.NoError(t, err)
	assert.Equal(t, []float64{1.1}, f.Get("IG_OAS"))
}

func TestLoadFrameFindsPlainTwinOfGz(t *testing.T) {
	s := newStore(t)
	write(t, s.Processed("market_core.csv"), "Date,SPY\n2024-01-01,470\n")
	f, err := s.LoadFrame(FileMarketCore)
	require.NoError(t, err)
	assert.Equal(t, []float64{470}, f.Get("SPY"))
}

func TestOptimizerArtifacts(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.SaveOptimizer(nil))
	b, err := os.ReadFile(s.Docs(FileOptBest))
	require.NoError(t, err)
	assert.Equal(t, "{}\n", string(b))
	_, err = s.LoadBestParams()
	assert.ErrorIs(t, err, domrepo.ErrNoData)

	rows := []models.EvalResult{{
		Params: models.Params{EMA: 21, On: 44, Off: 57, Mode: models.ModeTriState, ShortW: -0.5},
		KPI:    models.KPI{CAGR: 0.08, Sharpe: 0.9, MaxDD: -0.12, Calmar: 0.66},
		Trades: 14, HitRate: 0.54, EqEnd: 1.8, EqBase: 1.6,
	}}
	require.NoError(t, s.SaveOptimizer(rows))

	best, err := s.LoadBestParams()
	require.NoError(t, err)
	assert.Equal(t, rows[0], *best)

	tbl, err := s.DocsTable(FileOptResults)
	require.NoError(t, err)
	assert.Equal(t, optHeader, tbl.Header)
	assert.Equal(t, "21", tbl.Value(0, "ema"))
	assert.Equal(t, "tri_state", tbl.Value(0, "mode"))
	assert.Equal(t, "-0.5", tbl.Value(0, "short_w"))
}

func TestWalkForwardSummaryEmptyObject(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.SaveWalkForward(nil, nil))
	sum, err := s.LoadWalkForwardSummary()
	require.NoError(t, err)
	assert.Nil(t, sum)

	row := models.WindowResult{TrainStart: "2015-01-01", TrainEnd: "2017-12-29", TestStart: "2018-01-02", TestEnd: "2018-12-31",
		Params: models.Params{EMA: 30, On: 40, Off: 60, Mode: models.ModeLongOnly}}
	require.NoError(t, s.SaveWalkForward([]models.WindowResult{row}, &models.WalkForwardSummary{Windows: 1, BestWindow: &row, ModeMostCommon: models.ModeLongOnly}))
	sum, err = s.LoadWalkForwardSummary()
	require.NoError(t, err)
	require.NotNil(t, sum)
	assert.Equal(t, 1, sum.Windows)
	assert.Equal(t, 30, sum.BestWindow.EMA)

	tbl, err := s.LoadWalkForwardRows()
	require.NoError(t, err)
	assert.Equal(t, "2018-01-02", tbl.Value(0, "test_start"))
}

func TestSaveHV(t *testing.T) {
	s := newStore(t)
	v := 21.37
	require.NoError(t, s.SaveHV([]models.HVRow{{Symbol: "AAPL", HV20: &v, AsOf: "2024-05-01"}}, models.HVReport{SymbolsTotal: 2, SymbolsOK: 1, SymbolsError: []string{"ZZZ"}}))

	tbl, err := tabular.ReadCSV(s.Processed(FileHVSummary))
	require.NoError(t, err)
	assert.Equal(t, []string{"symbol", "hv20", "hv60", "asof"}, tbl.Header)
	assert.Equal(t, []string{"AAPL", "21.37", "", "2024-05-01"}, tbl.Rows[0])

	var rep models.HVReport
	require.NoError(t, tabular.ReadJSON(s.Reports(FileHVReport), &rep))
	assert.Equal(t, s.Processed(FileHVSummary), rep.Out)
	assert.Equal(t, []string{"ZZZ"}, rep.SymbolsError)
}

func TestEquityReportPaths(t *testing.T) {
	s := newStore(t)
	rep := &models.EquityReport{Ticker: "MSFT", Stance: "neutral"}
	require.NoError(t, s.SaveEquityReport(rep, true))
	assert.FileExists(t, s.EquityReportPath("msft", true))

	got, err := s.LoadEquityReport("msft")
	require.NoError(t, err)
	assert.Equal(t, "neutral", got.Stance)

	var gz models.EquityReport
	require.NoError(t, tabular.ReadJSON(s.EquityReportPath("MSFT", true), &gz))
	assert.Equal(t, "MSFT", gz.Ticker)
}

func TestSaveStageErrors(t *testing.T) {
	s := newStore(t)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.SaveStageErrors("hv", nil, now))

	var got models.StageErrors
	require.NoError(t, tabular.ReadJSON(s.Reports("hv_errors.json"), &got))
	assert.Equal(t, "hv", got.Stage)
	assert.Empty(t, got.Errors)
	assert.True(t, got.GeneratedAt.Equal(now))
}

func TestPriceStoreBucketsAndFallbacks(t *testing.T) {
	dir := t.TempDir()
	write(t, filepath.Join(dir, "A", "AAPL.csv"), "Date,Open,Adj Close,Close\n2024-01-03,1,101,100\n2024-01-02,1,99,98\n")
	write(t, filepath.Join(dir, "#", "1COV.csv"), "date,close\n2024-01-02,10\n")
	write(t, filepath.Join(dir, "MSFT.csv"), "date,adj_close\n2024-01-02,370\n")

	ps := NewPriceStore(dir, "")
	ctx := context.Background()

	got, err := ps.Closes(ctx, "aapl")
	require.NoError(t, err)
	assert.Equal(t, "AAPL", got.Symbol)
	assert.Equal(t, []float64{99, 101}, got.Close, "sorted by date, adjusted close preferred")

	got, err = ps.Closes(ctx, "1COV")
	require.NoError(t, err)
	assert.Equal(t, []float64{10}, got.Close)

	got, err = ps.Closes(ctx, "MSFT")
	require.NoError(t, err)
	assert.Equal(t, []float64{370}, got.Close)

	_, err = ps.Closes(ctx, "NOPE")
	assert.ErrorIs(t, err, domrepo.ErrNoData)
}

func TestPriceStoreParquet(t *testing.T) {
	dir := t.TempDir()
	pq := filepath.Join(dir, "processed", "prices.parquet")
	require.NoError(t, WritePriceParquet(pq, []*models.PriceSeries{
		{Symbol: "nvda", Dates: []time.Time{day("2024-01-03"), day("2024-01-02")}, Close: []float64{48, 47}},
		{Symbol: "AMD", Dates: []time.Time{day("2024-01-02")}, Close: []float64{140}},
	}))

	ps := NewPriceStore(filepath.Join(dir, "prices"), pq)
	got, err := ps.Closes(context.Background(), "NVDA")
	require.NoError(t, err)
	assert.Equal(t, []float64{47, 48}, got.Close)
	assert.True(t, got.Dates[0].Equal(day("2024-01-02")))

	_, err = ps.Closes(context.Background(), "TSLA")
	assert.ErrorIs(t, err, domrepo.ErrNoData)
}

func TestPriceBucket(t *testing.T) {
	assert.Equal(t, "A", PriceBucket("aapl"))
	assert.Equal(t, "#", PriceBucket("1COV"))
	assert.Equal(t, "#", PriceBucket(""))
}

func TestHistorySchemaTargetsDatabase(t *testing.T) {
	stmts := HistorySchema("riskpull")
	require.Len(t, stmts, 3)
	for _, s := range stmts[1:] {
		assert.True(t, strings.Contains(s, "riskpull."), s)
	}
}

func TestAppendStageError(t *testing.T) {
	s := newStore(t)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.AppendStageError("report", models.StageError{Key: "AAA", Error: "x"}, now))
	require.NoError(t, s.AppendStageError("report", models.StageError{Key: "BBB", Error: "y"}, now))

	var got models.StageErrors
	require.NoError(t, tabular.ReadJSON(s.Reports("report_errors.json"), &got))
	require.Len(t, got.Errors, 2)
	assert.Equal(t, "BBB", got.Errors[1].Key)
}

func TestRiskIndexRefFallsBackToComposite(t *testing.T) {
	s := newStore(t)
	write(t, s.Processed(FileSnapshot), `{"regime":"RISK-ON","composite":22.5}`)
	ref, err := s.LoadRiskIndexRef()
	require.NoError(t, err)
	assert.Equal(t, "RISK-ON", *ref.Regime)
	assert.Equal(t, 22.5, *ref.Score)

	write(t, s.Processed(FileSnapshot), `{"regime":"NEUTRAL","score":48,"composite":22.5}`)
	ref, err = s.LoadRiskIndexRef()
	require.NoError(t, err)
	assert.Equal(t, 48.0, *ref.Score)
}
