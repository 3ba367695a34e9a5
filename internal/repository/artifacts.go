package repository

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"RiskPull/internal/domain/models"
	domrepo "RiskPull/internal/domain/repository"
	"RiskPull/internal/riskindex"
	"RiskPull/internal/series"
	"RiskPull/pkg/config"
	"RiskPull/pkg/tabular"
	"RiskPull/pkg/util"
)

// Artifact file names.
const (
	FileFredCore      = "fred_core.csv.gz"
	FileMarketCore    = "market_core.csv.gz"
	FileFredOAS       = "fred_oas.csv"
	FileSnapshot      = "riskindex_snapshot.json"
	FileTimeseries    = "riskindex_timeseries.csv"
	FileBuildReport   = "riskindex_report.json"
	FileSniperCSV     = "riskindex_v2.csv"
	FileSniperSnap    = "riskindex_v2_snapshot.json"
	FileMacroStatus   = "macro_status.json"
	FileRegimeState   = "regime_state.json"
	FileOptResults    = "opt_results_auto.csv"
	FileOptBest       = "opt_best_params.json"
	FileWFResults     = "train_test_results_auto.csv"
	FileWFSummary     = "train_test_summary.json"
	FileHVSummary     = "hv_summary.csv.gz"
	FileHVReport      = "hv_report.json"
	FileIntegrity     = "integrity_report.json"
	FileFundamentals  = "fundamentals_core.csv"
	FileCDSProxy      = "cds_proxy.csv"
	FileOIByExpiry    = "options_oi_by_expiry.csv.gz"
	FileOIByStrike    = "options_oi_by_strike.csv"
	FileEarningsRes   = "earnings_results.csv"
	FileEarningsNext  = "earnings_next.json"
	timeseriesDateCol = "date"
)

// ArtifactStore reads and writes the flat files of the data tree.
type ArtifactStore struct {
	paths config.Paths
	errMu sync.Mutex
}

func NewArtifactStore(paths config.Paths) *ArtifactStore {
	return &ArtifactStore{paths: paths}
}

func (s *ArtifactStore) Paths() config.Paths { return s.paths }

func (s *ArtifactStore) Processed(name string) string { return filepath.Join(s.paths.Processed(), name) }
func (s *ArtifactStore) Reports(name string) string   { return filepath.Join(s.paths.Reports(), name) }
func (s *ArtifactStore) Docs(name string) string      { return filepath.Join(s.paths.DocsDir, name) }

// EquityReportPath is eq_template/{SYM}.json, or .json.gz when gz is set.
func (s *ArtifactStore) EquityReportPath(symbol string, gz bool) string {
	name := strings.ToUpper(symbol) + ".json"
	if gz {
		name += ".gz"
	}
	return filepath.Join(s.paths.EqTemplate(), name)
}

func notExist(path string, err error) error {
	if tabular.IsNotExist(err) {
		return fmt.Errorf("%s: %w", path, domrepo.ErrNoData)
	}
	return err
}

// firstExisting returns the first existing path among name and its gz/plain twin.
func firstExisting(path string) string {
	alt := strings.TrimSuffix(path, ".gz")
	if alt == path {
		alt = path + ".gz"
	}
	for _, p := range []string{path, alt} {
		if tabular.Exists(p) {
			return p
		}
	}
	return path
}

// LoadFrame reads a dated processed table. Missing files yield ErrNoData.
func (s *ArtifactStore) LoadFrame(name string) (*series.Frame, error) {
	path := firstExisting(s.Processed(name))
	f, err := series.LoadCSV(path)
	if err != nil {
		return nil, notExist(path, err)
	}
	return f, nil
}

// LoadOAS reads fred_oas.csv in wide form (date, IG_OAS, HY_OAS, ...) or long
// form (date, bucket, value), pivoting the latter.
func (s *ArtifactStore) LoadOAS() (*series.Frame, error) {
	path := firstExisting(s.Processed(FileFredOAS))
	t, err := tabular.ReadCSV(path)
	if err != nil {
		return nil, notExist(path, err)
	}
	bc, vc := t.ColIndex("bucket"), t.ColIndex("value")
	if bc < 0 || vc < 0 {
		return series.FromTable(t), nil
	}

	long := map[string]*tabular.Table{}
	for r := range t.Rows {
		b := util.UpperTrim(t.Cell(r, bc))
		if b == "" {
			continue
		}
		if long[b] == nil {
			long[b] = tabular.NewTable("date", "value")
		}
		long[b].Append(t.Value(r, timeseriesDateCol), t.Cell(r, vc))
	}
	frames := make(map[string]*series.Frame, len(long))
	for b, bt := range long {
		frames[b] = series.FromTable(bt)
	}
	return riskindex.PivotOAS(frames), nil
}

// LoadRiskInputs reads the three source tables; absent tables stay nil.
func (s *ArtifactStore) LoadRiskInputs() (riskindex.Inputs, error) {
	var in riskindex.Inputs
	var err error
	load := func(dst **series.Frame, fn func() (*series.Frame, error)) {
		f, e := fn()
		if e != nil && !errors.Is(e, domrepo.ErrNoData) {
			err = errors.Join(err, e)
			return
		}
		*dst = f
	}
	load(&in.Fred, func() (*series.Frame, error) { return s.LoadFrame(FileFredCore) })
	load(&in.Market, func() (*series.Frame, error) { return s.LoadFrame(FileMarketCore) })
	load(&in.OAS, s.LoadOAS)
	return in, err
}

func (s *ArtifactStore) SaveSnapshot(snap *models.Snapshot) error {
	return tabular.WriteJSON(s.Processed(FileSnapshot), snap)
}

func (s *ArtifactStore) LoadSnapshot() (*models.Snapshot, error) {
	var snap models.Snapshot
	path := s.Processed(FileSnapshot)
	if err := tabular.ReadJSON(path, &snap); err != nil {
		return nil, notExist(path, err)
	}
	return &snap, nil
}

// LoadRiskIndexRef reads regime and score from the snapshot (or its gz twin).
// Snapshots without a score field use the composite.
func (s *ArtifactStore) LoadRiskIndexRef() (*models.RiskIndexRef, error) {
	var raw struct {
		Regime    *string  `json:"regime"`
		Score     *float64 `json:"score"`
		Composite *float64 `json:"composite"`
	}
	path := firstExisting(s.Processed(FileSnapshot))
	if err := tabular.ReadJSON(path, &raw); err != nil {
		return nil, notExist(path, err)
	}
	ref := &models.RiskIndexRef{Regime: raw.Regime, Score: raw.Score}
	if ref.Score == nil {
		ref.Score = raw.Composite
	}
	return ref, nil
}

func (s *ArtifactStore) SaveTimeseries(rows []models.TimeseriesRow) error {
	t := tabular.NewTable(timeseriesDateCol, "sc_comp", "risk_gates", "risk_index_bin")
	for _, r := range rows {
		t.Append(util.FormatDate(r.Date), util.FormatFloat(r.SCComp), util.FormatFloat(r.RiskGates), util.FormatFloat(r.RiskIndexBin))
	}
	return tabular.WriteCSV(s.Processed(FileTimeseries), t)
}

// LoadTimeseries reads riskindex_timeseries.csv as a frame.
func (s *ArtifactStore) LoadTimeseries() (*series.Frame, error) {
	return s.LoadFrame(FileTimeseries)
}

// TimeseriesRows converts the timeseries frame into rows within [from, to].
// Zero bounds are open; limit > 0 keeps the most recent rows.
func TimeseriesRows(f *series.Frame, from, to time.Time, limit int) []models.TimeseriesRow {
	out := make([]models.TimeseriesRow, 0, f.Len())
	sc, gates, bin := f.Get("sc_comp"), f.Get("risk_gates"), f.Get("risk_index_bin")
	for i, d := range f.Index {
		if (!from.IsZero() && d.Before(from)) || (!to.IsZero() && d.After(to)) {
			continue
		}
		out = append(out, models.TimeseriesRow{Date: d, SCComp: sc[i], RiskGates: gates[i], RiskIndexBin: bin[i]})
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

func (s *ArtifactStore) SaveBuildReport(rep *models.BuildReport) error {
	return tabular.WriteJSON(s.Reports(FileBuildReport), rep)
}

func (s *ArtifactStore) SaveSniper(rows []models.SniperRow, snap *models.SniperSnapshot) error {
	t := tabular.NewTable(timeseriesDateCol, "Trend_Score", "VIX_Score", "Credit_Score", "Risk_Index")
	for _, r := range rows {
		t.Append(util.FormatDate(r.Date), util.FormatFloat(r.TrendScore), util.FormatFloat(r.VIXScore),
			util.FormatFloat(r.CreditScore), util.FormatFloat(r.RiskIndex))
	}
	if err := tabular.WriteCSV(s.Processed(FileSniperCSV), t); err != nil {
		return err
	}
	return tabular.WriteJSON(s.Processed(FileSniperSnap), snap)
}

func (s *ArtifactStore) SaveMacroStatus(m *models.MacroStatus) error {
	return tabular.WriteJSON(s.Processed(FileMacroStatus), m)
}

func (s *ArtifactStore) LoadMacroStatus() (*models.MacroStatus, error) {
	var m models.MacroStatus
	path := s.Processed(FileMacroStatus)
	if err := tabular.ReadJSON(path, &m); err != nil {
		return nil, notExist(path, err)
	}
	return &m, nil
}

func (s *ArtifactStore) SaveRegimeState(c models.CreditRegime) error {
	return tabular.WriteJSON(s.Processed(FileRegimeState), c)
}

var optHeader = []string{"ema", "on", "off", "mode", "short_w", "CAGR", "Sharpe", "MaxDD", "Calmar", "Trades", "HitRate", "EqEnd", "EqBase"}

// SaveOptimizer writes the ranked grid and the best row ({} when empty).
func (s *ArtifactStore) SaveOptimizer(rows []models.EvalResult) error {
	t := tabular.NewTable(optHeader...)
	for _, r := range rows {
		t.Append(strconv.Itoa(r.EMA), util.FormatFloat(r.On), util.FormatFloat(r.Off), string(r.Mode), util.FormatFloat(r.ShortW),
			util.FormatFloat(r.CAGR), util.FormatFloat(r.Sharpe), util.FormatFloat(r.MaxDD), util.FormatFloat(r.Calmar),
			strconv.Itoa(r.Trades), util.FormatFloat(r.HitRate), util.FormatFloat(r.EqEnd), util.FormatFloat(r.EqBase))
	}
	if err := tabular.WriteCSV(s.Docs(FileOptResults), t); err != nil {
		return err
	}
	var best any = struct{}{}
	if len(rows) > 0 {
		best = rows[0]
	}
	return tabular.WriteJSON(s.Docs(FileOptBest), best)
}

// LoadBestParams reads opt_best_params.json; an empty object yields ErrNoData.
func (s *ArtifactStore) LoadBestParams() (*models.EvalResult, error) {
	var raw map[string]any
	path := s.Docs(FileOptBest)
	if err := tabular.ReadJSON(path, &raw); err != nil {
		return nil, notExist(path, err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("%s: %w", path, domrepo.ErrNoData)
	}
	var best models.EvalResult
	if err := tabular.ReadJSON(path, &best); err != nil {
		return nil, err
	}
	return &best, nil
}

var wfHeader = []string{"train_start", "train_end", "test_start", "test_end", "mode", "ema", "on", "off", "short_w",
	"EqEnd", "EqBase", "CAGR", "Sharpe", "MaxDD", "Calmar"}

// SaveWalkForward writes the per-window rows and the summary ({} when nil).
func (s *ArtifactStore) SaveWalkForward(rows []models.WindowResult, sum *models.WalkForwardSummary) error {
	t := tabular.NewTable(wfHeader...)
	for _, r := range rows {
		t.Append(r.TrainStart, r.TrainEnd, r.TestStart, r.TestEnd, string(r.Mode), strconv.Itoa(r.EMA),
			util.FormatFloat(r.On), util.FormatFloat(r.Off), util.FormatFloat(r.ShortW),
			util.FormatFloat(r.EqEnd), util.FormatFloat(r.EqBase),
			util.FormatFloat(r.CAGR), util.FormatFloat(r.Sharpe), util.FormatFloat(r.MaxDD), util.FormatFloat(r.Calmar))
	}
	if err := tabular.WriteCSV(s.Docs(FileWFResults), t); err != nil {
		return err
	}
	var out any = struct{}{}
	if sum != nil {
		out = sum
	}
	return tabular.WriteJSON(s.Docs(FileWFSummary), out)
}

// LoadWalkForwardSummary returns nil without error when the summary is {}.
func (s *ArtifactStore) LoadWalkForwardSummary() (*models.WalkForwardSummary, error) {
	var raw map[string]any
	path := s.Docs(FileWFSummary)
	if err := tabular.ReadJSON(path, &raw); err != nil {
		return nil, notExist(path, err)
	}
	if len(raw) == 0 {
		return nil, nil
	}
	var sum models.WalkForwardSummary
	if err := tabular.ReadJSON(path, &sum); err != nil {
		return nil, err
	}
	return &sum, nil
}

func (s *ArtifactStore) LoadWalkForwardRows() (*tabular.Table, error) {
	return s.DocsTable(FileWFResults)
}

func floatCell(p *float64) string {
	if p == nil {
		return ""
	}
	return util.FormatFloat(*p)
}

// SaveHV writes hv_summary.csv.gz and the run report.
func (s *ArtifactStore) SaveHV(rows []models.HVRow, rep models.HVReport) error {
	t := tabular.NewTable("symbol", "hv20", "hv60", "asof")
	for _, r := range rows {
		t.Append(r.Symbol, floatCell(r.HV20), floatCell(r.HV60), r.AsOf)
	}
	out := s.Processed(FileHVSummary)
	if err := tabular.WriteCSV(out, t); err != nil {
		return err
	}
	rep.Out = out
	return tabular.WriteJSON(s.Reports(FileHVReport), rep)
}

func (s *ArtifactStore) SaveEquityReport(rep *models.EquityReport, gz bool) error {
	if err := tabular.WriteJSON(s.EquityReportPath(rep.Ticker, false), rep); err != nil {
		return err
	}
	if gz {
		return tabular.WriteJSON(s.EquityReportPath(rep.Ticker, true), rep)
	}
	return nil
}

func (s *ArtifactStore) LoadEquityReport(symbol string) (*models.EquityReport, error) {
	var rep models.EquityReport
	path := s.EquityReportPath(symbol, false)
	if err := tabular.ReadJSON(path, &rep); err != nil {
		return nil, notExist(path, err)
	}
	return &rep, nil
}

// SaveStageErrors writes data/reports/<stage>_errors.json.
func (s *ArtifactStore) SaveStageErrors(stage string, errs []models.StageError, now time.Time) error {
	if errs == nil {
		errs = []models.StageError{}
	}
	return tabular.WriteJSON(s.Reports(stage+"_errors.json"), models.StageErrors{
		Stage:       stage,
		GeneratedAt: now.UTC(),
		Errors:      errs,
	})
}

// AppendStageError adds one entry to data/reports/<stage>_errors.json, creating it if needed.
func (s *ArtifactStore) AppendStageError(stage string, e models.StageError, now time.Time) error {
	s.errMu.Lock()
	defer s.errMu.Unlock()

	var cur models.StageErrors
	if err := tabular.ReadJSON(s.Reports(stage+"_errors.json"), &cur); err != nil && !tabular.IsNotExist(err) {
		return err
	}
	return s.SaveStageErrors(stage, append(cur.Errors, e), now)
}

func (s *ArtifactStore) SaveIntegrity(rep *models.IntegrityReport) error {
	return tabular.WriteJSON(s.Reports(FileIntegrity), rep)
}

func (s *ArtifactStore) LoadIntegrity() (*models.IntegrityReport, error) {
	var rep models.IntegrityReport
	path := s.Reports(FileIntegrity)
	if err := tabular.ReadJSON(path, &rep); err != nil {
		return nil, notExist(path, err)
	}
	return &rep, nil
}

// ProcessedTable reads a CSV from the processed directory, trying the gz twin.
func (s *ArtifactStore) ProcessedTable(name string) (*tabular.Table, error) {
	path := firstExisting(s.Processed(name))
	t, err := tabular.ReadCSV(path)
	if err != nil {
		return nil, notExist(path, err)
	}
	return t, nil
}

func (s *ArtifactStore) DocsTable(name string) (*tabular.Table, error) {
	path := s.Docs(name)
	t, err := tabular.ReadCSV(path)
	if err != nil {
		return nil, notExist(path, err)
	}
	return t, nil
}

func (s *ArtifactStore) DocsJSON(name string, v any) error {
	path := s.Docs(name)
	if err := tabular.ReadJSON(path, v); err != nil {
		return notExist(path, err)
	}
	return nil
}
