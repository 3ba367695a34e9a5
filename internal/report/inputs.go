package report

import (
	"errors"
	"math"
	"strings"

	"RiskPull/internal/domain/models"
	domrepo "RiskPull/internal/domain/repository"
	"RiskPull/internal/repository"
	"RiskPull/pkg/logger"
	"RiskPull/pkg/tabular"
	"RiskPull/pkg/util"
)

// EarningsNext is one entry of docs/earnings_next.json.
type EarningsNext struct {
	Symbol   string `json:"symbol"`
	NextDate string `json:"next_date"`
}

// Inputs are the pipeline artifacts a report joins. Any of them may be nil.
type Inputs struct {
	Fundamentals *tabular.Table
	HV           *tabular.Table
	CDS          *tabular.Table
	OIByExpiry   *tabular.Table
	OIByStrike   *tabular.Table
	Earnings     *tabular.Table
	EarningsNext []EarningsNext
	RiskIndex    *models.RiskIndexRef
}

// LoadInputs reads every optional artifact once. Missing or unreadable files
// are logged and left empty.
func LoadInputs(store *repository.ArtifactStore, log *logger.Logger) *Inputs {
	in := &Inputs{}
	table := func(name string) *tabular.Table {
		t, err := store.ProcessedTable(name)
		if err != nil {
			skip(log, name, err)
			return nil
		}
		return t
	}
	in.Fundamentals = table(repository.FileFundamentals)
	in.HV = table(repository.FileHVSummary)
	in.CDS = table(repository.FileCDSProxy)
	in.OIByExpiry = table(repository.FileOIByExpiry)
	in.OIByStrike = table(repository.FileOIByStrike)
	in.Earnings = table(repository.FileEarningsRes)

	if err := store.DocsJSON(repository.FileEarningsNext, &in.EarningsNext); err != nil {
		skip(log, repository.FileEarningsNext, err)
		in.EarningsNext = nil
	}
	ref, err := store.LoadRiskIndexRef()
	if err != nil {
		skip(log, repository.FileSnapshot, err)
	} else {
		in.RiskIndex = ref
	}
	return in
}

func skip(log *logger.Logger, name string, err error) {
	if errors.Is(err, domrepo.ErrNoData) {
		log.Warn("report input missing", logger.String("file", name))
		return
	}
	log.Error("report input unreadable", logger.String("file", name), logger.Error(err))
}

// symbolRows lists the rows whose symbol column equals symbol, ignoring case.
func symbolRows(t *tabular.Table, symbol string) []int {
	col := t.ColIndex("symbol")
	if col < 0 {
		return nil
	}
	var out []int
	for r := range t.Rows {
		if strings.EqualFold(t.Cell(r, col), symbol) {
			out = append(out, r)
		}
	}
	return out
}

// firstRow is the first matching row or -1.
func firstRow(t *tabular.Table, symbol string) int {
	if rows := symbolRows(t, symbol); len(rows) > 0 {
		return rows[0]
	}
	return -1
}

// num reads the first present candidate column as a number; empty or NaN is nil.
func num(t *tabular.Table, row int, cols ...string) *float64 {
	c := t.FirstCol(cols...)
	if c < 0 {
		return nil
	}
	return util.FloatPtr(util.ParseFloat(t.Cell(row, c)))
}

func str(t *tabular.Table, row int, col string) string {
	v := t.Value(row, col)
	if strings.EqualFold(v, "nan") {
		return ""
	}
	return v
}

func orZero(p *float64) float64 {
	if p == nil || math.IsNaN(*p) {
		return 0
	}
	return *p
}
