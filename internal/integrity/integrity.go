// Package integrity runs data sanity checks over the artifact tree and
// writes data/reports/integrity_report.json.
package integrity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"RiskPull/internal/domain/models"
	domrepo "RiskPull/internal/domain/repository"
	"RiskPull/internal/repository"
	"RiskPull/pkg/logger"
	"RiskPull/pkg/tabular"
	"RiskPull/pkg/util"
)

// Freshness limits in calendar days.
const (
	FreshDays = 4
	StaleDays = 10
)

const maxListed = 5

type Option func(*Checker)

func WithClock(now func() time.Time) Option { return func(c *Checker) { c.now = now } }

func WithLogger(l *logger.Logger) Option { return func(c *Checker) { c.log = l } }

type Checker struct {
	store *repository.ArtifactStore
	now   func() time.Time
	log   *logger.Logger
}

func NewChecker(store *repository.ArtifactStore, opts ...Option) *Checker {
	c := &Checker{store: store, now: time.Now, log: logger.Nop()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run evaluates every check and saves the report.
func (c *Checker) Run(ctx context.Context) (*models.IntegrityReport, error) {
	rep, err := c.Check(ctx)
	if err != nil {
		return nil, err
	}
	if err := c.store.SaveIntegrity(rep); err != nil {
		return nil, fmt.Errorf("save integrity report: %w", err)
	}
	return rep, nil
}

// Check evaluates every check without writing. OK is false when a hard check fails.
func (c *Checker) Check(ctx context.Context) (*models.IntegrityReport, error) {
	now := c.now().UTC()
	checks := []func() models.CheckResult{
		c.fundamentalSymbols,
		c.snapshotComposite,
		c.walkForwardWindows,
		func() models.CheckResult { return c.timeseriesFreshness(now) },
		func() models.CheckResult { return c.earningsFreshness(now) },
	}

	rep := &models.IntegrityReport{GeneratedAt: now, OK: true}
	for _, check := range checks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res := check()
		if res.Hard && res.Status == models.CheckFail {
			rep.OK = false
		}
		rep.Checks = append(rep.Checks, res)
	}

	failed := 0
	for _, r := range rep.Checks {
		if r.Status != models.CheckOK {
			failed++
			c.log.Warn("integrity check not ok",
				logger.String("check", r.Name),
				logger.String("status", string(r.Status)),
				logger.String("detail", r.Detail))
		}
	}
	c.log.Info("integrity checked", logger.Bool("ok", rep.OK), logger.Int("not_ok", failed))
	return rep, nil
}

// missingOr maps ErrNoData to MISSING and other errors to FAIL.
func missingOr(name string, hard bool, err error) models.CheckResult {
	if errors.Is(err, domrepo.ErrNoData) {
		return models.CheckResult{Name: name, Status: models.CheckMissing, Hard: hard, Detail: err.Error()}
	}
	return models.CheckResult{Name: name, Status: models.CheckFail, Hard: hard, Detail: err.Error()}
}

func listed(bad []string, total int) string {
	shown := bad
	if len(shown) > maxListed {
		shown = shown[:maxListed]
	}
	return fmt.Sprintf("%d of %d rows: %s", len(bad), total, strings.Join(shown, ", "))
}

func (c *Checker) fundamentalSymbols() models.CheckResult {
	const name = "fundamentals_symbols"
	t, err := c.store.ProcessedTable(repository.FileFundamentals)
	if err != nil {
		return missingOr(name, true, err)
	}
	col := t.ColIndex("symbol")
	if col < 0 {
		return models.CheckResult{Name: name, Status: models.CheckFail, Hard: true, Detail: "no symbol column"}
	}
	var bad []string
	for r := range t.Rows {
		s := t.Cell(r, col)
		if s == "" || s != strings.ToUpper(s) {
			bad = append(bad, fmt.Sprintf("row %d %q", r+1, s))
		}
	}
	if len(bad) > 0 {
		return models.CheckResult{Name: name, Status: models.CheckFail, Hard: true, Detail: listed(bad, t.Len())}
	}
	return models.CheckResult{Name: name, Status: models.CheckOK, Hard: true}
}

func (c *Checker) snapshotComposite() models.CheckResult {
	const name = "snapshot_composite"
	snap, err := c.store.LoadSnapshot()
	if err != nil {
		return missingOr(name, true, err)
	}
	if v := snap.Composite; v != nil && (*v < 0 || *v > 100) {
		return models.CheckResult{Name: name, Status: models.CheckFail, Hard: true,
			Detail: fmt.Sprintf("composite %s outside [0,100]", util.FormatFloat(*v))}
	}
	return models.CheckResult{Name: name, Status: models.CheckOK, Hard: true}
}

func (c *Checker) walkForwardWindows() models.CheckResult {
	const name = "walkforward_windows"
	t, err := c.store.LoadWalkForwardRows()
	if err != nil {
		return missingOr(name, true, err)
	}
	var bad []string
	for r := range t.Rows {
		trainEnd, ok1 := util.ParseDate(t.Value(r, "train_end"))
		testStart, ok2 := util.ParseDate(t.Value(r, "test_start"))
		if !ok1 || !ok2 || !testStart.After(trainEnd) {
			bad = append(bad, fmt.Sprintf("row %d train_end=%s test_start=%s", r+1, t.Value(r, "train_end"), t.Value(r, "test_start")))
		}
	}
	if len(bad) > 0 {
		return models.CheckResult{Name: name, Status: models.CheckFail, Hard: true, Detail: listed(bad, t.Len())}
	}
	return models.CheckResult{Name: name, Status: models.CheckOK, Hard: true}
}

// Freshness classifies the age of the last observation.
func Freshness(last, now time.Time) (models.CheckStatus, int) {
	age := util.DaysBetween(util.Day(last), util.Day(now))
	switch {
	case age <= FreshDays:
		return models.CheckOK, age
	case age <= StaleDays:
		return models.CheckStale, age
	default:
		return models.CheckOutdated, age
	}
}

func freshness(name string, last, now time.Time) models.CheckResult {
	if last.IsZero() {
		return models.CheckResult{Name: name, Status: models.CheckMissing, Detail: "no dated rows"}
	}
	st, age := Freshness(last, now)
	return models.CheckResult{Name: name, Status: st, AgeDays: &age, Detail: "last " + util.FormatDate(last)}
}

func (c *Checker) timeseriesFreshness(now time.Time) models.CheckResult {
	const name = "freshness_riskindex_timeseries"
	f, err := c.store.LoadTimeseries()
	if err != nil {
		return missingOr(name, false, err)
	}
	return freshness(name, f.LastDate(), now)
}

func (c *Checker) earningsFreshness(now time.Time) models.CheckResult {
	const name = "freshness_earnings_results"
	t, err := c.store.ProcessedTable(repository.FileEarningsRes)
	if err != nil {
		return missingOr(name, false, err)
	}
	return freshness(name, lastDate(t, "date"), now)
}

func lastDate(t *tabular.Table, col string) time.Time {
	var last time.Time
	c := t.ColIndex(col)
	for r := range t.Rows {
		if d, ok := util.ParseDate(t.Cell(r, c)); ok && d.After(last) {
			last = d
		}
	}
	return last
}
