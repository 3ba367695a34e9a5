package integrity

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"RiskPull/internal/domain/models"
	"RiskPull/internal/repository"
	"RiskPull/pkg/config"
)

var now = time.Date(2024, 5, 10, 6, 0, 0, 0, time.UTC)

func write(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func newChecker(t *testing.T) (*Checker, *repository.ArtifactStore) {
	t.Helper()
	dir := t.TempDir()
	s := repository.NewArtifactStore(config.Paths{DataDir: filepath.Join(dir, "data"), DocsDir: filepath.Join(dir, "docs")})
	return NewChecker(s, WithClock(func() time.Time { return now })), s
}

func byName(rep *models.IntegrityReport) map[string]models.CheckResult {
	out := make(map[string]models.CheckResult, len(rep.Checks))
	for _, c := range rep.Checks {
		out[c.Name] = c
	}
	return out
}

func TestAllMissingIsNotAFailure(t *testing.T) {
	c, s := newChecker(t)
	rep, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, rep.OK)
	require.Len(t, rep.Checks, 5)
	for _, r := range rep.Checks {
		assert.Equal(t, models.CheckMissing, r.Status, r.Name)
	}
	got, err := s.LoadIntegrity()
	require.NoError(t, err)
	assert.Equal(t, now, got.GeneratedAt)
}

func TestHealthyTree(t *testing.T) {
	c, s := newChecker(t)
	write(t, s.Processed(repository.FileFundamentals), "symbol,pe\nAAPL,29\nBRK.B,9\n")
	write(t, s.Processed(repository.FileSnapshot), `{"composite":null,"regime":"NEUTRAL"}`)
	write(t, s.Docs(repository.FileWFResults), "train_start,train_end,test_start,test_end\n2015-01-02,2017-12-29,2018-01-02,2018-12-31\n")
	write(t, s.Processed(repository.FileTimeseries), "date,sc_comp\n2024-05-06,50\n2024-05-08,51\n")
	write(t, s.Processed(repository.FileEarningsRes), "symbol,date\nAAPL,2024-04-20\nMSFT,2024-03-01\n")

	rep, err := c.Check(context.Background())
	require.NoError(t, err)
	assert.True(t, rep.OK)
	m := byName(rep)
	assert.Equal(t, models.CheckOK, m["fundamentals_symbols"].Status)
	assert.Equal(t, models.CheckOK, m["snapshot_composite"].Status)
	assert.Equal(t, models.CheckOK, m["walkforward_windows"].Status)
	assert.Equal(t, models.CheckOK, m["freshness_riskindex_timeseries"].Status)
	assert.Equal(t, 2, *m["freshness_riskindex_timeseries"].AgeDays)
	assert.Equal(t, models.CheckOutdated, m["freshness_earnings_results"].Status)
	assert.Equal(t, 20, *m["freshness_earnings_results"].AgeDays)
}

func TestHardFailures(t *testing.T) {
	c, s := newChecker(t)
	write(t, s.Processed(repository.FileFundamentals), "symbol\nAAPL\nmsft\n\n ,\n")
	write(t, s.Processed(repository.FileSnapshot), `{"composite":101.5}`)
	write(t, s.Docs(repository.FileWFResults), "train_start,train_end,test_start,test_end\n2015-01-02,2018-01-02,2018-01-02,2018-12-31\n")

	rep, err := c.Check(context.Background())
	require.NoError(t, err)
	assert.False(t, rep.OK)
	m := byName(rep)
	assert.Equal(t, models.CheckFail, m["fundamentals_symbols"].Status)
	assert.Contains(t, m["fundamentals_symbols"].Detail, `"msft"`)
	assert.Equal(t, models.CheckFail, m["snapshot_composite"].Status)
	assert.Equal(t, models.CheckFail, m["walkforward_windows"].Status)
}

func TestFreshness(t *testing.T) {
	day := func(s string) time.Time { d, _ := time.Parse("2006-01-02", s); return d }
	st, age := Freshness(day("2024-05-06"), now)
	assert.Equal(t, models.CheckOK, st)
	assert.Equal(t, 4, age)
	st, _ = Freshness(day("2024-04-30"), now)
	assert.Equal(t, models.CheckStale, st)
	st, _ = Freshness(day("2024-04-29"), now)
	assert.Equal(t, models.CheckOutdated, st)
}

func TestCancelled(t *testing.T) {
	c, _ := newChecker(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Check(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
