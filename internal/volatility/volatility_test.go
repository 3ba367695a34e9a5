package volatility

import (
	"context"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"RiskPull/internal/domain/models"
	domrepo "RiskPull/internal/domain/repository"
	"RiskPull/internal/series"
)

type fakePrices map[string]*models.PriceSeries

func (f fakePrices) Closes(ctx context.Context, symbol string) (*models.PriceSeries, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ps, ok := f[symbol]
	if !ok {
		return nil, fmt.Errorf("prices for %s: %w", symbol, domrepo.ErrNoData)
	}
	return ps, nil
}

// alternating closes with a fixed log return of +-r.
func zigzag(symbol string, n int, r float64) *models.PriceSeries {
	ps := &models.PriceSeries{Symbol: symbol}
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	px := 100.0
	for i := 0; i < n; i++ {
		ps.Dates = append(ps.Dates, t0.AddDate(0, 0, i))
		ps.Close = append(ps.Close, px)
		if i%2 == 0 {
			px *= math.Exp(r)
		} else {
			px *= math.Exp(-r)
		}
	}
	return ps
}

func TestLogReturnsSkipsBadPrices(t *testing.T) {
	r := LogReturns([]float64{100, 110, 0, 50, math.NaN(), 60})
	require.Len(t, r, 1)
	assert.InDelta(t, math.Log(1.1), r[0], 1e-12)
	assert.Nil(t, LogReturns([]float64{1}))
}

func TestRealizedMatchesSampleStd(t *testing.T) {
	rets := []float64{0.01, -0.02, 0.015, 0.0, -0.005}
	want := series.Std(rets[2:], 1) * math.Sqrt(252) * 100
	assert.InDelta(t, want, Realized(rets, 3), 1e-12)
	assert.True(t, math.IsNaN(Realized(rets, 6)))
}

func TestHVNeedsWindowReturns(t *testing.T) {
	ps := zigzag("X", 21, 0.01)
	hv := HV(ps.Close, 20)
	require.NotNil(t, hv)
	// alternating +-r over an even window: sample std = r*sqrt(n/(n-1))
	assert.InDelta(t, 0.01*math.Sqrt(20.0/19)*math.Sqrt(252)*100, *hv, 0.006)
	assert.Nil(t, HV(ps.Close, 60))
}

func TestBuilderCollectsFailures(t *testing.T) {
	prices := fakePrices{
		"AAPL": zigzag("AAPL", 80, 0.01),
		"MSFT": zigzag("MSFT", 30, 0.02),
	}
	b := NewBuilder(prices, 2, nil)
	b.now = func() time.Time { return time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC) }

	res, err := b.Build(context.Background(), []string{"AAPL", "GONE", "MSFT"})
	require.NoError(t, err)

	require.Len(t, res.Rows, 2)
	assert.Equal(t, "AAPL", res.Rows[0].Symbol)
	assert.NotNil(t, res.Rows[0].HV60)
	assert.Equal(t, "MSFT", res.Rows[1].Symbol)
	assert.NotNil(t, res.Rows[1].HV20)
	assert.Nil(t, res.Rows[1].HV60)
	assert.Equal(t, "2024-01-30", res.Rows[1].AsOf)

	require.Len(t, res.Errors, 1)
	assert.Equal(t, "GONE", res.Errors[0].Key)
	assert.Equal(t, 3, res.Report.SymbolsTotal)
	assert.Equal(t, 2, res.Report.SymbolsOK)
	assert.Equal(t, []string{"GONE"}, res.Report.SymbolsError)
}

func TestBuilderCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewBuilder(fakePrices{}, 1, nil).Build(ctx, []string{"AAPL"})
	assert.ErrorIs(t, err, context.Canceled)
}
