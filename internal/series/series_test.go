package series

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func assertFloats(t *testing.T, want, got []float64) {
	t.Helper()
	require.Len(t, got, len(want))
	for i := range want {
		if math.IsNaN(want[i]) {
			assert.Truef(t, math.IsNaN(got[i]), "index %d: want NaN got %v", i, got[i])
			continue
		}
		assert.InDeltaf(t, want[i], got[i], 1e-9, "index %d", i)
	}
}

func TestEWMAdjusted(t *testing.T) {
	assertFloats(t, []float64{1, 2.5 / 1.5, 4.25 / 1.75}, EWM([]float64{1, 2, 3}, 3, 1, true))
}

func TestEWMMissingKeepsDecaying(t *testing.T) {
	assertFloats(t, []float64{1, 1, 2.6}, EWM([]float64{1, NaN, 3}, 3, 1, true))
}

func TestEWMMinPeriods(t *testing.T) {
	got := EWM([]float64{1, 2, 3, 4}, 3, 3, true)
	assert.True(t, math.IsNaN(got[0]))
	assert.True(t, math.IsNaN(got[1]))
	assert.False(t, math.IsNaN(got[2]))
}

func TestZScorePopulationStd(t *testing.T) {
	got := ZScore([]float64{1, 2, 3, 4}, 4, 2)
	assertFloats(t, []float64{NaN, 1, (3 - 2) / math.Sqrt(2.0/3.0), 1.5 / math.Sqrt(1.25)}, got)
}

func TestZScoreConstantIsUndefined(t *testing.T) {
	got := ZScore([]float64{5, 5, 5, 5}, 4, 2)
	for _, v := range got {
		assert.True(t, math.IsNaN(v))
	}
}

func TestRollingSkipsNaNAgainstMinPeriods(t *testing.T) {
	x := []float64{1, NaN, 3, 4}
	assertFloats(t, []float64{NaN, NaN, 2, 3.5}, RollingMean(x, 3, 2))
	assertFloats(t, []float64{NaN, NaN, 1, 1}, RollingStd([]float64{1, 2, 3, 4}, 3, 3, 1))
	assertFloats(t, []float64{1, 1, 1, 3}, RollingMin(x, 3, 1))
	assertFloats(t, []float64{1, 1, 3, 4}, RollingMax(x, 3, 1))
}

func TestPctRankAveragesTies(t *testing.T) {
	assertFloats(t, []float64{0.875, 0.25, NaN, 0.875, 0.5}, PctRank([]float64{3, 1, NaN, 3, 2}))
}

func TestShiftDiffChange(t *testing.T) {
	x := []float64{1, 2, 4, 8}
	assertFloats(t, []float64{NaN, NaN, 1, 2}, Shift(x, 2))
	assertFloats(t, []float64{NaN, 1, 2, 4}, Diff(x))
	assertFloats(t, []float64{NaN, NaN, 300, 600}, Change(x, 2, 100))
	assertFloats(t, []float64{NaN, 1, 1, 1}, PctChange(x, 1))
}

func TestClipKeepsNaN(t *testing.T) {
	assertFloats(t, []float64{0, 50, 100, NaN}, Clip([]float64{-5, 50, 120, NaN}, 0, 100))
}

func TestDivByZeroIsNaN(t *testing.T) {
	assertFloats(t, []float64{2, NaN}, Div([]float64{4, 1}, []float64{2, 0}))
}

func TestFillDirections(t *testing.T) {
	x := []float64{NaN, 2, NaN, 4, NaN}
	assertFloats(t, []float64{NaN, 2, 2, 4, 4}, FFill(x))
	assertFloats(t, []float64{2, 2, 4, 4, NaN}, BFill(x))

	f := NewFrame([]time.Time{day("2024-01-01"), day("2024-01-02"), day("2024-01-03")})
	f.Set("HYG", []float64{NaN, NaN, 80})
	assertFloats(t, []float64{80, 80, 80}, f.FFill().BFill().Get("HYG"))
}

func TestDailyFFill(t *testing.T) {
	f := NewFrame([]time.Time{day("2024-01-01"), day("2024-01-03")})
	f.Set("VIX", []float64{1, 3})

	got := f.DailyFFill()
	require.Equal(t, 3, got.Len())
	assert.Equal(t, day("2024-01-02"), got.Index[1])
	assertFloats(t, []float64{1, 1, 3}, got.Get("VIX"))
}

func TestOuterAndInnerJoin(t *testing.T) {
	a := NewFrame([]time.Time{day("2024-01-01"), day("2024-01-02")})
	a.Set("A", []float64{1, 2})
	b := NewFrame([]time.Time{day("2024-01-02"), day("2024-01-03")})
	b.Set("B", []float64{20, 30})

	o := OuterJoin(a, b)
	require.Equal(t, 3, o.Len())
	assertFloats(t, []float64{1, 2, NaN}, o.Get("A"))
	assertFloats(t, []float64{NaN, 20, 30}, o.Get("B"))

	in := InnerJoin(a, b)
	require.Equal(t, 1, in.Len())
	assertFloats(t, []float64{2}, in.Get("A"))
	assertFloats(t, []float64{20}, in.Get("B"))
}

func TestSortedKeepsLastDuplicate(t *testing.T) {
	f := NewFrame([]time.Time{day("2024-01-02"), day("2024-01-01"), day("2024-01-02")})
	f.Set("x", []float64{1, 2, 3})
	s := f.Sorted()
	require.Equal(t, 2, s.Len())
	assertFloats(t, []float64{2, 3}, s.Get("x"))
}

func TestBetweenHalfOpen(t *testing.T) {
	f := NewFrame(DateRange(day("2024-01-01"), day("2024-01-10")))
	f.Set("x", Full(10, 1))
	got := f.Between(day("2024-01-03"), day("2024-01-05"))
	require.Equal(t, 2, got.Len())
	assert.Equal(t, day("2024-01-04"), got.LastDate())
}

func TestUpperAndDropNaN(t *testing.T) {
	f := NewFrame([]time.Time{day("2024-01-01"), day("2024-01-02")})
	f.Set(" vix ", []float64{NaN, 2})
	u := f.Upper()
	assert.True(t, u.Has("VIX"))
	assert.Equal(t, 1, u.DropNaN().Len())
	assert.Equal(t, []string{"VIX"}, u.SortedColumns())
}

func TestAggregates(t *testing.T) {
	x := []float64{3, NaN, 1, 2}
	assert.Equal(t, 2.0, Mean(x))
	assert.Equal(t, 2.0, Median(x))
	assert.Equal(t, 3.0, Max(x))
	assert.Equal(t, 3, Count(x))
	assert.InDelta(t, 1.0, Std(x, 1), 1e-12)
	assert.True(t, math.IsNaN(Std([]float64{1}, 1)))
	assertFloats(t, []float64{2, 2, 6}, CumProd([]float64{2, NaN, 3}))
}
