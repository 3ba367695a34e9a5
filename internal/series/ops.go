package series

import (
	"math"
	"sort"
)

func Full(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func FFill(x []float64) []float64 {
	out := make([]float64, len(x))
	last := NaN
	for i, v := range x {
		if !math.IsNaN(v) {
			last = v
		}
		out[i] = last
	}
	return out
}

// BFill fills NaNs with the next valid value.
func BFill(x []float64) []float64 {
	out := make([]float64, len(x))
	next := NaN
	for i := len(x) - 1; i >= 0; i-- {
		if !math.IsNaN(x[i]) {
			next = x[i]
		}
		out[i] = next
	}
	return out
}

// Shift moves values n rows later (n > 0) leaving NaN at the head.
func Shift(x []float64, n int) []float64 {
	out := Full(len(x), NaN)
	for i := range x {
		j := i - n
		if j >= 0 && j < len(x) {
			out[i] = x[j]
		}
	}
	return out
}

func Diff(x []float64) []float64 { return Sub(x, Shift(x, 1)) }

// Change is (x - x.shift(n)) * scale.
func Change(x []float64, n int, scale float64) []float64 {
	return Scale(Sub(x, Shift(x, n)), scale)
}

// PctChange is x / x.shift(n) - 1.
func PctChange(x []float64, n int) []float64 {
	prev := Shift(x, n)
	out := make([]float64, len(x))
	for i := range x {
		out[i] = x[i]/prev[i] - 1
	}
	return out
}

func zip(a, b []float64, fn func(x, y float64) float64) []float64 {
	out := make([]float64, len(a))
	for i := range a {
		out[i] = fn(a[i], b[i])
	}
	return out
}

func Add(a, b []float64) []float64 { return zip(a, b, func(x, y float64) float64 { return x + y }) }
func Sub(a, b []float64) []float64 { return zip(a, b, func(x, y float64) float64 { return x - y }) }

// Div divides elementwise; a zero divisor yields NaN.
func Div(a, b []float64) []float64 {
	return zip(a, b, func(x, y float64) float64 {
		if y == 0 {
			return NaN
		}
		return x / y
	})
}

func Scale(x []float64, k float64) []float64 {
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = v * k
	}
	return out
}

func Clip(x []float64, lo, hi float64) []float64 {
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = ClipValue(v, lo, hi)
	}
	return out
}

// ClipValue keeps NaN as NaN.
func ClipValue(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return v
	}
	return math.Max(lo, math.Min(hi, v))
}

// rolling applies fn to the non-NaN values of each trailing window once at least minPeriods are present.
func rolling(x []float64, window, minPeriods int, fn func(vals []float64) float64) []float64 {
	if minPeriods <= 0 {
		minPeriods = 1
	}
	out := Full(len(x), NaN)
	buf := make([]float64, 0, window)
	for i := range x {
		buf = buf[:0]
		lo := i - window + 1
		if lo < 0 {
			lo = 0
		}
		for _, v := range x[lo : i+1] {
			if !math.IsNaN(v) {
				buf = append(buf, v)
			}
		}
		if len(buf) >= minPeriods {
			out[i] = fn(buf)
		}
	}
	return out
}

func RollingMean(x []float64, window, minPeriods int) []float64 {
	return rolling(x, window, minPeriods, Mean)
}

func RollingStd(x []float64, window, minPeriods, ddof int) []float64 {
	return rolling(x, window, minPeriods, func(v []float64) float64 { return Std(v, ddof) })
}

func RollingMin(x []float64, window, minPeriods int) []float64 {
	return rolling(x, window, minPeriods, func(v []float64) float64 {
		m := v[0]
		for _, e := range v[1:] {
			m = math.Min(m, e)
		}
		return m
	})
}

func RollingMax(x []float64, window, minPeriods int) []float64 {
	return rolling(x, window, minPeriods, func(v []float64) float64 {
		m := v[0]
		for _, e := range v[1:] {
			m = math.Max(m, e)
		}
		return m
	})
}

// ZScore is (x - rolling mean) / rolling population std; NaN where std is 0.
func ZScore(x []float64, window, minPeriods int) []float64 {
	mu := RollingMean(x, window, minPeriods)
	sd := RollingStd(x, window, minPeriods, 0)
	out := make([]float64, len(x))
	for i := range x {
		if sd[i] == 0 || math.IsNaN(sd[i]) {
			out[i] = NaN
			continue
		}
		out[i] = (x[i] - mu[i]) / sd[i]
	}
	return out
}

// PctRank ranks non-NaN values with ties averaged, divided by the non-NaN count.
func PctRank(x []float64) []float64 {
	type iv struct {
		i int
		v float64
	}
	vals := make([]iv, 0, len(x))
	for i, v := range x {
		if !math.IsNaN(v) {
			vals = append(vals, iv{i, v})
		}
	}
	out := Full(len(x), NaN)
	n := len(vals)
	if n == 0 {
		return out
	}
	sort.SliceStable(vals, func(a, b int) bool { return vals[a].v < vals[b].v })
	for lo := 0; lo < n; {
		hi := lo
		for hi+1 < n && vals[hi+1].v == vals[lo].v {
			hi++
		}
		// ranks are 1-based; ties share the mean rank
		rank := float64(lo+hi+2) / 2
		for k := lo; k <= hi; k++ {
			out[vals[k].i] = rank / float64(n)
		}
		lo = hi + 1
	}
	return out
}

// EWM is the exponentially weighted mean with alpha = 2/(span+1).
// adjust selects normalised weights; missing values keep decaying the old weight.
func EWM(x []float64, span float64, minPeriods int, adjust bool) []float64 {
	out := Full(len(x), NaN)
	if len(x) == 0 {
		return out
	}
	alpha := 2 / (span + 1)
	oldFactor := 1 - alpha
	newWt := 1.0
	if !adjust {
		newWt = alpha
	}

	weighted := x[0]
	nobs := 0
	if !math.IsNaN(weighted) {
		nobs = 1
	}
	if nobs >= minPeriods {
		out[0] = weighted
	}
	oldWt := 1.0
	for i := 1; i < len(x); i++ {
		cur := x[i]
		isObs := !math.IsNaN(cur)
		if isObs {
			nobs++
		}
		if !math.IsNaN(weighted) {
			oldWt *= oldFactor
			if isObs {
				if weighted != cur {
					weighted = (oldWt*weighted + newWt*cur) / (oldWt + newWt)
				}
				if adjust {
					oldWt += newWt
				} else {
					oldWt = 1
				}
			}
		} else if isObs {
			weighted = cur
		}
		if nobs >= minPeriods {
			out[i] = weighted
		}
	}
	return out
}

func CumProd(x []float64) []float64 {
	out := make([]float64, len(x))
	acc := 1.0
	for i, v := range x {
		if !math.IsNaN(v) {
			acc *= v
		}
		out[i] = acc
	}
	return out
}

// Last returns the final value, which may be NaN.
func Last(x []float64) float64 {
	if len(x) == 0 {
		return NaN
	}
	return x[len(x)-1]
}

// Mean skips NaN; empty input yields NaN.
func Mean(x []float64) float64 {
	sum, n := 0.0, 0
	for _, v := range x {
		if !math.IsNaN(v) {
			sum += v
			n++
		}
	}
	if n == 0 {
		return NaN
	}
	return sum / float64(n)
}

// Std skips NaN; fewer than ddof+1 values yield NaN.
func Std(x []float64, ddof int) float64 {
	m := Mean(x)
	ss, n := 0.0, 0
	for _, v := range x {
		if !math.IsNaN(v) {
			d := v - m
			ss += d * d
			n++
		}
	}
	if n-ddof <= 0 {
		return NaN
	}
	return math.Sqrt(ss / float64(n-ddof))
}

// Median skips NaN.
func Median(x []float64) float64 {
	vals := make([]float64, 0, len(x))
	for _, v := range x {
		if !math.IsNaN(v) {
			vals = append(vals, v)
		}
	}
	if len(vals) == 0 {
		return NaN
	}
	sort.Float64s(vals)
	mid := len(vals) / 2
	if len(vals)%2 == 1 {
		return vals[mid]
	}
	return (vals[mid-1] + vals[mid]) / 2
}

// Max skips NaN.
func Max(x []float64) float64 {
	m := NaN
	for _, v := range x {
		if !math.IsNaN(v) && (math.IsNaN(m) || v > m) {
			m = v
		}
	}
	return m
}

// Count of non-NaN values.
func Count(x []float64) int {
	n := 0
	for _, v := range x {
		if !math.IsNaN(v) {
			n++
		}
	}
	return n
}
