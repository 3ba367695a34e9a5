// Package series holds date-indexed float columns and the rolling-window
// arithmetic the builders run on them. NaN marks a missing observation.
package series

import (
	"math"
	"sort"
	"strings"
	"time"

	"RiskPull/pkg/util"
)

var NaN = math.NaN()

// Frame is a sorted daily index with named, equally long columns.
type Frame struct {
	Index []time.Time
	cols  map[string][]float64
	order []string
}

func NewFrame(index []time.Time) *Frame {
	return &Frame{Index: index, cols: map[string][]float64{}}
}

func (f *Frame) Len() int {
	if f == nil {
		return 0
	}
	return len(f.Index)
}

func (f *Frame) Empty() bool { return f.Len() == 0 || len(f.order) == 0 }

// Set adds or replaces a column. vals must match the index length.
func (f *Frame) Set(name string, vals []float64) {
	if len(vals) != len(f.Index) {
		panic("series: column " + name + " length mismatch")
	}
	if _, ok := f.cols[name]; !ok {
		f.order = append(f.order, name)
	}
	f.cols[name] = vals
}

func (f *Frame) Col(name string) ([]float64, bool) {
	if f == nil {
		return nil, false
	}
	c, ok := f.cols[name]
	return c, ok
}

// Get returns the column or an all-NaN column when absent.
func (f *Frame) Get(name string) []float64 {
	if c, ok := f.Col(name); ok {
		return c
	}
	return Full(f.Len(), NaN)
}

func (f *Frame) Has(names ...string) bool {
	for _, n := range names {
		if _, ok := f.Col(n); !ok {
			return false
		}
	}
	return true
}

// Columns in insertion order.
func (f *Frame) Columns() []string {
	out := make([]string, len(f.order))
	copy(out, f.order)
	return out
}

func (f *Frame) SortedColumns() []string {
	out := f.Columns()
	sort.Strings(out)
	return out
}

// Upper renames columns to their trimmed upper-case form; on collision the later column wins.
func (f *Frame) Upper() *Frame {
	out := NewFrame(f.Index)
	for _, n := range f.order {
		out.Set(strings.ToUpper(strings.TrimSpace(n)), f.cols[n])
	}
	return out
}

// Sorted orders rows by date and drops duplicate dates keeping the last one.
func (f *Frame) Sorted() *Frame {
	n := f.Len()
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return f.Index[idx[a]].Before(f.Index[idx[b]]) })

	keep := make([]int, 0, n)
	for _, i := range idx {
		if len(keep) > 0 && f.Index[keep[len(keep)-1]].Equal(f.Index[i]) {
			keep[len(keep)-1] = i
			continue
		}
		keep = append(keep, i)
	}
	return f.take(keep)
}

func (f *Frame) take(rows []int) *Frame {
	index := make([]time.Time, len(rows))
	for j, i := range rows {
		index[j] = f.Index[i]
	}
	out := NewFrame(index)
	for _, name := range f.order {
		src := f.cols[name]
		dst := make([]float64, len(rows))
		for j, i := range rows {
			dst[j] = src[i]
		}
		out.Set(name, dst)
	}
	return out
}

// Reindex aligns the frame on a new sorted index; dates not present become NaN.
func (f *Frame) Reindex(index []time.Time) *Frame {
	pos := make(map[int64]int, f.Len())
	for i, t := range f.Index {
		pos[t.Unix()] = i
	}
	out := NewFrame(index)
	for _, name := range f.order {
		src := f.cols[name]
		dst := make([]float64, len(index))
		for j, t := range index {
			if i, ok := pos[t.Unix()]; ok {
				dst[j] = src[i]
			} else {
				dst[j] = NaN
			}
		}
		out.Set(name, dst)
	}
	return out
}

// FFill forward fills every column.
func (f *Frame) FFill() *Frame {
	out := NewFrame(f.Index)
	for _, name := range f.order {
		out.Set(name, FFill(f.cols[name]))
	}
	return out
}

func (f *Frame) BFill() *Frame {
	out := NewFrame(f.Index)
	for _, name := range f.order {
		out.Set(name, BFill(f.cols[name]))
	}
	return out
}

// DailyFFill reindexes to every calendar day between first and last date and forward fills.
func (f *Frame) DailyFFill() *Frame {
	if f.Len() == 0 {
		return f
	}
	return f.Reindex(DateRange(f.Index[0], f.Index[f.Len()-1])).FFill()
}

// Between keeps rows with from <= date < to.
func (f *Frame) Between(from, to time.Time) *Frame {
	lo := sort.Search(f.Len(), func(i int) bool { return !f.Index[i].Before(from) })
	hi := sort.Search(f.Len(), func(i int) bool { return !f.Index[i].Before(to) })
	return f.Rows(lo, hi)
}

// Rows slices rows [lo, hi).
func (f *Frame) Rows(lo, hi int) *Frame {
	out := NewFrame(f.Index[lo:hi])
	for _, name := range f.order {
		out.Set(name, f.cols[name][lo:hi])
	}
	return out
}

// DropNaN removes rows where any of the named columns is NaN.
func (f *Frame) DropNaN(names ...string) *Frame {
	if len(names) == 0 {
		names = f.order
	}
	rows := make([]int, 0, f.Len())
	for i := range f.Index {
		ok := true
		for _, n := range names {
			if math.IsNaN(f.Get(n)[i]) {
				ok = false
				break
			}
		}
		if ok {
			rows = append(rows, i)
		}
	}
	return f.take(rows)
}

// LastDate returns the last index entry or the zero time.
func (f *Frame) LastDate() time.Time {
	if f.Len() == 0 {
		return time.Time{}
	}
	return f.Index[f.Len()-1]
}

// OuterJoin aligns frames on the union of their dates. Later frames win on duplicate names.
func OuterJoin(frames ...*Frame) *Frame {
	seen := map[int64]time.Time{}
	for _, fr := range frames {
		if fr == nil {
			continue
		}
		for _, t := range fr.Index {
			seen[t.Unix()] = t
		}
	}
	index := make([]time.Time, 0, len(seen))
	for _, t := range seen {
		index = append(index, t)
	}
	sort.Slice(index, func(i, j int) bool { return index[i].Before(index[j]) })

	out := NewFrame(index)
	for _, fr := range frames {
		if fr == nil {
			continue
		}
		aligned := fr.Reindex(index)
		for _, name := range aligned.order {
			out.Set(name, aligned.cols[name])
		}
	}
	return out
}

// InnerJoin keeps dates present in both frames.
func InnerJoin(a, b *Frame) *Frame {
	inB := make(map[int64]bool, b.Len())
	for _, t := range b.Index {
		inB[t.Unix()] = true
	}
	index := make([]time.Time, 0, a.Len())
	for _, t := range a.Index {
		if inB[t.Unix()] {
			index = append(index, t)
		}
	}
	out := a.Reindex(index)
	bb := b.Reindex(index)
	for _, name := range bb.order {
		out.Set(name, bb.cols[name])
	}
	return out
}

// DateRange lists every calendar day from first to last inclusive.
func DateRange(first, last time.Time) []time.Time {
	first, last = util.Day(first), util.Day(last)
	if last.Before(first) {
		return nil
	}
	out := make([]time.Time, 0, util.DaysBetween(first, last)+1)
	for t := first; !t.After(last); t = t.AddDate(0, 0, 1) {
		out = append(out, t)
	}
	return out
}
