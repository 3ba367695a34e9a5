package series

import (
	"strings"
	"time"

	"RiskPull/pkg/tabular"
	"RiskPull/pkg/util"
)

// FromTable turns a dated CSV table into a Frame. The date column is the first of
// date/Date/DATE, else the first column; rows whose date does not parse are dropped
// and every other cell is coerced to float.
func FromTable(t *tabular.Table) *Frame {
	if t == nil || len(t.Header) == 0 {
		return NewFrame(nil)
	}
	dateCol := -1
	for _, cand := range []string{"date", "Date", "DATE"} {
		for i, h := range t.Header {
			if h == cand {
				dateCol = i
				break
			}
		}
		if dateCol >= 0 {
			break
		}
	}
	if dateCol < 0 {
		dateCol = 0
	}

	index := make([]time.Time, 0, t.Len())
	rows := make([]int, 0, t.Len())
	for r := range t.Rows {
		d, ok := util.ParseDate(t.Cell(r, dateCol))
		if !ok {
			continue
		}
		index = append(index, d)
		rows = append(rows, r)
	}

	f := NewFrame(index)
	for c, name := range t.Header {
		if c == dateCol || strings.TrimSpace(name) == "" {
			continue
		}
		vals := make([]float64, len(rows))
		for j, r := range rows {
			vals[j] = util.ParseFloat(t.Cell(r, c))
		}
		f.Set(strings.TrimSpace(name), vals)
	}
	return f.Sorted()
}

// LoadCSV reads a dated CSV or CSV.GZ into a Frame.
func LoadCSV(path string) (*Frame, error) {
	t, err := tabular.ReadCSV(path)
	if err != nil {
		return nil, err
	}
	return FromTable(t), nil
}

// ToTable renders the frame as date plus the named columns (all columns when none given).
func (f *Frame) ToTable(names ...string) *tabular.Table {
	if len(names) == 0 {
		names = f.Columns()
	}
	t := tabular.NewTable(append([]string{"date"}, names...)...)
	for i, d := range f.Index {
		row := make([]string, 0, len(names)+1)
		row = append(row, util.FormatDate(d))
		for _, n := range names {
			row = append(row, util.FormatFloat(f.Get(n)[i]))
		}
		t.Append(row...)
	}
	return t
}
