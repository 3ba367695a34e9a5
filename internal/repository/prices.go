package repository

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/parquet-go/parquet-go"

	"RiskPull/internal/domain/models"
	domrepo "RiskPull/internal/domain/repository"
	"RiskPull/pkg/tabular"
	"RiskPull/pkg/util"
)

var _ domrepo.PriceSource = (*PriceStore)(nil)

// PriceRecord is the on-disk schema of the long-format price parquet.
type PriceRecord struct {
	Symbol string  `parquet:"symbol"`
	Date   int64   `parquet:"date,timestamp(millisecond)"`
	Close  float64 `parquet:"close"`
}

// PriceStore reads per-symbol CSVs from the bucketed prices tree and falls back
// to a long-format parquet file.
type PriceStore struct {
	dir         string
	parquetPath string

	once    sync.Once
	bySym   map[string][]PriceRecord
	loadErr error
}

func NewPriceStore(dir, parquetPath string) *PriceStore {
	return &PriceStore{dir: dir, parquetPath: parquetPath}
}

// PriceBucket is the sub directory of a symbol: its first letter, or "#".
func PriceBucket(symbol string) string {
	if symbol == "" {
		return "#"
	}
	r := unicode.ToUpper(rune(symbol[0]))
	if r < 'A' || r > 'Z' {
		return "#"
	}
	return string(r)
}

func (s *PriceStore) csvPaths(symbol string) []string {
	return []string{
		filepath.Join(s.dir, PriceBucket(symbol), symbol+".csv"),
		filepath.Join(s.dir, symbol+".csv"),
	}
}

func (s *PriceStore) Closes(ctx context.Context, symbol string) (*models.PriceSeries, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	symbol = util.UpperTrim(symbol)
	for _, p := range s.csvPaths(symbol) {
		if !tabular.Exists(p) {
			continue
		}
		ps, err := ReadPriceCSV(p)
		if err != nil {
			return nil, err
		}
		ps.Symbol = symbol
		return ps, nil
	}
	if s.parquetPath != "" {
		return s.fromParquet(symbol)
	}
	return nil, fmt.Errorf("prices for %s: %w", symbol, domrepo.ErrNoData)
}

// ReadPriceCSV parses a dated price CSV. The close column is the first of
// "adj close", "adj_close" and "close", matched case-insensitively.
func ReadPriceCSV(path string) (*models.PriceSeries, error) {
	t, err := tabular.ReadCSV(path)
	if err != nil {
		return nil, err
	}
	dc := t.ColIndex("date")
	cc := t.FirstCol("adj close", "adj_close", "close")
	if dc < 0 || cc < 0 {
		return nil, fmt.Errorf("%s: missing date or close column", path)
	}

	type obs struct {
		d time.Time
		c float64
	}
	rows := make([]obs, 0, t.Len())
	for r := range t.Rows {
		d, ok := util.ParseDate(t.Cell(r, dc))
		if !ok {
			continue
		}
		rows = append(rows, obs{d, util.ParseFloat(t.Cell(r, cc))})
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].d.Before(rows[j].d) })

	ps := &models.PriceSeries{Dates: make([]time.Time, len(rows)), Close: make([]float64, len(rows))}
	for i, o := range rows {
		ps.Dates[i], ps.Close[i] = o.d, o.c
	}
	if ps.Len() == 0 {
		return nil, fmt.Errorf("%s: %w", path, domrepo.ErrNoData)
	}
	return ps, nil
}

func (s *PriceStore) load() {
	records, err := parquet.ReadFile[PriceRecord](s.parquetPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			err = fmt.Errorf("%s: %w", s.parquetPath, domrepo.ErrNoData)
		}
		s.loadErr = err
		return
	}
	s.bySym = make(map[string][]PriceRecord)
	for _, r := range records {
		sym := util.UpperTrim(r.Symbol)
		s.bySym[sym] = append(s.bySym[sym], r)
	}
	for _, rs := range s.bySym {
		sort.Slice(rs, func(i, j int) bool { return rs[i].Date < rs[j].Date })
	}
}

func (s *PriceStore) fromParquet(symbol string) (*models.PriceSeries, error) {
	s.once.Do(s.load)
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	rs := s.bySym[symbol]
	if len(rs) == 0 {
		return nil, fmt.Errorf("prices for %s: %w", symbol, domrepo.ErrNoData)
	}
	ps := &models.PriceSeries{Symbol: symbol, Dates: make([]time.Time, len(rs)), Close: make([]float64, len(rs))}
	for i, r := range rs {
		ps.Dates[i] = util.Day(time.UnixMilli(r.Date))
		ps.Close[i] = r.Close
	}
	return ps, nil
}

// WritePriceParquet consolidates price series into one long-format file.
func WritePriceParquet(path string, all []*models.PriceSeries) error {
	var records []PriceRecord
	for _, ps := range all {
		sym := strings.ToUpper(ps.Symbol)
		for i, d := range ps.Dates {
			records = append(records, PriceRecord{Symbol: sym, Date: d.UnixMilli(), Close: ps.Close[i]})
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}
