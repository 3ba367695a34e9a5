// Package tabular reads and writes the flat artifacts of the data tree:
// CSV and CSV.GZ with a header row, and 2-space indented JSON (optionally gzipped).
// Writes go through a temp file and rename so readers never see partial output.
package tabular

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// Table is a header plus string rows. Rows may be ragged; missing cells read as "".
type Table struct {
	Header []string
	Rows   [][]string
}

func NewTable(header ...string) *Table {
	return &Table{Header: header}
}

func (t *Table) Append(row ...string) {
	t.Rows = append(t.Rows, row)
}

func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// ColIndex finds a column by exact name first, then case-insensitively. -1 if absent.
func (t *Table) ColIndex(name string) int {
	if t == nil {
		return -1
	}
	for i, h := range t.Header {
		if h == name {
			return i
		}
	}
	for i, h := range t.Header {
		if strings.EqualFold(h, name) {
			return i
		}
	}
	return -1
}

// FirstCol returns the index of the first candidate column present, or -1.
func (t *Table) FirstCol(names ...string) int {
	for _, n := range names {
		if i := t.ColIndex(n); i >= 0 {
			return i
		}
	}
	return -1
}

func (t *Table) Cell(row, col int) string {
	if col < 0 || row < 0 || row >= len(t.Rows) || col >= len(t.Rows[row]) {
		return ""
	}
	return strings.TrimSpace(t.Rows[row][col])
}

// Value reads a cell by column name.
func (t *Table) Value(row int, name string) string {
	return t.Cell(row, t.ColIndex(name))
}

// Record maps header to cell for one row.
func (t *Table) Record(row int) map[string]string {
	out := make(map[string]string, len(t.Header))
	for i, h := range t.Header {
		out[h] = t.Cell(row, i)
	}
	return out
}

// IsNotExist reports whether err came from a missing input file.
func IsNotExist(err error) bool {
	return errors.Is(err, os.ErrNotExist)
}

func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func openReader(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	if !strings.HasSuffix(strings.ToLower(path), ".gz") {
		return f, nil
	}
	gz, err := gzip.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("gzip %s: %w", path, err)
	}
	return &gzipReadCloser{Reader: gz, file: f}, nil
}

type gzipReadCloser struct {
	*gzip.Reader
	file *os.File
}

func (g *gzipReadCloser) Close() error {
	err := g.Reader.Close()
	if cerr := g.file.Close(); err == nil {
		err = cerr
	}
	return err
}

// ReadCSV loads a CSV or CSV.GZ file. A missing file returns an error matching IsNotExist.
func ReadCSV(path string) (*Table, error) {
	r, err := openReader(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	t, err := DecodeCSV(r)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return t, nil
}

func DecodeCSV(r io.Reader) (*Table, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.ReuseRecord = false

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return &Table{}, nil
	}
	if err != nil {
		return nil, err
	}
	for i, h := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
	}

	t := &Table{Header: header}
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if len(rec) == 1 && strings.TrimSpace(rec[0]) == "" {
			continue
		}
		t.Rows = append(t.Rows, rec)
	}
	return t, nil
}

func EncodeCSV(w io.Writer, t *Table) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Header); err != nil {
		return err
	}
	if err := cw.WriteAll(t.Rows); err != nil {
		return err
	}
	return cw.Error()
}

// WriteCSV writes header and rows, gzipping when the path ends in .gz.
// An empty table still produces its header line.
func WriteCSV(path string, t *Table) error {
	var buf bytes.Buffer
	if err := EncodeCSV(&buf, t); err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return WriteFile(path, buf.Bytes())
}

// ReadJSON decodes a JSON or JSON.GZ file into v.
func ReadJSON(path string, v any) error {
	r, err := openReader(path)
	if err != nil {
		return err
	}
	defer r.Close()
	if err := json.NewDecoder(r).Decode(v); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// MarshalJSON renders v with 2-space indent and without HTML escaping.
func MarshalJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func WriteJSON(path string, v any) error {
	b, err := MarshalJSON(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return WriteFile(path, b)
}

// WriteFile atomically replaces path with data, gzipping for .gz paths.
func WriteFile(path string, data []byte) error {
	if strings.HasSuffix(strings.ToLower(path), ".gz") {
		var buf bytes.Buffer
		gz := gzip.NewWriter(&buf)
		if _, err := gz.Write(data); err != nil {
			return fmt.Errorf("gzip %s: %w", path, err)
		}
		if err := gz.Close(); err != nil {
			return fmt.Errorf("gzip %s: %w", path, err)
		}
		data = buf.Bytes()
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", path, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}
