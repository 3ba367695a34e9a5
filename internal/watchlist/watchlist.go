// Package watchlist reads symbol lists in TXT or CSV form.
package watchlist

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strings"

	"RiskPull/pkg/tabular"
)

// Clean canonicalizes one entry: the first whitespace separated token, upper
// case, with trailing "#" or "//" comments and anything after the first comma
// removed.
func Clean(s string) string {
	for _, sep := range []string{"#", "//", ","} {
		if i := strings.Index(s, sep); i >= 0 {
			s = s[:i]
		}
	}
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return strings.ToUpper(fields[0])
}

// Normalize cleans, dedupes and sorts symbols.
func Normalize(raw []string) []string {
	seen := make(map[string]struct{}, len(raw))
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		s := Clean(r)
		if s == "" || s == "SYMBOL" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Load reads a watchlist. CSV files use the symbol column, else the first one.
// A missing file yields an empty list.
func Load(path string) ([]string, error) {
	if path == "" {
		return []string{}, nil
	}
	if strings.HasSuffix(strings.ToLower(path), ".csv") {
		t, err := tabular.ReadCSV(path)
		if err != nil {
			if tabular.IsNotExist(err) {
				return []string{}, nil
			}
			return nil, fmt.Errorf("read watchlist: %w", err)
		}
		col := t.ColIndex("symbol")
		if col < 0 {
			col = 0
		}
		raw := make([]string, 0, t.Len())
		for r := range t.Rows {
			raw = append(raw, t.Cell(r, col))
		}
		return Normalize(raw), nil
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("read watchlist: %w", err)
	}
	defer f.Close()

	var raw []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		raw = append(raw, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read watchlist: %w", err)
	}
	return Normalize(raw), nil
}
