// Package score holds the postal-prefix livability score table.
package score

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"house_hunter/internal/domain"
)

const prefixLen = 4

// Columns names the CSV header fields the table is read from.
type Columns struct {
	Prefix string
	Score  string
	// Year is optional; when present only the latest year's rows are kept.
	Year string
}

// DefaultColumns matches the published livability score files.
var DefaultColumns = Columns{Prefix: "PC4", Score: "afw", Year: "jaar"}

// Table maps a 4-digit postal prefix to a score. It is immutable after
// Load and safe for concurrent lookups.
type Table struct {
	scores  map[string]float64
	skipped int
	year    int
}

// LoadFile opens path and loads it with the given columns.
func LoadFile(path string, cols Columns) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", domain.ErrScoreTableLoad, path, err)
	}
	defer f.Close()

	return Load(f, cols)
}

// Load reads a CSV with a header row. Rows with an unusable prefix or score
// are skipped. Duplicate prefixes resolve to the last row read.
func Load(r io.Reader, cols Columns) (*Table, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: empty source", domain.ErrScoreTableLoad)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read header: %v", domain.ErrScoreTableLoad, err)
	}

	prefixIdx, scoreIdx, yearIdx := -1, -1, -1
	for i, name := range header {
		name = strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))
		switch {
		case strings.EqualFold(name, cols.Prefix):
			prefixIdx = i
		case strings.EqualFold(name, cols.Score):
			scoreIdx = i
		case cols.Year != "" && strings.EqualFold(name, cols.Year):
			yearIdx = i
		}
	}
	if prefixIdx < 0 || scoreIdx < 0 {
		return nil, fmt.Errorf("%w: header %v lacks %q or %q", domain.ErrScoreTableLoad, header, cols.Prefix, cols.Score)
	}

	type row struct {
		prefix string
		score  float64
		year   int
	}
	var rows []row
	skipped := 0
	latest := 0

	for {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: read row: %v", domain.ErrScoreTableLoad, err)
		}

		prefix, ok := normalizePrefix(field(rec, prefixIdx))
		if !ok {
			skipped++
			continue
		}
		score, err := strconv.ParseFloat(strings.Replace(field(rec, scoreIdx), ",", ".", 1), 64)
		if err != nil || math.IsNaN(score) || math.IsInf(score, 0) {
			skipped++
			continue
		}
		year := 0
		if yearIdx >= 0 {
			year, err = strconv.Atoi(field(rec, yearIdx))
			if err != nil {
				skipped++
				continue
			}
			if year > latest {
				latest = year
			}
		}
		rows = append(rows, row{prefix: prefix, score: score, year: year})
	}

	t := &Table{scores: make(map[string]float64, len(rows)), skipped: skipped, year: latest}
	for _, r := range rows {
		if r.year != latest {
			continue
		}
		t.scores[r.prefix] = r.score
	}
	return t, nil
}

// Lookup returns the score for the first four characters of zip.
func (t *Table) Lookup(zip string) (float64, bool) {
	zip = strings.TrimSpace(zip)
	if len(zip) < prefixLen {
		return 0, false
	}
	score, ok := t.scores[zip[:prefixLen]]
	return score, ok
}

func (t *Table) Len() int { return len(t.scores) }

// Skipped is the number of rows dropped as unusable.
func (t *Table) Skipped() int { return t.skipped }

// Year is the data year kept, or 0 when the source has no year column.
func (t *Table) Year() int { return t.year }

// New builds a table directly from prefix/score pairs.
func New(scores map[string]float64) *Table {
	t := &Table{scores: make(map[string]float64, len(scores))}
	for k, v := range scores {
		if prefix, ok := normalizePrefix(k); ok {
			t.scores[prefix] = v
		}
	}
	return t
}

// normalizePrefix accepts exactly four digits; numeric exports that dropped
// a leading zero ("982") are padded back.
func normalizePrefix(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" || len(s) > prefixLen {
		return "", false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return "", false
		}
	}
	return strings.Repeat("0", prefixLen-len(s)) + s, true
}

func field(rec []string, idx int) string {
	if idx >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[idx])
}
