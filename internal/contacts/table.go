package contacts

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Table is a parsed contact file: a header row plus data rows.
type Table struct {
	Columns []string
	Rows    []Row
}

// Row is one data row. Index is 0-based over the data rows of the table.
type Row struct {
	Index  int
	Values map[string]any
}

// Get returns the cell for column, or nil.
func (r Row) Get(column string) any {
	if r.Values == nil {
		return nil
	}
	return r.Values[column]
}

// HasColumn reports whether the table has a column named name.
func (t *Table) HasColumn(name string) bool {
	for _, c := range t.Columns {
		if c == name {
			return true
		}
	}
	return false
}

// Sample returns up to n values per column, taken from the first rows.
func (t *Table) Sample(n int) map[string][]any {
	if n <= 0 || n > len(t.Rows) {
		n = len(t.Rows)
	}
	out := make(map[string][]any, len(t.Columns))
	for _, c := range t.Columns {
		vals := make([]any, 0, n)
		for _, r := range t.Rows[:n] {
			vals = append(vals, r.Get(c))
		}
		out[c] = vals
	}
	return out
}

// ReadTable parses a local CSV or spreadsheet file.
// Unknown extensions yield a *FormatError, read failures a *ParseError.
func ReadTable(ctx context.Context, path string) (*Table, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ext := strings.ToLower(filepath.Ext(path))
	var (
		records [][]string
		err     error
	)
	switch ext {
	case ".csv", ".txt":
		records, err = readCSV(path)
	case ".xlsx", ".xlsm":
		records, err = readWorkbook(path)
	default:
		return nil, &FormatError{Path: path, Ext: ext}
	}
	if err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}
	if len(records) == 0 {
		return nil, &ParseError{Path: path, Err: errors.New("no header row")}
	}
	return buildTable(records), nil
}

func readCSV(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	// Spreadsheet exports often carry a UTF-8 BOM or are UTF-16 encoded.
	dec := unicode.BOMOverride(unicode.UTF8.NewDecoder())
	r := csv.NewReader(transform.NewReader(f, dec))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.TrimLeadingSpace = true

	var out [][]string
	for {
		rec, err := r.Read()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
}

func readWorkbook(path string) ([][]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.New("workbook has no sheets")
	}
	return f.GetRows(sheets[0], excelize.Options{RawCellValue: true})
}

func buildTable(records [][]string) *Table {
	cols := headerNames(records[0])
	t := &Table{Columns: cols}
	rows := records[1:]
	// trailing blank rows are formatting residue; blank rows inside the data
	// are kept so they are rejected at their own line
	for len(rows) > 0 && blankRecord(rows[len(rows)-1]) {
		rows = rows[:len(rows)-1]
	}
	for i, rec := range rows {
		vals := make(map[string]any, len(cols))
		for i, c := range cols {
			var cell string
			if i < len(rec) {
				cell = rec[i]
			}
			vals[c] = typeCell(cell)
		}
		t.Rows = append(t.Rows, Row{Index: i, Values: vals})
	}
	return t
}

// headerNames fills blank names and disambiguates duplicates the way
// dataframe libraries do ("Unnamed: 2", "phone.1").
func headerNames(raw []string) []string {
	out := make([]string, len(raw))
	used := make(map[string]bool, len(raw))
	for i, h := range raw {
		h = strings.TrimSpace(h)
		if h == "" {
			h = "Unnamed: " + strconv.Itoa(i)
		}
		name := h
		for n := 1; used[name]; n++ {
			name = fmt.Sprintf("%s.%d", h, n)
		}
		used[name] = true
		out[i] = name
	}
	return out
}

func blankRecord(rec []string) bool {
	for _, c := range rec {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// typeCell maps a raw cell to nil (empty), float64 (scientific notation or a
// whole number rendered with ".0") or string.
func typeCell(s string) any {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if scientificPattern.MatchString(s) || wholeFloatPattern.MatchString(s) {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	}
	return s
}

func isEmptyCell(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(x) == ""
	case float64:
		return math.IsNaN(x)
	case float32:
		return math.IsNaN(float64(x))
	}
	return false
}
