// Package dataset provides the tabular representation shared by the training
// stages and the prediction path.
package dataset

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
)

// Frame is an immutable table of string cells with named columns.
type Frame struct {
	columns []string
	index   map[string]int
	rows    [][]string
}

// NewFrame copies columns and rows into a frame. Every row must have one cell
// per column and column names must be unique.
func NewFrame(columns []string, rows [][]string) (*Frame, error) {
	if len(columns) == 0 {
		return nil, errors.New("at least one column is required")
	}
	index := make(map[string]int, len(columns))
	cols := make([]string, len(columns))
	for i, c := range columns {
		c = strings.TrimSpace(c)
		if c == "" {
			return nil, fmt.Errorf("column %d has an empty name", i)
		}
		if _, dup := index[c]; dup {
			return nil, fmt.Errorf("duplicate column %q", c)
		}
		index[c] = i
		cols[i] = c
	}
	copied := make([][]string, len(rows))
	for i, row := range rows {
		if len(row) != len(cols) {
			return nil, fmt.Errorf("row %d has %d cells, want %d", i, len(row), len(cols))
		}
		copied[i] = append([]string(nil), row...)
	}
	return &Frame{columns: cols, index: index, rows: copied}, nil
}

// FromRecord builds a one-row frame from a column -> value map, ordering
// columns as given.
func FromRecord(columns []string, record map[string]string) (*Frame, error) {
	row := make([]string, len(columns))
	for i, c := range columns {
		v, ok := record[c]
		if !ok {
			return nil, fmt.Errorf("record is missing column %q", c)
		}
		row[i] = v
	}
	return NewFrame(columns, [][]string{row})
}

func (f *Frame) Columns() []string {
	return append([]string(nil), f.columns...)
}

func (f *Frame) Len() int {
	return len(f.rows)
}

func (f *Frame) Has(column string) bool {
	_, ok := f.index[column]
	return ok
}

// Column returns a copy of the named column.
func (f *Frame) Column(name string) ([]string, error) {
	i, ok := f.index[name]
	if !ok {
		return nil, fmt.Errorf("unknown column %q", name)
	}
	out := make([]string, len(f.rows))
	for r, row := range f.rows {
		out[r] = row[i]
	}
	return out, nil
}

// Row returns a copy of row r.
func (f *Frame) Row(r int) []string {
	return append([]string(nil), f.rows[r]...)
}

// Drop returns a frame without the named columns. Unknown names are ignored.
func (f *Frame) Drop(names ...string) *Frame {
	drop := make(map[string]bool, len(names))
	for _, n := range names {
		drop[n] = true
	}
	keep := make([]int, 0, len(f.columns))
	cols := make([]string, 0, len(f.columns))
	for i, c := range f.columns {
		if !drop[c] {
			keep = append(keep, i)
			cols = append(cols, c)
		}
	}
	rows := make([][]string, len(f.rows))
	for r, row := range f.rows {
		out := make([]string, len(keep))
		for j, i := range keep {
			out[j] = row[i]
		}
		rows[r] = out
	}
	index := make(map[string]int, len(cols))
	for i, c := range cols {
		index[c] = i
	}
	return &Frame{columns: cols, index: index, rows: rows}
}

func (f *Frame) take(indices []int) *Frame {
	rows := make([][]string, len(indices))
	for j, i := range indices {
		rows[j] = f.rows[i]
	}
	return &Frame{columns: f.columns, index: f.index, rows: rows}
}

// Split shuffles rows with a fixed seed and returns (train, test). The same
// frame, ratio and seed always yield the same split.
func Split(f *Frame, testRatio float64, seed uint64) (*Frame, *Frame, error) {
	if f == nil {
		return nil, nil, errors.New("frame is required")
	}
	if testRatio <= 0 || testRatio >= 1 {
		return nil, nil, fmt.Errorf("test ratio must be in (0, 1), got %v", testRatio)
	}
	n := f.Len()
	if n < 2 {
		return nil, nil, fmt.Errorf("need at least 2 rows to split, got %d", n)
	}
	perm := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)).Perm(n)
	nTest := int(float64(n)*testRatio + 0.5)
	if nTest < 1 {
		nTest = 1
	}
	if nTest >= n {
		nTest = n - 1
	}
	return f.take(perm[nTest:]), f.take(perm[:nTest]), nil
}
