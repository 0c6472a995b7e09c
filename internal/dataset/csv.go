package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"gonum.org/v1/gonum/mat"

	"github.com/animus-labs/propensity/internal/platform/fsutil"
)

// ReadCSV parses a header row followed by data rows.
func ReadCSV(r io.Reader) (*Frame, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("csv is empty")
		}
		return nil, fmt.Errorf("read header: %w", err)
	}
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read rows: %w", err)
	}
	return NewFrame(header, rows)
}

func ReadCSVFile(path string) (*Frame, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	frame, err := ReadCSV(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return frame, nil
}

func (f *Frame) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(f.columns); err != nil {
		return err
	}
	if err := cw.WriteAll(f.rows); err != nil {
		return err
	}
	return cw.Error()
}

// WriteCSVFile writes the frame atomically.
func (f *Frame) WriteCSVFile(path string) error {
	return fsutil.WriteAtomic(path, 0o644, f.WriteCSV)
}

// WriteMatrixFile stores a feature matrix with its label vector appended as
// the last column, one row per sample.
func WriteMatrixFile(path string, x *mat.Dense, y []float64) error {
	rows, cols := x.Dims()
	if len(y) != rows {
		return fmt.Errorf("label count %d does not match %d rows", len(y), rows)
	}
	return fsutil.WriteAtomic(path, 0o644, func(w io.Writer) error {
		cw := csv.NewWriter(w)
		record := make([]string, cols+1)
		for r := 0; r < rows; r++ {
			for c := 0; c < cols; c++ {
				record[c] = strconv.FormatFloat(x.At(r, c), 'g', -1, 64)
			}
			record[cols] = strconv.FormatFloat(y[r], 'g', -1, 64)
			if err := cw.Write(record); err != nil {
				return err
			}
		}
		cw.Flush()
		return cw.Error()
	})
}

// ReadMatrixFile is the inverse of WriteMatrixFile.
func ReadMatrixFile(path string) (*mat.Dense, []float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = f.Close() }()
	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}
	if len(records) == 0 {
		return nil, nil, fmt.Errorf("%s: matrix is empty", path)
	}
	cols := len(records[0]) - 1
	if cols < 1 {
		return nil, nil, fmt.Errorf("%s: matrix needs at least one feature column", path)
	}
	data := make([]float64, 0, len(records)*cols)
	y := make([]float64, len(records))
	for r, rec := range records {
		for c, cell := range rec {
			v, err := strconv.ParseFloat(cell, 64)
			if err != nil {
				return nil, nil, fmt.Errorf("%s: row %d col %d: %w", path, r, c, err)
			}
			if c == cols {
				y[r] = v
			} else {
				data = append(data, v)
			}
		}
	}
	return mat.NewDense(len(records), cols, data), y, nil
}
