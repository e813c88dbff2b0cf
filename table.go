// Copyright (C) The Integra Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package integra

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/csimplestring/go-csv/detector"
)

const idColumn = "patient_id"

// table is a tab-separated file held as strings, so that cells we
// don't transform are written back exactly as they were read.
type table struct {
	header []string
	rows   [][]string
}

func (t *table) column(name string) int {
	for i, h := range t.header {
		if h == name {
			return i
		}
	}
	return -1
}

// index maps the values in column col to row numbers, and fails if
// a value appears twice.
func (t *table) index(col int) (map[string]int, error) {
	idx := make(map[string]int, len(t.rows))
	for i, row := range t.rows {
		if prev, dup := idx[row[col]]; dup {
			return nil, fmt.Errorf("%w: duplicate %s %q in rows %d and %d", ErrMalformedInput, t.header[col], row[col], prev+2, i+2)
		}
		idx[row[col]] = i
	}
	return idx, nil
}

// floats parses column col. Empty cells become NaN.
func (t *table) floats(col int) ([]float64, error) {
	out := make([]float64, len(t.rows))
	for i, row := range t.rows {
		v, err := parseScore(row[col])
		if err != nil {
			return nil, fmt.Errorf("%w: column %q row %d: %s", ErrMalformedInput, t.header[col], i+2, err)
		}
		out[i] = v
	}
	return out, nil
}

// dropColumns returns a copy of t without the given columns.
func (t *table) dropColumns(drop map[int]bool) *table {
	out := &table{}
	for i, h := range t.header {
		if !drop[i] {
			out.header = append(out.header, h)
		}
	}
	for _, row := range t.rows {
		outrow := make([]string, 0, len(out.header))
		for i, cell := range row {
			if !drop[i] {
				outrow = append(outrow, cell)
			}
		}
		out.rows = append(out.rows, outrow)
	}
	return out
}

func (t *table) WriteTo(w io.Writer) (int64, error) {
	cw := &countingWriter{w: w}
	tw := csv.NewWriter(cw)
	tw.Comma = '\t'
	err := tw.Write(t.header)
	if err != nil {
		return cw.n, err
	}
	err = tw.WriteAll(t.rows)
	return cw.n, err
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (cw *countingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.n += int64(n)
	return n, err
}

func readTable(fnm string) (*table, error) {
	buf, err := readFile(fnm)
	if err != nil {
		return nil, err
	}
	t, err := parseTable(buf)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", fnm, err)
	}
	return t, nil
}

// parseTable parses a tab-separated table with a header row. Every
// row must have as many fields as the header.
func parseTable(buf []byte) (*table, error) {
	records, err := readTSV(buf, -1)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: no header row", ErrMalformedInput)
	}
	t := &table{header: records[0], rows: records[1:]}
	if len(t.header) == 1 {
		if delim := determineDelimiter(buf); delim != '\t' {
			return nil, fmt.Errorf("%w: header has one column, input looks %q-delimited, expected tab-separated", ErrMalformedInput, delim)
		}
	}
	seen := map[string]bool{}
	for _, h := range t.header {
		if seen[h] {
			return nil, fmt.Errorf("%w: duplicate column name %q", ErrMalformedInput, h)
		}
		seen[h] = true
	}
	for i, row := range t.rows {
		if len(row) != len(t.header) {
			return nil, fmt.Errorf("%w: line %d has %d fields, header has %d", ErrMalformedInput, i+2, len(row), len(t.header))
		}
	}
	return t, nil
}

// readTSV returns all records in buf. If fields > 0, every record must
// have exactly that many fields.
func readTSV(buf []byte, fields int) ([][]string, error) {
	cr := csv.NewReader(bytes.NewReader(buf))
	cr.Comma = '\t'
	cr.LazyQuotes = true
	cr.FieldsPerRecord = -1
	var records [][]string
	for line := 1; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		} else if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrMalformedInput, err)
		}
		if fields > 0 && len(rec) != fields {
			return nil, fmt.Errorf("%w: line %d has %d fields, expected %d", ErrMalformedInput, line, len(rec), fields)
		}
		records = append(records, rec)
	}
	return records, nil
}

// determineDelimiter returns the most likely delimiter in the first
// lines of buf, or tab if there is no better guess.
func determineDelimiter(buf []byte) rune {
	delimiters := detector.New().DetectDelimiter(bytes.NewReader(buf), '"')
	if len(delimiters) > 0 && len(delimiters[0]) > 0 {
		return rune(delimiters[0][0])
	}
	return '\t'
}

func parseScore(s string) (float64, error) {
	s = strings.TrimSpace(s)
	switch s {
	case "", "NaN", "nan", "NA":
		return math.NaN(), nil
	}
	return strconv.ParseFloat(s, 64)
}

// formatScore writes v the way a reader expects to see a score:
// plain decimal notation for ordinary magnitudes, exponent notation
// for very large or small ones, and an empty cell for missing values.
func formatScore(v float64) string {
	if math.IsNaN(v) {
		return ""
	}
	if a := math.Abs(v); a == 0 || (a >= 1e-4 && a < 1e16) {
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// scoreMatrix is the numeric view of a score table: the first column
// holds sample IDs and every other column holds one gene's scores.
type scoreMatrix struct {
	idColumn string
	samples  []string
	genes    []string
	// values[g][s] is the score of gene g in sample s, NaN if
	// missing.
	values [][]float64
}

func newScoreMatrix(t *table) (*scoreMatrix, error) {
	if len(t.header) < 1 {
		return nil, fmt.Errorf("%w: no identifier column", ErrMalformedInput)
	}
	if _, err := t.index(0); err != nil {
		return nil, err
	}
	m := &scoreMatrix{idColumn: t.header[0], genes: t.header[1:]}
	for _, row := range t.rows {
		m.samples = append(m.samples, row[0])
	}
	for col := 1; col < len(t.header); col++ {
		vals, err := t.floats(col)
		if err != nil {
			return nil, err
		}
		m.values = append(m.values, vals)
	}
	return m, nil
}

func readScoreMatrix(fnm string) (*scoreMatrix, error) {
	t, err := readTable(fnm)
	if err != nil {
		return nil, err
	}
	m, err := newScoreMatrix(t)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", fnm, err)
	}
	return m, nil
}

func (m *scoreMatrix) table() *table {
	t := &table{header: append([]string{m.idColumn}, m.genes...)}
	for s, id := range m.samples {
		row := make([]string, 0, len(t.header))
		row = append(row, id)
		for g := range m.genes {
			row = append(row, formatScore(m.values[g][s]))
		}
		t.rows = append(t.rows, row)
	}
	return t
}

var errEmptyMatrix = fmt.Errorf("%w: score matrix has no samples or no genes", ErrMalformedInput)
