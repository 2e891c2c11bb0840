package engine

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// NameColumn is the mandatory scenario table column holding scenario names.
const NameColumn = "name"

type columnKind int

const (
	kindInt columnKind = iota
	kindFloat
	kindBool
	kindString
)

// ParseScenarioTable reads a CSV scenario table with a header row. Each data
// row becomes one parameter map keyed by column. Column types are inferred
// over the whole column: integer, then float, then boolean, falling back to
// string. Empty cells become nil. The name column is always a string.
func ParseScenarioTable(data []byte) ([]map[string]any, error) {
	data = bytes.TrimPrefix(data, []byte("\ufeff"))
	r := csv.NewReader(bytes.NewReader(data))
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: scenario table is empty", ErrMalformedInput)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read header: %v", ErrMalformedInput, err)
	}

	nameIdx := -1
	seen := make(map[string]bool, len(header))
	for i, h := range header {
		h = strings.TrimSpace(h)
		header[i] = h
		if h == "" {
			return nil, fmt.Errorf("%w: column %d has no header", ErrMalformedInput, i+1)
		}
		if seen[h] {
			return nil, fmt.Errorf("%w: duplicate column %q", ErrMalformedInput, h)
		}
		seen[h] = true
		if h == NameColumn {
			nameIdx = i
		}
	}
	if nameIdx < 0 {
		return nil, fmt.Errorf("%w: scenario table has no %q column", ErrMalformedInput, NameColumn)
	}

	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedInput, err)
	}

	kinds := make([]columnKind, len(header))
	for col := range header {
		if col == nameIdx {
			kinds[col] = kindString
			continue
		}
		kinds[col] = inferKind(records, col)
	}

	rows := make([]map[string]any, 0, len(records))
	for _, rec := range records {
		row := make(map[string]any, len(header))
		for col, h := range header {
			row[h] = convert(strings.TrimSpace(rec[col]), kinds[col], col == nameIdx)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func inferKind(records [][]string, col int) columnKind {
	for kind := kindInt; kind < kindString; kind++ {
		if columnFits(records, col, kind) {
			return kind
		}
	}
	return kindString
}

func columnFits(records [][]string, col int, kind columnKind) bool {
	for _, rec := range records {
		if cell := strings.TrimSpace(rec[col]); cell != "" && !fits(cell, kind) {
			return false
		}
	}
	return true
}

func fits(cell string, kind columnKind) bool {
	switch kind {
	case kindInt:
		_, err := strconv.ParseInt(cell, 10, 64)
		return err == nil
	case kindFloat:
		_, err := strconv.ParseFloat(cell, 64)
		return err == nil
	case kindBool:
		_, ok := parseBool(cell)
		return ok
	default:
		return true
	}
}

func convert(cell string, kind columnKind, keepEmpty bool) any {
	if cell == "" && !keepEmpty {
		return nil
	}
	switch kind {
	case kindInt:
		v, _ := strconv.ParseInt(cell, 10, 64)
		return v
	case kindFloat:
		v, _ := strconv.ParseFloat(cell, 64)
		return v
	case kindBool:
		v, _ := parseBool(cell)
		return v
	default:
		return cell
	}
}

func parseBool(cell string) (bool, bool) {
	switch strings.ToLower(cell) {
	case "true":
		return true, true
	case "false":
		return false, true
	default:
		return false, false
	}
}
