package util

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ParseFloatList parses sep-separated float values. Blank items and
// non-finite values are rejected.
func ParseFloatList(s, sep string) ([]float64, error) {
	parts := strings.Split(s, sep)
	out := make([]float64, 0, len(parts))
	for i, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			return nil, fmt.Errorf("value %d is empty", i)
		}
		v, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return nil, fmt.Errorf("value %d %q is not a number", i, p)
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("value %d %q is not finite", i, p)
		}
		out = append(out, v)
	}
	return out, nil
}

// ParseFloatRows parses rowSep-separated rows of colSep-separated values.
// Rows may differ in length; callers check arity.
func ParseFloatRows(s, rowSep, colSep string) ([][]float64, error) {
	segs := strings.Split(s, rowSep)
	rows := make([][]float64, 0, len(segs))
	for i, seg := range segs {
		row, err := ParseFloatList(seg, colSep)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// ParseIntPair parses "a<sep>b" into two integers.
func ParseIntPair(s, sep string) (int, int, error) {
	a, b, ok := strings.Cut(s, sep)
	if !ok {
		return 0, 0, fmt.Errorf("expected two values separated by %q", sep)
	}
	x, err := strconv.Atoi(strings.TrimSpace(a))
	if err != nil {
		return 0, 0, fmt.Errorf("first value %q is not an integer", strings.TrimSpace(a))
	}
	y, err := strconv.Atoi(strings.TrimSpace(b))
	if err != nil {
		return 0, 0, fmt.Errorf("second value %q is not an integer", strings.TrimSpace(b))
	}
	return x, y, nil
}
