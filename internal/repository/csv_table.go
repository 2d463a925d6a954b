package repository

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"SignalServe/internal/domain/models"
	"SignalServe/internal/domain/repository"
)

// CSVTableLoader reads headerless numeric training files laid out as
// price, feature_1 ... feature_k, label. The price column is skipped.
type CSVTableLoader struct{}

func NewCSVTableLoader() repository.TableLoader { return CSVTableLoader{} }

func (CSVTableLoader) Load(path string) (models.FeatureTable, []float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return models.FeatureTable{}, nil, fmt.Errorf("open csv: %w", err)
	}
	defer f.Close()
	return ReadTable(f)
}

// ReadTable parses CSV records from r. Every record must have the same
// number of fields, at least three.
func ReadTable(r io.Reader) (models.FeatureTable, []float64, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.ReuseRecord = true

	var (
		rows   [][]float64
		labels []float64
		width  = -1
	)
	for line := 1; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return models.FeatureTable{}, nil, fmt.Errorf("read csv: %w", err)
		}
		if width < 0 {
			width = len(rec)
			if width < 3 {
				return models.FeatureTable{}, nil, fmt.Errorf("csv line %d: need price, features and label, got %d columns", line, width)
			}
		}
		vals := make([]float64, len(rec))
		for i, s := range rec {
			v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
			if err != nil {
				return models.FeatureTable{}, nil, fmt.Errorf("csv line %d column %d: %w", line, i+1, err)
			}
			vals[i] = v
		}
		rows = append(rows, vals[1:width-1])
		labels = append(labels, vals[width-1])
	}
	if len(rows) == 0 {
		return models.FeatureTable{}, nil, errors.New("csv has no rows")
	}
	return models.FeatureTable{Rows: rows}, labels, nil
}
