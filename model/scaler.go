package model

import (
	"encoding/json"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/docutag/phishguard/features"
)

type scalerJSON struct {
	Columns []string  `json:"columns"`
	Mean    []float64 `json:"mean"`
	Scale   []float64 `json:"scale"`
}

// Scaler standardizes feature rows with the training mean and scale.
// A nil Scaler is the identity.
type Scaler struct {
	mean  []float64
	scale []float64
}

// ParseScaler decodes the scaler artifact into the column schema used by the
// assembler and the standardization parameters.
func ParseScaler(data []byte) (*features.Schema, *Scaler, error) {
	var raw scalerJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, nil, fmt.Errorf("failed to decode scaler: %w", err)
	}
	if len(raw.Mean) == 0 {
		return nil, nil, fmt.Errorf("scaler has no mean vector")
	}
	if len(raw.Columns) > 0 && len(raw.Columns) != len(raw.Mean) {
		return nil, nil, fmt.Errorf("scaler has %d columns but %d means", len(raw.Columns), len(raw.Mean))
	}
	if len(raw.Scale) > 0 && len(raw.Scale) != len(raw.Mean) {
		return nil, nil, fmt.Errorf("scaler has %d scale entries but %d means", len(raw.Scale), len(raw.Mean))
	}

	s := &Scaler{
		mean:  make([]float64, len(raw.Mean)),
		scale: make([]float64, len(raw.Mean)),
	}
	for i, m := range raw.Mean {
		if !finite(m) {
			return nil, nil, fmt.Errorf("scaler mean %d is not finite", i)
		}
		s.mean[i] = m
		s.scale[i] = 1
		if len(raw.Scale) > 0 {
			sc := raw.Scale[i]
			if !finite(sc) {
				return nil, nil, fmt.Errorf("scaler scale %d is not finite", i)
			}
			if sc != 0 {
				s.scale[i] = sc
			}
		}
	}

	var schema *features.Schema
	if len(raw.Columns) > 0 {
		schema = &features.Schema{
			Columns: append([]string(nil), raw.Columns...),
			Means:   append([]float64(nil), raw.Mean...),
		}
	}
	return schema, s, nil
}

// Width returns the expected row width, or 0 for the identity scaler.
func (s *Scaler) Width() int {
	if s == nil {
		return 0
	}
	return len(s.mean)
}

// Transform standardizes rows into a dense matrix. Every row must have the
// same width, and that width must match the scaler unless it is the identity.
func (s *Scaler) Transform(rows [][]float64) (*mat.Dense, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("no rows to scale")
	}
	width := len(rows[0])
	if width == 0 {
		return nil, fmt.Errorf("rows are empty")
	}
	if s.Width() > 0 && width != s.Width() {
		return nil, fmt.Errorf("row width %d does not match scaler width %d", width, s.Width())
	}

	flat := make([]float64, 0, len(rows)*width)
	for i, row := range rows {
		if len(row) != width {
			return nil, fmt.Errorf("row %d has width %d, want %d", i, len(row), width)
		}
		for j, v := range row {
			if s != nil {
				v = (v - s.mean[j]) / s.scale[j]
			}
			flat = append(flat, v)
		}
	}
	return mat.NewDense(len(rows), width, flat), nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
