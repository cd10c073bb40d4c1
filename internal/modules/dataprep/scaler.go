package dataprep

import (
	"fmt"

	"github.com/aristath/riskscore/pkg/formulas"
)

// Scaler standardizes numeric features with the population mean and standard deviation.
type Scaler struct {
	Features []string  `json:"features"`
	Mean     []float64 `json:"mean"`
	Std      []float64 `json:"std"`
}

// FitScaler learns per-column statistics. columns[i] holds every value of Features[i].
func FitScaler(features []string, columns [][]float64) (*Scaler, error) {
	if len(features) != len(columns) {
		return nil, fmt.Errorf("scaler: %d features but %d columns", len(features), len(columns))
	}

	s := &Scaler{
		Features: append([]string(nil), features...),
		Mean:     make([]float64, len(features)),
		Std:      make([]float64, len(features)),
	}
	for i, col := range columns {
		mean, std := formulas.PopMeanStdDev(col)
		// Constant columns scale by 1 so they map to zero instead of NaN
		if std == 0 {
			std = 1
		}
		s.Mean[i] = mean
		s.Std[i] = std
	}
	return s, nil
}

// Apply scales x as feature i.
func (s *Scaler) Apply(i int, x float64) float64 {
	return (x - s.Mean[i]) / s.Std[i]
}

// Inverse maps a scaled value of feature i back to its raw scale.
func (s *Scaler) Inverse(i int, z float64) float64 {
	return z*s.Std[i] + s.Mean[i]
}

func (s *Scaler) validate() error {
	if len(s.Mean) != len(s.Features) || len(s.Std) != len(s.Features) {
		return fmt.Errorf("%w: scaler has inconsistent lengths", ErrSchemaMismatch)
	}
	for i, std := range s.Std {
		if std == 0 {
			return fmt.Errorf("%w: scaler std for %s is zero", ErrSchemaMismatch, s.Features[i])
		}
	}
	return nil
}
