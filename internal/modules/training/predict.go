package training

import (
	"fmt"
	"sort"

	"github.com/aristath/riskscore/internal/modules/dataprep"
	"github.com/aristath/riskscore/internal/modules/scoring"
)

const (
	naiveImportanceFloor = 0.01
	naiveFactorLimit     = 5
)

// Prediction is a scored row with the transformed inputs it was scored on.
type Prediction struct {
	Result   *scoring.ScoreResult
	Row      []float64
	Warnings []dataprep.UnseenCategory
}

// PredictNaive transforms a raw row and scores it. Factors come from
// comparing each important feature with its normalized midpoint, not from
// an attribution method.
func (m *Model) PredictNaive(values []string) (*Prediction, error) {
	row, warnings, err := m.Preparer.TransformRow(values)
	if err != nil {
		return nil, fmt.Errorf("failed to transform row: %w", err)
	}
	return m.predictRow(row, warnings), nil
}

func (m *Model) predictRow(row []float64, warnings []dataprep.UnseenCategory) *Prediction {
	prob := m.Forest.PredictProba(row)
	positive, negative := m.naiveFactors(row)
	return &Prediction{
		Result:   scoring.NewScoreResult(prob, positive, negative),
		Row:      row,
		Warnings: warnings,
	}
}

func (m *Model) naiveFactors(row []float64) (positive, negative []string) {
	schema := m.Preparer.Schema()
	importances := m.Forest.Importances
	mids := m.Preparer.Midpoints()

	order := make([]int, len(importances))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return importances[order[a]] > importances[order[b]]
	})

	for _, j := range order {
		if importances[j] <= naiveImportanceFloor {
			break
		}
		label := schema.Features[j].Label
		if row[j] > mids[j] {
			if len(negative) < naiveFactorLimit {
				negative = append(negative, label+": high value")
			}
		} else if len(positive) < naiveFactorLimit {
			positive = append(positive, label+": low value")
		}
	}
	return positive, negative
}
