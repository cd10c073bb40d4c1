package explain

import (
	"fmt"
	"sort"

	"github.com/aristath/riskscore/internal/artifacts"
)

// Contribution is the attribution of one feature.
type Contribution struct {
	Feature         string  `json:"feature"`
	Label           string  `json:"label"`
	Value           float64 `json:"value"` // transformed model input
	RawValue        string  `json:"raw_value,omitempty"`
	Contribution    float64 `json:"contribution"`
	ContributionAbs float64 `json:"contribution_abs"`
}

// Factor is a contribution presented for a reader.
type Factor struct {
	Feature     string  `json:"feature"`
	Value       float64 `json:"value"`
	RawValue    string  `json:"raw_value,omitempty"`
	Impact      float64 `json:"impact"`
	Description string  `json:"description"`
}

// Explanation attributes one prediction. Positive factors lower the risk.
type Explanation struct {
	BaseValue          float64        `json:"base_value"`
	Prediction         float64        `json:"prediction"`
	ContributionsTotal float64        `json:"contributions_total"`
	PositiveFactors    []Factor       `json:"positive_factors"`
	NegativeFactors    []Factor       `json:"negative_factors"`
	Contributions      []Contribution `json:"contributions"`
}

// FeatureImportance is a feature's mean absolute attribution.
type FeatureImportance struct {
	Feature             string  `json:"feature"`
	Label               string  `json:"label"`
	MeanAbsContribution float64 `json:"mean_abs_contribution"`
}

// Describe renders "<label>: <interpretation>" from the transformed value.
func Describe(label string, value float64) string {
	interpretation := "average value"
	switch {
	case value > 1:
		interpretation = "high value"
	case value < -1:
		interpretation = "low value"
	}
	return fmt.Sprintf("%s: %s", label, interpretation)
}

// ranked returns contributions by |contribution| descending, ties in schema order.
func ranked(contributions []Contribution) []Contribution {
	out := append([]Contribution(nil), contributions...)
	sort.SliceStable(out, func(a, b int) bool {
		return out[a].ContributionAbs > out[b].ContributionAbs
	})
	return out
}

// splitFactors keeps the top n contributions and splits them by sign: a
// negative contribution lowers the risk and is a positive factor.
func splitFactors(contributions []Contribution, n int) (positive, negative []Factor) {
	positive, negative = []Factor{}, []Factor{}
	top := ranked(contributions)
	if len(top) > n {
		top = top[:n]
	}
	for _, c := range top {
		f := Factor{
			Feature:     c.Feature,
			Value:       c.Value,
			RawValue:    c.RawValue,
			Impact:      c.ContributionAbs,
			Description: Describe(c.Label, c.Value),
		}
		if c.Contribution < 0 {
			positive = append(positive, f)
		} else {
			negative = append(negative, f)
		}
	}
	return positive, negative
}

// Descriptions returns up to n factor descriptions from each list.
func (e *Explanation) Descriptions(n int) (positive, negative []string) {
	positive, negative = []string{}, []string{}
	for i, f := range e.PositiveFactors {
		if i == n {
			break
		}
		positive = append(positive, f.Description)
	}
	for i, f := range e.NegativeFactors {
		if i == n {
			break
		}
		negative = append(negative, f.Description)
	}
	return positive, negative
}

// Persist writes the explanation as JSON atomically.
func Persist(expl *Explanation, path string) error {
	if err := artifacts.WriteJSON(path, expl); err != nil {
		return fmt.Errorf("%w: %v", ErrExplanation, err)
	}
	return nil
}

// Restore reads an explanation written by Persist.
func Restore(path string) (*Explanation, error) {
	var expl Explanation
	if err := artifacts.ReadJSON(path, &expl); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExplanation, err)
	}
	return &expl, nil
}
