package scoring

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/goccy/go-json"
)

// Scenario is a named set of field overrides applied on top of a base application.
type Scenario struct {
	Name               string                     `json:"name,omitempty"`
	Description        string                     `json:"description,omitempty"`
	ParameterOverrides map[string]json.RawMessage `json:"parameter_overrides"`
}

// NameOr returns the scenario name, or "Scenario <n>" when unnamed.
func (s Scenario) NameOr(n int) string {
	if s.Name != "" {
		return s.Name
	}
	return fmt.Sprintf("Scenario %d", n)
}

var applicationFields = map[string]bool{
	"age":                      true,
	"profession":               true,
	"employment_tenure_months": true,
	"monthly_income":           true,
	"total_debt":               true,
	"payment_defaults":         true,
	"dependents":               true,
	"loan_amount":              true,
	"loan_term_months":         true,
	"interest_rate":            true,
}

// ApplyOverrides returns a copy of base with overrides applied, plus the
// sorted list of overridden field names. Unknown fields, mistyped values,
// and results that fail validation are ErrInvalidApplication.
func ApplyOverrides(base Application, overrides map[string]json.RawMessage) (*Application, []string, error) {
	fields := make([]string, 0, len(overrides))
	for name := range overrides {
		if !applicationFields[name] {
			return nil, nil, fmt.Errorf("%w: unknown override field %q", ErrInvalidApplication, name)
		}
		fields = append(fields, name)
	}
	sort.Strings(fields)

	raw, err := json.Marshal(base)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode base application: %w", err)
	}
	merged := map[string]json.RawMessage{}
	if err := json.Unmarshal(raw, &merged); err != nil {
		return nil, nil, fmt.Errorf("failed to decode base application: %w", err)
	}
	for name, value := range overrides {
		merged[name] = value
	}

	raw, err = json.Marshal(merged)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidApplication, err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()

	var out Application
	if err := dec.Decode(&out); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidApplication, err)
	}
	if err := out.Validate(); err != nil {
		return nil, nil, err
	}
	return &out, fields, nil
}

// ScenarioRef identifies a scored scenario in a comparison.
type ScenarioRef struct {
	ScenarioID     int            `json:"scenario_id"`
	ScenarioName   string         `json:"scenario_name"`
	RiskScore      float64        `json:"risk_score"`
	Recommendation Recommendation `json:"recommendation"`
}

// Comparison picks the lowest- and highest-risk scenarios.
type Comparison struct {
	Best     ScenarioRef `json:"best"`
	Worst    ScenarioRef `json:"worst"`
	ScoreGap float64     `json:"score_gap"`
}

// Compare returns the best (lowest score) and worst (highest score)
// scenarios; ties keep the first occurrence. It returns nil for no input.
func Compare(refs []ScenarioRef) *Comparison {
	if len(refs) == 0 {
		return nil
	}
	best, worst := refs[0], refs[0]
	for _, r := range refs[1:] {
		if r.RiskScore < best.RiskScore {
			best = r
		}
		if r.RiskScore > worst.RiskScore {
			worst = r
		}
	}
	return &Comparison{Best: best, Worst: worst, ScoreGap: worst.RiskScore - best.RiskScore}
}
