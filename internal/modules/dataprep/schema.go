// Package dataprep loads the credit dataset and owns the fitted transforms
// (categorical encoders and numeric scaler) shared by training and inference.
package dataprep

import "fmt"

// Kind tags a feature as categorical or numeric.
type Kind string

const (
	Categorical Kind = "categorical"
	Numeric     Kind = "numeric"
)

// LabelColumn is the header name of the label in delimited files with a header row.
const LabelColumn = "target"

// Label values after remapping the raw {1,2} encoding.
const (
	LabelGood = 0
	LabelBad  = 1
)

// Feature describes one model input.
type Feature struct {
	Name  string `json:"name"`
	Kind  Kind   `json:"kind"`
	Label string `json:"label"` // human-readable name used in explanations

	// Synthetic generation hints
	Vocabulary []string `json:"-"`
	Min        int      `json:"-"`
	Max        int      `json:"-"`
}

// Schema is the ordered feature list the model was fitted on.
type Schema struct {
	Features []Feature `json:"features"`
}

// Names returns feature names in schema order.
func (s Schema) Names() []string {
	names := make([]string, len(s.Features))
	for i, f := range s.Features {
		names[i] = f.Name
	}
	return names
}

// Len returns the number of features.
func (s Schema) Len() int {
	return len(s.Features)
}

// Index returns the position of the named feature, or -1.
func (s Schema) Index(name string) int {
	for i, f := range s.Features {
		if f.Name == name {
			return i
		}
	}
	return -1
}

// Feature returns the named feature.
func (s Schema) Feature(name string) (Feature, bool) {
	if i := s.Index(name); i >= 0 {
		return s.Features[i], true
	}
	return Feature{}, false
}

// ByKind returns the names of features of the given kind, in schema order.
func (s Schema) ByKind(kind Kind) []string {
	var names []string
	for _, f := range s.Features {
		if f.Kind == kind {
			names = append(names, f.Name)
		}
	}
	return names
}

// Validate checks for empty or duplicate names and unknown kinds.
func (s Schema) Validate() error {
	if len(s.Features) == 0 {
		return fmt.Errorf("%w: empty schema", ErrSchemaMismatch)
	}
	seen := make(map[string]bool, len(s.Features))
	for _, f := range s.Features {
		if f.Name == "" {
			return fmt.Errorf("%w: feature with empty name", ErrSchemaMismatch)
		}
		if seen[f.Name] {
			return fmt.Errorf("%w: duplicate feature %q", ErrSchemaMismatch, f.Name)
		}
		if f.Kind != Categorical && f.Kind != Numeric {
			return fmt.Errorf("%w: feature %q has unknown kind %q", ErrSchemaMismatch, f.Name, f.Kind)
		}
		seen[f.Name] = true
	}
	return nil
}

// Equal reports whether two schemas have the same names and kinds in the same order.
func (s Schema) Equal(other Schema) bool {
	if len(s.Features) != len(other.Features) {
		return false
	}
	for i := range s.Features {
		if s.Features[i].Name != other.Features[i].Name || s.Features[i].Kind != other.Features[i].Kind {
			return false
		}
	}
	return true
}

func codes(prefix string, from, to int) []string {
	out := make([]string, 0, to-from+1)
	for i := from; i <= to; i++ {
		out = append(out, fmt.Sprintf("%s%d", prefix, i))
	}
	return out
}

// GermanCredit returns the canonical 20-feature schema of the Statlog German
// credit dataset, in file column order.
func GermanCredit() Schema {
	return Schema{Features: []Feature{
		{Name: "checking_status", Kind: Categorical, Label: "Checking account status", Vocabulary: codes("A", 11, 14)},
		{Name: "duration_months", Kind: Numeric, Label: "Loan duration (months)", Min: 4, Max: 71},
		{Name: "credit_history", Kind: Categorical, Label: "Credit history", Vocabulary: codes("A", 30, 34)},
		{Name: "purpose", Kind: Categorical, Label: "Loan purpose", Vocabulary: append(codes("A", 40, 49), "A410")},
		{Name: "credit_amount", Kind: Numeric, Label: "Credit amount", Min: 250, Max: 9999},
		{Name: "savings", Kind: Categorical, Label: "Savings", Vocabulary: codes("A", 61, 65)},
		{Name: "employment_since", Kind: Categorical, Label: "Employment tenure", Vocabulary: codes("A", 71, 75)},
		{Name: "installment_rate", Kind: Numeric, Label: "Installment rate (% of income)", Min: 1, Max: 3},
		{Name: "personal_status", Kind: Categorical, Label: "Marital status and sex", Vocabulary: codes("A", 91, 94)},
		{Name: "other_debtors", Kind: Categorical, Label: "Other debtors or guarantors", Vocabulary: codes("A", 101, 103)},
		{Name: "residence_since", Kind: Numeric, Label: "Years at current residence", Min: 1, Max: 3},
		{Name: "property", Kind: Categorical, Label: "Property", Vocabulary: codes("A", 121, 124)},
		{Name: "age", Kind: Numeric, Label: "Age", Min: 19, Max: 74},
		{Name: "other_installment_plans", Kind: Categorical, Label: "Other installment plans", Vocabulary: codes("A", 141, 143)},
		{Name: "housing", Kind: Categorical, Label: "Housing", Vocabulary: codes("A", 151, 153)},
		{Name: "existing_credits", Kind: Numeric, Label: "Existing credits", Min: 1, Max: 3},
		{Name: "job", Kind: Categorical, Label: "Job", Vocabulary: codes("A", 171, 174)},
		{Name: "dependents", Kind: Numeric, Label: "Dependents", Min: 1, Max: 1},
		{Name: "telephone", Kind: Categorical, Label: "Telephone", Vocabulary: codes("A", 191, 192)},
		{Name: "foreign_worker", Kind: Categorical, Label: "Foreign worker", Vocabulary: codes("A", 201, 202)},
	}}
}
