package scoring

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrInvalidApplication is returned for out-of-range fields and bad overrides.
var ErrInvalidApplication = errors.New("invalid application")

// Profession values accepted by the mapping table. Other values are passed
// through to the model and hit the unseen-category fallback.
const (
	ProfessionUnemployed   = "sans_emploi"
	ProfessionUnskilled    = "non_qualifie"
	ProfessionSkilled      = "qualifie"
	ProfessionManager      = "cadre"
	ProfessionSelfEmployed = "independant"
	ProfessionCivilServant = "fonctionnaire"
)

// Application is the client data sent for scoring. Money fields are decimals.
type Application struct {
	Age                    int             `json:"age"`
	Profession             string          `json:"profession"`
	EmploymentTenureMonths int             `json:"employment_tenure_months"`
	MonthlyIncome          decimal.Decimal `json:"monthly_income"`
	TotalDebt              decimal.Decimal `json:"total_debt"`
	PaymentDefaults        int             `json:"payment_defaults"`
	Dependents             int             `json:"dependents"`

	LoanAmount     *decimal.Decimal `json:"loan_amount,omitempty"`
	LoanTermMonths *int             `json:"loan_term_months,omitempty"`
	InterestRate   *decimal.Decimal `json:"interest_rate,omitempty"` // annual, percent
}

// Validate checks field ranges.
func (a *Application) Validate() error {
	var problems []error
	if a.Age < 18 || a.Age > 100 {
		problems = append(problems, fmt.Errorf("age must be between 18 and 100, got %d", a.Age))
	}
	if a.Profession == "" {
		problems = append(problems, errors.New("profession is required"))
	}
	if a.EmploymentTenureMonths < 0 {
		problems = append(problems, errors.New("employment_tenure_months must be >= 0"))
	}
	if a.MonthlyIncome.IsNegative() {
		problems = append(problems, errors.New("monthly_income must be >= 0"))
	}
	if a.TotalDebt.IsNegative() {
		problems = append(problems, errors.New("total_debt must be >= 0"))
	}
	if a.PaymentDefaults < 0 {
		problems = append(problems, errors.New("payment_defaults must be >= 0"))
	}
	if a.Dependents < 0 {
		problems = append(problems, errors.New("dependents must be >= 0"))
	}
	if a.LoanAmount != nil && !a.LoanAmount.IsPositive() {
		problems = append(problems, errors.New("loan_amount must be > 0"))
	}
	if a.LoanTermMonths != nil && *a.LoanTermMonths <= 0 {
		problems = append(problems, errors.New("loan_term_months must be > 0"))
	}
	if a.InterestRate != nil && a.InterestRate.IsNegative() {
		problems = append(problems, errors.New("interest_rate must be >= 0"))
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidApplication, errors.Join(problems...))
	}
	return nil
}
