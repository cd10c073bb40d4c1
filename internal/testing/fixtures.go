package testing

import (
	"github.com/aristath/riskscore/internal/modules/scoring"
	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"
)

// ReferenceApplication returns a stable, low-risk applicant used across tests.
func ReferenceApplication() *scoring.Application {
	return &scoring.Application{
		Age:                    45,
		Profession:             scoring.ProfessionManager,
		EmploymentTenureMonths: 60,
		MonthlyIncome:          decimal.NewFromInt(5000),
		TotalDebt:              decimal.NewFromInt(10000),
		PaymentDefaults:        0,
		Dependents:             2,
	}
}

// StrainedApplication returns an applicant with defaults, debt and a short tenure.
func StrainedApplication() *scoring.Application {
	amount := decimal.NewFromInt(15000)
	term := 48
	rate := decimal.NewFromFloat(9.5)
	return &scoring.Application{
		Age:                    22,
		Profession:             scoring.ProfessionUnskilled,
		EmploymentTenureMonths: 3,
		MonthlyIncome:          decimal.NewFromInt(1200),
		TotalDebt:              decimal.NewFromInt(8000),
		PaymentDefaults:        2,
		Dependents:             3,
		LoanAmount:             &amount,
		LoanTermMonths:         &term,
		InterestRate:           &rate,
	}
}

// ScenarioFixtures returns what-if scenarios over the reference applicant.
func ScenarioFixtures() []scoring.Scenario {
	return []scoring.Scenario{
		{
			Name:               "Higher income",
			ParameterOverrides: map[string]json.RawMessage{"monthly_income": json.RawMessage(`8000`)},
		},
		{
			Name:               "Two defaults",
			Description:        "Same applicant after two missed payments",
			ParameterOverrides: map[string]json.RawMessage{"payment_defaults": json.RawMessage(`2`)},
		},
	}
}
