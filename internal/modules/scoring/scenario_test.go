package scoring

import (
	"testing"

	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyOverrides(t *testing.T) {
	base := sampleApplication()
	out, fields, err := ApplyOverrides(base, map[string]json.RawMessage{
		"monthly_income":   json.RawMessage(`8000`),
		"loan_amount":      json.RawMessage(`"20000.50"`),
		"loan_term_months": json.RawMessage(`36`),
		"age":              json.RawMessage(`50`),
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"age", "loan_amount", "loan_term_months", "monthly_income"}, fields)
	assert.Equal(t, 50, out.Age)
	assert.True(t, out.MonthlyIncome.Equal(decimal.NewFromInt(8000)))
	require.NotNil(t, out.LoanAmount)
	assert.Equal(t, "20000.5", out.LoanAmount.String())
	require.NotNil(t, out.LoanTermMonths)
	assert.Equal(t, 36, *out.LoanTermMonths)

	// base is untouched
	assert.Equal(t, 45, base.Age)
	assert.Nil(t, base.LoanAmount)
	assert.Equal(t, ProfessionManager, out.Profession)
}

func TestApplyOverrides_Errors(t *testing.T) {
	base := sampleApplication()

	_, _, err := ApplyOverrides(base, map[string]json.RawMessage{"salary": json.RawMessage(`1`)})
	assert.ErrorIs(t, err, ErrInvalidApplication)

	_, _, err = ApplyOverrides(base, map[string]json.RawMessage{"age": json.RawMessage(`"old"`)})
	assert.ErrorIs(t, err, ErrInvalidApplication)

	_, _, err = ApplyOverrides(base, map[string]json.RawMessage{"age": json.RawMessage(`12`)})
	assert.ErrorIs(t, err, ErrInvalidApplication)
}

func TestApplyOverrides_Empty(t *testing.T) {
	out, fields, err := ApplyOverrides(sampleApplication(), nil)
	require.NoError(t, err)
	assert.Empty(t, fields)
	assert.Equal(t, 45, out.Age)
}

func TestScenarioNameOr(t *testing.T) {
	assert.Equal(t, "Scenario 3", Scenario{}.NameOr(3))
	assert.Equal(t, "Bigger loan", Scenario{Name: "Bigger loan"}.NameOr(3))
}

func TestCompare(t *testing.T) {
	assert.Nil(t, Compare(nil))

	refs := []ScenarioRef{
		{ScenarioID: 1, RiskScore: 40},
		{ScenarioID: 2, RiskScore: 20},
		{ScenarioID: 3, RiskScore: 80},
		{ScenarioID: 4, RiskScore: 20},
		{ScenarioID: 5, RiskScore: 80},
	}
	c := Compare(refs)
	require.NotNil(t, c)
	assert.Equal(t, 2, c.Best.ScenarioID, "first occurrence wins ties")
	assert.Equal(t, 3, c.Worst.ScenarioID, "first occurrence wins ties")
	assert.InDelta(t, 60.0, c.ScoreGap, 1e-12)

	single := Compare(refs[:1])
	assert.Equal(t, 1, single.Best.ScenarioID)
	assert.Equal(t, 1, single.Worst.ScenarioID)
	assert.Zero(t, single.ScoreGap)
}
