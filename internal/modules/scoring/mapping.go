package scoring

import (
	"fmt"
	"strconv"

	"github.com/aristath/riskscore/internal/modules/dataprep"
	"github.com/shopspring/decimal"
)

// Mapping defaults. The application carries only part of what the model was
// trained on; the remaining features take the dataset's most neutral codes.
const (
	defaultIncome         = 2000
	defaultTermMonths     = 24
	defaultInstallment    = 2
	loanToIncomeMultiple  = 3
	defaultCheckingStatus = "A14"
	defaultPurpose        = "A43"
	defaultSavings        = "A61"
	defaultPersonalStatus = "A93"
	defaultOtherDebtors   = "A101"
	defaultResidenceYears = 2
	defaultProperty       = "A121"
	defaultOtherPlans     = "A143"
	defaultHousing        = "A152"
	defaultTelephone      = "A191"
	defaultForeignWorker  = "A201"
)

var professionCodes = map[string]string{
	ProfessionUnemployed:   "A171",
	ProfessionUnskilled:    "A172",
	ProfessionSkilled:      "A173",
	ProfessionCivilServant: "A173",
	ProfessionManager:      "A174",
	ProfessionSelfEmployed: "A174",
}

// CreditFeatures is an application expressed in the model's feature space.
type CreditFeatures struct {
	CheckingStatus        string          `json:"checking_status"`
	DurationMonths        int             `json:"duration_months"`
	CreditHistory         string          `json:"credit_history"`
	Purpose               string          `json:"purpose"`
	CreditAmount          decimal.Decimal `json:"credit_amount"`
	Savings               string          `json:"savings"`
	EmploymentSince       string          `json:"employment_since"`
	InstallmentRate       int             `json:"installment_rate"`
	PersonalStatus        string          `json:"personal_status"`
	OtherDebtors          string          `json:"other_debtors"`
	ResidenceSince        int             `json:"residence_since"`
	Property              string          `json:"property"`
	Age                   int             `json:"age"`
	OtherInstallmentPlans string          `json:"other_installment_plans"`
	Housing               string          `json:"housing"`
	ExistingCredits       int             `json:"existing_credits"`
	Job                   string          `json:"job"`
	Dependents            int             `json:"dependents"`
	Telephone             string          `json:"telephone"`
	ForeignWorker         string          `json:"foreign_worker"`
}

type binding struct {
	kind dataprep.Kind
	get  func(*CreditFeatures) string
}

func itoa(v int) string { return strconv.Itoa(v) }

// bindings ties every CreditFeatures field to a schema feature by name.
var bindings = map[string]binding{
	"checking_status":         {dataprep.Categorical, func(c *CreditFeatures) string { return c.CheckingStatus }},
	"duration_months":         {dataprep.Numeric, func(c *CreditFeatures) string { return itoa(c.DurationMonths) }},
	"credit_history":          {dataprep.Categorical, func(c *CreditFeatures) string { return c.CreditHistory }},
	"purpose":                 {dataprep.Categorical, func(c *CreditFeatures) string { return c.Purpose }},
	"credit_amount":           {dataprep.Numeric, func(c *CreditFeatures) string { return c.CreditAmount.String() }},
	"savings":                 {dataprep.Categorical, func(c *CreditFeatures) string { return c.Savings }},
	"employment_since":        {dataprep.Categorical, func(c *CreditFeatures) string { return c.EmploymentSince }},
	"installment_rate":        {dataprep.Numeric, func(c *CreditFeatures) string { return itoa(c.InstallmentRate) }},
	"personal_status":         {dataprep.Categorical, func(c *CreditFeatures) string { return c.PersonalStatus }},
	"other_debtors":           {dataprep.Categorical, func(c *CreditFeatures) string { return c.OtherDebtors }},
	"residence_since":         {dataprep.Numeric, func(c *CreditFeatures) string { return itoa(c.ResidenceSince) }},
	"property":                {dataprep.Categorical, func(c *CreditFeatures) string { return c.Property }},
	"age":                     {dataprep.Numeric, func(c *CreditFeatures) string { return itoa(c.Age) }},
	"other_installment_plans": {dataprep.Categorical, func(c *CreditFeatures) string { return c.OtherInstallmentPlans }},
	"housing":                 {dataprep.Categorical, func(c *CreditFeatures) string { return c.Housing }},
	"existing_credits":        {dataprep.Numeric, func(c *CreditFeatures) string { return itoa(c.ExistingCredits) }},
	"job":                     {dataprep.Categorical, func(c *CreditFeatures) string { return c.Job }},
	"dependents":              {dataprep.Numeric, func(c *CreditFeatures) string { return itoa(c.Dependents) }},
	"telephone":               {dataprep.Categorical, func(c *CreditFeatures) string { return c.Telephone }},
	"foreign_worker":          {dataprep.Categorical, func(c *CreditFeatures) string { return c.ForeignWorker }},
}

// ValidateMapping checks that every schema feature has a binding of the
// same kind and that no binding is left over.
func ValidateMapping(schema dataprep.Schema) error {
	if schema.Len() != len(bindings) {
		return fmt.Errorf("%w: schema has %d features, mapping covers %d", dataprep.ErrSchemaMismatch, schema.Len(), len(bindings))
	}
	for _, f := range schema.Features {
		b, ok := bindings[f.Name]
		if !ok {
			return fmt.Errorf("%w: no mapping for feature %q", dataprep.ErrSchemaMismatch, f.Name)
		}
		if b.kind != f.Kind {
			return fmt.Errorf("%w: feature %q is %s but mapped as %s", dataprep.ErrSchemaMismatch, f.Name, f.Kind, b.kind)
		}
	}
	return nil
}

// Values returns the raw feature values in schema order.
func (c *CreditFeatures) Values(schema dataprep.Schema) ([]string, error) {
	values := make([]string, schema.Len())
	for i, f := range schema.Features {
		b, ok := bindings[f.Name]
		if !ok {
			return nil, fmt.Errorf("%w: no mapping for feature %q", dataprep.ErrSchemaMismatch, f.Name)
		}
		values[i] = b.get(c)
	}
	return values, nil
}

// MapApplication translates client fields into model features. app must
// have passed Validate.
func MapApplication(app *Application) *CreditFeatures {
	job, ok := professionCodes[app.Profession]
	if !ok {
		job = app.Profession
	}

	term := defaultTermMonths
	if app.LoanTermMonths != nil && *app.LoanTermMonths > 0 {
		term = *app.LoanTermMonths
	}

	income := app.MonthlyIncome
	if income.IsZero() {
		income = decimal.NewFromInt(defaultIncome)
	}
	amount := income.Mul(decimal.NewFromInt(loanToIncomeMultiple))
	if app.LoanAmount != nil {
		amount = *app.LoanAmount
	}

	history := "A30"
	if app.PaymentDefaults > 0 {
		history = "A34"
	}

	credits := 0
	if app.TotalDebt.IsPositive() {
		credits = 1
	}

	return &CreditFeatures{
		CheckingStatus:        defaultCheckingStatus,
		DurationMonths:        term,
		CreditHistory:         history,
		Purpose:               defaultPurpose,
		CreditAmount:          amount,
		Savings:               defaultSavings,
		EmploymentSince:       tenureBucket(app.EmploymentTenureMonths),
		InstallmentRate:       installmentRate(amount, term, app.InterestRate, app.MonthlyIncome),
		PersonalStatus:        defaultPersonalStatus,
		OtherDebtors:          defaultOtherDebtors,
		ResidenceSince:        defaultResidenceYears,
		Property:              defaultProperty,
		Age:                   app.Age,
		OtherInstallmentPlans: defaultOtherPlans,
		Housing:               defaultHousing,
		ExistingCredits:       credits,
		Job:                   job,
		Dependents:            app.Dependents,
		Telephone:             defaultTelephone,
		ForeignWorker:         defaultForeignWorker,
	}
}

func tenureBucket(months int) string {
	switch {
	case months <= 0:
		return "A71"
	case months < 12:
		return "A72"
	case months < 48:
		return "A73"
	case months < 84:
		return "A74"
	default:
		return "A75"
	}
}

// MonthlyPayment returns the annuity payment for amount over term months at
// an annual percentage rate.
func MonthlyPayment(amount decimal.Decimal, term int, annualRate decimal.Decimal) decimal.Decimal {
	n := decimal.NewFromInt(int64(term))
	r := annualRate.Div(decimal.NewFromInt(1200))
	if r.IsZero() {
		return amount.Div(n)
	}
	growth := decimal.NewFromInt(1).Add(r).Pow(n)
	return amount.Mul(r).Mul(growth).Div(growth.Sub(decimal.NewFromInt(1)))
}

// installmentRate buckets the payment-to-income share into the dataset's
// 1-4 scale. It needs both a rate and a positive income.
func installmentRate(amount decimal.Decimal, term int, rate *decimal.Decimal, income decimal.Decimal) int {
	if rate == nil || !income.IsPositive() || term <= 0 {
		return defaultInstallment
	}
	share := MonthlyPayment(amount, term, *rate).Div(income)
	switch {
	case share.LessThan(decimal.NewFromFloat(0.10)):
		return 1
	case share.LessThan(decimal.NewFromFloat(0.20)):
		return 2
	case share.LessThan(decimal.NewFromFloat(0.30)):
		return 3
	default:
		return 4
	}
}
