package main

import (
	"bytes"
	"context"
	"testing"

	"github.com/aristath/riskscore/internal/modules/scoring"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v3"
)

// parseApplication runs the score flags through a bare command.
func parseApplication(t *testing.T, args ...string) (*scoring.Application, error) {
	t.Helper()
	var (
		app      *scoring.Application
		parseErr error
	)
	cmd := &cli.Command{
		Name:  "score",
		Flags: applicationFlags(),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			app, parseErr = applicationFromFlags(cmd)
			return nil
		},
	}
	if err := cmd.Run(context.Background(), append([]string{"score"}, args...)); err != nil {
		return nil, err
	}
	return app, parseErr
}

// captureStdout redirects command output for the duration of a test.
func captureStdout(t *testing.T) *bytes.Buffer {
	t.Helper()
	buf := &bytes.Buffer{}
	prev := stdout
	stdout = buf
	t.Cleanup(func() { stdout = prev })
	return buf
}

func TestApplicationFromFlags(t *testing.T) {
	app, err := parseApplication(t,
		"--age", "45",
		"--profession", scoring.ProfessionManager,
		"--tenure", "60",
		"--income", "5000",
		"--debt", "10000",
		"--dependents", "2",
		"--amount", "12000.50",
		"--term", "36",
		"--rate", "4.5",
	)
	require.NoError(t, err)

	assert.Equal(t, 45, app.Age)
	assert.Equal(t, scoring.ProfessionManager, app.Profession)
	assert.Equal(t, 60, app.EmploymentTenureMonths)
	assert.True(t, decimal.NewFromInt(5000).Equal(app.MonthlyIncome))
	assert.True(t, decimal.NewFromInt(10000).Equal(app.TotalDebt))
	assert.Equal(t, 0, app.PaymentDefaults)
	assert.Equal(t, 2, app.Dependents)
	require.NotNil(t, app.LoanAmount)
	assert.Equal(t, "12000.5", app.LoanAmount.String())
	require.NotNil(t, app.LoanTermMonths)
	assert.Equal(t, 36, *app.LoanTermMonths)
	require.NotNil(t, app.InterestRate)
	assert.Equal(t, "4.5", app.InterestRate.String())
}

func TestApplicationFromFlags_OptionalLoanFields(t *testing.T) {
	app, err := parseApplication(t, "--age", "30", "--profession", scoring.ProfessionSkilled)
	require.NoError(t, err)

	assert.True(t, app.MonthlyIncome.IsZero())
	assert.Nil(t, app.LoanAmount)
	assert.Nil(t, app.LoanTermMonths)
	assert.Nil(t, app.InterestRate)
}

func TestApplicationFromFlags_Errors(t *testing.T) {
	_, err := parseApplication(t, "--age", "30", "--profession", "qualifie", "--income", "lots")
	assert.ErrorContains(t, err, "--income")

	_, err = parseApplication(t, "--age", "12", "--profession", "qualifie")
	assert.ErrorIs(t, err, scoring.ErrInvalidApplication)

	_, err = parseApplication(t, "--age", "30", "--profession", "qualifie", "--term", "0")
	assert.ErrorIs(t, err, scoring.ErrInvalidApplication)

	_, err = parseApplication(t, "--age", "30")
	assert.Error(t, err, "profession is required")
}

func TestApp_Commands(t *testing.T) {
	app := newApp()

	names := make([]string, 0, len(app.Commands))
	for _, c := range app.Commands {
		names = append(names, c.Name)
	}
	assert.Equal(t, []string{"train", "score", "stats", "cleanup", "maintenance", "mirror"}, names)
}

func TestApp_Cleanup(t *testing.T) {
	t.Setenv("RISK_DATA_DIR", t.TempDir())
	out := captureStdout(t)

	require.NoError(t, newApp().Run(context.Background(), []string{"riskctl", "cleanup"}))
	assert.Contains(t, out.String(), "artifact_cleanup: ok")
	assert.Contains(t, out.String(), "score_history_cleanup: ok")
}

func TestApp_StatsWithoutLoad(t *testing.T) {
	t.Setenv("RISK_DATA_DIR", t.TempDir())
	out := captureStdout(t)

	require.NoError(t, newApp().Run(context.Background(), []string{"riskctl", "stats"}))
	assert.Contains(t, out.String(), `"state": "unloaded"`)
	assert.Contains(t, out.String(), `"loaded": false`)
}

func TestApp_MirrorDisabled(t *testing.T) {
	t.Setenv("RISK_DATA_DIR", t.TempDir())
	t.Setenv("S3_BUCKET", "")

	err := newApp().Run(context.Background(), []string{"riskctl", "mirror"})
	assert.ErrorIs(t, err, errMirrorDisabled)
}
