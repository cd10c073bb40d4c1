package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/urfave/cli/v3"

	"github.com/aristath/riskscore/internal/config"
	"github.com/aristath/riskscore/internal/di"
	"github.com/aristath/riskscore/internal/modules/scoring"
	"github.com/aristath/riskscore/internal/scheduler"
	"github.com/aristath/riskscore/pkg/logger"
)

const version = "1.0.0"

const (
	flagLogLevel  = "log-level"
	flagDataset   = "dataset"
	flagSynthetic = "synthetic"
	flagLoad      = "load"
)

func applicationFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "id", Usage: "Application reference; when set the score is stored in history"},
		&cli.IntFlag{Name: "age", Usage: "Applicant age in years", Required: true},
		&cli.StringFlag{Name: "profession", Usage: "Profession code (sans_emploi, non_qualifie, qualifie, cadre, independant, fonctionnaire)", Required: true},
		&cli.IntFlag{Name: "tenure", Usage: "Employment tenure in months"},
		&cli.StringFlag{Name: "income", Usage: "Monthly income", Value: "0"},
		&cli.StringFlag{Name: "debt", Usage: "Total outstanding debt", Value: "0"},
		&cli.IntFlag{Name: "defaults", Usage: "Number of past payment defaults"},
		&cli.IntFlag{Name: "dependents", Usage: "Number of dependents"},
		&cli.StringFlag{Name: "amount", Usage: "Requested loan amount"},
		&cli.IntFlag{Name: "term", Usage: "Loan term in months"},
		&cli.StringFlag{Name: "rate", Usage: "Annual interest rate in percent"},
	}
}

var errMirrorDisabled = errors.New("mirror disabled: set S3_BUCKET, S3_ACCESS_KEY_ID and S3_SECRET_ACCESS_KEY")

// stdout is where command results are written.
var stdout io.Writer = os.Stdout

func newApp() *cli.Command {
	return &cli.Command{
		Name:    "riskctl",
		Usage:   "Operate the credit risk scoring model",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    flagLogLevel,
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "warn",
				Sources: cli.EnvVars("RISKCTL_LOG_LEVEL"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "train",
				Usage: "Retrain the model and save the bundle",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:      flagDataset,
						Usage:     "Path to the german.data file (overrides DATASET_PATH)",
						TakesFile: true,
					},
					&cli.BoolFlag{
						Name:  flagSynthetic,
						Usage: "Fall back to the synthetic dataset when the file and download are unavailable",
					},
				},
				Action: cmdTrain,
			},
			{
				Name:   "score",
				Usage:  "Score a single application",
				Flags:  applicationFlags(),
				Action: cmdScore,
			},
			{
				Name:  "stats",
				Usage: "Print model statistics",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  flagLoad,
						Usage: "Load the saved bundle (training it if missing) before reporting",
					},
				},
				Action: cmdStats,
			},
			{
				Name:   "cleanup",
				Usage:  "Remove expired explanation artifacts and score history",
				Action: cmdCleanup,
			},
			{
				Name:   "maintenance",
				Usage:  "Run database integrity checks and vacuum",
				Action: cmdMaintenance,
			},
			{
				Name:   "mirror",
				Usage:  "Upload the model bundle to the configured S3 bucket",
				Action: cmdMirror,
			},
		},
	}
}

// session is the wired application for one command.
type session struct {
	cfg       *config.Config
	container *di.Container
	jobs      *di.JobInstances
	log       zerolog.Logger
}

func (r *session) Close() {
	if err := r.container.Close(); err != nil {
		r.log.Warn().Err(err).Msg("Failed to close database")
	}
}

// setup loads configuration, applies overrides and wires dependencies.
func setup(ctx context.Context, cmd *cli.Command, override func(*config.Config)) (*session, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if override != nil {
		override(cfg)
	}

	log := logger.New(logger.Config{
		Level:  cmd.Root().String(flagLogLevel),
		Pretty: true,
		Output: os.Stderr,
	})

	container, jobs, err := di.Wire(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	return &session{cfg: cfg, container: container, jobs: jobs, log: log}, nil
}

func cmdTrain(ctx context.Context, cmd *cli.Command) error {
	rt, err := setup(ctx, cmd, func(cfg *config.Config) {
		if path := cmd.String(flagDataset); path != "" {
			cfg.Dataset.Path = path
		}
		if cmd.Bool(flagSynthetic) {
			cfg.Dataset.AllowSynthetic = true
		}
	})
	if err != nil {
		return err
	}
	defer rt.Close()

	start := time.Now()
	if err := rt.container.ModelManager.Train(ctx); err != nil {
		return err
	}
	rt.log.Info().Dur("duration", time.Since(start)).Str("model_dir", rt.cfg.Model.Dir).Msg("Model trained")

	return printJSON(rt.container.ModelManager.Stats())
}

func cmdScore(ctx context.Context, cmd *cli.Command) error {
	app, err := applicationFromFlags(cmd)
	if err != nil {
		return err
	}

	rt, err := setup(ctx, cmd, func(cfg *config.Config) {
		// A CLI score always loads the bundle on demand
		cfg.Model.AutoLoad = true
	})
	if err != nil {
		return err
	}
	defer rt.Close()

	out, err := rt.container.ModelManager.Score(ctx, app)
	if err != nil {
		return err
	}
	if id := cmd.String("id"); id != "" {
		rt.container.ModelManager.Record(ctx, id, out)
	}
	return printJSON(out)
}

func cmdStats(ctx context.Context, cmd *cli.Command) error {
	rt, err := setup(ctx, cmd, nil)
	if err != nil {
		return err
	}
	defer rt.Close()

	if cmd.Bool(flagLoad) {
		if err := rt.container.ModelManager.Load(ctx, false); err != nil {
			return err
		}
	}
	return printJSON(rt.container.ModelManager.Stats())
}

func cmdCleanup(ctx context.Context, cmd *cli.Command) error {
	rt, err := setup(ctx, cmd, nil)
	if err != nil {
		return err
	}
	defer rt.Close()

	return runJobs(rt, rt.jobs.ArtifactCleanup, rt.jobs.HistoryCleanup)
}

func cmdMaintenance(ctx context.Context, cmd *cli.Command) error {
	rt, err := setup(ctx, cmd, nil)
	if err != nil {
		return err
	}
	defer rt.Close()

	return runJobs(rt, rt.jobs.WALCheckpoint, rt.jobs.Maintenance)
}

func cmdMirror(ctx context.Context, cmd *cli.Command) error {
	rt, err := setup(ctx, cmd, nil)
	if err != nil {
		return err
	}
	defer rt.Close()

	if rt.jobs.ModelMirror == nil {
		return errMirrorDisabled
	}
	return runJobs(rt, rt.jobs.ModelMirror)
}

// runJobs runs jobs in order through the scheduler, skipping nil ones.
func runJobs(rt *session, jobs ...scheduler.Job) error {
	for _, job := range jobs {
		if job == nil {
			continue
		}
		if err := rt.container.Scheduler.RunNow(job); err != nil {
			return fmt.Errorf("%s: %w", job.Name(), err)
		}
		fmt.Fprintf(stdout, "%s: ok\n", job.Name())
	}
	return nil
}

// applicationFromFlags builds and validates an application from score flags.
func applicationFromFlags(cmd *cli.Command) (*scoring.Application, error) {
	app := &scoring.Application{
		Age:                    cmd.Int("age"),
		Profession:             cmd.String("profession"),
		EmploymentTenureMonths: cmd.Int("tenure"),
		PaymentDefaults:        cmd.Int("defaults"),
		Dependents:             cmd.Int("dependents"),
	}

	var err error
	if app.MonthlyIncome, err = parseDecimal("income", cmd.String("income")); err != nil {
		return nil, err
	}
	if app.TotalDebt, err = parseDecimal("debt", cmd.String("debt")); err != nil {
		return nil, err
	}
	if v := cmd.String("amount"); v != "" {
		amount, err := parseDecimal("amount", v)
		if err != nil {
			return nil, err
		}
		app.LoanAmount = &amount
	}
	if v := cmd.String("rate"); v != "" {
		rate, err := parseDecimal("rate", v)
		if err != nil {
			return nil, err
		}
		app.InterestRate = &rate
	}
	if cmd.IsSet("term") {
		term := cmd.Int("term")
		app.LoanTermMonths = &term
	}

	if err := app.Validate(); err != nil {
		return nil, err
	}
	return app, nil
}

func parseDecimal(flag, value string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, fmt.Errorf("--%s: %q is not a number", flag, value)
	}
	return d, nil
}

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(stdout, string(data))
	return err
}
