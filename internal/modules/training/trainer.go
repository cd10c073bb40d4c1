// Package training prepares the credit dataset, fits and tunes the forest,
// evaluates it, and persists the model bundle.
package training

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aristath/riskscore/internal/metrics"
	"github.com/aristath/riskscore/internal/modules/dataprep"
	"github.com/aristath/riskscore/internal/modules/forest"
	"github.com/aristath/riskscore/pkg/formulas"
	"github.com/rs/zerolog"
)

var (
	// ErrNotTrained is returned when an operation needs a fitted model.
	ErrNotTrained = errors.New("model not trained")
	// ErrTraining wraps any failure during prepare, fit, tune, evaluate or save.
	ErrTraining = errors.New("training failed")
)

// Config configures a Trainer.
type Config struct {
	Loader       dataprep.LoaderConfig
	Schema       dataprep.Schema
	TestFraction float64 // default 0.2
	Seed         uint64  // default 42
	Folds        int     // default 5
	Grid         *Grid   // nil uses DefaultGrid
}

func (c Config) withDefaults() Config {
	if c.TestFraction <= 0 {
		c.TestFraction = 0.2
	}
	if c.Seed == 0 {
		c.Seed = 42
	}
	if c.Folds < 2 {
		c.Folds = 5
	}
	if c.Schema.Len() == 0 {
		c.Schema = dataprep.GermanCredit()
	}
	if c.Grid == nil {
		g := DefaultGrid()
		c.Grid = &g
	}
	return c
}

// Trainer runs the training pipeline. It holds mutable pipeline state and
// is not safe for concurrent use; callers serialize runs.
type Trainer struct {
	cfg Config
	log zerolog.Logger

	preparer     *dataprep.Preparer
	split        *dataprep.SplitResult
	source       dataprep.Source
	classWeights forest.ClassWeights

	baseline    *forest.Forest
	baselineAUC float64
	model       *forest.Forest
	params      forest.Params
	gridResults []GridResult
	bestCVAUC   float64
	evaluation  *Metrics
	trainedAt   time.Time
}

// NewTrainer creates a trainer.
func NewTrainer(cfg Config, log zerolog.Logger) *Trainer {
	return &Trainer{
		cfg: cfg.withDefaults(),
		log: log.With().Str("component", "trainer").Logger(),
	}
}

// Prepare loads the dataset from path (or the configured path when empty),
// fits the transforms, splits 80/20 stratified, and computes balanced
// class weights on the training rows.
func (t *Trainer) Prepare(ctx context.Context, path string) error {
	loaderCfg := t.cfg.Loader
	if path != "" {
		loaderCfg.Path = path
	}
	loader := dataprep.NewLoader(loaderCfg, t.cfg.Schema, t.log)

	table, source, err := loader.Load(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTraining, err)
	}

	preparer := dataprep.NewPreparer(t.cfg.Schema, t.log)
	X, y, err := preparer.FitTransform(table)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTraining, err)
	}

	split, err := dataprep.Split(X, y, t.cfg.TestFraction, t.cfg.Seed)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTraining, err)
	}

	t.preparer = preparer
	t.split = split
	t.source = source
	t.classWeights = forest.Balanced(split.YTrain)

	good, bad := table.ClassCounts()
	t.log.Info().
		Str("source", string(source)).
		Int("rows", len(table.Records)).
		Int("good", good).
		Int("bad", bad).
		Int("train", len(split.XTrain)).
		Int("test", len(split.XTest)).
		Floats64("class_weights", t.classWeights[:]).
		Msg("Data prepared")
	return nil
}

func (t *Trainer) requirePrepared() error {
	if t.split == nil || t.preparer == nil {
		return fmt.Errorf("%w: data not prepared", ErrTraining)
	}
	return nil
}

// TrainBaseline fits the fixed baseline configuration and reports its
// held-out ROC-AUC. The baseline becomes the current model until Tune.
func (t *Trainer) TrainBaseline(ctx context.Context) (float64, error) {
	if err := t.requirePrepared(); err != nil {
		return 0, err
	}

	params := BaselineParams(t.cfg.Seed)
	model, err := forest.Fit(ctx, t.split.XTrain, t.split.YTrain, params, t.classWeights)
	if err != nil {
		return 0, fmt.Errorf("%w: baseline: %w", ErrTraining, err)
	}
	auc, err := formulas.ROCAUC(model.PredictProbaBatch(t.split.XTest), toBool(t.split.YTest))
	if err != nil {
		return 0, fmt.Errorf("%w: baseline: %w", ErrTraining, err)
	}

	t.baseline = model
	t.baselineAUC = auc
	t.model = model
	t.params = params
	t.trainedAt = time.Now()

	t.log.Info().Float64("roc_auc", auc).Str("params", params.String()).Msg("Baseline trained")
	return auc, nil
}

// Baseline returns the baseline model, if trained.
func (t *Trainer) Baseline() *forest.Forest {
	return t.baseline
}

// Tune cross-validates every grid cell with stratified k-fold ROC-AUC and
// refits the best one on the whole training split.
func (t *Trainer) Tune(ctx context.Context) ([]GridResult, error) {
	if err := t.requirePrepared(); err != nil {
		return nil, err
	}

	cells := t.cfg.Grid.Expand(t.cfg.Seed)
	if len(cells) == 0 {
		return nil, fmt.Errorf("%w: empty parameter grid", ErrTraining)
	}

	start := time.Now()
	t.log.Info().Int("cells", len(cells)).Int("folds", t.cfg.Folds).Msg("Starting grid search")

	results, best, err := searchGrid(ctx, t.split.XTrain, t.split.YTrain, cells, t.cfg.Folds)
	if err != nil {
		return nil, fmt.Errorf("%w: grid search: %w", ErrTraining, err)
	}

	params := results[best].Params
	model, err := forest.Fit(ctx, t.split.XTrain, t.split.YTrain, params, t.classWeights)
	if err != nil {
		return nil, fmt.Errorf("%w: refit: %w", ErrTraining, err)
	}

	t.model = model
	t.params = params
	t.gridResults = results
	t.bestCVAUC = results[best].MeanAUC
	t.trainedAt = time.Now()

	t.log.Info().
		Str("best_params", params.String()).
		Float64("cv_roc_auc", results[best].MeanAUC).
		Dur("elapsed", time.Since(start)).
		Msg("Grid search complete")
	return results, nil
}

// Evaluate scores the current model on the held-out split and
// cross-validates its parameters on the training split.
func (t *Trainer) Evaluate(ctx context.Context) (*Metrics, error) {
	if t.model == nil {
		return nil, ErrNotTrained
	}
	if t.split == nil {
		return nil, fmt.Errorf("%w: no evaluation data, call Prepare", ErrNotTrained)
	}

	probs := t.model.PredictProbaBatch(t.split.XTest)
	preds := make([]int, len(probs))
	for i, p := range probs {
		if p > 0.5 {
			preds[i] = 1
		}
	}

	auc, err := formulas.ROCAUC(probs, toBool(t.split.YTest))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTraining, err)
	}
	cvScores, err := crossValidate(ctx, t.split.XTrain, t.split.YTrain, t.params, t.cfg.Folds)
	if err != nil {
		return nil, fmt.Errorf("%w: cross-validation: %w", ErrTraining, err)
	}
	cvMean, cvStd := formulas.PopMeanStdDev(cvScores)

	cm := confusionMatrix(t.split.YTest, preds)
	schema := t.preparer.Schema()
	labels := make([]string, schema.Len())
	for i, f := range schema.Features {
		labels[i] = f.Label
	}

	m := &Metrics{
		ClassificationReport: classificationReport(cm),
		ConfusionMatrix:      cm,
		ROCAUC:               auc,
		CVScores:             cvScores,
		CVMean:               cvMean,
		CVStd:                cvStd,
		FeatureImportance:    rankImportances(schema.Names(), labels, t.model.FeatureImportances()),
		TrainRows:            len(t.split.XTrain),
		TestRows:             len(t.split.XTest),
		DataSource:           string(t.source),
		EvaluatedAt:          time.Now(),
	}
	t.evaluation = m

	t.log.Info().
		Float64("roc_auc", auc).
		Float64("cv_mean", cvMean).
		Float64("cv_std", cvStd).
		Float64("accuracy", m.ClassificationReport.Accuracy).
		Msg("Model evaluated")
	return m, nil
}

// Run executes the whole pipeline and saves the bundle to dir.
func (t *Trainer) Run(ctx context.Context, dir string) (*Model, error) {
	start := time.Now()
	if err := t.Prepare(ctx, ""); err != nil {
		return nil, err
	}
	if _, err := t.TrainBaseline(ctx); err != nil {
		return nil, err
	}
	if _, err := t.Tune(ctx); err != nil {
		return nil, err
	}
	if _, err := t.Evaluate(ctx); err != nil {
		return nil, err
	}
	if err := t.Save(dir); err != nil {
		return nil, err
	}
	metrics.TrainingDuration.Observe(time.Since(start).Seconds())
	return t.Model()
}

// Model returns the current model with its preparer and metadata.
func (t *Trainer) Model() (*Model, error) {
	if t.model == nil || t.preparer == nil {
		return nil, ErrNotTrained
	}
	var background [][]float64
	if t.split != nil {
		background = t.split.XTrain
	}
	return &Model{
		Forest:          t.model,
		Preparer:        t.preparer,
		Metrics:         t.evaluation,
		Hyperparameters: t.hyperparameters(),
		Background:      background,
		DataSource:      t.source,
		TrainedAt:       t.trainedAt,
	}, nil
}

func (t *Trainer) hyperparameters() *Hyperparameters {
	return &Hyperparameters{
		BestParams:  t.params,
		RandomState: t.cfg.Seed,
		Features:    t.preparer.Schema().Names(),
		ClassWeights: map[string]float64{
			"0": t.classWeights[0],
			"1": t.classWeights[1],
		},
		BestCVAUC:   t.bestCVAUC,
		BaselineAUC: t.baselineAUC,
		GridResults: t.gridResults,
	}
}

// Predict scores a raw row with the naive importance-based factors.
func (t *Trainer) Predict(values []string) (*Prediction, error) {
	m, err := t.Model()
	if err != nil {
		return nil, err
	}
	return m.PredictNaive(values)
}
