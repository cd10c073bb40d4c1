// Package explain attributes forest predictions to input features with
// exact interventional TreeSHAP against a background sample.
package explain

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"runtime"
	"sort"
	"sync"

	"github.com/aristath/riskscore/internal/modules/dataprep"
	"github.com/aristath/riskscore/internal/modules/forest"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// ErrExplanation is returned when an explanation cannot be produced. It is
// never fatal to scoring.
var ErrExplanation = errors.New("explanation failed")

// additivityTolerance bounds |base + sum(phi) - prediction|.
const additivityTolerance = 1e-6

// Options configures the background sample and factor lists.
type Options struct {
	SampleSize int    // background rows drawn from the pool, default 100
	Seed       uint64 // sampling seed, default 42
	TopFactors int    // factors considered before splitting by sign, default 10
}

func (o Options) withDefaults() Options {
	if o.SampleSize <= 0 {
		o.SampleSize = 100
	}
	if o.Seed == 0 {
		o.Seed = 42
	}
	if o.TopFactors <= 0 {
		o.TopFactors = 10
	}
	return o
}

// Explainer is immutable after New apart from the lazily cached global
// importance, and is safe for concurrent use.
type Explainer struct {
	model      *forest.Forest
	schema     dataprep.Schema
	background [][]float64
	base       float64
	weights    [][]float64
	opts       Options
	log        zerolog.Logger

	mu         sync.Mutex
	importance []FeatureImportance
}

// New builds an explainer over a seeded sample of min(SampleSize, len(pool))
// background rows. The base value is the mean model output over that sample.
func New(model *forest.Forest, pool [][]float64, schema dataprep.Schema, opts Options, log zerolog.Logger) (*Explainer, error) {
	opts = opts.withDefaults()
	if model == nil || len(model.Trees) == 0 {
		return nil, fmt.Errorf("%w: no model", ErrExplanation)
	}
	if len(pool) == 0 {
		return nil, fmt.Errorf("%w: empty background pool", ErrExplanation)
	}
	if model.NFeatures != schema.Len() {
		return nil, fmt.Errorf("%w: model has %d features, schema %d", ErrExplanation, model.NFeatures, schema.Len())
	}
	for i, row := range pool {
		if len(row) != model.NFeatures {
			return nil, fmt.Errorf("%w: background row %d has %d features", ErrExplanation, i, len(row))
		}
	}

	background := sampleRows(pool, opts.SampleSize, opts.Seed)
	var base float64
	for _, z := range background {
		base += model.PredictProba(z)
	}
	base /= float64(len(background))

	e := &Explainer{
		model:      model,
		schema:     schema,
		background: background,
		base:       base,
		weights:    shapleyWeights(model.NFeatures),
		opts:       opts,
		log:        log.With().Str("component", "explainer").Logger(),
	}
	e.log.Info().Int("background_rows", len(background)).Float64("base_value", base).Msg("Explainer initialized")
	return e, nil
}

// sampleRows draws k rows without replacement, kept in pool order.
func sampleRows(pool [][]float64, k int, seed uint64) [][]float64 {
	if k >= len(pool) {
		return pool
	}
	rng := rand.New(rand.NewPCG(seed, 0xb4c6))
	idx := rng.Perm(len(pool))[:k]
	sort.Ints(idx)
	out := make([][]float64, k)
	for i, j := range idx {
		out[i] = pool[j]
	}
	return out
}

// BaseValue returns the expected model output over the background.
func (e *Explainer) BaseValue() float64 {
	return e.base
}

// BackgroundSize returns the number of background rows.
func (e *Explainer) BackgroundSize() int {
	return len(e.background)
}

// shap returns the attribution of each feature for row x.
func (e *Explainer) shap(x []float64) []float64 {
	phi := make([]float64, e.model.NFeatures)
	walker := newPairWalker(e.model.NFeatures, e.weights, phi)
	for t := range e.model.Trees {
		for _, z := range e.background {
			walker.run(&e.model.Trees[t], x, z)
		}
	}
	scale := 1 / float64(len(e.model.Trees)*len(e.background))
	for i := range phi {
		phi[i] *= scale
	}
	return phi
}

// Explain attributes the prediction for one transformed row. raw carries
// the untransformed values for display and may be nil.
func (e *Explainer) Explain(row []float64, raw []string) (*Explanation, error) {
	if len(row) != e.model.NFeatures {
		return nil, fmt.Errorf("%w: row has %d features, want %d", ErrExplanation, len(row), e.model.NFeatures)
	}
	for i, v := range row {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("%w: feature %s is not finite", ErrExplanation, e.schema.Features[i].Name)
		}
	}

	phi := e.shap(row)
	prediction := e.model.PredictProba(row)

	var total float64
	for _, v := range phi {
		total += v
	}
	if gap := math.Abs(e.base + total - prediction); gap > additivityTolerance {
		return nil, fmt.Errorf("%w: attributions off by %g", ErrExplanation, gap)
	}

	contributions := make([]Contribution, len(phi))
	for i, f := range e.schema.Features {
		c := Contribution{
			Feature:         f.Name,
			Label:           f.Label,
			Value:           row[i],
			Contribution:    phi[i],
			ContributionAbs: math.Abs(phi[i]),
		}
		if i < len(raw) {
			c.RawValue = raw[i]
		}
		contributions[i] = c
	}

	positive, negative := splitFactors(contributions, e.opts.TopFactors)
	return &Explanation{
		BaseValue:          e.base,
		Prediction:         prediction,
		ContributionsTotal: total,
		PositiveFactors:    positive,
		NegativeFactors:    negative,
		Contributions:      contributions,
	}, nil
}

// GlobalImportance returns mean |phi| per feature over sample, descending.
// A nil sample uses the background; that result is computed once and cached.
func (e *Explainer) GlobalImportance(ctx context.Context, sample [][]float64) ([]FeatureImportance, error) {
	if sample != nil {
		return e.globalImportance(ctx, sample)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.importance != nil {
		return e.importance, nil
	}
	imp, err := e.globalImportance(ctx, e.background)
	if err != nil {
		return nil, err
	}
	e.importance = imp
	return imp, nil
}

func (e *Explainer) globalImportance(ctx context.Context, sample [][]float64) ([]FeatureImportance, error) {
	if len(sample) == 0 {
		return nil, fmt.Errorf("%w: empty sample", ErrExplanation)
	}
	for i, row := range sample {
		if len(row) != e.model.NFeatures {
			return nil, fmt.Errorf("%w: sample row %d has %d features", ErrExplanation, i, len(row))
		}
	}

	perRow := make([][]float64, len(sample))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, row := range sample {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			perRow[i] = e.shap(row)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]FeatureImportance, e.model.NFeatures)
	for j, f := range e.schema.Features {
		var sum float64
		for _, phi := range perRow {
			sum += math.Abs(phi[j])
		}
		out[j] = FeatureImportance{Feature: f.Name, Label: f.Label, MeanAbsContribution: sum / float64(len(sample))}
	}
	sort.SliceStable(out, func(a, b int) bool {
		return out[a].MeanAbsContribution > out[b].MeanAbsContribution
	})
	return out, nil
}
