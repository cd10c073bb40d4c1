// Package forest implements class-weighted CART trees and a bagged random
// forest for binary classification. Fitting is deterministic for a given
// seed regardless of how many trees are fitted in parallel.
package forest

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"runtime"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
)

// Max feature strategies.
const (
	MaxFeaturesSqrt = "sqrt"
	MaxFeaturesLog2 = "log2"
	MaxFeaturesAll  = "all"
)

// ErrInvalidInput is returned for empty, ragged, or single-class training data.
var ErrInvalidInput = errors.New("invalid training input")

// Params are the forest hyperparameters.
type Params struct {
	NEstimators     int    `json:"n_estimators" msgpack:"n_estimators"`
	MaxDepth        int    `json:"max_depth" msgpack:"max_depth"` // 0 means unlimited
	MinSamplesSplit int    `json:"min_samples_split" msgpack:"min_samples_split"`
	MinSamplesLeaf  int    `json:"min_samples_leaf" msgpack:"min_samples_leaf"`
	MaxFeatures     string `json:"max_features" msgpack:"max_features"`
	Bootstrap       bool   `json:"bootstrap" msgpack:"bootstrap"`
	Seed            uint64 `json:"random_state" msgpack:"seed"`
}

// String renders params compactly for logs and grid tables.
func (p Params) String() string {
	depth := "none"
	if p.MaxDepth > 0 {
		depth = fmt.Sprint(p.MaxDepth)
	}
	return fmt.Sprintf("n_estimators=%d max_depth=%s min_samples_split=%d min_samples_leaf=%d max_features=%s",
		p.NEstimators, depth, p.MinSamplesSplit, p.MinSamplesLeaf, p.MaxFeatures)
}

// Validate checks parameter ranges.
func (p Params) Validate() error {
	switch {
	case p.NEstimators < 1:
		return fmt.Errorf("%w: n_estimators must be >= 1", ErrInvalidInput)
	case p.MaxDepth < 0:
		return fmt.Errorf("%w: max_depth must be >= 0", ErrInvalidInput)
	case p.MinSamplesSplit < 2:
		return fmt.Errorf("%w: min_samples_split must be >= 2", ErrInvalidInput)
	case p.MinSamplesLeaf < 1:
		return fmt.Errorf("%w: min_samples_leaf must be >= 1", ErrInvalidInput)
	}
	switch p.MaxFeatures {
	case MaxFeaturesSqrt, MaxFeaturesLog2, MaxFeaturesAll:
	default:
		return fmt.Errorf("%w: unknown max_features %q", ErrInvalidInput, p.MaxFeatures)
	}
	return nil
}

// Mtry returns the number of candidate features per split.
func (p Params) Mtry(nFeatures int) int {
	var m int
	switch p.MaxFeatures {
	case MaxFeaturesSqrt:
		m = int(math.Sqrt(float64(nFeatures)))
	case MaxFeaturesLog2:
		m = int(math.Log2(float64(nFeatures)))
	default:
		m = nFeatures
	}
	return max(1, min(m, nFeatures))
}

// ClassWeights holds the weight of the good (0) and bad (1) class.
type ClassWeights [2]float64

// Uniform weighs both classes equally.
var Uniform = ClassWeights{1, 1}

// Balanced returns n / (2 * n_c) per class.
func Balanced(y []int) ClassWeights {
	var counts [2]int
	for _, label := range y {
		counts[label]++
	}
	var w ClassWeights
	for c := range w {
		if counts[c] > 0 {
			w[c] = float64(len(y)) / (2 * float64(counts[c]))
		}
	}
	return w
}

// Forest is a fitted bagged ensemble. It is immutable after Fit and safe
// for concurrent prediction.
type Forest struct {
	Trees        []Tree       `msgpack:"trees"`
	NFeatures    int          `msgpack:"n_features"`
	Params       Params       `msgpack:"params"`
	ClassWeights ClassWeights `msgpack:"class_weights"`
	Importances  []float64    `msgpack:"importances"`
}

// Fit trains a forest on X (rows) and binary labels y.
func Fit(ctx context.Context, X [][]float64, y []int, params Params, weights ClassWeights) (*Forest, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if err := validateInput(X, y); err != nil {
		return nil, err
	}

	nFeatures := len(X[0])
	mtry := params.Mtry(nFeatures)
	trees := make([]Tree, params.NEstimators)
	importances := make([][]float64, params.NEstimators)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))

	for t := 0; t < params.NEstimators; t++ {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			// Seeded by tree index so the result does not depend on scheduling
			rng := rand.New(rand.NewPCG(params.Seed, uint64(t)))
			sampleWeights := make([]float64, len(X))
			if params.Bootstrap {
				for range X {
					sampleWeights[rng.IntN(len(X))]++
				}
			} else {
				for i := range sampleWeights {
					sampleWeights[i] = 1
				}
			}
			for i := range sampleWeights {
				sampleWeights[i] *= weights[y[i]]
			}

			trees[t], importances[t] = fitTree(X, y, sampleWeights, params, mtry, rng)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &Forest{
		Trees:        trees,
		NFeatures:    nFeatures,
		Params:       params,
		ClassWeights: weights,
		Importances:  averageImportances(importances, nFeatures),
	}, nil
}

func validateInput(X [][]float64, y []int) error {
	if len(X) == 0 {
		return fmt.Errorf("%w: no rows", ErrInvalidInput)
	}
	if len(X) != len(y) {
		return fmt.Errorf("%w: %d rows but %d labels", ErrInvalidInput, len(X), len(y))
	}
	width := len(X[0])
	if width == 0 {
		return fmt.Errorf("%w: no features", ErrInvalidInput)
	}
	var seen [2]bool
	for i, row := range X {
		if len(row) != width {
			return fmt.Errorf("%w: row %d has %d features, want %d", ErrInvalidInput, i, len(row), width)
		}
		if y[i] != 0 && y[i] != 1 {
			return fmt.Errorf("%w: label %d at row %d", ErrInvalidInput, y[i], i)
		}
		seen[y[i]] = true
	}
	if !seen[0] || !seen[1] {
		return fmt.Errorf("%w: both classes must be present", ErrInvalidInput)
	}
	return nil
}

// averageImportances normalizes each tree's impurity decreases, averages
// them across trees, and renormalizes to sum to 1.
func averageImportances(perTree [][]float64, nFeatures int) []float64 {
	out := make([]float64, nFeatures)
	for _, imp := range perTree {
		total := floats.Sum(imp)
		if total <= 0 {
			continue
		}
		for i, v := range imp {
			out[i] += v / total
		}
	}
	if total := floats.Sum(out); total > 0 {
		floats.Scale(1/total, out)
	}
	return out
}

// PredictProba returns P(bad) for one row as the mean of the tree outputs.
func (f *Forest) PredictProba(x []float64) float64 {
	var sum float64
	for i := range f.Trees {
		sum += f.Trees[i].Predict(x)
	}
	return sum / float64(len(f.Trees))
}

// PredictProbaBatch scores every row of X.
func (f *Forest) PredictProbaBatch(X [][]float64) []float64 {
	out := make([]float64, len(X))
	for i, x := range X {
		out[i] = f.PredictProba(x)
	}
	return out
}

// Predict returns the class label, 1 when P(bad) > 0.5.
func (f *Forest) Predict(x []float64) int {
	if f.PredictProba(x) > 0.5 {
		return 1
	}
	return 0
}

// FeatureImportances returns a copy of the normalized impurity importances.
func (f *Forest) FeatureImportances() []float64 {
	return append([]float64(nil), f.Importances...)
}

// Validate checks structural integrity after decoding.
func (f *Forest) Validate() error {
	if len(f.Trees) == 0 {
		return fmt.Errorf("%w: forest has no trees", ErrInvalidInput)
	}
	if len(f.Importances) != f.NFeatures {
		return fmt.Errorf("%w: %d importances for %d features", ErrInvalidInput, len(f.Importances), f.NFeatures)
	}
	for t, tree := range f.Trees {
		if len(tree.Nodes) == 0 {
			return fmt.Errorf("%w: tree %d is empty", ErrInvalidInput, t)
		}
		n := int32(len(tree.Nodes))
		for i, node := range tree.Nodes {
			if node.IsLeaf() {
				continue
			}
			if int(node.Feature) >= f.NFeatures ||
				node.Left <= int32(i) || node.Left >= n ||
				node.Right <= int32(i) || node.Right >= n {
				return fmt.Errorf("%w: tree %d node %d has invalid links", ErrInvalidInput, t, i)
			}
		}
	}
	return nil
}
