package training

import (
	"github.com/aristath/riskscore/internal/modules/forest"
)

// Grid lists candidate values per hyperparameter. A MaxDepth of 0 means unlimited.
type Grid struct {
	NEstimators     []int    `json:"n_estimators"`
	MaxDepth        []int    `json:"max_depth"`
	MinSamplesSplit []int    `json:"min_samples_split"`
	MinSamplesLeaf  []int    `json:"min_samples_leaf"`
	MaxFeatures     []string `json:"max_features"`
}

// DefaultGrid is the full 216-cell search space.
func DefaultGrid() Grid {
	return Grid{
		NEstimators:     []int{50, 100, 200},
		MaxDepth:        []int{5, 10, 15, 0},
		MinSamplesSplit: []int{2, 5, 10},
		MinSamplesLeaf:  []int{1, 2, 4},
		MaxFeatures:     []string{forest.MaxFeaturesSqrt, forest.MaxFeaturesLog2},
	}
}

// Size returns the number of cells.
func (g Grid) Size() int {
	return len(g.NEstimators) * len(g.MaxDepth) * len(g.MinSamplesSplit) * len(g.MinSamplesLeaf) * len(g.MaxFeatures)
}

// Expand returns every combination in a fixed order, sharing seed.
func (g Grid) Expand(seed uint64) []forest.Params {
	out := make([]forest.Params, 0, g.Size())
	for _, n := range g.NEstimators {
		for _, depth := range g.MaxDepth {
			for _, split := range g.MinSamplesSplit {
				for _, leaf := range g.MinSamplesLeaf {
					for _, mf := range g.MaxFeatures {
						out = append(out, forest.Params{
							NEstimators:     n,
							MaxDepth:        depth,
							MinSamplesSplit: split,
							MinSamplesLeaf:  leaf,
							MaxFeatures:     mf,
							Bootstrap:       true,
							Seed:            seed,
						})
					}
				}
			}
		}
	}
	return out
}

// BaselineParams are the fixed parameters of the monitoring baseline.
func BaselineParams(seed uint64) forest.Params {
	return forest.Params{
		NEstimators:     100,
		MaxDepth:        10,
		MinSamplesSplit: 5,
		MinSamplesLeaf:  2,
		MaxFeatures:     forest.MaxFeaturesSqrt,
		Bootstrap:       true,
		Seed:            seed,
	}
}

// GridResult is the cross-validated score of one cell.
type GridResult struct {
	Params  forest.Params `json:"params"`
	MeanAUC float64       `json:"mean_test_score"`
	StdAUC  float64       `json:"std_test_score"`
	Rank    int           `json:"rank_test_score"`
}
