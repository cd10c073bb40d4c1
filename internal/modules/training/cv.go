package training

import (
	"context"
	"fmt"
	"runtime"

	"github.com/aristath/riskscore/internal/modules/forest"
	"github.com/aristath/riskscore/pkg/formulas"
	"golang.org/x/sync/errgroup"
)

// stratifiedFolds assigns the j-th row of each class, in row order, to fold j mod k.
func stratifiedFolds(y []int, k int) [][]int {
	folds := make([][]int, k)
	var seen [2]int
	for i, label := range y {
		folds[seen[label]%k] = append(folds[seen[label]%k], i)
		seen[label]++
	}
	return folds
}

func subset(X [][]float64, y []int, idx []int) ([][]float64, []int) {
	xs := make([][]float64, len(idx))
	ys := make([]int, len(idx))
	for i, j := range idx {
		xs[i] = X[j]
		ys[i] = y[j]
	}
	return xs, ys
}

// crossValidate returns the held-out ROC-AUC of each fold. Class weights
// are rebalanced on each fold's training rows.
func crossValidate(ctx context.Context, X [][]float64, y []int, params forest.Params, k int) ([]float64, error) {
	folds := stratifiedFolds(y, k)
	scores := make([]float64, k)

	for f := range folds {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var trainIdx []int
		for g, fold := range folds {
			if g != f {
				trainIdx = append(trainIdx, fold...)
			}
		}
		xTrain, yTrain := subset(X, y, trainIdx)
		xVal, yVal := subset(X, y, folds[f])

		model, err := forest.Fit(ctx, xTrain, yTrain, params, forest.Balanced(yTrain))
		if err != nil {
			return nil, fmt.Errorf("fold %d: %w", f, err)
		}
		auc, err := formulas.ROCAUC(model.PredictProbaBatch(xVal), toBool(yVal))
		if err != nil {
			return nil, fmt.Errorf("fold %d: %w", f, err)
		}
		scores[f] = auc
	}
	return scores, nil
}

// searchGrid cross-validates every cell in parallel and ranks them. Ties in
// mean AUC keep grid order, so the first best cell wins.
func searchGrid(ctx context.Context, X [][]float64, y []int, cells []forest.Params, k int) ([]GridResult, int, error) {
	results := make([]GridResult, len(cells))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, params := range cells {
		g.Go(func() error {
			scores, err := crossValidate(ctx, X, y, params, k)
			if err != nil {
				return fmt.Errorf("%s: %w", params, err)
			}
			mean, std := formulas.PopMeanStdDev(scores)
			results[i] = GridResult{Params: params, MeanAUC: mean, StdAUC: std}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}

	best := 0
	for i := range results {
		if results[i].MeanAUC > results[best].MeanAUC {
			best = i
		}
	}
	for i := range results {
		rank := 1
		for j := range results {
			if results[j].MeanAUC > results[i].MeanAUC {
				rank++
			}
		}
		results[i].Rank = rank
	}
	return results, best, nil
}

func toBool(y []int) []bool {
	out := make([]bool, len(y))
	for i, v := range y {
		out[i] = v == 1
	}
	return out
}
