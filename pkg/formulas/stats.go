// Package formulas provides numeric helpers shared by the training and explanation pipelines.
package formulas

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/integrate"
	"gonum.org/v1/gonum/stat"
)

// ErrUndefinedAUC is returned when the labels contain a single class.
var ErrUndefinedAUC = errors.New("roc auc is undefined for a single class")

// Mean calculates the arithmetic mean of a slice of float64 values
func Mean(data []float64) float64 {
	if len(data) == 0 {
		return 0
	}
	return stat.Mean(data, nil)
}

// StdDev calculates the population standard deviation of a slice of float64 values.
// Cross-validation summaries report the population spread of the fold scores.
func StdDev(data []float64) float64 {
	if len(data) == 0 {
		return 0
	}
	_, std := stat.PopMeanStdDev(data, nil)
	return std
}

// PopMeanStdDev returns the mean and population standard deviation (ddof=0).
func PopMeanStdDev(data []float64) (mean, std float64) {
	if len(data) == 0 {
		return 0, 0
	}
	return stat.PopMeanStdDev(data, nil)
}

// Sum returns the sum of the values.
func Sum(data []float64) float64 {
	return floats.Sum(data)
}

// Normalize scales values in place so they sum to one. A zero sum leaves them untouched.
func Normalize(data []float64) {
	total := floats.Sum(data)
	if total == 0 || math.IsNaN(total) {
		return
	}
	floats.Scale(1/total, data)
}

// ROCAUC computes the area under the ROC curve for scores against binary labels.
// labels[i] is true for the positive class.
func ROCAUC(scores []float64, labels []bool) (float64, error) {
	if len(scores) != len(labels) {
		return 0, errors.New("scores and labels length mismatch")
	}

	var pos, neg int
	for _, l := range labels {
		if l {
			pos++
		} else {
			neg++
		}
	}
	if pos == 0 || neg == 0 {
		return 0, ErrUndefinedAUC
	}

	y := make([]float64, len(scores))
	copy(y, scores)
	classes := make([]bool, len(labels))
	copy(classes, labels)
	stat.SortWeightedLabeled(y, classes, nil)

	tpr, fpr, _ := stat.ROC(nil, y, classes, nil)
	return integrate.Trapezoidal(fpr, tpr), nil
}
