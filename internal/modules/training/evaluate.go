package training

import (
	"sort"
	"time"
)

// ClassReport holds per-class (or averaged) precision, recall and F1.
type ClassReport struct {
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1-score"`
	Support   int     `json:"support"`
}

// ClassificationReport mirrors the usual per-class report layout.
type ClassificationReport struct {
	Good        ClassReport `json:"0"`
	Bad         ClassReport `json:"1"`
	Accuracy    float64     `json:"accuracy"`
	MacroAvg    ClassReport `json:"macro avg"`
	WeightedAvg ClassReport `json:"weighted avg"`
}

// FeatureImportance is one feature's impurity importance.
type FeatureImportance struct {
	Feature    string  `json:"feature"`
	Label      string  `json:"label"`
	Importance float64 `json:"importance"`
}

// Metrics is the evaluation of a fitted model on the held-out split.
type Metrics struct {
	ClassificationReport ClassificationReport `json:"classification_report"`
	// ConfusionMatrix rows are true labels, columns predicted labels.
	ConfusionMatrix   [2][2]int           `json:"confusion_matrix"`
	ROCAUC            float64             `json:"roc_auc"`
	CVScores          []float64           `json:"cv_scores"`
	CVMean            float64             `json:"cv_mean"`
	CVStd             float64             `json:"cv_std"`
	FeatureImportance []FeatureImportance `json:"feature_importance"`
	TrainRows         int                 `json:"train_rows"`
	TestRows          int                 `json:"test_rows"`
	DataSource        string              `json:"data_source"`
	EvaluatedAt       time.Time           `json:"evaluated_at"`
}

func confusionMatrix(yTrue, yPred []int) [2][2]int {
	var m [2][2]int
	for i := range yTrue {
		m[yTrue[i]][yPred[i]]++
	}
	return m
}

func safeDiv(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return a / b
}

func classificationReport(cm [2][2]int) ClassificationReport {
	var classes [2]ClassReport
	total := 0
	correct := 0
	for c := 0; c < 2; c++ {
		tp := float64(cm[c][c])
		predicted := float64(cm[0][c] + cm[1][c])
		actual := float64(cm[c][0] + cm[c][1])
		p := safeDiv(tp, predicted)
		r := safeDiv(tp, actual)
		classes[c] = ClassReport{
			Precision: p,
			Recall:    r,
			F1:        safeDiv(2*p*r, p+r),
			Support:   int(actual),
		}
		total += int(actual)
		correct += cm[c][c]
	}

	report := ClassificationReport{
		Good:     classes[0],
		Bad:      classes[1],
		Accuracy: safeDiv(float64(correct), float64(total)),
	}
	for _, c := range classes {
		report.MacroAvg.Precision += c.Precision / 2
		report.MacroAvg.Recall += c.Recall / 2
		report.MacroAvg.F1 += c.F1 / 2

		w := safeDiv(float64(c.Support), float64(total))
		report.WeightedAvg.Precision += c.Precision * w
		report.WeightedAvg.Recall += c.Recall * w
		report.WeightedAvg.F1 += c.F1 * w
	}
	report.MacroAvg.Support = total
	report.WeightedAvg.Support = total
	return report
}

// rankImportances pairs importances with schema names, descending.
func rankImportances(names, labels []string, importances []float64) []FeatureImportance {
	out := make([]FeatureImportance, len(importances))
	for i, v := range importances {
		out[i] = FeatureImportance{Feature: names[i], Label: labels[i], Importance: v}
	}
	sort.SliceStable(out, func(a, b int) bool {
		return out[a].Importance > out[b].Importance
	})
	return out
}
