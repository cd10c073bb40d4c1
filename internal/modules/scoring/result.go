// Package scoring holds the credit-risk domain: score results and their
// thresholds, the client application, the mapping from application fields
// to model features, scenario overlays, and the score history.
package scoring

// Category is the risk bucket of a score.
type Category string

const (
	CategoryLow      Category = "low"
	CategoryModerate Category = "moderate"
	CategoryHigh     Category = "high"
	CategoryVeryHigh Category = "very_high"
)

// Recommendation is the suggested decision for a score.
type Recommendation string

const (
	RecommendApprove Recommendation = "approve"
	RecommendReview  Recommendation = "review"
	RecommendReject  Recommendation = "reject"
)

// Decision thresholds on the 0-100 score.
const (
	approveBelow = 30.0
	rejectAbove  = 70.0
)

// CategoryFor buckets a 0-100 risk score.
func CategoryFor(score float64) Category {
	switch {
	case score < 25:
		return CategoryLow
	case score < 50:
		return CategoryModerate
	case score < 75:
		return CategoryHigh
	default:
		return CategoryVeryHigh
	}
}

// RecommendationFor maps a score to approve (<30), reject (>70) or review.
func RecommendationFor(score float64) Recommendation {
	switch {
	case score < approveBelow:
		return RecommendApprove
	case score > rejectAbove:
		return RecommendReject
	default:
		return RecommendReview
	}
}

// ScoreResult is the model's verdict for one application. Positive factors
// lower the risk; negative factors raise it.
type ScoreResult struct {
	RiskScore            float64        `json:"risk_score"`
	ProbabilityOfDefault float64        `json:"probability_of_default"`
	RiskCategory         Category       `json:"risk_category"`
	Recommendation       Recommendation `json:"recommendation"`
	PositiveFactors      []string       `json:"positive_factors"`
	NegativeFactors      []string       `json:"negative_factors"`
}

// NewScoreResult derives score, category and recommendation from P(bad).
func NewScoreResult(probability float64, positive, negative []string) *ScoreResult {
	if positive == nil {
		positive = []string{}
	}
	if negative == nil {
		negative = []string{}
	}
	score := probability * 100
	return &ScoreResult{
		RiskScore:            score,
		ProbabilityOfDefault: probability,
		RiskCategory:         CategoryFor(score),
		Recommendation:       RecommendationFor(score),
		PositiveFactors:      positive,
		NegativeFactors:      negative,
	}
}
