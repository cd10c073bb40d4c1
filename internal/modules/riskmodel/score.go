package riskmodel

import (
	"context"
	"fmt"
	"time"

	"github.com/aristath/riskscore/internal/metrics"
	"github.com/aristath/riskscore/internal/modules/explain"
	"github.com/aristath/riskscore/internal/modules/scoring"
	"github.com/goccy/go-json"
)

// explanationFactors caps the descriptions taken from each factor list.
const explanationFactors = 5

// Metadata describes where a score came from.
type Metadata struct {
	ModelVersion string    `json:"model_version"`
	ComputedAt   time.Time `json:"computed_at"`
	DataSource   string    `json:"data_source"`
	Algorithm    string    `json:"algorithm"`
}

// ScoreOutput is a score with its explanation and provenance.
type ScoreOutput struct {
	scoring.ScoreResult
	Explanation   *explain.Explanation `json:"explanation"`
	ExplanationID string               `json:"explanation_id,omitempty"`
	Metadata      Metadata             `json:"metadata"`
	Warnings      []string             `json:"warnings"`
}

// Score validates, maps and scores one application. An explanation
// failure degrades the explanation to nil; it never fails the score.
func (m *Manager) Score(ctx context.Context, app *scoring.Application) (*ScoreOutput, error) {
	start := time.Now()
	if app == nil {
		return nil, fmt.Errorf("%w: application is required", scoring.ErrInvalidApplication)
	}
	if err := app.Validate(); err != nil {
		return nil, err
	}

	s, err := m.ready(ctx)
	if err != nil {
		return nil, err
	}

	schema := s.model.Preparer.Schema()
	values, err := scoring.MapApplication(app).Values(schema)
	if err != nil {
		return nil, err
	}
	pred, err := s.model.PredictNaive(values)
	if err != nil {
		return nil, err
	}

	out := &ScoreOutput{
		ScoreResult: *pred.Result,
		Metadata: Metadata{
			ModelVersion: ModelVersion,
			ComputedAt:   time.Now(),
			DataSource:   string(s.model.DataSource),
			Algorithm:    Algorithm,
		},
		Warnings: []string{},
	}
	// The preparer already counts and logs each unseen category
	for _, w := range pred.Warnings {
		out.Warnings = append(out.Warnings, w.String())
	}

	// Explanations show what the model scored, fallbacks included
	scored, err := s.model.Preparer.InverseRow(pred.Row)
	if err != nil {
		scored = values
	}
	m.attachExplanation(s, out, pred.Row, scored)

	metrics.ScoresTotal.WithLabelValues(string(out.RiskCategory)).Inc()
	metrics.ScoreDuration.Observe(time.Since(start).Seconds())
	return out, nil
}

func (m *Manager) attachExplanation(s *snapshot, out *ScoreOutput, row []float64, raw []string) {
	if s.explainer == nil {
		metrics.ExplanationsTotal.WithLabelValues("unavailable").Inc()
		return
	}

	expl, err := s.explainer.Explain(row, raw)
	if err != nil {
		metrics.ExplanationsTotal.WithLabelValues("failed").Inc()
		m.log.Warn().Err(err).Msg("Explanation failed, returning score without it")
		out.Warnings = append(out.Warnings, "explanation unavailable")
		return
	}
	metrics.ExplanationsTotal.WithLabelValues("ok").Inc()

	out.Explanation = expl
	out.PositiveFactors, out.NegativeFactors = expl.Descriptions(explanationFactors)

	if m.store == nil {
		return
	}
	id, skipped, err := m.store.Save(expl)
	switch {
	case err != nil:
		m.log.Warn().Err(err).Msg("Failed to write explanation artifacts")
		out.Warnings = append(out.Warnings, "explanation artifacts not saved")
	case skipped:
		out.Warnings = append(out.Warnings, "explanation artifacts skipped under memory pressure")
	default:
		out.ExplanationID = id
	}
}

// Record persists a score under an application reference. Failures are
// logged and never surface to the caller.
func (m *Manager) Record(ctx context.Context, ref string, out *ScoreOutput) {
	if m.repo == nil || ref == "" || out == nil {
		return
	}
	payload, err := json.Marshal(out)
	if err != nil {
		m.log.Warn().Err(err).Str("application_ref", ref).Msg("Failed to encode score payload")
		return
	}
	rec := &scoring.ScoreRecord{
		ApplicationRef: ref,
		RiskScore:      out.RiskScore,
		Probability:    out.ProbabilityOfDefault,
		Category:       out.RiskCategory,
		Recommendation: out.Recommendation,
		ModelVersion:   out.Metadata.ModelVersion,
		Payload:        payload,
		CreatedAt:      out.Metadata.ComputedAt,
	}
	if err := m.repo.Save(ctx, rec); err != nil {
		m.log.Warn().Err(err).Str("application_ref", ref).Msg("Failed to persist score")
	}
}

// History lists stored scores for an application, newest first.
func (m *Manager) History(ctx context.Context, ref string, limit int) ([]scoring.ScoreRecord, error) {
	if m.repo == nil {
		return []scoring.ScoreRecord{}, nil
	}
	return m.repo.ListByApplication(ctx, ref, limit)
}

// ScenarioResult is one scored scenario.
type ScenarioResult struct {
	ScenarioID       int          `json:"scenario_id"`
	ScenarioName     string       `json:"scenario_name"`
	Description      string       `json:"description,omitempty"`
	OverriddenFields []string     `json:"overridden_fields"`
	Result           *ScoreOutput `json:"result"`
}

// Simulation holds scenario results in input order and their comparison.
type Simulation struct {
	Results    []ScenarioResult    `json:"results"`
	Comparison *scoring.Comparison `json:"comparison"`
}

// Simulate scores base with each scenario's overrides applied. All
// overrides are checked before anything is scored.
func (m *Manager) Simulate(ctx context.Context, base scoring.Application, scenarios []scoring.Scenario) (*Simulation, error) {
	apps := make([]*scoring.Application, len(scenarios))
	fields := make([][]string, len(scenarios))
	for i, sc := range scenarios {
		app, overridden, err := scoring.ApplyOverrides(base, sc.ParameterOverrides)
		if err != nil {
			return nil, fmt.Errorf("scenario %d: %w", i+1, err)
		}
		apps[i] = app
		fields[i] = overridden
	}

	sim := &Simulation{Results: make([]ScenarioResult, 0, len(scenarios))}
	refs := make([]scoring.ScenarioRef, 0, len(scenarios))
	for i, sc := range scenarios {
		out, err := m.Score(ctx, apps[i])
		if err != nil {
			return nil, fmt.Errorf("scenario %d: %w", i+1, err)
		}
		res := ScenarioResult{
			ScenarioID:       i + 1,
			ScenarioName:     sc.NameOr(i + 1),
			Description:      sc.Description,
			OverriddenFields: fields[i],
			Result:           out,
		}
		sim.Results = append(sim.Results, res)
		refs = append(refs, scoring.ScenarioRef{
			ScenarioID:     res.ScenarioID,
			ScenarioName:   res.ScenarioName,
			RiskScore:      out.RiskScore,
			Recommendation: out.Recommendation,
		})
	}
	sim.Comparison = scoring.Compare(refs)

	m.log.Debug().Int("scenarios", len(scenarios)).Msg("Simulation complete")
	return sim, nil
}
