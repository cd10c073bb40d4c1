// Package riskmodel owns the loaded risk model: it restores or trains the
// bundle, publishes immutable snapshots, and scores applications.
package riskmodel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aristath/riskscore/internal/metrics"
	"github.com/aristath/riskscore/internal/modules/dataprep"
	"github.com/aristath/riskscore/internal/modules/explain"
	"github.com/aristath/riskscore/internal/modules/scoring"
	"github.com/aristath/riskscore/internal/modules/training"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// ErrNotReady is returned when no model is loaded and auto-load is off.
var ErrNotReady = fmt.Errorf("model not ready: %w", training.ErrNotTrained)

const (
	flightLoad  = "load"
	flightTrain = "train"

	// ModelVersion tags every score with the bundle format it came from.
	ModelVersion = "v1.0"
	// Algorithm names the model family in score metadata.
	Algorithm = "Random Forest Classifier"
	modelType = "RandomForestClassifier"
)

// Config configures a Manager.
type Config struct {
	ModelDir string
	Training training.Config
	Explain  explain.Options
	// AutoLoad lets Score trigger the guarded load when nothing is loaded.
	AutoLoad bool
}

// snapshot is published once and never mutated.
type snapshot struct {
	model     *training.Model
	explainer *explain.Explainer
	updatedAt time.Time
}

// Manager serves scores from the current snapshot. Scoring is lock-free;
// load and train are coalesced and serialized.
type Manager struct {
	cfg   Config
	store *explain.Store
	repo  *scoring.Repository
	log   zerolog.Logger

	snap   atomic.Pointer[snapshot]
	state  atomic.Int32
	flight singleflight.Group
	mu     sync.Mutex // serializes lifecycle transitions
}

// New creates a manager. The store and repository are optional.
func New(cfg Config, store *explain.Store, repo *scoring.Repository, log zerolog.Logger) (*Manager, error) {
	schema := cfg.Training.Schema
	if schema.Len() == 0 {
		schema = dataprep.GermanCredit()
		cfg.Training.Schema = schema
	}
	if err := scoring.ValidateMapping(schema); err != nil {
		return nil, err
	}
	if cfg.ModelDir == "" {
		return nil, errors.New("model directory is required")
	}

	m := &Manager{
		cfg:   cfg,
		store: store,
		repo:  repo,
		log:   log.With().Str("component", "risk_model").Logger(),
	}
	m.setState(StateUnloaded)
	return m, nil
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	return State(m.state.Load())
}

func (m *Manager) setState(s State) {
	m.state.Store(int32(s))
	metrics.ModelState.Set(float64(s))
}

// Ready reports whether a snapshot is published.
func (m *Manager) Ready() bool {
	return m.snap.Load() != nil
}

// Load restores the bundle from disk, retraining when the restore fails or
// forceRetrain is set. Concurrent calls share one flight; the flight is not
// cancelled when ctx is, but the caller stops waiting.
func (m *Manager) Load(ctx context.Context, forceRetrain bool) error {
	key := flightLoad
	if forceRetrain {
		key = flightTrain
	}
	flightCtx := context.WithoutCancel(ctx)
	ch := m.flight.DoChan(key, func() (interface{}, error) {
		return nil, m.load(flightCtx, forceRetrain)
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Train runs the full training pipeline and publishes the new model.
func (m *Manager) Train(ctx context.Context) error {
	return m.Load(ctx, true)
}

// LoadAsync starts a load in the background and logs its outcome.
func (m *Manager) LoadAsync(forceRetrain bool) {
	go func() {
		if err := m.Load(context.Background(), forceRetrain); err != nil {
			m.log.Error().Err(err).Bool("force_retrain", forceRetrain).Msg("Background model load failed")
		}
	}()
}

func (m *Manager) load(ctx context.Context, forceRetrain bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if forceRetrain {
		return m.train(ctx)
	}

	m.setState(StateLoading)
	start := time.Now()
	model, err := training.LoadModel(m.cfg.ModelDir, m.log)
	if err == nil {
		m.publish(m.newSnapshot(model))
		metrics.ModelLoadsTotal.WithLabelValues("restore", "ok").Inc()
		m.log.Info().Dur("elapsed", time.Since(start)).Msg("Model restored")
		return nil
	}

	metrics.ModelLoadsTotal.WithLabelValues("restore", "failed").Inc()
	m.log.Warn().Err(err).Str("dir", m.cfg.ModelDir).Msg("Model restore failed, retraining")
	return m.train(ctx)
}

func (m *Manager) train(ctx context.Context) error {
	if m.snap.Load() != nil {
		m.setState(StateRetraining)
	} else {
		m.setState(StateLoading)
	}

	trainer := training.NewTrainer(m.cfg.Training, m.log)
	model, err := trainer.Run(ctx, m.cfg.ModelDir)
	if err != nil {
		if !errors.Is(err, training.ErrTraining) {
			err = fmt.Errorf("%w: %w", training.ErrTraining, err)
		}
		m.fail()
		metrics.ModelLoadsTotal.WithLabelValues("train", "failed").Inc()
		m.log.Error().Err(err).Msg("Model training failed")
		return err
	}

	m.publish(m.newSnapshot(model))
	metrics.ModelLoadsTotal.WithLabelValues("train", "ok").Inc()
	return nil
}

func (m *Manager) newSnapshot(model *training.Model) *snapshot {
	s := &snapshot{model: model, updatedAt: time.Now()}
	expl, err := explain.New(model.Forest, model.Background, model.Preparer.Schema(), m.cfg.Explain, m.log)
	if err != nil {
		m.log.Warn().Err(err).Msg("Explainer unavailable, scores will carry naive factors")
	} else {
		s.explainer = expl
	}
	return s
}

func (m *Manager) publish(s *snapshot) {
	m.snap.Store(s)
	m.setState(StateReady)
	if s.model.Metrics != nil {
		metrics.ModelTestAUC.Set(s.model.Metrics.ROCAUC)
	}
	m.log.Info().
		Str("data_source", string(s.model.DataSource)).
		Bool("explainer", s.explainer != nil).
		Msg("Model snapshot published")
}

func (m *Manager) fail() {
	m.snap.Store(nil)
	m.setState(StateUnloaded)
}

// ready returns the current snapshot, loading one first when allowed.
func (m *Manager) ready(ctx context.Context) (*snapshot, error) {
	if s := m.snap.Load(); s != nil {
		return s, nil
	}
	if !m.cfg.AutoLoad {
		return nil, ErrNotReady
	}
	if err := m.Load(ctx, false); err != nil {
		return nil, err
	}
	if s := m.snap.Load(); s != nil {
		return s, nil
	}
	return nil, ErrNotReady
}

// Stats describes the loaded model.
type Stats struct {
	Loaded             bool                      `json:"loaded"`
	State              State                     `json:"state"`
	LastUpdate         *time.Time                `json:"last_update"`
	ModelType          string                    `json:"model_type,omitempty"`
	ExplainerAvailable bool                      `json:"explainer_available"`
	DataSource         string                    `json:"data_source,omitempty"`
	Metrics            *training.Metrics         `json:"metrics,omitempty"`
	Hyperparameters    *training.Hyperparameters `json:"hyperparameters,omitempty"`
}

// Stats reports the current snapshot without loading one.
func (m *Manager) Stats() Stats {
	st := Stats{State: m.State()}
	s := m.snap.Load()
	if s == nil {
		return st
	}
	updated := s.updatedAt
	st.Loaded = true
	st.LastUpdate = &updated
	st.ModelType = modelType
	st.ExplainerAvailable = s.explainer != nil
	st.DataSource = string(s.model.DataSource)
	st.Metrics = s.model.Metrics
	st.Hyperparameters = s.model.Hyperparameters
	return st
}

// GlobalImportance returns mean |contribution| per feature over the
// explainer background, most important first.
func (m *Manager) GlobalImportance(ctx context.Context) ([]explain.FeatureImportance, error) {
	s, err := m.ready(ctx)
	if err != nil {
		return nil, err
	}
	if s.explainer == nil {
		return nil, fmt.Errorf("%w: explainer unavailable", explain.ErrExplanation)
	}
	return s.explainer.GlobalImportance(ctx, nil)
}
