package riskmodel

import (
	"context"
	"fmt"
	"io/fs"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/aristath/riskscore/internal/artifacts"
	"github.com/aristath/riskscore/internal/metrics"
	"github.com/aristath/riskscore/internal/modules/dataprep"
	"github.com/aristath/riskscore/internal/modules/explain"
	"github.com/aristath/riskscore/internal/modules/forest"
	"github.com/aristath/riskscore/internal/modules/scoring"
	"github.com/aristath/riskscore/internal/modules/training"
	testingpkg "github.com/aristath/riskscore/internal/testing"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixtureDir holds a bundle trained once for the whole package.
var fixtureDir string

func smallTraining(dataDir string) training.Config {
	return training.Config{
		Loader: dataprep.LoaderConfig{
			Path:           filepath.Join(dataDir, "german.data"),
			AllowSynthetic: true,
		},
		Grid: &training.Grid{
			NEstimators:     []int{10},
			MaxDepth:        []int{4, 0},
			MinSamplesSplit: []int{2},
			MinSamplesLeaf:  []int{2},
			MaxFeatures:     []string{forest.MaxFeaturesSqrt},
		},
	}
}

func TestMain(m *testing.M) {
	root, err := os.MkdirTemp("", "riskmodel-fixture")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fixtureDir = filepath.Join(root, "model")
	trainer := training.NewTrainer(smallTraining(root), zerolog.Nop())
	if _, err := trainer.Run(context.Background(), fixtureDir); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	code := m.Run()
	_ = os.RemoveAll(root)
	os.Exit(code)
}

func newTestManager(t *testing.T, autoLoad bool, store *explain.Store, repo *scoring.Repository) *Manager {
	t.Helper()
	m, err := New(Config{
		ModelDir: fixtureDir,
		Training: smallTraining(t.TempDir()),
		AutoLoad: autoLoad,
	}, store, repo, zerolog.Nop())
	require.NoError(t, err)
	return m
}

// copyFixture copies the shared bundle so a test can rewrite it.
func copyFixture(t *testing.T) string {
	t.Helper()
	dst := filepath.Join(t.TempDir(), "model")
	err := filepath.WalkDir(fixtureDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(fixtureDir, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0755)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		return os.WriteFile(target, data, 0644)
	})
	require.NoError(t, err)
	return dst
}

func TestNew_RequiresModelDir(t *testing.T) {
	_, err := New(Config{}, nil, nil, zerolog.Nop())
	assert.Error(t, err)
}

func TestManager_ScoreAutoLoads(t *testing.T) {
	m := newTestManager(t, true, nil, nil)
	assert.Equal(t, StateUnloaded, m.State())
	assert.False(t, m.Stats().Loaded)

	out, err := m.Score(context.Background(), testingpkg.ReferenceApplication())
	require.NoError(t, err)
	assert.Equal(t, StateReady, m.State())

	assert.GreaterOrEqual(t, out.ProbabilityOfDefault, 0.0)
	assert.LessOrEqual(t, out.ProbabilityOfDefault, 1.0)
	assert.InDelta(t, out.ProbabilityOfDefault*100, out.RiskScore, 1e-9)
	assert.Equal(t, scoring.CategoryFor(out.RiskScore), out.RiskCategory)
	assert.Equal(t, scoring.RecommendationFor(out.RiskScore), out.Recommendation)

	assert.Equal(t, ModelVersion, out.Metadata.ModelVersion)
	assert.Equal(t, Algorithm, out.Metadata.Algorithm)
	assert.Equal(t, string(dataprep.SourceSynthetic), out.Metadata.DataSource)
	assert.False(t, out.Metadata.ComputedAt.IsZero())
	assert.Empty(t, out.Warnings)

	require.NotNil(t, out.Explanation)
	expl := out.Explanation
	assert.InDelta(t, out.ProbabilityOfDefault, expl.Prediction, 1e-12)
	assert.Less(t, math.Abs(expl.BaseValue+expl.ContributionsTotal-expl.Prediction), 1e-6)

	// Factors come from the explanation, capped per list
	assert.LessOrEqual(t, len(out.PositiveFactors), 5)
	assert.LessOrEqual(t, len(out.NegativeFactors), 5)
	pos, neg := expl.Descriptions(5)
	assert.Equal(t, pos, out.PositiveFactors)
	assert.Equal(t, neg, out.NegativeFactors)
	assert.Empty(t, out.ExplanationID, "no store configured")
}

func TestManager_ScoreDeterministic(t *testing.T) {
	m := newTestManager(t, true, nil, nil)
	ctx := context.Background()

	a, err := m.Score(ctx, testingpkg.ReferenceApplication())
	require.NoError(t, err)
	b, err := m.Score(ctx, testingpkg.ReferenceApplication())
	require.NoError(t, err)

	assert.Equal(t, a.RiskScore, b.RiskScore)
	assert.Equal(t, a.PositiveFactors, b.PositiveFactors)
	assert.Equal(t, a.NegativeFactors, b.NegativeFactors)
}

func TestManager_ConcurrentScore(t *testing.T) {
	m := newTestManager(t, true, nil, nil)
	ctx := context.Background()

	const workers = 16
	scores := make([]float64, workers)
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := m.Score(ctx, testingpkg.ReferenceApplication())
			errs[i] = err
			if err == nil {
				scores[i] = out.RiskScore
			}
		}()
	}
	wg.Wait()

	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, scores[0], scores[i])
	}
	assert.Equal(t, StateReady, m.State())
}

func TestManager_NotReadyWithoutAutoLoad(t *testing.T) {
	m := newTestManager(t, false, nil, nil)

	_, err := m.Score(context.Background(), testingpkg.ReferenceApplication())
	assert.ErrorIs(t, err, ErrNotReady)
	assert.ErrorIs(t, err, training.ErrNotTrained)
	assert.Equal(t, StateUnloaded, m.State())

	_, err = m.GlobalImportance(context.Background())
	assert.ErrorIs(t, err, ErrNotReady)

	require.NoError(t, m.Load(context.Background(), false))
	_, err = m.Score(context.Background(), testingpkg.ReferenceApplication())
	assert.NoError(t, err)
}

func TestManager_InvalidApplication(t *testing.T) {
	m := newTestManager(t, true, nil, nil)

	app := testingpkg.ReferenceApplication()
	app.Age = 12
	_, err := m.Score(context.Background(), app)
	assert.ErrorIs(t, err, scoring.ErrInvalidApplication)

	_, err = m.Score(context.Background(), nil)
	assert.ErrorIs(t, err, scoring.ErrInvalidApplication)
	assert.Equal(t, StateUnloaded, m.State(), "validation happens before loading")
}

func TestManager_UnknownProfessionWarns(t *testing.T) {
	m := newTestManager(t, true, nil, nil)

	app := testingpkg.ReferenceApplication()
	app.Profession = "astronaute"
	unseen := metrics.UnseenCategoriesTotal.WithLabelValues("job")
	before := testutil.ToFloat64(unseen)

	out, err := m.Score(context.Background(), app)
	require.NoError(t, err)
	require.Len(t, out.Warnings, 1)
	assert.Contains(t, out.Warnings[0], "astronaute")
	assert.Equal(t, 1.0, testutil.ToFloat64(unseen)-before, "one count per unseen value")

	// The explanation shows the category the model fell back to
	enc, ok := m.snap.Load().model.Preparer.Encoder("job")
	require.True(t, ok)
	require.NotNil(t, out.Explanation)
	for _, c := range out.Explanation.Contributions {
		if c.Feature == "job" {
			assert.Equal(t, enc.Classes[0], c.RawValue)
		}
	}
}

func TestManager_LoadFailureLeavesUnloaded(t *testing.T) {
	dataDir := t.TempDir()
	cfg := smallTraining(dataDir)
	cfg.Loader.AllowSynthetic = false

	m, err := New(Config{
		ModelDir: filepath.Join(dataDir, "model"),
		Training: cfg,
		AutoLoad: true,
	}, nil, nil, zerolog.Nop())
	require.NoError(t, err)

	err = m.Load(context.Background(), false)
	assert.ErrorIs(t, err, training.ErrTraining)
	assert.ErrorIs(t, err, dataprep.ErrDataset)
	assert.Equal(t, StateUnloaded, m.State())

	stats := m.Stats()
	assert.False(t, stats.Loaded)
	assert.Nil(t, stats.LastUpdate)

	_, err = m.Score(context.Background(), testingpkg.ReferenceApplication())
	assert.ErrorIs(t, err, training.ErrTraining)
}

func TestManager_LoadCoalesced(t *testing.T) {
	m := newTestManager(t, false, nil, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = m.Load(ctx, false)
		}()
	}
	wg.Wait()
	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.True(t, m.Ready())
}

func TestManager_LoadCancelledWaiter(t *testing.T) {
	m := newTestManager(t, false, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := m.Load(ctx, false)
	if err != nil {
		assert.ErrorIs(t, err, context.Canceled)
	}
	// The flight itself is detached from the waiter
	require.NoError(t, m.Load(context.Background(), false))
	assert.Equal(t, StateReady, m.State())
}

func TestManager_TrainRetrainsAndPublishes(t *testing.T) {
	dataDir := t.TempDir()
	m, err := New(Config{
		ModelDir: filepath.Join(dataDir, "model"),
		Training: smallTraining(dataDir),
	}, nil, nil, zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, m.Train(context.Background()))
	assert.Equal(t, StateReady, m.State())
	assert.FileExists(t, filepath.Join(dataDir, "model", "bundle.msgpack"))

	stats := m.Stats()
	assert.True(t, stats.Loaded)
	assert.Equal(t, "ready", stats.State.String())
	assert.NotNil(t, stats.LastUpdate)
	assert.Equal(t, "RandomForestClassifier", stats.ModelType)
	assert.True(t, stats.ExplainerAvailable)
	assert.Equal(t, "synthetic", stats.DataSource)
	require.NotNil(t, stats.Metrics)
	require.NotNil(t, stats.Hyperparameters)
	assert.Len(t, stats.Hyperparameters.GridResults, 2)

	raw, err := json.Marshal(stats)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"state":"ready"`)

	first := stats.LastUpdate
	require.NoError(t, NewRetrainJob(m, 0, zerolog.Nop()).Run())
	assert.True(t, m.Stats().LastUpdate.After(*first) || m.Stats().LastUpdate.Equal(*first))
}

func TestManager_GlobalImportance(t *testing.T) {
	m := newTestManager(t, true, nil, nil)

	imp, err := m.GlobalImportance(context.Background())
	require.NoError(t, err)
	require.Len(t, imp, 20)
	for i := 1; i < len(imp); i++ {
		assert.GreaterOrEqual(t, imp[i-1].MeanAbsContribution, imp[i].MeanAbsContribution)
	}
}

func TestManager_StoreArtifacts(t *testing.T) {
	dir := t.TempDir()
	probe := testingpkg.NewStaticProbe(false)
	m := newTestManager(t, true, explain.NewStore(dir, probe, zerolog.Nop()), nil)

	out, err := m.Score(context.Background(), testingpkg.ReferenceApplication())
	require.NoError(t, err)
	require.NotEmpty(t, out.ExplanationID)
	assert.FileExists(t, filepath.Join(dir, out.ExplanationID+".json"))
	assert.FileExists(t, filepath.Join(dir, out.ExplanationID+".svg"))
	assert.Equal(t, int64(1), probe.Calls())

	var stored explain.Explanation
	require.NoError(t, artifacts.ReadJSON(filepath.Join(dir, out.ExplanationID+".json"), &stored))
	assert.Equal(t, out.Explanation.Prediction, stored.Prediction)
}

func TestManager_StoreSkippedUnderPressure(t *testing.T) {
	dir := t.TempDir()
	probe := testingpkg.NewStaticProbe(true)
	m := newTestManager(t, true, explain.NewStore(dir, probe, zerolog.Nop()), nil)

	out, err := m.Score(context.Background(), testingpkg.ReferenceApplication())
	require.NoError(t, err)
	assert.Empty(t, out.ExplanationID)
	assert.NotNil(t, out.Explanation, "the explanation is still returned")
	assert.Contains(t, out.Warnings, "explanation artifacts skipped under memory pressure")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestManager_RecordAndHistory(t *testing.T) {
	db := testingpkg.NewTestDB(t, "scores")
	m := newTestManager(t, true, nil, scoring.NewRepository(db, zerolog.Nop()))
	ctx := context.Background()

	out, err := m.Score(ctx, testingpkg.ReferenceApplication())
	require.NoError(t, err)
	m.Record(ctx, "app-42", out)
	m.Record(ctx, "", out)

	records, err := m.History(ctx, "app-42", 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, out.RiskScore, records[0].RiskScore)
	assert.Equal(t, out.RiskCategory, records[0].Category)
	assert.Equal(t, ModelVersion, records[0].ModelVersion)

	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(records[0].Payload, &payload))
	assert.Contains(t, payload, "risk_score")
	assert.Contains(t, payload, "metadata")
}

func TestManager_HistoryWithoutRepository(t *testing.T) {
	m := newTestManager(t, true, nil, nil)
	records, err := m.History(context.Background(), "app", 10)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestManager_Simulate(t *testing.T) {
	m := newTestManager(t, true, nil, nil)

	scenarios := []scoring.Scenario{
		{
			Name: "more income",
			ParameterOverrides: map[string]json.RawMessage{
				"monthly_income": json.RawMessage(`"9000"`),
				"total_debt":     json.RawMessage(`"0"`),
			},
		},
		{
			Description: "big loan",
			ParameterOverrides: map[string]json.RawMessage{
				"loan_amount":      json.RawMessage(`"20000"`),
				"loan_term_months": json.RawMessage(`60`),
			},
		},
		{ParameterOverrides: map[string]json.RawMessage{}},
	}

	sim, err := m.Simulate(context.Background(), *testingpkg.ReferenceApplication(), scenarios)
	require.NoError(t, err)
	require.Len(t, sim.Results, 3)

	assert.Equal(t, 1, sim.Results[0].ScenarioID)
	assert.Equal(t, "more income", sim.Results[0].ScenarioName)
	assert.Equal(t, []string{"monthly_income", "total_debt"}, sim.Results[0].OverriddenFields)

	assert.Equal(t, 2, sim.Results[1].ScenarioID)
	assert.Equal(t, "Scenario 2", sim.Results[1].ScenarioName)
	assert.Equal(t, "big loan", sim.Results[1].Description)
	assert.Equal(t, []string{"loan_amount", "loan_term_months"}, sim.Results[1].OverriddenFields)

	assert.Equal(t, "Scenario 3", sim.Results[2].ScenarioName)
	assert.Empty(t, sim.Results[2].OverriddenFields)

	// The unchanged scenario scores like the base application
	base, err := m.Score(context.Background(), testingpkg.ReferenceApplication())
	require.NoError(t, err)
	assert.Equal(t, base.RiskScore, sim.Results[2].Result.RiskScore)

	require.NotNil(t, sim.Comparison)
	lo, hi := sim.Results[0].Result.RiskScore, sim.Results[0].Result.RiskScore
	for _, r := range sim.Results {
		lo = math.Min(lo, r.Result.RiskScore)
		hi = math.Max(hi, r.Result.RiskScore)
	}
	assert.Equal(t, lo, sim.Comparison.Best.RiskScore)
	assert.Equal(t, hi, sim.Comparison.Worst.RiskScore)
	assert.InDelta(t, hi-lo, sim.Comparison.ScoreGap, 1e-12)
}

func TestManager_SimulateRejectsUnknownField(t *testing.T) {
	m := newTestManager(t, true, nil, nil)

	_, err := m.Simulate(context.Background(), *testingpkg.ReferenceApplication(), []scoring.Scenario{
		{ParameterOverrides: map[string]json.RawMessage{"salary": json.RawMessage(`1`)}},
	})
	assert.ErrorIs(t, err, scoring.ErrInvalidApplication)
	assert.Equal(t, StateUnloaded, m.State(), "nothing is scored")
}

func TestManager_SimulateEmpty(t *testing.T) {
	m := newTestManager(t, true, nil, nil)
	sim, err := m.Simulate(context.Background(), *testingpkg.ReferenceApplication(), nil)
	require.NoError(t, err)
	assert.Empty(t, sim.Results)
	assert.Nil(t, sim.Comparison)
}

func TestRetrainJob_Name(t *testing.T) {
	assert.Equal(t, "model_retrain", NewRetrainJob(nil, 0, zerolog.Nop()).Name())
}

func TestManager_SimulateFixtures(t *testing.T) {
	m := newTestManager(t, true, nil, nil)

	sim, err := m.Simulate(context.Background(), *testingpkg.StrainedApplication(), testingpkg.ScenarioFixtures())
	require.NoError(t, err)
	require.Len(t, sim.Results, 2)
	require.NotNil(t, sim.Comparison)

	assert.Equal(t, "Higher income", sim.Results[0].ScenarioName)
	assert.Equal(t, []string{"monthly_income"}, sim.Results[0].OverriddenFields)
	assert.Equal(t, "Same applicant after two missed payments", sim.Results[1].Description)
	assert.Equal(t, []string{"payment_defaults"}, sim.Results[1].OverriddenFields)
}

func TestManager_CorruptBundleRetrains(t *testing.T) {
	dir := copyFixture(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bundle.msgpack"), []byte("not a bundle"), 0644))

	m, err := New(Config{
		ModelDir: dir,
		Training: smallTraining(t.TempDir()),
	}, nil, nil, zerolog.Nop())
	require.NoError(t, err)

	restoreFailed := metrics.ModelLoadsTotal.WithLabelValues("restore", "failed")
	trained := metrics.ModelLoadsTotal.WithLabelValues("train", "ok")
	failedBefore, trainedBefore := testutil.ToFloat64(restoreFailed), testutil.ToFloat64(trained)

	require.NoError(t, m.Load(context.Background(), false))
	assert.Equal(t, StateReady, m.State())
	assert.Equal(t, 1.0, testutil.ToFloat64(restoreFailed)-failedBefore)
	assert.Equal(t, 1.0, testutil.ToFloat64(trained)-trainedBefore)

	// The retrain replaced the corrupt bundle
	_, err = training.LoadModel(dir, zerolog.Nop())
	assert.NoError(t, err)
}

func TestManager_ScoresDuringRetrain(t *testing.T) {
	requested := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		once.Do(func() { close(requested) })
		<-release
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()
	var releaseOnce sync.Once
	unblock := func() { releaseOnce.Do(func() { close(release) }) }
	defer unblock()

	cfg := smallTraining(t.TempDir())
	cfg.Loader.URL = srv.URL
	cfg.Loader.DownloadTimeout = time.Minute

	m, err := New(Config{ModelDir: copyFixture(t), Training: cfg}, nil, nil, zerolog.Nop())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, m.Load(ctx, false))
	require.Equal(t, StateReady, m.State())
	first := *m.Stats().LastUpdate

	done := make(chan error, 1)
	go func() { done <- m.Train(ctx) }()

	select {
	case <-requested:
	case <-time.After(30 * time.Second):
		t.Fatal("retrain never reached the dataset download")
	}

	// The retrain is parked on the download; the old snapshot keeps serving
	assert.Equal(t, StateRetraining, m.State())
	for i := 0; i < 20; i++ {
		out, err := m.Score(ctx, testingpkg.ReferenceApplication())
		require.NoError(t, err)
		assert.NotNil(t, out)
	}
	assert.True(t, m.Ready())

	unblock()
	require.NoError(t, <-done)
	assert.Equal(t, StateReady, m.State())
	assert.False(t, m.Stats().LastUpdate.Before(first))
	assert.Equal(t, string(dataprep.SourceSynthetic), m.Stats().DataSource)
}

func TestManager_FailedRetrainUnloads(t *testing.T) {
	cfg := smallTraining(t.TempDir())
	cfg.Loader.AllowSynthetic = false

	m, err := New(Config{ModelDir: copyFixture(t), Training: cfg}, nil, nil, zerolog.Nop())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, m.Load(ctx, false))
	require.Equal(t, StateReady, m.State())

	err = m.Train(ctx)
	assert.ErrorIs(t, err, training.ErrTraining)
	assert.ErrorIs(t, err, dataprep.ErrDataset)
	assert.Equal(t, StateUnloaded, m.State())
	assert.False(t, m.Ready())
	assert.False(t, m.Stats().Loaded)

	_, err = m.Score(ctx, testingpkg.ReferenceApplication())
	assert.ErrorIs(t, err, ErrNotReady)
}
