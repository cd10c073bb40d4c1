package training

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/aristath/riskscore/internal/artifacts"
	"github.com/aristath/riskscore/internal/modules/dataprep"
	"github.com/aristath/riskscore/internal/modules/forest"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	bundleFile          = "bundle.msgpack"
	metricsFile         = "metrics.json"
	hyperparametersFile = "hyperparameters.json"
	preprocessorsDir    = "preprocessors"

	bundleVersion = 1
)

// Hyperparameters records how the model was selected.
type Hyperparameters struct {
	BestParams   forest.Params      `json:"best_params"`
	RandomState  uint64             `json:"random_state"`
	Features     []string           `json:"features"`
	ClassWeights map[string]float64 `json:"class_weights"`
	BestCVAUC    float64            `json:"best_cv_roc_auc"`
	BaselineAUC  float64            `json:"baseline_roc_auc"`
	GridResults  []GridResult       `json:"grid_results"`
}

// Model is everything needed to score: the forest, the fitted preparer,
// the explainer background pool, and training metadata.
type Model struct {
	Forest          *forest.Forest
	Preparer        *dataprep.Preparer
	Metrics         *Metrics
	Hyperparameters *Hyperparameters
	Background      [][]float64
	DataSource      dataprep.Source
	TrainedAt       time.Time
}

type bundle struct {
	Version      int                 `msgpack:"version"`
	Forest       *forest.Forest      `msgpack:"forest"`
	Features     []string            `msgpack:"features"`
	ClassWeights forest.ClassWeights `msgpack:"class_weights"`
	Params       forest.Params       `msgpack:"params"`
	Background   [][]float64         `msgpack:"background"`
	DataSource   string              `msgpack:"data_source"`
	TrainedAt    time.Time           `msgpack:"trained_at"`
}

// Save writes the current model bundle to dir.
func (t *Trainer) Save(dir string) error {
	m, err := t.Model()
	if err != nil {
		return err
	}
	if err := SaveModel(dir, m); err != nil {
		return err
	}
	t.log.Info().Str("dir", dir).Msg("Model bundle saved")
	return nil
}

// SaveModel stages the bundle in a sibling directory and swaps it into dir,
// so a reader never sees a half-written bundle.
func SaveModel(dir string, m *Model) error {
	b := bundle{
		Version:      bundleVersion,
		Forest:       m.Forest,
		Features:     m.Preparer.Schema().Names(),
		ClassWeights: m.Forest.ClassWeights,
		Params:       m.Forest.Params,
		Background:   m.Background,
		DataSource:   string(m.DataSource),
		TrainedAt:    m.TrainedAt,
	}

	err := artifacts.ReplaceDir(dir, func(staging string) error {
		err := artifacts.WriteAtomic(filepath.Join(staging, bundleFile), 0644, func(w io.Writer) error {
			return msgpack.NewEncoder(w).Encode(&b)
		})
		if err != nil {
			return fmt.Errorf("failed to write bundle: %w", err)
		}
		if m.Metrics != nil {
			if err := artifacts.WriteJSON(filepath.Join(staging, metricsFile), m.Metrics); err != nil {
				return err
			}
		}
		if m.Hyperparameters != nil {
			if err := artifacts.WriteJSON(filepath.Join(staging, hyperparametersFile), m.Hyperparameters); err != nil {
				return err
			}
		}
		return m.Preparer.Persist(filepath.Join(staging, preprocessorsDir))
	})
	if err != nil {
		return fmt.Errorf("%w: save: %w", ErrTraining, err)
	}
	return nil
}

// Load restores a bundle into the trainer. The trainer can then Predict and
// Save but has no evaluation split until Prepare runs.
func (t *Trainer) Load(dir string) (*Model, error) {
	m, err := LoadModel(dir, t.log)
	if err != nil {
		return nil, err
	}
	t.model = m.Forest
	t.params = m.Forest.Params
	t.classWeights = m.Forest.ClassWeights
	t.preparer = m.Preparer
	t.source = m.DataSource
	t.trainedAt = m.TrainedAt
	t.evaluation = m.Metrics
	t.split = nil
	if m.Hyperparameters != nil {
		t.gridResults = m.Hyperparameters.GridResults
		t.bestCVAUC = m.Hyperparameters.BestCVAUC
		t.baselineAUC = m.Hyperparameters.BaselineAUC
	}
	return m, nil
}

// LoadModel reads a bundle written by SaveModel. Metrics and
// hyperparameters are optional; everything else must be present and
// consistent.
func LoadModel(dir string, log zerolog.Logger) (*Model, error) {
	f, err := os.Open(filepath.Join(dir, bundleFile))
	if err != nil {
		return nil, fmt.Errorf("failed to open bundle: %w", err)
	}
	defer f.Close()

	var b bundle
	if err := msgpack.NewDecoder(f).Decode(&b); err != nil {
		return nil, fmt.Errorf("failed to decode bundle: %w", err)
	}
	if b.Version != bundleVersion {
		return nil, fmt.Errorf("unsupported bundle version %d", b.Version)
	}
	if b.Forest == nil {
		return nil, errors.New("bundle has no forest")
	}
	if err := b.Forest.Validate(); err != nil {
		return nil, err
	}

	preparer, err := dataprep.Restore(filepath.Join(dir, preprocessorsDir), log)
	if err != nil {
		return nil, err
	}
	if names := preparer.Schema().Names(); !slices.Equal(names, b.Features) || len(names) != b.Forest.NFeatures {
		return nil, fmt.Errorf("%w: bundle features do not match preprocessors", dataprep.ErrSchemaMismatch)
	}

	m := &Model{
		Forest:     b.Forest,
		Preparer:   preparer,
		Background: b.Background,
		DataSource: dataprep.Source(b.DataSource),
		TrainedAt:  b.TrainedAt,
	}

	var evaluation Metrics
	if err := readOptionalJSON(filepath.Join(dir, metricsFile), &evaluation); err != nil {
		return nil, err
	} else if !evaluation.EvaluatedAt.IsZero() {
		m.Metrics = &evaluation
	}
	var hp Hyperparameters
	if err := readOptionalJSON(filepath.Join(dir, hyperparametersFile), &hp); err != nil {
		return nil, err
	} else if hp.Features != nil {
		m.Hyperparameters = &hp
	}

	log.Info().
		Str("dir", dir).
		Int("trees", len(b.Forest.Trees)).
		Str("data_source", b.DataSource).
		Time("trained_at", b.TrainedAt).
		Msg("Model bundle loaded")
	return m, nil
}

func readOptionalJSON(path string, v interface{}) error {
	err := artifacts.ReadJSON(path, v)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}
