package explain

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/aristath/riskscore/internal/metrics"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// PressureProbe reports whether optional writes should be skipped.
type PressureProbe interface {
	UnderPressure() bool
}

// Store keeps explanation artifacts as <id>.json and <id>.svg under one directory.
type Store struct {
	dir   string
	probe PressureProbe
	log   zerolog.Logger
}

// NewStore creates an artifact store. probe may be nil.
func NewStore(dir string, probe PressureProbe, log zerolog.Logger) *Store {
	return &Store{
		dir:   dir,
		probe: probe,
		log:   log.With().Str("component", "explanation_store").Logger(),
	}
}

// Dir returns the artifact directory.
func (s *Store) Dir() string {
	return s.dir
}

// Save writes both artifacts and returns their id. Under memory pressure
// nothing is written and skipped is true.
func (s *Store) Save(expl *Explanation) (id string, skipped bool, err error) {
	if s.probe != nil && s.probe.UnderPressure() {
		metrics.ArtifactWritesSkippedTotal.Inc()
		s.log.Warn().Msg("Skipping explanation artifacts under memory pressure")
		return "", true, nil
	}

	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return "", false, fmt.Errorf("%w: %v", ErrExplanation, err)
	}

	id = uuid.New().String()
	if err := Persist(expl, s.jsonPath(id)); err != nil {
		return "", false, err
	}
	if err := RenderWaterfall(expl, s.svgPath(id)); err != nil {
		return "", false, err
	}

	s.log.Debug().Str("id", id).Msg("Explanation artifacts written")
	return id, false, nil
}

// Load reads a stored explanation by id.
func (s *Store) Load(id string) (*Explanation, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("%w: invalid artifact id %q", ErrExplanation, id)
	}
	return Restore(s.jsonPath(id))
}

func (s *Store) jsonPath(id string) string {
	return filepath.Join(s.dir, id+".json")
}

func (s *Store) svgPath(id string) string {
	return filepath.Join(s.dir, id+".svg")
}
