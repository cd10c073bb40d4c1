package dataprep

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/aristath/riskscore/internal/artifacts"
	"github.com/rs/zerolog"
)

const (
	columnsFile   = "columns.json"
	scalerFile    = "scaler.json"
	encoderPrefix = "encoder_"
)

// columnsArtifact freezes the schema and the categorical/numeric split.
type columnsArtifact struct {
	Schema      Schema   `json:"schema"`
	Categorical []string `json:"categorical"`
	Numeric     []string `json:"numeric"`
}

func encoderPath(dir, feature string) string {
	return filepath.Join(dir, encoderPrefix+feature+".json")
}

// Persist writes every encoder, the scaler, and the column lists to dir.
func (p *Preparer) Persist(dir string) error {
	if !p.Fitted() {
		return ErrNotFitted
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create preprocessors directory: %w", err)
	}

	cols := columnsArtifact{
		Schema:      p.schema,
		Categorical: p.schema.ByKind(Categorical),
		Numeric:     p.schema.ByKind(Numeric),
	}
	if err := artifacts.WriteJSON(filepath.Join(dir, columnsFile), cols); err != nil {
		return err
	}
	if err := artifacts.WriteJSON(filepath.Join(dir, scalerFile), p.scaler); err != nil {
		return err
	}
	for _, name := range cols.Categorical {
		if err := artifacts.WriteJSON(encoderPath(dir, name), p.encoders[name]); err != nil {
			return err
		}
	}

	p.log.Debug().Str("dir", dir).Int("encoders", len(cols.Categorical)).Msg("Persisted preprocessors")
	return nil
}

// Restore rebuilds a fitted preparer from artifacts written by Persist.
func Restore(dir string, log zerolog.Logger) (*Preparer, error) {
	var cols columnsArtifact
	if err := artifacts.ReadJSON(filepath.Join(dir, columnsFile), &cols); err != nil {
		return nil, fmt.Errorf("failed to read column lists: %w", err)
	}
	if err := cols.Schema.Validate(); err != nil {
		return nil, err
	}

	var scaler Scaler
	if err := artifacts.ReadJSON(filepath.Join(dir, scalerFile), &scaler); err != nil {
		return nil, fmt.Errorf("failed to read scaler: %w", err)
	}
	if err := scaler.validate(); err != nil {
		return nil, err
	}

	p := NewPreparer(cols.Schema, log)
	p.scaler = &scaler
	p.encoders = make(map[string]*Encoder, len(cols.Categorical))
	p.scalerIndex = make([]int, cols.Schema.Len())

	numericPos := make(map[string]int, len(scaler.Features))
	for i, name := range scaler.Features {
		numericPos[name] = i
	}

	for j, f := range cols.Schema.Features {
		switch f.Kind {
		case Categorical:
			var enc Encoder
			if err := artifacts.ReadJSON(encoderPath(dir, f.Name), &enc); err != nil {
				return nil, fmt.Errorf("failed to read encoder for %s: %w", f.Name, err)
			}
			p.encoders[f.Name] = newEncoder(f.Name, enc.Classes)
			p.scalerIndex[j] = -1
		case Numeric:
			i, ok := numericPos[f.Name]
			if !ok {
				return nil, fmt.Errorf("%w: scaler has no statistics for %s", ErrSchemaMismatch, f.Name)
			}
			p.scalerIndex[j] = i
		}
	}

	p.log.Debug().Str("dir", dir).Msg("Restored preprocessors")
	return p, nil
}
