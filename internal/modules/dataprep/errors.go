package dataprep

import (
	"errors"
	"fmt"
)

var (
	// ErrDataset is returned when source data is unreadable or malformed.
	ErrDataset = errors.New("dataset error")
	// ErrSchemaMismatch is returned when rows do not conform to the fitted schema.
	ErrSchemaMismatch = errors.New("schema mismatch")
	// ErrNotFitted is returned when transforms are used before fitting or restoring.
	ErrNotFitted = errors.New("preparer not fitted")
)

// UnseenCategory is a non-fatal warning: a categorical value outside the
// fitted vocabulary was replaced by the code of the first class.
type UnseenCategory struct {
	Feature  string `json:"feature"`
	Value    string `json:"value"`
	Fallback string `json:"fallback"`
	Code     int    `json:"code"`
}

func (u UnseenCategory) String() string {
	return fmt.Sprintf("unseen category %q for %s, using %q", u.Value, u.Feature, u.Fallback)
}
