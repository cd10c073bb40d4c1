package dataprep

import (
	"fmt"
	"sort"
)

// Encoder maps a frozen, sorted vocabulary of category labels to integer codes.
type Encoder struct {
	Feature string   `json:"feature"`
	Classes []string `json:"classes"`

	index map[string]int
}

// FitEncoder learns the sorted set of distinct values.
func FitEncoder(feature string, values []string) *Encoder {
	seen := make(map[string]bool)
	classes := make([]string, 0)
	for _, v := range values {
		if !seen[v] {
			seen[v] = true
			classes = append(classes, v)
		}
	}
	sort.Strings(classes)
	return newEncoder(feature, classes)
}

func newEncoder(feature string, classes []string) *Encoder {
	e := &Encoder{Feature: feature, Classes: classes, index: make(map[string]int, len(classes))}
	for i, c := range classes {
		e.index[c] = i
	}
	return e
}

// Encode returns the code of value. Unseen values return the first class's
// code (0) and ok=false.
func (e *Encoder) Encode(value string) (code int, ok bool) {
	if c, found := e.index[value]; found {
		return c, true
	}
	return 0, false
}

// Decode returns the label for code.
func (e *Encoder) Decode(code int) (string, error) {
	if code < 0 || code >= len(e.Classes) {
		return "", fmt.Errorf("code %d out of range for %s", code, e.Feature)
	}
	return e.Classes[code], nil
}

// Len returns the vocabulary size.
func (e *Encoder) Len() int {
	return len(e.Classes)
}
