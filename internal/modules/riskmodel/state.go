package riskmodel

import (
	"github.com/goccy/go-json"
)

// State is the model lifecycle state.
type State int32

const (
	StateUnloaded State = iota
	StateLoading
	StateReady
	StateRetraining
)

func (s State) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateRetraining:
		return "retraining"
	default:
		return "unknown"
	}
}

// MarshalJSON renders the state by name.
func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}
