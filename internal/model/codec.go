package model

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Decode parses a stored document. Validation is shallow: the payload must
// be a JSON object carrying a non-null orgs field.
func Decode(payload []byte) (AppState, error) {
	var probe struct {
		Orgs json.RawMessage `json:"orgs"`
	}
	if err := json.Unmarshal(payload, &probe); err != nil {
		return AppState{}, fmt.Errorf("%w: %v", ErrInvalidStructure, err)
	}
	orgs := bytes.TrimSpace(probe.Orgs)
	if len(orgs) == 0 || bytes.Equal(orgs, []byte("null")) {
		return AppState{}, ErrInvalidStructure
	}

	var state AppState
	if err := json.Unmarshal(payload, &state); err != nil {
		return AppState{}, fmt.Errorf("%w: %v", ErrInvalidStructure, err)
	}
	return state, nil
}

func Encode(state AppState) ([]byte, error) {
	payload, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("marshal state: %w", err)
	}
	return payload, nil
}
