package credentials

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Phase is the externally visible credential lifecycle phase.
type Phase string

const (
	PhaseEmpty      Phase = "empty"
	PhaseGenerating Phase = "generating"
	PhaseValid      Phase = "valid"
	PhaseError      Phase = "error"
)

// State is the persisted credential-state record. Valid and Generating are
// never simultaneously true.
type State struct {
	GeneratedAt time.Time `json:"generated_at"`
	ExpiresAt   time.Time `json:"expires_at"`
	Valid       bool      `json:"valid"`
	Generating  bool      `json:"generating"`
	Path        string    `json:"path"`
	LastError   string    `json:"last_error,omitempty"`
	LastErrorAt time.Time `json:"last_error_at,omitempty"`
}

// Phase derives the lifecycle phase from the stored flags.
func (s State) Phase() Phase {
	switch {
	case s.Generating:
		return PhaseGenerating
	case s.Valid:
		return PhaseValid
	case s.LastError != "":
		return PhaseError
	default:
		return PhaseEmpty
	}
}

// IsExpired reports whether the artifact is past its TTL.
func (s State) IsExpired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// ShouldRegenerate reports whether a fresh generation cycle is due.
func (s State) ShouldRegenerate(now time.Time) bool {
	if s.Generating {
		return false
	}

	if !s.Valid || s.IsExpired(now) || s.Path == "" {
		return true
	}

	if _, err := os.Stat(s.Path); err != nil {
		return true
	}

	return false
}

func loadState(path string) (State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return State{}, nil
		}

		return State{}, fmt.Errorf("failed to read credential state: %w", err)
	}

	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return State{}, fmt.Errorf("failed to decode credential state: %w", err)
	}

	// A crash mid-generation must not wedge the manager on restart.
	s.Generating = false

	return s, nil
}

func saveState(path string, s State) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode credential state: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return &StorageError{Operation: "save_state", Err: err}
	}

	return nil
}
