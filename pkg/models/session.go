package models

import "time"

// SessionState is a generation session's position in its lifecycle.
type SessionState string

const (
	StateIdle         SessionState = "idle"
	StateValidating   SessionState = "validating"
	StateSuggesting   SessionState = "suggesting"
	StateGenerating   SessionState = "generating"
	StateComplete     SessionState = "complete"
	StateLimitReached SessionState = "limit_reached"
	StateInvalid      SessionState = "invalid"
	StateFailed       SessionState = "failed"
)

// SessionStatus is a point-in-time snapshot of a generation session.
type SessionStatus struct {
	ID              string            `json:"id"`
	Term            string            `json:"term"`
	State           SessionState      `json:"state"`
	GeneratedCount  int               `json:"generated_count"`
	AggregatorCount int               `json:"aggregator_count"`
	TotalCount      int               `json:"total_count"`
	Cap             int               `json:"cap"`
	InFlight        bool              `json:"in_flight"`
	Generated       []RecipeCandidate `json:"generated,omitempty"`
	Message         string            `json:"message,omitempty"`
	UpdatedAt       time.Time         `json:"updated_at"`
}
