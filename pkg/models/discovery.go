package models

// QueryKind selects how a discovery request is resolved.
type QueryKind string

const (
	KindSearch QueryKind = "search"
	KindPantry QueryKind = "pantry"
	KindCode   QueryKind = "code"
)

// ResultSource reports which layer produced a discovery result.
type ResultSource string

const (
	SourceCache      ResultSource = "cache"
	SourceAggregator ResultSource = "aggregator"
	SourceGenerated  ResultSource = "generated"
)

// Outcome classifies a discovery result for the UI.
type Outcome string

const (
	OutcomeOK               Outcome = "ok"
	OutcomeNoResults        Outcome = "no_results"
	OutcomeInvalidTerm      Outcome = "invalid_term"
	OutcomeGenerationFailed Outcome = "generation_failed"
	OutcomeLimitReached     Outcome = "limit_reached"
	OutcomePartial          Outcome = "partial"
	OutcomeError            Outcome = "error"
)

// DiscoverRequest is a single query issued by the UI layer.
type DiscoverRequest struct {
	UserID   string        `json:"user_id,omitempty"`
	Kind     QueryKind     `json:"kind"`
	Query    string        `json:"query,omitempty"`
	Options  SearchOptions `json:"options,omitempty"`
	Generate bool          `json:"generate,omitempty"`
}

// DiscoverResult is the unified, deduplicated answer to a DiscoverRequest.
type DiscoverResult struct {
	Candidates []RecipeCandidate `json:"candidates"`
	Source     ResultSource      `json:"source"`
	Outcome    Outcome           `json:"outcome"`
	Message    string            `json:"message,omitempty"`
	SessionID  string            `json:"session_id,omitempty"`
	Partial    bool              `json:"partial,omitempty"`
}
