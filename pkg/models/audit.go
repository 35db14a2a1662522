package models

import "time"

// AuditEntry records the outcome of a single discovery operation.
type AuditEntry struct {
	RequestID      string       `json:"request_id"`
	UserHash       string       `json:"user_hash"`
	Operation      string       `json:"operation"` // discover, refresh, generate
	Kind           QueryKind    `json:"kind,omitempty"`
	Query          string       `json:"query,omitempty"`
	SessionID      string       `json:"session_id,omitempty"`
	Source         ResultSource `json:"source,omitempty"`
	Outcome        Outcome      `json:"outcome"`
	CandidateCount int          `json:"candidate_count"`
	Message        string       `json:"message,omitempty"`
	LatencyMs      int64        `json:"latency_ms"`
	CreatedAt      time.Time    `json:"created_at"`
}

// AuditConfig controls the audit logging subsystem.
type AuditConfig struct {
	Enabled       bool   `yaml:"enabled"`
	DBPath        string `yaml:"db_path"`
	RetentionDays int    `yaml:"retention_days"`
	IncludeQuery  bool   `yaml:"include_query"`
	MaxQuerySize  int    `yaml:"max_query_size"` // bytes
}

// AuditQueryOpts specifies filters for querying audit entries.
type AuditQueryOpts struct {
	Operation string
	Outcome   Outcome
	Since     time.Time
	SessionID string
	RequestID string
	Limit     int
}

// AuditStat holds aggregate audit counts for an outcome/day combination.
type AuditStat struct {
	Outcome Outcome
	Day     string
	Count   int
}
