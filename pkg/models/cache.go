package models

import "time"

// CacheEntry is a cached result set for one request fingerprint.
type CacheEntry struct {
	Key          string            `json:"key"`
	Payload      []RecipeCandidate `json:"payload"`
	Signature    string            `json:"signature,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	ErrorMessage string            `json:"error_message,omitempty"`
}

// CacheStats reports cache performance metrics.
type CacheStats struct {
	Entries int64 `json:"entries"`
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
	Corrupt int64 `json:"corrupt"`
}
