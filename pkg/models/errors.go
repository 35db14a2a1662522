package models

import "errors"

var (
	// ErrSourceUnavailable marks a single external index failing (timeout, 4xx, 5xx).
	ErrSourceUnavailable = errors.New("source unavailable")
	// ErrAllSourcesExhausted is returned when no source produced a usable result.
	ErrAllSourcesExhausted = errors.New("all sources exhausted")
	// ErrRateLimited is returned when a call cannot be admitted in time.
	ErrRateLimited = errors.New("rate limited")
	// ErrInvalidSearchTerm is returned when the validator rejects a term.
	ErrInvalidSearchTerm = errors.New("search term is not food related")
	// ErrGenerationFailed is returned when the synthesis provider fails twice.
	ErrGenerationFailed = errors.New("recipe generation failed")
	// ErrDuplicateGenerated marks a generated recipe that was already seen.
	ErrDuplicateGenerated = errors.New("duplicate generated recipe")
	// ErrCacheCorrupt marks an unparsable cache entry.
	ErrCacheCorrupt = errors.New("cache entry corrupt")
	// ErrLimitReached is returned once a session hit its cap.
	ErrLimitReached = errors.New("generation limit reached")
	// ErrGenerationInProgress is returned when a step is already running.
	ErrGenerationInProgress = errors.New("generation already in progress")
	// ErrSessionNotFound is returned for unknown or discarded session ids.
	ErrSessionNotFound = errors.New("session not found")
	// ErrFoodNotFound is returned when a food index has no entry for an id.
	ErrFoodNotFound = errors.New("food not found")
	// ErrFoodSearchDisabled is returned when no food index is configured.
	ErrFoodSearchDisabled = errors.New("food search is not configured")
)
