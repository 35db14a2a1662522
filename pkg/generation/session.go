// Package generation tracks AI recipe generation per search term: the cap on
// results shown, duplicate suppression and one step in flight at a time.
package generation

import (
	"sync"
	"time"

	"github.com/larder-app/larder/pkg/models"
	"github.com/larder-app/larder/pkg/synthesis"
)

// Session is the generation state for one owner and one normalized term.
// All fields are guarded by mu; provider calls run without it.
type Session struct {
	mu sync.Mutex

	id    string
	owner string
	term  string
	cap   int
	sctx  synthesis.Context

	state           models.SessionState
	aggregatorCount int
	generated       []models.RecipeCandidate
	seenIDs         map[string]struct{}
	seenTitles      map[string]struct{}
	pending         []string
	validated       bool
	inFlight        bool
	message         string
	updatedAt       time.Time
}

func newSession(id, owner, term string, limit int, sctx synthesis.Context, now time.Time) *Session {
	return &Session{
		id:         id,
		owner:      owner,
		term:       term,
		cap:        limit,
		sctx:       sctx,
		state:      models.StateIdle,
		seenIDs:    make(map[string]struct{}),
		seenTitles: make(map[string]struct{}),
		updatedAt:  now,
	}
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Term returns the normalized term the session belongs to.
func (s *Session) Term() string { return s.term }

// Owner returns the user the session was opened for.
func (s *Session) Owner() string { return s.owner }

// Kind reports whether the session was opened from a pantry query.
func (s *Session) Kind() models.QueryKind {
	if len(s.sctx.Ingredients) > 0 {
		return models.KindPantry
	}
	return models.KindSearch
}

func (s *Session) total() int { return s.aggregatorCount + len(s.generated) }

// seen reports whether c collides with anything already shown. Callers hold mu.
func (s *Session) seen(c models.RecipeCandidate) bool {
	if k := c.Key(); k != "" {
		if _, ok := s.seenIDs[k]; ok {
			return true
		}
	}
	_, ok := s.seenTitles[models.NormalizeTerm(c.Title)]
	return ok
}

// remember marks c as shown. Callers hold mu.
func (s *Session) remember(c models.RecipeCandidate) {
	if k := c.Key(); k != "" {
		s.seenIDs[k] = struct{}{}
	}
	if t := models.NormalizeTerm(c.Title); t != "" {
		s.seenTitles[t] = struct{}{}
	}
}

// addShown records aggregator results. Only unseen results count, and never
// beyond the cap. Callers hold mu.
func (s *Session) addShown(shown []models.RecipeCandidate) {
	for _, c := range shown {
		if s.seen(c) {
			continue
		}
		s.remember(c)
		if s.total() < s.cap {
			s.aggregatorCount++
		}
	}
	if s.total() >= s.cap {
		s.state = models.StateLimitReached
	}
}

func (s *Session) setState(state models.SessionState, msg string, now time.Time) {
	s.mu.Lock()
	s.state = state
	s.message = msg
	s.updatedAt = now
	s.mu.Unlock()
}

func (s *Session) status() models.SessionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	gen := make([]models.RecipeCandidate, len(s.generated))
	copy(gen, s.generated)
	return models.SessionStatus{
		ID:              s.id,
		Term:            s.term,
		State:           s.state,
		GeneratedCount:  len(s.generated),
		AggregatorCount: s.aggregatorCount,
		TotalCount:      s.total(),
		Cap:             s.cap,
		InFlight:        s.inFlight,
		Generated:       gen,
		Message:         s.message,
		UpdatedAt:       s.updatedAt,
	}
}

func (s *Session) avoidList() ([]string, []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.seenIDs))
	for id := range s.seenIDs {
		ids = append(ids, id)
	}
	titles := make([]string, 0, len(s.generated))
	for _, c := range s.generated {
		titles = append(titles, c.Title)
	}
	return ids, titles
}
