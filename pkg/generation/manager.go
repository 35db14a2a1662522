package generation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/avast/retry-go"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/larder-app/larder/pkg/logging"
	"github.com/larder-app/larder/pkg/models"
	"github.com/larder-app/larder/pkg/synthesis"
)

// Defaults applied when a Config field is zero.
const (
	DefaultCap          = 5
	DefaultNameAttempts = 3
	SourceName          = "larder-ai"
)

// Config bounds a session.
type Config struct {
	Cap          int `yaml:"cap"`
	NameAttempts int `yaml:"name_attempts"`
}

// Manager owns the generation sessions, at most one per owner.
type Manager struct {
	provider synthesis.Provider
	cap      int
	attempts int
	log      *logrus.Logger
	now      func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
	byOwner  map[string]string
}

// NewManager creates a Manager. A nil provider makes every step fail.
func NewManager(provider synthesis.Provider, cfg Config, log *logrus.Logger) *Manager {
	if cfg.Cap <= 0 {
		cfg.Cap = DefaultCap
	}
	if cfg.NameAttempts <= 0 {
		cfg.NameAttempts = DefaultNameAttempts
	}
	return &Manager{
		provider: provider,
		cap:      cfg.Cap,
		attempts: cfg.NameAttempts,
		log:      logging.OrDiscard(log),
		now:      time.Now,
		sessions: make(map[string]*Session),
		byOwner:  make(map[string]string),
	}
}

// Enabled reports whether a synthesis provider is configured.
func (m *Manager) Enabled() bool { return m.provider != nil }

// Cap returns the per-term result cap.
func (m *Manager) Cap() int { return m.cap }

// Open returns owner's session for term, creating it if needed. A session
// for a different term is discarded first. shown are the results already
// displayed for the term; they count toward the cap and are never
// generated again.
func (m *Manager) Open(owner, term string, shown []models.RecipeCandidate, sctx synthesis.Context) *Session {
	norm := models.NormalizeTerm(term)

	m.mu.Lock()
	defer m.mu.Unlock()

	if id, ok := m.byOwner[owner]; ok {
		if s := m.sessions[id]; s != nil && s.term == norm {
			s.mu.Lock()
			s.addShown(shown)
			s.updatedAt = m.now()
			s.mu.Unlock()
			return s
		}
		delete(m.sessions, id)
		m.log.WithFields(logrus.Fields{"session": id, "owner": owner}).Debug("session discarded for new term")
	}

	sctx.Term = norm
	s := newSession(uuid.NewString(), owner, norm, m.cap, sctx, m.now())
	s.addShown(shown)
	m.sessions[s.id] = s
	m.byOwner[owner] = s.id
	m.log.WithFields(logrus.Fields{"session": s.id, "term": norm, "shown": s.aggregatorCount}).Debug("session opened")
	return s
}

// Get returns the session with id.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrSessionNotFound, id)
	}
	return s, nil
}

// Discard drops a session. Unknown ids are ignored.
func (m *Manager) Discard(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return
	}
	delete(m.sessions, id)
	if m.byOwner[s.owner] == id {
		delete(m.byOwner, s.owner)
	}
}

// Status returns a snapshot of the session with id.
func (m *Manager) Status(id string) (models.SessionStatus, error) {
	s, err := m.Get(id)
	if err != nil {
		return models.SessionStatus{}, err
	}
	return s.status(), nil
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// GenerateAnother runs one generation step for session id and returns the
// new recipe. It returns (nil, nil) when every candidate collided with a
// result already shown.
func (m *Manager) GenerateAnother(ctx context.Context, id string) (*models.RecipeCandidate, error) {
	s, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	if err := m.begin(s); err != nil {
		return nil, err
	}
	defer func() {
		s.mu.Lock()
		s.inFlight = false
		s.mu.Unlock()
	}()

	log := m.log.WithFields(logrus.Fields{"session": s.id, "term": s.term})

	if err := m.validate(ctx, s, log); err != nil {
		return nil, err
	}
	m.suggest(ctx, s, log)

	s.setState(models.StateGenerating, "", m.now())
	for range m.attempts {
		name := m.nextName(s)
		recipe, err := m.synthesize(ctx, s, name, log)
		if errors.Is(err, models.ErrDuplicateGenerated) {
			log.WithField("name", name).Debug("duplicate recipe discarded")
			continue
		}
		if err != nil {
			s.setState(models.StateFailed, "recipe generation failed, try again", m.now())
			return nil, fmt.Errorf("%w: %w", models.ErrGenerationFailed, err)
		}

		c := recipe.Candidate(SourceName)
		if added := m.record(s, c); added {
			log.WithField("recipe", c.ID).Info("recipe generated")
			return &c, nil
		}
		log.WithField("name", name).Debug("duplicate recipe discarded")
	}

	s.setState(models.StateComplete, "no new recipe found", m.now())
	return nil, nil
}

// begin claims the session's single step slot.
func (m *Manager) begin(s *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.state == models.StateLimitReached || s.total() >= s.cap:
		s.state = models.StateLimitReached
		return models.ErrLimitReached
	case s.inFlight:
		return models.ErrGenerationInProgress
	case s.state == models.StateInvalid:
		return models.ErrInvalidSearchTerm
	}
	if m.provider == nil {
		s.state = models.StateFailed
		s.message = "recipe generation is not configured"
		return fmt.Errorf("%w: no synthesis provider", models.ErrGenerationFailed)
	}
	s.inFlight = true
	return nil
}

// validate asks the provider whether the term is food related. Sessions
// seeded with aggregator results skip it, and a provider error lets the
// term through.
func (m *Manager) validate(ctx context.Context, s *Session, log *logrus.Entry) error {
	s.mu.Lock()
	skip := s.validated || s.aggregatorCount > 0
	s.mu.Unlock()
	if skip {
		return nil
	}

	s.setState(models.StateValidating, "", m.now())
	v, err := m.provider.ValidateTerm(ctx, s.term)
	if err != nil {
		log.WithError(err).Warn("term validation failed, continuing")
		v = synthesis.Validation{Valid: true}
	}
	if !v.Valid {
		msg := v.Reason
		if msg == "" {
			msg = "search term is not food related"
		}
		s.setState(models.StateInvalid, msg, m.now())
		return models.ErrInvalidSearchTerm
	}

	s.mu.Lock()
	s.validated = true
	s.mu.Unlock()
	return nil
}

// suggest refills the pending name queue, falling back to the raw term.
func (m *Manager) suggest(ctx context.Context, s *Session, log *logrus.Entry) {
	s.mu.Lock()
	need := len(s.pending) == 0
	n := s.cap - s.total()
	s.mu.Unlock()
	if !need {
		return
	}

	s.setState(models.StateSuggesting, "", m.now())
	_, titles := s.avoidList()
	sctx := s.sctx
	sctx.AvoidTitles = titles

	names, err := m.provider.SuggestNames(ctx, s.term, n, sctx)
	if err != nil {
		log.WithError(err).Warn("name suggestion failed, using search term")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, name := range names {
		if _, dup := s.seenTitles[models.NormalizeTerm(name)]; dup {
			continue
		}
		s.pending = append(s.pending, name)
	}
	if len(s.pending) == 0 {
		s.pending = []string{s.term}
	}
}

// nextName pops the next pending name, or the term once the queue is empty.
func (m *Manager) nextName(s *Session) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) == 0 {
		return s.term
	}
	name := s.pending[0]
	s.pending = s.pending[1:]
	return name
}

// synthesize writes a recipe for name, retrying once with the raw term.
func (m *Manager) synthesize(ctx context.Context, s *Session, name string, log *logrus.Entry) (*models.Recipe, error) {
	avoidIDs, titles := s.avoidList()
	sctx := s.sctx
	sctx.AvoidTitles = titles

	var recipe *models.Recipe
	attempt := 0
	err := retry.Do(
		func() error {
			target := name
			if attempt > 0 {
				target = s.term
			}
			attempt++
			r, err := m.provider.SynthesizeRecipe(ctx, target, sctx, avoidIDs)
			if err != nil {
				return err
			}
			recipe = r
			return nil
		},
		retry.Attempts(2),
		retry.Context(ctx),
		retry.Delay(0),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return !errors.Is(err, models.ErrDuplicateGenerated) && ctx.Err() == nil
		}),
		retry.OnRetry(func(n uint, err error) {
			log.WithError(err).WithField("name", name).Warn("synthesis failed, retrying with search term")
		}),
	)
	if err != nil {
		return nil, err
	}
	return recipe, nil
}

// record adds c unless it collides. It reports whether c was added.
func (m *Manager) record(s *Session, c models.RecipeCandidate) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seen(c) || s.total() >= s.cap {
		return false
	}
	s.remember(c)
	s.generated = append(s.generated, c)
	s.updatedAt = m.now()
	s.message = ""
	if s.total() >= s.cap {
		s.state = models.StateLimitReached
	} else {
		s.state = models.StateComplete
	}
	return true
}
