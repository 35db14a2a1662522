// Package discovery answers the UI's recipe queries: cache first, then the
// rate-limited sources, then AI generation when the sources come up short.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/larder-app/larder/pkg/aggregator"
	"github.com/larder-app/larder/pkg/audit"
	"github.com/larder-app/larder/pkg/cache"
	"github.com/larder-app/larder/pkg/generation"
	"github.com/larder-app/larder/pkg/logging"
	"github.com/larder-app/larder/pkg/models"
	"github.com/larder-app/larder/pkg/pantry"
	"github.com/larder-app/larder/pkg/signature"
	"github.com/larder-app/larder/pkg/synthesis"
)

// Defaults applied when a Config field is zero.
const (
	DefaultSearchTimeout   = 10 * time.Second
	DefaultGenerateTimeout = 30 * time.Second
	DefaultStepTimeout     = 120 * time.Second

	// how long a caller past its deadline waits for the flight's partial answer
	partialGrace = 50 * time.Millisecond
)

// Config holds request deadlines.
type Config struct {
	SearchTimeout       time.Duration `yaml:"search_timeout"`
	GenerateTimeout     time.Duration `yaml:"generate_timeout"`
	StepTimeout         time.Duration `yaml:"step_timeout"`
	PriorityIngredients int           `yaml:"priority_ingredients"`
}

// Auditor records discovery outcomes. *audit.Logger satisfies it.
type Auditor interface {
	Log(ctx context.Context, entry models.AuditEntry) error
}

// Orchestrator is the entry point for the four UI operations.
type Orchestrator struct {
	cfg      Config
	cache    *cache.Store
	agg      *aggregator.Aggregator
	pantry   pantry.Store
	sessions *generation.Manager
	foods    *aggregator.Foods
	auditor  Auditor
	log      *logrus.Logger
	now      func() time.Time

	flight  singleflight.Group
	pending sync.WaitGroup
}

// New creates an Orchestrator. pantryStore and auditor may be nil.
func New(cfg Config, c *cache.Store, agg *aggregator.Aggregator, pantryStore pantry.Store,
	sessions *generation.Manager, auditor Auditor, log *logrus.Logger) *Orchestrator {
	if cfg.SearchTimeout <= 0 {
		cfg.SearchTimeout = DefaultSearchTimeout
	}
	if cfg.GenerateTimeout <= 0 {
		cfg.GenerateTimeout = DefaultGenerateTimeout
	}
	if cfg.StepTimeout <= 0 {
		cfg.StepTimeout = DefaultStepTimeout
	}
	if cfg.PriorityIngredients <= 0 {
		cfg.PriorityIngredients = pantry.DefaultPriority
	}
	return &Orchestrator{
		cfg:      cfg,
		cache:    c,
		agg:      agg,
		pantry:   pantryStore,
		sessions: sessions,
		auditor:  auditor,
		log:      logging.OrDiscard(log),
		now:      time.Now,
	}
}

// query is a request resolved into cache and fetch terms.
type query struct {
	req         models.DiscoverRequest
	key         string
	signature   string
	term        string
	ingredients []string
	fetch       func(ctx context.Context) ([]models.RecipeCandidate, error)
}

func (q *query) eligible(m *generation.Manager) bool {
	return q.req.Generate && q.req.Kind != models.KindCode && m != nil && m.Enabled()
}

// Discover answers a query.
func (o *Orchestrator) Discover(ctx context.Context, req models.DiscoverRequest) (models.DiscoverResult, error) {
	start := o.now()
	res, err := o.discover(ctx, req, false)
	o.record("discover", req, res, err, start)
	return res, err
}

// ForceRefresh answers a query bypassing fresh cache entries. Within the
// cooldown after the last write the cached answer is served instead.
func (o *Orchestrator) ForceRefresh(ctx context.Context, req models.DiscoverRequest) (models.DiscoverResult, error) {
	start := o.now()
	res, err := o.discover(ctx, req, true)
	o.record("refresh", req, res, err, start)
	return res, err
}

// GenerateAnother runs one generation step for an open session.
func (o *Orchestrator) GenerateAnother(ctx context.Context, sessionID string) (models.DiscoverResult, error) {
	start := o.now()
	req := o.sessionRequest(sessionID)
	res, err := o.generateAnother(ctx, sessionID)
	o.record("generate", req, res, err, start)
	return res, err
}

// sessionRequest describes the query a session was opened for. Unknown
// sessions yield an empty request.
func (o *Orchestrator) sessionRequest(sessionID string) models.DiscoverRequest {
	if o.sessions == nil {
		return models.DiscoverRequest{}
	}
	s, err := o.sessions.Get(sessionID)
	if err != nil {
		return models.DiscoverRequest{}
	}
	return models.DiscoverRequest{UserID: s.Owner(), Kind: s.Kind(), Query: s.Term(), Generate: true}
}

// WithFoods enables food search and lookup through foods.
func (o *Orchestrator) WithFoods(foods *aggregator.Foods) *Orchestrator {
	o.foods = foods
	return o
}

// SearchFoods returns one page of foods matching query. It is bounded by the
// search timeout, including any wait for the source's rate limit.
func (o *Orchestrator) SearchFoods(ctx context.Context, query string, page, limit int) (models.FoodPage, error) {
	if o.foods == nil {
		return models.FoodPage{}, models.ErrFoodSearchDisabled
	}
	ctx, cancel := context.WithTimeout(ctx, o.cfg.SearchTimeout)
	defer cancel()
	return o.foods.Search(ctx, query, page, limit)
}

// Food returns a single food by its source id.
func (o *Orchestrator) Food(ctx context.Context, id string) (*models.Food, error) {
	if o.foods == nil {
		return nil, models.ErrFoodSearchDisabled
	}
	ctx, cancel := context.WithTimeout(ctx, o.cfg.SearchTimeout)
	defer cancel()
	return o.foods.Get(ctx, id)
}

// GetSessionStatus returns a snapshot of a generation session.
func (o *Orchestrator) GetSessionStatus(sessionID string) (models.SessionStatus, error) {
	if o.sessions == nil {
		return models.SessionStatus{}, fmt.Errorf("%w: %s", models.ErrSessionNotFound, sessionID)
	}
	return o.sessions.Status(sessionID)
}

// CacheStats reports result cache counters.
func (o *Orchestrator) CacheStats(ctx context.Context) (models.CacheStats, error) {
	return o.cache.Stats(ctx)
}

// Close waits for pending audit writes.
func (o *Orchestrator) Close() {
	o.pending.Wait()
}

func (o *Orchestrator) resolve(ctx context.Context, req models.DiscoverRequest) (*query, *models.DiscoverResult, error) {
	if req.Kind == "" {
		req.Kind = models.KindSearch
	}
	q := &query{req: req}

	switch req.Kind {
	case models.KindSearch:
		q.term = models.NormalizeTerm(req.Query)
		if q.term == "" {
			return nil, &models.DiscoverResult{Outcome: models.OutcomeInvalidTerm, Message: "enter a search term"}, nil
		}
		q.key = cache.Key(models.KindSearch, q.term, req.Options)
		q.fetch = func(ctx context.Context) ([]models.RecipeCandidate, error) {
			return o.agg.Search(ctx, q.term, req.Options)
		}

	case models.KindPantry:
		if o.pantry == nil {
			return nil, nil, errors.New("pantry store not configured")
		}
		items, err := o.pantry.ListItems(ctx, req.UserID)
		if err != nil {
			return nil, nil, fmt.Errorf("list pantry: %w", err)
		}
		q.signature = signature.Pantry(items)
		q.ingredients = pantry.PriorityIngredients(items, o.now(), o.cfg.PriorityIngredients)
		if len(q.ingredients) == 0 {
			return nil, &models.DiscoverResult{Outcome: models.OutcomeNoResults, Message: "your pantry is empty"}, nil
		}
		q.term = strings.Join(q.ingredients, ", ")
		q.key = cache.Key(models.KindPantry, req.UserID+"|"+req.Query, req.Options)
		q.fetch = func(ctx context.Context) ([]models.RecipeCandidate, error) {
			return o.agg.SearchDeconstructed(ctx, q.ingredients, req.Options)
		}

	case models.KindCode:
		code := strings.TrimSpace(req.Query)
		if code == "" {
			return nil, &models.DiscoverResult{Outcome: models.OutcomeInvalidTerm, Message: "enter a barcode or QR code"}, nil
		}
		q.term = code
		q.key = cache.Key(models.KindCode, code, models.SearchOptions{})
		q.fetch = func(ctx context.Context) ([]models.RecipeCandidate, error) {
			c, err := o.agg.LookupByCode(ctx, code)
			if err != nil {
				return nil, err
			}
			return []models.RecipeCandidate{*c}, nil
		}

	default:
		return nil, nil, fmt.Errorf("unknown query kind %q", req.Kind)
	}
	return q, nil, nil
}

func (o *Orchestrator) discover(ctx context.Context, req models.DiscoverRequest, force bool) (models.DiscoverResult, error) {
	q, early, err := o.resolve(ctx, req)
	if err != nil {
		return models.DiscoverResult{Outcome: models.OutcomeError}, err
	}
	if early != nil {
		return *early, nil
	}

	timeout := o.cfg.SearchTimeout
	if q.eligible(o.sessions) {
		timeout = o.cfg.GenerateTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	log := o.log.WithFields(logrus.Fields{"kind": q.req.Kind, "key": q.key})

	if entry, ok := o.cached(ctx, q, force); ok {
		log.Debug("served from cache")
		res := models.DiscoverResult{
			Candidates: entry.Payload,
			Source:     models.SourceCache,
			Outcome:    models.OutcomeOK,
		}
		if len(entry.Payload) == 0 {
			res.Outcome = models.OutcomeNoResults
			res.Message = entry.ErrorMessage
		}
		o.attachSession(q, &res)
		return res, nil
	}

	fetched, err := o.fetch(ctx, q, force)
	res := models.DiscoverResult{Candidates: fetched, Source: models.SourceAggregator}
	switch {
	case err == nil:
		res.Outcome = models.OutcomeOK
		o.attachSession(q, &res)
		return res, nil

	case ctx.Err() != nil, errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		res.Partial = true
		res.Outcome = models.OutcomePartial
		res.Message = "search timed out, showing partial results"
		if len(fetched) > 0 {
			o.attachSession(q, &res)
		}
		return res, nil

	case errors.Is(err, models.ErrAllSourcesExhausted):
		res.Candidates = []models.RecipeCandidate{}
		res.Outcome = models.OutcomeNoResults
		res.Message = "no recipes found"
		if errors.Is(err, models.ErrSourceUnavailable) {
			res.Message = "recipe sources are unavailable, try again later"
		}

	default:
		return models.DiscoverResult{Outcome: models.OutcomeError}, err
	}

	if !q.eligible(o.sessions) {
		return res, nil
	}
	return o.firstStep(ctx, q, res), nil
}

// cached returns the usable cache entry for q, if any.
func (o *Orchestrator) cached(ctx context.Context, q *query, force bool) (*models.CacheEntry, bool) {
	if !force {
		return o.cache.Get(ctx, q.key, q.signature)
	}
	if o.cache.RefreshAllowed(ctx, q.key) {
		return nil, false
	}
	return o.cache.GetStale(ctx, q.key, q.signature)
}

type fetchResult struct {
	candidates []models.RecipeCandidate
	err        error
	expired    bool
}

// fetch queries the sources once per key at a time and writes the answer
// back. Partial answers and answers nobody could give are not cached.
func (o *Orchestrator) fetch(ctx context.Context, q *query, force bool) ([]models.RecipeCandidate, error) {
	flightKey := q.key + "|" + q.signature
	if force {
		flightKey += "|refresh"
	}
	for {
		ch := o.flight.DoChan(flightKey, func() (any, error) {
			// Keeps the leader's deadline but not its cancellation.
			fctx, cancel := o.flightContext(ctx)
			defer cancel()
			cands, err := q.fetch(fctx)
			expired := fctx.Err() != nil
			if !expired {
				o.writeBack(fctx, q, cands, err)
			}
			return fetchResult{candidates: cands, err: err, expired: expired}, nil
		})

		var r fetchResult
		select {
		case <-ctx.Done():
			if !errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, ctx.Err()
			}
			// A flight sharing this deadline ends with it; keep what it gathered.
			select {
			case res := <-ch:
				r = res.Val.(fetchResult)
			case <-time.After(partialGrace):
				return nil, ctx.Err()
			}
		case res := <-ch:
			r = res.Val.(fetchResult)
		}
		// The leader ran out of time before this caller did; lead a new flight.
		if r.expired && ctx.Err() == nil {
			continue
		}

		out := make([]models.RecipeCandidate, len(r.candidates))
		copy(out, r.candidates)
		return out, r.err
	}
}

func (o *Orchestrator) flightContext(ctx context.Context) (context.Context, context.CancelFunc) {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(o.cfg.GenerateTimeout)
	}
	return context.WithDeadline(context.WithoutCancel(ctx), deadline)
}

func (o *Orchestrator) writeBack(ctx context.Context, q *query, cands []models.RecipeCandidate, err error) {
	var putErr error
	switch {
	case err == nil && len(cands) > 0:
		putErr = o.cache.Put(ctx, q.key, cands, q.signature, "")
	case errors.Is(err, models.ErrAllSourcesExhausted) && !errors.Is(err, models.ErrSourceUnavailable):
		putErr = o.cache.Put(ctx, q.key, nil, q.signature, "no recipes found")
	}
	if putErr != nil {
		o.log.WithError(putErr).WithField("key", q.key).Warn("cache write failed")
	}
}

// attachSession opens a generation session for results below the cap so
// the UI can ask for more.
func (o *Orchestrator) attachSession(q *query, res *models.DiscoverResult) {
	if !q.eligible(o.sessions) || len(res.Candidates) >= o.sessions.Cap() {
		return
	}
	s := o.sessions.Open(q.req.UserID, q.term, res.Candidates, o.synthesisContext(q))
	res.SessionID = s.ID()
}

func (o *Orchestrator) synthesisContext(q *query) synthesis.Context {
	return synthesis.Context{Ingredients: q.ingredients, Options: q.req.Options}
}

// firstStep opens a session for an empty result and generates one recipe.
func (o *Orchestrator) firstStep(ctx context.Context, q *query, res models.DiscoverResult) models.DiscoverResult {
	s := o.sessions.Open(q.req.UserID, q.term, nil, o.synthesisContext(q))
	res.SessionID = s.ID()

	c, err := o.sessions.GenerateAnother(ctx, s.ID())
	return o.stepResult(s.ID(), res, c, err)
}

func (o *Orchestrator) generateAnother(ctx context.Context, sessionID string) (models.DiscoverResult, error) {
	if o.sessions == nil {
		return models.DiscoverResult{Outcome: models.OutcomeError}, fmt.Errorf("%w: %s", models.ErrSessionNotFound, sessionID)
	}
	ctx, cancel := context.WithTimeout(ctx, o.cfg.StepTimeout)
	defer cancel()

	c, err := o.sessions.GenerateAnother(ctx, sessionID)
	switch {
	case errors.Is(err, models.ErrSessionNotFound), errors.Is(err, models.ErrGenerationInProgress):
		return models.DiscoverResult{SessionID: sessionID, Outcome: models.OutcomeError}, err
	case errors.Is(err, models.ErrLimitReached):
		return models.DiscoverResult{SessionID: sessionID, Outcome: models.OutcomeLimitReached, Source: models.SourceGenerated}, err
	}
	res := models.DiscoverResult{SessionID: sessionID}
	return o.stepResult(sessionID, res, c, err), nil
}

// stepResult folds a generation step into res.
func (o *Orchestrator) stepResult(sessionID string, res models.DiscoverResult, c *models.RecipeCandidate, err error) models.DiscoverResult {
	st, _ := o.sessions.Status(sessionID)
	switch {
	case err == nil && c != nil:
		res.Candidates = []models.RecipeCandidate{*c}
		res.Source = models.SourceGenerated
		res.Outcome = models.OutcomeOK
		res.Message = ""
	case err == nil:
		res.Candidates = []models.RecipeCandidate{}
		res.Outcome = models.OutcomeNoResults
		res.Message = st.Message
	case errors.Is(err, models.ErrInvalidSearchTerm):
		res.Candidates = []models.RecipeCandidate{}
		res.Outcome = models.OutcomeInvalidTerm
		res.Message = st.Message
	case errors.Is(err, models.ErrLimitReached):
		res.Outcome = models.OutcomeLimitReached
		res.Message = "recipe limit reached for this search"
	default:
		o.log.WithError(err).WithField("session", sessionID).Warn("generation step failed")
		res.Candidates = []models.RecipeCandidate{}
		res.Outcome = models.OutcomeGenerationFailed
		res.Message = "could not generate a recipe, try again"
	}
	if res.Source == "" {
		res.Source = models.SourceGenerated
	}
	return res
}

// record writes an audit entry in the background.
func (o *Orchestrator) record(op string, req models.DiscoverRequest, res models.DiscoverResult, err error, start time.Time) {
	if o.auditor == nil {
		return
	}
	entry := models.AuditEntry{
		RequestID:      uuid.NewString(),
		UserHash:       audit.HashUser(req.UserID),
		Operation:      op,
		Kind:           req.Kind,
		Query:          req.Query,
		SessionID:      res.SessionID,
		Source:         res.Source,
		Outcome:        res.Outcome,
		CandidateCount: len(res.Candidates),
		Message:        res.Message,
		LatencyMs:      o.now().Sub(start).Milliseconds(),
		CreatedAt:      o.now().UTC(),
	}
	if err != nil {
		entry.Message = err.Error()
		if entry.Outcome == "" {
			entry.Outcome = models.OutcomeError
		}
	}

	o.pending.Add(1)
	go func() {
		defer o.pending.Done()
		if err := o.auditor.Log(context.Background(), entry); err != nil {
			o.log.WithError(err).Warn("audit log error")
		}
	}()
}
