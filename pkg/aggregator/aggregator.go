// Package aggregator fans discovery queries out across the ordered external
// sources and folds their answers into one deduplicated list.
package aggregator

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/larder-app/larder/pkg/logging"
	"github.com/larder-app/larder/pkg/models"
	"github.com/larder-app/larder/pkg/sources"
)

// DefaultFanOut bounds concurrent sub-queries of a deconstructed search.
const DefaultFanOut = 3

// Admitter gates calls to a source. *ratelimit.Limiter satisfies it.
type Admitter interface {
	Wait(ctx context.Context, sourceID string) error
}

// Aggregator queries sources in fallback order.
type Aggregator struct {
	searchers []sources.Searcher
	resolvers []sources.CodeResolver
	limiter   Admitter
	fanOut    int
	log       *logrus.Logger
}

// New creates an Aggregator. Either chain may be empty.
func New(searchers []sources.Searcher, resolvers []sources.CodeResolver, limiter Admitter, fanOut int, log *logrus.Logger) *Aggregator {
	if fanOut <= 0 {
		fanOut = DefaultFanOut
	}
	return &Aggregator{
		searchers: searchers,
		resolvers: resolvers,
		limiter:   limiter,
		fanOut:    fanOut,
		log:       logging.OrDiscard(log),
	}
}

// exhausted builds the error returned when no source produced a result. If
// every source failed, it also matches models.ErrSourceUnavailable.
func exhausted(failures []error, tried int) error {
	if tried > 0 && len(failures) == tried {
		return fmt.Errorf("%w, %w: %w", models.ErrAllSourcesExhausted, models.ErrSourceUnavailable, errors.Join(failures...))
	}
	return models.ErrAllSourcesExhausted
}

func (a *Aggregator) admit(ctx context.Context, name string) error {
	if a.limiter == nil {
		return nil
	}
	return a.limiter.Wait(ctx, name)
}

// Search tries each search source in order and returns the first non-empty
// list. Failing sources are logged and skipped.
func (a *Aggregator) Search(ctx context.Context, term string, opts models.SearchOptions) ([]models.RecipeCandidate, error) {
	var failures []error
	for _, src := range a.searchers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		log := a.log.WithFields(logrus.Fields{"source": src.Name(), "term": term})

		if err := a.admit(ctx, src.Name()); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			log.WithError(err).Warn("source not admitted")
			failures = append(failures, err)
			continue
		}

		results, err := src.Search(ctx, term, opts)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			log.WithError(err).Warn("source search failed")
			failures = append(failures, err)
			continue
		}
		if len(results) > 0 {
			log.WithField("results", len(results)).Debug("source answered")
			return Merge(results), nil
		}
		log.Debug("source had no results")
	}
	return nil, exhausted(failures, len(a.searchers))
}

// LookupByCode tries each code resolver strictly in order and returns the
// first well-formed match. Results are never merged across sources.
func (a *Aggregator) LookupByCode(ctx context.Context, code string) (*models.RecipeCandidate, error) {
	var failures []error
	for _, src := range a.resolvers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		log := a.log.WithFields(logrus.Fields{"source": src.Name(), "code": code})

		if err := a.admit(ctx, src.Name()); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			log.WithError(err).Warn("source not admitted")
			failures = append(failures, err)
			continue
		}

		c, err := src.LookupByCode(ctx, code)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			log.WithError(err).Warn("source lookup failed")
			failures = append(failures, err)
			continue
		}
		if c != nil && c.Title != "" {
			return c, nil
		}
	}
	return nil, exhausted(failures, len(a.resolvers))
}

// SearchDeconstructed runs one Search per term with bounded concurrency and
// merges the answers, earlier terms ranking higher. If ctx ends first, the
// merged answers of finished sub-queries are returned along with ctx's error.
func (a *Aggregator) SearchDeconstructed(ctx context.Context, terms []string, opts models.SearchOptions) ([]models.RecipeCandidate, error) {
	if len(terms) == 0 {
		return nil, models.ErrAllSourcesExhausted
	}

	results := make([][]models.RecipeCandidate, len(terms))
	errs := make([]error, len(terms))

	var g errgroup.Group
	g.SetLimit(a.fanOut)
	for i, term := range terms {
		g.Go(func() error {
			results[i], errs[i] = a.Search(ctx, term, opts)
			return nil
		})
	}
	_ = g.Wait()

	merged := Merge(results...)
	if err := ctx.Err(); err != nil {
		return merged, err
	}
	if len(merged) > 0 {
		return merged, nil
	}

	unavailable := 0
	for _, err := range errs {
		if errors.Is(err, models.ErrSourceUnavailable) {
			unavailable++
		}
	}
	if unavailable == len(terms) {
		return nil, fmt.Errorf("%w, %w: %w", models.ErrAllSourcesExhausted, models.ErrSourceUnavailable, errors.Join(errs...))
	}
	return nil, models.ErrAllSourcesExhausted
}

// Merge concatenates lists, keeping the first occurrence of each candidate
// key. Candidates without ID or URI are keyed by normalized title.
func Merge(lists ...[]models.RecipeCandidate) []models.RecipeCandidate {
	seen := make(map[string]struct{})
	var out []models.RecipeCandidate
	for _, list := range lists {
		for _, c := range list {
			key := c.Key()
			if key == "" {
				key = "title:" + models.NormalizeTerm(c.Title)
			}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, c)
		}
	}
	return out
}
