package aggregator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/larder-app/larder/pkg/models"
	"github.com/larder-app/larder/pkg/ratelimit"
	"github.com/larder-app/larder/pkg/sources"
)

type fakeSource struct {
	name    string
	results map[string][]models.RecipeCandidate
	codes   map[string]*models.RecipeCandidate
	err     error
	delay   time.Duration
	calls   atomic.Int32

	mu       sync.Mutex
	inFlight int
	maxSeen  int
}

func (f *fakeSource) Name() string { return f.name }

func (f *fakeSource) Search(ctx context.Context, term string, _ models.SearchOptions) ([]models.RecipeCandidate, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.inFlight++
	if f.inFlight > f.maxSeen {
		f.maxSeen = f.inFlight
	}
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.results[term], nil
}

func (f *fakeSource) LookupByCode(_ context.Context, code string) (*models.RecipeCandidate, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return f.codes[code], nil
}

func unavailable(name string) error {
	return &sources.SourceError{Source: name, Kind: sources.ErrServer, Status: 503, Err: errors.New("down")}
}

func rc(key, source string) models.RecipeCandidate {
	return models.RecipeCandidate{URI: key, Title: "Recipe " + key, SourceName: source}
}

func searchers(srcs ...*fakeSource) []sources.Searcher {
	out := make([]sources.Searcher, len(srcs))
	for i, s := range srcs {
		out[i] = s
	}
	return out
}

func resolvers(srcs ...*fakeSource) []sources.CodeResolver {
	out := make([]sources.CodeResolver, len(srcs))
	for i, s := range srcs {
		out[i] = s
	}
	return out
}

func TestSearchPrimaryWins(t *testing.T) {
	a := &fakeSource{name: "a", results: map[string][]models.RecipeCandidate{"pasta": {rc("1", "a")}}}
	b := &fakeSource{name: "b", results: map[string][]models.RecipeCandidate{"pasta": {rc("2", "b")}}}
	agg := New(searchers(a, b), nil, nil, 0, nil)

	got, err := agg.Search(context.Background(), "pasta", models.SearchOptions{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].SourceName)
	assert.Equal(t, int32(0), b.calls.Load())
}

func TestSearchFallsBackOnErrorAndEmpty(t *testing.T) {
	a := &fakeSource{name: "a", err: unavailable("a")}
	b := &fakeSource{name: "b"}
	c := &fakeSource{name: "c", results: map[string][]models.RecipeCandidate{"adobo": {rc("x", "c"), rc("x", "c"), rc("y", "c")}}}
	agg := New(searchers(a, b, c), nil, nil, 0, nil)

	got, err := agg.Search(context.Background(), "adobo", models.SearchOptions{})
	require.NoError(t, err)
	assert.Len(t, got, 2, "duplicates within a source answer are dropped")
	assert.Equal(t, "c", got[0].SourceName)
}

func TestSearchAllFailed(t *testing.T) {
	a := &fakeSource{name: "a", err: unavailable("a")}
	b := &fakeSource{name: "b", err: unavailable("b")}
	agg := New(searchers(a, b), nil, nil, 0, nil)

	_, err := agg.Search(context.Background(), "x", models.SearchOptions{})
	assert.ErrorIs(t, err, models.ErrAllSourcesExhausted)
	assert.ErrorIs(t, err, models.ErrSourceUnavailable)
}

func TestSearchLegitimatelyEmpty(t *testing.T) {
	a := &fakeSource{name: "a", err: unavailable("a")}
	b := &fakeSource{name: "b"}
	agg := New(searchers(a, b), nil, nil, 0, nil)

	_, err := agg.Search(context.Background(), "x", models.SearchOptions{})
	assert.ErrorIs(t, err, models.ErrAllSourcesExhausted)
	assert.NotErrorIs(t, err, models.ErrSourceUnavailable)
}

func TestSearchSkipsRateLimitedSource(t *testing.T) {
	limiter := ratelimit.New(ratelimit.Config{MaxCalls: 1, Window: time.Hour})
	a := &fakeSource{name: "a", results: map[string][]models.RecipeCandidate{"x": {rc("1", "a")}}}
	b := &fakeSource{name: "b", results: map[string][]models.RecipeCandidate{"x": {rc("2", "b")}}}
	agg := New(searchers(a, b), nil, limiter, 0, nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	got, err := agg.Search(ctx, "x", models.SearchOptions{})
	require.NoError(t, err)
	assert.Equal(t, "a", got[0].SourceName)

	got, err = agg.Search(ctx, "x", models.SearchOptions{})
	require.NoError(t, err)
	assert.Equal(t, "b", got[0].SourceName, "a is over its window and is skipped")

	_, err = agg.Search(ctx, "x", models.SearchOptions{})
	assert.ErrorIs(t, err, models.ErrSourceUnavailable, "no source answered, nothing to cache")
	assert.ErrorIs(t, err, models.ErrRateLimited)
}

func TestLookupByCodeStrictOrder(t *testing.T) {
	a := &fakeSource{name: "a", codes: map[string]*models.RecipeCandidate{"123": {Title: ""}}}
	b := &fakeSource{name: "b", err: unavailable("b")}
	c := &fakeSource{name: "c", codes: map[string]*models.RecipeCandidate{"123": {ID: "c:1", Title: "Sardines"}}}
	d := &fakeSource{name: "d", codes: map[string]*models.RecipeCandidate{"123": {ID: "d:1", Title: "Other"}}}
	agg := New(nil, resolvers(a, b, c, d), nil, 0, nil)

	got, err := agg.LookupByCode(context.Background(), "123")
	require.NoError(t, err)
	assert.Equal(t, "Sardines", got.Title)
	assert.Equal(t, int32(0), d.calls.Load())

	_, err = agg.LookupByCode(context.Background(), "999")
	assert.ErrorIs(t, err, models.ErrAllSourcesExhausted)
}

func TestMergeOverlappingSubqueries(t *testing.T) {
	lists := [][]models.RecipeCandidate{
		{rc("A", "s"), rc("B", "s")},
		{rc("C", "s")},
		{rc("A", "s"), rc("D", "s")},
	}
	got := Merge(lists...)

	keys := make([]string, len(got))
	for i, c := range got {
		keys[i] = c.Key()
	}
	assert.Equal(t, []string{"A", "B", "C", "D"}, keys)
}

func TestMergeKeysByIDThenURIThenTitle(t *testing.T) {
	got := Merge(
		[]models.RecipeCandidate{{ID: "1", URI: "u", Title: "x"}, {URI: "1", Title: "y"}},
		[]models.RecipeCandidate{{Title: "Pancit  Canton"}, {Title: "pancit canton"}},
	)
	assert.Len(t, got, 2)
}

func TestSearchDeconstructed(t *testing.T) {
	src := &fakeSource{name: "a", delay: 20 * time.Millisecond, results: map[string][]models.RecipeCandidate{
		"egg":    {rc("A", "a"), rc("B", "a")},
		"rice":   {rc("C", "a")},
		"garlic": {rc("A", "a"), rc("D", "a")},
	}}
	agg := New(searchers(src), nil, nil, 2, nil)

	got, err := agg.SearchDeconstructed(context.Background(), []string{"egg", "rice", "garlic"}, models.SearchOptions{})
	require.NoError(t, err)

	keys := make([]string, len(got))
	for i, c := range got {
		keys[i] = c.Key()
	}
	assert.Equal(t, []string{"A", "B", "C", "D"}, keys)
	assert.LessOrEqual(t, src.maxSeen, 2)
}

func TestSearchDeconstructedAllUnavailable(t *testing.T) {
	src := &fakeSource{name: "a", err: unavailable("a")}
	agg := New(searchers(src), nil, nil, 0, nil)

	_, err := agg.SearchDeconstructed(context.Background(), []string{"x", "y"}, models.SearchOptions{})
	assert.ErrorIs(t, err, models.ErrSourceUnavailable)

	_, err = agg.SearchDeconstructed(context.Background(), nil, models.SearchOptions{})
	assert.ErrorIs(t, err, models.ErrAllSourcesExhausted)
}

func TestSearchDeconstructedPartialOnDeadline(t *testing.T) {
	fast := &fakeSource{name: "fast", results: map[string][]models.RecipeCandidate{"egg": {rc("A", "fast")}}}
	agg := New(searchers(fast), nil, nil, 1, nil)

	slow := &fakeSource{name: "slow", delay: time.Second}
	agg.searchers = append(agg.searchers, slow)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	got, err := agg.SearchDeconstructed(ctx, []string{"egg", "tofu"}, models.SearchOptions{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	require.Len(t, got, 1)
	assert.Equal(t, "A", got[0].Key())
}

type fakeFoods struct {
	name  string
	foods map[string]models.Food
	calls atomic.Int32
}

func (f *fakeFoods) Name() string { return f.name }

func (f *fakeFoods) SearchFoods(_ context.Context, query string, page, limit int) (models.FoodPage, error) {
	f.calls.Add(1)
	out := models.FoodPage{Page: page, MaxResults: limit}
	for _, food := range f.foods {
		if strings.Contains(strings.ToLower(food.Name), strings.ToLower(query)) {
			out.Foods = append(out.Foods, food)
		}
	}
	out.Total = len(out.Foods)
	return out, nil
}

func (f *fakeFoods) Food(_ context.Context, id string) (*models.Food, error) {
	f.calls.Add(1)
	food, ok := f.foods[id]
	if !ok {
		return nil, models.ErrFoodNotFound
	}
	return &food, nil
}

func (f *fakeFoods) Search(context.Context, string, models.SearchOptions) ([]models.RecipeCandidate, error) {
	return nil, nil
}

func TestFoodsSharesSourceBudget(t *testing.T) {
	limiter := ratelimit.New(ratelimit.Config{MaxCalls: 2, Window: time.Hour})
	idx := &fakeFoods{name: "fatsecret", foods: map[string]models.Food{"1": {ID: "1", Name: "Evaporated Milk"}}}
	foods := NewFoods(idx, limiter, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	page, err := foods.Search(ctx, " milk ", 0, 10)
	require.NoError(t, err)
	require.Len(t, page.Foods, 1)

	food, err := foods.Get(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, "Evaporated Milk", food.Name)

	_, err = foods.Get(ctx, "1")
	assert.ErrorIs(t, err, models.ErrRateLimited)
	assert.Equal(t, int32(2), idx.calls.Load(), "rejected calls never reach the index")
}

func TestFoodsValidationAndDisabled(t *testing.T) {
	idx := &fakeFoods{name: "fatsecret"}
	foods := NewFoods(idx, nil, nil)

	_, err := foods.Search(context.Background(), "   ", 0, 10)
	assert.ErrorIs(t, err, models.ErrInvalidSearchTerm)
	assert.Zero(t, idx.calls.Load())

	_, err = foods.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, models.ErrFoodNotFound)

	disabled := NewFoods(nil, nil, nil)
	_, err = disabled.Search(context.Background(), "milk", 0, 10)
	assert.ErrorIs(t, err, models.ErrFoodSearchDisabled)
	_, err = disabled.Get(context.Background(), "1")
	assert.ErrorIs(t, err, models.ErrFoodSearchDisabled)
}

func TestFirstFoodIndex(t *testing.T) {
	plain := &fakeSource{name: "edamam"}
	idx := &fakeFoods{name: "fatsecret"}
	assert.Equal(t, idx, FirstFoodIndex(plain, idx))
	assert.Nil(t, FirstFoodIndex(plain))
}
