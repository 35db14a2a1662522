package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/larder-app/larder/pkg/models"
)

type fakeService struct {
	lastReq   models.DiscoverRequest
	refreshed bool
	result    models.DiscoverResult
	err       error
	sessions  map[string]models.SessionStatus

	foodQuery string
	foodPage  int
	foodLimit int
	foods     map[string]models.Food
	foodErr   error
}

func (f *fakeService) Discover(_ context.Context, req models.DiscoverRequest) (models.DiscoverResult, error) {
	f.lastReq = req
	return f.result, f.err
}

func (f *fakeService) ForceRefresh(_ context.Context, req models.DiscoverRequest) (models.DiscoverResult, error) {
	f.lastReq = req
	f.refreshed = true
	return f.result, f.err
}

func (f *fakeService) GenerateAnother(_ context.Context, id string) (models.DiscoverResult, error) {
	if _, ok := f.sessions[id]; !ok {
		return models.DiscoverResult{}, fmt.Errorf("%w: %s", models.ErrSessionNotFound, id)
	}
	return f.result, f.err
}

func (f *fakeService) GetSessionStatus(id string) (models.SessionStatus, error) {
	st, ok := f.sessions[id]
	if !ok {
		return models.SessionStatus{}, models.ErrSessionNotFound
	}
	return st, nil
}

func (f *fakeService) CacheStats(context.Context) (models.CacheStats, error) {
	return models.CacheStats{Entries: 2, Hits: 5, Misses: 1}, nil
}

func (f *fakeService) SearchFoods(_ context.Context, query string, page, limit int) (models.FoodPage, error) {
	f.foodQuery, f.foodPage, f.foodLimit = query, page, limit
	if f.foodErr != nil {
		return models.FoodPage{}, f.foodErr
	}
	out := models.FoodPage{Page: page, MaxResults: limit}
	for _, food := range f.foods {
		out.Foods = append(out.Foods, food)
	}
	out.Total = len(out.Foods)
	return out, nil
}

func (f *fakeService) Food(_ context.Context, id string) (*models.Food, error) {
	if f.foodErr != nil {
		return nil, f.foodErr
	}
	food, ok := f.foods[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrFoodNotFound, id)
	}
	return &food, nil
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	req.Header.Set(UserHeader, "u1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

type errorBody struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    int    `json:"code"`
	} `json:"error"`
}

func TestHealth(t *testing.T) {
	s := New(":0", &fakeService{}, nil)
	rec := do(t, s, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy"}`, rec.Body.String())
}

func TestDiscover(t *testing.T) {
	svc := &fakeService{result: models.DiscoverResult{
		Candidates: []models.RecipeCandidate{{ID: "e:1", Title: "Adobo", SourceName: "edamam"}},
		Source:     models.SourceAggregator,
		Outcome:    models.OutcomeOK,
	}}
	s := New(":0", svc, nil)

	rec := do(t, s, http.MethodPost, "/v1/discover",
		`{"kind":"search","query":"adobo","options":{"diet":["low-fat"]},"generate":true}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	assert.Equal(t, "u1", svc.lastReq.UserID)
	assert.Equal(t, models.KindSearch, svc.lastReq.Kind)
	assert.Equal(t, "adobo", svc.lastReq.Query)
	assert.Equal(t, []string{"low-fat"}, svc.lastReq.Options.Diet)
	assert.True(t, svc.lastReq.Generate)
	assert.False(t, svc.refreshed)

	var res models.DiscoverResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	require.Len(t, res.Candidates, 1)
	assert.Equal(t, "Adobo", res.Candidates[0].Title)
}

func TestDiscoverEmptyCandidatesEncodeAsArray(t *testing.T) {
	svc := &fakeService{result: models.DiscoverResult{Outcome: models.OutcomeNoResults, Source: models.SourceAggregator}}
	s := New(":0", svc, nil)

	rec := do(t, s, http.MethodPost, "/v1/discover", `{"kind":"search","query":"zzz"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"candidates":[]`)
}

func TestRefresh(t *testing.T) {
	svc := &fakeService{result: models.DiscoverResult{Outcome: models.OutcomeOK}}
	s := New(":0", svc, nil)

	rec := do(t, s, http.MethodPost, "/v1/discover/refresh", `{"kind":"search","query":"adobo"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, svc.refreshed)
}

func TestDiscoverBadRequest(t *testing.T) {
	s := New(":0", &fakeService{}, nil)

	cases := map[string]string{
		"malformed":     `{"kind":`,
		"unknown field": `{"kind":"search","query":"x","bogus":1}`,
		"unknown kind":  `{"kind":"smell","query":"x"}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			rec := do(t, s, http.MethodPost, "/v1/discover", body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)

			var eb errorBody
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &eb))
			assert.Equal(t, "larder_error", eb.Error.Type)
			assert.Equal(t, http.StatusBadRequest, eb.Error.Code)
		})
	}
}

func TestMethodNotAllowed(t *testing.T) {
	s := New(":0", &fakeService{}, nil)
	rec := do(t, s, http.MethodGet, "/v1/discover", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestGenerateErrors(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code int
	}{
		{"in progress", models.ErrGenerationInProgress, http.StatusConflict},
		{"limit", models.ErrLimitReached, http.StatusTooManyRequests},
		{"deadline", context.DeadlineExceeded, http.StatusGatewayTimeout},
		{"other", fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &fakeService{
				err:      tc.err,
				sessions: map[string]models.SessionStatus{"s1": {ID: "s1"}},
			}
			s := New(":0", svc, nil)
			rec := do(t, s, http.MethodPost, "/v1/sessions/s1/generate", "")
			assert.Equal(t, tc.code, rec.Code)
		})
	}

	s := New(":0", &fakeService{}, nil)
	rec := do(t, s, http.MethodPost, "/v1/sessions/missing/generate", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGenerate(t *testing.T) {
	svc := &fakeService{
		result: models.DiscoverResult{
			Candidates: []models.RecipeCandidate{{ID: "gen:1", Title: "Tinola", Generated: true}},
			Source:     models.SourceGenerated,
			Outcome:    models.OutcomeOK,
			SessionID:  "s1",
		},
		sessions: map[string]models.SessionStatus{"s1": {ID: "s1"}},
	}
	s := New(":0", svc, nil)

	rec := do(t, s, http.MethodPost, "/v1/sessions/s1/generate", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var res models.DiscoverResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, models.SourceGenerated, res.Source)
	assert.Equal(t, "s1", res.SessionID)
}

func TestSessionStatus(t *testing.T) {
	svc := &fakeService{sessions: map[string]models.SessionStatus{
		"s1": {ID: "s1", Term: "adobo", State: models.StateComplete, GeneratedCount: 2, Cap: 5},
	}}
	s := New(":0", svc, nil)

	rec := do(t, s, http.MethodGet, "/v1/sessions/s1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var st models.SessionStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, models.StateComplete, st.State)
	assert.Equal(t, 2, st.GeneratedCount)

	rec = do(t, s, http.MethodGet, "/v1/sessions/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCodeLookup(t *testing.T) {
	svc := &fakeService{result: models.DiscoverResult{Outcome: models.OutcomeOK}}
	s := New(":0", svc, nil)

	rec := do(t, s, http.MethodGet, "/v1/foods/barcode?code=+4800016644290+", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.KindCode, svc.lastReq.Kind)
	assert.Equal(t, "4800016644290", svc.lastReq.Query)

	rec = do(t, s, http.MethodGet, "/v1/foods/qr?qr_code=abc", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "abc", svc.lastReq.Query)

	rec = do(t, s, http.MethodGet, "/v1/foods/barcode", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCacheStats(t *testing.T) {
	s := New(":0", &fakeService{}, nil)
	rec := do(t, s, http.MethodGet, "/v1/cache/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"entries":2,"hits":5,"misses":1,"corrupt":0}`, rec.Body.String())
}

func TestAnonymousUser(t *testing.T) {
	svc := &fakeService{}
	s := New(":0", svc, nil)
	req := httptest.NewRequest(http.MethodPost, "/v1/discover", strings.NewReader(`{"kind":"search","query":"x"}`))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "anonymous", svc.lastReq.UserID)
}

func TestAnonymousCannotOpenSessions(t *testing.T) {
	cases := map[string]string{
		"generate": `{"kind":"search","query":"adobo","generate":true}`,
		"pantry":   `{"kind":"pantry"}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			svc := &fakeService{}
			s := New(":0", svc, nil)
			for _, path := range []string{"/v1/discover", "/v1/discover/refresh"} {
				req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
				req.Header.Set(UserHeader, "   ")
				rec := httptest.NewRecorder()
				s.ServeHTTP(rec, req)
				assert.Equal(t, http.StatusBadRequest, rec.Code, path)
				assert.Contains(t, rec.Body.String(), UserHeader)
			}
			assert.Empty(t, svc.lastReq.UserID, "service must not be reached")

			rec := do(t, s, http.MethodPost, "/v1/discover", body)
			require.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, "u1", svc.lastReq.UserID)
		})
	}
}

func TestFoodSearch(t *testing.T) {
	svc := &fakeService{foods: map[string]models.Food{"33691": {ID: "33691", Name: "Evaporated Milk", SourceName: "fatsecret"}}}
	s := New(":0", svc, nil)

	rec := do(t, s, http.MethodGet, "/v1/foods/search?q=+evap+milk&page=2&max_results=5", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "evap milk", svc.foodQuery)
	assert.Equal(t, 2, svc.foodPage)
	assert.Equal(t, 5, svc.foodLimit)

	var page models.FoodPage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	require.Len(t, page.Foods, 1)
	assert.Equal(t, "Evaporated Milk", page.Foods[0].Name)

	svc.foods = nil
	rec = do(t, s, http.MethodGet, "/v1/foods/search?q=zzz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"foods":[]`)

	for _, path := range []string{
		"/v1/foods/search",
		"/v1/foods/search?q=milk&page=x",
		"/v1/foods/search?q=milk&max_results=-1",
	} {
		rec = do(t, s, http.MethodGet, path, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, path)
	}
}

func TestFoodGet(t *testing.T) {
	svc := &fakeService{foods: map[string]models.Food{"33691": {
		ID: "33691", Name: "Evaporated Milk",
		Servings: []models.Serving{{Description: "1 cup", Calories: 338}},
	}}}
	s := New(":0", svc, nil)

	rec := do(t, s, http.MethodGet, "/v1/foods/33691", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var food models.Food
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &food))
	assert.Equal(t, "Evaporated Milk", food.Name)
	require.Len(t, food.Servings, 1)
	assert.Equal(t, 338.0, food.Servings[0].Calories)

	rec = do(t, s, http.MethodGet, "/v1/foods/404", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// literal routes win over the id pattern
	svc.result = models.DiscoverResult{Outcome: models.OutcomeOK}
	rec = do(t, s, http.MethodGet, "/v1/foods/barcode?code=123", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.KindCode, svc.lastReq.Kind)
}

func TestFoodErrors(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code int
	}{
		{"rate limited", fmt.Errorf("fatsecret: %w", models.ErrRateLimited), http.StatusTooManyRequests},
		{"disabled", models.ErrFoodSearchDisabled, http.StatusNotImplemented},
		{"upstream", fmt.Errorf("fatsecret: %w", models.ErrSourceUnavailable), http.StatusBadGateway},
		{"deadline", context.DeadlineExceeded, http.StatusGatewayTimeout},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := New(":0", &fakeService{foodErr: tc.err}, nil)
			rec := do(t, s, http.MethodGet, "/v1/foods/search?q=milk", "")
			assert.Equal(t, tc.code, rec.Code)
			rec = do(t, s, http.MethodGet, "/v1/foods/1", "")
			assert.Equal(t, tc.code, rec.Code)
		})
	}
}
