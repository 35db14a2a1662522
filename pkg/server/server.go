// Package server exposes discovery over a small JSON HTTP API.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/larder-app/larder/pkg/logging"
	"github.com/larder-app/larder/pkg/models"
)

// UserHeader carries the caller's user id.
const UserHeader = "X-Larder-User"

const (
	maxBodySize   = 1 << 20
	anonymousUser = "anonymous"
)

// Service is the discovery surface the server drives.
// *discovery.Orchestrator satisfies it.
type Service interface {
	Discover(ctx context.Context, req models.DiscoverRequest) (models.DiscoverResult, error)
	ForceRefresh(ctx context.Context, req models.DiscoverRequest) (models.DiscoverResult, error)
	GenerateAnother(ctx context.Context, sessionID string) (models.DiscoverResult, error)
	GetSessionStatus(sessionID string) (models.SessionStatus, error)
	CacheStats(ctx context.Context) (models.CacheStats, error)
	SearchFoods(ctx context.Context, query string, page, limit int) (models.FoodPage, error)
	Food(ctx context.Context, id string) (*models.Food, error)
}

// Server is the larder HTTP API.
type Server struct {
	listen string
	svc    Service
	log    *logrus.Logger
	mux    *http.ServeMux
}

// New creates a Server listening on listen.
func New(listen string, svc Service, log *logrus.Logger) *Server {
	s := &Server{
		listen: listen,
		svc:    svc,
		log:    logging.OrDiscard(log),
		mux:    http.NewServeMux(),
	}
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("POST /v1/discover", s.handleDiscover)
	s.mux.HandleFunc("POST /v1/discover/refresh", s.handleRefresh)
	s.mux.HandleFunc("POST /v1/sessions/{id}/generate", s.handleGenerate)
	s.mux.HandleFunc("GET /v1/sessions/{id}", s.handleSessionStatus)
	s.mux.HandleFunc("GET /v1/foods/barcode", s.handleCode("code"))
	s.mux.HandleFunc("GET /v1/foods/qr", s.handleCode("qr_code"))
	s.mux.HandleFunc("GET /v1/foods/search", s.handleFoodSearch)
	s.mux.HandleFunc("GET /v1/foods/{id}", s.handleFood)
	s.mux.HandleFunc("GET /v1/cache/stats", s.handleCacheStats)
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	s.mux.ServeHTTP(w, r)
	s.log.WithFields(logrus.Fields{
		"method":  r.Method,
		"path":    r.URL.Path,
		"elapsed": time.Since(start).String(),
	}).Debug("request")
}

// ListenAndServe starts the server with graceful shutdown support.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.listen,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Infof("larder listening on %s", s.listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

type discoverBody struct {
	Kind     models.QueryKind     `json:"kind"`
	Query    string               `json:"query"`
	Options  models.SearchOptions `json:"options"`
	Generate bool                 `json:"generate"`
}

func (s *Server) decodeDiscover(w http.ResponseWriter, r *http.Request) (models.DiscoverRequest, bool) {
	var body discoverBody
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return models.DiscoverRequest{}, false
	}
	switch body.Kind {
	case "", models.KindSearch, models.KindPantry, models.KindCode:
	default:
		writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("unknown kind %q", body.Kind))
		return models.DiscoverRequest{}, false
	}
	user, known := userID(r)
	if !known && (body.Generate || body.Kind == models.KindPantry) {
		// Sessions and pantries are per user; anonymous callers would share them.
		writeJSONError(w, http.StatusBadRequest, UserHeader+" header is required to generate recipes or read a pantry")
		return models.DiscoverRequest{}, false
	}
	return models.DiscoverRequest{
		UserID:   user,
		Kind:     body.Kind,
		Query:    body.Query,
		Options:  body.Options,
		Generate: body.Generate,
	}, true
}

func (s *Server) handleDiscover(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeDiscover(w, r)
	if !ok {
		return
	}
	res, err := s.svc.Discover(r.Context(), req)
	s.respond(w, res, err)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeDiscover(w, r)
	if !ok {
		return
	}
	res, err := s.svc.ForceRefresh(r.Context(), req)
	s.respond(w, res, err)
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	res, err := s.svc.GenerateAnother(r.Context(), r.PathValue("id"))
	s.respond(w, res, err)
}

func (s *Server) handleSessionStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.svc.GetSessionStatus(r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// handleCode serves barcode and QR lookups, which share one resolver chain.
func (s *Server) handleCode(param string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		code := strings.TrimSpace(r.URL.Query().Get(param))
		if code == "" {
			writeJSONError(w, http.StatusBadRequest, param+" is required")
			return
		}
		user, _ := userID(r)
		res, err := s.svc.Discover(r.Context(), models.DiscoverRequest{
			UserID: user,
			Kind:   models.KindCode,
			Query:  code,
		})
		s.respond(w, res, err)
	}
}

func (s *Server) handleFoodSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := strings.TrimSpace(q.Get("q"))
	if query == "" {
		writeJSONError(w, http.StatusBadRequest, "q is required")
		return
	}
	page, err := intParam(q.Get("page"))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid page: "+err.Error())
		return
	}
	limit, err := intParam(q.Get("max_results"))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid max_results: "+err.Error())
		return
	}
	res, err := s.svc.SearchFoods(r.Context(), query, page, limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if res.Foods == nil {
		res.Foods = []models.Food{}
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleFood(w http.ResponseWriter, r *http.Request) {
	food, err := s.svc.Food(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, food)
}

// intParam parses an optional non-negative query parameter.
func intParam(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, errors.New("must not be negative")
	}
	return n, nil
}

func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.svc.CacheStats(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) respond(w http.ResponseWriter, res models.DiscoverResult, err error) {
	if err != nil {
		s.writeError(w, err)
		return
	}
	if res.Candidates == nil {
		res.Candidates = []models.RecipeCandidate{}
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := statusFor(err)
	if code >= 500 {
		s.log.WithError(err).Error("request failed")
	}
	writeJSONError(w, code, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrSessionNotFound), errors.Is(err, models.ErrFoodNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrInvalidSearchTerm):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrGenerationInProgress):
		return http.StatusConflict
	case errors.Is(err, models.ErrLimitReached), errors.Is(err, models.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, models.ErrFoodSearchDisabled):
		return http.StatusNotImplemented
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, models.ErrSourceUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// userID returns the caller's id and whether the caller named one.
func userID(r *http.Request) (string, bool) {
	if id := strings.TrimSpace(r.Header.Get(UserHeader)); id != "" {
		return id, true
	}
	return anonymousUser, false
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	fmt.Fprintf(w, `{"error":{"message":%q,"type":"larder_error","code":%d}}`, message, code)
}
