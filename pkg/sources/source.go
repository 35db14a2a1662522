// Package sources implements clients for the external recipe and food
// indexes larder searches.
package sources

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/larder-app/larder/pkg/logging"
	"github.com/larder-app/larder/pkg/models"
)

// Source is an external index identified by a stable name. The name keys
// rate limiting and appears as RecipeCandidate.SourceName.
type Source interface {
	Name() string
}

// Searcher is a Source that answers free-text recipe queries. An empty
// slice with a nil error means the source legitimately had nothing.
type Searcher interface {
	Source
	Search(ctx context.Context, term string, opts models.SearchOptions) ([]models.RecipeCandidate, error)
}

// CodeResolver is a Source that resolves barcodes and QR payloads. A nil
// candidate with a nil error means the code is unknown to the source.
type CodeResolver interface {
	Source
	LookupByCode(ctx context.Context, code string) (*models.RecipeCandidate, error)
}

// FoodIndex is a Source that searches and fetches individual foods rather
// than recipes.
type FoodIndex interface {
	Source
	SearchFoods(ctx context.Context, query string, page, limit int) (models.FoodPage, error)
	Food(ctx context.Context, id string) (*models.Food, error)
}

// ErrorKind classifies a source failure.
type ErrorKind string

const (
	ErrTimeout   ErrorKind = "timeout"
	ErrClient    ErrorKind = "client"
	ErrServer    ErrorKind = "server"
	ErrTransport ErrorKind = "transport"
	ErrDecode    ErrorKind = "decode"
)

// SourceError is a failed call to an external index. It matches
// models.ErrSourceUnavailable.
type SourceError struct {
	Source string
	Kind   ErrorKind
	Status int
	Err    error
}

func (e *SourceError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: %s error (status %d): %v", e.Source, e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %s error: %v", e.Source, e.Kind, e.Err)
}

func (e *SourceError) Unwrap() error { return e.Err }

// Is reports whether target is models.ErrSourceUnavailable.
func (e *SourceError) Is(target error) bool {
	return target == models.ErrSourceUnavailable
}

// Config describes one configured source.
type Config struct {
	Name              string        `yaml:"name"`
	Type              string        `yaml:"type"` // edamam, fatsecret, openfoodfacts
	BaseURL           string        `yaml:"base_url"`
	TokenURL          string        `yaml:"token_url"`
	AppID             string        `yaml:"app_id"`
	AppKey            string        `yaml:"app_key"`
	ClientID          string        `yaml:"client_id"`
	ClientSecret      string        `yaml:"client_secret"`
	UserAgent         string        `yaml:"user_agent"`
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
}

const (
	defaultTimeout           = 15 * time.Second
	defaultRequestsPerSecond = 5
	maxResults               = 20
)

// New builds the source described by cfg.
func New(cfg Config, log *logrus.Logger) (Source, error) {
	switch cfg.Type {
	case "edamam":
		return NewEdamam(cfg, log), nil
	case "fatsecret":
		return NewFatSecret(cfg, log)
	case "openfoodfacts":
		return NewOpenFoodFacts(cfg, log), nil
	default:
		return nil, fmt.Errorf("unknown source type %q", cfg.Type)
	}
}

// pacedTransport spaces outgoing requests so a single client never bursts
// against an upstream.
type pacedTransport struct {
	base    http.RoundTripper
	limiter *rate.Limiter
}

func (t *pacedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.limiter.Wait(req.Context()); err != nil {
		return nil, err
	}
	return t.base.RoundTrip(req)
}

func newPacedTransport(base http.RoundTripper, rps float64) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	if rps <= 0 {
		rps = defaultRequestsPerSecond
	}
	return &pacedTransport{base: base, limiter: rate.NewLimiter(rate.Limit(rps), 1)}
}

func newRestyClient(hc *http.Client, cfg Config, defaultBase string) *resty.Client {
	base := cfg.BaseURL
	if base == "" {
		base = defaultBase
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	ua := cfg.UserAgent
	if ua == "" {
		ua = "larder/1.0"
	}
	return resty.NewWithClient(hc).
		SetBaseURL(base).
		SetTimeout(timeout).
		SetHeader("User-Agent", ua).
		SetHeader("Accept", "application/json")
}

func sourceName(cfg Config, fallback string) string {
	if cfg.Name != "" {
		return cfg.Name
	}
	return fallback
}

// classify turns a transport error or non-2xx response into a *SourceError.
// It returns nil for successful responses.
func classify(source string, resp *resty.Response, err error) error {
	if err != nil {
		var netErr net.Error
		switch {
		case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr) && netErr.Timeout():
			return &SourceError{Source: source, Kind: ErrTimeout, Err: err}
		case errors.Is(err, context.Canceled):
			return err
		default:
			return &SourceError{Source: source, Kind: ErrTransport, Err: err}
		}
	}
	status := resp.StatusCode()
	switch {
	case status >= 500:
		return &SourceError{Source: source, Kind: ErrServer, Status: status, Err: errors.New(http.StatusText(status))}
	case status >= 400:
		return &SourceError{Source: source, Kind: ErrClient, Status: status, Err: errors.New(http.StatusText(status))}
	}
	return nil
}

func decodeError(source string, err error) error {
	return &SourceError{Source: source, Kind: ErrDecode, Err: err}
}

func limitOf(opts models.SearchOptions) int {
	if opts.Limit > 0 && opts.Limit < maxResults {
		return opts.Limit
	}
	return maxResults
}

func sourceLogger(log *logrus.Logger, name string) *logrus.Entry {
	return logging.OrDiscard(log).WithField("source", name)
}
