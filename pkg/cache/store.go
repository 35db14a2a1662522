// Package cache stores discovery result sets keyed by request fingerprint,
// guarded by a TTL and an optional freshness signature.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/larder-app/larder/pkg/kv"
	"github.com/larder-app/larder/pkg/logging"
	"github.com/larder-app/larder/pkg/models"
)

// Defaults applied when a Config field is zero.
const (
	DefaultTTL      = 30 * time.Minute
	DefaultCooldown = 45 * time.Second
	DefaultLRUSize  = 512
)

// Config controls freshness and the in-memory front.
type Config struct {
	TTL      time.Duration `yaml:"ttl"`
	Cooldown time.Duration `yaml:"cooldown"`
	LRUSize  int           `yaml:"lru_size"`
}

// Store is a result cache over a durable kv.Store. The backend is the source
// of truth and may be shared with other processes; decoded entries are kept
// in an LRU keyed by their raw value so repeated reads skip decoding.
type Store struct {
	backend  kv.Store
	front    *lru.Cache[string, frontEntry]
	ttl      time.Duration
	cooldown time.Duration
	log      *logrus.Logger
	now      func() time.Time

	hits    atomic.Int64
	misses  atomic.Int64
	corrupt atomic.Int64

	otelHits    metric.Int64Counter
	otelMisses  metric.Int64Counter
	otelCorrupt metric.Int64Counter
}

// New creates a Store persisting through backend.
func New(backend kv.Store, cfg Config, log *logrus.Logger) (*Store, error) {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}
	if cfg.LRUSize <= 0 {
		cfg.LRUSize = DefaultLRUSize
	}

	front, err := lru.New[string, frontEntry](cfg.LRUSize)
	if err != nil {
		return nil, fmt.Errorf("create lru: %w", err)
	}

	s := &Store{
		backend:  backend,
		front:    front,
		ttl:      cfg.TTL,
		cooldown: cfg.Cooldown,
		log:      logging.OrDiscard(log),
		now:      time.Now,
	}

	meter := otel.Meter("github.com/larder-app/larder/pkg/cache")
	s.otelHits, _ = meter.Int64Counter("larder.cache.hits",
		metric.WithDescription("Number of result cache hits"))
	s.otelMisses, _ = meter.Int64Counter("larder.cache.misses",
		metric.WithDescription("Number of result cache misses"))
	s.otelCorrupt, _ = meter.Int64Counter("larder.cache.corrupt",
		metric.WithDescription("Number of unreadable result cache entries"))

	return s, nil
}

// Key derives the cache key for a request: the query kind followed by a
// SHA-256 of the kind, normalized text and canonical filter set.
func Key(kind models.QueryKind, text string, opts models.SearchOptions) string {
	h := sha256.New()
	h.Write([]byte(kind))
	h.Write([]byte{0})
	h.Write([]byte(models.NormalizeTerm(text)))
	h.Write([]byte{0})
	h.Write([]byte(opts.Canonical()))
	return fmt.Sprintf("%s:%x", kind, h.Sum(nil))
}

// Get returns the entry for key when it is younger than the TTL and its
// stored signature, if any, equals signature.
func (s *Store) Get(ctx context.Context, key, signature string) (*models.CacheEntry, bool) {
	entry, ok := s.load(ctx, key)
	if !ok {
		s.recordMiss(ctx)
		return nil, false
	}
	if s.now().Sub(entry.CreatedAt) >= s.ttl {
		s.log.WithField("key", key).Debug("cache entry expired")
		s.recordMiss(ctx)
		return nil, false
	}
	if entry.Signature != "" && entry.Signature != signature {
		s.log.WithField("key", key).Debug("cache signature changed")
		s.recordMiss(ctx)
		return nil, false
	}
	s.recordHit(ctx)
	return &entry, true
}

// GetStale is Get without the TTL check. It serves throttled refreshes.
func (s *Store) GetStale(ctx context.Context, key, signature string) (*models.CacheEntry, bool) {
	entry, ok := s.load(ctx, key)
	if !ok || (entry.Signature != "" && entry.Signature != signature) {
		s.recordMiss(ctx)
		return nil, false
	}
	s.recordHit(ctx)
	return &entry, true
}

// Put writes a result set. An empty payload with errMsg records a negative
// result.
func (s *Store) Put(ctx context.Context, key string, payload []models.RecipeCandidate, signature, errMsg string) error {
	if payload == nil {
		payload = []models.RecipeCandidate{}
	}
	entry := models.CacheEntry{
		Key:          key,
		Payload:      payload,
		Signature:    signature,
		CreatedAt:    s.now().UTC(),
		ErrorMessage: errMsg,
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}
	if err := s.set(ctx, key, string(data)); err != nil {
		s.front.Remove(key)
		return fmt.Errorf("cache put: %w", err)
	}
	s.front.Add(key, frontEntry{raw: string(data), entry: entry})
	return nil
}

// set writes through the backend, letting it expire the value once the TTL
// has passed when it can.
func (s *Store) set(ctx context.Context, key, value string) error {
	if exp, ok := s.backend.(kv.Expiring); ok {
		return exp.SetStringTTL(ctx, key, value, s.ttl)
	}
	return s.backend.SetString(ctx, key, value)
}

// RefreshAllowed reports whether a forced refresh may bypass the entry for
// key. It is false within the cooldown after the last write.
func (s *Store) RefreshAllowed(ctx context.Context, key string) bool {
	entry, ok := s.load(ctx, key)
	if !ok {
		return true
	}
	return s.now().Sub(entry.CreatedAt) >= s.cooldown
}

// Stats returns cache performance counters.
func (s *Store) Stats(ctx context.Context) (models.CacheStats, error) {
	n, err := s.backend.Len(ctx)
	if err != nil {
		return models.CacheStats{}, fmt.Errorf("cache stats: %w", err)
	}
	return models.CacheStats{
		Entries: n,
		Hits:    s.hits.Load(),
		Misses:  s.misses.Load(),
		Corrupt: s.corrupt.Load(),
	}, nil
}

// Clear removes entries. With expiredOnly, only entries past the TTL and
// unreadable entries are removed.
func (s *Store) Clear(ctx context.Context, expiredOnly bool) error {
	if !expiredOnly {
		s.front.Purge()
		if err := s.backend.Clear(ctx); err != nil {
			return fmt.Errorf("cache clear: %w", err)
		}
		return nil
	}

	now := s.now()
	var stale []string
	err := s.backend.Range(ctx, func(key, value string) bool {
		var entry models.CacheEntry
		if err := json.Unmarshal([]byte(value), &entry); err != nil || now.Sub(entry.CreatedAt) >= s.ttl {
			stale = append(stale, key)
		}
		return true
	})
	if err != nil {
		return fmt.Errorf("cache clear: %w", err)
	}
	for _, key := range stale {
		s.front.Remove(key)
		if err := s.backend.Delete(ctx, key); err != nil {
			return fmt.Errorf("cache clear: %w", err)
		}
	}
	return nil
}

// Close releases the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}

type frontEntry struct {
	raw   string
	entry models.CacheEntry
}

// load reads and decodes an entry. The backend is always consulted so
// writes and clears from other processes are seen; the front only saves
// decoding an unchanged value. Backend failures and corrupt values are
// logged and reported as absent.
func (s *Store) load(ctx context.Context, key string) (models.CacheEntry, bool) {
	raw, ok, err := s.backend.GetString(ctx, key)
	if err != nil {
		s.front.Remove(key)
		s.log.WithFields(logrus.Fields{"key": key, "error": err}).Debug("cache read failed")
		return models.CacheEntry{}, false
	}
	if !ok {
		s.front.Remove(key)
		return models.CacheEntry{}, false
	}
	if fe, ok := s.front.Get(key); ok && fe.raw == raw {
		return fe.entry, true
	}

	var entry models.CacheEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil || entry.CreatedAt.IsZero() {
		s.front.Remove(key)
		s.corrupt.Add(1)
		s.otelCorrupt.Add(ctx, 1)
		s.log.WithFields(logrus.Fields{"key": key, "error": models.ErrCacheCorrupt}).Debug("discarding cache entry")
		return models.CacheEntry{}, false
	}
	s.front.Add(key, frontEntry{raw: raw, entry: entry})
	return entry, true
}

func (s *Store) recordHit(ctx context.Context) {
	s.hits.Add(1)
	s.otelHits.Add(ctx, 1)
}

func (s *Store) recordMiss(ctx context.Context) {
	s.misses.Add(1)
	s.otelMisses.Add(ctx, 1)
}
