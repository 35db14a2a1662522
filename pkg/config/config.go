package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/larder-app/larder/pkg/cache"
	"github.com/larder-app/larder/pkg/discovery"
	"github.com/larder-app/larder/pkg/generation"
	"github.com/larder-app/larder/pkg/logging"
	"github.com/larder-app/larder/pkg/models"
	"github.com/larder-app/larder/pkg/ratelimit"
	"github.com/larder-app/larder/pkg/router"
	"github.com/larder-app/larder/pkg/sources"
	"github.com/larder-app/larder/pkg/synthesis"
)

// Config holds all larder configuration.
type Config struct {
	Listen     string             `yaml:"listen"`
	Log        logging.Config     `yaml:"log"`
	Store      StoreConfig        `yaml:"store"`
	Cache      cache.Config       `yaml:"cache"`
	RateLimit  ratelimit.Config   `yaml:"rate_limit"`
	Sources    []sources.Config   `yaml:"sources"`
	Routes     router.Routes      `yaml:"routes"`
	FanOut     int                `yaml:"fan_out"`
	Synthesis  SynthesisConfig    `yaml:"synthesis"`
	Generation generation.Config  `yaml:"generation"`
	Discovery  discovery.Config   `yaml:"discovery"`
	Pantry     PantryConfig       `yaml:"pantry"`
	Audit      models.AuditConfig `yaml:"audit"`
}

// StoreConfig selects the durable backend behind the result cache.
// Backend is "sqlite" (default), "redis" or "memory".
type StoreConfig struct {
	Backend  string `yaml:"backend"`
	Path     string `yaml:"path"`
	RedisURL string `yaml:"redis_url"`
}

// SynthesisConfig controls AI recipe generation.
type SynthesisConfig struct {
	Enabled          bool `yaml:"enabled"`
	synthesis.Config `yaml:",inline"`
}

// PantryConfig points at the YAML pantry document.
type PantryConfig struct {
	File string `yaml:"file"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Listen: ":8080",
		Log:    logging.Config{Level: "info", Format: "text"},
		Store: StoreConfig{
			Backend: "sqlite",
			Path:    "larder.db",
		},
		Cache: cache.Config{
			TTL:      cache.DefaultTTL,
			Cooldown: cache.DefaultCooldown,
			LRUSize:  cache.DefaultLRUSize,
		},
		RateLimit: ratelimit.Config{
			Window:       ratelimit.DefaultWindow,
			MaxCalls:     ratelimit.DefaultMaxCalls,
			SafetyBuffer: ratelimit.DefaultSafetyBuffer,
		},
		Sources: []sources.Config{
			{Name: "openfoodfacts", Type: "openfoodfacts"},
		},
		FanOut: 3,
		Synthesis: SynthesisConfig{
			Config: synthesis.Config{Model: "gpt-4o-mini", Temperature: 0.7, MaxRetries: 2, Timeout: time.Minute},
		},
		Generation: generation.Config{Cap: generation.DefaultCap, NameAttempts: generation.DefaultNameAttempts},
		Discovery: discovery.Config{
			SearchTimeout:       discovery.DefaultSearchTimeout,
			GenerateTimeout:     discovery.DefaultGenerateTimeout,
			StepTimeout:         discovery.DefaultStepTimeout,
			PriorityIngredients: 3,
		},
		Audit: models.AuditConfig{
			Enabled:       false,
			DBPath:        "larder_audit.db",
			RetentionDays: 30,
			MaxQuerySize:  256,
		},
	}
}

// LoadEnv loads variables from .env style files. Missing files are ignored
// and variables already set in the environment win.
func LoadEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// Load reads a YAML config file and expands environment variables.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv fills credentials from well-known environment variables. Sources
// whose credentials are present are placed ahead of the defaults in the
// fallback order edamam, fatsecret, openfoodfacts.
func (c *Config) ApplyEnv() {
	var extra []sources.Config
	if id, key := os.Getenv("EDAMAM_APP_ID"), os.Getenv("EDAMAM_APP_KEY"); id != "" && key != "" && !c.hasSource("edamam") {
		extra = append(extra, sources.Config{Name: "edamam", Type: "edamam", AppID: id, AppKey: key})
	}
	if id, secret := os.Getenv("FATSECRET_CLIENT_ID"), os.Getenv("FATSECRET_CLIENT_SECRET"); id != "" && secret != "" && !c.hasSource("fatsecret") {
		extra = append(extra, sources.Config{Name: "fatsecret", Type: "fatsecret", ClientID: id, ClientSecret: secret})
	}
	c.Sources = append(extra, c.Sources...)

	if key := os.Getenv("OPENAI_API_KEY"); key != "" && c.Synthesis.APIKey == "" {
		c.Synthesis.APIKey = key
		c.Synthesis.Enabled = true
	}
	if base := os.Getenv("OPENAI_BASE_URL"); base != "" && c.Synthesis.BaseURL == "" {
		c.Synthesis.BaseURL = base
	}
	if url := os.Getenv("REDIS_URL"); url != "" && c.Store.RedisURL == "" {
		c.Store.RedisURL = url
	}
}

func (c *Config) hasSource(name string) bool {
	for _, s := range c.Sources {
		if s.Name == name {
			return true
		}
	}
	return false
}

// Validate reports configuration errors that would only surface at runtime.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case "", "sqlite", "memory":
	case "redis":
		if c.Store.RedisURL == "" {
			return fmt.Errorf("store: redis backend needs redis_url")
		}
	default:
		return fmt.Errorf("store: unknown backend %q", c.Store.Backend)
	}

	seen := make(map[string]bool, len(c.Sources))
	for i, s := range c.Sources {
		switch s.Type {
		case "edamam", "fatsecret", "openfoodfacts":
		default:
			return fmt.Errorf("sources[%d]: unknown type %q", i, s.Type)
		}
		name := s.Name
		if name == "" {
			name = s.Type
		}
		if seen[name] {
			return fmt.Errorf("sources[%d]: duplicate name %q", i, name)
		}
		seen[name] = true
	}

	if c.Synthesis.Enabled && c.Synthesis.APIKey == "" {
		return fmt.Errorf("synthesis: enabled without api_key")
	}
	return nil
}
