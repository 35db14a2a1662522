package synthesis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/sirupsen/logrus"

	"github.com/larder-app/larder/pkg/logging"
	"github.com/larder-app/larder/pkg/models"
)

// Config selects the chat completion endpoint and model.
type Config struct {
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key"`
	Model       string        `yaml:"model"`
	Temperature float64       `yaml:"temperature"`
	MaxTokens   int           `yaml:"max_tokens"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxRetries  int           `yaml:"max_retries"`
}

const (
	defaultModel     = "gpt-4o-mini"
	defaultMaxTokens = 1200
	defaultTimeout   = 60 * time.Second
)

// OpenAI implements Provider on an OpenAI-compatible chat completion API.
type OpenAI struct {
	client      openai.Client
	model       string
	temperature float64
	maxTokens   int
	timeout     time.Duration
	log         *logrus.Logger
}

// NewOpenAI creates an OpenAI provider. An API key is required.
func NewOpenAI(cfg Config, log *logrus.Logger) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("synthesis: api_key is required")
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &OpenAI{
		client:      openai.NewClient(opts...),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		timeout:     cfg.Timeout,
		log:         logging.OrDiscard(log),
	}, nil
}

const systemPrompt = `You are a recipe assistant for a home pantry app. ` +
	`Answer with a single JSON object and nothing else.`

// complete sends one prompt and decodes the JSON object in the answer into v.
func (o *OpenAI) complete(ctx context.Context, prompt string, temperature float64, v any) error {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	resp, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: o.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(prompt),
		},
		MaxTokens:   openai.Int(int64(o.maxTokens)),
		Temperature: openai.Float(temperature),
	})
	if err != nil {
		return fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return errors.New("chat completion: no choices returned")
	}

	body := extractJSON(resp.Choices[0].Message.Content)
	if err := json.Unmarshal([]byte(body), v); err != nil {
		return fmt.Errorf("parse completion: %w", err)
	}
	return nil
}

// extractJSON strips markdown fences and any prose around the outermost
// JSON object.
func extractJSON(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end < start {
		return strings.TrimSpace(s)
	}
	return s[start : end+1]
}

func describe(c Context) string {
	var b strings.Builder
	if len(c.Ingredients) > 0 {
		fmt.Fprintf(&b, "Use these pantry ingredients where sensible: %s.\n", strings.Join(c.Ingredients, ", "))
	}
	o := c.Options
	if len(o.Diet) > 0 {
		fmt.Fprintf(&b, "Diet: %s.\n", strings.Join(o.Diet, ", "))
	}
	if len(o.Health) > 0 {
		fmt.Fprintf(&b, "Health labels: %s.\n", strings.Join(o.Health, ", "))
	}
	if len(o.Cuisine) > 0 {
		fmt.Fprintf(&b, "Cuisine: %s.\n", strings.Join(o.Cuisine, ", "))
	}
	if len(o.MealType) > 0 {
		fmt.Fprintf(&b, "Meal type: %s.\n", strings.Join(o.MealType, ", "))
	}
	if o.MaxCalories > 0 {
		fmt.Fprintf(&b, "At most %d kcal per serving.\n", o.MaxCalories)
	}
	if len(c.AvoidTitles) > 0 {
		fmt.Fprintf(&b, "Do not repeat any of: %s.\n", strings.Join(c.AvoidTitles, "; "))
	}
	return b.String()
}

func (o *OpenAI) SuggestNames(ctx context.Context, term string, n int, c Context) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}
	prompt := fmt.Sprintf("Suggest %d distinct recipe names for %q.\n%s"+
		`Respond as {"names": ["..."]}.`, n, term, describe(c))

	var out struct {
		Names []string `json:"names"`
	}
	if err := o.complete(ctx, prompt, o.temperature, &out); err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(out.Names))
	names := make([]string, 0, n)
	for _, name := range out.Names {
		name = strings.TrimSpace(name)
		key := models.NormalizeTerm(name)
		if key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		names = append(names, name)
		if len(names) == n {
			break
		}
	}
	if len(names) == 0 {
		return nil, errors.New("suggest names: empty answer")
	}
	return names, nil
}

func (o *OpenAI) SynthesizeRecipe(ctx context.Context, name string, c Context, avoidIDs []string) (*models.Recipe, error) {
	prompt := fmt.Sprintf("Write a complete recipe called %q.\n%s"+
		`Respond as {"title": "", "description": "", "servings": 2, "total_time": 30, `+
		`"ingredients": [{"name": "", "quantity": 1, "unit": ""}], "steps": [""], `+
		`"nutrition": {"calories": 0, "protein": 0, "carbs": 0, "fat": 0}}. `+
		`total_time is in minutes and nutrition is per serving.`, name, describe(c))

	var r models.Recipe
	if err := o.complete(ctx, prompt, o.temperature, &r); err != nil {
		return nil, err
	}
	if strings.TrimSpace(r.Title) == "" || len(r.Ingredients) == 0 || len(r.Steps) == 0 {
		return nil, errors.New("synthesize recipe: incomplete recipe")
	}

	r.ID = RecipeID(&r)
	if slices.Contains(avoidIDs, r.ID) {
		return nil, fmt.Errorf("%w: %s", models.ErrDuplicateGenerated, r.Title)
	}
	o.log.WithFields(logrus.Fields{"name": name, "id": r.ID}).Debug("recipe synthesized")
	return &r, nil
}

func (o *OpenAI) ValidateTerm(ctx context.Context, term string) (Validation, error) {
	prompt := fmt.Sprintf("Is %q a food, dish, ingredient or cooking related search? "+
		`Respond as {"valid": true, "reason": ""} and give a short reason when not valid.`, term)

	var v Validation
	if err := o.complete(ctx, prompt, 0, &v); err != nil {
		return Validation{}, err
	}
	return v, nil
}
