package models

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"time"
)

// RecipeCandidate is a single search result from an external index or the
// synthesis provider.
type RecipeCandidate struct {
	ID         string          `json:"id,omitempty"`
	URI        string          `json:"uri,omitempty"`
	Title      string          `json:"title"`
	Image      string          `json:"image,omitempty"`
	Calories   float64         `json:"calories,omitempty"`
	TotalTime  float64         `json:"total_time,omitempty"` // minutes
	SourceName string          `json:"source_name"`
	Generated  bool            `json:"generated,omitempty"`
	Raw        json.RawMessage `json:"raw,omitempty"`
}

// Key returns the identity used for deduplication: the ID when present,
// otherwise the URI.
func (c RecipeCandidate) Key() string {
	if c.ID != "" {
		return c.ID
	}
	return c.URI
}

// Ingredient is one line of a generated recipe.
type Ingredient struct {
	Name     string  `json:"name"`
	Quantity float64 `json:"quantity,omitempty"`
	Unit     string  `json:"unit,omitempty"`
}

// Nutrition is a per-serving estimate.
type Nutrition struct {
	Calories float64 `json:"calories"`
	Protein  float64 `json:"protein,omitempty"`
	Carbs    float64 `json:"carbs,omitempty"`
	Fat      float64 `json:"fat,omitempty"`
}

// Recipe is a fully specified recipe authored by the synthesis provider.
type Recipe struct {
	ID          string       `json:"id"`
	Title       string       `json:"title"`
	Description string       `json:"description,omitempty"`
	Servings    int          `json:"servings,omitempty"`
	TotalTime   float64      `json:"total_time,omitempty"`
	Ingredients []Ingredient `json:"ingredients"`
	Steps       []string     `json:"steps"`
	Nutrition   Nutrition    `json:"nutrition"`
}

// Candidate converts a generated recipe into a result list entry.
func (r Recipe) Candidate(sourceName string) RecipeCandidate {
	raw, _ := json.Marshal(r)
	return RecipeCandidate{
		ID:         r.ID,
		Title:      r.Title,
		Calories:   r.Nutrition.Calories,
		TotalTime:  r.TotalTime,
		SourceName: sourceName,
		Generated:  true,
		Raw:        raw,
	}
}

// PantryItem is the subset of a pantry record the discovery core reads.
type PantryItem struct {
	Name           string     `json:"name" yaml:"name"`
	ExpirationDate *time.Time `json:"expiration_date,omitempty" yaml:"expiration_date,omitempty"`
	Quantity       float64    `json:"quantity" yaml:"quantity"`
	Unit           string     `json:"unit,omitempty" yaml:"unit,omitempty"`
}

// SearchOptions are the filters applied to a recipe search.
type SearchOptions struct {
	Diet        []string `json:"diet,omitempty"`
	Health      []string `json:"health,omitempty"`
	Cuisine     []string `json:"cuisine,omitempty"`
	MealType    []string `json:"meal_type,omitempty"`
	MaxCalories int      `json:"max_calories,omitempty"`
	Limit       int      `json:"limit,omitempty"`
}

// Canonical returns a stable encoding of the filter set, independent of the
// order values were supplied in.
func (o SearchOptions) Canonical() string {
	var parts []string
	add := func(name string, values []string) {
		if len(values) == 0 {
			return
		}
		vs := make([]string, 0, len(values))
		for _, v := range values {
			if v = strings.ToLower(strings.TrimSpace(v)); v != "" {
				vs = append(vs, v)
			}
		}
		sort.Strings(vs)
		parts = append(parts, name+"="+strings.Join(vs, ","))
	}
	add("cuisine", o.Cuisine)
	add("diet", o.Diet)
	add("health", o.Health)
	add("meal", o.MealType)
	if o.MaxCalories > 0 {
		parts = append(parts, "kcal="+strconv.Itoa(o.MaxCalories))
	}
	if o.Limit > 0 {
		parts = append(parts, "limit="+strconv.Itoa(o.Limit))
	}
	return strings.Join(parts, "&")
}

// NormalizeTerm lowercases and collapses whitespace in a search term or title.
func NormalizeTerm(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
