// Package synthesis authors recipes with a language model when the external
// indexes come up short.
package synthesis

import (
	"context"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/larder-app/larder/pkg/models"
)

// Context carries what the provider should cook around.
type Context struct {
	Term        string
	Ingredients []string
	Options     models.SearchOptions
	AvoidTitles []string
}

// Validation is the verdict on whether a term describes food.
type Validation struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
}

// Provider is an AI recipe author.
type Provider interface {
	// SuggestNames proposes up to n distinct recipe names for term.
	SuggestNames(ctx context.Context, term string, n int, c Context) ([]string, error)
	// SynthesizeRecipe writes a full recipe for name. A result whose id is in
	// avoidIDs is reported as models.ErrDuplicateGenerated.
	SynthesizeRecipe(ctx context.Context, name string, c Context, avoidIDs []string) (*models.Recipe, error)
	// ValidateTerm judges whether term is food related.
	ValidateTerm(ctx context.Context, term string) (Validation, error)
}

// RecipeID derives a stable id from a recipe's normalized title and
// ingredient names, so the same dish generated twice collides.
func RecipeID(r *models.Recipe) string {
	names := make([]string, 0, len(r.Ingredients))
	for _, ing := range r.Ingredients {
		names = append(names, models.NormalizeTerm(ing.Name))
	}
	sort.Strings(names)
	seed := "larder:recipe:" + models.NormalizeTerm(r.Title) + "|" + strings.Join(names, ",")
	return "gen:" + uuid.NewSHA1(uuid.NameSpaceURL, []byte(seed)).String()
}
