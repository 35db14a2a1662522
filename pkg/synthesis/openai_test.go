package synthesis

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/larder-app/larder/pkg/models"
)

type chatRequest struct {
	Model    string `json:"model"`
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

func completion(content string) map[string]any {
	return map[string]any{
		"id":      "chatcmpl-1",
		"object":  "chat.completion",
		"created": 1700000000,
		"model":   "test-model",
		"choices": []any{map[string]any{
			"index":         0,
			"finish_reason": "stop",
			"message":       map[string]any{"role": "assistant", "content": content},
		}},
	}
}

// newTestProvider serves chat completions, answering with reply(prompt).
func newTestProvider(t *testing.T, reply func(prompt string) (int, string)) *OpenAI {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-model", req.Model)
		require.Len(t, req.Messages, 2)
		assert.Equal(t, "system", req.Messages[0].Role)

		status, content := reply(req.Messages[1].Content)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status != http.StatusOK {
			_, _ = w.Write([]byte(`{"error":{"message":"boom","type":"server_error"}}`))
			return
		}
		_ = json.NewEncoder(w).Encode(completion(content))
	}))
	t.Cleanup(srv.Close)

	p, err := NewOpenAI(Config{BaseURL: srv.URL + "/v1/", APIKey: "sk-test", Model: "test-model"}, nil)
	require.NoError(t, err)
	return p
}

const recipeJSON = `{"title":"Garlic Fried Rice","servings":2,"total_time":15,
"ingredients":[{"name":"Rice","quantity":2,"unit":"cup"},{"name":"Garlic","quantity":4,"unit":"clove"}],
"steps":["Fry garlic","Add rice"],"nutrition":{"calories":320}}`

func TestNewOpenAIRequiresKey(t *testing.T) {
	_, err := NewOpenAI(Config{}, nil)
	assert.Error(t, err)
}

func TestSuggestNames(t *testing.T) {
	p := newTestProvider(t, func(prompt string) (int, string) {
		assert.Contains(t, prompt, "Suggest 3")
		assert.Contains(t, prompt, "eggs, rice")
		return http.StatusOK, "```json\n{\"names\": [\"Egg Fried Rice\", \"egg fried  rice\", \"Omurice\", \"\", \"Congee\", \"Extra\"]}\n```"
	})

	names, err := p.SuggestNames(context.Background(), "rice", 3, Context{Ingredients: []string{"eggs", "rice"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"Egg Fried Rice", "Omurice", "Congee"}, names)
}

func TestSuggestNamesZero(t *testing.T) {
	p := newTestProvider(t, func(string) (int, string) {
		t.Error("no call expected")
		return http.StatusOK, "{}"
	})
	names, err := p.SuggestNames(context.Background(), "rice", 0, Context{})
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestSynthesizeRecipe(t *testing.T) {
	p := newTestProvider(t, func(prompt string) (int, string) {
		assert.Contains(t, prompt, "Garlic Fried Rice")
		assert.Contains(t, prompt, "Do not repeat any of: Sinangag")
		return http.StatusOK, "Here you go:\n" + recipeJSON + "\nEnjoy!"
	})

	r, err := p.SynthesizeRecipe(context.Background(), "Garlic Fried Rice", Context{AvoidTitles: []string{"Sinangag"}}, nil)
	require.NoError(t, err)
	assert.Equal(t, "Garlic Fried Rice", r.Title)
	assert.Len(t, r.Ingredients, 2)
	assert.Equal(t, 320.0, r.Nutrition.Calories)
	assert.True(t, strings.HasPrefix(r.ID, "gen:"))

	_, err = p.SynthesizeRecipe(context.Background(), "Garlic Fried Rice", Context{AvoidTitles: []string{"Sinangag"}}, []string{r.ID})
	assert.ErrorIs(t, err, models.ErrDuplicateGenerated)
}

func TestSynthesizeIncompleteRecipe(t *testing.T) {
	p := newTestProvider(t, func(string) (int, string) {
		return http.StatusOK, `{"title":"Nothing","ingredients":[],"steps":[]}`
	})
	_, err := p.SynthesizeRecipe(context.Background(), "x", Context{}, nil)
	assert.Error(t, err)
}

func TestValidateTerm(t *testing.T) {
	p := newTestProvider(t, func(prompt string) (int, string) {
		if strings.Contains(prompt, "laptop") {
			return http.StatusOK, `{"valid": false, "reason": "not food"}`
		}
		return http.StatusOK, `{"valid": true}`
	})

	v, err := p.ValidateTerm(context.Background(), "laptop")
	require.NoError(t, err)
	assert.False(t, v.Valid)
	assert.Equal(t, "not food", v.Reason)

	v, err = p.ValidateTerm(context.Background(), "adobo")
	require.NoError(t, err)
	assert.True(t, v.Valid)
}

func TestProviderErrors(t *testing.T) {
	p := newTestProvider(t, func(string) (int, string) {
		return http.StatusInternalServerError, ""
	})
	_, err := p.ValidateTerm(context.Background(), "adobo")
	assert.Error(t, err)

	p = newTestProvider(t, func(string) (int, string) {
		return http.StatusOK, "sorry, I cannot help"
	})
	_, err = p.SuggestNames(context.Background(), "adobo", 2, Context{})
	assert.Error(t, err)
}

func TestRecipeIDStable(t *testing.T) {
	a := &models.Recipe{Title: "Chicken  Adobo", Ingredients: []models.Ingredient{{Name: "Chicken"}, {Name: "Soy Sauce"}}}
	b := &models.Recipe{Title: "chicken adobo", Ingredients: []models.Ingredient{{Name: "soy sauce"}, {Name: "chicken"}}}
	c := &models.Recipe{Title: "Pork Adobo", Ingredients: []models.Ingredient{{Name: "pork"}}}

	assert.Equal(t, RecipeID(a), RecipeID(b))
	assert.NotEqual(t, RecipeID(a), RecipeID(c))
}

func TestExtractJSON(t *testing.T) {
	assert.Equal(t, `{"a":1}`, extractJSON("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":{"b":2}}`, extractJSON(`text {"a":{"b":2}} more`))
	assert.Equal(t, "nope", extractJSON(" nope "))
}
