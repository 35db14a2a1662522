package sources

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/larder-app/larder/pkg/models"
)

// FatSecret endpoints.
const (
	DefaultFatSecretURL      = "https://platform.fatsecret.com"
	DefaultFatSecretTokenURL = "https://oauth.fatsecret.com/connect/token"
	fatSecretAPIPath         = "/rest/server.api"

	// tokens are renewed this long before they expire
	tokenEarlyExpiry = 30 * time.Second
	tokenTimeout     = 15 * time.Second

	// foods.search accepts at most this many results per page
	maxFoodResults = 50
	// api error code for an unknown food_id
	fatSecretInvalidID = 106
)

// fatSecretError is an error reported inside a successful HTTP response.
type fatSecretError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *fatSecretError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.Code, e.Message)
}

// FatSecret queries the FatSecret Platform API using an OAuth2
// client-credentials token.
type FatSecret struct {
	name   string
	client *resty.Client
	log    *logrus.Entry
}

// NewFatSecret creates a FatSecret client. Credentials are required.
func NewFatSecret(cfg Config, log *logrus.Logger) (*FatSecret, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, errors.New("fatsecret: client_id and client_secret are required")
	}
	tokenURL := cfg.TokenURL
	if tokenURL == "" {
		tokenURL = DefaultFatSecretTokenURL
	}

	cc := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     tokenURL,
		Scopes:       []string{"basic"},
		AuthStyle:    oauth2.AuthStyleInHeader,
	}
	tokenCtx := context.WithValue(context.Background(), oauth2.HTTPClient, &http.Client{Timeout: tokenTimeout})
	hc := &http.Client{
		Transport: &oauth2.Transport{
			Source: oauth2.ReuseTokenSourceWithExpiry(nil, cc.TokenSource(tokenCtx), tokenEarlyExpiry),
			Base:   newPacedTransport(nil, cfg.RequestsPerSecond),
		},
	}

	name := sourceName(cfg, "fatsecret")
	return &FatSecret{
		name:   name,
		client: newRestyClient(hc, cfg, DefaultFatSecretURL),
		log:    sourceLogger(log, name),
	}, nil
}

func (f *FatSecret) Name() string { return f.name }

// call posts one server.api method and returns the raw JSON body. API-level
// errors reported inside a 200 response are turned into client errors.
func (f *FatSecret) call(ctx context.Context, method string, params map[string]string) ([]byte, error) {
	form := map[string]string{"method": method, "format": "json"}
	for k, v := range params {
		form[k] = v
	}
	resp, err := f.client.R().SetContext(ctx).SetFormData(form).Post(fatSecretAPIPath)
	if err != nil {
		var rerr *oauth2.RetrieveError
		if errors.As(err, &rerr) {
			se := &SourceError{Source: f.name, Kind: ErrClient, Err: err}
			if rerr.Response != nil {
				se.Status = rerr.Response.StatusCode
			}
			return nil, se
		}
	}
	if err := classify(f.name, resp, err); err != nil {
		return nil, err
	}

	body := resp.Body()
	var apiErr struct {
		Error *fatSecretError `json:"error"`
	}
	if err := json.Unmarshal(body, &apiErr); err != nil {
		return nil, decodeError(f.name, err)
	}
	if apiErr.Error != nil {
		return nil, &SourceError{
			Source: f.name,
			Kind:   ErrClient,
			Status: resp.StatusCode(),
			Err:    apiErr.Error,
		}
	}
	return body, nil
}

// oneOrMany decodes a field FatSecret encodes as a single object when there
// is exactly one element and as an array otherwise.
type oneOrMany[T any] []T

func (o *oneOrMany[T]) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*o = nil
		return nil
	}
	if data[0] == '[' {
		var many []T
		if err := json.Unmarshal(data, &many); err != nil {
			return err
		}
		*o = many
		return nil
	}
	var one T
	if err := json.Unmarshal(data, &one); err != nil {
		return err
	}
	*o = []T{one}
	return nil
}

// number decodes FatSecret's string-encoded numbers.
type number float64

func (n *number) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*n = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	*n = number(v)
	return nil
}

type fatSecretRecipe struct {
	ID          string `json:"recipe_id"`
	Name        string `json:"recipe_name"`
	Description string `json:"recipe_description"`
	Image       string `json:"recipe_image"`
	URL         string `json:"recipe_url"`
	Nutrition   struct {
		Calories number `json:"calories"`
	} `json:"recipe_nutrition"`
}

// Search runs recipes.search.
func (f *FatSecret) Search(ctx context.Context, term string, opts models.SearchOptions) ([]models.RecipeCandidate, error) {
	params := map[string]string{
		"search_expression": term,
		"max_results":       strconv.Itoa(limitOf(opts)),
	}
	if opts.MaxCalories > 0 {
		params["calories.to"] = strconv.Itoa(opts.MaxCalories)
	}
	body, err := f.call(ctx, "recipes.search", params)
	if err != nil {
		return nil, err
	}

	var payload struct {
		Recipes *struct {
			Recipe oneOrMany[fatSecretRecipe] `json:"recipe"`
		} `json:"recipes"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, decodeError(f.name, err)
	}
	if payload.Recipes == nil {
		return []models.RecipeCandidate{}, nil
	}

	out := make([]models.RecipeCandidate, 0, len(payload.Recipes.Recipe))
	for _, r := range payload.Recipes.Recipe {
		if r.Name == "" {
			continue
		}
		out = append(out, models.RecipeCandidate{
			ID:         f.name + ":" + r.ID,
			URI:        r.URL,
			Title:      r.Name,
			Image:      r.Image,
			Calories:   float64(r.Nutrition.Calories),
			SourceName: f.name,
		})
	}
	f.log.WithFields(logrus.Fields{"term": term, "results": len(out)}).Debug("fatsecret search")
	return out, nil
}

type fatSecretServing struct {
	Description  string `json:"serving_description"`
	MetricAmount number `json:"metric_serving_amount"`
	MetricUnit   string `json:"metric_serving_unit"`
	Calories     number `json:"calories"`
	Protein      number `json:"protein"`
	Fat          number `json:"fat"`
	Carbohydrate number `json:"carbohydrate"`
}

type fatSecretFood struct {
	ID          string `json:"food_id"`
	Name        string `json:"food_name"`
	Brand       string `json:"brand_name"`
	Type        string `json:"food_type"`
	Description string `json:"food_description"`
	URL         string `json:"food_url"`
	Servings    struct {
		Serving oneOrMany[fatSecretServing] `json:"serving"`
	} `json:"servings"`
}

func (f *FatSecret) food(r fatSecretFood) models.Food {
	food := models.Food{
		ID:          r.ID,
		Name:        r.Name,
		Brand:       r.Brand,
		Type:        r.Type,
		Description: r.Description,
		URL:         r.URL,
		SourceName:  f.name,
	}
	for _, sv := range r.Servings.Serving {
		food.Servings = append(food.Servings, models.Serving{
			Description:  sv.Description,
			MetricAmount: float64(sv.MetricAmount),
			MetricUnit:   sv.MetricUnit,
			Calories:     float64(sv.Calories),
			Protein:      float64(sv.Protein),
			Fat:          float64(sv.Fat),
			Carbohydrate: float64(sv.Carbohydrate),
		})
	}
	return food
}

// SearchFoods runs foods.search. page is zero based; limit is clamped to
// what the API accepts.
func (f *FatSecret) SearchFoods(ctx context.Context, query string, page, limit int) (models.FoodPage, error) {
	if limit <= 0 || limit > maxFoodResults {
		limit = maxResults
	}
	page = max(0, page)
	body, err := f.call(ctx, "foods.search", map[string]string{
		"search_expression": query,
		"page_number":       strconv.Itoa(page),
		"max_results":       strconv.Itoa(limit),
	})
	if err != nil {
		return models.FoodPage{}, err
	}

	var payload struct {
		Foods *struct {
			Food       oneOrMany[fatSecretFood] `json:"food"`
			Page       number                   `json:"page_number"`
			MaxResults number                   `json:"max_results"`
			Total      number                   `json:"total_results"`
		} `json:"foods"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return models.FoodPage{}, decodeError(f.name, err)
	}
	out := models.FoodPage{Foods: []models.Food{}, Page: page, MaxResults: limit}
	if payload.Foods == nil {
		return out, nil
	}
	out.Page = int(payload.Foods.Page)
	out.MaxResults = int(payload.Foods.MaxResults)
	out.Total = int(payload.Foods.Total)
	for _, r := range payload.Foods.Food {
		if r.ID == "" {
			continue
		}
		out.Foods = append(out.Foods, f.food(r))
	}
	f.log.WithFields(logrus.Fields{"query": query, "page": page, "results": len(out.Foods)}).Debug("fatsecret food search")
	return out, nil
}

// Food runs food.get. Unknown ids match models.ErrFoodNotFound.
func (f *FatSecret) Food(ctx context.Context, id string) (*models.Food, error) {
	r, _, err := f.getFood(ctx, id)
	if err != nil {
		return nil, err
	}
	food := f.food(r)
	return &food, nil
}

func (f *FatSecret) getFood(ctx context.Context, id string) (fatSecretFood, []byte, error) {
	body, err := f.call(ctx, "food.get", map[string]string{"food_id": id})
	if err != nil {
		var apiErr *fatSecretError
		if errors.As(err, &apiErr) && apiErr.Code == fatSecretInvalidID {
			return fatSecretFood{}, nil, fmt.Errorf("%w: %s", models.ErrFoodNotFound, id)
		}
		return fatSecretFood{}, nil, err
	}
	var resp struct {
		Food *fatSecretFood `json:"food"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return fatSecretFood{}, nil, decodeError(f.name, err)
	}
	if resp.Food == nil || resp.Food.ID == "" {
		return fatSecretFood{}, nil, fmt.Errorf("%w: %s", models.ErrFoodNotFound, id)
	}
	return *resp.Food, body, nil
}

// LookupByCode resolves a GTIN-13 barcode (or a QR payload carrying one)
// through food.find_id_for_barcode and food.get.
func (f *FatSecret) LookupByCode(ctx context.Context, code string) (*models.RecipeCandidate, error) {
	body, err := f.call(ctx, "food.find_id_for_barcode", map[string]string{"barcode": code})
	if err != nil {
		return nil, err
	}
	var idResp struct {
		FoodID struct {
			Value string `json:"value"`
		} `json:"food_id"`
	}
	if err := json.Unmarshal(body, &idResp); err != nil {
		return nil, decodeError(f.name, err)
	}
	if idResp.FoodID.Value == "" || idResp.FoodID.Value == "0" {
		return nil, nil
	}

	food, body, err := f.getFood(ctx, idResp.FoodID.Value)
	if errors.Is(err, models.ErrFoodNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	title := food.Name
	if food.Brand != "" {
		title = food.Brand + " " + food.Name
	}
	c := &models.RecipeCandidate{
		ID:         f.name + ":" + food.ID,
		URI:        food.URL,
		Title:      title,
		SourceName: f.name,
		Raw:        json.RawMessage(body),
	}
	if len(food.Servings.Serving) > 0 {
		c.Calories = float64(food.Servings.Serving[0].Calories)
	}
	return c, nil
}
