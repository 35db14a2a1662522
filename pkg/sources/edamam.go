package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"

	"github.com/larder-app/larder/pkg/models"
)

// DefaultEdamamURL is the Edamam recipe search API host.
const DefaultEdamamURL = "https://api.edamam.com"

// Edamam queries the Edamam Recipe Search API v2.
type Edamam struct {
	name   string
	appID  string
	appKey string
	client *resty.Client
	log    *logrus.Entry
}

// NewEdamam creates an Edamam client.
func NewEdamam(cfg Config, log *logrus.Logger) *Edamam {
	name := sourceName(cfg, "edamam")
	hc := &http.Client{Transport: newPacedTransport(nil, cfg.RequestsPerSecond)}
	return &Edamam{
		name:   name,
		appID:  cfg.AppID,
		appKey: cfg.AppKey,
		client: newRestyClient(hc, cfg, DefaultEdamamURL),
		log:    sourceLogger(log, name),
	}
}

func (e *Edamam) Name() string { return e.name }

type edamamResponse struct {
	Hits []struct {
		Recipe struct {
			URI       string  `json:"uri"`
			Label     string  `json:"label"`
			Image     string  `json:"image"`
			Source    string  `json:"source"`
			Calories  float64 `json:"calories"`
			TotalTime float64 `json:"totalTime"`
			Yield     float64 `json:"yield"`
		} `json:"recipe"`
	} `json:"hits"`
}

// Search runs a public recipe search. Calories are reported per serving.
func (e *Edamam) Search(ctx context.Context, term string, opts models.SearchOptions) ([]models.RecipeCandidate, error) {
	req := e.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"type":    "public",
			"q":       term,
			"app_id":  e.appID,
			"app_key": e.appKey,
		})
	for _, v := range opts.Diet {
		req.QueryParam.Add("diet", v)
	}
	for _, v := range opts.Health {
		req.QueryParam.Add("health", v)
	}
	for _, v := range opts.Cuisine {
		req.QueryParam.Add("cuisineType", v)
	}
	for _, v := range opts.MealType {
		req.QueryParam.Add("mealType", v)
	}
	if opts.MaxCalories > 0 {
		req.SetQueryParam("calories", fmt.Sprintf("0-%d", opts.MaxCalories))
	}

	resp, err := req.Get("/api/recipes/v2")
	if err := classify(e.name, resp, err); err != nil {
		return nil, err
	}

	var body edamamResponse
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return nil, decodeError(e.name, err)
	}

	limit := limitOf(opts)
	out := make([]models.RecipeCandidate, 0, len(body.Hits))
	for _, hit := range body.Hits {
		r := hit.Recipe
		if r.Label == "" {
			continue
		}
		cal := r.Calories
		if r.Yield > 0 {
			cal = r.Calories / r.Yield
		}
		out = append(out, models.RecipeCandidate{
			URI:        r.URI,
			Title:      r.Label,
			Image:      r.Image,
			Calories:   cal,
			TotalTime:  r.TotalTime,
			SourceName: e.name,
		})
		if len(out) == limit {
			break
		}
	}
	e.log.WithFields(logrus.Fields{"term": term, "results": len(out)}).Debug("edamam search")
	return out, nil
}
