package sources

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"

	"github.com/larder-app/larder/pkg/models"
)

// DefaultOpenFoodFactsURL is the public Open Food Facts host.
const DefaultOpenFoodFactsURL = "https://world.openfoodfacts.org"

// OpenFoodFacts queries the Open Food Facts product database. It needs no
// credentials but asks for a descriptive User-Agent.
type OpenFoodFacts struct {
	name   string
	client *resty.Client
	log    *logrus.Entry
}

// NewOpenFoodFacts creates an Open Food Facts client.
func NewOpenFoodFacts(cfg Config, log *logrus.Logger) *OpenFoodFacts {
	name := sourceName(cfg, "openfoodfacts")
	hc := &http.Client{Transport: newPacedTransport(nil, cfg.RequestsPerSecond)}
	return &OpenFoodFacts{
		name:   name,
		client: newRestyClient(hc, cfg, DefaultOpenFoodFactsURL),
		log:    sourceLogger(log, name),
	}
}

func (o *OpenFoodFacts) Name() string { return o.name }

type offProduct struct {
	Code       string `json:"code"`
	Name       string `json:"product_name"`
	Brands     string `json:"brands"`
	ImageURL   string `json:"image_url"`
	URL        string `json:"url"`
	Nutriments struct {
		EnergyKcal100g float64 `json:"energy-kcal_100g"`
	} `json:"nutriments"`
}

func (o *OpenFoodFacts) candidate(p offProduct) models.RecipeCandidate {
	uri := p.URL
	if uri == "" && p.Code != "" {
		uri = DefaultOpenFoodFactsURL + "/product/" + url.PathEscape(p.Code)
	}
	id := ""
	if p.Code != "" {
		id = o.name + ":" + p.Code
	}
	return models.RecipeCandidate{
		ID:         id,
		URI:        uri,
		Title:      p.Name,
		Image:      p.ImageURL,
		Calories:   p.Nutriments.EnergyKcal100g,
		SourceName: o.name,
	}
}

// Search runs a full-text product search.
func (o *OpenFoodFacts) Search(ctx context.Context, term string, opts models.SearchOptions) ([]models.RecipeCandidate, error) {
	resp, err := o.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"search_terms":  term,
			"search_simple": "1",
			"action":        "process",
			"json":          "1",
			"page_size":     strconv.Itoa(limitOf(opts)),
		}).
		Get("/cgi/search.pl")
	if err := classify(o.name, resp, err); err != nil {
		return nil, err
	}

	var body struct {
		Products []offProduct `json:"products"`
	}
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return nil, decodeError(o.name, err)
	}

	out := make([]models.RecipeCandidate, 0, len(body.Products))
	for _, p := range body.Products {
		if p.Name == "" {
			continue
		}
		out = append(out, o.candidate(p))
	}
	o.log.WithFields(logrus.Fields{"term": term, "results": len(out)}).Debug("openfoodfacts search")
	return out, nil
}

// LookupByCode fetches a product by barcode. Unknown codes return nil.
func (o *OpenFoodFacts) LookupByCode(ctx context.Context, code string) (*models.RecipeCandidate, error) {
	resp, err := o.client.R().
		SetContext(ctx).
		Get("/api/v2/product/" + url.PathEscape(code))
	if err == nil && resp.StatusCode() == http.StatusNotFound {
		return nil, nil
	}
	if err := classify(o.name, resp, err); err != nil {
		return nil, err
	}

	var body struct {
		Status  int        `json:"status"`
		Code    string     `json:"code"`
		Product offProduct `json:"product"`
	}
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return nil, decodeError(o.name, err)
	}
	if body.Status == 0 {
		return nil, nil
	}
	if body.Product.Code == "" {
		body.Product.Code = body.Code
	}
	c := o.candidate(body.Product)
	c.Raw = json.RawMessage(resp.Body())
	return &c, nil
}
