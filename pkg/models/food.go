package models

// Food is a generic or branded product from a food index.
type Food struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Brand       string    `json:"brand,omitempty"`
	Type        string    `json:"type,omitempty"`
	Description string    `json:"description,omitempty"`
	URL         string    `json:"url,omitempty"`
	Servings    []Serving `json:"servings,omitempty"`
	SourceName  string    `json:"source_name"`
}

// Serving is the nutrition of one portion of a Food.
type Serving struct {
	Description  string  `json:"description"`
	MetricAmount float64 `json:"metric_amount,omitempty"`
	MetricUnit   string  `json:"metric_unit,omitempty"`
	Calories     float64 `json:"calories"`
	Protein      float64 `json:"protein"`
	Fat          float64 `json:"fat"`
	Carbohydrate float64 `json:"carbohydrate"`
}

// FoodPage is one page of a food search. Page is zero based.
type FoodPage struct {
	Foods      []Food `json:"foods"`
	Page       int    `json:"page"`
	MaxResults int    `json:"max_results"`
	Total      int    `json:"total"`
}
