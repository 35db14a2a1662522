package aggregator

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/larder-app/larder/pkg/logging"
	"github.com/larder-app/larder/pkg/models"
	"github.com/larder-app/larder/pkg/sources"
)

// Foods serves single-food queries from one food index. Calls draw on the
// same per-source budget as recipe searches against that index.
type Foods struct {
	index   sources.FoodIndex
	limiter Admitter
	log     *logrus.Logger
}

// NewFoods creates a Foods. A nil index makes every call fail with
// models.ErrFoodSearchDisabled.
func NewFoods(index sources.FoodIndex, limiter Admitter, log *logrus.Logger) *Foods {
	return &Foods{index: index, limiter: limiter, log: logging.OrDiscard(log)}
}

// FirstFoodIndex returns the first source that can serve food queries.
func FirstFoodIndex(srcs ...sources.Source) sources.FoodIndex {
	for _, src := range srcs {
		if idx, ok := src.(sources.FoodIndex); ok {
			return idx
		}
	}
	return nil
}

func (f *Foods) admit(ctx context.Context) error {
	if f.index == nil {
		return models.ErrFoodSearchDisabled
	}
	if f.limiter == nil {
		return nil
	}
	return f.limiter.Wait(ctx, f.index.Name())
}

// Search returns one page of foods matching query.
func (f *Foods) Search(ctx context.Context, query string, page, limit int) (models.FoodPage, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return models.FoodPage{}, fmt.Errorf("%w: empty query", models.ErrInvalidSearchTerm)
	}
	if err := f.admit(ctx); err != nil {
		return models.FoodPage{}, err
	}
	p, err := f.index.SearchFoods(ctx, query, page, limit)
	if err != nil {
		f.log.WithFields(logrus.Fields{"source": f.index.Name(), "query": query, "error": err}).Warn("food search failed")
		return models.FoodPage{}, err
	}
	return p, nil
}

// Get returns the food with id.
func (f *Foods) Get(ctx context.Context, id string) (*models.Food, error) {
	if err := f.admit(ctx); err != nil {
		return nil, err
	}
	food, err := f.index.Food(ctx, id)
	if err != nil {
		return nil, err
	}
	return food, nil
}
