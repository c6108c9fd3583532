package db

import (
	"context"
	"sort"

	"github.com/logbookhq/logbook/pkg/constants"
	"github.com/logbookhq/logbook/pkg/logger"
	"github.com/logbookhq/logbook/pkg/models"
	"github.com/logbookhq/logbook/pkg/source"
)

// CategoriesField is the keyed map of the config object whose keys are
// the categories.
const CategoriesField = "categories"

type ConfigService struct {
	src source.Source
	log logger.Logger
}

func NewConfigService(src source.Source, log logger.Logger) *ConfigService {
	return &ConfigService{src: src, log: logger.OrDiscard(log)}
}

// Subscribe streams the shared configuration.
func (s *ConfigService) Subscribe(ctx context.Context) (source.Subscription[models.Config], error) {
	sub, err := s.src.SubscribeObject(ctx, constants.ConfigKey)
	if err != nil {
		return nil, err
	}
	return source.Map(sub, func(obj source.Object) (models.Config, error) {
		return s.decode(obj), nil
	}), nil
}

// Seed writes categories to the config object through setter, the admin
// entry point of a backend.
func Seed(ctx context.Context, setter interface {
	SetObject(ctx context.Context, key string, obj source.Object) error
}, categories []string) error {
	keyed := make(map[string]any, len(categories))
	for _, c := range categories {
		keyed[c] = true
	}
	return setter.SetObject(ctx, constants.ConfigKey, source.Object{CategoriesField: keyed})
}

// decode flattens the categories map to its sorted keys. A missing object
// or field is an empty configuration, not an error.
func (s *ConfigService) decode(obj source.Object) models.Config {
	cfg := models.Config{Categories: []string{}}
	if obj == nil {
		s.log.Warn("config: no configuration found", "key", constants.ConfigKey)
		return cfg
	}
	keyed, ok := obj[CategoriesField].(map[string]any)
	if !ok {
		s.log.Warn("config: no categories found", "key", constants.ConfigKey)
		return cfg
	}
	for k := range keyed {
		cfg.Categories = append(cfg.Categories, k)
	}
	sort.Strings(cfg.Categories)
	return cfg
}
