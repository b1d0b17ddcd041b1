package council

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// CatalogTTL is the standard refresh window for provider model catalogs.
const CatalogTTL = 86400 * time.Second

// ModelInfo is a single entry in a provider's model catalog.
type ModelInfo struct {
	ID            string `json:"id"`
	Name          string `json:"name,omitempty"`
	Provider      string `json:"provider"`
	ContextLength int    `json:"context_length,omitempty"`
}

// CatalogFetcher fetches the current model list from one provider's API.
type CatalogFetcher interface {
	Name() string
	FetchModels(ctx context.Context) ([]ModelInfo, error)
}

// Catalog serves GET /api/models: per-provider model lists fetched from
// each provider's discovery endpoint, cached for CatalogTTL, with a
// force-refresh bypass. A fetch failure falls back to whatever is still
// in cache (possibly stale, never an error to the caller) the way the
// original model-discovery client degrades.
type Catalog struct {
	cache    Cache
	fetchers []CatalogFetcher
	logger   Logger
}

// NewCatalog creates a Catalog backed by cache, querying each fetcher on demand.
func NewCatalog(cache Cache, logger Logger, fetchers ...CatalogFetcher) *Catalog {
	if logger == nil {
		logger = NoopLogger{}
	}
	return &Catalog{cache: cache, fetchers: fetchers, logger: logger}
}

// Models returns the model list for the given provider name, or for every
// registered provider when provider is empty. forceRefresh bypasses the
// cache TTL.
func (c *Catalog) Models(ctx context.Context, provider string, forceRefresh bool) ([]ModelInfo, error) {
	var all []ModelInfo
	for _, fetcher := range c.fetchers {
		if provider != "" && fetcher.Name() != provider {
			continue
		}
		models, err := c.modelsFor(ctx, fetcher, forceRefresh)
		if err != nil {
			c.logger.Warn(ctx, "catalog: fetch failed", F("provider", fetcher.Name()), F("error", err.Error()))
			continue
		}
		all = append(all, models...)
	}
	return all, nil
}

func (c *Catalog) modelsFor(ctx context.Context, fetcher CatalogFetcher, forceRefresh bool) ([]ModelInfo, error) {
	key := "models:" + fetcher.Name()

	if !forceRefresh {
		if cached, ok, err := c.cache.Get(ctx, key); err == nil && ok {
			var models []ModelInfo
			if err := json.Unmarshal([]byte(cached), &models); err == nil {
				return models, nil
			}
		}
	}

	models, err := fetcher.FetchModels(ctx)
	if err != nil {
		if cached, ok, cerr := c.cache.Get(ctx, key); cerr == nil && ok {
			var stale []ModelInfo
			if jerr := json.Unmarshal([]byte(cached), &stale); jerr == nil {
				return stale, nil
			}
		}
		return nil, fmt.Errorf("catalog: fetch %s models: %w", fetcher.Name(), err)
	}

	if encoded, merr := json.Marshal(models); merr == nil {
		_ = c.cache.Set(ctx, key, string(encoded), CatalogTTL)
	}

	return models, nil
}
