// Command council-server runs the deliberation engine's HTTP surface.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/council-run/council"
	"github.com/council-run/council/adapters"
	"github.com/council-run/council/httpapi"
)

const version = "0.1.0"

func main() {
	cfg, err := council.LoadConfig()
	if err != nil {
		log.Fatalf("council: load config: %v", err)
	}

	logger := council.NewStdLogger(council.LogLevelInfo)

	var full *council.FullConfig
	if cfg.ConfigPath != "" {
		full, err = council.LoadFullConfig(cfg.ConfigPath)
		if err != nil {
			log.Fatalf("council: load %s: %v", cfg.ConfigPath, err)
		}
	}

	if full != nil && len(full.ModelAliases) > 0 {
		council.RegisterAliases(full.ModelAliases)
	}

	router := buildRouter(cfg, full, logger)
	fanOut := council.NewFanOut(router, logger)
	engine := council.NewEngine(fanOut, logger, full.CouncilModelsOrDefault(), full.ChairmanModelOrDefault())

	jobStore := council.NewJobStore()
	webhooks := council.NewWebhookDispatcher(council.WebhookDefaultTimeout, council.WebhookDefaultRetries, logger)

	cache := buildCache(cfg, logger)
	catalog := buildCatalog(cfg, cache, logger)

	server := httpapi.NewServer(httpapi.Deps{
		Engine:   engine,
		JobStore: jobStore,
		Webhooks: webhooks,
		Catalog:  catalog,
		Logger:   logger,
		APIKey:   cfg.CouncilAPIKey,
		Version:  version,
	})

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      server,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 15 * time.Minute, // long-form provider calls can run up to 900s
	}

	go runCleanupLoop(jobStore, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info(ctx, "council: listening", council.F("addr", addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("council: serve: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info(context.Background(), "council: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error(context.Background(), "council: graceful shutdown failed", council.F("error", err.Error()))
	}
}

// buildRouter registers one adapter per known provider family and the
// classification rules that route canonical model ids to them, plus the
// static fallback map. A FullConfig, when loaded, layers per-provider
// timeout/retry/rate overrides onto these defaults and can add wholly new
// OpenAI-compatible providers without a recompile.
func buildRouter(cfg *council.Config, full *council.FullConfig, logger council.Logger) *council.Router {
	r := council.NewRouter(logger)

	openrouter := adapters.NewOpenAIStyleAdapter("openrouter", cfg.OpenRouterAPIKey, "https://openrouter.ai/api/v1")
	cerebras := adapters.NewOpenAIStyleAdapter("cerebras", cfg.CerebrasAPIKey, "https://api.cerebras.ai/v1")
	anthropic := adapters.NewAnthropicAdapter(cfg.AnthropicAPIKey)

	gemini, err := adapters.NewGeminiAdapter(context.Background(), cfg.GeminiAPIKey)
	if err != nil {
		logger.Warn(context.Background(), "council: gemini adapter unavailable", council.F("error", err.Error()))
	}

	r.RegisterProvider(&council.Provider{Name: "openrouter", Adapter: openrouter, RPS: 5, Burst: 5})
	r.RegisterProvider(&council.Provider{Name: "cerebras", Adapter: cerebras, RPS: 10, Burst: 10})
	r.RegisterProvider(&council.Provider{Name: "anthropic", Adapter: anthropic, RPS: 5, Burst: 5})
	if gemini != nil {
		r.RegisterProvider(&council.Provider{Name: "gemini", Adapter: gemini, RPS: 5, Burst: 5})
	}

	// Kimi K2.5 only accepts temperature=1 and caps non-streaming requests
	// at 32768 output tokens; the shared OpenAI-compatible adapter honors
	// both quirks verbatim via its builder methods rather than special-
	// casing the model id downstream.
	if cfg.MoonshotAPIKey != "" {
		moonshot := adapters.NewOpenAIStyleAdapter("moonshot", cfg.MoonshotAPIKey, "https://api.moonshot.ai/v1").
			WithFixedTemperature(1.0).
			WithMaxTokensCap(32768)
		r.RegisterProvider(&council.Provider{Name: "moonshot", Adapter: moonshot, RPS: 2, Burst: 2})
		r.ClassifyPrefix("moonshot", "moonshot/")
	}

	// Cerebras hosts a small fixed set of models directly; anthropic/claude
	// and google/gemini ids classify to their native adapters; everything
	// else (including plain openrouter-style "vendor/model" ids) falls
	// through to OpenRouter, which proxies to the upstream vendor itself.
	cerebrasModels := []string{
		"zai-glm-4.6", "zai-glm-4.7", "llama3.1-8b", "llama-3.3-70b", "qwen-3-32b", "gpt-oss-120b",
	}
	if full != nil && len(full.CerebrasModels) > 0 {
		cerebrasModels = full.CerebrasModels
	}
	r.ClassifyMembership("cerebras", cerebrasModels)
	r.ClassifyPrefix("anthropic", "anthropic/")
	r.ClassifyPrefix("gemini", "google/")
	r.SetDefaultProvider("openrouter")

	// When the GLM id gets no response, the Router retries it once as
	// "zai-glm-5" through the default OpenRouter adapter (fallbacks always
	// go through the default provider, not through the Cerebras classifier).
	r.SetFallback("fireworks/glm-5", "zai-glm-5")

	applyFullConfigProviders(r, full, logger)

	return r
}

// applyFullConfigProviders consults a deployment's YAML provider roster:
// an entry naming an already-registered provider layers its timeout,
// retry budget, and rate limit on top of the hard-coded adapter; an entry
// naming an unregistered provider with a base_url registers a brand new
// OpenAI-compatible adapter, keyed by a COUNCIL_PROVIDER_<NAME>_API_KEY
// environment variable. Either way its prefixes/models classification
// rules are installed so the router actually dispatches to it.
func applyFullConfigProviders(r *council.Router, full *council.FullConfig, logger council.Logger) {
	if full == nil {
		return
	}

	for _, spec := range full.Providers {
		existing := r.Provider(spec.Name)
		switch {
		case existing != nil:
			if spec.Timeout > 0 {
				existing.Timeout = spec.Timeout
			}
			if spec.MaxRetries > 0 {
				existing.MaxRetries = spec.MaxRetries
			}
			if spec.RatePerSec > 0 {
				existing.RPS = spec.RatePerSec
				existing.Burst = int(spec.RatePerSec)
			}
		case spec.BaseURL != "":
			envKey := "COUNCIL_PROVIDER_" + strings.ToUpper(spec.Name) + "_API_KEY"
			apiKey := os.Getenv(envKey)
			if apiKey == "" {
				logger.Warn(context.Background(), "council: full config provider missing API key",
					council.F("provider", spec.Name), council.F("env", envKey))
			}
			adapter := adapters.NewOpenAIStyleAdapter(spec.Name, apiKey, spec.BaseURL)
			r.RegisterProvider(&council.Provider{
				Name:       spec.Name,
				Adapter:    adapter,
				RPS:        spec.RatePerSec,
				Burst:      int(spec.RatePerSec),
				Timeout:    spec.Timeout,
				MaxRetries: spec.MaxRetries,
			})
		default:
			logger.Warn(context.Background(), "council: full config provider has no base_url and isn't already registered",
				council.F("provider", spec.Name))
			continue
		}

		for _, prefix := range spec.Prefixes {
			r.ClassifyPrefix(spec.Name, prefix)
		}
		if len(spec.Models) > 0 {
			r.ClassifyMembership(spec.Name, spec.Models)
		}
	}
}

func buildCache(cfg *council.Config, logger council.Logger) council.Cache {
	if cfg.RedisAddr == "" {
		return council.NewMemoryCache(council.CatalogTTL)
	}

	cache, err := council.NewRedisCache(context.Background(), cfg.RedisAddr, "", 0, "council", council.CatalogTTL)
	if err != nil {
		logger.Warn(context.Background(), "council: redis cache unavailable, falling back to memory", council.F("error", err.Error()))
		return council.NewMemoryCache(council.CatalogTTL)
	}
	return cache
}

func buildCatalog(cfg *council.Config, cache council.Cache, logger council.Logger) *council.Catalog {
	var fetchers []council.CatalogFetcher
	if cfg.OpenRouterAPIKey != "" {
		fetchers = append(fetchers, council.NewHTTPCatalogFetcher("openrouter", council.OpenRouterModelsURL, cfg.OpenRouterAPIKey))
	}
	if cfg.CerebrasAPIKey != "" {
		fetchers = append(fetchers, council.NewHTTPCatalogFetcher("cerebras", council.CerebrasModelsURL, cfg.CerebrasAPIKey))
	}
	return council.NewCatalog(cache, logger, fetchers...)
}

// runCleanupLoop periodically removes jobs older than the default max
// age, mirroring the age-based cleanup the job-query endpoint also
// exposes manually.
func runCleanupLoop(store *council.JobStore, logger council.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for range ticker.C {
		removed := store.Cleanup(24 * time.Hour)
		if removed > 0 {
			logger.Info(context.Background(), "council: cleaned up stale jobs", council.F("removed", removed))
		}
	}
}
