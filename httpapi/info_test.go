package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/council-run/council"
)

func TestHandleRootReportsVersion(t *testing.T) {
	server := NewServer(Deps{Engine: newTestEngine(), JobStore: council.NewJobStore(), Version: "v1.2.3"})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	server.ServeHTTP(w, req)

	var resp map[string]any
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["version"] != "v1.2.3" {
		t.Errorf("version = %v, want v1.2.3", resp["version"])
	}
}

func TestHandleInfoListsEndpointsAndAliases(t *testing.T) {
	server := newTestServer("")
	req := httptest.NewRequest(http.MethodGet, "/api/info", nil)
	w := httptest.NewRecorder()
	server.ServeHTTP(w, req)

	var resp infoResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(resp.Endpoints) == 0 {
		t.Error("expected a non-empty endpoint catalog")
	}
	if len(resp.Aliases) == 0 {
		t.Error("expected a non-empty alias table")
	}
}

func TestHandleModelsWithoutCatalogReturnsEmptyList(t *testing.T) {
	server := NewServer(Deps{Engine: newTestEngine(), JobStore: council.NewJobStore()})
	req := httptest.NewRequest(http.MethodGet, "/api/models", nil)
	w := httptest.NewRecorder()
	server.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var resp map[string]any
	json.Unmarshal(w.Body.Bytes(), &resp)
	models, ok := resp["models"].([]any)
	if !ok || len(models) != 0 {
		t.Errorf("expected an empty models list when no catalog is configured, got %v", resp["models"])
	}
}

type stubFetcher struct {
	name   string
	models []council.ModelInfo
	err    error
}

func (f *stubFetcher) Name() string { return f.name }
func (f *stubFetcher) FetchModels(ctx context.Context) ([]council.ModelInfo, error) {
	return f.models, f.err
}

func TestHandleModelsReturnsCatalogModels(t *testing.T) {
	catalog := council.NewCatalog(council.NewMemoryCache(0), nil, &stubFetcher{
		name:   "openrouter",
		models: []council.ModelInfo{{ID: "m1", Provider: "openrouter"}},
	})
	server := NewServer(Deps{Engine: newTestEngine(), JobStore: council.NewJobStore(), Catalog: catalog})

	req := httptest.NewRequest(http.MethodGet, "/api/models", nil)
	w := httptest.NewRecorder()
	server.ServeHTTP(w, req)

	var resp map[string]any
	json.Unmarshal(w.Body.Bytes(), &resp)
	models, _ := resp["models"].([]any)
	if len(models) != 1 {
		t.Errorf("expected 1 model from the catalog, got %v", resp["models"])
	}
}

func TestHandleModelsFilterAndRefreshParams(t *testing.T) {
	fetcher := &stubFetcher{name: "cerebras", models: []council.ModelInfo{{ID: "c1", Provider: "cerebras"}}}
	catalog := council.NewCatalog(council.NewMemoryCache(0), nil, fetcher)
	server := NewServer(Deps{Engine: newTestEngine(), JobStore: council.NewJobStore(), Catalog: catalog})

	req := httptest.NewRequest(http.MethodGet, "/api/models?provider=cerebras&refresh=true", nil)
	w := httptest.NewRecorder()
	server.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", w.Code, w.Body.String())
	}
}

func TestHandleModelsSwallowsPerFetcherErrors(t *testing.T) {
	catalog := council.NewCatalog(council.NewMemoryCache(0), nil, &stubFetcher{
		name: "openrouter",
		err:  errors.New("upstream unavailable"),
	})
	server := NewServer(Deps{Engine: newTestEngine(), JobStore: council.NewJobStore(), Catalog: catalog})

	req := httptest.NewRequest(http.MethodGet, "/api/models", nil)
	w := httptest.NewRecorder()
	server.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Catalog.Models never returns an error for a single failing fetcher with no cache; got status %d", w.Code)
	}
}
