package council

import (
	"strings"
	"sync"
)

// modelAliases is the case-insensitive alias table mapping short tokens to
// canonical model ids, seeded with the hard-coded defaults and extensible
// at startup via RegisterAliases (a deployment's FullConfig.ModelAliases).
// Resolution happens at the HTTP request boundary.
var (
	aliasMu      sync.RWMutex
	modelAliases = map[string]string{
		"opus":   "anthropic/claude-opus-4.5",
		"sonnet": "anthropic/claude-3.5-sonnet",
		"haiku":  "anthropic/claude-3.5-haiku",
		"gemini": "google/gemini-3-flash-preview",
		"flash":  "google/gemini-3-flash-preview",
		"grok":   "x-ai/grok-4.1-fast",
		"glm":    "zai-glm-4.7",
		"kimi":   "moonshotai/kimi-k2",
	}
)

// RegisterAliases merges extra into the alias table, overriding any
// default with the same (lower-cased) key. Intended to be called once at
// startup from a loaded FullConfig, before the server begins serving
// requests.
func RegisterAliases(extra map[string]string) {
	aliasMu.Lock()
	defer aliasMu.Unlock()
	for k, v := range extra {
		modelAliases[strings.ToLower(strings.TrimSpace(k))] = v
	}
}

// ResolveModelAlias converts a short alias (case-insensitive) to its
// canonical model id. Ids that aren't aliases pass through unchanged.
func ResolveModelAlias(alias string) string {
	key := strings.ToLower(strings.TrimSpace(alias))
	aliasMu.RLock()
	defer aliasMu.RUnlock()
	if canonical, ok := modelAliases[key]; ok {
		return canonical
	}
	return alias
}

// ModelAliases returns a copy of the alias table, for the /api/info endpoint.
func ModelAliases() map[string]string {
	aliasMu.RLock()
	defer aliasMu.RUnlock()
	out := make(map[string]string, len(modelAliases))
	for k, v := range modelAliases {
		out[k] = v
	}
	return out
}
