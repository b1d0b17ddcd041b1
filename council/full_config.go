package council

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultCouncilModels is the out-of-the-box four-model panel: Opus
// (anthropic/ prefix, Anthropic adapter), Gemini Flash (google/ prefix,
// Gemini adapter), Grok via OpenRouter, and GLM direct on Cerebras, as
// classified by the server's router wiring.
var DefaultCouncilModels = []string{
	"anthropic/claude-opus-4.5",
	"google/gemini-3-flash-preview",
	"x-ai/grok-4.1-fast",
	"zai-glm-4.7",
}

// DefaultChairmanModel synthesizes the final answer from the ranked panel.
const DefaultChairmanModel = "anthropic/claude-opus-4.5"

// ProviderSpec describes one entry in the provider roster: its dispatch
// classification plus per-call timeout and retry budget.
type ProviderSpec struct {
	Name       string        `yaml:"name"`
	Prefixes   []string      `yaml:"prefixes,omitempty"`
	Models     []string      `yaml:"models,omitempty"`
	Timeout    time.Duration `yaml:"timeout,omitempty"`
	MaxRetries int           `yaml:"max_retries,omitempty"`
	RatePerSec float64       `yaml:"rate_per_sec,omitempty"`
	BaseURL    string        `yaml:"base_url,omitempty"`
}

// FullConfig is the optional on-disk declaration of a council deployment:
// the provider roster, the council/chairman model selection, and any
// alias overrides. Code-supplied values win over this file, which wins
// over the hard defaults in this package.
type FullConfig struct {
	Providers      []ProviderSpec    `yaml:"providers,omitempty"`
	CouncilModels  []string          `yaml:"council_models,omitempty"`
	ChairmanModel  string            `yaml:"chairman_model,omitempty"`
	ModelAliases   map[string]string `yaml:"model_aliases,omitempty"`
	CerebrasModels []string          `yaml:"cerebras_models,omitempty"`
}

// LoadFullConfig reads and validates a FullConfig from a YAML file.
func LoadFullConfig(path string) (*FullConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("full config: read %s: %w", path, err)
	}

	var cfg FullConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("full config: parse %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("full config: %s: %w", path, err)
	}

	return &cfg, nil
}

// Validate checks structural invariants: every provider needs a unique
// name, and at least one prefix or model so it can actually be classified
// against. A base_url alone does not satisfy the check.
func (c *FullConfig) Validate() error {
	if c == nil {
		return nil
	}
	seen := make(map[string]struct{}, len(c.Providers))
	for _, p := range c.Providers {
		name := strings.TrimSpace(p.Name)
		if name == "" {
			return fmt.Errorf("provider entry missing name")
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("duplicate provider %q", name)
		}
		seen[name] = struct{}{}
		if len(p.Prefixes) == 0 && len(p.Models) == 0 {
			return fmt.Errorf("provider %q needs at least one prefix or model", name)
		}
	}
	return nil
}

// CouncilModelsOrDefault returns the configured council panel, falling
// back to DefaultCouncilModels, honoring a COUNCIL_MODELS environment
// override (comma-separated) ahead of either.
func (c *FullConfig) CouncilModelsOrDefault() []string {
	if env := os.Getenv("COUNCIL_MODELS"); env != "" {
		return splitTrim(env)
	}
	if c != nil && len(c.CouncilModels) > 0 {
		return c.CouncilModels
	}
	return DefaultCouncilModels
}

// ChairmanModelOrDefault returns the configured chairman, honoring a
// CHAIRMAN_MODEL environment override ahead of the file and the default.
func (c *FullConfig) ChairmanModelOrDefault() string {
	if env := os.Getenv("CHAIRMAN_MODEL"); env != "" {
		return env
	}
	if c != nil && c.ChairmanModel != "" {
		return c.ChairmanModel
	}
	return DefaultChairmanModel
}

func splitTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
