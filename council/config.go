package council

import (
	"bufio"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// shellSecretKeys are the variable names pulled out of the local shell
// secrets file, mirroring the original's fixed allow-list.
var shellSecretKeys = []string{
	"OPENROUTER_API_KEY",
	"CEREBRAS_API_KEY",
	"ANTHROPIC_API_KEY",
	"MOONSHOT_API_KEY",
	"GROK_API_KEY",
	"GEMINI_API_KEY",
	"GOOGLE_AI_API_KEY",
	"COUNCIL_API_KEY",
}

// Config is the process-wide runtime configuration: server bind address,
// provider credentials, and storage/auth knobs. Values resolve in order:
// process environment, then ~/.bash_secrets (local-dev convenience, never
// required), then the hard default.
type Config struct {
	Host string
	Port int

	OpenRouterAPIKey string
	CerebrasAPIKey   string
	AnthropicAPIKey  string
	MoonshotAPIKey   string
	GrokAPIKey       string
	GeminiAPIKey     string

	CouncilAPIKey string // X-Council-Key; auth disabled when empty

	CacheDir   string
	RedisAddr  string
	ConfigPath string // optional YAML FullConfig path
}

// LoadConfig builds a Config from the environment. It loads a .env file
// first (if present, local development only) so subsequent os.Getenv calls
// see its values, then falls back to ~/.bash_secrets for any provider key
// still unset.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	secrets := loadShellSecrets()
	env := func(key string) string {
		if v := os.Getenv(key); v != "" {
			return v
		}
		return secrets[key]
	}

	cfg := &Config{
		Host:             firstNonEmpty(os.Getenv("COUNCIL_HOST"), "0.0.0.0"),
		Port:             envInt("COUNCIL_PORT", 8080),
		OpenRouterAPIKey: env("OPENROUTER_API_KEY"),
		CerebrasAPIKey:   env("CEREBRAS_API_KEY"),
		AnthropicAPIKey:  env("ANTHROPIC_API_KEY"),
		MoonshotAPIKey:   env("MOONSHOT_API_KEY"),
		GrokAPIKey:       env("GROK_API_KEY"),
		GeminiAPIKey:     firstNonEmpty(env("GEMINI_API_KEY"), env("GOOGLE_AI_API_KEY")),
		CouncilAPIKey:    env("COUNCIL_API_KEY"),
		CacheDir:         firstNonEmpty(os.Getenv("COUNCIL_CACHE_DIR"), defaultCacheDir()),
		RedisAddr:        os.Getenv("COUNCIL_REDIS_ADDR"),
		ConfigPath:       os.Getenv("COUNCIL_CONFIG_PATH"),
	}

	return cfg, nil
}

// loadShellSecrets sources ~/.bash_secrets in a throwaway bash subshell and
// extracts the variables this system cares about. Absence of the file is
// not an error: it is a local-dev convenience, not a requirement.
func loadShellSecrets() map[string]string {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil
	}
	path := filepath.Join(home, ".bash_secrets")
	if _, err := os.Stat(path); err != nil {
		return nil
	}

	cmd := exec.Command("bash", "-c", "source "+shellQuote(path)+" && env")
	out, err := cmd.Output()
	if err != nil {
		return nil
	}

	wanted := make(map[string]struct{}, len(shellSecretKeys))
	for _, k := range shellSecretKeys {
		wanted[k] = struct{}{}
	}

	secrets := make(map[string]string)
	scanner := bufio.NewScanner(strings.NewReader(string(out)))
	for scanner.Scan() {
		line := scanner.Text()
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		if _, want := wanted[key]; want {
			secrets[key] = value
		}
	}
	return secrets
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func defaultCacheDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".cache", "council")
	}
	return ".council-cache"
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
