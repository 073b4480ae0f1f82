package config

import (
	"fmt"
	"strings"
)

type Config struct {
	Server  ServerConfig
	Gateway GatewayConfig
	Storage StorageConfig
	Models  ModelsConfig
	Wiki    WikiConfig
	Log     LogConfig
}

type ServerConfig struct {
	Port    int
	MCPPort int
}

// GatewayConfig locates the chat gateway and the channels the service posts
// into. ApprovalChannel and FeedChannel are optional; leaving them empty
// disables the corresponding flow.
type GatewayConfig struct {
	BaseURL         string
	Token           string
	LogChannel      string
	ApprovalChannel string
	FeedChannel     string
}

type StorageConfig struct {
	DataDir string
}

// ModelsConfig holds API keys for the structured-generation providers. Any
// key may be empty; the provider ladder is built from whatever is present.
type ModelsConfig struct {
	GoogleAPIKey     string
	GroqAPIKey       string
	OpenRouterAPIKey string
}

type WikiConfig struct {
	BaseURL string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:    4200,
			MCPPort: 4201,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the platform-native backend, environment
// variables, and platform secret store.
//
// On macOS the backend is UserDefaults (domain: com.metrowatch.genlog) and
// secrets fall back to macOS Keychain.
// On Linux the backend is a JSON file at $XDG_CONFIG_HOME/genlog/config.json
// and secrets fall back to $XDG_DATA_HOME/genlog/secrets.json.
//
// Environment variables (GENLOG_*) override backend values on all platforms.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), keychainReader{})
}

// keychain abstracts secret-store access for testing.
type keychain interface {
	Get(service, account string) (string, error)
}

func loadWith(b ConfigBackend, kc keychain) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	// Try the platform secret store for secrets still empty.
	for _, s := range specs {
		if !s.secret {
			continue
		}
		if v, _ := s.extract(cfg).(string); v != "" {
			continue
		}
		if val, err := kc.Get("genlog", s.account); err == nil && val != "" {
			s.apply(&cfg, val)
		}
	}

	var missing []string
	if cfg.Gateway.BaseURL == "" {
		missing = append(missing, "gateway base URL (GENLOG_GATEWAY_BASE_URL)")
	}
	if cfg.Gateway.Token == "" {
		missing = append(missing, "gateway token (GENLOG_GATEWAY_TOKEN"+secretHint()+")")
	}
	if cfg.Gateway.LogChannel == "" {
		missing = append(missing, "log channel (GENLOG_GATEWAY_LOG_CHANNEL)")
	}
	if len(missing) > 0 {
		return Config{}, fmt.Errorf("missing required config: %s", strings.Join(missing, ", "))
	}

	return cfg, nil
}

// Warnings lists degraded-but-runnable configuration states. The caller logs
// them at startup.
func (cfg Config) Warnings() []string {
	var warnings []string
	if cfg.Gateway.ApprovalChannel == "" {
		warnings = append(warnings, "no approval channel configured; submissions from non-contributors will be rejected")
	}
	if cfg.Gateway.FeedChannel == "" {
		warnings = append(warnings, "no feed channel configured; applied changes will not be announced")
	}
	if cfg.Models.GoogleAPIKey == "" && cfg.Models.GroqAPIKey == "" && cfg.Models.OpenRouterAPIKey == "" {
		warnings = append(warnings, "no model API keys configured; AI logging is disabled")
	}
	if cfg.Wiki.BaseURL == "" {
		warnings = append(warnings, "no wiki URL configured; unit statuses will be unavailable to the AI")
	}
	return warnings
}

// keychainReader reads from the platform secret store.
type keychainReader struct{}

func (keychainReader) Get(service, account string) (string, error) {
	out, err := keychainExec(service, account)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
