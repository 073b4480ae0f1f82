package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	account string // secret-store account name, set when secret
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "GENLOG_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.mcp_port", typ: kInt, env: "GENLOG_SERVER_MCP_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.MCPPort = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.MCPPort },
	},
	{
		key: "gateway.base_url", typ: kString, env: "GENLOG_GATEWAY_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Gateway.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Gateway.BaseURL },
	},
	{
		key: "gateway.token", typ: kString, env: "GENLOG_GATEWAY_TOKEN",
		secret: true, account: "gateway_token",
		apply:   func(cfg *Config, v any) { cfg.Gateway.Token = v.(string) },
		extract: func(cfg Config) any { return cfg.Gateway.Token },
	},
	{
		key: "gateway.log_channel", typ: kString, env: "GENLOG_GATEWAY_LOG_CHANNEL",
		apply:   func(cfg *Config, v any) { cfg.Gateway.LogChannel = v.(string) },
		extract: func(cfg Config) any { return cfg.Gateway.LogChannel },
	},
	{
		key: "gateway.approval_channel", typ: kString, env: "GENLOG_GATEWAY_APPROVAL_CHANNEL",
		apply:   func(cfg *Config, v any) { cfg.Gateway.ApprovalChannel = v.(string) },
		extract: func(cfg Config) any { return cfg.Gateway.ApprovalChannel },
	},
	{
		key: "gateway.feed_channel", typ: kString, env: "GENLOG_GATEWAY_FEED_CHANNEL",
		apply:   func(cfg *Config, v any) { cfg.Gateway.FeedChannel = v.(string) },
		extract: func(cfg Config) any { return cfg.Gateway.FeedChannel },
	},
	{
		key: "storage.data_dir", typ: kString, env: "GENLOG_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "models.google_api_key", typ: kString, env: "GENLOG_GOOGLE_API_KEY",
		secret: true, account: "google_api_key",
		apply:   func(cfg *Config, v any) { cfg.Models.GoogleAPIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Models.GoogleAPIKey },
	},
	{
		key: "models.groq_api_key", typ: kString, env: "GENLOG_GROQ_API_KEY",
		secret: true, account: "groq_api_key",
		apply:   func(cfg *Config, v any) { cfg.Models.GroqAPIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Models.GroqAPIKey },
	},
	{
		key: "models.openrouter_api_key", typ: kString, env: "GENLOG_OPENROUTER_API_KEY",
		secret: true, account: "openrouter_api_key",
		apply:   func(cfg *Config, v any) { cfg.Models.OpenRouterAPIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Models.OpenRouterAPIKey },
	},
	{
		key: "wiki.base_url", typ: kString, env: "GENLOG_WIKI_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Wiki.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Wiki.BaseURL },
	},
	{
		key: "log.level", typ: kString, env: "GENLOG_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
