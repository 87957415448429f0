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
	kFloat
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "MEDRA_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.mcp_port", typ: kInt, env: "MEDRA_SERVER_MCP_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.MCPPort = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.MCPPort },
	},
	{
		key: "server.api_token", typ: kString, env: "MEDRA_API_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Server.APIToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.APIToken },
	},
	{
		key: "model.endpoint", typ: kString, env: "MEDRA_MODEL_ENDPOINT",
		apply:   func(cfg *Config, v any) { cfg.Model.Endpoint = v.(string) },
		extract: func(cfg Config) any { return cfg.Model.Endpoint },
	},
	{
		key: "model.name", typ: kString, env: "MEDRA_MODEL_NAME",
		apply:   func(cfg *Config, v any) { cfg.Model.Name = v.(string) },
		extract: func(cfg Config) any { return cfg.Model.Name },
	},
	{
		key: "model.system_prompt", typ: kString, env: "MEDRA_MODEL_SYSTEM_PROMPT",
		apply:   func(cfg *Config, v any) { cfg.Model.SystemPrompt = v.(string) },
		extract: func(cfg Config) any { return cfg.Model.SystemPrompt },
	},
	{
		key: "model.temperature", typ: kFloat, env: "MEDRA_MODEL_TEMPERATURE",
		apply:   func(cfg *Config, v any) { cfg.Model.Temperature = v.(float64) },
		extract: func(cfg Config) any { return cfg.Model.Temperature },
	},
	{
		key: "model.max_tokens", typ: kInt, env: "MEDRA_MODEL_MAX_TOKENS",
		apply:   func(cfg *Config, v any) { cfg.Model.MaxTokens = v.(int) },
		extract: func(cfg Config) any { return cfg.Model.MaxTokens },
	},
	{
		key: "storage.data_dir", typ: kString, env: "MEDRA_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "retrieval.max_turns", typ: kInt, env: "MEDRA_RETRIEVAL_MAX_TURNS",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.MaxTurns = v.(int) },
		extract: func(cfg Config) any { return cfg.Retrieval.MaxTurns },
	},
	{
		key: "retrieval.keywords_file", typ: kString, env: "MEDRA_RETRIEVAL_KEYWORDS_FILE",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.KeywordsFile = v.(string) },
		extract: func(cfg Config) any { return cfg.Retrieval.KeywordsFile },
	},
	{
		key: "media.fetch_timeout", typ: kString, env: "MEDRA_MEDIA_FETCH_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Media.FetchTimeout = v.(string) },
		extract: func(cfg Config) any { return cfg.Media.FetchTimeout },
	},
	{
		key: "log.level", typ: kString, env: "MEDRA_LOG_LEVEL",
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
		case kFloat:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if f, err := strconv.ParseFloat(v, 64); err == nil {
					s.apply(cfg, f)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse float from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
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
		case kFloat:
			if f, err := strconv.ParseFloat(raw, 64); err == nil {
				s.apply(cfg, f)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse float from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
