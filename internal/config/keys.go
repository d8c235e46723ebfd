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
	kBool
)

const envAPIKey = "VOXBAR_LLM_API_KEY"

type keySpec struct {
	key      string
	typ      keyType
	env      string
	secret   bool
	validate func(string) error
	apply    func(cfg *Config, v any)
	extract  func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "VOXBAR_SERVER_PORT", validate: positive,
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "storage.data_dir", typ: kString, env: "VOXBAR_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "log.level", typ: kString, env: "VOXBAR_LOG_LEVEL", validate: validLevel,
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "llm.provider", typ: kString, env: "VOXBAR_LLM_PROVIDER", validate: validProvider,
		apply:   func(cfg *Config, v any) { cfg.LLM.Provider = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.Provider },
	},
	{
		key: "llm.model", typ: kString, env: "VOXBAR_LLM_MODEL",
		apply:   func(cfg *Config, v any) { cfg.LLM.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.Model },
	},
	{
		key: "llm.base_url", typ: kString, env: "VOXBAR_LLM_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.LLM.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.BaseURL },
	},
	{
		key: "llm.api_key", typ: kString, env: envAPIKey,
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.LLM.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.APIKey },
	},
	{
		key: "llm.timeout", typ: kString, env: "VOXBAR_LLM_TIMEOUT", validate: validDuration,
		apply:   func(cfg *Config, v any) { cfg.LLM.Timeout = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.Timeout },
	},
	{
		key: "llm.http2", typ: kBool, env: "VOXBAR_LLM_HTTP2",
		apply:   func(cfg *Config, v any) { cfg.LLM.HTTP2 = v.(bool) },
		extract: func(cfg Config) any { return cfg.LLM.HTTP2 },
	},
	{
		key: "ollama.base_url", typ: kString, env: "VOXBAR_OLLAMA_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.BaseURL },
	},
	{
		key: "improve.enabled", typ: kBool, env: "VOXBAR_IMPROVE_ENABLED",
		apply:   func(cfg *Config, v any) { cfg.Improve.Enabled = v.(bool) },
		extract: func(cfg Config) any { return cfg.Improve.Enabled },
	},
	{
		key: "improve.cooldown", typ: kString, env: "VOXBAR_IMPROVE_COOLDOWN", validate: validCooldown,
		apply:   func(cfg *Config, v any) { cfg.Improve.Cooldown = v.(string) },
		extract: func(cfg Config) any { return cfg.Improve.Cooldown },
	},
	{
		key: "improve.dictation_threshold", typ: kInt, env: "VOXBAR_IMPROVE_DICTATION_THRESHOLD", validate: positive,
		apply:   func(cfg *Config, v any) { cfg.Improve.DictationThreshold = v.(int) },
		extract: func(cfg Config) any { return cfg.Improve.DictationThreshold },
	},
	{
		key: "improve.min_interaction_age_days", typ: kInt, env: "VOXBAR_IMPROVE_MIN_INTERACTION_AGE_DAYS", validate: nonNegative,
		apply:   func(cfg *Config, v any) { cfg.Improve.MinInteractionAgeDays = v.(int) },
		extract: func(cfg Config) any { return cfg.Improve.MinInteractionAgeDays },
	},
	{
		key: "improve.max_entries", typ: kInt, env: "VOXBAR_IMPROVE_MAX_ENTRIES", validate: positive,
		apply:   func(cfg *Config, v any) { cfg.Improve.MaxEntries = v.(int) },
		extract: func(cfg Config) any { return cfg.Improve.MaxEntries },
	},
	{
		key: "improve.max_total_chars", typ: kInt, env: "VOXBAR_IMPROVE_MAX_TOTAL_CHARS", validate: positive,
		apply:   func(cfg *Config, v any) { cfg.Improve.MaxTotalChars = v.(int) },
		extract: func(cfg Config) any { return cfg.Improve.MaxTotalChars },
	},
	{
		key: "improve.max_field_chars", typ: kInt, env: "VOXBAR_IMPROVE_MAX_FIELD_CHARS", validate: positive,
		apply:   func(cfg *Config, v any) { cfg.Improve.MaxFieldChars = v.(int) },
		extract: func(cfg Config) any { return cfg.Improve.MaxFieldChars },
	},
	{
		key: "logs.retention_days", typ: kInt, env: "VOXBAR_LOGS_RETENTION_DAYS", validate: positive,
		apply:   func(cfg *Config, v any) { cfg.Logs.RetentionDays = v.(int) },
		extract: func(cfg Config) any { return cfg.Logs.RetentionDays },
	},
	{
		key: "notify.enabled", typ: kBool, env: "VOXBAR_NOTIFY_ENABLED",
		apply:   func(cfg *Config, v any) { cfg.Notify.Enabled = v.(bool) },
		extract: func(cfg Config) any { return cfg.Notify.Enabled },
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
		case kBool:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if bv, err := strconv.ParseBool(v); err == nil {
					s.apply(cfg, bv)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from config key %s=%q: %v. Using default value.\n", s.key, v, err)
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
		case kBool:
			if b, err := strconv.ParseBool(raw); err == nil {
				s.apply(cfg, b)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
