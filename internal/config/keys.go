package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kDuration
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
		key: "server.port", typ: kInt, env: "DOCGATE_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "provider.base_url", typ: kString, env: "DOCGATE_PROVIDER_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Provider.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Provider.BaseURL },
	},
	{
		key: "provider.api_key", typ: kString, env: "DOCGATE_PROVIDER_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Provider.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Provider.APIKey },
	},
	{
		key: "provider.default_folder", typ: kString, env: "DOCGATE_PROVIDER_DEFAULT_FOLDER",
		apply:   func(cfg *Config, v any) { cfg.Provider.DefaultFolder = v.(string) },
		extract: func(cfg Config) any { return cfg.Provider.DefaultFolder },
	},
	{
		key: "retry.max_attempts", typ: kInt, env: "DOCGATE_RETRY_MAX_ATTEMPTS",
		apply:   func(cfg *Config, v any) { cfg.Retry.MaxAttempts = v.(int) },
		extract: func(cfg Config) any { return cfg.Retry.MaxAttempts },
	},
	{
		key: "retry.initial_delay", typ: kDuration, env: "DOCGATE_RETRY_INITIAL_DELAY",
		apply:   func(cfg *Config, v any) { cfg.Retry.InitialDelay = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Retry.InitialDelay },
	},
	{
		key: "ingest.batch_size", typ: kInt, env: "DOCGATE_INGEST_BATCH_SIZE",
		apply:   func(cfg *Config, v any) { cfg.Ingest.BatchSize = v.(int) },
		extract: func(cfg Config) any { return cfg.Ingest.BatchSize },
	},
	{
		key: "storage.data_dir", typ: kString, env: "DOCGATE_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "statussync.enabled", typ: kBool, env: "DOCGATE_STATUSSYNC_ENABLED",
		apply:   func(cfg *Config, v any) { cfg.StatusSync.Enabled = v.(bool) },
		extract: func(cfg Config) any { return cfg.StatusSync.Enabled },
	},
	{
		key: "statussync.poll_interval", typ: kDuration, env: "DOCGATE_STATUSSYNC_POLL_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.StatusSync.PollInterval = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.StatusSync.PollInterval },
	},
	{
		key: "statussync.max_polls", typ: kInt, env: "DOCGATE_STATUSSYNC_MAX_POLLS",
		apply:   func(cfg *Config, v any) { cfg.StatusSync.MaxPolls = v.(int) },
		extract: func(cfg Config) any { return cfg.StatusSync.MaxPolls },
	},
	{
		key: "log.level", typ: kString, env: "DOCGATE_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "log.format", typ: kString, env: "DOCGATE_LOG_FORMAT",
		apply:   func(cfg *Config, v any) { cfg.Log.Format = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Format },
	},
}

// parseValue converts raw into the type apply expects.
func (s keySpec) parseValue(raw string) (any, error) {
	switch s.typ {
	case kInt:
		return strconv.Atoi(raw)
	case kBool:
		return strconv.ParseBool(raw)
	case kDuration:
		return time.ParseDuration(raw)
	default:
		return raw, nil
	}
}

func (s keySpec) typeName() string {
	switch s.typ {
	case kInt:
		return "integer"
	case kBool:
		return "bool"
	case kDuration:
		return "duration"
	default:
		return "string"
	}
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		if s.typ == kInt {
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
			continue
		}

		raw, ok, err := b.GetString(s.key)
		if err != nil {
			return fmt.Errorf("reading %s: %w", s.key, err)
		}
		if !ok || raw == "" {
			continue
		}
		v, err := s.parseValue(raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse %s from config key %s=%q: %v. Using default value.\n", s.typeName(), s.key, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
	return nil
}

func applyEnvOverrides(cfg *Config, getenv func(string) string) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := getenv(s.env)
		if raw == "" {
			continue
		}
		v, err := s.parseValue(raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse %s from env var %s=%q: %v. Using default value.\n", s.typeName(), s.env, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
}
