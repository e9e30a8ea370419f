package config

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"
)

// mockKeychain is a test double for the keychain interface.
type mockKeychain struct {
	value string
	err   error
}

func (m mockKeychain) Get(service, account string) (string, error) {
	return m.value, m.err
}

// mapBackend is an in-memory ConfigBackend.
type mapBackend map[string]string

func (m mapBackend) GetString(key string) (string, bool, error) {
	v, ok := m[key]
	return v, ok, nil
}

func (m mapBackend) GetInt(key string) (int, bool, error) {
	v, ok := m[key]
	if !ok {
		return 0, false, nil
	}
	i, err := strconv.Atoi(v)
	return i, true, err
}

func (m mapBackend) SetString(key, val string) error { m[key] = val; return nil }
func (m mapBackend) SetInt(key string, val int) error { m[key] = strconv.Itoa(val); return nil }
func (m mapBackend) Delete(key string) error { delete(m, key); return nil }

func env(vals map[string]string) func(string) string {
	return func(k string) string { return vals[k] }
}

func TestDefaults(t *testing.T) {
	cfg, err := loadWith(mapBackend{}, mockKeychain{err: errors.New("none")}, env(nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 4100 {
		t.Errorf("Server.Port = %d, want 4100", cfg.Server.Port)
	}
	if cfg.Retry.MaxAttempts != 3 || cfg.Retry.InitialDelay != time.Second {
		t.Errorf("Retry = %+v, want 3 attempts / 1s", cfg.Retry)
	}
	if cfg.Ingest.BatchSize != 10 {
		t.Errorf("Ingest.BatchSize = %d, want 10", cfg.Ingest.BatchSize)
	}
	if !cfg.StatusSync.Enabled || cfg.StatusSync.PollInterval != 10*time.Second || cfg.StatusSync.MaxPolls != 60 {
		t.Errorf("StatusSync = %+v", cfg.StatusSync)
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "text" {
		t.Errorf("Log = %+v", cfg.Log)
	}
	if cfg.Provider.BaseURL != "" || cfg.Provider.APIKey != "" {
		t.Errorf("Provider = %+v, want empty", cfg.Provider)
	}
	if cfg.Storage.DataDir == "" {
		t.Error("Storage.DataDir is empty")
	}
}

func TestMissingAPIKeyIsNotAnError(t *testing.T) {
	cfg, err := loadWith(mapBackend{}, mockKeychain{}, env(nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Provider.APIKey != "" {
		t.Errorf("APIKey = %q, want empty", cfg.Provider.APIKey)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v, want nil for defaults", err)
	}
}

func TestBackendValues(t *testing.T) {
	b := mapBackend{
		"server.port":              "5000",
		"provider.base_url":        "https://docs.example.com/api",
		"retry.initial_delay":      "250ms",
		"statussync.enabled":       "false",
		"statussync.poll_interval": "1m",
		"provider.api_key":         "ignored",
	}
	cfg, err := loadWith(b, mockKeychain{}, env(nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 5000 {
		t.Errorf("Server.Port = %d, want 5000", cfg.Server.Port)
	}
	if cfg.Provider.BaseURL != "https://docs.example.com/api" {
		t.Errorf("Provider.BaseURL = %q", cfg.Provider.BaseURL)
	}
	if cfg.Retry.InitialDelay != 250*time.Millisecond {
		t.Errorf("Retry.InitialDelay = %s, want 250ms", cfg.Retry.InitialDelay)
	}
	if cfg.StatusSync.Enabled {
		t.Error("StatusSync.Enabled = true, want false")
	}
	if cfg.StatusSync.PollInterval != time.Minute {
		t.Errorf("StatusSync.PollInterval = %s, want 1m", cfg.StatusSync.PollInterval)
	}
	if cfg.Provider.APIKey != "" {
		t.Errorf("APIKey = %q, secrets must not come from the backend", cfg.Provider.APIKey)
	}
}

func TestEnvOverride(t *testing.T) {
	b := mapBackend{"server.port": "5000", "provider.default_folder": "backend"}
	e := env(map[string]string{
		"DOCGATE_SERVER_PORT":             "6000",
		"DOCGATE_PROVIDER_API_KEY":        "env-key",
		"DOCGATE_PROVIDER_DEFAULT_FOLDER": "radiology",
		"DOCGATE_INGEST_BATCH_SIZE":       "4",
	})

	cfg, err := loadWith(b, mockKeychain{value: "keychain-key"}, e)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 6000 {
		t.Errorf("Server.Port = %d, want 6000", cfg.Server.Port)
	}
	if cfg.Provider.APIKey != "env-key" {
		t.Errorf("APIKey = %q, want env-key", cfg.Provider.APIKey)
	}
	if cfg.Provider.DefaultFolder != "radiology" {
		t.Errorf("DefaultFolder = %q, want radiology", cfg.Provider.DefaultFolder)
	}
	if cfg.Ingest.BatchSize != 4 {
		t.Errorf("BatchSize = %d, want 4", cfg.Ingest.BatchSize)
	}
}

func TestBadEnvKeepsPreviousValue(t *testing.T) {
	e := env(map[string]string{
		"DOCGATE_SERVER_PORT":         "not-a-port",
		"DOCGATE_RETRY_INITIAL_DELAY": "soon",
		"DOCGATE_STATUSSYNC_ENABLED":  "maybe",
	})
	cfg, err := loadWith(mapBackend{}, mockKeychain{}, e)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 4100 || cfg.Retry.InitialDelay != time.Second || !cfg.StatusSync.Enabled {
		t.Errorf("cfg = %+v, want defaults kept", cfg)
	}
}

func TestKeychainFallback(t *testing.T) {
	cfg, err := loadWith(mapBackend{}, mockKeychain{value: "kc-key"}, env(nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Provider.APIKey != "kc-key" {
		t.Errorf("APIKey = %q, want kc-key", cfg.Provider.APIKey)
	}
}

func TestDotenvLookup(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	content := "DOCGATE_PROVIDER_BASE_URL=https://from-dotenv.example.com\nDOCGATE_LOG_LEVEL=debug\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("DOCGATE_LOG_LEVEL", "warn")

	getenv, err := dotenvLookup(path)
	if err != nil {
		t.Fatalf("dotenvLookup: %v", err)
	}
	if got := getenv("DOCGATE_PROVIDER_BASE_URL"); got != "https://from-dotenv.example.com" {
		t.Errorf("base url = %q", got)
	}
	if got := getenv("DOCGATE_LOG_LEVEL"); got != "warn" {
		t.Errorf("log level = %q, want process env to win", got)
	}

	if _, err := dotenvLookup(filepath.Join(dir, "missing.env")); err != nil {
		t.Errorf("missing .env: %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"base url scheme", func(c *Config) { c.Provider.BaseURL = "ftp://x" }, "provider.base_url"},
		{"base url host", func(c *Config) { c.Provider.BaseURL = "https://" }, "provider.base_url"},
		{"attempts", func(c *Config) { c.Retry.MaxAttempts = 0 }, "retry.max_attempts"},
		{"too many attempts", func(c *Config) { c.Retry.MaxAttempts = 70 }, "retry.max_attempts"},
		{"delay", func(c *Config) { c.Retry.InitialDelay = 0 }, "retry.initial_delay"},
		{"batch", func(c *Config) { c.Ingest.BatchSize = -1 }, "ingest.batch_size"},
		{"poll", func(c *Config) { c.StatusSync.PollInterval = 0 }, "statussync.poll_interval"},
		{"polls", func(c *Config) { c.StatusSync.MaxPolls = 0 }, "statussync.max_polls"},
		{"level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
		{"format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaults()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate() = %v, want mention of %s", err, tt.want)
			}
		})
	}

	cfg := defaults()
	cfg.Server.Port = 0
	cfg.Log.Format = "xml"
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "server.port") || !strings.Contains(err.Error(), "log.format") {
		t.Errorf("Validate() = %v, want both problems reported", err)
	}
}

func TestSetKey(t *testing.T) {
	b := mapBackend{}
	if err := setKey(b, "ingest.batch_size", "20"); err != nil {
		t.Fatalf("setKey int: %v", err)
	}
	if err := setKey(b, "statussync.poll_interval", "30s"); err != nil {
		t.Fatalf("setKey duration: %v", err)
	}
	cfg, err := loadWith(b, mockKeychain{}, env(nil))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Ingest.BatchSize != 20 || cfg.StatusSync.PollInterval != 30*time.Second {
		t.Errorf("cfg = %+v / %+v", cfg.Ingest, cfg.StatusSync)
	}

	if err := setKey(b, "provider.api_key", "x"); err == nil {
		t.Error("setting a secret should fail")
	}
	if err := setKey(b, "retry.initial_delay", "later"); err == nil {
		t.Error("invalid duration should fail")
	}
	if err := setKey(b, "no.such.key", "1"); err == nil {
		t.Error("unknown key should fail")
	}
}

func TestShowAllMasksSecret(t *testing.T) {
	cfg := defaults()
	cfg.Provider.APIKey = "sk-secret"
	for _, ki := range ShowAll(cfg) {
		if strings.Contains(ki.Value, "sk-secret") {
			t.Fatalf("ShowAll leaked the API key under %s", ki.Key)
		}
		if ki.Key == "provider.api_key" && ki.Value != "(set)" {
			t.Errorf("api key shown as %q, want (set)", ki.Value)
		}
	}
	if len(ShowAll(cfg)) != len(ValidKeys())+1 {
		t.Errorf("ShowAll has %d keys, want %d", len(ShowAll(cfg)), len(ValidKeys())+1)
	}
}
