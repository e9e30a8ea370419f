package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/clinicdocs/docgate/internal/gateway"
	"github.com/clinicdocs/docgate/internal/retry"
)

const (
	keychainService = "docgate"
	keychainAccount = "provider_api_key"
)

type Config struct {
	Server     ServerConfig
	Provider   ProviderConfig
	Retry      RetryConfig
	Ingest     IngestConfig
	Storage    StorageConfig
	StatusSync StatusSyncConfig
	Log        LogConfig
}

type ServerConfig struct {
	Port int
}

type ProviderConfig struct {
	BaseURL       string
	APIKey        string
	DefaultFolder string
}

type RetryConfig struct {
	MaxAttempts  int
	InitialDelay time.Duration
}

type IngestConfig struct {
	BatchSize int
}

type StorageConfig struct {
	DataDir string
}

type StatusSyncConfig struct {
	Enabled      bool
	PollInterval time.Duration
	MaxPolls     int
}

type LogConfig struct {
	Level  string
	Format string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{Port: 4100},
		Retry: RetryConfig{
			MaxAttempts:  retry.DefaultMaxAttempts,
			InitialDelay: retry.DefaultInitialDelay,
		},
		Ingest:  IngestConfig{BatchSize: gateway.DefaultBatchSize},
		Storage: StorageConfig{DataDir: defaultDataDir()},
		StatusSync: StatusSyncConfig{
			Enabled:      true,
			PollInterval: 10 * time.Second,
			MaxPolls:     60,
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads configuration from the platform-native backend, a .env file in
// the working directory, environment variables and the platform secret store,
// in that order of increasing precedence (the secret store only fills an API
// key that is still empty).
//
// On macOS the backend is UserDefaults (domain: com.clinicdocs.docgate) and
// the API key falls back to the Keychain. Elsewhere the backend is a JSON
// file at $XDG_CONFIG_HOME/docgate/config.json and the API key falls back to
// $XDG_DATA_HOME/docgate/secrets.json.
//
// A missing API key is not an error: the gateway starts unconfigured and
// refuses provider calls until one is supplied.
func Load() (Config, error) {
	getenv, err := dotenvLookup(".env")
	if err != nil {
		return Config{}, err
	}
	return loadWith(newPlatformBackend(), keychainReader{}, getenv)
}

// dotenvLookup returns a lookup that prefers the process environment and
// falls back to the values in path. A missing file is ignored.
func dotenvLookup(path string) (func(string) string, error) {
	vals, err := godotenv.Read(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return os.Getenv, nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return func(key string) string {
		if v, ok := os.LookupEnv(key); ok {
			return v
		}
		return vals[key]
	}, nil
}

// keychain abstracts secret store access for testing.
type keychain interface {
	Get(service, account string) (string, error)
}

func loadWith(b ConfigBackend, kc keychain, getenv func(string) string) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg, getenv)

	if cfg.Provider.APIKey == "" {
		if key, err := kc.Get(keychainService, keychainAccount); err == nil && key != "" {
			cfg.Provider.APIKey = key
		}
	}

	return cfg, nil
}

// Validate reports every out-of-range value at once.
func (c Config) Validate() error {
	var errs []error
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Provider.BaseURL != "" {
		u, err := url.Parse(c.Provider.BaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("provider.base_url %q is not an http(s) URL", c.Provider.BaseURL))
		}
	}
	if c.Retry.MaxAttempts < 1 || c.Retry.MaxAttempts > retry.MaxAttemptsLimit {
		errs = append(errs, fmt.Errorf("retry.max_attempts must be between 1 and %d, got %d", retry.MaxAttemptsLimit, c.Retry.MaxAttempts))
	}
	if c.Retry.InitialDelay <= 0 {
		errs = append(errs, fmt.Errorf("retry.initial_delay must be positive, got %s", c.Retry.InitialDelay))
	}
	if c.Ingest.BatchSize < 1 {
		errs = append(errs, fmt.Errorf("ingest.batch_size must be at least 1, got %d", c.Ingest.BatchSize))
	}
	if c.StatusSync.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("statussync.poll_interval must be positive, got %s", c.StatusSync.PollInterval))
	}
	if c.StatusSync.MaxPolls < 1 {
		errs = append(errs, fmt.Errorf("statussync.max_polls must be at least 1, got %d", c.StatusSync.MaxPolls))
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q is not one of debug, info, warn, error", c.Log.Level))
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q is not text or json", c.Log.Format))
	}
	return errors.Join(errs...)
}

// MissingKeyHint tells the user where an API key can be supplied.
func MissingKeyHint() string {
	return "set environment variable DOCGATE_PROVIDER_API_KEY, run `docgate config set-key`" + apiKeyHint()
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
