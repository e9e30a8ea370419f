package config

import (
	"fmt"
	"strings"
)

// KeyInfo describes a config key for display purposes.
type KeyInfo struct {
	Key    string
	EnvVar string
	Value  string
}

// ShowAll returns every key with its current value. The API key is shown
// only as set or unset.
func ShowAll(cfg Config) []KeyInfo {
	result := make([]KeyInfo, 0, len(specs))
	for _, s := range specs {
		val := fmt.Sprintf("%v", s.extract(cfg))
		if s.secret {
			val = "(unset)"
			if s.extract(cfg).(string) != "" {
				val = "(set)"
			}
		}
		result = append(result, KeyInfo{Key: s.key, EnvVar: s.env, Value: val})
	}
	return result
}

// SetKey writes a non-secret key to the platform backend.
func SetKey(key, value string) error {
	return setKey(newPlatformBackend(), key, value)
}

func setKey(b ConfigBackend, key, value string) error {
	for _, s := range specs {
		if s.key != key {
			continue
		}
		if s.secret {
			return fmt.Errorf("%q is a secret; use `docgate config set-key` or environment variable %s", key, s.env)
		}
		v, err := s.parseValue(value)
		if err != nil {
			return fmt.Errorf("invalid %s value for %s: %w", s.typeName(), key, err)
		}
		if i, ok := v.(int); ok {
			return b.SetInt(key, i)
		}
		// Durations and bools are stored as text.
		return b.SetString(key, value)
	}
	return fmt.Errorf("unknown config key %q (valid keys: %s)", key, strings.Join(ValidKeys(), ", "))
}

// SetAPIKey stores the provider API key in the platform secret store.
func SetAPIKey(value string) error {
	value = strings.TrimSpace(value)
	if value == "" {
		return fmt.Errorf("API key must not be empty")
	}
	return keychainStore(keychainService, keychainAccount, value)
}

// ValidKeys returns the non-secret keys accepted by SetKey.
func ValidKeys() []string {
	var keys []string
	for _, s := range specs {
		if !s.secret {
			keys = append(keys, s.key)
		}
	}
	return keys
}
