package config

// ConfigBackend is where non-secret keys persist between runs: the
// `defaults` database on macOS, a JSON file elsewhere.
type ConfigBackend interface {
	GetString(key string) (val string, ok bool, err error)
	GetInt(key string) (val int, ok bool, err error)
	SetString(key, val string) error
	SetInt(key string, val int) error
	Delete(key string) error
}
