package config

// ConfigBackend stores the non-secret genlog settings (ports, channel ids,
// wiki URL) wherever the platform keeps per-user preferences: UserDefaults
// on macOS, a plain file under XDG_CONFIG_HOME elsewhere. Environment
// variables override whatever a backend returns.
type ConfigBackend interface {
	GetString(key string) (val string, ok bool, err error)
	GetInt(key string) (val int, ok bool, err error)
	SetString(key, val string) error
	SetInt(key string, val int) error
	Delete(key string) error
}
