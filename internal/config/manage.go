package config

import (
	"fmt"
	"strconv"
)

// KeyInfo is one row of `genlog config show`.
type KeyInfo struct {
	Key    string
	EnvVar string
	Value  string
}

// ShowAll lists every non-secret key with its effective value. Secrets
// (gateway token, model API keys) never appear here; they are read from the
// environment or the platform secret store only.
func ShowAll(cfg Config) []KeyInfo {
	var rows []KeyInfo
	for _, s := range specs {
		if s.secret {
			continue
		}
		rows = append(rows, KeyInfo{
			Key:    s.key,
			EnvVar: s.env,
			Value:  fmt.Sprintf("%v", s.extract(cfg)),
		})
	}
	return rows
}

func findSpec(key string) (keySpec, bool) {
	for _, s := range specs {
		if s.key == key {
			return s, true
		}
	}
	return keySpec{}, false
}

// SetKey persists one key in the platform backend so it survives restarts.
func SetKey(key, value string) error {
	s, ok := findSpec(key)
	if !ok {
		return fmt.Errorf("unknown config key: %q", key)
	}
	if s.secret {
		return fmt.Errorf("%q is a secret; set it via the %s environment variable instead", key, s.env)
	}

	b := newPlatformBackend()
	switch s.typ {
	case kInt:
		i, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%s expects an integer: %w", key, err)
		}
		return b.SetInt(key, i)
	default:
		return b.SetString(key, value)
	}
}

// ValidKeys lists the key names SetKey accepts.
func ValidKeys() []string {
	var keys []string
	for _, s := range specs {
		if !s.secret {
			keys = append(keys, s.key)
		}
	}
	return keys
}
