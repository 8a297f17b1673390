package config

import (
	"net/url"
	"os"
)

// SecretSource represents where a secret comes from.
type SecretSource string

const (
	SourceEnv    SecretSource = "env"
	SourceConfig SecretSource = "config"
	SourceNone   SecretSource = "none"
)

// SecretStatus represents the status of a credential-bearing setting.
type SecretStatus struct {
	Name   string       `json:"name"`
	Source SecretSource `json:"source"`
	IsSet  bool         `json:"is_set"`
	Masked string       `json:"masked,omitempty"`
}

// CheckSecrets returns the status of every credential-bearing setting.
func CheckSecrets(cfg *Config) []SecretStatus {
	return []SecretStatus{
		checkSecret("Storage DSN", cfg.Storage.DSN, "B3FETCH_STORAGE_DSN", maskDSN),
		checkSecret("Redis password", cfg.Cache.Password, "B3FETCH_CACHE_PASSWORD", maskKey),
	}
}

func checkSecret(name, value, envVar string, mask func(string) string) SecretStatus {
	status := SecretStatus{
		Name:  name,
		IsSet: value != "",
	}

	switch {
	case value == "":
		status.Source = SourceNone
	case os.Getenv(envVar) != "":
		status.Source = SourceEnv
	default:
		status.Source = SourceConfig
	}
	if value != "" {
		status.Masked = mask(value)
	}
	return status
}

// maskKey shows only the first and last 3 characters.
func maskKey(key string) string {
	if len(key) <= 8 {
		return "***"
	}
	return key[:3] + "..." + key[len(key)-3:]
}

// maskDSN hides the password of a URL-style DSN and masks anything else.
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return maskKey(dsn)
	}
	return u.Redacted()
}
