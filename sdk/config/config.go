// Package config provides the public SDK configuration API.
//
// It re-exports the client configuration types and helpers so external projects can
// build a gateway without importing internal packages:
//
//	cfg := config.Default()
//	cfg.BaseURL = "https://scanner.example.com/api"
//	gw, err := gateway.New(cfg, auth.NewFileTokenStore(path))
package config

import internalconfig "github.com/bookscanner/scanclient/internal/config"

// Config is the full client configuration accepted by gateway.New.
type Config = internalconfig.Config

// TokenStoreConfig selects the token store backend.
type TokenStoreConfig = internalconfig.TokenStoreConfig

// Shared token store backend settings.
type (
	// PostgresStoreConfig configures the PostgreSQL store.
	PostgresStoreConfig = internalconfig.PostgresStoreConfig
	// ObjectStoreConfig configures the S3-compatible object store.
	ObjectStoreConfig = internalconfig.ObjectStoreConfig
	// GitStoreConfig configures the git-backed store.
	GitStoreConfig = internalconfig.GitStoreConfig
	// RedisStoreConfig configures the Redis store.
	RedisStoreConfig = internalconfig.RedisStoreConfig
)

// Default endpoint settings applied when the config leaves them empty.
const (
	DefaultBaseURL     = internalconfig.DefaultBaseURL
	DefaultLoginPath   = internalconfig.DefaultLoginPath
	DefaultRefreshPath = internalconfig.DefaultRefreshPath
)

// LoadConfig reads and parses the YAML configuration file.
func LoadConfig(configFile string) (*Config, error) { return internalconfig.LoadConfig(configFile) }

// LoadConfigOptional reads configFile; when optional, a missing or empty file yields defaults.
func LoadConfigOptional(configFile string, optional bool) (*Config, error) {
	return internalconfig.LoadConfigOptional(configFile, optional)
}

// Default returns a configuration with every setting at its default value.
func Default() *Config {
	cfg := &Config{}
	cfg.SanitizeDefaults()
	return cfg
}
