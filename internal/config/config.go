// Package config provides configuration management for scanclient.
// It loads the YAML configuration file, applies defaults and environment overrides,
// and exposes structured access to the gateway, logging and token store settings.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultBaseURL           = "http://127.0.0.1:8000/api"
	DefaultLoginPath         = "token/"
	DefaultRefreshPath       = "token/refresh/"
	DefaultTimeoutMillis     = 5000
	DefaultUploadConcurrency = 4
	DefaultTokenStoreType    = "file"
	DefaultTokenProfile      = "default"
	DefaultUserAgent         = "scanclient"
)

// Config represents the application's configuration, loaded from a YAML file.
type Config struct {
	// BaseURL is the API root every relative request path is resolved against.
	BaseURL string `yaml:"base-url" json:"base-url"`

	// LoginPath is the endpoint exchanging credentials for a token pair.
	LoginPath string `yaml:"login-path" json:"login-path"`

	// RefreshPath is the endpoint exchanging a refresh token for a new access token.
	RefreshPath string `yaml:"refresh-path" json:"refresh-path"`

	// RequestTimeoutMillis bounds every API request. <= 0 falls back to the default.
	RequestTimeoutMillis int `yaml:"request-timeout-ms" json:"request-timeout-ms"`

	// RefreshTimeoutMillis bounds the single refresh attempt. <= 0 falls back to the default.
	RefreshTimeoutMillis int `yaml:"refresh-timeout-ms" json:"refresh-timeout-ms"`

	// UserAgent is sent on every outgoing request.
	UserAgent string `yaml:"user-agent" json:"user-agent"`

	// ProxyURL is the URL of an optional proxy server to use for outbound requests.
	ProxyURL string `yaml:"proxy-url" json:"proxy-url"`

	// Debug enables debug-level logging.
	Debug bool `yaml:"debug" json:"debug"`

	// LoggingToFile switches log output from stdout to a rotating file under LogDir.
	LoggingToFile bool `yaml:"logging-to-file" json:"logging-to-file"`

	// LogDir overrides the directory used for log files.
	LogDir string `yaml:"log-dir" json:"log-dir"`

	// LogsMaxTotalSizeMB caps the size of LogDir; oldest files are removed first. 0 disables.
	LogsMaxTotalSizeMB int `yaml:"logs-max-total-size-mb" json:"logs-max-total-size-mb"`

	// UploadConcurrency limits parallel uploads in batch mode.
	UploadConcurrency int `yaml:"upload-concurrency" json:"upload-concurrency"`

	// TokenStore selects and configures the durable token store backend.
	TokenStore TokenStoreConfig `yaml:"token-store" json:"token-store"`
}

// TokenStoreConfig selects the token store backend.
type TokenStoreConfig struct {
	// Type is one of "file", "memory", "postgres", "object", "git" or "redis".
	Type string `yaml:"type" json:"type"`

	// Path is the token file used by the file backend.
	Path string `yaml:"path" json:"path"`

	// Profile names the token pair inside shared backends so several users can share one database.
	Profile string `yaml:"profile" json:"profile"`

	Postgres PostgresStoreConfig `yaml:"postgres" json:"postgres"`
	Object   ObjectStoreConfig   `yaml:"object" json:"object"`
	Git      GitStoreConfig      `yaml:"git" json:"git"`
	Redis    RedisStoreConfig    `yaml:"redis" json:"redis"`
}

// PostgresStoreConfig configures the PostgreSQL token store.
type PostgresStoreConfig struct {
	DSN    string `yaml:"dsn" json:"dsn"`
	Schema string `yaml:"schema" json:"schema"`
	Table  string `yaml:"table" json:"table"`
}

// ObjectStoreConfig configures the S3-compatible token store.
type ObjectStoreConfig struct {
	Endpoint  string `yaml:"endpoint" json:"endpoint"`
	Bucket    string `yaml:"bucket" json:"bucket"`
	AccessKey string `yaml:"access-key" json:"access-key"`
	SecretKey string `yaml:"secret-key" json:"secret-key"`
	Region    string `yaml:"region" json:"region"`
	Prefix    string `yaml:"prefix" json:"prefix"`
	UseSSL    bool   `yaml:"use-ssl" json:"use-ssl"`
	PathStyle bool   `yaml:"path-style" json:"path-style"`
}

// GitStoreConfig configures the git-backed token store.
type GitStoreConfig struct {
	Remote    string `yaml:"remote" json:"remote"`
	Username  string `yaml:"username" json:"username"`
	Password  string `yaml:"password" json:"password"`
	LocalPath string `yaml:"local-path" json:"local-path"`
}

// RedisStoreConfig configures the Redis token store.
type RedisStoreConfig struct {
	Addr      string `yaml:"addr" json:"addr"`
	Password  string `yaml:"password" json:"password"`
	DB        int    `yaml:"db" json:"db"`
	KeyPrefix string `yaml:"key-prefix" json:"key-prefix"`
}

// RequestTimeout returns the per-request timeout.
func (c *Config) RequestTimeout() time.Duration {
	return millis(c.RequestTimeoutMillis)
}

// RefreshTimeout returns the timeout for the refresh call.
func (c *Config) RefreshTimeout() time.Duration {
	return millis(c.RefreshTimeoutMillis)
}

func millis(v int) time.Duration {
	if v <= 0 {
		v = DefaultTimeoutMillis
	}
	return time.Duration(v) * time.Millisecond
}

// LoadConfig reads and parses the YAML configuration file at configFile.
func LoadConfig(configFile string) (*Config, error) {
	return LoadConfigOptional(configFile, false)
}

// LoadConfigOptional reads configFile. When optional is true a missing or empty file yields
// a default configuration instead of an error.
func LoadConfigOptional(configFile string, optional bool) (*Config, error) {
	cfg := &Config{}
	data, err := os.ReadFile(configFile)
	if err != nil {
		if optional && errors.Is(err, fs.ErrNotExist) {
			cfg.SanitizeDefaults()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		if optional {
			cfg.SanitizeDefaults()
			return cfg, nil
		}
		return nil, fmt.Errorf("config file %s is empty", configFile)
	}
	if err = yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	cfg.SanitizeDefaults()
	return cfg, nil
}

// SanitizeDefaults trims string settings and fills unset values with defaults.
func (c *Config) SanitizeDefaults() {
	c.BaseURL = strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	c.LoginPath = strings.TrimSpace(c.LoginPath)
	if c.LoginPath == "" {
		c.LoginPath = DefaultLoginPath
	}
	c.RefreshPath = strings.TrimSpace(c.RefreshPath)
	if c.RefreshPath == "" {
		c.RefreshPath = DefaultRefreshPath
	}
	if c.RequestTimeoutMillis <= 0 {
		c.RequestTimeoutMillis = DefaultTimeoutMillis
	}
	if c.RefreshTimeoutMillis <= 0 {
		c.RefreshTimeoutMillis = DefaultTimeoutMillis
	}
	c.UserAgent = strings.TrimSpace(c.UserAgent)
	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent
	}
	c.ProxyURL = strings.TrimSpace(c.ProxyURL)
	if c.UploadConcurrency <= 0 {
		c.UploadConcurrency = DefaultUploadConcurrency
	}
	if c.LogsMaxTotalSizeMB < 0 {
		c.LogsMaxTotalSizeMB = 0
	}
	c.TokenStore.Type = strings.ToLower(strings.TrimSpace(c.TokenStore.Type))
	if c.TokenStore.Type == "" {
		c.TokenStore.Type = DefaultTokenStoreType
	}
	c.TokenStore.Profile = strings.TrimSpace(c.TokenStore.Profile)
	if c.TokenStore.Profile == "" {
		c.TokenStore.Profile = DefaultTokenProfile
	}
	c.TokenStore.Path = strings.TrimSpace(c.TokenStore.Path)
}

// Validate reports settings that cannot work together.
func (c *Config) Validate() error {
	switch c.TokenStore.Type {
	case "file", "memory":
	case "postgres":
		if strings.TrimSpace(c.TokenStore.Postgres.DSN) == "" {
			return fmt.Errorf("config: token-store.postgres.dsn is required")
		}
	case "object":
		o := c.TokenStore.Object
		if strings.TrimSpace(o.Endpoint) == "" || strings.TrimSpace(o.Bucket) == "" {
			return fmt.Errorf("config: token-store.object.endpoint and bucket are required")
		}
	case "git":
		if strings.TrimSpace(c.TokenStore.Git.Remote) == "" {
			return fmt.Errorf("config: token-store.git.remote is required")
		}
	case "redis":
		if strings.TrimSpace(c.TokenStore.Redis.Addr) == "" {
			return fmt.Errorf("config: token-store.redis.addr is required")
		}
	default:
		return fmt.Errorf("config: unknown token-store.type %q", c.TokenStore.Type)
	}
	if !strings.HasPrefix(c.BaseURL, "http://") && !strings.HasPrefix(c.BaseURL, "https://") {
		return fmt.Errorf("config: base-url must be an http(s) URL, got %q", c.BaseURL)
	}
	return nil
}

// ApplyEnvOverrides overlays environment variables on top of the file configuration.
// lookup is usually os.LookupEnv; blank values are ignored.
func (c *Config) ApplyEnvOverrides(lookup func(string) (string, bool)) {
	get := func(keys ...string) (string, bool) {
		for _, key := range keys {
			if value, ok := lookup(key); ok {
				if trimmed := strings.TrimSpace(value); trimmed != "" {
					return trimmed, true
				}
			}
		}
		return "", false
	}
	if v, ok := get("SCANCLIENT_BASE_URL", "scanclient_base_url"); ok {
		c.BaseURL = v
	}
	if v, ok := get("SCANCLIENT_API_TIMEOUT", "scanclient_api_timeout"); ok {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			c.RequestTimeoutMillis = ms
			c.RefreshTimeoutMillis = ms
		}
	}
	if v, ok := get("SCANCLIENT_PROXY_URL", "scanclient_proxy_url"); ok {
		c.ProxyURL = v
	}
	if v, ok := get("SCANCLIENT_TOKEN_STORE", "scanclient_token_store"); ok {
		c.TokenStore.Type = v
	}
	if v, ok := get("SCANCLIENT_TOKEN_FILE", "scanclient_token_file"); ok {
		c.TokenStore.Path = v
	}
	if v, ok := get("PGSTORE_DSN", "pgstore_dsn"); ok {
		c.TokenStore.Postgres.DSN = v
	}
	if v, ok := get("PGSTORE_SCHEMA", "pgstore_schema"); ok {
		c.TokenStore.Postgres.Schema = v
	}
	if v, ok := get("OBJECTSTORE_ENDPOINT", "objectstore_endpoint"); ok {
		c.TokenStore.Object.Endpoint = v
	}
	if v, ok := get("OBJECTSTORE_ACCESS_KEY", "objectstore_access_key"); ok {
		c.TokenStore.Object.AccessKey = v
	}
	if v, ok := get("OBJECTSTORE_SECRET_KEY", "objectstore_secret_key"); ok {
		c.TokenStore.Object.SecretKey = v
	}
	if v, ok := get("OBJECTSTORE_BUCKET", "objectstore_bucket"); ok {
		c.TokenStore.Object.Bucket = v
	}
	if v, ok := get("GITSTORE_GIT_URL", "gitstore_git_url"); ok {
		c.TokenStore.Git.Remote = v
	}
	if v, ok := get("GITSTORE_GIT_USERNAME", "gitstore_git_username"); ok {
		c.TokenStore.Git.Username = v
	}
	if v, ok := get("GITSTORE_GIT_TOKEN", "gitstore_git_token"); ok {
		c.TokenStore.Git.Password = v
	}
	if v, ok := get("REDISSTORE_ADDR", "redisstore_addr"); ok {
		c.TokenStore.Redis.Addr = v
	}
	if v, ok := get("REDISSTORE_PASSWORD", "redisstore_password"); ok {
		c.TokenStore.Redis.Password = v
	}
	c.SanitizeDefaults()
}
