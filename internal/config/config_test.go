package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfigOptional_MissingFileUsesDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := LoadConfigOptional(filepath.Join(t.TempDir(), "absent.yaml"), true)
	if err != nil {
		t.Fatalf("LoadConfigOptional: %v", err)
	}
	if cfg.BaseURL != DefaultBaseURL {
		t.Fatalf("BaseURL = %q, want %q", cfg.BaseURL, DefaultBaseURL)
	}
	if cfg.RefreshTimeout() != 5*time.Second {
		t.Fatalf("RefreshTimeout() = %v, want 5s", cfg.RefreshTimeout())
	}
	if cfg.TokenStore.Type != "file" || cfg.TokenStore.Profile != "default" {
		t.Fatalf("TokenStore = %+v, want file/default", cfg.TokenStore)
	}
}

func TestLoadConfig_MissingFileFails(t *testing.T) {
	t.Parallel()

	if _, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatalf("LoadConfig() error = nil, want error for missing file")
	}
}

func TestLoadConfig_ParsesYAML(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
base-url: "https://photos.example.com/api/"
refresh-timeout-ms: 1500
upload-concurrency: 2
token-store:
  type: Redis
  redis:
    addr: "127.0.0.1:6379"
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.BaseURL != "https://photos.example.com/api" {
		t.Fatalf("BaseURL = %q, want trailing slash trimmed", cfg.BaseURL)
	}
	if cfg.RefreshTimeout() != 1500*time.Millisecond {
		t.Fatalf("RefreshTimeout() = %v, want 1.5s", cfg.RefreshTimeout())
	}
	if cfg.RequestTimeout() != 5*time.Second {
		t.Fatalf("RequestTimeout() = %v, want default 5s", cfg.RequestTimeout())
	}
	if cfg.UploadConcurrency != 2 {
		t.Fatalf("UploadConcurrency = %d, want 2", cfg.UploadConcurrency)
	}
	if cfg.TokenStore.Type != "redis" {
		t.Fatalf("TokenStore.Type = %q, want redis", cfg.TokenStore.Type)
	}
	if err = cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Parallel()

	cfg := &Config{}
	cfg.SanitizeDefaults()
	env := map[string]string{
		"SCANCLIENT_BASE_URL":    "http://10.0.0.2:8000/api",
		"SCANCLIENT_API_TIMEOUT": "2500",
		"SCANCLIENT_TOKEN_STORE": "memory",
		"PGSTORE_DSN":            "   ",
	}
	cfg.ApplyEnvOverrides(func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	})

	if cfg.BaseURL != "http://10.0.0.2:8000/api" {
		t.Fatalf("BaseURL = %q", cfg.BaseURL)
	}
	if cfg.RequestTimeoutMillis != 2500 || cfg.RefreshTimeoutMillis != 2500 {
		t.Fatalf("timeouts = %d/%d, want 2500/2500", cfg.RequestTimeoutMillis, cfg.RefreshTimeoutMillis)
	}
	if cfg.TokenStore.Type != "memory" {
		t.Fatalf("TokenStore.Type = %q, want memory", cfg.TokenStore.Type)
	}
	if cfg.TokenStore.Postgres.DSN != "" {
		t.Fatalf("blank env value should be ignored, got DSN %q", cfg.TokenStore.Postgres.DSN)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"unknown store", func(c *Config) { c.TokenStore.Type = "floppy" }, true},
		{"postgres without dsn", func(c *Config) { c.TokenStore.Type = "postgres" }, true},
		{"object without bucket", func(c *Config) {
			c.TokenStore.Type = "object"
			c.TokenStore.Object.Endpoint = "minio:9000"
		}, true},
		{"git with remote", func(c *Config) {
			c.TokenStore.Type = "git"
			c.TokenStore.Git.Remote = "https://git.example.com/tokens.git"
		}, false},
		{"non http base url", func(c *Config) { c.BaseURL = "ftp://example.com" }, true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := &Config{}
			cfg.SanitizeDefaults()
			tt.mutate(cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
