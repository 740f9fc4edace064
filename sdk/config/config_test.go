package config

import (
	"path/filepath"
	"testing"
)

func TestDefault(t *testing.T) {
	t.Parallel()

	cfg := Default()
	if cfg.BaseURL != DefaultBaseURL || cfg.RefreshPath != DefaultRefreshPath {
		t.Fatalf("defaults = %+v", cfg)
	}
	if cfg.TokenStore.Type != "file" {
		t.Fatalf("token store type = %q", cfg.TokenStore.Type)
	}
}

func TestLoadConfigOptionalMissingFile(t *testing.T) {
	t.Parallel()

	cfg, err := LoadConfigOptional(filepath.Join(t.TempDir(), "missing.yaml"), true)
	if err != nil {
		t.Fatalf("LoadConfigOptional: %v", err)
	}
	if cfg.LoginPath != DefaultLoginPath {
		t.Fatalf("login path = %q", cfg.LoginPath)
	}
	if _, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("LoadConfig accepted a missing file")
	}
}
