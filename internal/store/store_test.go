package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/bookscanner/scanclient/internal/config"
	"github.com/bookscanner/scanclient/sdk/auth"
	"github.com/go-git/go-git/v6"
	"github.com/go-git/go-git/v6/plumbing/object"
	"github.com/redis/go-redis/v9"
	"github.com/tidwall/gjson"
)

// exerciseStore runs the token store contract against s.
func exerciseStore(t *testing.T, s auth.TokenStore) {
	t.Helper()
	ctx := context.Background()

	if access, err := s.AccessToken(ctx); err != nil || access != "" {
		t.Fatalf("empty store AccessToken = %q, %v", access, err)
	}
	if err := s.RemoveTokens(ctx); err != nil {
		t.Fatalf("RemoveTokens on empty store: %v", err)
	}
	if err := s.SaveTokens(ctx, "access-1", ""); err == nil {
		t.Fatalf("SaveTokens accepted a partial pair")
	}
	if err := s.SaveTokens(ctx, "access-1", "refresh-1"); err != nil {
		t.Fatalf("SaveTokens: %v", err)
	}
	if err := s.SaveTokens(ctx, "access-2", "refresh-2"); err != nil {
		t.Fatalf("SaveTokens: %v", err)
	}
	pair, err := auth.LoadPair(ctx, s)
	if err != nil {
		t.Fatalf("LoadPair: %v", err)
	}
	if pair == nil || pair.Access != "access-2" || pair.Refresh != "refresh-2" {
		t.Fatalf("pair = %+v", pair)
	}
	if err = s.RemoveTokens(ctx); err != nil {
		t.Fatalf("RemoveTokens: %v", err)
	}
	if refresh, err := s.RefreshToken(ctx); err != nil || refresh != "" {
		t.Fatalf("RefreshToken after remove = %q, %v", refresh, err)
	}
}

func TestRedisStore(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	s, err := NewRedisStore(context.Background(), RedisStoreConfig{Addr: mr.Addr(), Profile: "alice"})
	if err != nil {
		t.Fatalf("NewRedisStore: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	if s.Key() != "scanclient:tokens:alice" {
		t.Fatalf("Key = %q", s.Key())
	}
	exerciseStore(t, s)

	if err = s.SaveTokens(context.Background(), "a", "r"); err != nil {
		t.Fatalf("SaveTokens: %v", err)
	}
	raw, err := mr.Get(s.Key())
	if err != nil {
		t.Fatalf("raw get: %v", err)
	}
	if gjson.Get(raw, "access").String() != "a" || !gjson.Get(raw, "saved_at").Exists() {
		t.Fatalf("raw record = %s", raw)
	}
}

func TestRedisStoresShareProfile(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	newStore := func(profile string) *RedisStore {
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = client.Close() })
		return newRedisStore(client, "shared:", profile)
	}
	writer, reader, other := newStore("team"), newStore("team"), newStore("solo")
	ctx := context.Background()

	if err := writer.SaveTokens(ctx, "a", "r"); err != nil {
		t.Fatalf("SaveTokens: %v", err)
	}
	if got, _ := reader.AccessToken(ctx); got != "a" {
		t.Fatalf("reader AccessToken = %q", got)
	}
	if got, _ := other.AccessToken(ctx); got != "" {
		t.Fatalf("other profile AccessToken = %q", got)
	}
}

func TestRedisStoreRejectsUnreachableServer(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()
	if _, err := NewRedisStore(context.Background(), RedisStoreConfig{Addr: addr}); err == nil {
		t.Fatalf("expected ping error")
	}
	if _, err := NewRedisStore(context.Background(), RedisStoreConfig{}); err == nil {
		t.Fatalf("expected missing addr error")
	}
}

func TestGitStoreLocalRepository(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s, err := NewGitTokenStore(GitStoreConfig{LocalPath: dir, Profile: "alice"})
	if err != nil {
		t.Fatalf("NewGitTokenStore: %v", err)
	}
	exerciseStore(t, s)

	ctx := context.Background()
	if err = s.SaveTokens(ctx, "a", "r"); err != nil {
		t.Fatalf("SaveTokens: %v", err)
	}
	if err = s.SaveTokens(ctx, "b", "r"); err != nil {
		t.Fatalf("SaveTokens: %v", err)
	}
	if _, err = os.Stat(filepath.Join(dir, "tokens", "alice.json")); err != nil {
		t.Fatalf("token file missing: %v", err)
	}

	repo, err := git.PlainOpen(dir)
	if err != nil {
		t.Fatalf("PlainOpen: %v", err)
	}
	iter, err := repo.Log(&git.LogOptions{})
	if err != nil {
		t.Fatalf("Log: %v", err)
	}
	commits := 0
	_ = iter.ForEach(func(*object.Commit) error {
		commits++
		return nil
	})
	if commits != 1 {
		t.Fatalf("history has %d commits, want 1 squashed commit", commits)
	}

	reopened, err := NewGitTokenStore(GitStoreConfig{LocalPath: dir, Profile: "alice"})
	if err != nil {
		t.Fatalf("NewGitTokenStore: %v", err)
	}
	if got, _ := reopened.AccessToken(ctx); got != "b" {
		t.Fatalf("reopened AccessToken = %q", got)
	}
}

func TestGitStoreRequiresLocalPath(t *testing.T) {
	t.Parallel()

	if _, err := NewGitTokenStore(GitStoreConfig{Remote: "https://example.com/tokens.git"}); err == nil {
		t.Fatalf("expected error without local path")
	}
}

func TestOpen(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	dir := t.TempDir()
	tests := []struct {
		name    string
		store   config.TokenStoreConfig
		want    string
		wantErr bool
	}{
		{name: "file", store: config.TokenStoreConfig{Type: "file", Path: filepath.Join(dir, "t.json")}, want: "*auth.FileTokenStore"},
		{name: "memory", store: config.TokenStoreConfig{Type: "memory"}, want: "*auth.MemoryTokenStore"},
		{name: "redis", store: config.TokenStoreConfig{Type: "redis", Redis: config.RedisStoreConfig{Addr: mr.Addr()}}, want: "*store.RedisStore"},
		{name: "git", store: config.TokenStoreConfig{Type: "git", Git: config.GitStoreConfig{LocalPath: filepath.Join(dir, "repo")}}, want: "*store.GitTokenStore"},
		{name: "unknown", store: config.TokenStoreConfig{Type: "floppy"}, wantErr: true},
		{name: "postgres without dsn", store: config.TokenStoreConfig{Type: "postgres"}, wantErr: true},
		{name: "object without endpoint", store: config.TokenStoreConfig{Type: "object"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, closeFn, err := Open(context.Background(), &config.Config{TokenStore: tt.store})
			if closeFn == nil {
				t.Fatalf("close function is nil")
			}
			defer func() { _ = closeFn() }()
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			if got := typeName(s); got != tt.want {
				t.Fatalf("store type = %s, want %s", got, tt.want)
			}
		})
	}
}

func typeName(v any) string {
	switch v.(type) {
	case *auth.FileTokenStore:
		return "*auth.FileTokenStore"
	case *auth.MemoryTokenStore:
		return "*auth.MemoryTokenStore"
	case *RedisStore:
		return "*store.RedisStore"
	case *GitTokenStore:
		return "*store.GitTokenStore"
	}
	return "unknown"
}

func TestHelpers(t *testing.T) {
	t.Parallel()

	if got := qualifiedTableName("", "tokens"); got != `"tokens"` {
		t.Errorf("qualifiedTableName = %s", got)
	}
	if got := qualifiedTableName("app", `we"ird`); got != `"app"."we""ird"` {
		t.Errorf("qualifiedTableName = %s", got)
	}
	if got := objectKey("backups/", "bob"); got != "backups/tokens/bob.json" {
		t.Errorf("objectKey = %s", got)
	}
	for in, want := range map[string]string{"": "default", "  ": "default", "a/b": "a_b", "../x": "__x"} {
		if got := normalizeProfile(in); got != want {
			t.Errorf("normalizeProfile(%q) = %q, want %q", in, got, want)
		}
	}
}
