package store

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/bookscanner/scanclient/internal/config"
	"github.com/bookscanner/scanclient/internal/util"
	"github.com/bookscanner/scanclient/sdk/auth"
	log "github.com/sirupsen/logrus"
)

// Open builds the token store selected by cfg.TokenStore.Type. The returned close function
// releases backend connections and is never nil.
func Open(ctx context.Context, cfg *config.Config) (auth.TokenStore, func() error, error) {
	noop := func() error { return nil }
	if cfg == nil {
		return nil, noop, fmt.Errorf("store: config is nil")
	}
	sc := cfg.TokenStore
	profile := sc.Profile

	switch sc.Type {
	case "", "file":
		path := sc.Path
		var err error
		if path == "" {
			path, err = util.DefaultTokenPath(profile)
		} else {
			path, err = util.ResolvePath(path)
		}
		if err != nil {
			return nil, noop, fmt.Errorf("store: resolve token file: %w", err)
		}
		log.WithField("file", path).Debug("using file token store")
		return auth.NewFileTokenStore(path), noop, nil

	case "memory":
		return auth.NewMemoryTokenStore(), noop, nil

	case "postgres":
		s, err := NewPostgresStore(ctx, PostgresStoreConfig{
			DSN:     sc.Postgres.DSN,
			Schema:  sc.Postgres.Schema,
			Table:   sc.Postgres.Table,
			Profile: profile,
		})
		if err != nil {
			return nil, noop, err
		}
		return s, s.Close, nil

	case "object":
		s, err := NewObjectTokenStore(ObjectStoreConfig{
			Endpoint:  sc.Object.Endpoint,
			Bucket:    sc.Object.Bucket,
			AccessKey: sc.Object.AccessKey,
			SecretKey: sc.Object.SecretKey,
			Region:    sc.Object.Region,
			Prefix:    sc.Object.Prefix,
			Profile:   profile,
			UseSSL:    sc.Object.UseSSL,
			PathStyle: sc.Object.PathStyle,
		})
		if err != nil {
			return nil, noop, err
		}
		if err = s.Bootstrap(ctx); err != nil {
			return nil, noop, err
		}
		return s, noop, nil

	case "git":
		localPath := sc.Git.LocalPath
		var err error
		if localPath == "" {
			localPath, err = defaultGitPath()
		} else {
			localPath, err = util.ResolvePath(localPath)
		}
		if err != nil {
			return nil, noop, fmt.Errorf("store: resolve git path: %w", err)
		}
		s, err := NewGitTokenStore(GitStoreConfig{
			Remote:    sc.Git.Remote,
			Username:  sc.Git.Username,
			Password:  sc.Git.Password,
			LocalPath: localPath,
			Profile:   profile,
		})
		if err != nil {
			return nil, noop, err
		}
		if err = s.EnsureRepository(); err != nil {
			return nil, noop, err
		}
		return s, noop, nil

	case "redis":
		s, err := NewRedisStore(ctx, RedisStoreConfig{
			Addr:      sc.Redis.Addr,
			Password:  sc.Redis.Password,
			DB:        sc.Redis.DB,
			KeyPrefix: sc.Redis.KeyPrefix,
			Profile:   profile,
		})
		if err != nil {
			return nil, noop, err
		}
		return s, s.Close, nil
	}
	return nil, noop, fmt.Errorf("store: unknown token store type %q", sc.Type)
}

func defaultGitPath() (string, error) {
	if base := util.WritablePath(); base != "" {
		return filepath.Join(base, "gitstore"), nil
	}
	return util.ResolvePath(filepath.Join("~", ".scanclient", "gitstore"))
}
