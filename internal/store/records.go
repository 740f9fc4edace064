// Package store provides the shared token store backends: PostgreSQL, S3-compatible object
// storage, git and Redis. Each keeps one token record per profile so several users or
// machines can share a backend.
package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/bookscanner/scanclient/sdk/auth"
)

// recordBackend moves one serialized token record in and out of a backend.
// load returns nil data and a nil error when no record exists.
type recordBackend interface {
	load(ctx context.Context) ([]byte, error)
	save(ctx context.Context, data []byte) error
	remove(ctx context.Context) error
}

// records implements auth.TokenStore on top of a recordBackend.
type records struct {
	name    string
	backend recordBackend
}

func (r *records) pair(ctx context.Context) (auth.TokenPair, error) {
	data, err := r.backend.load(ctx)
	if err != nil {
		return auth.TokenPair{}, fmt.Errorf("%s: load: %w", r.name, err)
	}
	pair, err := auth.DecodeRecord(data)
	if err != nil {
		return auth.TokenPair{}, fmt.Errorf("%s: %w", r.name, err)
	}
	return pair, nil
}

func (r *records) AccessToken(ctx context.Context) (string, error) {
	pair, err := r.pair(ctx)
	return pair.Access, err
}

func (r *records) RefreshToken(ctx context.Context) (string, error) {
	pair, err := r.pair(ctx)
	return pair.Refresh, err
}

func (r *records) SaveTokens(ctx context.Context, access, refresh string) error {
	data, err := auth.EncodeRecord(access, refresh)
	if err != nil {
		return err
	}
	if err = r.backend.save(ctx, data); err != nil {
		return fmt.Errorf("%s: save: %w", r.name, err)
	}
	return nil
}

func (r *records) RemoveTokens(ctx context.Context) error {
	if err := r.backend.remove(ctx); err != nil {
		return fmt.Errorf("%s: remove: %w", r.name, err)
	}
	return nil
}

func normalizeProfile(profile string) string {
	profile = strings.TrimSpace(profile)
	if profile == "" {
		return "default"
	}
	return strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(profile)
}
