// Package auth defines the token pair persisted by scanclient and the store contract the
// gateway consumes, plus the file and in-memory store implementations.
package auth

import (
	"context"
	"errors"
	"strings"
)

// ErrIncompletePair is returned by stores when asked to save a pair missing either token.
var ErrIncompletePair = errors.New("auth: access and refresh tokens must both be set")

// TokenPair is the access/refresh credential pair issued by the backend.
// Both halves are saved and cleared together.
type TokenPair struct {
	// Access is the short-lived bearer credential sent on every request.
	Access string `json:"access"`
	// Refresh is the longer-lived credential used only to mint new access tokens.
	Refresh string `json:"refresh"`
}

// Valid reports whether both halves of the pair are present.
func (p *TokenPair) Valid() bool {
	if p == nil {
		return false
	}
	return strings.TrimSpace(p.Access) != "" && strings.TrimSpace(p.Refresh) != ""
}

// TokenStore persists the current token pair across process restarts.
// Absent tokens are reported as an empty string with a nil error.
type TokenStore interface {
	// AccessToken returns the stored access token, or "" when none is stored.
	AccessToken(ctx context.Context) (string, error)
	// RefreshToken returns the stored refresh token, or "" when none is stored.
	RefreshToken(ctx context.Context) (string, error)
	// SaveTokens replaces the stored pair.
	SaveTokens(ctx context.Context, access, refresh string) error
	// RemoveTokens clears both tokens. Removing an empty store is not an error.
	RemoveTokens(ctx context.Context) error
}

// LoadPair reads both tokens from store. It returns nil when either half is missing.
func LoadPair(ctx context.Context, store TokenStore) (*TokenPair, error) {
	access, err := store.AccessToken(ctx)
	if err != nil {
		return nil, err
	}
	refresh, err := store.RefreshToken(ctx)
	if err != nil {
		return nil, err
	}
	pair := &TokenPair{Access: access, Refresh: refresh}
	if !pair.Valid() {
		return nil, nil
	}
	return pair, nil
}

func checkPair(access, refresh string) error {
	if strings.TrimSpace(access) == "" || strings.TrimSpace(refresh) == "" {
		return ErrIncompletePair
	}
	return nil
}
