package gateway

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/bookscanner/scanclient/sdk/auth"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"golang.org/x/oauth2"
)

// Refresher exchanges a refresh token for a new access token. The returned token's
// RefreshToken is empty when the backend did not rotate it.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error)
}

// RefreshFunc adapts a function to the Refresher interface.
type RefreshFunc func(ctx context.Context, refreshToken string) (*oauth2.Token, error)

func (f RefreshFunc) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	return f(ctx, refreshToken)
}

// HTTPRefresher calls the backend's refresh endpoint. It must not share a client with the
// gateway transport, or a 401 from the refresh endpoint would recurse into the coordinator.
type HTTPRefresher struct {
	URL       string
	Client    *http.Client
	UserAgent string
}

func (r *HTTPRefresher) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	payload, err := sjson.SetBytes([]byte(`{}`), "refresh", refreshToken)
	if err != nil {
		return nil, fmt.Errorf("gateway: build refresh payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.URL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("gateway: build refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if r.UserAgent != "" {
		req.Header.Set("User-Agent", r.UserAgent)
	}

	client := r.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gateway: refresh request: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, NewHTTPError(resp)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return nil, fmt.Errorf("gateway: read refresh response: %w", err)
	}
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("gateway: refresh response is not valid json")
	}
	parsed := gjson.ParseBytes(body)
	access := parsed.Get("access").String()
	if access == "" {
		return nil, fmt.Errorf("gateway: refresh response missing access token")
	}
	token := &oauth2.Token{
		AccessToken:  access,
		RefreshToken: parsed.Get("refresh").String(),
		TokenType:    "Bearer",
	}
	if expiry, ok := auth.AccessExpiry(access); ok {
		token.Expiry = expiry
	}
	return token, nil
}
