package gateway

import "context"

type retriedKey struct{}

type skipRefreshKey struct{}

// withRetried marks a request context as already resent once after a refresh.
func withRetried(ctx context.Context) context.Context {
	return context.WithValue(ctx, retriedKey{}, true)
}

func isRetried(ctx context.Context) bool {
	if ctx == nil {
		return false
	}
	v, ok := ctx.Value(retriedKey{}).(bool)
	return ok && v
}

// WithoutRefresh returns a derived context whose requests never enter the refresh cycle.
// A 401 on such a request is returned to the caller as is. Credential exchanges (login,
// registration) use it because a 401 there means bad credentials rather than an expired session.
func WithoutRefresh(ctx context.Context) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, skipRefreshKey{}, true)
}

func shouldSkipRefresh(ctx context.Context) bool {
	if ctx == nil {
		return false
	}
	v, ok := ctx.Value(skipRefreshKey{}).(bool)
	return ok && v
}
