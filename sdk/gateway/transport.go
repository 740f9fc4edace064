package gateway

import (
	"bytes"
	"fmt"
	"io"
	"net/http"

	"github.com/bookscanner/scanclient/internal/logging"
	"github.com/bookscanner/scanclient/sdk/auth"
	log "github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
)

// HeaderRequestID carries the per-request correlation id.
const HeaderRequestID = logging.HeaderRequestID

// Transport attaches the stored access token to every request and hands 401 responses to
// the Coordinator. Requests already resent once, and requests whose context was built with
// WithoutRefresh, get their 401 back unchanged.
type Transport struct {
	// Base performs the actual round trip. http.DefaultTransport when nil.
	Base http.RoundTripper
	// Store supplies the access token, read once per request.
	Store auth.TokenStore
	// Coordinator recovers 401 responses. Without one, 401s are returned as is.
	Coordinator *Coordinator
	// UserAgent is set on requests that do not already carry one.
	UserAgent string
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	out := req.Clone(ctx)
	if err := bufferBody(out); err != nil {
		return nil, err
	}

	requestID := out.Header.Get(HeaderRequestID)
	if requestID == "" {
		requestID = logging.GenerateRequestID()
		out.Header.Set(HeaderRequestID, requestID)
	}
	if t.UserAgent != "" && out.Header.Get("User-Agent") == "" {
		out.Header.Set("User-Agent", t.UserAgent)
	}
	entry := log.WithField("request_id", logging.ShortRequestID(requestID))

	var access string
	if t.Store != nil {
		var errRead error
		access, errRead = t.Store.AccessToken(ctx)
		if errRead != nil {
			entry.WithError(errRead).Warn("gateway: read access token failed, sending unauthenticated")
			access = ""
		}
	}
	if access != "" {
		(&oauth2.Token{AccessToken: access}).SetAuthHeader(out)
	}

	resp, err := t.base().RoundTrip(out)
	if err != nil || resp.StatusCode != http.StatusUnauthorized {
		return resp, err
	}
	if t.Coordinator == nil || isRetried(ctx) || shouldSkipRefresh(ctx) {
		return resp, nil
	}

	entry.WithField("path", out.URL.Path).Debug("gateway: request unauthorized, recovering")
	drainAndClose(resp.Body)
	return t.Coordinator.HandleUnauthorized(out, access)
}

func (t *Transport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

// bufferBody makes the request body replayable so it can be resent after a refresh.
func bufferBody(req *http.Request) error {
	if req.Body == nil || req.Body == http.NoBody || req.GetBody != nil {
		return nil
	}
	data, err := io.ReadAll(req.Body)
	_ = req.Body.Close()
	if err != nil {
		return fmt.Errorf("gateway: buffer request body: %w", err)
	}
	req.Body = io.NopCloser(bytes.NewReader(data))
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}
	req.ContentLength = int64(len(data))
	return nil
}

func drainAndClose(body io.ReadCloser) {
	if body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(body, maxErrorBody))
	_ = body.Close()
}
