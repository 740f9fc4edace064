package gateway

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
)

// ErrSessionExpired is returned when the session cannot be salvaged: no refresh token was
// stored, the backend rejected it, or the refresh call failed in transit. The token store has
// been cleared and the logout observer notified by the time a caller sees it.
var ErrSessionExpired = errors.New("gateway: session expired, sign in again")

// errBodyNotReplayable is returned when a request must be resent but its body cannot be rewound.
var errBodyNotReplayable = errors.New("gateway: request body cannot be replayed")

const maxErrorBody = 64 << 10

// HTTPError captures an unexpected status code and the response body.
type HTTPError struct {
	StatusCode int
	Body       []byte
}

func (e *HTTPError) Error() string {
	if detail := e.Detail(); detail != "" {
		return fmt.Sprintf("unexpected status code: %d, detail: %s", e.StatusCode, detail)
	}
	return fmt.Sprintf("unexpected status code: %d, body: %s", e.StatusCode, strings.TrimSpace(string(e.Body)))
}

// Detail returns the backend's "detail" message when the body carries one.
func (e *HTTPError) Detail() string {
	if e == nil || !gjson.ValidBytes(e.Body) {
		return ""
	}
	return gjson.GetBytes(e.Body, "detail").String()
}

// NewHTTPError consumes and closes resp.Body, returning it wrapped in an HTTPError.
func NewHTTPError(resp *http.Response) *HTTPError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	_ = resp.Body.Close()
	return &HTTPError{StatusCode: resp.StatusCode, Body: body}
}

// IsUnauthorized reports whether err is a 401 that survived the refresh-and-retry cycle.
func IsUnauthorized(err error) bool {
	var httpErr *HTTPError
	return errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusUnauthorized
}
