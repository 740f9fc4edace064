package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/bookscanner/scanclient/sdk/auth"
	log "github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
)

var errNoRefreshToken = errors.New("no refresh token stored")

// RefreshState tracks whether a token refresh is in flight.
type RefreshState int

const (
	// StateIdle means no refresh is running; a 401 starts one.
	StateIdle RefreshState = iota
	// StateRefreshing means a refresh is in flight; further 401s queue behind it.
	StateRefreshing
)

func (s RefreshState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRefreshing:
		return "refreshing"
	default:
		return fmt.Sprintf("RefreshState(%d)", int(s))
	}
}

// LogoutFunc observes the end of a session. It runs once per failed refresh cycle, after
// the token store has been cleared.
type LogoutFunc func(reason error)

type refreshResult struct {
	access string
	err    error
}

// pendingRequest is one caller parked behind an in-flight refresh.
type pendingRequest struct {
	seq     uint64
	settled chan refreshResult
}

// Coordinator serializes token refreshes. At most one refresh runs at a time; callers that
// hit a 401 while it runs are parked in arrival order and released together once it settles.
type Coordinator struct {
	store     auth.TokenStore
	refresher Refresher
	next      http.RoundTripper
	timeout   time.Duration

	mu      sync.Mutex
	state   RefreshState
	pending []*pendingRequest
	seq     uint64
	gen     uint64 // bumped each time a cycle settles
	logout  LogoutFunc

	// settleHook observes queue resolution; tests only.
	settleHook func(seq uint64, err error)
}

// NewCoordinator builds a coordinator that refreshes through refresher, persists into store
// and resends requests on next. A non-positive refreshTimeout leaves the refresh unbounded.
func NewCoordinator(store auth.TokenStore, refresher Refresher, next http.RoundTripper, refreshTimeout time.Duration) *Coordinator {
	if next == nil {
		next = http.DefaultTransport
	}
	return &Coordinator{
		store:     store,
		refresher: refresher,
		next:      next,
		timeout:   refreshTimeout,
	}
}

// OnLogout registers the global logout observer, replacing any previous one.
func (c *Coordinator) OnLogout(fn LogoutFunc) {
	c.mu.Lock()
	c.logout = fn
	c.mu.Unlock()
}

// State reports the current refresh state.
func (c *Coordinator) State() RefreshState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Pending reports how many callers are parked behind the in-flight refresh.
func (c *Coordinator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// HandleUnauthorized recovers a request that was rejected with 401. sentToken is the access
// token the request carried ("" if it went out unauthenticated). The request is resent at
// most once with a fresh token; a request already resent must not be passed in again.
// On a successful refresh the parked callers are released before the caller that ran the
// refresh resends, and every caller then resends on its own goroutine.
func (c *Coordinator) HandleUnauthorized(req *http.Request, sentToken string) (*http.Response, error) {
	ctx := req.Context()
	if isRetried(ctx) {
		return nil, fmt.Errorf("gateway: request already retried after refresh")
	}
	access, err := c.acquire(ctx, sentToken, true)
	if err != nil {
		return nil, err
	}
	return c.resend(req, access)
}

// Refresh forces a refresh cycle, joining one already in flight, and returns the new access
// token. A failed refresh ends the session exactly as a failed 401 recovery does.
func (c *Coordinator) Refresh(ctx context.Context) (string, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	return c.acquire(ctx, "", false)
}

// acquire returns the access token a rejected request should be resent with. It either
// starts a refresh, waits for the one in flight, or, when allowStale is set, settles the
// request from the store: a token newer than sentToken is returned without refreshing, and an
// empty store after an authenticated request means an earlier cycle already ended the session.
func (c *Coordinator) acquire(ctx context.Context, sentToken string, allowStale bool) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	for {
		c.mu.Lock()
		if c.state == StateRefreshing {
			return c.park(ctx)
		}
		gen := c.gen
		c.mu.Unlock()

		var current string
		if allowStale {
			current = c.currentAccess(ctx)
		}

		c.mu.Lock()
		if c.state == StateRefreshing || c.gen != gen {
			// A cycle started or settled while the store was read; decide again.
			c.mu.Unlock()
			continue
		}
		if allowStale {
			switch {
			case current != "" && current != sentToken:
				c.mu.Unlock()
				log.Debug("gateway: token rotated since request was sent, resending without refresh")
				return current, nil
			case current == "" && sentToken != "":
				c.mu.Unlock()
				log.Debug("gateway: session already ended since request was sent")
				return "", ErrSessionExpired
			}
		}
		c.state = StateRefreshing
		c.mu.Unlock()
		break
	}

	log.Debug("gateway: refreshing access token")
	access, err := c.refresh(ctx)
	if err != nil {
		c.teardown(ctx, err)
		return "", ErrSessionExpired
	}
	log.Info("gateway: access token refreshed")
	c.settle(refreshResult{access: access})
	return access, nil
}

// park queues the caller behind the in-flight refresh. c.mu must be held; park releases it.
func (c *Coordinator) park(ctx context.Context) (string, error) {
	c.seq++
	p := &pendingRequest{seq: c.seq, settled: make(chan refreshResult, 1)}
	c.pending = append(c.pending, p)
	queued := len(c.pending)
	c.mu.Unlock()

	log.WithField("queued", queued).Debug("gateway: refresh in flight, request parked")
	select {
	case res := <-p.settled:
		return res.access, res.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// currentAccess reads the stored access token outside the lock, bounded like a refresh.
func (c *Coordinator) currentAccess(ctx context.Context) string {
	rctx, cancel := c.detached(ctx)
	defer cancel()
	current, err := c.store.AccessToken(rctx)
	if err != nil {
		log.WithError(err).Warn("gateway: read access token failed, treating as absent")
		return ""
	}
	return current
}

// refresh performs the single refresh call and persists the result. It runs detached from
// the caller's cancellation so one abandoned request cannot end everyone's session.
func (c *Coordinator) refresh(ctx context.Context) (string, error) {
	rctx, cancel := c.detached(ctx)
	defer cancel()

	refreshToken, err := c.store.RefreshToken(rctx)
	if err != nil {
		log.WithError(err).Warn("gateway: read refresh token failed, treating as absent")
		refreshToken = ""
	}
	if refreshToken == "" {
		return "", errNoRefreshToken
	}
	if c.refresher == nil {
		return "", errors.New("no refresher configured")
	}

	token, err := c.refresher.Refresh(rctx, refreshToken)
	if err != nil {
		return "", err
	}
	if token == nil || token.AccessToken == "" {
		return "", errors.New("refresh response carried no access token")
	}
	rotated := token.RefreshToken
	if rotated == "" {
		rotated = refreshToken
	}
	if err = c.store.SaveTokens(rctx, token.AccessToken, rotated); err != nil {
		return "", fmt.Errorf("persist refreshed tokens: %w", err)
	}
	return token.AccessToken, nil
}

// teardown ends the session after a failed refresh: clear the store, reject every parked
// caller, then notify the logout observer.
func (c *Coordinator) teardown(ctx context.Context, cause error) {
	log.WithError(cause).Warn("gateway: token refresh failed, ending session")

	rctx, cancel := c.detached(ctx)
	if errRemove := c.store.RemoveTokens(rctx); errRemove != nil {
		log.WithError(errRemove).Error("gateway: failed to clear token store")
	}
	cancel()

	c.settle(refreshResult{err: ErrSessionExpired})

	c.mu.Lock()
	fn := c.logout
	c.mu.Unlock()
	if fn != nil {
		fn(ErrSessionExpired)
	}
}

// settle returns the coordinator to idle and releases the parked callers in arrival order.
func (c *Coordinator) settle(res refreshResult) {
	c.mu.Lock()
	queue := c.pending
	c.pending = nil
	c.state = StateIdle
	c.gen++
	hook := c.settleHook
	c.mu.Unlock()

	if len(queue) > 0 {
		log.WithField("queued", len(queue)).Debug("gateway: releasing parked requests")
	}
	for _, p := range queue {
		p.settled <- res
		if hook != nil {
			hook(p.seq, res.err)
		}
	}
}

func (c *Coordinator) detached(ctx context.Context) (context.Context, context.CancelFunc) {
	rctx := context.WithoutCancel(ctx)
	if c.timeout > 0 {
		return context.WithTimeout(rctx, c.timeout)
	}
	return context.WithCancel(rctx)
}

// resend replays req once with access, marked so a second 401 is not recovered again.
func (c *Coordinator) resend(req *http.Request, access string) (*http.Response, error) {
	retry := req.Clone(withRetried(req.Context()))
	if req.Body != nil && req.Body != http.NoBody {
		if req.GetBody == nil {
			return nil, errBodyNotReplayable
		}
		body, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("gateway: rewind request body: %w", err)
		}
		retry.Body = body
	}
	(&oauth2.Token{AccessToken: access}).SetAuthHeader(retry)
	return c.next.RoundTrip(retry)
}
