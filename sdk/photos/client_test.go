package photos

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bookscanner/scanclient/internal/config"
	"github.com/bookscanner/scanclient/internal/mockserver"
	"github.com/bookscanner/scanclient/sdk/auth"
	"github.com/bookscanner/scanclient/sdk/gateway"
	"github.com/gin-gonic/gin"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

type fixture struct {
	client  *Client
	backend *mockserver.Server
	gw      *gateway.Gateway
	store   *auth.MemoryTokenStore
	logouts atomic.Int32
}

func newFixture(t *testing.T, opts ...mockserver.Option) *fixture {
	t.Helper()
	backend := mockserver.New(opts...)
	srv := httptest.NewServer(backend.Handler())
	t.Cleanup(srv.Close)

	cfg := &config.Config{BaseURL: srv.URL + "/api"}
	cfg.SanitizeDefaults()
	store := auth.NewMemoryTokenStore()
	gw, err := gateway.New(cfg, store)
	if err != nil {
		t.Fatalf("gateway.New: %v", err)
	}
	f := &fixture{client: NewClient(gw), backend: backend, gw: gw, store: store}
	gw.OnLogout(func(error) { f.logouts.Add(1) })
	return f
}

func (f *fixture) signIn(t *testing.T) {
	t.Helper()
	if err := f.backend.AddUser("reader@example.com", "secret-pw"); err != nil {
		t.Fatalf("AddUser: %v", err)
	}
	if _, err := f.client.Login(context.Background(), "reader@example.com", "secret-pw"); err != nil {
		t.Fatalf("Login: %v", err)
	}
}

func TestPhotoLifecycle(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	if err := f.client.Register(ctx, "new@example.com", "hunter22", "hunter22"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	pair, err := f.client.Login(ctx, "new@example.com", "hunter22")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if stored, _ := auth.LoadPair(ctx, f.store); stored == nil || *stored != *pair {
		t.Fatalf("stored pair = %+v, want %+v", stored, pair)
	}

	uploaded, err := f.client.UploadPhoto(ctx, "page-1.jpg", bytes.NewReader([]byte("jpeg-bytes")))
	if err != nil {
		t.Fatalf("UploadPhoto: %v", err)
	}
	if uploaded.ID == 0 || uploaded.ProcessedURL == "" {
		t.Fatalf("uploaded = %+v", uploaded)
	}

	list, err := f.client.ListPhotos(ctx)
	if err != nil {
		t.Fatalf("ListPhotos: %v", err)
	}
	if len(list) != 1 || list[0].ID != uploaded.ID || list[0].OriginalFilename != "page-1.jpg" {
		t.Fatalf("list = %+v", list)
	}

	var out bytes.Buffer
	if _, err = f.client.DownloadPhoto(ctx, uploaded.ID, &out); err != nil {
		t.Fatalf("DownloadPhoto: %v", err)
	}
	if out.String() != "jpeg-bytes" {
		t.Fatalf("downloaded %q", out.String())
	}

	resp, err := http.Get(uploaded.ProcessedURL)
	if err != nil {
		t.Fatalf("fetch processed url: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("processed url status = %d", resp.StatusCode)
	}

	if err = f.client.DeletePhoto(ctx, uploaded.ID); err != nil {
		t.Fatalf("DeletePhoto: %v", err)
	}
	if err = f.client.DeletePhoto(ctx, uploaded.ID); !isStatus(err, http.StatusNotFound) {
		t.Fatalf("second delete error = %v, want 404", err)
	}

	if err = f.client.DeleteAccount(ctx); err != nil {
		t.Fatalf("DeleteAccount: %v", err)
	}
	if stored, _ := auth.LoadPair(ctx, f.store); stored != nil {
		t.Fatalf("tokens kept after account deletion")
	}
	if _, err = f.client.Login(ctx, "new@example.com", "hunter22"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("login after deletion error = %v", err)
	}
}

func isStatus(err error, status int) bool {
	var httpErr *gateway.HTTPError
	return errors.As(err, &httpErr) && httpErr.StatusCode == status
}

func TestLoginRejectsBadCredentialsWithoutRefresh(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	_ = f.backend.AddUser("reader@example.com", "secret-pw")
	_, err := f.client.Login(context.Background(), "reader@example.com", "wrong")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("error = %v, want ErrInvalidCredentials", err)
	}
	if got := f.backend.RefreshCalls(); got != 0 {
		t.Fatalf("refresh calls = %d, want 0", got)
	}
	if got := f.logouts.Load(); got != 0 {
		t.Fatalf("logout fired %d times", got)
	}
}

func TestRegisterValidation(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	tests := []struct {
		name             string
		email, pw, again string
		want             error
	}{
		{name: "blank email", email: " ", pw: "hunter22", again: "hunter22", want: ErrEmailRequired},
		{name: "short password", email: "a@example.com", pw: "abc", again: "abc", want: ErrPasswordTooShort},
		{name: "mismatch", email: "a@example.com", pw: "hunter22", again: "hunter23", want: ErrPasswordMismatch},
	}
	for _, tt := range tests {
		if err := f.client.Register(ctx, tt.email, tt.pw, tt.again); !errors.Is(err, tt.want) {
			t.Errorf("%s: error = %v, want %v", tt.name, err, tt.want)
		}
	}

	if err := f.client.Register(ctx, "dup@example.com", "hunter22", "hunter22"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	err := f.client.Register(ctx, "dup@example.com", "hunter22", "hunter22")
	var httpErr *gateway.HTTPError
	if !errors.As(err, &httpErr) || httpErr.Detail() != "Email is already taken." {
		t.Fatalf("duplicate error = %v", err)
	}
}

func TestExpiredAccessTokenRefreshedTransparently(t *testing.T) {
	t.Parallel()

	f := newFixture(t, mockserver.WithRefreshRotation(true))
	f.signIn(t)
	before, _ := auth.LoadPair(context.Background(), f.store)

	f.backend.ExpireAccessTokens()
	if _, err := f.client.ListPhotos(context.Background()); err != nil {
		t.Fatalf("ListPhotos: %v", err)
	}
	if got := f.backend.RefreshCalls(); got != 1 {
		t.Fatalf("refresh calls = %d, want 1", got)
	}
	after, _ := auth.LoadPair(context.Background(), f.store)
	if after == nil || after.Access == before.Access || after.Refresh == before.Refresh {
		t.Fatalf("tokens not rotated: before %+v after %+v", before, after)
	}
}

func TestConcurrentCallsShareOneRefresh(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.signIn(t)
	f.backend.ExpireAccessTokens()
	release := f.backend.HoldRefresh()
	defer release()

	const n = 5
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.client.ListPhotos(context.Background())
			errs <- err
		}()
	}
	deadline := time.Now().Add(3 * time.Second)
	for f.backend.RefreshCalls() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("refresh endpoint never reached")
		}
		time.Sleep(2 * time.Millisecond)
	}
	release()
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("ListPhotos: %v", err)
		}
	}
	if got := f.backend.RefreshCalls(); got != 1 {
		t.Fatalf("refresh calls = %d, want 1", got)
	}
}

func TestRevokedRefreshTokenEndsSession(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.signIn(t)
	f.backend.ExpireAccessTokens()
	f.backend.RevokeRefreshTokens()

	_, err := f.client.ListPhotos(context.Background())
	if !errors.Is(err, gateway.ErrSessionExpired) {
		t.Fatalf("error = %v, want ErrSessionExpired", err)
	}
	if stored, _ := auth.LoadPair(context.Background(), f.store); stored != nil {
		t.Fatalf("tokens kept after failed refresh")
	}
	if got := f.logouts.Load(); got != 1 {
		t.Fatalf("logout fired %d times, want 1", got)
	}
}

func TestLogoutClearsTokens(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.signIn(t)
	if err := f.client.Logout(context.Background()); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	access, _ := f.store.AccessToken(context.Background())
	if access != "" {
		t.Fatalf("access token kept after logout")
	}
}
