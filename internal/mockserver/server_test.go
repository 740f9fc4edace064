package mockserver

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tidwall/gjson"
)

func do(t *testing.T, s *Server, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func login(t *testing.T, s *Server) (string, string) {
	t.Helper()
	rec := do(t, s, http.MethodPost, "/api/token/", "", `{"email":"a@example.com","password":"secret-pw"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("login status = %d body = %s", rec.Code, rec.Body.String())
	}
	return gjson.Get(rec.Body.String(), "access").String(), gjson.Get(rec.Body.String(), "refresh").String()
}

func TestAccessTokenLifecycle(t *testing.T) {
	gin.SetMode(gin.TestMode)

	s := New()
	if err := s.AddUser("a@example.com", "secret-pw"); err != nil {
		t.Fatalf("AddUser: %v", err)
	}
	access, refresh := login(t, s)

	if rec := do(t, s, http.MethodGet, "/api/list-photos/", access, ""); rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	if rec := do(t, s, http.MethodGet, "/api/list-photos/", "", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous list status = %d", rec.Code)
	}

	s.ExpireAccessTokens()
	if rec := do(t, s, http.MethodGet, "/api/list-photos/", access, ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expired token status = %d", rec.Code)
	}

	rec := do(t, s, http.MethodPost, "/api/token/refresh/", "", `{"refresh":"`+refresh+`"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("refresh status = %d", rec.Code)
	}
	if gjson.Get(rec.Body.String(), "refresh").Exists() {
		t.Fatalf("refresh token rotated without rotation enabled")
	}
	fresh := gjson.Get(rec.Body.String(), "access").String()
	if rec = do(t, s, http.MethodGet, "/api/list-photos/", fresh, ""); rec.Code != http.StatusOK {
		t.Fatalf("fresh token status = %d", rec.Code)
	}
	if s.RefreshCalls() != 1 {
		t.Fatalf("RefreshCalls = %d", s.RefreshCalls())
	}

	s.RevokeRefreshTokens()
	if rec = do(t, s, http.MethodPost, "/api/token/refresh/", "", `{"refresh":"`+refresh+`"}`); rec.Code != http.StatusUnauthorized {
		t.Fatalf("revoked refresh status = %d", rec.Code)
	}
}

func TestAccessTokenExpiresByClock(t *testing.T) {
	gin.SetMode(gin.TestMode)

	now := time.Now()
	s := New(WithAccessTTL(time.Minute))
	s.now = func() time.Time { return now }
	_ = s.AddUser("a@example.com", "secret-pw")
	access, _ := login(t, s)

	now = now.Add(2 * time.Minute)
	if rec := do(t, s, http.MethodGet, "/api/list-photos/", access, ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401 after ttl", rec.Code)
	}
}

func TestRefreshRotation(t *testing.T) {
	gin.SetMode(gin.TestMode)

	s := New(WithRefreshRotation(true))
	_ = s.AddUser("a@example.com", "secret-pw")
	_, refresh := login(t, s)

	rec := do(t, s, http.MethodPost, "/api/token/refresh/", "", `{"refresh":"`+refresh+`"}`)
	rotated := gjson.Get(rec.Body.String(), "refresh").String()
	if rec.Code != http.StatusOK || rotated == "" || rotated == refresh {
		t.Fatalf("rotation response = %d %s", rec.Code, rec.Body.String())
	}
	if rec = do(t, s, http.MethodPost, "/api/token/refresh/", "", `{"refresh":"`+refresh+`"}`); rec.Code != http.StatusUnauthorized {
		t.Fatalf("reused refresh status = %d, want 401", rec.Code)
	}
}

func TestHoldRefreshBlocksUntilReleased(t *testing.T) {
	gin.SetMode(gin.TestMode)

	s := New()
	_ = s.AddUser("a@example.com", "secret-pw")
	_, refresh := login(t, s)
	release := s.HoldRefresh()

	done := make(chan int, 1)
	go func() {
		done <- do(t, s, http.MethodPost, "/api/token/refresh/", "", `{"refresh":"`+refresh+`"}`).Code
	}()
	select {
	case code := <-done:
		t.Fatalf("refresh returned %d while held", code)
	case <-time.After(50 * time.Millisecond):
	}
	release()
	release()
	if code := <-done; code != http.StatusOK {
		t.Fatalf("released refresh status = %d", code)
	}
}

func TestRegisterValidation(t *testing.T) {
	gin.SetMode(gin.TestMode)

	s := New()
	rec := do(t, s, http.MethodPost, "/api/register/", "", `{"email":"b@example.com","password":"abc","password2":"abd"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	if !gjson.Get(rec.Body.String(), "password").Exists() || !gjson.Get(rec.Body.String(), "password2").Exists() {
		t.Fatalf("body = %s", rec.Body.String())
	}
	rec = do(t, s, http.MethodPost, "/api/register/", "", `{"email":"b@example.com","password":"abcdef","password2":"abcdef"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestPhotosAreScopedToOwner(t *testing.T) {
	gin.SetMode(gin.TestMode)

	s := New()
	_ = s.AddUser("a@example.com", "secret-pw")
	_ = s.AddUser("c@example.com", "secret-pw")
	owner, _ := login(t, s)
	rec := do(t, s, http.MethodPost, "/api/token/", "", `{"email":"c@example.com","password":"secret-pw"}`)
	other := gjson.Get(rec.Body.String(), "access").String()

	var body bytes.Buffer
	body.WriteString("--b\r\nContent-Disposition: form-data; name=\"photo\"; filename=\"p.jpg\"\r\nContent-Type: image/jpeg\r\n\r\nimg\r\n--b--\r\n")
	req := httptest.NewRequest(http.MethodPost, "/api/upload-photo/", &body)
	req.Header.Set("Content-Type", "multipart/form-data; boundary=b")
	req.Header.Set("Authorization", "Bearer "+owner)
	up := httptest.NewRecorder()
	s.Handler().ServeHTTP(up, req)
	if up.Code != http.StatusCreated {
		t.Fatalf("upload status = %d body = %s", up.Code, up.Body.String())
	}
	id := gjson.Get(up.Body.String(), "photo_id").String()

	if rec = do(t, s, http.MethodGet, "/api/view/"+id+"/", other, ""); rec.Code != http.StatusNotFound {
		t.Fatalf("foreign view status = %d", rec.Code)
	}
	if rec = do(t, s, http.MethodGet, "/api/view/"+id+"/", owner, ""); rec.Code != http.StatusOK || rec.Body.String() != "img" {
		t.Fatalf("owner view = %d %q", rec.Code, rec.Body.String())
	}
	if s.PhotoCount() != 1 {
		t.Fatalf("PhotoCount = %d", s.PhotoCount())
	}
}
