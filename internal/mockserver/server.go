// Package mockserver is an in-process fake of the BookScanner photo API. It issues HS256 JWT
// access tokens and opaque rotating refresh tokens, stores photos in memory, and exposes hooks
// that let tests expire credentials and hold the refresh endpoint open.
package mockserver

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bookscanner/scanclient/internal/logging"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"golang.org/x/crypto/bcrypt"
)

const (
	// DefaultAccessTTL matches the backend's five minute access token lifetime.
	DefaultAccessTTL = 5 * time.Minute

	detailInvalidToken = "Given token not valid for any token type"
	detailBadLogin     = "No active account found with the given credentials"
	maxPhotoBytes      = 20 << 20
)

type user struct {
	id           int64
	email        string
	passwordHash []byte
}

type photo struct {
	id       int64
	owner    int64
	filename string
	data     []byte
}

// accessClaims are the claims carried by issued access tokens. Generation lets tests
// invalidate every outstanding token at once.
type accessClaims struct {
	Generation int64 `json:"gen"`
	jwt.RegisteredClaims
}

// Server is the fake backend. The zero value is not usable; call New.
type Server struct {
	secret    []byte
	accessTTL time.Duration
	rotate    bool
	now       func() time.Time

	mu         sync.Mutex
	users      map[string]*user
	refresh    map[string]int64
	photos     map[int64]*photo
	signed     map[string]int64
	nextUser   int64
	nextPhoto  int64
	generation int64
	hold       chan struct{}

	refreshCalls atomic.Int32
	engine       *gin.Engine
}

// Option configures a Server.
type Option func(*Server)

// WithAccessTTL sets the lifetime of issued access tokens.
func WithAccessTTL(ttl time.Duration) Option {
	return func(s *Server) { s.accessTTL = ttl }
}

// WithRefreshRotation makes the refresh endpoint return a new refresh token each time and
// revoke the one presented.
func WithRefreshRotation(enabled bool) Option {
	return func(s *Server) { s.rotate = enabled }
}

// WithSecret sets the HS256 signing key. A random key is used otherwise.
func WithSecret(secret []byte) Option {
	return func(s *Server) { s.secret = secret }
}

// New builds a fake backend with its routes mounted under /api.
func New(opts ...Option) *Server {
	s := &Server{
		secret:    []byte(uuid.NewString()),
		accessTTL: DefaultAccessTTL,
		now:       time.Now,
		users:     make(map[string]*user),
		refresh:   make(map[string]int64),
		photos:    make(map[int64]*photo),
		signed:    make(map[string]int64),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.engine = s.routes()
	return s
}

// Handler returns the HTTP handler serving the API.
func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) routes() *gin.Engine {
	engine := gin.New()
	engine.Use(logging.GinLogrusLogger(), logging.GinLogrusRecovery())

	api := engine.Group("/api")
	api.POST("/token/", s.handleLogin)
	api.POST("/token/refresh/", s.handleRefresh)
	api.POST("/register/", s.handleRegister)
	api.GET("/temp-view/:signed/", s.handleTempView)

	authed := api.Group("", s.requireAccess)
	authed.POST("/upload-photo/", s.handleUpload)
	authed.GET("/list-photos/", s.handleList)
	authed.GET("/view/:id/", s.handleView)
	authed.DELETE("/delete/:id/", s.handleDelete)
	authed.DELETE("/delete-account/", s.handleDeleteAccount)
	return engine
}

// AddUser registers an account directly, bypassing the register endpoint.
func (s *Server) AddUser(email, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		return fmt.Errorf("mockserver: hash password: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.users[email]; exists {
		return fmt.Errorf("mockserver: user %s already exists", email)
	}
	s.nextUser++
	s.users[email] = &user{id: s.nextUser, email: email, passwordHash: hash}
	return nil
}

// ExpireAccessTokens invalidates every access token issued so far.
func (s *Server) ExpireAccessTokens() {
	s.mu.Lock()
	s.generation++
	s.mu.Unlock()
}

// RevokeRefreshTokens invalidates every outstanding refresh token.
func (s *Server) RevokeRefreshTokens() {
	s.mu.Lock()
	s.refresh = make(map[string]int64)
	s.mu.Unlock()
}

// HoldRefresh makes the refresh endpoint block until the returned release func is called.
func (s *Server) HoldRefresh() (release func()) {
	gate := make(chan struct{})
	s.mu.Lock()
	s.hold = gate
	s.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			if s.hold == gate {
				s.hold = nil
			}
			s.mu.Unlock()
			close(gate)
		})
	}
}

// RefreshCalls reports how many times the refresh endpoint was hit.
func (s *Server) RefreshCalls() int { return int(s.refreshCalls.Load()) }

// PhotoCount reports how many photos are stored across all users.
func (s *Server) PhotoCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.photos)
}

func (s *Server) issueAccess(userID int64, generation int64) (string, error) {
	now := s.now()
	claims := accessClaims{
		Generation: generation,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(userID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.accessTTL)),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("mockserver: sign access token: %w", err)
	}
	return signed, nil
}

// verifyAccess returns the user id an access token was issued to.
func (s *Server) verifyAccess(raw string) (int64, error) {
	claims := &accessClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now))
	if err != nil {
		return 0, err
	}
	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid subject: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if claims.Generation != s.generation {
		return 0, errors.New("token generation revoked")
	}
	if !s.userExistsLocked(id) {
		return 0, errors.New("user no longer exists")
	}
	return id, nil
}

func (s *Server) userExistsLocked(id int64) bool {
	for _, u := range s.users {
		if u.id == id {
			return true
		}
	}
	return false
}

const userIDKey = "mockserver.user_id"

func (s *Server) requireAccess(c *gin.Context) {
	header := c.GetHeader("Authorization")
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || strings.TrimSpace(raw) == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "Authentication credentials were not provided."})
		return
	}
	id, err := s.verifyAccess(strings.TrimSpace(raw))
	if err != nil {
		_ = c.Error(err)
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": detailInvalidToken, "code": "token_not_valid"})
		return
	}
	c.Set(userIDKey, id)
	c.Next()
}

func readJSON(c *gin.Context) (gjson.Result, bool) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil || !gjson.ValidBytes(body) {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "JSON parse error"})
		return gjson.Result{}, false
	}
	return gjson.ParseBytes(body), true
}

func (s *Server) handleLogin(c *gin.Context) {
	body, ok := readJSON(c)
	if !ok {
		return
	}
	email := strings.TrimSpace(body.Get("email").String())
	password := body.Get("password").String()

	s.mu.Lock()
	u := s.users[email]
	generation := s.generation
	s.mu.Unlock()
	if u == nil || bcrypt.CompareHashAndPassword(u.passwordHash, []byte(password)) != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"detail": detailBadLogin})
		return
	}

	access, err := s.issueAccess(u.id, generation)
	if err != nil {
		_ = c.Error(err)
		c.Status(http.StatusInternalServerError)
		return
	}
	refresh := uuid.NewString()
	s.mu.Lock()
	s.refresh[refresh] = u.id
	s.mu.Unlock()
	c.JSON(http.StatusOK, gin.H{"access": access, "refresh": refresh})
}

func (s *Server) handleRefresh(c *gin.Context) {
	s.refreshCalls.Add(1)

	s.mu.Lock()
	gate := s.hold
	s.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-c.Request.Context().Done():
			return
		}
	}

	body, ok := readJSON(c)
	if !ok {
		return
	}
	presented := body.Get("refresh").String()

	s.mu.Lock()
	userID, valid := s.refresh[presented]
	generation := s.generation
	if valid && !s.userExistsLocked(userID) {
		delete(s.refresh, presented)
		valid = false
	}
	var rotated string
	if valid && s.rotate {
		delete(s.refresh, presented)
		rotated = uuid.NewString()
		s.refresh[rotated] = userID
	}
	s.mu.Unlock()

	if presented == "" || !valid {
		c.JSON(http.StatusUnauthorized, gin.H{"detail": "Token is invalid or expired", "code": "token_not_valid"})
		return
	}
	access, err := s.issueAccess(userID, generation)
	if err != nil {
		_ = c.Error(err)
		c.Status(http.StatusInternalServerError)
		return
	}
	resp := gin.H{"access": access}
	if rotated != "" {
		resp["refresh"] = rotated
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleRegister(c *gin.Context) {
	body, ok := readJSON(c)
	if !ok {
		return
	}
	email := strings.TrimSpace(body.Get("email").String())
	password := body.Get("password").String()
	confirm := body.Get("password2").String()

	errs := gin.H{}
	if email == "" || !strings.Contains(email, "@") {
		errs["email"] = []string{"Enter a valid email address."}
	}
	if len(password) < 6 {
		errs["password"] = []string{"Ensure this field has at least 6 characters."}
	}
	if password != confirm {
		errs["password2"] = []string{"Passwords do not match."}
	}
	if len(errs) > 0 {
		c.JSON(http.StatusBadRequest, errs)
		return
	}
	if err := s.AddUser(email, password); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "Email is already taken."})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"detail": "User created successfully!"})
}

func (s *Server) handleUpload(c *gin.Context) {
	file, header, err := c.Request.FormFile("photo")
	if err != nil {
		c.Status(http.StatusBadRequest)
		return
	}
	defer func() { _ = file.Close() }()
	data, err := io.ReadAll(io.LimitReader(file, maxPhotoBytes))
	if err != nil {
		c.Status(http.StatusBadRequest)
		return
	}

	owner := c.GetInt64(userIDKey)
	s.mu.Lock()
	s.nextPhoto++
	p := &photo{id: s.nextPhoto, owner: owner, filename: header.Filename, data: data}
	s.photos[p.id] = p
	signed := s.signLocked(p.id)
	s.mu.Unlock()

	c.JSON(http.StatusCreated, gin.H{"processed_url": processedURL(c, signed), "photo_id": p.id})
}

func (s *Server) handleList(c *gin.Context) {
	owner := c.GetInt64(userIDKey)
	s.mu.Lock()
	list := make([]gin.H, 0)
	for id := int64(1); id <= s.nextPhoto; id++ {
		p, ok := s.photos[id]
		if !ok || p.owner != owner {
			continue
		}
		list = append(list, gin.H{
			"photo_id":          p.id,
			"processed_url":     processedURL(c, s.signLocked(p.id)),
			"original_filename": p.filename,
		})
	}
	s.mu.Unlock()
	c.JSON(http.StatusOK, list)
}

func (s *Server) ownedPhoto(c *gin.Context) *photo {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"detail": "Not found."})
		return nil
	}
	owner := c.GetInt64(userIDKey)
	s.mu.Lock()
	p, ok := s.photos[id]
	s.mu.Unlock()
	if !ok || p.owner != owner {
		c.JSON(http.StatusNotFound, gin.H{"detail": "Not found."})
		return nil
	}
	return p
}

func (s *Server) handleView(c *gin.Context) {
	if p := s.ownedPhoto(c); p != nil {
		servePhoto(c, p)
	}
}

func (s *Server) handleDelete(c *gin.Context) {
	p := s.ownedPhoto(c)
	if p == nil {
		return
	}
	s.mu.Lock()
	delete(s.photos, p.id)
	s.mu.Unlock()
	c.Status(http.StatusNoContent)
}

func (s *Server) handleDeleteAccount(c *gin.Context) {
	owner := c.GetInt64(userIDKey)
	s.mu.Lock()
	for email, u := range s.users {
		if u.id == owner {
			delete(s.users, email)
		}
	}
	for id, p := range s.photos {
		if p.owner == owner {
			delete(s.photos, id)
		}
	}
	for token, id := range s.refresh {
		if id == owner {
			delete(s.refresh, token)
		}
	}
	s.mu.Unlock()
	c.Status(http.StatusNoContent)
}

func (s *Server) handleTempView(c *gin.Context) {
	s.mu.Lock()
	id, ok := s.signed[c.Param("signed")]
	p := s.photos[id]
	s.mu.Unlock()
	if !ok {
		c.String(http.StatusForbidden, "Invalid or expired link.")
		return
	}
	if p == nil {
		c.String(http.StatusNotFound, "Photo not found.")
		return
	}
	servePhoto(c, p)
}

func (s *Server) signLocked(id int64) string {
	value := uuid.NewString()
	s.signed[value] = id
	return value
}

func servePhoto(c *gin.Context, p *photo) {
	c.Header("Content-Disposition", fmt.Sprintf("inline; filename=%q", p.filename))
	c.Data(http.StatusOK, "image/jpeg", p.data)
}

func processedURL(c *gin.Context, signed string) string {
	scheme := "http"
	if c.Request.TLS != nil {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s/api/temp-view/%s/", scheme, c.Request.Host, signed)
}
