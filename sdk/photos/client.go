// Package photos is the typed client for the BookScanner photo API. Every call goes through
// the gateway's authenticated client, so expired access tokens are refreshed transparently.
package photos

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/bookscanner/scanclient/sdk/auth"
	"github.com/bookscanner/scanclient/sdk/gateway"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// MinPasswordLength is the shortest password the backend accepts.
const MinPasswordLength = 6

var (
	// ErrInvalidCredentials is returned by Login when the backend rejects email or password.
	ErrInvalidCredentials = errors.New("photos: incorrect email or password")
	// ErrPasswordMismatch is returned by Register when the confirmation differs.
	ErrPasswordMismatch = errors.New("photos: passwords do not match")
	// ErrPasswordTooShort is returned by Register for passwords under MinPasswordLength.
	ErrPasswordTooShort = fmt.Errorf("photos: password must be at least %d characters", MinPasswordLength)
	// ErrEmailRequired is returned by Login and Register when the email is blank.
	ErrEmailRequired = errors.New("photos: email is required")
)

// Photo is one entry of the user's catalog.
type Photo struct {
	ID               int64  `json:"photo_id"`
	ProcessedURL     string `json:"processed_url"`
	OriginalFilename string `json:"original_filename"`
}

// Client talks to the photo API.
type Client struct {
	gw *gateway.Gateway
}

// NewClient returns a client bound to gw.
func NewClient(gw *gateway.Gateway) *Client {
	return &Client{gw: gw}
}

// Login exchanges credentials for a token pair and stores it.
func (c *Client) Login(ctx context.Context, email, password string) (*auth.TokenPair, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, ErrEmailRequired
	}
	payload, err := jsonBody(map[string]string{"email": email, "password": password})
	if err != nil {
		return nil, err
	}
	// A 401 here means bad credentials, not an expired session.
	resp, err := c.send(gateway.WithoutRefresh(ctx), http.MethodPost, c.gw.Config().LoginPath, "application/json", payload)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		_ = resp.Body.Close()
		return nil, ErrInvalidCredentials
	}
	body, err := readOK(resp, http.StatusOK)
	if err != nil {
		return nil, err
	}

	pair := &auth.TokenPair{
		Access:  gjson.GetBytes(body, "access").String(),
		Refresh: gjson.GetBytes(body, "refresh").String(),
	}
	if !pair.Valid() {
		return nil, fmt.Errorf("photos: login response missing tokens")
	}
	if err = c.gw.Store().SaveTokens(ctx, pair.Access, pair.Refresh); err != nil {
		return nil, fmt.Errorf("photos: save tokens: %w", err)
	}
	log.Info("signed in")
	return pair, nil
}

// Register creates an account. It does not sign in.
func (c *Client) Register(ctx context.Context, email, password, confirm string) error {
	email = strings.TrimSpace(email)
	switch {
	case email == "":
		return ErrEmailRequired
	case len(password) < MinPasswordLength:
		return ErrPasswordTooShort
	case password != confirm:
		return ErrPasswordMismatch
	}
	payload, err := jsonBody(map[string]string{"email": email, "password": password, "password2": confirm})
	if err != nil {
		return err
	}
	resp, err := c.send(gateway.WithoutRefresh(ctx), http.MethodPost, "register/", "application/json", payload)
	if err != nil {
		return err
	}
	_, err = readOK(resp, http.StatusCreated)
	return err
}

// Logout forgets the stored tokens. The backend keeps no session state to revoke.
func (c *Client) Logout(ctx context.Context) error {
	if err := c.gw.Store().RemoveTokens(ctx); err != nil {
		return fmt.Errorf("photos: remove tokens: %w", err)
	}
	return nil
}

// UploadPhoto sends one image as the multipart field "photo" and returns the stored entry.
func (c *Client) UploadPhoto(ctx context.Context, filename string, r io.Reader) (*Photo, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("photo", filename)
	if err != nil {
		return nil, fmt.Errorf("photos: build upload: %w", err)
	}
	if _, err = io.Copy(part, r); err != nil {
		return nil, fmt.Errorf("photos: read %s: %w", filename, err)
	}
	if err = mw.Close(); err != nil {
		return nil, fmt.Errorf("photos: build upload: %w", err)
	}

	resp, err := c.send(ctx, http.MethodPost, "upload-photo/", mw.FormDataContentType(), buf.Bytes())
	if err != nil {
		return nil, err
	}
	body, err := readOK(resp, http.StatusCreated, http.StatusOK)
	if err != nil {
		return nil, err
	}
	parsed := gjson.ParseBytes(body)
	return &Photo{
		ID:               parsed.Get("photo_id").Int(),
		ProcessedURL:     parsed.Get("processed_url").String(),
		OriginalFilename: filename,
	}, nil
}

// ListPhotos returns the signed-in user's photos.
func (c *Client) ListPhotos(ctx context.Context) ([]Photo, error) {
	resp, err := c.send(ctx, http.MethodGet, "list-photos/", "", nil)
	if err != nil {
		return nil, err
	}
	body, err := readOK(resp, http.StatusOK)
	if err != nil {
		return nil, err
	}
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("photos: list response is not valid json")
	}
	var out []Photo
	gjson.ParseBytes(body).ForEach(func(_, item gjson.Result) bool {
		out = append(out, Photo{
			ID:               item.Get("photo_id").Int(),
			ProcessedURL:     item.Get("processed_url").String(),
			OriginalFilename: item.Get("original_filename").String(),
		})
		return true
	})
	return out, nil
}

// FindPhoto returns the catalog entry with the given id.
func (c *Client) FindPhoto(ctx context.Context, id int64) (*Photo, error) {
	list, err := c.ListPhotos(ctx)
	if err != nil {
		return nil, err
	}
	for i := range list {
		if list[i].ID == id {
			return &list[i], nil
		}
	}
	return nil, fmt.Errorf("photos: photo %d not found", id)
}

// DownloadPhoto streams the decrypted image into w and returns the byte count.
func (c *Client) DownloadPhoto(ctx context.Context, id int64, w io.Writer) (int64, error) {
	resp, err := c.send(ctx, http.MethodGet, "view/"+strconv.FormatInt(id, 10)+"/", "", nil)
	if err != nil {
		return 0, err
	}
	if resp.StatusCode != http.StatusOK {
		return 0, gateway.NewHTTPError(resp)
	}
	defer func() { _ = resp.Body.Close() }()
	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, fmt.Errorf("photos: download %d: %w", id, err)
	}
	return n, nil
}

// DeletePhoto removes one photo.
func (c *Client) DeletePhoto(ctx context.Context, id int64) error {
	resp, err := c.send(ctx, http.MethodDelete, "delete/"+strconv.FormatInt(id, 10)+"/", "", nil)
	if err != nil {
		return err
	}
	_, err = readOK(resp, http.StatusNoContent, http.StatusOK)
	return err
}

// DeleteAccount deletes the account and all its photos, then forgets the stored tokens.
func (c *Client) DeleteAccount(ctx context.Context) error {
	resp, err := c.send(ctx, http.MethodDelete, "delete-account/", "", nil)
	if err != nil {
		return err
	}
	if _, err = readOK(resp, http.StatusNoContent); err != nil {
		return err
	}
	return c.Logout(ctx)
}

func (c *Client) send(ctx context.Context, method, path, contentType string, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.gw.URL(path), reader)
	if err != nil {
		return nil, fmt.Errorf("photos: build request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.gw.Client().Do(req)
	if err != nil {
		// Unwrap *url.Error so callers can match gateway.ErrSessionExpired directly.
		if errors.Is(err, gateway.ErrSessionExpired) {
			return nil, gateway.ErrSessionExpired
		}
		return nil, fmt.Errorf("photos: %s %s: %w", method, path, err)
	}
	return resp, nil
}

// readOK consumes resp. Statuses outside want become *gateway.HTTPError.
func readOK(resp *http.Response, want ...int) ([]byte, error) {
	for _, status := range want {
		if resp.StatusCode == status {
			defer func() { _ = resp.Body.Close() }()
			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return nil, fmt.Errorf("photos: read response: %w", err)
			}
			return body, nil
		}
	}
	return nil, gateway.NewHTTPError(resp)
}

func jsonBody(fields map[string]string) ([]byte, error) {
	payload := []byte(`{}`)
	var err error
	for key, value := range fields {
		if payload, err = sjson.SetBytes(payload, key, value); err != nil {
			return nil, fmt.Errorf("photos: build payload: %w", err)
		}
	}
	return payload, nil
}
