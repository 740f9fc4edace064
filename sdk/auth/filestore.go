package auth

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

// FileTokenStore persists the token pair as a single JSON file.
// Reads are served from an in-memory copy that is dropped whenever the file changes on disk,
// so tokens written by another scanclient process are picked up on the next request.
type FileTokenStore struct {
	mu     sync.Mutex
	path   string
	pair   TokenPair
	loaded bool
}

// NewFileTokenStore creates a store backed by the file at path.
func NewFileTokenStore(path string) *FileTokenStore {
	return &FileTokenStore{path: filepath.Clean(strings.TrimSpace(path))}
}

// Path returns the backing file path.
func (s *FileTokenStore) Path() string {
	return s.path
}

func (s *FileTokenStore) AccessToken(context.Context) (string, error) {
	pair, err := s.snapshot()
	if err != nil {
		return "", err
	}
	return pair.Access, nil
}

func (s *FileTokenStore) RefreshToken(context.Context) (string, error) {
	pair, err := s.snapshot()
	if err != nil {
		return "", err
	}
	return pair.Refresh, nil
}

// SaveTokens writes the pair through a temp file and rename so readers never see half a record.
func (s *FileTokenStore) SaveTokens(_ context.Context, access, refresh string) error {
	raw, err := EncodeRecord(access, refresh)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err = os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("auth filestore: create dir failed: %w", err)
	}
	tmp := s.path + ".tmp"
	if err = os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("auth filestore: write temp failed: %w", err)
	}
	if err = os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("auth filestore: rename failed: %w", err)
	}
	s.pair = TokenPair{Access: access, Refresh: refresh}
	s.loaded = true
	return nil
}

func (s *FileTokenStore) RemoveTokens(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("auth filestore: delete failed: %w", err)
	}
	s.pair = TokenPair{}
	s.loaded = true
	return nil
}

// Watch drops the cached pair whenever the token file is created, written, renamed or removed
// by anyone. It returns once the watcher is running; watching stops when ctx is done.
func (s *FileTokenStore) Watch(ctx context.Context) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("auth filestore: create dir failed: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("auth filestore: create watcher: %w", err)
	}
	if err = watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("auth filestore: watch %s: %w", dir, err)
	}

	go func() {
		defer func() { _ = watcher.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != s.path {
					continue
				}
				log.Debugf("auth filestore: %s changed (%s), dropping cached tokens", filepath.Base(s.path), event.Op)
				s.invalidate()
			case errWatch, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.WithError(errWatch).Warn("auth filestore: watcher error")
				s.invalidate()
			}
		}
	}()
	return nil
}

func (s *FileTokenStore) invalidate() {
	s.mu.Lock()
	s.loaded = false
	s.pair = TokenPair{}
	s.mu.Unlock()
}

func (s *FileTokenStore) snapshot() (TokenPair, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loaded {
		return s.pair, nil
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.pair = TokenPair{}
			s.loaded = true
			return s.pair, nil
		}
		return TokenPair{}, fmt.Errorf("auth filestore: read failed: %w", err)
	}
	pair, err := DecodeRecord(data)
	if err != nil {
		return TokenPair{}, fmt.Errorf("auth filestore: %s: %w", filepath.Base(s.path), err)
	}
	s.pair = pair
	s.loaded = true
	return pair, nil
}
