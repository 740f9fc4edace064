package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-git/go-git/v6"
	"github.com/go-git/go-git/v6/config"
	"github.com/go-git/go-git/v6/plumbing"
	"github.com/go-git/go-git/v6/plumbing/object"
	"github.com/go-git/go-git/v6/plumbing/transport"
	"github.com/go-git/go-git/v6/plumbing/transport/http"
	log "github.com/sirupsen/logrus"
)

const gitTokenDir = "tokens"

// GitStoreConfig captures configuration for the git-backed token store.
type GitStoreConfig struct {
	// Remote is the repository URL. Empty keeps the repository local only.
	Remote    string
	Username  string
	Password  string
	LocalPath string
	Profile   string
}

// GitTokenStore keeps the token record in a git repository as tokens/<profile>.json. Every
// change is committed as a single squashed commit and force-pushed so old tokens do not
// accumulate in history.
type GitTokenStore struct {
	records
	cfg     GitStoreConfig
	relPath string

	mu      sync.Mutex
	ready   bool
	cached  []byte
	cacheOK bool
}

// NewGitTokenStore creates a git-backed store. The repository is cloned or initialized on
// first use.
func NewGitTokenStore(cfg GitStoreConfig) (*GitTokenStore, error) {
	cfg.Remote = strings.TrimSpace(cfg.Remote)
	cfg.LocalPath = strings.TrimSpace(cfg.LocalPath)
	if cfg.LocalPath == "" {
		return nil, fmt.Errorf("git token store: local path is required")
	}
	cfg.Profile = normalizeProfile(cfg.Profile)
	s := &GitTokenStore{cfg: cfg, relPath: filepath.Join(gitTokenDir, cfg.Profile+".json")}
	s.records = records{name: "git token store", backend: s}
	return s, nil
}

// Path returns the token file inside the local working tree.
func (s *GitTokenStore) Path() string {
	return filepath.Join(s.cfg.LocalPath, s.relPath)
}

// EnsureRepository clones the remote, or initializes an empty repository, and pulls the
// latest state when a working tree already exists.
func (s *GitTokenStore) EnsureRepository() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ensureRepositoryLocked()
}

func (s *GitTokenStore) ensureRepositoryLocked() error {
	if s.ready {
		return nil
	}
	repoDir := s.cfg.LocalPath
	gitDir := filepath.Join(repoDir, ".git")
	if err := os.MkdirAll(repoDir, 0o700); err != nil {
		return fmt.Errorf("git token store: create repo dir: %w", err)
	}

	_, errStat := os.Stat(gitDir)
	switch {
	case errors.Is(errStat, fs.ErrNotExist):
		if err := s.cloneOrInit(repoDir); err != nil {
			return err
		}
	case errStat != nil:
		return fmt.Errorf("git token store: stat repo: %w", errStat)
	default:
		if err := s.pull(repoDir); err != nil {
			return err
		}
	}
	if err := os.MkdirAll(filepath.Join(repoDir, gitTokenDir), 0o700); err != nil {
		return fmt.Errorf("git token store: create token dir: %w", err)
	}
	s.ready = true
	return nil
}

func (s *GitTokenStore) cloneOrInit(repoDir string) error {
	if s.cfg.Remote != "" {
		_, errClone := git.PlainClone(repoDir, &git.CloneOptions{Auth: s.gitAuth(), URL: s.cfg.Remote})
		if errClone == nil {
			return nil
		}
		if !errors.Is(errClone, transport.ErrEmptyRemoteRepository) {
			return fmt.Errorf("git token store: clone remote: %w", errClone)
		}
		_ = os.RemoveAll(filepath.Join(repoDir, ".git"))
	}
	repo, err := git.PlainInit(repoDir, false)
	if err != nil {
		return fmt.Errorf("git token store: init repo: %w", err)
	}
	if s.cfg.Remote == "" {
		return nil
	}
	if _, errCreate := repo.CreateRemote(&config.RemoteConfig{
		Name: "origin",
		URLs: []string{s.cfg.Remote},
	}); errCreate != nil && !errors.Is(errCreate, git.ErrRemoteExists) {
		return fmt.Errorf("git token store: configure remote: %w", errCreate)
	}
	return nil
}

func (s *GitTokenStore) pull(repoDir string) error {
	if s.cfg.Remote == "" {
		return nil
	}
	repo, err := git.PlainOpen(repoDir)
	if err != nil {
		return fmt.Errorf("git token store: open repo: %w", err)
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("git token store: worktree: %w", err)
	}
	if errPull := worktree.Pull(&git.PullOptions{Auth: s.gitAuth(), RemoteName: "origin"}); errPull != nil {
		switch {
		case errors.Is(errPull, git.NoErrAlreadyUpToDate),
			errors.Is(errPull, git.ErrUnstagedChanges),
			errors.Is(errPull, git.ErrNonFastForwardUpdate),
			errors.Is(errPull, plumbing.ErrReferenceNotFound),
			errors.Is(errPull, transport.ErrEmptyRemoteRepository):
			// Local state wins over a diverged or empty remote.
		default:
			return fmt.Errorf("git token store: pull: %w", errPull)
		}
	}
	return nil
}

func (s *GitTokenStore) load(context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cacheOK {
		return s.cached, nil
	}
	if err := s.ensureRepositoryLocked(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.Path())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			data = nil
		} else {
			return nil, err
		}
	}
	s.cached, s.cacheOK = data, true
	return data, nil
}

func (s *GitTokenStore) save(_ context.Context, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureRepositoryLocked(); err != nil {
		return err
	}
	if err := os.WriteFile(s.Path(), data, 0o600); err != nil {
		return err
	}
	s.cached, s.cacheOK = append([]byte(nil), data...), true
	return s.commitAndPushLocked("Update tokens for " + s.cfg.Profile)
}

func (s *GitTokenStore) remove(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureRepositoryLocked(); err != nil {
		return err
	}
	s.cached, s.cacheOK = nil, true
	if err := os.Remove(s.Path()); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	return s.commitAndPushLocked("Remove tokens for " + s.cfg.Profile)
}

func (s *GitTokenStore) gitAuth() transport.AuthMethod {
	if s.cfg.Username == "" && s.cfg.Password == "" {
		return nil
	}
	user := s.cfg.Username
	if user == "" {
		user = "git"
	}
	return &http.BasicAuth{Username: user, Password: s.cfg.Password}
}

func (s *GitTokenStore) commitAndPushLocked(message string) error {
	repo, err := git.PlainOpen(s.cfg.LocalPath)
	if err != nil {
		return fmt.Errorf("open repo: %w", err)
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("worktree: %w", err)
	}
	if _, err = worktree.Add(s.relPath); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("add %s: %w", s.relPath, err)
		}
		if _, errRemove := worktree.Remove(s.relPath); errRemove != nil && !errors.Is(errRemove, os.ErrNotExist) {
			return fmt.Errorf("remove %s: %w", s.relPath, errRemove)
		}
	}
	status, err := worktree.Status()
	if err != nil {
		return fmt.Errorf("status: %w", err)
	}
	if status.IsClean() {
		return nil
	}

	signature := &object.Signature{Name: "scanclient", Email: "scanclient@local", When: time.Now()}
	commitHash, err := worktree.Commit(message, &git.CommitOptions{Author: signature})
	if err != nil {
		if errors.Is(err, git.ErrEmptyCommit) {
			return nil
		}
		return fmt.Errorf("commit: %w", err)
	}
	headRef, errHead := repo.Head()
	if errHead != nil {
		if !errors.Is(errHead, plumbing.ErrReferenceNotFound) {
			return fmt.Errorf("get head: %w", errHead)
		}
	} else if errSquash := squashHead(repo, headRef.Name(), commitHash, message, signature); errSquash != nil {
		return errSquash
	}

	if s.cfg.Remote == "" {
		return nil
	}
	if err = repo.Push(&git.PushOptions{Auth: s.gitAuth(), Force: true}); err != nil {
		if errors.Is(err, git.NoErrAlreadyUpToDate) {
			return nil
		}
		return fmt.Errorf("push: %w", err)
	}
	log.WithField("profile", s.cfg.Profile).Debug("git token store: pushed token update")
	return nil
}

// squashHead replaces the branch tip with a parentless copy of commitHash.
func squashHead(repo *git.Repository, branch plumbing.ReferenceName, commitHash plumbing.Hash, message string, signature *object.Signature) error {
	commitObj, err := repo.CommitObject(commitHash)
	if err != nil {
		return fmt.Errorf("inspect head commit: %w", err)
	}
	squashed := &object.Commit{
		Author:       *signature,
		Committer:    *signature,
		Message:      message,
		TreeHash:     commitObj.TreeHash,
		Encoding:     commitObj.Encoding,
		ExtraHeaders: commitObj.ExtraHeaders,
	}
	mem := &plumbing.MemoryObject{}
	mem.SetType(plumbing.CommitObject)
	if err = squashed.Encode(mem); err != nil {
		return fmt.Errorf("encode squashed commit: %w", err)
	}
	newHash, err := repo.Storer.SetEncodedObject(mem)
	if err != nil {
		return fmt.Errorf("write squashed commit: %w", err)
	}
	if err = repo.Storer.SetReference(plumbing.NewHashReference(branch, newHash)); err != nil {
		return fmt.Errorf("update branch reference: %w", err)
	}
	return nil
}
