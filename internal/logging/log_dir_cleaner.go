package logging

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

const logDirCleanerInterval = time.Minute

// dirCleaner keeps the total size of rotated log files under a byte budget.
type dirCleaner struct {
	dir       string
	maxBytes  int64
	protected string
	cancel    context.CancelFunc
}

func newDirCleaner(dir string, maxBytes int64, protected string) *dirCleaner {
	c := &dirCleaner{dir: filepath.Clean(dir), maxBytes: maxBytes}
	if p := strings.TrimSpace(protected); p != "" {
		c.protected = filepath.Clean(p)
	}
	return c
}

func (c *dirCleaner) start() {
	if c.maxBytes <= 0 || c.dir == "" {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	go c.run(ctx)
}

func (c *dirCleaner) stop() {
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
}

func (c *dirCleaner) run(ctx context.Context) {
	ticker := time.NewTicker(logDirCleanerInterval)
	defer ticker.Stop()
	for {
		deleted, err := c.sweep()
		if err != nil {
			log.WithError(err).Warn("logging: failed to enforce log directory size limit")
		} else if deleted > 0 {
			log.Debugf("logging: removed %d old log file(s)", deleted)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

type logFile struct {
	path    string
	size    int64
	modTime time.Time
}

// sweep removes the oldest log files, never the active one, until the directory fits.
func (c *dirCleaner) sweep() (int, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	var files []logFile
	var total int64
	for _, entry := range entries {
		if entry.IsDir() || !isLogFileName(entry.Name()) {
			continue
		}
		info, errInfo := entry.Info()
		if errInfo != nil || !info.Mode().IsRegular() {
			continue
		}
		files = append(files, logFile{path: filepath.Join(c.dir, entry.Name()), size: info.Size(), modTime: info.ModTime()})
		total += info.Size()
	}
	if total <= c.maxBytes {
		return 0, nil
	}

	sort.Slice(files, func(i, j int) bool { return files[i].modTime.Before(files[j].modTime) })
	deleted := 0
	for _, f := range files {
		if total <= c.maxBytes {
			break
		}
		if f.path == c.protected {
			continue
		}
		if errRemove := os.Remove(f.path); errRemove != nil {
			log.WithError(errRemove).Warnf("logging: failed to remove old log file: %s", filepath.Base(f.path))
			continue
		}
		total -= f.size
		deleted++
	}
	return deleted, nil
}

func isLogFileName(name string) bool {
	lower := strings.ToLower(strings.TrimSpace(name))
	return strings.HasSuffix(lower, ".log") || strings.HasSuffix(lower, ".log.gz")
}
