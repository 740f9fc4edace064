package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/atotto/clipboard"
	"github.com/bookscanner/scanclient/internal/browser"
	"github.com/bookscanner/scanclient/sdk/photos"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Overridden in tests.
var (
	copyToClipboard = clipboard.WriteAll
	openURL         = browser.OpenURL
)

// DoList prints the user's photos.
func (s *Session) DoList(ctx context.Context) error {
	list, err := s.photos.ListPhotos(ctx)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		s.printf("No photos yet\n")
		return nil
	}
	for _, p := range list {
		s.printf("%d\t%s\t%s\n", p.ID, p.OriginalFilename, p.ProcessedURL)
	}
	return nil
}

// DoUpload uploads files concurrently, at most upload-concurrency at a time, and prints one
// line per file in argument order. With copyURL the last processed URL goes to the clipboard.
func (s *Session) DoUpload(ctx context.Context, files []string, copyURL bool) error {
	if len(files) == 0 {
		return fmt.Errorf("upload: no files given")
	}
	results := make([]*photos.Photo, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(s.cfg.UploadConcurrency, 1))
	for i, file := range files {
		g.Go(func() error {
			f, err := os.Open(file)
			if err != nil {
				return fmt.Errorf("upload: %w", err)
			}
			defer func() { _ = f.Close() }()
			p, err := s.photos.UploadPhoto(gctx, filepath.Base(file), f)
			if err != nil {
				return fmt.Errorf("upload %s: %w", file, err)
			}
			log.WithField("file", file).Debugf("uploaded as photo %d", p.ID)
			results[i] = p
			return nil
		})
	}
	errWait := g.Wait()

	var last string
	for i, p := range results {
		if p == nil {
			continue
		}
		s.printf("%s\t%d\t%s\n", files[i], p.ID, p.ProcessedURL)
		last = p.ProcessedURL
	}
	if errWait != nil {
		return errWait
	}
	if copyURL && last != "" {
		if err := copyToClipboard(last); err != nil {
			log.WithError(err).Warn("failed to copy url to clipboard")
		} else {
			s.printf("Copied %s to the clipboard\n", last)
		}
	}
	return nil
}

// DoDownload writes photo id to path.
func (s *Session) DoDownload(ctx context.Context, rawID, path string) error {
	id, err := parseID(rawID)
	if err != nil {
		return err
	}
	tmp := path + ".part"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("download: %w", err)
	}
	n, err := s.photos.DownloadPhoto(ctx, id, f)
	if errClose := f.Close(); err == nil {
		err = errClose
	}
	if err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err = os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("download: %w", err)
	}
	s.printf("Saved photo %d to %s (%d bytes)\n", id, path, n)
	return nil
}

// DoDelete removes one photo.
func (s *Session) DoDelete(ctx context.Context, rawID string) error {
	id, err := parseID(rawID)
	if err != nil {
		return err
	}
	if err = s.photos.DeletePhoto(ctx, id); err != nil {
		return err
	}
	s.printf("Deleted photo %d\n", id)
	return nil
}

// DoOpen opens the processed URL of photo id in the browser.
func (s *Session) DoOpen(ctx context.Context, rawID string) error {
	id, err := parseID(rawID)
	if err != nil {
		return err
	}
	p, err := s.photos.FindPhoto(ctx, id)
	if err != nil {
		return err
	}
	if err = openURL(p.ProcessedURL); err != nil {
		s.printf("Open this link in your browser: %s\n", p.ProcessedURL)
		return nil
	}
	s.printf("Opened %s\n", p.ProcessedURL)
	return nil
}

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid photo id %q", raw)
	}
	return id, nil
}
