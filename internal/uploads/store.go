package uploads

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	DefaultTTL             = time.Hour
	DefaultCleanupInterval = 30 * time.Minute
	filePrefix             = "upload-"
)

// ErrTooLarge is returned when an upload exceeds the store limit.
var ErrTooLarge = errors.New("upload exceeds size limit")

// Store writes request-scoped uploads under one directory. Callers remove
// their file when the request ends; the cleaner catches what a crash left.
type Store struct {
	dir      string
	maxBytes int64
	logger   *slog.Logger
}

func NewStore(dir string, maxBytes int64, logger *slog.Logger) (*Store, error) {
	if dir == "" {
		return nil, errors.New("upload dir required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{dir: dir, maxBytes: maxBytes, logger: logger.With("component", "uploads")}, nil
}

// Save copies src into a fresh file keeping ext. The returned path is unique.
func (s *Store) Save(src io.Reader, ext string) (string, error) {
	ext = strings.ToLower(filepath.Ext("x" + ext))
	f, err := os.CreateTemp(s.dir, filePrefix+"*"+ext)
	if err != nil {
		return "", fmt.Errorf("create upload file: %w", err)
	}
	path := f.Name()

	reader := src
	if s.maxBytes > 0 {
		reader = io.LimitReader(src, s.maxBytes+1)
	}
	n, err := io.Copy(f, reader)
	closeErr := f.Close()
	switch {
	case err != nil:
		s.Remove(path)
		return "", fmt.Errorf("write upload: %w", err)
	case closeErr != nil:
		s.Remove(path)
		return "", fmt.Errorf("close upload: %w", closeErr)
	case s.maxBytes > 0 && n > s.maxBytes:
		s.Remove(path)
		return "", ErrTooLarge
	}
	return path, nil
}

// Remove deletes a saved upload; a missing file is not an error.
func (s *Store) Remove(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		s.logger.Warn("remove upload failed", "path", path, "error", err)
	}
}

// StartCleaner removes uploads older than ttl every interval until ctx ends.
func (s *Store) StartCleaner(ctx context.Context, interval, ttl time.Duration) {
	if interval <= 0 {
		interval = DefaultCleanupInterval
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	go s.cleanupLoop(ctx, interval, ttl)
}

func (s *Store) cleanupLoop(ctx context.Context, interval, ttl time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := s.CleanExpired(time.Now().Add(-ttl)); err != nil {
				s.logger.Error("cleanup uploads error", "error", err)
			} else if n > 0 {
				s.logger.Info("removed stale uploads", "count", n)
			}
		}
	}
}

// CleanExpired removes uploads last modified before cutoff.
func (s *Store) CleanExpired(cutoff time.Time) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("read upload dir: %w", err)
	}
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), filePrefix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			path := filepath.Join(s.dir, entry.Name())
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				s.logger.Warn("remove stale upload failed", "path", path, "error", err)
				continue
			}
			removed++
		}
	}
	return removed, nil
}
