package media

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aiprophet/prophet/internal/observability"
)

// File name prefixes owned by the bot.
const (
	PhotoPrefix = "task_"
	AudioPrefix = "audio_"
)

// Removal reasons recorded in metrics.
const (
	ReasonConsumed    = "consumed"
	ReasonChatCleanup = "chat_cleanup"
	ReasonExpired     = "expired"
)

// TempStore names and removes the bot's temporary media files.
type TempStore struct {
	dir     string
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewTempStore creates dir if needed.
func NewTempStore(dir string, logger *slog.Logger, metrics *observability.Metrics) (*TempStore, error) {
	if dir == "" {
		dir = "temp"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TempStore{
		dir:     dir,
		logger:  logger.With("component", "media"),
		metrics: metrics,
	}, nil
}

// Dir returns the managed directory.
func (s *TempStore) Dir() string {
	return s.dir
}

// PhotoPath returns task_<chat>_<unix>.jpg inside the temp dir.
func (s *TempStore) PhotoPath(chatID int64, now time.Time) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s%d_%d.jpg", PhotoPrefix, chatID, now.Unix()))
}

// AudioPath returns audio_<chat>_<unix>.ogg inside the temp dir.
func (s *TempStore) AudioPath(chatID int64, now time.Time) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s%d_%d.ogg", AudioPrefix, chatID, now.Unix()))
}

// Remove deletes path. A missing file is not an error; other failures are
// logged and returned.
func (s *TempStore) Remove(path string) error {
	if path == "" {
		return nil
	}
	err := os.Remove(path)
	switch {
	case err == nil:
		s.metrics.RecordTempRemoved(ReasonConsumed, 1)
		return nil
	case errors.Is(err, fs.ErrNotExist):
		return nil
	default:
		s.logger.Warn("failed to remove temp file", "path", path, "error", err)
		return err
	}
}

// CleanupChat removes every photo and audio file belonging to chatID and
// returns how many were deleted.
func (s *TempStore) CleanupChat(chatID int64) int {
	removed := 0
	for _, prefix := range []string{PhotoPrefix, AudioPrefix} {
		pattern := filepath.Join(s.dir, fmt.Sprintf("%s%d_*", prefix, chatID))
		matches, err := filepath.Glob(pattern)
		if err != nil {
			continue
		}
		for _, path := range matches {
			if err := os.Remove(path); err != nil {
				if !errors.Is(err, fs.ErrNotExist) {
					s.logger.Warn("failed to remove temp file", "path", path, "error", err)
				}
				continue
			}
			removed++
		}
	}
	if removed > 0 {
		s.metrics.RecordTempRemoved(ReasonChatCleanup, removed)
		s.logger.Debug("removed chat temp files", "chat_id", chatID, "count", removed)
	}
	return removed
}

// RemoveOlderThan deletes bot-owned files last modified before cutoff.
func (s *TempStore) RemoveOlderThan(cutoff time.Time) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("read temp dir: %w", err)
	}

	removed := 0
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !(strings.HasPrefix(name, PhotoPrefix) || strings.HasPrefix(name, AudioPrefix)) {
			continue
		}
		info, err := entry.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		path := filepath.Join(s.dir, name)
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("failed to remove expired temp file", "path", path, "error", err)
			continue
		}
		removed++
	}
	s.metrics.RecordTempRemoved(ReasonExpired, removed)
	return removed, nil
}
