package library

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Sweeper removes tracks that have not been played within the TTL and prunes
// their mappings. Only active when the storage mode is "cache".
type Sweeper struct {
	root     string
	index    *Index
	ttl      time.Duration
	interval time.Duration
}

func NewSweeper(root string, index *Index, ttl time.Duration) *Sweeper {
	return &Sweeper{
		root:     root,
		index:    index,
		ttl:      ttl,
		interval: 30 * time.Minute,
	}
}

// Run sweeps on a fixed interval until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	slog.Info("Starting cache sweeper", "ttl", s.ttl, "interval", s.interval)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// Sweep walks the library once and removes expired audio files. File
// timestamps are refreshed on every cache hit (Index.Touch), so ModTime is a
// faithful last-played marker.
func (s *Sweeper) Sweep() {
	cutoff := time.Now().Add(-s.ttl)
	removed := 0

	err := filepath.Walk(s.root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if info.IsDir() || !isAudioFile(path) {
			return nil
		}
		if info.ModTime().After(cutoff) {
			return nil
		}

		if err := os.Remove(path); err != nil {
			slog.Warn("Could not remove expired track", "path", path, "error", err)
			return nil
		}
		s.index.ForgetPath(path)
		removed++
		return nil
	})
	if err != nil {
		slog.Warn("Cache sweep failed", "error", err)
		return
	}

	if removed > 0 {
		slog.Info("Cache sweep complete", "removed", removed)
		removeEmptyDirs(s.root, s.root)
	}
}

func isAudioFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp3", ".flac", ".m4a", ".ogg", ".wav", ".aac":
		return true
	}
	return false
}

// removeEmptyDirs prunes empty artist/album directories bottom-up, leaving
// the root itself in place.
func removeEmptyDirs(root, dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}

	for _, e := range entries {
		if e.IsDir() {
			removeEmptyDirs(root, filepath.Join(dir, e.Name()))
		}
	}

	if dir == root {
		return
	}
	entries, err = os.ReadDir(dir)
	if err == nil && len(entries) == 0 {
		os.Remove(dir)
	}
}
