package library

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"crescendo/pkg/music"
)

// PlaylistWriter maintains M3U files under the playlists directory. Entries
// reference tracks by path relative to the library root and are appended as
// tracks finish downloading.
type PlaylistWriter struct {
	root string // library root, for relative paths
	dir  string

	mu sync.Mutex
}

func NewPlaylistWriter(root, dir string) *PlaylistWriter {
	return &PlaylistWriter{root: root, dir: dir}
}

func (w *PlaylistWriter) playlistPath(name string) string {
	return filepath.Join(w.dir, Sanitize(name)+".m3u")
}

// Append adds one track entry to the named playlist, creating the file with
// its #EXTM3U header on first use. Duplicate entries are skipped.
func (w *PlaylistWriter) Append(name string, song *music.Song, localPath string) error {
	rel, err := filepath.Rel(w.root, localPath)
	if err != nil {
		rel = localPath
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if err := os.MkdirAll(w.dir, 0755); err != nil {
		return fmt.Errorf("creating playlists dir: %w", err)
	}

	path := w.playlistPath(name)

	existing, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		existing = []byte("#EXTM3U\n")
		if err := os.WriteFile(path, existing, 0644); err != nil {
			return fmt.Errorf("creating playlist %s: %w", name, err)
		}
	case err != nil:
		return fmt.Errorf("reading playlist %s: %w", name, err)
	}

	for _, line := range strings.Split(string(existing), "\n") {
		if strings.TrimSpace(line) == rel {
			return nil
		}
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("opening playlist %s: %w", name, err)
	}
	defer f.Close()

	entry := fmt.Sprintf("#EXTINF:%d,%s - %s\n%s\n", song.Duration, song.Artist, song.Title, rel)
	if _, err := f.WriteString(entry); err != nil {
		return fmt.Errorf("appending to playlist %s: %w", name, err)
	}
	return nil
}
