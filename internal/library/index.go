package library

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"crescendo/pkg/music"
)

// MappingsFile is the index document, kept next to the music tree.
const MappingsFile = ".mappings.json"

// Mapping records where an external track landed on disk.
type Mapping struct {
	LocalPath    string    `json:"localPath"`
	Title        string    `json:"title,omitempty"`
	Artist       string    `json:"artist,omitempty"`
	Album        string    `json:"album,omitempty"`
	DownloadedAt time.Time `json:"downloadedAt"`
}

// Index is the persistent (provider, externalID) -> local path map. All
// mutations rewrite the full document via temp+rename so a crash never leaves
// a torn file.
type Index struct {
	root string

	mu       sync.Mutex
	loaded   bool
	mappings map[string]Mapping
}

func NewIndex(root string) *Index {
	return &Index{root: root}
}

func mappingKey(provider, externalID string) string {
	return provider + ":" + externalID
}

func (ix *Index) path() string {
	return filepath.Join(ix.root, MappingsFile)
}

// load reads the document on first use. Must be called with ix.mu held.
func (ix *Index) load() {
	if ix.loaded {
		return
	}
	ix.loaded = true
	ix.mappings = make(map[string]Mapping)

	data, err := os.ReadFile(ix.path())
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("Could not read mappings file", "path", ix.path(), "error", err)
		}
		return
	}
	if err := json.Unmarshal(data, &ix.mappings); err != nil {
		slog.Warn("Corrupt mappings file, starting empty", "path", ix.path(), "error", err)
		ix.mappings = make(map[string]Mapping)
	}
}

// save rewrites the document. Must be called with ix.mu held.
func (ix *Index) save() error {
	data, err := json.MarshalIndent(ix.mappings, "", "  ")
	if err != nil {
		return err
	}

	tmp := ix.path() + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("writing mappings temp file: %w", err)
	}
	if err := os.Rename(tmp, ix.path()); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replacing mappings file: %w", err)
	}
	return nil
}

// Lookup returns the local path for a fingerprint, or "" when there is no
// mapping or the mapped file has gone missing. A stale entry is pruned on
// the spot.
func (ix *Index) Lookup(provider, externalID string) string {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.load()

	key := mappingKey(provider, externalID)
	m, ok := ix.mappings[key]
	if !ok {
		return ""
	}

	if _, err := os.Stat(m.LocalPath); err != nil {
		slog.Debug("Pruning stale mapping", "key", key, "path", m.LocalPath)
		delete(ix.mappings, key)
		if err := ix.save(); err != nil {
			slog.Warn("Could not persist mapping prune", "error", err)
		}
		return ""
	}
	return m.LocalPath
}

// Register upserts the mapping for a song. A song without provider identity
// is a no-op.
func (ix *Index) Register(song *music.Song, localPath string) error {
	if song == nil || song.Provider == "" || song.ExternalID == "" {
		return nil
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.load()

	ix.mappings[mappingKey(song.Provider, song.ExternalID)] = Mapping{
		LocalPath:    localPath,
		Title:        song.Title,
		Artist:       song.Artist,
		Album:        song.Album,
		DownloadedAt: time.Now().UTC(),
	}
	return ix.save()
}

// Forget drops a mapping. Best effort; used by the sweeper and the
// maintenance scan.
func (ix *Index) Forget(provider, externalID string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.load()

	key := mappingKey(provider, externalID)
	if _, ok := ix.mappings[key]; !ok {
		return
	}
	delete(ix.mappings, key)
	if err := ix.save(); err != nil {
		slog.Warn("Could not persist mapping removal", "key", key, "error", err)
	}
}

// ForgetPath drops every mapping that points at the given file.
func (ix *Index) ForgetPath(localPath string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.load()

	changed := false
	for key, m := range ix.mappings {
		if m.LocalPath == localPath {
			delete(ix.mappings, key)
			changed = true
		}
	}
	if changed {
		if err := ix.save(); err != nil {
			slog.Warn("Could not persist mapping removal", "path", localPath, "error", err)
		}
	}
}

// Touch refreshes the mapped file's timestamps so cache-mode sweeps treat it
// as recently used.
func (ix *Index) Touch(provider, externalID string) {
	path := ix.Lookup(provider, externalID)
	if path == "" {
		return
	}
	now := time.Now()
	if err := os.Chtimes(path, now, now); err != nil {
		slog.Debug("Could not refresh access time", "path", path, "error", err)
	}
}

// All returns a snapshot of the current mappings keyed by "provider:externalID".
func (ix *Index) All() map[string]Mapping {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.load()

	out := make(map[string]Mapping, len(ix.mappings))
	for k, v := range ix.mappings {
		out[k] = v
	}
	return out
}
