package handlers

import (
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/dhowden/tag"
	"github.com/gin-gonic/gin"

	"crescendo/internal/library"
)

// MaintenanceHandler exposes the library scan: it verifies downloaded files,
// deletes empty husks left by interrupted writes, and prunes index entries
// whose files are gone.
type MaintenanceHandler struct {
	root  string
	index *library.Index
}

func NewMaintenanceHandler(root string, index *library.Index) *MaintenanceHandler {
	return &MaintenanceHandler{root: root, index: index}
}

var audioExtensions = map[string]bool{
	".flac": true, ".mp3": true, ".m4a": true, ".ogg": true, ".wav": true, ".aac": true,
}

func (h *MaintenanceHandler) Scan(c *gin.Context) {
	var total, untagged, removed int

	err := filepath.WalkDir(h.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		ext := strings.ToLower(filepath.Ext(path))
		if !audioExtensions[ext] || strings.HasSuffix(path, ".part") {
			return nil
		}
		total++

		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.Size() == 0 {
			slog.Warn("Removing empty audio file", "path", path)
			if err := os.Remove(path); err == nil {
				h.index.ForgetPath(path)
				removed++
				total--
			}
			return nil
		}

		if !h.readableTags(path) {
			untagged++
		}
		return nil
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	stale := h.pruneIndex()

	slog.Info("Library scan finished", "files", total, "untagged", untagged, "removed", removed, "staleMappings", stale)
	c.JSON(http.StatusOK, gin.H{
		"status":         "completed",
		"total_files":    total,
		"untagged":       untagged,
		"removed_empty":  removed,
		"stale_mappings": stale,
	})
}

// readableTags reports whether the file parses as tagged audio.
func (h *MaintenanceHandler) readableTags(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	m, err := tag.ReadFrom(f)
	if err != nil {
		return false
	}
	return m.Title() != "" || m.Artist() != ""
}

// pruneIndex drops mappings whose files no longer exist.
func (h *MaintenanceHandler) pruneIndex() int {
	stale := 0
	for key, m := range h.index.All() {
		if _, err := os.Stat(m.LocalPath); os.IsNotExist(err) {
			provider, externalID, ok := strings.Cut(key, ":")
			if ok {
				h.index.Forget(provider, externalID)
				stale++
			}
		}
	}
	return stale
}
