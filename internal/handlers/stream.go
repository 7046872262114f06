package handlers

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"

	"crescendo/internal/backend"
	"crescendo/internal/download"
	"crescendo/internal/library"
	"crescendo/internal/provider"
	"crescendo/pkg/music"
	"crescendo/pkg/subsonic"
)

// StreamHandler serves audio. Local IDs pass straight through to the
// backend; external IDs are fetched on demand and streamed while the
// download is still running.
type StreamHandler struct {
	prov  provider.Provider
	proxy *backend.Backend
	coord *download.Coordinator
	index *library.Index

	// When set, playing one track also queues the rest of its album.
	fetchAlbums bool
}

func NewStreamHandler(prov provider.Provider, proxy *backend.Backend, coord *download.Coordinator, index *library.Index) *StreamHandler {
	return &StreamHandler{prov: prov, proxy: proxy, coord: coord, index: index}
}

// WithAlbumPrefetch makes every external play pull the track's whole album in
// the background.
func (h *StreamHandler) WithAlbumPrefetch() *StreamHandler {
	h.fetchAlbums = true
	return h
}

func (h *StreamHandler) external(c *gin.Context) (music.ExternalID, bool) {
	ext, ok := music.ParseID(c.Query("id"))
	if !ok || h.prov == nil || ext.Provider != h.prov.Name() {
		return music.ExternalID{}, false
	}
	return ext, true
}

// Stream handles /rest/stream. A track already in the library is served from
// disk with full range support; otherwise the client tails the in-flight
// download as one unseekable 200 response.
func (h *StreamHandler) Stream(c *gin.Context) {
	if c.Query("id") == "" {
		SendError(c, subsonic.ErrRequiredParameter, "missing id parameter")
		return
	}

	ext, ok := h.external(c)
	if !ok {
		h.proxy.Handle(c)
		return
	}

	if path := h.index.Lookup(ext.Provider, ext.ID); path != "" {
		h.index.Touch(ext.Provider, ext.ID)
		h.serveLocal(c, path)
		return
	}

	song, err := h.prov.GetSong(c.Request.Context(), ext.ID)
	if err != nil {
		sendClassifiedError(c, err)
		return
	}

	rc, mimeType, err := h.coord.FetchStream(c.Request.Context(), song)
	if err != nil {
		sendClassifiedError(c, err)
		return
	}
	defer rc.Close()

	slog.Info("Streaming while downloading", "id", c.Query("id"), "client", c.GetHeader("User-Agent"))

	if h.fetchAlbums {
		go h.prefetchAlbum(context.Background(), song)
	}

	// No Content-Length and no ranges: the total size is unknown until the
	// download finishes. Seeking works on the next play, from disk.
	c.Header("Content-Type", mimeType)
	c.Status(http.StatusOK)
	flushCopy(c, rc)
}

// Download handles /rest/download: always the complete, untranscoded file.
// For an external track this blocks until the download lands.
func (h *StreamHandler) Download(c *gin.Context) {
	ext, ok := h.external(c)
	if !ok {
		h.proxy.Handle(c)
		return
	}

	path := h.index.Lookup(ext.Provider, ext.ID)
	if path == "" {
		song, err := h.prov.GetSong(c.Request.Context(), ext.ID)
		if err != nil {
			sendClassifiedError(c, err)
			return
		}
		path, err = h.coord.Fetch(c.Request.Context(), song)
		if err != nil {
			sendClassifiedError(c, err)
			return
		}
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filepath.Base(path)))
	h.serveLocal(c, path)
}

// prefetchAlbum pulls the siblings of a played track, one at a time so the
// prefetch never competes with the stream the listener is waiting on.
func (h *StreamHandler) prefetchAlbum(ctx context.Context, played *music.Song) {
	ext, ok := music.ParseID(played.AlbumID)
	if !ok {
		return
	}
	album, err := h.prov.GetAlbum(ctx, ext.ID)
	if err != nil {
		slog.Warn("Album prefetch failed", "albumId", played.AlbumID, "error", err)
		return
	}
	for i := range album.Songs {
		s := &album.Songs[i]
		if s.ExternalID == played.ExternalID || h.index.Lookup(s.Provider, s.ExternalID) != "" {
			continue
		}
		if _, err := h.coord.Fetch(ctx, s); err != nil {
			slog.Warn("Album prefetch track failed", "title", s.Title, "error", err)
		}
	}
}

// serveLocal serves a library file with range support, so clients can seek.
func (h *StreamHandler) serveLocal(c *gin.Context, path string) {
	f, err := os.Open(path)
	if err != nil {
		slog.Error("Library file vanished", "path", path, "error", err)
		SendError(c, subsonic.ErrDataNotFound, "file not found")
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		SendError(c, subsonic.ErrGeneric, "stat failed")
		return
	}

	c.Header("Content-Type", library.MimeForExtension(filepath.Ext(path)))
	http.ServeContent(c.Writer, c.Request, filepath.Base(path), info.ModTime(), f)
}

// flushCopy pushes bytes to the client as they arrive instead of letting the
// response buffer a download that may take minutes.
func flushCopy(c *gin.Context, src io.Reader) {
	buf := make([]byte, 32*1024)
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			if _, werr := c.Writer.Write(buf[:n]); werr != nil {
				return
			}
			c.Writer.Flush()
		}
		if rerr == io.EOF {
			return
		}
		if rerr != nil {
			slog.Debug("Stream interrupted", "error", rerr)
			return
		}
	}
}
