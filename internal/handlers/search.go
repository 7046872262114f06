package handlers

import (
	"log/slog"
	"strconv"

	"github.com/gin-gonic/gin"

	"crescendo/internal/search"
	"crescendo/pkg/subsonic"
)

type SearchHandler struct {
	merger   func(c *gin.Context) *search.Merger
	maxCount int
}

// NewSearchHandler builds the handler around a per-request merger factory:
// the local side of the merge authenticates upstream with the calling
// client's own credentials. maxCount caps the per-category result counts a
// client may request; zero means uncapped.
func NewSearchHandler(merger func(c *gin.Context) *search.Merger, maxCount int) *SearchHandler {
	return &SearchHandler{merger: merger, maxCount: maxCount}
}

func intQuery(c *gin.Context, name string, def int) int {
	v := c.Query(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func (h *SearchHandler) countQuery(c *gin.Context, name string, def int) int {
	n := intQuery(c, name, def)
	if h.maxCount > 0 && n > h.maxCount {
		return h.maxCount
	}
	return n
}

// Search3 handles /rest/search3: one merged, ranked result set across the
// local catalog and the external provider.
func (h *SearchHandler) Search3(c *gin.Context) {
	query := c.Query("query")

	opt := search.Options{
		SongCount:     h.countQuery(c, "songCount", 20),
		SongOffset:    intQuery(c, "songOffset", 0),
		AlbumCount:    h.countQuery(c, "albumCount", 20),
		AlbumOffset:   intQuery(c, "albumOffset", 0),
		ArtistCount:   h.countQuery(c, "artistCount", 20),
		ArtistOffset:  intQuery(c, "artistOffset", 0),
		PlaylistCount: h.countQuery(c, "playlistCount", 20),
	}

	res, err := h.merger(c).Search(c.Request.Context(), query, opt)
	if err != nil {
		slog.Warn("Search failed", "query", query, "error", err)
		sendClassifiedError(c, err)
		return
	}

	resp := subsonic.Ok()
	resp.SearchResult3 = &subsonic.SearchResult3{
		Artist:   artistsToWire(res.Artists),
		Album:    albumsToWire(res.Albums),
		Song:     songsToWire(res.Songs),
		Playlist: playlistsToWire(res.Playlists),
	}
	SendResponse(c, resp)
}

// Search2 is the legacy search endpoint; same merge, older envelope.
func (h *SearchHandler) Search2(c *gin.Context) {
	query := c.Query("query")

	opt := search.Options{
		SongCount:   h.countQuery(c, "songCount", 20),
		AlbumCount:  h.countQuery(c, "albumCount", 20),
		ArtistCount: h.countQuery(c, "artistCount", 20),
	}

	res, err := h.merger(c).Search(c.Request.Context(), query, opt)
	if err != nil {
		sendClassifiedError(c, err)
		return
	}

	resp := subsonic.Ok()
	resp.SearchResult2 = &subsonic.SearchResult2{
		Artist: artistsToWire(res.Artists),
		Album:  albumsToWire(res.Albums),
		Song:   songsToWire(res.Songs),
	}
	SendResponse(c, resp)
}
