package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"crescendo/internal/backend"
	"crescendo/internal/provider"
	"crescendo/pkg/music"
	"crescendo/pkg/subsonic"
)

// MetadataHandler answers entity lookups for external IDs and hands
// everything else to the backend untouched.
type MetadataHandler struct {
	prov   provider.Provider
	proxy  *backend.Backend
	covers *provider.Client
}

func NewMetadataHandler(prov provider.Provider, proxy *backend.Backend) *MetadataHandler {
	return &MetadataHandler{
		prov:   prov,
		proxy:  proxy,
		covers: provider.NewClient("covers", nil),
	}
}

// external decodes the id parameter; a local ID (or missing provider) means
// the request belongs to the backend.
func (h *MetadataHandler) external(c *gin.Context) (music.ExternalID, bool) {
	ext, ok := music.ParseID(c.Query("id"))
	if !ok || h.prov == nil || ext.Provider != h.prov.Name() {
		return music.ExternalID{}, false
	}
	return ext, true
}

func (h *MetadataHandler) GetSong(c *gin.Context) {
	ext, ok := h.external(c)
	if !ok {
		h.proxy.Handle(c)
		return
	}

	song, err := h.prov.GetSong(c.Request.Context(), ext.ID)
	if err != nil {
		sendClassifiedError(c, err)
		return
	}

	resp := subsonic.Ok()
	wire := songToWire(*song)
	resp.Song = &wire
	SendResponse(c, resp)
}

func (h *MetadataHandler) GetAlbum(c *gin.Context) {
	ext, ok := h.external(c)
	if !ok {
		h.proxy.Handle(c)
		return
	}

	album, err := h.prov.GetAlbum(c.Request.Context(), ext.ID)
	if err != nil {
		sendClassifiedError(c, err)
		return
	}

	resp := subsonic.Ok()
	resp.Album = &subsonic.AlbumWithSongs{
		Album: albumToWire(*album),
		Song:  songsToWire(album.Songs),
	}
	SendResponse(c, resp)
}

func (h *MetadataHandler) GetArtist(c *gin.Context) {
	ext, ok := h.external(c)
	if !ok {
		h.proxy.Handle(c)
		return
	}

	artist, err := h.prov.GetArtist(c.Request.Context(), ext.ID)
	if err != nil {
		sendClassifiedError(c, err)
		return
	}
	albums, err := h.prov.GetArtistAlbums(c.Request.Context(), ext.ID)
	if err != nil {
		slog.Warn("Could not list artist albums", "id", ext.ID, "error", err)
	}

	resp := subsonic.Ok()
	resp.Artist = &subsonic.ArtistWithAlbums{
		Artist: artistToWire(*artist),
		Album:  albumsToWire(albums),
	}
	SendResponse(c, resp)
}

func (h *MetadataHandler) GetPlaylist(c *gin.Context) {
	ext, ok := h.external(c)
	if !ok {
		h.proxy.Handle(c)
		return
	}

	playlist, err := h.prov.GetPlaylist(c.Request.Context(), ext.ID)
	if err != nil {
		sendClassifiedError(c, err)
		return
	}
	tracks, err := h.prov.GetPlaylistTracks(c.Request.Context(), ext.ID)
	if err != nil {
		sendClassifiedError(c, err)
		return
	}

	resp := subsonic.Ok()
	wire := playlistToWire(*playlist)
	wire.Entry = songsToWire(tracks)
	resp.Playlist = &wire
	SendResponse(c, resp)
}

// GetPlaylists lists the backend's playlists only; external playlists are
// reachable by search and direct ID.
func (h *MetadataHandler) GetPlaylists(c *gin.Context) {
	h.proxy.Handle(c)
}

// GetCoverArt resolves an external entity to its provider image and proxies
// the bytes through.
func (h *MetadataHandler) GetCoverArt(c *gin.Context) {
	ext, ok := h.external(c)
	if !ok {
		h.proxy.Handle(c)
		return
	}

	url, err := h.coverURL(c.Request.Context(), ext)
	if err != nil {
		sendClassifiedError(c, err)
		return
	}
	if url == "" {
		SendError(c, subsonic.ErrDataNotFound, "no cover art")
		return
	}

	resp, err := h.covers.Stream(c.Request.Context(), url, nil)
	if err != nil {
		slog.Warn("Could not fetch cover art", "url", url, "error", err)
		SendError(c, subsonic.ErrGeneric, "cover fetch failed")
		return
	}
	defer resp.Body.Close()
	c.DataFromReader(http.StatusOK, resp.ContentLength, resp.Header.Get("Content-Type"), resp.Body, nil)
}

func (h *MetadataHandler) coverURL(ctx context.Context, ext music.ExternalID) (string, error) {
	switch ext.Kind {
	case music.KindSong:
		song, err := h.prov.GetSong(ctx, ext.ID)
		if err != nil {
			return "", err
		}
		if song.CoverURLBig != "" {
			return song.CoverURLBig, nil
		}
		return song.CoverURL, nil
	case music.KindAlbum:
		album, err := h.prov.GetAlbum(ctx, ext.ID)
		if err != nil {
			return "", err
		}
		return album.CoverURL, nil
	case music.KindArtist:
		artist, err := h.prov.GetArtist(ctx, ext.ID)
		if err != nil {
			return "", err
		}
		return artist.ImageURL, nil
	case music.KindPlaylist:
		playlist, err := h.prov.GetPlaylist(ctx, ext.ID)
		if err != nil {
			return "", err
		}
		return playlist.CoverURL, nil
	}
	return "", nil
}
