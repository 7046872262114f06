package handlers

import (
	"context"
	"log/slog"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"crescendo/internal/backend"
	"crescendo/internal/download"
	"crescendo/internal/library"
	"crescendo/internal/provider"
	"crescendo/pkg/music"
	"crescendo/pkg/subsonic"
)

// albumFetchParallelism caps concurrent track downloads when a whole album
// or playlist is starred.
const albumFetchParallelism = 2

// StarHandler turns favorites into library content: starring an external
// song, album or playlist downloads it in the background. Starring local
// content passes through to the backend.
type StarHandler struct {
	prov      provider.Provider
	proxy     *backend.Backend
	coord     *download.Coordinator
	playlists *library.PlaylistWriter
}

func NewStarHandler(prov provider.Provider, proxy *backend.Backend, coord *download.Coordinator, playlists *library.PlaylistWriter) *StarHandler {
	return &StarHandler{prov: prov, proxy: proxy, coord: coord, playlists: playlists}
}

// externalIDs collects the external IDs from the id, albumId and artistId
// parameters (all repeatable in the Subsonic dialect).
func (h *StarHandler) externalIDs(c *gin.Context) []music.ExternalID {
	var out []music.ExternalID
	if h.prov == nil {
		return nil
	}
	for _, param := range []string{"id", "albumId", "artistId"} {
		for _, raw := range c.QueryArray(param) {
			if ext, ok := music.ParseID(raw); ok && ext.Provider == h.prov.Name() {
				out = append(out, ext)
			}
		}
	}
	return out
}

func (h *StarHandler) Star(c *gin.Context) {
	exts := h.externalIDs(c)
	if len(exts) == 0 {
		h.proxy.Handle(c)
		return
	}

	for _, ext := range exts {
		ext := ext
		go h.download(context.Background(), ext)
	}
	SendResponse(c, subsonic.Ok())
}

// Unstar acknowledges external IDs without touching downloaded files; local
// IDs pass through.
func (h *StarHandler) Unstar(c *gin.Context) {
	if len(h.externalIDs(c)) == 0 {
		h.proxy.Handle(c)
		return
	}
	SendResponse(c, subsonic.Ok())
}

func (h *StarHandler) download(ctx context.Context, ext music.ExternalID) {
	var err error
	switch ext.Kind {
	case music.KindSong:
		err = h.downloadSong(ctx, ext.ID)
	case music.KindAlbum:
		err = h.downloadAlbum(ctx, ext.ID)
	case music.KindPlaylist:
		err = h.downloadPlaylist(ctx, ext.ID)
	case music.KindArtist:
		slog.Info("Ignoring star on external artist", "id", ext.ID)
		return
	}
	if err != nil {
		slog.Error("Starred download failed", "kind", ext.Kind, "id", ext.ID, "error", err)
	}
}

func (h *StarHandler) downloadSong(ctx context.Context, id string) error {
	song, err := h.prov.GetSong(ctx, id)
	if err != nil {
		return err
	}
	_, err = h.coord.Fetch(ctx, song)
	return err
}

func (h *StarHandler) downloadAlbum(ctx context.Context, id string) error {
	album, err := h.prov.GetAlbum(ctx, id)
	if err != nil {
		return err
	}
	slog.Info("Downloading starred album", "album", album.Title, "tracks", len(album.Songs))

	return h.fetchAll(ctx, album.Songs, "", nil)
}

func (h *StarHandler) downloadPlaylist(ctx context.Context, id string) error {
	playlist, err := h.prov.GetPlaylist(ctx, id)
	if err != nil {
		return err
	}
	tracks, err := h.prov.GetPlaylistTracks(ctx, id)
	if err != nil {
		return err
	}
	slog.Info("Downloading starred playlist", "playlist", playlist.Name, "tracks", len(tracks))

	return h.fetchAll(ctx, tracks, playlist.Name, h.playlists)
}

// fetchAll downloads tracks with bounded parallelism. A failed track is
// logged and skipped so one missing song does not sink the batch; when a
// playlist writer is given, finished tracks are appended in track order.
func (h *StarHandler) fetchAll(ctx context.Context, songs []music.Song, playlistName string, playlists *library.PlaylistWriter) error {
	paths := make([]string, len(songs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(albumFetchParallelism)
	for i := range songs {
		i := i
		g.Go(func() error {
			path, err := h.coord.Fetch(gctx, &songs[i])
			if err != nil {
				slog.Warn("Skipping track in batch download", "title", songs[i].Title, "error", err)
				return nil
			}
			paths[i] = path
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if playlists != nil {
		for i := range songs {
			if paths[i] == "" {
				continue
			}
			if err := playlists.Append(playlistName, &songs[i], paths[i]); err != nil {
				slog.Warn("Could not extend playlist file", "playlist", playlistName, "error", err)
			}
		}
	}
	return nil
}
