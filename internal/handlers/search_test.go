package handlers

import (
	"context"
	"encoding/xml"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"crescendo/internal/provider"
	"crescendo/internal/search"
	"crescendo/pkg/music"
	"crescendo/pkg/subsonic"
)

type fixedLocal struct {
	songs []music.Song
	err   error
}

func (f *fixedLocal) SearchSongs(ctx context.Context, query string, count, offset int) ([]music.Song, error) {
	return f.songs, f.err
}
func (f *fixedLocal) SearchAlbums(ctx context.Context, query string, count, offset int) ([]music.Album, error) {
	return nil, f.err
}
func (f *fixedLocal) SearchArtists(ctx context.Context, query string, count, offset int) ([]music.Artist, error) {
	return nil, f.err
}

func newSearchRouter(local search.LocalCatalog, prov provider.Provider) *gin.Engine {
	h := NewSearchHandler(func(c *gin.Context) *search.Merger {
		return search.NewMerger(local, prov, nil)
	}, 50)
	router := gin.New()
	router.GET("/rest/search3", h.Search3)
	return router
}

func TestSearch3MergesAndTagsSources(t *testing.T) {
	local := &fixedLocal{songs: []music.Song{
		{ID: "300", Title: "One More Time", Artist: "Daft Punk"},
	}}
	ext := &stubCatalog{}
	extWithResults := &searchStub{stubCatalog: ext, songs: []music.Song{
		{ID: "ext-stub-song-1", Title: "One More Time (Club Mix)", Artist: "Daft Punk", Provider: "stub", ExternalID: "1"},
	}}

	router := newSearchRouter(local, extWithResults)
	req := httptest.NewRequest(http.MethodGet, "/rest/search3?query=one+more+time", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	var resp subsonic.Response
	if err := xml.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshaling response: %v\n%s", err, w.Body.String())
	}
	if resp.Status != subsonic.StatusOk || resp.SearchResult3 == nil {
		t.Fatalf("resp = %+v", resp)
	}
	if len(resp.SearchResult3.Song) != 2 {
		t.Fatalf("songs = %+v", resp.SearchResult3.Song)
	}

	ids := []string{resp.SearchResult3.Song[0].ID, resp.SearchResult3.Song[1].ID}
	if ids[0] != "300" {
		t.Errorf("exact local match must rank first: %v", ids)
	}
	if ids[1] != "ext-stub-song-1" {
		t.Errorf("external song missing: %v", ids)
	}
}

func TestSearch3JSONFormat(t *testing.T) {
	local := &fixedLocal{songs: []music.Song{{ID: "300", Title: "Da Funk"}}}
	router := newSearchRouter(local, nil)

	req := httptest.NewRequest(http.MethodGet, "/rest/search3?query=da+funk&f=json", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if ct := w.Header().Get("Content-Type"); !strings.Contains(ct, "application/json") {
		t.Errorf("Content-Type = %q", ct)
	}
	if !strings.Contains(w.Body.String(), `"subsonic-response"`) {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestSearch3AuthErrorSurfacesAsCode40(t *testing.T) {
	local := &fixedLocal{err: provider.Errf(provider.KindUnauthenticated, "backend", "wrong password")}
	router := newSearchRouter(local, nil)

	req := httptest.NewRequest(http.MethodGet, "/rest/search3?query=x", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if !strings.Contains(w.Body.String(), `code="40"`) {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestSearch3IncludesExternalPlaylists(t *testing.T) {
	ext := &searchStub{stubCatalog: &stubCatalog{}, playlists: []music.Playlist{
		{ID: "ext-stub-playlist-9", Name: "Filter House", Provider: "stub", ExternalID: "9", TrackCount: 40},
	}}
	router := newSearchRouter(&fixedLocal{}, ext)

	req := httptest.NewRequest(http.MethodGet, "/rest/search3?query=filter+house", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var resp subsonic.Response
	if err := xml.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshaling response: %v\n%s", err, w.Body.String())
	}
	if resp.SearchResult3 == nil || len(resp.SearchResult3.Playlist) != 1 {
		t.Fatalf("resp = %+v", resp.SearchResult3)
	}
	pl := resp.SearchResult3.Playlist[0]
	if pl.ID != "ext-stub-playlist-9" || pl.Name != "Filter House" || pl.SongCount != 40 {
		t.Errorf("playlist = %+v", pl)
	}
}

// searchStub layers canned search results over the base stub.
type searchStub struct {
	*stubCatalog
	songs     []music.Song
	playlists []music.Playlist
}

func (s *searchStub) SearchSongs(ctx context.Context, query string, limit int) ([]music.Song, error) {
	return s.songs, nil
}

func (s *searchStub) SearchPlaylists(ctx context.Context, query string, limit int) ([]music.Playlist, error) {
	return s.playlists, nil
}
