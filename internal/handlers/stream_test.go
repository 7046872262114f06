package handlers

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"crescendo/internal/backend"
	"crescendo/internal/download"
	"crescendo/internal/library"
	"crescendo/internal/provider"
	"crescendo/pkg/music"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubCatalog struct {
	song    *music.Song
	resolve func() (*provider.DownloadInfo, error)
}

func (s *stubCatalog) Name() string { return "stub" }

func (s *stubCatalog) GetSong(ctx context.Context, externalID string) (*music.Song, error) {
	if s.song == nil || s.song.ExternalID != externalID {
		return nil, provider.Errf(provider.KindNotFound, "stub", "no song %s", externalID)
	}
	return s.song, nil
}

func (s *stubCatalog) ResolveDownload(ctx context.Context, externalID string, preferred provider.Quality) (*provider.DownloadInfo, error) {
	return s.resolve()
}

func (s *stubCatalog) SearchSongs(context.Context, string, int) ([]music.Song, error) {
	return nil, nil
}
func (s *stubCatalog) SearchAlbums(context.Context, string, int) ([]music.Album, error) {
	return nil, nil
}
func (s *stubCatalog) SearchArtists(context.Context, string, int) ([]music.Artist, error) {
	return nil, nil
}
func (s *stubCatalog) SearchPlaylists(context.Context, string, int) ([]music.Playlist, error) {
	return nil, nil
}
func (s *stubCatalog) GetAlbum(context.Context, string) (*music.Album, error)   { return nil, nil }
func (s *stubCatalog) GetArtist(context.Context, string) (*music.Artist, error) { return nil, nil }
func (s *stubCatalog) GetArtistAlbums(context.Context, string) ([]music.Album, error) {
	return nil, nil
}
func (s *stubCatalog) GetPlaylist(context.Context, string) (*music.Playlist, error) {
	return nil, nil
}
func (s *stubCatalog) GetPlaylistTracks(context.Context, string) ([]music.Song, error) {
	return nil, nil
}
func (s *stubCatalog) IsAvailable(context.Context) bool { return true }

type streamFixture struct {
	router *gin.Engine
	index  *library.Index
	root   string
	stub   *stubCatalog
	proxy  *httptest.Server
}

func newStreamFixture(t *testing.T) *streamFixture {
	t.Helper()
	root := t.TempDir()

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "proxied-by-backend")
	}))
	t.Cleanup(upstream.Close)

	b, err := backend.New(upstream.URL)
	if err != nil {
		t.Fatal(err)
	}

	stub := &stubCatalog{}
	index := library.NewIndex(root)
	coord := download.NewCoordinator(stub, index, root, provider.QualityFLAC, nil)

	h := NewStreamHandler(stub, b, coord, index)
	router := gin.New()
	router.GET("/rest/stream", h.Stream)
	router.GET("/rest/download", h.Download)

	return &streamFixture{router: router, index: index, root: root, stub: stub, proxy: upstream}
}

func (fx *streamFixture) placeLocalFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(fx.root, "Daft Punk", "Discovery", "01 - One More Time.mp3")
	os.MkdirAll(filepath.Dir(path), 0755)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	song := &music.Song{Provider: "stub", ExternalID: "42", Title: "One More Time"}
	if err := fx.index.Register(song, path); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestStreamServesLibraryFileWithRanges(t *testing.T) {
	fx := newStreamFixture(t)
	fx.placeLocalFile(t, "0123456789abcdef")

	req := httptest.NewRequest(http.MethodGet, "/rest/stream?id=ext-stub-song-42", nil)
	req.Header.Set("Range", "bytes=4-9")
	w := httptest.NewRecorder()
	fx.router.ServeHTTP(w, req)

	if w.Code != http.StatusPartialContent {
		t.Fatalf("status = %d, want 206", w.Code)
	}
	if got := w.Header().Get("Content-Range"); got != "bytes 4-9/16" {
		t.Errorf("Content-Range = %q", got)
	}
	if w.Body.String() != "456789" {
		t.Errorf("body = %q", w.Body.String())
	}
	if got := w.Header().Get("Content-Type"); got != "audio/mpeg" {
		t.Errorf("Content-Type = %q", got)
	}
}

func TestStreamFullLibraryFile(t *testing.T) {
	fx := newStreamFixture(t)
	fx.placeLocalFile(t, "full-track-bytes")

	req := httptest.NewRequest(http.MethodGet, "/rest/stream?id=ext-stub-song-42", nil)
	w := httptest.NewRecorder()
	fx.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if w.Body.String() != "full-track-bytes" {
		t.Errorf("body = %q", w.Body.String())
	}
	if w.Header().Get("Accept-Ranges") != "bytes" {
		t.Errorf("Accept-Ranges = %q", w.Header().Get("Accept-Ranges"))
	}
}

func TestStreamFetchesExternalOnDemand(t *testing.T) {
	fx := newStreamFixture(t)

	cdn := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "fresh-download-bytes")
	}))
	defer cdn.Close()

	fx.stub.song = &music.Song{
		ID: "ext-stub-song-7", Title: "Aerodynamic", Artist: "Daft Punk",
		Album: "Discovery", Track: 2, Provider: "stub", ExternalID: "7",
	}
	fx.stub.resolve = func() (*provider.DownloadInfo, error) {
		return &provider.DownloadInfo{URL: cdn.URL, MimeType: "audio/mpeg"}, nil
	}

	req := httptest.NewRequest(http.MethodGet, "/rest/stream?id=ext-stub-song-7", nil)
	w := httptest.NewRecorder()
	fx.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if w.Body.String() != "fresh-download-bytes" {
		t.Errorf("body = %q", w.Body.String())
	}

	// The download also landed in the library.
	if path := fx.index.Lookup("stub", "7"); path == "" {
		t.Error("download not registered in library index")
	}
}

func TestStreamLocalIDPassesThrough(t *testing.T) {
	fx := newStreamFixture(t)

	// The reverse proxy needs a real server-side ResponseWriter, so this
	// test goes through the network instead of a recorder.
	srv := httptest.NewServer(fx.router)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/rest/stream?id=12ab34")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading body: %v", err)
	}
	if string(body) != "proxied-by-backend" {
		t.Errorf("body = %q, want backend passthrough", body)
	}
}

func TestStreamMissingID(t *testing.T) {
	fx := newStreamFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/rest/stream", nil)
	w := httptest.NewRecorder()
	fx.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if body := w.Body.String(); !strings.Contains(body, `code="10"`) {
		t.Errorf("body = %q, want required-parameter error", body)
	}
}

func TestDownloadBlocksUntilComplete(t *testing.T) {
	fx := newStreamFixture(t)

	cdn := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "complete-file")
	}))
	defer cdn.Close()

	fx.stub.song = &music.Song{
		ID: "ext-stub-song-9", Title: "Voyager", Artist: "Daft Punk",
		Album: "Discovery", Track: 9, Provider: "stub", ExternalID: "9",
	}
	fx.stub.resolve = func() (*provider.DownloadInfo, error) {
		return &provider.DownloadInfo{URL: cdn.URL, MimeType: "audio/mpeg"}, nil
	}

	req := httptest.NewRequest(http.MethodGet, "/rest/download?id=ext-stub-song-9", nil)
	w := httptest.NewRecorder()
	fx.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if w.Body.String() != "complete-file" {
		t.Errorf("body = %q", w.Body.String())
	}
	if cd := w.Header().Get("Content-Disposition"); !strings.Contains(cd, "attachment") {
		t.Errorf("Content-Disposition = %q", cd)
	}
}
