package download

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"crescendo/internal/library"
	"crescendo/internal/provider"
	"crescendo/pkg/music"
)

// stubProvider satisfies the catalog port with canned download resolution;
// the coordinator only touches ResolveDownload and Name.
type stubProvider struct {
	resolves atomic.Int32
	resolve  func(externalID string) (*provider.DownloadInfo, error)
}

func (s *stubProvider) Name() string { return "stub" }

func (s *stubProvider) ResolveDownload(ctx context.Context, externalID string, preferred provider.Quality) (*provider.DownloadInfo, error) {
	s.resolves.Add(1)
	return s.resolve(externalID)
}

func (s *stubProvider) SearchSongs(context.Context, string, int) ([]music.Song, error) {
	return nil, nil
}
func (s *stubProvider) SearchAlbums(context.Context, string, int) ([]music.Album, error) {
	return nil, nil
}
func (s *stubProvider) SearchArtists(context.Context, string, int) ([]music.Artist, error) {
	return nil, nil
}
func (s *stubProvider) SearchPlaylists(context.Context, string, int) ([]music.Playlist, error) {
	return nil, nil
}
func (s *stubProvider) GetSong(context.Context, string) (*music.Song, error)        { return nil, nil }
func (s *stubProvider) GetAlbum(context.Context, string) (*music.Album, error)      { return nil, nil }
func (s *stubProvider) GetArtist(context.Context, string) (*music.Artist, error)    { return nil, nil }
func (s *stubProvider) GetArtistAlbums(context.Context, string) ([]music.Album, error) {
	return nil, nil
}
func (s *stubProvider) GetPlaylist(context.Context, string) (*music.Playlist, error) {
	return nil, nil
}
func (s *stubProvider) GetPlaylistTracks(context.Context, string) ([]music.Song, error) {
	return nil, nil
}
func (s *stubProvider) IsAvailable(context.Context) bool { return true }

func testSong() *music.Song {
	return &music.Song{
		ID:         "ext-stub-song-1",
		Title:      "Harder Better",
		Artist:     "Daft Punk",
		Album:      "Discovery",
		Track:      4,
		Provider:   "stub",
		ExternalID: "1",
	}
}

func newTestCoordinator(t *testing.T, stub *stubProvider) (*Coordinator, string) {
	t.Helper()
	root := t.TempDir()
	c := NewCoordinator(stub, library.NewIndex(root), root, provider.QualityFLAC, nil)
	return c, root
}

func TestFetchDownloadsAndPlaces(t *testing.T) {
	audio := strings.Repeat("flacdata", 1024)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "audio/flac")
		io.WriteString(w, audio)
	}))
	defer srv.Close()

	stub := &stubProvider{resolve: func(string) (*provider.DownloadInfo, error) {
		return &provider.DownloadInfo{URL: srv.URL, MimeType: "audio/flac"}, nil
	}}
	c, root := newTestCoordinator(t, stub)

	path, err := c.Fetch(context.Background(), testSong())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	want := filepath.Join(root, "Daft Punk", "Discovery", "04 - Harder Better.flac")
	if path != want {
		t.Errorf("path = %q, want %q", path, want)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading placed file: %v", err)
	}
	if string(data) != audio {
		t.Error("placed file differs from stream")
	}
	if _, err := os.Stat(path + ".part"); !os.IsNotExist(err) {
		t.Error("partial file left behind")
	}
}

func TestFetchSingleFlight(t *testing.T) {
	var hits atomic.Int32
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		<-release
		io.WriteString(w, "audio-bytes")
	}))
	defer srv.Close()

	stub := &stubProvider{resolve: func(string) (*provider.DownloadInfo, error) {
		return &provider.DownloadInfo{URL: srv.URL, MimeType: "audio/mpeg"}, nil
	}}
	c, _ := newTestCoordinator(t, stub)

	const n = 8
	var wg sync.WaitGroup
	paths := make([]string, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			paths[i], errs[i] = c.Fetch(context.Background(), testSong())
		}(i)
	}

	// Give all callers time to pile onto the one job before letting the
	// server respond.
	time.Sleep(200 * time.Millisecond)
	close(release)
	wg.Wait()

	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("Fetch[%d]: %v", i, errs[i])
		}
		if paths[i] != paths[0] {
			t.Errorf("divergent paths: %q vs %q", paths[i], paths[0])
		}
	}
	if got := stub.resolves.Load(); got != 1 {
		t.Errorf("resolve calls = %d, want 1", got)
	}
	if got := hits.Load(); got != 1 {
		t.Errorf("origin hits = %d, want 1", got)
	}
}

func TestFetchUsesLibraryOnRepeat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "audio-bytes")
	}))
	defer srv.Close()

	stub := &stubProvider{resolve: func(string) (*provider.DownloadInfo, error) {
		return &provider.DownloadInfo{URL: srv.URL, MimeType: "audio/mpeg"}, nil
	}}
	c, _ := newTestCoordinator(t, stub)

	first, err := c.Fetch(context.Background(), testSong())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	second, err := c.Fetch(context.Background(), testSong())
	if err != nil {
		t.Fatalf("repeat Fetch: %v", err)
	}
	if first != second {
		t.Errorf("paths differ: %q vs %q", first, second)
	}
	if got := stub.resolves.Load(); got != 1 {
		t.Errorf("resolve calls = %d, want 1 (second fetch must hit the library)", got)
	}
}

func TestFetchStreamProgressive(t *testing.T) {
	chunks := []string{"first-chunk|", "second-chunk|", "third-chunk"}
	gate := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fl := w.(http.Flusher)
		for _, chunk := range chunks {
			io.WriteString(w, chunk)
			fl.Flush()
			<-gate
		}
	}))
	defer srv.Close()

	stub := &stubProvider{resolve: func(string) (*provider.DownloadInfo, error) {
		return &provider.DownloadInfo{URL: srv.URL, MimeType: "audio/mpeg"}, nil
	}}
	c, _ := newTestCoordinator(t, stub)

	rc, mime, err := c.FetchStream(context.Background(), testSong())
	if err != nil {
		t.Fatalf("FetchStream: %v", err)
	}
	defer rc.Close()
	if mime != "audio/mpeg" {
		t.Errorf("mime = %q", mime)
	}

	// Reader and origin advance in lockstep: each gate release frees the
	// next chunk.
	var got strings.Builder
	buf := make([]byte, 64)
	for i := range chunks {
		n, rerr := rc.Read(buf)
		if rerr != nil {
			t.Fatalf("Read chunk %d: %v", i, rerr)
		}
		got.Write(buf[:n])
		gate <- struct{}{}
	}
	rest, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("draining: %v", err)
	}
	got.Write(rest)

	if got.String() != strings.Join(chunks, "") {
		t.Errorf("streamed %q", got.String())
	}
}

func TestFetchStreamAfterDownload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "finished-audio")
	}))
	defer srv.Close()

	stub := &stubProvider{resolve: func(string) (*provider.DownloadInfo, error) {
		return &provider.DownloadInfo{URL: srv.URL, MimeType: "audio/mpeg"}, nil
	}}
	c, _ := newTestCoordinator(t, stub)

	if _, err := c.Fetch(context.Background(), testSong()); err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	rc, _, err := c.FetchStream(context.Background(), testSong())
	if err != nil {
		t.Fatalf("FetchStream: %v", err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(data) != "finished-audio" {
		t.Errorf("got %q", data)
	}
	if got := stub.resolves.Load(); got != 1 {
		t.Errorf("resolve calls = %d, want 1", got)
	}
}

func TestFetchCancelRemovesPartial(t *testing.T) {
	started := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "partial-bytes")
		w.(http.Flusher).Flush()
		close(started)
		<-r.Context().Done()
	}))
	defer srv.Close()

	stub := &stubProvider{resolve: func(string) (*provider.DownloadInfo, error) {
		return &provider.DownloadInfo{URL: srv.URL, MimeType: "audio/mpeg"}, nil
	}}
	c, root := newTestCoordinator(t, stub)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := c.Fetch(ctx, testSong())
		done <- err
	}()

	<-started
	cancel()
	if err := <-done; err == nil {
		t.Fatal("expected cancellation error")
	}

	// The abandoned download cleans up its partial file.
	deadline := time.Now().Add(2 * time.Second)
	for {
		var parts []string
		filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
			if err == nil && strings.HasSuffix(path, ".part") {
				parts = append(parts, path)
			}
			return nil
		})
		if len(parts) == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("partial files left behind: %v", parts)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestFetchStripeDecryption(t *testing.T) {
	clear := make([]byte, stripeBlockSize*4+99)
	for i := range clear {
		clear[i] = byte(i * 7)
	}
	key := testKey()
	enc := stripeEncrypt(t, key, clear)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(enc)
	}))
	defer srv.Close()

	stub := &stubProvider{resolve: func(string) (*provider.DownloadInfo, error) {
		return &provider.DownloadInfo{
			URL:      srv.URL,
			MimeType: "audio/mpeg",
			Cipher:   provider.CipherBFStripe,
			Key:      key,
		}, nil
	}}
	c, _ := newTestCoordinator(t, stub)

	path, err := c.Fetch(context.Background(), testSong())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading placed file: %v", err)
	}
	if string(got) != string(clear) {
		t.Error("placed file is not the decrypted cleartext")
	}
}

func TestFetchResolveFailure(t *testing.T) {
	wantErr := provider.Errf(provider.KindNotFound, "stub", "gone")
	stub := &stubProvider{resolve: func(string) (*provider.DownloadInfo, error) {
		return nil, wantErr
	}}
	c, _ := newTestCoordinator(t, stub)

	_, err := c.Fetch(context.Background(), testSong())
	if !errors.Is(err, wantErr) {
		t.Fatalf("err = %v", err)
	}
	if got := stub.resolves.Load(); got != 1 {
		t.Errorf("resolve calls = %d, want 1 (not-found must not retry)", got)
	}
}

func TestFetchRetriesResolveOnAuthFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "audio-bytes")
	}))
	defer srv.Close()

	var calls atomic.Int32
	stub := &stubProvider{}
	stub.resolve = func(string) (*provider.DownloadInfo, error) {
		if calls.Add(1) == 1 {
			return nil, provider.Errf(provider.KindUnauthenticated, "stub", "token expired")
		}
		return &provider.DownloadInfo{URL: srv.URL, MimeType: "audio/mpeg"}, nil
	}
	c, _ := newTestCoordinator(t, stub)

	if _, err := c.Fetch(context.Background(), testSong()); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("resolve calls = %d, want 2", calls.Load())
	}
}

func TestFetchCollisionSuffix(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "other-rendition")
	}))
	defer srv.Close()

	stub := &stubProvider{resolve: func(string) (*provider.DownloadInfo, error) {
		return &provider.DownloadInfo{URL: srv.URL, MimeType: "audio/flac"}, nil
	}}
	c, root := newTestCoordinator(t, stub)

	occupied := filepath.Join(root, "Daft Punk", "Discovery", "04 - Harder Better.flac")
	os.MkdirAll(filepath.Dir(occupied), 0755)
	os.WriteFile(occupied, []byte("already here"), 0644)

	path, err := c.Fetch(context.Background(), testSong())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if path != filepath.Join(root, "Daft Punk", "Discovery", "04 - Harder Better (1).flac") {
		t.Errorf("path = %q", path)
	}
}

// gateTagger blocks inside Tag until released, holding the job open after the
// audio file has already been renamed into place.
type gateTagger struct {
	entered chan struct{}
	release chan struct{}
}

func (g *gateTagger) Tag(path string, song *music.Song) error {
	close(g.entered)
	<-g.release
	return nil
}

func TestFetchStreamJoinsAfterPlacement(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "placed-bytes")
	}))
	defer srv.Close()

	stub := &stubProvider{resolve: func(string) (*provider.DownloadInfo, error) {
		return &provider.DownloadInfo{URL: srv.URL, MimeType: "audio/mpeg"}, nil
	}}
	root := t.TempDir()
	tagger := &gateTagger{entered: make(chan struct{}), release: make(chan struct{})}
	c := NewCoordinator(stub, library.NewIndex(root), root, provider.QualityFLAC, tagger)

	done := make(chan error, 1)
	go func() {
		_, err := c.Fetch(context.Background(), testSong())
		done <- err
	}()

	// The download has been renamed into place but the job is still live:
	// a stream request arriving now must not depend on the .part name.
	<-tagger.entered

	rc, mime, err := c.FetchStream(context.Background(), testSong())
	if err != nil {
		close(tagger.release)
		t.Fatalf("FetchStream during tagging: %v", err)
	}
	defer rc.Close()
	if mime != "audio/mpeg" {
		t.Errorf("mime = %q", mime)
	}

	close(tagger.release)
	if err := <-done; err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(data) != "placed-bytes" {
		t.Errorf("streamed %q", data)
	}
}

func TestFetchStreamReaderStopsOnCancel(t *testing.T) {
	hold := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "early-bytes|")
		w.(http.Flusher).Flush()
		select {
		case <-hold:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(hold)

	stub := &stubProvider{resolve: func(string) (*provider.DownloadInfo, error) {
		return &provider.DownloadInfo{URL: srv.URL, MimeType: "audio/mpeg"}, nil
	}}
	c, _ := newTestCoordinator(t, stub)

	ctx, cancel := context.WithCancel(context.Background())
	rc, _, err := c.FetchStream(ctx, testSong())
	if err != nil {
		cancel()
		t.Fatalf("FetchStream: %v", err)
	}
	defer rc.Close()

	buf := make([]byte, 64)
	if _, err := rc.Read(buf); err != nil {
		cancel()
		t.Fatalf("first Read: %v", err)
	}

	// With the origin stalled, a disconnected client's read must return
	// instead of parking until the download moves again.
	cancel()
	readErr := make(chan error, 1)
	go func() {
		_, err := rc.Read(buf)
		readErr <- err
	}()
	select {
	case err := <-readErr:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Read after cancel: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Read still blocked after cancel")
	}
}

type recordingTagger struct {
	mu    sync.Mutex
	paths []string
}

func (rt *recordingTagger) Tag(path string, song *music.Song) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.paths = append(rt.paths, path)
	return nil
}

func TestFetchTagsPlacedFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "audio-bytes")
	}))
	defer srv.Close()

	stub := &stubProvider{resolve: func(string) (*provider.DownloadInfo, error) {
		return &provider.DownloadInfo{URL: srv.URL, MimeType: "audio/mpeg"}, nil
	}}
	root := t.TempDir()
	tagger := &recordingTagger{}
	c := NewCoordinator(stub, library.NewIndex(root), root, provider.QualityFLAC, tagger)

	path, err := c.Fetch(context.Background(), testSong())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(tagger.paths) != 1 || tagger.paths[0] != path {
		t.Errorf("tagged paths = %v, want [%s]", tagger.paths, path)
	}
}
