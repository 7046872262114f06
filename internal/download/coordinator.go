// Package download coordinates on-demand track fetches: one download per
// track fingerprint regardless of how many requests arrive, progressive
// streaming while bytes are still coming in, and atomic placement into the
// library tree.
package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"crescendo/internal/library"
	"crescendo/internal/provider"
	"crescendo/pkg/music"
)

const copyChunkSize = 32 * 1024

// Tagger writes metadata into a finished audio file. Tagging failures do not
// fail the download.
type Tagger interface {
	Tag(path string, song *music.Song) error
}

// Coordinator is the single-flight download engine. Concurrent requests for
// the same (provider, externalID) fingerprint join one in-flight job; the
// download is cancelled only when the last interested party leaves.
type Coordinator struct {
	provider provider.Provider
	index    *library.Index
	root     string
	quality  provider.Quality
	client   *provider.Client
	tagger   Tagger

	mu   sync.Mutex
	jobs map[string]*job
}

func NewCoordinator(p provider.Provider, index *library.Index, root string, quality provider.Quality, tagger Tagger) *Coordinator {
	return &Coordinator{
		provider: p,
		index:    index,
		root:     root,
		quality:  quality,
		client:   provider.NewClient("download", nil),
		tagger:   tagger,
		jobs:     make(map[string]*job),
	}
}

// job is one in-flight download. Its fields past cond are guarded by mu;
// waiters block on cond for both progress and completion.
type job struct {
	key    string
	cancel context.CancelFunc

	mu   sync.Mutex
	cond *sync.Cond
	// readPath is where a tailing client should open the audio: the .part
	// file while the download runs, the final path once it is placed.
	readPath  string
	mimeType  string
	written   int64
	done      bool
	err       error
	finalPath string
	waiters   int
}

func newJob(key string, cancel context.CancelFunc) *job {
	j := &job{key: key, cancel: cancel, waiters: 1}
	j.cond = sync.NewCond(&j.mu)
	return j
}

func fingerprint(song *music.Song) string {
	return song.Provider + ":" + song.ExternalID
}

// Fetch ensures the song exists in the library and returns its local path,
// blocking until the download completes. Joining an in-flight download for
// the same fingerprint never starts a second one.
func (c *Coordinator) Fetch(ctx context.Context, song *music.Song) (string, error) {
	if song.Provider == "" || song.ExternalID == "" {
		return "", fmt.Errorf("song %q has no provider identity", song.ID)
	}
	if path := c.index.Lookup(song.Provider, song.ExternalID); path != "" {
		c.index.Touch(song.Provider, song.ExternalID)
		return path, nil
	}

	j, started := c.join(song)
	if started {
		slog.Info("Starting download", "track", song.Title, "artist", song.Artist, "provider", song.Provider, "id", song.ExternalID)
	}
	defer c.leave(j)

	j.mu.Lock()
	for !j.done {
		if err := waitCond(ctx, j); err != nil {
			j.mu.Unlock()
			return "", err
		}
	}
	path, err := j.finalPath, j.err
	j.mu.Unlock()
	return path, err
}

// FetchStream returns an audio stream for the song along with its MIME type.
// Already-downloaded tracks stream from disk; otherwise the caller tails the
// in-flight download and receives bytes as they arrive. The returned reader
// must be closed.
func (c *Coordinator) FetchStream(ctx context.Context, song *music.Song) (io.ReadCloser, string, error) {
	if song.Provider == "" || song.ExternalID == "" {
		return nil, "", fmt.Errorf("song %q has no provider identity", song.ID)
	}
	if path := c.index.Lookup(song.Provider, song.ExternalID); path != "" {
		c.index.Touch(song.Provider, song.ExternalID)
		f, err := os.Open(path)
		if err != nil {
			return nil, "", err
		}
		return f, library.MimeForExtension(filepath.Ext(path)), nil
	}

	j, started := c.join(song)
	if started {
		slog.Info("Starting download", "track", song.Title, "artist", song.Artist, "provider", song.Provider, "id", song.ExternalID)
	}

	for {
		// Wait for a readable file to exist so the tail has something to
		// open.
		j.mu.Lock()
		for j.readPath == "" && !j.done {
			if err := waitCond(ctx, j); err != nil {
				j.mu.Unlock()
				c.leave(j)
				return nil, "", err
			}
		}
		if j.done && j.err != nil {
			err := j.err
			j.mu.Unlock()
			c.leave(j)
			return nil, "", err
		}
		readPath, mimeType := j.readPath, j.mimeType
		j.mu.Unlock()

		// The fd survives the rename to the final path: readers keep
		// draining the same inode after the download lands.
		f, err := os.Open(readPath)
		if err == nil {
			return &tailReader{ctx: ctx, c: c, j: j, f: f}, mimeType, nil
		}
		if !os.IsNotExist(err) {
			c.leave(j)
			return nil, "", fmt.Errorf("opening stream file: %w", err)
		}

		// The .part file moved (or was removed) between the snapshot and
		// the open. Wait for the job to publish its next path and retry.
		j.mu.Lock()
		for j.readPath == readPath && !j.done {
			if werr := waitCond(ctx, j); werr != nil {
				j.mu.Unlock()
				c.leave(j)
				return nil, "", werr
			}
		}
		j.mu.Unlock()
	}
}

// join attaches the caller to the job for song, creating and starting it when
// absent. Reports whether a new download was started.
func (c *Coordinator) join(song *music.Song) (*job, bool) {
	key := fingerprint(song)

	c.mu.Lock()
	defer c.mu.Unlock()

	if j, ok := c.jobs[key]; ok {
		j.mu.Lock()
		j.waiters++
		j.mu.Unlock()
		return j, false
	}

	ctx, cancel := context.WithCancel(context.Background())
	j := newJob(key, cancel)
	c.jobs[key] = j
	go c.run(ctx, j, song)
	return j, true
}

// leave detaches a waiter. The last one out cancels a still-running download.
func (c *Coordinator) leave(j *job) {
	j.mu.Lock()
	j.waiters--
	abandon := j.waiters == 0 && !j.done
	j.mu.Unlock()

	if abandon {
		slog.Info("Last client left, cancelling download", "key", j.key)
		j.cancel()
	}
}

// waitCond waits on j.cond, waking up if ctx is done. Caller holds j.mu.
func waitCond(ctx context.Context, j *job) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	stop := context.AfterFunc(ctx, func() {
		j.mu.Lock()
		j.cond.Broadcast()
		j.mu.Unlock()
	})
	j.cond.Wait()
	stop()
	return ctx.Err()
}

// run executes the download. The job lock is never held across network or
// disk I/O; progress is published under it in small critical sections.
func (c *Coordinator) run(ctx context.Context, j *job, song *music.Song) {
	finalPath, err := c.download(ctx, j, song)

	c.mu.Lock()
	delete(c.jobs, j.key)
	c.mu.Unlock()

	j.mu.Lock()
	j.done = true
	j.finalPath = finalPath
	j.err = err
	j.cond.Broadcast()
	j.mu.Unlock()

	if err != nil {
		if errors.Is(err, context.Canceled) || provider.IsKind(err, provider.KindCancelled) {
			slog.Info("Download cancelled", "key", j.key)
		} else {
			slog.Error("Download failed", "key", j.key, "error", err)
		}
		return
	}
	slog.Info("Download complete", "key", j.key, "path", finalPath)
}

func (c *Coordinator) download(ctx context.Context, j *job, song *music.Song) (string, error) {
	info, err := c.resolve(ctx, song)
	if err != nil {
		return "", err
	}

	resp, err := c.client.Stream(ctx, info.URL, nil)
	if err != nil {
		return "", fmt.Errorf("opening stream: %w", err)
	}
	defer resp.Body.Close()

	var src io.Reader = resp.Body
	if info.Cipher == provider.CipherBFStripe {
		src, err = NewStripeReader(resp.Body, info.Key)
		if err != nil {
			return "", provider.Wrap(provider.KindDecryption, c.provider.Name(), err)
		}
	} else if info.Cipher != provider.CipherNone {
		return "", provider.Errf(provider.KindDecryption, c.provider.Name(), "unsupported cipher %q", info.Cipher)
	}

	mimeType := info.MimeType
	if mimeType == "" {
		mimeType = resp.Header.Get("Content-Type")
	}
	ext := library.ExtensionForMime(mimeType)

	finalPath := library.ResolveCollision(library.TrackPath(c.root, song.AlbumArtistOrArtist(), song.Album, song.Title, song.Track, ext))
	if err := os.MkdirAll(filepath.Dir(finalPath), 0755); err != nil {
		return "", fmt.Errorf("creating album directory: %w", err)
	}

	partPath := finalPath + ".part"
	f, err := os.OpenFile(partPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return "", fmt.Errorf("creating partial file: %w", err)
	}

	j.mu.Lock()
	j.readPath = partPath
	j.mimeType = library.MimeForExtension("." + ext)
	j.cond.Broadcast()
	j.mu.Unlock()

	if err := c.copyStream(ctx, j, f, src); err != nil {
		f.Close()
		os.Remove(partPath)
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(partPath)
		return "", fmt.Errorf("closing partial file: %w", err)
	}

	if err := os.Rename(partPath, finalPath); err != nil {
		os.Remove(partPath)
		return "", fmt.Errorf("placing file: %w", err)
	}

	// Clients joining from here on must open the final path; the .part name
	// is gone.
	j.mu.Lock()
	j.readPath = finalPath
	j.cond.Broadcast()
	j.mu.Unlock()

	if c.tagger != nil {
		if err := c.tagger.Tag(finalPath, song); err != nil {
			slog.Warn("Tagging failed, keeping untagged audio", "path", finalPath, "error", err)
		}
	}

	if err := c.index.Register(song, finalPath); err != nil {
		slog.Warn("Could not persist library mapping", "path", finalPath, "error", err)
	}
	return finalPath, nil
}

// resolve asks the provider for a download URL, retrying once on an
// authentication failure so an expired session gets one refresh.
func (c *Coordinator) resolve(ctx context.Context, song *music.Song) (*provider.DownloadInfo, error) {
	info, err := c.provider.ResolveDownload(ctx, song.ExternalID, c.quality)
	if err == nil {
		return info, nil
	}
	if !provider.IsKind(err, provider.KindUnauthenticated) {
		return nil, err
	}
	slog.Warn("Download resolution rejected, retrying once", "provider", c.provider.Name(), "id", song.ExternalID)
	return c.provider.ResolveDownload(ctx, song.ExternalID, c.quality)
}

// copyStream drains src into f, publishing the byte count after each chunk.
func (c *Coordinator) copyStream(ctx context.Context, j *job, f *os.File, src io.Reader) error {
	buf := make([]byte, copyChunkSize)
	for {
		if err := ctx.Err(); err != nil {
			return provider.Wrap(provider.KindCancelled, c.provider.Name(), err)
		}

		n, rerr := src.Read(buf)
		if n > 0 {
			if _, werr := f.Write(buf[:n]); werr != nil {
				return fmt.Errorf("writing audio: %w", werr)
			}
			j.mu.Lock()
			j.written += int64(n)
			j.cond.Broadcast()
			j.mu.Unlock()
		}
		if rerr == io.EOF {
			return nil
		}
		if rerr != nil {
			if ctx.Err() != nil {
				return provider.Wrap(provider.KindCancelled, c.provider.Name(), ctx.Err())
			}
			return fmt.Errorf("reading stream: %w", rerr)
		}
	}
}

// tailReader streams a download in progress, blocking for more bytes until
// the job finishes or the reader's context is cancelled. Close detaches from
// the job; the last detaching reader aborts an unfinished download.
type tailReader struct {
	ctx context.Context
	c   *Coordinator
	j   *job
	f   *os.File

	off    int64
	closed bool
}

func (r *tailReader) Read(p []byte) (int, error) {
	j := r.j

	j.mu.Lock()
	for r.off >= j.written && !j.done {
		if err := waitCond(r.ctx, j); err != nil {
			j.mu.Unlock()
			return 0, err
		}
	}
	written, done, err := j.written, j.done, j.err
	j.mu.Unlock()

	if r.off >= written {
		if err != nil {
			return 0, err
		}
		if done {
			return 0, io.EOF
		}
	}

	limit := written - r.off
	if limit > int64(len(p)) {
		limit = int64(len(p))
	}
	n, rerr := r.f.ReadAt(p[:limit], r.off)
	r.off += int64(n)
	if rerr == io.EOF && r.off < written {
		rerr = io.ErrUnexpectedEOF
	}
	if rerr == io.EOF {
		rerr = nil
	}
	return n, rerr
}

func (r *tailReader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	r.c.leave(r.j)
	return r.f.Close()
}
