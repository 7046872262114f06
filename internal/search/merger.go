// Package search merges the local backend catalog with an external provider
// into one ranked result set.
package search

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"crescendo/internal/match"
	"crescendo/internal/provider"
	"crescendo/pkg/music"
)

// LocalCatalog is the slice of the backend media server the merger needs.
type LocalCatalog interface {
	SearchSongs(ctx context.Context, query string, count, offset int) ([]music.Song, error)
	SearchAlbums(ctx context.Context, query string, count, offset int) ([]music.Album, error)
	SearchArtists(ctx context.Context, query string, count, offset int) ([]music.Artist, error)
}

// Options carries the per-category paging parameters of a search3 call.
// Playlists come from the provider only, so they get a count but no offset.
type Options struct {
	SongCount     int
	SongOffset    int
	AlbumCount    int
	AlbumOffset   int
	ArtistCount   int
	ArtistOffset  int
	PlaylistCount int
}

// Result is a merged, ranked search response.
type Result struct {
	Songs     []music.Song
	Albums    []music.Album
	Artists   []music.Artist
	Playlists []music.Playlist
}

// Merger fans a query out to the local catalog and the external provider and
// interleaves the results by match score. Provider outages degrade the search
// to local-only; local failures are authoritative and propagate.
type Merger struct {
	local LocalCatalog
	prov  provider.Provider

	// keep filters external songs (lyrics rating etc); nil keeps everything.
	keep func(music.Song) bool
}

func NewMerger(local LocalCatalog, prov provider.Provider, keep func(music.Song) bool) *Merger {
	return &Merger{local: local, prov: prov, keep: keep}
}

// CleanQuery strips the quoting some clients wrap around search terms.
func CleanQuery(query string) string {
	q := strings.TrimSpace(query)
	for len(q) >= 2 {
		first, last := q[0], q[len(q)-1]
		if (first == '"' && last == '"') || (first == '\'' && last == '\'') {
			q = strings.TrimSpace(q[1 : len(q)-1])
			continue
		}
		break
	}
	return q
}

func (m *Merger) Search(ctx context.Context, query string, opt Options) (*Result, error) {
	query = CleanQuery(query)
	if query == "" {
		return &Result{}, nil
	}

	var (
		localSongs, extSongs     []music.Song
		localAlbums, extAlbums   []music.Album
		localArtists, extArtists []music.Artist
		extPlaylists             []music.Playlist
	)

	// Over-fetch beyond the page so ranking decides what survives the cut,
	// not arrival order.
	fetch := func(count, offset int) int { return count + offset }

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		localSongs, err = m.local.SearchSongs(gctx, query, fetch(opt.SongCount, opt.SongOffset), 0)
		return err
	})
	g.Go(func() error {
		var err error
		localAlbums, err = m.local.SearchAlbums(gctx, query, fetch(opt.AlbumCount, opt.AlbumOffset), 0)
		return err
	})
	g.Go(func() error {
		var err error
		localArtists, err = m.local.SearchArtists(gctx, query, fetch(opt.ArtistCount, opt.ArtistOffset), 0)
		return err
	})
	if m.prov != nil {
		g.Go(func() error {
			var err error
			extSongs, err = m.prov.SearchSongs(gctx, query, fetch(opt.SongCount, opt.SongOffset))
			if err != nil {
				slog.Warn("Provider song search failed, serving local only", "error", err)
				extSongs = nil
			}
			return nil
		})
		g.Go(func() error {
			var err error
			extAlbums, err = m.prov.SearchAlbums(gctx, query, fetch(opt.AlbumCount, opt.AlbumOffset))
			if err != nil {
				slog.Warn("Provider album search failed, serving local only", "error", err)
				extAlbums = nil
			}
			return nil
		})
		g.Go(func() error {
			var err error
			extArtists, err = m.prov.SearchArtists(gctx, query, fetch(opt.ArtistCount, opt.ArtistOffset))
			if err != nil {
				slog.Warn("Provider artist search failed, serving local only", "error", err)
				extArtists = nil
			}
			return nil
		})
		if opt.PlaylistCount > 0 {
			g.Go(func() error {
				var err error
				extPlaylists, err = m.prov.SearchPlaylists(gctx, query, opt.PlaylistCount)
				if err != nil {
					slog.Warn("Provider playlist search failed", "error", err)
					extPlaylists = nil
				}
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if m.keep != nil {
		extSongs = filterSongs(extSongs, m.keep)
	}

	return &Result{
		Songs:     page(m.rankSongs(query, localSongs, extSongs), opt.SongCount, opt.SongOffset),
		Albums:    page(m.rankAlbums(query, localAlbums, extAlbums), opt.AlbumCount, opt.AlbumOffset),
		Artists:   page(m.rankArtists(query, localArtists, extArtists), opt.ArtistCount, opt.ArtistOffset),
		Playlists: page(m.rankPlaylists(query, extPlaylists), opt.PlaylistCount, 0),
	}, nil
}

func filterSongs(songs []music.Song, keep func(music.Song) bool) []music.Song {
	kept := songs[:0]
	for _, s := range songs {
		if keep(s) {
			kept = append(kept, s)
		}
	}
	return kept
}

type ranked[T any] struct {
	item  T
	score int
}

func sortRanked[T any](rs []ranked[T]) []T {
	// Stable: equal scores keep source order, which puts local results
	// ahead of unboosted external ones.
	sort.SliceStable(rs, func(i, j int) bool {
		return rs[i].score > rs[j].score
	})
	out := make([]T, len(rs))
	for i, r := range rs {
		out[i] = r.item
	}
	return out
}

// rankSongs scores and interleaves both sources. External results get a small
// boost so the wider catalog wins ties among otherwise equal matches.
func (m *Merger) rankSongs(query string, local, ext []music.Song) []music.Song {
	rs := make([]ranked[music.Song], 0, len(local)+len(ext))
	for _, s := range local {
		s.IsLocal = true
		rs = append(rs, ranked[music.Song]{s, match.ScoreRecord(query, s.Title, s.Artist, s.Album)})
	}
	for _, s := range ext {
		rs = append(rs, ranked[music.Song]{s, match.ExternalBoost(match.ScoreRecord(query, s.Title, s.Artist, s.Album))})
	}
	return sortRanked(rs)
}

func (m *Merger) rankAlbums(query string, local, ext []music.Album) []music.Album {
	rs := make([]ranked[music.Album], 0, len(local)+len(ext))
	for _, a := range local {
		a.IsLocal = true
		rs = append(rs, ranked[music.Album]{a, match.ScoreRecord(query, a.Title, a.Artist)})
	}
	for _, a := range ext {
		rs = append(rs, ranked[music.Album]{a, match.ExternalBoost(match.ScoreRecord(query, a.Title, a.Artist))})
	}
	return sortRanked(rs)
}

// rankArtists additionally deduplicates by case-insensitive name: an artist
// present locally wins over the provider's copy of the same name.
func (m *Merger) rankArtists(query string, local, ext []music.Artist) []music.Artist {
	seen := make(map[string]bool, len(local))
	rs := make([]ranked[music.Artist], 0, len(local)+len(ext))

	for _, a := range local {
		name := strings.ToLower(strings.TrimSpace(a.Name))
		if seen[name] {
			continue
		}
		seen[name] = true
		a.IsLocal = true
		rs = append(rs, ranked[music.Artist]{a, match.ScoreRecord(query, a.Name)})
	}
	for _, a := range ext {
		name := strings.ToLower(strings.TrimSpace(a.Name))
		if seen[name] {
			continue
		}
		seen[name] = true
		rs = append(rs, ranked[music.Artist]{a, match.ExternalBoost(match.ScoreRecord(query, a.Name))})
	}
	return sortRanked(rs)
}

// rankPlaylists orders the provider's playlists by name match; the backend
// has no playlist search, so there is nothing to merge against.
func (m *Merger) rankPlaylists(query string, ext []music.Playlist) []music.Playlist {
	rs := make([]ranked[music.Playlist], 0, len(ext))
	for _, p := range ext {
		rs = append(rs, ranked[music.Playlist]{p, match.ScoreRecord(query, p.Name, p.Curator)})
	}
	return sortRanked(rs)
}

func page[T any](items []T, count, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if count > 0 && count < len(items) {
		items = items[:count]
	}
	return items
}
