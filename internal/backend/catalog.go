package backend

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"crescendo/internal/provider"
	"crescendo/pkg/music"
	"crescendo/pkg/subsonic"
)

// Catalog is a request-scoped typed view of the media server's Subsonic API.
// It carries the calling client's own auth parameters upstream, so this
// server never needs backend credentials of its own.
type Catalog struct {
	b    *Backend
	auth url.Values
}

func (b *Backend) Catalog(auth url.Values) *Catalog {
	return &Catalog{b: b, auth: auth}
}

// get performs an upstream REST call and surfaces Subsonic-level errors as
// classified provider errors.
func (cat *Catalog) get(ctx context.Context, view string, params url.Values) (*subsonic.Response, error) {
	q := url.Values{}
	for k, vs := range cat.auth {
		q[k] = vs
	}
	for k, vs := range params {
		q[k] = vs
	}
	q.Set("f", "xml")

	u := fmt.Sprintf("%s/rest/%s?%s", cat.b.TargetURL(), view, q.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, provider.Errf(provider.KindTransient, "backend", "building %s request: %w", view, err)
	}

	resp, err := cat.b.client.Do(req)
	if err != nil {
		return nil, provider.Errf(provider.KindTransient, "backend", "calling %s: %w", view, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, provider.Errf(provider.KindUnauthenticated, "backend", "HTTP 401 from %s", view)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, provider.Errf(provider.KindTransient, "backend", "HTTP %d from %s", resp.StatusCode, view)
	}

	var out subsonic.Response
	if err := xml.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, provider.Errf(provider.KindTransient, "backend", "decoding %s response: %w", view, err)
	}
	if out.Error != nil {
		return nil, classify(view, out.Error)
	}
	return &out, nil
}

// classify maps Subsonic error codes onto the shared error kinds. Wrong
// credentials must surface as an authentication failure so the client sees
// its own login problem, not a server fault.
func classify(view string, e *subsonic.Error) error {
	kind := provider.KindTransient
	switch e.Code {
	case subsonic.ErrWrongUserPass:
		kind = provider.KindUnauthenticated
	case subsonic.ErrNotAuthorized:
		kind = provider.KindUnauthorized
	case subsonic.ErrDataNotFound:
		kind = provider.KindNotFound
	}
	return provider.Errf(kind, "backend", "%s: code %d: %s", view, e.Code, e.Message)
}

func (cat *Catalog) search3(ctx context.Context, query string, songs, albums, artists, offset int) (*subsonic.SearchResult3, error) {
	params := url.Values{}
	params.Set("query", query)
	params.Set("songCount", strconv.Itoa(songs))
	params.Set("albumCount", strconv.Itoa(albums))
	params.Set("artistCount", strconv.Itoa(artists))
	if offset > 0 {
		params.Set("songOffset", strconv.Itoa(offset))
		params.Set("albumOffset", strconv.Itoa(offset))
		params.Set("artistOffset", strconv.Itoa(offset))
	}

	resp, err := cat.get(ctx, "search3.view", params)
	if err != nil {
		return nil, err
	}
	if resp.SearchResult3 == nil {
		return &subsonic.SearchResult3{}, nil
	}
	return resp.SearchResult3, nil
}

func (cat *Catalog) SearchSongs(ctx context.Context, query string, count, offset int) ([]music.Song, error) {
	res, err := cat.search3(ctx, query, count, 0, 0, offset)
	if err != nil {
		return nil, err
	}
	out := make([]music.Song, 0, len(res.Song))
	for _, s := range res.Song {
		out = append(out, SongFromWire(s))
	}
	return out, nil
}

func (cat *Catalog) SearchAlbums(ctx context.Context, query string, count, offset int) ([]music.Album, error) {
	res, err := cat.search3(ctx, query, 0, count, 0, offset)
	if err != nil {
		return nil, err
	}
	out := make([]music.Album, 0, len(res.Album))
	for _, a := range res.Album {
		out = append(out, AlbumFromWire(a))
	}
	return out, nil
}

func (cat *Catalog) SearchArtists(ctx context.Context, query string, count, offset int) ([]music.Artist, error) {
	res, err := cat.search3(ctx, query, 0, 0, count, offset)
	if err != nil {
		return nil, err
	}
	out := make([]music.Artist, 0, len(res.Artist))
	for _, a := range res.Artist {
		out = append(out, ArtistFromWire(a))
	}
	return out, nil
}

// GetSong fetches one local song by its backend ID.
func (cat *Catalog) GetSong(ctx context.Context, id string) (*music.Song, error) {
	params := url.Values{}
	params.Set("id", id)

	resp, err := cat.get(ctx, "getSong.view", params)
	if err != nil {
		return nil, err
	}
	if resp.Song == nil {
		return nil, provider.Errf(provider.KindNotFound, "backend", "song %s not found", id)
	}
	song := SongFromWire(*resp.Song)
	return &song, nil
}

// SongFromWire maps a backend song onto the neutral model; the result is
// flagged local so merged results can tell the sources apart.
func SongFromWire(s subsonic.Song) music.Song {
	return music.Song{
		ID:       s.ID,
		Title:    s.Title,
		Artist:   s.Artist,
		ArtistID: s.ArtistID,
		Album:    s.Album,
		AlbumID:  s.AlbumID,
		Track:    s.Track,
		Disc:     s.DiscNumber,
		Duration: s.Duration,
		Year:     s.Year,
		Genre:    s.Genre,
		BPM:      s.BPM,
		CoverURL: s.CoverArt,
		IsLocal:  true,
	}
}

func AlbumFromWire(a subsonic.Album) music.Album {
	return music.Album{
		ID:        a.ID,
		Title:     a.Name,
		Artist:    a.Artist,
		ArtistID:  a.ArtistID,
		Year:      a.Year,
		SongCount: a.SongCount,
		Genre:     a.Genre,
		CoverURL:  a.CoverArt,
		IsLocal:   true,
	}
}

func ArtistFromWire(a subsonic.Artist) music.Artist {
	return music.Artist{
		ID:         a.ID,
		Name:       a.Name,
		AlbumCount: a.AlbumCount,
		ImageURL:   a.CoverArt,
		IsLocal:    true,
	}
}
