// Package qobuz implements the signed-request provider. Catalog reads only
// need the app id; stream URL issuance additionally requires a user auth
// token and an md5 request signature computed from the app secret.
package qobuz

import (
	"context"
	"crypto/md5"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"crescendo/internal/provider"
	"crescendo/pkg/music"
)

const Name = "qobuz"

const apiBase = "https://www.qobuz.com/api.json/0.2"

type Config struct {
	AppID         string
	AppSecret     string
	UserAuthToken string

	// Overridable for tests.
	APIBase string

	// Overridable for tests; defaults to time.Now.
	Now func() time.Time
}

type Qobuz struct {
	client *provider.Client
	cache  *provider.Cache
	cfg    Config
}

func New(cfg Config, cache *provider.Cache) *Qobuz {
	if cfg.APIBase == "" {
		cfg.APIBase = apiBase
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Qobuz{
		client: provider.NewClient(Name, nil),
		cache:  cache,
		cfg:    cfg,
	}
}

func (q *Qobuz) Name() string { return Name }

func (q *Qobuz) header() http.Header {
	h := http.Header{"X-App-Id": {q.cfg.AppID}}
	if q.cfg.UserAuthToken != "" {
		h.Set("X-User-Auth-Token", q.cfg.UserAuthToken)
	}
	return h
}

// formatID maps a quality preference onto the service's numeric format codes.
func formatID(pref provider.Quality) int {
	switch pref {
	case provider.QualityHiRes:
		return 27 // FLAC up to 24-bit/192kHz
	case provider.QualityFLAC:
		return 6 // FLAC 16-bit/44.1kHz
	default:
		return 5 // MP3 320
	}
}

type qobuzTrack struct {
	ID              int64  `json:"id"`
	Title           string `json:"title"`
	Duration        int    `json:"duration"`
	TrackNumber     int    `json:"track_number"`
	MediaNumber     int    `json:"media_number"`
	ISRC            string `json:"isrc"`
	Copyright       string `json:"copyright"`
	ParentalWarning bool   `json:"parental_warning"`
	Performer       struct {
		ID   int64  `json:"id"`
		Name string `json:"name"`
	} `json:"performer"`
	Album struct {
		ID    string `json:"id"`
		Title string `json:"title"`
		Image struct {
			Small string `json:"small"`
			Large string `json:"large"`
		} `json:"image"`
		ReleasedAt int64 `json:"released_at"`
		Genre      struct {
			Name string `json:"name"`
		} `json:"genre"`
		Artist struct {
			ID   int64  `json:"id"`
			Name string `json:"name"`
		} `json:"artist"`
	} `json:"album"`
}

func songFromQobuzTrack(tr qobuzTrack) music.Song {
	flag := music.ExplicitClean
	if tr.ParentalWarning {
		flag = music.ExplicitExplicit
	}
	year := 0
	if tr.Album.ReleasedAt > 0 {
		year = time.Unix(tr.Album.ReleasedAt, 0).UTC().Year()
	}
	return music.Song{
		ID:          music.BuildID(Name, music.KindSong, fmt.Sprintf("%d", tr.ID)),
		Title:       tr.Title,
		Artist:      tr.Performer.Name,
		ArtistID:    music.BuildID(Name, music.KindArtist, fmt.Sprintf("%d", tr.Performer.ID)),
		AlbumArtist: tr.Album.Artist.Name,
		Album:       tr.Album.Title,
		AlbumID:     music.BuildID(Name, music.KindAlbum, tr.Album.ID),
		Track:       tr.TrackNumber,
		Disc:        max(tr.MediaNumber, 1),
		Duration:    tr.Duration,
		Year:        year,
		Genre:       tr.Album.Genre.Name,
		ISRC:        tr.ISRC,
		Explicit:    flag,
		Copyright:   tr.Copyright,
		CoverURL:    tr.Album.Image.Small,
		CoverURLBig: tr.Album.Image.Large,
		Provider:    Name,
		ExternalID:  fmt.Sprintf("%d", tr.ID),
	}
}

func (q *Qobuz) SearchSongs(ctx context.Context, query string, limit int) ([]music.Song, error) {
	var out []music.Song
	cacheKey := "qobuz:search:songs:" + query
	if q.cache.Get(ctx, cacheKey, &out) {
		return out, nil
	}

	var result struct {
		Tracks struct {
			Items []qobuzTrack `json:"items"`
		} `json:"tracks"`
	}
	u := fmt.Sprintf("%s/track/search?query=%s&limit=%d", q.cfg.APIBase, url.QueryEscape(query), limit)
	if err := q.client.GetJSON(ctx, u, &result, q.header()); err != nil {
		return nil, err
	}

	for _, tr := range result.Tracks.Items {
		out = append(out, songFromQobuzTrack(tr))
	}
	q.cache.Set(ctx, cacheKey, out)
	return out, nil
}

type qobuzAlbum struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Image struct {
		Small string `json:"small"`
		Large string `json:"large"`
	} `json:"image"`
	ReleasedAt  int64 `json:"released_at"`
	TracksCount int   `json:"tracks_count"`
	Genre       struct {
		Name string `json:"name"`
	} `json:"genre"`
	Artist struct {
		ID   int64  `json:"id"`
		Name string `json:"name"`
	} `json:"artist"`
	Tracks struct {
		Items []qobuzTrack `json:"items"`
	} `json:"tracks"`
}

func albumFromQobuz(al qobuzAlbum) music.Album {
	year := 0
	if al.ReleasedAt > 0 {
		year = time.Unix(al.ReleasedAt, 0).UTC().Year()
	}
	return music.Album{
		ID:         music.BuildID(Name, music.KindAlbum, al.ID),
		Title:      al.Title,
		Artist:     al.Artist.Name,
		ArtistID:   music.BuildID(Name, music.KindArtist, fmt.Sprintf("%d", al.Artist.ID)),
		Year:       year,
		SongCount:  al.TracksCount,
		Genre:      al.Genre.Name,
		CoverURL:   al.Image.Small,
		Provider:   Name,
		ExternalID: al.ID,
	}
}

func (q *Qobuz) SearchAlbums(ctx context.Context, query string, limit int) ([]music.Album, error) {
	var result struct {
		Albums struct {
			Items []qobuzAlbum `json:"items"`
		} `json:"albums"`
	}
	u := fmt.Sprintf("%s/album/search?query=%s&limit=%d", q.cfg.APIBase, url.QueryEscape(query), limit)
	if err := q.client.GetJSON(ctx, u, &result, q.header()); err != nil {
		return nil, err
	}

	var out []music.Album
	for _, al := range result.Albums.Items {
		out = append(out, albumFromQobuz(al))
	}
	return out, nil
}

func (q *Qobuz) SearchArtists(ctx context.Context, query string, limit int) ([]music.Artist, error) {
	var result struct {
		Artists struct {
			Items []struct {
				ID          int64  `json:"id"`
				Name        string `json:"name"`
				AlbumsCount int    `json:"albums_count"`
				Image       struct {
					Medium string `json:"medium"`
				} `json:"image"`
			} `json:"items"`
		} `json:"artists"`
	}
	u := fmt.Sprintf("%s/artist/search?query=%s&limit=%d", q.cfg.APIBase, url.QueryEscape(query), limit)
	if err := q.client.GetJSON(ctx, u, &result, q.header()); err != nil {
		return nil, err
	}

	var out []music.Artist
	for _, ar := range result.Artists.Items {
		out = append(out, music.Artist{
			ID:         music.BuildID(Name, music.KindArtist, fmt.Sprintf("%d", ar.ID)),
			Name:       ar.Name,
			AlbumCount: ar.AlbumsCount,
			ImageURL:   ar.Image.Medium,
			Provider:   Name,
			ExternalID: fmt.Sprintf("%d", ar.ID),
		})
	}
	return out, nil
}

func (q *Qobuz) SearchPlaylists(ctx context.Context, query string, limit int) ([]music.Playlist, error) {
	var result struct {
		Playlists struct {
			Items []struct {
				ID          int64  `json:"id"`
				Name        string `json:"name"`
				Description string `json:"description"`
				TracksCount int    `json:"tracks_count"`
				Duration    int    `json:"duration"`
				Owner       struct {
					Name string `json:"name"`
				} `json:"owner"`
			} `json:"items"`
		} `json:"playlists"`
	}
	u := fmt.Sprintf("%s/playlist/search?query=%s&limit=%d", q.cfg.APIBase, url.QueryEscape(query), limit)
	if err := q.client.GetJSON(ctx, u, &result, q.header()); err != nil {
		return nil, err
	}

	var out []music.Playlist
	for _, pl := range result.Playlists.Items {
		out = append(out, music.Playlist{
			ID:          music.BuildID(Name, music.KindPlaylist, fmt.Sprintf("%d", pl.ID)),
			Name:        pl.Name,
			Description: pl.Description,
			Curator:     pl.Owner.Name,
			Provider:    Name,
			ExternalID:  fmt.Sprintf("%d", pl.ID),
			TrackCount:  pl.TracksCount,
			Duration:    pl.Duration,
		})
	}
	return out, nil
}

func (q *Qobuz) GetSong(ctx context.Context, externalID string) (*music.Song, error) {
	var song *music.Song
	cacheKey := "qobuz:song:" + externalID
	if q.cache.Get(ctx, cacheKey, &song) {
		return song, nil
	}

	var tr qobuzTrack
	u := fmt.Sprintf("%s/track/get?track_id=%s", q.cfg.APIBase, url.QueryEscape(externalID))
	if err := q.client.GetJSON(ctx, u, &tr, q.header()); err != nil {
		return nil, err
	}
	if tr.ID == 0 {
		return nil, provider.Errf(provider.KindNotFound, Name, "track %s not found", externalID)
	}

	mapped := songFromQobuzTrack(tr)
	song = &mapped
	q.cache.Set(ctx, cacheKey, song)
	return song, nil
}

func (q *Qobuz) GetAlbum(ctx context.Context, externalID string) (*music.Album, error) {
	var al qobuzAlbum
	u := fmt.Sprintf("%s/album/get?album_id=%s", q.cfg.APIBase, url.QueryEscape(externalID))
	if err := q.client.GetJSON(ctx, u, &al, q.header()); err != nil {
		return nil, err
	}
	if al.ID == "" {
		return nil, provider.Errf(provider.KindNotFound, Name, "album %s not found", externalID)
	}

	album := albumFromQobuz(al)
	for i, tr := range al.Tracks.Items {
		if tr.Album.Title == "" {
			tr.Album.ID = al.ID
			tr.Album.Title = al.Title
			tr.Album.Image = al.Image
			tr.Album.ReleasedAt = al.ReleasedAt
			tr.Album.Genre = al.Genre
			tr.Album.Artist = al.Artist
		}
		if tr.Performer.Name == "" {
			tr.Performer.ID = al.Artist.ID
			tr.Performer.Name = al.Artist.Name
		}
		mapped := songFromQobuzTrack(tr)
		if mapped.Track == 0 {
			mapped.Track = i + 1
		}
		album.Songs = append(album.Songs, mapped)
	}
	return &album, nil
}

func (q *Qobuz) GetArtist(ctx context.Context, externalID string) (*music.Artist, error) {
	var result struct {
		ID          int64  `json:"id"`
		Name        string `json:"name"`
		AlbumsCount int    `json:"albums_count"`
		Image       struct {
			Medium string `json:"medium"`
		} `json:"image"`
	}
	u := fmt.Sprintf("%s/artist/get?artist_id=%s", q.cfg.APIBase, url.QueryEscape(externalID))
	if err := q.client.GetJSON(ctx, u, &result, q.header()); err != nil {
		return nil, err
	}
	if result.ID == 0 {
		return nil, provider.Errf(provider.KindNotFound, Name, "artist %s not found", externalID)
	}
	return &music.Artist{
		ID:         music.BuildID(Name, music.KindArtist, fmt.Sprintf("%d", result.ID)),
		Name:       result.Name,
		AlbumCount: result.AlbumsCount,
		ImageURL:   result.Image.Medium,
		Provider:   Name,
		ExternalID: fmt.Sprintf("%d", result.ID),
	}, nil
}

func (q *Qobuz) GetArtistAlbums(ctx context.Context, externalID string) ([]music.Album, error) {
	var result struct {
		Albums struct {
			Items []qobuzAlbum `json:"items"`
		} `json:"albums"`
	}
	u := fmt.Sprintf("%s/artist/get?artist_id=%s&extra=albums", q.cfg.APIBase, url.QueryEscape(externalID))
	if err := q.client.GetJSON(ctx, u, &result, q.header()); err != nil {
		return nil, err
	}

	var out []music.Album
	for _, al := range result.Albums.Items {
		out = append(out, albumFromQobuz(al))
	}
	return out, nil
}

func (q *Qobuz) GetPlaylist(ctx context.Context, externalID string) (*music.Playlist, error) {
	var result struct {
		ID          int64  `json:"id"`
		Name        string `json:"name"`
		Description string `json:"description"`
		TracksCount int    `json:"tracks_count"`
		Duration    int    `json:"duration"`
		CreatedAt   int64  `json:"created_at"`
		Owner       struct {
			Name string `json:"name"`
		} `json:"owner"`
	}
	u := fmt.Sprintf("%s/playlist/get?playlist_id=%s", q.cfg.APIBase, url.QueryEscape(externalID))
	if err := q.client.GetJSON(ctx, u, &result, q.header()); err != nil {
		return nil, err
	}
	if result.ID == 0 {
		return nil, provider.Errf(provider.KindNotFound, Name, "playlist %s not found", externalID)
	}

	created := ""
	if result.CreatedAt > 0 {
		created = time.Unix(result.CreatedAt, 0).UTC().Format(time.RFC3339)
	}
	return &music.Playlist{
		ID:          music.BuildID(Name, music.KindPlaylist, fmt.Sprintf("%d", result.ID)),
		Name:        result.Name,
		Description: result.Description,
		Curator:     result.Owner.Name,
		Provider:    Name,
		ExternalID:  fmt.Sprintf("%d", result.ID),
		TrackCount:  result.TracksCount,
		Duration:    result.Duration,
		Created:     created,
	}, nil
}

func (q *Qobuz) GetPlaylistTracks(ctx context.Context, externalID string) ([]music.Song, error) {
	var result struct {
		Tracks struct {
			Items []qobuzTrack `json:"items"`
		} `json:"tracks"`
	}
	u := fmt.Sprintf("%s/playlist/get?playlist_id=%s&extra=tracks", q.cfg.APIBase, url.QueryEscape(externalID))
	if err := q.client.GetJSON(ctx, u, &result, q.header()); err != nil {
		return nil, err
	}

	var out []music.Song
	for _, tr := range result.Tracks.Items {
		out = append(out, songFromQobuzTrack(tr))
	}
	return out, nil
}

// sign computes the md5 request signature for track/getFileUrl: the method
// name with sorted parameters concatenated, then the unix timestamp, then the
// app secret.
func (q *Qobuz) sign(trackID string, fmtID int, ts int64) string {
	seed := fmt.Sprintf("trackgetFileUrlformat_id%dintentstreamtrack_id%s%d%s", fmtID, trackID, ts, q.cfg.AppSecret)
	return fmt.Sprintf("%x", md5.Sum([]byte(seed)))
}

// ResolveDownload requests a signed stream URL. The service answers with a
// lower format id than requested when the account tier caps quality.
func (q *Qobuz) ResolveDownload(ctx context.Context, externalID string, preferred provider.Quality) (*provider.DownloadInfo, error) {
	if q.cfg.AppSecret == "" || q.cfg.UserAuthToken == "" {
		return nil, provider.Errf(provider.KindNotConfigured, Name, "stream resolution needs app secret and user auth token")
	}

	fmtID := formatID(preferred)
	ts := q.cfg.Now().Unix()

	var result struct {
		URL      string `json:"url"`
		MimeType string `json:"mime_type"`
		FormatID int    `json:"format_id"`
	}
	u := fmt.Sprintf("%s/track/getFileUrl?request_ts=%d&request_sig=%s&track_id=%s&format_id=%d&intent=stream",
		q.cfg.APIBase, ts, q.sign(externalID, fmtID, ts), url.QueryEscape(externalID), fmtID)
	if err := q.client.GetJSON(ctx, u, &result, q.header()); err != nil {
		return nil, err
	}
	if result.URL == "" {
		return nil, provider.Errf(provider.KindIntegrity, Name, "no stream url for track %s", externalID)
	}

	quality := preferred
	if result.FormatID != 0 && result.FormatID != fmtID {
		quality = qualityForFormat(result.FormatID)
	}
	mime := result.MimeType
	if mime == "" {
		if result.FormatID >= 6 {
			mime = "audio/flac"
		} else {
			mime = "audio/mpeg"
		}
	}
	return &provider.DownloadInfo{
		URL:      result.URL,
		MimeType: mime,
		Quality:  quality,
		Cipher:   provider.CipherNone,
	}, nil
}

func qualityForFormat(id int) provider.Quality {
	switch {
	case id >= 7:
		return provider.QualityHiRes
	case id == 6:
		return provider.QualityFLAC
	default:
		return provider.QualityHigh
	}
}

func (q *Qobuz) IsAvailable(ctx context.Context) bool {
	if q.cfg.AppID == "" {
		return false
	}
	u := fmt.Sprintf("%s/artist/search?query=ping&limit=1", q.cfg.APIBase)
	var out map[string]any
	return q.client.GetJSON(ctx, u, &out, q.header()) == nil
}
