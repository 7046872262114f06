// Package deezer implements the cookie-authenticated provider. A long-lived
// ARL cookie buys two short-lived tokens per session: an API token for
// gateway calls and a license token for media URL issuance. Streams come
// back blowfish-cbc encrypted in a stripe pattern; the per-track key is
// derived in crypto.go.
package deezer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"

	"crescendo/internal/provider"
	"crescendo/pkg/music"
)

const Name = "deezer"

const (
	apiBase     = "https://api.deezer.com"
	gatewayBase = "https://www.deezer.com/ajax/gw-light.php"
	mediaBase   = "https://media.deezer.com/v1/get_url"
)

type Config struct {
	ARL         string
	ARLFallback string
	Secret      string // 16-byte stripe-key secret

	// Overridable for tests.
	APIBase     string
	GatewayBase string
	MediaBase   string
}

type Deezer struct {
	client *provider.Client
	cache  *provider.Cache
	cfg    Config

	mu           sync.Mutex
	arl          string // ARL currently in use (primary or fallback)
	apiToken     string
	licenseToken string
}

func New(cfg Config, cache *provider.Cache) *Deezer {
	if cfg.APIBase == "" {
		cfg.APIBase = apiBase
	}
	if cfg.GatewayBase == "" {
		cfg.GatewayBase = gatewayBase
	}
	if cfg.MediaBase == "" {
		cfg.MediaBase = mediaBase
	}
	return &Deezer{
		client: provider.NewClient(Name, nil),
		cache:  cache,
		cfg:    cfg,
		arl:    cfg.ARL,
	}
}

func (d *Deezer) Name() string { return Name }

func (d *Deezer) cookieHeader() http.Header {
	d.mu.Lock()
	arl := d.arl
	d.mu.Unlock()
	return http.Header{"Cookie": {"arl=" + arl}}
}

// login exchanges the ARL cookie for the session tokens. An ARL the gateway
// does not recognize comes back with user id 0; when that happens the
// fallback credential is tried once and the switch is logged as a warning.
func (d *Deezer) login(ctx context.Context) error {
	d.mu.Lock()
	if d.apiToken != "" && d.licenseToken != "" {
		d.mu.Unlock()
		return nil
	}
	d.mu.Unlock()

	err := d.loginOnce(ctx)
	if err == nil {
		return nil
	}
	if !provider.IsKind(err, provider.KindUnauthenticated) || d.cfg.ARLFallback == "" {
		return err
	}

	d.mu.Lock()
	alreadySwitched := d.arl == d.cfg.ARLFallback
	d.arl = d.cfg.ARLFallback
	d.mu.Unlock()
	if alreadySwitched {
		return err
	}

	slog.Warn("Primary ARL rejected, switching to fallback credential", "provider", Name)
	return d.loginOnce(ctx)
}

func (d *Deezer) loginOnce(ctx context.Context) error {
	u := fmt.Sprintf("%s?method=deezer.getUserData&input=3&api_version=1.0&api_token=", d.cfg.GatewayBase)

	var result struct {
		Results struct {
			CheckForm string `json:"checkForm"`
			User      struct {
				ID      int64 `json:"USER_ID"`
				Options struct {
					LicenseToken string `json:"license_token"`
				} `json:"OPTIONS"`
			} `json:"USER"`
		} `json:"results"`
	}
	if err := d.client.GetJSON(ctx, u, &result, d.cookieHeader()); err != nil {
		return err
	}

	if result.Results.User.ID == 0 || result.Results.CheckForm == "" {
		return provider.Errf(provider.KindUnauthenticated, Name, "gateway rejected ARL cookie")
	}
	if result.Results.User.Options.LicenseToken == "" {
		return provider.Errf(provider.KindUnauthenticated, Name, "session has no license token")
	}

	d.mu.Lock()
	d.apiToken = result.Results.CheckForm
	d.licenseToken = result.Results.User.Options.LicenseToken
	d.mu.Unlock()

	slog.Info("Authenticated with gateway", "provider", Name)
	return nil
}

// resetSession drops the tokens so the next call re-authenticates.
func (d *Deezer) resetSession() {
	d.mu.Lock()
	d.apiToken = ""
	d.licenseToken = ""
	d.mu.Unlock()
}

// gatewayCall performs an authenticated gw-light method call.
func (d *Deezer) gatewayCall(ctx context.Context, method string, payload any, out any) error {
	if err := d.login(ctx); err != nil {
		return err
	}

	d.mu.Lock()
	token := d.apiToken
	d.mu.Unlock()

	body, err := json.Marshal(payload)
	if err != nil {
		return provider.Errf(provider.KindTransient, Name, "marshaling %s payload: %w", method, err)
	}

	u := fmt.Sprintf("%s?method=%s&input=3&api_version=1.0&api_token=%s", d.cfg.GatewayBase, url.QueryEscape(method), url.QueryEscape(token))
	return d.client.PostJSON(ctx, u, body, out, d.cookieHeader())
}

type trackPayload struct {
	ID             int64   `json:"id"`
	Title          string  `json:"title"`
	Duration       int     `json:"duration"`
	TrackPos       int     `json:"track_position"`
	DiskNumber     int     `json:"disk_number"`
	ISRC           string  `json:"isrc"`
	BPM            float64 `json:"bpm"`
	ExplicitLyrics bool    `json:"explicit_lyrics"`
	ReleaseDate    string  `json:"release_date"`
	Artist         struct {
		ID   int64  `json:"id"`
		Name string `json:"name"`
	} `json:"artist"`
	Album struct {
		ID          int64  `json:"id"`
		Title       string `json:"title"`
		Cover       string `json:"cover_medium"`
		CoverBig    string `json:"cover_xl"`
		ReleaseDate string `json:"release_date"`
	} `json:"album"`
}

func songFromTrack(tr trackPayload) music.Song {
	flag := music.ExplicitClean
	if tr.ExplicitLyrics {
		flag = music.ExplicitExplicit
	}
	year := 0
	date := tr.ReleaseDate
	if date == "" {
		date = tr.Album.ReleaseDate
	}
	if len(date) >= 4 {
		year, _ = strconv.Atoi(date[:4])
	}
	return music.Song{
		ID:          music.BuildID(Name, music.KindSong, fmt.Sprintf("%d", tr.ID)),
		Title:       tr.Title,
		Artist:      tr.Artist.Name,
		ArtistID:    music.BuildID(Name, music.KindArtist, fmt.Sprintf("%d", tr.Artist.ID)),
		Album:       tr.Album.Title,
		AlbumID:     music.BuildID(Name, music.KindAlbum, fmt.Sprintf("%d", tr.Album.ID)),
		Track:       tr.TrackPos,
		Disc:        max(tr.DiskNumber, 1),
		Duration:    tr.Duration,
		Year:        year,
		BPM:         int(tr.BPM),
		ISRC:        tr.ISRC,
		Explicit:    flag,
		CoverURL:    tr.Album.Cover,
		CoverURLBig: tr.Album.CoverBig,
		Provider:    Name,
		ExternalID:  fmt.Sprintf("%d", tr.ID),
	}
}

func (d *Deezer) SearchSongs(ctx context.Context, query string, limit int) ([]music.Song, error) {
	var out []music.Song
	cacheKey := "deezer:search:songs:" + query
	if d.cache.Get(ctx, cacheKey, &out) {
		return out, nil
	}

	var result struct {
		Data []trackPayload `json:"data"`
	}
	u := fmt.Sprintf("%s/search/track?q=%s&limit=%d", d.cfg.APIBase, url.QueryEscape(query), limit)
	if err := d.client.GetJSON(ctx, u, &result, nil); err != nil {
		return nil, err
	}

	for _, tr := range result.Data {
		out = append(out, songFromTrack(tr))
	}
	d.cache.Set(ctx, cacheKey, out)
	return out, nil
}

func (d *Deezer) SearchAlbums(ctx context.Context, query string, limit int) ([]music.Album, error) {
	var result struct {
		Data []struct {
			ID     int64  `json:"id"`
			Title  string `json:"title"`
			Cover  string `json:"cover_medium"`
			Artist struct {
				ID   int64  `json:"id"`
				Name string `json:"name"`
			} `json:"artist"`
		} `json:"data"`
	}
	u := fmt.Sprintf("%s/search/album?q=%s&limit=%d", d.cfg.APIBase, url.QueryEscape(query), limit)
	if err := d.client.GetJSON(ctx, u, &result, nil); err != nil {
		return nil, err
	}

	var out []music.Album
	for _, al := range result.Data {
		out = append(out, music.Album{
			ID:         music.BuildID(Name, music.KindAlbum, fmt.Sprintf("%d", al.ID)),
			Title:      al.Title,
			Artist:     al.Artist.Name,
			ArtistID:   music.BuildID(Name, music.KindArtist, fmt.Sprintf("%d", al.Artist.ID)),
			CoverURL:   al.Cover,
			Provider:   Name,
			ExternalID: fmt.Sprintf("%d", al.ID),
		})
	}
	return out, nil
}

func (d *Deezer) SearchArtists(ctx context.Context, query string, limit int) ([]music.Artist, error) {
	var result struct {
		Data []struct {
			ID      int64  `json:"id"`
			Name    string `json:"name"`
			Picture string `json:"picture_medium"`
			Albums  int    `json:"nb_album"`
		} `json:"data"`
	}
	u := fmt.Sprintf("%s/search/artist?q=%s&limit=%d", d.cfg.APIBase, url.QueryEscape(query), limit)
	if err := d.client.GetJSON(ctx, u, &result, nil); err != nil {
		return nil, err
	}

	var out []music.Artist
	for _, ar := range result.Data {
		out = append(out, music.Artist{
			ID:         music.BuildID(Name, music.KindArtist, fmt.Sprintf("%d", ar.ID)),
			Name:       ar.Name,
			AlbumCount: ar.Albums,
			ImageURL:   ar.Picture,
			Provider:   Name,
			ExternalID: fmt.Sprintf("%d", ar.ID),
		})
	}
	return out, nil
}

func (d *Deezer) SearchPlaylists(ctx context.Context, query string, limit int) ([]music.Playlist, error) {
	var result struct {
		Data []struct {
			ID       int64  `json:"id"`
			Title    string `json:"title"`
			Picture  string `json:"picture_medium"`
			NbTracks int    `json:"nb_tracks"`
			User     struct {
				Name string `json:"name"`
			} `json:"user"`
		} `json:"data"`
	}
	u := fmt.Sprintf("%s/search/playlist?q=%s&limit=%d", d.cfg.APIBase, url.QueryEscape(query), limit)
	if err := d.client.GetJSON(ctx, u, &result, nil); err != nil {
		return nil, err
	}

	var out []music.Playlist
	for _, pl := range result.Data {
		out = append(out, music.Playlist{
			ID:         music.BuildID(Name, music.KindPlaylist, fmt.Sprintf("%d", pl.ID)),
			Name:       pl.Title,
			Curator:    pl.User.Name,
			Provider:   Name,
			ExternalID: fmt.Sprintf("%d", pl.ID),
			TrackCount: pl.NbTracks,
			CoverURL:   pl.Picture,
		})
	}
	return out, nil
}

func (d *Deezer) GetSong(ctx context.Context, externalID string) (*music.Song, error) {
	var song *music.Song
	cacheKey := "deezer:song:" + externalID
	if d.cache.Get(ctx, cacheKey, &song) {
		return song, nil
	}

	var tr trackPayload
	if err := d.client.GetJSON(ctx, fmt.Sprintf("%s/track/%s", d.cfg.APIBase, url.PathEscape(externalID)), &tr, nil); err != nil {
		return nil, err
	}
	if tr.ID == 0 {
		return nil, provider.Errf(provider.KindNotFound, Name, "track %s not found", externalID)
	}

	mapped := songFromTrack(tr)
	song = &mapped
	d.cache.Set(ctx, cacheKey, song)
	return song, nil
}

func (d *Deezer) GetAlbum(ctx context.Context, externalID string) (*music.Album, error) {
	var result struct {
		ID          int64  `json:"id"`
		Title       string `json:"title"`
		Cover       string `json:"cover_medium"`
		ReleaseDate string `json:"release_date"`
		NbTracks    int    `json:"nb_tracks"`
		Genres      struct {
			Data []struct {
				Name string `json:"name"`
			} `json:"data"`
		} `json:"genres"`
		Artist struct {
			ID   int64  `json:"id"`
			Name string `json:"name"`
		} `json:"artist"`
		Tracks struct {
			Data []trackPayload `json:"data"`
		} `json:"tracks"`
	}
	if err := d.client.GetJSON(ctx, fmt.Sprintf("%s/album/%s", d.cfg.APIBase, url.PathEscape(externalID)), &result, nil); err != nil {
		return nil, err
	}
	if result.ID == 0 {
		return nil, provider.Errf(provider.KindNotFound, Name, "album %s not found", externalID)
	}

	year := 0
	if len(result.ReleaseDate) >= 4 {
		year, _ = strconv.Atoi(result.ReleaseDate[:4])
	}
	genre := ""
	if len(result.Genres.Data) > 0 {
		genre = result.Genres.Data[0].Name
	}

	album := &music.Album{
		ID:         music.BuildID(Name, music.KindAlbum, fmt.Sprintf("%d", result.ID)),
		Title:      result.Title,
		Artist:     result.Artist.Name,
		ArtistID:   music.BuildID(Name, music.KindArtist, fmt.Sprintf("%d", result.Artist.ID)),
		Year:       year,
		SongCount:  result.NbTracks,
		Genre:      genre,
		CoverURL:   result.Cover,
		Provider:   Name,
		ExternalID: fmt.Sprintf("%d", result.ID),
	}
	for i, tr := range result.Tracks.Data {
		if tr.Artist.Name == "" {
			tr.Artist.ID = result.Artist.ID
			tr.Artist.Name = result.Artist.Name
		}
		if tr.Album.Title == "" {
			tr.Album.ID = result.ID
			tr.Album.Title = result.Title
			tr.Album.Cover = result.Cover
		}
		mapped := songFromTrack(tr)
		if mapped.Track == 0 {
			mapped.Track = i + 1
		}
		if mapped.Genre == "" {
			mapped.Genre = genre
		}
		album.Songs = append(album.Songs, mapped)
	}
	return album, nil
}

func (d *Deezer) GetArtist(ctx context.Context, externalID string) (*music.Artist, error) {
	var result struct {
		ID      int64  `json:"id"`
		Name    string `json:"name"`
		Picture string `json:"picture_medium"`
		Albums  int    `json:"nb_album"`
	}
	if err := d.client.GetJSON(ctx, fmt.Sprintf("%s/artist/%s", d.cfg.APIBase, url.PathEscape(externalID)), &result, nil); err != nil {
		return nil, err
	}
	if result.ID == 0 {
		return nil, provider.Errf(provider.KindNotFound, Name, "artist %s not found", externalID)
	}
	return &music.Artist{
		ID:         music.BuildID(Name, music.KindArtist, fmt.Sprintf("%d", result.ID)),
		Name:       result.Name,
		AlbumCount: result.Albums,
		ImageURL:   result.Picture,
		Provider:   Name,
		ExternalID: fmt.Sprintf("%d", result.ID),
	}, nil
}

func (d *Deezer) GetArtistAlbums(ctx context.Context, externalID string) ([]music.Album, error) {
	var result struct {
		Data []struct {
			ID          int64  `json:"id"`
			Title       string `json:"title"`
			Cover       string `json:"cover_medium"`
			ReleaseDate string `json:"release_date"`
		} `json:"data"`
	}
	if err := d.client.GetJSON(ctx, fmt.Sprintf("%s/artist/%s/albums", d.cfg.APIBase, url.PathEscape(externalID)), &result, nil); err != nil {
		return nil, err
	}

	var out []music.Album
	for _, al := range result.Data {
		year := 0
		if len(al.ReleaseDate) >= 4 {
			year, _ = strconv.Atoi(al.ReleaseDate[:4])
		}
		out = append(out, music.Album{
			ID:         music.BuildID(Name, music.KindAlbum, fmt.Sprintf("%d", al.ID)),
			Title:      al.Title,
			ArtistID:   music.BuildID(Name, music.KindArtist, externalID),
			Year:       year,
			CoverURL:   al.Cover,
			Provider:   Name,
			ExternalID: fmt.Sprintf("%d", al.ID),
		})
	}
	return out, nil
}

func (d *Deezer) GetPlaylist(ctx context.Context, externalID string) (*music.Playlist, error) {
	var result struct {
		ID          int64  `json:"id"`
		Title       string `json:"title"`
		Description string `json:"description"`
		Picture     string `json:"picture_medium"`
		NbTracks    int    `json:"nb_tracks"`
		Duration    int    `json:"duration"`
		Creator     struct {
			Name string `json:"name"`
		} `json:"creator"`
		CreationDate string `json:"creation_date"`
	}
	if err := d.client.GetJSON(ctx, fmt.Sprintf("%s/playlist/%s", d.cfg.APIBase, url.PathEscape(externalID)), &result, nil); err != nil {
		return nil, err
	}
	if result.ID == 0 {
		return nil, provider.Errf(provider.KindNotFound, Name, "playlist %s not found", externalID)
	}
	return &music.Playlist{
		ID:          music.BuildID(Name, music.KindPlaylist, fmt.Sprintf("%d", result.ID)),
		Name:        result.Title,
		Description: result.Description,
		Curator:     result.Creator.Name,
		Provider:    Name,
		ExternalID:  fmt.Sprintf("%d", result.ID),
		TrackCount:  result.NbTracks,
		Duration:    result.Duration,
		CoverURL:    result.Picture,
		Created:     result.CreationDate,
	}, nil
}

func (d *Deezer) GetPlaylistTracks(ctx context.Context, externalID string) ([]music.Song, error) {
	var result struct {
		Data []trackPayload `json:"data"`
	}
	if err := d.client.GetJSON(ctx, fmt.Sprintf("%s/playlist/%s/tracks", d.cfg.APIBase, url.PathEscape(externalID)), &result, nil); err != nil {
		return nil, err
	}

	var out []music.Song
	for _, tr := range result.Data {
		out = append(out, songFromTrack(tr))
	}
	return out, nil
}

// formatPreference orders Deezer format codes for a quality preference; the
// gateway falls through to the next format when the first is unavailable.
func formatPreference(q provider.Quality) []string {
	switch q {
	case provider.QualityFLAC, provider.QualityHiRes:
		return []string{"FLAC", "MP3_320", "MP3_128"}
	case provider.QualityHigh:
		return []string{"MP3_320", "MP3_128"}
	default:
		return []string{"MP3_128"}
	}
}

func mimeForFormat(format string) string {
	if format == "FLAC" {
		return "audio/flac"
	}
	return "audio/mpeg"
}

// ResolveDownload obtains a track token via the gateway, then asks the media
// service for a CDN URL. The returned stream is stripe-encrypted; the
// per-track blowfish key rides along for the decryptor.
func (d *Deezer) ResolveDownload(ctx context.Context, externalID string, preferred provider.Quality) (*provider.DownloadInfo, error) {
	info, err := d.resolveOnce(ctx, externalID, preferred)
	if err == nil {
		return info, nil
	}
	if !provider.IsKind(err, provider.KindUnauthenticated) {
		return nil, err
	}

	// Session tokens expire; re-login (possibly on the fallback ARL) and
	// retry once.
	d.resetSession()
	return d.resolveOnce(ctx, externalID, preferred)
}

func (d *Deezer) resolveOnce(ctx context.Context, externalID string, preferred provider.Quality) (*provider.DownloadInfo, error) {
	var page struct {
		Results struct {
			Data struct {
				TrackToken string `json:"TRACK_TOKEN"`
			} `json:"DATA"`
		} `json:"results"`
	}
	if err := d.gatewayCall(ctx, "deezer.pageTrack", map[string]any{"sng_id": externalID}, &page); err != nil {
		return nil, err
	}
	if page.Results.Data.TrackToken == "" {
		return nil, provider.Errf(provider.KindUnauthenticated, Name, "no track token for %s", externalID)
	}

	d.mu.Lock()
	licenseToken := d.licenseToken
	d.mu.Unlock()

	var lastErr error
	for _, format := range formatPreference(preferred) {
		u, err := d.requestMediaURL(ctx, page.Results.Data.TrackToken, licenseToken, format)
		if err != nil {
			lastErr = err
			continue
		}
		return &provider.DownloadInfo{
			URL:      u,
			MimeType: mimeForFormat(format),
			Quality:  preferred,
			Cipher:   provider.CipherBFStripe,
			Key:      DeriveTrackKey(externalID, []byte(d.cfg.Secret)),
		}, nil
	}
	return nil, fmt.Errorf("no playable format for track %s: %w", externalID, lastErr)
}

func (d *Deezer) requestMediaURL(ctx context.Context, trackToken, licenseToken, format string) (string, error) {
	payload := map[string]any{
		"license_token": licenseToken,
		"media": []map[string]any{{
			"type": "FULL",
			"formats": []map[string]string{{
				"cipher": "BF_CBC_STRIPE",
				"format": format,
			}},
		}},
		"track_tokens": []string{trackToken},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", provider.Errf(provider.KindTransient, Name, "marshaling media payload: %w", err)
	}

	var result struct {
		Data []struct {
			Errors []struct {
				Code    int    `json:"code"`
				Message string `json:"message"`
			} `json:"errors"`
			Media []struct {
				Sources []struct {
					URL string `json:"url"`
				} `json:"sources"`
			} `json:"media"`
		} `json:"data"`
	}
	if err := d.client.PostJSON(ctx, d.cfg.MediaBase, body, &result, d.cookieHeader()); err != nil {
		return "", err
	}

	if len(result.Data) == 0 {
		return "", provider.Errf(provider.KindIntegrity, Name, "media response carries no data")
	}
	if errs := result.Data[0].Errors; len(errs) > 0 {
		return "", provider.Errf(provider.KindTransient, Name, "media error %d: %s", errs[0].Code, errs[0].Message)
	}
	if len(result.Data[0].Media) == 0 || len(result.Data[0].Media[0].Sources) == 0 {
		return "", provider.Errf(provider.KindIntegrity, Name, "media response carries no stream url")
	}
	return result.Data[0].Media[0].Sources[0].URL, nil
}

func (d *Deezer) IsAvailable(ctx context.Context) bool {
	return d.login(ctx) == nil
}
