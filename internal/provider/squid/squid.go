// Package squid implements the keyless proxy provider: no credentials, an
// ordered list of public endpoints, and base64-wrapped manifests carrying the
// real CDN URL.
package squid

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"crescendo/internal/provider"
	"crescendo/pkg/music"
)

const Name = "squid"

type Squid struct {
	client *provider.Client
	cache  *provider.Cache
}

func New(endpoints []string, cache *provider.Cache) *Squid {
	return &Squid{
		client: provider.NewClient(Name, endpoints),
		cache:  cache,
	}
}

func (s *Squid) Name() string { return Name }

// qualityTag maps the client preference to the proxy's vocabulary.
func qualityTag(q provider.Quality) string {
	switch q {
	case provider.QualityHiRes:
		return "HI_RES_LOSSLESS"
	case provider.QualityHigh:
		return "HIGH"
	case provider.QualityLow:
		return "LOW"
	default:
		return "LOSSLESS"
	}
}

// songItem is the track shape shared by search, info and playlist payloads.
type songItem struct {
	ID           int64  `json:"id"`
	Title        string `json:"title"`
	Duration     int    `json:"duration"`
	TrackNumber  int    `json:"trackNumber"`
	VolumeNumber int    `json:"volumeNumber"`
	Explicit     bool   `json:"explicit"`
	ISRC         string `json:"isrc"`
	Copyright    string `json:"copyright"`
	Artist       struct {
		ID   int64  `json:"id"`
		Name string `json:"name"`
	} `json:"artist"`
	Album struct {
		ID    int64  `json:"id"`
		Title string `json:"title"`
		Cover string `json:"cover"`
	} `json:"album"`
}

func (s *Squid) songFromItem(item songItem) music.Song {
	flag := music.ExplicitClean
	if item.Explicit {
		flag = music.ExplicitExplicit
	}
	return music.Song{
		ID:          music.BuildID(Name, music.KindSong, fmt.Sprintf("%d", item.ID)),
		Title:       item.Title,
		Artist:      item.Artist.Name,
		ArtistID:    music.BuildID(Name, music.KindArtist, fmt.Sprintf("%d", item.Artist.ID)),
		Album:       item.Album.Title,
		AlbumID:     music.BuildID(Name, music.KindAlbum, fmt.Sprintf("%d", item.Album.ID)),
		Track:       item.TrackNumber,
		Disc:        max(item.VolumeNumber, 1),
		Duration:    item.Duration,
		ISRC:        item.ISRC,
		Explicit:    flag,
		Copyright:   item.Copyright,
		CoverURL:    coverURL(item.Album.Cover, "320x320"),
		CoverURLBig: coverURL(item.Album.Cover, "1280x1280"),
		Provider:    Name,
		ExternalID:  fmt.Sprintf("%d", item.ID),
	}
}

// coverURL turns the proxy's image UUID into a CDN URL; sizes follow the
// upstream convention ("320x320", "1280x1280").
func coverURL(uuid, size string) string {
	if uuid == "" {
		return ""
	}
	return fmt.Sprintf("https://resources.tidal.com/images/%s/%s.jpg", strings.ReplaceAll(uuid, "-", "/"), size)
}

func (s *Squid) SearchSongs(ctx context.Context, query string, limit int) ([]music.Song, error) {
	var out []music.Song
	cacheKey := "squid:search:songs:" + query
	if s.cache.Get(ctx, cacheKey, &out) {
		return out, nil
	}

	err := s.client.WithEndpoints(ctx, func(base string) error {
		var result struct {
			Data struct {
				Items []songItem `json:"items"`
			} `json:"data"`
		}
		if err := s.client.GetJSON(ctx, fmt.Sprintf("%s/search/?s=%s", base, url.QueryEscape(query)), &result, nil); err != nil {
			return err
		}
		out = out[:0]
		for i, item := range result.Data.Items {
			if limit > 0 && i >= limit {
				break
			}
			out = append(out, s.songFromItem(item))
		}
		return nil
	})
	if err != nil {
		if provider.IsKind(err, provider.KindNotFound) {
			return nil, nil
		}
		return nil, err
	}

	s.cache.Set(ctx, cacheKey, out)
	return out, nil
}

func (s *Squid) SearchAlbums(ctx context.Context, query string, limit int) ([]music.Album, error) {
	var out []music.Album
	cacheKey := "squid:search:albums:" + query
	if s.cache.Get(ctx, cacheKey, &out) {
		return out, nil
	}

	err := s.client.WithEndpoints(ctx, func(base string) error {
		var result struct {
			Data struct {
				Albums struct {
					Items []struct {
						ID          int64  `json:"id"`
						Title       string `json:"title"`
						ReleaseDate string `json:"releaseDate"`
						Cover       string `json:"cover"`
						Artists     []struct {
							ID   int64  `json:"id"`
							Name string `json:"name"`
						} `json:"artists"`
					} `json:"items"`
				} `json:"albums"`
			} `json:"data"`
		}
		if err := s.client.GetJSON(ctx, fmt.Sprintf("%s/search/?al=%s", base, url.QueryEscape(query)), &result, nil); err != nil {
			return err
		}
		out = out[:0]
		for i, item := range result.Data.Albums.Items {
			if limit > 0 && i >= limit {
				break
			}
			year := 0
			if len(item.ReleaseDate) >= 4 {
				fmt.Sscanf(item.ReleaseDate, "%d", &year)
			}
			artistName := ""
			artistID := int64(0)
			if len(item.Artists) > 0 {
				artistName = item.Artists[0].Name
				artistID = item.Artists[0].ID
			}
			out = append(out, music.Album{
				ID:         music.BuildID(Name, music.KindAlbum, fmt.Sprintf("%d", item.ID)),
				Title:      item.Title,
				Artist:     artistName,
				ArtistID:   music.BuildID(Name, music.KindArtist, fmt.Sprintf("%d", artistID)),
				Year:       year,
				CoverURL:   coverURL(item.Cover, "320x320"),
				Provider:   Name,
				ExternalID: fmt.Sprintf("%d", item.ID),
			})
		}
		return nil
	})
	if err != nil {
		if provider.IsKind(err, provider.KindNotFound) {
			return nil, nil
		}
		return nil, err
	}

	s.cache.Set(ctx, cacheKey, out)
	return out, nil
}

func (s *Squid) SearchArtists(ctx context.Context, query string, limit int) ([]music.Artist, error) {
	var out []music.Artist
	cacheKey := "squid:search:artists:" + query
	if s.cache.Get(ctx, cacheKey, &out) {
		return out, nil
	}

	err := s.client.WithEndpoints(ctx, func(base string) error {
		var result struct {
			Data struct {
				Artists struct {
					Items []struct {
						ID      int64  `json:"id"`
						Name    string `json:"name"`
						Picture string `json:"picture"`
					} `json:"items"`
				} `json:"artists"`
			} `json:"data"`
		}
		if err := s.client.GetJSON(ctx, fmt.Sprintf("%s/search/?a=%s", base, url.QueryEscape(query)), &result, nil); err != nil {
			return err
		}
		out = out[:0]
		for i, item := range result.Data.Artists.Items {
			if limit > 0 && i >= limit {
				break
			}
			out = append(out, music.Artist{
				ID:         music.BuildID(Name, music.KindArtist, fmt.Sprintf("%d", item.ID)),
				Name:       item.Name,
				ImageURL:   coverURL(item.Picture, "320x320"),
				Provider:   Name,
				ExternalID: fmt.Sprintf("%d", item.ID),
			})
		}
		return nil
	})
	if err != nil {
		if provider.IsKind(err, provider.KindNotFound) {
			return nil, nil
		}
		return nil, err
	}

	s.cache.Set(ctx, cacheKey, out)
	return out, nil
}

func (s *Squid) SearchPlaylists(ctx context.Context, query string, limit int) ([]music.Playlist, error) {
	var out []music.Playlist
	cacheKey := "squid:search:playlists:" + query
	if s.cache.Get(ctx, cacheKey, &out) {
		return out, nil
	}

	err := s.client.WithEndpoints(ctx, func(base string) error {
		var result struct {
			Data struct {
				Playlists struct {
					Items []struct {
						UUID           string `json:"uuid"`
						Title          string `json:"title"`
						Description    string `json:"description"`
						SquareImage    string `json:"squareImage"`
						NumberOfTracks int    `json:"numberOfTracks"`
						Duration       int    `json:"duration"`
						Created        string `json:"created"`
					} `json:"items"`
				} `json:"playlists"`
			} `json:"data"`
		}
		if err := s.client.GetJSON(ctx, fmt.Sprintf("%s/search/?p=%s", base, url.QueryEscape(query)), &result, nil); err != nil {
			return err
		}
		out = out[:0]
		for i, item := range result.Data.Playlists.Items {
			if limit > 0 && i >= limit {
				break
			}
			out = append(out, music.Playlist{
				ID:          music.BuildID(Name, music.KindPlaylist, item.UUID),
				Name:        item.Title,
				Description: item.Description,
				Curator:     "Editorial",
				Provider:    Name,
				ExternalID:  item.UUID,
				TrackCount:  item.NumberOfTracks,
				Duration:    item.Duration,
				CoverURL:    coverURL(item.SquareImage, "320x320"),
				Created:     item.Created,
			})
		}
		return nil
	})
	if err != nil {
		if provider.IsKind(err, provider.KindNotFound) {
			return nil, nil
		}
		return nil, err
	}

	s.cache.Set(ctx, cacheKey, out)
	return out, nil
}

// GetSong tries /info/ first, then falls back to /track/ which is sometimes
// more reliable on the public mirrors.
func (s *Squid) GetSong(ctx context.Context, externalID string) (*music.Song, error) {
	var song *music.Song
	cacheKey := "squid:song:" + externalID
	if s.cache.Get(ctx, cacheKey, &song) {
		return song, nil
	}

	err := s.client.WithEndpoints(ctx, func(base string) error {
		var result struct {
			Data songItem `json:"data"`
		}
		err := s.client.GetJSON(ctx, fmt.Sprintf("%s/info/?id=%s", base, url.QueryEscape(externalID)), &result, nil)
		if err != nil || result.Data.ID == 0 {
			slog.Debug("Song info endpoint failed, trying track endpoint", "id", externalID, "error", err)
			if err = s.client.GetJSON(ctx, fmt.Sprintf("%s/track/?id=%s", base, url.QueryEscape(externalID)), &result, nil); err != nil {
				return err
			}
		}
		if result.Data.ID == 0 {
			return provider.Errf(provider.KindNotFound, Name, "song %s not found", externalID)
		}
		mapped := s.songFromItem(result.Data)
		song = &mapped
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.cache.Set(ctx, cacheKey, song)
	return song, nil
}

func (s *Squid) GetAlbum(ctx context.Context, externalID string) (*music.Album, error) {
	var album *music.Album
	cacheKey := "squid:album:" + externalID
	if s.cache.Get(ctx, cacheKey, &album) {
		return album, nil
	}

	err := s.client.WithEndpoints(ctx, func(base string) error {
		var result struct {
			Data struct {
				ID          int64  `json:"id"`
				Title       string `json:"title"`
				Cover       string `json:"cover"`
				ReleaseDate string `json:"releaseDate"`
				Artist      struct {
					ID   int64  `json:"id"`
					Name string `json:"name"`
				} `json:"artist"`
				Items []struct {
					Item songItem `json:"item"`
				} `json:"items"`
				NumberOfTracks int `json:"numberOfTracks"`
			} `json:"data"`
		}
		if err := s.client.GetJSON(ctx, fmt.Sprintf("%s/album/?id=%s", base, url.QueryEscape(externalID)), &result, nil); err != nil {
			return err
		}
		data := result.Data
		if data.ID == 0 {
			return provider.Errf(provider.KindNotFound, Name, "album %s not found", externalID)
		}

		year := 0
		if len(data.ReleaseDate) >= 4 {
			fmt.Sscanf(data.ReleaseDate, "%d", &year)
		}

		album = &music.Album{
			ID:         music.BuildID(Name, music.KindAlbum, fmt.Sprintf("%d", data.ID)),
			Title:      data.Title,
			Artist:     data.Artist.Name,
			ArtistID:   music.BuildID(Name, music.KindArtist, fmt.Sprintf("%d", data.Artist.ID)),
			Year:       year,
			SongCount:  data.NumberOfTracks,
			CoverURL:   coverURL(data.Cover, "320x320"),
			Provider:   Name,
			ExternalID: fmt.Sprintf("%d", data.ID),
		}
		for i, wrapper := range data.Items {
			track := wrapper.Item
			if track.Artist.Name == "" {
				track.Artist = data.Artist
			}
			if track.Album.Title == "" {
				track.Album.ID = data.ID
				track.Album.Title = data.Title
				track.Album.Cover = data.Cover
			}
			mapped := s.songFromItem(track)
			if mapped.Track == 0 {
				mapped.Track = i + 1
			}
			album.Songs = append(album.Songs, mapped)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.cache.Set(ctx, cacheKey, album)
	return album, nil
}

func (s *Squid) GetArtist(ctx context.Context, externalID string) (*music.Artist, error) {
	var artist *music.Artist

	err := s.client.WithEndpoints(ctx, func(base string) error {
		var result struct {
			Artist struct {
				Name    string `json:"name"`
				Picture string `json:"picture"`
			} `json:"artist"`
		}
		if err := s.client.GetJSON(ctx, fmt.Sprintf("%s/artist/?id=%s", base, url.QueryEscape(externalID)), &result, nil); err != nil {
			return err
		}
		if result.Artist.Name == "" {
			return provider.Errf(provider.KindNotFound, Name, "artist %s not found", externalID)
		}
		artist = &music.Artist{
			ID:         music.BuildID(Name, music.KindArtist, externalID),
			Name:       result.Artist.Name,
			ImageURL:   coverURL(result.Artist.Picture, "320x320"),
			Provider:   Name,
			ExternalID: externalID,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return artist, nil
}

func (s *Squid) GetArtistAlbums(ctx context.Context, externalID string) ([]music.Album, error) {
	var out []music.Album

	err := s.client.WithEndpoints(ctx, func(base string) error {
		var result struct {
			Albums struct {
				Items []struct {
					ID     int64  `json:"id"`
					Title  string `json:"title"`
					Cover  string `json:"cover"`
					Artist struct {
						ID   int64  `json:"id"`
						Name string `json:"name"`
					} `json:"artist"`
				} `json:"items"`
			} `json:"albums"`
		}
		if err := s.client.GetJSON(ctx, fmt.Sprintf("%s/artist/?f=%s", base, url.QueryEscape(externalID)), &result, nil); err != nil {
			return err
		}
		out = out[:0]
		for _, item := range result.Albums.Items {
			out = append(out, music.Album{
				ID:         music.BuildID(Name, music.KindAlbum, fmt.Sprintf("%d", item.ID)),
				Title:      item.Title,
				Artist:     item.Artist.Name,
				ArtistID:   music.BuildID(Name, music.KindArtist, externalID),
				CoverURL:   coverURL(item.Cover, "320x320"),
				Provider:   Name,
				ExternalID: fmt.Sprintf("%d", item.ID),
			})
		}
		return nil
	})
	if err != nil {
		if provider.IsKind(err, provider.KindNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return out, nil
}

func (s *Squid) GetPlaylist(ctx context.Context, externalID string) (*music.Playlist, error) {
	playlist, _, err := s.fetchPlaylist(ctx, externalID)
	return playlist, err
}

func (s *Squid) GetPlaylistTracks(ctx context.Context, externalID string) ([]music.Song, error) {
	_, tracks, err := s.fetchPlaylist(ctx, externalID)
	return tracks, err
}

func (s *Squid) fetchPlaylist(ctx context.Context, externalID string) (*music.Playlist, []music.Song, error) {
	var (
		playlist *music.Playlist
		tracks   []music.Song
	)

	err := s.client.WithEndpoints(ctx, func(base string) error {
		var result struct {
			Data struct {
				UUID           string     `json:"uuid"`
				Title          string     `json:"title"`
				Description    string     `json:"description"`
				NumberOfTracks int        `json:"numberOfTracks"`
				Duration       int        `json:"duration"`
				Created        string     `json:"created"`
				SquareImage    string     `json:"squareImage"`
				Items          []songItem `json:"items"`
			} `json:"data"`
		}
		if err := s.client.GetJSON(ctx, fmt.Sprintf("%s/playlist/?id=%s", base, url.QueryEscape(externalID)), &result, nil); err != nil {
			return err
		}
		data := result.Data
		if data.UUID == "" {
			return provider.Errf(provider.KindNotFound, Name, "playlist %s not found", externalID)
		}

		playlist = &music.Playlist{
			ID:          music.BuildID(Name, music.KindPlaylist, data.UUID),
			Name:        data.Title,
			Description: data.Description,
			Curator:     "Editorial",
			Provider:    Name,
			ExternalID:  data.UUID,
			TrackCount:  data.NumberOfTracks,
			Duration:    data.Duration,
			CoverURL:    coverURL(data.SquareImage, "320x320"),
			Created:     data.Created,
		}
		tracks = tracks[:0]
		for _, item := range data.Items {
			tracks = append(tracks, s.songFromItem(item))
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return playlist, tracks, nil
}

// ResolveDownload asks the proxy for a track manifest: a base64 JSON document
// with the CDN URLs and mime type. No decryption on this tier.
func (s *Squid) ResolveDownload(ctx context.Context, externalID string, preferred provider.Quality) (*provider.DownloadInfo, error) {
	var info *provider.DownloadInfo

	err := s.client.WithEndpoints(ctx, func(base string) error {
		var result struct {
			Data struct {
				Manifest string `json:"manifest"`
			} `json:"data"`
		}
		u := fmt.Sprintf("%s/track/?id=%s&quality=%s", base, url.QueryEscape(externalID), qualityTag(preferred))
		if err := s.client.GetJSON(ctx, u, &result, nil); err != nil {
			return err
		}

		manifestJSON, err := base64.StdEncoding.DecodeString(result.Data.Manifest)
		if err != nil {
			return provider.Errf(provider.KindIntegrity, Name, "decoding manifest for %s: %w", externalID, err)
		}

		var manifest struct {
			URLs     []string `json:"urls"`
			MimeType string   `json:"mimeType"`
		}
		if err := json.Unmarshal(manifestJSON, &manifest); err != nil {
			return provider.Errf(provider.KindIntegrity, Name, "parsing manifest for %s: %w", externalID, err)
		}
		if len(manifest.URLs) == 0 {
			return provider.Errf(provider.KindIntegrity, Name, "manifest for %s has no stream urls", externalID)
		}

		slog.Debug("Resolved stream manifest", "provider", Name, "id", externalID, "mime", manifest.MimeType)
		info = &provider.DownloadInfo{
			URL:      manifest.URLs[0],
			MimeType: manifest.MimeType,
			Quality:  preferred,
			Cipher:   provider.CipherNone,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return info, nil
}

func (s *Squid) IsAvailable(ctx context.Context) bool {
	err := s.client.WithEndpoints(ctx, func(base string) error {
		return s.client.Probe(ctx, base+"/search/?s=ping")
	})
	return err == nil
}
