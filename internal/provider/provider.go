// Package provider defines the port every streaming catalog implements and
// the shared outbound HTTP plumbing (rate limiting, endpoint rotation,
// retries).
package provider

import (
	"context"

	"crescendo/pkg/music"
)

// Quality is the client-facing quality preference vocabulary. Each provider
// maps it to its own terms.
type Quality string

const (
	QualityFLAC  Quality = "FLAC"
	QualityHiRes Quality = "HI_RES"
	QualityHigh  Quality = "HIGH"
	QualityLow   Quality = "LOW"
)

// Cipher identifies the stream encryption applied by a provider's CDN.
type Cipher string

const (
	CipherNone     Cipher = ""
	CipherBFStripe Cipher = "bf-cbc-stripe"
)

// DownloadInfo is the result of resolving a track to a fetchable stream.
type DownloadInfo struct {
	URL      string
	MimeType string
	Quality  Quality

	// Cipher selects the decryptor; Key carries the derived per-track key
	// when the cipher needs one.
	Cipher Cipher
	Key    []byte
}

// Provider is the capability set of an external streaming catalog.
//
// Implementations normalize results to domain objects with provider-tagged
// "ext-" identifiers, return empty slices (not errors) for no-result and
// unsupported queries, and populate at minimum ID, Title, Artist, Duration
// and CoverURL on songs.
type Provider interface {
	Name() string

	SearchSongs(ctx context.Context, query string, limit int) ([]music.Song, error)
	SearchAlbums(ctx context.Context, query string, limit int) ([]music.Album, error)
	SearchArtists(ctx context.Context, query string, limit int) ([]music.Artist, error)
	SearchPlaylists(ctx context.Context, query string, limit int) ([]music.Playlist, error)

	GetSong(ctx context.Context, externalID string) (*music.Song, error)
	GetAlbum(ctx context.Context, externalID string) (*music.Album, error)
	GetArtist(ctx context.Context, externalID string) (*music.Artist, error)
	GetArtistAlbums(ctx context.Context, externalID string) ([]music.Album, error)
	GetPlaylist(ctx context.Context, externalID string) (*music.Playlist, error)
	GetPlaylistTracks(ctx context.Context, externalID string) ([]music.Song, error)

	// ResolveDownload returns the short-lived stream location for a track.
	ResolveDownload(ctx context.Context, externalID string, preferred Quality) (*DownloadInfo, error)

	// IsAvailable probes the provider; used for startup diagnostics only.
	IsAvailable(ctx context.Context) bool
}
