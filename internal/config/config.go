package config

import (
	"encoding/base64"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// StorageMode controls whether downloaded tracks are kept forever or swept
// after a TTL.
type StorageMode string

const (
	StoragePermanent StorageMode = "permanent"
	StorageCache     StorageMode = "cache"
)

// ExplicitFilter controls which songs survive the merged search.
type ExplicitFilter string

const (
	ExplicitAll  ExplicitFilter = "all"
	ExplicitOnly ExplicitFilter = "explicit_only"
	CleanOnly    ExplicitFilter = "clean_only"
)

// DownloadMode controls whether playing a track fetches just that track or
// its whole album in the background.
type DownloadMode string

const (
	DownloadTrack DownloadMode = "track"
	DownloadAlbum DownloadMode = "album"
)

type Config struct {
	Port        string
	UpstreamURL string
	LibraryRoot string

	Provider         string
	PreferredQuality string

	StorageMode   StorageMode
	CacheTTLHours int

	ExplicitFilter    ExplicitFilter
	DownloadMode      DownloadMode
	ExternalPlaylists bool
	PlaylistsDir      string

	SearchLimit int
	RedisAddr   string
	LogLevel    slog.Level

	// Squid (keyless tier)
	SquidURL  string
	SquidURLs []string

	// Deezer (cookie tier)
	DeezerARL         string
	DeezerARLFallback string
	DeezerSecret      string

	// Qobuz (signed tier)
	QobuzBundleURL string
	QobuzAppID     string
	QobuzSecret    string
	QobuzUserToken string
}

// Load reads configuration from the environment (and an optional .env file).
func Load() (*Config, error) {
	_ = godotenv.Load() // Ignore error if .env doesn't exist

	root := getEnv("LIBRARY_ROOT", "/music")

	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		UpstreamURL: getEnv("UPSTREAM_URL", getEnv("SUBSONIC_URL", "http://navidrome:4533")),
		LibraryRoot: root,

		Provider:         getEnv("PROVIDER", "squid"),
		PreferredQuality: getEnv("PREFERRED_QUALITY", "FLAC"),

		StorageMode:   StorageMode(getEnv("STORAGE_MODE", string(StoragePermanent))),
		CacheTTLHours: getEnvInt("CACHE_TTL_HOURS", 72),

		ExplicitFilter:    ExplicitFilter(getEnv("EXPLICIT_FILTER", string(ExplicitAll))),
		DownloadMode:      DownloadMode(getEnv("DOWNLOAD_MODE", string(DownloadTrack))),
		ExternalPlaylists: getEnvBool("EXTERNAL_PLAYLISTS", true),
		PlaylistsDir:      getEnv("PLAYLISTS_DIR", filepath.Join(root, "playlists")),

		SearchLimit: getEnvInt("SEARCH_LIMIT", 50),
		RedisAddr:   getEnv("REDIS_ADDR", ""),
		LogLevel:    parseLogLevel(getEnv("LOG_LEVEL", "info")),

		SquidURL: getEnv("SQUID_URL", ""),

		DeezerARL:         getEnv("DEEZER_ARL", ""),
		DeezerARLFallback: getEnv("DEEZER_ARL_FALLBACK", ""),
		DeezerSecret:      getEnv("DEEZER_SECRET", ""),

		QobuzBundleURL: getEnv("QOBUZ_BUNDLE_URL", "https://play.qobuz.com"),
		QobuzAppID:     getEnv("QOBUZ_APP_ID", ""),
		QobuzSecret:    getEnv("QOBUZ_SECRET", ""),
		QobuzUserToken: getEnv("QOBUZ_USER_AUTH_TOKEN", ""),
	}

	cfg.SquidURLs = squidEndpoints(cfg.SquidURL)

	return cfg, nil
}

// Validate reports hard configuration errors. The caller exits non-zero on a
// non-nil return; soft problems are logged and the feature degrades.
func (c *Config) Validate() error {
	if err := os.MkdirAll(c.LibraryRoot, 0755); err != nil {
		return fmt.Errorf("library root %s unusable: %w", c.LibraryRoot, err)
	}

	switch c.StorageMode {
	case StoragePermanent, StorageCache:
	default:
		return fmt.Errorf("invalid STORAGE_MODE %q", c.StorageMode)
	}
	switch c.ExplicitFilter {
	case ExplicitAll, ExplicitOnly, CleanOnly:
	default:
		return fmt.Errorf("invalid EXPLICIT_FILTER %q", c.ExplicitFilter)
	}
	switch c.DownloadMode {
	case DownloadTrack, DownloadAlbum:
	default:
		return fmt.Errorf("invalid DOWNLOAD_MODE %q", c.DownloadMode)
	}

	switch c.Provider {
	case "squid":
		// Keyless; the built-in endpoint list suffices.
	case "deezer":
		if c.DeezerARL == "" {
			return fmt.Errorf("provider deezer selected but DEEZER_ARL is not set")
		}
		if len(c.DeezerSecret) != 16 {
			return fmt.Errorf("provider deezer selected but DEEZER_SECRET is not a 16-byte secret")
		}
	case "qobuz":
		// App credentials are scraped from the bundle when not overridden.
		if (c.QobuzAppID == "") != (c.QobuzSecret == "") {
			return fmt.Errorf("QOBUZ_APP_ID and QOBUZ_SECRET must be set together")
		}
	default:
		return fmt.Errorf("unknown PROVIDER %q", c.Provider)
	}

	return nil
}

// squidEndpoints assembles the rotation list: the configured URL first (if
// any), then the built-in fallbacks.
func squidEndpoints(primary string) []string {
	encoded := []string{
		"aHR0cHM6Ly90cml0b24uc3F1aWQud3Rm", // triton.squid.wtf
		"aHR0cHM6Ly93b2xmLnFxZGwuc2l0ZQ==", // wolf.qqdl.site
		"aHR0cDovL2h1bmQucXFkbC5zaXRl",     // hund.qqdl.site
		"aHR0cHM6Ly9tYXVzLnFxZGwuc2l0ZQ==", // maus.qqdl.site
		"aHR0cHM6Ly92b2dlbC5xcWRsLnNpdGU=", // vogel.qqdl.site
		"aHR0cHM6Ly9rYXR6ZS5xcWRsLnNpdGU=", // katze.qqdl.site
	}

	urls := make([]string, 0, len(encoded)+1)
	if primary != "" {
		urls = append(urls, primary)
	}
	for _, e := range encoded {
		if decoded, err := base64.StdEncoding.DecodeString(e); err == nil && string(decoded) != primary {
			urls = append(urls, string(decoded))
		}
	}
	return urls
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, exists := os.LookupEnv(key); exists {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}
