package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/gin-gonic/gin"

	"crescendo/internal/backend"
	"crescendo/internal/config"
	"crescendo/internal/download"
	"crescendo/internal/handlers"
	"crescendo/internal/library"
	"crescendo/internal/provider"
	"crescendo/internal/provider/deezer"
	"crescendo/internal/provider/qobuz"
	"crescendo/internal/provider/squid"
	"crescendo/internal/search"
	"crescendo/internal/tagger"
	"crescendo/pkg/music"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Could not load config", "error", err)
		os.Exit(1)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel})))

	if err := cfg.Validate(); err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	cache := provider.NewCache(cfg.RedisAddr, time.Duration(cfg.CacheTTLHours)*time.Hour)
	prov, err := buildProvider(cfg, cache)
	if err != nil {
		slog.Error("Could not initialize provider", "provider", cfg.Provider, "error", err)
		os.Exit(1)
	}

	index := library.NewIndex(cfg.LibraryRoot)
	coord := download.NewCoordinator(prov, index, cfg.LibraryRoot, provider.Quality(cfg.PreferredQuality), tagger.New())

	proxy, err := backend.New(cfg.UpstreamURL)
	if err != nil {
		slog.Error("Invalid upstream URL", "url", cfg.UpstreamURL, "error", err)
		os.Exit(1)
	}

	if cfg.StorageMode == config.StorageCache {
		sweeper := library.NewSweeper(cfg.LibraryRoot, index, time.Duration(cfg.CacheTTLHours)*time.Hour)
		go sweeper.Run(context.Background())
	}

	searchHandler := handlers.NewSearchHandler(func(c *gin.Context) *search.Merger {
		return search.NewMerger(proxy.Catalog(c.Request.URL.Query()), prov, explicitFilter(cfg.ExplicitFilter))
	}, cfg.SearchLimit)

	metadataHandler := handlers.NewMetadataHandler(prov, proxy)
	streamHandler := handlers.NewStreamHandler(prov, proxy, coord, index)
	if cfg.DownloadMode == config.DownloadAlbum {
		streamHandler = streamHandler.WithAlbumPrefetch()
	}

	var playlists *library.PlaylistWriter
	if cfg.ExternalPlaylists {
		playlists = library.NewPlaylistWriter(cfg.LibraryRoot, cfg.PlaylistsDir)
	}
	starHandler := handlers.NewStarHandler(prov, proxy, coord, playlists)
	maintenanceHandler := handlers.NewMaintenanceHandler(cfg.LibraryRoot, index)

	r := gin.Default()
	r.SetTrustedProxies(nil)

	subsonic := r.Group("/rest")
	{
		// System
		subsonic.Any("/ping.view", proxy.Handle)
		subsonic.Any("/ping", proxy.Handle)
		subsonic.Any("/getLicense.view", proxy.Handle)
		subsonic.Any("/getLicense", proxy.Handle)

		// Browsing
		subsonic.Any("/getMusicFolders.view", proxy.Handle)
		subsonic.Any("/getMusicFolders", proxy.Handle)
		subsonic.Any("/getIndexes.view", proxy.Handle)
		subsonic.Any("/getIndexes", proxy.Handle)
		subsonic.Any("/getMusicDirectory.view", proxy.Handle)
		subsonic.Any("/getMusicDirectory", proxy.Handle)
		subsonic.Any("/getGenres.view", proxy.Handle)
		subsonic.Any("/getGenres", proxy.Handle)
		subsonic.Any("/getArtists.view", proxy.Handle)
		subsonic.Any("/getArtists", proxy.Handle)
		subsonic.Any("/getArtist.view", metadataHandler.GetArtist)
		subsonic.Any("/getArtist", metadataHandler.GetArtist)
		subsonic.Any("/getAlbum.view", metadataHandler.GetAlbum)
		subsonic.Any("/getAlbum", metadataHandler.GetAlbum)
		subsonic.Any("/getSong.view", metadataHandler.GetSong)
		subsonic.Any("/getSong", metadataHandler.GetSong)

		// Search
		subsonic.GET("/search2.view", searchHandler.Search2)
		subsonic.GET("/search2", searchHandler.Search2)
		subsonic.GET("/search3.view", searchHandler.Search3)
		subsonic.GET("/search3", searchHandler.Search3)

		// Playlists
		subsonic.Any("/createPlaylist.view", proxy.Handle)
		subsonic.Any("/createPlaylist", proxy.Handle)
		subsonic.Any("/updatePlaylist.view", proxy.Handle)
		subsonic.Any("/updatePlaylist", proxy.Handle)
		subsonic.Any("/deletePlaylist.view", proxy.Handle)
		subsonic.Any("/deletePlaylist", proxy.Handle)
		if cfg.ExternalPlaylists {
			subsonic.Any("/getPlaylists.view", metadataHandler.GetPlaylists)
			subsonic.Any("/getPlaylists", metadataHandler.GetPlaylists)
			subsonic.Any("/getPlaylist.view", metadataHandler.GetPlaylist)
			subsonic.Any("/getPlaylist", metadataHandler.GetPlaylist)
		} else {
			subsonic.Any("/getPlaylists.view", proxy.Handle)
			subsonic.Any("/getPlaylists", proxy.Handle)
			subsonic.Any("/getPlaylist.view", proxy.Handle)
			subsonic.Any("/getPlaylist", proxy.Handle)
		}

		// Media retrieval
		subsonic.Any("/stream.view", streamHandler.Stream)
		subsonic.Any("/stream", streamHandler.Stream)
		subsonic.Any("/download.view", streamHandler.Download)
		subsonic.Any("/download", streamHandler.Download)
		subsonic.Any("/getCoverArt.view", metadataHandler.GetCoverArt)
		subsonic.Any("/getCoverArt", metadataHandler.GetCoverArt)

		// Social
		subsonic.Any("/star.view", starHandler.Star)
		subsonic.Any("/star", starHandler.Star)
		subsonic.Any("/unstar.view", starHandler.Unstar)
		subsonic.Any("/unstar", starHandler.Unstar)
	}

	// Everything else is the backend's business.
	r.NoRoute(proxy.Handle)

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok", "provider": prov.Name(), "upstream": proxy.TargetURL()})
	})
	r.GET("/maintenance/scan", maintenanceHandler.Scan)

	slog.Info("Starting crescendo",
		"port", cfg.Port,
		"upstream", cfg.UpstreamURL,
		"provider", prov.Name(),
		"quality", cfg.PreferredQuality,
		"storage", cfg.StorageMode,
	)
	if err := r.Run(":" + cfg.Port); err != nil {
		slog.Error("Server stopped", "error", err)
		os.Exit(1)
	}
}

// buildProvider picks the external catalog tier from the config.
func buildProvider(cfg *config.Config, cache *provider.Cache) (provider.Provider, error) {
	switch cfg.Provider {
	case "deezer":
		return deezer.New(deezer.Config{
			ARL:         cfg.DeezerARL,
			ARLFallback: cfg.DeezerARLFallback,
			Secret:      cfg.DeezerSecret,
		}, cache), nil
	case "qobuz":
		appID, appSecret := cfg.QobuzAppID, cfg.QobuzSecret
		if appID == "" {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			var err error
			appID, appSecret, err = qobuz.FetchAppCredentials(ctx, cfg.QobuzBundleURL)
			if err != nil {
				return nil, err
			}
			slog.Info("Scraped app credentials from web player bundle", "appId", appID)
		}
		return qobuz.New(qobuz.Config{
			AppID:         appID,
			AppSecret:     appSecret,
			UserAuthToken: cfg.QobuzUserToken,
		}, cache), nil
	default:
		return squid.New(cfg.SquidURLs, cache), nil
	}
}

// explicitFilter translates the configured mode into the merger's song
// predicate.
func explicitFilter(mode config.ExplicitFilter) func(music.Song) bool {
	switch mode {
	case config.CleanOnly:
		return func(s music.Song) bool { return s.Explicit != music.ExplicitExplicit }
	case config.ExplicitOnly:
		return func(s music.Song) bool { return s.Explicit != music.ExplicitClean }
	default:
		return nil
	}
}
