package handlers

import (
	"crescendo/pkg/music"
	"crescendo/pkg/subsonic"
)

// Wire conversion from the neutral model to the Subsonic dialect. External
// entities keep their "ext-" IDs on every reference (album, artist, cover),
// so clients navigate the virtual catalog without special cases.

func songToWire(s music.Song) subsonic.Song {
	out := subsonic.Song{
		ID:         s.ID,
		Title:      s.Title,
		Artist:     s.Artist,
		ArtistID:   s.ArtistID,
		Album:      s.Album,
		AlbumID:    s.AlbumID,
		Track:      s.Track,
		DiscNumber: s.Disc,
		Duration:   s.Duration,
		Year:       s.Year,
		Genre:      s.Genre,
		BPM:        s.BPM,
		CoverArt:   s.CoverURL,
	}
	if !s.IsLocal {
		// Clients fetch covers through getCoverArt with the song's own ID;
		// the handler resolves the provider image from there.
		out.CoverArt = s.ID
		out.Parent = s.AlbumID
		out.Suffix = "mp3"
		out.ContentType = "audio/mpeg"
	}
	return out
}

func songsToWire(songs []music.Song) []subsonic.Song {
	out := make([]subsonic.Song, 0, len(songs))
	for _, s := range songs {
		out = append(out, songToWire(s))
	}
	return out
}

func albumToWire(a music.Album) subsonic.Album {
	out := subsonic.Album{
		ID:        a.ID,
		Name:      a.Title,
		Artist:    a.Artist,
		ArtistID:  a.ArtistID,
		Year:      a.Year,
		SongCount: a.SongCount,
		Genre:     a.Genre,
		CoverArt:  a.CoverURL,
	}
	if !a.IsLocal {
		out.CoverArt = a.ID
	}
	return out
}

func albumsToWire(albums []music.Album) []subsonic.Album {
	out := make([]subsonic.Album, 0, len(albums))
	for _, a := range albums {
		out = append(out, albumToWire(a))
	}
	return out
}

func artistToWire(a music.Artist) subsonic.Artist {
	out := subsonic.Artist{
		ID:         a.ID,
		Name:       a.Name,
		AlbumCount: a.AlbumCount,
		CoverArt:   a.ImageURL,
	}
	if !a.IsLocal {
		out.CoverArt = a.ID
	}
	return out
}

func artistsToWire(artists []music.Artist) []subsonic.Artist {
	out := make([]subsonic.Artist, 0, len(artists))
	for _, a := range artists {
		out = append(out, artistToWire(a))
	}
	return out
}

func playlistToWire(p music.Playlist) subsonic.Playlist {
	return subsonic.Playlist{
		ID:        p.ID,
		Name:      p.Name,
		Comment:   p.Description,
		Owner:     p.Curator,
		SongCount: p.TrackCount,
		Duration:  p.Duration,
		Created:   p.Created,
		CoverArt:  p.ID,
	}
}

func playlistsToWire(playlists []music.Playlist) []subsonic.Playlist {
	out := make([]subsonic.Playlist, 0, len(playlists))
	for _, p := range playlists {
		out = append(out, playlistToWire(p))
	}
	return out
}
