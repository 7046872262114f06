// Package tagger writes track metadata into downloaded audio files.
package tagger

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/bogem/id3v2/v2"

	"crescendo/internal/provider"
	"crescendo/pkg/music"
)

// ExternalIDFrame is the TXXX description under which the provider identity
// is stored, so a wiped library index can be rebuilt from the files.
const ExternalIDFrame = "EXTERNAL_ID"

// Tagger embeds metadata and cover art with ID3v2 frames. FLAC and other
// non-MP3 containers are left untouched; the library index carries their
// identity instead.
type Tagger struct {
	client *provider.Client
}

func New() *Tagger {
	return &Tagger{client: provider.NewClient("tagger", nil)}
}

// Tag writes the song's metadata into the file at path. The underlying save
// goes through a temp file, so a failure never corrupts the audio.
func (t *Tagger) Tag(path string, song *music.Song) error {
	if !strings.EqualFold(filepath.Ext(path), ".mp3") {
		slog.Debug("Skipping tags for non-MP3 container", "path", path)
		return nil
	}

	tag, err := id3v2.Open(path, id3v2.Options{Parse: true})
	if err != nil {
		return fmt.Errorf("opening tags: %w", err)
	}
	defer tag.Close()

	tag.SetTitle(song.Title)
	tag.SetArtist(song.Artist)
	tag.SetAlbum(song.Album)
	if song.Year > 0 {
		tag.SetYear(strconv.Itoa(song.Year))
	}
	if song.Genre != "" {
		tag.SetGenre(song.Genre)
	}
	if aa := song.AlbumArtistOrArtist(); aa != "" {
		tag.AddTextFrame(tag.CommonID("Band/Orchestra/Accompaniment"), id3v2.EncodingUTF8, aa)
	}
	if song.Track > 0 {
		tag.AddTextFrame(tag.CommonID("Track number/Position in set"), id3v2.EncodingUTF8, strconv.Itoa(song.Track))
	}
	if song.Disc > 0 {
		tag.AddTextFrame(tag.CommonID("Part of a set"), id3v2.EncodingUTF8, strconv.Itoa(song.Disc))
	}
	if song.BPM > 0 {
		tag.AddTextFrame(tag.CommonID("BPM"), id3v2.EncodingUTF8, strconv.Itoa(song.BPM))
	}
	if song.ISRC != "" {
		tag.AddTextFrame(tag.CommonID("ISRC"), id3v2.EncodingUTF8, song.ISRC)
	}
	if song.Copyright != "" {
		tag.AddTextFrame(tag.CommonID("Copyright message"), id3v2.EncodingUTF8, song.Copyright)
	}

	if art := t.fetchArt(song); art != nil {
		tag.AddAttachedPicture(id3v2.PictureFrame{
			Encoding:    id3v2.EncodingUTF8,
			MimeType:    "image/jpeg",
			PictureType: id3v2.PTFrontCover,
			Description: "Front Cover",
			Picture:     art,
		})
	}

	if song.Provider != "" && song.ExternalID != "" {
		tag.AddUserDefinedTextFrame(id3v2.UserDefinedTextFrame{
			Encoding:    id3v2.EncodingUTF8,
			Description: ExternalIDFrame,
			Value:       song.Provider + ":" + song.ExternalID,
		})
	}

	return tag.Save()
}

// fetchArt downloads the largest available cover image. Art is optional; any
// failure just means an untagged picture.
func (t *Tagger) fetchArt(song *music.Song) []byte {
	url := song.CoverURLBig
	if url == "" {
		url = song.CoverURL
	}
	if url == "" {
		return nil
	}

	data, err := t.client.GetBody(context.Background(), url, nil)
	if err != nil {
		slog.Debug("Could not fetch cover art", "url", url, "error", err)
		return nil
	}
	return data
}
