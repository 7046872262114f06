package library

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

const maxSegmentLen = 100

var sanitizeReplacer = strings.NewReplacer(
	"<", "_", ">", "_", ":", "_", "\"", "_",
	"/", "_", "\\", "_", "|", "_", "?", "_", "*", "_",
)

// Sanitize makes a tag value safe to use as a single path segment. Reserved
// characters and control characters become underscores, surrounding
// whitespace is trimmed and the segment is capped at 100 characters.
func Sanitize(s string) string {
	s = sanitizeReplacer.Replace(s)

	var b strings.Builder
	for _, r := range s {
		if r < 0x20 || r == 0x7f {
			b.WriteRune('_')
		} else {
			b.WriteRune(r)
		}
	}
	s = strings.TrimSpace(b.String())

	if len(s) > maxSegmentLen {
		// Cut on a rune boundary so the segment stays valid UTF-8.
		cut := maxSegmentLen
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		s = strings.TrimSpace(s[:cut])
	}
	if s == "" {
		s = "_"
	}
	return s
}

// TrackPath builds the canonical library path for a track:
//
//	root/Artist/Album/NN - Title.ext
//
// The "NN - " prefix is omitted when the track number is unknown. The result
// is deterministic; collision handling is a separate step (ResolveCollision).
func TrackPath(root, artist, album, title string, track int, ext string) string {
	name := Sanitize(title)
	if track > 0 {
		name = fmt.Sprintf("%02d - %s", track, name)
	}
	return filepath.Join(root, Sanitize(artist), Sanitize(album), name+"."+ext)
}

// ResolveCollision returns path if nothing exists there, otherwise the first
// "base (n).ext" variant (n >= 1) that does not exist.
func ResolveCollision(path string) string {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return path
	}

	ext := filepath.Ext(path)
	base := strings.TrimSuffix(path, ext)
	for n := 1; ; n++ {
		candidate := fmt.Sprintf("%s (%d)%s", base, n, ext)
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
	}
}

// ExtensionForMime maps a provider-reported content type to a file extension.
// Unknown types fall back to mp3.
func ExtensionForMime(mimeType string) string {
	mt := strings.ToLower(mimeType)
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = strings.TrimSpace(mt[:i])
	}
	switch mt {
	case "audio/flac", "audio/x-flac":
		return "flac"
	case "audio/mpeg", "audio/mp3":
		return "mp3"
	case "audio/mp4", "audio/m4a", "audio/x-m4a":
		return "m4a"
	case "audio/ogg", "application/ogg", "audio/vorbis":
		return "ogg"
	case "audio/wav", "audio/x-wav", "audio/wave":
		return "wav"
	case "audio/aac", "audio/aacp":
		return "aac"
	default:
		return "mp3"
	}
}

// MimeForExtension is the inverse mapping, used when serving a file whose
// container is known only from its name.
func MimeForExtension(ext string) string {
	switch strings.ToLower(strings.TrimPrefix(ext, ".")) {
	case "flac":
		return "audio/flac"
	case "mp3":
		return "audio/mpeg"
	case "m4a":
		return "audio/mp4"
	case "ogg":
		return "audio/ogg"
	case "wav":
		return "audio/wav"
	case "aac":
		return "audio/aac"
	default:
		return "application/octet-stream"
	}
}
