package music

import "strings"

// Kind of an external catalog entity, the third segment of an external ID.
type Kind string

const (
	KindSong     Kind = "song"
	KindAlbum    Kind = "album"
	KindArtist   Kind = "artist"
	KindPlaylist Kind = "playlist"
)

func validKind(k string) bool {
	switch Kind(k) {
	case KindSong, KindAlbum, KindArtist, KindPlaylist:
		return true
	}
	return false
}

// ExternalID is the decoded form of an "ext-{provider}-{kind}-{id}" identifier.
type ExternalID struct {
	Provider string
	Kind     Kind
	ID       string
}

// BuildID creates a standardized external ID.
// Format: "ext-{provider}-{kind}-{id}" (e.g. "ext-squid-song-1234").
func BuildID(provider string, kind Kind, externalID string) string {
	return "ext-" + provider + "-" + string(kind) + "-" + externalID
}

// ParseID parses a client-facing ID string. Formats:
//   - "ext-{provider}-{kind}-{id}"
//   - "ext-{provider}-{id}" (legacy, interpreted as kind=song)
//   - anything else is a local backend ID
//
// Parsing is total: malformed input comes back as a local ID unchanged.
func ParseID(id string) (ext ExternalID, isExternal bool) {
	if !strings.HasPrefix(id, "ext-") {
		return ExternalID{}, false
	}

	parts := strings.SplitN(id, "-", 4)

	// ext-{provider}-{kind}-{id}; the trailing segment may itself contain hyphens.
	if len(parts) == 4 && parts[1] != "" && validKind(parts[2]) && parts[3] != "" {
		return ExternalID{Provider: parts[1], Kind: Kind(parts[2]), ID: parts[3]}, true
	}

	// Legacy ext-{provider}-{id}: no kind segment, assume song.
	if len(parts) >= 3 && parts[1] != "" {
		raw := strings.Join(parts[2:], "-")
		if raw != "" {
			return ExternalID{Provider: parts[1], Kind: KindSong, ID: raw}, true
		}
	}

	return ExternalID{}, false
}
