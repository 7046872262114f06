package music

// ExplicitFlag mirrors the provider's lyrics rating for a song.
type ExplicitFlag string

const (
	ExplicitUnknown  ExplicitFlag = ""
	ExplicitClean    ExplicitFlag = "clean"
	ExplicitExplicit ExplicitFlag = "explicit"
	ExplicitEdited   ExplicitFlag = "edited"
)

// Song is the provider-neutral track DTO. For external songs ID carries the
// "ext-" form and Provider/ExternalID are set; for local songs LocalPath is
// set and Provider is empty.
type Song struct {
	ID          string
	Title       string
	Artist      string
	Album       string
	AlbumArtist string
	AlbumID     string
	ArtistID    string
	Track       int
	Disc        int
	Duration    int // seconds
	Year        int
	Genre       string
	BPM         int
	ISRC        string
	Explicit    ExplicitFlag
	CoverURL    string
	CoverURLBig string
	Copyright   string

	IsLocal    bool
	Provider   string
	ExternalID string
	LocalPath  string
}

// AlbumArtistOrArtist returns the album artist, defaulting to the track artist.
func (s *Song) AlbumArtistOrArtist() string {
	if s.AlbumArtist != "" {
		return s.AlbumArtist
	}
	return s.Artist
}

type Album struct {
	ID        string
	Title     string
	Artist    string
	ArtistID  string
	Year      int
	SongCount int
	Genre     string
	CoverURL  string

	IsLocal    bool
	Provider   string
	ExternalID string

	// Populated lazily by GetAlbum; len(Songs) <= SongCount when known.
	Songs []Song
}

type Artist struct {
	ID         string
	Name       string
	AlbumCount int
	ImageURL   string

	IsLocal    bool
	Provider   string
	ExternalID string
}

// Playlist describes an external curated playlist.
type Playlist struct {
	ID          string
	Name        string
	Description string
	Curator     string
	Provider    string
	ExternalID  string
	TrackCount  int
	Duration    int // seconds
	CoverURL    string
	Created     string
}
