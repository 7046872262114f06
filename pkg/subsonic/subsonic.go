// Package subsonic holds the wire types of the Subsonic REST dialect this
// server speaks to its clients and to the backend media server.
package subsonic

import "encoding/xml"

const (
	Version      = "1.16.1"
	StatusOk     = "ok"
	StatusFailed = "failed"
)

// Subsonic error codes.
const (
	ErrGeneric           = 0
	ErrRequiredParameter = 10
	ErrWrongUserPass     = 40
	ErrNotAuthorized     = 50
	ErrDataNotFound      = 70
)

// Response is the top-level subsonic-response envelope, serialized as XML by
// default and as JSON when the client asks with f=json.
type Response struct {
	XMLName       xml.Name          `xml:"http://subsonic.org/restapi subsonic-response" json:"-"`
	Status        string            `xml:"status,attr" json:"status"`
	Version       string            `xml:"version,attr" json:"version"`
	SearchResult3 *SearchResult3    `xml:"searchResult3,omitempty" json:"searchResult3,omitempty"`
	SearchResult2 *SearchResult2    `xml:"searchResult2,omitempty" json:"searchResult2,omitempty"`
	Song          *Song             `xml:"song,omitempty" json:"song,omitempty"`
	Album         *AlbumWithSongs   `xml:"album,omitempty" json:"album,omitempty"`
	Artist        *ArtistWithAlbums `xml:"artist,omitempty" json:"artist,omitempty"`
	Playlists     *Playlists        `xml:"playlists,omitempty" json:"playlists,omitempty"`
	Playlist      *Playlist         `xml:"playlist,omitempty" json:"playlist,omitempty"`
	Error         *Error            `xml:"error,omitempty" json:"error,omitempty"`
}

func Ok() Response {
	return Response{Status: StatusOk, Version: Version}
}

type Error struct {
	Code    int    `xml:"code,attr" json:"code"`
	Message string `xml:"message,attr" json:"message"`
}

type SearchResult3 struct {
	Artist   []Artist   `xml:"artist,omitempty" json:"artist,omitempty"`
	Album    []Album    `xml:"album,omitempty" json:"album,omitempty"`
	Song     []Song     `xml:"song,omitempty" json:"song,omitempty"`
	Playlist []Playlist `xml:"playlist,omitempty" json:"playlist,omitempty"`
}

type SearchResult2 struct {
	Artist []Artist `xml:"artist,omitempty" json:"artist,omitempty"`
	Album  []Album  `xml:"album,omitempty" json:"album,omitempty"`
	Song   []Song   `xml:"song,omitempty" json:"song,omitempty"`
}

type Artist struct {
	ID         string `xml:"id,attr" json:"id"`
	Name       string `xml:"name,attr" json:"name"`
	CoverArt   string `xml:"coverArt,attr,omitempty" json:"coverArt,omitempty"`
	AlbumCount int    `xml:"albumCount,attr,omitempty" json:"albumCount,omitempty"`
}

type ArtistWithAlbums struct {
	Artist
	Album []Album `xml:"album" json:"album,omitempty"`
}

type Album struct {
	ID        string `xml:"id,attr" json:"id"`
	Name      string `xml:"name,attr" json:"name"`
	Artist    string `xml:"artist,attr,omitempty" json:"artist,omitempty"`
	ArtistID  string `xml:"artistId,attr,omitempty" json:"artistId,omitempty"`
	CoverArt  string `xml:"coverArt,attr,omitempty" json:"coverArt,omitempty"`
	SongCount int    `xml:"songCount,attr,omitempty" json:"songCount,omitempty"`
	Duration  int    `xml:"duration,attr,omitempty" json:"duration,omitempty"`
	Year      int    `xml:"year,attr,omitempty" json:"year,omitempty"`
	Genre     string `xml:"genre,attr,omitempty" json:"genre,omitempty"`
	IsDir     bool   `xml:"isDir,attr" json:"isDir"`
}

type AlbumWithSongs struct {
	Album
	Song []Song `xml:"song" json:"song,omitempty"`
}

type Song struct {
	ID          string `xml:"id,attr" json:"id"`
	Parent      string `xml:"parent,attr,omitempty" json:"parent,omitempty"`
	Title       string `xml:"title,attr" json:"title"`
	IsDir       bool   `xml:"isDir,attr" json:"isDir"`
	Album       string `xml:"album,attr,omitempty" json:"album,omitempty"`
	AlbumID     string `xml:"albumId,attr,omitempty" json:"albumId,omitempty"`
	Artist      string `xml:"artist,attr,omitempty" json:"artist,omitempty"`
	ArtistID    string `xml:"artistId,attr,omitempty" json:"artistId,omitempty"`
	CoverArt    string `xml:"coverArt,attr,omitempty" json:"coverArt,omitempty"`
	Duration    int    `xml:"duration,attr,omitempty" json:"duration,omitempty"`
	BitRate     int    `xml:"bitRate,attr,omitempty" json:"bitRate,omitempty"`
	Track       int    `xml:"track,attr,omitempty" json:"track,omitempty"`
	DiscNumber  int    `xml:"discNumber,attr,omitempty" json:"discNumber,omitempty"`
	Year        int    `xml:"year,attr,omitempty" json:"year,omitempty"`
	Genre       string `xml:"genre,attr,omitempty" json:"genre,omitempty"`
	Size        int64  `xml:"size,attr,omitempty" json:"size,omitempty"`
	Suffix      string `xml:"suffix,attr,omitempty" json:"suffix,omitempty"`
	ContentType string `xml:"contentType,attr,omitempty" json:"contentType,omitempty"`
	Path        string `xml:"path,attr,omitempty" json:"path,omitempty"`
	BPM         int    `xml:"bpm,attr,omitempty" json:"bpm,omitempty"`
}

type Playlists struct {
	Playlist []Playlist `xml:"playlist" json:"playlist,omitempty"`
}

type Playlist struct {
	ID        string `xml:"id,attr" json:"id"`
	Name      string `xml:"name,attr" json:"name"`
	Comment   string `xml:"comment,attr,omitempty" json:"comment,omitempty"`
	Owner     string `xml:"owner,attr,omitempty" json:"owner,omitempty"`
	SongCount int    `xml:"songCount,attr,omitempty" json:"songCount,omitempty"`
	Duration  int    `xml:"duration,attr,omitempty" json:"duration,omitempty"`
	Created   string `xml:"created,attr,omitempty" json:"created,omitempty"`
	CoverArt  string `xml:"coverArt,attr,omitempty" json:"coverArt,omitempty"`
	Entry     []Song `xml:"entry,omitempty" json:"entry,omitempty"`
}
