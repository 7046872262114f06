package library

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"crescendo/pkg/music"
)

func testSong(provider, externalID string) *music.Song {
	return &music.Song{
		ID:         music.BuildID(provider, music.KindSong, externalID),
		Title:      "One More Time",
		Artist:     "Daft Punk",
		Album:      "Discovery",
		Provider:   provider,
		ExternalID: externalID,
	}
}

func writeTrack(t *testing.T, root string) string {
	t.Helper()
	path := filepath.Join(root, "Daft Punk", "Discovery", "01 - One More Time.flac")
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("audio-bytes"), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestIndexRegisterLookup(t *testing.T) {
	root := t.TempDir()
	ix := NewIndex(root)
	path := writeTrack(t, root)

	if err := ix.Register(testSong("squid", "12345"), path); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if got := ix.Lookup("squid", "12345"); got != path {
		t.Errorf("Lookup = %q, want %q", got, path)
	}
	if got := ix.Lookup("squid", "99999"); got != "" {
		t.Errorf("Lookup miss = %q, want empty", got)
	}

	// The mapping file uses "provider:externalID" keys.
	data, err := os.ReadFile(filepath.Join(root, MappingsFile))
	if err != nil {
		t.Fatalf("reading mappings: %v", err)
	}
	var doc map[string]Mapping
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("parsing mappings: %v", err)
	}
	if _, ok := doc["squid:12345"]; !ok {
		t.Errorf("mappings keys = %v, want squid:12345", doc)
	}
}

func TestIndexLookupSurvivesRestart(t *testing.T) {
	root := t.TempDir()
	path := writeTrack(t, root)

	if err := NewIndex(root).Register(testSong("squid", "12345"), path); err != nil {
		t.Fatal(err)
	}

	// Fresh index instance lazily loads the document.
	if got := NewIndex(root).Lookup("squid", "12345"); got != path {
		t.Errorf("Lookup after reload = %q, want %q", got, path)
	}
}

func TestIndexStaleMappingInvisible(t *testing.T) {
	root := t.TempDir()
	ix := NewIndex(root)
	path := writeTrack(t, root)

	if err := ix.Register(testSong("squid", "12345"), path); err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}

	if got := ix.Lookup("squid", "12345"); got != "" {
		t.Errorf("Lookup of deleted file = %q, want empty", got)
	}

	// The stale entry is pruned, not just hidden.
	if _, ok := ix.All()["squid:12345"]; ok {
		t.Error("stale mapping not pruned")
	}
}

func TestIndexRegisterIdempotent(t *testing.T) {
	root := t.TempDir()
	ix := NewIndex(root)
	path := writeTrack(t, root)

	song := testSong("squid", "12345")
	if err := ix.Register(song, path); err != nil {
		t.Fatal(err)
	}
	if err := ix.Register(song, path); err != nil {
		t.Fatal(err)
	}
	if n := len(ix.All()); n != 1 {
		t.Errorf("mappings = %d, want 1", n)
	}
}

func TestIndexRegisterWithoutIdentityIsNoop(t *testing.T) {
	root := t.TempDir()
	ix := NewIndex(root)

	if err := ix.Register(&music.Song{Title: "local song"}, "/tmp/x.mp3"); err != nil {
		t.Fatal(err)
	}
	if n := len(ix.All()); n != 0 {
		t.Errorf("mappings = %d, want 0", n)
	}
}

func TestIndexForget(t *testing.T) {
	root := t.TempDir()
	ix := NewIndex(root)
	path := writeTrack(t, root)

	if err := ix.Register(testSong("squid", "12345"), path); err != nil {
		t.Fatal(err)
	}
	ix.Forget("squid", "12345")
	if got := ix.Lookup("squid", "12345"); got != "" {
		t.Errorf("Lookup after Forget = %q", got)
	}
}

func TestIndexCorruptFileStartsEmpty(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, MappingsFile), []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}

	ix := NewIndex(root)
	if got := ix.Lookup("squid", "1"); got != "" {
		t.Errorf("Lookup = %q", got)
	}
	path := writeTrack(t, root)
	if err := ix.Register(testSong("squid", "1"), path); err != nil {
		t.Fatalf("Register after corrupt load: %v", err)
	}
}
