package music

import "testing"

func TestParseIDRoundTrip(t *testing.T) {
	cases := []struct {
		provider string
		kind     Kind
		id       string
	}{
		{"squid", KindSong, "12345"},
		{"deezer", KindAlbum, "998877"},
		{"qobuz", KindArtist, "abc123"},
		{"squid", KindPlaylist, "550e8400-e29b-41d4-a716-446655440000"},
	}

	for _, c := range cases {
		built := BuildID(c.provider, c.kind, c.id)
		ext, ok := ParseID(built)
		if !ok {
			t.Fatalf("ParseID(%q): expected external", built)
		}
		if ext.Provider != c.provider || ext.Kind != c.kind || ext.ID != c.id {
			t.Errorf("ParseID(%q) = %+v, want {%s %s %s}", built, ext, c.provider, c.kind, c.id)
		}
	}
}

func TestParseIDLegacy(t *testing.T) {
	ext, ok := ParseID("ext-deezer-31337")
	if !ok {
		t.Fatal("expected external")
	}
	if ext.Provider != "deezer" || ext.Kind != KindSong || ext.ID != "31337" {
		t.Errorf("got %+v", ext)
	}

	// Legacy with hyphens in the opaque ID.
	ext, ok = ParseID("ext-squid-ab-cd-ef")
	if !ok {
		t.Fatal("expected external")
	}
	if ext.Kind != KindSong || ext.ID != "ab-cd-ef" {
		t.Errorf("got %+v", ext)
	}
}

func TestParseIDLocal(t *testing.T) {
	for _, id := range []string{"", "42", "al-123", "extra", "ext-", "ext--", "notext-squid-song-1"} {
		if _, ok := ParseID(id); ok {
			t.Errorf("ParseID(%q): expected local", id)
		}
	}
}
