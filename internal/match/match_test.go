package match

import "testing"

func TestSimilarityTiers(t *testing.T) {
	cases := []struct {
		query, target string
		want          int
	}{
		{"discovery", "Discovery", 100},
		{"disco", "Discovery", 90},
		{"time", "One More Time", 80},
		{"ore", "One More Time", 70},
	}
	for _, c := range cases {
		if got := Similarity(c.query, c.target); got != c.want {
			t.Errorf("Similarity(%q, %q) = %d, want %d", c.query, c.target, got, c.want)
		}
	}
}

func TestSimilarityLevenshteinTier(t *testing.T) {
	// "daft pank" vs "daft punk": distance 1 over length 9 -> (9-1)*60/9 = 53.
	if got := Similarity("daft pank", "daft punk"); got != 53 {
		t.Errorf("got %d, want 53", got)
	}
	// Completely unrelated strings score low.
	if got := Similarity("zzzz", "daft punk"); got > 10 {
		t.Errorf("unrelated score too high: %d", got)
	}
}

func TestSimilarityEmpty(t *testing.T) {
	if got := Similarity("", "x"); got != 0 {
		t.Errorf("got %d", got)
	}
	if got := Similarity("x", ""); got != 0 {
		t.Errorf("got %d", got)
	}
}

func TestScoreRecordFullCoverage(t *testing.T) {
	got := ScoreRecord("daft punk", "One More Time", "Daft Punk", "Discovery")
	if got != 100 {
		t.Errorf("got %d, want 100", got)
	}
}

func TestScoreRecordPartialCoverage(t *testing.T) {
	got := ScoreRecord("daft zeppelin", "One More Time", "Daft Punk", "Discovery")
	if got != 50 {
		t.Errorf("got %d, want 50", got)
	}
}

func TestScoreRecordSeparators(t *testing.T) {
	// Hyphens and underscores split like whitespace.
	got := ScoreRecord("daft-punk_discovery", "One More Time", "Daft Punk", "Discovery")
	if got != 100 {
		t.Errorf("got %d, want 100", got)
	}
}

func TestScoreRecordPunctuationOnlyQuery(t *testing.T) {
	// No alphanumeric tokens: substring match only.
	if got := ScoreRecord("!!!", "Song !!! Loud", "X", "Y"); got != 70 {
		t.Errorf("got %d, want 70", got)
	}
	if got := ScoreRecord("!!!", "Quiet Song", "X", "Y"); got != 0 {
		t.Errorf("got %d, want 0", got)
	}
}

func TestExternalBoostCap(t *testing.T) {
	if got := ExternalBoost(98); got != 100 {
		t.Errorf("got %d", got)
	}
	if got := ExternalBoost(50); got != 55 {
		t.Errorf("got %d", got)
	}
}

func TestExactBeatsSubstring(t *testing.T) {
	exact := Similarity("Discovery", "Discovery")
	substr := Similarity("Discovery", "Discovery Channel Hits")
	if exact <= substr {
		t.Errorf("exact (%d) must rank above substring (%d)", exact, substr)
	}
}
