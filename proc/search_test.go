package proc

import (
	"testing"
	"time"
)

func TestNormalizeTitle(t *testing.T) {
	tests := []struct {
		name     string
		title    string
		uploader string
		want     string
	}{
		{"plain", "Song Title", "", "song title"},
		{"trailing metadata block", "Song Title (Official Video)", "Artist", "song title"},
		{"uploader prefix with separator", "Artist - Song Title [Lyrics]", "Artist", "song title"},
		{"pipe separator", "Song Title | Artist", "Artist", "song title"},
		{"camel case", "SongTitle", "", "song title"},
		{"stacked metadata blocks", "Song Title (Official Video) [4K]", "", "song title"},
		{"empty", "", "Artist", ""},
		{"punctuation", "Song, Title!", "", "song title"},
		{"unbracketed decoration words", "Song Title Official Video", "", "song title"},
		{"decoration-only trailing segment", "Song Title - Official Video", "", "song title"},
		{"artist prefix, unrelated uploader", "Artist - Song Title", "SomeChannel", "song title"},
		{"mid-title bracket block", "Song (Official Audio) Title", "", "song title"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := normalizeTitle(tt.title, tt.uploader); got != tt.want {
				t.Errorf("normalizeTitle(%q, %q) = %q, want %q", tt.title, tt.uploader, got, tt.want)
			}
		})
	}
}

func TestTitlesEquivalent(t *testing.T) {
	if !titlesEquivalent("Song Title (Official Video)", "Artist", "Artist - Song Title [Lyrics]", "Artist") {
		t.Error("expected near-identical uploads to compare equal")
	}
	// The uploaders need not match the artist prefix for dedup to work.
	if !titlesEquivalent("Song Title (Official Video)", "SomeChannel", "Artist - Song Title [Lyrics]", "OtherChannel") {
		t.Error("expected equivalence regardless of uploader names")
	}
	if !titlesEquivalent("Song Title Official Video", "", "Song Title", "") {
		t.Error("expected unbracketed decoration words to be ignored")
	}
	if titlesEquivalent("Song Title", "Artist", "Other Song", "Artist") {
		t.Error("expected different songs to compare unequal")
	}
	// Empty titles never match anything, including each other.
	if titlesEquivalent("", "Artist", "", "Artist") {
		t.Error("expected empty titles to never be equivalent")
	}
}

func TestQueryCache(t *testing.T) {
	c := NewQueryCache()
	results := []SearchResult{{Title: "a", URL: "https://a"}}

	c.set("query", results, time.Minute)
	got, ok := c.get("query")
	if !ok || len(got) != 1 || got[0].URL != "https://a" {
		t.Fatalf("expected cached results, got %v %v", got, ok)
	}

	c.set("short", results, 5*time.Millisecond)
	time.Sleep(15 * time.Millisecond)
	if _, ok := c.get("short"); ok {
		t.Error("expected expired entry to miss")
	}
}
