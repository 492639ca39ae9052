package proc

import (
	"testing"
	"time"
)

func TestComputeNeedsDownload(t *testing.T) {
	urlFormat := FormatCandidate{URL: "https://cdn/x", AudioCodec: "opus", Protocol: "https"}
	bareFormat := FormatCandidate{AudioCodec: "opus", Protocol: "https"}
	fragFormat := FormatCandidate{URL: "https://cdn/x", AudioCodec: "opus", Protocol: "m3u8", Fragmented: true}

	repeat := func(f FormatCandidate, n int) []FormatCandidate {
		out := make([]FormatCandidate, n)
		for i := range out {
			out[i] = f
		}
		return out
	}

	tests := []struct {
		name    string
		formats []FormatCandidate
		want    bool
	}{
		{"no formats", nil, true},
		{"no urls", repeat(bareFormat, 5), true},
		{"too few urls", append(repeat(urlFormat, 2), repeat(bareFormat, 8)...), true},
		{"enough urls", append(repeat(urlFormat, 3), repeat(bareFormat, 7)...), false},
		{"all fragmented", repeat(fragFormat, 4), true},
		{"healthy mix", append(repeat(urlFormat, 6), repeat(fragFormat, 4)...), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := computeNeedsDownload(tt.formats); got != tt.want {
				t.Errorf("computeNeedsDownload() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMetadataCacheHit(t *testing.T) {
	c := NewMetadataCache(time.Minute)
	meta := &Metadata{ID: "abc", Title: "Test"}
	c.Set("https://example.com/watch?v=abc", meta)

	got, ok := c.Get("https://example.com/watch?v=abc")
	if !ok {
		t.Fatal("expected cache hit")
	}
	if got != meta {
		t.Error("expected the same metadata pointer back")
	}
	if _, ok := c.Get("https://example.com/other"); ok {
		t.Error("expected miss for unknown url")
	}
}

func TestMetadataCacheExpiry(t *testing.T) {
	c := NewMetadataCache(10 * time.Millisecond)
	c.Set("url", &Metadata{ID: "abc"})

	if _, ok := c.Get("url"); !ok {
		t.Fatal("expected hit before expiry")
	}

	time.Sleep(25 * time.Millisecond)

	if _, ok := c.Get("url"); ok {
		t.Fatal("expected miss after expiry")
	}
	// Expired entries are dropped on lookup, not by a background sweeper.
	if n := c.Len(); n != 0 {
		t.Errorf("expected lazy eviction to empty the cache, have %d entries", n)
	}
}

func TestMetadataCacheSetRefreshes(t *testing.T) {
	c := NewMetadataCache(15 * time.Millisecond)
	c.Set("url", &Metadata{ID: "old"})
	time.Sleep(10 * time.Millisecond)
	c.Set("url", &Metadata{ID: "new"})
	time.Sleep(10 * time.Millisecond)

	got, ok := c.Get("url")
	if !ok {
		t.Fatal("expected refreshed entry to survive")
	}
	if got.ID != "new" {
		t.Errorf("expected refreshed metadata, got %s", got.ID)
	}
}
