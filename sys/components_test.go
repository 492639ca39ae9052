package sys

import (
	"testing"
	"time"
)

func TestTruncate(t *testing.T) {
	if got := Truncate("short", 10); got != "short" {
		t.Errorf("Truncate(short) = %q", got)
	}
	if got := Truncate("a very long string", 10); got != "a very ..." {
		t.Errorf("Truncate = %q", got)
	}
	if got := Truncate("abcdef", 3); got != "abc" {
		t.Errorf("Truncate tiny = %q", got)
	}
}

func TestTruncateCenter(t *testing.T) {
	if got := TruncateCenter("short", 10); got != "short" {
		t.Errorf("TruncateCenter(short) = %q", got)
	}
	got := TruncateCenter("abcdefghijklmnop", 9)
	if got != "abc...nop" {
		t.Errorf("TruncateCenter = %q", got)
	}
}

func TestTruncateWithPreserve(t *testing.T) {
	got := TruncateWithPreserve("Title", 100, "[YTM] ", " - Artist")
	if got != "[YTM] Title - Artist" {
		t.Errorf("TruncateWithPreserve = %q", got)
	}
	// Prefix and suffix survive even when the text is cut.
	long := "This Is An Extremely Long Track Title That Goes On And On"
	got = TruncateWithPreserve(long, 40, "[YT] ", "")
	if len([]rune(got)) > 40 {
		t.Errorf("result too long: %q (%d)", got, len([]rune(got)))
	}
	if got[:5] != "[YT] " {
		t.Errorf("prefix lost: %q", got)
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "∞"},
		{45 * time.Second, "45s"},
		{90 * time.Second, "1m 30s"},
		{2*time.Hour + 5*time.Minute, "2h 5m"},
	}
	for _, tt := range tests {
		if got := FormatDuration(tt.d); got != tt.want {
			t.Errorf("FormatDuration(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func TestFormatTrackDuration(t *testing.T) {
	tests := []struct {
		seconds int
		want    string
	}{
		{0, "live"},
		{-1, "live"},
		{59, "0:59"},
		{61, "1:01"},
		{3600, "1:00:00"},
		{3725, "1:02:05"},
	}
	for _, tt := range tests {
		if got := FormatTrackDuration(tt.seconds); got != tt.want {
			t.Errorf("FormatTrackDuration(%d) = %q, want %q", tt.seconds, got, tt.want)
		}
	}
}
