package proc

import (
	"os"
	"path/filepath"
	"testing"
)

func TestTrackTitleFallsBackToURL(t *testing.T) {
	track := NewTrack("https://example.com/watch?v=abc", 1, 2)
	if got := track.Title(); got != "https://example.com/watch?v=abc" {
		t.Errorf("expected URL fallback, got %q", got)
	}

	track.SetInfo("Real Title", "", 0)
	if got := track.Title(); got != "Real Title" {
		t.Errorf("expected title, got %q", got)
	}
}

func TestTrackSetInfoNeverClears(t *testing.T) {
	track := NewTrack("url", 1, 2)
	track.SetInfo("Title", "Uploader", 180)
	track.SetInfo("", "", 0)

	if track.Title() != "Title" || track.Uploader() != "Uploader" || track.Duration() != 180 {
		t.Errorf("empty SetInfo overwrote known values: %q %q %d",
			track.Title(), track.Uploader(), track.Duration())
	}
}

func TestTrackSetMetadataFillsInfo(t *testing.T) {
	track := NewTrack("url", 1, 2)
	track.SetMetadata(&Metadata{Title: "Meta Title", Uploader: "Meta Uploader", Duration: 240})

	if track.Title() != "Meta Title" || track.Uploader() != "Meta Uploader" || track.Duration() != 240 {
		t.Errorf("metadata did not populate display info: %q %q %d",
			track.Title(), track.Uploader(), track.Duration())
	}
}

func TestTrackReleaseRemovesFileOnce(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "abc.webm")
	if err := os.WriteFile(path, []byte("audio"), 0644); err != nil {
		t.Fatal(err)
	}

	track := NewTrack("url", 1, 2)
	track.SetPath(path)

	track.Release()
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("expected file to be removed")
	}
	if track.Path() != "" {
		t.Error("expected path to be cleared")
	}

	// A second release is a no-op even if a file reappeared at the path.
	if err := os.WriteFile(path, []byte("audio"), 0644); err != nil {
		t.Fatal(err)
	}
	track.Release()
	if _, err := os.Stat(path); err != nil {
		t.Error("second release should not touch the filesystem")
	}
}
