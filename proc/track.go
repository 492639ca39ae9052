package proc

import (
	"os"
	"sync"

	"github.com/disgoorg/snowflake/v2"
	"github.com/hootworks/hootbot/sys"
)

// Track is one queued playback request. Metadata fields start empty and
// are filled in by extraction; mutation happens under mu because the
// preloader and the queue loop may both refine the same head track.
type Track struct {
	URL         string
	RequesterID snowflake.ID
	ChannelID   snowflake.ID // text channel for notices

	mu       sync.Mutex
	title    string
	uploader string
	duration int
	path     string // local file when materialized
	meta     *Metadata

	releaseOnce sync.Once
}

func NewTrack(url string, requesterID, channelID snowflake.ID) *Track {
	return &Track{
		URL:         url,
		RequesterID: requesterID,
		ChannelID:   channelID,
	}
}

func (t *Track) Title() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.title == "" {
		return t.URL
	}
	return t.title
}

func (t *Track) Uploader() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.uploader
}

func (t *Track) Duration() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.duration
}

// SetInfo records display metadata from a flat playlist entry or a full
// extraction. Empty values never overwrite known ones.
func (t *Track) SetInfo(title, uploader string, duration int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if title != "" {
		t.title = title
	}
	if uploader != "" {
		t.uploader = uploader
	}
	if duration > 0 {
		t.duration = duration
	}
}

func (t *Track) Metadata() *Metadata {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.meta
}

func (t *Track) SetMetadata(meta *Metadata) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.meta = meta
	if meta.Title != "" {
		t.title = meta.Title
	}
	if meta.Uploader != "" {
		t.uploader = meta.Uploader
	}
	if meta.Duration > 0 {
		t.duration = meta.Duration
	}
}

func (t *Track) Path() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.path
}

func (t *Track) SetPath(path string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.path = path
}

// Release deletes the materialized file, at most once, no matter how
// many completion and teardown paths race to call it.
func (t *Track) Release() {
	t.releaseOnce.Do(func() {
		path := t.Path()
		if path == "" {
			return
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			sys.LogVoice("Failed to remove track file %s: %v", path, err)
		} else if err == nil {
			sys.LogVoice("Cleaned up track file: %s", path)
		}
		t.SetPath("")
	})
}
