package proc

import (
	"sync"
	"time"
)

// Materialization heuristic thresholds. These are tuned empirically
// upstream; do not re-derive them.
const (
	sabrURLRatio     = 4
	minValidFileSize = 1000
)

// FormatCandidate is one playable format reported by the extractor.
type FormatCandidate struct {
	URL        string
	AudioCodec string
	Protocol   string
	Bitrate    float64
	Fragmented bool
}

// HasURL reports whether the candidate can be streamed without a
// materialization step.
func (f FormatCandidate) HasURL() bool {
	return f.URL != ""
}

func (f FormatCandidate) HasAudio() bool {
	return f.AudioCodec != "" && f.AudioCodec != "none"
}

// Metadata is the immutable result of one extraction.
type Metadata struct {
	ID        string
	Title     string
	Uploader  string
	Duration  int // seconds, 0 for live
	Thumbnail string
	WebpageURL string
	Formats   []FormatCandidate

	// NeedsDownload is computed once at extraction time and cached with
	// the metadata. When set, direct streaming is unlikely to work and
	// the track is downloaded instead.
	NeedsDownload bool
}

// computeNeedsDownload flags metadata whose formats suggest the remote
// service is not handing out directly playable progressive streams.
func computeNeedsDownload(formats []FormatCandidate) bool {
	total := len(formats)
	if total == 0 {
		return true
	}

	withURL := 0
	fragmented := 0
	for _, f := range formats {
		if f.HasURL() {
			withURL++
		}
		if f.Fragmented {
			fragmented++
		}
	}

	if withURL == 0 {
		return true
	}
	if withURL*sabrURLRatio < total {
		return true
	}
	if fragmented == total {
		return true
	}
	return false
}

// StreamDescriptorKind distinguishes remote streams from local files.
type StreamDescriptorKind int

const (
	StreamKindRemote StreamDescriptorKind = iota
	StreamKindLocalFile
)

// StreamDescriptor is what the player actually consumes. A local-file
// descriptor owns its backing file; release happens through the Track.
type StreamDescriptor struct {
	Kind       StreamDescriptorKind
	Source     string // URL or filesystem path
	Fragmented bool
}

type cachedMetadata struct {
	meta      *Metadata
	expiresAt time.Time
}

// MetadataCache holds extraction results per locator with a TTL. Expired
// entries are evicted lazily on the next lookup.
type MetadataCache struct {
	mu    sync.RWMutex
	ttl   time.Duration
	items map[string]cachedMetadata
}

func NewMetadataCache(ttl time.Duration) *MetadataCache {
	return &MetadataCache{
		ttl:   ttl,
		items: make(map[string]cachedMetadata),
	}
}

func (c *MetadataCache) Get(url string) (*Metadata, bool) {
	c.mu.RLock()
	item, ok := c.items[url]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}

	if time.Now().After(item.expiresAt) {
		c.mu.Lock()
		// Re-check under the write lock; a Set may have refreshed it.
		if cur, ok := c.items[url]; ok && time.Now().After(cur.expiresAt) {
			delete(c.items, url)
		}
		c.mu.Unlock()
		return nil, false
	}

	return item.meta, true
}

func (c *MetadataCache) Set(url string, meta *Metadata) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[url] = cachedMetadata{
		meta:      meta,
		expiresAt: time.Now().Add(c.ttl),
	}
}

func (c *MetadataCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}
