package proc

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/hootworks/hootbot/sys"
	"github.com/ppalone/ytsearch"
	"github.com/raitonoberu/ytmusic"
)

// SearchResult is one autocomplete candidate.
type SearchResult struct {
	Title string
	URL   string
}

type cachedSearch struct {
	results   []SearchResult
	expiresAt time.Time
}

// QueryCache memoizes search results per query. Expired entries are
// evicted lazily on lookup.
type QueryCache struct {
	mu    sync.RWMutex
	items map[string]cachedSearch
}

func NewQueryCache() *QueryCache {
	return &QueryCache{items: make(map[string]cachedSearch)}
}

func (c *QueryCache) get(q string) ([]SearchResult, bool) {
	c.mu.RLock()
	item, ok := c.items[q]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if time.Now().After(item.expiresAt) {
		c.mu.Lock()
		if cur, ok := c.items[q]; ok && time.Now().After(cur.expiresAt) {
			delete(c.items, q)
		}
		c.mu.Unlock()
		return nil, false
	}
	return item.results, true
}

func (c *QueryCache) set(q string, results []SearchResult, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[q] = cachedSearch{results: results, expiresAt: time.Now().Add(ttl)}
}

// Search fans out to YouTube Music and YouTube in parallel, dedups by
// video ID, and caches the merged list for an hour.
func (vs *VoiceSystem) Search(q string) ([]SearchResult, error) {
	if results, ok := vs.searchCache.get(q); ok {
		return results, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2600*time.Millisecond)
	defer cancel()

	resMu := sync.Mutex{}
	var ytm, yt []SearchResult
	seen := make(map[string]bool)
	wg := sync.WaitGroup{}
	wg.Add(2)
	go func() {
		defer wg.Done()
		s := ytmusic.TrackSearch(q)
		r, _ := s.Next()
		for _, v := range r.Tracks {
			if v.VideoID == "" {
				continue
			}
			art := ""
			if len(v.Artists) > 0 {
				art = " - " + v.Artists[0].Name
			}
			resMu.Lock()
			if !seen[v.VideoID] {
				seen[v.VideoID] = true
				ytm = append(ytm, SearchResult{
					URL:   "https://music.youtube.com/watch?v=" + v.VideoID,
					Title: sys.TruncateWithPreserve(v.Title, 100, "[YTM] ", art),
				})
			}
			resMu.Unlock()
		}
	}()
	go func() {
		defer wg.Done()
		c := ytsearch.NewClient(nil)
		r, _ := c.Search(ctx, q)
		for _, v := range r.Results {
			resMu.Lock()
			if !seen[v.VideoID] {
				seen[v.VideoID] = true
				yt = append(yt, SearchResult{
					URL:   "https://www.youtube.com/watch?v=" + v.VideoID,
					Title: sys.TruncateWithPreserve(v.Title, 100, "[YT] ", ""),
				})
			}
			resMu.Unlock()
		}
	}()

	d := make(chan struct{})
	go func() {
		wg.Wait()
		close(d)
	}()
	select {
	case <-d:
	case <-time.After(2300 * time.Millisecond):
	}

	resMu.Lock()
	defer resMu.Unlock()
	fin := append(append([]SearchResult(nil), ytm...), yt...)
	if len(fin) > 25 {
		fin = fin[:25]
	}

	if len(fin) > 0 {
		vs.searchCache.set(q, fin, 1*time.Hour)
	}

	return fin, nil
}

var (
	camelCaseRegex     = regexp.MustCompile(`([a-z])([A-Z])`)
	metadataBlockRegex = regexp.MustCompile(`[\(\[\{][^\(\[\{]*?[\)\]\}]`)
)

// decorationWords carry no song identity and are stripped wherever they
// appear. "Song Title Official Video" and "Song Title" must normalize
// to the same string.
var decorationWords = map[string]bool{
	"official":   true,
	"video":      true,
	"audio":      true,
	"lyric":      true,
	"lyrics":     true,
	"visualizer": true,
	"visualiser": true,
	"remastered": true,
	"hd":         true,
	"hq":         true,
	"mv":         true,
	"4k":         true,
}

// normalizeTitle reduces an upload title to its song identity: uploader
// names, bracketed metadata blocks, separator prefixes and decoration
// words are all stripped so near-identical uploads compare equal.
func normalizeTitle(ti, ch string) string {
	if ti == "" {
		return ""
	}

	tBuf := camelCaseRegex.ReplaceAllString(ti, "${1} ${2}")
	cBuf := camelCaseRegex.ReplaceAllString(ch, "${1} ${2}")

	t, c := strings.ToLower(tBuf), strings.ToLower(cBuf)

	// Bracketed blocks are metadata wherever they sit, not just at the end.
	t = metadataBlockRegex.ReplaceAllString(t, " ")

	for _, sep := range []string{"|", "//", " ─ ", " - "} {
		if !strings.Contains(t, sep) {
			continue
		}
		var kept []string
		for _, p := range strings.Split(t, sep) {
			pt := strings.TrimSpace(p)
			if pt == "" || pt == c || pt == strings.ReplaceAll(c, " ", "") || decorationOnly(pt) {
				continue
			}
			kept = append(kept, pt)
		}
		switch len(kept) {
		case 0:
		case 1:
			t = kept[0]
		default:
			// "Artist - Title" style: the song is the trailing segment,
			// whoever the uploader turns out to be.
			t = kept[len(kept)-1]
		}
		break
	}

	if c != "" {
		t = strings.ReplaceAll(t, c, " ")
	}

	var words []string
	for _, w := range strings.Fields(alnumToSpaces(t)) {
		if decorationWords[w] {
			continue
		}
		words = append(words, w)
	}
	return strings.Join(words, " ")
}

// alnumToSpaces keeps [a-z0-9] and turns everything else into spaces.
func alnumToSpaces(s string) string {
	var sb strings.Builder
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			sb.WriteRune(r)
		} else {
			sb.WriteRune(' ')
		}
	}
	return sb.String()
}

// decorationOnly reports whether a separator segment carries nothing but
// decoration words ("Official Video", "HD").
func decorationOnly(s string) bool {
	fields := strings.Fields(alnumToSpaces(s))
	if len(fields) == 0 {
		return true
	}
	for _, f := range fields {
		if !decorationWords[f] {
			return false
		}
	}
	return true
}

// titlesEquivalent reports whether two uploads are the same song for
// dedup purposes.
func titlesEquivalent(titleA, uploaderA, titleB, uploaderB string) bool {
	na := normalizeTitle(titleA, uploaderA)
	nb := normalizeTitle(titleB, uploaderB)
	return na != "" && na == nb
}
