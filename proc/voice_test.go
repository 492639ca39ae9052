package proc

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/disgoorg/disgo/voice"
	"github.com/disgoorg/snowflake/v2"
	"github.com/hootworks/hootbot/sys"
)

// fakeExtractor resolves every URL into one clean progressive format
// unless the URL is marked as failing.
type fakeExtractor struct {
	mu           sync.Mutex
	failURLs     map[string]bool
	resolveCount map[string]int
	needDownload bool
	downloadDir  string
	formats      []FormatCandidate
}

func newFakeExtractor() *fakeExtractor {
	return &fakeExtractor{
		failURLs:     make(map[string]bool),
		resolveCount: make(map[string]int),
	}
}

func (f *fakeExtractor) Resolve(ctx context.Context, url string) (*Metadata, error) {
	f.mu.Lock()
	f.resolveCount[url]++
	fail := f.failURLs[url]
	needDownload := f.needDownload
	formats := f.formats
	f.mu.Unlock()

	if fail {
		return nil, errors.New("extraction failed")
	}
	if formats == nil {
		formats = []FormatCandidate{
			{URL: url, AudioCodec: "opus", Protocol: "https", Bitrate: 128},
		}
	}
	return &Metadata{
		ID:            url,
		Title:         "Title " + url,
		Uploader:      "Uploader",
		Duration:      180,
		WebpageURL:    url,
		NeedsDownload: needDownload,
		Formats:       formats,
	}, nil
}

func (f *fakeExtractor) Download(ctx context.Context, meta *Metadata) (string, error) {
	f.mu.Lock()
	dir := f.downloadDir
	f.mu.Unlock()
	if dir == "" {
		return "", errors.New("download not supported")
	}
	path := filepath.Join(dir, strings.ReplaceAll(meta.ID, "/", "_")+".webm")
	if err := os.WriteFile(path, []byte("audio"), 0644); err != nil {
		return "", err
	}
	return path, nil
}

func (f *fakeExtractor) Playlist(ctx context.Context, url string, max int) ([]PlaylistEntry, error) {
	return nil, errors.New("not a playlist")
}

func (f *fakeExtractor) resolves(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.resolveCount[url]
}

// fakePlayer hands each descriptor to the test through started and holds
// the completion callback until the test (or Stop) fires it.
type fakePlayer struct {
	mu      sync.Mutex
	active  bool
	onDone  func(error)
	started chan *StreamDescriptor
}

func newFakePlayer() *fakePlayer {
	return &fakePlayer{started: make(chan *StreamDescriptor, 16)}
}

func (p *fakePlayer) Play(ctx context.Context, conn voice.Conn, desc *StreamDescriptor, onDone func(error)) error {
	p.mu.Lock()
	p.active = true
	p.onDone = onDone
	p.mu.Unlock()
	p.started <- desc
	return nil
}

func (p *fakePlayer) Stop() {
	p.finish(nil)
}

func (p *fakePlayer) IsActive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

func (p *fakePlayer) finish(err error) {
	p.mu.Lock()
	done := p.onDone
	active := p.active
	p.active = false
	p.onDone = nil
	p.mu.Unlock()
	if active && done != nil {
		done(err)
	}
}

func (p *fakePlayer) waitStarted(t *testing.T) *StreamDescriptor {
	t.Helper()
	select {
	case desc := <-p.started:
		return desc
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for playback to start")
		return nil
	}
}

type noticeLog struct {
	mu      sync.Mutex
	notices []string
}

func (n *noticeLog) record(format string, v ...any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, fmt.Sprintf(format, v...))
}

func (n *noticeLog) all() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.notices...)
}

func (n *noticeLog) count(substr string) int {
	c := 0
	for _, msg := range n.all() {
		if strings.Contains(msg, substr) {
			c++
		}
	}
	return c
}

func newTestSession(t *testing.T) (*VoiceSession, *fakeExtractor, *fakePlayer, *noticeLog) {
	t.Helper()
	ext := newFakeExtractor()
	player := newFakePlayer()
	vs := newVoiceSystemForTest(ext, func() Player { return player })

	sess := vs.Prepare(nil, snowflake.ID(100), snowflake.ID(200), snowflake.ID(300))
	notices := &noticeLog{}
	sess.notify = notices.record
	t.Cleanup(sess.reset)
	return sess, ext, player, notices
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestEnqueueModes(t *testing.T) {
	sess, _, _, _ := newTestSession(t)

	sess.Enqueue("url-a", "", 1, 2)
	sess.Enqueue("url-b", "", 1, 2)
	sess.Enqueue("url-c", "next", 1, 2)

	_, queue := sess.QueueSnapshot()
	if len(queue) != 3 {
		t.Fatalf("expected 3 queued tracks, have %d", len(queue))
	}
	want := []string{"url-c", "url-a", "url-b"}
	for i, w := range want {
		if queue[i].URL != w {
			t.Errorf("queue[%d] = %s, want %s", i, queue[i].URL, w)
		}
	}
}

func TestPlaybackOrder(t *testing.T) {
	sess, _, player, notices := newTestSession(t)

	sess.Enqueue("url-1", "", 1, 2)
	sess.Enqueue("url-2", "", 1, 2)
	sess.Enqueue("url-3", "", 1, 2)
	sess.startLoop()

	for _, want := range []string{"url-1", "url-2", "url-3"} {
		desc := player.waitStarted(t)
		if desc.Kind != StreamKindRemote || desc.Source != want {
			t.Fatalf("expected remote stream %s, got kind=%d source=%s", want, desc.Kind, desc.Source)
		}
		player.finish(nil)
	}

	waitFor(t, "queue to drain", func() bool { return sess.QueueLen() == 0 && sess.NowPlaying() == nil })
	if got := notices.count("Now playing"); got != 3 {
		t.Errorf("expected 3 now-playing notices, got %d: %v", got, notices.all())
	}
}

func TestEnqueueNowInterrupts(t *testing.T) {
	sess, _, player, _ := newTestSession(t)

	sess.Enqueue("url-a", "", 1, 2)
	sess.Enqueue("url-b", "", 1, 2)
	sess.startLoop()

	desc := player.waitStarted(t)
	if desc.Source != "url-a" {
		t.Fatalf("expected url-a first, got %s", desc.Source)
	}

	sess.Enqueue("url-now", "now", 1, 2)

	desc = player.waitStarted(t)
	if desc.Source != "url-now" {
		t.Fatalf("expected interrupting track next, got %s", desc.Source)
	}
	player.finish(nil)

	desc = player.waitStarted(t)
	if desc.Source != "url-b" {
		t.Fatalf("expected url-b after interrupt, got %s", desc.Source)
	}
	player.finish(nil)
}

func TestSkipAdvancesQueue(t *testing.T) {
	sess, _, player, _ := newTestSession(t)

	if _, err := sess.Skip(); !errors.Is(err, ErrNothingPlaying) {
		t.Errorf("expected ErrNothingPlaying, got %v", err)
	}

	sess.Enqueue("url-a", "", 1, 2)
	sess.Enqueue("url-b", "", 1, 2)
	sess.startLoop()

	player.waitStarted(t)
	waitFor(t, "current track", func() bool { return sess.NowPlaying() != nil })

	skipped, err := sess.Skip()
	if err != nil {
		t.Fatalf("skip failed: %v", err)
	}
	if skipped.URL != "url-a" {
		t.Errorf("expected to skip url-a, got %s", skipped.URL)
	}

	desc := player.waitStarted(t)
	if desc.Source != "url-b" {
		t.Fatalf("expected url-b after skip, got %s", desc.Source)
	}
	player.finish(nil)
}

func TestFailureNoticesAreBatched(t *testing.T) {
	sess, ext, _, notices := newTestSession(t)

	for i := 1; i <= 10; i++ {
		url := fmt.Sprintf("bad-%d", i)
		ext.mu.Lock()
		ext.failURLs[url] = true
		ext.mu.Unlock()
		sess.Enqueue(url, "", 1, 2)
	}
	sess.startLoop()

	waitFor(t, "queue to drain", func() bool { return sess.QueueLen() == 0 && sess.NowPlaying() == nil })
	waitFor(t, "exhaustion notice", func() bool { return notices.count("Queue exhausted") == 1 })

	// 10 straight failures: one notice at 5, one at 10, one summary.
	if got := notices.count("tracks in a row"); got != 2 {
		t.Errorf("expected two batched notices, got %d: %v", got, notices.all())
	}
	if got := notices.count("Skipped 5 tracks in a row"); got != 1 {
		t.Errorf("expected a notice at the 5th failure, got: %v", notices.all())
	}
	if got := notices.count("Queue exhausted: 10 track(s)"); got != 1 {
		t.Errorf("expected exhaustion summary naming 10 tracks, got: %v", notices.all())
	}
}

func TestFailureStreakResetsOnSuccess(t *testing.T) {
	sess, ext, player, notices := newTestSession(t)

	for i := 1; i <= 4; i++ {
		url := fmt.Sprintf("bad-%d", i)
		ext.mu.Lock()
		ext.failURLs[url] = true
		ext.mu.Unlock()
		sess.Enqueue(url, "", 1, 2)
	}
	sess.Enqueue("good", "", 1, 2)
	ext.mu.Lock()
	ext.failURLs["bad-5"] = true
	ext.mu.Unlock()
	sess.Enqueue("bad-5", "", 1, 2)
	sess.startLoop()

	player.waitStarted(t)
	player.finish(nil)

	waitFor(t, "queue to drain", func() bool { return sess.QueueLen() == 0 && sess.NowPlaying() == nil })

	// 4 failures, then success, then 1 failure: the streak never hits 5.
	if got := notices.count("Skipped"); got != 0 {
		t.Errorf("expected no batched notices, got %d: %v", got, notices.all())
	}
	if got := notices.count("Queue exhausted: 1 track(s)"); got != 1 {
		t.Errorf("expected exhaustion summary for the final failure, got: %v", notices.all())
	}
}

func TestShuffle(t *testing.T) {
	sess, _, _, _ := newTestSession(t)

	for i := 0; i < minShuffleSize-1; i++ {
		sess.Enqueue(fmt.Sprintf("url-%d", i), "", 1, 2)
	}
	if err := sess.Shuffle(); !errors.Is(err, ErrTooFewToShuffle) {
		t.Errorf("expected ErrTooFewToShuffle, got %v", err)
	}

	sess.Enqueue("url-last", "", 1, 2)
	if err := sess.Shuffle(); err != nil {
		t.Fatalf("expected shuffle to succeed at %d tracks: %v", minShuffleSize, err)
	}

	_, queue := sess.QueueSnapshot()
	if len(queue) != minShuffleSize {
		t.Fatalf("shuffle changed queue length: %d", len(queue))
	}
	seen := make(map[string]bool, len(queue))
	for _, tr := range queue {
		seen[tr.URL] = true
	}
	if len(seen) != minShuffleSize {
		t.Error("shuffle dropped or duplicated tracks")
	}
}

func TestRemove(t *testing.T) {
	sess, _, _, _ := newTestSession(t)

	if _, err := sess.Remove(1); !errors.Is(err, ErrQueueEmpty) {
		t.Errorf("expected ErrQueueEmpty, got %v", err)
	}

	sess.Enqueue("url-a", "", 1, 2)
	sess.Enqueue("url-b", "", 1, 2)
	sess.Enqueue("url-c", "", 1, 2)

	if _, err := sess.Remove(0); !errors.Is(err, ErrPositionOutOfRange) {
		t.Errorf("expected ErrPositionOutOfRange for 0, got %v", err)
	}
	if _, err := sess.Remove(4); !errors.Is(err, ErrPositionOutOfRange) {
		t.Errorf("expected ErrPositionOutOfRange for 4, got %v", err)
	}

	removed, err := sess.Remove(2)
	if err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	if removed.URL != "url-b" {
		t.Errorf("expected url-b removed, got %s", removed.URL)
	}

	_, queue := sess.QueueSnapshot()
	if len(queue) != 2 || queue[0].URL != "url-a" || queue[1].URL != "url-c" {
		t.Errorf("unexpected queue after remove: %v", queue)
	}
}

func TestClear(t *testing.T) {
	sess, _, _, _ := newTestSession(t)

	sess.Enqueue("url-a", "", 1, 2)
	sess.Enqueue("url-b", "", 1, 2)

	if n := sess.Clear(); n != 2 {
		t.Errorf("expected 2 cleared, got %d", n)
	}
	if sess.QueueLen() != 0 {
		t.Error("expected empty queue after clear")
	}
	if n := sess.Clear(); n != 0 {
		t.Errorf("expected 0 cleared on empty queue, got %d", n)
	}
}

func TestEnqueueBulkDedup(t *testing.T) {
	sess, _, _, _ := newTestSession(t)

	existing, _ := sess.Enqueue("url-existing", "", 1, 2)
	existing.SetInfo("Song Title", "Artist", 0)

	entries := []PlaylistEntry{
		{URL: "url-1", Title: "Song Title (Official Video)", Uploader: "Artist"},
		{URL: "url-2", Title: "Another Song", Uploader: "Artist"},
		{URL: "url-3", Title: "Another Song [Lyrics]", Uploader: "Artist"},
	}
	added, skipped := sess.EnqueueBulk(entries, 1, 2)

	if len(added) != 1 || added[0].URL != "url-2" {
		t.Errorf("expected only url-2 added, got %v", added)
	}
	if skipped != 2 {
		t.Errorf("expected 2 skipped, got %d", skipped)
	}
	if sess.QueueLen() != 2 {
		t.Errorf("expected 2 queued, got %d", sess.QueueLen())
	}
}

func TestEnqueueBulkConcurrent(t *testing.T) {
	sess, _, _, _ := newTestSession(t)

	entries := make([]PlaylistEntry, 5)
	for i := range entries {
		entries[i] = PlaylistEntry{
			URL:      fmt.Sprintf("url-%d", i),
			Title:    fmt.Sprintf("Song %d", i),
			Uploader: "Artist",
		}
	}

	// Each call filters and appends atomically, so racing calls must not
	// slip duplicates past each other.
	var (
		wg           sync.WaitGroup
		totalMu      sync.Mutex
		totalAdded   int
		totalSkipped int
	)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			added, skipped := sess.EnqueueBulk(entries, 1, 2)
			totalMu.Lock()
			totalAdded += len(added)
			totalSkipped += skipped
			totalMu.Unlock()
		}()
	}
	wg.Wait()

	if totalAdded != len(entries) {
		t.Errorf("expected %d tracks added across all calls, got %d", len(entries), totalAdded)
	}
	if totalSkipped != 3*len(entries) {
		t.Errorf("expected %d skipped across all calls, got %d", 3*len(entries), totalSkipped)
	}
	if sess.QueueLen() != len(entries) {
		t.Errorf("expected %d queued, got %d", len(entries), sess.QueueLen())
	}
}

func TestIdleTimerLifecycle(t *testing.T) {
	sess, _, player, _ := newTestSession(t)

	timerArmed := func() bool {
		sess.mu.Lock()
		defer sess.mu.Unlock()
		return sess.idleTimer != nil
	}

	sess.startLoop()
	waitFor(t, "idle timer on empty queue", timerArmed)

	sess.Enqueue("url-a", "", 1, 2)
	player.waitStarted(t)
	if timerArmed() {
		t.Error("idle timer must be disarmed while something is playing")
	}

	player.finish(nil)
	waitFor(t, "idle timer after drain", timerArmed)
}

func TestMetadataResolvedOncePerURL(t *testing.T) {
	sess, ext, player, _ := newTestSession(t)

	sess.Enqueue("url-same", "", 1, 2)
	sess.Enqueue("url-same", "", 1, 2)
	sess.startLoop()

	player.waitStarted(t)
	player.finish(nil)
	player.waitStarted(t)
	player.finish(nil)

	waitFor(t, "queue to drain", func() bool { return sess.QueueLen() == 0 && sess.NowPlaying() == nil })
	if n := ext.resolves("url-same"); n != 1 {
		t.Errorf("expected one extraction for a repeated URL, got %d", n)
	}
}

func TestDownloadPathForSABRMetadata(t *testing.T) {
	sess, ext, player, _ := newTestSession(t)
	ext.mu.Lock()
	ext.needDownload = true
	ext.downloadDir = t.TempDir()
	ext.mu.Unlock()

	sess.Enqueue("url-sabr", "", 1, 2)
	sess.startLoop()

	desc := player.waitStarted(t)
	if desc.Kind != StreamKindLocalFile {
		t.Fatalf("expected local file descriptor, got kind=%d source=%s", desc.Kind, desc.Source)
	}
	if _, err := os.Stat(desc.Source); err != nil {
		t.Fatalf("expected materialized file at %s: %v", desc.Source, err)
	}

	path := desc.Source
	player.finish(nil)

	waitFor(t, "file cleanup after playback", func() bool {
		_, err := os.Stat(path)
		return os.IsNotExist(err)
	})
}

func TestMaterializationDecision(t *testing.T) {
	fragmented := []FormatCandidate{
		{URL: "https://cdn.example/manifest", AudioCodec: "opus", Protocol: "m3u8", Bitrate: 128, Fragmented: true},
	}

	tests := []struct {
		name     string
		formats  []FormatCandidate
		config   *sys.Config
		needsDL  bool
		wantKind StreamDescriptorKind
	}{
		{
			name:     "clean progressive stream plays remotely",
			wantKind: StreamKindRemote,
		},
		{
			name:     "force download overrides a clean stream",
			config:   &sys.Config{ForceDownload: true, ForceDownloadFragmented: true},
			wantKind: StreamKindLocalFile,
		},
		{
			name:     "fragmented stream is materialized by default",
			formats:  fragmented,
			wantKind: StreamKindLocalFile,
		},
		{
			name:     "fragmented stream plays remotely when allowed",
			formats:  fragmented,
			config:   &sys.Config{ForceDownloadFragmented: false},
			wantKind: StreamKindRemote,
		},
		{
			name: "no selectable stream falls back to download",
			formats: []FormatCandidate{
				{AudioCodec: "opus", Protocol: "https", Bitrate: 128},
			},
			wantKind: StreamKindLocalFile,
		},
		{
			name:     "extractor-flagged metadata is materialized",
			needsDL:  true,
			wantKind: StreamKindLocalFile,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sess, ext, _, _ := newTestSession(t)
			ext.mu.Lock()
			ext.formats = tt.formats
			ext.needDownload = tt.needsDL
			ext.downloadDir = t.TempDir()
			ext.mu.Unlock()

			old := sys.GlobalConfig
			sys.GlobalConfig = tt.config
			defer func() { sys.GlobalConfig = old }()

			track := NewTrack("url-decide", 1, 2)
			desc, err := sess.resolveTrack(context.Background(), track)
			if err != nil {
				t.Fatalf("resolve failed: %v", err)
			}
			if desc.Kind != tt.wantKind {
				t.Errorf("got stream kind %d, want %d", desc.Kind, tt.wantKind)
			}
			track.Release()
		})
	}
}

func TestResetDrainsQueueAndReleasesFiles(t *testing.T) {
	sess, _, _, _ := newTestSession(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "pending.webm")
	if err := os.WriteFile(path, []byte("audio"), 0644); err != nil {
		t.Fatal(err)
	}

	track, _ := sess.Enqueue("url-a", "", 1, 2)
	track.SetPath(path)
	sess.Enqueue("url-b", "", 1, 2)

	sess.reset()

	if sess.QueueLen() != 0 {
		t.Error("expected empty queue after reset")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("expected materialized file released on reset")
	}
}

func TestConcurrentResets(t *testing.T) {
	sess, _, player, _ := newTestSession(t)

	sess.Enqueue("url-a", "", 1, 2)
	sess.Enqueue("url-b", "", 1, 2)
	sess.startLoop()
	player.waitStarted(t)

	// Idle timeout and an explicit leave can race to tear the session
	// down; each must cancel the context it observed.
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sess.reset()
		}()
	}
	wg.Wait()

	if sess.QueueLen() != 0 {
		t.Error("expected empty queue after reset")
	}

	// The session stays usable for the next join.
	sess.Enqueue("url-c", "", 1, 2)
	sess.startLoop()
	desc := player.waitStarted(t)
	if desc.Source != "url-c" {
		t.Errorf("expected fresh playback after reset, got %s", desc.Source)
	}
	player.finish(nil)
}

func TestPrepareReusesSession(t *testing.T) {
	ext := newFakeExtractor()
	vs := newVoiceSystemForTest(ext, func() Player { return newFakePlayer() })

	a := vs.Prepare(nil, 100, 200, 300)
	b := vs.Prepare(nil, 100, 200, 301)
	if a != b {
		t.Fatal("expected the same session for the same guild")
	}
	if b.TextChannelID != 301 {
		t.Errorf("expected text channel updated, got %s", b.TextChannelID)
	}
	if vs.SessionCount() != 1 {
		t.Errorf("expected one session, got %d", vs.SessionCount())
	}

	// Moving channels resets the session in place.
	a.Enqueue("url-a", "", 1, 2)
	c := vs.Prepare(nil, 100, 999, 301)
	if c != a {
		t.Fatal("expected the same session after channel move")
	}
	if c.ChannelID != 999 {
		t.Errorf("expected channel repointed, got %s", c.ChannelID)
	}
	if c.QueueLen() != 0 {
		t.Error("expected queue drained on channel move")
	}
}

func TestIsPlaylistURL(t *testing.T) {
	playlist := []string{
		"https://www.youtube.com/watch?v=abc&list=PL123",
		"https://music.youtube.com/playlist/xyz",
		"https://soundcloud.com/artist/sets/mix",
		"https://service.example/album/42",
	}
	for _, u := range playlist {
		if !isPlaylistURL(u) {
			t.Errorf("expected %s to be a playlist", u)
		}
	}
	if isPlaylistURL("https://www.youtube.com/watch?v=abc") {
		t.Error("expected bare watch URL to not be a playlist")
	}
}
