package proc

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/voice"
	"github.com/disgoorg/snowflake/v2"
	"github.com/hootworks/hootbot/sys"
)

// minShuffleSize is the smallest queue worth shuffling; below it the
// operation is rejected as a user error.
const minShuffleSize = 10

// failureNoticeBatch batches per-track failure notices so a dying
// playlist does not flood the channel.
const failureNoticeBatch = 5

var (
	VoiceManager *VoiceSystem
	OnceVoice    sync.Once
)

// --- config accessors (safe when no global config is loaded, e.g. tests) ---

func cfgDownloadDir() string {
	if c := sys.GlobalConfig; c != nil && c.DownloadDir != "" {
		return c.DownloadDir
	}
	return ".tracks"
}

func cfgIdleTimeout() time.Duration {
	if c := sys.GlobalConfig; c != nil && c.IdleTimeout > 0 {
		return c.IdleTimeout
	}
	return 30 * time.Second
}

func cfgCacheTTL() time.Duration {
	if c := sys.GlobalConfig; c != nil && c.CacheTTL > 0 {
		return c.CacheTTL
	}
	return 5 * time.Minute
}

func cfgForceDownload() bool {
	if c := sys.GlobalConfig; c != nil {
		return c.ForceDownload
	}
	return false
}

func cfgForceDownloadFragmented() bool {
	if c := sys.GlobalConfig; c != nil {
		return c.ForceDownloadFragmented
	}
	return true
}

func cfgMaxPlaylistItems() int {
	if c := sys.GlobalConfig; c != nil && c.MaxPlaylistItems > 0 {
		return c.MaxPlaylistItems
	}
	return 20
}

func cfgDownloadWorkers() int {
	if c := sys.GlobalConfig; c != nil && c.DownloadWorkers > 0 {
		return c.DownloadWorkers
	}
	return 3
}

// --- 1. SYSTEM MANAGER ---

// VoiceSystem is the per-process registry of playback sessions, one per
// guild, plus the caches and the extraction boundary they share.
type VoiceSystem struct {
	mu       sync.Mutex
	sessions map[snowflake.ID]*VoiceSession

	metaCache   *MetadataCache
	searchCache *QueryCache
	extractor   Extractor
	newPlayer   func() Player
}

// GetVoiceManager returns the singleton VoiceSystem instance.
func GetVoiceManager() *VoiceSystem {
	OnceVoice.Do(func() {
		dir := cfgDownloadDir()
		if err := os.MkdirAll(dir, 0755); err != nil {
			sys.LogError("Failed to create download dir: %v", err)
		}

		VoiceManager = &VoiceSystem{
			sessions:    make(map[snowflake.ID]*VoiceSession),
			metaCache:   NewMetadataCache(cfgCacheTTL()),
			searchCache: NewQueryCache(),
			extractor:   NewYtdlpExtractor(dir, cfgDownloadWorkers()),
			newPlayer:   func() Player { return NewFFmpegPlayer() },
		}
	})
	return VoiceManager
}

// newVoiceSystemForTest wires a system around fakes.
func newVoiceSystemForTest(extractor Extractor, newPlayer func() Player) *VoiceSystem {
	return &VoiceSystem{
		sessions:    make(map[snowflake.ID]*VoiceSession),
		metaCache:   NewMetadataCache(cfgCacheTTL()),
		searchCache: NewQueryCache(),
		extractor:   extractor,
		newPlayer:   newPlayer,
	}
}

// Prepare ensures a session exists for the guild, creating it if
// necessary. An existing session is reused; if it sits in a different
// voice channel it is reset in place and repointed.
func (vs *VoiceSystem) Prepare(client *bot.Client, guildID, channelID, textChannelID snowflake.ID) *VoiceSession {
	vs.mu.Lock()
	defer vs.mu.Unlock()

	if sess, ok := vs.sessions[guildID]; ok {
		sess.mu.Lock()
		sameChannel := sess.ChannelID == channelID
		sess.mu.Unlock()
		if !sameChannel {
			sess.reset()
			sess.mu.Lock()
			sess.ChannelID = channelID
			sess.mu.Unlock()
		}
		sess.mu.Lock()
		sess.TextChannelID = textChannelID
		sess.client = client
		sess.mu.Unlock()
		return sess
	}

	sess := newVoiceSession(vs, guildID, channelID, textChannelID)
	sess.client = client
	vs.sessions[guildID] = sess
	return sess
}

func (vs *VoiceSystem) SessionCount() int {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	return len(vs.sessions)
}

func (vs *VoiceSystem) MetadataCacheLen() int {
	return vs.metaCache.Len()
}

func (vs *VoiceSystem) GetSession(guildID snowflake.ID) *VoiceSession {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	return vs.sessions[guildID]
}

// Join connects the session to voice, retrying with exponential backoff.
func (vs *VoiceSystem) Join(ctx context.Context, client *bot.Client, guildID, channelID, textChannelID snowflake.ID) (*VoiceSession, error) {
	sess := vs.Prepare(client, guildID, channelID, textChannelID)

	sess.joinedMu.Lock()
	if sess.joined {
		sess.joinedMu.Unlock()
		return sess, nil
	}
	sess.joinedMu.Unlock()

	if sess.Conn == nil {
		sess.Conn = client.VoiceManager.CreateConn(guildID)
	}

	var err error
	for i := 0; i < 5; i++ {
		if i > 0 {
			backoff := time.Duration(1<<uint(i-1)) * 1000 * time.Millisecond
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		if err = sess.Conn.Open(ctx, channelID, false, false); err == nil {
			break
		}
		sys.LogVoice("Voice join attempt %d failed: %v", i+1, err)
	}
	if err != nil {
		return nil, err
	}

	sess.joinedMu.Lock()
	sess.joined = true
	sess.joinedCond.Broadcast()
	sess.joinedMu.Unlock()

	sess.startLoop()
	return sess, nil
}

// Leave disconnects the session and resets it in place. The registry
// entry stays resident for the next join.
func (vs *VoiceSystem) Leave(ctx context.Context, guildID snowflake.ID) {
	vs.mu.Lock()
	sess := vs.sessions[guildID]
	vs.mu.Unlock()

	if sess == nil {
		return
	}
	if sess.Conn != nil {
		sess.Conn.Close(ctx)
	}
	sess.reset()
}

// HandleDisconnect is called when the gateway reports the bot left a
// voice channel (kick, channel delete, region move gone wrong).
func (vs *VoiceSystem) HandleDisconnect(guildID snowflake.ID) {
	vs.mu.Lock()
	sess := vs.sessions[guildID]
	vs.mu.Unlock()

	if sess == nil {
		return
	}
	sys.LogVoice("Disconnected from voice in guild %s, resetting session", guildID)
	sess.reset()
}

// PlayURL enqueues a single URL, or the whole playlist when the locator
// carries a playlist marker. Returns the tracks added.
func (vs *VoiceSystem) PlayURL(ctx context.Context, sess *VoiceSession, url, mode string, requesterID, textChannelID snowflake.ID) ([]*Track, int, error) {
	if isPlaylistURL(url) {
		entries, err := vs.extractor.Playlist(ctx, url, cfgMaxPlaylistItems())
		if err != nil {
			return nil, 0, err
		}
		added, skipped := sess.EnqueueBulk(entries, requesterID, textChannelID)
		return added, skipped, nil
	}

	track, err := sess.Enqueue(url, mode, requesterID, textChannelID)
	if err != nil {
		return nil, 0, err
	}
	return []*Track{track}, 0, nil
}

// ResolvePlaylist flattens a playlist locator into entries. max <= 0
// means the configured default; the configured cap always applies.
func (vs *VoiceSystem) ResolvePlaylist(ctx context.Context, url string, max int) ([]PlaylistEntry, error) {
	if max <= 0 || max > cfgMaxPlaylistItems() {
		max = cfgMaxPlaylistItems()
	}
	return vs.extractor.Playlist(ctx, url, max)
}

func isPlaylistURL(url string) bool {
	for _, marker := range []string{"list=", "/playlist/", "/sets/", "/album/"} {
		if strings.Contains(url, marker) {
			return true
		}
	}
	return false
}

// --- 2. SESSION & QUEUE ENGINE ---

// VoiceSession is the per-guild playback state machine. All queue state
// lives behind mu; extraction, download and playback happen outside it.
type VoiceSession struct {
	GuildID       snowflake.ID
	ChannelID     snowflake.ID
	TextChannelID snowflake.ID
	Conn          voice.Conn

	vs     *VoiceSystem
	client *bot.Client

	mu         sync.Mutex
	queue      []*Track
	current    *Track
	failStreak int
	idleTimer  *time.Timer

	// queueUpdate wakes the drain loop; capacity 1 so signals coalesce.
	queueUpdate chan struct{}

	joined     bool
	joinedMu   sync.Mutex
	joinedCond *sync.Cond

	player Player
	notify func(format string, v ...any)

	cancelCtx  context.Context
	cancelFunc context.CancelFunc
	loopMu     sync.Mutex
	loopActive bool
}

func newVoiceSession(vs *VoiceSystem, guildID, channelID, textChannelID snowflake.ID) *VoiceSession {
	ctx, cancel := context.WithCancel(context.Background())
	sess := &VoiceSession{
		GuildID:       guildID,
		ChannelID:     channelID,
		TextChannelID: textChannelID,
		vs:            vs,
		queue:         make([]*Track, 0),
		queueUpdate:   make(chan struct{}, 1),
		player:        vs.newPlayer(),
		cancelCtx:     ctx,
		cancelFunc:    cancel,
	}
	sess.joinedCond = sync.NewCond(&sess.joinedMu)
	sess.notify = sess.defaultNotify
	return sess
}

func (s *VoiceSession) defaultNotify(format string, v ...any) {
	msg := fmt.Sprintf(format, v...)
	sys.LogVoice("%s", msg)
	if s.client == nil || s.TextChannelID == 0 {
		return
	}
	if _, err := sys.SendMessageV2(*s.client, s.TextChannelID, msg); err != nil {
		sys.LogVoice("Failed to send notice: %v", err)
	}
}

// WaitJoined blocks until the session is connected to voice.
func (s *VoiceSession) WaitJoined(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.joinedMu.Lock()
		for !s.joined {
			s.joinedCond.Wait()
		}
		s.joinedMu.Unlock()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.cancelCtx.Done():
		return errors.New("session closed")
	}
}

// reset returns the session to its just-created state: playback stopped,
// queue drained with files released, idle timer disarmed, a fresh
// lifecycle context installed. The drain loop exits on the old context.
func (s *VoiceSession) reset() {
	// Swap the lifecycle context under the lock; concurrent resets
	// (idle timeout vs. explicit leave) must each cancel the context
	// they actually observed.
	s.mu.Lock()
	cancel := s.cancelFunc
	if s.idleTimer != nil {
		s.idleTimer.Stop()
		s.idleTimer = nil
	}
	drained := s.queue
	cur := s.current
	s.queue = make([]*Track, 0)
	s.current = nil
	s.failStreak = 0
	ctx, newCancel := context.WithCancel(context.Background())
	s.cancelCtx = ctx
	s.cancelFunc = newCancel
	s.mu.Unlock()

	cancel()
	s.player.Stop()

	for _, t := range drained {
		t.Release()
	}
	if cur != nil {
		cur.Release()
	}

	s.joinedMu.Lock()
	s.joined = false
	s.joinedMu.Unlock()

	s.loopMu.Lock()
	s.loopActive = false
	s.loopMu.Unlock()
}

func (s *VoiceSession) startLoop() {
	s.loopMu.Lock()
	defer s.loopMu.Unlock()
	if s.loopActive {
		return
	}
	s.loopActive = true
	sys.SafeGo(s.run)
}

// run is the queue drain loop. It is an explicit loop: a finished or
// failed track falls through to the next iteration instead of the loop
// calling itself.
func (s *VoiceSession) run() {
	s.mu.Lock()
	ctx := s.cancelCtx
	s.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		s.mu.Lock()
		if len(s.queue) == 0 {
			s.armIdleTimerLocked()
			s.mu.Unlock()
			select {
			case <-s.queueUpdate:
				continue
			case <-ctx.Done():
				return
			}
		}
		s.disarmIdleTimerLocked()
		track := s.queue[0]
		s.queue = s.queue[1:]
		s.current = track
		s.mu.Unlock()

		err := s.playTrack(ctx, track)
		track.Release()

		s.mu.Lock()
		s.current = nil
		if err != nil && !errors.Is(err, context.Canceled) {
			s.failStreak++
			streak := s.failStreak
			exhausted := len(s.queue) == 0
			if exhausted {
				s.failStreak = 0
			}
			s.mu.Unlock()

			if IsNetworkError(err) {
				sys.LogVoice("Track failed (%s), looks transient: %v", track.Title(), err)
			} else {
				sys.LogVoice("Track failed (%s): %v", track.Title(), err)
			}
			if streak%failureNoticeBatch == 0 {
				s.notify("Skipped %d tracks in a row due to errors.", streak)
			}
			if exhausted {
				s.notify("Queue exhausted: %d track(s) failed to play.", streak)
			}
			continue
		}
		if err == nil {
			s.failStreak = 0
		}
		s.mu.Unlock()
	}
}

// playTrack runs the full pipeline for one track: resolve, select,
// materialize if needed, then hand the descriptor to the player and wait
// for its completion callback.
func (s *VoiceSession) playTrack(ctx context.Context, track *Track) error {
	desc, err := s.resolveTrack(ctx, track)
	if err != nil {
		return err
	}

	done := make(chan error, 1)
	if err := s.player.Play(ctx, s.Conn, desc, func(playErr error) {
		done <- playErr
	}); err != nil {
		return err
	}

	s.announceNowPlaying(track)
	s.recordPlay(track)
	s.preloadNext()

	select {
	case playErr := <-done:
		return playErr
	case <-ctx.Done():
		s.player.Stop()
		// The player still owes us its completion callback.
		<-done
		return ctx.Err()
	}
}

// resolveTrack turns a bare URL into a playable stream descriptor. It is
// a no-op for tracks the preloader already materialized.
func (s *VoiceSession) resolveTrack(ctx context.Context, track *Track) (*StreamDescriptor, error) {
	meta := track.Metadata()
	if meta == nil {
		if cached, ok := s.vs.metaCache.Get(track.URL); ok {
			meta = cached
		} else {
			rctx, cancel := context.WithTimeout(ctx, resolveTimeout)
			m, err := s.vs.extractor.Resolve(rctx, track.URL)
			cancel()
			if err != nil {
				return nil, err
			}
			s.vs.metaCache.Set(track.URL, m)
			meta = m
		}
		track.SetMetadata(meta)
	}

	best := SelectStream(meta)
	fragmented := best != nil && best.Fragmented

	needDownload := cfgForceDownload() ||
		(cfgForceDownloadFragmented() && fragmented) ||
		best == nil ||
		meta.NeedsDownload

	if needDownload {
		if track.Path() == "" {
			path, err := s.vs.extractor.Download(ctx, meta)
			if err != nil {
				return nil, err
			}
			track.SetPath(path)
		}
		return &StreamDescriptor{Kind: StreamKindLocalFile, Source: track.Path(), Fragmented: fragmented}, nil
	}

	return &StreamDescriptor{Kind: StreamKindRemote, Source: best.URL, Fragmented: fragmented}, nil
}

// preloadNext warms the queue head only, never deeper. A stale preload
// after a queue mutation is a harmless cache warm.
func (s *VoiceSession) preloadNext() {
	s.mu.Lock()
	var head *Track
	if len(s.queue) > 0 {
		head = s.queue[0]
	}
	ctx := s.cancelCtx
	s.mu.Unlock()
	if head == nil {
		return
	}

	sys.SafeGo(func() {
		if head.Metadata() == nil {
			if cached, ok := s.vs.metaCache.Get(head.URL); ok {
				head.SetMetadata(cached)
			} else {
				rctx, cancel := context.WithTimeout(ctx, resolveTimeout)
				m, err := s.vs.extractor.Resolve(rctx, head.URL)
				cancel()
				if err != nil {
					sys.LogVoice("Preload failed for %s: %v", head.URL, err)
					return
				}
				s.vs.metaCache.Set(head.URL, m)
				head.SetMetadata(m)
			}
		}

		if cfgForceDownload() && head.Path() == "" {
			path, err := s.vs.extractor.Download(ctx, head.Metadata())
			if err != nil {
				sys.LogVoice("Predownload failed for %s: %v", head.URL, err)
				return
			}
			head.SetPath(path)
		}
	})
}

// announceNowPlaying posts a now-playing card with artwork to the text
// channel. Without a client or artwork it degrades to a plain notice.
func (s *VoiceSession) announceNowPlaying(track *Track) {
	s.mu.Lock()
	client := s.client
	channelID := s.TextChannelID
	s.mu.Unlock()

	meta := track.Metadata()
	if client == nil || channelID == 0 || meta == nil || meta.Thumbnail == "" {
		s.notify("Now playing: **%s**", track.Title())
		return
	}

	sys.LogVoice("Now playing: %s", track.Title())
	line := "🎶 Now playing: **" + track.Title() + "**"
	if up := track.Uploader(); up != "" {
		line += "\nby **" + up + "**"
	}
	container := sys.NewV2Container(sys.NewSection(line, sys.NewThumbnail(meta.Thumbnail)))
	if _, err := sys.SendContainerV2(*client, channelID, container); err != nil {
		sys.LogVoice("Failed to send now playing notice: %v", err)
	}
}

func (s *VoiceSession) recordPlay(track *Track) {
	if sys.DB == nil {
		return
	}
	rec := &sys.PlayRecord{
		GuildID:     s.GuildID,
		ChannelID:   s.ChannelID,
		URL:         track.URL,
		Title:       track.Title(),
		Uploader:    track.Uploader(),
		RequesterID: track.RequesterID,
	}
	sys.SafeGo(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := sys.RecordPlay(ctx, rec); err != nil {
			sys.LogDatabase("Failed to record play: %v", err)
		}
	})
}

// --- idle timer ---

// armIdleTimerLocked arms the teardown timer. Caller holds mu. The timer
// is armed only while the queue is empty and nothing is playing.
func (s *VoiceSession) armIdleTimerLocked() {
	if s.idleTimer != nil || len(s.queue) > 0 || s.current != nil {
		return
	}
	s.idleTimer = time.AfterFunc(cfgIdleTimeout(), s.onIdleTimeout)
}

func (s *VoiceSession) disarmIdleTimerLocked() {
	if s.idleTimer != nil {
		s.idleTimer.Stop()
		s.idleTimer = nil
	}
}

func (s *VoiceSession) onIdleTimeout() {
	s.mu.Lock()
	idle := len(s.queue) == 0 && s.current == nil
	s.idleTimer = nil
	s.mu.Unlock()
	if !idle {
		return
	}

	sys.LogVoice("Idle timeout in guild %s, leaving voice", s.GuildID)
	if s.Conn != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		s.Conn.Close(ctx)
		cancel()
	}
	s.reset()
}

// --- queue operations ---

// Enqueue adds a track. mode "" appends, "next" inserts at the head of
// the queue, "now" inserts at the head and stops current playback.
func (s *VoiceSession) Enqueue(url, mode string, requesterID, textChannelID snowflake.ID) (*Track, error) {
	track := NewTrack(url, requesterID, textChannelID)

	s.mu.Lock()
	switch mode {
	case "next":
		s.queue = append([]*Track{track}, s.queue...)
	case "now":
		s.queue = append([]*Track{track}, s.queue...)
	default:
		s.queue = append(s.queue, track)
	}
	s.disarmIdleTimerLocked()
	interrupt := mode == "now" && s.current != nil
	s.mu.Unlock()

	if interrupt {
		s.player.Stop()
	}
	s.signalQueue()
	return track, nil
}

// EnqueueBulk appends playlist entries, skipping entries whose
// normalized title matches something already queued or playing. The
// filter and the append happen under one lock acquisition so a
// concurrent Enqueue cannot slip a duplicate between them.
func (s *VoiceSession) EnqueueBulk(entries []PlaylistEntry, requesterID, textChannelID snowflake.ID) ([]*Track, int) {
	s.mu.Lock()
	existing := make([]*Track, 0, len(s.queue)+1)
	existing = append(existing, s.queue...)
	if s.current != nil {
		existing = append(existing, s.current)
	}

	var added []*Track
	skipped := 0

	for _, e := range entries {
		dup := false
		for _, t := range existing {
			if titlesEquivalent(e.Title, e.Uploader, t.Title(), t.Uploader()) {
				dup = true
				break
			}
		}
		if !dup {
			for _, t := range added {
				if titlesEquivalent(e.Title, e.Uploader, t.Title(), t.Uploader()) {
					dup = true
					break
				}
			}
		}
		if dup {
			skipped++
			continue
		}
		track := NewTrack(e.URL, requesterID, textChannelID)
		track.SetInfo(e.Title, e.Uploader, 0)
		added = append(added, track)
	}

	if len(added) > 0 {
		s.queue = append(s.queue, added...)
		s.disarmIdleTimerLocked()
	}
	s.mu.Unlock()

	if len(added) > 0 {
		s.signalQueue()
	}
	return added, skipped
}

func (s *VoiceSession) signalQueue() {
	select {
	case s.queueUpdate <- struct{}{}:
	default:
	}
}

// Skip stops the current track; the drain loop advances on its own.
func (s *VoiceSession) Skip() (*Track, error) {
	s.mu.Lock()
	cur := s.current
	s.mu.Unlock()
	if cur == nil {
		return nil, ErrNothingPlaying
	}
	s.player.Stop()
	return cur, nil
}

// Shuffle randomizes the pending queue. Small queues are rejected; the
// user is better served seeing the order than pretending to shuffle.
func (s *VoiceSession) Shuffle() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) < minShuffleSize {
		return fmt.Errorf("%w: need at least %d, have %d", ErrTooFewToShuffle, minShuffleSize, len(s.queue))
	}
	rand.Shuffle(len(s.queue), func(i, j int) {
		s.queue[i], s.queue[j] = s.queue[j], s.queue[i]
	})
	return nil
}

// Remove deletes the track at 1-based position pos.
func (s *VoiceSession) Remove(pos int) (*Track, error) {
	s.mu.Lock()
	if len(s.queue) == 0 {
		s.mu.Unlock()
		return nil, ErrQueueEmpty
	}
	if pos < 1 || pos > len(s.queue) {
		n := len(s.queue)
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %d of %d", ErrPositionOutOfRange, pos, n)
	}
	track := s.queue[pos-1]
	s.queue = append(s.queue[:pos-1], s.queue[pos:]...)
	s.mu.Unlock()

	track.Release()
	return track, nil
}

// Clear drops all pending tracks. The current track keeps playing.
func (s *VoiceSession) Clear() int {
	s.mu.Lock()
	drained := s.queue
	s.queue = make([]*Track, 0)
	s.mu.Unlock()

	for _, t := range drained {
		t.Release()
	}
	return len(drained)
}

// QueueSnapshot returns the current track and a copy of the pending
// queue for display.
func (s *VoiceSession) QueueSnapshot() (*Track, []*Track) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]*Track, len(s.queue))
	copy(cp, s.queue)
	return s.current, cp
}

func (s *VoiceSession) NowPlaying() *Track {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func (s *VoiceSession) QueueLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}
