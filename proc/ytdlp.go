package proc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/hootworks/hootbot/sys"
	"github.com/lrstanley/go-ytdlp"
	"golang.org/x/time/rate"
)

// Extractor is the boundary to the external extraction tool. The queue
// engine only ever talks to this interface, which keeps it testable.
type Extractor interface {
	Resolve(ctx context.Context, url string) (*Metadata, error)
	Download(ctx context.Context, meta *Metadata) (string, error)
	Playlist(ctx context.Context, url string, max int) ([]PlaylistEntry, error)
}

type PlaylistEntry struct {
	URL      string
	Title    string
	Uploader string
}

var (
	jsOnce       sync.Once
	cachedJSArgs []string
)

// newYtdlp returns a new yt-dlp command with quiet output and optional proxy
func newYtdlp() (*ytdlp.Command, func()) {
	cmd := ytdlp.New().
		Quiet().
		NoWarnings()

	if proxy := os.Getenv("YOUTUBE_PROXY"); proxy != "" {
		cmd.Proxy(proxy)
	}

	return cmd, func() {}
}

// buildYtdlpArgs returns common args for yt-dlp commands
func buildYtdlpArgs() []string {
	jsOnce.Do(func() {
		for _, rt := range []string{"node", "deno", "quickjs"} {
			if path, err := exec.LookPath(rt); err == nil {
				cachedJSArgs = append(cachedJSArgs, "--js-runtimes", rt+":"+path)
				break
			}
		}
	})

	args := append([]string(nil), cachedJSArgs...)
	args = append(args,
		"--no-playlist",
		"--no-check-certificates",
		"--no-warnings",
		"--extractor-args", "youtube:player_client=android,web",
		"--prefer-free-formats",
		"--socket-timeout", "30",
		"--retries", "20",
		"--fragment-retries", "20",
	)
	return args
}

// YtdlpExtractor shells out to yt-dlp. Downloads are bounded by a worker
// semaphore and process spawns by a rate limiter so a playlist dump
// cannot fork-bomb the host.
type YtdlpExtractor struct {
	downloadDir string
	downloadSem chan struct{}
	spawnLimit  *rate.Limiter
}

func NewYtdlpExtractor(downloadDir string, workers int) *YtdlpExtractor {
	if workers < 1 {
		workers = 1
	}
	return &YtdlpExtractor{
		downloadDir: downloadDir,
		downloadSem: make(chan struct{}, workers),
		spawnLimit:  rate.NewLimiter(rate.Limit(1), 3),
	}
}

// wire shape of `yt-dlp --dump-single-json`
type ytdlpInfoJSON struct {
	ID         string  `json:"id"`
	Title      string  `json:"title"`
	Uploader   string  `json:"uploader"`
	Duration   float64 `json:"duration"`
	Thumbnail  string  `json:"thumbnail"`
	WebpageURL string  `json:"webpage_url"`
	Formats    []struct {
		URL       string            `json:"url"`
		ACodec    string            `json:"acodec"`
		Protocol  string            `json:"protocol"`
		ABR       float64           `json:"abr"`
		TBR       float64           `json:"tbr"`
		Fragments []json.RawMessage `json:"fragments"`
	} `json:"formats"`
}

func (e *YtdlpExtractor) Resolve(ctx context.Context, u string) (*Metadata, error) {
	if err := e.spawnLimit.Wait(ctx); err != nil {
		return nil, err
	}

	u = strings.Replace(u, "music.youtube.com", "www.youtube.com", 1)

	cmd, cleanup := newYtdlp()
	defer cleanup()

	args := buildYtdlpArgs()
	res, err := cmd.
		NoWarnings().
		IgnoreConfig().
		Run(ctx, append(args, "--skip-download", "--dump-single-json", u)...)

	if err != nil {
		if res != nil {
			stderr := strings.ToLower(res.Stderr)
			if strings.Contains(stderr, "drm") {
				return nil, fmt.Errorf("DRM: %w", err)
			}
			sys.LogVoice("yt-dlp extraction failed: %v, stderr: %s (URL: %s)", err, res.Stderr, u)
		}
		return nil, err
	}

	var info ytdlpInfoJSON
	if err := json.Unmarshal([]byte(res.Stdout), &info); err != nil {
		return nil, fmt.Errorf("failed to parse extraction output: %w", err)
	}

	meta := &Metadata{
		ID:         info.ID,
		Title:      info.Title,
		Uploader:   info.Uploader,
		Duration:   int(info.Duration),
		Thumbnail:  info.Thumbnail,
		WebpageURL: info.WebpageURL,
	}
	for _, f := range info.Formats {
		bitrate := f.ABR
		if bitrate == 0 {
			bitrate = f.TBR
		}
		meta.Formats = append(meta.Formats, FormatCandidate{
			URL:        f.URL,
			AudioCodec: f.ACodec,
			Protocol:   f.Protocol,
			Bitrate:    bitrate,
			Fragmented: IsFragmentedProtocol(f.Protocol) || len(f.Fragments) > 0,
		})
	}
	meta.NeedsDownload = computeNeedsDownload(meta.Formats)

	return meta, nil
}

func (e *YtdlpExtractor) Download(ctx context.Context, meta *Metadata) (string, error) {
	select {
	case e.downloadSem <- struct{}{}:
		defer func() { <-e.downloadSem }()
	case <-ctx.Done():
		return "", ctx.Err()
	}
	if err := e.spawnLimit.Wait(ctx); err != nil {
		return "", err
	}

	if err := os.MkdirAll(e.downloadDir, 0755); err != nil {
		return "", err
	}

	u := meta.WebpageURL
	u = strings.Replace(u, "music.youtube.com", "www.youtube.com", 1)

	cmd, cleanup := newYtdlp()
	defer cleanup()

	args := buildYtdlpArgs()
	res, err := cmd.
		Format("bestaudio[ext=webm]/bestaudio[ext=m4a]/bestaudio/best").
		Output(filepath.Join(e.downloadDir, "%(id)s.%(ext)s")).
		NoPart().
		NoWarnings().
		IgnoreConfig().
		Run(ctx, append(args, u)...)

	if err != nil {
		if res != nil {
			sys.LogVoice("yt-dlp download failed: %v, stderr: %s (URL: %s)", err, res.Stderr, u)
		}
		return "", err
	}

	path, err := e.findDownloaded(meta.ID)
	if err != nil {
		return "", err
	}

	st, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	if st.Size() < minValidFileSize {
		_ = os.Remove(path)
		return "", ErrDownloadTooSmall
	}

	return path, nil
}

func (e *YtdlpExtractor) findDownloaded(id string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(e.downloadDir, id+".*"))
	if err != nil {
		return "", err
	}
	for _, m := range matches {
		if filepath.Ext(m) == ".part" {
			continue
		}
		return m, nil
	}
	return "", errors.New("download produced no file")
}

func (e *YtdlpExtractor) Playlist(ctx context.Context, u string, max int) ([]PlaylistEntry, error) {
	if err := e.spawnLimit.Wait(ctx); err != nil {
		return nil, err
	}

	cmd, cleanup := newYtdlp()
	defer cleanup()

	args := buildYtdlpArgs()
	res, err := cmd.
		FlatPlaylist().
		Print("%(url)s\t%(title)s\t%(uploader)s\t%(id)s").
		PlaylistItems(fmt.Sprintf("1-%d", max)).
		NoWarnings().
		IgnoreConfig().
		Run(ctx, append(args, u, "--yes-playlist")...)

	if err != nil {
		if res != nil {
			return nil, fmt.Errorf("yt-dlp playlist failed: %w, stderr: %s", err, res.Stderr)
		}
		return nil, err
	}

	ls := strings.Split(strings.TrimSpace(res.Stdout), "\n")
	es := make([]PlaylistEntry, 0, len(ls))
	isYouTube := strings.Contains(u, "youtube.com") || strings.Contains(u, "youtu.be")

	for _, l := range ls {
		ps := strings.Split(l, "\t")
		if len(ps) < 3 || ps[1] == "" || ps[1] == "NA" {
			continue
		}
		entryURL := ps[0]
		if isYouTube && len(ps) >= 4 {
			if id := ps[3]; id != "" && id != "NA" {
				entryURL = "https://www.youtube.com/watch?v=" + id
			}
		}
		es = append(es, PlaylistEntry{URL: entryURL, Title: ps[1], Uploader: ps[2]})
	}
	return es, nil
}

// resolveTimeout bounds a single extraction attempt.
const resolveTimeout = 60 * time.Second
