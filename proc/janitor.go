package proc

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/hootworks/hootbot/sys"
)

const (
	janitorInterval = 1 * time.Hour
	janitorMaxAge   = 24 * time.Hour
)

var mediaExtensions = map[string]bool{
	".webm": true,
	".mp4":  true,
	".mp3":  true,
	".m4a":  true,
	".opus": true,
	".ogg":  true,
	".part": true,
}

func init() {
	sys.RegisterDaemon(sys.LogJanitor, func(ctx context.Context) (bool, func(), func()) {
		stop := make(chan struct{})
		run := func() {
			janitorLoop(ctx, stop)
		}
		shutdown := func() {
			close(stop)
		}
		return true, run, shutdown
	})
}

func janitorLoop(ctx context.Context, stop <-chan struct{}) {
	// Sweep once at startup to clear leftovers from a previous run.
	sweepDownloads()

	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			sweepDownloads()
		case <-stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// sweepDownloads deletes stale media files from the download directory.
// Files younger than the cutoff may still belong to a live session.
func sweepDownloads() {
	dir := cfgDownloadDir()
	entries, err := os.ReadDir(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			sys.LogJanitor("Failed to read download dir: %v", err)
		}
		return
	}

	cutoff := time.Now().Add(-janitorMaxAge)
	removed := 0
	var freed int64

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if !mediaExtensions[filepath.Ext(entry.Name())] {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := os.Remove(path); err != nil {
			sys.LogJanitor("Failed to remove %s: %v", path, err)
			continue
		}
		removed++
		freed += info.Size()
	}

	if removed > 0 {
		sys.LogJanitor("Removed %d stale file(s), freed %d bytes", removed, freed)
	}
}
