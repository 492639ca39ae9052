package proc

import (
	"errors"
	"strings"
)

var (
	ErrNoPlayableStream   = errors.New("no playable stream found")
	ErrTooFewToShuffle    = errors.New("not enough tracks to shuffle")
	ErrPositionOutOfRange = errors.New("queue position out of range")
	ErrNotConnected       = errors.New("not connected to a voice channel")
	ErrQueueEmpty         = errors.New("queue is empty")
	ErrNothingPlaying     = errors.New("nothing is playing")
	ErrDownloadTooSmall   = errors.New("downloaded file is too small to be valid media")
)

// IsNetworkError reports whether an extraction or playback failure looks
// transient rather than a bad URL.
func IsNetworkError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"connection",
		"network",
		"timeout",
		"timed out",
		"broken pipe",
		"eof",
		"reset by peer",
		"temporary failure",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
