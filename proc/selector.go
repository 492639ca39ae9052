package proc

import "strings"

// Selector scoring bonuses. Progressive delivery dominates bitrate;
// plain http(s) beats exotic transports; low bitrates start faster.
const (
	bonusNotFragmented = 1000.0
	bonusPlainHTTP     = 100.0
	bonusSweetSpot     = 50.0
	sweetSpotMax       = 160.0
)

var fragmentedProtocols = map[string]bool{
	"m3u8":        true,
	"m3u8_native": true,
	"dash":        true,
	"f4m":         true,
	"ism":         true,
}

// IsFragmentedProtocol reports whether a yt-dlp protocol string means
// chunked or manifest-based delivery.
func IsFragmentedProtocol(protocol string) bool {
	return fragmentedProtocols[strings.ToLower(protocol)]
}

func isPlainHTTP(protocol string) bool {
	p := strings.ToLower(protocol)
	return p == "http" || p == "https"
}

// SelectStream picks the best directly streamable format candidate.
// Candidates without a URL or without audio are skipped; ties keep the
// first candidate encountered. Returns nil when nothing qualifies.
func SelectStream(meta *Metadata) *FormatCandidate {
	var best *FormatCandidate
	bestScore := 0.0

	for i := range meta.Formats {
		f := &meta.Formats[i]
		if !f.HasURL() || !f.HasAudio() {
			continue
		}

		score := f.Bitrate
		if !f.Fragmented {
			score += bonusNotFragmented
		}
		if isPlainHTTP(f.Protocol) {
			score += bonusPlainHTTP
		}
		if f.Bitrate > 0 && f.Bitrate <= sweetSpotMax {
			score += bonusSweetSpot
		}

		if best == nil || score > bestScore {
			best = f
			bestScore = score
		}
	}

	return best
}
