package proc

import "testing"

func TestSelectStreamPrefersProgressive(t *testing.T) {
	meta := &Metadata{
		Formats: []FormatCandidate{
			{URL: "https://cdn/hls", AudioCodec: "opus", Protocol: "m3u8", Bitrate: 320, Fragmented: true},
			{URL: "https://cdn/prog", AudioCodec: "opus", Protocol: "https", Bitrate: 128},
		},
	}

	best := SelectStream(meta)
	if best == nil {
		t.Fatal("expected a candidate")
	}
	if best.URL != "https://cdn/prog" {
		t.Errorf("expected progressive candidate to win, got %s", best.URL)
	}
}

func TestSelectStreamSweetSpot(t *testing.T) {
	// 128 kbps sits in the sweet spot; 170 does not. The bonus outweighs
	// the raw bitrate difference.
	meta := &Metadata{
		Formats: []FormatCandidate{
			{URL: "https://cdn/high", AudioCodec: "opus", Protocol: "https", Bitrate: 170},
			{URL: "https://cdn/sweet", AudioCodec: "opus", Protocol: "https", Bitrate: 128},
		},
	}

	best := SelectStream(meta)
	if best == nil || best.URL != "https://cdn/sweet" {
		t.Errorf("expected sweet spot candidate to win, got %+v", best)
	}
}

func TestSelectStreamSkipsUnusable(t *testing.T) {
	meta := &Metadata{
		Formats: []FormatCandidate{
			{URL: "", AudioCodec: "opus", Protocol: "https", Bitrate: 999},
			{URL: "https://cdn/video", AudioCodec: "none", Protocol: "https", Bitrate: 999},
			{URL: "https://cdn/ok", AudioCodec: "mp4a", Protocol: "https", Bitrate: 96},
		},
	}

	best := SelectStream(meta)
	if best == nil || best.URL != "https://cdn/ok" {
		t.Errorf("expected the only usable candidate, got %+v", best)
	}
}

func TestSelectStreamNoneUsable(t *testing.T) {
	meta := &Metadata{
		Formats: []FormatCandidate{
			{URL: "", AudioCodec: "opus"},
			{URL: "https://cdn/video", AudioCodec: "none"},
		},
	}
	if best := SelectStream(meta); best != nil {
		t.Errorf("expected nil, got %+v", best)
	}
}

func TestSelectStreamTieKeepsFirst(t *testing.T) {
	meta := &Metadata{
		Formats: []FormatCandidate{
			{URL: "https://cdn/a", AudioCodec: "opus", Protocol: "https", Bitrate: 128},
			{URL: "https://cdn/b", AudioCodec: "opus", Protocol: "https", Bitrate: 128},
		},
	}
	if best := SelectStream(meta); best == nil || best.URL != "https://cdn/a" {
		t.Errorf("expected first candidate on tie, got %+v", best)
	}
}

func TestIsFragmentedProtocol(t *testing.T) {
	for _, p := range []string{"m3u8", "m3u8_native", "dash", "f4m", "ism", "M3U8"} {
		if !IsFragmentedProtocol(p) {
			t.Errorf("expected %q to be fragmented", p)
		}
	}
	for _, p := range []string{"http", "https", ""} {
		if IsFragmentedProtocol(p) {
			t.Errorf("expected %q to not be fragmented", p)
		}
	}
}
