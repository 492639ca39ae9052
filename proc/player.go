package proc

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/disgoorg/disgo/voice"
	"github.com/hootworks/hootbot/sys"
)

// Player is the playback engine boundary. Completion (success or
// failure) is reported exactly once through onDone; Play itself only
// fails for startup problems.
type Player interface {
	Play(ctx context.Context, conn voice.Conn, desc *StreamDescriptor, onDone func(error)) error
	Stop()
	IsActive() bool
}

// FFmpegPlayer transcodes the source to Ogg/Opus with an ffmpeg child
// process and feeds parsed packets to the voice connection.
type FFmpegPlayer struct {
	mu     sync.Mutex
	cmd    *exec.Cmd
	active bool
}

func NewFFmpegPlayer() *FFmpegPlayer {
	return &FFmpegPlayer{}
}

func (p *FFmpegPlayer) IsActive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

func (p *FFmpegPlayer) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cmd != nil && p.cmd.Process != nil {
		p.cmd.Process.Kill()
	}
}

func (p *FFmpegPlayer) Play(ctx context.Context, conn voice.Conn, desc *StreamDescriptor, onDone func(error)) error {
	args := []string{
		"-i", desc.Source,
		"-map", "0:a",
		"-acodec", "libopus",
		"-b:a", "128k",
		"-vbr", "on",
		"-compression_level", "10",
		"-analyzeduration", "0",
		"-probesize", "32",
		"-f", "opus",
		"pipe:1",
	}

	if desc.Kind == StreamKindRemote {
		// Optimize input for network streams
		args = append([]string{
			"-reconnect", "1",
			"-reconnect_at_eof", "1",
			"-reconnect_streamed", "1",
			"-reconnect_delay_max", "2",
			"-user_agent", "Mozilla/5.0",
			"-fflags", "nobuffer",
			"-flags", "low_delay",
		}, args...)
	}

	ffmpegCmd := exec.Command("ffmpeg", args...)

	stdout, err := ffmpegCmd.StdoutPipe()
	if err != nil {
		return err
	}
	stderr, _ := ffmpegCmd.StderrPipe()

	if err := ffmpegCmd.Start(); err != nil {
		return err
	}

	p.mu.Lock()
	if p.cmd != nil && p.cmd.Process != nil {
		p.cmd.Process.Kill()
	}
	p.cmd = ffmpegCmd
	p.active = true
	p.mu.Unlock()

	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			sys.LogDebug("ffmpeg: %s", scanner.Text())
		}
	}()

	provider := NewStreamProvider(stdout)
	done := make(chan struct{})
	provider.OnFinish = func() {
		close(done)
	}

	conn.SetOpusFrameProvider(provider)
	conn.SetSpeaking(context.TODO(), voice.SpeakingFlagMicrophone)

	go func() {
		var playErr error
		select {
		case <-done:
			// Let the send loop drain the last frames.
			time.Sleep(100 * time.Millisecond)
		case <-ctx.Done():
			playErr = ctx.Err()
		}

		ffmpegCmd.Process.Kill()
		ffmpegCmd.Wait()

		conn.SetOpusFrameProvider(nil)
		conn.SetSpeaking(context.TODO(), 0)

		p.mu.Lock()
		p.active = false
		if p.cmd == ffmpegCmd {
			p.cmd = nil
		}
		p.mu.Unlock()

		// A stream that never produced a single frame is a playback
		// failure, not a normal completion.
		if playErr == nil && provider.FrameCount() == 0 {
			playErr = ErrNoPlayableStream
		}

		onDone(playErr)
	}()

	return nil
}

// StreamProvider implements voice.OpusFrameProvider by parsing Opus
// packets out of an Ogg container.
type StreamProvider struct {
	reader     *bufio.Reader
	header     []byte
	segBuf     []byte
	packetBuf  bytes.Buffer
	queue      [][]byte
	OnFinish   func()
	once       sync.Once
	frameCount int64
	countMu    sync.Mutex
}

func NewStreamProvider(r io.Reader) *StreamProvider {
	return &StreamProvider{
		reader: bufio.NewReaderSize(r, 16384),
		header: make([]byte, 27),
		segBuf: make([]byte, 255),
	}
}

func (p *StreamProvider) Close() {
	// No-op
}

func (p *StreamProvider) FrameCount() int64 {
	p.countMu.Lock()
	defer p.countMu.Unlock()
	return p.frameCount
}

func (p *StreamProvider) triggerFinish() {
	p.once.Do(func() {
		if p.OnFinish != nil {
			p.OnFinish()
		}
	})
}

// ProvideOpusFrame parses the next Opus packet from the Ogg stream.
func (p *StreamProvider) ProvideOpusFrame() ([]byte, error) {
	// 1. Return queued packets if any
	if len(p.queue) > 0 {
		frame := p.queue[0]
		p.queue = p.queue[1:]
		p.countFrame()
		return frame, nil
	}

scanLoop:
	for {
		sig, err := p.reader.Peek(4)
		if err != nil {
			p.triggerFinish()
			return nil, err
		}

		if string(sig) == "OggS" {
			_, err := io.ReadFull(p.reader, p.header)
			if err != nil {
				p.triggerFinish()
				return nil, err
			}
		} else {
			_, _ = p.reader.Discard(1)
			continue scanLoop
		}

		numSegs := int(p.header[26])
		segTable := p.segBuf[:numSegs]
		if _, err := io.ReadFull(p.reader, segTable); err != nil {
			p.triggerFinish()
			return nil, err
		}

		for _, segLen := range segTable {
			l := int(segLen)
			_, err := io.CopyN(&p.packetBuf, p.reader, int64(l))
			if err != nil {
				p.triggerFinish()
				return nil, err
			}

			if l < 255 {
				payload := p.packetBuf.Bytes()
				frame := make([]byte, len(payload))
				copy(frame, payload)
				p.packetBuf.Reset()

				// Skip metadata packets (OpusHead/OpusTags).
				if len(frame) > 8 && (string(frame[:8]) == "OpusHead" || string(frame[:8]) == "OpusTags") {
					continue
				}

				p.queue = append(p.queue, frame)
			}
		}

		// If we found any frames in this page, return the first one.
		if len(p.queue) > 0 {
			frame := p.queue[0]
			p.queue = p.queue[1:]
			p.countFrame()
			return frame, nil
		}
	}
}

func (p *StreamProvider) countFrame() {
	p.countMu.Lock()
	p.frameCount++
	p.countMu.Unlock()
}
