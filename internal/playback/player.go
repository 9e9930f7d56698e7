package playback

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/audiolibrelab/avatarhost/internal/audio"
	"github.com/audiolibrelab/avatarhost/internal/media"
)

// SpeechSource yields the next frame of speech audio, or silence.
type SpeechSource interface {
	Next() []float32
}

// FrameSink receives every rendered video frame and the PCM of the audio
// frames played with it, in render order.
type FrameSink interface {
	RecordVideo(frame media.Frame)
	RecordAudio(pcm []byte)
}

// Player renders one video frame and its audio frames per tick.
type Player struct {
	machine       *Machine
	idle          *media.ImageLoop
	speech        SpeechSource
	frameSize     int
	framesPerTick int
	tickInterval  time.Duration

	mu     sync.Mutex
	sinks  []FrameSink
	width  int
	height int
	ticks  int64
}

// NewPlayer creates a player. audioPerVideo is the number of audio frames
// rendered with each video frame.
func NewPlayer(machine *Machine, idle *media.ImageLoop, speech SpeechSource, frameSize, audioPerVideo, videoFPS int) *Player {
	return &Player{
		machine:       machine,
		idle:          idle,
		speech:        speech,
		frameSize:     frameSize,
		framesPerTick: audioPerVideo,
		tickInterval:  time.Second / time.Duration(videoFPS),
	}
}

// AddSink attaches a sink. Sinks added while running see frames from the next tick.
func (p *Player) AddSink(s FrameSink) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sinks = append(p.sinks, s)
}

// Dimensions returns the frame size latched from the first rendered frame.
func (p *Player) Dimensions() (width, height int, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.width, p.height, p.width > 0
}

// Ticks returns the number of rendered ticks.
func (p *Player) Ticks() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ticks
}

// Run renders at the video frame rate until ctx is cancelled.
func (p *Player) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.tickInterval)
	defer ticker.Stop()

	slog.Info("Playback started", "interval", p.tickInterval, "audio_frames_per_tick", p.framesPerTick)
	for {
		select {
		case <-ctx.Done():
			slog.Info("Playback stopped", "ticks", p.Ticks())
			return nil
		case <-ticker.C:
			if err := p.Step(); err != nil {
				return err
			}
		}
	}
}

// Step renders a single tick.
func (p *Player) Step() error {
	frame, frames, ok := p.machine.Tick(p.framesPerTick)
	if !ok {
		frame = p.idle.Next()
		for i := 0; i < p.framesPerTick; i++ {
			frames = append(frames, p.pad(p.speech.Next()))
		}
	}

	p.mu.Lock()
	if p.width == 0 {
		p.width, p.height = frame.Width, frame.Height
		slog.Info("Frame dimensions latched", "width", p.width, "height", p.height)
	}
	p.ticks++
	sinks := append([]FrameSink(nil), p.sinks...)
	p.mu.Unlock()

	for _, s := range sinks {
		s.RecordVideo(frame)
		for _, f := range frames {
			s.RecordAudio(audio.PCM16LE(f))
		}
	}
	return nil
}

func (p *Player) pad(samples []float32) []float32 {
	if len(samples) == p.frameSize {
		return samples
	}
	out := make([]float32, p.frameSize)
	copy(out, samples)
	return out
}
