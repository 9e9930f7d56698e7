package tts

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/audiolibrelab/avatarhost/internal/audio"
)

// AudioFilePutter normalizes an encoded audio buffer into frames for consumer.
type AudioFilePutter interface {
	PutAudioFile(data []byte, consumer audio.FrameConsumer) (int, error)
}

// EventFunc receives the event point attached to a message once it has been spoken.
type EventFunc func(eventpoint map[string]any)

type message struct {
	text       string
	eventpoint map[string]any
	generation int64
}

// Speaker synthesizes queued text one message at a time.
type Speaker struct {
	engine     Engine
	normalizer AudioFilePutter
	consumer   audio.FrameConsumer
	onEvent    EventFunc

	msgs       chan message
	generation atomic.Int64
	busy       atomic.Bool
}

// NewSpeaker creates a speaker writing frames to consumer. onEvent may be nil.
func NewSpeaker(engine Engine, normalizer AudioFilePutter, consumer audio.FrameConsumer, onEvent EventFunc) *Speaker {
	return &Speaker{
		engine:     engine,
		normalizer: normalizer,
		consumer:   consumer,
		onEvent:    onEvent,
		msgs:       make(chan message, 64),
	}
}

// PutMsgTxt queues text for synthesis. It drops the message when the queue is full.
func (s *Speaker) PutMsgTxt(text string, eventpoint map[string]any) {
	m := message{text: text, eventpoint: eventpoint, generation: s.generation.Load()}
	select {
	case s.msgs <- m:
	default:
		slog.Warn("TTS queue full, dropping message", "text", text)
	}
}

// FlushTalk drops queued messages and discards the one being synthesized.
func (s *Speaker) FlushTalk() {
	s.generation.Add(1)
	for {
		select {
		case <-s.msgs:
		default:
			return
		}
	}
}

// Busy reports whether a message is being synthesized or queued.
func (s *Speaker) Busy() bool {
	return s.busy.Load() || len(s.msgs) > 0
}

// Run processes messages until ctx is cancelled.
func (s *Speaker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case m := <-s.msgs:
			s.speak(ctx, m)
		}
	}
}

func (s *Speaker) speak(ctx context.Context, m message) {
	if m.generation != s.generation.Load() {
		return
	}
	s.busy.Store(true)
	defer s.busy.Store(false)

	data, err := s.engine.Synthesize(ctx, m.text)
	if err != nil {
		slog.Error("TTS synthesis failed", "text", m.text, "error", err)
		return
	}
	if m.generation != s.generation.Load() {
		slog.Debug("Discarding flushed TTS audio", "text", m.text)
		return
	}

	frames, err := s.normalizer.PutAudioFile(data, &generationConsumer{speaker: s, generation: m.generation, next: s.consumer})
	if err != nil {
		slog.Error("Failed to normalize TTS audio", "text", m.text, "error", err)
		return
	}
	if m.generation != s.generation.Load() {
		slog.Debug("TTS message interrupted", "text", m.text)
		return
	}
	slog.Debug("TTS message spoken", "text", m.text, "frames", frames)

	if s.onEvent != nil && m.eventpoint != nil {
		s.onEvent(m.eventpoint)
	}
}

// generationConsumer forwards frames of one message until the speaker is flushed.
type generationConsumer struct {
	speaker    *Speaker
	generation int64
	next       audio.FrameConsumer
}

func (c *generationConsumer) PutAudioFrame(frame []float32) {
	if c.generation != c.speaker.generation.Load() {
		return
	}
	c.next.PutAudioFrame(frame)
}
