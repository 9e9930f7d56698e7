// Package asr holds the audio-frame consumer side of a session: speech
// frames wait here until playback renders them.
package asr

import (
	"log/slog"
	"sync"
)

// FrameConsumer receives fixed-size 16 kHz mono frames, one call per frame.
type FrameConsumer interface {
	PutAudioFrame(frame []float32)
}

// Queue is a bounded FIFO of speech frames. PutAudioFrame blocks while the
// queue is full until Close is called; Next never blocks.
type Queue struct {
	frames    chan []float32
	frameSize int
	closed    chan struct{}
	closeOnce sync.Once
}

// NewQueue creates a queue holding up to size frames of frameSize samples.
func NewQueue(size, frameSize int) *Queue {
	return &Queue{
		frames:    make(chan []float32, size),
		frameSize: frameSize,
		closed:    make(chan struct{}),
	}
}

// PutAudioFrame appends a frame. Frames of the wrong size are dropped.
func (q *Queue) PutAudioFrame(frame []float32) {
	if len(frame) != q.frameSize {
		slog.Warn("Dropping audio frame with unexpected size", "got", len(frame), "expected", q.frameSize)
		return
	}
	select {
	case q.frames <- frame:
	case <-q.closed:
	}
}

// Close releases blocked producers. Frames put after Close are dropped.
func (q *Queue) Close() {
	q.closeOnce.Do(func() { close(q.closed) })
}

// Next returns the oldest pending frame, or silence when nothing is queued.
func (q *Queue) Next() []float32 {
	frame, _ := q.NextFrame()
	return frame
}

// NextFrame is Next that also reports whether the frame is speech.
func (q *Queue) NextFrame() ([]float32, bool) {
	select {
	case f := <-q.frames:
		return f, true
	default:
		return make([]float32, q.frameSize), false
	}
}

// Pending returns the number of queued frames.
func (q *Queue) Pending() int {
	return len(q.frames)
}

// Flush drops every pending frame and returns how many were dropped.
func (q *Queue) Flush() int {
	n := 0
	for {
		select {
		case <-q.frames:
			n++
		default:
			if n > 0 {
				slog.Debug("Flushed pending speech", "frames", n)
			}
			return n
		}
	}
}
