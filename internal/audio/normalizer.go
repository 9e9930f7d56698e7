// Package audio decodes arbitrary audio input into the session's canonical
// stream: mono float32 samples at 16 kHz, cut into fixed-size frames.
package audio

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
)

// FrameConsumer receives fixed-size frames in order, one call per frame.
type FrameConsumer interface {
	PutAudioFrame(frame []float32)
}

// Normalizer decodes, downmixes, resamples and chunks audio buffers.
type Normalizer struct {
	decoder    Decoder
	resampler  Resampler
	sampleRate int
	frameSize  int
}

// NewNormalizer creates a normalizer producing frames of frameSize samples at sampleRate.
func NewNormalizer(decoder Decoder, resampler Resampler, sampleRate, frameSize int) *Normalizer {
	return &Normalizer{
		decoder:    decoder,
		resampler:  resampler,
		sampleRate: sampleRate,
		frameSize:  frameSize,
	}
}

// FrameSize returns the number of samples per emitted frame.
func (n *Normalizer) FrameSize() int {
	return n.frameSize
}

// Normalize decodes data into a mono stream at the canonical sample rate.
// Only the first channel of multi-channel input is kept.
func (n *Normalizer) Normalize(data []byte) ([]float32, error) {
	buf, err := n.decoder.Decode(data)
	if err != nil {
		return nil, err
	}

	slog.Info("Decoded audio stream", "sample_rate", buf.SampleRate, "channels", buf.Channels, "frames", buf.Frames())

	if buf.Channels > 1 {
		slog.Warn("Audio has multiple channels, only the first is used", "channels", buf.Channels)
	}
	stream := buf.FirstChannel()

	if buf.SampleRate != n.sampleRate && len(stream) > 0 {
		if n.resampler == nil {
			return nil, fmt.Errorf("audio sample rate is %d and no resampler is configured", buf.SampleRate)
		}
		slog.Warn("Audio sample rate differs, resampling", "from", buf.SampleRate, "to", n.sampleRate)
		stream, err = n.resampler.Resample(stream, buf.SampleRate, n.sampleRate)
		if err != nil {
			return nil, fmt.Errorf("failed to resample audio: %w", err)
		}
	}

	return stream, nil
}

// Frames splits samples into frames of exactly FrameSize samples. The
// trailing remainder is dropped.
func (n *Normalizer) Frames(samples []float32) [][]float32 {
	count := len(samples) / n.frameSize
	frames := make([][]float32, 0, count)
	for i := 0; i < count; i++ {
		start := i * n.frameSize
		end := start + n.frameSize
		frames = append(frames, samples[start:end:end])
	}
	return frames
}

// PutAudioFile normalizes data and forwards every full frame to consumer,
// synchronously and in order. It returns the number of frames forwarded.
func (n *Normalizer) PutAudioFile(data []byte, consumer FrameConsumer) (int, error) {
	stream, err := n.Normalize(data)
	if err != nil {
		return 0, err
	}

	frames := n.Frames(stream)
	for _, frame := range frames {
		consumer.PutAudioFrame(frame)
	}
	return len(frames), nil
}

// PCM16LE converts float samples to signed 16-bit little-endian PCM, clamping to [-1, 1].
func PCM16LE(frame []float32) []byte {
	out := make([]byte, len(frame)*2)
	for i, s := range frame {
		v := math.Max(-1, math.Min(1, float64(s)))
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(v*32767)))
	}
	return out
}
