package audio

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrDecode is returned when an audio buffer cannot be decoded.
var ErrDecode = errors.New("audio decode failed")

// errUnsupportedWAV marks RIFF files the in-process decoder does not handle
// (float or extensible formats); AutoDecoder hands those to ffmpeg.
var errUnsupportedWAV = fmt.Errorf("%w: unsupported wav format", ErrDecode)

// Buffer holds decoded audio as interleaved float32 samples in [-1, 1].
type Buffer struct {
	SampleRate int
	Channels   int
	Samples    []float32
}

// Frames returns the number of sample frames (samples per channel).
func (b *Buffer) Frames() int {
	if b.Channels == 0 {
		return 0
	}
	return len(b.Samples) / b.Channels
}

// FirstChannel returns the samples of channel 0. Mono buffers are returned as is.
func (b *Buffer) FirstChannel() []float32 {
	if b.Channels <= 1 {
		return b.Samples
	}
	mono := make([]float32, b.Frames())
	for i := range mono {
		mono[i] = b.Samples[i*b.Channels]
	}
	return mono
}

// Decoder turns an encoded audio byte buffer into samples.
type Decoder interface {
	Decode(data []byte) (*Buffer, error)
}

// AutoDecoder decodes PCM WAV in process and everything else through ffmpeg.
type AutoDecoder struct {
	WAV    *WAVDecoder
	FFmpeg *FFmpegDecoder
}

// NewAutoDecoder creates a decoder chain using the given ffmpeg and ffprobe binaries.
func NewAutoDecoder(ffmpegPath, ffprobePath string) *AutoDecoder {
	return &AutoDecoder{
		WAV:    &WAVDecoder{},
		FFmpeg: &FFmpegDecoder{FFmpeg: ffmpegPath, FFprobe: ffprobePath},
	}
}

func (d *AutoDecoder) Decode(data []byte) (*Buffer, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrDecode)
	}

	if IsRIFFWave(data) && d.WAV != nil {
		buf, err := d.WAV.Decode(data)
		if err == nil {
			return buf, nil
		}
		if !errors.Is(err, errUnsupportedWAV) || d.FFmpeg == nil {
			return nil, err
		}
		slog.Debug("WAV format not handled in process, falling back to ffmpeg", "error", err)
	}

	if d.FFmpeg == nil {
		return nil, fmt.Errorf("%w: unsupported container and no ffmpeg decoder configured", ErrDecode)
	}
	return d.FFmpeg.Decode(data)
}

// IsRIFFWave reports whether data starts with a RIFF/WAVE header.
func IsRIFFWave(data []byte) bool {
	return len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE"
}
