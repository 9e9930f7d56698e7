package audio

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

// FFmpegDecoder decodes any container ffmpeg understands.
type FFmpegDecoder struct {
	FFmpeg  string
	FFprobe string
}

type probeOutput struct {
	Streams []struct {
		CodecType  string `json:"codec_type"`
		SampleRate string `json:"sample_rate"`
		Channels   int    `json:"channels"`
	} `json:"streams"`
}

func (d *FFmpegDecoder) Decode(data []byte) (*Buffer, error) {
	// ffprobe and some demuxers need a seekable input, so go through a temp file
	tmp, err := os.CreateTemp("", "avatarhost-decode-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("failed to close temp file: %w", err)
	}

	sampleRate, channels, err := d.probe(tmp.Name())
	if err != nil {
		return nil, err
	}

	cmd := exec.Command(d.ffmpegPath(),
		"-v", "error",
		"-i", tmp.Name(),
		"-vn",
		"-f", "f32le",
		"-acodec", "pcm_f32le",
		"-ac", strconv.Itoa(channels),
		"-ar", strconv.Itoa(sampleRate),
		"pipe:1",
	)

	slog.Debug("Running FFmpeg for decoding", "command", strings.Join(cmd.Args, " "))

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%w: ffmpeg: %v, stderr: %s", ErrDecode, err, strings.TrimSpace(stderr.String()))
	}

	return &Buffer{
		SampleRate: sampleRate,
		Channels:   channels,
		Samples:    decodeF32LE(stdout.Bytes()),
	}, nil
}

func (d *FFmpegDecoder) probe(path string) (sampleRate, channels int, err error) {
	probeCmd := exec.Command(d.ffprobePath(),
		"-v", "quiet",
		"-print_format", "json",
		"-show_streams",
		"-select_streams", "a:0",
		path,
	)

	output, err := probeCmd.Output()
	if err != nil {
		return 0, 0, fmt.Errorf("%w: ffprobe failed: %v", ErrDecode, err)
	}

	var probe probeOutput
	if err := json.Unmarshal(output, &probe); err != nil {
		return 0, 0, fmt.Errorf("%w: unreadable ffprobe output: %v", ErrDecode, err)
	}

	for _, s := range probe.Streams {
		if s.CodecType != "audio" {
			continue
		}
		rate, err := strconv.Atoi(s.SampleRate)
		if err != nil || rate <= 0 {
			return 0, 0, fmt.Errorf("%w: invalid sample rate %q", ErrDecode, s.SampleRate)
		}
		if s.Channels <= 0 {
			return 0, 0, fmt.Errorf("%w: invalid channel count %d", ErrDecode, s.Channels)
		}
		return rate, s.Channels, nil
	}

	return 0, 0, fmt.Errorf("%w: no audio stream found", ErrDecode)
}

func (d *FFmpegDecoder) ffmpegPath() string {
	if d.FFmpeg == "" {
		return "ffmpeg"
	}
	return d.FFmpeg
}

func (d *FFmpegDecoder) ffprobePath() string {
	if d.FFprobe == "" {
		return "ffprobe"
	}
	return d.FFprobe
}

// Resampler converts mono samples between sample rates.
type Resampler interface {
	Resample(samples []float32, from, to int) ([]float32, error)
}

// FFmpegResampler runs mono float samples through ffmpeg's aresample filter.
type FFmpegResampler struct {
	FFmpeg string
	Filter string // e.g. "aresample=resampler=soxr"
}

func (r *FFmpegResampler) Resample(samples []float32, from, to int) ([]float32, error) {
	if from == to || len(samples) == 0 {
		return samples, nil
	}

	ffmpeg := r.FFmpeg
	if ffmpeg == "" {
		ffmpeg = "ffmpeg"
	}

	args := []string{
		"-v", "error",
		"-f", "f32le",
		"-ar", strconv.Itoa(from),
		"-ac", "1",
		"-i", "pipe:0",
	}
	if r.Filter != "" {
		args = append(args, "-af", r.Filter)
	}
	args = append(args,
		"-ar", strconv.Itoa(to),
		"-ac", "1",
		"-f", "f32le",
		"pipe:1",
	)

	cmd := exec.Command(ffmpeg, args...)
	slog.Debug("Running FFmpeg for resampling", "command", strings.Join(cmd.Args, " "))

	var stdout, stderr bytes.Buffer
	cmd.Stdin = bytes.NewReader(encodeF32LE(samples))
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("FFmpeg resampling failed: %w, stderr: %s", err, strings.TrimSpace(stderr.String()))
	}

	return decodeF32LE(stdout.Bytes()), nil
}

func decodeF32LE(raw []byte) []float32 {
	samples := make([]float32, len(raw)/4)
	for i := range samples {
		samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return samples
}

func encodeF32LE(samples []float32) []byte {
	raw := make([]byte, len(samples)*4)
	for i, s := range samples {
		binary.LittleEndian.PutUint32(raw[i*4:], math.Float32bits(s))
	}
	return raw
}
