// Package record captures rendered frames into external ffmpeg encoders and
// muxes them into one MP4 when a recording stops.
package record

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/audiolibrelab/avatarhost/internal/media"
)

var (
	// ErrEncoder is returned when an encoder process fails to start or exits abnormally.
	ErrEncoder = errors.New("encoder failed")
	// ErrMux is returned when the intermediates cannot be combined.
	ErrMux = errors.New("mux failed")
)

const (
	videoQueueDepth = 32
	audioQueueDepth = 256

	defaultFinalizeTimeout = 2 * time.Minute
)

// Options configures a pipeline.
type Options struct {
	SessionID  string
	Dir        string // per-user, per-session video directory
	FFmpeg     string
	VideoFPS   int
	VideoCodec string
	AudioCodec string
	SampleRate int

	// LogWriter receives encoder stderr, nil discards it
	LogWriter io.Writer
	// Clock defaults to time.Now
	Clock func() time.Time
	// FinalizeTimeout bounds the encoder drain and the mux of one Stop,
	// independent of the caller's context. Defaults to two minutes.
	FinalizeTimeout time.Duration
}

// Uploader stores a finished recording and returns where it went.
type Uploader interface {
	Upload(ctx context.Context, res *Result) (string, error)
}

// Notifier is told about every successfully finalized recording.
type Notifier interface {
	RecordingComplete(ctx context.Context, res *Result) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, res *Result) error

func (f NotifierFunc) RecordingComplete(ctx context.Context, res *Result) error {
	return f(ctx, res)
}

// Result describes a finalized recording.
type Result struct {
	SessionID      string    `json:"session_id"`
	OutputPath     string    `json:"output_path"`
	VideoPath      string    `json:"video_path"`
	AudioPath      string    `json:"audio_path"`
	Width          int       `json:"width"`
	Height         int       `json:"height"`
	VideoFrames    int       `json:"video_frames"`
	AudioFrames    int       `json:"audio_frames"`
	DroppedFrames  int       `json:"dropped_frames"`
	StartedAt      time.Time `json:"started_at"`
	FinishedAt     time.Time `json:"finished_at"`
	UploadLocation string    `json:"upload_location,omitempty"`
}

// Status is a snapshot for the control API.
type Status struct {
	Recording     bool       `json:"recording"`
	Basename      string     `json:"basename,omitempty"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	Width         int        `json:"width,omitempty"`
	Height        int        `json:"height,omitempty"`
	VideoFrames   int        `json:"video_frames"`
	AudioFrames   int        `json:"audio_frames"`
	DroppedFrames int        `json:"dropped_frames"`
	LastOutput    string     `json:"last_output,omitempty"`
	LastError     string     `json:"last_error,omitempty"`
}

type recording struct {
	basename  string
	timestamp int64
	startedAt time.Time
	video     *sink
	audio     *sink
	width     int
	height    int
	resized   int
	failed    error
}

// droppedFrames counts video frames with the wrong size plus every buffer
// either encoder queue had no room for.
func (r *recording) droppedFrames() int {
	return r.resized + r.video.dropped + r.audio.dropped
}

// Pipeline is the Idle -> Recording -> Idle recorder of one session.
type Pipeline struct {
	opts      Options
	uploader  Uploader
	notifiers []Notifier

	// lifecycle serializes Start and Stop, mu guards rec and frame writes
	lifecycle sync.Mutex
	mu        sync.Mutex
	rec       *recording
	lastTS    int64
	lastOut   string
	lastErr   error
}

// NewPipeline creates an idle pipeline. uploader may be nil.
func NewPipeline(opts Options, uploader Uploader, notifiers ...Notifier) *Pipeline {
	if opts.FFmpeg == "" {
		opts.FFmpeg = "ffmpeg"
	}
	if opts.VideoFPS <= 0 {
		opts.VideoFPS = 25
	}
	if opts.VideoCodec == "" {
		opts.VideoCodec = "h264"
	}
	if opts.AudioCodec == "" {
		opts.AudioCodec = "aac"
	}
	if opts.SampleRate <= 0 {
		opts.SampleRate = 16000
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.FinalizeTimeout <= 0 {
		opts.FinalizeTimeout = defaultFinalizeTimeout
	}
	return &Pipeline{opts: opts, uploader: uploader, notifiers: notifiers}
}

// Recording reports whether a recording is active.
func (p *Pipeline) Recording() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rec != nil
}

// Status returns the current recording state.
func (p *Pipeline) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()

	st := Status{LastOutput: p.lastOut}
	if p.lastErr != nil {
		st.LastError = p.lastErr.Error()
	}
	if p.rec != nil {
		st.Recording = true
		st.Basename = p.rec.basename
		startedAt := p.rec.startedAt
		st.StartedAt = &startedAt
		st.Width = p.rec.width
		st.Height = p.rec.height
		st.VideoFrames = p.rec.video.frames
		st.AudioFrames = p.rec.audio.frames
		st.DroppedFrames = p.rec.droppedFrames()
	}
	return st
}

// Start begins a recording. It is a no-op while one is active.
func (p *Pipeline) Start() error {
	p.lifecycle.Lock()
	defer p.lifecycle.Unlock()

	if p.Recording() {
		slog.Debug("Recording already active, ignoring start")
		return nil
	}

	if err := os.MkdirAll(p.opts.Dir, 0755); err != nil {
		return fmt.Errorf("failed to create video directory: %w", err)
	}

	now := p.opts.Clock()
	ts := now.Unix()
	if ts <= p.lastTS {
		ts = p.lastTS + 1
	}
	basename := fmt.Sprintf("%s_%d", p.opts.SessionID, ts)

	rec := &recording{
		basename:  basename,
		timestamp: ts,
		startedAt: now,
		video:     newSink("video", filepath.Join(p.opts.Dir, basename+".mp4"), videoQueueDepth),
		audio:     newSink("audio", filepath.Join(p.opts.Dir, basename+".aac"), audioQueueDepth),
	}

	// the video encoder needs the frame size and is spawned on the first frame
	if err := rec.audio.spawn(p.opts.FFmpeg, p.audioArgs(rec.audio.path), p.opts.LogWriter); err != nil {
		p.setLastError(err)
		return err
	}

	p.mu.Lock()
	p.rec = rec
	p.lastTS = ts
	p.lastErr = nil
	p.mu.Unlock()

	slog.Info("Recording started", "basename", basename, "dir", p.opts.Dir)
	return nil
}

// RecordVideo queues a rendered frame. It is a no-op unless recording and
// never blocks: a frame the encoder has no room for is dropped.
// The first frame fixes the video size for this recording.
func (p *Pipeline) RecordVideo(frame media.Frame) {
	p.mu.Lock()
	defer p.mu.Unlock()

	rec := p.rec
	if rec == nil || rec.failed != nil {
		return
	}
	if !frame.Valid() {
		slog.Warn("Dropping invalid video frame", "width", frame.Width, "height", frame.Height, "bytes", len(frame.Pix))
		return
	}

	if !rec.video.started() {
		rec.width, rec.height = frame.Width, frame.Height
		if err := rec.video.spawn(p.opts.FFmpeg, p.videoArgs(rec.video.path, rec.width, rec.height), p.opts.LogWriter); err != nil {
			slog.Error("Failed to start video encoder", "error", err)
			rec.failed = err
			return
		}
	}

	if frame.Width != rec.width || frame.Height != rec.height {
		if rec.resized == 0 {
			slog.Warn("Dropping video frames with changed dimensions", "expected", fmt.Sprintf("%dx%d", rec.width, rec.height), "got", fmt.Sprintf("%dx%d", frame.Width, frame.Height))
		}
		rec.resized++
		return
	}

	pix := make([]byte, len(frame.Pix))
	copy(pix, frame.Pix)
	rec.video.write(pix)
}

// RecordAudio queues s16le PCM. It is a no-op unless recording and never blocks.
func (p *Pipeline) RecordAudio(pcm []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.rec == nil || p.rec.failed != nil {
		return
	}
	buf := make([]byte, len(pcm))
	copy(buf, pcm)
	p.rec.audio.write(buf)
}

// Stop ends the recording, waits for both encoders, muxes the result and
// removes the intermediates. Upload and notifications follow a successful
// mux only, under ctx. Draining and muxing run on a context detached from
// ctx and bounded by Options.FinalizeTimeout, so a cancelled caller does
// not discard a finished recording. It returns (nil, nil) when no
// recording is active.
func (p *Pipeline) Stop(ctx context.Context) (*Result, error) {
	p.lifecycle.Lock()
	defer p.lifecycle.Unlock()

	// clearing rec first drops every write that races with teardown
	p.mu.Lock()
	rec := p.rec
	p.rec = nil
	p.mu.Unlock()

	if rec == nil {
		slog.Debug("No recording active, ignoring stop")
		return nil, nil
	}

	slog.Info("Stopping recording", "basename", rec.basename, "video_frames", rec.video.frames, "audio_frames", rec.audio.frames, "dropped_frames", rec.droppedFrames())

	finishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.opts.FinalizeTimeout)
	defer cancel()

	res, err := p.finalize(finishCtx, rec)
	if err != nil {
		slog.Error("Recording failed, intermediates kept", "video", rec.video.path, "audio", rec.audio.path, "error", err)
		p.setLastError(err)
		return nil, err
	}

	p.mu.Lock()
	p.lastOut = res.OutputPath
	p.mu.Unlock()

	p.publish(ctx, res)
	return res, nil
}

func (p *Pipeline) finalize(ctx context.Context, rec *recording) (*Result, error) {
	var g errgroup.Group
	g.Go(func() error { return rec.video.close(ctx) })
	g.Go(func() error { return rec.audio.close(ctx) })
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if rec.failed != nil {
		return nil, rec.failed
	}
	if !rec.video.started() {
		return nil, fmt.Errorf("%w: no video frames were recorded", ErrEncoder)
	}

	ts := p.opts.Clock().Unix()
	if ts <= rec.timestamp {
		ts = rec.timestamp + 1
	}
	output := filepath.Join(p.opts.Dir, fmt.Sprintf("%s_%d.mp4", p.opts.SessionID, ts))

	if err := p.mux(ctx, rec.audio.path, rec.video.path, output); err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.lastTS = ts
	p.mu.Unlock()

	for _, path := range []string{rec.video.path, rec.audio.path} {
		if err := os.Remove(path); err != nil {
			slog.Warn("Failed to remove intermediate file", "path", path, "error", err)
		}
	}

	res := &Result{
		SessionID:     p.opts.SessionID,
		OutputPath:    output,
		VideoPath:     rec.video.path,
		AudioPath:     rec.audio.path,
		Width:         rec.width,
		Height:        rec.height,
		VideoFrames:   rec.video.frames,
		AudioFrames:   rec.audio.frames,
		DroppedFrames: rec.droppedFrames(),
		StartedAt:     rec.startedAt,
		FinishedAt:    p.opts.Clock(),
	}
	slog.Info("Recording saved", "output", output, "video_frames", res.VideoFrames, "audio_frames", res.AudioFrames)
	return res, nil
}

func (p *Pipeline) mux(ctx context.Context, audioPath, videoPath, output string) error {
	cmd := exec.CommandContext(ctx, p.opts.FFmpeg,
		"-y",
		"-v", "error",
		"-i", audioPath,
		"-i", videoPath,
		"-c:v", "copy",
		"-c:a", "copy",
		output,
	)

	slog.Debug("Running FFmpeg for muxing", "command", strings.Join(cmd.Args, " "))

	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w: %v, output: %s", ErrMux, err, strings.TrimSpace(string(out)))
	}

	info, err := os.Stat(output)
	if err != nil {
		return fmt.Errorf("%w: output file not created: %s", ErrMux, output)
	}
	if info.Size() == 0 {
		os.Remove(output)
		return fmt.Errorf("%w: output file is empty: %s", ErrMux, output)
	}
	return nil
}

func (p *Pipeline) publish(ctx context.Context, res *Result) {
	if p.uploader != nil {
		location, err := p.uploader.Upload(ctx, res)
		if err != nil {
			slog.Error("Recording upload failed", "output", res.OutputPath, "error", err)
		} else {
			res.UploadLocation = location
			slog.Info("Recording uploaded", "location", location)
		}
	}

	for _, n := range p.notifiers {
		if err := n.RecordingComplete(ctx, res); err != nil {
			slog.Error("Recording notification failed", "output", res.OutputPath, "error", err)
		}
	}
}

func (p *Pipeline) setLastError(err error) {
	p.mu.Lock()
	p.lastErr = err
	p.mu.Unlock()
}

func (p *Pipeline) videoArgs(path string, width, height int) []string {
	return []string{
		"-y",
		"-v", "error",
		"-f", "rawvideo",
		"-vcodec", "rawvideo",
		"-pix_fmt", "bgr24",
		"-s", fmt.Sprintf("%dx%d", width, height),
		"-r", strconv.Itoa(p.opts.VideoFPS),
		"-i", "-",
		"-pix_fmt", "yuv420p",
		"-vcodec", p.opts.VideoCodec,
		path,
	}
}

func (p *Pipeline) audioArgs(path string) []string {
	return []string{
		"-y",
		"-v", "error",
		"-f", "s16le",
		"-ac", "1",
		"-ar", strconv.Itoa(p.opts.SampleRate),
		"-i", "-",
		"-acodec", p.opts.AudioCodec,
		path,
	}
}
