// Package session wires one digital-human session together: slots and the
// state machine, speech input, playback and recording.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/audiolibrelab/avatarhost/internal/asr"
	"github.com/audiolibrelab/avatarhost/internal/audio"
	"github.com/audiolibrelab/avatarhost/internal/backend"
	"github.com/audiolibrelab/avatarhost/internal/config"
	"github.com/audiolibrelab/avatarhost/internal/events"
	"github.com/audiolibrelab/avatarhost/internal/llm"
	"github.com/audiolibrelab/avatarhost/internal/media"
	"github.com/audiolibrelab/avatarhost/internal/playback"
	"github.com/audiolibrelab/avatarhost/internal/record"
	"github.com/audiolibrelab/avatarhost/internal/storage"
	"github.com/audiolibrelab/avatarhost/internal/tts"
)

var (
	// ErrNoTTS is returned for text input when no tts engine is configured.
	ErrNoTTS = errors.New("no tts engine configured")
	// ErrNoLLM is returned for chat input when no llm provider is configured.
	ErrNoLLM = errors.New("no llm provider configured")
)

// stopTimeout bounds the encoder drain and mux of every stop, and the final
// stop of a recording left running at shutdown.
const stopTimeout = 2 * time.Minute

// Service is what the control surfaces (HTTP API, CLI) drive.
type Service interface {
	// Speech input
	PutAudioFile(data []byte) (int, error)
	PutAudioFrame(frame []float32)
	PutMsgTxt(text string, eventpoint map[string]any) error
	Chat(ctx context.Context, text string) error
	FlushTalk()
	IsSpeaking() bool

	// Custom states
	SetCustomState(id int, reinit bool) error
	ResetCustomState()
	State() playback.State

	// Recording
	StartRecording() error
	StopRecording(ctx context.Context) (*record.Result, error)
	RecordingStatus() record.Status
	ListRecordings() ([]RecordingInfo, error)
	AnalyzeRecording(name string) (*RecordingAnalysis, error)

	// Information
	Info() Info
	SessionID() string
	VideoDir() string
	GetConfig() *config.Config
	GetLastError() string

	Run(ctx context.Context) error
	Close() error
}

// Info is a snapshot of the session for status output.
type Info struct {
	SessionID   string        `json:"session_id"`
	Username    string        `json:"username"`
	VideoDir    string        `json:"video_dir"`
	SampleRate  int           `json:"sample_rate"`
	FrameSize   int           `json:"frame_size"`
	FPS         int           `json:"fps"`
	State       string        `json:"state"`
	Slots       []int         `json:"slots"`
	TTS         string        `json:"tts"`
	LLM         string        `json:"llm"`
	Speaking    bool          `json:"speaking"`
	Width       int           `json:"width,omitempty"`
	Height      int           `json:"height,omitempty"`
	Ticks       int64         `json:"ticks"`
	Recording   record.Status `json:"recording"`
	PendingASR  int           `json:"pending_asr_frames"`
	UploadReady bool          `json:"upload_enabled"`
}

var _ Service = (*Session)(nil)

// Session is the default Service.
type Session struct {
	cfg       *config.Config
	sessionID string
	videoDir  string

	normalizer *audio.Normalizer
	queue      *asr.Queue
	machine    *playback.Machine
	player     *playback.Player
	pipeline   *record.Pipeline
	speaker    *tts.Speaker
	responder  llm.Responder
	publisher  *events.Publisher
	uploader   *storage.Uploader

	ttsKind  tts.Kind
	provider llm.Provider

	lastError      string
	lastErrorMutex sync.RWMutex
}

// New builds a session from cfg. The session id comes from the backend when
// credentials are configured and falls back to a local id otherwise. Any
// slot that fails to load fails the session.
func New(ctx context.Context, cfg *config.Config, logWriter io.Writer) (*Session, error) {
	if logWriter == nil {
		logWriter = io.Discard
	}

	client := backend.New(cfg.Backend.BaseURL, cfg.Backend.Token, cfg.Backend.Timeout)
	sessionID := bootstrapSessionID(ctx, client, cfg.Session.SessionID)
	videoDir := filepath.Join(cfg.Recording.VideosRoot, cfg.Session.Username, sessionID)

	frameSize := cfg.FrameSize()
	decoder := audio.NewAutoDecoder(cfg.Recording.FFmpeg, cfg.Recording.FFprobe)
	resampler := &audio.FFmpegResampler{FFmpeg: cfg.Recording.FFmpeg, Filter: cfg.Audio.ResampleFilter}
	normalizer := audio.NewNormalizer(decoder, resampler, config.CanonicalSampleRate, frameSize)

	slots, err := media.LoadSlots(cfg.Slots, normalizer)
	if err != nil {
		return nil, fmt.Errorf("failed to load custom slots: %w", err)
	}
	idle, err := media.LoadIdleLoop(cfg.Idle)
	if err != nil {
		return nil, err
	}

	s := &Session{
		cfg:        cfg,
		sessionID:  sessionID,
		videoDir:   videoDir,
		normalizer: normalizer,
		queue:      asr.NewQueue(cfg.Audio.QueueSize, frameSize),
		machine:    playback.NewMachine(slots, frameSize),
	}

	var notifiers []record.Notifier
	if client.HasCredentials() {
		notifiers = append(notifiers, record.NotifierFunc(func(ctx context.Context, res *record.Result) error {
			return client.NotifyRecordingComplete(ctx, res.SessionID, res.OutputPath)
		}))
	}
	if len(cfg.Events.Brokers) > 0 {
		s.publisher = events.NewPublisher(cfg.Events.Brokers, cfg.Events.Topic)
		notifiers = append(notifiers, record.NotifierFunc(s.publishRecording))
	}

	var uploader record.Uploader
	if cfg.Storage.Endpoint != "" {
		s.uploader, err = storage.New(storage.Options{
			Endpoint:  cfg.Storage.Endpoint,
			AccessKey: cfg.Storage.AccessKey,
			SecretKey: cfg.Storage.SecretKey,
			Bucket:    cfg.Storage.Bucket,
			Secure:    cfg.Storage.Secure,
		})
		if err != nil {
			return nil, err
		}
		uploader = &recordingUploader{storage: s.uploader, username: cfg.Session.Username}
	}

	s.pipeline = record.NewPipeline(record.Options{
		SessionID:  sessionID,
		Dir:        videoDir,
		FFmpeg:     cfg.Recording.FFmpeg,
		VideoFPS:   cfg.Recording.VideoFPS,
		VideoCodec: cfg.Recording.VideoCodec,
		AudioCodec: cfg.Recording.AudioCodec,
		SampleRate: config.CanonicalSampleRate,
		LogWriter:  logWriter,

		FinalizeTimeout: stopTimeout,
	}, uploader, notifiers...)

	s.player = playback.NewPlayer(s.machine, idle, s.queue, frameSize, cfg.AudioFramesPerVideoFrame(), cfg.Recording.VideoFPS)
	s.player.AddSink(s.pipeline)

	if s.ttsKind, err = tts.ParseKind(cfg.TTS.Engine); err != nil {
		return nil, err
	}
	if s.ttsKind != tts.KindNone {
		engine, err := tts.New(s.ttsKind, tts.Options{Endpoint: cfg.TTS.Endpoint, Voice: cfg.TTS.Voice, Timeout: cfg.TTS.Timeout})
		if err != nil {
			return nil, err
		}
		s.speaker = tts.NewSpeaker(engine, normalizer, s.queue, s.notify)
	}

	if s.provider, err = llm.ParseProvider(cfg.LLM.Provider); err != nil {
		return nil, err
	}
	if s.provider != llm.ProviderNone {
		s.responder, err = llm.New(ctx, s.provider, llm.Options{
			Model:        cfg.LLM.Model,
			OllamaURL:    cfg.LLM.OllamaURL,
			APIKey:       cfg.LLM.APIKey,
			SystemPrompt: cfg.LLM.SystemPrompt,
		})
		if err != nil {
			return nil, err
		}
	}

	slog.Info("Session initialized", "session_id", sessionID, "video_dir", videoDir, "slots", len(slots), "frame_size", frameSize, "tts", s.ttsKind, "llm", s.provider)
	return s, nil
}

func bootstrapSessionID(ctx context.Context, client *backend.Client, configured string) string {
	fallback := configured
	if fallback == "" {
		fallback = uuid.NewString()
	}

	if !client.HasCredentials() {
		slog.Warn("No backend token provided, using local session", "session_id", fallback)
		return fallback
	}

	id, err := client.CreateSession(ctx)
	if err != nil {
		slog.Error("Error initializing session from backend, using local session", "session_id", fallback, "error", err)
		return fallback
	}
	slog.Info("Session initialized from backend", "session_id", id)
	return id
}

// Run drives playback and speech synthesis until ctx is cancelled. A
// recording still active at that point is stopped and finalized.
func (s *Session) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		// nothing drains the speech queue once playback stops
		defer s.queue.Close()
		return s.player.Run(ctx)
	})
	if s.speaker != nil {
		g.Go(func() error {
			s.speaker.Run(ctx)
			return nil
		})
	}

	err := g.Wait()

	if s.pipeline.Recording() {
		stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		defer cancel()
		if _, stopErr := s.StopRecording(stopCtx); stopErr != nil {
			err = errors.Join(err, stopErr)
		}
	}
	return err
}

// Close releases external clients.
func (s *Session) Close() error {
	var errs []error
	if s.responder != nil {
		errs = append(errs, s.responder.Close())
	}
	if s.publisher != nil {
		errs = append(errs, s.publisher.Close())
	}
	return errors.Join(errs...)
}

// PutAudioFile normalizes an audio buffer into the speech queue.
func (s *Session) PutAudioFile(data []byte) (int, error) {
	n, err := s.normalizer.PutAudioFile(data, s.queue)
	if err != nil {
		s.setLastError(fmt.Sprintf("Failed to decode audio: %v", err))
		return 0, err
	}
	return n, nil
}

// PutAudioFrame pushes one canonical frame into the speech queue.
func (s *Session) PutAudioFrame(frame []float32) {
	s.queue.PutAudioFrame(frame)
}

// PutMsgTxt queues text for speech synthesis.
func (s *Session) PutMsgTxt(text string, eventpoint map[string]any) error {
	if s.speaker == nil {
		return ErrNoTTS
	}
	s.speaker.PutMsgTxt(text, eventpoint)
	return nil
}

// Chat streams the llm answer to text into speech synthesis.
func (s *Session) Chat(ctx context.Context, text string) error {
	if s.responder == nil {
		return ErrNoLLM
	}
	if s.speaker == nil {
		return ErrNoTTS
	}
	if err := llm.Respond(ctx, s.responder, text, s.speaker); err != nil {
		s.setLastError(err.Error())
		return err
	}
	return nil
}

// FlushTalk interrupts speech: queued text and pending speech frames are dropped.
func (s *Session) FlushTalk() {
	if s.speaker != nil {
		s.speaker.FlushTalk()
	}
	s.queue.Flush()
}

// IsSpeaking reports whether speech is being synthesized or waiting to play.
func (s *Session) IsSpeaking() bool {
	if s.speaker != nil && s.speaker.Busy() {
		return true
	}
	return s.queue.Pending() > 0
}

// SetCustomState switches the active custom state.
func (s *Session) SetCustomState(id int, reinit bool) error {
	return s.machine.SetCustomState(id, reinit)
}

// ResetCustomState returns to idle and rewinds every slot.
func (s *Session) ResetCustomState() {
	s.machine.Reset()
}

// State returns the active custom state.
func (s *Session) State() playback.State {
	return s.machine.State()
}

// StartRecording starts recording the rendered output.
func (s *Session) StartRecording() error {
	s.clearLastError()
	if err := s.pipeline.Start(); err != nil {
		s.setLastError(fmt.Sprintf("Failed to start recording: %v", err))
		return err
	}
	return nil
}

// StopRecording stops and finalizes the recording.
func (s *Session) StopRecording(ctx context.Context) (*record.Result, error) {
	res, err := s.pipeline.Stop(ctx)
	if err != nil {
		s.setLastError(fmt.Sprintf("Failed to stop recording: %v", err))
		return nil, err
	}
	return res, nil
}

// RecordingStatus returns the recording state.
func (s *Session) RecordingStatus() record.Status {
	return s.pipeline.Status()
}

// Info returns a status snapshot.
func (s *Session) Info() Info {
	w, h, _ := s.player.Dimensions()
	return Info{
		SessionID:   s.sessionID,
		Username:    s.cfg.Session.Username,
		VideoDir:    s.videoDir,
		SampleRate:  config.CanonicalSampleRate,
		FrameSize:   s.cfg.FrameSize(),
		FPS:         s.cfg.Session.FPS,
		State:       s.machine.State().String(),
		Slots:       s.machine.SlotIDs(),
		TTS:         s.ttsKind.String(),
		LLM:         string(s.provider),
		Speaking:    s.IsSpeaking(),
		Width:       w,
		Height:      h,
		Ticks:       s.player.Ticks(),
		Recording:   s.pipeline.Status(),
		PendingASR:  s.queue.Pending(),
		UploadReady: s.uploader != nil,
	}
}

// SessionID returns the session id.
func (s *Session) SessionID() string {
	return s.sessionID
}

// VideoDir returns the directory recordings are written to.
func (s *Session) VideoDir() string {
	return s.videoDir
}

// GetConfig returns the configuration the session was built from.
func (s *Session) GetConfig() *config.Config {
	return s.cfg
}

// notify logs a spoken message's event point.
func (s *Session) notify(eventpoint map[string]any) {
	slog.Info("notify", "eventpoint", eventpoint)
}

func (s *Session) publishRecording(ctx context.Context, res *record.Result) error {
	return s.publisher.Publish(ctx, events.RecordingEvent{
		SessionID:      res.SessionID,
		Username:       s.cfg.Session.Username,
		Action:         "recording_completed",
		OutputPath:     res.OutputPath,
		UploadLocation: res.UploadLocation,
		Width:          res.Width,
		Height:         res.Height,
		VideoFrames:    res.VideoFrames,
		AudioFrames:    res.AudioFrames,
		StartTime:      res.StartedAt,
		EndTime:        res.FinishedAt,
		Duration:       float64(res.VideoFrames) / float64(s.cfg.Recording.VideoFPS),
	})
}

type recordingUploader struct {
	storage  *storage.Uploader
	username string
}

func (u *recordingUploader) Upload(ctx context.Context, res *record.Result) (string, error) {
	return u.storage.Upload(ctx, res.OutputPath, storage.ObjectKey(u.username, res.SessionID, res.OutputPath))
}

// GetLastError returns the last error message (thread-safe)
func (s *Session) GetLastError() string {
	s.lastErrorMutex.RLock()
	defer s.lastErrorMutex.RUnlock()
	return s.lastError
}

func (s *Session) setLastError(err string) {
	s.lastErrorMutex.Lock()
	defer s.lastErrorMutex.Unlock()
	s.lastError = err

	slog.Error("Session error occurred", "error_message", err)
}

func (s *Session) clearLastError() {
	s.lastErrorMutex.Lock()
	defer s.lastErrorMutex.Unlock()
	s.lastError = ""
}
