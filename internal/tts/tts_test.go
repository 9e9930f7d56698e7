package tts

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/audiolibrelab/avatarhost/internal/audio"
)

func TestParseKind(t *testing.T) {
	tests := []struct {
		name    string
		want    Kind
		wantErr bool
	}{
		{"", KindNone, false},
		{"edgetts", KindEdgeTTS, false},
		{"GPT-SoVITS", KindGPTSoVITS, false},
		{"xtts", KindXTTS, false},
		{"cosyvoice", KindCosyVoice, false},
		{" fishtts ", KindFishTTS, false},
		{"tencent", KindTencent, false},
		{"espeak", KindNone, true},
	}

	for _, tt := range tests {
		got, err := ParseKind(tt.name)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseKind(%q) error = %v, wantErr %v", tt.name, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseKind(%q) = %v, expected %v", tt.name, got, tt.want)
		}
	}
}

func TestNew_RequestShapes(t *testing.T) {
	tests := []struct {
		kind        Kind
		path        string
		contentType string
	}{
		{KindEdgeTTS, "/", "application/json"},
		{KindGPTSoVITS, "/", "application/json"},
		{KindXTTS, "/tts_to_audio/", "application/json"},
		{KindCosyVoice, "/inference_sft", "application/x-www-form-urlencoded"},
		{KindFishTTS, "/v1/tts", "application/json"},
		{KindTencent, "/", "application/json"},
	}

	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != tt.path {
					t.Errorf("path = %s, expected %s", r.URL.Path, tt.path)
				}
				if ct := r.Header.Get("Content-Type"); ct != tt.contentType {
					t.Errorf("Content-Type = %s, expected %s", ct, tt.contentType)
				}
				w.Write([]byte("RIFF"))
			}))
			defer srv.Close()

			engine, err := New(tt.kind, Options{Endpoint: srv.URL, Voice: "v", Timeout: time.Second})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			data, err := engine.Synthesize(context.Background(), "hello")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if string(data) != "RIFF" {
				t.Errorf("Unexpected audio %q", data)
			}
		})
	}
}

func TestNew_Errors(t *testing.T) {
	if _, err := New(KindXTTS, Options{}); err == nil {
		t.Error("Expected error without endpoint")
	}
	if _, err := New(KindNone, Options{Endpoint: "http://x"}); err == nil {
		t.Error("Expected error for KindNone")
	}
}

func TestSynthesize_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "busy", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	engine, _ := New(KindFishTTS, Options{Endpoint: srv.URL})
	if _, err := engine.Synthesize(context.Background(), "hi"); err == nil {
		t.Error("Expected error for 503")
	}
}

type fakeEngine struct {
	mu    sync.Mutex
	texts []string
	err   error
}

func (e *fakeEngine) Synthesize(_ context.Context, text string) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.texts = append(e.texts, text)
	return []byte(text), e.err
}

type countingPutter struct {
	mu     sync.Mutex
	inputs []string
}

func (p *countingPutter) PutAudioFile(data []byte, consumer audio.FrameConsumer) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.inputs = append(p.inputs, string(data))
	consumer.PutAudioFrame(make([]float32, 4))
	return 1, nil
}

type nopConsumer struct{}

func (nopConsumer) PutAudioFrame([]float32) {}

func TestSpeaker_SpeaksInOrderAndFiresEvents(t *testing.T) {
	engine := &fakeEngine{}
	putter := &countingPutter{}
	events := make(chan map[string]any, 4)
	s := NewSpeaker(engine, putter, nopConsumer{}, func(ep map[string]any) { events <- ep })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	s.PutMsgTxt("one", nil)
	s.PutMsgTxt("two", map[string]any{"status": "end"})

	select {
	case ep := <-events:
		if ep["status"] != "end" {
			t.Errorf("Unexpected event %v", ep)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for event")
	}

	putter.mu.Lock()
	defer putter.mu.Unlock()
	if len(putter.inputs) != 2 || putter.inputs[0] != "one" || putter.inputs[1] != "two" {
		t.Errorf("Unexpected spoken order: %v", putter.inputs)
	}
}

func TestSpeaker_FlushDropsQueued(t *testing.T) {
	engine := &fakeEngine{}
	putter := &countingPutter{}
	s := NewSpeaker(engine, putter, nopConsumer{}, nil)

	s.PutMsgTxt("stale", nil)
	s.PutMsgTxt("stale too", nil)
	if !s.Busy() {
		t.Error("Speaker with queued messages should be busy")
	}
	s.FlushTalk()
	if s.Busy() {
		t.Error("Flushed speaker should not be busy")
	}

	// a message queued before a flush is discarded even if dequeued later
	m := message{text: "old", generation: s.generation.Load() - 1}
	s.speak(context.Background(), m)
	if len(engine.texts) != 0 {
		t.Errorf("Stale message was synthesized: %v", engine.texts)
	}
}

func TestSpeaker_SynthesisErrorIsNotFatal(t *testing.T) {
	engine := &fakeEngine{err: errors.New("down")}
	putter := &countingPutter{}
	s := NewSpeaker(engine, putter, nopConsumer{}, nil)

	s.speak(context.Background(), message{text: "hi", generation: s.generation.Load()})
	if len(putter.inputs) != 0 {
		t.Error("Failed synthesis should not reach the normalizer")
	}
	if s.Busy() {
		t.Error("Speaker should not stay busy after an error")
	}
}

// gatedPutter emits frames one by one, waiting on step between them.
type gatedPutter struct {
	frames int
	step   chan struct{}
}

func (p *gatedPutter) PutAudioFile(_ []byte, consumer audio.FrameConsumer) (int, error) {
	for i := 0; i < p.frames; i++ {
		<-p.step
		consumer.PutAudioFrame(make([]float32, 320))
	}
	return p.frames, nil
}

type recordingConsumer struct {
	mu     sync.Mutex
	frames int
}

func (c *recordingConsumer) PutAudioFrame([]float32) {
	c.mu.Lock()
	c.frames++
	c.mu.Unlock()
}

func (c *recordingConsumer) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frames
}

func TestSpeaker_FlushStopsUtteranceInProgress(t *testing.T) {
	putter := &gatedPutter{frames: 10, step: make(chan struct{})}
	consumer := &recordingConsumer{}
	var events atomic.Int32
	s := NewSpeaker(&fakeEngine{}, putter, consumer, func(map[string]any) { events.Add(1) })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	s.PutMsgTxt("a long answer", map[string]any{"id": 1})
	for i := 0; i < 3; i++ {
		putter.step <- struct{}{}
	}
	waitFor(t, func() bool { return consumer.count() == 3 })

	s.FlushTalk()
	for i := 3; i < putter.frames; i++ {
		putter.step <- struct{}{}
	}
	waitFor(t, func() bool { return !s.Busy() })

	if n := consumer.count(); n != 3 {
		t.Errorf("Consumer got %d frames, expected 3 before the flush", n)
	}
	if events.Load() != 0 {
		t.Error("An interrupted message must not fire its event")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("Timed out waiting for condition")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
