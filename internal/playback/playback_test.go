package playback

import (
	"errors"
	"image/color"
	"testing"

	"github.com/audiolibrelab/avatarhost/internal/media"
)

func newSlot(id, audioLen, images int) *media.Slot {
	frames := make([]media.Frame, images)
	for i := range frames {
		frames[i] = media.SolidFrame(4, 2, color.RGBA{R: uint8(id), G: uint8(i)})
	}
	audio := make([]float32, audioLen)
	for i := range audio {
		audio[i] = 0.5
	}
	return &media.Slot{ID: id, Images: frames, Audio: audio}
}

func TestMachine_ExhaustionAfterCeilCalls(t *testing.T) {
	tests := []struct {
		length, frameSize int
	}{
		{1000, 320},
		{640, 320},
		{1, 320},
		{321, 320},
		{17, 4},
	}

	for _, tt := range tests {
		m := NewMachine([]*media.Slot{newSlot(5, tt.length, 1)}, tt.frameSize)
		if err := m.SetCustomState(5, true); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		calls := (tt.length + tt.frameSize - 1) / tt.frameSize
		for i := 0; i < calls; i++ {
			if m.State() != 5 {
				t.Fatalf("L=%d F=%d: left slot after %d calls, expected %d", tt.length, tt.frameSize, i, calls)
			}
			if _, err := m.AudioStream(5); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		}

		if m.State() != StateMuted {
			t.Errorf("L=%d F=%d: state = %v after %d calls, expected %v", tt.length, tt.frameSize, m.State(), calls, StateMuted)
		}
	}
}

func TestMachine_MutedIsNotIdle(t *testing.T) {
	if StateMuted == StateIdle {
		t.Fatal("muted and idle must be distinct")
	}
	m := NewMachine([]*media.Slot{newSlot(3, 10, 1)}, 320)
	m.SetCustomState(3, false)
	m.AudioStream(3)
	if m.State() != StateMuted {
		t.Errorf("Expected %v, got %v", StateMuted, m.State())
	}
}

func TestMachine_ExhaustingInactiveSlotKeepsState(t *testing.T) {
	m := NewMachine([]*media.Slot{newSlot(3, 10, 1), newSlot(4, 10, 1)}, 320)
	m.SetCustomState(4, false)

	if _, err := m.AudioStream(3); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.State() != 4 {
		t.Errorf("Exhausting an inactive slot changed state to %v", m.State())
	}
}

func TestMachine_SetCustomState(t *testing.T) {
	m := NewMachine([]*media.Slot{newSlot(2, 1000, 3)}, 320)

	m.SetCustomState(2, false)
	m.AudioStream(2)
	m.NextImage(2)

	// switch without reinit keeps the cursors
	m.SetCustomState(int(StateIdle), false)
	m.SetCustomState(2, false)
	if a, i := m.slots[2].Cursors(); a != 320 || i != 1 {
		t.Errorf("Cursors reset without reinit: audio=%d image=%d", a, i)
	}

	m.SetCustomState(2, true)
	if a, i := m.slots[2].Cursors(); a != 0 || i != 0 {
		t.Errorf("Cursors not reset with reinit: audio=%d image=%d", a, i)
	}

	for _, id := range []int{0, 1} {
		if err := m.SetCustomState(id, true); err != nil {
			t.Errorf("SetCustomState(%d) should be accepted: %v", id, err)
		}
	}
}

func TestMachine_UnknownSlot(t *testing.T) {
	m := NewMachine([]*media.Slot{newSlot(2, 10, 1)}, 320)
	m.SetCustomState(2, false)

	if err := m.SetCustomState(9, true); !errors.Is(err, ErrUnknownSlot) {
		t.Errorf("Expected ErrUnknownSlot, got %v", err)
	}
	if m.State() != 2 {
		t.Errorf("Failed transition changed state to %v", m.State())
	}
	if _, err := m.AudioStream(9); !errors.Is(err, ErrUnknownSlot) {
		t.Errorf("Expected ErrUnknownSlot from AudioStream, got %v", err)
	}
	if _, err := m.NextImage(9); !errors.Is(err, ErrUnknownSlot) {
		t.Errorf("Expected ErrUnknownSlot from NextImage, got %v", err)
	}
}

func TestMachine_Reset(t *testing.T) {
	m := NewMachine([]*media.Slot{newSlot(2, 1000, 2), newSlot(3, 1000, 2)}, 320)
	m.SetCustomState(2, false)
	m.AudioStream(2)
	m.AudioStream(3)
	m.NextImage(3)

	m.Reset()

	if m.State() != StateIdle {
		t.Errorf("Expected %v after reset, got %v", StateIdle, m.State())
	}
	for _, id := range m.SlotIDs() {
		if a, i := m.slots[id].Cursors(); a != 0 || i != 0 {
			t.Errorf("slot %d not rewound: audio=%d image=%d", id, a, i)
		}
	}
}

func TestMachine_TickPadsAfterExhaustion(t *testing.T) {
	m := NewMachine([]*media.Slot{newSlot(4, 400, 1)}, 320)
	m.SetCustomState(4, true)

	frame, frames, ok := m.Tick(3)
	if !ok || frame.Pix[2] != 4 {
		t.Fatalf("Expected slot 4 image, got ok=%v", ok)
	}
	if len(frames) != 3 {
		t.Fatalf("Expected 3 audio frames, got %d", len(frames))
	}
	for i, f := range frames {
		if len(f) != 320 {
			t.Errorf("frame %d has %d samples", i, len(f))
		}
	}
	if frames[1][79] != 0.5 || frames[1][80] != 0 || frames[2][0] != 0 {
		t.Error("Expected the tail of the tick to be silent")
	}
	if m.State() != StateMuted {
		t.Errorf("Expected %v, got %v", StateMuted, m.State())
	}
	if _, _, ok := m.Tick(3); ok {
		t.Error("Muted state without a slot should not tick")
	}
}

func TestMachine_TickNeverMixesSlots(t *testing.T) {
	slot := func(id int, level float32) *media.Slot {
		audio := make([]float32, 320*1000)
		for i := range audio {
			audio[i] = level
		}
		return &media.Slot{ID: id, Images: []media.Frame{media.SolidFrame(4, 2, color.RGBA{R: uint8(id)})}, Audio: audio}
	}
	levels := map[byte]float32{2: 0.25, 3: 0.75}
	m := NewMachine([]*media.Slot{slot(2, levels[2]), slot(3, levels[3])}, 320)
	m.SetCustomState(2, true)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 500; i++ {
			m.SetCustomState(2+i%2, true)
		}
	}()

	for i := 0; i < 500; i++ {
		frame, frames, ok := m.Tick(4)
		if !ok {
			continue
		}
		want := levels[frame.Pix[2]]
		for _, f := range frames {
			if f[0] != want && f[0] != 0 {
				t.Fatalf("tick %d: image of slot %d with audio level %v", i, frame.Pix[2], f[0])
			}
		}
	}
	<-done
}

type recordingSink struct {
	frames []media.Frame
	audio  [][]byte
}

func (s *recordingSink) RecordVideo(f media.Frame) { s.frames = append(s.frames, f) }
func (s *recordingSink) RecordAudio(b []byte)      { s.audio = append(s.audio, b) }

type silentSpeech struct{ calls int }

func (s *silentSpeech) Next() []float32 {
	s.calls++
	return make([]float32, 320)
}

func TestPlayer_IdleUsesSpeechSource(t *testing.T) {
	idle := media.NewImageLoop([]media.Frame{media.NewFrame(8, 6)})
	speech := &silentSpeech{}
	p := NewPlayer(NewMachine(nil, 320), idle, speech, 320, 2, 25)
	sink := &recordingSink{}
	p.AddSink(sink)

	for i := 0; i < 3; i++ {
		if err := p.Step(); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if len(sink.frames) != 3 || len(sink.audio) != 6 || speech.calls != 6 {
		t.Errorf("Unexpected output: frames=%d audio=%d speech=%d", len(sink.frames), len(sink.audio), speech.calls)
	}
	if w, h, ok := p.Dimensions(); !ok || w != 8 || h != 6 {
		t.Errorf("Dimensions not latched: %dx%d", w, h)
	}
	for _, a := range sink.audio {
		if len(a) != 640 {
			t.Errorf("Audio frame has %d bytes, expected 640", len(a))
		}
	}
}

func TestPlayer_SlotPlaysThenFallsBackToIdle(t *testing.T) {
	idle := media.NewImageLoop([]media.Frame{media.NewFrame(4, 2)})
	m := NewMachine([]*media.Slot{newSlot(7, 960, 2)}, 320)
	p := NewPlayer(m, idle, &silentSpeech{}, 320, 2, 25)
	sink := &recordingSink{}
	p.AddSink(sink)

	m.SetCustomState(7, true)

	// 960 samples: three audio frames, the second tick ends silent
	p.Step()
	p.Step()
	if m.State() != StateMuted {
		t.Fatalf("Expected %v, got %v", StateMuted, m.State())
	}
	p.Step()

	if sink.frames[0].Pix[2] != 7 || sink.frames[1].Pix[2] != 7 {
		t.Error("First two ticks should render the slot")
	}
	if sink.frames[2].Pix[2] != 0 {
		t.Error("Muted state without a slot should render the idle loop")
	}
	if sink.audio[3][0] != 0 || sink.audio[3][1] != 0 {
		t.Error("Audio after exhaustion should be silent")
	}
	if sink.audio[0][0] == 0 && sink.audio[0][1] == 0 {
		t.Error("Slot audio should not be silent")
	}
}
