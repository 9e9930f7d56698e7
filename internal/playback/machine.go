// Package playback decides, tick by tick, which media the session renders.
package playback

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/audiolibrelab/avatarhost/internal/media"
)

// State is the current custom state. Values other than the two named
// states are custom slot ids.
type State int

const (
	// StateIdle plays the default idle loop.
	StateIdle State = 0
	// StateMuted is entered when a custom slot's audio has been played out.
	// It is not the same as StateIdle.
	StateMuted State = 1
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateMuted:
		return "MUTED"
	default:
		return fmt.Sprintf("SLOT_%d", int(s))
	}
}

// ErrUnknownSlot is returned for custom state ids that have no configured slot.
var ErrUnknownSlot = errors.New("unknown custom slot")

// Machine owns the active state and every slot's cursors.
type Machine struct {
	mu        sync.Mutex
	state     State
	slots     map[int]*media.Slot
	frameSize int
}

// NewMachine creates a machine in StateIdle over the given slots.
func NewMachine(slots []*media.Slot, frameSize int) *Machine {
	m := &Machine{
		slots:     make(map[int]*media.Slot, len(slots)),
		frameSize: frameSize,
	}
	for _, s := range slots {
		m.slots[s.ID] = s
	}
	return m
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// SlotIDs returns the configured slot ids in ascending order.
func (m *Machine) SlotIDs() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]int, 0, len(m.slots))
	for id := range m.slots {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// SetCustomState switches to id, interrupting whatever plays. With reinit
// the slot's cursors are rewound first. StateIdle and StateMuted are always
// accepted; any other id must have a slot.
func (m *Machine) SetCustomState(id int, reinit bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	slot, ok := m.slots[id]
	if !ok && State(id) != StateIdle && State(id) != StateMuted {
		return fmt.Errorf("%w: %d", ErrUnknownSlot, id)
	}
	if reinit && ok {
		slot.Reset()
	}

	prev := m.state
	m.state = State(id)
	slog.Debug("Custom state changed", "from", prev, "to", m.state, "reinit", reinit)
	return nil
}

// AudioStream returns the next audio frame of slot id. When the active
// slot runs out of audio the machine moves to StateMuted.
func (m *Machine) AudioStream(id int) ([]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	slot, ok := m.slots[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownSlot, id)
	}

	samples, exhausted := slot.AudioStream(m.frameSize)
	if exhausted && m.state == State(id) && m.state != StateMuted {
		slog.Debug("Custom slot audio exhausted", "slot", id)
		m.state = StateMuted
	}
	return samples, nil
}

// NextImage returns the next image of slot id.
func (m *Machine) NextImage(id int) (media.Frame, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	slot, ok := m.slots[id]
	if !ok {
		return media.Frame{}, fmt.Errorf("%w: %d", ErrUnknownSlot, id)
	}
	return slot.NextImage(), nil
}

// Tick returns one video tick of the active slot under a single lock: the
// next image and audioFrames frames of frameSize samples each. Once the
// slot's audio runs out the machine moves to StateMuted and the rest of the
// tick is silence. ok is false when the active state has no slot.
func (m *Machine) Tick(audioFrames int) (frame media.Frame, frames [][]float32, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := int(m.state)
	slot, ok := m.slots[id]
	if !ok {
		return media.Frame{}, nil, false
	}

	frame = slot.NextImage()
	frames = make([][]float32, 0, audioFrames)
	for i := 0; i < audioFrames; i++ {
		out := make([]float32, m.frameSize)
		if m.state == State(id) {
			samples, exhausted := slot.AudioStream(m.frameSize)
			copy(out, samples)
			if exhausted && m.state != StateMuted {
				slog.Debug("Custom slot audio exhausted", "slot", id)
				m.state = StateMuted
			}
		}
		frames = append(frames, out)
	}
	return frame, frames, true
}

// Reset returns to StateIdle and rewinds every slot.
func (m *Machine) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state = StateIdle
	for _, s := range m.slots {
		s.Reset()
	}
}
