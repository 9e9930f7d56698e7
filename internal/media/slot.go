package media

// Slot is one custom state: an image sequence that loops seamlessly and an
// audio buffer that plays exactly once per activation. Slot is not safe for
// concurrent use; playback.Machine serializes access.
type Slot struct {
	ID      int
	Name    string
	Images  []Frame
	Audio   []float32
	Options map[string]any

	audioCursor int
	imageCursor int
}

// AudioStream returns the next frameSize samples (fewer at the tail) and
// reports whether the audio buffer is exhausted after this call.
func (s *Slot) AudioStream(frameSize int) ([]float32, bool) {
	start := s.audioCursor
	end := start + frameSize
	if end > len(s.Audio) {
		end = len(s.Audio)
	}
	s.audioCursor = end
	return s.Audio[start:end:end], s.audioCursor >= len(s.Audio)
}

// NextImage returns the frame at the mirrored image cursor and advances it.
func (s *Slot) NextImage() Frame {
	f := s.Images[MirrorIndex(len(s.Images), s.imageCursor)]
	s.imageCursor++
	return f
}

// Exhausted reports whether the audio has been played to the end.
func (s *Slot) Exhausted() bool {
	return s.audioCursor >= len(s.Audio)
}

// Cursors returns the audio cursor in samples and the logical image cursor.
func (s *Slot) Cursors() (audio, image int) {
	return s.audioCursor, s.imageCursor
}

// Reset rewinds both cursors.
func (s *Slot) Reset() {
	s.audioCursor = 0
	s.imageCursor = 0
}

// ImageLoop is the idle loop: a mirrored image sequence without audio.
type ImageLoop struct {
	frames []Frame
	cursor int
}

// NewImageLoop creates a loop over frames. At least one frame is required.
func NewImageLoop(frames []Frame) *ImageLoop {
	if len(frames) == 0 {
		panic("media: image loop needs at least one frame")
	}
	return &ImageLoop{frames: frames}
}

// Next returns the current frame and advances the loop.
func (l *ImageLoop) Next() Frame {
	f := l.frames[MirrorIndex(len(l.frames), l.cursor)]
	l.cursor++
	return f
}

// Len returns the number of distinct frames.
func (l *ImageLoop) Len() int {
	return len(l.frames)
}
