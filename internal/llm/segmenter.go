package llm

import (
	"strings"
	"unicode/utf8"
)

const (
	segmentPunctuation = ",.!;:，。！？：；"
	minSegmentRunes    = 10
)

// Segmenter accumulates streamed text and emits it at punctuation once the
// pending segment is longer than minSegmentRunes.
type Segmenter struct {
	pending strings.Builder
	emit    func(string)
}

// NewSegmenter creates a segmenter calling emit for every segment.
func NewSegmenter(emit func(string)) *Segmenter {
	return &Segmenter{emit: emit}
}

// Write adds a chunk of streamed text.
func (s *Segmenter) Write(chunk string) {
	last := 0
	for i, r := range chunk {
		if !strings.ContainsRune(segmentPunctuation, r) {
			continue
		}
		end := i + utf8.RuneLen(r)
		s.pending.WriteString(chunk[last:end])
		last = end
		if utf8.RuneCountInString(s.pending.String()) > minSegmentRunes {
			s.emit(s.pending.String())
			s.pending.Reset()
		}
	}
	s.pending.WriteString(chunk[last:])
}

// Flush emits whatever is pending.
func (s *Segmenter) Flush() {
	if s.pending.Len() > 0 {
		s.emit(s.pending.String())
		s.pending.Reset()
	}
}
