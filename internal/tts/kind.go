// Package tts turns text into speech audio through external synthesis
// services and feeds the result into the session's speech queue.
package tts

import (
	"fmt"
	"strings"
)

// Kind selects a synthesis service protocol.
type Kind int

const (
	KindNone Kind = iota
	KindEdgeTTS
	KindGPTSoVITS
	KindXTTS
	KindCosyVoice
	KindFishTTS
	KindTencent
)

var kindNames = map[Kind]string{
	KindNone:      "",
	KindEdgeTTS:   "edgetts",
	KindGPTSoVITS: "gpt-sovits",
	KindXTTS:      "xtts",
	KindCosyVoice: "cosyvoice",
	KindFishTTS:   "fishtts",
	KindTencent:   "tencent",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		if name == "" {
			return "none"
		}
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// ParseKind maps a configured engine name to its Kind. The empty string
// disables synthesis.
func ParseKind(name string) (Kind, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for k, n := range kindNames {
		if n == name {
			return k, nil
		}
	}
	return KindNone, fmt.Errorf("unknown tts engine %q (supported: edgetts, gpt-sovits, xtts, cosyvoice, fishtts, tencent)", name)
}
