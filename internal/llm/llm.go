// Package llm streams chat responses from a language model and cuts them
// into speakable segments.
package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Provider selects the model backend.
type Provider string

const (
	ProviderNone   Provider = ""
	ProviderOllama Provider = "ollama"
	ProviderGemini Provider = "gemini"
)

// ParseProvider validates a configured provider name.
func ParseProvider(name string) (Provider, error) {
	switch p := Provider(strings.ToLower(strings.TrimSpace(name))); p {
	case ProviderNone, ProviderOllama, ProviderGemini:
		return p, nil
	default:
		return ProviderNone, fmt.Errorf("unknown llm provider %q (supported: ollama, gemini)", name)
	}
}

// Options configures a responder.
type Options struct {
	Model        string
	OllamaURL    string
	APIKey       string
	SystemPrompt string
}

// Responder streams the model's answer to message, calling emit for every
// text chunk in order.
type Responder interface {
	Stream(ctx context.Context, message string, emit func(chunk string)) error
	Close() error
}

// TextSink receives speakable segments.
type TextSink interface {
	PutMsgTxt(text string, eventpoint map[string]any)
}

// New creates the responder for provider.
func New(ctx context.Context, provider Provider, opts Options) (Responder, error) {
	switch provider {
	case ProviderOllama:
		return NewOllama(opts), nil
	case ProviderGemini:
		return NewGemini(ctx, opts)
	default:
		return nil, fmt.Errorf("no llm provider configured")
	}
}

// Respond streams the answer to message into sink, segment by segment.
// Errors are returned to the caller and never spoken.
func Respond(ctx context.Context, r Responder, message string, sink TextSink) error {
	start := time.Now()
	first := true
	seg := NewSegmenter(func(text string) {
		slog.Info("LLM segment", "text", text)
		sink.PutMsgTxt(text, nil)
	})

	err := r.Stream(ctx, message, func(chunk string) {
		if first {
			slog.Info("LLM first chunk", "elapsed", time.Since(start))
			first = false
		}
		seg.Write(chunk)
	})
	seg.Flush()

	if err != nil {
		return fmt.Errorf("llm response failed: %w", err)
	}
	slog.Info("LLM last chunk", "elapsed", time.Since(start))
	return nil
}
