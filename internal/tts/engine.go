package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Engine synthesizes one utterance into an encoded audio buffer.
type Engine interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// Options configures an engine.
type Options struct {
	Endpoint string
	Voice    string
	Timeout  time.Duration
}

// New returns the engine for kind. KindNone has no engine.
func New(kind Kind, opts Options) (Engine, error) {
	if opts.Endpoint == "" {
		return nil, fmt.Errorf("tts engine %s needs an endpoint", kind)
	}
	base := strings.TrimRight(opts.Endpoint, "/")
	client := &http.Client{Timeout: opts.Timeout}

	var build requestBuilder
	switch kind {
	case KindEdgeTTS:
		build = jsonRequest(base, func(text string) any {
			return map[string]any{"text": text, "voice": opts.Voice}
		})
	case KindGPTSoVITS:
		build = jsonRequest(base, func(text string) any {
			return map[string]any{"text": text, "text_lang": "zh", "ref_audio_path": opts.Voice, "media_type": "wav"}
		})
	case KindXTTS:
		build = jsonRequest(base+"/tts_to_audio/", func(text string) any {
			return map[string]any{"text": text, "speaker_wav": opts.Voice, "language": "zh-cn"}
		})
	case KindCosyVoice:
		build = formRequest(base+"/inference_sft", func(text string) url.Values {
			return url.Values{"tts_text": {text}, "spk_id": {opts.Voice}}
		})
	case KindFishTTS:
		build = jsonRequest(base+"/v1/tts", func(text string) any {
			return map[string]any{"text": text, "reference_id": opts.Voice, "format": "wav", "streaming": false}
		})
	case KindTencent:
		build = jsonRequest(base, func(text string) any {
			return map[string]any{"Text": text, "VoiceType": opts.Voice, "Codec": "wav", "SampleRate": 16000}
		})
	default:
		return nil, fmt.Errorf("tts engine %s cannot be constructed", kind)
	}

	return &httpEngine{kind: kind, client: client, build: build}, nil
}

type requestBuilder func(ctx context.Context, text string) (*http.Request, error)

func jsonRequest(endpoint string, payload func(text string) any) requestBuilder {
	return func(ctx context.Context, text string) (*http.Request, error) {
		body, err := json.Marshal(payload(text))
		if err != nil {
			return nil, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	}
}

func formRequest(endpoint string, form func(text string) url.Values) requestBuilder {
	return func(ctx context.Context, text string) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form(text).Encode()))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return req, nil
	}
}

type httpEngine struct {
	kind   Kind
	client *http.Client
	build  requestBuilder
}

func (e *httpEngine) Synthesize(ctx context.Context, text string) ([]byte, error) {
	req, err := e.build(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to build request: %w", e.kind, err)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: request failed: %w", e.kind, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to read audio: %w", e.kind, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: status %d: %s", e.kind, resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%s: empty audio response", e.kind)
	}
	return data, nil
}
