package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

// Ollama streams from a local Ollama server's /api/chat.
type Ollama struct {
	url    string
	opts   Options
	client *http.Client
}

// NewOllama creates an Ollama responder.
func NewOllama(opts Options) *Ollama {
	return &Ollama{
		url:    strings.TrimRight(opts.OllamaURL, "/") + "/api/chat",
		opts:   opts,
		client: &http.Client{},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

type chatChunk struct {
	Message *chatMessage `json:"message"`
	Done    bool         `json:"done"`
	Error   string       `json:"error"`
}

func (o *Ollama) Stream(ctx context.Context, message string, emit func(string)) error {
	messages := []chatMessage{}
	if o.opts.SystemPrompt != "" {
		messages = append(messages, chatMessage{Role: "system", Content: o.opts.SystemPrompt})
	}
	messages = append(messages, chatMessage{Role: "user", Content: message})

	body, err := json.Marshal(chatRequest{Model: o.opts.Model, Messages: messages, Stream: true})
	if err != nil {
		return fmt.Errorf("failed to encode chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	slog.Info("Using Ollama model", "model", o.opts.Model, "url", o.url)
	resp, err := o.client.Do(req)
	if err != nil {
		return fmt.Errorf("ollama request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("ollama API error: %d - %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var chunk chatChunk
		if err := json.Unmarshal(line, &chunk); err != nil {
			slog.Error("Failed to parse Ollama chunk", "line", string(line), "error", err)
			continue
		}
		if chunk.Error != "" {
			return fmt.Errorf("ollama: %s", chunk.Error)
		}
		if chunk.Message != nil && chunk.Message.Content != "" {
			emit(chunk.Message.Content)
		}
		if chunk.Done {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read ollama stream: %w", err)
	}
	return nil
}

func (o *Ollama) Close() error {
	return nil
}
