// Package backend talks to the digital-person backend service: session
// creation and recording completion callbacks.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	createSessionPath = "/digital-person/create-session"
	notifyVideoPath   = "/digital-person/notify-video-complete"
)

// Client is an authenticated backend client.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// New creates a client. A zero timeout means no timeout.
func New(baseURL, token string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// HasCredentials reports whether a bearer token is configured.
func (c *Client) HasCredentials() bool {
	return c.token != ""
}

type createSessionResponse struct {
	SessionID json.RawMessage `json:"session_id"`
}

type notifyRequest struct {
	SessionID string `json:"session_id"`
	VideoPath string `json:"video_path"`
}

// CreateSession asks the backend for a new session id.
func (c *Client) CreateSession(ctx context.Context) (string, error) {
	body, err := c.post(ctx, createSessionPath, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create session: %w", err)
	}

	var resp createSessionResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("invalid create-session response: %w", err)
	}

	id, err := decodeID(resp.SessionID)
	if err != nil {
		return "", fmt.Errorf("invalid create-session response: %w", err)
	}
	return id, nil
}

// NotifyRecordingComplete reports a finalized recording.
func (c *Client) NotifyRecordingComplete(ctx context.Context, sessionID, videoPath string) error {
	payload, err := json.Marshal(notifyRequest{SessionID: sessionID, VideoPath: videoPath})
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}
	if _, err := c.post(ctx, notifyVideoPath, payload); err != nil {
		return fmt.Errorf("failed to notify backend: %w", err)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, payload []byte) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return data, nil
}

// decodeID accepts the session id as a JSON string or number.
func decodeID(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", fmt.Errorf("missing session_id")
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s == "" {
			return "", fmt.Errorf("empty session_id")
		}
		return s, nil
	}

	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", fmt.Errorf("session_id is neither string nor number: %s", raw)
	}
	return n.String(), nil
}
