// Package events publishes recording lifecycle events to Kafka.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

const source = "avatarhost"

// RecordingEvent is the payload of a recording.events message.
type RecordingEvent struct {
	SessionID      string    `json:"session_id"`
	Username       string    `json:"username"`
	Action         string    `json:"action"` // "recording_completed"
	OutputPath     string    `json:"output_path"`
	UploadLocation string    `json:"upload_location,omitempty"`
	Width          int       `json:"width"`
	Height         int       `json:"height"`
	VideoFrames    int       `json:"video_frames"`
	AudioFrames    int       `json:"audio_frames"`
	StartTime      time.Time `json:"start_time"`
	EndTime        time.Time `json:"end_time"`
	Duration       float64   `json:"duration_seconds"`
	Timestamp      time.Time `json:"timestamp"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher writes events to one topic.
type Publisher struct {
	writer messageWriter
	topic  string
}

// NewPublisher creates a synchronous publisher for brokers.
func NewPublisher(brokers []string, topic string) *Publisher {
	return &Publisher{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.LeastBytes{},
			RequiredAcks:           kafka.RequireOne,
			WriteTimeout:           10 * time.Second,
			ReadTimeout:            10 * time.Second,
			AllowAutoTopicCreation: true,
		},
		topic: topic,
	}
}

// Publish writes ev keyed by session id.
func (p *Publisher) Publish(ctx context.Context, ev RecordingEvent) error {
	if ev.SessionID == "" {
		return fmt.Errorf("session_id is required")
	}
	if ev.Action == "" {
		return fmt.Errorf("action is required")
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(ev.SessionID),
		Value: value,
		Time:  ev.Timestamp,
		Headers: []kafka.Header{
			{Key: "action", Value: []byte(ev.Action)},
			{Key: "source", Value: []byte(source)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write to kafka: %w", err)
	}

	slog.Debug("Recording event published", "topic", p.topic, "session_id", ev.SessionID, "action", ev.Action)
	return nil
}

// Close flushes and closes the writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}
