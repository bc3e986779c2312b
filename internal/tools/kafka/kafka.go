package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"
)

// Writer is the subset of kafka.Writer this tool depends on.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

type sendMessageTool struct {
	producer Writer
}

// SendMessageRequest is the LLM-facing request shape for the bus_publish tool.
type SendMessageRequest struct {
	Topic   string            `json:"topic"`
	Message string            `json:"message"`
	Key     string            `json:"key,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

// SendMessageResponse reports the outcome of a publish attempt.
type SendMessageResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// NewSendMessageTool exposes raw bus publish as an LLM-callable tool named
// bus_publish. Nothing in the runtime registers it; callers add it to a
// tools.Registry themselves.
func NewSendMessageTool(producer Writer) *sendMessageTool {
	return &sendMessageTool{producer: producer}
}

func (t *sendMessageTool) Name() string { return "bus_publish" }

func (t *sendMessageTool) JSONSchema() map[string]any {
	return map[string]any{
		"description": "Publish a raw message onto the event bus. Use sparingly; prefer dedicated tools where one exists.",
		"parameters": map[string]any{
			"type":     "object",
			"required": []string{"topic", "message"},
			"properties": map[string]any{
				"topic":   map[string]any{"type": "string", "description": "Destination topic name"},
				"message": map[string]any{"type": "string", "description": "Message body (JSON or plain text)"},
				"key":     map[string]any{"type": "string", "description": "Optional partition key"},
				"headers": map[string]any{"type": "object", "description": "Optional string header map"},
			},
		},
	}
}

func (t *sendMessageTool) Call(ctx context.Context, raw json.RawMessage) (any, error) {
	var req SendMessageRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return SendMessageResponse{OK: false, Error: fmt.Sprintf("invalid request: %v", err)}, nil
	}
	if req.Topic == "" || req.Message == "" {
		return SendMessageResponse{OK: false, Error: "topic and message are required"}, nil
	}

	var headers []kafka.Header
	for k, v := range req.Headers {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}

	msg := kafka.Message{Topic: req.Topic, Value: []byte(req.Message), Headers: headers}
	if req.Key != "" {
		msg.Key = []byte(req.Key)
	}

	if err := t.producer.WriteMessages(ctx, msg); err != nil {
		return SendMessageResponse{OK: false, Error: fmt.Sprintf("failed to send message: %v", err)}, nil
	}
	return SendMessageResponse{OK: true}, nil
}
