package bridge

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/fyrsmithlabs/playbookd/internal/roles"
)

// Request is the single outbound message of a remote exchange.
type Request struct {
	// RequestID correlates the request with tool-result blocks in the
	// response stream. Unique per invocation; never reused.
	RequestID string `json:"request_id"`

	Role    roles.Name             `json:"role"`
	Payload map[string]interface{} `json:"payload"`
}

// MessageType tags a response message.
type MessageType string

const (
	// MessageAssistant is an intermediate assistant turn, possibly carrying
	// tool-result blocks.
	MessageAssistant MessageType = "assistant"

	// MessageResult is the exchange's terminal message.
	MessageResult MessageType = "result"
)

// Block is one content block inside an assistant message.
type Block struct {
	Type string `json:"type"`

	// ToolUseID is the correlation id on tool_result blocks.
	ToolUseID string `json:"tool_use_id,omitempty"`

	IsError bool `json:"is_error,omitempty"`

	// Content may be an object, a string, or a list of text fragments;
	// the decoder normalizes it.
	Content interface{} `json:"content,omitempty"`
}

// Message is one message in the backend's ordered response stream.
type Message struct {
	Type   MessageType `json:"type"`
	Blocks []Block     `json:"blocks,omitempty"`

	// IsError and Result apply to terminal messages.
	IsError bool   `json:"is_error,omitempty"`
	Result  string `json:"result,omitempty"`
}

// BlockTypeToolResult marks blocks that carry a correlated tool result.
const BlockTypeToolResult = "tool_result"

// MessageStream yields the backend's response messages in order. Next
// returns io.EOF once the exchange has completed.
type MessageStream interface {
	Next(ctx context.Context) (Message, error)
	Close() error
}

// Backend is a remote agent transport. Invoke submits one request and
// returns the response stream; the bridge drains it to completion before
// producing a result, because only the terminal message distinguishes
// overall success from failure.
type Backend interface {
	Invoke(ctx context.Context, req Request) (MessageStream, error)
}

// envelope is the correlation state of one in-flight remote attempt. It is
// created per attempt and discarded after the matching result is consumed
// or the exchange completes without a match.
type envelope struct {
	requestID string
	role      roles.Name
	createdAt time.Time
}

func newEnvelope(role roles.Name) *envelope {
	return &envelope{
		requestID: string(role) + "-" + uuid.NewString(),
		role:      role,
		createdAt: time.Now(),
	}
}
