// Package provider abstracts the upstream LLM as an opaque ordered source of
// token events. The round pipeline consumes the event channel and never sees
// the underlying client; the terminal event carries the finish reason and
// usage counts.
package provider

import "context"

// EventType discriminates stream events.
type EventType string

const (
	// EventText carries a content delta.
	EventText EventType = "text"
	// EventReasoning carries a reasoning/thinking delta.
	EventReasoning EventType = "reasoning"
	// EventFinish terminates the stream with a finish reason and usage.
	EventFinish EventType = "finish"
	// EventError terminates the stream with an upstream failure.
	EventError EventType = "error"
)

// Usage reports token accounting for one completed call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Event is one element of the ordered token/event sequence. Exactly one
// terminal event (finish or error) closes every stream.
type Event struct {
	Type         EventType
	Text         string
	FinishReason string
	Usage        *Usage
	Err          error
}

// Terminal reports whether the event closes the stream.
func (e Event) Terminal() bool {
	return e.Type == EventFinish || e.Type == EventError
}

// ChatMessage is one prompt message sent upstream.
type ChatMessage struct {
	Role    string
	Content string
}

// Request describes one streaming completion call.
type Request struct {
	Model       string
	System      string
	Messages    []ChatMessage
	MaxTokens   int
	Temperature float32
}

// Streamer produces an ordered event stream for a request. The returned
// channel is closed after its terminal event. Implementations must honor ctx
// cancellation mid-stream.
type Streamer interface {
	Stream(ctx context.Context, req Request) (<-chan Event, error)
}
