// Package llm provides model client interfaces and implementations.
package llm

import (
	"context"
)

// Message roles understood by the providers.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ChatMessage represents a chat message sent to a model.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`

	// ToolCalls are set on an assistant message that requested tool
	// invocations.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolCallID and Name are set on a tool-result message.
	ToolCallID string `json:"tool_call_id,omitempty"`
	Name       string `json:"name,omitempty"`
}

// ToolCall is a completed model-requested tool invocation.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Tool describes a capability offered to the model.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// ChatRequest is a streaming chat completion request.
type ChatRequest struct {
	Model     string
	Messages  []ChatMessage
	Tools     []Tool
	MaxTokens int
}

// EventType tags the two kinds of incremental stream events.
type EventType string

const (
	// EventText is an incremental text delta.
	EventText EventType = "text"

	// EventToolCall is a partial tool-invocation fragment. Fragments
	// for a given index arrive in order and must be concatenated.
	EventToolCall EventType = "tool_call"
)

// ToolCallDelta is one fragment of a streamed tool call. Index is the
// stable position assigned by the upstream source; ID and Name are only
// present on the fragment that opens the call.
type ToolCallDelta struct {
	Index     int
	ID        string
	Name      string
	Arguments string
}

// Event is one incremental event from a model response stream.
type Event struct {
	Type     EventType
	Text     string
	ToolCall ToolCallDelta
}

// Stream yields incremental events from a model response. Recv returns
// io.EOF when the response is complete.
type Stream interface {
	Recv() (Event, error)
	Close()
}

// Client is the interface for model providers.
type Client interface {
	// StreamChat sends a streaming chat completion request.
	StreamChat(ctx context.Context, req *ChatRequest) (Stream, error)

	// Name returns the provider name.
	Name() string
}

// Provider is the type of model provider.
type Provider string

const (
	ProviderOpenRouter Provider = "openrouter"
	ProviderAnthropic  Provider = "anthropic"
)
