package model

import (
	"time"
)

// Role represents the role of a message sender.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message represents a persisted conversation message. Messages are
// immutable once stored.
type Message struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversationId"`

	Role    Role   `json:"role"`
	Content string `json:"content"`

	// Products is the normalized catalog result list attached to an
	// assistant message that triggered a tool call, stored so replay
	// reproduces product cards without re-invoking the tool.
	Products []ProductResult `json:"products,omitempty"`

	// GeneratedImageIDs references try-on images produced for this
	// message, if any.
	GeneratedImageIDs []string `json:"generatedImageIds,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

// ChatRequest is the request body for the turn endpoint.
type ChatRequest struct {
	Message         string `json:"message,omitempty"`
	NewConversation bool   `json:"newConversation,omitempty"`
	ConversationID  string `json:"conversationId,omitempty"`
}
