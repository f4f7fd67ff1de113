// Package model defines data structures for the shopping assistant.
package model

import (
	"strings"
	"time"
)

// DefaultConversationTitle is used until a title is derived from the
// first user message.
const DefaultConversationTitle = "New conversation"

// Conversation represents one chat thread owned by a session.
type Conversation struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
	MessageCount  int       `json:"messageCount"`
	SelfieImageID string    `json:"selfieImageId,omitempty"`
}

// ConversationUpdate holds the mutable conversation fields. Nil fields
// are left untouched.
type ConversationUpdate struct {
	Title         *string
	SelfieImageID *string
	MessageCount  *int
	UpdatedAt     *time.Time
}

// CreateConversationRequest is the request to create a new conversation.
type CreateConversationRequest struct {
	Title         string `json:"title,omitempty"`
	SelfieImageID string `json:"selfieImageId,omitempty"`
}

// UpdateConversationRequest is the request to update a conversation.
type UpdateConversationRequest struct {
	Title         *string `json:"title,omitempty"`
	SelfieImageID *string `json:"selfieImageId,omitempty"`
}

// DeriveTitle produces a conversation title from the first user message,
// truncated to 50 characters with a trailing ellipsis.
func DeriveTitle(firstMessage string) string {
	const maxLength = 50

	cleaned := strings.TrimSpace(firstMessage)
	if cleaned == "" {
		return DefaultConversationTitle
	}
	// Truncate on rune boundaries so non-ASCII first messages never
	// yield an invalid UTF-8 title.
	runes := []rune(cleaned)
	if len(runes) <= maxLength {
		return cleaned
	}
	return string(runes[:maxLength-3]) + "..."
}
