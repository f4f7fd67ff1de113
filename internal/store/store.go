// Package store provides durable, session-scoped storage for
// conversations, messages, and images.
//
// Every operation is scoped by the session key prefix: a session can
// never observe or mutate another session's data. Lookups outside the
// caller's session return ErrNotFound.
package store

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/stylist-ai/shopping-assistant/internal/model"
)

// ErrNotFound is returned when a conversation, message, or image does
// not exist within the caller's session.
var ErrNotFound = errors.New("not found")

// ConversationStore is durable storage for conversations and their
// message logs. Pure data access; no business logic.
type ConversationStore interface {
	// CreateConversation creates a conversation. An empty title
	// defaults to "New conversation".
	CreateConversation(ctx context.Context, sessionID, title, selfieImageID string) (*model.Conversation, error)

	// GetConversation returns ErrNotFound for unknown or
	// cross-session ids.
	GetConversation(ctx context.Context, sessionID, conversationID string) (*model.Conversation, error)

	// UpdateConversation applies the non-nil fields of update and
	// returns the result. Returns ErrNotFound for unknown ids.
	UpdateConversation(ctx context.Context, sessionID, conversationID string, update model.ConversationUpdate) (*model.Conversation, error)

	// ListConversations returns the session's conversations sorted by
	// UpdatedAt descending.
	ListConversations(ctx context.Context, sessionID string) ([]model.Conversation, error)

	// DeleteConversation removes a conversation and cascades to all of
	// its messages.
	DeleteConversation(ctx context.Context, sessionID, conversationID string) error

	// StoreMessage persists a message. Messages are immutable once
	// stored.
	StoreMessage(ctx context.Context, sessionID string, msg *model.Message) error

	// GetMessages returns a conversation's messages sorted by
	// timestamp ascending.
	GetMessages(ctx context.Context, sessionID, conversationID string) ([]model.Message, error)
}

// ImageKind distinguishes selfie uploads from generated try-on images.
type ImageKind string

const (
	ImageKindUploaded  ImageKind = "uploaded"
	ImageKindGenerated ImageKind = "generated"
)

// ImageExpiration is how long stored images live before lazy deletion.
const ImageExpiration = 24 * time.Hour

// ImageMeta describes a stored image.
type ImageMeta struct {
	ID             string    `json:"id"`
	Kind           ImageKind `json:"kind"`
	ContentType    string    `json:"contentType"`
	ConversationID string    `json:"conversationId,omitempty"`
	ProductID      string    `json:"productId,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
	ExpiresAt      time.Time `json:"expiresAt"`
}

// StoredImage is an image blob plus its metadata.
type StoredImage struct {
	Meta ImageMeta `json:"meta"`
	Data []byte    `json:"data"`
}

// ImageStore is expiring blob storage for images. Expiry is lazy:
// reads past the deadline delete the blob and report ErrNotFound. No
// background sweeper runs.
type ImageStore interface {
	Put(ctx context.Context, sessionID string, kind ImageKind, data []byte, contentType, conversationID, productID string) (string, error)
	Get(ctx context.Context, sessionID, imageID string) (*StoredImage, error)
	Delete(ctx context.Context, sessionID, imageID string) error
}

const idAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// RandomID returns a random alphanumeric string of the given length.
func RandomID(length int) string {
	b := make([]byte, length)
	max := big.NewInt(int64(len(idAlphabet)))
	for i := range b {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			// crypto/rand only fails when the platform source is
			// broken; fall back deterministically rather than panic.
			b[i] = idAlphabet[i%len(idAlphabet)]
			continue
		}
		b[i] = idAlphabet[n.Int64()]
	}
	return string(b)
}

// NewConversationID generates a conversation id: millisecond time
// prefix plus a random suffix. The time prefix keeps ids roughly
// sortable by creation.
func NewConversationID(now time.Time) string {
	return fmt.Sprintf("%d-%s", now.UnixMilli(), RandomID(8))
}

// NewImageID generates an image id in the same time-prefixed form.
func NewImageID(now time.Time) string {
	return fmt.Sprintf("%d-%s", now.UnixMilli(), RandomID(8))
}

func newConversation(id, title, selfieImageID string, now time.Time) *model.Conversation {
	if title == "" {
		title = model.DefaultConversationTitle
	}
	return &model.Conversation{
		ID:            id,
		Title:         title,
		CreatedAt:     now,
		UpdatedAt:     now,
		MessageCount:  0,
		SelfieImageID: selfieImageID,
	}
}

func applyUpdate(conv *model.Conversation, update model.ConversationUpdate) {
	if update.Title != nil {
		conv.Title = *update.Title
	}
	if update.SelfieImageID != nil {
		conv.SelfieImageID = *update.SelfieImageID
	}
	if update.MessageCount != nil {
		conv.MessageCount = *update.MessageCount
	}
	if update.UpdatedAt != nil {
		conv.UpdatedAt = *update.UpdatedAt
	}
	// Title must never be left empty.
	if conv.Title == "" {
		conv.Title = model.DefaultConversationTitle
	}
}
