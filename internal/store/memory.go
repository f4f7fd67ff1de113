package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/stylist-ai/shopping-assistant/internal/model"
)

// MemoryStore is an in-memory implementation of ConversationStore and
// ImageStore with the same session-scoping contract as KVStore. It
// backs unit tests and the no-NATS development mode.
type MemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]*model.Conversation // session.conversation
	messages      map[string][]model.Message     // session.conversation, insertion order
	images        map[string]*StoredImage        // session.image

	now func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conversations: make(map[string]*model.Conversation),
		messages:      make(map[string][]model.Message),
		images:        make(map[string]*StoredImage),
		now:           time.Now,
	}
}

// SetNow overrides the store's clock. Tests only.
func (s *MemoryStore) SetNow(now func() time.Time) {
	s.now = now
}

// CreateConversation creates a conversation for the session.
func (s *MemoryStore) CreateConversation(ctx context.Context, sessionID, title, selfieImageID string) (*model.Conversation, error) {
	now := s.now()
	conv := newConversation(NewConversationID(now), strings.TrimSpace(title), selfieImageID, now)

	s.mu.Lock()
	s.conversations[convKey(sessionID, conv.ID)] = conv
	s.mu.Unlock()

	copied := *conv
	return &copied, nil
}

// GetConversation retrieves a conversation within the session.
func (s *MemoryStore) GetConversation(ctx context.Context, sessionID, conversationID string) (*model.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.conversations[convKey(sessionID, conversationID)]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *conv
	return &copied, nil
}

// UpdateConversation applies a partial update, last writer wins.
func (s *MemoryStore) UpdateConversation(ctx context.Context, sessionID, conversationID string, update model.ConversationUpdate) (*model.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[convKey(sessionID, conversationID)]
	if !ok {
		return nil, ErrNotFound
	}

	applyUpdate(conv, update)

	copied := *conv
	return &copied, nil
}

// ListConversations lists the session's conversations, most recently
// updated first.
func (s *MemoryStore) ListConversations(ctx context.Context, sessionID string) ([]model.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	prefix := sessionID + "."
	conversations := make([]model.Conversation, 0)
	for key, conv := range s.conversations {
		if strings.HasPrefix(key, prefix) {
			conversations = append(conversations, *conv)
		}
	}

	sort.Slice(conversations, func(i, j int) bool {
		return conversations[i].UpdatedAt.After(conversations[j].UpdatedAt)
	})
	return conversations, nil
}

// DeleteConversation removes a conversation and all of its messages.
func (s *MemoryStore) DeleteConversation(ctx context.Context, sessionID, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.conversations, convKey(sessionID, conversationID))
	delete(s.messages, convKey(sessionID, conversationID))
	return nil
}

// StoreMessage appends a message to the conversation's log.
func (s *MemoryStore) StoreMessage(ctx context.Context, sessionID string, msg *model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := convKey(sessionID, msg.ConversationID)
	s.messages[key] = append(s.messages[key], *msg)
	return nil
}

// GetMessages lists a conversation's messages in timestamp order, ties
// broken by insertion order.
func (s *MemoryStore) GetMessages(ctx context.Context, sessionID, conversationID string) ([]model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored := s.messages[convKey(sessionID, conversationID)]
	messages := make([]model.Message, len(stored))
	copy(messages, stored)

	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].Timestamp.Before(messages[j].Timestamp)
	})
	return messages, nil
}

// Put stores an image with a 24 hour expiry.
func (s *MemoryStore) Put(ctx context.Context, sessionID string, kind ImageKind, data []byte, contentType, conversationID, productID string) (string, error) {
	now := s.now()
	img := &StoredImage{
		Meta: ImageMeta{
			ID:             NewImageID(now),
			Kind:           kind,
			ContentType:    contentType,
			ConversationID: conversationID,
			ProductID:      productID,
			CreatedAt:      now,
			ExpiresAt:      now.Add(ImageExpiration),
		},
		Data: append([]byte(nil), data...),
	}

	s.mu.Lock()
	s.images[imageKey(sessionID, img.Meta.ID)] = img
	s.mu.Unlock()

	return img.Meta.ID, nil
}

// Get retrieves an image, deleting it first if it has expired.
func (s *MemoryStore) Get(ctx context.Context, sessionID, imageID string) (*StoredImage, error) {
	key := imageKey(sessionID, imageID)

	s.mu.Lock()
	defer s.mu.Unlock()

	img, ok := s.images[key]
	if !ok {
		return nil, ErrNotFound
	}
	if s.now().After(img.Meta.ExpiresAt) {
		delete(s.images, key)
		return nil, ErrNotFound
	}

	copied := *img
	return &copied, nil
}

// Delete removes an image.
func (s *MemoryStore) Delete(ctx context.Context, sessionID, imageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.images, imageKey(sessionID, imageID))
	return nil
}
