package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/stylist-ai/shopping-assistant/internal/model"
)

// KVStore implements ConversationStore and ImageStore on NATS JetStream
// KeyValue buckets. Keys are dot-separated: session.conversation for
// conversations, session.conversation.message for messages, and
// session.image for images, so every read and list can be bounded by
// the session prefix.
type KVStore struct {
	conversations jetstream.KeyValue
	messages      jetstream.KeyValue
	images        jetstream.KeyValue

	now func() time.Time
}

// NewKVStore creates a store over the three KV buckets.
func NewKVStore(conversations, messages, images jetstream.KeyValue) *KVStore {
	return &KVStore{
		conversations: conversations,
		messages:      messages,
		images:        images,
		now:           time.Now,
	}
}

func convKey(sessionID, conversationID string) string {
	return sessionID + "." + conversationID
}

func msgKey(sessionID, conversationID, messageID string) string {
	return sessionID + "." + conversationID + "." + messageID
}

func imageKey(sessionID, imageID string) string {
	return sessionID + "." + imageID
}

// CreateConversation creates and persists a new conversation.
func (s *KVStore) CreateConversation(ctx context.Context, sessionID, title, selfieImageID string) (*model.Conversation, error) {
	now := s.now()
	conv := newConversation(NewConversationID(now), strings.TrimSpace(title), selfieImageID, now)

	if err := s.putConversation(ctx, sessionID, conv); err != nil {
		return nil, err
	}
	return conv, nil
}

func (s *KVStore) putConversation(ctx context.Context, sessionID string, conv *model.Conversation) error {
	data, err := json.Marshal(conv)
	if err != nil {
		return fmt.Errorf("failed to marshal conversation: %w", err)
	}
	if _, err := s.conversations.Put(ctx, convKey(sessionID, conv.ID), data); err != nil {
		return fmt.Errorf("failed to store conversation: %w", err)
	}
	return nil
}

// GetConversation retrieves a conversation within the session.
func (s *KVStore) GetConversation(ctx context.Context, sessionID, conversationID string) (*model.Conversation, error) {
	entry, err := s.conversations.Get(ctx, convKey(sessionID, conversationID))
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}

	var conv model.Conversation
	if err := json.Unmarshal(entry.Value(), &conv); err != nil {
		return nil, fmt.Errorf("failed to unmarshal conversation: %w", err)
	}
	return &conv, nil
}

// UpdateConversation applies a partial update. The read-modify-write is
// not guarded by a revision check: concurrent turns race with
// last-writer-wins semantics, which is the documented tradeoff for
// messageCount and updatedAt.
func (s *KVStore) UpdateConversation(ctx context.Context, sessionID, conversationID string, update model.ConversationUpdate) (*model.Conversation, error) {
	conv, err := s.GetConversation(ctx, sessionID, conversationID)
	if err != nil {
		return nil, err
	}

	applyUpdate(conv, update)

	if err := s.putConversation(ctx, sessionID, conv); err != nil {
		return nil, err
	}
	return conv, nil
}

// ListConversations lists the session's conversations, most recently
// updated first.
func (s *KVStore) ListConversations(ctx context.Context, sessionID string) ([]model.Conversation, error) {
	keys, err := s.keysWithPrefix(ctx, s.conversations, sessionID+".")
	if err != nil {
		return nil, err
	}

	conversations := make([]model.Conversation, 0, len(keys))
	for _, key := range keys {
		entry, err := s.conversations.Get(ctx, key)
		if err != nil {
			if errors.Is(err, jetstream.ErrKeyNotFound) {
				continue
			}
			return nil, fmt.Errorf("failed to get conversation: %w", err)
		}
		var conv model.Conversation
		if err := json.Unmarshal(entry.Value(), &conv); err != nil {
			continue
		}
		conversations = append(conversations, conv)
	}

	sort.Slice(conversations, func(i, j int) bool {
		return conversations[i].UpdatedAt.After(conversations[j].UpdatedAt)
	})
	return conversations, nil
}

// DeleteConversation removes a conversation and all of its messages.
func (s *KVStore) DeleteConversation(ctx context.Context, sessionID, conversationID string) error {
	if err := s.conversations.Delete(ctx, convKey(sessionID, conversationID)); err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}

	keys, err := s.keysWithPrefix(ctx, s.messages, sessionID+"."+conversationID+".")
	if err != nil {
		return err
	}
	for _, key := range keys {
		if err := s.messages.Delete(ctx, key); err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
			return fmt.Errorf("failed to delete message: %w", err)
		}
	}
	return nil
}

// StoreMessage persists a message.
func (s *KVStore) StoreMessage(ctx context.Context, sessionID string, msg *model.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	if _, err := s.messages.Put(ctx, msgKey(sessionID, msg.ConversationID, msg.ID), data); err != nil {
		return fmt.Errorf("failed to store message: %w", err)
	}
	return nil
}

// GetMessages lists a conversation's messages in timestamp order.
func (s *KVStore) GetMessages(ctx context.Context, sessionID, conversationID string) ([]model.Message, error) {
	keys, err := s.keysWithPrefix(ctx, s.messages, sessionID+"."+conversationID+".")
	if err != nil {
		return nil, err
	}

	messages := make([]model.Message, 0, len(keys))
	for _, key := range keys {
		entry, err := s.messages.Get(ctx, key)
		if err != nil {
			if errors.Is(err, jetstream.ErrKeyNotFound) {
				continue
			}
			return nil, fmt.Errorf("failed to get message: %w", err)
		}
		var msg model.Message
		if err := json.Unmarshal(entry.Value(), &msg); err != nil {
			continue
		}
		messages = append(messages, msg)
	}

	sort.Slice(messages, func(i, j int) bool {
		if messages[i].Timestamp.Equal(messages[j].Timestamp) {
			return messages[i].ID < messages[j].ID
		}
		return messages[i].Timestamp.Before(messages[j].Timestamp)
	})
	return messages, nil
}

// Put stores an image with a 24 hour expiry.
func (s *KVStore) Put(ctx context.Context, sessionID string, kind ImageKind, data []byte, contentType, conversationID, productID string) (string, error) {
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
		Data: data,
	}

	payload, err := json.Marshal(img)
	if err != nil {
		return "", fmt.Errorf("failed to marshal image: %w", err)
	}
	if _, err := s.images.Put(ctx, imageKey(sessionID, img.Meta.ID), payload); err != nil {
		return "", fmt.Errorf("failed to store image: %w", err)
	}
	return img.Meta.ID, nil
}

// Get retrieves an image, deleting it first if it has expired.
func (s *KVStore) Get(ctx context.Context, sessionID, imageID string) (*StoredImage, error) {
	entry, err := s.images.Get(ctx, imageKey(sessionID, imageID))
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get image: %w", err)
	}

	var img StoredImage
	if err := json.Unmarshal(entry.Value(), &img); err != nil {
		return nil, fmt.Errorf("failed to unmarshal image: %w", err)
	}

	if s.now().After(img.Meta.ExpiresAt) {
		_ = s.images.Delete(ctx, imageKey(sessionID, imageID))
		return nil, ErrNotFound
	}
	return &img, nil
}

// Delete removes an image.
func (s *KVStore) Delete(ctx context.Context, sessionID, imageID string) error {
	if err := s.images.Delete(ctx, imageKey(sessionID, imageID)); err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return fmt.Errorf("failed to delete image: %w", err)
	}
	return nil
}

func (s *KVStore) keysWithPrefix(ctx context.Context, kv jetstream.KeyValue, prefix string) ([]string, error) {
	lister, err := kv.ListKeys(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	defer lister.Stop()

	var keys []string
	for key := range lister.Keys() {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}
