package nats

import (
	"context"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go/jetstream"
)

const (
	// BucketConversations holds conversation metadata keyed by
	// session.conversation.
	BucketConversations = "conversations"

	// BucketMessages holds messages keyed by
	// session.conversation.message.
	BucketMessages = "messages"

	// BucketImages holds uploaded and generated images keyed by
	// session.image.
	BucketImages = "images"
)

// EnsureBuckets creates the KeyValue buckets the stores depend on if
// they do not already exist.
func (c *Client) EnsureBuckets(ctx context.Context) error {
	configs := []jetstream.KeyValueConfig{
		{
			Bucket:      BucketConversations,
			Description: "Conversation metadata per session",
			Storage:     jetstream.FileStorage,
		},
		{
			Bucket:      BucketMessages,
			Description: "Conversation messages per session",
			Storage:     jetstream.FileStorage,
		},
		{
			Bucket:      BucketImages,
			Description: "Uploaded and generated images per session",
			Storage:     jetstream.FileStorage,
		},
	}

	for _, cfg := range configs {
		if _, err := c.js.KeyValue(ctx, cfg.Bucket); err == nil {
			continue
		}
		if _, err := c.js.CreateKeyValue(ctx, cfg); err != nil {
			if errors.Is(err, jetstream.ErrBucketExists) {
				continue
			}
			return fmt.Errorf("failed to create bucket %q: %w", cfg.Bucket, err)
		}
	}

	return nil
}

// KeyValue opens a bucket by name.
func (c *Client) KeyValue(ctx context.Context, bucket string) (jetstream.KeyValue, error) {
	kv, err := c.js.KeyValue(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to open bucket %q: %w", bucket, err)
	}
	return kv, nil
}
