package services

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// BackfillLock prevents a manual backfill and the daily sweep from
// interleaving history pages for the same subscription.
type BackfillLock struct {
	client *redis.Client
	ttl    time.Duration
}

// NewBackfillLock creates a lock backed by Redis
func NewBackfillLock(client *redis.Client) *BackfillLock {
	return &BackfillLock{
		client: client,
		ttl:    10 * time.Minute, // released on completion; TTL covers crashed holders
	}
}

func (l *BackfillLock) key(originalTransactionID string) string {
	return fmt.Sprintf("backfill_lock:%s", originalTransactionID)
}

// Acquire takes the lock for one original transaction id. Returns false when
// another backfill currently holds it.
func (l *BackfillLock) Acquire(ctx context.Context, originalTransactionID string) (bool, error) {
	return l.client.SetNX(ctx, l.key(originalTransactionID), 1, l.ttl).Result()
}

// Release frees the lock
func (l *BackfillLock) Release(ctx context.Context, originalTransactionID string) error {
	return l.client.Del(ctx, l.key(originalTransactionID)).Err()
}
