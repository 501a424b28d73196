// Package dedup suppresses repeated order-status notifications when the
// mail provider replays a webhook.
package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// DefaultTTL is how long a delivered notification key is remembered.
	DefaultTTL = 72 * time.Hour

	keyPrefix = "steadyletters:notified:"
)

// Filter tracks which notification keys have already been handled.
type Filter struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewFilter(rdb *redis.Client) *Filter {
	return &Filter{rdb: rdb, ttl: DefaultTTL}
}

// IsNew returns true if key has NOT been seen before and marks it seen
// atomically (SETNX).
func (f *Filter) IsNew(ctx context.Context, key string) (bool, error) {
	set, err := f.rdb.SetNX(ctx, keyPrefix+key, 1, f.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedup SETNX: %w", err)
	}
	return set, nil
}

// Forget clears key so a failed notification can be retried on replay.
func (f *Filter) Forget(ctx context.Context, key string) error {
	if err := f.rdb.Del(ctx, keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("dedup DEL: %w", err)
	}
	return nil
}

// Key builds the notification key for one reconciled row.
func Key(kind string, rowID int, externalID, status string) string {
	return fmt.Sprintf("%s:%d:%s:%s", kind, rowID, externalID, status)
}
