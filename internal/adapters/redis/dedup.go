package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const dedupKeyPrefix = "settle:dedup:"

// EventDedupRepository keeps processed-event markers as TTL'd keys, so
// balance-confirmed replays stay no-ops across process restarts.
type EventDedupRepository struct {
	client *redis.Client
}

func NewEventDedupRepository(client *redis.Client) *EventDedupRepository {
	return &EventDedupRepository{client: client}
}

func (r *EventDedupRepository) IsDuplicate(ctx context.Context, eventID string, _ time.Time) (bool, error) {
	n, err := r.client.Exists(ctx, dedupKeyPrefix+eventID).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *EventDedupRepository) MarkProcessed(ctx context.Context, eventID, eventType string, expiresAt time.Time) error {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		ttl = time.Minute
	}
	return r.client.Set(ctx, dedupKeyPrefix+eventID, eventType, ttl).Err()
}
