package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/viralforge/mesh/services/financial-rails/M15-usage-settlement-service/internal/saga"
)

const checkpointKeyPrefix = "settle:saga:"

// CheckpointStore keeps one hash per saga thread. The "last" fields carry the
// most recent checkpoint; per-step fields are written once and never
// overwritten, preserving the append-only step record.
type CheckpointStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCheckpointStore creates the store. Thread hashes expire after ttl so
// completed or abandoned threads do not accumulate forever; the TTL must
// comfortably exceed the longest expected saga lifetime.
func NewCheckpointStore(client *redis.Client, ttl time.Duration) *CheckpointStore {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &CheckpointStore{client: client, ttl: ttl}
}

func (s *CheckpointStore) Get(ctx context.Context, threadID string) (*saga.Checkpoint, error) {
	data, err := s.client.HGetAll(ctx, checkpointKeyPrefix+threadID).Result()
	if errors.Is(err, redis.Nil) || len(data) == 0 {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	step, ok := data["last_step"]
	if !ok || step == "" {
		return nil, nil
	}
	checkpoint := &saga.Checkpoint{
		Step:   step,
		Output: json.RawMessage(data["last_output"]),
	}
	if raw, ok := data["last_recorded_at"]; ok {
		if at, parseErr := time.Parse(time.RFC3339Nano, raw); parseErr == nil {
			checkpoint.RecordedAt = at
		}
	}
	return checkpoint, nil
}

func (s *CheckpointStore) Put(ctx context.Context, threadID, step string, output json.RawMessage) error {
	key := checkpointKeyPrefix + threadID
	now := time.Now().UTC()
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, key,
			"last_step", step,
			"last_output", string(output),
			"last_recorded_at", now.Format(time.RFC3339Nano),
		)
		p.HSetNX(ctx, key, "step:"+step, string(output))
		p.Expire(ctx, key, s.ttl)
		return nil
	})
	return err
}
