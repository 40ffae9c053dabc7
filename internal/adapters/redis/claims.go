package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/viralforge/mesh/services/financial-rails/M15-usage-settlement-service/internal/domain"
	"github.com/viralforge/mesh/services/financial-rails/M15-usage-settlement-service/internal/ports"
)

const (
	pendingClaimKeyPrefix = "settle:claim:"
	snapshotKeyPrefix     = "settle:snapshot:"
)

// PendingClaimRepository stores one pending claim per user with the safety
// TTL enforced by Redis key expiry.
type PendingClaimRepository struct {
	client *redis.Client
}

func NewPendingClaimRepository(client *redis.Client) *PendingClaimRepository {
	return &PendingClaimRepository{client: client}
}

func (r *PendingClaimRepository) Get(ctx context.Context, userDID string, now time.Time) (*domain.PendingClaim, error) {
	raw, err := r.client.Get(ctx, pendingClaimKeyPrefix+userDID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var claim domain.PendingClaim
	if err := json.Unmarshal(raw, &claim); err != nil {
		return nil, fmt.Errorf("decode pending claim for %s: %w", userDID, err)
	}
	if now.After(claim.ExpiresAt) {
		_ = r.client.Del(ctx, pendingClaimKeyPrefix+userDID).Err()
		return nil, nil
	}
	return &claim, nil
}

func (r *PendingClaimRepository) Put(ctx context.Context, claim domain.PendingClaim) error {
	raw, err := json.Marshal(claim)
	if err != nil {
		return err
	}
	ttl := time.Until(claim.ExpiresAt)
	if ttl <= 0 {
		ttl = time.Minute
	}
	return r.client.Set(ctx, pendingClaimKeyPrefix+claim.UserDID, raw, ttl).Err()
}

func (r *PendingClaimRepository) Delete(ctx context.Context, userDID string) error {
	return r.client.Del(ctx, pendingClaimKeyPrefix+userDID).Err()
}

// CachedSubscriptionReader is a cache-aside wrapper over the subscription
// collaborator: snapshots are read-mostly and settlement only needs them
// fresh to the cache TTL.
type CachedSubscriptionReader struct {
	client *redis.Client
	inner  ports.SubscriptionReader
	ttl    time.Duration
}

func NewCachedSubscriptionReader(client *redis.Client, inner ports.SubscriptionReader, ttl time.Duration) *CachedSubscriptionReader {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CachedSubscriptionReader{client: client, inner: inner, ttl: ttl}
}

func (r *CachedSubscriptionReader) Snapshot(ctx context.Context, userDID string) (domain.SubscriptionSnapshot, error) {
	raw, err := r.client.Get(ctx, snapshotKeyPrefix+userDID).Bytes()
	if err == nil {
		var snapshot domain.SubscriptionSnapshot
		if unmarshalErr := json.Unmarshal(raw, &snapshot); unmarshalErr == nil {
			return snapshot, nil
		}
		// Unreadable cache entries are dropped and refetched.
		_ = r.client.Del(ctx, snapshotKeyPrefix+userDID).Err()
	} else if !errors.Is(err, redis.Nil) {
		return domain.SubscriptionSnapshot{}, err
	}

	snapshot, err := r.inner.Snapshot(ctx, userDID)
	if err != nil {
		return domain.SubscriptionSnapshot{}, err
	}
	if snapshot.Complete() {
		if raw, marshalErr := json.Marshal(snapshot); marshalErr == nil {
			_ = r.client.Set(ctx, snapshotKeyPrefix+userDID, raw, r.ttl).Err()
		}
	}
	return snapshot, nil
}
