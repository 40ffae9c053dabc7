package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
	"github.com/viralforge/mesh/services/financial-rails/M15-usage-settlement-service/internal/domain"
)

const (
	balanceKeyPrefix = "settle:balance:"
	blockKeyPrefix   = "settle:block:"
	heldSetKey       = "settle:held"
)

// chargeScript applies the balance decrement and the held-amount increment as
// one indivisible operation. Rejection leaves both untouched, so no observer
// ever sees a negative balance or an understated held amount.
//
// KEYS[1] balance key, KEYS[2] held zset, KEYS[3] block marker.
// ARGV[1] credits, ARGV[2] user did.
var chargeScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[3]) == 1 then
  return {'blocked', redis.call('GET', KEYS[1]) or '0'}
end
local balance = tonumber(redis.call('GET', KEYS[1]) or '0')
local credits = tonumber(ARGV[1])
if balance - credits < 0 then
  return {'denied', tostring(balance)}
end
local newBalance = redis.call('INCRBYFLOAT', KEYS[1], -credits)
redis.call('ZINCRBY', KEYS[2], credits, ARGV[2])
return {'ok', newBalance}
`)

// MeteringLedger is the Redis-backed atomic balance/hold primitive. All
// instances share the injected client's connection pool; there is no hidden
// global handle.
type MeteringLedger struct {
	client *redis.Client
}

func NewMeteringLedger(client *redis.Client) *MeteringLedger {
	return &MeteringLedger{client: client}
}

func (l *MeteringLedger) Charge(ctx context.Context, userDID string, credits float64) (float64, error) {
	raw, err := chargeScript.Run(ctx, l.client,
		[]string{balanceKeyPrefix + userDID, heldSetKey, blockKeyPrefix + userDID},
		strconv.FormatFloat(credits, 'f', -1, 64), userDID,
	).Result()
	if err != nil {
		return 0, fmt.Errorf("charge script: %w", err)
	}
	reply, ok := raw.([]interface{})
	if !ok || len(reply) != 2 {
		return 0, fmt.Errorf("charge script: unexpected reply %v", raw)
	}
	status, _ := reply[0].(string)
	remaining := parseFloatReply(reply[1])
	switch status {
	case "ok":
		return remaining, nil
	case "denied":
		return remaining, domain.ErrQuotaExceeded
	case "blocked":
		return remaining, domain.ErrChargeBlocked
	default:
		return 0, fmt.Errorf("charge script: unknown status %q", status)
	}
}

func (l *MeteringLedger) Balance(ctx context.Context, userDID string) (float64, error) {
	raw, err := l.client.Get(ctx, balanceKeyPrefix+userDID).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseFloat(raw, 64)
}

func (l *MeteringLedger) SetBalance(ctx context.Context, userDID string, balance float64) error {
	return l.client.Set(ctx, balanceKeyPrefix+userDID, strconv.FormatFloat(balance, 'f', -1, 64), 0).Err()
}

func (l *MeteringLedger) HeldAmount(ctx context.Context, userDID string) (float64, error) {
	score, err := l.client.ZScore(ctx, heldSetKey, userDID).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return score, nil
}

func (l *MeteringLedger) IncrementHeld(ctx context.Context, userDID string, delta float64) (float64, error) {
	return l.client.ZIncrBy(ctx, heldSetKey, delta, userDID).Result()
}

func (l *MeteringLedger) DecrementHeld(ctx context.Context, userDID string, delta float64) (float64, error) {
	return l.client.ZIncrBy(ctx, heldSetKey, -delta, userDID).Result()
}

func (l *MeteringLedger) DeleteHeld(ctx context.Context, userDID string) error {
	return l.client.ZRem(ctx, heldSetKey, userDID).Err()
}

func (l *MeteringLedger) ListHeld(ctx context.Context, minAmount float64) ([]domain.HeldBalance, error) {
	members, err := l.client.ZRangeByScoreWithScores(ctx, heldSetKey, &redis.ZRangeBy{
		Min: strconv.FormatFloat(minAmount, 'f', -1, 64),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, err
	}
	out := make([]domain.HeldBalance, 0, len(members))
	for _, member := range members {
		did, ok := member.Member.(string)
		if !ok {
			continue
		}
		out = append(out, domain.HeldBalance{UserDID: did, Amount: member.Score})
	}
	return out, nil
}

func (l *MeteringLedger) SetChargeBlock(ctx context.Context, userDID string, blocked bool) error {
	if blocked {
		return l.client.Set(ctx, blockKeyPrefix+userDID, "1", 0).Err()
	}
	return l.client.Del(ctx, blockKeyPrefix+userDID).Err()
}

func (l *MeteringLedger) ChargeBlocked(ctx context.Context, userDID string) (bool, error) {
	n, err := l.client.Exists(ctx, blockKeyPrefix+userDID).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func parseFloatReply(v interface{}) float64 {
	switch t := v.(type) {
	case string:
		f, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return 0
		}
		return f
	case int64:
		return float64(t)
	case float64:
		return t
	default:
		return 0
	}
}
