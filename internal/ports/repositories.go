package ports

import (
	"context"
	"time"

	"github.com/viralforge/mesh/services/financial-rails/M15-usage-settlement-service/internal/contracts"
	"github.com/viralforge/mesh/services/financial-rails/M15-usage-settlement-service/internal/domain"
	"github.com/viralforge/mesh/services/financial-rails/M15-usage-settlement-service/internal/saga"
)

// MeteringLedger is the atomic balance/hold primitive. Charge must apply the
// balance decrement and the held increment as one indivisible operation: no
// observer may see one without the other, and no interleaving of calls may
// leave an unrecovered negative balance.
type MeteringLedger interface {
	// Charge deducts credits and records them as held. On refusal it returns
	// the remaining balance together with domain.ErrQuotaExceeded (or
	// domain.ErrChargeBlocked when the corruption guard is active).
	Charge(ctx context.Context, userDID string, credits float64) (remaining float64, err error)

	Balance(ctx context.Context, userDID string) (float64, error)
	SetBalance(ctx context.Context, userDID string, balance float64) error

	HeldAmount(ctx context.Context, userDID string) (float64, error)
	IncrementHeld(ctx context.Context, userDID string, delta float64) (float64, error)
	DecrementHeld(ctx context.Context, userDID string, delta float64) (float64, error)
	DeleteHeld(ctx context.Context, userDID string) error

	// ListHeld returns every user whose held amount is at least minAmount.
	ListHeld(ctx context.Context, minAmount float64) ([]domain.HeldBalance, error)

	// SetChargeBlock toggles the corruption-guard marker honored by Charge.
	SetChargeBlock(ctx context.Context, userDID string, blocked bool) error
	ChargeBlocked(ctx context.Context, userDID string) (bool, error)
}

// PendingClaimRepository stores TTL-bounded pending claims, one per user.
type PendingClaimRepository interface {
	Get(ctx context.Context, userDID string, now time.Time) (*domain.PendingClaim, error)
	Put(ctx context.Context, claim domain.PendingClaim) error
	Delete(ctx context.Context, userDID string) error
}

// CheckpointStore is the saga persistence contract re-exported for adapters.
type CheckpointStore = saga.Store

// ClaimArchive keeps the durable history of settled claims.
type ClaimArchive interface {
	Save(ctx context.Context, claim domain.SettlementClaim) error
	ListByUser(ctx context.Context, userDID string, limit, offset int) ([]domain.SettlementClaim, int, error)
}

type EventDedupRepository interface {
	IsDuplicate(ctx context.Context, eventID string, now time.Time) (bool, error)
	MarkProcessed(ctx context.Context, eventID, eventType string, expiresAt time.Time) error
}

type OutboxRecord struct {
	RecordID   string
	EventClass string
	Envelope   contracts.EventEnvelope
	CreatedAt  time.Time
	SentAt     *time.Time
}

type OutboxRepository interface {
	Enqueue(ctx context.Context, record OutboxRecord) error
	ListPending(ctx context.Context, limit int) ([]OutboxRecord, error)
	MarkSent(ctx context.Context, recordID string, at time.Time) error
}
