package ports

import (
	"context"

	"github.com/viralforge/mesh/services/financial-rails/M15-usage-settlement-service/internal/contracts"
	"github.com/viralforge/mesh/services/financial-rails/M15-usage-settlement-service/internal/domain"
)

// TxResult is the outcome of a chain submission. Code 0 means accepted.
type TxResult struct {
	Code   uint32
	TxHash string
	RawLog string
}

// ChainClient is the narrow view of the claim/chain collaborator. Escrow
// reservation and claim commitment are externally visible side effects; the
// saga guards them with the active-intent check and per-step checkpoints.
type ChainClient interface {
	CheckActiveIntent(ctx context.Context, collectionID, granteeAddress string) (bool, error)
	ReserveEscrow(ctx context.Context, collectionID string, amount float64, denom string) (TxResult, error)
	CommitClaim(ctx context.Context, claimID, collectionID string, amount float64, denom string) (TxResult, error)
}

// RecordStore persists signed claim payloads and returns a content id.
// Saving the same logical claim twice must yield the same cid.
type RecordStore interface {
	SaveSignedClaim(ctx context.Context, claim domain.SignedClaim, collectionID string) (cid string, err error)
}

// BillingNotifier tells the downstream billing/subscription system about a
// committed claim. Best effort with retry; no delivery guarantee.
type BillingNotifier interface {
	NotifyClaimSubmitted(ctx context.Context, claimID string) (approved bool, reason string, err error)
}

// SubscriptionReader resolves the read-mostly subscription snapshot.
type SubscriptionReader interface {
	Snapshot(ctx context.Context, userDID string) (domain.SubscriptionSnapshot, error)
}

type EventConsumer interface {
	Receive(ctx context.Context) (*contracts.EventEnvelope, error)
}

type DomainPublisher interface {
	PublishDomain(ctx context.Context, event contracts.EventEnvelope) error
}

type AnalyticsPublisher interface {
	PublishAnalytics(ctx context.Context, event contracts.EventEnvelope) error
}

type DLQPublisher interface {
	PublishDLQ(ctx context.Context, record contracts.DLQRecord) error
}
