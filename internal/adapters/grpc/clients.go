package grpc

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/viralforge/mesh/services/financial-rails/M15-usage-settlement-service/internal/domain"
	"github.com/viralforge/mesh/services/financial-rails/M15-usage-settlement-service/internal/ports"
)

type ChainClient struct{}
type RecordClient struct{}
type SubscriptionClient struct{}

func NewChainClient(_ string) *ChainClient               { return &ChainClient{} }
func NewRecordClient(_ string) *RecordClient             { return &RecordClient{} }
func NewSubscriptionClient(_ string) *SubscriptionClient { return &SubscriptionClient{} }

func (c *ChainClient) CheckActiveIntent(_ context.Context, collectionID, granteeAddress string) (bool, error) {
	_ = collectionID
	_ = granteeAddress
	return false, nil
}

func (c *ChainClient) ReserveEscrow(_ context.Context, collectionID string, amount float64, denom string) (ports.TxResult, error) {
	_ = collectionID
	_ = amount
	_ = denom
	return ports.TxResult{Code: 0, TxHash: uuid.NewString(), RawLog: "escrow reserved"}, nil
}

func (c *ChainClient) CommitClaim(_ context.Context, claimID, collectionID string, amount float64, denom string) (ports.TxResult, error) {
	_ = collectionID
	_ = amount
	_ = denom
	_ = claimID
	return ports.TxResult{Code: 0, TxHash: uuid.NewString(), RawLog: "claim committed"}, nil
}

// SaveSignedClaim derives the cid from the claim content so that a resumed
// saga re-saving the same claim receives the same id.
func (c *RecordClient) SaveSignedClaim(_ context.Context, claim domain.SignedClaim, collectionID string) (string, error) {
	payload, err := json.Marshal(struct {
		ClaimID      string  `json:"claim_id"`
		CollectionID string  `json:"collection_id"`
		Amount       float64 `json:"amount"`
		Denom        string  `json:"denom"`
		SplitIndex   int     `json:"split_index"`
	}{claim.ClaimID, collectionID, claim.Amount, claim.Denom, claim.SplitIndex})
	if err != nil {
		return "", err
	}
	digest := sha256.Sum256(payload)
	return "cid:" + hex.EncodeToString(digest[:]), nil
}

func (c *SubscriptionClient) Snapshot(_ context.Context, userDID string) (domain.SubscriptionSnapshot, error) {
	return domain.SubscriptionSnapshot{
		UserDID:           userDID,
		AdminAddress:      "admin:" + userDID,
		ClaimCollectionID: "collection:" + userDID,
		TotalCredits:      1_000_000,
	}, nil
}
