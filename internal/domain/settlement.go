package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
)

// HeldBalance is one entry of the held-amount index: credits already deducted
// from a user's balance but not yet settled against the ledger of record.
type HeldBalance struct {
	UserDID string  `json:"user_did"`
	Amount  float64 `json:"amount"`
}

// PendingClaim binds an accumulating held amount to a stable claim identity.
// ClaimID is a pure function of (UserDID, BatchStartTime), so amount growth
// across reconciliation ticks never changes the external claim's identity.
type PendingClaim struct {
	ClaimID        string    `json:"claim_id"`
	UserDID        string    `json:"user_did"`
	Amount         float64   `json:"amount"`
	BatchStartTime time.Time `json:"batch_start_time"`
	UpdatedAt      time.Time `json:"updated_at"`
	ExpiresAt      time.Time `json:"expires_at"`

	// Splits is the chunk plan for this claim. It tracks the live held amount
	// until the first chunk settles, then freezes: a checkpointed chunk must
	// settle the exact amount it reserved and recorded, so later ticks resume
	// the stored plan instead of re-deriving one from the shrunken held amount.
	Splits []float64 `json:"splits,omitempty"`
	// SettledChunks counts leading plan entries fully settled, including their
	// ledger bookkeeping. Resumed ticks start at the first unsettled chunk.
	SettledChunks int `json:"settled_chunks,omitempty"`
}

// SettlementClaim is the durable result of one settled chunk.
type SettlementClaim struct {
	ClaimID         string    `json:"claim_id"`
	UserDID         string    `json:"user_did"`
	CID             string    `json:"cid"`
	TransactionHash string    `json:"transaction_hash"`
	Amount          float64   `json:"amount"`
	Denom           string    `json:"denom"`
	SplitIndex      int       `json:"split_index"`
	SettledAt       time.Time `json:"settled_at"`
}

// SignedClaim is the payload persisted to the external record store.
// It is keyed by the pending claim's logical id so retried attempts do not
// create duplicate records.
type SignedClaim struct {
	ClaimID     string    `json:"claim_id"`
	UserDID     string    `json:"user_did"`
	Amount      float64   `json:"amount"`
	Denom       string    `json:"denom"`
	SplitIndex  int       `json:"split_index"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// SubscriptionSnapshot is the read-mostly view of a user's subscription that
// settlement needs: where to file claims and how much credit backs them.
type SubscriptionSnapshot struct {
	UserDID           string  `json:"user_did"`
	AdminAddress      string  `json:"admin_address"`
	ClaimCollectionID string  `json:"claim_collection_id"`
	TotalCredits      float64 `json:"total_credits"`
}

// Complete reports whether the snapshot carries the identifiers settlement
// requires.
func (s SubscriptionSnapshot) Complete() bool {
	return strings.TrimSpace(s.AdminAddress) != "" && strings.TrimSpace(s.ClaimCollectionID) != ""
}

// GenerateClaimID derives the deterministic claim identifier for a user and
// batch start. Identical inputs always yield identical output; the full
// sha256 digest is kept so collisions are not a practical concern.
func GenerateClaimID(userDID string, batchStartTime time.Time) string {
	sum := sha256.Sum256([]byte(userDID + "|" + batchStartTime.UTC().Format(time.RFC3339Nano)))
	return hex.EncodeToString(sum[:])
}

// SettlementThreadID names the saga thread for one chunk. Split threads for a
// user are processed strictly in order, never concurrently.
func SettlementThreadID(userDID, claimID string, splitIndex int) string {
	return userDID + ":" + claimID + ":" + strconv.Itoa(splitIndex)
}

// ValidateCharge rejects malformed metering requests before they reach the
// ledger.
func ValidateCharge(userDID string, credits float64) error {
	if strings.TrimSpace(userDID) == "" {
		return ErrInvalidInput
	}
	if credits <= 0 {
		return ErrInvalidInput
	}
	return nil
}
