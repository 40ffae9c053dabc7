package application

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/viralforge/mesh/services/financial-rails/M15-usage-settlement-service/internal/domain"
	"github.com/viralforge/mesh/services/financial-rails/M15-usage-settlement-service/internal/saga"
)

const (
	stepSubmitIntent   = "submit_intent"
	stepRecordClaim    = "record_claim"
	stepCommitClaim    = "commit_claim"
	stepNotifyExternal = "notify_external"
)

// codeAlreadyCommitted is the chain response signalling the claim was already
// accepted in an earlier attempt. Treated as success, not as an error.
const codeAlreadyCommitted uint32 = 19

// SettlementState is the accumulated saga context for one chunk. It is
// checkpointed after every completed step, so a resumed thread picks up the
// reservation, cid, and tx hashes produced before the crash.
type SettlementState struct {
	UserDID      string  `json:"user_did"`
	ClaimID      string  `json:"claim_id"`
	SplitIndex   int     `json:"split_index"`
	Amount       float64 `json:"amount"`
	Denom        string  `json:"denom"`
	CollectionID string  `json:"collection_id"`
	AdminAddress string  `json:"admin_address"`

	SubmittedAt      time.Time `json:"submitted_at"`
	IntentReused     bool      `json:"intent_reused,omitempty"`
	ReserveTxHash    string    `json:"reserve_tx_hash,omitempty"`
	CID              string    `json:"cid,omitempty"`
	CommitTxHash     string    `json:"commit_tx_hash,omitempty"`
	AlreadyCommitted bool      `json:"already_committed,omitempty"`
	Approved         bool      `json:"approved,omitempty"`
	ApprovalReason   string    `json:"approval_reason,omitempty"`
}

// chunkClaimID keeps the external claim identity stable per chunk: the base
// pending-claim id for the first (or only) chunk, suffixed by split index for
// the rest. Retried attempts of a chunk always reuse the same id.
func chunkClaimID(baseClaimID string, splitIndex int) string {
	if splitIndex == 0 {
		return baseClaimID
	}
	return fmt.Sprintf("%s-%d", baseClaimID, splitIndex)
}

func (s *Service) settlementSteps() []saga.Step[SettlementState] {
	return []saga.Step[SettlementState]{
		{Name: stepSubmitIntent, Run: s.runSubmitIntent},
		{Name: stepRecordClaim, Run: s.runRecordClaim},
		{Name: stepCommitClaim, Run: s.runCommitClaim},
		{Name: stepNotifyExternal, Run: s.runNotifyExternal},
	}
}

// executeChunk drives one chunk through the saga and returns the final state.
// A thread checkpointed past its last step already ran to completion in an
// earlier tick; its stored state is returned with alreadySettled set so the
// caller does not repeat ledger bookkeeping that completion already did.
func (s *Service) executeChunk(ctx context.Context, snapshot domain.SubscriptionSnapshot, claim domain.PendingClaim, splitIndex int, amount float64) (state SettlementState, alreadySettled bool, err error) {
	state = SettlementState{
		UserDID:      claim.UserDID,
		ClaimID:      chunkClaimID(claim.ClaimID, splitIndex),
		SplitIndex:   splitIndex,
		Amount:       amount,
		Denom:        s.cfg.Denom,
		CollectionID: snapshot.ClaimCollectionID,
		AdminAddress: snapshot.AdminAddress,
		SubmittedAt:  s.nowFn(),
	}
	threadID := domain.SettlementThreadID(claim.UserDID, claim.ClaimID, splitIndex)
	steps := s.settlementSteps()

	last, err := s.checkpoints.Get(ctx, threadID)
	if err != nil {
		return state, false, fmt.Errorf("load checkpoint for %s: %w", threadID, err)
	}
	if last != nil && last.Step == steps[len(steps)-1].Name {
		if err := json.Unmarshal(last.Output, &state); err != nil {
			return state, false, fmt.Errorf("restore state for %s: %w", threadID, err)
		}
		return state, true, nil
	}

	if err := s.runner.Execute(ctx, threadID, steps, &state); err != nil {
		return state, false, err
	}
	return state, false, nil
}

func (s *Service) runSubmitIntent(ctx context.Context, state *SettlementState) error {
	if strings.TrimSpace(state.CollectionID) == "" {
		return saga.Permanent(fmt.Errorf("%w: claim collection id for %s", domain.ErrConfiguration, state.UserDID))
	}
	active, err := s.chain.CheckActiveIntent(ctx, state.CollectionID, s.cfg.GranteeAddress)
	if err != nil {
		return fmt.Errorf("check active intent: %w", err)
	}
	if active {
		// An unexpired reservation already covers this collection; reserving
		// again would double-lock escrow.
		state.IntentReused = true
		return nil
	}
	res, err := s.chain.ReserveEscrow(ctx, state.CollectionID, state.Amount, state.Denom)
	if err != nil {
		return fmt.Errorf("reserve escrow: %w", err)
	}
	if res.Code != 0 {
		return fmt.Errorf("reserve escrow rejected with code %d: %s", res.Code, res.RawLog)
	}
	state.ReserveTxHash = res.TxHash
	return nil
}

func (s *Service) runRecordClaim(ctx context.Context, state *SettlementState) error {
	cid, err := s.records.SaveSignedClaim(ctx, domain.SignedClaim{
		ClaimID:     state.ClaimID,
		UserDID:     state.UserDID,
		Amount:      state.Amount,
		Denom:       state.Denom,
		SplitIndex:  state.SplitIndex,
		SubmittedAt: state.SubmittedAt,
	}, state.CollectionID)
	if err != nil {
		return fmt.Errorf("save signed claim: %w", err)
	}
	state.CID = cid
	return nil
}

func (s *Service) runCommitClaim(ctx context.Context, state *SettlementState) error {
	res, err := s.chain.CommitClaim(ctx, state.ClaimID, state.CollectionID, state.Amount, state.Denom)
	if err != nil {
		return fmt.Errorf("commit claim %s: %w", state.CID, err)
	}
	switch res.Code {
	case 0:
		state.CommitTxHash = res.TxHash
		return nil
	case codeAlreadyCommitted:
		state.AlreadyCommitted = true
		state.CommitTxHash = res.TxHash
		return nil
	default:
		return fmt.Errorf("commit claim %s rejected with code %d: %s", state.CID, res.Code, res.RawLog)
	}
}

func (s *Service) runNotifyExternal(ctx context.Context, state *SettlementState) error {
	approved, reason, err := s.billing.NotifyClaimSubmitted(ctx, state.CID)
	if err != nil {
		return fmt.Errorf("notify billing: %w", err)
	}
	state.Approved = approved
	state.ApprovalReason = reason
	return nil
}
