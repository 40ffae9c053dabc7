package application

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/viralforge/mesh/services/financial-rails/M15-usage-settlement-service/internal/domain"
	"github.com/viralforge/mesh/services/financial-rails/M15-usage-settlement-service/internal/observability"
)

// heldResidue bounds the float residue fractional splits can leave behind
// after the full plan has been decremented from the held amount.
const heldResidue = 1e-9

// Charge is the high-frequency metering write path: one atomic balance
// decrement plus held increment per usage event.
func (s *Service) Charge(ctx context.Context, userDID string, credits float64) (float64, error) {
	if err := domain.ValidateCharge(userDID, credits); err != nil {
		return 0, err
	}
	remaining, err := s.ledger.Charge(ctx, userDID, credits)
	switch {
	case errors.Is(err, domain.ErrQuotaExceeded):
		observability.ChargesDeniedTotal.WithLabelValues("quota_exceeded").Inc()
		return remaining, err
	case errors.Is(err, domain.ErrChargeBlocked):
		observability.ChargesDeniedTotal.WithLabelValues("blocked").Inc()
		return remaining, err
	case err != nil:
		return 0, err
	}
	observability.ChargesTotal.Inc()
	return remaining, nil
}

// LedgerState reports a user's balance, held amount, and block marker.
func (s *Service) LedgerState(ctx context.Context, userDID string) (balance, held float64, blocked bool, err error) {
	if balance, err = s.ledger.Balance(ctx, userDID); err != nil {
		return 0, 0, false, err
	}
	if held, err = s.ledger.HeldAmount(ctx, userDID); err != nil {
		return 0, 0, false, err
	}
	if blocked, err = s.ledger.ChargeBlocked(ctx, userDID); err != nil {
		return 0, 0, false, err
	}
	return balance, held, blocked, nil
}

// OverrideBalance reconciles the ledger with an externally confirmed balance:
// the new balance is the authoritative value minus the currently held amount.
// A negative result is clamped to zero and, unless suppressed by config,
// raises the payment-required condition and blocks further charging. This is
// the billing collaborator's repair path; it never runs concurrently with the
// settlement cycle for the same user.
func (s *Service) OverrideBalance(ctx context.Context, userDID string, authoritative float64) (newBalance float64, clamped bool, err error) {
	unlock := s.lockUser(userDID)
	defer unlock()

	held, err := s.ledger.HeldAmount(ctx, userDID)
	if err != nil {
		return 0, false, fmt.Errorf("read held amount: %w", err)
	}
	newBalance = authoritative - held
	if newBalance < 0 {
		clamped = true
		newBalance = 0
	}
	if err := s.ledger.SetBalance(ctx, userDID, newBalance); err != nil {
		return 0, clamped, fmt.Errorf("set balance: %w", err)
	}

	if clamped && !s.cfg.SuppressPaymentRequired {
		observability.BalancesClampedTotal.Inc()
		if err := s.ledger.SetChargeBlock(ctx, userDID, true); err != nil {
			return newBalance, clamped, fmt.Errorf("set charge block: %w", err)
		}
		if err := s.enqueueBalanceClamped(ctx, userDID, authoritative, held); err != nil {
			return newBalance, clamped, err
		}
		return newBalance, clamped, fmt.Errorf("%w: confirmed balance %.4f below held %.4f for %s", domain.ErrPaymentRequired, authoritative, held, userDID)
	}

	// A clean override resolves any earlier corruption guard.
	if err := s.ledger.SetChargeBlock(ctx, userDID, false); err != nil {
		return newBalance, clamped, fmt.Errorf("clear charge block: %w", err)
	}
	return newBalance, clamped, nil
}

// HeldEntries lists users whose held usage is at or above min.
func (s *Service) HeldEntries(ctx context.Context, min float64) ([]domain.HeldBalance, error) {
	return s.ledger.ListHeld(ctx, min)
}

// ClaimHistory pages through the settled-claim archive.
func (s *Service) ClaimHistory(ctx context.Context, userDID string, limit, offset int) ([]domain.SettlementClaim, int, error) {
	if s.archive == nil {
		return []domain.SettlementClaim{}, 0, nil
	}
	return s.archive.ListByUser(ctx, userDID, limit, offset)
}

// RunSettlementCycle is the reconciler tick: scan users over the threshold
// and drive each through the settlement saga. Ticks never overlap; a second
// entry while one runs returns ErrCycleInProgress. A per-user failure is
// logged and isolated; a configuration error aborts the whole tick.
func (s *Service) RunSettlementCycle(ctx context.Context) (CycleReport, error) {
	if !s.cycleActive.CompareAndSwap(false, true) {
		return CycleReport{}, domain.ErrCycleInProgress
	}
	defer s.cycleActive.Store(false)

	report := CycleReport{CycleID: uuid.NewString()}
	held, err := s.ledger.ListHeld(ctx, s.cfg.SettlementThreshold)
	if err != nil {
		observability.CyclesTotal.WithLabelValues("error").Inc()
		return report, fmt.Errorf("list held amounts: %w", err)
	}
	report.UsersScanned = len(held)

	for _, entry := range held {
		settled, err := s.settleUser(ctx, entry.UserDID)
		switch {
		case errors.Is(err, domain.ErrConfiguration):
			report.UsersFailed++
			observability.CyclesTotal.WithLabelValues("config_error").Inc()
			s.logger.ErrorContext(ctx, "settlement cycle aborted",
				"cycle_id", report.CycleID,
				"user_did", entry.UserDID,
				"error", err,
			)
			return report, err
		case err != nil:
			report.UsersFailed++
			s.logger.ErrorContext(ctx, "user settlement failed",
				"cycle_id", report.CycleID,
				"user_did", entry.UserDID,
				"error", err,
			)
		case settled == 0:
			report.UsersSkipped++
		default:
			report.UsersSettled++
			report.TotalSettled += settled
		}
	}

	observability.CyclesTotal.WithLabelValues("completed").Inc()
	if err := s.publishCycleCompleted(ctx, report); err != nil {
		s.logger.WarnContext(ctx, "cycle analytics publish failed",
			"cycle_id", report.CycleID,
			"error", err,
		)
	}
	return report, nil
}

// settleUser settles one user's held amount. Returns the credits settled;
// zero with a nil error means the user was skipped.
func (s *Service) settleUser(ctx context.Context, userDID string) (float64, error) {
	unlock := s.lockUser(userDID)
	defer unlock()

	snapshot, err := s.subscriptions.Snapshot(ctx, userDID)
	if err != nil {
		return 0, fmt.Errorf("resolve subscription: %w", err)
	}
	if !snapshot.Complete() {
		s.logger.WarnContext(ctx, "skipping user without settlement identifiers",
			"user_did", userDID,
		)
		return 0, nil
	}

	heldAmount, err := s.ledger.HeldAmount(ctx, userDID)
	if err != nil {
		return 0, fmt.Errorf("read held amount: %w", err)
	}
	if heldAmount < s.cfg.SettlementThreshold {
		return 0, nil
	}
	if snapshot.TotalCredits < heldAmount {
		s.logger.WarnContext(ctx, "skipping user with insufficient subscription credits",
			"user_did", userDID,
			"held_amount", heldAmount,
			"total_credits", snapshot.TotalCredits,
		)
		return 0, nil
	}

	maxAmount, ok := s.cfg.MaxClaimAmounts[s.cfg.Denom]
	if !ok || maxAmount <= 0 {
		return 0, fmt.Errorf("%w: per-claim maximum for denom %s", domain.ErrConfiguration, s.cfg.Denom)
	}

	// Claim identity covers the user's total held amount, not each split, so
	// repeated runs keep one logical claim even as the split count changes.
	claim, err := s.GetOrCreatePendingClaim(ctx, userDID, heldAmount)
	if err != nil {
		return 0, err
	}
	claim, err = s.planClaimSplits(ctx, claim, heldAmount, maxAmount)
	if err != nil {
		return 0, err
	}

	splits := claim.Splits
	var settled float64
	for i := claim.SettledChunks; i < len(splits); i++ {
		state, alreadySettled, err := s.executeChunk(ctx, snapshot, claim, i, splits[i])
		if err != nil {
			// Remaining chunks are not attempted while state is inconsistent.
			observability.ClaimsFailedTotal.WithLabelValues(failedStep(err)).Inc()
			if enqErr := s.enqueueClaimFailed(ctx, state, err); enqErr != nil {
				s.logger.ErrorContext(ctx, "claim failure event enqueue failed",
					"user_did", userDID,
					"error", enqErr,
				)
			}
			return settled, fmt.Errorf("settle chunk %d of %d: %w", i+1, len(splits), err)
		}

		if !alreadySettled {
			// Bookkeeping follows the amount the chunk actually committed: a
			// resumed thread restores its checkpointed amount, which wins over
			// the planned one.
			remaining, err := s.ledger.DecrementHeld(ctx, userDID, state.Amount)
			if err != nil {
				return settled, fmt.Errorf("decrement held amount: %w", err)
			}
			if i == len(splits)-1 && remaining < heldResidue {
				// Delete rather than leave a zero entry reappearing in
				// threshold scans. A positive remainder is usage charged after
				// the plan froze; it stays held for the next claim.
				if err := s.ledger.DeleteHeld(ctx, userDID); err != nil {
					return settled, fmt.Errorf("delete held amount: %w", err)
				}
			}
			settled += state.Amount
			observability.ClaimsSettledTotal.Inc()
			observability.CreditsSettledTotal.Add(state.Amount)

			if s.archive != nil {
				if err := s.archive.Save(ctx, domain.SettlementClaim{
					ClaimID:         state.ClaimID,
					UserDID:         userDID,
					CID:             state.CID,
					TransactionHash: state.CommitTxHash,
					Amount:          state.Amount,
					Denom:           state.Denom,
					SplitIndex:      state.SplitIndex,
					SettledAt:       s.nowFn(),
				}); err != nil {
					s.logger.WarnContext(ctx, "claim archive write failed",
						"user_did", userDID,
						"claim_id", state.ClaimID,
						"error", err,
					)
				}
			}
			if err := s.enqueueClaimCommitted(ctx, state); err != nil {
				return settled, err
			}
		}

		claim.SettledChunks = i + 1
		claim.UpdatedAt = s.nowFn()
		if err := s.claims.Put(ctx, claim); err != nil {
			return settled, fmt.Errorf("record settled chunk: %w", err)
		}
	}

	if err := s.ClearPendingClaim(ctx, userDID); err != nil {
		return settled, fmt.Errorf("clear pending claim: %w", err)
	}
	return settled, nil
}
