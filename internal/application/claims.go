package application

import (
	"context"
	"fmt"
	"slices"

	"github.com/viralforge/mesh/services/financial-rails/M15-usage-settlement-service/internal/domain"
)

// GetOrCreatePendingClaim resolves the claim identity a user's held amount
// settles under. An existing pending claim keeps its id and batch start time
// while the amount is refreshed, so usage accrues into one logical claim
// across many reconciliation ticks.
func (s *Service) GetOrCreatePendingClaim(ctx context.Context, userDID string, currentHeldAmount float64) (domain.PendingClaim, error) {
	now := s.nowFn()
	existing, err := s.claims.Get(ctx, userDID, now)
	if err != nil {
		return domain.PendingClaim{}, fmt.Errorf("load pending claim: %w", err)
	}
	if existing != nil {
		if existing.Amount != currentHeldAmount {
			existing.Amount = currentHeldAmount
			existing.UpdatedAt = now
			if err := s.claims.Put(ctx, *existing); err != nil {
				return domain.PendingClaim{}, fmt.Errorf("refresh pending claim: %w", err)
			}
		}
		return *existing, nil
	}

	claim := domain.PendingClaim{
		ClaimID:        domain.GenerateClaimID(userDID, now),
		UserDID:        userDID,
		Amount:         currentHeldAmount,
		BatchStartTime: now,
		UpdatedAt:      now,
		ExpiresAt:      now.Add(s.cfg.PendingClaimTTL),
	}
	if err := s.claims.Put(ctx, claim); err != nil {
		return domain.PendingClaim{}, fmt.Errorf("create pending claim: %w", err)
	}
	return claim, nil
}

// planClaimSplits resolves the claim's chunk plan. Until a chunk settles the
// plan follows the live held amount; afterwards the stored plan is immutable,
// so every split index keeps the amount its saga thread was started with.
func (s *Service) planClaimSplits(ctx context.Context, claim domain.PendingClaim, heldAmount, maxAmount float64) (domain.PendingClaim, error) {
	if claim.SettledChunks > 0 && len(claim.Splits) > 0 {
		return claim, nil
	}
	splits := domain.CalculateSplits(heldAmount, maxAmount)
	if slices.Equal(splits, claim.Splits) {
		return claim, nil
	}
	claim.Splits = splits
	claim.UpdatedAt = s.nowFn()
	if err := s.claims.Put(ctx, claim); err != nil {
		return domain.PendingClaim{}, fmt.Errorf("store split plan: %w", err)
	}
	return claim, nil
}

// ClearPendingClaim removes the pending claim once the full held amount
// behind it has settled.
func (s *Service) ClearPendingClaim(ctx context.Context, userDID string) error {
	return s.claims.Delete(ctx, userDID)
}
