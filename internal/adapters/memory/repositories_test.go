package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/viralforge/mesh/services/financial-rails/M15-usage-settlement-service/internal/contracts"
	"github.com/viralforge/mesh/services/financial-rails/M15-usage-settlement-service/internal/domain"
	"github.com/viralforge/mesh/services/financial-rails/M15-usage-settlement-service/internal/ports"
)

func TestMeteringLedgerConcurrentChargesNeverOverdraw(t *testing.T) {
	t.Parallel()

	repos := NewRepositories()
	ctx := context.Background()
	if err := repos.Ledger.SetBalance(ctx, "did:user:alice", 100); err != nil {
		t.Fatalf("seed balance: %v", err)
	}

	const workers = 50
	var wg sync.WaitGroup
	var mu sync.Mutex
	var granted int
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := repos.Ledger.Charge(ctx, "did:user:alice", 3); err == nil {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	balance, _ := repos.Ledger.Balance(ctx, "did:user:alice")
	held, _ := repos.Ledger.HeldAmount(ctx, "did:user:alice")
	if balance < 0 {
		t.Fatalf("balance went negative: %v", balance)
	}
	if float64(granted)*3 != 100-balance {
		t.Fatalf("granted charges (%d) disagree with balance drop (%v)", granted, 100-balance)
	}
	if held != float64(granted)*3 {
		t.Fatalf("held %v does not mirror granted charges %d", held, granted)
	}
}

func TestPendingClaimExpiry(t *testing.T) {
	t.Parallel()

	repos := NewRepositories()
	ctx := context.Background()
	now := time.Now().UTC()
	claim := domain.PendingClaim{
		ClaimID:        "claim-1",
		UserDID:        "did:user:alice",
		Amount:         100,
		BatchStartTime: now,
		UpdatedAt:      now,
		ExpiresAt:      now.Add(time.Minute),
	}
	if err := repos.PendingClaims.Put(ctx, claim); err != nil {
		t.Fatalf("put claim: %v", err)
	}

	got, err := repos.PendingClaims.Get(ctx, "did:user:alice", now.Add(30*time.Second))
	if err != nil || got == nil || got.ClaimID != "claim-1" {
		t.Fatalf("expected live claim, got %+v (%v)", got, err)
	}
	got, err = repos.PendingClaims.Get(ctx, "did:user:alice", now.Add(2*time.Minute))
	if err != nil || got != nil {
		t.Fatalf("expected expired claim evicted, got %+v (%v)", got, err)
	}
}

func TestOutboxFlushOrderAndMarkSent(t *testing.T) {
	t.Parallel()

	repos := NewRepositories()
	ctx := context.Background()
	now := time.Now().UTC()
	for _, id := range []string{"rec-1", "rec-2", "rec-3"} {
		err := repos.Outbox.Enqueue(ctx, ports.OutboxRecord{
			RecordID:   id,
			EventClass: domain.CanonicalEventClassDomain,
			Envelope:   contracts.EventEnvelope{EventID: id},
			CreatedAt:  now,
		})
		if err != nil {
			t.Fatalf("enqueue %s: %v", id, err)
		}
	}

	pending, err := repos.Outbox.ListPending(ctx, 10)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 3 || pending[0].RecordID != "rec-1" || pending[2].RecordID != "rec-3" {
		t.Fatalf("pending records out of order: %+v", pending)
	}

	if err := repos.Outbox.MarkSent(ctx, "rec-2", now); err != nil {
		t.Fatalf("mark sent: %v", err)
	}
	pending, _ = repos.Outbox.ListPending(ctx, 10)
	if len(pending) != 2 {
		t.Fatalf("expected 2 pending after send, got %d", len(pending))
	}
	if err := repos.Outbox.MarkSent(ctx, "missing", now); err != domain.ErrNotFound {
		t.Fatalf("expected ErrNotFound for unknown record, got %v", err)
	}
}
