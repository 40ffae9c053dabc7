package unit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	eventadapter "github.com/viralforge/mesh/services/financial-rails/M15-usage-settlement-service/internal/adapters/events"
	"github.com/viralforge/mesh/services/financial-rails/M15-usage-settlement-service/internal/adapters/memory"
	"github.com/viralforge/mesh/services/financial-rails/M15-usage-settlement-service/internal/application"
	"github.com/viralforge/mesh/services/financial-rails/M15-usage-settlement-service/internal/contracts"
	"github.com/viralforge/mesh/services/financial-rails/M15-usage-settlement-service/internal/domain"
	"github.com/viralforge/mesh/services/financial-rails/M15-usage-settlement-service/internal/ports"
	"github.com/viralforge/mesh/services/financial-rails/M15-usage-settlement-service/internal/saga"
)

type scriptedChain struct {
	mu            sync.Mutex
	activeIntent  bool
	reserveCalls  int
	commitCalls   int
	committed     []float64
	commitScript  func(call int) (ports.TxResult, error)
	reserveScript func(call int) (ports.TxResult, error)
}

func (c *scriptedChain) CheckActiveIntent(_ context.Context, _, _ string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activeIntent, nil
}

func (c *scriptedChain) ReserveEscrow(_ context.Context, _ string, _ float64, _ string) (ports.TxResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reserveCalls++
	if c.reserveScript != nil {
		return c.reserveScript(c.reserveCalls)
	}
	return ports.TxResult{Code: 0, TxHash: fmt.Sprintf("reserve-%d", c.reserveCalls)}, nil
}

func (c *scriptedChain) CommitClaim(_ context.Context, _, _ string, amount float64, _ string) (ports.TxResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.commitCalls++
	res := ports.TxResult{Code: 0, TxHash: fmt.Sprintf("commit-%d", c.commitCalls)}
	var err error
	if c.commitScript != nil {
		res, err = c.commitScript(c.commitCalls)
	}
	if err == nil && res.Code == 0 {
		c.committed = append(c.committed, amount)
	}
	return res, err
}

func (c *scriptedChain) committedAmounts() []float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]float64, len(c.committed))
	copy(out, c.committed)
	return out
}

type scriptedRecords struct {
	mu        sync.Mutex
	saveCalls int
	failFirst int
}

func (r *scriptedRecords) SaveSignedClaim(_ context.Context, claim domain.SignedClaim, _ string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saveCalls++
	if r.saveCalls <= r.failFirst {
		return "", errors.New("record store unavailable")
	}
	return "cid:" + claim.ClaimID, nil
}

type scriptedBilling struct {
	mu      sync.Mutex
	calls   int
	failing bool
}

func (b *scriptedBilling) NotifyClaimSubmitted(_ context.Context, _ string) (bool, string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	if b.failing {
		return false, "", errors.New("billing unreachable")
	}
	return true, "approved", nil
}

func (b *scriptedBilling) setFailing(failing bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failing = failing
}

type fixture struct {
	svc       *application.Service
	repos     *memory.Repositories
	chain     *scriptedChain
	records   *scriptedRecords
	billing   *scriptedBilling
	domainPub *eventadapter.MemoryDomainPublisher
	analytics *eventadapter.MemoryAnalyticsPublisher
}

func testConfig() application.Config {
	return application.Config{
		SettlementThreshold: 5000,
		Denom:               "uixo",
		MaxClaimAmounts:     map[string]float64{"uixo": 5000},
		GranteeAddress:      "grantee-1",
		Retry:               saga.RetryPolicy{MaxAttempts: 3, InitialInterval: time.Millisecond, BackoffFactor: 1},
	}
}

func newFixture(cfg application.Config) *fixture {
	repos := memory.NewRepositories()
	chain := &scriptedChain{}
	records := &scriptedRecords{}
	billing := &scriptedBilling{}
	domainPub := eventadapter.NewMemoryDomainPublisher()
	analytics := eventadapter.NewMemoryAnalyticsPublisher()
	svc := application.NewService(application.Dependencies{
		Config:        cfg,
		Ledger:        repos.Ledger,
		PendingClaims: repos.PendingClaims,
		Archive:       repos.Archive,
		EventDedup:    repos.EventDedup,
		Outbox:        repos.Outbox,
		Checkpoints:   repos.Checkpoints,
		Chain:         chain,
		Records:       records,
		Billing:       billing,
		Subscriptions: repos.Snapshots,
		DomainEvents:  domainPub,
		Analytics:     analytics,
		DLQ:           eventadapter.NewLoggingDLQPublisher(),
	})
	return &fixture{
		svc:       svc,
		repos:     repos,
		chain:     chain,
		records:   records,
		billing:   billing,
		domainPub: domainPub,
		analytics: analytics,
	}
}

func (f *fixture) seedUser(t *testing.T, userDID string, balance, held float64) {
	t.Helper()
	ctx := context.Background()
	if err := f.repos.Ledger.SetBalance(ctx, userDID, balance+held); err != nil {
		t.Fatalf("seed balance: %v", err)
	}
	if held > 0 {
		if _, err := f.svc.Charge(ctx, userDID, held); err != nil {
			t.Fatalf("seed charge: %v", err)
		}
	}
	f.repos.Snapshots.Set(domain.SubscriptionSnapshot{
		UserDID:           userDID,
		AdminAddress:      "admin-1",
		ClaimCollectionID: "collection-1",
		TotalCredits:      1_000_000,
	})
}

func TestChargeDecrementsBalanceAndHolds(t *testing.T) {
	t.Parallel()

	f := newFixture(testConfig())
	ctx := context.Background()
	f.seedUser(t, "did:user:alice", 1000, 0)

	remaining, err := f.svc.Charge(ctx, "did:user:alice", 250)
	if err != nil {
		t.Fatalf("charge: %v", err)
	}
	if remaining != 750 {
		t.Fatalf("expected remaining 750, got %v", remaining)
	}
	balance, held, blocked, err := f.svc.LedgerState(ctx, "did:user:alice")
	if err != nil {
		t.Fatalf("ledger state: %v", err)
	}
	if balance != 750 || held != 250 || blocked {
		t.Fatalf("unexpected ledger state: balance=%v held=%v blocked=%v", balance, held, blocked)
	}

	if _, err := f.svc.Charge(ctx, "did:user:alice", 10_000); !errors.Is(err, domain.ErrQuotaExceeded) {
		t.Fatalf("expected quota exceeded, got %v", err)
	}
	// Denied charges leave both sides untouched.
	balance, held, _, _ = f.svc.LedgerState(ctx, "did:user:alice")
	if balance != 750 || held != 250 {
		t.Fatalf("denied charge mutated ledger: balance=%v held=%v", balance, held)
	}
}

func TestSettlementCycleSplitsAndSettles(t *testing.T) {
	t.Parallel()

	f := newFixture(testConfig())
	ctx := context.Background()
	f.seedUser(t, "did:user:alice", 8000, 12_000)

	report, err := f.svc.RunSettlementCycle(ctx)
	if err != nil {
		t.Fatalf("run settlement cycle: %v", err)
	}
	if report.UsersSettled != 1 || report.TotalSettled != 12_000 {
		t.Fatalf("unexpected report: %+v", report)
	}
	if f.chain.commitCalls != 3 {
		t.Fatalf("expected 3 chunk commits for 12000/5000, got %d", f.chain.commitCalls)
	}

	held, err := f.repos.Ledger.HeldAmount(ctx, "did:user:alice")
	if err != nil || held != 0 {
		t.Fatalf("expected held amount cleared, got %v (%v)", held, err)
	}
	pending, err := f.repos.PendingClaims.Get(ctx, "did:user:alice", time.Now().UTC())
	if err != nil || pending != nil {
		t.Fatalf("expected pending claim cleared, got %+v (%v)", pending, err)
	}

	claims, total, err := f.repos.Archive.ListByUser(ctx, "did:user:alice", 10, 0)
	if err != nil {
		t.Fatalf("list archive: %v", err)
	}
	if total != 3 {
		t.Fatalf("expected 3 archived chunks, got %d", total)
	}
	base := claims[0].ClaimID
	wantAmounts := []float64{5000, 5000, 2000}
	for i, claim := range claims {
		if claim.SplitIndex != i {
			t.Fatalf("chunk %d archived with split index %d", i, claim.SplitIndex)
		}
		if claim.Amount != wantAmounts[i] {
			t.Fatalf("chunk %d amount %v, want %v", i, claim.Amount, wantAmounts[i])
		}
		if i > 0 {
			want := fmt.Sprintf("%s-%d", base, i)
			if claim.ClaimID != want {
				t.Fatalf("chunk %d claim id %s, want %s", i, claim.ClaimID, want)
			}
		}
	}

	if err := f.svc.FlushOutbox(ctx); err != nil {
		t.Fatalf("flush outbox: %v", err)
	}
	committed := 0
	for _, event := range f.domainPub.Events() {
		if event.EventType == domain.EventClaimCommitted {
			committed++
		}
	}
	if committed != 3 {
		t.Fatalf("expected 3 claim_committed events, got %d", committed)
	}

	cycleEvents := f.analytics.Events()
	if len(cycleEvents) != 1 || cycleEvents[0].EventType != domain.EventCycleCompleted {
		t.Fatalf("expected one cycle_completed analytics event, got %v", cycleEvents)
	}
}

func TestSettlementCycleSkipsBelowThreshold(t *testing.T) {
	t.Parallel()

	f := newFixture(testConfig())
	ctx := context.Background()
	f.seedUser(t, "did:user:alice", 2000, 3000)

	report, err := f.svc.RunSettlementCycle(ctx)
	if err != nil {
		t.Fatalf("run settlement cycle: %v", err)
	}
	if report.UsersScanned != 0 || report.UsersSettled != 0 {
		t.Fatalf("user below threshold entered cycle: %+v", report)
	}
	if f.chain.reserveCalls != 0 || f.chain.commitCalls != 0 {
		t.Fatalf("chain touched for sub-threshold user")
	}
	held, _ := f.repos.Ledger.HeldAmount(ctx, "did:user:alice")
	if held != 3000 {
		t.Fatalf("held amount changed for skipped user: %v", held)
	}
}

func TestRecordStepRetryYieldsSingleCommit(t *testing.T) {
	t.Parallel()

	f := newFixture(testConfig())
	f.records.failFirst = 2
	ctx := context.Background()
	f.seedUser(t, "did:user:alice", 0, 5000)

	report, err := f.svc.RunSettlementCycle(ctx)
	if err != nil {
		t.Fatalf("run settlement cycle: %v", err)
	}
	if report.UsersSettled != 1 {
		t.Fatalf("expected user settled despite transient record failures: %+v", report)
	}
	if f.records.saveCalls != 3 {
		t.Fatalf("expected 3 record attempts, got %d", f.records.saveCalls)
	}
	if f.chain.commitCalls != 1 {
		t.Fatalf("retried record step caused %d commits", f.chain.commitCalls)
	}
	if f.chain.reserveCalls != 1 {
		t.Fatalf("retried record step caused %d reservations", f.chain.reserveCalls)
	}
}

func TestFailedChunkResumesWithoutRepeatingSideEffects(t *testing.T) {
	t.Parallel()

	f := newFixture(testConfig())
	f.billing.setFailing(true)
	ctx := context.Background()
	f.seedUser(t, "did:user:alice", 0, 5000)

	report, err := f.svc.RunSettlementCycle(ctx)
	if err != nil {
		t.Fatalf("first cycle returned tick-level error: %v", err)
	}
	if report.UsersFailed != 1 {
		t.Fatalf("expected failed user in report: %+v", report)
	}
	if f.chain.commitCalls != 1 {
		t.Fatalf("expected single commit before notify failure, got %d", f.chain.commitCalls)
	}
	held, _ := f.repos.Ledger.HeldAmount(ctx, "did:user:alice")
	if held != 5000 {
		t.Fatalf("held amount released despite failed chunk: %v", held)
	}

	failedEvents := 0
	pending, _ := f.repos.Outbox.ListPending(ctx, 100)
	for _, record := range pending {
		if record.Envelope.EventType == domain.EventClaimFailed {
			failedEvents++
			if !strings.Contains(string(record.Envelope.Data), "notify_external") {
				t.Fatalf("claim_failed event should name the failed step: %s", record.Envelope.Data)
			}
		}
	}
	if failedEvents != 1 {
		t.Fatalf("expected one claim_failed event, got %d", failedEvents)
	}

	f.billing.setFailing(false)
	report, err = f.svc.RunSettlementCycle(ctx)
	if err != nil {
		t.Fatalf("resume cycle: %v", err)
	}
	if report.UsersSettled != 1 {
		t.Fatalf("expected user settled on resume: %+v", report)
	}
	// Completed steps are restored from the checkpoint, not re-executed.
	if f.chain.reserveCalls != 1 || f.records.saveCalls != 1 || f.chain.commitCalls != 1 {
		t.Fatalf("resume repeated side effects: reserve=%d record=%d commit=%d",
			f.chain.reserveCalls, f.records.saveCalls, f.chain.commitCalls)
	}
	held, _ = f.repos.Ledger.HeldAmount(ctx, "did:user:alice")
	if held != 0 {
		t.Fatalf("held amount not released after resume: %v", held)
	}
}

func TestMultiChunkFailureResumeConservesHeldCredits(t *testing.T) {
	t.Parallel()

	f := newFixture(testConfig())
	// The second chunk's commit stays down for its whole retry budget in the
	// first cycle, then recovers.
	f.chain.commitScript = func(call int) (ports.TxResult, error) {
		if call >= 2 && call <= 4 {
			return ports.TxResult{}, errors.New("chain unavailable")
		}
		return ports.TxResult{Code: 0, TxHash: fmt.Sprintf("commit-%d", call)}, nil
	}
	ctx := context.Background()
	f.seedUser(t, "did:user:alice", 0, 12_000)

	report, err := f.svc.RunSettlementCycle(ctx)
	if err != nil {
		t.Fatalf("first cycle: %v", err)
	}
	if report.UsersFailed != 1 {
		t.Fatalf("expected chunk failure to fail the user: %+v", report)
	}
	held, _ := f.repos.Ledger.HeldAmount(ctx, "did:user:alice")
	if held != 7000 {
		t.Fatalf("expected only the first chunk released before the failure, held=%v", held)
	}

	report, err = f.svc.RunSettlementCycle(ctx)
	if err != nil {
		t.Fatalf("resume cycle: %v", err)
	}
	if report.UsersSettled != 1 || report.TotalSettled != 7000 {
		t.Fatalf("unexpected resume report: %+v", report)
	}

	// Every chunk settles exactly the amount it was planned with; the settled
	// first chunk is never re-run against the ledger.
	committed := f.chain.committedAmounts()
	wantAmounts := []float64{5000, 5000, 2000}
	if len(committed) != len(wantAmounts) {
		t.Fatalf("expected commits %v, got %v", wantAmounts, committed)
	}
	var total float64
	for i, amount := range committed {
		if amount != wantAmounts[i] {
			t.Fatalf("commit %d amount %v, want %v", i, amount, wantAmounts[i])
		}
		total += amount
	}
	if total != 12_000 {
		t.Fatalf("chain commits sum to %v for 12000 consumed held credits", total)
	}
	held, _ = f.repos.Ledger.HeldAmount(ctx, "did:user:alice")
	if held != 0 {
		t.Fatalf("held credits left behind after full settlement: %v", held)
	}

	claims, archived, err := f.repos.Archive.ListByUser(ctx, "did:user:alice", 10, 0)
	if err != nil || archived != 3 {
		t.Fatalf("expected 3 archived chunks, got %d (%v)", archived, err)
	}
	for i, claim := range claims {
		if claim.SplitIndex != i || claim.Amount != wantAmounts[i] {
			t.Fatalf("archive row %d: split=%d amount=%v, want split=%d amount=%v",
				i, claim.SplitIndex, claim.Amount, i, wantAmounts[i])
		}
	}

	if err := f.svc.FlushOutbox(ctx); err != nil {
		t.Fatalf("flush outbox: %v", err)
	}
	var eventAmounts []float64
	for _, event := range f.domainPub.Events() {
		if event.EventType != domain.EventClaimCommitted {
			continue
		}
		var payload contracts.ClaimCommittedPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			t.Fatalf("decode claim_committed payload: %v", err)
		}
		eventAmounts = append(eventAmounts, payload.Amount)
	}
	if len(eventAmounts) != len(wantAmounts) {
		t.Fatalf("expected one claim_committed event per commit, got %v", eventAmounts)
	}
	for i, amount := range eventAmounts {
		if amount != wantAmounts[i] {
			t.Fatalf("claim_committed %d amount %v diverges from chain commit %v", i, amount, wantAmounts[i])
		}
	}
}

func TestChargesDuringFailedSettlementStayHeld(t *testing.T) {
	t.Parallel()

	f := newFixture(testConfig())
	f.chain.commitScript = func(call int) (ports.TxResult, error) {
		if call >= 2 && call <= 4 {
			return ports.TxResult{}, errors.New("chain unavailable")
		}
		return ports.TxResult{Code: 0, TxHash: fmt.Sprintf("commit-%d", call)}, nil
	}
	ctx := context.Background()
	f.seedUser(t, "did:user:alice", 1000, 12_000)

	if _, err := f.svc.RunSettlementCycle(ctx); err != nil {
		t.Fatalf("first cycle: %v", err)
	}
	// Usage keeps accruing while the claim is stuck between ticks.
	if _, err := f.svc.Charge(ctx, "did:user:alice", 500); err != nil {
		t.Fatalf("charge during stuck claim: %v", err)
	}

	report, err := f.svc.RunSettlementCycle(ctx)
	if err != nil {
		t.Fatalf("resume cycle: %v", err)
	}
	if report.TotalSettled != 7000 {
		t.Fatalf("resume settled %v, want the frozen plan's remaining 7000", report.TotalSettled)
	}

	var total float64
	for _, amount := range f.chain.committedAmounts() {
		total += amount
	}
	if total != 12_000 {
		t.Fatalf("chain commits sum to %v for the planned 12000", total)
	}
	// The late charge stays held for the next claim instead of being dropped
	// with the completed one.
	held, _ := f.repos.Ledger.HeldAmount(ctx, "did:user:alice")
	if held != 500 {
		t.Fatalf("expected the late charge to stay held, got %v", held)
	}
	pending, err := f.repos.PendingClaims.Get(ctx, "did:user:alice", time.Now().UTC())
	if err != nil || pending != nil {
		t.Fatalf("expected completed claim cleared, got %+v (%v)", pending, err)
	}
}

func TestMissingMaxClaimAmountAbortsCycle(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.MaxClaimAmounts = map[string]float64{"other": 5000}
	f := newFixture(cfg)
	ctx := context.Background()
	f.seedUser(t, "did:user:alice", 0, 6000)

	_, err := f.svc.RunSettlementCycle(ctx)
	if !errors.Is(err, domain.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if f.chain.reserveCalls != 0 {
		t.Fatalf("chain touched despite configuration error")
	}
}

func TestPendingClaimIdentitySurvivesAmountGrowth(t *testing.T) {
	t.Parallel()

	f := newFixture(testConfig())
	ctx := context.Background()

	first, err := f.svc.GetOrCreatePendingClaim(ctx, "did:user:alice", 5000)
	if err != nil {
		t.Fatalf("create pending claim: %v", err)
	}
	second, err := f.svc.GetOrCreatePendingClaim(ctx, "did:user:alice", 7500)
	if err != nil {
		t.Fatalf("refresh pending claim: %v", err)
	}
	if second.ClaimID != first.ClaimID {
		t.Fatalf("claim id changed as amount grew: %s vs %s", first.ClaimID, second.ClaimID)
	}
	if !second.BatchStartTime.Equal(first.BatchStartTime) {
		t.Fatalf("batch start time changed on refresh")
	}
	if second.Amount != 7500 {
		t.Fatalf("amount not refreshed: %v", second.Amount)
	}

	if err := f.svc.ClearPendingClaim(ctx, "did:user:alice"); err != nil {
		t.Fatalf("clear pending claim: %v", err)
	}
	third, err := f.svc.GetOrCreatePendingClaim(ctx, "did:user:alice", 100)
	if err != nil {
		t.Fatalf("recreate pending claim: %v", err)
	}
	if third.ClaimID == first.ClaimID {
		t.Fatalf("new batch reused the settled claim id")
	}
}

func TestOverrideBalanceClampsAndBlocks(t *testing.T) {
	t.Parallel()

	f := newFixture(testConfig())
	ctx := context.Background()
	f.seedUser(t, "did:user:alice", 1000, 500)

	newBalance, clamped, err := f.svc.OverrideBalance(ctx, "did:user:alice", 300)
	if !errors.Is(err, domain.ErrPaymentRequired) {
		t.Fatalf("expected payment required, got %v", err)
	}
	if !clamped || newBalance != 0 {
		t.Fatalf("expected clamp to zero, got balance=%v clamped=%v", newBalance, clamped)
	}
	if _, err := f.svc.Charge(ctx, "did:user:alice", 1); !errors.Is(err, domain.ErrChargeBlocked) {
		t.Fatalf("expected charging blocked after clamp, got %v", err)
	}

	newBalance, clamped, err = f.svc.OverrideBalance(ctx, "did:user:alice", 800)
	if err != nil {
		t.Fatalf("clean override: %v", err)
	}
	if clamped || newBalance != 300 {
		t.Fatalf("expected balance 300 (800 confirmed - 500 held), got %v clamped=%v", newBalance, clamped)
	}
	if _, err := f.svc.Charge(ctx, "did:user:alice", 1); err != nil {
		t.Fatalf("charge still blocked after clean override: %v", err)
	}
}

func TestOverrideBalanceSuppressedClampDoesNotBlock(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.SuppressPaymentRequired = true
	f := newFixture(cfg)
	ctx := context.Background()
	f.seedUser(t, "did:user:alice", 1000, 500)

	newBalance, clamped, err := f.svc.OverrideBalance(ctx, "did:user:alice", 300)
	if err != nil {
		t.Fatalf("suppressed clamp should not error: %v", err)
	}
	if !clamped || newBalance != 0 {
		t.Fatalf("expected clamp to zero, got balance=%v clamped=%v", newBalance, clamped)
	}
	if _, err := f.svc.Charge(ctx, "did:user:alice", 1); !errors.Is(err, domain.ErrQuotaExceeded) {
		t.Fatalf("expected plain quota denial, got %v", err)
	}
}

func balanceConfirmedEvent(eventID, userDID string, balance float64) contracts.EventEnvelope {
	return contracts.EventEnvelope{
		EventID:          eventID,
		EventType:        domain.EventBalanceConfirmed,
		EventClass:       domain.CanonicalEventClassDomain,
		OccurredAt:       time.Now().UTC(),
		PartitionKeyPath: "data.user_did",
		PartitionKey:     userDID,
		SourceService:    "M14-Billing-Payments-Service",
		TraceID:          "trace-1",
		SchemaVersion:    "v1",
		Data: []byte(fmt.Sprintf(`{
			"user_did": %q,
			"authoritative_balance": %v,
			"confirmed_at": "2026-03-01T00:00:00Z"
		}`, userDID, balance)),
	}
}

func TestHandleBalanceConfirmedDedup(t *testing.T) {
	t.Parallel()

	f := newFixture(testConfig())
	ctx := context.Background()
	f.seedUser(t, "did:user:alice", 100, 0)

	event := balanceConfirmedEvent("evt-1", "did:user:alice", 900)
	if err := f.svc.HandleDomainEvent(ctx, event); err != nil {
		t.Fatalf("handle first event: %v", err)
	}
	balance, _ := f.repos.Ledger.Balance(ctx, "did:user:alice")
	if balance != 900 {
		t.Fatalf("override did not apply: %v", balance)
	}

	// A replay must be a no-op even when state drifted in between.
	if err := f.repos.Ledger.SetBalance(ctx, "did:user:alice", 42); err != nil {
		t.Fatalf("drift balance: %v", err)
	}
	if err := f.svc.HandleDomainEvent(ctx, event); err != nil {
		t.Fatalf("handle duplicate event: %v", err)
	}
	balance, _ = f.repos.Ledger.Balance(ctx, "did:user:alice")
	if balance != 42 {
		t.Fatalf("duplicate event re-applied the override: %v", balance)
	}
}

func TestHandleDomainEventRejectsBadEnvelope(t *testing.T) {
	t.Parallel()

	f := newFixture(testConfig())
	ctx := context.Background()

	event := balanceConfirmedEvent("evt-1", "did:user:alice", 900)
	event.PartitionKey = "did:user:bob"
	if err := f.svc.HandleDomainEvent(ctx, event); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input for partition key mismatch, got %v", err)
	}

	other := balanceConfirmedEvent("evt-2", "did:user:alice", 900)
	other.EventType = "billing.something_else"
	if err := f.svc.HandleDomainEvent(ctx, other); !errors.Is(err, domain.ErrUnsupportedEventType) {
		t.Fatalf("expected unsupported event type, got %v", err)
	}
}
