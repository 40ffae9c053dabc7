// Package memory provides in-memory implementations of every repository
// port, used by tests and by infra-less runtimes.
package memory

import (
	"context"
	"encoding/json"
	"slices"
	"sync"
	"time"

	"github.com/viralforge/mesh/services/financial-rails/M15-usage-settlement-service/internal/domain"
	"github.com/viralforge/mesh/services/financial-rails/M15-usage-settlement-service/internal/ports"
	"github.com/viralforge/mesh/services/financial-rails/M15-usage-settlement-service/internal/saga"
)

type Repositories struct {
	Ledger        *MeteringLedger
	PendingClaims *PendingClaimRepository
	Checkpoints   *CheckpointStore
	Archive       *ClaimArchive
	EventDedup    *EventDedupRepository
	Outbox        *OutboxRepository
	Snapshots     *SnapshotStore
}

func NewRepositories() *Repositories {
	return &Repositories{
		Ledger: &MeteringLedger{
			balances: make(map[string]float64),
			held:     make(map[string]float64),
			blocked:  make(map[string]bool),
		},
		PendingClaims: &PendingClaimRepository{claims: make(map[string]domain.PendingClaim)},
		Checkpoints:   &CheckpointStore{threads: make(map[string][]saga.Checkpoint)},
		Archive:       &ClaimArchive{},
		EventDedup:    &EventDedupRepository{records: make(map[string]dedupRecord)},
		Outbox:        &OutboxRepository{records: make(map[string]ports.OutboxRecord)},
		Snapshots:     &SnapshotStore{snapshots: make(map[string]domain.SubscriptionSnapshot)},
	}
}

// MeteringLedger keeps balances and held amounts under one mutex so the
// charge pair is indivisible, mirroring what the redis adapter gets from its
// Lua script.
type MeteringLedger struct {
	mu       sync.Mutex
	balances map[string]float64
	held     map[string]float64
	blocked  map[string]bool
}

func (l *MeteringLedger) Charge(_ context.Context, userDID string, credits float64) (float64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.blocked[userDID] {
		return l.balances[userDID], domain.ErrChargeBlocked
	}
	balance := l.balances[userDID]
	if balance-credits < 0 {
		return balance, domain.ErrQuotaExceeded
	}
	l.balances[userDID] = balance - credits
	l.held[userDID] += credits
	return balance - credits, nil
}

func (l *MeteringLedger) Balance(_ context.Context, userDID string) (float64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[userDID], nil
}

func (l *MeteringLedger) SetBalance(_ context.Context, userDID string, balance float64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[userDID] = balance
	return nil
}

func (l *MeteringLedger) HeldAmount(_ context.Context, userDID string) (float64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held[userDID], nil
}

func (l *MeteringLedger) IncrementHeld(_ context.Context, userDID string, delta float64) (float64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.held[userDID] += delta
	return l.held[userDID], nil
}

func (l *MeteringLedger) DecrementHeld(_ context.Context, userDID string, delta float64) (float64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.held[userDID] -= delta
	return l.held[userDID], nil
}

func (l *MeteringLedger) DeleteHeld(_ context.Context, userDID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, userDID)
	return nil
}

func (l *MeteringLedger) ListHeld(_ context.Context, minAmount float64) ([]domain.HeldBalance, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]domain.HeldBalance, 0, len(l.held))
	for did, amount := range l.held {
		if amount >= minAmount {
			out = append(out, domain.HeldBalance{UserDID: did, Amount: amount})
		}
	}
	slices.SortFunc(out, func(a, b domain.HeldBalance) int {
		switch {
		case a.Amount < b.Amount:
			return -1
		case a.Amount > b.Amount:
			return 1
		default:
			return 0
		}
	})
	return out, nil
}

func (l *MeteringLedger) SetChargeBlock(_ context.Context, userDID string, blocked bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if blocked {
		l.blocked[userDID] = true
	} else {
		delete(l.blocked, userDID)
	}
	return nil
}

func (l *MeteringLedger) ChargeBlocked(_ context.Context, userDID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.blocked[userDID], nil
}

type PendingClaimRepository struct {
	mu     sync.Mutex
	claims map[string]domain.PendingClaim
}

func (r *PendingClaimRepository) Get(_ context.Context, userDID string, now time.Time) (*domain.PendingClaim, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	claim, ok := r.claims[userDID]
	if !ok {
		return nil, nil
	}
	if now.After(claim.ExpiresAt) {
		delete(r.claims, userDID)
		return nil, nil
	}
	clone := claim
	return &clone, nil
}

func (r *PendingClaimRepository) Put(_ context.Context, claim domain.PendingClaim) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.claims[claim.UserDID] = claim
	return nil
}

func (r *PendingClaimRepository) Delete(_ context.Context, userDID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.claims, userDID)
	return nil
}

type CheckpointStore struct {
	mu      sync.Mutex
	threads map[string][]saga.Checkpoint
}

func (s *CheckpointStore) Get(_ context.Context, threadID string) (*saga.Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	checkpoints := s.threads[threadID]
	if len(checkpoints) == 0 {
		return nil, nil
	}
	clone := checkpoints[len(checkpoints)-1]
	clone.Output = slices.Clone(clone.Output)
	return &clone, nil
}

func (s *CheckpointStore) Put(_ context.Context, threadID, step string, output json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.threads[threadID] = append(s.threads[threadID], saga.Checkpoint{
		Step:       step,
		Output:     slices.Clone(output),
		RecordedAt: time.Now().UTC(),
	})
	return nil
}

type ClaimArchive struct {
	mu     sync.Mutex
	claims []domain.SettlementClaim
}

func (a *ClaimArchive) Save(_ context.Context, claim domain.SettlementClaim) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.claims = append(a.claims, claim)
	return nil
}

func (a *ClaimArchive) ListByUser(_ context.Context, userDID string, limit, offset int) ([]domain.SettlementClaim, int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	matched := make([]domain.SettlementClaim, 0, len(a.claims))
	for _, claim := range a.claims {
		if userDID == "" || claim.UserDID == userDID {
			matched = append(matched, claim)
		}
	}
	total := len(matched)
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	if offset >= len(matched) {
		return []domain.SettlementClaim{}, total, nil
	}
	end := offset + limit
	if end > len(matched) {
		end = len(matched)
	}
	out := make([]domain.SettlementClaim, end-offset)
	copy(out, matched[offset:end])
	return out, total, nil
}

type dedupRecord struct {
	EventType string
	ExpiresAt time.Time
}

type EventDedupRepository struct {
	mu      sync.Mutex
	records map[string]dedupRecord
}

func (r *EventDedupRepository) IsDuplicate(_ context.Context, eventID string, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.records[eventID]
	if !ok {
		return false, nil
	}
	if now.After(record.ExpiresAt) {
		delete(r.records, eventID)
		return false, nil
	}
	return true, nil
}

func (r *EventDedupRepository) MarkProcessed(_ context.Context, eventID, eventType string, expiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[eventID] = dedupRecord{EventType: eventType, ExpiresAt: expiresAt}
	return nil
}

type OutboxRepository struct {
	mu      sync.Mutex
	records map[string]ports.OutboxRecord
	order   []string
}

func (r *OutboxRepository) Enqueue(_ context.Context, record ports.OutboxRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[record.RecordID] = record
	r.order = append(r.order, record.RecordID)
	return nil
}

func (r *OutboxRepository) ListPending(_ context.Context, limit int) ([]ports.OutboxRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if limit <= 0 {
		limit = 100
	}
	out := make([]ports.OutboxRecord, 0, limit)
	for _, id := range r.order {
		record, ok := r.records[id]
		if !ok || record.SentAt != nil {
			continue
		}
		out = append(out, record)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (r *OutboxRepository) MarkSent(_ context.Context, recordID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.records[recordID]
	if !ok {
		return domain.ErrNotFound
	}
	record.SentAt = &at
	r.records[recordID] = record
	return nil
}

// SnapshotStore serves subscription snapshots seeded by tests or cached by
// the runtime. An unknown user yields a zero snapshot, which the reconciler
// skips with a warning.
type SnapshotStore struct {
	mu        sync.Mutex
	snapshots map[string]domain.SubscriptionSnapshot
}

func (s *SnapshotStore) Set(snapshot domain.SubscriptionSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[snapshot.UserDID] = snapshot
}

func (s *SnapshotStore) Snapshot(_ context.Context, userDID string) (domain.SubscriptionSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshots[userDID], nil
}
