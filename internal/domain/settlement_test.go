package domain

import (
	"testing"
	"time"
)

func TestGenerateClaimIDDeterministic(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 3, 1, 10, 30, 0, 123456789, time.UTC)
	first := GenerateClaimID("did:user:alice", start)
	second := GenerateClaimID("did:user:alice", start)
	if first != second {
		t.Fatalf("same inputs produced different claim ids: %s vs %s", first, second)
	}
	if len(first) != 64 {
		t.Fatalf("expected full hex digest, got %d chars", len(first))
	}

	if GenerateClaimID("did:user:bob", start) == first {
		t.Fatalf("different users produced the same claim id")
	}
	if GenerateClaimID("did:user:alice", start.Add(time.Nanosecond)) == first {
		t.Fatalf("different batch starts produced the same claim id")
	}
}

func TestGenerateClaimIDNormalizesZone(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC)
	local := start.In(time.FixedZone("UTC+3", 3*3600))
	if GenerateClaimID("did:user:alice", start) != GenerateClaimID("did:user:alice", local) {
		t.Fatalf("claim id should not depend on the input time zone")
	}
}

func TestSettlementThreadID(t *testing.T) {
	t.Parallel()

	if got := SettlementThreadID("did:user:alice", "abc123", 2); got != "did:user:alice:abc123:2" {
		t.Fatalf("unexpected thread id %s", got)
	}
	if SettlementThreadID("did:user:alice", "abc123", 0) == SettlementThreadID("did:user:alice", "abc123", 1) {
		t.Fatalf("split indexes must produce distinct thread ids")
	}
}

func TestValidateCharge(t *testing.T) {
	t.Parallel()

	if err := ValidateCharge("did:user:alice", 5); err != nil {
		t.Fatalf("valid charge rejected: %v", err)
	}
	if err := ValidateCharge("", 5); err != ErrInvalidInput {
		t.Fatalf("expected ErrInvalidInput for empty user, got %v", err)
	}
	if err := ValidateCharge("did:user:alice", 0); err != ErrInvalidInput {
		t.Fatalf("expected ErrInvalidInput for zero credits, got %v", err)
	}
	if err := ValidateCharge("did:user:alice", -1); err != ErrInvalidInput {
		t.Fatalf("expected ErrInvalidInput for negative credits, got %v", err)
	}
}
