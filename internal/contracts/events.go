package contracts

import (
	"encoding/json"
	"time"
)

type EventEnvelope struct {
	EventID          string          `json:"event_id"`
	EventType        string          `json:"event_type"`
	EventClass       string          `json:"event_class,omitempty"`
	OccurredAt       time.Time       `json:"occurred_at"`
	PartitionKeyPath string          `json:"partition_key_path"`
	PartitionKey     string          `json:"partition_key"`
	SourceService    string          `json:"source_service"`
	TraceID          string          `json:"trace_id"`
	SchemaVersion    string          `json:"schema_version"`
	Data             json.RawMessage `json:"data"`
}

// BalanceConfirmedPayload is emitted by the billing service after it confirms
// a user's authoritative credit balance with the payment provider.
type BalanceConfirmedPayload struct {
	UserDID              string  `json:"user_did"`
	AuthoritativeBalance float64 `json:"authoritative_balance"`
	ConfirmedAt          string  `json:"confirmed_at"`
}

type ClaimCommittedPayload struct {
	ClaimID         string  `json:"claim_id"`
	UserDID         string  `json:"user_did"`
	CID             string  `json:"cid"`
	TransactionHash string  `json:"transaction_hash"`
	Amount          float64 `json:"amount"`
	Denom           string  `json:"denom"`
	SplitIndex      int     `json:"split_index"`
	SettledAt       string  `json:"settled_at"`
}

type ClaimFailedPayload struct {
	ClaimID    string  `json:"claim_id"`
	UserDID    string  `json:"user_did"`
	Amount     float64 `json:"amount"`
	Denom      string  `json:"denom"`
	SplitIndex int     `json:"split_index"`
	Step       string  `json:"step"`
	Reason     string  `json:"reason"`
	FailedAt   string  `json:"failed_at"`
}

type CycleCompletedPayload struct {
	CycleID      string  `json:"cycle_id"`
	UsersScanned int     `json:"users_scanned"`
	UsersSettled int     `json:"users_settled"`
	UsersSkipped int     `json:"users_skipped"`
	UsersFailed  int     `json:"users_failed"`
	TotalSettled float64 `json:"total_settled"`
	CompletedAt  string  `json:"completed_at"`
}

type BalanceClampedPayload struct {
	UserDID              string  `json:"user_did"`
	AuthoritativeBalance float64 `json:"authoritative_balance"`
	HeldAmount           float64 `json:"held_amount"`
	ClampedAt            string  `json:"clamped_at"`
}

type DLQRecord struct {
	OriginalEvent EventEnvelope `json:"original_event"`
	ErrorSummary  string        `json:"error_summary"`
	RetryCount    int           `json:"retry_count"`
	FirstSeenAt   time.Time     `json:"first_seen_at"`
	LastErrorAt   time.Time     `json:"last_error_at"`
	SourceTopic   string        `json:"source_topic,omitempty"`
	TraceID       string        `json:"trace_id,omitempty"`
}
