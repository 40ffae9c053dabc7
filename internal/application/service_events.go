package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/viralforge/mesh/services/financial-rails/M15-usage-settlement-service/internal/contracts"
	"github.com/viralforge/mesh/services/financial-rails/M15-usage-settlement-service/internal/domain"
	"github.com/viralforge/mesh/services/financial-rails/M15-usage-settlement-service/internal/ports"
	"github.com/viralforge/mesh/services/financial-rails/M15-usage-settlement-service/internal/saga"
)

// HandleDomainEvent processes billing.balance_confirmed events: the external
// billing collaborator's authoritative balance drives the override path.
func (s *Service) HandleDomainEvent(ctx context.Context, event contracts.EventEnvelope) error {
	if event.EventType != domain.EventBalanceConfirmed {
		return domain.ErrUnsupportedEventType
	}
	if event.EventClass != "" && event.EventClass != domain.CanonicalEventClassDomain {
		return domain.ErrUnsupportedEventClass
	}
	if err := validateDomainEventEnvelope(event, domain.EventBalanceConfirmed, "data.user_did"); err != nil {
		return err
	}

	now := s.nowFn()
	dup, err := s.eventDedup.IsDuplicate(ctx, event.EventID, now)
	if err != nil {
		return err
	}
	if dup {
		return nil
	}

	var payload contracts.BalanceConfirmedPayload
	if err := json.Unmarshal(event.Data, &payload); err != nil {
		return fmt.Errorf("decode balance_confirmed payload: %w", err)
	}

	_, clamped, err := s.OverrideBalance(ctx, payload.UserDID, payload.AuthoritativeBalance)
	if err != nil && !errors.Is(err, domain.ErrPaymentRequired) {
		return err
	}
	if clamped {
		s.logger.WarnContext(ctx, "balance override clamped to zero",
			"user_did", payload.UserDID,
			"authoritative_balance", payload.AuthoritativeBalance,
		)
	}
	return s.eventDedup.MarkProcessed(ctx, event.EventID, event.EventType, now.Add(s.cfg.EventDedupTTL))
}

// FlushOutbox publishes pending domain and ops events in enqueue order.
func (s *Service) FlushOutbox(ctx context.Context) error {
	pending, err := s.outbox.ListPending(ctx, s.cfg.OutboxFlushBatchSize)
	if err != nil {
		return err
	}
	for _, record := range pending {
		if record.EventClass != domain.CanonicalEventClassDomain && record.EventClass != domain.CanonicalEventClassOps {
			continue
		}
		if err := s.domainEvents.PublishDomain(ctx, record.Envelope); err != nil {
			return err
		}
		if err := s.outbox.MarkSent(ctx, record.RecordID, s.nowFn()); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) enqueueClaimCommitted(ctx context.Context, state SettlementState) error {
	settledAt := s.nowFn()
	payload := contracts.ClaimCommittedPayload{
		ClaimID:         state.ClaimID,
		UserDID:         state.UserDID,
		CID:             state.CID,
		TransactionHash: state.CommitTxHash,
		Amount:          state.Amount,
		Denom:           state.Denom,
		SplitIndex:      state.SplitIndex,
		SettledAt:       settledAt.Format(time.RFC3339),
	}
	return s.enqueueEnvelope(ctx, domain.EventClaimCommitted, domain.CanonicalEventClassDomain, "data.claim_id", state.ClaimID, settledAt, payload)
}

func (s *Service) enqueueClaimFailed(ctx context.Context, state SettlementState, cause error) error {
	failedAt := s.nowFn()
	payload := contracts.ClaimFailedPayload{
		ClaimID:    state.ClaimID,
		UserDID:    state.UserDID,
		Amount:     state.Amount,
		Denom:      state.Denom,
		SplitIndex: state.SplitIndex,
		Step:       failedStep(cause),
		Reason:     cause.Error(),
		FailedAt:   failedAt.Format(time.RFC3339),
	}
	return s.enqueueEnvelope(ctx, domain.EventClaimFailed, domain.CanonicalEventClassDomain, "data.claim_id", state.ClaimID, failedAt, payload)
}

func (s *Service) enqueueBalanceClamped(ctx context.Context, userDID string, authoritative, held float64) error {
	clampedAt := s.nowFn()
	payload := contracts.BalanceClampedPayload{
		UserDID:              userDID,
		AuthoritativeBalance: authoritative,
		HeldAmount:           held,
		ClampedAt:            clampedAt.Format(time.RFC3339),
	}
	return s.enqueueEnvelope(ctx, domain.EventBalanceClamped, domain.CanonicalEventClassOps, "data.user_did", userDID, clampedAt, payload)
}

func (s *Service) enqueueEnvelope(ctx context.Context, eventType, eventClass, partitionPath, partitionKey string, at time.Time, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return s.outbox.Enqueue(ctx, ports.OutboxRecord{
		RecordID:   uuid.NewString(),
		EventClass: eventClass,
		Envelope: contracts.EventEnvelope{
			EventID:          uuid.NewString(),
			EventType:        eventType,
			EventClass:       eventClass,
			OccurredAt:       at,
			PartitionKeyPath: partitionPath,
			PartitionKey:     partitionKey,
			SourceService:    s.cfg.ServiceName,
			TraceID:          uuid.NewString(),
			SchemaVersion:    "v1",
			Data:             data,
		},
		CreatedAt: s.nowFn(),
	})
}

func (s *Service) publishCycleCompleted(ctx context.Context, report CycleReport) error {
	at := s.nowFn()
	payload := contracts.CycleCompletedPayload{
		CycleID:      report.CycleID,
		UsersScanned: report.UsersScanned,
		UsersSettled: report.UsersSettled,
		UsersSkipped: report.UsersSkipped,
		UsersFailed:  report.UsersFailed,
		TotalSettled: report.TotalSettled,
		CompletedAt:  at.Format(time.RFC3339),
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return s.analytics.PublishAnalytics(ctx, contracts.EventEnvelope{
		EventID:          uuid.NewString(),
		EventType:        domain.EventCycleCompleted,
		EventClass:       domain.CanonicalEventClassAnalyticsOnly,
		OccurredAt:       at,
		PartitionKeyPath: "data.cycle_id",
		PartitionKey:     report.CycleID,
		SourceService:    s.cfg.ServiceName,
		TraceID:          uuid.NewString(),
		SchemaVersion:    "v1",
		Data:             data,
	})
}

func failedStep(err error) string {
	var stepErr *saga.StepError
	if errors.As(err, &stepErr) {
		return stepErr.Step
	}
	return "unknown"
}

func validateDomainEventEnvelope(event contracts.EventEnvelope, expectedEventType, expectedPartitionPath string) error {
	if strings.TrimSpace(event.EventID) == "" {
		return fmt.Errorf("%w: missing event_id", domain.ErrInvalidInput)
	}
	if event.EventType != expectedEventType {
		return fmt.Errorf("%w: unsupported event_type %s", domain.ErrInvalidInput, event.EventType)
	}
	if event.OccurredAt.IsZero() {
		return fmt.Errorf("%w: missing occurred_at", domain.ErrInvalidInput)
	}
	if strings.TrimSpace(event.SourceService) == "" {
		return fmt.Errorf("%w: missing source_service", domain.ErrInvalidInput)
	}
	if strings.TrimSpace(event.TraceID) == "" {
		return fmt.Errorf("%w: missing trace_id", domain.ErrInvalidInput)
	}
	if strings.TrimSpace(event.SchemaVersion) == "" {
		return fmt.Errorf("%w: missing schema_version", domain.ErrInvalidInput)
	}
	if len(event.Data) == 0 {
		return fmt.Errorf("%w: missing data payload", domain.ErrInvalidInput)
	}
	if event.PartitionKeyPath != expectedPartitionPath {
		return fmt.Errorf("%w: expected partition_key_path %s", domain.ErrInvalidInput, expectedPartitionPath)
	}
	field := strings.TrimPrefix(event.PartitionKeyPath, "data.")
	if strings.TrimSpace(field) == "" {
		return fmt.Errorf("%w: invalid partition_key_path", domain.ErrInvalidInput)
	}
	var payload map[string]interface{}
	if err := json.Unmarshal(event.Data, &payload); err != nil {
		return fmt.Errorf("%w: invalid data payload", domain.ErrInvalidInput)
	}
	value, ok := payload[field]
	if !ok {
		return fmt.Errorf("%w: partition key field %s missing from payload", domain.ErrInvalidInput, field)
	}
	if fmt.Sprint(value) != event.PartitionKey {
		return fmt.Errorf("%w: partition key invariant failed", domain.ErrInvalidInput)
	}
	return nil
}
