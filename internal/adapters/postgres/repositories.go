package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/viralforge/mesh/services/financial-rails/M15-usage-settlement-service/internal/contracts"
	"github.com/viralforge/mesh/services/financial-rails/M15-usage-settlement-service/internal/domain"
	"github.com/viralforge/mesh/services/financial-rails/M15-usage-settlement-service/internal/ports"
	"github.com/viralforge/mesh/services/financial-rails/M15-usage-settlement-service/internal/saga"
	"gorm.io/gorm"
)

type Repositories struct {
	Checkpoints *CheckpointStore
	Outbox      *OutboxRepository
	Archive     *ClaimArchive
}

func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		Checkpoints: &CheckpointStore{db: db},
		Outbox:      &OutboxRepository{db: db},
		Archive:     &ClaimArchive{db: db},
	}
}

// CheckpointStore appends one row per completed saga step.
type CheckpointStore struct {
	db *gorm.DB
}

func (s *CheckpointStore) Get(ctx context.Context, threadID string) (*saga.Checkpoint, error) {
	var rec checkpointModel
	err := s.db.WithContext(ctx).
		Where("thread_id = ?", threadID).
		Order("id DESC").
		Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &saga.Checkpoint{
		Step:       rec.Step,
		Output:     json.RawMessage(rec.Output),
		RecordedAt: rec.RecordedAt,
	}, nil
}

func (s *CheckpointStore) Put(ctx context.Context, threadID, step string, output json.RawMessage) error {
	return s.db.WithContext(ctx).Create(&checkpointModel{
		ThreadID:   threadID,
		Step:       step,
		Output:     []byte(output),
		RecordedAt: time.Now().UTC(),
	}).Error
}

type OutboxRepository struct {
	db *gorm.DB
}

func (r *OutboxRepository) Enqueue(ctx context.Context, record ports.OutboxRecord) error {
	envelope, err := json.Marshal(record.Envelope)
	if err != nil {
		return err
	}
	return r.db.WithContext(ctx).Create(&outboxModel{
		RecordID:   record.RecordID,
		EventClass: record.EventClass,
		Envelope:   envelope,
		CreatedAt:  record.CreatedAt,
		SentAt:     record.SentAt,
	}).Error
}

func (r *OutboxRepository) ListPending(ctx context.Context, limit int) ([]ports.OutboxRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []outboxModel
	if err := r.db.WithContext(ctx).
		Where("sent_at IS NULL").
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]ports.OutboxRecord, 0, len(rows))
	for _, row := range rows {
		var envelope contracts.EventEnvelope
		if err := json.Unmarshal(row.Envelope, &envelope); err != nil {
			return nil, err
		}
		out = append(out, ports.OutboxRecord{
			RecordID:   row.RecordID,
			EventClass: row.EventClass,
			Envelope:   envelope,
			CreatedAt:  row.CreatedAt,
			SentAt:     row.SentAt,
		})
	}
	return out, nil
}

func (r *OutboxRepository) MarkSent(ctx context.Context, recordID string, at time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&outboxModel{}).
		Where("record_id = ?", recordID).
		Update("sent_at", at)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

type ClaimArchive struct {
	db *gorm.DB
}

func (a *ClaimArchive) Save(ctx context.Context, claim domain.SettlementClaim) error {
	err := a.db.WithContext(ctx).Create(&settledClaimModel{
		ClaimID:         claim.ClaimID,
		UserDID:         claim.UserDID,
		CID:             claim.CID,
		TransactionHash: claim.TransactionHash,
		Amount:          claim.Amount,
		Denom:           claim.Denom,
		SplitIndex:      claim.SplitIndex,
		SettledAt:       claim.SettledAt,
	}).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		// Re-archiving after a resumed saga is not an error.
		return nil
	}
	return err
}

func (a *ClaimArchive) ListByUser(ctx context.Context, userDID string, limit, offset int) ([]domain.SettlementClaim, int, error) {
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	query := a.db.WithContext(ctx).Model(&settledClaimModel{})
	if userDID != "" {
		query = query.Where("user_did = ?", userDID)
	}
	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var rows []settledClaimModel
	if err := query.Order("settled_at DESC").Limit(limit).Offset(offset).Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	out := make([]domain.SettlementClaim, 0, len(rows))
	for _, row := range rows {
		out = append(out, domain.SettlementClaim{
			ClaimID:         row.ClaimID,
			UserDID:         row.UserDID,
			CID:             row.CID,
			TransactionHash: row.TransactionHash,
			Amount:          row.Amount,
			Denom:           row.Denom,
			SplitIndex:      row.SplitIndex,
			SettledAt:       row.SettledAt,
		})
	}
	return out, int(total), nil
}
