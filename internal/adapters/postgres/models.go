package postgres

import "time"

type checkpointModel struct {
	ID         int64     `gorm:"column:id;primaryKey;autoIncrement"`
	ThreadID   string    `gorm:"column:thread_id;index:idx_checkpoints_thread"`
	Step       string    `gorm:"column:step"`
	Output     []byte    `gorm:"column:output;type:jsonb"`
	RecordedAt time.Time `gorm:"column:recorded_at"`
}

func (checkpointModel) TableName() string { return "saga_checkpoints" }

type outboxModel struct {
	RecordID   string     `gorm:"column:record_id;primaryKey"`
	EventClass string     `gorm:"column:event_class"`
	Envelope   []byte     `gorm:"column:envelope;type:jsonb"`
	CreatedAt  time.Time  `gorm:"column:created_at;index:idx_outbox_created"`
	SentAt     *time.Time `gorm:"column:sent_at;index:idx_outbox_sent"`
}

func (outboxModel) TableName() string { return "settlement_outbox" }

type settledClaimModel struct {
	ClaimID         string    `gorm:"column:claim_id;primaryKey"`
	UserDID         string    `gorm:"column:user_did;index:idx_settled_claims_user"`
	CID             string    `gorm:"column:cid"`
	TransactionHash string    `gorm:"column:transaction_hash"`
	Amount          float64   `gorm:"column:amount"`
	Denom           string    `gorm:"column:denom"`
	SplitIndex      int       `gorm:"column:split_index"`
	SettledAt       time.Time `gorm:"column:settled_at"`
}

func (settledClaimModel) TableName() string { return "settled_claims" }
