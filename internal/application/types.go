package application

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/viralforge/mesh/services/financial-rails/M15-usage-settlement-service/internal/ports"
	"github.com/viralforge/mesh/services/financial-rails/M15-usage-settlement-service/internal/saga"
)

type Config struct {
	ServiceName string

	// SettlementThreshold is the minimum held amount worth filing a claim for.
	SettlementThreshold float64
	// Denom is the active settlement denomination.
	Denom string
	// MaxClaimAmounts caps a single claim per denomination. A missing entry
	// for the active denom is a configuration error at settlement time.
	MaxClaimAmounts map[string]float64
	// GranteeAddress is this oracle's address, used for the active-intent
	// check against the user's claim collection.
	GranteeAddress string

	PendingClaimTTL time.Duration
	Retry           saga.RetryPolicy
	EventDedupTTL   time.Duration

	// SuppressPaymentRequired disables the corruption guard's charge block
	// when a balance override clamps to zero.
	SuppressPaymentRequired bool

	OutboxFlushBatchSize int
}

type Actor struct {
	SubjectID string
	Role      string
	RequestID string
}

// CycleReport summarizes one reconciliation tick.
type CycleReport struct {
	CycleID      string
	UsersScanned int
	UsersSettled int
	UsersSkipped int
	UsersFailed  int
	TotalSettled float64
}

type Service struct {
	cfg    Config
	logger *slog.Logger

	ledger      ports.MeteringLedger
	claims      ports.PendingClaimRepository
	archive     ports.ClaimArchive
	eventDedup  ports.EventDedupRepository
	outbox      ports.OutboxRepository
	checkpoints ports.CheckpointStore

	chain         ports.ChainClient
	records       ports.RecordStore
	billing       ports.BillingNotifier
	subscriptions ports.SubscriptionReader

	domainEvents ports.DomainPublisher
	analytics    ports.AnalyticsPublisher
	dlq          ports.DLQPublisher

	runner      *saga.Runner[SettlementState]
	cycleActive atomic.Bool

	// userLocks serializes settlement, charging repairs, and overrides per
	// user. Cross-process deployments must shard users to keep the guarantee.
	userMu    sync.Mutex
	userLocks map[string]*sync.Mutex

	nowFn func() time.Time
}

type Dependencies struct {
	Config        Config
	Logger        *slog.Logger
	Ledger        ports.MeteringLedger
	PendingClaims ports.PendingClaimRepository
	Archive       ports.ClaimArchive
	EventDedup    ports.EventDedupRepository
	Outbox        ports.OutboxRepository
	Checkpoints   ports.CheckpointStore
	Chain         ports.ChainClient
	Records       ports.RecordStore
	Billing       ports.BillingNotifier
	Subscriptions ports.SubscriptionReader
	DomainEvents  ports.DomainPublisher
	Analytics     ports.AnalyticsPublisher
	DLQ           ports.DLQPublisher
}

func NewService(deps Dependencies) *Service {
	cfg := deps.Config
	if cfg.ServiceName == "" {
		cfg.ServiceName = "M15-Usage-Settlement-Service"
	}
	if cfg.SettlementThreshold <= 0 {
		cfg.SettlementThreshold = 100
	}
	if cfg.Denom == "" {
		cfg.Denom = "uixo"
	}
	if cfg.PendingClaimTTL <= 0 {
		cfg.PendingClaimTTL = time.Hour
	}
	if cfg.EventDedupTTL <= 0 {
		cfg.EventDedupTTL = 7 * 24 * time.Hour
	}
	if cfg.OutboxFlushBatchSize <= 0 {
		cfg.OutboxFlushBatchSize = 100
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	svc := &Service{
		cfg:           cfg,
		logger:        logger,
		ledger:        deps.Ledger,
		claims:        deps.PendingClaims,
		archive:       deps.Archive,
		eventDedup:    deps.EventDedup,
		outbox:        deps.Outbox,
		checkpoints:   deps.Checkpoints,
		chain:         deps.Chain,
		records:       deps.Records,
		billing:       deps.Billing,
		subscriptions: deps.Subscriptions,
		domainEvents:  deps.DomainEvents,
		analytics:     deps.Analytics,
		dlq:           deps.DLQ,
		userLocks:     make(map[string]*sync.Mutex),
		nowFn:         func() time.Time { return time.Now().UTC() },
	}
	svc.runner = saga.NewRunner[SettlementState](deps.Checkpoints, cfg.Retry, logger)
	return svc
}

// lockUser returns the unlock function for the user's settlement lock.
func (s *Service) lockUser(userDID string) func() {
	s.userMu.Lock()
	mu, ok := s.userLocks[userDID]
	if !ok {
		mu = &sync.Mutex{}
		s.userLocks[userDID] = mu
	}
	s.userMu.Unlock()
	mu.Lock()
	return mu.Unlock
}
