// Package bootstrap loads configuration and assembles the service runtime.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	eventadapter "github.com/viralforge/mesh/services/financial-rails/M15-usage-settlement-service/internal/adapters/events"
	grpcadapter "github.com/viralforge/mesh/services/financial-rails/M15-usage-settlement-service/internal/adapters/grpc"
	httpadapter "github.com/viralforge/mesh/services/financial-rails/M15-usage-settlement-service/internal/adapters/http"
	"github.com/viralforge/mesh/services/financial-rails/M15-usage-settlement-service/internal/adapters/memory"
	"github.com/viralforge/mesh/services/financial-rails/M15-usage-settlement-service/internal/adapters/postgres"
	redisadapter "github.com/viralforge/mesh/services/financial-rails/M15-usage-settlement-service/internal/adapters/redis"
	"github.com/viralforge/mesh/services/financial-rails/M15-usage-settlement-service/internal/application"
	"github.com/viralforge/mesh/services/financial-rails/M15-usage-settlement-service/internal/domain"
	"github.com/viralforge/mesh/services/financial-rails/M15-usage-settlement-service/internal/ports"
	"github.com/viralforge/mesh/services/financial-rails/M15-usage-settlement-service/internal/saga"
	"google.golang.org/grpc"
)

type Runtime struct {
	cfg        Config
	logger     *slog.Logger
	httpServer *http.Server
	grpcServer *grpc.Server
	grpcLis    net.Listener
	worker     *eventadapter.Worker
}

// NewRuntime wires adapters by configuration: redis for the hot ledger path,
// postgres for durable checkpoints and the archive, kafka for events. Anything
// unconfigured falls back to the in-memory adapter so the service still runs
// without infrastructure.
func NewRuntime(ctx context.Context, configPath string) (*Runtime, error) {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})).With("service", cfg.ServiceID)
	slog.SetDefault(logger)

	repos := memory.NewRepositories()
	var (
		ledger        ports.MeteringLedger      = repos.Ledger
		pendingClaims ports.PendingClaimRepository = repos.PendingClaims
		checkpoints   ports.CheckpointStore     = repos.Checkpoints
		archive       ports.ClaimArchive        = repos.Archive
		eventDedup    ports.EventDedupRepository = repos.EventDedup
		outbox        ports.OutboxRepository    = repos.Outbox
		subscriptions ports.SubscriptionReader  = grpcadapter.NewSubscriptionClient(cfg.SubscriptionGRPCURL)
	)

	if cfg.RedisURL != "" {
		client, err := redisadapter.Connect(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		ledger = redisadapter.NewMeteringLedger(client)
		pendingClaims = redisadapter.NewPendingClaimRepository(client)
		checkpoints = redisadapter.NewCheckpointStore(client, cfg.CheckpointTTL)
		eventDedup = redisadapter.NewEventDedupRepository(client)
		subscriptions = redisadapter.NewCachedSubscriptionReader(client, subscriptions, cfg.SnapshotCacheTTL)
	}

	if cfg.DatabaseURL != "" {
		db, err := postgres.Connect(ctx, cfg.DatabaseURL, cfg.DatabaseMaxConns)
		if err != nil {
			return nil, err
		}
		if err := postgres.Migrate(ctx, db); err != nil {
			return nil, fmt.Errorf("migrate postgres: %w", err)
		}
		pg := postgres.NewRepositories(db)
		checkpoints = pg.Checkpoints
		outbox = pg.Outbox
		archive = pg.Archive
	}

	var (
		domainPublisher    ports.DomainPublisher    = eventadapter.NewMemoryDomainPublisher()
		analyticsPublisher ports.AnalyticsPublisher = eventadapter.NewMemoryAnalyticsPublisher()
		dlqPublisher       ports.DLQPublisher       = eventadapter.NewLoggingDLQPublisher()
		consumer           ports.EventConsumer
	)
	if len(cfg.KafkaBrokers) > 0 {
		publisher, err := eventadapter.NewKafkaPublisher(cfg.KafkaBrokers, map[string]string{
			domain.EventClaimCommitted: cfg.TopicClaimCommitted,
			domain.EventClaimFailed:    cfg.TopicClaimFailed,
			domain.EventCycleCompleted: cfg.TopicCycleCompleted,
			domain.EventBalanceClamped: cfg.TopicBalanceClamped,
		}, cfg.DLQTopic)
		if err != nil {
			return nil, err
		}
		domainPublisher = publisher
		analyticsPublisher = publisher
		dlqPublisher = publisher
		kafkaConsumer, err := eventadapter.NewKafkaConsumer(cfg.KafkaBrokers, cfg.KafkaConsumerGroup, []string{cfg.TopicBalanceConfirmed})
		if err != nil {
			return nil, err
		}
		consumer = kafkaConsumer
	}

	service := application.NewService(application.Dependencies{
		Config: application.Config{
			ServiceName:         cfg.ServiceID,
			SettlementThreshold: cfg.SettlementThreshold,
			Denom:               cfg.ActiveDenom,
			MaxClaimAmounts:     cfg.MaxClaimAmounts,
			GranteeAddress:      cfg.GranteeAddress,
			PendingClaimTTL:     cfg.PendingClaimTTL,
			Retry: saga.RetryPolicy{
				MaxAttempts:     cfg.RetryMaxAttempts,
				InitialInterval: cfg.RetryInitialInterval,
				BackoffFactor:   cfg.RetryBackoffFactor,
			},
			EventDedupTTL:           cfg.EventDedupTTL,
			SuppressPaymentRequired: cfg.SuppressPaymentRequired,
			OutboxFlushBatchSize:    cfg.OutboxFlushBatchSize,
		},
		Logger:        logger,
		Ledger:        ledger,
		PendingClaims: pendingClaims,
		Archive:       archive,
		EventDedup:    eventDedup,
		Outbox:        outbox,
		Checkpoints:   checkpoints,
		Chain:         grpcadapter.NewChainClient(cfg.ChainGRPCURL),
		Records:       grpcadapter.NewRecordClient(cfg.RecordsGRPCURL),
		Billing:       httpadapter.NewBillingClient(cfg.BillingNotifyURL),
		Subscriptions: subscriptions,
		DomainEvents:  domainPublisher,
		Analytics:     analyticsPublisher,
		DLQ:           dlqPublisher,
	})

	handler := httpadapter.NewHandler(service)
	router := httpadapter.NewRouter(handler)
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	grpcServer := grpc.NewServer()
	grpcadapter.Register(grpcServer, grpcadapter.NewSettlementInternalServer())
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.GRPCPort))
	if err != nil {
		return nil, err
	}

	worker := eventadapter.NewWorker(logger, consumer, dlqPublisher, service, cfg.ConsumerPollInterval, cfg.SettlementInterval)

	return &Runtime{
		cfg:        cfg,
		logger:     logger,
		httpServer: httpServer,
		grpcServer: grpcServer,
		grpcLis:    lis,
		worker:     worker,
	}, nil
}

func (r *Runtime) RunAPI(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	errCh := make(chan error, 2)

	go func() {
		if err := r.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	go func() {
		if err := r.grpcServer.Serve(r.grpcLis); err != nil {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		r.logger.ErrorContext(ctx, "runtime failure", "error", err)
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = r.httpServer.Shutdown(shutdownCtx)
	r.grpcServer.GracefulStop()
	return nil
}

func (r *Runtime) RunWorker(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	errCh := make(chan error, 1)
	go func() {
		if err := r.worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- err
		}
	}()
	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}
