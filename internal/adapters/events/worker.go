// Package events carries the event publishers, the consumer, and the
// background worker that drives the reconciliation loop.
package events

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/viralforge/mesh/services/financial-rails/M15-usage-settlement-service/internal/application"
	"github.com/viralforge/mesh/services/financial-rails/M15-usage-settlement-service/internal/contracts"
	"github.com/viralforge/mesh/services/financial-rails/M15-usage-settlement-service/internal/domain"
	"github.com/viralforge/mesh/services/financial-rails/M15-usage-settlement-service/internal/ports"
)

// Worker runs the periodic settlement cycle alongside the outbox flusher and
// the billing-confirmation consumer. A consumer poll failure is fatal; a
// failed settlement cycle is logged and retried on the next tick.
type Worker struct {
	logger             *slog.Logger
	consumer           ports.EventConsumer
	dlqPublisher       ports.DLQPublisher
	service            *application.Service
	pollInterval       time.Duration
	settlementInterval time.Duration
}

func NewWorker(logger *slog.Logger, consumer ports.EventConsumer, dlqPublisher ports.DLQPublisher, service *application.Service, pollInterval, settlementInterval time.Duration) *Worker {
	return &Worker{
		logger:             logger,
		consumer:           consumer,
		dlqPublisher:       dlqPublisher,
		service:            service,
		pollInterval:       pollInterval,
		settlementInterval: settlementInterval,
	}
}

func (w *Worker) Run(ctx context.Context) error {
	poll := time.NewTicker(w.pollInterval)
	defer poll.Stop()
	settle := time.NewTicker(w.settlementInterval)
	defer settle.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-settle.C:
			report, err := w.service.RunSettlementCycle(ctx)
			switch {
			case errors.Is(err, domain.ErrCycleInProgress):
				w.logger.WarnContext(ctx, "settlement cycle still running, skipping tick")
			case err != nil:
				w.logger.ErrorContext(ctx, "settlement cycle failed", "error", err)
			default:
				w.logger.InfoContext(ctx, "settlement cycle finished",
					"cycle_id", report.CycleID,
					"users_settled", report.UsersSettled,
					"users_skipped", report.UsersSkipped,
					"users_failed", report.UsersFailed,
					"total_settled", report.TotalSettled,
				)
			}
		case <-poll.C:
			if err := w.service.FlushOutbox(ctx); err != nil {
				return err
			}
			if w.consumer == nil {
				continue
			}
			event, err := w.consumer.Receive(ctx)
			if err != nil {
				if errors.Is(err, io.EOF) {
					continue
				}
				return err
			}
			if event == nil {
				continue
			}
			if err := w.service.HandleDomainEvent(ctx, *event); err != nil {
				now := time.Now().UTC()
				dlqErr := w.dlqPublisher.PublishDLQ(ctx, contracts.DLQRecord{
					OriginalEvent: *event,
					ErrorSummary:  err.Error(),
					RetryCount:    1,
					FirstSeenAt:   now,
					LastErrorAt:   now,
					SourceTopic:   event.EventType,
					TraceID:       event.TraceID,
				})
				if dlqErr != nil {
					return dlqErr
				}
				w.logger.ErrorContext(ctx, "event routed to dlq", "event_type", event.EventType, "event_id", event.EventID, "error", err)
			}
		}
	}
}
