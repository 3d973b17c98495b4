// Package notify sends best-effort customer notifications. Nothing here can
// fail or slow down the request that triggered it.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/rafliafriza12/rbx-project-backup-sub002/internal/domain"
	"github.com/rafliafriza12/rbx-project-backup-sub002/internal/messaging"
)

const publishTimeout = 5 * time.Second

type Publisher interface {
	Publish(ctx context.Context, topic, key string, event any) error
}

// Notifier publishes events on a detached goroutine with its own deadline.
// A nil publisher turns every call into a logged no-op.
type Notifier struct {
	publisher Publisher
	logger    *slog.Logger
	wg        sync.WaitGroup
}

func NewNotifier(publisher Publisher, logger *slog.Logger) *Notifier {
	return &Notifier{
		publisher: publisher,
		logger:    logger,
	}
}

func (n *Notifier) InvoiceCreated(ctx context.Context, event domain.InvoiceCreatedEvent) {
	n.dispatch(ctx, messaging.TopicInvoiceCreated, event.CorrelationID, event)
}

func (n *Notifier) PaymentSettled(ctx context.Context, event domain.PaymentSettledEvent) {
	n.dispatch(ctx, messaging.TopicPaymentSettled, event.CorrelationID, event)
}

func (n *Notifier) dispatch(ctx context.Context, topic, key string, event any) {
	if n.publisher == nil {
		n.logger.Debug("notification skipped, no publisher", "topic", topic, "correlation_id", key)
		return
	}

	// keep the trace, drop the request's cancellation
	detached := context.WithoutCancel(ctx)

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()

		pubCtx, cancel := context.WithTimeout(detached, publishTimeout)
		defer cancel()

		if err := n.publisher.Publish(pubCtx, topic, key, event); err != nil {
			n.logger.Error("failed to publish notification", "error", err, "topic", topic, "correlation_id", key)
			return
		}
		n.logger.Info("notification published", "topic", topic, "correlation_id", key)
	}()
}

// Wait blocks until in-flight notifications finish. Called on shutdown.
func (n *Notifier) Wait() {
	n.wg.Wait()
}
