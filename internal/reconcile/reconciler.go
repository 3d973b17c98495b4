// Package reconcile applies payment provider notifications to order groups.
// Pushed webhooks and operator status checks share one apply path.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/rafliafriza12/rbx-project-backup-sub002/internal/domain"
	"github.com/rafliafriza12/rbx-project-backup-sub002/internal/fulfillment"
	"github.com/rafliafriza12/rbx-project-backup-sub002/internal/orders"
	"github.com/rafliafriza12/rbx-project-backup-sub002/internal/payment"
	"github.com/rafliafriza12/rbx-project-backup-sub002/internal/telemetry"
)

const (
	maxWriteAttempts   = 3
	statusCheckTimeout = 30 * time.Second

	notePendingPrefix = "fulfillment pending: "
	noteFailedPrefix  = "fulfillment needs operator: "

	actorWebhook     = "webhook"
	actorStatusCheck = "status_check"
	actorFulfillment = "fulfillment"
)

var (
	ErrUnknownProvider       = errors.New("unknown payment provider")
	ErrMalformedNotification = errors.New("malformed payment notification")
)

type Ledger interface {
	Credit(ctx context.Context, customerID string, amount int64, correlationID string) error
}

type Fulfiller interface {
	DeliverScheduled(ctx context.Context, order domain.Order) (*fulfillment.Receipt, error)
	ActivateTier(ctx context.Context, order domain.Order) (*fulfillment.Receipt, error)
}

type Notifier interface {
	PaymentSettled(ctx context.Context, event domain.PaymentSettledEvent)
}

// Outcome is the group state after one notification was applied.
type Outcome struct {
	CorrelationID  string         `json:"correlation_id"`
	ProviderStatus string         `json:"provider_status"`
	Orders         []domain.Order `json:"orders"`
	// Updated is true when at least one order was written.
	Updated bool `json:"updated"`
	// Settled is true when at least one order entered settlement in this call.
	Settled   bool `json:"settled"`
	Duplicate bool `json:"duplicate"`
}

type Reconciler struct {
	store     orders.Store
	gateways  *payment.Registry
	ledger    Ledger
	fulfiller Fulfiller
	notifier  Notifier
	locker    Locker
	metrics   *telemetry.EngineMetrics
	logger    *slog.Logger
	now       func() time.Time

	checks singleflight.Group
}

// NewReconciler wires the collaborators. locker may be nil, in which case
// deliveries rely on conditional writes alone.
func NewReconciler(store orders.Store, gateways *payment.Registry, ledger Ledger, fulfiller Fulfiller, notifier Notifier, locker Locker, metrics *telemetry.EngineMetrics, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		store:     store,
		gateways:  gateways,
		ledger:    ledger,
		fulfiller: fulfiller,
		notifier:  notifier,
		locker:    locker,
		metrics:   metrics,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// HandleNotification authenticates a pushed notification from provider and
// applies it. Only ErrUnknownProvider, ErrMalformedNotification,
// domain.ErrSignatureInvalid, domain.ErrUnknownCorrelationID and store read
// failures are returned; everything after the group lookup is absorbed.
func (r *Reconciler) HandleNotification(ctx context.Context, provider string, body []byte) (*Outcome, error) {
	gw, ok := r.gateways.Get(provider)
	if !ok {
		r.metrics.RecordNotification(ctx, provider, "unknown_provider")
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, provider)
	}

	n, err := gw.ParseNotification(body)
	if err != nil {
		r.metrics.RecordNotification(ctx, provider, "malformed")
		return nil, fmt.Errorf("%w: %v", ErrMalformedNotification, err)
	}

	if !gw.VerifySignature(*n, n.Signature) {
		r.metrics.RecordNotification(ctx, provider, "invalid_signature")
		r.logger.Warn("notification signature rejected", "provider", provider, "correlation_id", n.OrderID)
		return nil, domain.ErrSignatureInvalid
	}

	release := r.lock(ctx, n.OrderID)
	defer release()

	out, err := r.apply(ctx, gw, *n, actorWebhook)
	if err != nil {
		if errors.Is(err, domain.ErrUnknownCorrelationID) {
			r.metrics.RecordNotification(ctx, provider, "unknown_order")
		} else {
			r.metrics.RecordNotification(ctx, provider, "error")
		}
		return nil, err
	}

	r.metrics.RecordNotification(ctx, provider, resultLabel(out))
	return out, nil
}

// CheckStatus polls the provider recorded on the group and runs the result
// through the same apply path as a webhook. Concurrent checks for one
// correlation id share a single provider call.
func (r *Reconciler) CheckStatus(ctx context.Context, correlationID string) (*Outcome, error) {
	v, err, _ := r.checks.Do(correlationID, func() (any, error) {
		// Callers joining this flight share the result, so the first
		// caller's cancellation must not fail them all.
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), statusCheckTimeout)
		defer cancel()

		group, err := r.store.FindByCorrelationID(ctx, correlationID)
		if err != nil {
			return nil, fmt.Errorf("load order group: %w", err)
		}
		if len(group) == 0 {
			return nil, domain.ErrUnknownCorrelationID
		}

		gw, ok := r.gateways.Get(group[0].Gateway.Provider)
		if !ok {
			gw = r.gateways.Active()
		}

		n, err := gw.GetStatus(ctx, correlationID)
		if errors.Is(err, payment.ErrTransactionNotFound) {
			return &Outcome{CorrelationID: correlationID, ProviderStatus: "not_found", Orders: group}, nil
		}
		if err != nil {
			return nil, err
		}
		n.OrderID = correlationID

		release := r.lock(ctx, correlationID)
		defer release()

		out, err := r.apply(ctx, gw, *n, actorStatusCheck)
		if err != nil {
			return nil, err
		}
		r.metrics.RecordNotification(ctx, gw.Name(), "status_check_"+resultLabel(out))
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Outcome), nil
}

func resultLabel(out *Outcome) string {
	switch {
	case out.Duplicate:
		return "duplicate"
	case out.Updated:
		return "processed"
	default:
		return "ignored"
	}
}

func (r *Reconciler) lock(ctx context.Context, correlationID string) func() {
	if r.locker == nil {
		return func() {}
	}
	release, err := r.locker.Acquire(ctx, correlationID)
	if err != nil {
		r.logger.Warn("proceeding without delivery lock", "error", err, "correlation_id", correlationID)
	}
	return release
}

func (r *Reconciler) apply(ctx context.Context, gw payment.Gateway, n payment.Notification, actor string) (*Outcome, error) {
	logger := r.logger.With("correlation_id", n.OrderID, "provider", gw.Name())

	group, err := r.store.FindByCorrelationID(ctx, n.OrderID)
	if err != nil {
		return nil, fmt.Errorf("load order group: %w", err)
	}
	if len(group) == 0 {
		return nil, domain.ErrUnknownCorrelationID
	}

	out := &Outcome{CorrelationID: n.OrderID, ProviderStatus: n.ProviderStatus, Orders: group}

	mapping := gw.MapStatus(n.ProviderStatus, n.PaymentType)
	if !mapping.Known {
		logger.Warn("unmapped provider status, notification ignored", "provider_status", n.ProviderStatus)
		return out, nil
	}

	if isDuplicate(group, n, mapping) {
		logger.Info("duplicate notification", "provider_transaction_id", n.ProviderTransactionID)
		out.Duplicate = true
		if actor == actorStatusCheck {
			r.retryFulfillment(ctx, logger, group, nil)
		}
		return out, nil
	}

	var settled []int
	for i := range group {
		applied, err := r.update(ctx, &group[i], func(o domain.Order) domain.OrderUpdate {
			return r.plan(o, n, mapping, gw.Name(), actor)
		})
		if err != nil {
			logger.Error("failed to apply notification to order", "error", err, "invoice_id", group[i].InvoiceID)
			continue
		}
		if applied.IsEmpty() {
			continue
		}
		out.Updated = true
		if applied.PaymentStatus != nil && *applied.PaymentStatus == domain.PaymentStatusSettlement {
			settled = append(settled, i)
		}
	}

	if len(settled) > 0 {
		out.Settled = true
		r.creditLedger(ctx, logger, group)
		for _, i := range settled {
			r.fulfill(ctx, logger, &group[i])
		}
		r.publishSettled(ctx, group, n)
	}
	if actor == actorStatusCheck {
		r.retryFulfillment(ctx, logger, group, settled)
	}

	logger.Info("notification applied",
		"provider_status", n.ProviderStatus, "updated", out.Updated, "settled_orders", len(settled))
	return out, nil
}

// isDuplicate reports whether the notification carries a transaction id that
// every order already records with the same mapped payment status.
func isDuplicate(group []domain.Order, n payment.Notification, mapping payment.StatusMapping) bool {
	if n.ProviderTransactionID == "" {
		return false
	}
	for _, o := range group {
		if o.Gateway.ProviderTransactionID != n.ProviderTransactionID || o.PaymentStatus != mapping.PaymentStatus {
			return false
		}
	}
	return true
}

// plan computes the write for one order. Terminal payment states are
// absorbing: nothing is written once an order left pending.
func (r *Reconciler) plan(o domain.Order, n payment.Notification, mapping payment.StatusMapping, provider, actor string) domain.OrderUpdate {
	var upd domain.OrderUpdate
	if o.PaymentStatus.IsTerminal() {
		return upd
	}
	now := r.now()

	if mapping.PaymentStatus != o.PaymentStatus {
		ps := mapping.PaymentStatus
		upd.PaymentStatus = &ps
		upd.History = append(upd.History, domain.StatusHistoryEntry{
			Status:    string(ps),
			Note:      paymentNote(provider, n),
			Actor:     actor,
			Timestamp: now,
		})
	}

	if hint := mapping.OrderStatusHint; hint != "" && o.OrderStatus.CanTransitionTo(hint) {
		upd.OrderStatus = &hint
		upd.History = append(upd.History, domain.StatusHistoryEntry{
			Status:    string(hint),
			Note:      fmt.Sprintf("order moved from %s to %s", o.OrderStatus, hint),
			Actor:     actor,
			Timestamp: now,
		})
	}

	if n.ProviderTransactionID != "" && n.ProviderTransactionID != o.Gateway.ProviderTransactionID {
		id := n.ProviderTransactionID
		upd.ProviderTransactionID = &id
	}
	if n.PaymentType != "" && n.PaymentType != o.Gateway.PaymentType {
		pt := n.PaymentType
		upd.PaymentType = &pt
	}

	return upd
}

func paymentNote(provider string, n payment.Notification) string {
	note := fmt.Sprintf("%s reported %s", provider, n.ProviderStatus)
	if n.PaymentType != "" {
		note += " via " + n.PaymentType
	}
	return note
}

// update writes the update built from the current order state, reloading
// and rebuilding when a concurrent writer got there first. It returns the
// update that was applied, which is empty when nothing needed writing.
func (r *Reconciler) update(ctx context.Context, o *domain.Order, build func(domain.Order) domain.OrderUpdate) (domain.OrderUpdate, error) {
	for attempt := 0; attempt < maxWriteAttempts; attempt++ {
		upd := build(*o)
		if upd.IsEmpty() {
			return upd, nil
		}

		err := r.store.ApplyUpdate(ctx, o.ID, o.Version, upd)
		if err == nil {
			upd.Apply(o, r.now())
			return upd, nil
		}
		if !errors.Is(err, domain.ErrConcurrentUpdate) {
			return domain.OrderUpdate{}, err
		}

		fresh, err := r.store.FindByInvoiceID(ctx, o.InvoiceID)
		if err != nil {
			return domain.OrderUpdate{}, fmt.Errorf("reload order: %w", err)
		}
		if fresh == nil {
			return domain.OrderUpdate{}, domain.ErrOrderNotFound
		}
		*o = *fresh
	}
	return domain.OrderUpdate{}, fmt.Errorf("%w after %d attempts", domain.ErrConcurrentUpdate, maxWriteAttempts)
}

// creditLedger credits the group total once, to the first order (by invoice
// id) that has a linked customer.
func (r *Reconciler) creditLedger(ctx context.Context, logger *slog.Logger, group []domain.Order) {
	var customerID string
	var total int64
	for _, o := range group {
		total += o.FinalAmount
		if customerID == "" && o.Customer.UserID != "" {
			customerID = o.Customer.UserID
		}
	}
	if customerID == "" {
		return
	}

	err := r.ledger.Credit(ctx, customerID, total, group[0].CorrelationID)
	switch {
	case err == nil:
		r.metrics.RecordCredit(ctx, "credited")
		logger.Info("ledger credited", "user_id", customerID, "amount", total)
	case errors.Is(err, domain.ErrAlreadyCredited):
		r.metrics.RecordCredit(ctx, "duplicate")
		logger.Info("ledger already credited", "user_id", customerID)
	default:
		r.metrics.RecordCredit(ctx, "error")
		logger.Error("ledger credit failed", "error", err, "user_id", customerID, "amount", total)
	}
}

// retryFulfillment re-runs fulfillment for orders settled by an earlier call
// whose last attempt failed with a retryable error. Orders in skip were just
// fulfilled by the caller.
func (r *Reconciler) retryFulfillment(ctx context.Context, logger *slog.Logger, group []domain.Order, skip []int) {
	for i := range group {
		if slices.Contains(skip, i) || !awaitingFulfillmentRetry(group[i]) {
			continue
		}
		logger.Info("retrying fulfillment", "invoice_id", group[i].InvoiceID)
		r.fulfill(ctx, logger, &group[i])
	}
}

func awaitingFulfillmentRetry(o domain.Order) bool {
	if o.PaymentStatus != domain.PaymentStatusSettlement || o.OrderStatus != domain.OrderStatusProcessing {
		return false
	}
	if len(o.StatusHistory) == 0 {
		return false
	}
	last := o.StatusHistory[len(o.StatusHistory)-1]
	return last.Actor == actorFulfillment && strings.HasPrefix(last.Note, notePendingPrefix)
}

// fulfill runs the automated side effect of a settled order, if it has one.
// Success completes the order. Failure leaves it processing with a note: a
// retryable failure is picked up again by the next status check, any other
// waits for an operator.
func (r *Reconciler) fulfill(ctx context.Context, logger *slog.Logger, o *domain.Order) {
	var run func(context.Context, domain.Order) (*fulfillment.Receipt, error)
	switch {
	case o.ServiceType == domain.ServiceTypeMembership:
		run = r.fulfiller.ActivateTier
	case o.ServiceCategory.IsScheduledDelivery() && o.Payload.Robux != nil:
		run = r.fulfiller.DeliverScheduled
	default:
		return
	}
	if o.OrderStatus != domain.OrderStatusProcessing {
		return
	}

	receipt, err := run(ctx, *o)

	_, writeErr := r.update(ctx, o, func(cur domain.Order) domain.OrderUpdate {
		var upd domain.OrderUpdate
		entry := domain.StatusHistoryEntry{Actor: actorFulfillment, Timestamp: r.now()}

		if err != nil {
			entry.Status = string(cur.OrderStatus)
			entry.Note = noteFailedPrefix + err.Error()
			var ferr *domain.FulfillmentError
			if errors.As(err, &ferr) && ferr.Retryable {
				entry.Note = notePendingPrefix + err.Error()
			}
			upd.History = append(upd.History, entry)
			return upd
		}
		if !cur.OrderStatus.CanTransitionTo(domain.OrderStatusCompleted) {
			return upd
		}
		completed := domain.OrderStatusCompleted
		upd.OrderStatus = &completed
		entry.Status = string(completed)
		entry.Note = receipt.Note
		upd.History = append(upd.History, entry)
		return upd
	})

	if err != nil {
		logger.Warn("fulfillment failed", "error", err, "invoice_id", o.InvoiceID)
	}
	if writeErr != nil {
		logger.Error("failed to record fulfillment result", "error", writeErr, "invoice_id", o.InvoiceID)
	}
}

func (r *Reconciler) publishSettled(ctx context.Context, group []domain.Order, n payment.Notification) {
	first := group[0]
	ids := make([]string, len(group))
	var paid int64
	for i, o := range group {
		ids[i] = o.InvoiceID
		paid += o.FinalAmount + o.PaymentFee
	}

	r.notifier.PaymentSettled(ctx, domain.PaymentSettledEvent{
		CorrelationID: first.CorrelationID,
		InvoiceIDs:    ids,
		CustomerEmail: first.Customer.Email,
		CustomerName:  first.Customer.Name,
		PaidAmount:    paid,
		PaymentType:   n.PaymentType,
		Timestamp:     r.now(),
	})
}
