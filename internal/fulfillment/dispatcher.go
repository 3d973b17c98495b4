// Package fulfillment runs the side effects of a settled payment: buying the
// customer's gamepass from a pooled stock account, and activating a
// membership tier.
package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rafliafriza12/rbx-project-backup-sub002/internal/automation"
	"github.com/rafliafriza12/rbx-project-backup-sub002/internal/domain"
	"github.com/rafliafriza12/rbx-project-backup-sub002/internal/stockpool"
	"github.com/rafliafriza12/rbx-project-backup-sub002/internal/telemetry"
)

const (
	KindScheduledDelivery = "scheduled_delivery"
	KindTierActivation    = "tier_activation"
)

type StockPool interface {
	FindSmallestSufficient(ctx context.Context, required int64) (*domain.StockAccount, error)
	UpdateBalance(ctx context.Context, id string, balance int64) error
	Claim(ctx context.Context, id string, required int64) error
	Release(ctx context.Context, id string, balance int64) error
}

type Automation interface {
	CheckBalance(ctx context.Context, username string) (int64, error)
	PurchaseGamepass(ctx context.Context, req automation.PurchaseRequest) (*automation.PurchaseResult, error)
}

type TierWriter interface {
	SetTier(ctx context.Context, customerID, tier string, expiresAt time.Time) error
}

// Receipt describes a completed fulfillment. Note is appended to the order's
// status history as is.
type Receipt struct {
	Kind            string
	Note            string
	AccountID       string
	AccountUsername string
	ProviderRef     string
	TierExpiresAt   time.Time
}

type Dispatcher struct {
	pool       StockPool
	automation Automation
	tiers      TierWriter
	metrics    *telemetry.EngineMetrics
	logger     *slog.Logger
	now        func() time.Time
}

func NewDispatcher(pool StockPool, auto Automation, tiers TierWriter, metrics *telemetry.EngineMetrics, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		pool:       pool,
		automation: auto,
		tiers:      tiers,
		metrics:    metrics,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func fail(kind, reason string, retryable bool, err error) *domain.FulfillmentError {
	return &domain.FulfillmentError{Kind: kind, Reason: reason, Retryable: retryable, Err: err}
}

// guard converts a panic in a collaborator into a FulfillmentError so it
// never unwinds through the reconciler.
func (d *Dispatcher) guard(ctx context.Context, kind string, receipt **Receipt, err *error) {
	if r := recover(); r != nil {
		d.logger.Error("fulfillment panicked", "kind", kind, "panic", r)
		*receipt = nil
		*err = fail(kind, fmt.Sprintf("unexpected failure: %v", r), true, nil)
	}

	result := "success"
	var fe *domain.FulfillmentError
	if errors.As(*err, &fe) {
		result = "failed"
		if fe.Retryable {
			result = "retry"
		}
	}
	d.metrics.RecordFulfillment(ctx, kind, result)
}

// DeliverScheduled buys the order's gamepass with the smallest stock account
// that covers its price. The account's live balance is re-read right before
// the claim, and the claim itself is a conditional write.
func (d *Dispatcher) DeliverScheduled(ctx context.Context, order domain.Order) (receipt *Receipt, err error) {
	defer d.guard(ctx, KindScheduledDelivery, &receipt, &err)

	p := order.Payload.Robux
	if p == nil || p.GamepassID == "" || p.GamepassPrice <= 0 {
		return nil, fail(KindScheduledDelivery, "order has no gamepass to purchase", false, nil)
	}
	required := p.GamepassPrice

	acc, lookupErr := d.pool.FindSmallestSufficient(ctx, required)
	if lookupErr != nil {
		return nil, fail(KindScheduledDelivery, "stock pool lookup failed", true, lookupErr)
	}
	if acc == nil {
		return nil, fail(KindScheduledDelivery, fmt.Sprintf("no stock account covers %d robux", required), true, nil)
	}

	live, checkErr := d.automation.CheckBalance(ctx, acc.Username)
	if checkErr != nil {
		return nil, fail(KindScheduledDelivery, fmt.Sprintf("balance check for %s failed", acc.Username), true, checkErr)
	}
	if updErr := d.pool.UpdateBalance(ctx, acc.ID, live); updErr != nil {
		d.logger.Error("failed to record stock account balance", "error", updErr, "account_id", acc.ID)
	}
	if live < required {
		return nil, fail(KindScheduledDelivery,
			fmt.Sprintf("stock account %s balance dropped to %d, need %d", acc.Username, live, required), true, nil)
	}

	if claimErr := d.pool.Claim(ctx, acc.ID, required); claimErr != nil {
		if errors.Is(claimErr, stockpool.ErrAccountUnavailable) {
			return nil, fail(KindScheduledDelivery, fmt.Sprintf("stock account %s was taken", acc.Username), true, claimErr)
		}
		return nil, fail(KindScheduledDelivery, "stock account claim failed", true, claimErr)
	}

	result, purchaseErr := d.automation.PurchaseGamepass(ctx, automation.PurchaseRequest{
		AccountUsername: acc.Username,
		GamepassID:      p.GamepassID,
		PlaceID:         p.PlaceID,
		ExpectedPrice:   required,
		BuyerUsername:   p.Username,
	})

	balance := d.refreshBalance(ctx, acc.Username, live, required, purchaseErr == nil)
	if relErr := d.pool.Release(ctx, acc.ID, balance); relErr != nil {
		d.logger.Error("failed to release stock account", "error", relErr, "account_id", acc.ID)
	}

	if purchaseErr != nil {
		retryable := !errors.Is(purchaseErr, automation.ErrPurchaseRejected)
		return nil, fail(KindScheduledDelivery, fmt.Sprintf("gamepass purchase with %s failed", acc.Username), retryable, purchaseErr)
	}

	d.logger.Info("scheduled delivery completed",
		"invoice_id", order.InvoiceID, "account_id", acc.ID, "gamepass_id", p.GamepassID)

	return &Receipt{
		Kind:            KindScheduledDelivery,
		Note:            fmt.Sprintf("delivered via stock account %s, balance now %d", acc.Username, balance),
		AccountID:       acc.ID,
		AccountUsername: acc.Username,
		ProviderRef:     result.TransactionID,
	}, nil
}

// refreshBalance re-reads the balance after a purchase attempt, falling back
// to the expected value when the check fails.
func (d *Dispatcher) refreshBalance(ctx context.Context, username string, before, spent int64, purchased bool) int64 {
	balance, err := d.automation.CheckBalance(ctx, username)
	if err == nil {
		return balance
	}
	d.logger.Warn("post-purchase balance check failed", "error", err, "account", username)
	if purchased {
		return before - spent
	}
	return before
}

// ActivateTier grants the membership tier to the order's linked customer
// until now plus the package duration.
func (d *Dispatcher) ActivateTier(ctx context.Context, order domain.Order) (receipt *Receipt, err error) {
	defer d.guard(ctx, KindTierActivation, &receipt, &err)

	p := order.Payload.Membership
	if p == nil || p.TierCode == "" || p.DurationDays <= 0 {
		return nil, fail(KindTierActivation, "order has no membership package", false, nil)
	}
	if order.Customer.UserID == "" {
		return nil, fail(KindTierActivation, "membership order has no linked customer", false, nil)
	}

	expiresAt := d.now().AddDate(0, 0, p.DurationDays)
	if setErr := d.tiers.SetTier(ctx, order.Customer.UserID, p.TierCode, expiresAt); setErr != nil {
		return nil, fail(KindTierActivation, "tier write failed", true, setErr)
	}

	d.logger.Info("tier activated", "invoice_id", order.InvoiceID, "user_id", order.Customer.UserID, "tier", p.TierCode)

	return &Receipt{
		Kind:          KindTierActivation,
		Note:          fmt.Sprintf("tier %s active until %s", p.TierCode, expiresAt.Format(time.RFC3339)),
		TierExpiresAt: expiresAt,
	}, nil
}
