// Package checkout turns a cart into a group of orders that share one
// payment session.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/rafliafriza12/rbx-project-backup-sub002/internal/config"
	"github.com/rafliafriza12/rbx-project-backup-sub002/internal/domain"
	"github.com/rafliafriza12/rbx-project-backup-sub002/internal/money"
	"github.com/rafliafriza12/rbx-project-backup-sub002/internal/orders"
	"github.com/rafliafriza12/rbx-project-backup-sub002/internal/payment"
	"github.com/rafliafriza12/rbx-project-backup-sub002/internal/telemetry"
)

// ErrGatewayRejected wraps a provider refusal that retrying will not fix,
// such as a malformed amount.
var ErrGatewayRejected = errors.New("payment gateway rejected the transaction")

type Notifier interface {
	InvoiceCreated(ctx context.Context, event domain.InvoiceCreatedEvent)
}

type Item struct {
	ServiceType     domain.ServiceType     `json:"service_type"`
	ServiceCategory domain.ServiceCategory `json:"service_category,omitempty"`
	ServiceName     string                 `json:"service_name"`
	Quantity        uint32                 `json:"quantity"`
	UnitPrice       int64                  `json:"unit_price"`
	// TotalAmount is accepted for compatibility and ignored.
	TotalAmount int64                 `json:"total_amount,omitempty"`
	Payload     domain.ServicePayload `json:"payload"`
}

type Request struct {
	Items              []Item              `json:"items"`
	Customer           domain.CustomerInfo `json:"customer"`
	DiscountPercentage float64             `json:"cart_discount_pct,omitempty"`
	DiscountAmount     int64               `json:"cart_discount_amount,omitempty"`
	PaymentFee         int64               `json:"payment_fee,omitempty"`
	PaymentMethodID    string              `json:"payment_method_id,omitempty"`
}

type Result struct {
	CorrelationID     string         `json:"correlation_id"`
	Orders            []domain.Order `json:"orders"`
	GatewaySessionRef string         `json:"gateway_session_ref"`
	RedirectURL       string         `json:"redirect_url"`
	GrossAmount       int64          `json:"gross_amount"`
}

type Service struct {
	store    orders.Store
	gateways *payment.Registry
	notifier Notifier
	cfg      config.PaymentConfig
	metrics  *telemetry.EngineMetrics
	logger   *slog.Logger
	now      func() time.Time
}

func NewService(store orders.Store, gateways *payment.Registry, notifier Notifier, cfg config.PaymentConfig, metrics *telemetry.EngineMetrics, logger *slog.Logger) *Service {
	return &Service{
		store:    store,
		gateways: gateways,
		notifier: notifier,
		cfg:      cfg,
		metrics:  metrics,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

var knownCategories = map[domain.ServiceCategory]bool{
	domain.CategoryRegular:        true,
	domain.CategoryRobuxInstant:   true,
	domain.CategoryRobuxScheduled: true,
}

// Validate collects every problem in the request instead of stopping at the first.
func Validate(req Request) error {
	var fields []domain.FieldError
	add := func(item int, field, msg string) {
		fields = append(fields, domain.FieldError{Item: item, Field: field, Message: msg})
	}

	if len(req.Items) == 0 {
		add(-1, "items", "cart is empty")
	}
	if strings.TrimSpace(req.Customer.Name) == "" {
		add(-1, "customer.name", "name is required")
	}
	if strings.TrimSpace(req.Customer.Email) == "" || !strings.Contains(req.Customer.Email, "@") {
		add(-1, "customer.email", "a valid email is required")
	}
	if req.DiscountAmount < 0 || req.DiscountPercentage < 0 || req.DiscountPercentage > 100 {
		add(-1, "cart_discount", "discount must be between 0 and the cart subtotal")
	}
	if req.PaymentFee < 0 {
		add(-1, "payment_fee", "payment fee cannot be negative")
	}

	var (
		scheduled int
		subtotal  int64
		overflow  bool
	)
	for i, it := range req.Items {
		if it.Quantity == 0 {
			add(i, "quantity", "quantity must be at least 1")
		}
		if it.UnitPrice <= 0 {
			add(i, "unit_price", "unit price must be positive")
		} else if total, ok := money.LineTotal(it.Quantity, it.UnitPrice); !ok {
			add(i, "unit_price", "line total is too large")
		} else if !overflow {
			if subtotal, ok = money.AddAmounts(subtotal, total); !ok {
				overflow = true
				add(-1, "items", "cart total is too large")
			}
		}

		cat := it.ServiceCategory
		if cat == "" {
			cat = domain.CategoryRegular
		}
		if !knownCategories[cat] {
			add(i, "service_category", "unknown service category "+string(cat))
		}
		if cat.IsScheduledDelivery() {
			scheduled++
			if scheduled > 1 {
				add(i, "service_category", "only one scheduled delivery item is allowed per checkout")
			}
		}

		fields = append(fields, it.Payload.Validate(i, it.ServiceType, cat)...)
	}

	if !overflow && req.PaymentFee > 0 {
		if _, ok := money.AddAmounts(subtotal, req.PaymentFee); !ok {
			add(-1, "payment_fee", "payment fee makes the cart total too large")
		}
	}

	if len(fields) > 0 {
		return &domain.ValidationError{Fields: fields}
	}
	return nil
}

// Checkout persists one order per cart item, opens a single payment session
// for the whole cart and records it on every order. If the gateway call fails
// the orders are deleted again before the error is returned.
func (s *Service) Checkout(ctx context.Context, req Request) (*Result, error) {
	if err := Validate(req); err != nil {
		s.metrics.RecordCheckout(ctx, "invalid")
		return nil, err
	}

	group := s.buildOrders(req)
	correlationID := group[0].CorrelationID
	logger := s.logger.With("correlation_id", correlationID)

	if err := s.store.CreateMany(ctx, group); err != nil {
		s.metrics.RecordCheckout(ctx, "error")
		return nil, fmt.Errorf("persist orders: %w", err)
	}

	values := make([]domain.Order, len(group))
	for i, o := range group {
		values[i] = *o
	}

	gw := s.gateways.Active()
	items, gross := payment.BuildLineItems(values, req.PaymentFee)

	session, err := gw.CreatePayment(ctx, payment.CreatePaymentRequest{
		CorrelationID: correlationID,
		GrossAmount:   gross,
		Items:         items,
		Customer:      req.Customer,
		Callbacks: payment.Callbacks{
			FinishURL:       s.cfg.FinishURL,
			NotificationURL: s.cfg.NotificationURL,
		},
		PaymentMethod: req.PaymentMethodID,
		ExpiryMinutes: s.cfg.ExpiryMinutes,
	})
	if err != nil {
		s.rollback(ctx, logger, correlationID)
		if errors.Is(err, domain.ErrGatewayUnavailable) {
			s.metrics.RecordCheckout(ctx, "gateway_unavailable")
			return nil, err
		}
		s.metrics.RecordCheckout(ctx, "gateway_rejected")
		return nil, fmt.Errorf("%w: %v", ErrGatewayRejected, err)
	}

	ref := domain.GatewayRef{
		Provider:        gw.Name(),
		SessionRef:      session.SessionRef,
		RedirectURL:     session.RedirectURL,
		PaymentMethodID: req.PaymentMethodID,
	}
	// the session exists at the provider now, so the orders must stay even if
	// this write fails; notifications still find them by correlation id
	if err := s.store.SetGatewayRef(ctx, correlationID, ref); err != nil {
		logger.Error("failed to record gateway reference", "error", err, "provider", gw.Name())
	}

	invoiceIDs := make([]string, len(values))
	for i := range values {
		values[i].Gateway.Provider = ref.Provider
		values[i].Gateway.SessionRef = ref.SessionRef
		values[i].Gateway.RedirectURL = ref.RedirectURL
		values[i].Gateway.PaymentMethodID = ref.PaymentMethodID
		values[i].Version++
		invoiceIDs[i] = values[i].InvoiceID
	}

	s.notifier.InvoiceCreated(ctx, domain.InvoiceCreatedEvent{
		CorrelationID: correlationID,
		InvoiceIDs:    invoiceIDs,
		CustomerName:  req.Customer.Name,
		CustomerEmail: req.Customer.Email,
		GrossAmount:   gross,
		RedirectURL:   session.RedirectURL,
		Timestamp:     s.now(),
	})

	s.metrics.RecordCheckout(ctx, "created")
	logger.Info("checkout created", "orders", len(values), "gross_amount", gross, "provider", gw.Name())

	return &Result{
		CorrelationID:     correlationID,
		Orders:            values,
		GatewaySessionRef: session.SessionRef,
		RedirectURL:       session.RedirectURL,
		GrossAmount:       gross,
	}, nil
}

func (s *Service) buildOrders(req Request) []*domain.Order {
	lines := make([]money.Line, len(req.Items))
	for i, it := range req.Items {
		lines[i] = money.Line{Quantity: it.Quantity, UnitPrice: it.UnitPrice}
	}
	allocs := money.Allocate(lines, req.DiscountAmount, req.DiscountPercentage)

	subtotal := money.Subtotal(lines)
	var discount int64
	for _, a := range allocs {
		discount += a.DiscountAmount
	}
	pct := money.Percentage(discount, subtotal)

	correlationID := uuid.NewString()
	now := s.now()

	group := make([]*domain.Order, len(req.Items))
	for i, it := range req.Items {
		cat := it.ServiceCategory
		if cat == "" {
			cat = domain.CategoryRegular
		}

		group[i] = &domain.Order{
			ID:                 uuid.NewString(),
			InvoiceID:          "INV-" + ulid.Make().String(),
			CorrelationID:      correlationID,
			ServiceType:        it.ServiceType,
			ServiceCategory:    cat,
			ServiceName:        it.ServiceName,
			Quantity:           it.Quantity,
			UnitPrice:          it.UnitPrice,
			TotalAmount:        allocs[i].TotalAmount,
			DiscountPercentage: pct,
			DiscountAmount:     allocs[i].DiscountAmount,
			FinalAmount:        allocs[i].FinalAmount,
			PaymentStatus:      domain.PaymentStatusPending,
			OrderStatus:        domain.OrderStatusWaitingPayment,
			StatusHistory: []domain.StatusHistoryEntry{{
				Status:    string(domain.OrderStatusWaitingPayment),
				Note:      "order created",
				Actor:     "system",
				Timestamp: now,
			}},
			Customer:  req.Customer,
			Payload:   it.Payload,
			CreatedAt: now,
			UpdatedAt: now,
		}
	}
	// invoice ids are monotonic, so the first order is also the smallest id
	group[0].PaymentFee = req.PaymentFee

	return group
}

// rollback deletes the group on a context detached from the request so a
// client disconnect cannot leave orphaned orders.
func (s *Service) rollback(ctx context.Context, logger *slog.Logger, correlationID string) {
	rbCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	n, err := s.store.DeleteByCorrelationID(rbCtx, correlationID)
	if err != nil {
		logger.Error("checkout rollback failed", "error", err)
		return
	}
	logger.Warn("checkout rolled back", "deleted", n)
}
