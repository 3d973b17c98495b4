package domain

import "time"

type PaymentStatus string

const (
	PaymentStatusPending    PaymentStatus = "pending"
	PaymentStatusSettlement PaymentStatus = "settlement"
	PaymentStatusExpired    PaymentStatus = "expired"
	PaymentStatusCancelled  PaymentStatus = "cancelled"
	PaymentStatusFailed     PaymentStatus = "failed"
)

// IsTerminal reports whether the payment status is absorbing.
func (s PaymentStatus) IsTerminal() bool {
	return s != PaymentStatusPending
}

type OrderStatus string

const (
	OrderStatusWaitingPayment OrderStatus = "waiting_payment"
	OrderStatusProcessing     OrderStatus = "processing"
	OrderStatusInProgress     OrderStatus = "in_progress"
	OrderStatusCompleted      OrderStatus = "completed"
	OrderStatusCancelled      OrderStatus = "cancelled"
)

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusWaitingPayment: {OrderStatusProcessing, OrderStatusCancelled},
	OrderStatusProcessing:     {OrderStatusInProgress, OrderStatusCompleted, OrderStatusCancelled},
	OrderStatusInProgress:     {OrderStatusCompleted, OrderStatusCancelled},
}

func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusCompleted || s == OrderStatusCancelled
}

// CanTransitionTo reports whether next is reachable from s in one step.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, allowed := range orderTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

type ServiceType string

const (
	ServiceTypeRobux      ServiceType = "robux"
	ServiceTypeGamepass   ServiceType = "gamepass"
	ServiceTypeJoki       ServiceType = "joki"
	ServiceTypeMembership ServiceType = "membership"
)

type ServiceCategory string

const (
	CategoryRegular      ServiceCategory = "regular"
	CategoryRobuxInstant ServiceCategory = "robux_instant"
	// CategoryRobuxScheduled is delivered by purchasing the customer's gamepass
	// from a pooled stock account after settlement. At most one per checkout.
	CategoryRobuxScheduled ServiceCategory = "robux_5_day"
)

func (c ServiceCategory) IsScheduledDelivery() bool {
	return c == CategoryRobuxScheduled
}

type StatusHistoryEntry struct {
	Status    string    `json:"status" bson:"status"`
	Note      string    `json:"note" bson:"note"`
	Actor     string    `json:"actor" bson:"actor"`
	Timestamp time.Time `json:"timestamp" bson:"timestamp"`
}

type GatewayRef struct {
	Provider              string `json:"provider,omitempty" bson:"provider,omitempty"`
	SessionRef            string `json:"session_ref,omitempty" bson:"session_ref,omitempty"`
	RedirectURL           string `json:"redirect_url,omitempty" bson:"redirect_url,omitempty"`
	ProviderTransactionID string `json:"provider_transaction_id,omitempty" bson:"provider_transaction_id,omitempty"`
	PaymentType           string `json:"payment_type,omitempty" bson:"payment_type,omitempty"`
	PaymentMethodID       string `json:"payment_method_id,omitempty" bson:"payment_method_id,omitempty"`
}

type CustomerInfo struct {
	Name   string `json:"name" bson:"name"`
	Email  string `json:"email" bson:"email"`
	Phone  string `json:"phone,omitempty" bson:"phone,omitempty"`
	UserID string `json:"user_id,omitempty" bson:"user_id,omitempty"`
}

type Order struct {
	ID                 string               `json:"id" bson:"_id"`
	InvoiceID          string               `json:"invoice_id" bson:"invoice_id"`
	CorrelationID      string               `json:"correlation_id" bson:"correlation_id"`
	ServiceType        ServiceType          `json:"service_type" bson:"service_type"`
	ServiceCategory    ServiceCategory      `json:"service_category" bson:"service_category"`
	ServiceName        string               `json:"service_name" bson:"service_name"`
	Quantity           uint32               `json:"quantity" bson:"quantity"`
	UnitPrice          int64                `json:"unit_price" bson:"unit_price"`
	TotalAmount        int64                `json:"total_amount" bson:"total_amount"`
	DiscountPercentage float64              `json:"discount_percentage" bson:"discount_percentage"`
	DiscountAmount     int64                `json:"discount_amount" bson:"discount_amount"`
	FinalAmount        int64                `json:"final_amount" bson:"final_amount"`
	PaymentFee         int64                `json:"payment_fee" bson:"payment_fee"`
	PaymentStatus      PaymentStatus        `json:"payment_status" bson:"payment_status"`
	OrderStatus        OrderStatus          `json:"order_status" bson:"order_status"`
	StatusHistory      []StatusHistoryEntry `json:"status_history" bson:"status_history"`
	Gateway            GatewayRef           `json:"gateway" bson:"gateway"`
	Customer           CustomerInfo         `json:"customer" bson:"customer"`
	Payload            ServicePayload       `json:"payload" bson:"payload"`
	Version            int64                `json:"version" bson:"version"`
	CreatedAt          time.Time            `json:"created_at" bson:"created_at"`
	UpdatedAt          time.Time            `json:"updated_at" bson:"updated_at"`
}

// OrderUpdate is a single conditional write against one order document.
// Nil fields are left untouched; History entries are appended.
type OrderUpdate struct {
	PaymentStatus         *PaymentStatus
	OrderStatus           *OrderStatus
	ProviderTransactionID *string
	PaymentType           *string
	History               []StatusHistoryEntry
}

func (u OrderUpdate) IsEmpty() bool {
	return u.PaymentStatus == nil && u.OrderStatus == nil && u.ProviderTransactionID == nil &&
		u.PaymentType == nil && len(u.History) == 0
}

// Apply mutates o in memory the same way the stores apply the update.
func (u OrderUpdate) Apply(o *Order, now time.Time) {
	if u.PaymentStatus != nil {
		o.PaymentStatus = *u.PaymentStatus
	}
	if u.OrderStatus != nil {
		o.OrderStatus = *u.OrderStatus
	}
	if u.ProviderTransactionID != nil {
		o.Gateway.ProviderTransactionID = *u.ProviderTransactionID
	}
	if u.PaymentType != nil {
		o.Gateway.PaymentType = *u.PaymentType
	}
	o.StatusHistory = append(o.StatusHistory, u.History...)
	o.Version++
	o.UpdatedAt = now
}
