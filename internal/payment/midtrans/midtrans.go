// Package midtrans implements the payment gateway against a Snap-style API:
// a transaction token plus redirect URL at checkout, push notifications
// signed with the server key, and a status endpoint for polling.
package midtrans

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/rafliafriza12/rbx-project-backup-sub002/internal/breaker"
	"github.com/rafliafriza12/rbx-project-backup-sub002/internal/domain"
	"github.com/rafliafriza12/rbx-project-backup-sub002/internal/payment"
)

const Name = "midtrans"

type Config struct {
	ServerKey string
	SnapURL   string
	APIURL    string
}

type Gateway struct {
	cfg    Config
	client *breaker.Client
}

func New(cfg Config, client *breaker.Client) *Gateway {
	return &Gateway{cfg: cfg, client: client}
}

func (g *Gateway) Name() string {
	return Name
}

type transactionDetails struct {
	OrderID     string `json:"order_id"`
	GrossAmount int64  `json:"gross_amount"`
}

type itemDetail struct {
	ID       string `json:"id"`
	Price    int64  `json:"price"`
	Quantity uint32 `json:"quantity"`
	Name     string `json:"name"`
}

type customerDetails struct {
	FirstName string `json:"first_name"`
	Email     string `json:"email"`
	Phone     string `json:"phone,omitempty"`
}

type expiry struct {
	Unit     string `json:"unit"`
	Duration int    `json:"duration"`
}

type snapRequest struct {
	TransactionDetails transactionDetails `json:"transaction_details"`
	ItemDetails        []itemDetail       `json:"item_details"`
	CustomerDetails    customerDetails    `json:"customer_details"`
	EnabledPayments    []string           `json:"enabled_payments,omitempty"`
	Callbacks          map[string]string  `json:"callbacks,omitempty"`
	Expiry             *expiry            `json:"expiry,omitempty"`
}

type snapResponse struct {
	Token         string   `json:"token"`
	RedirectURL   string   `json:"redirect_url"`
	ErrorMessages []string `json:"error_messages"`
}

func (g *Gateway) CreatePayment(ctx context.Context, req payment.CreatePaymentRequest) (*payment.Session, error) {
	body := snapRequest{
		TransactionDetails: transactionDetails{OrderID: req.CorrelationID, GrossAmount: req.GrossAmount},
		CustomerDetails: customerDetails{
			FirstName: req.Customer.Name,
			Email:     req.Customer.Email,
			Phone:     req.Customer.Phone,
		},
	}
	for _, it := range req.Items {
		body.ItemDetails = append(body.ItemDetails, itemDetail{ID: it.ID, Price: it.Price, Quantity: it.Quantity, Name: truncate(it.Name, 50)})
	}
	if req.PaymentMethod != "" {
		body.EnabledPayments = []string{req.PaymentMethod}
	}
	if req.Callbacks.FinishURL != "" {
		body.Callbacks = map[string]string{"finish": req.Callbacks.FinishURL}
	}
	if req.ExpiryMinutes > 0 {
		body.Expiry = &expiry{Unit: "minutes", Duration: req.ExpiryMinutes}
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal snap request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.SnapURL+"/snap/v1/transactions", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create snap request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.SetBasicAuth(g.cfg.ServerKey, "")
	if req.Callbacks.NotificationURL != "" {
		httpReq.Header.Set("X-Override-Notification", req.Callbacks.NotificationURL)
	}

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrGatewayUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	var out snapResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: decode snap response: %v", domain.ErrGatewayUnavailable, err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, fmt.Errorf("%w: midtrans rejected credentials", domain.ErrGatewayUnavailable)
	case resp.StatusCode >= http.StatusBadRequest:
		return nil, fmt.Errorf("midtrans rejected transaction (status %d): %s", resp.StatusCode, strings.Join(out.ErrorMessages, "; "))
	case out.Token == "":
		return nil, fmt.Errorf("%w: midtrans returned no token", domain.ErrGatewayUnavailable)
	}

	return &payment.Session{
		SessionRef:  out.Token,
		RedirectURL: out.RedirectURL,
		Metadata:    map[string]string{"provider": Name},
	}, nil
}

var statusTable = map[string]payment.StatusMapping{
	"capture":    {PaymentStatus: domain.PaymentStatusSettlement, OrderStatusHint: domain.OrderStatusProcessing, Known: true},
	"settlement": {PaymentStatus: domain.PaymentStatusSettlement, OrderStatusHint: domain.OrderStatusProcessing, Known: true},
	"pending":    {PaymentStatus: domain.PaymentStatusPending, Known: true},
	"authorize":  {PaymentStatus: domain.PaymentStatusPending, Known: true},
	"challenge":  {PaymentStatus: domain.PaymentStatusPending, Known: true},
	"deny":       {PaymentStatus: domain.PaymentStatusFailed, OrderStatusHint: domain.OrderStatusCancelled, Known: true},
	"failure":    {PaymentStatus: domain.PaymentStatusFailed, OrderStatusHint: domain.OrderStatusCancelled, Known: true},
	"cancel":     {PaymentStatus: domain.PaymentStatusCancelled, OrderStatusHint: domain.OrderStatusCancelled, Known: true},
	"expire":     {PaymentStatus: domain.PaymentStatusExpired, OrderStatusHint: domain.OrderStatusCancelled, Known: true},
	// refunds are handled manually; they never move an order here
	"refund":             {PaymentStatus: domain.PaymentStatusPending, Known: true},
	"partial_refund":     {PaymentStatus: domain.PaymentStatusPending, Known: true},
	"chargeback":         {PaymentStatus: domain.PaymentStatusPending, Known: true},
	"partial_chargeback": {PaymentStatus: domain.PaymentStatusPending, Known: true},
}

func (g *Gateway) MapStatus(providerStatus, paymentType string) payment.StatusMapping {
	m, ok := statusTable[strings.ToLower(providerStatus)]
	if !ok {
		return payment.StatusMapping{PaymentStatus: domain.PaymentStatusPending}
	}
	return m
}

func (g *Gateway) sign(orderID, statusCode, grossAmount string) string {
	mac := hmac.New(sha512.New, []byte(g.cfg.ServerKey))
	mac.Write([]byte(orderID + statusCode + grossAmount))
	return hex.EncodeToString(mac.Sum(nil))
}

func (g *Gateway) VerifySignature(n payment.Notification, signature string) bool {
	expected := g.sign(n.OrderID, n.StatusCode, n.GrossAmount)
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(signature)))
}

type notificationBody struct {
	OrderID           string `json:"order_id"`
	TransactionStatus string `json:"transaction_status"`
	StatusCode        string `json:"status_code"`
	GrossAmount       string `json:"gross_amount"`
	SignatureKey      string `json:"signature_key"`
	PaymentType       string `json:"payment_type"`
	TransactionID     string `json:"transaction_id"`
	FraudStatus       string `json:"fraud_status"`
}

func (b notificationBody) normalize() *payment.Notification {
	status := b.TransactionStatus
	switch {
	case status == "capture" && b.FraudStatus == "challenge":
		status = "challenge"
	case status == "capture" && b.FraudStatus == "deny":
		status = "deny"
	}
	return &payment.Notification{
		OrderID:               b.OrderID,
		ProviderStatus:        status,
		StatusCode:            b.StatusCode,
		GrossAmount:           b.GrossAmount,
		PaymentType:           b.PaymentType,
		ProviderTransactionID: b.TransactionID,
		Signature:             b.SignatureKey,
	}
}

func (g *Gateway) ParseNotification(body []byte) (*payment.Notification, error) {
	var b notificationBody
	if err := json.Unmarshal(body, &b); err != nil {
		return nil, fmt.Errorf("decode midtrans notification: %w", err)
	}
	if b.OrderID == "" {
		return nil, errors.New("midtrans notification has no order_id")
	}
	return b.normalize(), nil
}

func (g *Gateway) GetStatus(ctx context.Context, ref string) (*payment.Notification, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, g.cfg.APIURL+"/v2/"+ref+"/status", nil)
	if err != nil {
		return nil, fmt.Errorf("create status request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.SetBasicAuth(g.cfg.ServerKey, "")

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrGatewayUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, fmt.Errorf("%w: midtrans rejected credentials", domain.ErrGatewayUnavailable)
	}

	var b notificationBody
	if err := json.NewDecoder(resp.Body).Decode(&b); err != nil {
		return nil, fmt.Errorf("decode midtrans status: %w", err)
	}
	// the status API answers 200 with the real code in the body
	if code, _ := strconv.Atoi(b.StatusCode); code == http.StatusNotFound || resp.StatusCode == http.StatusNotFound {
		return nil, payment.ErrTransactionNotFound
	}
	if b.OrderID == "" {
		b.OrderID = ref
	}
	return b.normalize(), nil
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
