// Package duitku implements the payment gateway against an inquiry-style API
// that answers with a provider reference and a hosted payment URL, and calls
// back with a form-encoded result.
package duitku

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/rafliafriza12/rbx-project-backup-sub002/internal/breaker"
	"github.com/rafliafriza12/rbx-project-backup-sub002/internal/domain"
	"github.com/rafliafriza12/rbx-project-backup-sub002/internal/payment"
)

const Name = "duitku"

const (
	resultSuccess = "00"
	resultPending = "01"
	resultFailed  = "02"
)

type Config struct {
	MerchantCode string
	APIKey       string
	BaseURL      string
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

func (g *Gateway) sign(parts ...string) string {
	mac := hmac.New(sha256.New, []byte(g.cfg.APIKey))
	mac.Write([]byte(strings.Join(parts, "")))
	return hex.EncodeToString(mac.Sum(nil))
}

type inquiryItem struct {
	Name     string `json:"name"`
	Price    int64  `json:"price"`
	Quantity uint32 `json:"quantity"`
}

type inquiryRequest struct {
	MerchantCode    string        `json:"merchantCode"`
	PaymentAmount   int64         `json:"paymentAmount"`
	PaymentMethod   string        `json:"paymentMethod,omitempty"`
	MerchantOrderID string        `json:"merchantOrderId"`
	ProductDetails  string        `json:"productDetails"`
	CustomerVaName  string        `json:"customerVaName"`
	Email           string        `json:"email"`
	PhoneNumber     string        `json:"phoneNumber,omitempty"`
	ItemDetails     []inquiryItem `json:"itemDetails"`
	CallbackURL     string        `json:"callbackUrl,omitempty"`
	ReturnURL       string        `json:"returnUrl,omitempty"`
	ExpiryPeriod    int           `json:"expiryPeriod,omitempty"`
	Signature       string        `json:"signature"`
}

type inquiryResponse struct {
	MerchantCode  string `json:"merchantCode"`
	Reference     string `json:"reference"`
	PaymentURL    string `json:"paymentUrl"`
	VaNumber      string `json:"vaNumber"`
	QrString      string `json:"qrString"`
	StatusCode    string `json:"statusCode"`
	StatusMessage string `json:"statusMessage"`
	Message       string `json:"Message"`
}

func (g *Gateway) CreatePayment(ctx context.Context, req payment.CreatePaymentRequest) (*payment.Session, error) {
	amount := strconv.FormatInt(req.GrossAmount, 10)
	body := inquiryRequest{
		MerchantCode:    g.cfg.MerchantCode,
		PaymentAmount:   req.GrossAmount,
		PaymentMethod:   req.PaymentMethod,
		MerchantOrderID: req.CorrelationID,
		ProductDetails:  productDetails(req.Items),
		CustomerVaName:  req.Customer.Name,
		Email:           req.Customer.Email,
		PhoneNumber:     req.Customer.Phone,
		CallbackURL:     req.Callbacks.NotificationURL,
		ReturnURL:       req.Callbacks.FinishURL,
		ExpiryPeriod:    req.ExpiryMinutes,
		Signature:       g.sign(g.cfg.MerchantCode, req.CorrelationID, amount),
	}
	for _, it := range req.Items {
		body.ItemDetails = append(body.ItemDetails, inquiryItem{Name: it.Name, Price: it.Price * int64(it.Quantity), Quantity: it.Quantity})
	}

	var out inquiryResponse
	status, err := g.post(ctx, "/webapi/api/merchant/v2/inquiry", body, &out)
	if err != nil {
		return nil, err
	}

	switch {
	case status == http.StatusUnauthorized:
		return nil, fmt.Errorf("%w: duitku rejected credentials", domain.ErrGatewayUnavailable)
	case status >= http.StatusBadRequest:
		return nil, fmt.Errorf("duitku rejected inquiry (status %d): %s", status, out.Message)
	case out.StatusCode != resultSuccess || out.Reference == "":
		return nil, fmt.Errorf("duitku rejected inquiry: %s %s", out.StatusCode, out.StatusMessage)
	}

	meta := map[string]string{"provider": Name}
	if out.VaNumber != "" {
		meta["va_number"] = out.VaNumber
	}
	if out.QrString != "" {
		meta["qr_string"] = out.QrString
	}

	return &payment.Session{
		SessionRef:  out.Reference,
		RedirectURL: out.PaymentURL,
		Metadata:    meta,
	}, nil
}

// post returns the HTTP status alongside the decoded body; transport and 5xx
// failures are already folded into domain.ErrGatewayUnavailable.
func (g *Gateway) post(ctx context.Context, path string, in, out any) (int, error) {
	data, err := json.Marshal(in)
	if err != nil {
		return 0, fmt.Errorf("marshal duitku request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.BaseURL+path, bytes.NewReader(data))
	if err != nil {
		return 0, fmt.Errorf("create duitku request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", domain.ErrGatewayUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusUnauthorized {
		return resp.StatusCode, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.StatusCode, fmt.Errorf("%w: decode duitku response: %v", domain.ErrGatewayUnavailable, err)
	}
	return resp.StatusCode, nil
}

var statusTable = map[string]payment.StatusMapping{
	resultSuccess: {PaymentStatus: domain.PaymentStatusSettlement, OrderStatusHint: domain.OrderStatusProcessing, Known: true},
	resultPending: {PaymentStatus: domain.PaymentStatusPending, Known: true},
	resultFailed:  {PaymentStatus: domain.PaymentStatusFailed, OrderStatusHint: domain.OrderStatusCancelled, Known: true},
}

func (g *Gateway) MapStatus(providerStatus, _ string) payment.StatusMapping {
	if m, ok := statusTable[providerStatus]; ok {
		return m
	}
	return payment.StatusMapping{PaymentStatus: domain.PaymentStatusPending}
}

func (g *Gateway) VerifySignature(n payment.Notification, signature string) bool {
	expected := g.sign(g.cfg.MerchantCode, n.GrossAmount, n.OrderID)
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(signature)))
}

// ParseNotification decodes the form-encoded callback body.
func (g *Gateway) ParseNotification(body []byte) (*payment.Notification, error) {
	form, err := url.ParseQuery(string(body))
	if err != nil {
		return nil, fmt.Errorf("decode duitku callback: %w", err)
	}

	orderID := form.Get("merchantOrderId")
	if orderID == "" {
		return nil, errors.New("duitku callback has no merchantOrderId")
	}
	if mc := form.Get("merchantCode"); mc != "" && mc != g.cfg.MerchantCode {
		return nil, fmt.Errorf("duitku callback for unexpected merchant %q", mc)
	}

	return &payment.Notification{
		OrderID:               orderID,
		ProviderStatus:        form.Get("resultCode"),
		StatusCode:            form.Get("resultCode"),
		GrossAmount:           form.Get("amount"),
		PaymentType:           form.Get("paymentCode"),
		ProviderTransactionID: form.Get("reference"),
		Signature:             form.Get("signature"),
	}, nil
}

type statusRequest struct {
	MerchantCode    string `json:"merchantCode"`
	MerchantOrderID string `json:"merchantOrderId"`
	Signature       string `json:"signature"`
}

type statusResponse struct {
	MerchantOrderID string `json:"merchantOrderId"`
	Reference       string `json:"reference"`
	Amount          string `json:"amount"`
	StatusCode      string `json:"statusCode"`
	StatusMessage   string `json:"statusMessage"`
	Message         string `json:"Message"`
}

func (g *Gateway) GetStatus(ctx context.Context, ref string) (*payment.Notification, error) {
	var out statusResponse
	status, err := g.post(ctx, "/webapi/api/merchant/transactionStatus", statusRequest{
		MerchantCode:    g.cfg.MerchantCode,
		MerchantOrderID: ref,
		Signature:       g.sign(g.cfg.MerchantCode, ref),
	}, &out)
	if err != nil {
		return nil, err
	}

	switch {
	case status == http.StatusUnauthorized:
		return nil, fmt.Errorf("%w: duitku rejected credentials", domain.ErrGatewayUnavailable)
	case status == http.StatusNotFound, status == http.StatusBadRequest && out.Reference == "":
		return nil, payment.ErrTransactionNotFound
	case status >= http.StatusBadRequest:
		return nil, fmt.Errorf("duitku status check failed (status %d): %s", status, out.Message)
	}

	orderID := out.MerchantOrderID
	if orderID == "" {
		orderID = ref
	}
	return &payment.Notification{
		OrderID:               orderID,
		ProviderStatus:        out.StatusCode,
		StatusCode:            out.StatusCode,
		GrossAmount:           out.Amount,
		ProviderTransactionID: out.Reference,
	}, nil
}

func productDetails(items []payment.LineItem) string {
	names := make([]string, 0, len(items))
	for _, it := range items {
		if it.ID == payment.AdminFeeItemID {
			continue
		}
		names = append(names, it.Name)
	}
	return strings.Join(names, ", ")
}
