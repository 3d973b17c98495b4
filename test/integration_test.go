//go:build integration

package test

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/rafliafriza12/rbx-project-backup-sub002/internal/breaker"
	"github.com/rafliafriza12/rbx-project-backup-sub002/internal/checkout"
	"github.com/rafliafriza12/rbx-project-backup-sub002/internal/config"
	"github.com/rafliafriza12/rbx-project-backup-sub002/internal/domain"
	"github.com/rafliafriza12/rbx-project-backup-sub002/internal/fulfillment"
	"github.com/rafliafriza12/rbx-project-backup-sub002/internal/ledger"
	"github.com/rafliafriza12/rbx-project-backup-sub002/internal/mailer"
	"github.com/rafliafriza12/rbx-project-backup-sub002/internal/messaging"
	"github.com/rafliafriza12/rbx-project-backup-sub002/internal/notify"
	"github.com/rafliafriza12/rbx-project-backup-sub002/internal/orders"
	"github.com/rafliafriza12/rbx-project-backup-sub002/internal/payment"
	"github.com/rafliafriza12/rbx-project-backup-sub002/internal/payment/midtrans"
	"github.com/rafliafriza12/rbx-project-backup-sub002/internal/reconcile"
	"github.com/rafliafriza12/rbx-project-backup-sub002/internal/stockpool"
	"github.com/rafliafriza12/rbx-project-backup-sub002/internal/worker"
)

const serverKey = "SB-Mid-server-integration"

type customerLedger interface {
	reconcile.Ledger
	fulfillment.TierWriter
	Get(ctx context.Context, customerID string) (*domain.Customer, error)
}

// snapStub answers Snap transaction requests. It fails every request while
// down is set.
type snapStub struct {
	down  atomic.Bool
	calls atomic.Int32
}

func (s *snapStub) handler(w http.ResponseWriter, r *http.Request) {
	s.calls.Add(1)
	w.Header().Set("Content-Type", "application/json")
	if s.down.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = io.WriteString(w, `{"error_messages":["maintenance"]}`)
		return
	}
	w.WriteHeader(http.StatusCreated)
	_, _ = io.WriteString(w, `{"token":"snap-token","redirect_url":"https://app.sandbox.midtrans.com/snap/v4/redirection/snap-token"}`)
}

type storefront struct {
	server *httptest.Server
	snap   *snapStub
	store  orders.Store
	ledger customerLedger
}

func newStorefront(t *testing.T, store orders.Store, credits customerLedger, pool fulfillment.StockPool) *storefront {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	snap := &snapStub{}
	snapServer := httptest.NewServer(http.HandlerFunc(snap.handler))
	t.Cleanup(snapServer.Close)

	gw := midtrans.New(midtrans.Config{
		ServerKey: serverKey,
		SnapURL:   snapServer.URL,
		APIURL:    snapServer.URL,
	}, breaker.New(midtrans.Name, &http.Client{Timeout: 5 * time.Second}, logger))

	gateways, err := payment.NewRegistry(midtrans.Name, gw)
	if err != nil {
		t.Fatalf("failed to create gateway registry: %v", err)
	}

	cfg := config.PaymentConfig{
		Provider:        midtrans.Name,
		FinishURL:       "https://shop.example/finish",
		NotificationURL: "https://api.shop.example/webhooks/midtrans",
		ExpiryMinutes:   60,
	}

	notifier := notify.NewNotifier(nil, logger)
	// membership orders never reach the automation service
	dispatcher := fulfillment.NewDispatcher(pool, nil, credits, nil, logger)
	reconciler := reconcile.NewReconciler(store, gateways, credits, dispatcher, notifier, nil, nil, logger)
	service := checkout.NewService(store, gateways, notifier, cfg, nil, logger)

	checkoutHandler := checkout.NewHandler(service, logger)
	reconcileHandler := reconcile.NewHandler(reconciler, logger)
	ordersHandler := orders.NewHandler(store, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /checkout", checkoutHandler.HandleCheckout)
	mux.HandleFunc("GET /orders", ordersHandler.HandleListGroup)
	mux.HandleFunc("GET /orders/{invoiceId}", ordersHandler.HandleGet)
	mux.HandleFunc("POST /webhooks/{provider}", reconcileHandler.HandleWebhook)
	mux.HandleFunc("GET /payments/status", reconcileHandler.HandleStatus)

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return &storefront{server: server, snap: snap, store: store, ledger: credits}
}

func (s *storefront) post(t *testing.T, path, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(s.server.URL+path, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s failed: %v", path, err)
	}
	return resp
}

func sign(orderID, statusCode, gross string) string {
	mac := hmac.New(sha512.New, []byte(serverKey))
	mac.Write([]byte(orderID + statusCode + gross))
	return hex.EncodeToString(mac.Sum(nil))
}

func settlementNotification(correlationID string, gross int64, txnID string) string {
	grossStr := fmt.Sprintf("%d.00", gross)
	body, _ := json.Marshal(map[string]string{
		"order_id":           correlationID,
		"transaction_status": "settlement",
		"status_code":        "200",
		"gross_amount":       grossStr,
		"payment_type":       "qris",
		"transaction_id":     txnID,
		"signature_key":      sign(correlationID, "200", grossStr),
	})
	return string(body)
}

const cartBody = `{
	"items": [
		{"service_type": "robux", "service_category": "robux_instant", "service_name": "1000 Robux", "quantity": 1, "unit_price": 10000,
			"payload": {"robux": {"username": "builderman", "amount": 1000}}},
		{"service_type": "robux", "service_category": "robux_instant", "service_name": "2000 Robux", "quantity": 1, "unit_price": 20000,
			"payload": {"robux": {"username": "builderman", "amount": 2000}}},
		{"service_type": "membership", "service_name": "Gold Member", "quantity": 1, "unit_price": 50000,
			"payload": {"membership": {"username": "builderman", "tier_code": "gold", "duration_days": 30}}}
	],
	"customer": {"name": "Rafi", "email": "rafi@example.com", "user_id": "user-integration"},
	"cart_discount_pct": 10,
	"payment_fee": 2500
}`

func runSettlementFlow(ctx context.Context, t *testing.T, sf *storefront) {
	t.Helper()

	resp := sf.post(t, "/checkout", cartBody)
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected status %d, got %d: %s", http.StatusCreated, resp.StatusCode, body)
	}

	var result checkout.Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode checkout result: %v", err)
	}
	if len(result.Orders) != 3 {
		t.Fatalf("expected 3 orders, got %d", len(result.Orders))
	}
	// 72000 after the 10% cart discount, plus the fee
	if result.GrossAmount != 74500 {
		t.Fatalf("expected gross amount 74500, got %d", result.GrossAmount)
	}
	if result.GatewaySessionRef != "snap-token" {
		t.Fatalf("expected session ref snap-token, got %q", result.GatewaySessionRef)
	}

	var finalTotal int64
	for _, o := range result.Orders {
		finalTotal += o.FinalAmount
	}

	group, err := sf.store.FindByCorrelationID(ctx, result.CorrelationID)
	if err != nil {
		t.Fatalf("failed to load order group: %v", err)
	}
	for _, o := range group {
		if o.OrderStatus != domain.OrderStatusWaitingPayment {
			t.Fatalf("order %s: expected status %s, got %s", o.InvoiceID, domain.OrderStatusWaitingPayment, o.OrderStatus)
		}
		if o.Gateway.SessionRef != "snap-token" {
			t.Fatalf("order %s: expected gateway ref recorded, got %+v", o.InvoiceID, o.Gateway)
		}
	}

	notification := settlementNotification(result.CorrelationID, result.GrossAmount, "txn-integration-1")

	webhook := sf.post(t, "/webhooks/midtrans", notification)
	var ack map[string]bool
	if err := json.NewDecoder(webhook.Body).Decode(&ack); err != nil {
		t.Fatalf("failed to decode webhook response: %v", err)
	}
	_ = webhook.Body.Close()
	if webhook.StatusCode != http.StatusOK || !ack["processed"] {
		t.Fatalf("expected processed webhook, got %d %v", webhook.StatusCode, ack)
	}

	group, err = sf.store.FindByCorrelationID(ctx, result.CorrelationID)
	if err != nil {
		t.Fatalf("failed to reload order group: %v", err)
	}
	for _, o := range group {
		if o.PaymentStatus != domain.PaymentStatusSettlement {
			t.Fatalf("order %s: expected payment status settlement, got %s", o.InvoiceID, o.PaymentStatus)
		}
		if o.Gateway.ProviderTransactionID != "txn-integration-1" {
			t.Fatalf("order %s: expected transaction id recorded, got %q", o.InvoiceID, o.Gateway.ProviderTransactionID)
		}
		want := domain.OrderStatusProcessing
		if o.ServiceType == domain.ServiceTypeMembership {
			want = domain.OrderStatusCompleted
		}
		if o.OrderStatus != want {
			t.Fatalf("order %s (%s): expected status %s, got %s", o.InvoiceID, o.ServiceType, want, o.OrderStatus)
		}
	}

	customer, err := sf.ledger.Get(ctx, "user-integration")
	if err != nil {
		t.Fatalf("failed to load customer: %v", err)
	}
	if customer == nil {
		t.Fatal("expected customer to be credited")
	}
	if customer.TotalSpent != finalTotal {
		t.Fatalf("expected total spent %d, got %d", finalTotal, customer.TotalSpent)
	}
	if customer.Tier != "gold" {
		t.Fatalf("expected tier gold, got %q", customer.Tier)
	}

	redelivery := sf.post(t, "/webhooks/midtrans", notification)
	ack = nil
	if err := json.NewDecoder(redelivery.Body).Decode(&ack); err != nil {
		t.Fatalf("failed to decode redelivery response: %v", err)
	}
	_ = redelivery.Body.Close()
	if redelivery.StatusCode != http.StatusOK || ack["processed"] {
		t.Fatalf("expected redelivery acknowledged without changes, got %d %v", redelivery.StatusCode, ack)
	}

	customer, err = sf.ledger.Get(ctx, "user-integration")
	if err != nil {
		t.Fatalf("failed to reload customer: %v", err)
	}
	if customer.TotalSpent != finalTotal {
		t.Fatalf("expected redelivery to leave total spent at %d, got %d", finalTotal, customer.TotalSpent)
	}

	listResp, err := http.Get(sf.server.URL + "/orders?correlation_id=" + result.CorrelationID)
	if err != nil {
		t.Fatalf("failed to list group: %v", err)
	}
	defer func() { _ = listResp.Body.Close() }()
	var listed []domain.Order
	if err := json.NewDecoder(listResp.Body).Decode(&listed); err != nil {
		t.Fatalf("failed to decode group: %v", err)
	}
	if len(listed) != 3 {
		t.Fatalf("expected 3 orders in group, got %d", len(listed))
	}
}

func TestSettlementFlow_Postgres(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	pg := SetupPostgres(ctx, t)
	defer pg.Cleanup()

	db, err := OpenDB(pg.ConnStr)
	if err != nil {
		t.Fatalf("failed to open DB: %v", err)
	}
	defer func() { _ = db.Close() }()

	sf := newStorefront(t, orders.NewOrderRepository(db), ledger.New(db), stockpool.NewRepository(db))
	runSettlementFlow(ctx, t, sf)
}

func TestSettlementFlow_Mongo(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	mdb, cleanup := SetupMongo(ctx, t)
	defer cleanup()

	repo := orders.NewMongoRepository(mdb)
	if err := repo.CreateIndexes(ctx); err != nil {
		t.Fatalf("failed to create indexes: %v", err)
	}

	sf := newStorefront(t, repo, ledger.NewMemory(), stockpool.NewMemory())
	runSettlementFlow(ctx, t, sf)
}

func countOrders(ctx context.Context, t *testing.T, db *sql.DB) int {
	t.Helper()
	var n int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM orders`).Scan(&n); err != nil {
		t.Fatalf("failed to count orders: %v", err)
	}
	return n
}

func TestCheckoutRollsBackWhenGatewayIsDown(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	pg := SetupPostgres(ctx, t)
	defer pg.Cleanup()

	db, err := OpenDB(pg.ConnStr)
	if err != nil {
		t.Fatalf("failed to open DB: %v", err)
	}
	defer func() { _ = db.Close() }()

	sf := newStorefront(t, orders.NewOrderRepository(db), ledger.New(db), stockpool.NewRepository(db))
	sf.snap.down.Store(true)

	resp := sf.post(t, "/checkout", cartBody)
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusServiceUnavailable {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected status %d, got %d: %s", http.StatusServiceUnavailable, resp.StatusCode, body)
	}
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body["retryable"] != true {
		t.Fatalf("expected retryable error, got %v", body)
	}

	if n := countOrders(ctx, t, db); n != 0 {
		t.Fatalf("expected no orders after rollback, got %d", n)
	}
	if sf.snap.calls.Load() != 1 {
		t.Fatalf("expected one gateway call, got %d", sf.snap.calls.Load())
	}
}

func TestOrderRepository_ApplyUpdateIsConditional(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pg := SetupPostgres(ctx, t)
	defer pg.Cleanup()

	db, err := OpenDB(pg.ConnStr)
	if err != nil {
		t.Fatalf("failed to open DB: %v", err)
	}
	defer func() { _ = db.Close() }()

	repo := orders.NewOrderRepository(db)
	now := time.Now().UTC()
	order := &domain.Order{
		InvoiceID:       "INV-CONDITIONAL",
		CorrelationID:   uuid.NewString(),
		ServiceType:     domain.ServiceTypeRobux,
		ServiceCategory: domain.CategoryRobuxInstant,
		ServiceName:     "1000 Robux",
		Quantity:        2,
		UnitPrice:       10000,
		TotalAmount:     20000,
		FinalAmount:     20000,
		PaymentStatus:   domain.PaymentStatusPending,
		OrderStatus:     domain.OrderStatusWaitingPayment,
		Customer:        domain.CustomerInfo{Name: "Rafi", Email: "rafi@example.com"},
		Payload:         domain.ServicePayload{Robux: &domain.RobuxPayload{Username: "builderman", Amount: 1000}},
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := repo.CreateMany(ctx, []*domain.Order{order}); err != nil {
		t.Fatalf("failed to create order: %v", err)
	}

	settled := domain.PaymentStatusSettlement
	processing := domain.OrderStatusProcessing
	upd := domain.OrderUpdate{
		PaymentStatus: &settled,
		OrderStatus:   &processing,
		History: []domain.StatusHistoryEntry{
			{Status: string(processing), Note: "settled", Actor: "webhook", Timestamp: now},
		},
	}

	if err := repo.ApplyUpdate(ctx, order.ID, 0, upd); err != nil {
		t.Fatalf("first update failed: %v", err)
	}
	if err := repo.ApplyUpdate(ctx, order.ID, 0, upd); !errors.Is(err, domain.ErrConcurrentUpdate) {
		t.Fatalf("expected ErrConcurrentUpdate for a stale version, got %v", err)
	}
	if err := repo.ApplyUpdate(ctx, uuid.NewString(), 0, upd); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}

	stored, err := repo.FindByInvoiceID(ctx, order.InvoiceID)
	if err != nil {
		t.Fatalf("failed to load order: %v", err)
	}
	if stored.Version != 1 {
		t.Fatalf("expected version 1, got %d", stored.Version)
	}
	if stored.OrderStatus != domain.OrderStatusProcessing {
		t.Fatalf("expected status %s, got %s", domain.OrderStatusProcessing, stored.OrderStatus)
	}
	if len(stored.StatusHistory) != 1 {
		t.Fatalf("expected one history entry, got %d", len(stored.StatusHistory))
	}
}

func TestLedger_CreditIsIdempotentPerCorrelationID(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pg := SetupPostgres(ctx, t)
	defer pg.Cleanup()

	db, err := OpenDB(pg.ConnStr)
	if err != nil {
		t.Fatalf("failed to open DB: %v", err)
	}
	defer func() { _ = db.Close() }()

	l := ledger.New(db)

	if err := l.Credit(ctx, "user-1", 27000, "cid-1"); err != nil {
		t.Fatalf("first credit failed: %v", err)
	}
	if err := l.Credit(ctx, "user-1", 27000, "cid-1"); !errors.Is(err, domain.ErrAlreadyCredited) {
		t.Fatalf("expected ErrAlreadyCredited, got %v", err)
	}
	if err := l.Credit(ctx, "user-1", 3000, "cid-2"); err != nil {
		t.Fatalf("second credit failed: %v", err)
	}

	customer, err := l.Get(ctx, "user-1")
	if err != nil {
		t.Fatalf("failed to load customer: %v", err)
	}
	if customer.TotalSpent != 30000 {
		t.Fatalf("expected total spent 30000, got %d", customer.TotalSpent)
	}
	if customer.LastCreditedCorrelationID != "cid-2" {
		t.Fatalf("expected last credited cid-2, got %q", customer.LastCreditedCorrelationID)
	}

	unknown, err := l.Get(ctx, "user-unknown")
	if err != nil {
		t.Fatalf("failed to load unknown customer: %v", err)
	}
	if unknown != nil {
		t.Fatalf("expected nil for an uncredited customer, got %+v", unknown)
	}
}

func TestStockPool_ClaimAndRelease(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pg := SetupPostgres(ctx, t)
	defer pg.Cleanup()

	db, err := OpenDB(pg.ConnStr)
	if err != nil {
		t.Fatalf("failed to open DB: %v", err)
	}
	defer func() { _ = db.Close() }()

	pool := stockpool.NewRepository(db)

	acc, err := pool.FindSmallestSufficient(ctx, 2000)
	if err != nil {
		t.Fatalf("failed to select account: %v", err)
	}
	if acc == nil || acc.ID != "SA-002" {
		t.Fatalf("expected SA-002 for 2000, got %+v", acc)
	}

	if err := pool.Claim(ctx, acc.ID, 2000); err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if err := pool.Claim(ctx, acc.ID, 2000); !errors.Is(err, stockpool.ErrAccountUnavailable) {
		t.Fatalf("expected ErrAccountUnavailable on second claim, got %v", err)
	}

	next, err := pool.FindSmallestSufficient(ctx, 2000)
	if err != nil {
		t.Fatalf("failed to select account: %v", err)
	}
	if next == nil || next.ID != "SA-003" {
		t.Fatalf("expected claimed account to be skipped, got %+v", next)
	}

	if err := pool.Release(ctx, acc.ID, 1571); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	released, err := pool.Get(ctx, acc.ID)
	if err != nil {
		t.Fatalf("failed to load account: %v", err)
	}
	if released.Status != domain.StockAccountActive || released.Balance != 1571 {
		t.Fatalf("expected active account with balance 1571, got %+v", released)
	}
}

type mailCapture struct {
	mu    sync.Mutex
	sent  []mailer.SendRequest
	inner http.HandlerFunc
}

func (m *mailCapture) handler(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	var req mailer.SendRequest
	if err := json.Unmarshal(body, &req); err == nil {
		m.mu.Lock()
		m.sent = append(m.sent, req)
		m.mu.Unlock()
	}
	r.Body = io.NopCloser(strings.NewReader(string(body)))
	m.inner(w, r)
}

func (m *mailCapture) templates() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.sent))
	for _, req := range m.sent {
		out = append(out, req.Template)
	}
	return out
}

func TestNotificationPipeline(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	brokers, cleanup := SetupKafka(ctx, t)
	defer cleanup()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	capture := &mailCapture{inner: mailer.NewHandler(logger).HandleSend}
	mailServer := httptest.NewServer(http.HandlerFunc(capture.handler))
	defer mailServer.Close()

	producer := messaging.NewProducer(brokers)
	defer func() { _ = producer.Close() }()

	notifier := notify.NewNotifier(producer, logger)
	now := time.Now().UTC()
	notifier.InvoiceCreated(ctx, domain.InvoiceCreatedEvent{
		CorrelationID: "cid-pipeline",
		InvoiceIDs:    []string{"INV-1", "INV-2"},
		CustomerName:  "Rafi",
		CustomerEmail: "rafi@example.com",
		GrossAmount:   27000,
		RedirectURL:   "https://pay.example/snap-token",
		Timestamp:     now,
	})
	notifier.PaymentSettled(ctx, domain.PaymentSettledEvent{
		CorrelationID: "cid-pipeline",
		InvoiceIDs:    []string{"INV-1", "INV-2"},
		CustomerName:  "Rafi",
		CustomerEmail: "rafi@example.com",
		PaidAmount:    27000,
		PaymentType:   "qris",
		Timestamp:     now,
	})
	notifier.Wait()

	consumer := messaging.NewConsumer(brokers,
		[]string{messaging.TopicInvoiceCreated, messaging.TopicPaymentSettled},
		"notification-worker-test",
		messaging.WithStartOffset(kafka.FirstOffset),
	)
	defer func() { _ = consumer.Close() }()

	handler := worker.NewNotificationHandler(mailServer.URL, &http.Client{Timeout: 10 * time.Second}, logger)

	consumeCtx, stopConsumer := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- consumer.Consume(consumeCtx, handler.Handle) }()

	deadline := time.After(90 * time.Second)
	for len(capture.templates()) < 2 {
		select {
		case <-deadline:
			stopConsumer()
			t.Fatalf("expected 2 emails, got %v", capture.templates())
		case err := <-done:
			t.Fatalf("consumer stopped early: %v", err)
		case <-time.After(200 * time.Millisecond):
		}
	}
	stopConsumer()
	<-done

	got := map[string]bool{}
	for _, name := range capture.templates() {
		got[name] = true
	}
	if !got[mailer.TemplateInvoiceCreated] || !got[mailer.TemplatePaymentSettled] {
		t.Fatalf("expected invoice and settlement emails, got %v", capture.templates())
	}
}
