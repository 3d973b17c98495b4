package automation

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rafliafriza12/rbx-project-backup-sub002/internal/breaker"
)

func newClient(server *httptest.Server) *Client {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewClient(server.URL, breaker.New("automation", server.Client(), logger))
}

func TestClient_CheckBalance(t *testing.T) {
	t.Run("returns live balance", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodGet {
				t.Errorf("expected GET, got %s", r.Method)
			}
			if r.URL.Path != "/accounts/stock_alpha/balance" {
				t.Errorf("expected /accounts/stock_alpha/balance, got %s", r.URL.Path)
			}
			_, _ = w.Write([]byte(`{"username":"stock_alpha","balance":1450}`))
		}))
		defer server.Close()

		balance, err := newClient(server).CheckBalance(context.Background(), "stock_alpha")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if balance != 1450 {
			t.Errorf("expected balance 1450, got %d", balance)
		}
	})

	t.Run("surfaces non-200", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`account not found`))
		}))
		defer server.Close()

		if _, err := newClient(server).CheckBalance(context.Background(), "ghost"); err == nil {
			t.Error("expected error")
		}
	})

	t.Run("respects context cancellation", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		if _, err := newClient(server).CheckBalance(ctx, "stock_alpha"); err == nil {
			t.Error("expected error for cancelled context")
		}
	})
}

func TestClient_PurchaseGamepass(t *testing.T) {
	t.Run("forwards purchase request", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				t.Errorf("expected POST, got %s", r.Method)
			}
			if r.Header.Get("Content-Type") != "application/json" {
				t.Errorf("expected Content-Type application/json, got %s", r.Header.Get("Content-Type"))
			}
			var req PurchaseRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				t.Errorf("decode: %v", err)
			}
			if req.GamepassID != "GP-9" || req.ExpectedPrice != 1429 {
				t.Errorf("unexpected purchase request %+v", req)
			}
			_, _ = w.Write([]byte(`{"success":true,"transaction_id":"rbx-tx-1"}`))
		}))
		defer server.Close()

		res, err := newClient(server).PurchaseGamepass(context.Background(), PurchaseRequest{
			AccountUsername: "stock_alpha",
			GamepassID:      "GP-9",
			ExpectedPrice:   1429,
			BuyerUsername:   "player1",
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if res.TransactionID != "rbx-tx-1" {
			t.Errorf("expected rbx-tx-1, got %s", res.TransactionID)
		}
	})

	t.Run("rejected purchase", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnprocessableEntity)
			_, _ = w.Write([]byte(`{"success":false,"message":"gamepass already owned"}`))
		}))
		defer server.Close()

		_, err := newClient(server).PurchaseGamepass(context.Background(), PurchaseRequest{GamepassID: "GP-9"})
		if !errors.Is(err, ErrPurchaseRejected) {
			t.Errorf("expected ErrPurchaseRejected, got %v", err)
		}
	})

	t.Run("service down", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer server.Close()

		_, err := newClient(server).PurchaseGamepass(context.Background(), PurchaseRequest{GamepassID: "GP-9"})
		if !errors.Is(err, breaker.ErrUnavailable) {
			t.Errorf("expected breaker.ErrUnavailable, got %v", err)
		}
	})
}
