package orders

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rafliafriza12/rbx-project-backup-sub002/internal/domain"
)

func TestHandler_Lookups(t *testing.T) {
	store := NewMemoryStore()
	if err := store.CreateMany(context.Background(), newGroup("cid-1", "INV-A", "INV-B")); err != nil {
		t.Fatalf("seed: %v", err)
	}
	handler := NewHandler(store, slog.New(slog.NewTextHandler(io.Discard, nil)))

	mux := http.NewServeMux()
	mux.HandleFunc("GET /orders/{invoiceId}", handler.HandleGet)
	mux.HandleFunc("GET /orders", handler.HandleListGroup)

	t.Run("get by invoice id", func(t *testing.T) {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/orders/INV-B", nil))

		if rec.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rec.Code)
		}
		var order domain.Order
		if err := json.NewDecoder(rec.Body).Decode(&order); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if order.InvoiceID != "INV-B" {
			t.Errorf("expected INV-B, got %s", order.InvoiceID)
		}
	})

	t.Run("unknown invoice id", func(t *testing.T) {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/orders/INV-Z", nil))

		if rec.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rec.Code)
		}
	})

	t.Run("list group", func(t *testing.T) {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/orders?correlation_id=cid-1", nil))

		if rec.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rec.Code)
		}
		var group []domain.Order
		if err := json.NewDecoder(rec.Body).Decode(&group); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if len(group) != 2 {
			t.Errorf("expected 2 orders, got %d", len(group))
		}
	})

	t.Run("list without correlation id", func(t *testing.T) {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/orders", nil))

		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rec.Code)
		}
	})
}
