package mailer

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rafliafriza12/rbx-project-backup-sub002/internal/domain"
)

func TestRender(t *testing.T) {
	data, _ := json.Marshal(domain.InvoiceCreatedEvent{
		CorrelationID: "cid-1",
		InvoiceIDs:    []string{"INV-A", "INV-B"},
		CustomerName:  "Rafi",
		GrossAmount:   1500000,
		RedirectURL:   "https://pay.example/abc",
	})

	subject, body, err := Render(TemplateInvoiceCreated, data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if subject != "Your invoice for order cid-1" {
		t.Errorf("unexpected subject %q", subject)
	}
	for _, want := range []string{"Hi Rafi", "Rp1.500.000", "https://pay.example/abc", "INV-A, INV-B"} {
		if !strings.Contains(body, want) {
			t.Errorf("expected body to contain %q, got:\n%s", want, body)
		}
	}

	if _, _, err := Render("welcome", data); err == nil {
		t.Error("expected error for unknown template")
	}
}

func TestFormatIDR(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{0, "Rp0"},
		{999, "Rp999"},
		{1000, "Rp1.000"},
		{27000, "Rp27.000"},
		{1234567, "Rp1.234.567"},
		{-4500, "-Rp4.500"},
	}

	for _, tt := range tests {
		if got := formatIDR(tt.in); got != tt.want {
			t.Errorf("formatIDR(%d): expected %s, got %s", tt.in, tt.want, got)
		}
	}
}

func TestHandleSend(t *testing.T) {
	handler := NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)))

	send := func(req any) *httptest.ResponseRecorder {
		var buf bytes.Buffer
		_ = json.NewEncoder(&buf).Encode(req)
		rec := httptest.NewRecorder()
		handler.HandleSend(rec, httptest.NewRequest(http.MethodPost, "/send", &buf))
		return rec
	}

	settled, _ := json.Marshal(domain.PaymentSettledEvent{CorrelationID: "cid-1", PaidAmount: 27000, PaymentType: "qris"})

	t.Run("sent", func(t *testing.T) {
		rec := send(SendRequest{To: "rafi@example.com", Template: TemplatePaymentSettled, Data: settled})

		if rec.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rec.Code)
		}
		var resp sendResponse
		if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if resp.Subject != "Payment received for order cid-1" {
			t.Errorf("unexpected subject %q", resp.Subject)
		}
	})

	t.Run("missing recipient", func(t *testing.T) {
		rec := send(SendRequest{Template: TemplatePaymentSettled, Data: settled})

		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rec.Code)
		}
	})

	t.Run("unknown template", func(t *testing.T) {
		rec := send(SendRequest{To: "rafi@example.com", Template: "nope", Data: settled})

		if rec.Code != http.StatusUnprocessableEntity {
			t.Errorf("expected status 422, got %d", rec.Code)
		}
	})
}
