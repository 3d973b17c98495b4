package payment

import (
	"context"
	"testing"
)

type stubGateway struct{ name string }

func (s stubGateway) Name() string { return s.name }
func (s stubGateway) CreatePayment(context.Context, CreatePaymentRequest) (*Session, error) {
	return &Session{}, nil
}
func (s stubGateway) MapStatus(string, string) StatusMapping { return StatusMapping{} }
func (s stubGateway) VerifySignature(Notification, string) bool { return true }
func (s stubGateway) GetStatus(context.Context, string) (*Notification, error) { return nil, nil }
func (s stubGateway) ParseNotification([]byte) (*Notification, error) { return nil, nil }

func TestRegistry(t *testing.T) {
	r, err := NewRegistry("duitku", stubGateway{"midtrans"}, stubGateway{"duitku"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if r.Active().Name() != "duitku" {
		t.Errorf("expected duitku active, got %s", r.Active().Name())
	}
	if _, ok := r.Get("midtrans"); !ok {
		t.Error("expected midtrans to be registered")
	}
	if _, ok := r.Get("xendit"); ok {
		t.Error("expected unknown provider to be missing")
	}
	if names := r.Names(); len(names) != 2 || names[0] != "duitku" {
		t.Errorf("expected sorted names, got %v", names)
	}
}

func TestRegistry_MissingActive(t *testing.T) {
	if _, err := NewRegistry("duitku", stubGateway{"midtrans"}); err == nil {
		t.Error("expected error when active provider is not configured")
	}
}
