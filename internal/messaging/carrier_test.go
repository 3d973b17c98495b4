package messaging

import (
	"context"
	"testing"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

func TestHeaderCarrier(t *testing.T) {
	msg := kafka.Message{Headers: []kafka.Header{{Key: HeaderEventType, Value: []byte(TopicInvoiceCreated)}}}
	c := NewHeaderCarrier(&msg)

	c.Set("traceparent", "first")
	c.Set("traceparent", "second")

	if got := c.Get("traceparent"); got != "second" {
		t.Errorf("expected second, got %s", got)
	}
	if len(msg.Headers) != 2 {
		t.Errorf("expected 2 headers, got %d", len(msg.Headers))
	}
	if got := c.Get("missing"); got != "" {
		t.Errorf("expected empty value, got %s", got)
	}
	if keys := c.Keys(); len(keys) != 2 || keys[0] != HeaderEventType {
		t.Errorf("unexpected keys %v", keys)
	}
}

func TestHeaderCarrier_PropagatesTraceContext(t *testing.T) {
	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	var msg kafka.Message
	prop := propagation.TraceContext{}
	prop.Inject(ctx, NewHeaderCarrier(&msg))

	extracted := trace.SpanContextFromContext(prop.Extract(context.Background(), NewHeaderCarrier(&msg)))
	if extracted.TraceID() != traceID {
		t.Errorf("expected trace id %s, got %s", traceID, extracted.TraceID())
	}
}
