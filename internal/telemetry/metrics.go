package telemetry

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/runtime"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/metric"
)

// InitMeterProvider initializes the Prometheus exporter, the MeterProvider and
// Go runtime metrics. It returns an http.Handler for the /metrics endpoint and
// a shutdown function.
func InitMeterProvider(serviceName, serviceVersion string) (http.Handler, func(context.Context) error, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, nil, err
	}

	mp := metric.NewMeterProvider(
		metric.WithReader(exporter),
		metric.WithResource(newResource(serviceName, serviceVersion)),
	)

	otel.SetMeterProvider(mp)

	if err := runtime.Start(runtime.WithMeterProvider(mp)); err != nil {
		return nil, nil, err
	}

	return promhttp.Handler(), mp.Shutdown, nil
}

// EngineMetrics counts checkout, webhook, ledger and fulfillment outcomes.
// A nil *EngineMetrics records nothing.
type EngineMetrics struct {
	checkouts     otelmetric.Int64Counter
	notifications otelmetric.Int64Counter
	credits       otelmetric.Int64Counter
	fulfillments  otelmetric.Int64Counter
}

func NewEngineMetrics(meter otelmetric.Meter) (*EngineMetrics, error) {
	checkouts, err := meter.Int64Counter("checkout.requests",
		otelmetric.WithDescription("Checkout attempts by result"))
	if err != nil {
		return nil, err
	}

	notifications, err := meter.Int64Counter("webhook.notifications",
		otelmetric.WithDescription("Payment notifications by provider and result"))
	if err != nil {
		return nil, err
	}

	credits, err := meter.Int64Counter("ledger.credits",
		otelmetric.WithDescription("Ledger credit attempts by result"))
	if err != nil {
		return nil, err
	}

	fulfillments, err := meter.Int64Counter("fulfillment.attempts",
		otelmetric.WithDescription("Fulfillment attempts by kind and result"))
	if err != nil {
		return nil, err
	}

	return &EngineMetrics{
		checkouts:     checkouts,
		notifications: notifications,
		credits:       credits,
		fulfillments:  fulfillments,
	}, nil
}

func (m *EngineMetrics) RecordCheckout(ctx context.Context, result string) {
	if m == nil {
		return
	}
	m.checkouts.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("result", result)))
}

func (m *EngineMetrics) RecordNotification(ctx context.Context, provider, result string) {
	if m == nil {
		return
	}
	m.notifications.Add(ctx, 1, otelmetric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("result", result),
	))
}

func (m *EngineMetrics) RecordCredit(ctx context.Context, result string) {
	if m == nil {
		return
	}
	m.credits.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("result", result)))
}

func (m *EngineMetrics) RecordFulfillment(ctx context.Context, kind, result string) {
	if m == nil {
		return
	}
	m.fulfillments.Add(ctx, 1, otelmetric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("result", result),
	))
}
