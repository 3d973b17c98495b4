package telemetry

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestSpanName(t *testing.T) {
	var got string
	mux := http.NewServeMux()
	mux.HandleFunc("POST /webhooks/{provider}", WithHTTPRoute(func(w http.ResponseWriter, r *http.Request) {
		got = SpanName("", r)
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhooks/midtrans", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}
	if got != "POST /webhooks/{provider}" {
		t.Errorf("expected matched pattern as span name, got %q", got)
	}

	unmatched := httptest.NewRequest(http.MethodGet, "/unknown", nil)
	if name := SpanName("", unmatched); name != "GET /unknown" {
		t.Errorf("expected method and path for unmatched request, got %q", name)
	}
}

func TestTracerConfigFromEnv(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "collector:4317")
	t.Setenv("OTEL_TRACES_SAMPLE_RATIO", "0.5")

	cfg := TracerConfigFromEnv("mailer", "1.2.3")
	if cfg.Endpoint != "collector:4317" {
		t.Errorf("expected endpoint collector:4317, got %q", cfg.Endpoint)
	}
	if cfg.SampleRatio != 0.5 {
		t.Errorf("expected sample ratio 0.5, got %v", cfg.SampleRatio)
	}
	if cfg.ServiceName != "mailer" || cfg.ServiceVersion != "1.2.3" {
		t.Errorf("unexpected service identity %q %q", cfg.ServiceName, cfg.ServiceVersion)
	}

	t.Setenv("OTEL_TRACES_SAMPLE_RATIO", "not-a-number")
	if got := TracerConfigFromEnv("mailer", "1.2.3").SampleRatio; got != 1 {
		t.Errorf("expected default sample ratio 1, got %v", got)
	}
}

func TestTracerConfig_Sampler(t *testing.T) {
	tests := []struct {
		ratio float64
		want  string
	}{
		{0, "AlwaysOnSampler"},
		{1, "AlwaysOnSampler"},
		{0.25, "TraceIDRatioBased{0.25}"},
	}
	for _, tt := range tests {
		desc := TracerConfig{SampleRatio: tt.ratio}.sampler().Description()
		want := "ParentBased{root:" + tt.want
		if !strings.HasPrefix(desc, want) {
			t.Errorf("ratio %v: expected sampler %s..., got %s", tt.ratio, want, desc)
		}
	}
}
