package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// installRecorder swaps in a recording tracer provider for the test.
func installRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			t.Errorf("provider shutdown: %v", err)
		}
	})
	return recorder
}

func TestTracing_SpanPerRequest(t *testing.T) {
	tests := []struct {
		method   string
		path     string
		wantName string
	}{
		{http.MethodGet, "/v1/places", "GET /v1/places"},
		{http.MethodPost, "/v1/places", "POST /v1/places"},
		{http.MethodPatch, "/v1/moderation/places/abc", "PATCH /v1/moderation/places/abc"},
	}

	for _, tt := range tests {
		t.Run(tt.wantName, func(t *testing.T) {
			recorder := installRecorder(t)

			handler := Tracing("qwermap-test")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			}))

			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, httptest.NewRequest(tt.method, tt.path, nil))

			spans := recorder.Ended()
			if len(spans) != 1 {
				t.Fatalf("expected 1 span, got %d", len(spans))
			}
			if spans[0].Name() != tt.wantName {
				t.Errorf("expected span name %q, got %q", tt.wantName, spans[0].Name())
			}
		})
	}
}

func TestTracing_IDsVisibleToHandler(t *testing.T) {
	recorder := installRecorder(t)

	var traceID, spanID string
	handler := Tracing("qwermap-test")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID = GetTraceID(r)
		spanID = GetSpanID(r)
		w.WriteHeader(http.StatusOK)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/safety-scores", nil))

	if traceID == "" || spanID == "" {
		t.Fatalf("expected trace and span ids, got %q / %q", traceID, spanID)
	}

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	sc := spans[0].SpanContext()
	if sc.TraceID().String() != traceID {
		t.Errorf("trace id mismatch: span %s, handler saw %s", sc.TraceID(), traceID)
	}
	if sc.SpanID().String() != spanID {
		t.Errorf("span id mismatch: span %s, handler saw %s", sc.SpanID(), spanID)
	}
}

func TestTraceIDs_NoActiveSpan(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/v1/places", nil)
	if id := GetTraceID(req); id != "" {
		t.Errorf("expected empty trace id, got %q", id)
	}
	if id := GetSpanID(req); id != "" {
		t.Errorf("expected empty span id, got %q", id)
	}
}
