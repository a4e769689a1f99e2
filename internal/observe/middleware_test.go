package observe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// instrument installs an in-memory tracer globally and returns middleware
// metrics backed by a manual reader. Tests using it must not run in parallel.
func instrument(t *testing.T) (*Metrics, *sdkmetric.ManualReader, *tracetest.InMemoryExporter) {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})
	return m, reader, exp
}

func serve(h http.Handler, method, path string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestMiddleware(t *testing.T) {
	const incoming = "4bf92f3577b34da6a3ce929d0e0e4736"

	tests := []struct {
		name       string
		path       string
		status     int
		header     http.Header
		wantTrace  string
		wantErrSpn bool
	}{
		{name: "new trace", path: "/api/evaluate", status: http.StatusOK},
		{name: "client error", path: "/api/score", status: http.StatusBadRequest},
		{name: "server error marks the span", path: "/api/transcribe", status: http.StatusBadGateway, wantErrSpn: true},
		{
			name:      "continues an incoming trace",
			path:      "/api/speak",
			status:    http.StatusOK,
			header:    http.Header{"Traceparent": {"00-" + incoming + "-00f067aa0ba902b7-01"}},
			wantTrace: incoming,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _, exp := instrument(t)

			var seen string
			h := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = CorrelationID(r.Context())
				w.WriteHeader(tt.status)
			}))
			rec := serve(h, http.MethodPost, tt.path, tt.header)

			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d", rec.Code, tt.status)
			}
			if len(seen) != 32 {
				t.Fatalf("correlation ID %q is not a trace ID", seen)
			}
			if tt.wantTrace != "" && seen != tt.wantTrace {
				t.Errorf("correlation ID = %q, want %q", seen, tt.wantTrace)
			}
			if got := rec.Header().Get(CorrelationHeader); got != seen {
				t.Errorf("%s = %q, want %q", CorrelationHeader, got, seen)
			}

			spans := exp.GetSpans()
			if len(spans) != 1 {
				t.Fatalf("recorded %d spans, want 1", len(spans))
			}
			span := spans[0]
			if want := "HTTP POST " + tt.path; span.Name != want {
				t.Errorf("span name = %q, want %q", span.Name, want)
			}
			if !hasAttr(span.Attributes, attribute.Int("http.response.status_code", tt.status)) {
				t.Errorf("span attributes %v lack the status code", span.Attributes)
			}
			if gotErr := span.Status.Code == codes.Error; gotErr != tt.wantErrSpn {
				t.Errorf("span error status = %v, want %v", gotErr, tt.wantErrSpn)
			}
		})
	}
}

func TestMiddleware_RecordsDuration(t *testing.T) {
	m, reader, _ := instrument(t)
	h := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	serve(h, http.MethodGet, "/healthz", nil)

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	met := findMetric(rm, "realtalk.http.request.duration")
	if met == nil {
		t.Fatal("duration histogram not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok || len(hist.DataPoints) != 1 {
		t.Fatalf("data = %#v, want one histogram point", met.Data)
	}
	dp := hist.DataPoints[0]
	if dp.Count != 1 {
		t.Errorf("count = %d, want 1", dp.Count)
	}
	for _, want := range []attribute.KeyValue{
		attribute.String("method", "GET"),
		attribute.String("path", "/healthz"),
		attribute.String("status", "204"),
	} {
		if !hasAttr(dp.Attributes.ToSlice(), want) {
			t.Errorf("missing attribute %v", want)
		}
	}
}

func TestMiddleware_HijackPassesThrough(t *testing.T) {
	m, _, _ := instrument(t)

	var supported bool
	srv := httptest.NewServer(Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, supported = w.(http.Hijacker)
	})))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/ws/lesson")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if !supported {
		t.Error("wrapped writer does not implement http.Hijacker")
	}
}

func hasAttr(attrs []attribute.KeyValue, want attribute.KeyValue) bool {
	for _, kv := range attrs {
		if kv.Key == want.Key && kv.Value == want.Value {
			return true
		}
	}
	return false
}
