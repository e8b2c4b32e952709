package observe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func testSetup(t *testing.T) (*Metrics, *sdkmetric.ManualReader, *tracetest.InMemoryExporter) {
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
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	origTP := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(origTP) })

	return m, reader, exp
}

func serve(h http.Handler, method, path string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestMiddleware_SpanAndCorrelationID(t *testing.T) {
	m, _, exp := testSetup(t)

	var seen string
	h := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = CorrelationID(r.Context())
	}))
	rec := serve(h, http.MethodPost, "/v1/session/start", nil)

	if len(seen) != 32 {
		t.Fatalf("handler saw correlation ID %q", seen)
	}
	if got := rec.Header().Get("X-Correlation-ID"); got != seen {
		t.Errorf("X-Correlation-ID = %q, want %q", got, seen)
	}
	spans := exp.GetSpans()
	if len(spans) != 1 || spans[0].Name != "POST /v1/session/start" {
		t.Fatalf("spans = %v", spans)
	}
}

func TestMiddleware_RecordsDurationWithStatusClass(t *testing.T) {
	m, reader, exp := testSetup(t)

	h := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))
	rec := serve(h, http.MethodPost, "/v1/session/start", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d", rec.Code)
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	met := findMetric(rm, "glasslisten.http.request.duration")
	if met == nil {
		t.Fatal("metric not found")
	}
	hist := met.Data.(metricdata.Histogram[float64])
	if len(hist.DataPoints) != 1 {
		t.Fatalf("data points = %d, want 1", len(hist.DataPoints))
	}
	got := map[string]string{}
	for _, kv := range hist.DataPoints[0].Attributes.ToSlice() {
		got[string(kv.Key)] = kv.Value.AsString()
	}
	if got["method"] != "POST" || got["path"] != "/v1/session/start" || got["status_class"] != "4xx" {
		t.Errorf("attributes = %v", got)
	}

	found := false
	for _, a := range exp.GetSpans()[0].Attributes {
		if string(a.Key) == "http.response.status_code" && a.Value.AsInt64() == 409 {
			found = true
		}
	}
	if !found {
		t.Error("span missing http.response.status_code attribute")
	}
}

func TestMiddleware_PropagatesW3CTraceContext(t *testing.T) {
	m, _, _ := testSetup(t)

	var seen string
	h := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = CorrelationID(r.Context())
	}))
	const traceID = "4bf92f3577b34da6a3ce929d0e0e4736"
	rec := serve(h, http.MethodGet, "/v1/session", http.Header{
		"Traceparent": {"00-" + traceID + "-00f067aa0ba902b7-01"},
	})

	if seen != traceID {
		t.Errorf("correlation ID = %q, want %q", seen, traceID)
	}
	if got := rec.Header().Get("X-Correlation-ID"); got != traceID {
		t.Errorf("X-Correlation-ID = %q, want %q", got, traceID)
	}
}

func TestMiddleware_ProbesLogAtDebug(t *testing.T) {
	m, _, _ := testSetup(t)
	buf := captureLogs(t)

	h := Middleware(m)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	serve(h, http.MethodGet, "/healthz", nil)
	serve(h, http.MethodGet, "/v1/session", nil)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("log lines = %d, want 2: %s", len(lines), buf.String())
	}
	if !strings.Contains(lines[0], "level=DEBUG") || !strings.Contains(lines[0], "path=/healthz") {
		t.Errorf("probe line = %s", lines[0])
	}
	if !strings.Contains(lines[1], "level=INFO") {
		t.Errorf("api line = %s", lines[1])
	}
}

func TestStatusClass(t *testing.T) {
	for code, want := range map[int]string{200: "2xx", 204: "2xx", 404: "4xx", 503: "5xx"} {
		if got := statusClass(code); got != want {
			t.Errorf("statusClass(%d) = %q, want %q", code, got, want)
		}
	}
}
