package observe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
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

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func TestRecordCompletion(t *testing.T) {
	m, reader, _ := testSetup(t)
	ctx := context.Background()

	m.RecordCompletion(ctx, OutcomeCompleted)
	m.RecordCompletion(ctx, OutcomeCompleted)
	m.RecordCompletion(ctx, OutcomeRolledBack)

	got := findMetric(collect(t, reader), "fractiverse.completion.requests")
	if got == nil {
		t.Fatal("completion counter not found")
	}
	sum, ok := got.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("unexpected data type %T", got.Data)
	}

	counts := map[string]int64{}
	for _, dp := range sum.DataPoints {
		v, _ := dp.Attributes.Value(attribute.Key("outcome"))
		counts[v.AsString()] = dp.Value
	}
	if counts[OutcomeCompleted] != 2 {
		t.Errorf("completed = %d, want 2", counts[OutcomeCompleted])
	}
	if counts[OutcomeRolledBack] != 1 {
		t.Errorf("rolled_back = %d, want 1", counts[OutcomeRolledBack])
	}
}

func TestRecordDebit(t *testing.T) {
	m, reader, _ := testSetup(t)
	m.RecordDebit(context.Background(), 10, "flat")
	m.RecordDebit(context.Background(), 5, "flat")

	got := findMetric(collect(t, reader), "fractiverse.tokens.debited")
	if got == nil {
		t.Fatal("debit counter not found")
	}
	sum := got.Data.(metricdata.Sum[int64])
	if len(sum.DataPoints) != 1 || sum.DataPoints[0].Value != 15 {
		t.Errorf("debited = %+v, want a single point of 15", sum.DataPoints)
	}
}

func TestMiddleware_RecordsSpanDurationAndStatus(t *testing.T) {
	m, reader, exp := testSetup(t)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/conversations/{id}", func(w http.ResponseWriter, r *http.Request) {
		if CorrelationID(r.Context()) == "" {
			t.Error("handler context has no trace id")
		}
		w.WriteHeader(http.StatusTeapot)
	})
	handler := Middleware(m)(mux)

	req := httptest.NewRequest(http.MethodGet, "/api/conversations/abc", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusTeapot {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusTeapot)
	}
	if len(rec.Header().Get("X-Correlation-ID")) != 32 {
		t.Errorf("X-Correlation-ID = %q, want a 32 char trace id", rec.Header().Get("X-Correlation-ID"))
	}

	if spans := exp.GetSpans(); len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}

	hist := findMetric(collect(t, reader), "fractiverse.http.request.duration")
	if hist == nil {
		t.Fatal("request duration histogram not found")
	}
	data := hist.Data.(metricdata.Histogram[float64])
	if len(data.DataPoints) != 1 {
		t.Fatalf("got %d data points, want 1", len(data.DataPoints))
	}
	route, _ := data.DataPoints[0].Attributes.Value(attribute.Key("route"))
	if route.AsString() != "GET /api/conversations/{id}" {
		t.Errorf("route = %q, want the matched pattern", route.AsString())
	}
	status, _ := data.DataPoints[0].Attributes.Value(attribute.Key("status"))
	if status.AsInt64() != http.StatusTeapot {
		t.Errorf("status attribute = %d, want %d", status.AsInt64(), http.StatusTeapot)
	}
}

func TestMiddleware_KeepsWriterFlushable(t *testing.T) {
	m, _, _ := testSetup(t)

	var flushable bool
	handler := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, flushable = w.(http.Flusher)
		w.Write([]byte("data: x\n\n"))
		if err := http.NewResponseController(w).Flush(); err != nil {
			t.Errorf("Flush() error = %v", err)
		}
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/chat/completions", nil))

	if !flushable {
		t.Error("wrapped writer does not implement http.Flusher")
	}
	if !rec.Flushed {
		t.Error("flush did not reach the underlying writer")
	}
}
