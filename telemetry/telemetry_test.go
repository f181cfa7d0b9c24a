package telemetry

import (
	"bufio"
	"context"
	"encoding/json"
	stderrors "errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/vinayprograms/aclmts/errors"
)

func TestNoopExporter(t *testing.T) {
	exp := NewNoopExporter()

	// Should not panic
	exp.LogEvent("test", map[string]interface{}{"key": "value"})
	exp.LogDelivery(Delivery{Receiver: "bob@p"})

	if err := exp.Flush(); err != nil {
		t.Errorf("Flush() error = %v", err)
	}
	if err := exp.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestFileExporter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deliveries.jsonl")

	exp, err := NewFileExporter(path)
	if err != nil {
		t.Fatalf("NewFileExporter() error = %v", err)
	}
	defer exp.Close()

	exp.LogEvent("handler_installed", map[string]interface{}{"scheme": "memory"})
	exp.LogDelivery(Delivery{
		Performative: "inform",
		Sender:       "alice@p",
		Receiver:     "bob@p",
		Address:      "memory://p/bob",
		Scheme:       "memory",
		Outcome:      OutcomeDelivered,
		Latency:      time.Millisecond,
	})
	exp.Flush()

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}

	var ev Record
	if err := json.Unmarshal([]byte(lines[0]), &ev); err != nil {
		t.Fatalf("Unmarshal event: %v", err)
	}
	if ev.Kind != KindEvent || ev.Event == nil || ev.Event.Name != "handler_installed" {
		t.Errorf("event record = %s", lines[0])
	}

	var r Record
	if err := json.Unmarshal([]byte(lines[1]), &r); err != nil {
		t.Fatalf("Unmarshal delivery: %v", err)
	}
	if r.Kind != KindDelivery || r.Time.IsZero() || r.Delivery == nil {
		t.Fatalf("delivery record = %s", lines[1])
	}
	if d := r.Delivery; d.Receiver != "bob@p" || d.Outcome != OutcomeDelivered || d.Latency != time.Millisecond {
		t.Errorf("delivery = %+v", d)
	}
}

func TestHTTPExporter(t *testing.T) {
	var mu sync.Mutex
	var batches [][]Record

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var batch []Record
		if err := json.Unmarshal(body, &batch); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		mu.Lock()
		batches = append(batches, batch)
		mu.Unlock()
	}))
	defer srv.Close()

	exp := NewHTTPExporter(srv.URL)
	exp.LogDelivery(Delivery{Receiver: "a@p", Outcome: OutcomeFailed, Error: "unknown"})
	exp.LogEvent("x", nil)

	if err := exp.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(batches) != 1 || len(batches[0]) != 2 {
		t.Fatalf("batches = %v", batches)
	}
	if batches[0][0].Kind != KindDelivery || batches[0][0].Delivery.Error != "unknown" {
		t.Errorf("first record = %+v", batches[0][0])
	}
	if batches[0][1].Kind != KindEvent || batches[0][1].Event.Name != "x" {
		t.Errorf("second record = %+v", batches[0][1])
	}
}

func TestHTTPExporter_ErrorStatusKeepsBuffer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	exp := NewHTTPExporter(srv.URL)
	exp.LogEvent("x", nil)
	if err := exp.Flush(); !errors.Is(err, errors.ErrCodeUnavailable) {
		t.Fatalf("Flush() = %v, want UNAVAILABLE on 503", err)
	}
	if len(exp.buffer) != 1 {
		t.Errorf("buffer len = %d, want 1", len(exp.buffer))
	}
}

func TestNewExporter(t *testing.T) {
	tests := []struct {
		protocol string
		wantErr  bool
	}{
		{"noop", false},
		{"", false},
		{"http", false},
		{"unknown", true},
	}

	for _, tt := range tests {
		t.Run(tt.protocol, func(t *testing.T) {
			exp, err := NewExporter(tt.protocol, "")
			if (err != nil) != tt.wantErr {
				t.Errorf("NewExporter() error = %v, wantErr %v", err, tt.wantErr)
			}
			if exp != nil && tt.protocol != "http" {
				exp.Close()
			}
		})
	}
}

func TestTracer_SendSpan(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	tr := NewTracerFromProvider(tp, "test", true)

	ctx, span := tr.StartSendSpan(context.Background(), SendSpanOptions{
		Performative: "inform",
		Sender:       "alice@p",
		Receivers:    []string{"bob@p"},
		Content:      "hello",
	})
	_, dspan := tr.StartDeliverySpan(ctx, "memory", "memory://p/bob")
	tr.EndDeliverySpan(dspan, stderrors.New("unknown receiver"))
	tr.EndSendSpan(span, nil)

	spans := rec.Ended()
	if len(spans) != 2 {
		t.Fatalf("ended spans = %d, want 2", len(spans))
	}
	deliver, send := spans[0], spans[1]
	if deliver.Name() != "mts.deliver.memory" || deliver.Status().Code != codes.Error {
		t.Errorf("deliver span = %s %v", deliver.Name(), deliver.Status())
	}
	if deliver.Parent().SpanID() != send.SpanContext().SpanID() {
		t.Error("delivery span should be a child of the send span")
	}

	found := false
	for _, kv := range send.Attributes() {
		if kv.Key == "acl.content" && kv.Value.AsString() == "hello" {
			found = true
		}
	}
	if !found {
		t.Error("debug tracer should record content")
	}
}

func TestGetTracer_DefaultNoop(t *testing.T) {
	SetGlobalTracer(nil)
	tr := GetTracer()
	_, span := tr.StartReceiveSpan(context.Background(), "bob@p")
	tr.EndReceiveSpan(span, "inform", nil)
	if span.SpanContext().IsValid() {
		t.Error("noop tracer should produce invalid span contexts")
	}
}

func TestMapCarrier(t *testing.T) {
	c := MapCarrier{}
	c.Set("traceparent", "00-abc")
	if c.Get("traceparent") != "00-abc" || len(c.Keys()) != 1 {
		t.Errorf("carrier = %v", c)
	}
}

func TestInitProvider_ConfigErrors(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")

	if _, err := InitProvider(context.Background(), ProviderConfig{}); !errors.Is(err, errors.ErrCodeInvalidConfig) {
		t.Errorf("missing endpoint err = %v, want INVALID_CONFIG", err)
	}

	_, err := InitProvider(context.Background(), ProviderConfig{Endpoint: "localhost:4317", Protocol: "carrier-pigeon"})
	if !errors.Is(err, errors.ErrCodeInvalidConfig) {
		t.Errorf("bad protocol err = %v, want INVALID_CONFIG", err)
	}
}

func TestResolveEndpoint(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")

	tests := []struct {
		endpoint     string
		insecure     bool
		wantHost     string
		wantInsecure bool
	}{
		{"localhost:4317", false, "localhost:4317", false},
		{"localhost:4317", true, "localhost:4317", true},
		{"http://collector:4318/", false, "collector:4318", true},
		{"https://collector:4318", true, "collector:4318", false},
	}
	for _, tt := range tests {
		got, err := resolveEndpoint(tt.endpoint, tt.insecure)
		if err != nil {
			t.Fatalf("resolveEndpoint(%q) error = %v", tt.endpoint, err)
		}
		if got.host != tt.wantHost || got.insecure != tt.wantInsecure {
			t.Errorf("resolveEndpoint(%q, %v) = %+v", tt.endpoint, tt.insecure, got)
		}
	}

	if _, err := resolveEndpoint("https://", false); !errors.Is(err, errors.ErrCodeInvalidConfig) {
		t.Errorf("empty host err = %v, want INVALID_CONFIG", err)
	}

	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "http://from-env:4318")
	if got, _ := resolveEndpoint("", false); got.host != "from-env:4318" || !got.insecure {
		t.Errorf("env endpoint = %+v", got)
	}
}
