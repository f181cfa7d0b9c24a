// Package telemetry exports delivery records and OpenTelemetry traces for
// the message transport system.
package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/vinayprograms/aclmts/errors"
)

// Exporter receives one Record per platform event and delivery attempt.
type Exporter interface {
	LogEvent(name string, data map[string]interface{})

	// LogDelivery records the outcome of one delivery attempt.
	LogDelivery(d Delivery)

	Flush() error
	Close() error
}

// Delivery outcomes.
const (
	OutcomeDelivered = "delivered"
	OutcomeFailed    = "failed"
)

// Delivery describes one attempt to hand a message to a transfer handler.
type Delivery struct {
	Platform       string        `json:"platform,omitempty"`
	Performative   string        `json:"performative"`
	Sender         string        `json:"sender,omitempty"`
	Receiver       string        `json:"receiver"`
	Address        string        `json:"address"`
	Scheme         string        `json:"scheme"`
	ConversationID string        `json:"conversation_id,omitempty"`
	Outcome        string        `json:"outcome"`
	Error          string        `json:"error,omitempty"`
	Latency        time.Duration `json:"latency"`
}

// Event is a named platform occurrence with free-form data.
type Event struct {
	Name string                 `json:"name"`
	Data map[string]interface{} `json:"data,omitempty"`
}

// Record kinds.
const (
	KindEvent    = "event"
	KindDelivery = "delivery"
)

// Record is the unit exporters write: one JSON line for the file exporter,
// one array element for the HTTP exporter.
type Record struct {
	Kind     string    `json:"kind"`
	Time     time.Time `json:"time"`
	Event    *Event    `json:"event,omitempty"`
	Delivery *Delivery `json:"delivery,omitempty"`
}

func eventRecord(name string, data map[string]interface{}) Record {
	return Record{Kind: KindEvent, Time: time.Now(), Event: &Event{Name: name, Data: data}}
}

func deliveryRecord(d Delivery) Record {
	return Record{Kind: KindDelivery, Time: time.Now(), Delivery: &d}
}

// NewExporter picks an exporter by protocol: "noop" (or empty), "file"
// (endpoint is a path) or "http" (endpoint is a URL).
func NewExporter(protocol, endpoint string) (Exporter, error) {
	switch protocol {
	case "http":
		return NewHTTPExporter(endpoint), nil
	case "file":
		return NewFileExporter(endpoint)
	case "noop", "":
		return NewNoopExporter(), nil
	}
	return nil, errors.Newf(errors.ErrCodeInvalidConfig, "unknown telemetry protocol %q", protocol)
}

const httpBatchSize = 100

// HTTPExporter posts batches of records as a JSON array. A batch that
// fails to post stays buffered for the next flush.
type HTTPExporter struct {
	endpoint string
	client   *http.Client

	mu     sync.Mutex
	buffer []Record
}

func NewHTTPExporter(endpoint string) *HTTPExporter {
	return &HTTPExporter{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 10 * time.Second},
		buffer:   make([]Record, 0, httpBatchSize),
	}
}

func (e *HTTPExporter) LogEvent(name string, data map[string]interface{}) {
	e.add(eventRecord(name, data))
}

func (e *HTTPExporter) LogDelivery(d Delivery) {
	e.add(deliveryRecord(d))
}

func (e *HTTPExporter) add(r Record) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.buffer = append(e.buffer, r)
	if len(e.buffer) >= httpBatchSize {
		_ = e.flush()
	}
}

func (e *HTTPExporter) Flush() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.flush()
}

func (e *HTTPExporter) flush() error {
	if len(e.buffer) == 0 {
		return nil
	}
	body, err := json.Marshal(e.buffer)
	if err != nil {
		return errors.WrapWithCode(err, errors.ErrCodeCodec, "encode telemetry batch")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(body))
	if err != nil {
		return errors.WrapWithCode(err, errors.ErrCodeInvalidConfig, "telemetry endpoint")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return errors.WrapWithCode(err, errors.ErrCodeUnavailable, "post telemetry batch")
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return errors.New(errors.ErrCodeUnavailable, fmt.Sprintf("telemetry endpoint returned %d", resp.StatusCode))
	}

	e.buffer = e.buffer[:0]
	return nil
}

func (e *HTTPExporter) Close() error {
	return e.Flush()
}

// FileExporter appends one JSON record per line.
type FileExporter struct {
	mu   sync.Mutex
	file *os.File
	enc  *json.Encoder
}

func NewFileExporter(path string) (*FileExporter, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrCodeInvalidConfig, "open telemetry file "+path)
	}
	return &FileExporter{file: file, enc: json.NewEncoder(file)}, nil
}

func (e *FileExporter) LogEvent(name string, data map[string]interface{}) {
	e.write(eventRecord(name, data))
}

func (e *FileExporter) LogDelivery(d Delivery) {
	e.write(deliveryRecord(d))
}

// write drops records that fail to encode; telemetry never fails a send.
func (e *FileExporter) write(r Record) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.enc.Encode(r)
}

func (e *FileExporter) Flush() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.file.Sync()
}

func (e *FileExporter) Close() error {
	e.Flush()
	return e.file.Close()
}

// NoopExporter discards everything.
type NoopExporter struct{}

func NewNoopExporter() *NoopExporter {
	return &NoopExporter{}
}

func (e *NoopExporter) LogEvent(name string, data map[string]interface{}) {}
func (e *NoopExporter) LogDelivery(d Delivery)                            {}
func (e *NoopExporter) Flush() error                                      { return nil }
func (e *NoopExporter) Close() error                                      { return nil }
