// Package export streams batches of navigation events to an external
// sink for offline analysis.
package export

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/storefront/navcore/pkg/ledger"
)

// Emitter sends batches of events to a sink.
type Emitter interface {
	Emit(events []ledger.Event) error
	Close() error
}

// JSONLEmitter writes one JSON object per event to a writer. It backs
// both the stdout and file sinks.
type JSONLEmitter struct {
	mu     sync.Mutex
	enc    *json.Encoder
	closer io.Closer // nil for writers the emitter does not own
}

// NewStdoutEmitter returns a JSONL emitter on stdout, for piping into a
// log aggregator.
func NewStdoutEmitter() *JSONLEmitter {
	return &JSONLEmitter{enc: json.NewEncoder(os.Stdout)}
}

// NewFileEmitter returns a JSONL emitter appending to the given path.
func NewFileEmitter(path string) (*JSONLEmitter, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("export.NewFileEmitter: %w", err)
	}
	return &JSONLEmitter{enc: json.NewEncoder(f), closer: f}, nil
}

// Emit writes each event as one JSON line.
func (e *JSONLEmitter) Emit(events []ledger.Event) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, evt := range events {
		if err := e.enc.Encode(evt); err != nil {
			return fmt.Errorf("export.JSONLEmitter: %w", err)
		}
	}
	return nil
}

// Close closes the underlying writer when the emitter owns it.
func (e *JSONLEmitter) Close() error {
	if e.closer == nil {
		return nil
	}
	return e.closer.Close()
}

// batchEnvelope is the wire shape POSTed to an analytics endpoint. The
// source field lets a shared endpoint tell navcore batches apart.
type batchEnvelope struct {
	Source string         `json:"source"`
	SentAt time.Time      `json:"sent_at"`
	Events []ledger.Event `json:"events"`
}

const batchSource = "navcore"

// HTTPEmitter POSTs batch envelopes to an analytics endpoint URL.
type HTTPEmitter struct {
	url    string
	client *http.Client
	now    func() time.Time
}

// NewHTTPEmitter creates an emitter posting to the given endpoint URL.
func NewHTTPEmitter(url string) *HTTPEmitter {
	return &HTTPEmitter{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
		now:    time.Now,
	}
}

// Emit sends one envelope per batch. Any 2xx response counts as
// accepted.
func (e *HTTPEmitter) Emit(events []ledger.Event) error {
	body, err := json.Marshal(batchEnvelope{
		Source: batchSource,
		SentAt: e.now(),
		Events: events,
	})
	if err != nil {
		return fmt.Errorf("export.HTTPEmitter: marshal: %w", err)
	}

	resp, err := e.client.Post(e.url, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("export.HTTPEmitter: post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("export.HTTPEmitter: endpoint returned status %d", resp.StatusCode)
	}
	return nil
}

// Close is a no-op; the emitter holds no connection state.
func (e *HTTPEmitter) Close() error {
	return nil
}

// NopEmitter discards all events.
type NopEmitter struct{}

func NewNopEmitter() *NopEmitter { return &NopEmitter{} }

func (e *NopEmitter) Emit(events []ledger.Event) error { return nil }
func (e *NopEmitter) Close() error                     { return nil }

// MemoryEmitter retains emitted events for test assertions.
type MemoryEmitter struct {
	mu     sync.Mutex
	events []ledger.Event
}

func NewMemoryEmitter() *MemoryEmitter {
	return &MemoryEmitter{}
}

func (e *MemoryEmitter) Emit(events []ledger.Event) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, events...)
	return nil
}

func (e *MemoryEmitter) Close() error {
	return nil
}

// Events returns a copy of everything emitted so far.
func (e *MemoryEmitter) Events() []ledger.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]ledger.Event, len(e.events))
	copy(out, e.events)
	return out
}

// Len returns the number of emitted events.
func (e *MemoryEmitter) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.events)
}
