package export

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/storefront/navcore/pkg/ledger"
)

// CollectorConfig configures event export.
type CollectorConfig struct {
	Enabled       bool
	Sink          string // "stdout", "file", "http", "nop"
	FilePath      string
	EndpointAddr  string
	BatchSize     int
	FlushInterval time.Duration
}

// Collector batches navigation events and flushes them to the
// configured emitter on size or interval.
type Collector struct {
	cfg     CollectorConfig
	emitter Emitter

	batch []ledger.Event
	mu    sync.Mutex

	flushCh chan struct{}
	closeCh chan struct{}
	wg      sync.WaitGroup
}

// NewCollector creates an export collector for the configured sink.
func NewCollector(cfg CollectorConfig) (*Collector, error) {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}

	var emitter Emitter
	switch cfg.Sink {
	case "stdout":
		emitter = NewStdoutEmitter()
	case "file":
		var err error
		path := cfg.FilePath
		if path == "" {
			path = "/var/log/navcore/events.jsonl"
		}
		emitter, err = NewFileEmitter(path)
		if err != nil {
			return nil, err
		}
	case "http":
		if cfg.EndpointAddr == "" {
			return nil, fmt.Errorf("export.NewCollector: http sink requires endpoint_addr")
		}
		emitter = NewHTTPEmitter(cfg.EndpointAddr)
	default:
		emitter = NewNopEmitter()
	}

	c := &Collector{
		cfg:     cfg,
		emitter: emitter,
		batch:   make([]ledger.Event, 0, cfg.BatchSize),
		flushCh: make(chan struct{}, 1),
		closeCh: make(chan struct{}),
	}

	c.wg.Add(1)
	go c.flushLoop()
	return c, nil
}

// Record adds an event to the pending batch. Non-blocking; intended as
// the ledger's sink callback.
func (c *Collector) Record(evt ledger.Event) {
	if !c.cfg.Enabled {
		return
	}

	c.mu.Lock()
	c.batch = append(c.batch, evt)
	shouldFlush := len(c.batch) >= c.cfg.BatchSize
	c.mu.Unlock()

	if shouldFlush {
		select {
		case c.flushCh <- struct{}{}:
		default:
		}
	}
}

// Flush forces a flush of the current batch.
func (c *Collector) Flush() {
	c.flush()
}

// Close flushes remaining events and closes the emitter.
func (c *Collector) Close() error {
	close(c.closeCh)
	c.wg.Wait()
	return c.emitter.Close()
}

// Batched returns all currently batched events (for testing).
func (c *Collector) Batched() []ledger.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ledger.Event, len(c.batch))
	copy(out, c.batch)
	return out
}

func (c *Collector) flushLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.closeCh:
			c.flush() // Final flush
			return
		case <-c.flushCh:
			c.flush()
		case <-ticker.C:
			c.flush()
		}
	}
}

func (c *Collector) flush() {
	c.mu.Lock()
	if len(c.batch) == 0 {
		c.mu.Unlock()
		return
	}
	batch := c.batch
	c.batch = make([]ledger.Event, 0, c.cfg.BatchSize)
	c.mu.Unlock()

	// Drop the batch on emitter error; export is best-effort.
	if err := c.emitter.Emit(batch); err != nil {
		slog.Warn("event export flush failed", "count", len(batch), "error", err)
	}
}
