// Package queue holds deferred actions — work postponed because the
// system was offline — and retries them with bounded attempts once a
// processing pass runs.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/storefront/navcore/pkg/metrics"
)

// actionsKey is the store key for the serialized pending actions.
const actionsKey = "queue:actions"

// Action is one unit of deferred work. Attempts counts failed
// processing passes; the action is removed on success or when attempts
// reaches MaxAttempts.
type Action struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	Payload     json.RawMessage `json:"payload"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"max_attempts"`
	EnqueuedAt  time.Time       `json:"enqueued_at"`
}

// Handler processes one action's payload. A nil return removes the
// action; an error retains it for the next pass.
type Handler func(ctx context.Context, payload json.RawMessage) error

// Persister is the durable storage dependency.
type Persister interface {
	Get(key string, out any) (bool, error)
	Put(key string, v any) error
}

// Queue is a durable, at-least-once FIFO of deferred actions with
// per-type handlers. Single-flight per action id: an action being
// processed is skipped by overlapping passes.
type Queue struct {
	mu                 sync.Mutex
	actions            []Action
	handlers           map[string]Handler
	inflight           map[string]bool
	defaultMaxAttempts int
	store              Persister
	now                func() time.Time
}

// Config holds queue settings.
type Config struct {
	DefaultMaxAttempts int
}

// New creates a queue, rehydrating any persisted pending actions.
// Corrupt stored data yields an empty queue.
func New(cfg Config, store Persister) *Queue {
	if cfg.DefaultMaxAttempts <= 0 {
		cfg.DefaultMaxAttempts = 3
	}
	q := &Queue{
		handlers:           make(map[string]Handler),
		inflight:           make(map[string]bool),
		defaultMaxAttempts: cfg.DefaultMaxAttempts,
		store:              store,
		now:                time.Now,
	}

	if store != nil {
		var actions []Action
		ok, err := store.Get(actionsKey, &actions)
		if err != nil {
			slog.Warn("deferred queue rehydration failed", "error", err)
		} else if ok {
			q.actions = actions
			slog.Info("deferred queue rehydrated", "pending", len(actions))
		}
	}
	metrics.QueueDepth.Set(float64(len(q.actions)))
	return q
}

// Enqueue appends a deferred action and persists the queue immediately.
// maxAttempts <= 0 uses the configured default.
func (q *Queue) Enqueue(actionType string, payload any, maxAttempts int) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("queue.Enqueue: marshal payload: %w", err)
	}
	if maxAttempts <= 0 {
		maxAttempts = q.defaultMaxAttempts
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	a := Action{
		ID:          uuid.NewString(),
		Type:        actionType,
		Payload:     data,
		MaxAttempts: maxAttempts,
		EnqueuedAt:  q.now(),
	}
	q.actions = append(q.actions, a)
	q.persistLocked()
	metrics.QueueDepth.Set(float64(len(q.actions)))

	slog.Info("deferred action enqueued", "id", a.ID, "type", actionType, "max_attempts", maxAttempts)
	return a.ID, nil
}

// RegisterHandler sets the handler for an action type. One handler per
// type; the last registration wins.
func (q *Queue) RegisterHandler(actionType string, h Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[actionType] = h
}

// Result summarizes one processing pass.
type Result struct {
	Processed int // actions the pass attempted
	Succeeded int
	Failed    int // failed but retained for a later pass
	Dropped   int // removed after exhausting max attempts
}

// Process runs one pass over a snapshot of the current queue. Actions
// enqueued while the pass runs are not touched until the next pass, so
// a handler that re-enqueues cannot loop the pass forever. Safe to call
// repeatedly (e.g. on every reconnect): actions already being processed
// by an overlapping pass are skipped.
//
// Per pass, each action either succeeds (removed), fails (attempts
// incremented, retained), or exhausts its attempts (removed, logged as
// a permanent failure).
func (q *Queue) Process(ctx context.Context) Result {
	var res Result

	// Snapshot pending actions, claiming each for this pass.
	q.mu.Lock()
	snapshot := make([]Action, 0, len(q.actions))
	for _, a := range q.actions {
		if q.inflight[a.ID] {
			continue
		}
		q.inflight[a.ID] = true
		snapshot = append(snapshot, a)
	}
	q.mu.Unlock()

	for _, a := range snapshot {
		if ctx.Err() != nil {
			q.release(a.ID)
			continue
		}

		if a.Attempts >= a.MaxAttempts {
			// Stale entry (e.g. rehydrated from an older run): drop.
			q.remove(a.ID)
			metrics.QueueDrops.Inc()
			slog.Warn("deferred action dropped permanently",
				"id", a.ID, "type", a.Type, "attempts", a.Attempts)
			res.Dropped++
			continue
		}

		q.mu.Lock()
		handler, ok := q.handlers[a.Type]
		q.mu.Unlock()
		if !ok {
			// No handler yet: leave for a later pass, no attempt charged.
			q.release(a.ID)
			slog.Warn("deferred action has no handler", "id", a.ID, "type", a.Type)
			continue
		}

		res.Processed++
		err := handler(ctx, a.Payload)
		if err == nil {
			q.remove(a.ID)
			res.Succeeded++
			slog.Info("deferred action completed", "id", a.ID, "type", a.Type)
			continue
		}

		attempts := q.recordFailure(a.ID)
		if attempts >= a.MaxAttempts {
			q.remove(a.ID)
			metrics.QueueDrops.Inc()
			slog.Warn("deferred action dropped permanently",
				"id", a.ID, "type", a.Type, "attempts", attempts, "error", err)
			res.Dropped++
		} else {
			q.release(a.ID)
			metrics.QueueRetries.Inc()
			slog.Warn("deferred action failed, will retry",
				"id", a.ID, "type", a.Type, "attempts", attempts, "error", err)
			res.Failed++
		}
	}

	q.mu.Lock()
	metrics.QueueDepth.Set(float64(len(q.actions)))
	q.mu.Unlock()
	return res
}

// Pending returns a copy of the queued actions in FIFO order.
func (q *Queue) Pending() []Action {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Action, len(q.actions))
	copy(out, q.actions)
	return out
}

// Len returns the number of pending actions.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.actions)
}

// recordFailure increments an action's attempt count and returns the
// new value.
func (q *Queue) recordFailure(id string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := range q.actions {
		if q.actions[i].ID == id {
			q.actions[i].Attempts++
			q.persistLocked()
			return q.actions[i].Attempts
		}
	}
	return 0
}

// remove deletes an action and releases its in-flight claim.
func (q *Queue) remove(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := range q.actions {
		if q.actions[i].ID == id {
			q.actions = append(q.actions[:i], q.actions[i+1:]...)
			break
		}
	}
	delete(q.inflight, id)
	q.persistLocked()
}

// release drops an action's in-flight claim without removing it.
func (q *Queue) release(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.inflight, id)
}

// persistLocked serializes pending actions. Storage failures are
// logged, never propagated.
func (q *Queue) persistLocked() {
	if q.store == nil {
		return
	}
	if err := q.store.Put(actionsKey, q.actions); err != nil {
		slog.Warn("deferred queue persistence failed", "error", err)
	}
}
