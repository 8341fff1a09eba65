package syncengine

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"sync"

	"shoplist-sync-server/internal/domain"
	"shoplist-sync-server/internal/durable"

	"github.com/google/uuid"
)

// Queue is the durable FIFO log of operations the server has not yet
// confirmed. Every change rewrites the whole log under its key.
type Queue struct {
	mu       sync.Mutex
	store    durable.Store
	key      string
	ops      []domain.Operation
	onChange func([]domain.Operation)
	logger   *log.Logger

	flushMu sync.Mutex
}

// FlushResult describes one Flush pass.
type FlushResult struct {
	Sent      int
	Failed    *domain.Operation
	Remaining int
}

func NewQueue(store durable.Store, logger *log.Logger) *Queue {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Queue{store: store, logger: logger}
}

// OnChange registers fn to receive the log after each persisted change.
func (q *Queue) OnChange(fn func([]domain.Operation)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.onChange = fn
}

// Load switches the queue to key and reads its persisted log. An empty key
// detaches the queue from storage.
func (q *Queue) Load(ctx context.Context, key string) error {
	ops, err := readLog(ctx, q.store, key)
	q.mu.Lock()
	q.key = key
	q.ops = ops
	q.mu.Unlock()
	return err
}

// Enqueue appends ops and persists the full log.
func (q *Queue) Enqueue(ctx context.Context, ops ...domain.Operation) error {
	q.Append(ops...)
	return q.Persist(ctx)
}

// Append adds ops in memory only. Callers follow up with Persist.
func (q *Queue) Append(ops ...domain.Operation) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, op := range ops {
		if op.ID == "" {
			op.ID = uuid.NewString()
		}
		q.ops = append(q.ops, op)
	}
}

// Persist writes the current log.
func (q *Queue) Persist(ctx context.Context) error {
	q.mu.Lock()
	snapshot := q.snapshotLocked()
	err := q.writeLocked(ctx)
	fn := q.onChange
	q.mu.Unlock()

	if fn != nil {
		fn(snapshot)
	}
	return err
}

func (q *Queue) Pending() []domain.Operation {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.snapshotLocked()
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ops)
}

// HasOwner reports whether any queued operation targets ownerID.
func (q *Queue) HasOwner(ownerID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, op := range q.ops {
		if op.OwnerID == ownerID {
			return true
		}
	}
	return false
}

// Clear empties the log and removes it from storage.
func (q *Queue) Clear(ctx context.Context) error {
	q.mu.Lock()
	q.ops = nil
	var err error
	if q.key != "" && q.store != nil {
		err = q.store.Remove(ctx, q.key)
	}
	fn := q.onChange
	q.mu.Unlock()

	if fn != nil {
		fn(nil)
	}
	return err
}

// Reload replaces the in-memory log with what storage holds now.
func (q *Queue) Reload(ctx context.Context) error {
	q.mu.Lock()
	key := q.key
	q.mu.Unlock()
	return q.Load(ctx, key)
}

// DropHead removes the first operation if it is still the one with id.
func (q *Queue) DropHead(ctx context.Context, id string) error {
	q.mu.Lock()
	if len(q.ops) == 0 || q.ops[0].ID != id {
		q.mu.Unlock()
		return nil
	}
	q.ops = q.ops[1:]
	q.mu.Unlock()
	return q.Persist(ctx)
}

// Flush sends queued operations one at a time in order. It stops at the
// first failure and leaves that operation at the head of the log together
// with everything behind it. Only one Flush runs at a time.
func (q *Queue) Flush(ctx context.Context, send func(context.Context, domain.Operation) error) (FlushResult, error) {
	q.flushMu.Lock()
	defer q.flushMu.Unlock()

	var res FlushResult
	for {
		q.mu.Lock()
		if len(q.ops) == 0 {
			q.mu.Unlock()
			return res, nil
		}
		op := q.ops[0]
		q.mu.Unlock()

		if err := send(ctx, op); err != nil {
			failed := op
			res.Failed = &failed
			res.Remaining = q.Len()
			if perr := q.Persist(ctx); perr != nil {
				q.logger.Printf("failed to persist offline queue: %v", perr)
			}
			return res, err
		}

		q.mu.Lock()
		if len(q.ops) == 0 || q.ops[0].ID != op.ID {
			// cleared while the request was in flight
			q.mu.Unlock()
			return res, nil
		}
		q.ops = q.ops[1:]
		q.mu.Unlock()
		res.Sent++

		if err := q.Persist(ctx); err != nil {
			q.logger.Printf("failed to persist offline queue: %v", err)
		}
	}
}

func (q *Queue) snapshotLocked() []domain.Operation {
	if len(q.ops) == 0 {
		return nil
	}
	out := make([]domain.Operation, len(q.ops))
	copy(out, q.ops)
	return out
}

func (q *Queue) writeLocked(ctx context.Context) error {
	if q.key == "" || q.store == nil {
		return nil
	}
	return writeLog(ctx, q.store, q.key, q.ops)
}

func readLog(ctx context.Context, store durable.Store, key string) ([]domain.Operation, error) {
	if key == "" || store == nil {
		return nil, nil
	}
	raw, ok, err := store.Get(ctx, key)
	if err != nil || !ok || raw == "" {
		return nil, err
	}
	var ops []domain.Operation
	if err := json.Unmarshal([]byte(raw), &ops); err != nil {
		return nil, fmt.Errorf("decode offline queue: %w", err)
	}
	return ops, nil
}

func writeLog(ctx context.Context, store durable.Store, key string, ops []domain.Operation) error {
	if len(ops) == 0 {
		return store.Remove(ctx, key)
	}
	raw, err := json.Marshal(ops)
	if err != nil {
		return fmt.Errorf("encode offline queue: %w", err)
	}
	return store.Set(ctx, key, string(raw))
}
