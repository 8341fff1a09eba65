package syncengine

import (
	"context"
	"errors"
	"sync"
	"time"

	"shoplist-sync-server/internal/domain"
)

// ErrDeferred resolves callers whose operations were moved to the offline
// queue before their batch was sent.
var ErrDeferred = errors.New("operation deferred to offline queue")

// Dispatcher coalesces bursts of operations into one batch. Every Dispatch
// pushes the flush back by a random delay in [minDelay, maxDelay]; when the
// timer fires the whole burst goes out as one ordered request and every
// caller receives the same outcome.
type Dispatcher struct {
	mu       sync.Mutex
	clock    Clock
	rand     Rand
	minDelay time.Duration
	maxDelay time.Duration
	markers  *PendingMarkers
	send     func(context.Context, []domain.Operation) error
	onSettle func([]domain.Operation, error)
	ctx      context.Context

	current *batch
	outbox  []*batch
	sending bool
	timer   Timer
	gen     uint64
}

type batch struct {
	ops     []domain.Operation
	waiters []chan error
}

func NewDispatcher(
	ctx context.Context,
	clock Clock,
	rnd Rand,
	minDelay, maxDelay time.Duration,
	markers *PendingMarkers,
	send func(context.Context, []domain.Operation) error,
	onSettle func([]domain.Operation, error),
) *Dispatcher {
	return &Dispatcher{
		ctx:      ctx,
		clock:    clock,
		rand:     rnd,
		minDelay: minDelay,
		maxDelay: maxDelay,
		markers:  markers,
		send:     send,
		onSettle: onSettle,
	}
}

// Dispatch adds op to the open batch, marks its owner pending and restarts
// the flush timer. The returned channel receives the batch outcome.
func (d *Dispatcher) Dispatch(op domain.Operation) <-chan error {
	ch := make(chan error, 1)

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.current == nil {
		d.current = &batch{}
	}
	d.current.ops = append(d.current.ops, op)
	d.current.waiters = append(d.current.waiters, ch)
	d.markers.Acquire(op.OwnerID, d.clock.Now())

	if d.timer != nil {
		d.timer.Stop()
	}
	d.gen++
	gen := d.gen
	d.timer = d.clock.AfterFunc(between(d.rand, d.minDelay, d.maxDelay), func() {
		d.fire(gen)
	})
	return ch
}

// Pending is the number of operations not yet handed to send.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	if d.current != nil {
		n += len(d.current.ops)
	}
	for _, b := range d.outbox {
		n += len(b.ops)
	}
	return n
}

// FlushNow sends the open batch without waiting for the timer and returns
// its outcome. It returns nil when nothing is pending.
func (d *Dispatcher) FlushNow(ctx context.Context) error {
	d.mu.Lock()
	b := d.takeCurrentLocked()
	if b == nil {
		d.mu.Unlock()
		return nil
	}
	ch := make(chan error, 1)
	b.waiters = append(b.waiters, ch)
	d.outbox = append(d.outbox, b)
	d.mu.Unlock()

	d.drain()

	select {
	case err := <-ch:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TakePending removes every operation not yet sent, in dispatch order.
// Their callers receive ErrDeferred and their markers are released.
func (d *Dispatcher) TakePending() []domain.Operation {
	d.mu.Lock()
	var taken []*batch
	taken = append(taken, d.outbox...)
	d.outbox = nil
	if b := d.takeCurrentLocked(); b != nil {
		taken = append(taken, b)
	}
	d.mu.Unlock()

	var ops []domain.Operation
	for _, b := range taken {
		for _, op := range b.ops {
			d.markers.Release(op.OwnerID)
		}
		ops = append(ops, b.ops...)
		for _, w := range b.waiters {
			w <- ErrDeferred
		}
	}
	return ops
}

func (d *Dispatcher) fire(gen uint64) {
	d.mu.Lock()
	if gen != d.gen {
		d.mu.Unlock()
		return
	}
	if b := d.takeCurrentLocked(); b != nil {
		d.outbox = append(d.outbox, b)
	}
	d.mu.Unlock()

	d.drain()
}

func (d *Dispatcher) takeCurrentLocked() *batch {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.gen++
	b := d.current
	d.current = nil
	if b == nil || len(b.ops) == 0 {
		return nil
	}
	return b
}

// drain sends queued batches one at a time so batches reach the server in
// the order they were closed. Whoever finds the sender idle becomes it.
func (d *Dispatcher) drain() {
	d.mu.Lock()
	if d.sending {
		d.mu.Unlock()
		return
	}
	d.sending = true
	for len(d.outbox) > 0 {
		b := d.outbox[0]
		d.outbox = d.outbox[1:]
		d.mu.Unlock()

		err := d.send(d.ctx, b.ops)
		d.settle(b, err)

		d.mu.Lock()
	}
	d.sending = false
	d.mu.Unlock()
}

// settle runs onSettle before releasing markers so the owner stays
// protected until the engine has recorded the outcome.
func (d *Dispatcher) settle(b *batch, err error) {
	if d.onSettle != nil {
		d.onSettle(b.ops, err)
	}
	for _, op := range b.ops {
		d.markers.Release(op.OwnerID)
	}
	for _, w := range b.waiters {
		w <- err
	}
}
