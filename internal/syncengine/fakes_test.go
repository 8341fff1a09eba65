package syncengine

import (
	"context"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"shoplist-sync-server/internal/domain"
	"shoplist-sync-server/internal/durable"
	"shoplist-sync-server/internal/liststate"
)

// fakeClock fires due timers synchronously from Advance, outside its lock.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		var next *fakeTimer
		for _, t := range c.timers {
			if t.stopped || t.fired || t.at.After(target) {
				continue
			}
			if next == nil || t.at.Before(next.at) {
				next = t
			}
		}
		if next == nil {
			c.now = target
			c.mu.Unlock()
			return
		}
		next.fired = true
		if next.at.After(c.now) {
			c.now = next.at
		}
		c.mu.Unlock()
		next.f()
	}
}

// zeroRand makes every jitter its minimum.
type zeroRand struct{}

func (zeroRand) Int63n(int64) int64 { return 0 }

// fakeAPI applies batches to an in-memory server copy of the lists.
type fakeAPI struct {
	mu      sync.Mutex
	server  *liststate.Store
	applied []domain.Operation
	calls   int
	fetches int

	// batchErrs is consumed one entry per ApplyBatch call.
	batchErrs []error
	failOp    func(domain.Operation) error
	// onFetch runs once, after the server state was read and before
	// FetchLists returns.
	onFetch func()
	renamed string
}

func newFakeAPI(self string, others ...string) *fakeAPI {
	server := liststate.New(nil)
	server.SetSelf(self)
	server.ReplaceOwner(&domain.OwnerList{OwnerID: self, OwnerLabel: "My list", IsSelf: true, State: domain.ListState{}})
	for _, o := range others {
		server.ReplaceOwner(&domain.OwnerList{OwnerID: o, OwnerLabel: o + "'s list", State: domain.ListState{}})
	}
	return &fakeAPI{server: server}
}

func (f *fakeAPI) FetchLists(ctx context.Context) ([]*domain.OwnerList, error) {
	f.mu.Lock()
	f.fetches++
	lists := f.server.Lists()
	hook := f.onFetch
	f.onFetch = nil
	f.mu.Unlock()

	if hook != nil {
		hook()
	}
	return lists, nil
}

func (f *fakeAPI) ApplyBatch(ctx context.Context, ops []domain.Operation) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.batchErrs) > 0 {
		err := f.batchErrs[0]
		f.batchErrs = f.batchErrs[1:]
		if err != nil {
			return 0, err
		}
	}
	if f.failOp != nil {
		for _, op := range ops {
			if err := f.failOp(op); err != nil {
				return 0, err
			}
		}
	}
	for _, op := range ops {
		f.server.Apply(op)
	}
	f.applied = append(f.applied, ops...)
	return len(ops), nil
}

func (f *fakeAPI) RenameList(ctx context.Context, label string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.renamed = label
	return label, nil
}

// serverEdit changes the server copy as another client would.
func (f *fakeAPI) serverEdit(fn func(s *liststate.Store)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f.server)
}

func (f *fakeAPI) appliedOps() []domain.Operation {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Operation(nil), f.applied...)
}

func testConfig(clock *fakeClock) *Config {
	return &Config{
		PollInterval:     time.Hour,
		DispatchMinDelay: 7 * time.Second,
		DispatchMaxDelay: 9 * time.Second,
		NoticeGrace:      10 * time.Second,
		RetryBaseDelay:   4 * time.Second,
		RetryMaxDelay:    time.Minute,
		MaxRetries:       3,
		Clock:            clock,
		Rand:             zeroRand{},
		Logger:           log.New(io.Discard, "", 0),
	}
}

func newTestEngine(t *testing.T, store durable.Store, bridge SyncBridge) (*Engine, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	e := New(store, bridge, testConfig(clock))
	t.Cleanup(func() { _ = e.Close() })
	return e, clock
}

func signIn(t *testing.T, e *Engine, api *fakeAPI) {
	t.Helper()
	if err := e.SignIn(context.Background(), "alice", api); err != nil {
		t.Fatalf("SignIn() error = %v", err)
	}
}

func items(lines ...string) []domain.IngredientInput {
	out := make([]domain.IngredientInput, len(lines))
	for i, l := range lines {
		out[i] = domain.IngredientInput{Text: l}
	}
	return out
}

func localList(e *Engine, ownerID string) *domain.OwnerList {
	for _, l := range e.Snapshot().Lists {
		if l.OwnerID == ownerID {
			return l
		}
	}
	return nil
}
