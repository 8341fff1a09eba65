package syncengine

import (
	"context"
	"testing"
	"time"

	"shoplist-sync-server/internal/durable"
)

// maxRand makes every jitter its maximum.
type maxRand struct{}

func (maxRand) Int63n(n int64) int64 { return n - 1 }

func TestEngine_RefreshTriggers(t *testing.T) {
	tests := []struct {
		name    string
		trigger func(e *Engine, clock *fakeClock)
		before  int
		settle  time.Duration
		after   int
	}{
		{
			name: "poll interval",
			trigger: func(e *Engine, clock *fakeClock) {
				clock.Advance(time.Hour)
			},
			before: 0,
			settle: 2 * time.Second,
			after:  1,
		},
		{
			name: "focus runs at once and replaces a deferred run",
			trigger: func(e *Engine, clock *fakeClock) {
				e.OnRemoteChange("bob")
				e.OnFocus()
			},
			before: 1,
			settle: 5 * time.Second,
			after:  1,
		},
		{
			name: "remote changes within the jitter window coalesce",
			trigger: func(e *Engine, clock *fakeClock) {
				e.OnRemoteChange("bob")
				clock.Advance(500 * time.Millisecond)
				e.OnRemoteChange("bob")
				clock.Advance(500 * time.Millisecond)
				e.OnRemoteChange("alice")
			},
			before: 0,
			settle: 2 * time.Second,
			after:  1,
		},
		{
			name: "remote changes after the window fetch again",
			trigger: func(e *Engine, clock *fakeClock) {
				e.OnRemoteChange("bob")
				clock.Advance(3 * time.Second)
				e.OnRemoteChange("bob")
			},
			before: 1,
			settle: 2 * time.Second,
			after:  2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := newFakeClock()
			cfg := testConfig(clock)
			cfg.RefreshJitter = 2 * time.Second
			cfg.Rand = maxRand{}
			e := New(durable.NewMemoryStore(), nil, cfg)
			t.Cleanup(func() { _ = e.Close() })

			api := newFakeAPI("alice", "bob")
			signIn(t, e, api)

			tt.trigger(e, clock)
			if api.fetches != tt.before {
				t.Errorf("fetches before settling = %d, want %d", api.fetches, tt.before)
			}
			clock.Advance(tt.settle)
			if api.fetches != tt.after {
				t.Errorf("fetches = %d, want %d", api.fetches, tt.after)
			}
		})
	}
}

func TestEngine_PollingStopsAfterSignOut(t *testing.T) {
	clock := newFakeClock()
	e := New(durable.NewMemoryStore(), nil, testConfig(clock))
	t.Cleanup(func() { _ = e.Close() })
	api := newFakeAPI("alice")
	signIn(t, e, api)

	clock.Advance(time.Hour)
	if api.fetches != 1 {
		t.Fatalf("fetches = %d, want 1", api.fetches)
	}
	if err := e.UseLocalMode(context.Background()); err != nil {
		t.Fatal(err)
	}
	clock.Advance(3 * time.Hour)
	if api.fetches != 1 {
		t.Errorf("polling continued after leaving the session: fetches = %d", api.fetches)
	}
}
