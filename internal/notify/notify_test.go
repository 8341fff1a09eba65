package notify

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"shoplist-sync-server/internal/websocket"

	"github.com/alicebob/miniredis/v2"
)

type fakeMembers map[string][]string

func (f fakeMembers) Members(ctx context.Context, ownerID string) ([]string, error) {
	if ownerID == "broken" {
		return nil, errors.New("roster down")
	}
	return f[ownerID], nil
}

type fakeHub struct {
	mu    sync.Mutex
	sends map[string][]string // owner -> audience
}

func (h *fakeHub) BroadcastToUsers(userIDs []string, message *websocket.Message) error {
	var payload websocket.ListsChangedPayload
	if err := message.UnmarshalPayload(&payload); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.sends == nil {
		h.sends = make(map[string][]string)
	}
	audience := append([]string(nil), userIDs...)
	sort.Strings(audience)
	h.sends[payload.OwnerID] = audience
	return nil
}

func TestHubNotifier_ResolvesAudience(t *testing.T) {
	hub := &fakeHub{}
	n := NewHubNotifier(fakeMembers{"alice": {"bob", "carol"}}, hub)

	n.ListsChanged(context.Background(), "alice", "dave", "broken")

	if got := strings.Join(hub.sends["alice"], ","); got != "alice,bob,carol" {
		t.Errorf("alice audience = %s", got)
	}
	if got := strings.Join(hub.sends["dave"], ","); got != "dave" {
		t.Errorf("dave audience = %s", got)
	}
	if got := strings.Join(hub.sends["broken"], ","); got != "broken" {
		t.Errorf("owner should still be notified when the roster fails, got %s", got)
	}
}

type recordingLocal struct {
	mu     sync.Mutex
	owners []string
	signal chan struct{}
}

func (r *recordingLocal) ListsChanged(ctx context.Context, ownerIDs ...string) {
	r.mu.Lock()
	r.owners = append(r.owners, ownerIDs...)
	r.mu.Unlock()
	select {
	case r.signal <- struct{}{}:
	default:
	}
}

func TestRedisNotifier_RelaysAcrossInstances(t *testing.T) {
	s := miniredis.RunT(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pubClient, err := NewRedisClient("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("NewRedisClient() error = %v", err)
	}
	defer pubClient.Close()
	subClient, err := NewRedisClient("redis://" + s.Addr())
	if err != nil {
		t.Fatal(err)
	}
	defer subClient.Close()

	remote := &recordingLocal{signal: make(chan struct{}, 1)}
	subscriber := NewRedisNotifier(subClient, "lists", remote)
	ready := make(chan struct{})
	go subscriber.Run(ctx, ready)

	select {
	case <-ready:
	case <-time.After(2 * time.Second):
		t.Fatal("subscription not ready")
	}

	publisher := NewRedisNotifier(pubClient, "lists", &recordingLocal{signal: make(chan struct{}, 1)})
	publisher.ListsChanged(ctx, "alice", "bob")

	select {
	case <-remote.signal:
	case <-time.After(2 * time.Second):
		t.Fatal("event was not relayed")
	}
	remote.mu.Lock()
	defer remote.mu.Unlock()
	if strings.Join(remote.owners, ",") != "alice,bob" {
		t.Errorf("relayed owners = %v", remote.owners)
	}
}

func TestRedisNotifier_FallsBackToLocal(t *testing.T) {
	s := miniredis.RunT(t)
	client, err := NewRedisClient("redis://" + s.Addr())
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	local := &recordingLocal{signal: make(chan struct{}, 1)}
	n := NewRedisNotifier(client, "lists", local)
	s.Close()

	n.ListsChanged(context.Background(), "alice")
	if len(local.owners) != 1 || local.owners[0] != "alice" {
		t.Errorf("local owners = %v", local.owners)
	}
}
