package websocket

import (
	"encoding/json"
	"testing"
	"time"
)

func newTestManager(maxConn int) *Manager {
	m := NewManager(maxConn, 4096, time.Second, time.Minute, 50*time.Second)
	go m.Run()
	return m
}

func waitForConnections(t *testing.T, m *Manager, userID string, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if m.GetUserConnections(userID) == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("user %s has %d connections, want %d", userID, m.GetUserConnections(userID), want)
}

func TestManager_BroadcastToUsers(t *testing.T) {
	m := newTestManager(5)
	defer m.Stop()

	alice := NewClient("c1", "alice", nil, m)
	bob := NewClient("c2", "bob", nil, m)
	carol := NewClient("c3", "carol", nil, m)
	for _, c := range []*Client{alice, bob, carol} {
		m.Register <- c
	}
	waitForConnections(t, m, "carol", 1)

	msg, err := NewMessage(TypeListsChanged, &ListsChangedPayload{OwnerID: "alice"})
	if err != nil {
		t.Fatal(err)
	}
	if err := m.BroadcastToUsers([]string{"alice", "bob"}, msg); err != nil {
		t.Fatal(err)
	}

	for _, c := range []*Client{alice, bob} {
		select {
		case raw := <-c.Send:
			var got Message
			if err := json.Unmarshal(raw, &got); err != nil {
				t.Fatal(err)
			}
			var payload ListsChangedPayload
			if err := got.UnmarshalPayload(&payload); err != nil {
				t.Fatal(err)
			}
			if got.Type != TypeListsChanged || payload.OwnerID != "alice" {
				t.Errorf("%s got %+v", c.UserID, got)
			}
		default:
			t.Errorf("%s did not receive the broadcast", c.UserID)
		}
	}
	select {
	case <-carol.Send:
		t.Error("carol should not receive the broadcast")
	default:
	}
}

func TestManager_MaxConnectionsPerUser(t *testing.T) {
	m := newTestManager(1)
	defer m.Stop()

	first := NewClient("c1", "alice", nil, m)
	second := NewClient("c2", "alice", nil, m)
	m.Register <- first
	m.Register <- second
	waitForConnections(t, m, "alice", 1)

	select {
	case _, ok := <-second.Send:
		if ok {
			t.Error("second client should have a closed send queue")
		}
	case <-time.After(time.Second):
		t.Error("second client was not rejected")
	}
}

func TestManager_SlowClientIsDropped(t *testing.T) {
	m := newTestManager(5)
	defer m.Stop()

	c := NewClient("c1", "alice", nil, m)
	m.Register <- c
	waitForConnections(t, m, "alice", 1)

	msg, _ := NewMessage(TypeListsChanged, &ListsChangedPayload{OwnerID: "alice"})
	for i := 0; i < cap(c.Send)+1; i++ {
		if err := m.BroadcastToUsers([]string{"alice"}, msg); err != nil {
			t.Fatal(err)
		}
	}
	waitForConnections(t, m, "alice", 0)
}

func TestManager_Unregister(t *testing.T) {
	m := newTestManager(5)
	defer m.Stop()

	c := NewClient("c1", "alice", nil, m)
	m.Register <- c
	waitForConnections(t, m, "alice", 1)
	m.Unregister <- c
	waitForConnections(t, m, "alice", 0)

	if err := m.SendToClient(c, &Message{Type: TypePong}); err != nil {
		t.Errorf("SendToClient() to a gone client error = %v", err)
	}
}
