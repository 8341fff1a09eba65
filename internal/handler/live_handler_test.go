package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"shoplist-sync-server/internal/websocket"
	"shoplist-sync-server/pkg/jwt"

	ws "github.com/gorilla/websocket"
)

func newLiveServer(t *testing.T) (*httptest.Server, *websocket.Manager) {
	t.Helper()
	m := websocket.NewManager(2, 4096, time.Second, time.Minute, 50*time.Second)
	m.SetMessageHandler(NewLiveMessageHandler())
	go m.Run()
	t.Cleanup(m.Stop)

	h := NewLiveHandler(m, testSecret, 1024, 1024)
	srv := httptest.NewServer(http.HandlerFunc(h.HandleConnection))
	t.Cleanup(srv.Close)
	return srv, m
}

func dialLive(t *testing.T, srv *httptest.Server, user string) *ws.Conn {
	t.Helper()
	token, err := jwt.GenerateToken(user, time.Hour, testSecret)
	if err != nil {
		t.Fatal(err)
	}
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/live?token=" + token
	conn, _, err := ws.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *ws.Conn) websocket.Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg websocket.Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		t.Fatal(err)
	}
	return msg
}

func TestLiveHandler_RejectsMissingToken(t *testing.T) {
	srv, _ := newLiveServer(t)

	resp, err := http.Get(srv.URL + "/live")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/live?token=garbage")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
}

func TestLiveHandler_PingPong(t *testing.T) {
	srv, _ := newLiveServer(t)
	conn := dialLive(t, srv, "alice")

	if err := conn.WriteJSON(map[string]string{"type": "ping"}); err != nil {
		t.Fatal(err)
	}
	if msg := readMessage(t, conn); msg.Type != websocket.TypePong {
		t.Errorf("type = %q, want pong", msg.Type)
	}
}

func TestLiveHandler_DeliversListsChanged(t *testing.T) {
	srv, m := newLiveServer(t)
	conn := dialLive(t, srv, "bob")

	deadline := time.Now().Add(2 * time.Second)
	for m.GetUserConnections("bob") == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	msg, _ := websocket.NewMessage(websocket.TypeListsChanged, &websocket.ListsChangedPayload{OwnerID: "alice"})
	if err := m.BroadcastToUsers([]string{"bob"}, msg); err != nil {
		t.Fatal(err)
	}

	got := readMessage(t, conn)
	var payload websocket.ListsChangedPayload
	got.UnmarshalPayload(&payload)
	if got.Type != websocket.TypeListsChanged || payload.OwnerID != "alice" {
		t.Errorf("message = %+v payload = %+v", got, payload)
	}
}
