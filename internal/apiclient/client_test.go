package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"shoplist-sync-server/internal/domain"
)

func TestParseBaseURL(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"localhost:8080", "http://localhost:8080"},
		{"https://lists.example/", "https://lists.example"},
		{"https://lists.example/api/v1", "https://lists.example"},
		{"http://host/prefix/?x=1#f", "http://host/prefix"},
	}
	for _, tt := range tests {
		u, err := parseBaseURL(tt.in)
		if err != nil {
			t.Fatalf("parseBaseURL(%q) error = %v", tt.in, err)
		}
		if u.String() != tt.want {
			t.Errorf("parseBaseURL(%q) = %q, want %q", tt.in, u.String(), tt.want)
		}
	}
	if _, err := parseBaseURL("  "); err == nil {
		t.Error("empty url should fail")
	}
}

func TestClient_Endpoints(t *testing.T) {
	var gotAuth string
	var gotOps []domain.Operation

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/api/v1/lists":
			_ = json.NewEncoder(w).Encode(domain.ListsResponse{Lists: []*domain.OwnerList{{OwnerID: "alice", IsSelf: true}}})
		case r.Method == http.MethodPost && r.URL.Path == "/api/v1/lists/batch":
			var req domain.BatchRequest
			_ = json.NewDecoder(r.Body).Decode(&req)
			gotOps = req.Operations
			_ = json.NewEncoder(w).Encode(domain.BatchResponse{Success: true, Applied: len(req.Operations)})
		case r.Method == http.MethodGet && r.URL.Path == "/api/v1/me":
			_ = json.NewEncoder(w).Encode(domain.MeResponse{User: domain.User{ID: "alice", DisplayName: "Alice"}, SharedOwners: []string{"bob"}})
		case r.Method == http.MethodPut && r.URL.Path == "/api/v1/lists/label":
			var req domain.RenameListRequest
			_ = json.NewDecoder(r.Body).Decode(&req)
			_ = json.NewEncoder(w).Encode(domain.RenameListResponse{Label: req.Label})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(server.Close)

	c, err := NewClient(server.URL, "tok")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)

	lists, err := c.FetchLists(ctx)
	if err != nil {
		t.Fatalf("FetchLists() error = %v", err)
	}
	if len(lists) != 1 || lists[0].OwnerID != "alice" {
		t.Errorf("lists = %+v", lists)
	}
	if gotAuth != "Bearer tok" {
		t.Errorf("auth header = %q", gotAuth)
	}

	applied, err := c.ApplyBatch(ctx, []domain.Operation{
		domain.ClearListOp(""),
		domain.RemoveItemOp("bob", "milk"),
	})
	if err != nil {
		t.Fatalf("ApplyBatch() error = %v", err)
	}
	if applied != 2 || len(gotOps) != 2 || gotOps[1].Label != "milk" {
		t.Errorf("applied = %d ops = %+v", applied, gotOps)
	}

	label, err := c.RenameList(ctx, "Weekend")
	if err != nil || label != "Weekend" {
		t.Errorf("RenameList() = %q, %v", label, err)
	}

	me, err := c.Me(ctx)
	if err != nil || me.Name() != "Alice" || len(me.SharedOwners) != 1 {
		t.Errorf("Me() = %+v, %v", me, err)
	}
}

func TestClient_ErrorClassification(t *testing.T) {
	tests := []struct {
		status    int
		transient bool
		check     func(error) bool
	}{
		{http.StatusBadRequest, false, IsValidation},
		{http.StatusUnauthorized, false, IsUnauthorized},
		{http.StatusForbidden, false, IsForbidden},
		{http.StatusNotFound, false, IsNotFound},
		{http.StatusRequestTimeout, true, nil},
		{http.StatusTooManyRequests, true, nil},
		{http.StatusInternalServerError, true, nil},
		{http.StatusBadGateway, true, nil},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"success":false,"error":"nope","code":"x"}`))
			}))
			defer server.Close()

			c, _ := NewClient(server.URL, "tok")
			_, err := c.FetchLists(context.Background())

			var apiErr *APIError
			if !errors.As(err, &apiErr) || apiErr.Status != tt.status || apiErr.Message != "nope" {
				t.Fatalf("err = %v", err)
			}
			if IsTransient(err) != tt.transient {
				t.Errorf("IsTransient = %v, want %v", IsTransient(err), tt.transient)
			}
			if tt.check != nil && !tt.check(err) {
				t.Errorf("classifier rejected %v", err)
			}
		})
	}
}

func TestClient_UnreachableIsTransient(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	c, _ := NewClient(url, "")
	_, err := c.ApplyBatch(context.Background(), []domain.Operation{domain.ClearListOp("")})
	if !IsTransient(err) {
		t.Errorf("err = %v, want transient", err)
	}
}

func TestClient_CancelledIsNotTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	c, _ := NewClient(server.URL, "")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.FetchLists(ctx)
	if err == nil || IsTransient(err) {
		t.Errorf("err = %v, want non-transient cancellation", err)
	}
}

func TestClient_LiveURL(t *testing.T) {
	c, _ := NewClient("https://lists.example/base", "a b")
	got := c.LiveURL()
	if !strings.HasPrefix(got, "wss://lists.example/base/api/v1/live?") || !strings.Contains(got, "token=a+b") {
		t.Errorf("LiveURL() = %q", got)
	}
}
