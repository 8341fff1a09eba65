package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"shoplist-sync-server/pkg/jwt"
)

func TestAuthMiddleware(t *testing.T) {
	secret := "middleware-secret"
	valid, _ := jwt.GenerateToken("user-1", time.Hour, secret)

	var seen string
	h := AuthMiddleware(secret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetUserID(r)
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"valid bearer", "Bearer " + valid, http.StatusNoContent},
		{"lowercase scheme", "bearer " + valid, http.StatusNoContent},
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized},
		{"bad token", "Bearer nope", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = ""
			req := httptest.NewRequest(http.MethodGet, "/lists", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
			if tt.want == http.StatusNoContent && seen != "user-1" {
				t.Errorf("user id = %q", seen)
			}
		})
	}
}

func TestLoggerMiddleware_SeesAuthenticatedUser(t *testing.T) {
	secret := "logger-secret"
	token, _ := jwt.GenerateToken("user-2", time.Hour, secret)

	var slot *string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		slot, _ = r.Context().Value(userSlotKey).(*string)
		w.WriteHeader(http.StatusTeapot)
	})
	h := LoggerMiddleware()(AuthMiddleware(secret)(inner))

	req := httptest.NewRequest(http.MethodGet, "/lists", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusTeapot {
		t.Fatalf("status = %d", rec.Code)
	}
	if slot == nil || *slot != "user-2" {
		t.Errorf("logger slot = %v", slot)
	}
}

func TestCORSMiddleware(t *testing.T) {
	tests := []struct {
		name        string
		allowed     string
		method      string
		origin      string
		wantStatus  int
		wantOrigin  string
		wantCreds   string
		wantHandler bool
	}{
		{"preflight from listed origin", "https://app.example", http.MethodOptions, "https://app.example", http.StatusNoContent, "https://app.example", "true", false},
		{"preflight from unknown origin", "https://app.example", http.MethodOptions, "https://evil.example", http.StatusForbidden, "", "", false},
		{"wildcard skips credentials", "*", http.MethodGet, "https://other.example", http.StatusOK, "*", "", true},
		{"same-origin request", "https://app.example", http.MethodGet, "", http.StatusOK, "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			h := CORSMiddleware(tt.allowed, "GET,POST", "Content-Type,Authorization")(
				http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }),
			)

			req := httptest.NewRequest(tt.method, "/api/v1/lists", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			if tt.method == http.MethodOptions {
				req.Header.Set("Access-Control-Request-Method", http.MethodPost)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if called != tt.wantHandler {
				t.Errorf("handler called = %v, want %v", called, tt.wantHandler)
			}
			if got := rec.Header().Get("Access-Control-Allow-Origin"); got != tt.wantOrigin {
				t.Errorf("allow origin = %q, want %q", got, tt.wantOrigin)
			}
			if got := rec.Header().Get("Access-Control-Allow-Credentials"); got != tt.wantCreds {
				t.Errorf("allow credentials = %q, want %q", got, tt.wantCreds)
			}
		})
	}
}
