package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DB_DRIVER", "")
	t.Setenv("ROSTER_BACKEND", "")
	t.Setenv("BATCH_MAX_OPERATIONS", "")
	t.Setenv("WS_PONG_WAIT", "")
	t.Setenv("WS_PING_PERIOD", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Database.Driver != "sqlite" {
		t.Errorf("driver = %q", cfg.Database.Driver)
	}
	if cfg.Batch.MaxOperations != 200 {
		t.Errorf("max operations = %d", cfg.Batch.MaxOperations)
	}
	if cfg.WebSocket.PingPeriod != 54*time.Second {
		t.Errorf("ping period = %s", cfg.WebSocket.PingPeriod)
	}
	if !strings.Contains(cfg.CORS.AllowedMethods, "PATCH") {
		t.Errorf("methods %q should allow PATCH", cfg.CORS.AllowedMethods)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("DB_DRIVER", "Postgres")
	t.Setenv("DATABASE_URL", "postgres://localhost/shoplist")
	t.Setenv("ROSTER_BACKEND", "couchdb")
	t.Setenv("COUCHDB_HOST", "couch")
	t.Setenv("COUCHDB_PORT", "6984")
	t.Setenv("COUCHDB_USER", "u")
	t.Setenv("COUCHDB_PASSWORD", "p")
	t.Setenv("BATCH_MAX_OPERATIONS", "25")
	t.Setenv("JWT_EXPIRATION", "2h")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Database.Driver != "postgres" {
		t.Errorf("driver = %q", cfg.Database.Driver)
	}
	if cfg.Batch.MaxOperations != 25 {
		t.Errorf("max operations = %d", cfg.Batch.MaxOperations)
	}
	if cfg.JWT.Expiration != 2*time.Hour {
		t.Errorf("jwt expiration = %s", cfg.JWT.Expiration)
	}
	if got := cfg.Roster.CouchURL(); got != "http://u:p@couch:6984" {
		t.Errorf("couch url = %q", got)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"postgres without url", map[string]string{"DB_DRIVER": "postgres", "DATABASE_URL": ""}},
		{"unknown driver", map[string]string{"DB_DRIVER": "mysql"}},
		{"unknown roster", map[string]string{"ROSTER_BACKEND": "ldap"}},
		{"zero batch", map[string]string{"BATCH_MAX_OPERATIONS": "0"}},
		{"bad duration", map[string]string{"JWT_EXPIRATION": "soon"}},
		{"ping after pong", map[string]string{"WS_PONG_WAIT": "10s", "WS_PING_PERIOD": "20s"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, k := range []string{"DB_DRIVER", "DATABASE_URL", "ROSTER_BACKEND", "BATCH_MAX_OPERATIONS", "JWT_EXPIRATION", "WS_PONG_WAIT", "WS_PING_PERIOD"} {
				t.Setenv(k, "")
			}
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := Load(); err == nil {
				t.Error("Load() error = nil, want error")
			}
		})
	}
}
