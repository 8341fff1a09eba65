package clientconfig

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	cfg, err := Load(filepath.Join(home, "nope.toml"))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.ServerURL != defaultServerURL {
		t.Errorf("ServerURL = %q", cfg.ServerURL)
	}
	if !strings.HasPrefix(cfg.StatePath, home) {
		t.Errorf("StatePath = %q, want it under HOME %q", cfg.StatePath, home)
	}
	if cfg.PollInterval != defaultPoll || cfg.DispatchMinDelay != defaultDispatchMin {
		t.Errorf("durations = %+v", cfg)
	}
}

func TestLoad_ParsesValues(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(`
server_url = "  https://lists.example  "
token = "tok"
user_id = "alice"
state_path = "~/shop/state.db"
poll_interval = "30s"
dispatch_min_delay = "1s"
dispatch_max_delay = "2s"
`), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.ServerURL != "https://lists.example" || cfg.Token != "tok" || cfg.UserID != "alice" {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.StatePath != filepath.Join(home, "shop/state.db") {
		t.Errorf("StatePath = %q", cfg.StatePath)
	}
	if cfg.PollInterval != 30*time.Second || cfg.DispatchMaxDelay != 2*time.Second {
		t.Errorf("durations = %+v", cfg)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name, body string
	}{
		{"bad toml", `server_url = `},
		{"bad duration", `poll_interval = "soon"`},
		{"negative duration", `refresh_jitter = "-1s"`},
		{"max below min", "dispatch_min_delay = \"5s\"\ndispatch_max_delay = \"1s\""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("HOME", t.TempDir())
			path := filepath.Join(t.TempDir(), "config.toml")
			if err := os.WriteFile(path, []byte(tt.body), 0o600); err != nil {
				t.Fatal(err)
			}
			if _, err := Load(path); err == nil {
				t.Error("Load should fail")
			}
		})
	}
}

func TestSave_KeepsOtherKeys(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "nested", "config.toml")

	if err := Save(path, Config{ServerURL: "http://a", Token: "one", UserID: "alice"}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	f, _ := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o600)
	_, _ = f.WriteString("poll_interval = \"5s\"\n")
	_ = f.Close()

	if err := Save(path, Config{ServerURL: "http://b", Token: "two", UserID: "bob"}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Token != "two" || cfg.UserID != "bob" || cfg.PollInterval != 5*time.Second {
		t.Errorf("cfg = %+v", cfg)
	}
}
