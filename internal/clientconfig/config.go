// Package clientconfig loads the shopsync CLI configuration from a TOML
// file. A missing file is not an error; defaults apply.
//
// Example ~/.config/shopsync/config.toml:
//
//	server_url = "https://lists.example.com"
//	token = "eyJ..."
//	user_id = "alice"
//	state_path = "~/.local/share/shopsync/state.db"
//	poll_interval = "60s"
//
// Tilde paths are expanded for state_path and log_file.
package clientconfig

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

type Config struct {
	ServerURL string
	Token     string
	UserID    string
	StatePath string
	LogFile   string
	// RedisURL, when set, keeps client state in Redis instead of StatePath.
	RedisURL string

	PollInterval     time.Duration
	DispatchMinDelay time.Duration
	DispatchMaxDelay time.Duration
	RefreshJitter    time.Duration
}

const (
	DefaultPath         = "~/.config/shopsync/config.toml"
	defaultServerURL    = "http://localhost:8080"
	defaultStatePath    = "~/.local/share/shopsync/state.db"
	defaultLogFile      = "~/.local/share/shopsync/shopsync.log"
	defaultPoll         = 60 * time.Second
	defaultDispatchMin  = 7 * time.Second
	defaultDispatchMax  = 9 * time.Second
	defaultRefreshDelay = 2 * time.Second
)

type fileConfig struct {
	ServerURL        string `toml:"server_url,omitempty"`
	Token            string `toml:"token,omitempty"`
	UserID           string `toml:"user_id,omitempty"`
	StatePath        string `toml:"state_path,omitempty"`
	LogFile          string `toml:"log_file,omitempty"`
	RedisURL         string `toml:"redis_url,omitempty"`
	PollInterval     string `toml:"poll_interval,omitempty"`
	DispatchMinDelay string `toml:"dispatch_min_delay,omitempty"`
	DispatchMaxDelay string `toml:"dispatch_max_delay,omitempty"`
	RefreshJitter    string `toml:"refresh_jitter,omitempty"`
}

func Defaults() Config {
	return Config{
		ServerURL:        defaultServerURL,
		StatePath:        mustExpand(defaultStatePath),
		LogFile:          mustExpand(defaultLogFile),
		PollInterval:     defaultPoll,
		DispatchMinDelay: defaultDispatchMin,
		DispatchMaxDelay: defaultDispatchMax,
		RefreshJitter:    defaultRefreshDelay,
	}
}

// Load reads path, or DefaultPath when path is empty.
func Load(path string) (Config, error) {
	resolved, err := resolvePath(path)
	if err != nil {
		return Config{}, err
	}
	cfg := Defaults()

	file, err := os.Open(resolved)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	bytes, err := io.ReadAll(file)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	var raw fileConfig
	if err := toml.Unmarshal(bytes, &raw); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}

	if v := strings.TrimSpace(raw.ServerURL); v != "" {
		cfg.ServerURL = v
	}
	cfg.Token = strings.TrimSpace(raw.Token)
	cfg.UserID = strings.TrimSpace(raw.UserID)
	cfg.RedisURL = strings.TrimSpace(raw.RedisURL)
	if v := strings.TrimSpace(raw.StatePath); v != "" {
		if cfg.StatePath, err = expandPath(v); err != nil {
			return Config{}, fmt.Errorf("state_path: %w", err)
		}
	}
	if v := strings.TrimSpace(raw.LogFile); v != "" {
		if cfg.LogFile, err = expandPath(v); err != nil {
			return Config{}, fmt.Errorf("log_file: %w", err)
		}
	}

	durations := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"poll_interval", raw.PollInterval, &cfg.PollInterval},
		{"dispatch_min_delay", raw.DispatchMinDelay, &cfg.DispatchMinDelay},
		{"dispatch_max_delay", raw.DispatchMaxDelay, &cfg.DispatchMaxDelay},
		{"refresh_jitter", raw.RefreshJitter, &cfg.RefreshJitter},
	}
	for _, d := range durations {
		v := strings.TrimSpace(d.raw)
		if v == "" {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil || parsed < 0 {
			return Config{}, fmt.Errorf("%s: invalid duration %q", d.name, v)
		}
		*d.dst = parsed
	}
	if cfg.DispatchMaxDelay < cfg.DispatchMinDelay {
		return Config{}, fmt.Errorf("dispatch_max_delay %s is below dispatch_min_delay %s", cfg.DispatchMaxDelay, cfg.DispatchMinDelay)
	}
	return cfg, nil
}

// Save writes the credentials of cfg to path, keeping other keys already in
// the file.
func Save(path string, cfg Config) error {
	resolved, err := resolvePath(path)
	if err != nil {
		return err
	}

	var raw fileConfig
	if existing, err := os.ReadFile(resolved); err == nil {
		if err := toml.Unmarshal(existing, &raw); err != nil {
			return fmt.Errorf("parse config: %w", err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("read config: %w", err)
	}
	raw.ServerURL = cfg.ServerURL
	raw.Token = cfg.Token
	raw.UserID = cfg.UserID

	out, err := toml.Marshal(raw)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	return os.WriteFile(resolved, out, 0o600)
}

func resolvePath(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return expandPath(DefaultPath)
	}
	return expandPath(path)
}

func mustExpand(path string) string {
	expanded, err := expandPath(path)
	if err != nil {
		return path
	}
	return expanded
}

func expandPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", fmt.Errorf("path is empty")
	}
	if strings.HasPrefix(trimmed, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		trimmed = filepath.Join(home, strings.TrimPrefix(trimmed, "~"))
	}
	return filepath.Abs(trimmed)
}
