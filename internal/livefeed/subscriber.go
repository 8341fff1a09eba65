// Package livefeed keeps a websocket open to the server's change feed and
// reports which owners' lists changed. Messages carry owner ids only; the
// caller fetches content itself.
package livefeed

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"time"

	"shoplist-sync-server/internal/websocket"

	ws "github.com/coder/websocket"
)

type Config struct {
	URL          string
	PingInterval time.Duration
	MinBackoff   time.Duration
	MaxBackoff   time.Duration
	Logger       *log.Logger
}

func DefaultConfig(url string) *Config {
	return &Config{
		URL:          url,
		PingInterval: 30 * time.Second,
		MinBackoff:   time.Second,
		MaxBackoff:   time.Minute,
	}
}

type Subscriber struct {
	cfg       *Config
	onChange  func(ownerID string)
	onConnect func(connected bool)
	logger    *log.Logger
}

// NewSubscriber calls onChange for every change notification. onConnect may
// be nil.
func NewSubscriber(cfg *Config, onChange func(ownerID string), onConnect func(connected bool)) *Subscriber {
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	if cfg.MinBackoff <= 0 {
		cfg.MinBackoff = time.Second
	}
	if cfg.MaxBackoff < cfg.MinBackoff {
		cfg.MaxBackoff = cfg.MinBackoff
	}
	return &Subscriber{cfg: cfg, onChange: onChange, onConnect: onConnect, logger: logger}
}

// Run connects and reconnects with capped exponential backoff until ctx is
// done.
func (s *Subscriber) Run(ctx context.Context) error {
	backoff := s.cfg.MinBackoff
	for {
		started := time.Now()
		err := s.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if time.Since(started) > s.cfg.MaxBackoff {
			backoff = s.cfg.MinBackoff
		}
		s.logger.Printf("live feed disconnected: %v; reconnecting in %s", err, backoff)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > s.cfg.MaxBackoff {
			backoff = s.cfg.MaxBackoff
		}
	}
}

func (s *Subscriber) session(ctx context.Context) error {
	conn, _, err := ws.Dial(ctx, s.cfg.URL, nil)
	if err != nil {
		return err
	}
	defer conn.Close(ws.StatusNormalClosure, "")
	conn.SetReadLimit(64 << 10)

	s.connected(true)
	defer s.connected(false)

	sessCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if s.cfg.PingInterval > 0 {
		go s.pingLoop(sessCtx, conn)
	}

	for {
		_, data, err := conn.Read(sessCtx)
		if err != nil {
			return err
		}
		var msg websocket.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.Printf("ignoring malformed live message: %v", err)
			continue
		}
		if msg.Type != websocket.TypeListsChanged {
			continue
		}
		var payload websocket.ListsChangedPayload
		if err := msg.UnmarshalPayload(&payload); err != nil || payload.OwnerID == "" {
			s.logger.Printf("ignoring lists_changed without owner: %v", err)
			continue
		}
		s.onChange(payload.OwnerID)
	}
}

func (s *Subscriber) pingLoop(ctx context.Context, conn *ws.Conn) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()

	ping, _ := json.Marshal(&websocket.Message{Type: websocket.TypePing})
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := conn.Write(writeCtx, ws.MessageText, ping)
			cancel()
			if err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Printf("live ping failed: %v", err)
				return
			}
		}
	}
}

func (s *Subscriber) connected(up bool) {
	if s.onConnect != nil {
		s.onConnect(up)
	}
}
