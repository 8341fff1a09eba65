package syncengine

import (
	"context"
	"errors"
	"io"
	"log"
	"time"

	"shoplist-sync-server/internal/apiclient"
	"shoplist-sync-server/internal/domain"
	"shoplist-sync-server/internal/durable"
)

// DefaultWakeInterval is how often the host is asked to run the agent while
// operations are queued.
const DefaultWakeInterval = 15 * time.Minute

// BackgroundAgent replays an identity's persisted offline log without a
// running engine, then tells the engine through the bridge.
type BackgroundAgent struct {
	store        durable.Store
	api          apiclient.API
	key          string
	bridge       SyncBridge
	logger       *log.Logger
	WakeInterval time.Duration

	unsubscribe func()
}

func NewBackgroundAgent(identity string, api apiclient.API, store durable.Store, bridge SyncBridge, logger *log.Logger) *BackgroundAgent {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &BackgroundAgent{
		store:        store,
		api:          api,
		key:          durable.OfflineQueueKey(identity),
		bridge:       bridge,
		logger:       logger,
		WakeInterval: DefaultWakeInterval,
	}
}

// Start asks the host for periodic wake-ups whenever the engine reports a
// non-empty log.
func (a *BackgroundAgent) Start() {
	if a.bridge == nil || a.unsubscribe != nil {
		return
	}
	a.unsubscribe = a.bridge.Subscribe(func(msg BridgeMessage) {
		if msg.Type == MsgQueueUpdated && len(msg.Mutations) > 0 {
			a.bridge.RequestWake(a.WakeInterval)
		}
	})
}

func (a *BackgroundAgent) Stop() {
	if a.unsubscribe != nil {
		a.unsubscribe()
		a.unsubscribe = nil
	}
}

// Replay sends the persisted log in order, one operation per request. It
// stops at the first transient failure or when the token is refused.
// Operations the server refuses are dropped. Confirmed and dropped operations are removed from the log as it
// stands after the replay, so entries appended meanwhile survive.
func (a *BackgroundAgent) Replay(ctx context.Context) (int, error) {
	ops, err := readLog(ctx, a.store, a.key)
	if err != nil || len(ops) == 0 {
		return 0, err
	}

	done := make(map[string]bool, len(ops))
	sent := 0
	var replayErr error
	for _, op := range ops {
		_, err := a.api.ApplyBatch(ctx, []domain.Operation{op})
		if err == nil {
			done[op.ID] = true
			sent++
			continue
		}
		var apiErr *apiclient.APIError
		if apiclient.IsTransient(err) || apiclient.IsUnauthorized(err) || !errors.As(err, &apiErr) {
			replayErr = err
			break
		}
		a.logger.Printf("dropping %s for %s: %v", op.Type, op.OwnerID, err)
		done[op.ID] = true
	}

	if len(done) == 0 {
		return 0, replayErr
	}

	current, err := readLog(ctx, a.store, a.key)
	if err != nil {
		return sent, err
	}
	remaining := current[:0]
	for _, op := range current {
		if !done[op.ID] {
			remaining = append(remaining, op)
		}
	}
	if err := writeLog(ctx, a.store, a.key, remaining); err != nil {
		return sent, err
	}

	a.logger.Printf("background replay sent %d of %d operations", sent, len(ops))
	if a.bridge != nil {
		a.bridge.Post(BridgeMessage{Type: MsgSyncCompleted})
	}
	return sent, replayErr
}
