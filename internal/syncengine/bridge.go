package syncengine

import (
	"sync"
	"time"

	"shoplist-sync-server/internal/domain"
)

type BridgeMessageType string

const (
	// MsgQueueUpdated carries the full offline log after each change.
	MsgQueueUpdated BridgeMessageType = "queue_updated"
	// MsgSyncCompleted is posted after a background replay confirmed writes.
	MsgSyncCompleted BridgeMessageType = "sync_completed"
)

type BridgeMessage struct {
	Type      BridgeMessageType  `json:"type"`
	Mutations []domain.Operation `json:"mutations,omitempty"`
}

// SyncBridge connects the engine with a background agent that replays the
// offline log while the foreground is not running.
type SyncBridge interface {
	Post(msg BridgeMessage)
	Subscribe(fn func(BridgeMessage)) (unsubscribe func())
	// RequestWake asks the host to run the background agent periodically.
	RequestWake(interval time.Duration)
}

// DirectBridge delivers messages synchronously within one process.
type DirectBridge struct {
	mu     sync.Mutex
	subs   map[int]func(BridgeMessage)
	nextID int
	wake   func(time.Duration)
}

func NewDirectBridge() *DirectBridge {
	return &DirectBridge{subs: make(map[int]func(BridgeMessage))}
}

func (b *DirectBridge) Post(msg BridgeMessage) {
	b.mu.Lock()
	subs := make([]func(BridgeMessage), 0, len(b.subs))
	for _, fn := range b.subs {
		subs = append(subs, fn)
	}
	b.mu.Unlock()

	for _, fn := range subs {
		fn(msg)
	}
}

func (b *DirectBridge) Subscribe(fn func(BridgeMessage)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.subs[id] = fn
	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

// OnWake installs the host hook behind RequestWake.
func (b *DirectBridge) OnWake(fn func(time.Duration)) {
	b.mu.Lock()
	b.wake = fn
	b.mu.Unlock()
}

func (b *DirectBridge) RequestWake(interval time.Duration) {
	b.mu.Lock()
	fn := b.wake
	b.mu.Unlock()
	if fn != nil {
		fn(interval)
	}
}
