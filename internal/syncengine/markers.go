package syncengine

import (
	"sync"
	"time"
)

// PendingMarkers records, per owner, that a write is in flight. Markers are
// counted so overlapping writes for one owner keep it marked until the last
// one settles.
type PendingMarkers struct {
	mu      sync.Mutex
	entries map[string]*marker
}

type marker struct {
	at    time.Time
	count int
}

func NewPendingMarkers() *PendingMarkers {
	return &PendingMarkers{entries: make(map[string]*marker)}
}

func (p *PendingMarkers) Acquire(ownerID string, at time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	m, ok := p.entries[ownerID]
	if !ok {
		m = &marker{}
		p.entries[ownerID] = m
	}
	m.count++
	if at.After(m.at) {
		m.at = at
	}
}

func (p *PendingMarkers) Release(ownerID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	m, ok := p.entries[ownerID]
	if !ok {
		return
	}
	m.count--
	if m.count <= 0 {
		delete(p.entries, ownerID)
	}
}

// Get returns the newest marker time for owner.
func (p *PendingMarkers) Get(ownerID string) (time.Time, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	m, ok := p.entries[ownerID]
	if !ok {
		return time.Time{}, false
	}
	return m.at, true
}

func (p *PendingMarkers) Any() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries) > 0
}
