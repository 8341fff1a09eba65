package syncengine

import (
	"context"
	"errors"
	"sync"
	"time"

	"shoplist-sync-server/internal/apiclient"
	"shoplist-sync-server/internal/domain"
)

// Refresh fetches every list the session can see and merges it into local
// state. abort, when non-nil, is consulted before and after the request; a
// true answer discards the result. Owners with a write in flight, queued, or
// made after the fetch started keep their local state.
func (e *Engine) Refresh(ctx context.Context, abort func() bool) error {
	return e.refresh(ctx, abort, false)
}

func (e *Engine) refresh(ctx context.Context, abort func() bool, background bool) error {
	e.mu.Lock()
	s := e.session
	if s == nil || s.guest || e.closed {
		e.mu.Unlock()
		return nil
	}
	if !e.online {
		e.mu.Unlock()
		return ErrOffline
	}
	if background && s.markers.Any() {
		e.mu.Unlock()
		return nil
	}
	startedAt := e.clock.Now()
	e.mu.Unlock()

	stale := func() bool {
		return (abort != nil && abort()) || e.currentSession() != s
	}
	if stale() {
		return nil
	}

	lists, err := s.api.FetchLists(ctx)
	if err != nil {
		if apiclient.IsUnauthorized(err) {
			e.sessionExpired(s)
		}
		return err
	}
	if stale() {
		return nil
	}

	e.mu.Lock()
	if e.session != s {
		e.mu.Unlock()
		return nil
	}
	kept := e.mergeLocked(s, lists, startedAt)
	snap := e.snapshotLocked()
	e.mu.Unlock()

	if len(kept) > 0 {
		e.logger.Printf("refresh kept local state for %v", kept)
	}
	e.persist(e.ctx, snap)
	e.publish(snap)
	return nil
}

func (e *Engine) mergeLocked(s *session, fetched []*domain.OwnerList, startedAt time.Time) []string {
	now := e.clock.Now()
	seen := make(map[string]bool, len(fetched))
	next := make([]*domain.OwnerList, 0, len(fetched))
	var kept []string

	for _, remote := range fetched {
		if remote == nil {
			continue
		}
		seen[remote.OwnerID] = true
		if e.protectedLocked(s, remote.OwnerID, startedAt) {
			if local := e.state.Get(remote.OwnerID); local != nil {
				next = append(next, remote.WithState(local.State))
				kept = append(kept, remote.OwnerID)
				continue
			}
		}
		if remote.State == nil {
			remote = remote.WithState(domain.ListState{})
		}
		_, pending := s.markers.Get(remote.OwnerID)
		e.notices.observe(remote, now, pending, e.lastMutation[remote.OwnerID])
		next = append(next, remote)
	}

	for _, local := range e.state.Lists() {
		if !seen[local.OwnerID] && e.protectedLocked(s, local.OwnerID, startedAt) {
			next = append(next, local)
		}
	}

	e.state.Replace(next)
	if e.selected != "" && e.state.Get(e.selected) == nil {
		e.selected = ""
	}
	return kept
}

func (e *Engine) protectedLocked(s *session, ownerID string, startedAt time.Time) bool {
	if _, pending := s.markers.Get(ownerID); pending {
		return true
	}
	if t, ok := e.lastMutation[ownerID]; ok && t.After(startedAt) {
		return true
	}
	return e.queue.HasOwner(ownerID)
}

// backgroundRefresh also replays a log left behind once retries ran out. A
// poll that reaches the server means the log can go too.
func (e *Engine) backgroundRefresh() {
	err := e.refresh(e.ctx, nil, true)
	if err != nil && !errors.Is(err, ErrOffline) && !errors.Is(err, context.Canceled) {
		e.logger.Printf("background refresh failed: %v", err)
	}
	if err == nil {
		if s := e.currentSession(); s != nil {
			e.kickQueue(s)
		}
	}
}

// OnRemoteChange is called when the live feed reports a change to ownerID's
// list. The refresh is deferred by a random jitter so clients that heard the
// same event do not fetch at once.
func (e *Engine) OnRemoteChange(ownerID string) {
	e.scheduler.request(false)
}

// OnFocus refreshes right away, e.g. when the user returns to the app.
func (e *Engine) OnFocus() {
	e.scheduler.request(true)
}

// refreshScheduler runs the poll loop and coalesces deferred refreshes.
type refreshScheduler struct {
	mu      sync.Mutex
	clock   Clock
	rand    Rand
	jitter  time.Duration
	poll    time.Duration
	run     func()
	running bool

	deferred  Timer
	pollTimer Timer
}

func newRefreshScheduler(clock Clock, rnd Rand, jitter, poll time.Duration, run func()) *refreshScheduler {
	return &refreshScheduler{clock: clock, rand: rnd, jitter: jitter, poll: poll, run: run}
}

func (r *refreshScheduler) start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return
	}
	r.running = true
	r.armPollLocked()
}

func (r *refreshScheduler) stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.running = false
	if r.deferred != nil {
		r.deferred.Stop()
		r.deferred = nil
	}
	if r.pollTimer != nil {
		r.pollTimer.Stop()
		r.pollTimer = nil
	}
}

func (r *refreshScheduler) armPollLocked() {
	if r.poll <= 0 {
		return
	}
	r.pollTimer = r.clock.AfterFunc(r.poll, func() {
		r.mu.Lock()
		if !r.running {
			r.mu.Unlock()
			return
		}
		r.armPollLocked()
		r.mu.Unlock()
		r.request(false)
	})
}

// request runs a refresh now, or within the jitter window when immediate is
// false. Deferred requests made while one is already scheduled are merged.
func (r *refreshScheduler) request(immediate bool) {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	if immediate {
		if r.deferred != nil {
			r.deferred.Stop()
			r.deferred = nil
		}
		r.mu.Unlock()
		r.run()
		return
	}
	defer r.mu.Unlock()
	if r.deferred != nil {
		return
	}
	r.deferred = r.clock.AfterFunc(between(r.rand, 0, r.jitter), func() {
		r.mu.Lock()
		r.deferred = nil
		running := r.running
		r.mu.Unlock()
		if running {
			r.run()
		}
	})
}
