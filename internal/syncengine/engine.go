// Package syncengine keeps a client's shopping lists usable offline and
// converges them with the server.
//
// Local edits are applied optimistically, then either coalesced into a
// delayed batch (online, nothing queued) or appended to a durable offline
// log. The log is replayed one operation at a time so a rejected operation
// can be told apart from the ones around it. Fetched server state replaces
// local state only for owners with no write in flight.
package syncengine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"time"

	"shoplist-sync-server/internal/apiclient"
	"shoplist-sync-server/internal/domain"
	"shoplist-sync-server/internal/durable"
	"shoplist-sync-server/internal/ingredient"
	"shoplist-sync-server/internal/liststate"

	"github.com/google/uuid"
)

const (
	// GuestOwnerID owns the single list kept while nobody is signed in.
	GuestOwnerID = "guest"
	guestLabel   = "My list"
)

var (
	ErrOffline = errors.New("sync: offline")
	ErrGuest   = errors.New("sync: not signed in")
	ErrClosed  = errors.New("sync: engine closed")
)

type Config struct {
	PollInterval     time.Duration
	DispatchMinDelay time.Duration
	DispatchMaxDelay time.Duration
	RefreshJitter    time.Duration
	NoticeGrace      time.Duration

	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	MaxRetries     int

	Clock  Clock
	Rand   Rand
	Parse  ingredient.Func
	Logger *log.Logger
}

func DefaultConfig() *Config {
	return &Config{
		PollInterval:     60 * time.Second,
		DispatchMinDelay: 7 * time.Second,
		DispatchMaxDelay: 9 * time.Second,
		RefreshJitter:    2 * time.Second,
		NoticeGrace:      10 * time.Second,
		RetryBaseDelay:   5 * time.Second,
		RetryMaxDelay:    5 * time.Minute,
		MaxRetries:       8,
		Clock:            SystemClock(),
		Parse:            ingredient.Parse,
		Logger:           log.New(os.Stderr, "[sync] ", log.LstdFlags),
	}
}

func (c *Config) withDefaults() *Config {
	def := DefaultConfig()
	if c == nil {
		return def
	}
	out := *c
	if out.PollInterval == 0 {
		out.PollInterval = def.PollInterval
	}
	if out.DispatchMinDelay == 0 && out.DispatchMaxDelay == 0 {
		out.DispatchMinDelay, out.DispatchMaxDelay = def.DispatchMinDelay, def.DispatchMaxDelay
	}
	if out.DispatchMaxDelay < out.DispatchMinDelay {
		out.DispatchMaxDelay = out.DispatchMinDelay
	}
	if out.NoticeGrace == 0 {
		out.NoticeGrace = def.NoticeGrace
	}
	if out.RetryBaseDelay == 0 {
		out.RetryBaseDelay = def.RetryBaseDelay
	}
	if out.RetryMaxDelay == 0 {
		out.RetryMaxDelay = def.RetryMaxDelay
	}
	if out.MaxRetries == 0 {
		out.MaxRetries = def.MaxRetries
	}
	if out.Clock == nil {
		out.Clock = def.Clock
	}
	if out.Parse == nil {
		out.Parse = def.Parse
	}
	if out.Logger == nil {
		out.Logger = log.New(io.Discard, "", 0)
	}
	return &out
}

// SyncError is a write the server refused, kept until the user dismisses it.
type SyncError struct {
	ID      int                  `json:"id"`
	OwnerID string               `json:"ownerId,omitempty"`
	Op      domain.OperationType `json:"op,omitempty"`
	Message string               `json:"message"`
	At      time.Time            `json:"at"`
}

// Snapshot is an immutable view handed to subscribers. Version increases with
// every change.
type Snapshot struct {
	Version    uint64              `json:"version"`
	Identity   string              `json:"identity,omitempty"`
	Guest      bool                `json:"guest"`
	Online     bool                `json:"online"`
	Lists      []*domain.OwnerList `json:"lists"`
	Selected   string              `json:"selected,omitempty"`
	PendingOps int                 `json:"pendingOps"`
	Notices    []Notice            `json:"notices,omitempty"`
	Errors     []SyncError         `json:"errors,omitempty"`
}

// session is one signed-in identity or the guest. Work started for a
// session that is no longer current is discarded.
type session struct {
	identity   string
	guest      bool
	api        apiclient.API
	markers    *PendingMarkers
	dispatcher *Dispatcher
	cleared    bool
}

type quantityRevert struct {
	ownerID string
	label   string
	prev    *domain.ListRecord
	next    *domain.ListRecord
}

type Engine struct {
	mu     sync.Mutex
	cfg    *Config
	clock  Clock
	rand   *lockedRand
	logger *log.Logger
	store  durable.Store
	bridge SyncBridge

	state     *liststate.Store
	queue     *Queue
	notices   *noticeTracker
	scheduler *refreshScheduler

	session      *session
	online       bool
	selected     string
	lastMutation map[string]time.Time
	reverts      map[string]quantityRevert
	errors       []SyncError
	nextErrorID  int
	version      uint64
	closed       bool

	retryTimer     Timer
	retryAttempt   int
	retryExhausted bool

	subscribers map[int]func(Snapshot)
	nextSubID   int

	persistMu        sync.Mutex
	persistedVersion uint64

	ctx               context.Context
	cancel            context.CancelFunc
	unsubscribeBridge func()
}

// New builds an engine with no session. Call SignIn or UseLocalMode before
// editing. bridge may be nil.
func New(store durable.Store, bridge SyncBridge, cfg *Config) *Engine {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())

	e := &Engine{
		cfg:          cfg,
		clock:        cfg.Clock,
		rand:         newLockedRand(cfg.Rand),
		logger:       cfg.Logger,
		store:        store,
		bridge:       bridge,
		state:        liststate.New(cfg.Parse),
		notices:      newNoticeTracker(cfg.NoticeGrace),
		online:       true,
		lastMutation: make(map[string]time.Time),
		reverts:      make(map[string]quantityRevert),
		subscribers:  make(map[int]func(Snapshot)),
		ctx:          ctx,
		cancel:       cancel,
	}
	e.state.SetClock(e.clock.Now)
	e.queue = NewQueue(store, e.logger)
	e.queue.OnChange(e.queueChanged)
	e.scheduler = newRefreshScheduler(e.clock, e.rand, cfg.RefreshJitter, cfg.PollInterval, e.backgroundRefresh)
	if bridge != nil {
		e.unsubscribeBridge = bridge.Subscribe(e.handleBridgeMessage)
	}
	return e
}

// SignIn starts a session for identity, restoring its cached lists, offline
// log and selection. Polling starts immediately.
func (e *Engine) SignIn(ctx context.Context, identity string, api apiclient.API) error {
	if identity == "" || api == nil {
		return errors.New("sync: identity and api client are required")
	}
	if e.isClosed() {
		return ErrClosed
	}
	e.detach(ctx, false)

	cached, cacheErr := e.loadLists(ctx, durable.ListsCacheKey(identity))
	queueErr := e.queue.Load(ctx, durable.OfflineQueueKey(identity))
	selected, _, selErr := e.store.Get(ctx, durable.SelectedListKey(identity))

	s := &session{identity: identity, api: api, markers: NewPendingMarkers()}
	s.dispatcher = NewDispatcher(e.ctx, e.clock, e.rand, e.cfg.DispatchMinDelay, e.cfg.DispatchMaxDelay,
		s.markers, e.sendBatch(api), e.settleFunc(s))

	e.mu.Lock()
	e.resetSessionLocked(s)
	e.state.SetSelf(identity)
	e.state.Replace(cached)
	e.selected = selected
	snap := e.snapshotLocked()
	e.mu.Unlock()

	e.scheduler.start()
	e.publish(snap)
	e.logger.Printf("signed in as %s, %d cached lists, %d queued operations", identity, len(cached), e.queue.Len())
	e.kickQueue(s)
	return errors.Join(cacheErr, queueErr, selErr)
}

// SignOut drops the session's queue, cache and selection and switches to
// the local guest list.
func (e *Engine) SignOut(ctx context.Context) error {
	e.mu.Lock()
	s := e.session
	e.mu.Unlock()

	e.detach(ctx, true)
	var errs []error
	if s != nil && !s.guest {
		errs = append(errs,
			e.store.Remove(ctx, durable.ListsCacheKey(s.identity)),
			e.store.Remove(ctx, durable.SelectedListKey(s.identity)))
	}
	errs = append(errs, e.enterGuest(ctx))
	return errors.Join(errs...)
}

// UseLocalMode abandons any pending remote work and keeps a local-only list.
func (e *Engine) UseLocalMode(ctx context.Context) error {
	if e.isClosed() {
		return ErrClosed
	}
	e.detach(ctx, true)
	return e.enterGuest(ctx)
}

func (e *Engine) enterGuest(ctx context.Context) error {
	if err := e.queue.Load(ctx, ""); err != nil {
		return err
	}
	var lists []*domain.OwnerList
	raw, ok, err := e.store.Get(ctx, durable.GuestListKey)
	if err == nil && ok && raw != "" {
		var l domain.OwnerList
		if jerr := json.Unmarshal([]byte(raw), &l); jerr != nil {
			err = fmt.Errorf("decode guest list: %w", jerr)
		} else {
			lists = append(lists, &l)
		}
	}
	if len(lists) == 0 {
		lists = []*domain.OwnerList{{
			OwnerID:    GuestOwnerID,
			OwnerLabel: guestLabel,
			IsSelf:     true,
			State:      domain.ListState{},
		}}
	}

	e.mu.Lock()
	e.resetSessionLocked(&session{guest: true, markers: NewPendingMarkers()})
	e.state.SetSelf(GuestOwnerID)
	e.state.Replace(lists)
	e.selected = GuestOwnerID
	snap := e.snapshotLocked()
	e.mu.Unlock()

	e.publish(snap)
	return err
}

func (e *Engine) resetSessionLocked(s *session) {
	e.session = s
	e.lastMutation = make(map[string]time.Time)
	e.reverts = make(map[string]quantityRevert)
	e.errors = nil
	e.retryAttempt = 0
	e.retryExhausted = false
	e.notices.reset()
}

// detach ends the current session. Unsent batch operations are kept in its
// offline log unless clearQueue is set, in which case the log is dropped.
func (e *Engine) detach(ctx context.Context, clearQueue bool) {
	e.mu.Lock()
	s := e.session
	e.session = nil
	if s != nil {
		s.cleared = clearQueue
	}
	e.stopRetryLocked()
	e.mu.Unlock()

	e.scheduler.stop()
	if s == nil {
		return
	}
	if s.dispatcher != nil {
		if ops := s.dispatcher.TakePending(); len(ops) > 0 && !clearQueue {
			if err := e.queue.Enqueue(ctx, ops...); err != nil {
				e.logger.Printf("failed to save unsent operations: %v", err)
			}
		}
	}
	if clearQueue {
		if err := e.queue.Clear(ctx); err != nil {
			e.logger.Printf("failed to clear offline queue: %v", err)
		}
	}
}

// Close stops timers and saves unsent operations to the offline log.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	s := e.session
	e.stopRetryLocked()
	e.mu.Unlock()

	e.scheduler.stop()
	var err error
	if s != nil && s.dispatcher != nil {
		if ops := s.dispatcher.TakePending(); len(ops) > 0 {
			err = e.queue.Enqueue(context.Background(), ops...)
		}
	}
	if e.unsubscribeBridge != nil {
		e.unsubscribeBridge()
	}
	e.cancel()
	return err
}

func (e *Engine) isClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

func (e *Engine) currentSession() *session {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session
}

// AddItems adds ingredient lines to ownerID's list. An empty ownerID means
// the selected list.
func (e *Engine) AddItems(ownerID string, ingredients []domain.IngredientInput, pos domain.Position) bool {
	return e.mutate(ownerID, func(owner string) (domain.Operation, bool) {
		if !e.state.AddItems(owner, ingredients, pos) {
			return domain.Operation{}, false
		}
		return domain.AddItemsOp(owner, ingredients, pos), true
	})
}

func (e *Engine) RemoveItem(ownerID, label string) bool {
	return e.mutate(ownerID, func(owner string) (domain.Operation, bool) {
		if !e.state.RemoveItem(owner, label) {
			return domain.Operation{}, false
		}
		return domain.RemoveItemOp(owner, label), true
	})
}

func (e *Engine) ClearList(ownerID string) bool {
	return e.mutate(ownerID, func(owner string) (domain.Operation, bool) {
		if !e.state.ClearList(owner) {
			return domain.Operation{}, false
		}
		return domain.ClearListOp(owner), true
	})
}

func (e *Engine) ReorderItems(ownerID string, order []string) bool {
	return e.mutate(ownerID, func(owner string) (domain.Operation, bool) {
		if !e.state.ReorderItems(owner, order) {
			return domain.Operation{}, false
		}
		return domain.ReorderItemsOp(owner, order), true
	})
}

// SetCrossedOff crosses off or restores label, stamped with the local clock.
func (e *Engine) SetCrossedOff(ownerID, label string, crossed bool) bool {
	return e.mutate(ownerID, func(owner string) (domain.Operation, bool) {
		at, ok := e.state.Cross(owner, label, crossed)
		if !ok {
			return domain.Operation{}, false
		}
		return domain.SetCrossedOffOp(owner, label, at), true
	})
}

// UpdateQuantity replaces every entry under label with one manual entry. If
// the server rejects the write the previous entries come back.
func (e *Engine) UpdateQuantity(ownerID, label, quantity string) bool {
	return e.mutate(ownerID, func(owner string) (domain.Operation, bool) {
		prev, next, ok := e.state.UpdateQuantity(owner, label, quantity)
		if !ok {
			return domain.Operation{}, false
		}
		op := domain.UpdateQuantityOp(owner, label, quantity)
		op.ID = uuid.NewString()
		if !e.session.guest {
			e.reverts[op.ID] = quantityRevert{ownerID: owner, label: label, prev: prev, next: next}
		}
		return op, true
	})
}

type route int

const (
	routeGuest route = iota
	routeDispatched
	routeQueued
)

// mutate applies a local edit and routes the resulting operation. apply runs
// under e.mu and reports false for a no-op, which is never sent.
func (e *Engine) mutate(ownerID string, apply func(owner string) (domain.Operation, bool)) bool {
	e.mu.Lock()
	s := e.session
	if s == nil || e.closed {
		e.mu.Unlock()
		return false
	}
	owner := e.resolveOwnerLocked(ownerID)
	op, ok := apply(owner)
	if !ok {
		e.mu.Unlock()
		return false
	}
	if op.ID == "" {
		op.ID = uuid.NewString()
	}
	e.lastMutation[owner] = e.clock.Now()

	var r route
	switch {
	case s.guest:
		r = routeGuest
	case e.online && e.queue.Len() == 0:
		s.dispatcher.Dispatch(op)
		r = routeDispatched
	default:
		e.queue.Append(op)
		r = routeQueued
	}
	snap := e.snapshotLocked()
	e.mu.Unlock()

	if r == routeQueued {
		if err := e.queue.Persist(e.ctx); err != nil {
			e.logger.Printf("failed to persist offline queue: %v", err)
		}
	}
	e.persist(e.ctx, snap)
	e.publish(snap)
	if r == routeQueued {
		e.kickQueue(s)
	}
	return true
}

// kickQueue replays a non-empty log right away while online, unless a retry
// is already armed. It does not consume a retry attempt, so an edit made
// after retries ran out still gets sent.
func (e *Engine) kickQueue(s *session) {
	e.mu.Lock()
	ready := e.session == s && !s.guest && e.online && e.queue.Len() > 0
	e.mu.Unlock()
	if ready {
		e.scheduleRetry(s, true)
	}
}

func (e *Engine) resolveOwnerLocked(ownerID string) string {
	switch {
	case e.session.guest:
		return GuestOwnerID
	case ownerID != "":
		return ownerID
	case e.selected != "":
		return e.selected
	default:
		return e.session.identity
	}
}

func (e *Engine) sendBatch(api apiclient.API) func(context.Context, []domain.Operation) error {
	return func(ctx context.Context, ops []domain.Operation) error {
		_, err := api.ApplyBatch(ctx, ops)
		return err
	}
}

// settleFunc handles a batch outcome for s. A failed batch, together with
// anything dispatched after it, moves to the offline log so ordering holds.
func (e *Engine) settleFunc(s *session) func([]domain.Operation, error) {
	return func(ops []domain.Operation, err error) {
		e.mu.Lock()
		if e.session != s {
			e.mu.Unlock()
			if err != nil && !s.cleared {
				e.saveStale(s.identity, ops)
			}
			return
		}
		if err == nil {
			e.confirmedLocked(ops...)
			snap := e.snapshotLocked()
			e.mu.Unlock()
			e.publish(snap)
			return
		}

		later := s.dispatcher.TakePending()
		e.queue.Append(ops...)
		e.queue.Append(later...)
		e.mu.Unlock()

		e.logger.Printf("batch of %d operations failed: %v; %d operations moved to the offline queue",
			len(ops), err, len(ops)+len(later))
		if perr := e.queue.Persist(e.ctx); perr != nil {
			e.logger.Printf("failed to persist offline queue: %v", perr)
		}
		if apiclient.IsTransient(err) {
			e.scheduleRetry(s, false)
		} else {
			// replay one at a time to find the operation the server refused
			e.scheduleRetry(s, true)
		}
		e.publishCurrent()
	}
}

// saveStale appends the operations of an ended session to that identity's
// persisted log.
func (e *Engine) saveStale(identity string, ops []domain.Operation) {
	e.mu.Lock()
	same := e.session != nil && e.session.identity == identity && !e.session.guest
	e.mu.Unlock()
	if same {
		if err := e.queue.Enqueue(e.ctx, ops...); err != nil {
			e.logger.Printf("failed to save operations of previous session: %v", err)
		}
		return
	}

	key := durable.OfflineQueueKey(identity)
	current, err := readLog(e.ctx, e.store, key)
	if err == nil {
		err = writeLog(e.ctx, e.store, key, append(current, ops...))
	}
	if err != nil {
		e.logger.Printf("failed to save operations of previous session: %v", err)
	}
}

func (e *Engine) confirmedLocked(ops ...domain.Operation) {
	now := e.clock.Now()
	for _, op := range ops {
		e.lastMutation[op.OwnerID] = now
		e.notices.ownWrite(op.OwnerID)
		delete(e.reverts, op.ID)
	}
}

// flushQueue replays the offline log. Transient failures schedule a retry
// and a refused token stops the replay with the log intact. Any other server
// rejection drops the operation, compensates locally and carries on.
func (e *Engine) flushQueue(ctx context.Context) error {
	e.mu.Lock()
	s := e.session
	if s == nil || s.guest {
		e.mu.Unlock()
		return nil
	}
	if !e.online {
		e.mu.Unlock()
		if e.queue.Len() > 0 {
			return ErrOffline
		}
		return nil
	}
	e.mu.Unlock()

	send := func(ctx context.Context, op domain.Operation) error {
		s.markers.Acquire(op.OwnerID, e.clock.Now())
		defer s.markers.Release(op.OwnerID)
		if _, err := s.api.ApplyBatch(ctx, []domain.Operation{op}); err != nil {
			return err
		}
		e.mu.Lock()
		if e.session == s {
			e.confirmedLocked(op)
		}
		e.mu.Unlock()
		return nil
	}

	changed := false
	for {
		res, err := e.queue.Flush(ctx, send)
		changed = changed || res.Sent > 0
		if err == nil {
			e.mu.Lock()
			if e.session == s {
				e.retryAttempt = 0
				e.retryExhausted = false
			}
			e.mu.Unlock()
			break
		}
		if apiclient.IsTransient(err) {
			e.logger.Printf("offline queue replay interrupted: %v", err)
			e.scheduleRetry(s, false)
			e.publishCurrent()
			return err
		}
		if apiclient.IsUnauthorized(err) {
			// the token is bad, not the operation; keep the log for the next sign-in
			e.logger.Printf("offline queue replay stopped, %d operations kept: %v", e.queue.Len(), err)
			e.sessionExpired(s)
			return err
		}
		var apiErr *apiclient.APIError
		if !errors.As(err, &apiErr) || res.Failed == nil {
			return err
		}

		e.reject(s, *res.Failed, apiErr)
		if derr := e.queue.DropHead(ctx, res.Failed.ID); derr != nil {
			e.logger.Printf("failed to persist offline queue: %v", derr)
		}
		changed = true
		if e.currentSession() != s {
			return nil
		}
	}

	if changed {
		e.scheduler.request(false)
	}
	e.publishCurrent()
	return nil
}

// reject compensates locally for an operation the server refused.
func (e *Engine) reject(s *session, op domain.Operation, apiErr *apiclient.APIError) {
	e.mu.Lock()
	if e.session != s {
		e.mu.Unlock()
		return
	}
	e.logger.Printf("server rejected %s for %s: %v", op.Type, op.OwnerID, apiErr)

	rev, hasRevert := e.reverts[op.ID]
	delete(e.reverts, op.ID)

	switch {
	case apiErr.Status == 404 && op.Label != "":
		// the record is gone on the server; drop our stale copy
		e.state.RemoveItem(op.OwnerID, op.Label)
	case hasRevert:
		e.state.RestoreRecord(rev.ownerID, rev.label, rev.next, rev.prev)
		e.addErrorLocked(op, fmt.Sprintf("quantity change for %q was not saved: %s", op.Label, apiErr.Message))
	case apiErr.Status == 404:
	default:
		e.addErrorLocked(op, apiErr.Message)
	}
	snap := e.snapshotLocked()
	e.mu.Unlock()

	e.persist(e.ctx, snap)
	e.publish(snap)
}

const sessionExpiredMessage = "session expired, sign in again"

// sessionExpired surfaces a single sign-in error for s.
func (e *Engine) sessionExpired(s *session) {
	e.mu.Lock()
	if e.session != s {
		e.mu.Unlock()
		return
	}
	for _, se := range e.errors {
		if se.Message == sessionExpiredMessage {
			e.mu.Unlock()
			return
		}
	}
	e.addErrorLocked(domain.Operation{}, sessionExpiredMessage)
	snap := e.snapshotLocked()
	e.mu.Unlock()
	e.publish(snap)
}

func (e *Engine) addErrorLocked(op domain.Operation, message string) {
	e.nextErrorID++
	e.errors = append(e.errors, SyncError{
		ID:      e.nextErrorID,
		OwnerID: op.OwnerID,
		Op:      op.Type,
		Message: message,
		At:      e.clock.Now(),
	})
}

// scheduleRetry arms a single replay timer for s. immediate replays at once
// without consuming an attempt; otherwise the delay backs off exponentially.
func (e *Engine) scheduleRetry(s *session, immediate bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session != s || e.closed || e.retryTimer != nil {
		return
	}

	delay := time.Duration(0)
	if !immediate {
		if e.retryAttempt >= e.cfg.MaxRetries {
			if !e.retryExhausted {
				e.retryExhausted = true
				e.addErrorLocked(domain.Operation{}, fmt.Sprintf("%d changes are waiting to sync; they will be sent once the server answers again", e.queue.Len()))
				e.revertQuantitiesLocked()
			}
			return
		}
		delay = e.cfg.RetryBaseDelay << e.retryAttempt
		if delay <= 0 || delay > e.cfg.RetryMaxDelay {
			delay = e.cfg.RetryMaxDelay
		}
		delay = between(e.rand, delay/2, delay)
		e.retryAttempt++
	}

	e.retryTimer = e.clock.AfterFunc(delay, func() {
		e.mu.Lock()
		e.retryTimer = nil
		current := e.session == s
		online := e.online
		if current && !online && !immediate && e.retryAttempt > 0 {
			// SetOnline(true) replays the log; the attempt was never made
			e.retryAttempt--
		}
		e.mu.Unlock()
		if !current || !online {
			return
		}
		err := e.flushQueue(e.ctx)
		if err != nil && !apiclient.IsTransient(err) && !apiclient.IsUnauthorized(err) {
			e.logger.Printf("offline queue replay failed: %v", err)
		}
	})
}

func (e *Engine) stopRetryLocked() {
	if e.retryTimer != nil {
		e.retryTimer.Stop()
		e.retryTimer = nil
	}
}

// revertQuantitiesLocked undoes optimistic quantity overrides once retries
// are exhausted. The operations stay queued.
func (e *Engine) revertQuantitiesLocked() {
	for id, rev := range e.reverts {
		if e.state.RestoreRecord(rev.ownerID, rev.label, rev.next, rev.prev) {
			delete(e.reverts, id)
		}
	}
}

// SetOnline records connectivity. Going offline moves unsent batch
// operations to the offline log; coming back replays it and refreshes.
func (e *Engine) SetOnline(ctx context.Context, online bool) error {
	e.mu.Lock()
	if e.online == online {
		e.mu.Unlock()
		return nil
	}
	e.online = online
	s := e.session
	if online {
		e.retryAttempt = 0
		e.retryExhausted = false
	} else {
		e.stopRetryLocked()
	}
	e.mu.Unlock()

	if !online {
		if s != nil && s.dispatcher != nil {
			if ops := s.dispatcher.TakePending(); len(ops) > 0 {
				if err := e.queue.Enqueue(ctx, ops...); err != nil {
					e.logger.Printf("failed to persist offline queue: %v", err)
				}
			}
		}
		e.publishCurrent()
		return nil
	}

	ferr := e.flushQueue(ctx)
	rerr := e.Refresh(ctx, nil)
	e.publishCurrent()
	return errors.Join(ferr, rerr)
}

// Flush sends the open batch and the offline log now.
func (e *Engine) Flush(ctx context.Context) error {
	e.mu.Lock()
	s := e.session
	if s == nil {
		e.mu.Unlock()
		return ErrGuest
	}
	if s.guest {
		e.mu.Unlock()
		return nil
	}
	e.stopRetryLocked()
	e.retryAttempt = 0
	e.retryExhausted = false
	e.mu.Unlock()

	if err := s.dispatcher.FlushNow(ctx); err != nil && !errors.Is(err, ErrDeferred) {
		e.logger.Printf("batch failed, replaying from offline queue: %v", err)
	}
	if err := e.flushQueue(ctx); err != nil {
		return err
	}
	if n := e.queue.Len(); n > 0 {
		return fmt.Errorf("sync: %d operations still queued", n)
	}
	return nil
}

// RenameList changes the label of the caller's own list. It needs the
// server and is never queued.
func (e *Engine) RenameList(ctx context.Context, label string) (string, error) {
	e.mu.Lock()
	s := e.session
	online := e.online
	e.mu.Unlock()
	if s == nil || s.guest {
		return "", ErrGuest
	}
	if !online {
		return "", ErrOffline
	}

	got, err := s.api.RenameList(ctx, label)
	if err != nil {
		return "", err
	}

	e.mu.Lock()
	if e.session != s {
		e.mu.Unlock()
		return got, nil
	}
	if l := e.state.Get(s.identity); l != nil {
		dup := l.WithState(l.State)
		dup.OwnerLabel = got
		e.state.ReplaceOwner(dup)
	}
	snap := e.snapshotLocked()
	e.mu.Unlock()

	e.persist(e.ctx, snap)
	e.publish(snap)
	return got, nil
}

func (e *Engine) SelectList(ctx context.Context, ownerID string) error {
	e.mu.Lock()
	s := e.session
	if s == nil || s.guest {
		e.mu.Unlock()
		return ErrGuest
	}
	e.selected = ownerID
	snap := e.snapshotLocked()
	e.mu.Unlock()

	e.publish(snap)
	if ownerID == "" {
		return e.store.Remove(ctx, durable.SelectedListKey(s.identity))
	}
	return e.store.Set(ctx, durable.SelectedListKey(s.identity), ownerID)
}

// SelectedList is the owner that edits without an explicit owner apply to.
func (e *Engine) SelectedList() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return ""
	}
	return e.resolveOwnerLocked("")
}

func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

// Subscribe registers fn for every new snapshot. fn must not block.
func (e *Engine) Subscribe(fn func(Snapshot)) (unsubscribe func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := e.nextSubID
	e.nextSubID++
	e.subscribers[id] = fn
	return func() {
		e.mu.Lock()
		delete(e.subscribers, id)
		e.mu.Unlock()
	}
}

func (e *Engine) Notices() []Notice {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.notices.list()
}

func (e *Engine) AckNotice(ownerID string) {
	e.mu.Lock()
	changed := e.notices.ack(ownerID)
	snap := e.snapshotLocked()
	e.mu.Unlock()
	if changed {
		e.publish(snap)
	}
}

func (e *Engine) Errors() []SyncError {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]SyncError(nil), e.errors...)
}

func (e *Engine) DismissError(id int) {
	e.mu.Lock()
	for i, se := range e.errors {
		if se.ID == id {
			e.errors = append(e.errors[:i:i], e.errors[i+1:]...)
			break
		}
	}
	snap := e.snapshotLocked()
	e.mu.Unlock()
	e.publish(snap)
}

func (e *Engine) snapshotLocked() Snapshot {
	e.version++
	snap := Snapshot{
		Version:  e.version,
		Online:   e.online,
		Lists:    e.state.Lists(),
		Notices:  e.notices.list(),
		Errors:   append([]SyncError(nil), e.errors...),
		Selected: e.selected,
	}
	if s := e.session; s != nil {
		snap.Identity = s.identity
		snap.Guest = s.guest
		if !s.guest {
			snap.PendingOps = e.queue.Len() + s.dispatcher.Pending()
		}
	}
	return snap
}

func (e *Engine) publishCurrent() {
	e.publish(e.Snapshot())
}

func (e *Engine) publish(snap Snapshot) {
	e.mu.Lock()
	subs := make([]func(Snapshot), 0, len(e.subscribers))
	for _, fn := range e.subscribers {
		subs = append(subs, fn)
	}
	e.mu.Unlock()
	for _, fn := range subs {
		fn(snap)
	}
}

// persist writes snap as the durable cache. Older snapshots never overwrite
// newer ones.
func (e *Engine) persist(ctx context.Context, snap Snapshot) {
	e.persistMu.Lock()
	defer e.persistMu.Unlock()
	if snap.Version <= e.persistedVersion {
		return
	}
	e.persistedVersion = snap.Version

	var key string
	var value any
	switch {
	case snap.Guest:
		if len(snap.Lists) == 0 {
			return
		}
		key, value = durable.GuestListKey, snap.Lists[0]
	case snap.Identity != "":
		key, value = durable.ListsCacheKey(snap.Identity), snap.Lists
	default:
		return
	}

	raw, err := json.Marshal(value)
	if err == nil {
		err = e.store.Set(ctx, key, string(raw))
	}
	if err != nil {
		e.logger.Printf("failed to persist %s: %v", key, err)
	}
}

func (e *Engine) loadLists(ctx context.Context, key string) ([]*domain.OwnerList, error) {
	raw, ok, err := e.store.Get(ctx, key)
	if err != nil || !ok || raw == "" {
		return nil, err
	}
	var lists []*domain.OwnerList
	if err := json.Unmarshal([]byte(raw), &lists); err != nil {
		return nil, fmt.Errorf("decode list cache: %w", err)
	}
	return lists, nil
}

func (e *Engine) queueChanged(ops []domain.Operation) {
	if e.bridge != nil {
		e.bridge.Post(BridgeMessage{Type: MsgQueueUpdated, Mutations: ops})
	}
}

// handleBridgeMessage reacts to a background replay by re-reading the log,
// which the agent has already trimmed, and pulling fresh server state.
func (e *Engine) handleBridgeMessage(msg BridgeMessage) {
	if msg.Type != MsgSyncCompleted {
		return
	}
	if e.currentSession() == nil || e.isClosed() {
		return
	}
	if err := e.queue.Reload(e.ctx); err != nil {
		e.logger.Printf("failed to reload offline queue: %v", err)
	}
	if err := e.Refresh(e.ctx, nil); err != nil && !errors.Is(err, ErrOffline) {
		e.logger.Printf("refresh after background sync failed: %v", err)
	}
}
