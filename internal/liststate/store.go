// Package liststate holds the in-memory copy of every owner-scoped list a
// client can see and applies local edits to it.
//
// State is copy-on-write. A mutation that changes an owner's list installs a
// new *domain.OwnerList with a new state map; owners and records it did not
// touch keep their previous pointers, so callers can detect change by
// comparing pointers. A Store is not safe for concurrent use.
package liststate

import (
	"time"

	"shoplist-sync-server/internal/domain"
	"shoplist-sync-server/internal/ingredient"

	"github.com/google/uuid"
)

type Store struct {
	parse  ingredient.Func
	now    func() time.Time
	newID  func() string
	selfID string
	owners []string
	lists  map[string]*domain.OwnerList
}

func New(parse ingredient.Func) *Store {
	if parse == nil {
		parse = ingredient.Parse
	}
	return &Store{
		parse: parse,
		now:   time.Now,
		newID: uuid.NewString,
		lists: make(map[string]*domain.OwnerList),
	}
}

// SetClock replaces the time source used for cross-off timestamps.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

// SetSelf records the signed-in identity; lists created locally for that id
// are flagged as the caller's own.
func (s *Store) SetSelf(id string) {
	s.selfID = id
}

// Key returns the normalized form of a record label.
func Key(label string) string {
	return ingredient.NormalizeLabel(label)
}

func (s *Store) Replace(lists []*domain.OwnerList) {
	s.owners = s.owners[:0]
	s.lists = make(map[string]*domain.OwnerList, len(lists))
	for _, l := range lists {
		if l.State == nil {
			l = l.WithState(domain.ListState{})
		}
		s.owners = append(s.owners, l.OwnerID)
		s.lists[l.OwnerID] = l
	}
}

// ReplaceOwner installs list for its owner, keeping the owner's position.
func (s *Store) ReplaceOwner(list *domain.OwnerList) {
	if list.State == nil {
		list = list.WithState(domain.ListState{})
	}
	if _, ok := s.lists[list.OwnerID]; !ok {
		s.owners = append(s.owners, list.OwnerID)
	}
	s.lists[list.OwnerID] = list
}

func (s *Store) Get(ownerID string) *domain.OwnerList {
	return s.lists[ownerID]
}

// Lists returns the owner lists in fetch order.
func (s *Store) Lists() []*domain.OwnerList {
	out := make([]*domain.OwnerList, 0, len(s.owners))
	for _, id := range s.owners {
		out = append(out, s.lists[id])
	}
	return out
}

func (s *Store) state(ownerID string) domain.ListState {
	if l, ok := s.lists[ownerID]; ok {
		return l.State
	}
	return nil
}

func (s *Store) install(ownerID string, state domain.ListState) {
	l, ok := s.lists[ownerID]
	if !ok {
		s.ReplaceOwner(&domain.OwnerList{
			OwnerID: ownerID,
			IsSelf:  ownerID == s.selfID,
			State:   state,
		})
		return
	}
	s.lists[ownerID] = l.WithState(state)
}

// AddItems parses each ingredient line and merges it into the owner's list.
// Lines that fail to normalize are skipped. It reports whether anything
// changed.
func (s *Store) AddItems(ownerID string, ingredients []domain.IngredientInput, pos domain.Position) bool {
	type parsed struct {
		in domain.IngredientInput
		p  ingredient.Parsed
	}
	var items []parsed
	for _, in := range ingredients {
		p, ok := s.parse(in.Text)
		if !ok {
			continue
		}
		items = append(items, parsed{in, p})
	}
	if len(items) == 0 {
		return false
	}

	state := s.state(ownerID).Copy()

	var fresh []string
	seen := make(map[string]bool)
	for _, it := range items {
		key := it.p.NormalizedLabel
		if _, exists := state[key]; exists || seen[key] {
			continue
		}
		seen[key] = true
		fresh = append(fresh, key)
	}
	min, max, nonEmpty := state.OrderBounds()
	orders := domain.NewOrders(min, max, nonEmpty, len(fresh), pos)
	orderOf := make(map[string]int64, len(fresh))
	for i, key := range fresh {
		orderOf[key] = orders[i]
	}

	for _, it := range items {
		key := it.p.NormalizedLabel
		entry := domain.QuantityEntry{
			ID:                s.newID(),
			QuantityText:      it.p.QuantityText,
			AmountValue:       it.p.AmountValue,
			MeasureText:       it.p.MeasureText,
			SourceRecipeID:    it.in.SourceRecipeID,
			SourceRecipeTitle: it.in.SourceRecipeTitle,
		}
		if rec, ok := state[key]; ok {
			next := rec.Clone()
			next.Entries = append(next.Entries, entry)
			next.CrossedOffAt = nil
			state[key] = next
			continue
		}
		state[key] = &domain.ListRecord{
			Label:   it.p.Label,
			Entries: []domain.QuantityEntry{entry},
			Order:   orderOf[key],
		}
	}

	s.install(ownerID, state)
	return true
}

func (s *Store) RemoveItem(ownerID, label string) bool {
	key := Key(label)
	current := s.state(ownerID)
	if _, ok := current[key]; !ok {
		return false
	}
	state := current.Copy()
	delete(state, key)
	s.install(ownerID, state)
	return true
}

func (s *Store) ClearList(ownerID string) bool {
	if len(s.state(ownerID)) == 0 {
		return false
	}
	s.install(ownerID, domain.ListState{})
	return true
}

// ReorderItems gives the labels in order the positions 0..k-1 and moves every
// other record after them in its previous relative order. When no order value
// would change the owner's list is left untouched and false is returned.
func (s *Store) ReorderItems(ownerID string, order []string) bool {
	current := s.state(ownerID)
	if len(current) == 0 {
		return false
	}

	orders := make(map[string]int64, len(current))
	for key, rec := range current {
		orders[key] = rec.Order
	}
	keys := make([]string, len(order))
	for i, label := range order {
		keys[i] = Key(label)
	}
	next := domain.ReorderPlan(orders, keys)

	var state domain.ListState
	for key, rec := range current {
		if rec.Order == next[key] {
			continue
		}
		if state == nil {
			state = current.Copy()
		}
		moved := rec.Clone()
		moved.Order = next[key]
		state[key] = moved
	}
	if state == nil {
		return false
	}
	s.install(ownerID, state)
	return true
}

// SetCrossedOff marks or unmarks a record. A nil at clears the mark.
func (s *Store) SetCrossedOff(ownerID, label string, at *time.Time) bool {
	key := Key(label)
	current := s.state(ownerID)
	rec, ok := current[key]
	if !ok {
		return false
	}
	if sameTime(rec.CrossedOffAt, at) {
		return false
	}
	next := rec.Clone()
	if at != nil {
		t := *at
		next.CrossedOffAt = &t
	} else {
		next.CrossedOffAt = nil
	}
	state := current.Copy()
	state[key] = next
	s.install(ownerID, state)
	return true
}

// Cross is SetCrossedOff with the store's clock.
func (s *Store) Cross(ownerID, label string, crossed bool) (*time.Time, bool) {
	if !crossed {
		return nil, s.SetCrossedOff(ownerID, label, nil)
	}
	now := s.now().UTC()
	return &now, s.SetCrossedOff(ownerID, label, &now)
}

// UpdateQuantity collapses every entry under label into one manual entry.
// The previous record is returned so a failed remote write can restore it.
func (s *Store) UpdateQuantity(ownerID, label, quantityText string) (prev, next *domain.ListRecord, ok bool) {
	key := Key(label)
	current := s.state(ownerID)
	prev, ok = current[key]
	if !ok {
		return nil, nil, false
	}

	amount, measure := ingredient.SplitQuantity(quantityText)
	next = prev.Clone()
	next.Entries = []domain.QuantityEntry{{
		ID:                s.newID(),
		QuantityText:      quantityText,
		AmountValue:       amount,
		MeasureText:       measure,
		SourceRecipeTitle: domain.MergedSourceTitle(prev.Entries),
	}}

	state := current.Copy()
	state[key] = next
	s.install(ownerID, state)
	return prev, next, true
}

// RestoreRecord puts rec back under label, but only while the record is
// still the one expected; a later local edit wins over the restore.
func (s *Store) RestoreRecord(ownerID, label string, expected, rec *domain.ListRecord) bool {
	key := Key(label)
	current := s.state(ownerID)
	if current[key] != expected {
		return false
	}
	state := current.Copy()
	if rec == nil {
		delete(state, key)
	} else {
		state[key] = rec
	}
	s.install(ownerID, state)
	return true
}

// Apply replays a logged operation against local state.
func (s *Store) Apply(op domain.Operation) bool {
	switch op.Type {
	case domain.OpAddItems:
		return s.AddItems(op.OwnerID, op.Ingredients, op.Position)
	case domain.OpRemoveItem:
		return s.RemoveItem(op.OwnerID, op.Label)
	case domain.OpClearList:
		return s.ClearList(op.OwnerID)
	case domain.OpReorderItems:
		return s.ReorderItems(op.OwnerID, op.Order)
	case domain.OpUpdateQuantity:
		_, _, ok := s.UpdateQuantity(op.OwnerID, op.Label, op.Quantity)
		return ok
	case domain.OpSetCrossedOff:
		return s.SetCrossedOff(op.OwnerID, op.Label, op.CrossedOffAt)
	}
	return false
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
