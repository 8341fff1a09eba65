package domain

import (
	"sort"
	"strings"
	"time"
)

const ManualAdjustmentTitle = "Manual adjustment"

type QuantityEntry struct {
	ID                string   `json:"id"`
	QuantityText      string   `json:"quantityText"`
	AmountValue       *float64 `json:"amountValue"`
	MeasureText       string   `json:"measureText"`
	SourceRecipeID    string   `json:"sourceRecipeId,omitempty"`
	SourceRecipeTitle string   `json:"sourceRecipeTitle,omitempty"`
}

type ListRecord struct {
	Label        string          `json:"label"`
	Entries      []QuantityEntry `json:"entries"`
	Order        int64           `json:"order"`
	CrossedOffAt *time.Time      `json:"crossedOffAt"`
}

// Clone returns a copy that shares nothing mutable with r.
func (r *ListRecord) Clone() *ListRecord {
	if r == nil {
		return nil
	}
	dup := *r
	dup.Entries = make([]QuantityEntry, len(r.Entries))
	copy(dup.Entries, r.Entries)
	if r.CrossedOffAt != nil {
		t := *r.CrossedOffAt
		dup.CrossedOffAt = &t
	}
	return &dup
}

// ListState maps a normalized label to its record. Records are treated as
// immutable once stored; writers replace the pointer instead of editing it.
type ListState map[string]*ListRecord

// OrderBounds reports the smallest and largest order values in s. ok is
// false for an empty state.
func (s ListState) OrderBounds() (min, max int64, ok bool) {
	for _, rec := range s {
		if !ok {
			min, max, ok = rec.Order, rec.Order, true
			continue
		}
		if rec.Order < min {
			min = rec.Order
		}
		if rec.Order > max {
			max = rec.Order
		}
	}
	return min, max, ok
}

// SortedKeys returns the normalized labels in display order. Ties on order
// fall back to the key so the result is deterministic.
func (s ListState) SortedKeys() []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.SliceStable(keys, func(i, j int) bool {
		a, b := s[keys[i]], s[keys[j]]
		if a.Order != b.Order {
			return a.Order < b.Order
		}
		return keys[i] < keys[j]
	})
	return keys
}

// Copy returns a shallow copy: a new map holding the same record pointers.
func (s ListState) Copy() ListState {
	dup := make(ListState, len(s))
	for k, v := range s {
		dup[k] = v
	}
	return dup
}

// NewOrders returns order values for n new labels placed at one end of a list
// whose current bounds are min and max. Prepended labels keep their input
// sequence; an empty list starts at zero either way.
func NewOrders(min, max int64, nonEmpty bool, n int, pos Position) []int64 {
	orders := make([]int64, n)
	for i := range orders {
		switch {
		case !nonEmpty:
			orders[i] = int64(i)
		case pos == PositionStart:
			orders[i] = min - int64(n) + int64(i)
		default:
			orders[i] = max + 1 + int64(i)
		}
	}
	return orders
}

// ReorderPlan computes new order values for current (key to order). Keys in
// labels take 0..k-1 in sequence; unknown and repeated keys are ignored. The
// remaining keys follow in their previous relative order.
func ReorderPlan(current map[string]int64, labels []string) map[string]int64 {
	next := make(map[string]int64, len(current))
	var pos int64
	for _, key := range labels {
		if _, ok := current[key]; !ok {
			continue
		}
		if _, dup := next[key]; dup {
			continue
		}
		next[key] = pos
		pos++
	}

	rest := make([]string, 0, len(current)-len(next))
	for key := range current {
		if _, ok := next[key]; !ok {
			rest = append(rest, key)
		}
	}
	sort.Slice(rest, func(i, j int) bool {
		a, b := current[rest[i]], current[rest[j]]
		if a != b {
			return a < b
		}
		return rest[i] < rest[j]
	})
	for _, key := range rest {
		next[key] = pos
		pos++
	}
	return next
}

// MergedSourceTitle joins the distinct source titles of entries in first-seen
// order, or returns ManualAdjustmentTitle when there are none.
func MergedSourceTitle(entries []QuantityEntry) string {
	seen := make(map[string]bool)
	var titles []string
	for _, e := range entries {
		t := strings.TrimSpace(e.SourceRecipeTitle)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		titles = append(titles, t)
	}
	if len(titles) == 0 {
		return ManualAdjustmentTitle
	}
	return strings.Join(titles, ", ")
}

type OwnerList struct {
	OwnerID          string    `json:"ownerId"`
	OwnerLabel       string    `json:"ownerLabel"`
	OwnerDisplayName string    `json:"ownerDisplayName"`
	IsSelf           bool      `json:"isSelf"`
	State            ListState `json:"state"`
}

// WithState returns a copy of l carrying state. The receiver is not modified.
func (l *OwnerList) WithState(state ListState) *OwnerList {
	dup := *l
	dup.State = state
	return &dup
}

type ListsResponse struct {
	Lists []*OwnerList `json:"lists"`
}

type RenameListRequest struct {
	Label string `json:"label" validate:"required,min=1,max=100"`
}

type RenameListResponse struct {
	Label string `json:"label"`
}
