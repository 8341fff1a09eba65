package syncengine

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"time"

	"shoplist-sync-server/internal/domain"
)

// Notice tells the user that somebody else changed a list.
type Notice struct {
	OwnerID    string    `json:"ownerId"`
	OwnerLabel string    `json:"ownerLabel"`
	IsSelf     bool      `json:"isSelf"`
	At         time.Time `json:"at"`
}

type signedEntry struct {
	QuantityText      string   `json:"q"`
	AmountValue       *float64 `json:"a"`
	MeasureText       string   `json:"m"`
	SourceRecipeID    string   `json:"r"`
	SourceRecipeTitle string   `json:"t"`
}

type signedRecord struct {
	Key          string        `json:"k"`
	Label        string        `json:"l"`
	Order        int64         `json:"o"`
	CrossedOffAt *int64        `json:"x"`
	Entries      []signedEntry `json:"e"`
}

// Signature is a digest of a list's content that does not depend on map
// iteration order or on ids, which differ between a local optimistic copy
// and the server's copy of the same entries.
func Signature(state domain.ListState) string {
	keys := make([]string, 0, len(state))
	for k := range state {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	records := make([]signedRecord, 0, len(keys))
	for _, k := range keys {
		rec := state[k]
		sr := signedRecord{Key: k, Label: rec.Label, Order: rec.Order}
		if rec.CrossedOffAt != nil {
			ms := rec.CrossedOffAt.UnixMilli()
			sr.CrossedOffAt = &ms
		}
		for _, e := range rec.Entries {
			sr.Entries = append(sr.Entries, signedEntry{
				QuantityText:      e.QuantityText,
				AmountValue:       e.AmountValue,
				MeasureText:       e.MeasureText,
				SourceRecipeID:    e.SourceRecipeID,
				SourceRecipeTitle: e.SourceRecipeTitle,
			})
		}
		records = append(records, sr)
	}

	raw, _ := json.Marshal(records)
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// noticeTracker remembers the last server signature per owner. Guarded by
// the engine mutex.
type noticeTracker struct {
	grace      time.Duration
	signatures map[string]string
	ownWrites  map[string]bool
	notices    map[string]Notice
}

func newNoticeTracker(grace time.Duration) *noticeTracker {
	t := &noticeTracker{grace: grace}
	t.reset()
	return t
}

func (t *noticeTracker) reset() {
	t.signatures = make(map[string]string)
	t.ownWrites = make(map[string]bool)
	t.notices = make(map[string]Notice)
}

// ownWrite records that the server accepted a write of ours for owner, so
// the next change in its signature is our own echo.
func (t *noticeTracker) ownWrite(ownerID string) {
	t.ownWrites[ownerID] = true
}

// observe records the fetched copy of list and raises a notice when its
// content changed since the last observation and the change cannot be ours.
// The first observation of an owner only primes its signature.
func (t *noticeTracker) observe(list *domain.OwnerList, now time.Time, pending bool, lastLocal time.Time) bool {
	sig := Signature(list.State)
	prev, primed := t.signatures[list.OwnerID]
	t.signatures[list.OwnerID] = sig

	own := t.ownWrites[list.OwnerID]
	delete(t.ownWrites, list.OwnerID)

	if !primed || prev == sig || pending || own {
		return false
	}
	if !lastLocal.IsZero() && now.Sub(lastLocal) < t.grace {
		return false
	}

	t.notices[list.OwnerID] = Notice{
		OwnerID:    list.OwnerID,
		OwnerLabel: list.OwnerLabel,
		IsSelf:     list.IsSelf,
		At:         now,
	}
	return true
}

func (t *noticeTracker) ack(ownerID string) bool {
	if _, ok := t.notices[ownerID]; !ok {
		return false
	}
	delete(t.notices, ownerID)
	return true
}

func (t *noticeTracker) list() []Notice {
	out := make([]Notice, 0, len(t.notices))
	for _, n := range t.notices {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].At.Equal(out[j].At) {
			return out[i].At.Before(out[j].At)
		}
		return out[i].OwnerID < out[j].OwnerID
	})
	return out
}
