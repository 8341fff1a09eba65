package liststate

import (
	"testing"
	"time"

	"shoplist-sync-server/internal/domain"
)

func ing(texts ...string) []domain.IngredientInput {
	out := make([]domain.IngredientInput, len(texts))
	for i, t := range texts {
		out[i] = domain.IngredientInput{Text: t}
	}
	return out
}

func newStore() *Store {
	s := New(nil)
	s.SetSelf("me")
	s.Replace([]*domain.OwnerList{
		{OwnerID: "me", IsSelf: true, State: domain.ListState{}},
		{OwnerID: "friend", State: domain.ListState{}},
	})
	return s
}

func TestStore_AddItems_Positions(t *testing.T) {
	s := newStore()
	s.AddItems("me", ing("milk", "2 eggs"), domain.PositionEnd)

	state := s.Get("me").State
	if state["milk"].Order != 0 || state["egg"].Order != 1 {
		t.Fatalf("first add orders = %d, %d; want 0, 1", state["milk"].Order, state["egg"].Order)
	}

	s.AddItems("me", ing("bread"), domain.PositionEnd)
	s.AddItems("me", ing("apples", "butter"), domain.PositionStart)

	state = s.Get("me").State
	for _, key := range []string{"milk", "egg"} {
		if state["bread"].Order <= state[key].Order {
			t.Errorf("appended bread (%d) not after %s (%d)", state["bread"].Order, key, state[key].Order)
		}
		if state["apple"].Order >= state[key].Order || state["butter"].Order >= state[key].Order {
			t.Errorf("prepended items not before %s", key)
		}
	}
	if state["apple"].Order >= state["butter"].Order {
		t.Errorf("prepend should keep input order: apple=%d butter=%d", state["apple"].Order, state["butter"].Order)
	}
}

func TestStore_AddItems_SkipsUnparseable(t *testing.T) {
	s := newStore()
	before := s.Get("me")
	if s.AddItems("me", ing("", "(to taste)"), domain.PositionEnd) {
		t.Fatal("AddItems reported a change for unparseable input")
	}
	if s.Get("me") != before {
		t.Error("owner list was reallocated")
	}
}

func TestStore_AddItems_LabelCollisionMerge(t *testing.T) {
	s := newStore()
	s.AddItems("me", []domain.IngredientInput{{Text: "1 tbsp olive oil", SourceRecipeID: "r1", SourceRecipeTitle: "Salad"}}, domain.PositionEnd)
	s.AddItems("me", []domain.IngredientInput{{Text: "2 tbsp olive oil", SourceRecipeID: "r2", SourceRecipeTitle: "Pasta"}}, domain.PositionEnd)

	state := s.Get("me").State
	if len(state) != 1 {
		t.Fatalf("got %d records, want 1", len(state))
	}
	rec := state["olive oil"]
	if len(rec.Entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(rec.Entries))
	}
	if rec.Entries[0].QuantityText != "1 tbsp" || rec.Entries[1].QuantityText != "2 tbsp" {
		t.Errorf("entries = %+v", rec.Entries)
	}
}

func TestStore_CrossOffClearsOnReAdd(t *testing.T) {
	s := newStore()
	s.AddItems("me", ing("milk"), domain.PositionEnd)
	if _, ok := s.Cross("me", "milk", true); !ok {
		t.Fatal("Cross returned false")
	}
	if s.Get("me").State["milk"].CrossedOffAt == nil {
		t.Fatal("milk should be crossed off")
	}

	s.AddItems("me", ing("1 gallon milk"), domain.PositionEnd)
	if at := s.Get("me").State["milk"].CrossedOffAt; at != nil {
		t.Errorf("crossedOffAt = %v, want nil", at)
	}
}

func TestStore_ReorderItems(t *testing.T) {
	s := newStore()
	s.AddItems("me", ing("a1", "b2", "c3", "d4"), domain.PositionEnd)

	if !s.ReorderItems("me", []string{"c3", "a1"}) {
		t.Fatal("first reorder should change state")
	}
	got := s.Get("me").State.SortedKeys()
	want := []string{"c3", "a1", "b2", "d4"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}

	first := s.Get("me")
	if s.ReorderItems("me", []string{"c3", "a1"}) {
		t.Error("repeating the same reorder reported a change")
	}
	if s.Get("me") != first {
		t.Error("repeating the same reorder reallocated the list")
	}
}

func TestStore_MutationsLeaveOtherOwnersAlone(t *testing.T) {
	s := newStore()
	s.AddItems("friend", ing("rice"), domain.PositionEnd)
	friend := s.Get("friend")
	rice := friend.State["rice"]

	s.AddItems("me", ing("milk", "bread"), domain.PositionEnd)
	s.RemoveItem("me", "bread")
	s.Cross("me", "milk", true)
	s.ClearList("me")

	if s.Get("friend") != friend {
		t.Error("friend list was reallocated by edits to another owner")
	}
	if s.Get("friend").State["rice"] != rice {
		t.Error("friend record was reallocated")
	}
}

func TestStore_UnchangedRecordsKeepPointers(t *testing.T) {
	s := newStore()
	s.AddItems("me", ing("milk", "bread"), domain.PositionEnd)
	bread := s.Get("me").State["bread"]

	s.AddItems("me", ing("more milk"), domain.PositionEnd)
	s.Cross("me", "milk", true)

	if s.Get("me").State["bread"] != bread {
		t.Error("untouched record was reallocated")
	}
}

func TestStore_UpdateQuantity(t *testing.T) {
	s := newStore()
	s.AddItems("me", []domain.IngredientInput{
		{Text: "1 cup flour", SourceRecipeTitle: "Bread"},
		{Text: "2 cups flour", SourceRecipeTitle: "Cake"},
		{Text: "1 cup flour", SourceRecipeTitle: "Bread"},
	}, domain.PositionEnd)
	s.Cross("me", "flour", true)

	prev, next, ok := s.UpdateQuantity("me", "Flour", "5 cups")
	if !ok {
		t.Fatal("UpdateQuantity returned false")
	}
	if len(prev.Entries) != 3 {
		t.Errorf("prev entries = %d, want 3", len(prev.Entries))
	}
	if len(next.Entries) != 1 {
		t.Fatalf("next entries = %d, want 1", len(next.Entries))
	}
	e := next.Entries[0]
	if e.QuantityText != "5 cups" || e.MeasureText != "cups" || e.AmountValue == nil || *e.AmountValue != 5 {
		t.Errorf("entry = %+v", e)
	}
	if e.SourceRecipeTitle != "Bread, Cake" {
		t.Errorf("SourceRecipeTitle = %q, want %q", e.SourceRecipeTitle, "Bread, Cake")
	}
	if next.CrossedOffAt == nil {
		t.Error("quantity override should keep cross-off")
	}

	_, next, _ = s.UpdateQuantity("me", "flour", "1 bag")
	if next.Entries[0].SourceRecipeTitle != "Bread, Cake" {
		t.Errorf("second override title = %q", next.Entries[0].SourceRecipeTitle)
	}

	s.AddItems("me", ing("salt"), domain.PositionEnd)
	_, next, _ = s.UpdateQuantity("me", "salt", "a pinch")
	if next.Entries[0].SourceRecipeTitle != domain.ManualAdjustmentTitle {
		t.Errorf("manual title = %q", next.Entries[0].SourceRecipeTitle)
	}

	if _, _, ok := s.UpdateQuantity("me", "pepper", "1"); ok {
		t.Error("UpdateQuantity on a missing label should fail")
	}
}

func TestStore_RestoreRecord(t *testing.T) {
	s := newStore()
	s.AddItems("me", ing("2 cups flour"), domain.PositionEnd)
	prev, next, _ := s.UpdateQuantity("me", "flour", "9 cups")

	if !s.RestoreRecord("me", "flour", next, prev) {
		t.Fatal("RestoreRecord returned false")
	}
	if s.Get("me").State["flour"] != prev {
		t.Error("previous record not restored")
	}

	_, next, _ = s.UpdateQuantity("me", "flour", "3 cups")
	s.AddItems("me", ing("1 cup flour"), domain.PositionEnd)
	if s.RestoreRecord("me", "flour", next, prev) {
		t.Error("restore should not clobber a newer local edit")
	}
}

func TestStore_SetCrossedOffNoop(t *testing.T) {
	s := newStore()
	s.AddItems("me", ing("milk"), domain.PositionEnd)
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	if !s.SetCrossedOff("me", "milk", &at) {
		t.Fatal("first cross-off should change state")
	}
	same := at
	if s.SetCrossedOff("me", "milk", &same) {
		t.Error("crossing off at the same instant reported a change")
	}
	if s.SetCrossedOff("me", "bread", &at) {
		t.Error("crossing off a missing label reported a change")
	}
}

func TestStore_AddCreatesUnknownOwner(t *testing.T) {
	s := New(nil)
	s.SetSelf("me")
	s.AddItems("me", ing("milk"), domain.PositionStart)
	l := s.Get("me")
	if l == nil || !l.IsSelf {
		t.Fatalf("list = %+v, want self list", l)
	}
	if l.State["milk"].Order != 0 {
		t.Errorf("order = %d, want 0", l.State["milk"].Order)
	}
}

func TestStore_Apply(t *testing.T) {
	s := newStore()
	ops := []domain.Operation{
		domain.AddItemsOp("me", ing("milk", "bread", "eggs"), domain.PositionEnd),
		domain.RemoveItemOp("me", "bread"),
		domain.ReorderItemsOp("me", []string{"egg", "milk"}),
	}
	for _, op := range ops {
		s.Apply(op)
	}
	got := s.Get("me").State.SortedKeys()
	if len(got) != 2 || got[0] != "egg" || got[1] != "milk" {
		t.Errorf("keys = %v", got)
	}
	if !s.Apply(domain.ClearListOp("me")) || len(s.Get("me").State) != 0 {
		t.Error("clear did not empty the list")
	}
}
