package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"shoplist-sync-server/internal/domain"
)

func TestListService_GetLists(t *testing.T) {
	f := newBatchFixture(t)
	ctx := context.Background()
	f.access.grant("alice", "bob")
	f.access.names["alice"] = "Alice"

	if _, err := f.service.AddItems(ctx, "alice", &domain.AddItemsRequest{Ingredients: ingredients("milk")}); err != nil {
		t.Fatal(err)
	}

	resp, err := f.service.GetLists(ctx, "bob")
	if err != nil {
		t.Fatalf("GetLists() error = %v", err)
	}
	if len(resp.Lists) != 2 {
		t.Fatalf("lists = %d, want 2", len(resp.Lists))
	}

	own, shared := resp.Lists[0], resp.Lists[1]
	if own.OwnerID != "bob" || !own.IsSelf || own.OwnerLabel != ownLabel {
		t.Errorf("own list = %+v", own)
	}
	if shared.OwnerID != "alice" || shared.IsSelf || shared.OwnerDisplayName != "Alice" || shared.OwnerLabel != "Alice's list" {
		t.Errorf("shared list = %+v", shared)
	}
	if _, ok := shared.State["milk"]; !ok {
		t.Error("shared list is missing milk")
	}
	if own.State == nil {
		t.Error("empty list should have a non-nil state")
	}
}

func TestListService_AddItemsReturnsInserted(t *testing.T) {
	f := newBatchFixture(t)
	n, err := f.service.AddItems(context.Background(), "alice", &domain.AddItemsRequest{
		Ingredients: ingredients("milk", "", "2 eggs"),
	})
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("inserted = %d, want 2", n)
	}
}

func TestListService_Patch(t *testing.T) {
	f := newBatchFixture(t)
	ctx := context.Background()
	fixed := time.Date(2024, 2, 2, 9, 0, 0, 0, time.UTC)
	f.service.now = func() time.Time { return fixed }

	if _, err := f.service.AddItems(ctx, "alice", &domain.AddItemsRequest{Ingredients: ingredients("milk", "bread")}); err != nil {
		t.Fatal(err)
	}

	crossed := true
	if err := f.service.Patch(ctx, "alice", &domain.PatchListRequest{Label: "milk", Crossed: &crossed}); err != nil {
		t.Fatalf("Patch(cross) error = %v", err)
	}
	if at := f.state(t, "alice")["milk"].CrossedOffAt; at == nil || !at.Equal(fixed) {
		t.Errorf("crossedOffAt = %v, want %v", at, fixed)
	}

	uncrossed := false
	if err := f.service.Patch(ctx, "alice", &domain.PatchListRequest{Label: "milk", Crossed: &uncrossed}); err != nil {
		t.Fatal(err)
	}
	if at := f.state(t, "alice")["milk"].CrossedOffAt; at != nil {
		t.Errorf("crossedOffAt = %v, want nil", at)
	}

	if err := f.service.Patch(ctx, "alice", &domain.PatchListRequest{Order: []string{"bread"}}); err != nil {
		t.Fatal(err)
	}
	if keys := f.state(t, "alice").SortedKeys(); keys[0] != "bread" {
		t.Errorf("order = %v", keys)
	}

	err := f.service.Patch(ctx, "alice", &domain.PatchListRequest{Label: "cheese", Crossed: &crossed})
	var notFound *NotFoundError
	if !errors.As(err, &notFound) {
		t.Errorf("Patch(missing) error = %v, want NotFoundError", err)
	}

	var verr *ValidationError
	if err := f.service.Patch(ctx, "alice", &domain.PatchListRequest{}); !errors.As(err, &verr) {
		t.Errorf("Patch(empty) error = %v, want ValidationError", err)
	}
}

func TestListService_Delete(t *testing.T) {
	f := newBatchFixture(t)
	ctx := context.Background()
	if _, err := f.service.AddItems(ctx, "alice", &domain.AddItemsRequest{Ingredients: ingredients("milk", "bread")}); err != nil {
		t.Fatal(err)
	}

	if err := f.service.Delete(ctx, "alice", "", "milk"); err != nil {
		t.Fatal(err)
	}
	if state := f.state(t, "alice"); len(state) != 1 {
		t.Errorf("after remove = %v", state.SortedKeys())
	}
	if err := f.service.Delete(ctx, "alice", "alice", ""); err != nil {
		t.Fatal(err)
	}
	if state := f.state(t, "alice"); len(state) != 0 {
		t.Errorf("after clear = %v", state.SortedKeys())
	}
}

func TestListService_RenameList(t *testing.T) {
	f := newBatchFixture(t)
	ctx := context.Background()

	label, err := f.service.RenameList(ctx, "alice", "  Weekend BBQ ")
	if err != nil || label != "Weekend BBQ" {
		t.Fatalf("RenameList() = %q, %v", label, err)
	}
	resp, _ := f.service.GetLists(ctx, "alice")
	if resp.Lists[0].OwnerLabel != "Weekend BBQ" {
		t.Errorf("label = %q", resp.Lists[0].OwnerLabel)
	}

	var verr *ValidationError
	if _, err := f.service.RenameList(ctx, "alice", "   "); !errors.As(err, &verr) {
		t.Errorf("RenameList(blank) error = %v", err)
	}
}
