package services

import (
	"context"
	"reflect"
	"testing"
)

func TestBookmarkSave_PreservesLabelAndCount(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	if err := e.bookmarks.Save(ctx, "user-1", 42, strPtr("Lunch")); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := e.bookmarks.RecordUse(ctx, "user-1", 42); err != nil {
			t.Fatalf("RecordUse failed: %v", err)
		}
	}

	// Re-saving without a label keeps both label and counter
	if err := e.bookmarks.Save(ctx, "user-1", 42, nil); err != nil {
		t.Fatalf("Re-save failed: %v", err)
	}

	list, err := e.bookmarks.List(ctx, "user-1", "en")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("Expected 1 bookmark, got %d", len(list))
	}
	if list[0].Label == nil || *list[0].Label != "Lunch" {
		t.Errorf("Expected label Lunch, got %v", list[0].Label)
	}
	if list[0].UsedCount != 2 {
		t.Errorf("Expected used_count 2, got %d", list[0].UsedCount)
	}

	// A new label replaces the old one
	if err := e.bookmarks.Save(ctx, "user-1", 42, strPtr("Dinner")); err != nil {
		t.Fatalf("Re-save failed: %v", err)
	}
	list, _ = e.bookmarks.List(ctx, "user-1", "en")
	if list[0].Label == nil || *list[0].Label != "Dinner" {
		t.Errorf("Expected label Dinner, got %v", list[0].Label)
	}
}

func TestBookmarkSave_Validation(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	if err := e.bookmarks.Save(ctx, "", 1, nil); !IsBadRequest(err) {
		t.Errorf("Expected bad request for empty user, got %v", err)
	}
	if err := e.bookmarks.Save(ctx, "user-1", -3, nil); !IsBadRequest(err) {
		t.Errorf("Expected bad request for negative id, got %v", err)
	}
}

func TestBookmarkRecordUse_UnsavedIsNoop(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	if err := e.bookmarks.RecordUse(ctx, "user-1", 99); err != nil {
		t.Fatalf("RecordUse failed: %v", err)
	}
	if err := e.bookmarks.Unsave(ctx, "user-1", 99); err != nil {
		t.Fatalf("Unsave of missing bookmark failed: %v", err)
	}

	ids, err := e.bookmarks.SavedIDs(ctx, "user-1")
	if err != nil {
		t.Fatalf("SavedIDs failed: %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("Expected no bookmarks, got %v", ids)
	}
}

func TestBookmarkList_OrderAndJoin(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	cached := originPictogram(5, "apple", "food")
	if err := e.store.Upsert(ctx, "es", &cached, strPtr(e.client.RasterURL(5)), nil); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	for _, id := range []int{5, 8, 3} {
		if err := e.bookmarks.Save(ctx, "user-1", id, nil); err != nil {
			t.Fatalf("Save(%d) failed: %v", id, err)
		}
	}
	e.bookmarks.Save(ctx, "user-2", 77, nil)

	e.bookmarks.RecordUse(ctx, "user-1", 8)
	e.bookmarks.RecordUse(ctx, "user-1", 8)
	e.bookmarks.RecordUse(ctx, "user-1", 5)

	list, err := e.bookmarks.List(ctx, "user-1", "fr")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}

	got := make([]int, len(list))
	for i, sp := range list {
		got[i] = sp.ArasaacID
	}
	if want := []int{8, 5, 3}; !reflect.DeepEqual(got, want) {
		t.Fatalf("Expected order %v, got %v", want, got)
	}

	// Cached pictogram carries its metadata and language
	if list[1].Language != "es" || !reflect.DeepEqual(list[1].Keywords, []string{"apple"}) {
		t.Errorf("Expected joined metadata for 5, got %+v", list[1])
	}
	// Uncached pictograms fall back to the requested language and default license
	if list[0].Language != "fr" || len(list[0].Keywords) != 0 {
		t.Errorf("Expected empty metadata for uncached 8, got %+v", list[0])
	}
	if list[0].License != e.cfg.License {
		t.Errorf("Expected default license, got %q", list[0].License)
	}

	ids, err := e.bookmarks.SavedIDs(ctx, "user-1")
	if err != nil {
		t.Fatalf("SavedIDs failed: %v", err)
	}
	if want := []int{3, 5, 8}; !reflect.DeepEqual(ids, want) {
		t.Errorf("Expected ids %v, got %v", want, ids)
	}

	if err := e.bookmarks.Unsave(ctx, "user-1", 5); err != nil {
		t.Fatalf("Unsave failed: %v", err)
	}
	ids, _ = e.bookmarks.SavedIDs(ctx, "user-1")
	if want := []int{3, 8}; !reflect.DeepEqual(ids, want) {
		t.Errorf("Expected ids %v after unsave, got %v", want, ids)
	}
}
