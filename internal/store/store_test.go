package store

import (
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()

	dir, err := os.MkdirTemp("", "atelier-store-test")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	st, err := New(filepath.Join(dir, "test.db"), zap.NewNop())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	return st
}

func TestSaveAndLoadContent(t *testing.T) {
	st := setupTestStore(t)

	content := []byte(`{"strokes":[{"x0":1,"y0":2,"x1":3,"y1":4,"color":"#000","width":2}]}`)
	if err := st.SaveContent("canvas", content); err != nil {
		t.Fatalf("SaveContent failed: %v", err)
	}

	loaded, err := st.LoadContent("canvas")
	if err != nil {
		t.Fatalf("LoadContent failed: %v", err)
	}
	if string(loaded) != string(content) {
		t.Errorf("Loaded content mismatch: got %s, want %s", loaded, content)
	}
}

func TestSaveContentOverwrites(t *testing.T) {
	st := setupTestStore(t)

	if err := st.SaveContent("novel", []byte(`{"text":"first"}`)); err != nil {
		t.Fatalf("SaveContent failed: %v", err)
	}
	if err := st.SaveContent("novel", []byte(`{"text":"second"}`)); err != nil {
		t.Fatalf("SaveContent failed: %v", err)
	}

	loaded, err := st.LoadContent("novel")
	if err != nil {
		t.Fatalf("LoadContent failed: %v", err)
	}
	if string(loaded) != `{"text":"second"}` {
		t.Errorf("Expected the later write to win, got %s", loaded)
	}
}

func TestLoadMissingContentReturnsNil(t *testing.T) {
	st := setupTestStore(t)

	loaded, err := st.LoadContent("never-written")
	if err != nil {
		t.Fatalf("LoadContent failed: %v", err)
	}
	if loaded != nil {
		t.Errorf("Expected nil for a missing record, got %s", loaded)
	}
}

func TestSaveEmptyContent(t *testing.T) {
	st := setupTestStore(t)

	// A clear persists the empty-history shape, not a deleted record.
	if err := st.SaveContent("canvas", []byte(`{"strokes":[]}`)); err != nil {
		t.Fatalf("SaveContent failed: %v", err)
	}

	loaded, err := st.LoadContent("canvas")
	if err != nil {
		t.Fatalf("LoadContent failed: %v", err)
	}
	if string(loaded) != `{"strokes":[]}` {
		t.Errorf("Expected the empty shape back, got %s", loaded)
	}
}

func TestPublishedWorkLifecycle(t *testing.T) {
	st := setupTestStore(t)

	work, err := st.AddPublishedWork("Sunset Study", "canvas", `{"strokes":[]}`, "ada", "drawing")
	if err != nil {
		t.Fatalf("AddPublishedWork failed: %v", err)
	}
	if work.ID == 0 {
		t.Error("Published work should receive an id")
	}
	if work.Title != "Sunset Study" || work.Author != "ada" || work.Kind != "drawing" {
		t.Errorf("Unexpected work fields: %+v", work)
	}
	if work.CreatedAt.IsZero() {
		t.Error("Published work should carry a creation timestamp")
	}

	fetched, err := st.GetPublishedWork(work.ID)
	if err != nil {
		t.Fatalf("GetPublishedWork failed: %v", err)
	}
	if fetched == nil || fetched.Title != work.Title {
		t.Errorf("Fetched work mismatch: %+v", fetched)
	}

	missing, err := st.GetPublishedWork(9999)
	if err != nil {
		t.Fatalf("GetPublishedWork failed: %v", err)
	}
	if missing != nil {
		t.Error("Expected nil for a missing work")
	}
}

func TestListPublishedWorksNewestFirst(t *testing.T) {
	st := setupTestStore(t)

	for _, title := range []string{"first", "second", "third"} {
		if _, err := st.AddPublishedWork(title, "novel", `{"text":""}`, "", "text"); err != nil {
			t.Fatalf("AddPublishedWork failed: %v", err)
		}
	}

	works, err := st.ListPublishedWorks(10, 0)
	if err != nil {
		t.Fatalf("ListPublishedWorks failed: %v", err)
	}
	if len(works) != 3 {
		t.Fatalf("Expected 3 works, got %d", len(works))
	}
	if works[0].Title != "third" || works[2].Title != "first" {
		t.Errorf("Expected newest first, got %q..%q", works[0].Title, works[2].Title)
	}

	page, err := st.ListPublishedWorks(1, 1)
	if err != nil {
		t.Fatalf("ListPublishedWorks failed: %v", err)
	}
	if len(page) != 1 || page[0].Title != "second" {
		t.Errorf("Pagination mismatch: %+v", page)
	}
}

func TestGetStats(t *testing.T) {
	st := setupTestStore(t)

	st.SaveContent("canvas", []byte(`{"strokes":[]}`))
	st.SaveContent("novel", []byte(`{"text":""}`))
	st.AddPublishedWork("one", "canvas", "{}", "", "drawing")

	stats, err := st.GetStats()
	if err != nil {
		t.Fatalf("GetStats failed: %v", err)
	}
	if stats["persisted_rooms"] != 2 {
		t.Errorf("Expected 2 persisted rooms, got %v", stats["persisted_rooms"])
	}
	if stats["published_works"] != 1 {
		t.Errorf("Expected 1 published work, got %v", stats["published_works"])
	}
}
