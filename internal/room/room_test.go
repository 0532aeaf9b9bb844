package room

import (
	"encoding/json"
	"errors"
	"testing"

	"go.uber.org/zap"
)

type mapLoader struct {
	records map[string][]byte
	err     error
}

func (l *mapLoader) LoadContent(roomID string) ([]byte, error) {
	if l.err != nil {
		return nil, l.err
	}
	return l.records[roomID], nil
}

func newTestRegistry(limit int, loader ContentLoader) *Registry {
	return NewRegistry(DefaultDefinitions(), limit, loader, zap.NewNop())
}

func TestDefaultRoomSet(t *testing.T) {
	r := newTestRegistry(10, nil)

	ids := r.IDs()
	want := []string{"canvas", "journal", "novel"}
	if len(ids) != len(want) {
		t.Fatalf("Expected %d rooms, got %d", len(want), len(ids))
	}
	for i, id := range want {
		if ids[i] != id {
			t.Errorf("Expected room %q at index %d, got %q", id, i, ids[i])
		}
	}

	kind, err := r.Kind("canvas")
	if err != nil || kind != KindDrawing {
		t.Errorf("canvas should be a drawing room, got %v %v", kind, err)
	}
	for _, id := range []string{"novel", "journal"} {
		kind, err := r.Kind(id)
		if err != nil || kind != KindText {
			t.Errorf("%s should be a text room, got %v %v", id, kind, err)
		}
	}
}

func TestLoadPersistedContent(t *testing.T) {
	loader := &mapLoader{records: map[string][]byte{
		"canvas": []byte(`{"strokes":[{"x0":1,"y0":2,"x1":3,"y1":4,"color":"#000","width":2}]}`),
		"novel":  []byte(`{"text":"Chapter one."}`),
	}}
	r := newTestRegistry(10, loader)

	history, err := r.History("canvas")
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(history) != 1 || history[0].X0 != 1 {
		t.Errorf("Expected loaded stroke, got %v", history)
	}

	text, err := r.Text("novel")
	if err != nil {
		t.Fatalf("Text failed: %v", err)
	}
	if text != "Chapter one." {
		t.Errorf("Expected loaded text, got %q", text)
	}

	journal, _ := r.Text("journal")
	if journal != "" {
		t.Errorf("Room without a record should start empty, got %q", journal)
	}
}

func TestCorruptContentStartsEmpty(t *testing.T) {
	loader := &mapLoader{records: map[string][]byte{
		"canvas": []byte("not json at all"),
		"novel":  []byte("{broken"),
	}}
	r := newTestRegistry(10, loader)

	history, err := r.History("canvas")
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(history) != 0 {
		t.Errorf("Corrupt drawing record should fall back to empty, got %d strokes", len(history))
	}

	text, err := r.Text("novel")
	if err != nil {
		t.Fatalf("Text failed: %v", err)
	}
	if text != "" {
		t.Errorf("Corrupt text record should fall back to empty, got %q", text)
	}
}

func TestLoaderErrorStartsEmpty(t *testing.T) {
	loader := &mapLoader{err: errors.New("database locked")}
	r := newTestRegistry(10, loader)

	history, err := r.History("canvas")
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(history) != 0 {
		t.Errorf("Loader failure should fall back to empty, got %d strokes", len(history))
	}
}

func TestAppendStrokeEviction(t *testing.T) {
	r := newTestRegistry(3, nil)

	for i := 0; i < 5; i++ {
		if err := r.AppendStroke("canvas", Stroke{X0: float64(i)}); err != nil {
			t.Fatalf("AppendStroke failed: %v", err)
		}
	}

	history, _ := r.History("canvas")
	if len(history) != 3 {
		t.Fatalf("Expected history bounded to 3, got %d", len(history))
	}
	for i, want := range []float64{2, 3, 4} {
		if history[i].X0 != want {
			t.Errorf("Position %d: expected x0=%v, got %v", i, want, history[i].X0)
		}
	}
}

func TestWrongKindRejected(t *testing.T) {
	r := newTestRegistry(10, nil)

	if err := r.AppendStroke("novel", Stroke{}); !errors.Is(err, ErrWrongKind) {
		t.Errorf("AppendStroke on a text room: expected ErrWrongKind, got %v", err)
	}
	if err := r.ClearStrokes("novel"); !errors.Is(err, ErrWrongKind) {
		t.Errorf("ClearStrokes on a text room: expected ErrWrongKind, got %v", err)
	}
	if err := r.SetText("canvas", "hi"); !errors.Is(err, ErrWrongKind) {
		t.Errorf("SetText on a drawing room: expected ErrWrongKind, got %v", err)
	}
	if _, err := r.Text("canvas"); !errors.Is(err, ErrWrongKind) {
		t.Errorf("Text on a drawing room: expected ErrWrongKind, got %v", err)
	}
	if _, err := r.History("novel"); !errors.Is(err, ErrWrongKind) {
		t.Errorf("History on a text room: expected ErrWrongKind, got %v", err)
	}
}

func TestUnknownRoomRejected(t *testing.T) {
	r := newTestRegistry(10, nil)

	if err := r.AppendStroke("attic", Stroke{}); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
	if _, err := r.MarshalContent("attic"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
	if r.Exists("attic") {
		t.Error("Exists should be false for an unregistered id")
	}
}

func TestPresenceUpsertAndRemove(t *testing.T) {
	r := newTestRegistry(10, nil)

	if err := r.SetCursor("canvas", "ada", Cursor{X: 1, Y: 2}); err != nil {
		t.Fatalf("SetCursor failed: %v", err)
	}
	// Same name supersedes the old entry.
	if err := r.SetCursor("canvas", "ada", Cursor{X: 9, Y: 9}); err != nil {
		t.Fatalf("SetCursor failed: %v", err)
	}

	presence, err := r.Presence("canvas")
	if err != nil {
		t.Fatalf("Presence failed: %v", err)
	}
	if len(presence) != 1 || presence["ada"].X != 9 {
		t.Errorf("Expected single superseded entry, got %v", presence)
	}

	had, err := r.RemoveCursor("canvas", "ada")
	if err != nil || !had {
		t.Errorf("Expected removal of an existing entry, got had=%v err=%v", had, err)
	}
	had, err = r.RemoveCursor("canvas", "ada")
	if err != nil || had {
		t.Errorf("Second removal should report no entry, got had=%v err=%v", had, err)
	}
}

func TestPresenceSnapshotIsACopy(t *testing.T) {
	r := newTestRegistry(10, nil)
	r.SetCursor("canvas", "ada", Cursor{X: 1})

	snapshot, _ := r.Presence("canvas")
	snapshot["grace"] = Cursor{}

	again, _ := r.Presence("canvas")
	if len(again) != 1 {
		t.Error("Mutating a snapshot must not affect the registry")
	}
}

func TestHistoryIsACopy(t *testing.T) {
	r := newTestRegistry(10, nil)
	r.AppendStroke("canvas", Stroke{X0: 1})

	history, _ := r.History("canvas")
	history[0].X0 = 99

	again, _ := r.History("canvas")
	if again[0].X0 != 1 {
		t.Error("Mutating a history copy must not affect the registry")
	}
}

func TestMarshalContentRoundTrip(t *testing.T) {
	r := newTestRegistry(10, nil)
	r.AppendStroke("canvas", Stroke{X0: 1, Y0: 2, X1: 3, Y1: 4, Color: "#fff", Width: 2, Erase: true})
	r.SetText("novel", "draft")

	canvasData, err := r.MarshalContent("canvas")
	if err != nil {
		t.Fatalf("MarshalContent failed: %v", err)
	}
	novelData, err := r.MarshalContent("novel")
	if err != nil {
		t.Fatalf("MarshalContent failed: %v", err)
	}

	// A fresh registry loading the marshaled content sees the same state.
	loader := &mapLoader{records: map[string][]byte{
		"canvas": canvasData,
		"novel":  novelData,
	}}
	reloaded := newTestRegistry(10, loader)

	history, _ := reloaded.History("canvas")
	if len(history) != 1 || !history[0].Erase || history[0].Color != "#fff" {
		t.Errorf("Reloaded history mismatch: %v", history)
	}
	text, _ := reloaded.Text("novel")
	if text != "draft" {
		t.Errorf("Reloaded text mismatch: %q", text)
	}
}

func TestMarshalEmptyDrawingIsNotNull(t *testing.T) {
	r := newTestRegistry(10, nil)

	data, err := r.MarshalContent("canvas")
	if err != nil {
		t.Fatalf("MarshalContent failed: %v", err)
	}

	var decoded map[string]json.RawMessage
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Failed to decode: %v", err)
	}
	if string(decoded["strokes"]) != "[]" {
		t.Errorf("Empty history should serialize as [], got %s", decoded["strokes"])
	}
}
