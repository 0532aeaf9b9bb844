package room

import (
	"encoding/json"
	"errors"
	"sort"
	"sync"

	"go.uber.org/zap"
)

var (
	// ErrNotFound is returned for operations against an unregistered room id.
	ErrNotFound = errors.New("room not found")

	// ErrWrongKind is returned when an operation does not match the room's content kind.
	ErrWrongKind = errors.New("operation does not match room kind")
)

// Kind distinguishes the two content shapes a room can hold.
type Kind int

const (
	KindDrawing Kind = iota
	KindText
)

func (k Kind) String() string {
	if k == KindDrawing {
		return "drawing"
	}
	return "text"
}

// Stroke is one immutable line segment in a drawing room's history.
type Stroke struct {
	X0    float64 `json:"x0"`
	Y0    float64 `json:"y0"`
	X1    float64 `json:"x1"`
	Y1    float64 `json:"y1"`
	Color string  `json:"color"`
	Width float64 `json:"width"`
	Erase bool    `json:"erase,omitempty"`
}

// Cursor is a participant's transient presence indicator. IsText selects
// between the text caret (Offset) and the canvas pointer (X, Y)
// representations. Never persisted.
type Cursor struct {
	IsText bool    `json:"isText"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Offset int     `json:"offset"`
	Color  string  `json:"color,omitempty"`
	Width  float64 `json:"width,omitempty"`
}

// Definition names a room and fixes its content kind for life.
type Definition struct {
	ID   string
	Kind Kind
}

// DefaultDefinitions returns the built-in room set: one shared canvas and
// two shared text documents.
func DefaultDefinitions() []Definition {
	return []Definition{
		{ID: "canvas", Kind: KindDrawing},
		{ID: "novel", Kind: KindText},
		{ID: "journal", Kind: KindText},
	}
}

// ContentLoader supplies persisted room content at startup. A nil payload
// with a nil error means no record exists yet.
type ContentLoader interface {
	LoadContent(roomID string) ([]byte, error)
}

type roomState struct {
	id       string
	kind     Kind
	strokes  []Stroke
	text     string
	presence map[string]Cursor
}

// Persisted content shapes. One record per room, full content, no versioning.
type drawingContent struct {
	Strokes []Stroke `json:"strokes"`
}

type textContent struct {
	Text string `json:"text"`
}

// Registry is the in-memory table of rooms and the single source of truth
// while the process runs. The hub dispatcher is the only mutator; HTTP
// readers take the read lock.
type Registry struct {
	mu           sync.RWMutex
	rooms        map[string]*roomState
	historyLimit int
	logger       *zap.Logger
}

// NewRegistry builds the fixed room set, loading each room's content from the
// loader. A missing or undecodable record falls back to empty content.
func NewRegistry(defs []Definition, historyLimit int, loader ContentLoader, logger *zap.Logger) *Registry {
	r := &Registry{
		rooms:        make(map[string]*roomState, len(defs)),
		historyLimit: historyLimit,
		logger:       logger,
	}

	for _, def := range defs {
		state := &roomState{
			id:       def.ID,
			kind:     def.Kind,
			presence: make(map[string]Cursor),
		}
		r.loadContent(state, loader)
		r.rooms[def.ID] = state
	}

	return r
}

func (r *Registry) loadContent(state *roomState, loader ContentLoader) {
	if loader == nil {
		return
	}

	data, err := loader.LoadContent(state.id)
	if err != nil {
		r.logger.Warn("failed to load room content, starting empty",
			zap.String("room", state.id), zap.Error(err))
		return
	}
	if data == nil {
		return
	}

	switch state.kind {
	case KindDrawing:
		var content drawingContent
		if err := json.Unmarshal(data, &content); err != nil {
			r.logger.Warn("undecodable drawing content, starting empty",
				zap.String("room", state.id), zap.Error(err))
			return
		}
		state.strokes = content.Strokes
	case KindText:
		var content textContent
		if err := json.Unmarshal(data, &content); err != nil {
			r.logger.Warn("undecodable text content, starting empty",
				zap.String("room", state.id), zap.Error(err))
			return
		}
		state.text = content.Text
	}
}

// IDs returns the registered room ids in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.rooms))
	for id := range r.rooms {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Kind reports the content kind of a room.
func (r *Registry) Kind(roomID string) (Kind, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	state, ok := r.rooms[roomID]
	if !ok {
		return 0, ErrNotFound
	}
	return state.kind, nil
}

// Exists reports whether a room id is registered.
func (r *Registry) Exists(roomID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.rooms[roomID]
	return ok
}

// HistoryLimit returns the configured drawing history bound.
func (r *Registry) HistoryLimit() int {
	return r.historyLimit
}

// AppendStroke appends a segment to a drawing room's history, evicting the
// oldest segments when the bound is exceeded.
func (r *Registry) AppendStroke(roomID string, s Stroke) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	state, ok := r.rooms[roomID]
	if !ok {
		return ErrNotFound
	}
	if state.kind != KindDrawing {
		return ErrWrongKind
	}

	state.strokes = append(state.strokes, s)
	if excess := len(state.strokes) - r.historyLimit; excess > 0 {
		state.strokes = append(state.strokes[:0], state.strokes[excess:]...)
	}
	return nil
}

// ClearStrokes empties a drawing room's history.
func (r *Registry) ClearStrokes(roomID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	state, ok := r.rooms[roomID]
	if !ok {
		return ErrNotFound
	}
	if state.kind != KindDrawing {
		return ErrWrongKind
	}

	state.strokes = nil
	return nil
}

// History returns a copy of a drawing room's stroke history in replay order.
func (r *Registry) History(roomID string) ([]Stroke, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	state, ok := r.rooms[roomID]
	if !ok {
		return nil, ErrNotFound
	}
	if state.kind != KindDrawing {
		return nil, ErrWrongKind
	}

	history := make([]Stroke, len(state.strokes))
	copy(history, state.strokes)
	return history, nil
}

// SetText replaces a text room's document wholesale. Last writer wins.
func (r *Registry) SetText(roomID, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	state, ok := r.rooms[roomID]
	if !ok {
		return ErrNotFound
	}
	if state.kind != KindText {
		return ErrWrongKind
	}

	state.text = text
	return nil
}

// Text returns a text room's current document.
func (r *Registry) Text(roomID string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	state, ok := r.rooms[roomID]
	if !ok {
		return "", ErrNotFound
	}
	if state.kind != KindText {
		return "", ErrWrongKind
	}
	return state.text, nil
}

// SetCursor upserts a participant's presence entry. Keyed by display name,
// so a reconnect under the same name supersedes the old entry.
func (r *Registry) SetCursor(roomID, name string, c Cursor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	state, ok := r.rooms[roomID]
	if !ok {
		return ErrNotFound
	}
	state.presence[name] = c
	return nil
}

// RemoveCursor deletes a presence entry, reporting whether one existed.
func (r *Registry) RemoveCursor(roomID, name string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	state, ok := r.rooms[roomID]
	if !ok {
		return false, ErrNotFound
	}
	_, present := state.presence[name]
	delete(state.presence, name)
	return present, nil
}

// Presence returns a copy of a room's presence map.
func (r *Registry) Presence(roomID string) (map[string]Cursor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	state, ok := r.rooms[roomID]
	if !ok {
		return nil, ErrNotFound
	}

	snapshot := make(map[string]Cursor, len(state.presence))
	for name, cursor := range state.presence {
		snapshot[name] = cursor
	}
	return snapshot, nil
}

// MarshalContent serializes a room's content in its persisted shape. The
// same value backs the HTTP content query, so reads always see the freshest
// write.
func (r *Registry) MarshalContent(roomID string) ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	state, ok := r.rooms[roomID]
	if !ok {
		return nil, ErrNotFound
	}

	switch state.kind {
	case KindDrawing:
		strokes := state.strokes
		if strokes == nil {
			strokes = []Stroke{}
		}
		return json.Marshal(drawingContent{Strokes: strokes})
	default:
		return json.Marshal(textContent{Text: state.text})
	}
}
