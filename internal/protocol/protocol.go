package protocol

import "github.com/atelier-studio/atelier/internal/room"

// Inbound message types.
const (
	TypeJoin         = "join"
	TypeDraw         = "draw"
	TypeTextUpdate   = "text_update"
	TypeClear        = "clear"
	TypeUndo         = "undo"
	TypeRedo         = "redo"
	TypeCursorUpdate = "cursor_update"
)

// Outbound-only message types.
const (
	TypeUserListUpdate = "user_list_update"
	TypeUndoRedo       = "undo_redo"
	TypeSync           = "sync"
)

// Sentinel cursor values broadcast when a participant departs, instructing
// peers to hide both possible cursor representations for that name.
const (
	CursorGoneOffset = -1
	CursorGoneCoord  = -10000.0
)

// Envelope carries the fields common to every message, decoded first to
// classify the payload.
type Envelope struct {
	Type string `json:"type"`
	Room string `json:"room"`
}

// Join binds a session to a room under a display name.
type Join struct {
	Type string `json:"type"`
	Room string `json:"room"`
	Name string `json:"name"`
}

// Draw carries one stroke segment for the drawing room. The server echoes
// the raw message to every member, sender included.
type Draw struct {
	Type string `json:"type"`
	Room string `json:"room"`
	room.Stroke
}

// TextUpdate replaces a text room's whole document.
type TextUpdate struct {
	Type    string `json:"type"`
	Room    string `json:"room"`
	Content string `json:"content"`
}

// Clear empties the drawing room's history.
type Clear struct {
	Type string `json:"type"`
	Room string `json:"room"`
}

// UndoRedo is both the inbound undo/redo request (HistoryIndex only) and the
// outbound undo_redo broadcast (full history plus the index each client
// replays up to).
type UndoRedo struct {
	Type         string        `json:"type"`
	Room         string        `json:"room"`
	HistoryIndex int           `json:"historyIndex"`
	History      []room.Stroke `json:"history"`
}

// CursorUpdate carries a presence change. Name is set by the server on
// outbound broadcasts; clients never claim a name per message.
type CursorUpdate struct {
	Type string `json:"type"`
	Room string `json:"room"`
	Name string `json:"name,omitempty"`
	room.Cursor
}

// UserListUpdate announces the full member roster of a room.
type UserListUpdate struct {
	Type  string   `json:"type"`
	Room  string   `json:"room"`
	Users []string `json:"users"`
}

// Sync is the catch-up message sent to a session when it joins a room.
type Sync struct {
	Type    string        `json:"type"`
	Room    string        `json:"room"`
	Strokes []room.Stroke `json:"strokes,omitempty"`
	Content string        `json:"content,omitempty"`
}
