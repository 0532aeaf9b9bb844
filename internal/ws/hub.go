package ws

import (
	"encoding/json"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/atelier-studio/atelier/internal/protocol"
	"github.com/atelier-studio/atelier/internal/room"
)

// ContentStore is the durable side of a room mutation. Writes are issued
// from the dispatcher goroutine, so they land in mutation order.
type ContentStore interface {
	SaveContent(roomID string, content []byte) error
}

type inbound struct {
	client *Client
	data   []byte
}

// Hub owns room membership and serializes every room mutation through a
// single dispatcher goroutine: receipt, mutation, persistence and fan-out of
// one message complete before the next is taken up. That preserves per-room,
// per-sender order end to end without per-room locking.
type Hub struct {
	registry *room.Registry
	store    ContentStore
	logger   *zap.Logger

	register   chan *Client
	unregister chan *Client
	inbound    chan *inbound

	// mu guards the membership maps so the stats endpoints can read them
	// while the dispatcher mutates.
	mu      sync.RWMutex
	clients map[*Client]bool
	members map[string]map[*Client]bool
}

func NewHub(registry *room.Registry, store ContentStore, logger *zap.Logger) *Hub {
	return &Hub{
		registry:   registry,
		store:      store,
		logger:     logger,
		register:   make(chan *Client),
		unregister: make(chan *Client),
		inbound:    make(chan *inbound, 256),
		clients:    make(map[*Client]bool),
		members:    make(map[string]map[*Client]bool),
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.handleRegister(client)

		case client := <-h.unregister:
			h.handleDisconnect(client)

		case msg := <-h.inbound:
			h.handleInbound(msg.client, msg.data)
		}
	}
}

func (h *Hub) handleRegister(c *Client) {
	h.mu.Lock()
	h.clients[c] = true
	total := len(h.clients)
	h.mu.Unlock()

	h.logger.Info("client connected", zap.String("client", c.id), zap.Int("total", total))
}

// handleDisconnect runs the full cleanup for a closing session. The clients
// map makes it idempotent, so a close racing an in-flight message still
// cleans up exactly once.
func (h *Hub) handleDisconnect(c *Client) {
	h.mu.Lock()
	if !h.clients[c] {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	h.mu.Unlock()

	if c.room != "" {
		h.leaveRoom(c)
	}
	close(c.send)

	h.logger.Info("client disconnected", zap.String("client", c.id))
}

// leaveRoom removes the session from its current room, clears its presence
// entry and tells the remaining members.
func (h *Hub) leaveRoom(c *Client) {
	roomID := c.room

	h.mu.Lock()
	if members, ok := h.members[roomID]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(h.members, roomID)
		}
	}
	h.mu.Unlock()
	c.room = ""

	had, err := h.registry.RemoveCursor(roomID, c.name)
	if err == nil && had {
		h.broadcastPresenceGone(roomID, c.name)
	}
	h.broadcastUserList(roomID)
}

// broadcastPresenceGone emits the two sentinel cursor updates that hide a
// departed user's caret and canvas pointer. The user's presence may have
// represented either depending on which room kind they last touched, so the
// cleanup blankets both.
func (h *Hub) broadcastPresenceGone(roomID, name string) {
	textGone := protocol.CursorUpdate{
		Type: protocol.TypeCursorUpdate,
		Room: roomID,
		Name: name,
		Cursor: room.Cursor{
			IsText: true,
			Offset: protocol.CursorGoneOffset,
		},
	}
	canvasGone := protocol.CursorUpdate{
		Type: protocol.TypeCursorUpdate,
		Room: roomID,
		Name: name,
		Cursor: room.Cursor{
			X: protocol.CursorGoneCoord,
			Y: protocol.CursorGoneCoord,
		},
	}

	for _, msg := range []protocol.CursorUpdate{textGone, canvasGone} {
		data, err := json.Marshal(msg)
		if err != nil {
			h.logger.Error("failed to marshal presence sentinel", zap.Error(err))
			return
		}
		h.broadcast(roomID, data, nil)
	}
}

func (h *Hub) handleInbound(c *Client, data []byte) {
	var env protocol.Envelope
	if err := json.Unmarshal(data, &env); err != nil || env.Type == "" {
		h.logger.Warn("malformed message dropped",
			zap.String("client", c.id), zap.Error(err))
		return
	}

	if env.Type == protocol.TypeJoin {
		h.handleJoin(c, data)
		return
	}

	// A session must join before any mutation is accepted.
	if c.room == "" {
		h.logger.Debug("message before join dropped",
			zap.String("client", c.id), zap.String("type", env.Type))
		return
	}
	if env.Room != c.room {
		h.logger.Debug("message for unjoined room dropped",
			zap.String("client", c.id), zap.String("room", env.Room))
		return
	}

	switch env.Type {
	case protocol.TypeDraw:
		h.handleDraw(c, data)
	case protocol.TypeTextUpdate:
		h.handleTextUpdate(c, data)
	case protocol.TypeClear:
		h.handleClear(c, data)
	case protocol.TypeUndo, protocol.TypeRedo:
		h.handleUndoRedo(c, data)
	case protocol.TypeCursorUpdate:
		h.handleCursorUpdate(c, data)
	default:
		h.logger.Debug("unknown message type dropped",
			zap.String("client", c.id), zap.String("type", env.Type))
	}
}

func (h *Hub) handleJoin(c *Client, data []byte) {
	var msg protocol.Join
	if err := json.Unmarshal(data, &msg); err != nil {
		h.logger.Warn("malformed join dropped", zap.String("client", c.id), zap.Error(err))
		return
	}
	if msg.Name == "" {
		h.logger.Debug("join without display name dropped", zap.String("client", c.id))
		return
	}
	if !h.registry.Exists(msg.Room) {
		h.logger.Warn("join to unknown room ignored",
			zap.String("client", c.id), zap.String("room", msg.Room))
		return
	}

	// Switching rooms leaves the old one first, presence cleanup included.
	if c.room != "" {
		h.leaveRoom(c)
	}

	c.name = msg.Name
	c.room = msg.Room

	h.mu.Lock()
	if h.members[msg.Room] == nil {
		h.members[msg.Room] = make(map[*Client]bool)
	}
	h.members[msg.Room][c] = true
	memberCount := len(h.members[msg.Room])
	h.mu.Unlock()

	h.logger.Info("client joined room",
		zap.String("client", c.id), zap.String("room", msg.Room),
		zap.String("name", msg.Name), zap.Int("members", memberCount))

	h.sendSync(c)
	h.sendPresenceSnapshot(c)
	h.broadcastUserList(msg.Room)
}

// sendSync sends the joining session the room's current content so late
// joiners catch up without waiting for the next edit.
func (h *Hub) sendSync(c *Client) {
	msg := protocol.Sync{Type: protocol.TypeSync, Room: c.room}

	kind, err := h.registry.Kind(c.room)
	if err != nil {
		return
	}
	switch kind {
	case room.KindDrawing:
		history, err := h.registry.History(c.room)
		if err != nil {
			return
		}
		msg.Strokes = history
	case room.KindText:
		text, err := h.registry.Text(c.room)
		if err != nil {
			return
		}
		msg.Content = text
	}

	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("failed to marshal sync", zap.Error(err))
		return
	}
	h.send(c, data)
}

// sendPresenceSnapshot delivers the room's current presence map to a new
// joiner as individual cursor updates, one per present peer.
func (h *Hub) sendPresenceSnapshot(c *Client) {
	presence, err := h.registry.Presence(c.room)
	if err != nil {
		return
	}

	names := make([]string, 0, len(presence))
	for name := range presence {
		if name != c.name {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	for _, name := range names {
		msg := protocol.CursorUpdate{
			Type:   protocol.TypeCursorUpdate,
			Room:   c.room,
			Name:   name,
			Cursor: presence[name],
		}
		data, err := json.Marshal(msg)
		if err != nil {
			continue
		}
		h.send(c, data)
	}
}

func (h *Hub) handleDraw(c *Client, data []byte) {
	var msg protocol.Draw
	if err := json.Unmarshal(data, &msg); err != nil {
		h.logger.Warn("malformed draw dropped", zap.String("client", c.id), zap.Error(err))
		return
	}

	if err := h.registry.AppendStroke(c.room, msg.Stroke); err != nil {
		h.logger.Warn("draw rejected", zap.String("room", c.room), zap.Error(err))
		return
	}

	h.persist(c.room)
	// Echo to all members, sender included, so every tab converges on the
	// same history.
	h.broadcast(c.room, data, nil)
}

func (h *Hub) handleTextUpdate(c *Client, data []byte) {
	var msg protocol.TextUpdate
	if err := json.Unmarshal(data, &msg); err != nil {
		h.logger.Warn("malformed text update dropped", zap.String("client", c.id), zap.Error(err))
		return
	}

	if err := h.registry.SetText(c.room, msg.Content); err != nil {
		h.logger.Warn("text update rejected", zap.String("room", c.room), zap.Error(err))
		return
	}

	h.persist(c.room)
	// The sender already holds the value it just sent; echoing it back would
	// only cause a redundant re-render.
	h.broadcast(c.room, data, c)
}

func (h *Hub) handleClear(c *Client, data []byte) {
	if err := h.registry.ClearStrokes(c.room); err != nil {
		h.logger.Warn("clear rejected", zap.String("room", c.room), zap.Error(err))
		return
	}

	h.persist(c.room)
	h.broadcast(c.room, data, nil)
}

// handleUndoRedo broadcasts the full history plus the requested replay index.
// The log itself never changes and nothing is persisted; each client decides
// which prefix of the history is visible.
func (h *Hub) handleUndoRedo(c *Client, data []byte) {
	var msg protocol.UndoRedo
	if err := json.Unmarshal(data, &msg); err != nil {
		h.logger.Warn("malformed undo/redo dropped", zap.String("client", c.id), zap.Error(err))
		return
	}

	history, err := h.registry.History(c.room)
	if err != nil {
		h.logger.Warn("undo/redo rejected", zap.String("room", c.room), zap.Error(err))
		return
	}
	if history == nil {
		history = []room.Stroke{}
	}

	// Clamp the client-supplied index into the valid replay range.
	index := msg.HistoryIndex
	if index < 0 {
		index = 0
	}
	if index > len(history) {
		index = len(history)
	}

	out := protocol.UndoRedo{
		Type:         protocol.TypeUndoRedo,
		Room:         c.room,
		HistoryIndex: index,
		History:      history,
	}
	broadcastData, err := json.Marshal(out)
	if err != nil {
		h.logger.Error("failed to marshal undo_redo", zap.Error(err))
		return
	}
	h.broadcast(c.room, broadcastData, nil)
}

func (h *Hub) handleCursorUpdate(c *Client, data []byte) {
	var msg protocol.CursorUpdate
	if err := json.Unmarshal(data, &msg); err != nil {
		h.logger.Warn("malformed cursor update dropped", zap.String("client", c.id), zap.Error(err))
		return
	}

	if err := h.registry.SetCursor(c.room, c.name, msg.Cursor); err != nil {
		h.logger.Warn("cursor update rejected", zap.String("room", c.room), zap.Error(err))
		return
	}

	out := protocol.CursorUpdate{
		Type:   protocol.TypeCursorUpdate,
		Room:   c.room,
		Name:   c.name,
		Cursor: msg.Cursor,
	}
	broadcastData, err := json.Marshal(out)
	if err != nil {
		return
	}
	// A client does not need its own cursor echoed back.
	h.broadcast(c.room, broadcastData, c)
}

// persist writes the room's full current content. A failed write is logged
// and serving continues; in-memory state stays authoritative and the next
// successful write re-converges the record.
func (h *Hub) persist(roomID string) {
	content, err := h.registry.MarshalContent(roomID)
	if err != nil {
		h.logger.Error("failed to serialize room content",
			zap.String("room", roomID), zap.Error(err))
		return
	}
	if err := h.store.SaveContent(roomID, content); err != nil {
		h.logger.Warn("storage write failed",
			zap.String("room", roomID), zap.Error(err))
	}
}

// broadcast fans a serialized message out to the room's members, skipping
// exclude. Delivery is best-effort: a member with a full send buffer is
// skipped rather than stalling the rest, and its cleanup is driven by its
// own close event.
func (h *Hub) broadcast(roomID string, data []byte, exclude *Client) {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.members[roomID]))
	for client := range h.members[roomID] {
		if client != exclude {
			targets = append(targets, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range targets {
		h.send(client, data)
	}
}

func (h *Hub) send(c *Client, data []byte) {
	select {
	case c.send <- data:
	default:
		h.logger.Debug("client send buffer full, message dropped",
			zap.String("client", c.id))
	}
}

func (h *Hub) broadcastUserList(roomID string) {
	h.mu.RLock()
	names := make([]string, 0, len(h.members[roomID]))
	for client := range h.members[roomID] {
		names = append(names, client.name)
	}
	h.mu.RUnlock()
	sort.Strings(names)

	msg := protocol.UserListUpdate{
		Type:  protocol.TypeUserListUpdate,
		Room:  roomID,
		Users: names,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("failed to marshal user list", zap.Error(err))
		return
	}
	h.broadcast(roomID, data, nil)
}

// Stats accessors for the HTTP layer.

func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) GetRoomCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.members)
}

// GetActiveRooms returns the member count per occupied room.
func (h *Hub) GetActiveRooms() map[string]int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	active := make(map[string]int, len(h.members))
	for roomID, members := range h.members {
		active[roomID] = len(members)
	}
	return active
}
