package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/atelier-studio/atelier/internal/room"
	"github.com/atelier-studio/atelier/internal/store"
	"github.com/atelier-studio/atelier/internal/ws"
)

// API serves the boundary the browser hits outside the WebSocket: initial
// content loads, ops endpoints and the public gallery.
type API struct {
	hub      *ws.Hub
	registry *room.Registry
	store    *store.Store
	logger   *zap.Logger
}

func New(hub *ws.Hub, registry *room.Registry, st *store.Store, logger *zap.Logger) *API {
	return &API{
		hub:      hub,
		registry: registry,
		store:    st,
		logger:   logger,
	}
}

func (a *API) jsonResponse(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		a.logger.Error("failed to encode JSON response", zap.Error(err))
	}
}

func (a *API) errorResponse(w http.ResponseWriter, status int, message string) {
	a.jsonResponse(w, status, map[string]string{"error": message})
}

func (a *API) HealthHandler(w http.ResponseWriter, r *http.Request) {
	a.jsonResponse(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) StatsHandler(w http.ResponseWriter, r *http.Request) {
	stats := map[string]interface{}{
		"active_rooms":   a.hub.GetRoomCount(),
		"active_clients": a.hub.GetClientCount(),
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	}

	if a.store != nil {
		storeStats, err := a.store.GetStats()
		if err == nil {
			stats["persisted_rooms"] = storeStats["persisted_rooms"]
			stats["published_works"] = storeStats["published_works"]
		}
	}

	a.jsonResponse(w, http.StatusOK, stats)
}

// Room handlers

type RoomResponse struct {
	ID          string `json:"id"`
	Kind        string `json:"kind"`
	ActiveUsers int    `json:"active_users"`
}

func (a *API) ListRoomsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		a.errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	activeRooms := a.hub.GetActiveRooms()

	ids := a.registry.IDs()
	response := make([]RoomResponse, len(ids))
	for i, id := range ids {
		kind, _ := a.registry.Kind(id)
		response[i] = RoomResponse{
			ID:          id,
			Kind:        kind.String(),
			ActiveUsers: activeRooms[id],
		}
	}

	a.jsonResponse(w, http.StatusOK, map[string]interface{}{
		"rooms": response,
	})
}

// GetContentHandler serves a room's live content for initial page loads. It
// reads straight from the registry, so the response always reflects the
// freshest accepted write.
func (a *API) GetContentHandler(w http.ResponseWriter, r *http.Request, roomID string) {
	if r.Method != http.MethodGet {
		a.errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	content, err := a.registry.MarshalContent(roomID)
	if err != nil {
		if errors.Is(err, room.ErrNotFound) {
			a.errorResponse(w, http.StatusNotFound, "Room not found")
			return
		}
		a.errorResponse(w, http.StatusInternalServerError, "Failed to read room content")
		return
	}

	kind, _ := a.registry.Kind(roomID)

	a.jsonResponse(w, http.StatusOK, map[string]interface{}{
		"room":    roomID,
		"kind":    kind.String(),
		"content": json.RawMessage(content),
	})
}

func (a *API) RoomsRouter(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/rooms")

	// /api/rooms or /api/rooms/
	if path == "" || path == "/" {
		a.ListRoomsHandler(w, r)
		return
	}

	// /api/rooms/{id}/content
	path = strings.TrimPrefix(path, "/")
	if roomID, found := strings.CutSuffix(path, "/content"); found {
		a.GetContentHandler(w, r, roomID)
		return
	}

	a.errorResponse(w, http.StatusNotFound, "Not found")
}

// Gallery handlers

type PublishRequest struct {
	Title  string `json:"title"`
	Room   string `json:"room"`
	Author string `json:"author"`
}

func (a *API) PublishHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		a.errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req PublishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.errorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.Title == "" {
		a.errorResponse(w, http.StatusBadRequest, "Title is required")
		return
	}

	content, err := a.registry.MarshalContent(req.Room)
	if err != nil {
		if errors.Is(err, room.ErrNotFound) {
			a.errorResponse(w, http.StatusNotFound, "Room not found")
			return
		}
		a.errorResponse(w, http.StatusInternalServerError, "Failed to snapshot room content")
		return
	}

	kind, _ := a.registry.Kind(req.Room)

	work, err := a.store.AddPublishedWork(req.Title, req.Room, string(content), req.Author, kind.String())
	if err != nil {
		a.logger.Error("failed to publish work", zap.Error(err))
		a.errorResponse(w, http.StatusInternalServerError, "Failed to publish work")
		return
	}

	a.jsonResponse(w, http.StatusCreated, work)
}

func (a *API) ListGalleryHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		a.errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if offset < 0 {
		offset = 0
	}

	works, err := a.store.ListPublishedWorks(limit, offset)
	if err != nil {
		a.errorResponse(w, http.StatusInternalServerError, "Failed to list gallery")
		return
	}
	if works == nil {
		works = []store.PublishedWork{}
	}

	a.jsonResponse(w, http.StatusOK, map[string]interface{}{
		"works":  works,
		"limit":  limit,
		"offset": offset,
	})
}

func (a *API) GetGalleryWorkHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		a.errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/api/gallery/")
	workID, err := strconv.Atoi(strings.TrimSuffix(path, "/"))
	if err != nil {
		a.errorResponse(w, http.StatusBadRequest, "Invalid work ID")
		return
	}

	work, err := a.store.GetPublishedWork(workID)
	if err != nil {
		a.errorResponse(w, http.StatusInternalServerError, "Failed to get work")
		return
	}
	if work == nil {
		a.errorResponse(w, http.StatusNotFound, "Work not found")
		return
	}

	a.jsonResponse(w, http.StatusOK, work)
}

func (a *API) GalleryRouter(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/gallery")

	if path == "" || path == "/" {
		a.ListGalleryHandler(w, r)
		return
	}

	a.GetGalleryWorkHandler(w, r)
}
