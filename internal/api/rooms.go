package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"goji.io/v3/pat"

	"github.com/manpreetbhatti/drawsync/internal/db"
	"github.com/manpreetbhatti/drawsync/internal/protocol"
	"github.com/manpreetbhatti/drawsync/internal/room"
)

const (
	defaultRoomPage = 50
	maxRoomPage     = 500
)

type RoomResponse struct {
	Room           room.Info `json:"room"`
	Stored         *db.Room  `json:"stored,omitempty"`
	DrawingsCount  int       `json:"drawings_count"`
	TemplatesCount int       `json:"templates_count"`
	EventsCount    int       `json:"events_count"`
}

// liveRoom returns the registry snapshot, or an empty one for idle rooms
func (a *API) liveRoom(roomID string) room.Info {
	info, ok := a.hub.Room(roomID)
	if !ok {
		return room.Info{RoomID: roomID}
	}
	return info
}

// ListRoomsHandler lists live rooms, plus a page of rooms that have stored
// state (?limit=&offset=)
func (a *API) ListRoomsHandler(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(r, "limit", defaultRoomPage)
	if !ok || limit < 1 || limit > maxRoomPage {
		errorResponse(w, http.StatusBadRequest, "limit must be between 1 and "+strconv.Itoa(maxRoomPage))
		return
	}
	offset, ok := queryInt(r, "offset", 0)
	if !ok || offset < 0 {
		errorResponse(w, http.StatusBadRequest, "offset must be a non-negative integer")
		return
	}

	stored, err := a.database.ListRooms(limit, offset)
	if err != nil {
		slog.Error("list stored rooms", "error", err)
		errorResponse(w, http.StatusInternalServerError, "Failed to list rooms")
		return
	}

	rooms := a.hub.Rooms()
	if rooms == nil {
		rooms = []room.Info{}
	}
	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"rooms":        rooms,
		"count":        len(rooms),
		"stored_rooms": stored,
	})
}

func queryInt(r *http.Request, key string, fallback int) (int, bool) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback, true
	}
	n, err := strconv.Atoi(raw)
	return n, err == nil
}

func (a *API) GetRoomHandler(w http.ResponseWriter, r *http.Request) {
	roomID := pat.Param(r, "room")

	drawings, err := a.database.CountActions(roomID)
	if err != nil {
		slog.Error("count actions", "room", roomID, "error", err)
		errorResponse(w, http.StatusInternalServerError, "Failed to get room")
		return
	}
	templates, err := a.database.CountTemplates(roomID)
	if err != nil {
		slog.Error("count templates", "room", roomID, "error", err)
		errorResponse(w, http.StatusInternalServerError, "Failed to get room")
		return
	}
	events, err := a.database.CountEvents(roomID)
	if err != nil {
		slog.Error("count events", "room", roomID, "error", err)
		errorResponse(w, http.StatusInternalServerError, "Failed to get room")
		return
	}
	stored, err := a.database.GetRoom(roomID)
	if err != nil {
		slog.Error("get stored room", "room", roomID, "error", err)
		errorResponse(w, http.StatusInternalServerError, "Failed to get room")
		return
	}

	jsonResponse(w, http.StatusOK, RoomResponse{
		Room:           a.liveRoom(roomID),
		Stored:         stored,
		DrawingsCount:  drawings,
		TemplatesCount: templates,
		EventsCount:    events,
	})
}

func (a *API) GetDrawingsHandler(w http.ResponseWriter, r *http.Request) {
	roomID := pat.Param(r, "room")

	drawings, err := a.database.ListActions(roomID)
	if err != nil {
		slog.Error("list actions", "room", roomID, "error", err)
		errorResponse(w, http.StatusInternalServerError, "Failed to get drawings")
		return
	}

	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"room_id":  roomID,
		"drawings": drawings,
		"count":    len(drawings),
	})
}

func (a *API) ClearDrawingsHandler(w http.ResponseWriter, r *http.Request) {
	roomID := pat.Param(r, "room")

	if err := a.database.ClearActions(roomID); err != nil {
		slog.Error("clear actions", "room", roomID, "error", err)
		errorResponse(w, http.StatusInternalServerError, "Failed to clear drawings")
		return
	}

	a.hub.Broadcast(roomID, protocol.NewClear("api"), nil)

	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Drawings in room " + roomID + " cleared",
	})
}

func (a *API) GetTemplatesHandler(w http.ResponseWriter, r *http.Request) {
	roomID := pat.Param(r, "room")

	templates, err := a.database.ListTemplates(roomID)
	if err != nil {
		slog.Error("list templates", "room", roomID, "error", err)
		errorResponse(w, http.StatusInternalServerError, "Failed to get templates")
		return
	}

	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"room_id":   roomID,
		"templates": templates,
		"count":     len(templates),
	})
}

// JoinRoomHandler tells a client where to open its socket
func (a *API) JoinRoomHandler(w http.ResponseWriter, r *http.Request) {
	roomID := pat.Param(r, "room")

	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"room_id":       roomID,
		"websocket_url": "/ws/" + roomID,
		"users_count":   a.hub.Count(roomID),
	})
}

func (a *API) ExportRoomHandler(w http.ResponseWriter, r *http.Request) {
	roomID := pat.Param(r, "room")

	drawings, err := a.database.ListActions(roomID)
	if err != nil {
		slog.Error("export actions", "room", roomID, "error", err)
		errorResponse(w, http.StatusInternalServerError, "Failed to export room")
		return
	}
	templates, err := a.database.ListTemplates(roomID)
	if err != nil {
		slog.Error("export templates", "room", roomID, "error", err)
		errorResponse(w, http.StatusInternalServerError, "Failed to export room")
		return
	}
	events, err := a.database.ListStoredEvents(roomID)
	if err != nil {
		slog.Error("export events", "room", roomID, "error", err)
		errorResponse(w, http.StatusInternalServerError, "Failed to export room")
		return
	}

	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"room_id":     roomID,
		"exported_at": time.Now().UTC().Format(time.RFC3339),
		"room_info":   a.liveRoom(roomID),
		"drawings":    drawings,
		"templates":   templates,
		"events":      events,
		"stats": map[string]int{
			"drawings_count":  len(drawings),
			"templates_count": len(templates),
			"events_count":    len(events),
		},
	})
}
