package api

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"goji.io/v3/pat"

	"github.com/manpreetbhatti/drawsync/internal/db"
	"github.com/manpreetbhatti/drawsync/internal/protocol"
)

const maxEventBodySize = 1 << 20

func (a *API) CreateEventHandler(w http.ResponseWriter, r *http.Request) {
	roomID := pat.Param(r, "room")

	body, err := io.ReadAll(io.LimitReader(r.Body, maxEventBodySize))
	if err != nil {
		errorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	event, err := a.normalizer.Event(body)
	if err != nil {
		errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	accepted, err := a.database.AppendEvent(roomID, event)
	if err != nil {
		slog.Error("append event", "room", roomID, "eventId", event.EventID, "error", err)
		errorResponse(w, http.StatusInternalServerError, "Failed to save event")
		return
	}
	if !accepted {
		errorResponse(w, http.StatusConflict, "Event "+event.EventID+" already exists")
		return
	}

	a.hub.Broadcast(roomID, protocol.NewDrawingEvent(event), nil)

	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"message":  "Drawing event " + event.EventID + " created",
		"event_id": event.EventID,
	})
}

func (a *API) ListEventsHandler(w http.ResponseWriter, r *http.Request) {
	roomID := pat.Param(r, "room")

	events, err := a.database.ListStoredEvents(roomID)
	if err != nil {
		slog.Error("list events", "room", roomID, "error", err)
		errorResponse(w, http.StatusInternalServerError, "Failed to list events")
		return
	}

	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"room_id": roomID,
		"events":  events,
		"count":   len(events),
	})
}

// lookupEvent writes the error response itself and returns nil when the
// event is missing or filed under another room
func (a *API) lookupEvent(w http.ResponseWriter, roomID, eventID string) *protocol.StoredEvent {
	event, err := a.database.GetRoomEvent(roomID, eventID)
	switch {
	case err == nil:
		return event
	case errors.Is(err, db.ErrNotFound):
		errorResponse(w, http.StatusNotFound, "Event "+eventID+" not found")
	case errors.Is(err, db.ErrRoomMismatch):
		slog.Warn("event requested through wrong room", "room", roomID, "eventId", eventID)
		errorResponse(w, http.StatusForbidden, "Event belongs to another room")
	default:
		slog.Error("get event", "room", roomID, "eventId", eventID, "error", err)
		errorResponse(w, http.StatusInternalServerError, "Failed to get event")
	}
	return nil
}

func (a *API) GetEventHandler(w http.ResponseWriter, r *http.Request) {
	event := a.lookupEvent(w, pat.Param(r, "room"), pat.Param(r, "id"))
	if event == nil {
		return
	}
	jsonResponse(w, http.StatusOK, event)
}

func (a *API) DeleteEventHandler(w http.ResponseWriter, r *http.Request) {
	roomID := pat.Param(r, "room")
	eventID := pat.Param(r, "id")

	if a.lookupEvent(w, roomID, eventID) == nil {
		return
	}

	deleted, err := a.database.DeleteEvent(eventID)
	if err != nil {
		slog.Error("delete event", "room", roomID, "eventId", eventID, "error", err)
		errorResponse(w, http.StatusInternalServerError, "Failed to delete event")
		return
	}
	if !deleted {
		// removed concurrently between lookup and delete
		errorResponse(w, http.StatusNotFound, "Event "+eventID+" not found")
		return
	}

	a.hub.Broadcast(roomID, protocol.NewDrawingEventDeleted(eventID), nil)

	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Event " + eventID + " deleted",
	})
}

func (a *API) ClearEventsHandler(w http.ResponseWriter, r *http.Request) {
	roomID := pat.Param(r, "room")

	removed, err := a.database.ClearEvents(roomID)
	if err != nil {
		slog.Error("clear events", "room", roomID, "error", err)
		errorResponse(w, http.StatusInternalServerError, "Failed to clear events")
		return
	}

	a.hub.Broadcast(roomID, protocol.NewClearEvents("api"), nil)

	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "All drawing events in room " + roomID + " deleted",
		"removed": removed,
	})
}
