package protocol

import (
	"encoding/json"
	"log/slog"
	"time"
)

type errorMessage struct {
	Type    Kind   `json:"type"`
	Message string `json:"message"`
}

type presenceMessage struct {
	Type       Kind   `json:"type"`
	RoomID     string `json:"room_id"`
	TotalUsers int    `json:"total_users"`
}

type drawingMessage struct {
	Type Kind          `json:"type"`
	Data DrawingAction `json:"data"`
}

type drawingEventMessage struct {
	Type Kind `json:"type"`
	DrawingEvent
}

type ackMessage struct {
	Type      Kind   `json:"type"`
	EventID   string `json:"event_id"`
	Duplicate bool   `json:"duplicate"`
}

type deletedMessage struct {
	Type    Kind   `json:"type"`
	EventID string `json:"event_id"`
}

type clearMessage struct {
	Type      Kind      `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source,omitempty"`
}

type templateMessage struct {
	Type      Kind            `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

type syncMessage struct {
	Type       Kind            `json:"type"`
	RoomID     string          `json:"room_id"`
	TotalUsers int             `json:"total_users"`
	Actions    []DrawingAction `json:"actions"`
	Events     []DrawingEvent  `json:"events"`
}

func NewError(message string) []byte {
	return encode(errorMessage{Type: KindError, Message: message})
}

func NewUserJoined(roomID string, total int) []byte {
	return encode(presenceMessage{Type: KindUserJoined, RoomID: roomID, TotalUsers: total})
}

func NewUserLeft(roomID string, total int) []byte {
	return encode(presenceMessage{Type: KindUserLeft, RoomID: roomID, TotalUsers: total})
}

func NewDrawing(action DrawingAction) []byte {
	return encode(drawingMessage{Type: KindDrawing, Data: action})
}

// NewDrawingEvent renders the event flat, next to its type discriminator
func NewDrawingEvent(event DrawingEvent) []byte {
	return encode(drawingEventMessage{Type: KindDrawingEvent, DrawingEvent: event})
}

func NewDrawingEventAck(eventID string, duplicate bool) []byte {
	return encode(ackMessage{Type: KindDrawingEventAck, EventID: eventID, Duplicate: duplicate})
}

func NewDrawingEventDeleted(eventID string) []byte {
	return encode(deletedMessage{Type: KindDrawingEventDeleted, EventID: eventID})
}

// NewClear tells every member to re-render an empty canvas. source is
// "api" when the clear came through REST and empty for socket clears.
func NewClear(source string) []byte {
	return encode(clearMessage{Type: KindClear, Timestamp: time.Now().UTC(), Source: source})
}

func NewClearEvents(source string) []byte {
	return encode(clearMessage{Type: KindClearEvents, Timestamp: time.Now().UTC(), Source: source})
}

func NewTemplate(data json.RawMessage) []byte {
	return encode(templateMessage{Type: KindTemplate, Data: data, Timestamp: time.Now().UTC()})
}

// NewSync is the history snapshot sent to a connection after it joins
func NewSync(roomID string, total int, actions []DrawingAction, events []DrawingEvent) []byte {
	if actions == nil {
		actions = []DrawingAction{}
	}
	if events == nil {
		events = []DrawingEvent{}
	}
	return encode(syncMessage{
		Type:       KindSync,
		RoomID:     roomID,
		TotalUsers: total,
		Actions:    actions,
		Events:     events,
	})
}

func encode(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("encode outbound message", "error", err)
		return nil
	}
	return data
}
