package protocol

import (
	"encoding/json"
	"fmt"
)

// Kind is the "type" discriminator carried by every frame
type Kind string

const (
	// Sent by clients
	KindDrawing      Kind = "drawing"
	KindDrawingEvent Kind = "drawing_event"
	KindClear        Kind = "clear"
	KindTemplate     Kind = "template"
	KindJoin         Kind = "join"

	// Generated by the server
	KindSync                Kind = "sync"
	KindUserJoined          Kind = "user_joined"
	KindUserLeft            Kind = "user_left"
	KindError               Kind = "error"
	KindDrawingEventAck     Kind = "drawing_event_ack"
	KindDrawingEventDeleted Kind = "drawing_event_deleted"
	KindClearEvents         Kind = "clear_events"
)

type envelope struct {
	Type Kind `json:"type"`
}

// Extracts the message kind from a raw frame
func ParseKind(data []byte) (Kind, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if env.Type == "" {
		return "", &ValidationError{Field: "type", Reason: "is required"}
	}
	return env.Type, nil
}
