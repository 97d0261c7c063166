package protocol

import (
	"encoding/json"
	"fmt"
	"log/slog"
)

// Conn is one live duplex session owned by a single receive loop
type Conn interface {
	ID() string
	Room() string
	Send(data []byte) error
	Close() error
}

// Broadcaster fans messages out to the members of a room
type Broadcaster interface {
	Join(conn Conn) int
	Leave(conn Conn)
	Broadcast(roomID string, data []byte, exclude Conn)
	Unicast(conn Conn, data []byte)
	Count(roomID string) int
}

// Store is the durable side of the session protocol
type Store interface {
	AppendAction(roomID string, action DrawingAction) error
	AppendEvent(roomID string, event DrawingEvent) (bool, error)
	ClearActions(roomID string) error
	SaveTemplate(roomID, name string, data json.RawMessage) (int64, error)
	ListActions(roomID string) ([]DrawingAction, error)
	ListEvents(roomID string) ([]DrawingEvent, error)
}

// DuplicatePolicy decides what happens to a drawing_event frame whose
// event_id is already stored
type DuplicatePolicy string

const (
	// Ack the sender as duplicate and do not re-broadcast
	DuplicateSuppress DuplicatePolicy = "suppress"
	// Ack the sender as duplicate and forward to the room anyway
	DuplicateForward DuplicatePolicy = "forward"
)

type Options struct {
	LegacyGeoShim   bool
	DuplicatePolicy DuplicatePolicy
}

// Handler runs the per-frame part of a session: classify, validate,
// persist, then fan out. A nil store keeps the hub memory-only.
type Handler struct {
	hub        Broadcaster
	store      Store
	normalizer *Normalizer
	policy     DuplicatePolicy
}

func NewHandler(hub Broadcaster, store Store, opts Options) *Handler {
	policy := opts.DuplicatePolicy
	if policy != DuplicateForward {
		policy = DuplicateSuppress
	}
	return &Handler{
		hub:        hub,
		store:      store,
		normalizer: NewNormalizer(opts.LegacyGeoShim),
		policy:     policy,
	}
}

// Open registers a new connection with its room and sends it the room history
func (h *Handler) Open(conn Conn) {
	h.hub.Join(conn)
	h.sendSync(conn)
}

// Close removes the connection from its room. Safe to call more than once.
func (h *Handler) Close(conn Conn) {
	h.hub.Leave(conn)
}

func (h *Handler) Handle(conn Conn, data []byte) {
	kind, err := ParseKind(data)
	if err != nil {
		h.reject(conn, err)
		return
	}

	switch kind {
	case KindDrawing:
		h.handleDrawing(conn, data)
	case KindDrawingEvent:
		h.handleDrawingEvent(conn, data)
	case KindClear:
		h.handleClear(conn)
	case KindTemplate:
		h.handleTemplate(conn, data)
	case KindJoin:
		h.sendSync(conn)
	default:
		h.reject(conn, fmt.Errorf("%w: %s", ErrUnknownKind, kind))
	}
}

func (h *Handler) handleDrawing(conn Conn, data []byte) {
	action, err := h.normalizer.Action(data)
	if err != nil {
		h.reject(conn, err)
		return
	}

	if h.store != nil {
		if err := h.store.AppendAction(conn.Room(), action); err != nil {
			h.storageFailed(conn, "drawing", err)
		}
	}

	h.hub.Broadcast(conn.Room(), NewDrawing(action), conn)
}

func (h *Handler) handleDrawingEvent(conn Conn, data []byte) {
	event, err := h.normalizer.Event(data)
	if err != nil {
		h.reject(conn, err)
		return
	}

	accepted := true
	if h.store != nil {
		accepted, err = h.store.AppendEvent(conn.Room(), event)
		if err != nil {
			h.storageFailed(conn, "drawing_event", err)
			h.hub.Broadcast(conn.Room(), NewDrawingEvent(event), conn)
			return
		}
	}

	h.hub.Unicast(conn, NewDrawingEventAck(event.EventID, !accepted))

	if !accepted {
		slog.Debug("duplicate drawing event", "room", conn.Room(), "clientId", conn.ID(),
			"eventId", event.EventID, "policy", string(h.policy))
		if h.policy != DuplicateForward {
			return
		}
	}

	h.hub.Broadcast(conn.Room(), NewDrawingEvent(event), conn)
}

func (h *Handler) handleClear(conn Conn) {
	if h.store != nil {
		if err := h.store.ClearActions(conn.Room()); err != nil {
			h.storageFailed(conn, "clear", err)
		}
	}

	h.hub.Broadcast(conn.Room(), NewClear(""), nil)
}

func (h *Handler) handleTemplate(conn Conn, data []byte) {
	tmpl, err := h.normalizer.Template(data)
	if err != nil {
		h.reject(conn, err)
		return
	}

	if h.store != nil {
		if _, err := h.store.SaveTemplate(conn.Room(), tmpl.Name, tmpl.Data); err != nil {
			h.storageFailed(conn, "template", err)
		}
	}

	h.hub.Broadcast(conn.Room(), NewTemplate(tmpl.Data), nil)
}

func (h *Handler) sendSync(conn Conn) {
	var (
		actions []DrawingAction
		events  []DrawingEvent
	)
	if h.store != nil {
		var err error
		if actions, err = h.store.ListActions(conn.Room()); err != nil {
			slog.Error("load actions for sync", "room", conn.Room(), "error", err)
		}
		if events, err = h.store.ListEvents(conn.Room()); err != nil {
			slog.Error("load events for sync", "room", conn.Room(), "error", err)
		}
	}

	h.hub.Unicast(conn, NewSync(conn.Room(), h.hub.Count(conn.Room()), actions, events))
}

func (h *Handler) reject(conn Conn, err error) {
	slog.Warn("rejected frame", "room", conn.Room(), "clientId", conn.ID(), "error", err)
	h.hub.Unicast(conn, NewError(err.Error()))
}

// Delivery and durability are independent: the caller still broadcasts
func (h *Handler) storageFailed(conn Conn, what string, err error) {
	slog.Error("persist failed", "kind", what, "room", conn.Room(), "clientId", conn.ID(), "error", err)
	h.hub.Unicast(conn, NewError(what+" was not saved"))
}
