package ws

import (
	"context"
	"log/slog"
	"time"

	"github.com/manpreetbhatti/drawsync/internal/protocol"
	"github.com/manpreetbhatti/drawsync/internal/room"
)

// Hub delivers messages to the members of a room and announces membership
// changes. Membership lives in the injected registry; the hub owns no other
// shared state.
type Hub struct {
	registry *room.Registry[protocol.Conn]
}

func NewHub(registry *room.Registry[protocol.Conn]) *Hub {
	if registry == nil {
		registry = room.NewRegistry[protocol.Conn]()
	}
	return &Hub{registry: registry}
}

// Join registers conn under its room and tells the other members.
// Returns the room's member count.
func (h *Hub) Join(conn protocol.Conn) int {
	count, added := h.registry.Join(conn.Room(), conn)
	if !added {
		return count
	}

	slog.Info("client joined", "room", conn.Room(), "clientId", conn.ID(), "clients", count)
	h.Broadcast(conn.Room(), protocol.NewUserJoined(conn.Room(), count), conn)
	return count
}

// Leave deregisters conn, closes it and tells the remaining members.
// Only the first call for a given conn has any effect.
func (h *Hub) Leave(conn protocol.Conn) {
	count, removed := h.registry.Leave(conn.Room(), conn)
	if !removed {
		return
	}

	if err := conn.Close(); err != nil {
		slog.Debug("close after leave", "clientId", conn.ID(), "error", err)
	}

	if count == 0 {
		slog.Info("room closed (empty)", "room", conn.Room(), "clientId", conn.ID())
		return
	}

	slog.Info("client left", "room", conn.Room(), "clientId", conn.ID(), "clients", count)
	h.Broadcast(conn.Room(), protocol.NewUserLeft(conn.Room(), count), nil)
}

// Broadcast sends data to every member of roomID except exclude. Sends never
// block; a member whose send fails is removed once the pass is complete.
func (h *Hub) Broadcast(roomID string, data []byte, exclude protocol.Conn) {
	if len(data) == 0 {
		return
	}

	var failed []protocol.Conn
	h.registry.Each(roomID, func(c protocol.Conn) {
		if c == exclude {
			return
		}
		if err := c.Send(data); err != nil {
			failed = append(failed, c)
		}
	})

	for _, c := range failed {
		slog.Warn("dropping unresponsive client", "room", roomID, "clientId", c.ID())
		h.Leave(c)
	}
}

// Unicast is a best-effort send to a single connection
func (h *Hub) Unicast(conn protocol.Conn, data []byte) {
	if len(data) == 0 {
		return
	}
	if err := conn.Send(data); err != nil {
		slog.Warn("unicast failed", "room", conn.Room(), "clientId", conn.ID(), "error", err)
	}
}

func (h *Hub) Count(roomID string) int {
	return h.registry.Count(roomID)
}

// Rooms lists every live room with its member count
func (h *Hub) Rooms() []room.Info {
	return h.registry.List()
}

// Room returns the live snapshot of one room
func (h *Hub) Room(roomID string) (room.Info, bool) {
	return h.registry.Snapshot(roomID)
}

func (h *Hub) GetRoomCount() int {
	rooms, _ := h.registry.Stats()
	return rooms
}

func (h *Hub) GetClientCount() int {
	_, clients := h.registry.Stats()
	return clients
}

// Shutdown closes every connection and waits until all of them have left
// their rooms, which happens once each session's read loop has returned.
// After a nil return no session is still handling a frame.
func (h *Hub) Shutdown(ctx context.Context) error {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	for {
		members := h.registry.Members()
		if len(members) == 0 {
			return nil
		}
		for _, c := range members {
			c.Close()
		}

		select {
		case <-ctx.Done():
			slog.Warn("shutdown with sessions still open", "clients", len(members))
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
