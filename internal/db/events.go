package db

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/manpreetbhatti/drawsync/internal/protocol"
)

type eventRow struct {
	EventID     string    `db:"event_id"`
	RoomID      string    `db:"room_id"`
	EventName   string    `db:"event_name"`
	DrawingType string    `db:"drawing_type"`
	Action      string    `db:"action"`
	Platform    string    `db:"platform"`
	TS          int64     `db:"ts"`
	Style       string    `db:"style"`
	Data        string    `db:"data"`
	CreatedAt   time.Time `db:"created_at"`
}

const eventColumns = `event_id, room_id, event_name, drawing_type, action, platform, ts, style, data, created_at`

func (r eventRow) toStored() (protocol.StoredEvent, error) {
	event := protocol.DrawingEvent{
		EventID:     r.EventID,
		EventName:   r.EventName,
		DrawingType: r.DrawingType,
		Action:      r.Action,
		Platform:    r.Platform,
		Timestamp:   time.Unix(0, r.TS).UTC(),
	}
	if err := json.Unmarshal([]byte(r.Style), &event.Style); err != nil {
		return protocol.StoredEvent{}, errors.Wrapf(err, "decode style of event %s", r.EventID)
	}
	if err := json.Unmarshal([]byte(r.Data), &event.Data); err != nil {
		return protocol.StoredEvent{}, errors.Wrapf(err, "decode data of event %s", r.EventID)
	}
	return protocol.StoredEvent{RoomID: r.RoomID, DrawingEvent: event, CreatedAt: r.CreatedAt}, nil
}

// AppendEvent stores e under roomID. It returns false, and changes nothing,
// when an event with the same event_id already exists in any room. On error
// nothing is stored.
func (d *Database) AppendEvent(roomID string, e protocol.DrawingEvent) (bool, error) {
	style, err := json.Marshal(e.Style)
	if err != nil {
		return false, errors.Wrap(err, "encode style")
	}
	data, err := json.Marshal(e.Data)
	if err != nil {
		return false, errors.Wrap(err, "encode data")
	}

	ts, err := storedNanos(e.Timestamp)
	if err != nil {
		return false, errors.Wrap(err, "append event")
	}

	var inserted int64
	err = d.inTx(func(tx *sqlx.Tx) error {
		result, err := tx.Exec(`
			INSERT INTO drawing_events (event_id, room_id, event_name, drawing_type, action, platform, ts, style, data)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(event_id) DO NOTHING
		`, e.EventID, roomID, e.EventName, e.DrawingType, e.Action, e.Platform, ts, string(style), string(data))
		if err != nil {
			return errors.Wrap(err, "append event")
		}
		if inserted, err = result.RowsAffected(); err != nil {
			return errors.Wrap(err, "append event")
		}
		if inserted == 0 {
			return nil
		}
		return touchRoom(tx, roomID)
	})
	if err != nil {
		return false, err
	}
	return inserted > 0, nil
}

// ListEvents returns the room's events ordered by timestamp
func (d *Database) ListEvents(roomID string) ([]protocol.DrawingEvent, error) {
	stored, err := d.ListStoredEvents(roomID)
	if err != nil {
		return nil, err
	}
	events := make([]protocol.DrawingEvent, len(stored))
	for i, s := range stored {
		events[i] = s.DrawingEvent
	}
	return events, nil
}

// ListStoredEvents is ListEvents with room ids and insert times attached
func (d *Database) ListStoredEvents(roomID string) ([]protocol.StoredEvent, error) {
	var rows []eventRow
	err := d.db.Select(&rows, `
		SELECT `+eventColumns+`
		FROM drawing_events
		WHERE room_id = ?
		ORDER BY ts ASC, id ASC
	`, roomID)
	if err != nil {
		return nil, errors.Wrap(err, "list events")
	}

	events := make([]protocol.StoredEvent, 0, len(rows))
	for _, r := range rows {
		e, err := r.toStored()
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, nil
}

// GetEvent looks an event up by id in any room. Returns nil when missing.
func (d *Database) GetEvent(eventID string) (*protocol.StoredEvent, error) {
	var row eventRow
	err := d.db.Get(&row, "SELECT "+eventColumns+" FROM drawing_events WHERE event_id = ?", eventID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "get event")
	}

	e, err := row.toStored()
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// GetRoomEvent returns the event only if it is filed under roomID.
// ErrNotFound means no such event; ErrRoomMismatch means another room owns it.
func (d *Database) GetRoomEvent(roomID, eventID string) (*protocol.StoredEvent, error) {
	e, err := d.GetEvent(eventID)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, errors.Wrapf(ErrNotFound, "event %s", eventID)
	}
	if e.RoomID != roomID {
		return nil, errors.Wrapf(ErrRoomMismatch, "event %s", eventID)
	}
	return e, nil
}

// DeleteEvent removes an event by id and reports whether it existed
func (d *Database) DeleteEvent(eventID string) (bool, error) {
	result, err := d.db.Exec("DELETE FROM drawing_events WHERE event_id = ?", eventID)
	if err != nil {
		return false, errors.Wrap(err, "delete event")
	}
	n, err := result.RowsAffected()
	return n > 0, errors.Wrap(err, "delete event")
}

// ClearEvents deletes every event of a room
func (d *Database) ClearEvents(roomID string) (int64, error) {
	result, err := d.db.Exec("DELETE FROM drawing_events WHERE room_id = ?", roomID)
	if err != nil {
		return 0, errors.Wrap(err, "clear events")
	}
	return result.RowsAffected()
}

func (d *Database) CountEvents(roomID string) (int, error) {
	var count int
	err := d.db.Get(&count, "SELECT COUNT(*) FROM drawing_events WHERE room_id = ?", roomID)
	return count, errors.Wrap(err, "count events")
}
