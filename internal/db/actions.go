package db

import (
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/manpreetbhatti/drawsync/internal/protocol"
)

type actionRow struct {
	ID             int64    `db:"id"`
	RoomID         string   `db:"room_id"`
	X              float64  `db:"x"`
	Y              float64  `db:"y"`
	Lat            *float64 `db:"lat"`
	Lon            *float64 `db:"lon"`
	IsGeographical bool     `db:"is_geographical"`
	Action         string   `db:"action"`
	Color          string   `db:"color"`
	Size           int      `db:"size"`
	Tool           string   `db:"tool"`
	TS             int64    `db:"ts"`
}

func (r actionRow) toAction() protocol.DrawingAction {
	return protocol.DrawingAction{
		X:              r.X,
		Y:              r.Y,
		Lat:            r.Lat,
		Lon:            r.Lon,
		IsGeographical: r.IsGeographical,
		Action:         r.Action,
		Color:          r.Color,
		Size:           r.Size,
		Tool:           r.Tool,
		Timestamp:      time.Unix(0, r.TS).UTC(),
	}
}

// AppendAction stores one drawing action at the end of the room's history
func (d *Database) AppendAction(roomID string, a protocol.DrawingAction) error {
	ts, err := storedNanos(a.Timestamp)
	if err != nil {
		return errors.Wrap(err, "append action")
	}

	return d.inTx(func(tx *sqlx.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO drawing_actions (room_id, x, y, lat, lon, is_geographical, action, color, size, tool, ts)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, roomID, a.X, a.Y, a.Lat, a.Lon, a.IsGeographical, a.Action, a.Color, a.Size, a.Tool, ts)
		if err != nil {
			return errors.Wrap(err, "append action")
		}
		return touchRoom(tx, roomID)
	})
}

// ListActions returns the room's actions in insertion order
func (d *Database) ListActions(roomID string) ([]protocol.DrawingAction, error) {
	var rows []actionRow
	err := d.db.Select(&rows, `
		SELECT id, room_id, x, y, lat, lon, is_geographical, action, color, size, tool, ts
		FROM drawing_actions
		WHERE room_id = ?
		ORDER BY id ASC
	`, roomID)
	if err != nil {
		return nil, errors.Wrap(err, "list actions")
	}

	actions := make([]protocol.DrawingAction, len(rows))
	for i, r := range rows {
		actions[i] = r.toAction()
	}
	return actions, nil
}

func (d *Database) CountActions(roomID string) (int, error) {
	var count int
	err := d.db.Get(&count, "SELECT COUNT(*) FROM drawing_actions WHERE room_id = ?", roomID)
	return count, errors.Wrap(err, "count actions")
}

// ClearActions deletes the room's whole action history
func (d *Database) ClearActions(roomID string) error {
	_, err := d.db.Exec("DELETE FROM drawing_actions WHERE room_id = ?", roomID)
	return errors.Wrap(err, "clear actions")
}

// RoomsOverActionLimit lists rooms holding more than limit actions
func (d *Database) RoomsOverActionLimit(limit int) ([]string, error) {
	var rooms []string
	err := d.db.Select(&rooms, `
		SELECT room_id FROM drawing_actions
		GROUP BY room_id
		HAVING COUNT(*) > ?
	`, limit)
	return rooms, errors.Wrap(err, "rooms over action limit")
}

// TrimActions keeps only the newest keepCount actions of a room
func (d *Database) TrimActions(roomID string, keepCount int) (int64, error) {
	result, err := d.db.Exec(`
		DELETE FROM drawing_actions
		WHERE room_id = ? AND id NOT IN (
			SELECT id FROM drawing_actions
			WHERE room_id = ?
			ORDER BY id DESC
			LIMIT ?
		)
	`, roomID, roomID, keepCount)
	if err != nil {
		return 0, errors.Wrap(err, "trim actions")
	}
	return result.RowsAffected()
}
