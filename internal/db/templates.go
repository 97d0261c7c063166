package db

import (
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/manpreetbhatti/drawsync/internal/protocol"
)

type templateRow struct {
	ID        int64     `db:"id"`
	RoomID    string    `db:"room_id"`
	Name      string    `db:"name"`
	Data      string    `db:"data"`
	CreatedAt time.Time `db:"created_at"`
}

func (d *Database) SaveTemplate(roomID, name string, data json.RawMessage) (int64, error) {
	var id int64
	err := d.inTx(func(tx *sqlx.Tx) error {
		result, err := tx.Exec(
			"INSERT INTO templates (room_id, name, data) VALUES (?, ?, ?)",
			roomID, name, string(data),
		)
		if err != nil {
			return errors.Wrap(err, "save template")
		}
		if id, err = result.LastInsertId(); err != nil {
			return errors.Wrap(err, "save template")
		}
		return touchRoom(tx, roomID)
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// ListTemplates returns the room's templates, newest first
func (d *Database) ListTemplates(roomID string) ([]protocol.Template, error) {
	var rows []templateRow
	err := d.db.Select(&rows, `
		SELECT id, room_id, name, data, created_at
		FROM templates
		WHERE room_id = ?
		ORDER BY id DESC
	`, roomID)
	if err != nil {
		return nil, errors.Wrap(err, "list templates")
	}

	templates := make([]protocol.Template, len(rows))
	for i, r := range rows {
		templates[i] = protocol.Template{
			ID:        r.ID,
			RoomID:    r.RoomID,
			Name:      r.Name,
			Data:      json.RawMessage(r.Data),
			CreatedAt: r.CreatedAt,
		}
	}
	return templates, nil
}

func (d *Database) CountTemplates(roomID string) (int, error) {
	var count int
	err := d.db.Get(&count, "SELECT COUNT(*) FROM templates WHERE room_id = ?", roomID)
	return count, errors.Wrap(err, "count templates")
}
