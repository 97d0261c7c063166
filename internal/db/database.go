package db

import (
	"database/sql"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"github.com/manpreetbhatti/drawsync/internal/protocol"
)

var (
	ErrNotFound = errors.New("not found")
	// The record exists but is filed under another room
	ErrRoomMismatch = errors.New("belongs to another room")
)

type Database struct {
	db *sqlx.DB
}

type Room struct {
	ID        string    `db:"id" json:"id"`
	Name      string    `db:"name" json:"name,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

func New(dbPath string) (*Database, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrapf(err, "create database dir %s", dir)
	}

	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}

	// One writer at a time; SQLite serializes writes anyway and this avoids
	// SQLITE_BUSY under concurrent sessions.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "enable WAL")
	}

	if err := createTables(db); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "create tables")
	}

	slog.Info("database initialized", "path", dbPath)
	return &Database{db: db}, nil
}

func createTables(db *sqlx.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS rooms (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS drawing_actions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		room_id TEXT NOT NULL,
		x REAL NOT NULL DEFAULT 0,
		y REAL NOT NULL DEFAULT 0,
		lat REAL,
		lon REAL,
		is_geographical BOOLEAN NOT NULL DEFAULT FALSE,
		action TEXT NOT NULL,
		color TEXT NOT NULL DEFAULT '#000000',
		size INTEGER NOT NULL DEFAULT 5,
		tool TEXT NOT NULL DEFAULT 'brush',
		ts INTEGER NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_drawing_actions_room ON drawing_actions(room_id, id);

	CREATE TABLE IF NOT EXISTS drawing_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		event_id TEXT NOT NULL,
		room_id TEXT NOT NULL,
		event_name TEXT NOT NULL DEFAULT '',
		drawing_type TEXT NOT NULL,
		action TEXT NOT NULL,
		platform TEXT NOT NULL,
		ts INTEGER NOT NULL,
		style TEXT NOT NULL,
		data TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_drawing_events_event_id ON drawing_events(event_id);
	CREATE INDEX IF NOT EXISTS idx_drawing_events_room ON drawing_events(room_id, ts);

	CREATE TABLE IF NOT EXISTS templates (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		room_id TEXT NOT NULL,
		name TEXT NOT NULL,
		data TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_templates_room ON templates(room_id, id DESC);

	CREATE TABLE IF NOT EXISTS app_versions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		platform TEXT NOT NULL,
		version TEXT NOT NULL,
		download_url TEXT NOT NULL,
		file_size INTEGER NOT NULL,
		release_notes TEXT NOT NULL DEFAULT '',
		is_required BOOLEAN NOT NULL DEFAULT FALSE,
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_app_versions_platform ON app_versions(platform, created_at DESC);
	`

	_, err := db.Exec(schema)
	return err
}

func (d *Database) Close() error {
	return d.db.Close()
}

// Room operations

// GetRoom returns the stored room record, or nil if nothing was ever
// stored under id
func (d *Database) GetRoom(id string) (*Room, error) {
	var room Room
	err := d.db.Get(&room, "SELECT id, name, created_at, updated_at FROM rooms WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "get room")
	}
	return &room, nil
}

// ListRooms pages through rooms with stored state, most recently written first
func (d *Database) ListRooms(limit, offset int) ([]Room, error) {
	rooms := []Room{}
	err := d.db.Select(&rooms,
		"SELECT id, name, created_at, updated_at FROM rooms ORDER BY updated_at DESC, id ASC LIMIT ? OFFSET ?",
		limit, offset,
	)
	return rooms, errors.Wrap(err, "list rooms")
}

// touchRoom records that roomID has stored state
func touchRoom(ex sqlx.Execer, roomID string) error {
	_, err := ex.Exec(`
		INSERT INTO rooms (id) VALUES (?)
		ON CONFLICT(id) DO UPDATE SET updated_at = CURRENT_TIMESTAMP
	`, roomID)
	return errors.Wrap(err, "touch room")
}

// inTx runs fn in a transaction, committing only if fn succeeds
func (d *Database) inTx(fn func(tx *sqlx.Tx) error) error {
	tx, err := d.db.Beginx()
	if err != nil {
		return errors.Wrap(err, "begin transaction")
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return errors.Wrap(tx.Commit(), "commit transaction")
}

// storedNanos converts t to the integer column format
func storedNanos(t time.Time) (int64, error) {
	if !protocol.TimestampInRange(t) {
		return 0, errors.Errorf("timestamp %s is outside the storable range", t.Format(time.RFC3339))
	}
	return t.UnixNano(), nil
}

// Stats

func (d *Database) GetStats() (map[string]interface{}, error) {
	stats := make(map[string]interface{})

	counts := []struct {
		key   string
		query string
	}{
		{"room_count", "SELECT COUNT(*) FROM rooms"},
		{"action_count", "SELECT COUNT(*) FROM drawing_actions"},
		{"event_count", "SELECT COUNT(*) FROM drawing_events"},
		{"template_count", "SELECT COUNT(*) FROM templates"},
	}
	for _, c := range counts {
		var n int
		if err := d.db.Get(&n, c.query); err != nil {
			return nil, errors.Wrapf(err, "count %s", c.key)
		}
		stats[c.key] = n
	}

	return stats, nil
}
