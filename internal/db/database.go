package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

var (
	ErrRoomNotFound = errors.New("room not found")
	ErrRoomExists   = errors.New("room already exists")
)

// Database is the registry of live rooms. A row exists only while its room
// does; nothing about finished rooms is kept.
type Database struct {
	db *sql.DB
}

type Room struct {
	ID         string
	Kind       string
	MaxPlayers int
	// Canonical settings for registry rooms, nil otherwise
	Settings  json.RawMessage
	CreatedAt time.Time
	UpdatedAt time.Time
}

func New(dbPath string) (*Database, error) {
	// Ensure directory exists
	if dbPath != ":memory:" {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable wal: %w", err)
	}

	if err := createTables(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}

	log.Info().Str("path", dbPath).Msg("room registry ready")
	return &Database{db: db}, nil
}

func createTables(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS rooms (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL DEFAULT 'push',
		max_players INTEGER NOT NULL,
		settings_json BLOB,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_rooms_updated_at ON rooms(updated_at);
	`

	_, err := db.Exec(schema)
	return err
}

func (d *Database) Close() error {
	return d.db.Close()
}

// Room operations

func (d *Database) CreateRoom(id, kind string, maxPlayers int, settings json.RawMessage) (*Room, error) {
	var blob any
	if len(settings) > 0 {
		blob = []byte(settings)
	}
	res, err := d.db.Exec(
		"INSERT OR IGNORE INTO rooms (id, kind, max_players, settings_json) VALUES (?, ?, ?, ?)",
		id, kind, maxPlayers, blob,
	)
	if err != nil {
		return nil, fmt.Errorf("insert room %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, ErrRoomExists
	}
	return d.GetRoom(id)
}

// EnsureRoom returns the room, registering it with the given defaults when
// it does not exist yet. An existing room is touched so a sweep running
// concurrently cannot remove it.
func (d *Database) EnsureRoom(id, kind string, maxPlayers int) (*Room, error) {
	room, err := d.CreateRoom(id, kind, maxPlayers, nil)
	if !errors.Is(err, ErrRoomExists) {
		return room, err
	}
	if err := d.TouchRoom(id); err != nil {
		return nil, fmt.Errorf("touch room %s: %w", id, err)
	}
	return d.GetRoom(id)
}

func (d *Database) GetRoom(id string) (*Room, error) {
	row := d.db.QueryRow(
		"SELECT id, kind, max_players, settings_json, created_at, updated_at FROM rooms WHERE id = ?",
		id,
	)

	room, err := scanRoom(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRoomNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get room %s: %w", id, err)
	}
	return room, nil
}

func (d *Database) ListRooms(limit, offset int) ([]Room, error) {
	rows, err := d.db.Query(
		"SELECT id, kind, max_players, settings_json, created_at, updated_at FROM rooms ORDER BY updated_at DESC, id LIMIT ? OFFSET ?",
		limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rooms []Room
	for rows.Next() {
		room, err := scanRoom(rows)
		if err != nil {
			return nil, err
		}
		rooms = append(rooms, *room)
	}
	return rooms, rows.Err()
}

// Rooms whose last activity is older than cutoff
func (d *Database) ListRoomsIdleSince(cutoff time.Time) ([]string, error) {
	rows, err := d.db.Query(
		"SELECT id FROM rooms WHERE updated_at < ? ORDER BY updated_at",
		sqlTime(cutoff),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (d *Database) TouchRoom(id string) error {
	_, err := d.db.Exec(
		"UPDATE rooms SET updated_at = CURRENT_TIMESTAMP WHERE id = ?",
		id,
	)
	return err
}

func (d *Database) DeleteRoom(id string) error {
	_, err := d.db.Exec("DELETE FROM rooms WHERE id = ?", id)
	return err
}

// DeleteRoomIdleSince removes the room only if it is still idle, so a room
// touched after it was listed survives. Reports whether a row was removed.
func (d *Database) DeleteRoomIdleSince(id string, cutoff time.Time) (bool, error) {
	res, err := d.db.Exec("DELETE FROM rooms WHERE id = ? AND updated_at < ?", id, sqlTime(cutoff))
	if err != nil {
		return false, fmt.Errorf("delete idle room %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Matches the CURRENT_TIMESTAMP text format so comparisons are lexical
func sqlTime(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04:05")
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRoom(s scanner) (*Room, error) {
	var room Room
	var settings []byte
	if err := s.Scan(&room.ID, &room.Kind, &room.MaxPlayers, &settings, &room.CreatedAt, &room.UpdatedAt); err != nil {
		return nil, err
	}
	if len(settings) > 0 {
		room.Settings = json.RawMessage(settings)
	}
	return &room, nil
}

// Stats counts registered rooms by kind
type Stats struct {
	Rooms         int
	RegistryRooms int
}

func (d *Database) GetStats() (Stats, error) {
	var stats Stats
	err := d.db.QueryRow(
		"SELECT COUNT(*), COUNT(CASE WHEN kind = 'registry' THEN 1 END) FROM rooms",
	).Scan(&stats.Rooms, &stats.RegistryRooms)
	if err != nil {
		return Stats{}, fmt.Errorf("room stats: %w", err)
	}
	return stats, nil
}
