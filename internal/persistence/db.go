// Package persistence provides SQLite-backed history for the server:
// finished regenerations, the event log and a small key-value table.
package persistence

import (
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/talgya/sharedhealth/internal/engine"
)

// DB wraps a SQLite connection.
type DB struct {
	conn *sqlx.DB
}

// Open opens or creates a SQLite database at the given path.
func Open(path string) (*DB, error) {
	conn, err := sqlx.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS generations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		seed INTEGER NOT NULL,
		started_ms INTEGER NOT NULL,
		finished_ms INTEGER NOT NULL,
		ok INTEGER NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		migrated INTEGER NOT NULL DEFAULT 0,
		chunk_bytes INTEGER NOT NULL DEFAULT 0,
		deleted INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		tick INTEGER NOT NULL,
		description TEXT NOT NULL,
		category TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS world_meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_events_tick ON events(tick);
	CREATE INDEX IF NOT EXISTS idx_generations_ok ON generations(ok);
	`
	_, err := db.conn.Exec(schema)
	return err
}

type generationRow struct {
	ID         int64  `db:"id"`
	Name       string `db:"name"`
	Seed       int64  `db:"seed"`
	StartedMs  int64  `db:"started_ms"`
	FinishedMs int64  `db:"finished_ms"`
	OK         bool   `db:"ok"`
	Error      string `db:"error"`
	Migrated   int    `db:"migrated"`
	ChunkBytes int64  `db:"chunk_bytes"`
	Deleted    int    `db:"deleted"`
}

// RecordGeneration appends one finished regeneration.
func (db *DB) RecordGeneration(rec engine.GenerationRecord) error {
	_, err := db.conn.NamedExec(`INSERT INTO generations
		(name, seed, started_ms, finished_ms, ok, error, migrated, chunk_bytes, deleted)
		VALUES (:name, :seed, :started_ms, :finished_ms, :ok, :error, :migrated, :chunk_bytes, :deleted)`,
		generationRow{
			Name:       rec.Name,
			Seed:       rec.Seed,
			StartedMs:  rec.StartedAt.UnixMilli(),
			FinishedMs: rec.FinishedAt.UnixMilli(),
			OK:         rec.OK,
			Error:      rec.Error,
			Migrated:   rec.Migrated,
			ChunkBytes: rec.ChunkBytes,
			Deleted:    rec.Deleted,
		},
	)
	if err != nil {
		return fmt.Errorf("insert generation %s: %w", rec.Name, err)
	}
	return nil
}

// Generations returns the most recent regenerations, newest first.
func (db *DB) Generations(limit int) ([]engine.GenerationRecord, error) {
	var rows []generationRow
	err := db.conn.Select(&rows,
		"SELECT * FROM generations ORDER BY id DESC LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, err
	}

	out := make([]engine.GenerationRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, engine.GenerationRecord{
			Name:       r.Name,
			Seed:       r.Seed,
			StartedAt:  time.UnixMilli(r.StartedMs).UTC(),
			FinishedAt: time.UnixMilli(r.FinishedMs).UTC(),
			OK:         r.OK,
			Error:      r.Error,
			Migrated:   r.Migrated,
			ChunkBytes: r.ChunkBytes,
			Deleted:    r.Deleted,
		})
	}
	return out, nil
}

// SaveEvents appends events to the database.
func (db *DB) SaveEvents(events []engine.Event) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, e := range events {
		_, err := tx.Exec(
			"INSERT INTO events (tick, description, category) VALUES (?, ?, ?)",
			e.Tick, e.Description, e.Category,
		)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// RecentEvents returns the most recent N events, newest first.
func (db *DB) RecentEvents(limit int) ([]engine.Event, error) {
	var events []engine.Event
	err := db.conn.Select(&events,
		"SELECT tick, description, category FROM events ORDER BY id DESC LIMIT ?",
		limit,
	)
	return events, err
}

// SaveMeta stores a key-value pair.
func (db *DB) SaveMeta(key, value string) error {
	_, err := db.conn.Exec(
		"INSERT OR REPLACE INTO world_meta (key, value) VALUES (?, ?)",
		key, value,
	)
	return err
}

// GetMeta retrieves a metadata value.
func (db *DB) GetMeta(key string) (string, error) {
	var value string
	err := db.conn.Get(&value, "SELECT value FROM world_meta WHERE key = ?", key)
	return value, err
}

// SaveStatus records the shutdown snapshot.
func (db *DB) SaveStatus(st engine.Status) error {
	meta := map[string]string{
		"last_tick":            strconv.FormatUint(st.Tick, 10),
		engine.MetaActiveWorld: st.Active,
		"completed":            strconv.Itoa(st.Completed),
	}
	for k, v := range meta {
		if err := db.SaveMeta(k, v); err != nil {
			return fmt.Errorf("save meta %s: %w", k, err)
		}
	}
	slog.Info("status saved", "tick", st.Tick, "active", st.Active)
	return nil
}
