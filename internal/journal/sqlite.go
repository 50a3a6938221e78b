package journal

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/causalverse/internal/causal"
	"github.com/roach88/causalverse/internal/store"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema
// 1 - Added replay-order index on events(universe_id, timestamp, id)
const currentSchemaVersion = 1

// SQLite is a Journal backed by a SQLite database in WAL mode.
type SQLite struct {
	db *sql.DB
}

var _ Journal = (*SQLite)(nil)

// OpenSQLite creates or opens a journal database at path.
// Applies required pragmas and migrations automatically.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode
//   - 5-second busy timeout for lock contention
//
// Safe to call on an existing journal.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

// Close closes the database connection.
func (s *SQLite) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Append inserts events in one transaction.
// Uses ON CONFLICT DO NOTHING so re-appending an event is a no-op.
func (s *SQLite) Append(ctx context.Context, universeID string, events []causal.Event) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("append: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO events
		(universe_id, id, store_key, timestamp, kind, value, caused_by, origin, observer_id, tags)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(universe_id, id) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("append: %w", err)
	}
	defer stmt.Close()

	for _, e := range events {
		r, err := encodeEvent(e)
		if err != nil {
			return fmt.Errorf("append: %w", err)
		}
		if _, err := stmt.ExecContext(ctx,
			universeID, r.ID, r.StoreKey, r.Timestamp, r.Kind,
			r.Value, r.CausedBy, r.Origin, r.ObserverID, r.Tags,
		); err != nil {
			return fmt.Errorf("append event %s: %w", e.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("append: %w", err)
	}
	return nil
}

// SaveBranches upserts one row per store.
func (s *SQLite) SaveBranches(ctx context.Context, universeID string, branches map[string]store.BranchState) error {
	if len(branches) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save branches: %w", err)
	}
	defer tx.Rollback()

	for key, b := range branches {
		state, err := marshalBranches(b)
		if err != nil {
			return fmt.Errorf("save branches of %s: %w", key, err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO branches (universe_id, store_key, state)
			VALUES (?, ?, ?)
			ON CONFLICT(universe_id, store_key) DO UPDATE SET state = excluded.state
		`, universeID, key, state); err != nil {
			return fmt.Errorf("save branches of %s: %w", key, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("save branches: %w", err)
	}
	return nil
}

// Load returns the events of universeID.
// Returns an empty slice (not nil) for an unknown universe.
func (s *SQLite) Load(ctx context.Context, universeID string) ([]causal.Event, error) {
	// CRITICAL: COLLATE BINARY keeps the id tiebreak byte-ordered
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, store_key, timestamp, kind, value, caused_by, origin, observer_id, tags
		FROM events
		WHERE universe_id = ?
		ORDER BY timestamp ASC, id COLLATE BINARY ASC
	`, universeID)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", universeID, err)
	}
	defer rows.Close()

	events := []causal.Event{}
	for rows.Next() {
		var r eventRow
		if err := rows.Scan(&r.ID, &r.StoreKey, &r.Timestamp, &r.Kind, &r.Value,
			&r.CausedBy, &r.Origin, &r.ObserverID, &r.Tags); err != nil {
			return nil, fmt.Errorf("load %s: scan: %w", universeID, err)
		}
		e, err := decodeEvent(r)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", universeID, err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load %s: %w", universeID, err)
	}
	return events, nil
}

// Branches returns the saved branch pointers of universeID.
func (s *SQLite) Branches(ctx context.Context, universeID string) (map[string]store.BranchState, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT store_key, state FROM branches WHERE universe_id = ?
	`, universeID)
	if err != nil {
		return nil, fmt.Errorf("branches of %s: %w", universeID, err)
	}
	defer rows.Close()

	out := make(map[string]store.BranchState)
	for rows.Next() {
		var key, state string
		if err := rows.Scan(&key, &state); err != nil {
			return nil, fmt.Errorf("branches of %s: scan: %w", universeID, err)
		}
		b, err := unmarshalBranches(state)
		if err != nil {
			return nil, fmt.Errorf("branches of %s/%s: %w", universeID, key, err)
		}
		out[key] = b
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("branches of %s: %w", universeID, err)
	}
	return out, nil
}

// Universes lists every universe with at least one journaled event.
func (s *SQLite) Universes(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT universe_id FROM events ORDER BY universe_id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("universes: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("universes: scan: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("universes: %w", err)
	}
	return ids, nil
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	if err := runMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	if version < 1 {
		if err := migrateToV1(db); err != nil {
			return err
		}
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

func migrateToV1(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_events_replay
		ON events(universe_id, timestamp, id)
	`)
	if err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *SQLite) verifyPragma(name, expected string) error {
	var value string
	if err := s.db.QueryRow(fmt.Sprintf("PRAGMA %s", name)).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
