package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"

	"github.com/hupe1980/exodus/core"
)

// Dialect describes the SQL flavour of a SQLStore.
type Dialect struct {
	Name   string
	Driver string
	Schema []string
}

var (
	// SQLite stores events through the pure Go modernc.org/sqlite driver.
	SQLite = Dialect{
		Name:   "sqlite",
		Driver: "sqlite",
		Schema: []string{
			`CREATE TABLE IF NOT EXISTS exodus_events (
        seq INTEGER PRIMARY KEY AUTOINCREMENT,
        session_id TEXT NOT NULL,
        event_id TEXT NOT NULL,
        kind TEXT NOT NULL,
        payload TEXT NOT NULL,
        created_at INTEGER NOT NULL
)`,
			`CREATE INDEX IF NOT EXISTS idx_exodus_events_session ON exodus_events (session_id, seq)`,
		},
	}

	// MySQL stores events through github.com/go-sql-driver/mysql.
	MySQL = Dialect{
		Name:   "mysql",
		Driver: "mysql",
		Schema: []string{
			`CREATE TABLE IF NOT EXISTS exodus_events (
        seq BIGINT AUTO_INCREMENT PRIMARY KEY,
        session_id VARCHAR(64) NOT NULL,
        event_id VARCHAR(64) NOT NULL,
        kind VARCHAR(32) NOT NULL,
        payload MEDIUMTEXT NOT NULL,
        created_at BIGINT NOT NULL,
        INDEX idx_exodus_events_session (session_id, seq)
)`,
		},
	}
)

// SQLStore keeps one row per event, ordered by an auto-increment sequence
// and scoped by session id. Several stores may share a *sql.DB.
type SQLStore struct {
	db        *sql.DB
	dialect   Dialect
	sessionID string
	ownsDB    bool

	mu sync.Mutex // serializes appends of this session
}

// OpenSQL opens dsn with the dialect's driver, creates the schema and
// returns a store scoped to sessionID.
func OpenSQL(ctx context.Context, dialect Dialect, dsn, sessionID string) (*SQLStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("memory: %s DSN must not be empty", dialect.Name)
	}

	dsn, err := normalizeDSN(dialect, dsn)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(dialect.Driver, dsn)
	if err != nil {
		return nil, core.PersistenceError("open "+dialect.Name, err)
	}

	switch dialect.Driver {
	case SQLite.Driver:
		// one writer; also keeps ":memory:" databases on a single connection
		db.SetMaxOpenConns(1)
	default:
		db.SetMaxOpenConns(20)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(10 * time.Minute)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, core.PersistenceError("connect "+dialect.Name, err)
	}

	if err := InitSchema(ctx, db, dialect); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := NewSQLStore(db, dialect, sessionID)
	s.ownsDB = true
	return s, nil
}

func normalizeDSN(dialect Dialect, dsn string) (string, error) {
	switch dialect.Driver {
	case MySQL.Driver:
		cfg, err := mysql.ParseDSN(dsn)
		if err != nil {
			return "", fmt.Errorf("memory: invalid mysql DSN: %w", err)
		}
		cfg.ParseTime = true
		return cfg.FormatDSN(), nil
	case SQLite.Driver:
		if !strings.Contains(dsn, "_pragma=busy_timeout") {
			sep := "?"
			if strings.Contains(dsn, "?") {
				sep = "&"
			}
			dsn += sep + "_pragma=busy_timeout(5000)"
		}
		return dsn, nil
	default:
		return dsn, nil
	}
}

// InitSchema creates the events table if it does not exist.
func InitSchema(ctx context.Context, db *sql.DB, dialect Dialect) error {
	for _, stmt := range dialect.Schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return core.PersistenceError("init schema", err)
		}
	}
	return nil
}

// NewSQLStore wraps an already initialised database.
func NewSQLStore(db *sql.DB, dialect Dialect, sessionID string) *SQLStore {
	return &SQLStore{db: db, dialect: dialect, sessionID: sessionID}
}

// SessionID returns the session the store is scoped to.
func (s *SQLStore) SessionID() string { return s.sessionID }

// Append inserts ev as the newest row of the session.
func (s *SQLStore) Append(ctx context.Context, ev core.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return core.PersistenceError("encode event", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	const stmt = `INSERT INTO exodus_events (session_id, event_id, kind, payload, created_at) VALUES (?, ?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, stmt, s.sessionID, ev.ID, string(ev.Kind), string(payload), ev.Timestamp.UnixMilli()); err != nil {
		return core.PersistenceError("append", err)
	}
	return nil
}

// History returns the session's events in insertion order. Payload numbers
// come back as float64.
func (s *SQLStore) History(ctx context.Context) ([]core.Event, error) {
	const query = `SELECT payload FROM exodus_events WHERE session_id = ? ORDER BY seq`
	rows, err := s.db.QueryContext(ctx, query, s.sessionID)
	if err != nil {
		return nil, core.PersistenceError("history", err)
	}
	defer rows.Close()

	var events []core.Event
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, core.PersistenceError("history", err)
		}
		var ev core.Event
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			return nil, core.PersistenceError("decode event", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, core.PersistenceError("history", err)
	}
	return events, nil
}

// Clear deletes every row of the session.
func (s *SQLStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM exodus_events WHERE session_id = ?`, s.sessionID); err != nil {
		return core.PersistenceError("clear", err)
	}
	return nil
}

// Compact deletes all but the newest keep rows of the session.
func (s *SQLStore) Compact(ctx context.Context, keep int) error {
	if keep <= 0 {
		keep = DefaultCompactKeep
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var cutoff int64
	const query = `SELECT seq FROM exodus_events WHERE session_id = ? ORDER BY seq DESC LIMIT 1 OFFSET ?`
	err := s.db.QueryRowContext(ctx, query, s.sessionID, keep-1).Scan(&cutoff)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return core.PersistenceError("compact", err)
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM exodus_events WHERE session_id = ? AND seq < ?`, s.sessionID, cutoff); err != nil {
		return core.PersistenceError("compact", err)
	}
	return nil
}

// Close closes the database when the store opened it.
func (s *SQLStore) Close() error {
	if !s.ownsDB {
		return nil
	}
	return s.db.Close()
}

var _ Store = (*SQLStore)(nil)
