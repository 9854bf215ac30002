package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sqlite "modernc.org/sqlite"
)

const (
	sqliteConstraintCode = 19
	defaultBusyTimeout   = 5000
)

// RoomSnapshot is the archived document of a room that is no longer live.
type RoomSnapshot struct {
	RoomID    string
	Content   string
	Version   int64
	UpdatedAt time.Time
}

// SnapshotStore archives room documents across evictions and restarts.
// LoadRoom returns (nil, nil) when nothing is archived under the id.
type SnapshotStore interface {
	SaveRoom(ctx context.Context, snapshot RoomSnapshot) error
	LoadRoom(ctx context.Context, roomID string) (*RoomSnapshot, error)
	Close() error
}

// ErrInvalidSnapshot is returned when a snapshot has no room id.
var ErrInvalidSnapshot = errors.New("snapshot requires a room id")

// Store wraps the SQLite handle.
type Store struct {
	db *sql.DB
}

// NewStore initializes the SQLite database at the provided path. Call Close when done.
func NewStore(path string) (*Store, error) {
	if path == "" {
		path = "collabroom.db"
	}
	dsn := buildDSN(path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d;", defaultBusyTimeout)); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the underlying DB connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func buildDSN(path string) string {
	switch {
	case strings.HasPrefix(path, "sqlite://"):
		path = path[len("sqlite://"):]
	case strings.HasPrefix(path, "file:"), strings.HasPrefix(path, ":memory:"):
		// already in a form sqlite understands
	default:
		path = "file:" + path
	}
	separator := "?"
	if strings.Contains(path, "?") {
		separator = "&"
	}
	return fmt.Sprintf("%s%s_pragma=busy_timeout=%d", path, separator, defaultBusyTimeout)
}

// Migrate runs the schema creation statements.
func (s *Store) Migrate(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS rooms (
			room_id TEXT PRIMARY KEY CHECK (room_id <> ''),
			content TEXT NOT NULL,
			version INTEGER NOT NULL,
			updated_at DATETIME NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS rooms_updated_at ON rooms(updated_at);`,
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	for _, stmt := range statements {
		if _, err = tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// SaveRoom inserts or replaces the archived document for a room.
func (s *Store) SaveRoom(ctx context.Context, snapshot RoomSnapshot) error {
	if snapshot.UpdatedAt.IsZero() {
		snapshot.UpdatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rooms(room_id, content, version, updated_at) VALUES(?, ?, ?, ?)
		ON CONFLICT(room_id) DO UPDATE SET
			content = excluded.content,
			version = excluded.version,
			updated_at = excluded.updated_at
	`, snapshot.RoomID, snapshot.Content, snapshot.Version, snapshot.UpdatedAt.UTC())
	if err != nil {
		if isConstraintError(err) {
			return ErrInvalidSnapshot
		}
		return err
	}
	return nil
}

// LoadRoom fetches the archived document for a room.
func (s *Store) LoadRoom(ctx context.Context, roomID string) (*RoomSnapshot, error) {
	row := s.db.QueryRowContext(ctx, `SELECT room_id, content, version, updated_at FROM rooms WHERE room_id = ?`, roomID)
	var snapshot RoomSnapshot
	if err := row.Scan(&snapshot.RoomID, &snapshot.Content, &snapshot.Version, &snapshot.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &snapshot, nil
}

func isConstraintError(err error) bool {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code() == sqliteConstraintCode
	}
	return false
}
