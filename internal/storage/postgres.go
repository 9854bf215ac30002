package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore archives rooms in PostgreSQL.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore connects a pool to dsn and verifies it with a ping.
func NewPGStore(ctx context.Context, dsn string) (*PGStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &PGStore{pool: pool}, nil
}

func (s *PGStore) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

// Migrate creates the rooms table.
func (s *PGStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS rooms (
			room_id TEXT PRIMARY KEY CHECK (room_id <> ''),
			content TEXT NOT NULL,
			version BIGINT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`)
	return err
}

func (s *PGStore) SaveRoom(ctx context.Context, snapshot RoomSnapshot) error {
	if snapshot.RoomID == "" {
		return ErrInvalidSnapshot
	}
	if snapshot.UpdatedAt.IsZero() {
		snapshot.UpdatedAt = time.Now()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO rooms(room_id, content, version, updated_at) VALUES($1, $2, $3, $4)
		ON CONFLICT (room_id) DO UPDATE SET
			content = EXCLUDED.content,
			version = EXCLUDED.version,
			updated_at = EXCLUDED.updated_at
	`, snapshot.RoomID, snapshot.Content, snapshot.Version, snapshot.UpdatedAt.UTC())
	return err
}

func (s *PGStore) LoadRoom(ctx context.Context, roomID string) (*RoomSnapshot, error) {
	var snapshot RoomSnapshot
	err := s.pool.QueryRow(ctx, `SELECT room_id, content, version, updated_at FROM rooms WHERE room_id = $1`, roomID).
		Scan(&snapshot.RoomID, &snapshot.Content, &snapshot.Version, &snapshot.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &snapshot, nil
}
