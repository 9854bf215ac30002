package storage

import (
	"context"
	"strings"
)

// Open picks a backend from the dsn scheme:
//
//	postgres:// or postgresql://  PostgreSQL via pgx
//	bolt://<path>                 a bbolt file
//	none or ""                    no archive
//	anything else                 a SQLite file path (sqlite:// optional)
//
// The returned store is migrated. A nil store with a nil error means archiving is off.
func Open(ctx context.Context, dsn string) (SnapshotStore, error) {
	dsn = strings.TrimSpace(dsn)
	switch {
	case dsn == "" || strings.EqualFold(dsn, "none"):
		return nil, nil
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		store, err := NewPGStore(ctx, dsn)
		if err != nil {
			return nil, err
		}
		if err := store.Migrate(ctx); err != nil {
			_ = store.Close()
			return nil, err
		}
		return store, nil
	case strings.HasPrefix(dsn, "bolt://"):
		store, err := NewBoltStore(strings.TrimPrefix(dsn, "bolt://"))
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		store, err := NewStore(dsn)
		if err != nil {
			return nil, err
		}
		if err := store.Migrate(ctx); err != nil {
			_ = store.Close()
			return nil, err
		}
		return store, nil
	}
}
