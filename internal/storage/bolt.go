package storage

import (
	"context"
	"encoding/json"
	"time"

	bolt "go.etcd.io/bbolt"
)

var roomsBucket = []byte("rooms")

// BoltStore archives rooms in a single bbolt file, one JSON value per room id.
type BoltStore struct {
	db *bolt.DB
}

type boltRecord struct {
	Content   string    `json:"content"`
	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// NewBoltStore opens (or creates) the bbolt file at path and its bucket.
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(roomsBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *BoltStore) SaveRoom(ctx context.Context, snapshot RoomSnapshot) error {
	if snapshot.RoomID == "" {
		return ErrInvalidSnapshot
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if snapshot.UpdatedAt.IsZero() {
		snapshot.UpdatedAt = time.Now()
	}
	value, err := json.Marshal(boltRecord{
		Content:   snapshot.Content,
		Version:   snapshot.Version,
		UpdatedAt: snapshot.UpdatedAt.UTC(),
	})
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(roomsBucket).Put([]byte(snapshot.RoomID), value)
	})
}

func (s *BoltStore) LoadRoom(ctx context.Context, roomID string) (*RoomSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var snapshot *RoomSnapshot
	err := s.db.View(func(tx *bolt.Tx) error {
		value := tx.Bucket(roomsBucket).Get([]byte(roomID))
		if value == nil {
			return nil
		}
		var record boltRecord
		if err := json.Unmarshal(value, &record); err != nil {
			return err
		}
		snapshot = &RoomSnapshot{
			RoomID:    roomID,
			Content:   record.Content,
			Version:   record.Version,
			UpdatedAt: record.UpdatedAt,
		}
		return nil
	})
	return snapshot, err
}
