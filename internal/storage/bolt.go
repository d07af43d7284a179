package storage

import (
	"bytes"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var entityBucket = []byte("entities")

// BoltStore persists entities in a single bbolt bucket.
type BoltStore struct {
	db *bolt.DB
}

var _ Store = (*BoltStore)(nil)

// OpenBolt opens or creates the database file at path.
func OpenBolt(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bbolt store at %s: %w", path, err)
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(entityBucket)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure entity bucket exists: %w", err)
	}

	return &BoltStore{db: db}, nil
}

// Path returns the database file path.
func (s *BoltStore) Path() string {
	return s.db.Path()
}

func (s *BoltStore) Get(id string) ([]byte, error) {
	var value []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(entityBucket).Get([]byte(id))
		if v == nil {
			return ErrKeyNotFound
		}
		// v is only valid for the lifetime of the transaction
		value = clone(v)
		return nil
	})
	return value, err
}

func (s *BoltStore) Put(id string, value []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(entityBucket).Put([]byte(id), value)
	})
}

func (s *BoltStore) Delete(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(entityBucket).Delete([]byte(id))
	})
}

// DeletePrefix seeks to prefix and removes the contiguous run of matching
// keys in one transaction.
func (s *BoltStore) DeletePrefix(prefix string) (int, error) {
	p := []byte(prefix)
	removed := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(entityBucket)

		var matches [][]byte
		c := b.Cursor()
		for k, _ := c.Seek(p); k != nil && bytes.HasPrefix(k, p); k, _ = c.Next() {
			matches = append(matches, clone(k))
		}
		for _, k := range matches {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		removed = len(matches)
		return nil
	})
	return removed, err
}

func (s *BoltStore) List() []string {
	var ids []string
	_ = s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(entityBucket).ForEach(func(k, _ []byte) error {
			ids = append(ids, string(k))
			return nil
		})
	})
	return ids
}

func (s *BoltStore) Stats() StoreStats {
	var stats StoreStats
	_ = s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(entityBucket).ForEach(func(_, v []byte) error {
			stats.Keys++
			stats.Bytes += len(v)
			return nil
		})
	})
	return stats
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
