package storage

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/coocood/freecache"
)

// DefaultCacheBytes sizes a CacheStore when no size is given.
const DefaultCacheBytes = 64 * 1024 * 1024

// CacheStore keeps entities in a fixed-size freecache arena. When the arena
// is full the oldest entries are evicted, so a node backed by it may lose
// data under memory pressure. Entries never expire on their own.
type CacheStore struct {
	cache *freecache.Cache
}

var _ Store = (*CacheStore)(nil)

// NewCacheStore creates a cache of size bytes. freecache raises sizes below
// 512KB to that minimum.
func NewCacheStore(size int) *CacheStore {
	if size <= 0 {
		size = DefaultCacheBytes
	}
	return &CacheStore{cache: freecache.NewCache(size)}
}

func (s *CacheStore) Get(id string) ([]byte, error) {
	v, err := s.cache.Get([]byte(id))
	if errors.Is(err, freecache.ErrNotFound) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}

func (s *CacheStore) Put(id string, value []byte) error {
	if err := s.cache.Set([]byte(id), value, 0); err != nil {
		return fmt.Errorf("cache put %q: %w", id, err)
	}
	return nil
}

func (s *CacheStore) Delete(id string) error {
	s.cache.Del([]byte(id))
	return nil
}

// DeletePrefix walks the whole arena; freecache has no ordered index.
func (s *CacheStore) DeletePrefix(prefix string) (int, error) {
	p := []byte(prefix)
	var matches [][]byte
	it := s.cache.NewIterator()
	for e := it.Next(); e != nil; e = it.Next() {
		if bytes.HasPrefix(e.Key, p) {
			matches = append(matches, e.Key)
		}
	}

	removed := 0
	for _, k := range matches {
		if s.cache.Del(k) {
			removed++
		}
	}
	return removed, nil
}

func (s *CacheStore) List() []string {
	var ids []string
	it := s.cache.NewIterator()
	for e := it.Next(); e != nil; e = it.Next() {
		ids = append(ids, string(e.Key))
	}
	return ids
}

func (s *CacheStore) Stats() StoreStats {
	var stats StoreStats
	it := s.cache.NewIterator()
	for e := it.Next(); e != nil; e = it.Next() {
		stats.Keys++
		stats.Bytes += len(e.Value)
	}
	return stats
}

// Evictions returns how many entries freecache has evicted to make room.
func (s *CacheStore) Evictions() int64 {
	return s.cache.EvacuateCount()
}

// Close drops all entries.
func (s *CacheStore) Close() error {
	s.cache.Clear()
	return nil
}
