// Package storage provides the backends a reference entity node keeps its
// entities in.
//
// Every backend implements Store over opaque byte values keyed by entity id:
//
//	┌──────────────┐   ┌──────────────┐   ┌──────────────┐
//	│ MemoryStore  │   │  BoltStore   │   │  CacheStore  │
//	│ map + RWMutex│   │ bbolt bucket │   │  freecache   │
//	└──────────────┘   └──────────────┘   └──────────────┘
//	   volatile          persistent         bounded, evicts
//
// DeletePrefix serves record-level deletes, which remove every field entity
// of a record in one call. BoltStore answers it with a cursor seek; the other
// backends scan.
//
// Get always returns a copy, so callers may modify the returned slice.
package storage
