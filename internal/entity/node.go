package entity

import (
	"errors"
	"sync/atomic"

	"github.com/dreamware/multikv/internal/keycodec"
	"github.com/dreamware/multikv/internal/storage"
)

// Node is a single entity node: one store plus operation counters.
// A node does not replicate; the replicas hint of incoming requests is only
// recorded.
type Node struct {
	ID      string
	Backend string        // name of the storage backend, for /stats
	Store   storage.Store // where entities live

	gets          atomic.Uint64
	misses        atomic.Uint64
	puts          atomic.Uint64
	deletes       atomic.Uint64
	prefixDeletes atomic.Uint64
	badRequests   atomic.Uint64
}

// OperationStats counts handled requests.
type OperationStats struct {
	Gets          uint64 `json:"gets"`
	Misses        uint64 `json:"misses"` // gets answered with 404
	Puts          uint64 `json:"puts"`
	Deletes       uint64 `json:"deletes"`
	PrefixDeletes uint64 `json:"prefix_deletes"` // record-level deletes
	BadRequests   uint64 `json:"bad_requests"`
}

// Stats is the body of GET /stats.
type Stats struct {
	NodeID  string             `json:"node_id"`
	Backend string             `json:"backend"`
	Ops     OperationStats     `json:"operations"`
	Storage storage.StoreStats `json:"storage"`
}

// NewNode creates a node over store.
func NewNode(id, backend string, store storage.Store) *Node {
	return &Node{ID: id, Backend: backend, Store: store}
}

// Get returns the value stored under id.
func (n *Node) Get(id string) ([]byte, error) {
	n.gets.Add(1)
	v, err := n.Store.Get(id)
	if errors.Is(err, storage.ErrKeyNotFound) {
		n.misses.Add(1)
	}
	return v, err
}

// Put stores value under id.
func (n *Node) Put(id string, value []byte) error {
	n.puts.Add(1)
	return n.Store.Put(id, value)
}

// Delete removes id. A record delete id ("tk*") removes every field entity
// of the record ("tk|..."); any other id is removed verbatim. It returns the
// number of entities the call targeted for prefix deletes, or 1.
func (n *Node) Delete(id string) (int, error) {
	if prefix, ok := keycodec.DeletePrefix(id); ok {
		n.prefixDeletes.Add(1)
		return n.Store.DeletePrefix(prefix)
	}
	n.deletes.Add(1)
	return 1, n.Store.Delete(id)
}

// Stats returns a snapshot of the counters and storage statistics.
func (n *Node) Stats() Stats {
	return Stats{
		NodeID:  n.ID,
		Backend: n.Backend,
		Ops: OperationStats{
			Gets:          n.gets.Load(),
			Misses:        n.misses.Load(),
			Puts:          n.puts.Load(),
			Deletes:       n.deletes.Load(),
			PrefixDeletes: n.prefixDeletes.Load(),
			BadRequests:   n.badRequests.Load(),
		},
		Storage: n.Store.Stats(),
	}
}
