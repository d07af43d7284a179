// Package cluster describes the backend nodes a multikv client talks to and
// decides which node serves each sub-request.
//
// # Overview
//
// The node set is small, ordered and fixed for the lifetime of the process.
// Nothing is discovered, added or removed at runtime:
//
//	           ┌──────────────┐
//	           │ multikv      │
//	           │ client       │
//	           └──────┬───────┘
//	                  │ one sub-request per field
//	   ┌──────────────┼──────────────┐
//	   ▼              ▼              ▼
//	┌────────┐   ┌────────┐    ┌────────┐
//	│ node 0 │   │ node 1 │    │ node 2 │
//	│ :8020  │   │ :8021  │    │ :8022  │
//	└────────┘   └────────┘    └────────┘
//
// # Selection policies
//
// PolicyFixed: every sub-request goes to node 0.
//
// PolicyRoundRobin: a Rotation hands out nodes in order across the
// sub-requests of one logical operation, wrapping modulo the node count.
// Reads start at node 0 (StartAtZero); writes advance before the first pick
// and start at node 1 (PreIncrement).
//
// PolicyRandom: a node is chosen uniformly for each sub-request.
//
// A FirstNode rotation pins node 0 under every policy. Record deletes use it.
//
// # Concurrency
//
// Registry is immutable after NewRegistry and may be shared freely.
// A Rotation belongs to exactly one operation and is not synchronized.
//
// # Usage
//
//	nodes, _ := cluster.ParseEndpoints("localhost:8020,localhost:8021,localhost:8022")
//	reg, _ := cluster.NewRegistry(nodes, cluster.PolicyRoundRobin)
//
//	rot := reg.Rotation(cluster.StartAtZero)
//	for _, field := range fields {
//	    idx, node, sweep := rot.Next()
//	    ...
//	}
package cluster
