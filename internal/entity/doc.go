// Package entity implements a reference entity node: the HTTP backend that
// multikv clients fan out to.
//
// A node stores opaque values keyed by entity id in a storage.Store and
// answers with the status codes clients count as acknowledgements (200 for
// reads, 201 for writes, 202 for deletes). It keeps per-operation counters
// for /stats.
package entity
