package cluster

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"

	"golang.org/x/exp/slices"
)

// ErrUnknownPolicy is returned for a selection policy name that is not
// one of the Policy constants.
var ErrUnknownPolicy = errors.New("unknown node selection policy")

// Policy decides which node serves each sub-request of an operation.
type Policy string

const (
	// PolicyFixed sends everything to the first configured node.
	PolicyFixed Policy = "fixed"
	// PolicyRoundRobin rotates through the nodes across the sub-requests of
	// one logical operation.
	PolicyRoundRobin Policy = "round-robin"
	// PolicyRandom picks a node uniformly per sub-request.
	PolicyRandom Policy = "random"
)

// ParsePolicy accepts the policy names case-insensitively.
func ParsePolicy(s string) (Policy, error) {
	p := Policy(strings.ToLower(strings.TrimSpace(s)))
	switch p {
	case PolicyFixed, PolicyRoundRobin, PolicyRandom:
		return p, nil
	case "":
		return PolicyFixed, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownPolicy, s)
}

// MultiNode reports whether the policy spreads traffic over all nodes.
func (p Policy) MultiNode() bool {
	return p == PolicyRoundRobin || p == PolicyRandom
}

// Start selects where a round-robin rotation begins.
//
// The read path indexes first and advances afterwards, so its first
// sub-request goes to node 0. The write path advances before indexing, so its
// first sub-request goes to node 1. FirstNode ignores the policy and always
// picks node 0; record deletes use it.
type Start int

const (
	StartAtZero Start = iota
	PreIncrement
	FirstNode
)

// Registry holds the ordered node list and the selection policy.
// It is immutable after construction and safe for concurrent use.
type Registry struct {
	nodes  []NodeEndpoint
	policy Policy
	intn   func(n int) int
}

// NewRegistry builds a registry over a copy of nodes.
func NewRegistry(nodes []NodeEndpoint, policy Policy) (*Registry, error) {
	if len(nodes) == 0 {
		return nil, ErrNoNodes
	}
	if _, err := ParsePolicy(string(policy)); err != nil {
		return nil, err
	}
	if policy == "" {
		policy = PolicyFixed
	}
	return &Registry{
		nodes:  slices.Clone(nodes),
		policy: policy,
		intn:   rand.IntN,
	}, nil
}

// Nodes returns a copy of the configured nodes in order.
func (r *Registry) Nodes() []NodeEndpoint {
	return slices.Clone(r.nodes)
}

// Len returns the number of nodes.
func (r *Registry) Len() int {
	return len(r.nodes)
}

// Policy returns the selection policy.
func (r *Registry) Policy() Policy {
	return r.policy
}

// Node returns the node at index i modulo the node count.
func (r *Registry) Node(i int) NodeEndpoint {
	return r.nodes[r.wrap(i)]
}

// Select returns the node that serves the index-th sub-request.
// The fixed policy ignores index.
func (r *Registry) Select(index int) NodeEndpoint {
	switch r.policy {
	case PolicyRoundRobin:
		return r.Node(index)
	case PolicyRandom:
		return r.nodes[r.intn(len(r.nodes))]
	default:
		return r.nodes[0]
	}
}

// Rotation returns a fresh per-operation cursor.
func (r *Registry) Rotation(start Start) *Rotation {
	return &Rotation{registry: r, start: start}
}

func (r *Registry) wrap(i int) int {
	n := len(r.nodes)
	return ((i % n) + n) % n
}

// Rotation walks the registry for the sub-requests of a single operation.
// It is not safe for concurrent use; each operation owns its own.
type Rotation struct {
	registry *Registry
	start    Start
	idx      int
}

// Next returns the index and endpoint for the next sub-request, and whether
// this step completes a full sweep over the nodes the policy cycles through.
// The fixed policy cycles through one node, so every step completes a sweep.
func (rot *Rotation) Next() (int, NodeEndpoint, bool) {
	r := rot.registry
	if rot.start == FirstNode {
		rot.idx++
		return 0, r.nodes[0], true
	}
	switch r.policy {
	case PolicyRoundRobin:
		if rot.start == PreIncrement {
			rot.idx++
		}
		i := r.wrap(rot.idx)
		if rot.start == StartAtZero {
			rot.idx++
		}
		return i, r.nodes[i], i == len(r.nodes)-1
	case PolicyRandom:
		i := r.intn(len(r.nodes))
		rot.idx++
		return i, r.nodes[i], rot.idx%len(r.nodes) == 0
	default:
		rot.idx++
		return 0, r.nodes[0], true
	}
}
