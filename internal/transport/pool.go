// Package transport owns the long-lived HTTP clients used to reach the
// entity nodes and bounds how many calls each client has in flight.
package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Mode selects how clients are laid out over the nodes.
type Mode int

const (
	// ModeShared uses one client for all nodes.
	ModeShared Mode = iota
	// ModePerNode uses one client per node.
	ModePerNode
)

func (m Mode) String() string {
	if m == ModePerNode {
		return "per-node"
	}
	return "shared"
}

const (
	// DefaultSharedWorkers bounds the single shared client.
	DefaultSharedWorkers = 3
	// DefaultPerNodeWorkers bounds each per-node client. It is smaller than
	// DefaultSharedWorkers because each client serves a fraction of the traffic.
	DefaultPerNodeWorkers = 2
)

// Options configures a Pool.
type Options struct {
	Mode           Mode
	Nodes          int // number of clients in ModePerNode
	SharedWorkers  int
	PerNodeWorkers int

	// RoundTripper overrides the transport built for each client.
	// Tests use it to point clients at fakes.
	RoundTripper http.RoundTripper
	Logger       *zap.Logger
}

// Response is the result of one call. Err is set for transport failures and
// timeouts; Status is 0 in that case.
type Response struct {
	Status int
	Body   []byte
	Err    error
}

// Client is an http.Client with a fixed worker budget.
type Client struct {
	http  *http.Client
	slots chan struct{}
}

func newClient(workers int, rt http.RoundTripper) *Client {
	if rt == nil {
		rt = &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:        workers * 4,
			MaxIdleConnsPerHost: workers,
			MaxConnsPerHost:     workers,
			IdleConnTimeout:     90 * time.Second,
		}
	}
	return &Client{
		http:  &http.Client{Transport: rt},
		slots: make(chan struct{}, workers),
	}
}

// Workers returns the worker budget of the client.
func (c *Client) Workers() int {
	return cap(c.slots)
}

// InFlight returns the number of calls currently holding a worker slot.
func (c *Client) InFlight() int {
	return len(c.slots)
}

// Do performs one call. It waits for a free worker slot, bounded by ctx, and
// holds it until the response body has been read.
func (c *Client) Do(ctx context.Context, method, url string, body []byte) Response {
	select {
	case c.slots <- struct{}{}:
	case <-ctx.Done():
		return Response{Err: ctx.Err()}
	}
	defer func() { <-c.slots }()

	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rd)
	if err != nil {
		return Response{Err: err}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/octet-stream")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return Response{Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{Status: resp.StatusCode, Err: fmt.Errorf("read body: %w", err)}
	}
	return Response{Status: resp.StatusCode, Body: data}
}

// Pool holds the process-wide clients. Init builds them exactly once; after
// that the client set is read-only and shared by all operations.
type Pool struct {
	opts    Options
	once    sync.Once
	inits   atomic.Int64
	clients []*Client
	logger  *zap.Logger
}

// NewPool returns an uninitialized pool.
func NewPool(opts Options) *Pool {
	if opts.SharedWorkers <= 0 {
		opts.SharedWorkers = DefaultSharedWorkers
	}
	if opts.PerNodeWorkers <= 0 {
		opts.PerNodeWorkers = DefaultPerNodeWorkers
	}
	if opts.Nodes <= 0 {
		opts.Nodes = 1
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{opts: opts, logger: logger}
}

// Init builds the clients. Calls after the first have no effect.
func (p *Pool) Init() {
	p.inits.Add(1)
	p.once.Do(func() {
		switch p.opts.Mode {
		case ModePerNode:
			p.clients = make([]*Client, p.opts.Nodes)
			for i := range p.clients {
				p.clients[i] = newClient(p.opts.PerNodeWorkers, p.opts.RoundTripper)
			}
		default:
			p.clients = []*Client{newClient(p.opts.SharedWorkers, p.opts.RoundTripper)}
		}
		p.logger.Info("transport pool initialized",
			zap.Stringer("mode", p.opts.Mode),
			zap.Int("clients", len(p.clients)),
			zap.Int("workers", p.clients[0].Workers()))
	})
}

// Inits returns the number of Init calls so far.
func (p *Pool) Inits() int64 {
	return p.inits.Load()
}

// Mode returns the configured mode.
func (p *Pool) Mode() Mode {
	return p.opts.Mode
}

// Clients returns the client set, initializing the pool if needed.
func (p *Pool) Clients() []*Client {
	p.Init()
	return p.clients
}

// Client returns the client that serves node nodeIndex. In ModeShared every
// node is served by the same client.
func (p *Pool) Client(nodeIndex int) *Client {
	clients := p.Clients()
	if len(clients) == 1 {
		return clients[0]
	}
	n := len(clients)
	return clients[((nodeIndex%n)+n)%n]
}

// Send performs one call through the client serving nodeIndex.
func (p *Pool) Send(ctx context.Context, nodeIndex int, method, url string, body []byte) Response {
	return p.Client(nodeIndex).Do(ctx, method, url, body)
}
