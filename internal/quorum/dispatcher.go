package quorum

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/dreamware/multikv/internal/cluster"
	"github.com/dreamware/multikv/internal/logging"
	"github.com/dreamware/multikv/internal/protocol"
	"github.com/dreamware/multikv/internal/transport"
)

const (
	// DefaultPerCallTimeout bounds each sub-request.
	DefaultPerCallTimeout = time.Second
	// DefaultDeadline bounds the wait for quorum after all sub-requests
	// have been issued.
	DefaultDeadline = 500 * time.Millisecond
)

// Sender performs one HTTP call against the node at nodeIndex.
// *transport.Pool implements it.
type Sender interface {
	Send(ctx context.Context, nodeIndex int, method, url string, body []byte) transport.Response
}

// SubRequest is one outbound call of a logical operation.
type SubRequest struct {
	Key       string // field name, or the record prefix for deletes
	EntityID  string
	NodeIndex int
	Node      cluster.NodeEndpoint
	Method    string
	Payload   []byte
	Replicas  protocol.Replicas
}

// URL returns the request URL of the sub-request.
func (r SubRequest) URL() string {
	return protocol.EntityURL(r.Node, r.EntityID, r.Replicas)
}

// BuildFunc turns a key and its selected node into a SubRequest. An error
// aborts the dispatch before any further sub-request is issued.
type BuildFunc func(key string, nodeIndex int, node cluster.NodeEndpoint) (SubRequest, error)

// Outcome is the result of one dispatch. Values holds the bodies of accepted
// GETs keyed by SubRequest.Key.
type Outcome struct {
	Values     map[string][]byte
	Required   int
	Observed   int
	Rejected   int
	Dispatched int
	TimedOut   bool
	Elapsed    time.Duration
}

// Satisfied reports whether at least Required sub-requests were accepted.
func (o Outcome) Satisfied() bool {
	return o.Observed >= o.Required
}

// Accepts reports whether resp acknowledges a call made with method.
// GET needs 200 with a body, PUT needs 201, DELETE needs 202.
func Accepts(method string, resp transport.Response) bool {
	if resp.Err != nil || resp.Status != protocol.AcceptedStatus(method) {
		return false
	}
	if method == http.MethodGet {
		return resp.Body != nil
	}
	return true
}

// Options configures a Dispatcher.
type Options struct {
	PerCallTimeout time.Duration
	Deadline       time.Duration

	// SweepPause, when positive, is slept after each sub-request that
	// completes a full sweep of the nodes. Zero disables pacing.
	SweepPause time.Duration

	Logger *zap.Logger
}

// Dispatcher fans logical operations out into per-key sub-requests and
// counts acknowledgements against a quorum.
type Dispatcher struct {
	sender   Sender
	registry *cluster.Registry
	opts     Options
	logger   *zap.Logger
}

// New creates a dispatcher. Zero timeouts take the package defaults.
func New(sender Sender, registry *cluster.Registry, opts Options) *Dispatcher {
	if opts.PerCallTimeout <= 0 {
		opts.PerCallTimeout = DefaultPerCallTimeout
	}
	if opts.Deadline <= 0 {
		opts.Deadline = DefaultDeadline
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		sender:   sender,
		registry: registry,
		opts:     opts,
		logger:   logger,
	}
}

// Options returns the effective options.
func (d *Dispatcher) Options() Options {
	return d.opts
}

type completion struct {
	key      string
	method   string
	node     cluster.NodeEndpoint
	resp     transport.Response
	accepted bool
}

// Dispatch issues one sub-request per key without waiting on any of them,
// then waits until required acknowledgements have arrived, until the
// remaining calls can no longer reach required, until the deadline expires,
// or until ctx is done, whichever comes first.
//
// Keys must be unique. Sub-requests still running when Dispatch returns are
// not cancelled by it; their completions are discarded.
func (d *Dispatcher) Dispatch(ctx context.Context, keys []string, start cluster.Start, build BuildFunc, required int) (Outcome, error) {
	begin := time.Now()
	out := Outcome{
		Values:   make(map[string][]byte, len(keys)),
		Required: required,
	}
	logger := logging.FromContext(ctx, d.logger)

	// Buffered to the fan-out so that no sender ever blocks, even after the
	// collector has stopped reading.
	results := make(chan completion, len(keys))
	callCtx := context.WithoutCancel(ctx)
	rot := d.registry.Rotation(start)

dispatch:
	for _, key := range keys {
		idx, node, sweep := rot.Next()
		req, err := build(key, idx, node)
		if err != nil {
			out.Elapsed = time.Since(begin)
			logger.Warn("sub-request construction failed",
				zap.String("key", key),
				zap.Int("dispatched", out.Dispatched),
				zap.Error(err))
			return out, fmt.Errorf("build sub-request for %q: %w", key, err)
		}

		out.Dispatched++
		go d.call(callCtx, req, results)

		if sweep && d.opts.SweepPause > 0 {
			if !sleep(ctx, d.opts.SweepPause) {
				break dispatch
			}
		}
	}

	d.collect(ctx, &out, results, logger)
	out.Elapsed = time.Since(begin)

	if !out.Satisfied() {
		logger.Warn("quorum not met",
			zap.Int("observed", out.Observed),
			zap.Int("required", out.Required),
			zap.Int("dispatched", out.Dispatched),
			zap.Bool("timed_out", out.TimedOut),
			zap.Duration("elapsed", out.Elapsed))
	}
	return out, nil
}

func (d *Dispatcher) call(ctx context.Context, req SubRequest, results chan<- completion) {
	ctx, cancel := context.WithTimeout(ctx, d.opts.PerCallTimeout)
	defer cancel()

	resp := d.sender.Send(ctx, req.NodeIndex, req.Method, req.URL(), req.Payload)
	results <- completion{
		key:      req.Key,
		method:   req.Method,
		node:     req.Node,
		resp:     resp,
		accepted: Accepts(req.Method, resp),
	}
}

func (d *Dispatcher) collect(ctx context.Context, out *Outcome, results <-chan completion, logger *zap.Logger) {
	timer := time.NewTimer(d.opts.Deadline)
	defer timer.Stop()

	received := 0
	for out.Observed < out.Required {
		if out.Observed+(out.Dispatched-received) < out.Required {
			return
		}
		select {
		case c := <-results:
			received++
			if c.accepted {
				out.Observed++
				if c.method == http.MethodGet {
					out.Values[c.key] = c.resp.Body
				}
				logger.Debug("sub-request accepted",
					zap.String("key", c.key),
					zap.String("method", c.method),
					zap.Stringer("node", c.node))
				continue
			}
			out.Rejected++
			logger.Debug("sub-request rejected",
				zap.String("key", c.key),
				zap.String("method", c.method),
				zap.Stringer("node", c.node),
				zap.Int("status", c.resp.Status),
				zap.Error(c.resp.Err))
		case <-timer.C:
			out.TimedOut = true
			return
		case <-ctx.Done():
			return
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
