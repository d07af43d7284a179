package kvdb

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/exp/slices"

	"github.com/dreamware/multikv/internal/cluster"
	"github.com/dreamware/multikv/internal/config"
	"github.com/dreamware/multikv/internal/keycodec"
	"github.com/dreamware/multikv/internal/logging"
	"github.com/dreamware/multikv/internal/protocol"
	"github.com/dreamware/multikv/internal/quorum"
	"github.com/dreamware/multikv/internal/transport"
)

// Status is the result of a logical operation.
type Status int

const (
	StatusOK Status = iota
	StatusNotFound
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusNotFound:
		return "NOT_FOUND"
	case StatusError:
		return "ERROR"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// ErrUnsupported is returned by Scan.
var ErrUnsupported = errors.New("kvdb: scan is not supported")

// Option customizes a Client.
type Option func(*options)

type options struct {
	logger       *zap.Logger
	roundTripper http.RoundTripper
	sender       quorum.Sender
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithRoundTripper replaces the HTTP transport of every pooled client.
func WithRoundTripper(rt http.RoundTripper) Option {
	return func(o *options) { o.roundTripper = rt }
}

// WithSender routes sub-requests through s instead of the transport pool.
func WithSender(s quorum.Sender) Option {
	return func(o *options) { o.sender = s }
}

// Client maps records onto field entities spread over the configured nodes.
// It is safe for concurrent use; all operations share one transport pool.
type Client struct {
	registry   *cluster.Registry
	pool       *transport.Pool
	dispatcher *quorum.Dispatcher
	logger     *zap.Logger
}

// New validates cfg and builds a client. The transport pool is created but
// not initialized; Init, or the first operation, does that.
func New(cfg config.Config, opts ...Option) (*Client, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	nodes, _ := cfg.Endpoints()
	policy, _ := cfg.SelectionPolicy()
	mode, _ := cfg.TransportMode()

	registry, err := cluster.NewRegistry(nodes, policy)
	if err != nil {
		return nil, err
	}

	pool := transport.NewPool(transport.Options{
		Mode:           mode,
		Nodes:          len(nodes),
		SharedWorkers:  cfg.SharedWorkers,
		PerNodeWorkers: cfg.PerNodeWorkers,
		RoundTripper:   o.roundTripper,
		Logger:         o.logger,
	})

	var sender quorum.Sender = pool
	if o.sender != nil {
		sender = o.sender
	}

	return &Client{
		registry: registry,
		pool:     pool,
		dispatcher: quorum.New(sender, registry, quorum.Options{
			PerCallTimeout: cfg.PerCallTimeout,
			Deadline:       cfg.Deadline,
			SweepPause:     cfg.SweepPause,
			Logger:         o.logger,
		}),
		logger: o.logger,
	}, nil
}

// Init builds the transport clients. It is safe to call any number of times
// from any goroutine; the clients are built once.
func (c *Client) Init() {
	c.pool.Init()
}

// Pool returns the transport pool.
func (c *Client) Pool() *transport.Pool {
	return c.pool
}

// Registry returns the node registry.
func (c *Client) Registry() *cluster.Registry {
	return c.registry
}

// Read fetches fields of the record (table, key). Every field must be read
// for StatusOK; any shortfall is StatusNotFound. StatusError is reserved for
// identifiers that cannot be encoded. Values are only returned with StatusOK.
func (c *Client) Read(ctx context.Context, table, key string, fields []string) (Status, map[string][]byte) {
	ctx, logger := c.begin(ctx, "read", table, key)
	c.Init()

	fields = normalize(fields)
	out, err := c.dispatcher.Dispatch(ctx, fields, cluster.StartAtZero,
		fieldBuilder(table, key, keycodec.OpRead, http.MethodGet, nil, protocol.ReplicasRead), len(fields))
	if err != nil {
		return c.finish(logger, StatusError, out, err), nil
	}
	if !out.Satisfied() {
		return c.finish(logger, StatusNotFound, out, nil), nil
	}
	return c.finish(logger, StatusOK, out, nil), out.Values
}

// Insert writes every field of values as its own entity. All writes must be
// acknowledged for StatusOK.
func (c *Client) Insert(ctx context.Context, table, key string, values map[string][]byte) Status {
	ctx, logger := c.begin(ctx, "insert", table, key)
	return c.write(ctx, logger, keycodec.OpInsert, table, key, values)
}

// Update is read-gated: it first reads every field named in values and
// writes only if that read returns StatusOK. Otherwise the read status is
// returned and nothing is written.
func (c *Client) Update(ctx context.Context, table, key string, values map[string][]byte) Status {
	ctx, logger := c.begin(ctx, "update", table, key)

	if status, _ := c.Read(ctx, table, key, fieldNames(values)); status != StatusOK {
		logger.Info("update skipped, gating read failed", zap.Stringer("status", status))
		return status
	}
	return c.write(ctx, logger, keycodec.OpUpdate, table, key, values)
}

// Delete removes the whole record with a single record-level delete sent to
// the first configured node, whatever the policy.
func (c *Client) Delete(ctx context.Context, table, key string) Status {
	ctx, logger := c.begin(ctx, "delete", table, key)
	c.Init()

	build := func(prefix string, idx int, node cluster.NodeEndpoint) (quorum.SubRequest, error) {
		id, err := keycodec.Encode(table, key, "", keycodec.OpDelete)
		if err != nil {
			return quorum.SubRequest{}, err
		}
		return quorum.SubRequest{
			Key:       prefix,
			EntityID:  id,
			NodeIndex: idx,
			Node:      node,
			Method:    http.MethodDelete,
			Replicas:  protocol.ReplicasWrite,
		}, nil
	}

	out, err := c.dispatcher.Dispatch(ctx, []string{keycodec.RecordPrefix(table, key)}, cluster.FirstNode, build, 1)
	if err != nil || !out.Satisfied() {
		return c.finish(logger, StatusError, out, err)
	}
	return c.finish(logger, StatusOK, out, nil)
}

// Scan is not supported and always returns ErrUnsupported.
func (c *Client) Scan(ctx context.Context, table, startKey string, count int, fields []string) ([]map[string][]byte, error) {
	return nil, ErrUnsupported
}

func (c *Client) write(ctx context.Context, logger *zap.Logger, op keycodec.Op, table, key string, values map[string][]byte) Status {
	c.Init()

	fields := fieldNames(values)
	out, err := c.dispatcher.Dispatch(ctx, fields, cluster.PreIncrement,
		fieldBuilder(table, key, op, http.MethodPut, values, protocol.ReplicasWrite), len(fields))
	if err != nil || !out.Satisfied() {
		return c.finish(logger, StatusError, out, err)
	}
	return c.finish(logger, StatusOK, out, nil)
}

// begin tags ctx with the operation name and a fresh operation id. A nested
// operation, such as the read inside an update, keeps its parent's fields and
// is logged as a phase.
func (c *Client) begin(ctx context.Context, op, table, key string) (context.Context, *zap.Logger) {
	if hasOpID(ctx) {
		ctx = logging.WithFields(ctx, zap.String("phase", op))
	} else {
		ctx = logging.WithFields(ctx,
			zap.String("op", op),
			zap.String("op_id", uuid.NewString()),
			zap.String("table", table),
			zap.String("key", key))
	}
	return ctx, logging.FromContext(ctx, c.logger)
}

func hasOpID(ctx context.Context) bool {
	for _, f := range logging.Fields(ctx) {
		if f.Key == "op_id" {
			return true
		}
	}
	return false
}

func (c *Client) finish(logger *zap.Logger, status Status, out quorum.Outcome, err error) Status {
	fields := []zap.Field{
		zap.Stringer("status", status),
		zap.Int("observed", out.Observed),
		zap.Int("required", out.Required),
		zap.Duration("elapsed", out.Elapsed),
	}
	if err != nil {
		logger.Error("operation failed", append(fields, zap.Error(err))...)
		return status
	}
	logger.Debug("operation finished", fields...)
	return status
}

func fieldBuilder(table, key string, op keycodec.Op, method string, values map[string][]byte, replicas protocol.Replicas) quorum.BuildFunc {
	return func(field string, idx int, node cluster.NodeEndpoint) (quorum.SubRequest, error) {
		id, err := keycodec.Encode(table, key, field, op)
		if err != nil {
			return quorum.SubRequest{}, err
		}
		req := quorum.SubRequest{
			Key:       field,
			EntityID:  id,
			NodeIndex: idx,
			Node:      node,
			Method:    method,
			Replicas:  replicas,
		}
		if method == http.MethodPut {
			req.Payload = values[field]
			if req.Payload == nil {
				req.Payload = []byte{}
			}
		}
		return req, nil
	}
}

// fieldNames returns the keys of values in sorted order.
func fieldNames(values map[string][]byte) []string {
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// normalize returns fields sorted with duplicates removed.
func normalize(fields []string) []string {
	out := slices.Clone(fields)
	slices.Sort(out)
	return slices.Compact(out)
}
