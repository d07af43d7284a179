package quorum

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/multikv/internal/cluster"
	"github.com/dreamware/multikv/internal/protocol"
	"github.com/dreamware/multikv/internal/transport"
)

type sentCall struct {
	NodeIndex int
	Method    string
	ID        string
	Replicas  string
	Body      []byte
}

// fakeSender records calls and answers them with fn.
type fakeSender struct {
	mu    sync.Mutex
	calls []sentCall
	fn    func(ctx context.Context, c sentCall) transport.Response
}

func (f *fakeSender) Send(ctx context.Context, nodeIndex int, method, raw string, body []byte) transport.Response {
	u, err := url.Parse(raw)
	if err != nil {
		return transport.Response{Err: err}
	}
	c := sentCall{
		NodeIndex: nodeIndex,
		Method:    method,
		ID:        u.Query().Get("id"),
		Replicas:  u.Query().Get("replicas"),
		Body:      body,
	}
	f.mu.Lock()
	f.calls = append(f.calls, c)
	fn := f.fn
	f.mu.Unlock()
	return fn(ctx, c)
}

func (f *fakeSender) Calls() []sentCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentCall(nil), f.calls...)
}

func registry(t *testing.T, policy cluster.Policy) *cluster.Registry {
	t.Helper()
	reg, err := cluster.NewRegistry([]cluster.NodeEndpoint{
		{Host: "n0", Port: 8020},
		{Host: "n1", Port: 8021},
		{Host: "n2", Port: 8022},
	}, policy)
	require.NoError(t, err)
	return reg
}

func keys(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("field%d", i)
	}
	return out
}

func getBuilder(key string, idx int, node cluster.NodeEndpoint) (SubRequest, error) {
	return SubRequest{
		Key:       key,
		EntityID:  "tk|" + key,
		NodeIndex: idx,
		Node:      node,
		Method:    http.MethodGet,
		Replicas:  protocol.ReplicasRead,
	}, nil
}

func putBuilder(key string, idx int, node cluster.NodeEndpoint) (SubRequest, error) {
	return SubRequest{
		Key:       key,
		EntityID:  "tk|" + key,
		NodeIndex: idx,
		Node:      node,
		Method:    http.MethodPut,
		Payload:   []byte("v-" + key),
		Replicas:  protocol.ReplicasWrite,
	}, nil
}

func ok(method string, body []byte) transport.Response {
	return transport.Response{Status: protocol.AcceptedStatus(method), Body: body}
}

func TestDispatch_AllAccepted(t *testing.T) {
	sender := &fakeSender{fn: func(ctx context.Context, c sentCall) transport.Response {
		return ok(c.Method, []byte("value:"+c.ID))
	}}
	d := New(sender, registry(t, cluster.PolicyFixed), Options{})

	out, err := d.Dispatch(context.Background(), keys(3), cluster.StartAtZero, getBuilder, 3)
	require.NoError(t, err)

	assert.True(t, out.Satisfied())
	assert.Equal(t, 3, out.Observed)
	assert.Equal(t, 3, out.Dispatched)
	assert.False(t, out.TimedOut)
	assert.Equal(t, map[string][]byte{
		"field0": []byte("value:tk|field0"),
		"field1": []byte("value:tk|field1"),
		"field2": []byte("value:tk|field2"),
	}, out.Values)

	for _, c := range sender.Calls() {
		assert.Equal(t, 0, c.NodeIndex)
		assert.Equal(t, "1/1", c.Replicas)
	}
}

// Success iff accepted >= required, for every split of accepted/rejected.
func TestDispatch_SuccessIffObservedGEQRequired(t *testing.T) {
	tests := []struct {
		name          string
		total         int
		required      int
		accepted      int
		shouldSucceed bool
	}{
		{"5 of 5, need 5", 5, 5, 5, true},
		{"4 of 5, need 5", 5, 5, 4, false},
		{"3 of 5, need 3", 5, 3, 3, true},
		{"2 of 5, need 3", 5, 3, 2, false},
		{"1 of 1, need 1", 1, 1, 1, true},
		{"0 of 1, need 1", 1, 1, 0, false},
		{"0 of 0, need 0", 0, 0, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			accept := map[string]bool{}
			for i := 0; i < tt.accepted; i++ {
				accept[fmt.Sprintf("tk|field%d", i)] = true
			}
			sender := &fakeSender{fn: func(ctx context.Context, c sentCall) transport.Response {
				if accept[c.ID] {
					return ok(c.Method, nil)
				}
				return transport.Response{Status: http.StatusServiceUnavailable}
			}}
			d := New(sender, registry(t, cluster.PolicyRoundRobin), Options{})

			out, err := d.Dispatch(context.Background(), keys(tt.total), cluster.PreIncrement, putBuilder, tt.required)
			require.NoError(t, err)
			assert.Equal(t, tt.shouldSucceed, out.Satisfied(),
				"observed=%d required=%d", out.Observed, out.Required)
		})
	}
}

// Completions arrive in random order from many goroutines; the count must
// be exact at the quorum boundary.
func TestDispatch_ExactCountUnderRacingCompletions(t *testing.T) {
	const total = 40

	for round := 0; round < 20; round++ {
		rng := rand.New(rand.NewSource(int64(round)))
		accepted := rng.Intn(total + 1)
		accept := map[string]bool{}
		for _, i := range rng.Perm(total)[:accepted] {
			accept[fmt.Sprintf("tk|field%d", i)] = true
		}
		delays := map[string]time.Duration{}
		for i := 0; i < total; i++ {
			delays[fmt.Sprintf("tk|field%d", i)] = time.Duration(rng.Intn(15)) * time.Millisecond
		}

		sender := &fakeSender{fn: func(ctx context.Context, c sentCall) transport.Response {
			time.Sleep(delays[c.ID])
			if accept[c.ID] {
				return ok(c.Method, []byte(c.ID))
			}
			return transport.Response{Err: errors.New("connection reset")}
		}}
		d := New(sender, registry(t, cluster.PolicyRoundRobin), Options{Deadline: 2 * time.Second})

		atQuorum, err := d.Dispatch(context.Background(), keys(total), cluster.StartAtZero, getBuilder, accepted)
		require.NoError(t, err)
		assert.True(t, atQuorum.Satisfied(), "round %d: %d accepted, need %d", round, atQuorum.Observed, accepted)

		if accepted == total {
			continue
		}
		short, err := d.Dispatch(context.Background(), keys(total), cluster.StartAtZero, getBuilder, accepted+1)
		require.NoError(t, err)
		assert.False(t, short.Satisfied(), "round %d", round)
		assert.LessOrEqual(t, short.Observed, accepted, "round %d: no duplicate increments", round)
		assert.Equal(t, total-accepted, short.Rejected, "round %d: shortfall is detected once every rejection is in", round)
		assert.Len(t, short.Values, short.Observed)
		assert.False(t, short.TimedOut, "round %d", round)
	}
}

func TestDispatch_DeadlineWithHungCalls(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	sender := &fakeSender{fn: func(ctx context.Context, c sentCall) transport.Response {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return transport.Response{Err: ctx.Err()}
	}}
	deadline := 60 * time.Millisecond
	d := New(sender, registry(t, cluster.PolicyFixed), Options{Deadline: deadline, PerCallTimeout: 5 * time.Second})

	start := time.Now()
	out, err := d.Dispatch(context.Background(), keys(4), cluster.StartAtZero, getBuilder, 4)
	elapsed := time.Since(start)
	require.NoError(t, err)

	assert.False(t, out.Satisfied())
	assert.True(t, out.TimedOut)
	assert.Equal(t, 0, out.Observed)
	assert.GreaterOrEqual(t, elapsed, deadline)
	assert.Less(t, elapsed, deadline+250*time.Millisecond)
}

func TestDispatch_ReturnsAsSoonAsQuorumIsReached(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	sender := &fakeSender{fn: func(ctx context.Context, c sentCall) transport.Response {
		if c.ID == "tk|field0" {
			<-release
		}
		return ok(c.Method, nil)
	}}
	d := New(sender, registry(t, cluster.PolicyFixed), Options{Deadline: 5 * time.Second})

	start := time.Now()
	out, err := d.Dispatch(context.Background(), keys(3), cluster.PreIncrement, putBuilder, 2)
	require.NoError(t, err)

	assert.True(t, out.Satisfied())
	assert.Equal(t, 2, out.Observed)
	assert.Less(t, time.Since(start), time.Second)
}

func TestDispatch_FailsFastWhenQuorumIsUnreachable(t *testing.T) {
	sender := &fakeSender{fn: func(ctx context.Context, c sentCall) transport.Response {
		return transport.Response{Status: http.StatusNotFound}
	}}
	d := New(sender, registry(t, cluster.PolicyFixed), Options{Deadline: 5 * time.Second})

	start := time.Now()
	out, err := d.Dispatch(context.Background(), keys(3), cluster.StartAtZero, getBuilder, 3)
	require.NoError(t, err)

	assert.False(t, out.Satisfied())
	assert.False(t, out.TimedOut)
	assert.Equal(t, 1, out.Rejected, "one rejection already rules out 3 of 3")
	assert.Less(t, time.Since(start), time.Second)
}

func TestDispatch_VerbSpecificAcceptance(t *testing.T) {
	tests := []struct {
		name   string
		method string
		resp   transport.Response
		want   bool
	}{
		{"get 200", http.MethodGet, transport.Response{Status: 200, Body: []byte{}}, true},
		{"get 200 without body", http.MethodGet, transport.Response{Status: 200}, false},
		{"get 404", http.MethodGet, transport.Response{Status: 404, Body: []byte("x")}, false},
		{"put 201", http.MethodPut, transport.Response{Status: 201}, true},
		{"put 200", http.MethodPut, transport.Response{Status: 200}, false},
		{"delete 202", http.MethodDelete, transport.Response{Status: 202}, true},
		{"delete 204", http.MethodDelete, transport.Response{Status: 204}, false},
		{"transport error", http.MethodPut, transport.Response{Status: 201, Err: errors.New("eof")}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Accepts(tt.method, tt.resp))
		})
	}
}

func TestDispatch_BuildErrorAbortsRemainingSubRequests(t *testing.T) {
	errBad := errors.New("bad field")
	sender := &fakeSender{fn: func(ctx context.Context, c sentCall) transport.Response {
		return ok(c.Method, nil)
	}}
	d := New(sender, registry(t, cluster.PolicyFixed), Options{})

	build := func(key string, idx int, node cluster.NodeEndpoint) (SubRequest, error) {
		if key == "field1" {
			return SubRequest{}, errBad
		}
		return putBuilder(key, idx, node)
	}

	out, err := d.Dispatch(context.Background(), keys(4), cluster.StartAtZero, build, 4)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errBad))
	assert.Equal(t, 1, out.Dispatched)

	time.Sleep(20 * time.Millisecond)
	calls := sender.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "tk|field0", calls[0].ID)
}

func TestDispatch_LateCompletionsAreDiscarded(t *testing.T) {
	var wg sync.WaitGroup
	wg.Add(3)
	sender := &fakeSender{fn: func(ctx context.Context, c sentCall) transport.Response {
		defer wg.Done()
		time.Sleep(80 * time.Millisecond)
		return ok(c.Method, []byte("late"))
	}}
	d := New(sender, registry(t, cluster.PolicyFixed), Options{Deadline: 10 * time.Millisecond})

	out, err := d.Dispatch(context.Background(), keys(3), cluster.StartAtZero, getBuilder, 3)
	require.NoError(t, err)
	assert.False(t, out.Satisfied())
	assert.Empty(t, out.Values)

	wg.Wait()
	time.Sleep(10 * time.Millisecond)
	assert.Empty(t, out.Values, "late completions never touch a returned outcome")
}

func TestDispatch_CallerCancellation(t *testing.T) {
	callCancelled := make(chan bool, 1)
	sender := &fakeSender{fn: func(ctx context.Context, c sentCall) transport.Response {
		select {
		case <-ctx.Done():
			callCancelled <- true
		case <-time.After(150 * time.Millisecond):
			callCancelled <- false
		}
		return ok(c.Method, nil)
	}}
	d := New(sender, registry(t, cluster.PolicyFixed), Options{Deadline: 5 * time.Second, PerCallTimeout: 5 * time.Second})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	out, err := d.Dispatch(ctx, keys(1), cluster.StartAtZero, getBuilder, 1)
	require.NoError(t, err)
	assert.False(t, out.Satisfied())
	assert.Less(t, time.Since(start), 140*time.Millisecond)

	assert.False(t, <-callCancelled, "in-flight calls are not cancelled with the caller")
}

func TestDispatch_PerCallTimeout(t *testing.T) {
	sender := &fakeSender{fn: func(ctx context.Context, c sentCall) transport.Response {
		deadline, ok := ctx.Deadline()
		if !ok {
			return transport.Response{Err: errors.New("no deadline")}
		}
		remaining := time.Until(deadline)
		if remaining > 300*time.Millisecond || remaining <= 0 {
			return transport.Response{Err: fmt.Errorf("unexpected deadline in %v", remaining)}
		}
		return transport.Response{Status: http.StatusCreated}
	}}
	d := New(sender, registry(t, cluster.PolicyFixed), Options{PerCallTimeout: 300 * time.Millisecond})

	out, err := d.Dispatch(context.Background(), keys(2), cluster.PreIncrement, putBuilder, 2)
	require.NoError(t, err)
	assert.True(t, out.Satisfied())
}

func TestDispatch_RoundRobinAndSweepPause(t *testing.T) {
	sender := &fakeSender{fn: func(ctx context.Context, c sentCall) transport.Response {
		return ok(c.Method, nil)
	}}
	pause := 25 * time.Millisecond
	d := New(sender, registry(t, cluster.PolicyRoundRobin), Options{SweepPause: pause})

	start := time.Now()
	out, err := d.Dispatch(context.Background(), keys(6), cluster.StartAtZero, putBuilder, 6)
	require.NoError(t, err)
	assert.True(t, out.Satisfied())
	assert.GreaterOrEqual(t, time.Since(start), 2*pause, "two full sweeps over three nodes")

	seen := map[int]int{}
	for _, c := range sender.Calls() {
		seen[c.NodeIndex]++
		assert.Equal(t, "2/3", c.Replicas)
	}
	assert.Equal(t, map[int]int{0: 2, 1: 2, 2: 2}, seen)
}

func TestNew_Defaults(t *testing.T) {
	d := New(&fakeSender{}, registry(t, cluster.PolicyFixed), Options{})
	assert.Equal(t, DefaultPerCallTimeout, d.Options().PerCallTimeout)
	assert.Equal(t, DefaultDeadline, d.Options().Deadline)
	assert.Zero(t, d.Options().SweepPause)
}
