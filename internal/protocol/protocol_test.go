package protocol

import (
	"errors"
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/multikv/internal/cluster"
)

func TestEntityURL(t *testing.T) {
	node := cluster.NodeEndpoint{Host: "localhost", Port: 8020}

	raw := EntityURL(node, "tk1|f1", ReplicasRead)
	u, err := url.Parse(raw)
	require.NoError(t, err)

	assert.Equal(t, "http", u.Scheme)
	assert.Equal(t, "localhost:8020", u.Host)
	assert.Equal(t, "/v0/entity", u.Path)
	assert.Equal(t, "tk1|f1", u.Query().Get("id"))
	assert.Equal(t, "1/1", u.Query().Get("replicas"))
	assert.Empty(t, u.Fragment)

	assert.Equal(t, "id=tk1%7Cf1&replicas=1/1", u.RawQuery)
	assert.Equal(t, "http://localhost:8020/v0/entity?id=tk1%7Cf1&replicas=2/3",
		EntityURL(node, "tk1|f1", ReplicasWrite))
}

func TestEntityURL_EscapesDelimiters(t *testing.T) {
	node := cluster.NodeEndpoint{Host: "localhost", Port: 8021}
	raw := EntityURL(node, "t k&1*", ReplicasWrite)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	id, replicas, err := ParseEntityQuery(u.Query())
	require.NoError(t, err)
	assert.Equal(t, "t k&1*", id)
	assert.Equal(t, ReplicasWrite, replicas)
}

func TestEntityURL_NoHint(t *testing.T) {
	raw := EntityURL(cluster.NodeEndpoint{Host: "h", Port: 1}, "x", Replicas{})
	u, err := url.Parse(raw)
	require.NoError(t, err)
	_, ok := u.Query()["replicas"]
	assert.False(t, ok)
}

func TestParseReplicas(t *testing.T) {
	tests := []struct {
		in      string
		want    Replicas
		wantErr bool
	}{
		{"1/1", Replicas{1, 1}, false},
		{"2/3", Replicas{2, 3}, false},
		{"3/2", Replicas{}, true},
		{"0/3", Replicas{}, true},
		{"2", Replicas{}, true},
		{"a/b", Replicas{}, true},
		{"", Replicas{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseReplicas(tt.in)
			if tt.wantErr {
				assert.True(t, errors.Is(err, ErrInvalidReplicas))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.in, got.String())
		})
	}
}

func TestParseEntityQuery(t *testing.T) {
	_, _, err := ParseEntityQuery(url.Values{})
	assert.True(t, errors.Is(err, ErrMissingID))

	_, _, err = ParseEntityQuery(url.Values{"id": {"x"}, "replicas": {"9/1"}})
	assert.True(t, errors.Is(err, ErrInvalidReplicas))

	id, r, err := ParseEntityQuery(url.Values{"id": {"x"}})
	require.NoError(t, err)
	assert.Equal(t, "x", id)
	assert.True(t, r.IsZero())
}

func TestAcceptedStatus(t *testing.T) {
	assert.Equal(t, http.StatusOK, AcceptedStatus(http.MethodGet))
	assert.Equal(t, http.StatusCreated, AcceptedStatus(http.MethodPut))
	assert.Equal(t, http.StatusAccepted, AcceptedStatus(http.MethodDelete))
	assert.Equal(t, 0, AcceptedStatus(http.MethodPost))
}
