// Package protocol holds the HTTP contract of the entity service:
// http://<host>:<port>/v0/entity?id=<entityId>&replicas=<need>/<total>.
package protocol

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/dreamware/multikv/internal/cluster"
)

const (
	// Path is the entity endpoint on every node.
	Path = "/v0/entity"

	ParamID       = "id"
	ParamReplicas = "replicas"

	// StatusRead acknowledges a GET carrying the stored value.
	StatusRead = http.StatusOK
	// StatusWritten acknowledges a PUT.
	StatusWritten = http.StatusCreated
	// StatusDeleted acknowledges a DELETE.
	StatusDeleted = http.StatusAccepted
)

var (
	ErrMissingID       = errors.New("missing entity id")
	ErrInvalidReplicas = errors.New("invalid replicas parameter")
)

// Replicas is the replication hint sent to the node. The client never
// interprets it.
type Replicas struct {
	Need  int
	Total int
}

var (
	// ReplicasRead is sent with every GET.
	ReplicasRead = Replicas{Need: 1, Total: 1}
	// ReplicasWrite is sent with every PUT and DELETE.
	ReplicasWrite = Replicas{Need: 2, Total: 3}
)

func (r Replicas) String() string {
	return strconv.Itoa(r.Need) + "/" + strconv.Itoa(r.Total)
}

// IsZero reports whether no hint was given.
func (r Replicas) IsZero() bool {
	return r.Need == 0 && r.Total == 0
}

// ParseReplicas parses "need/total" with 0 < need <= total.
func ParseReplicas(s string) (Replicas, error) {
	needStr, totalStr, ok := strings.Cut(s, "/")
	if !ok {
		return Replicas{}, fmt.Errorf("%w: %q", ErrInvalidReplicas, s)
	}
	need, err1 := strconv.Atoi(needStr)
	total, err2 := strconv.Atoi(totalStr)
	if err1 != nil || err2 != nil || need <= 0 || need > total {
		return Replicas{}, fmt.Errorf("%w: %q", ErrInvalidReplicas, s)
	}
	return Replicas{Need: need, Total: total}, nil
}

// AcceptedStatus returns the only status code that acknowledges method.
func AcceptedStatus(method string) int {
	switch method {
	case http.MethodGet:
		return StatusRead
	case http.MethodPut:
		return StatusWritten
	case http.MethodDelete:
		return StatusDeleted
	default:
		return 0
	}
}

// EntityURL builds the request URL for id on node. The id is query-escaped;
// the replicas hint is sent as a literal need/total pair.
func EntityURL(node cluster.NodeEndpoint, id string, replicas Replicas) string {
	query := ParamID + "=" + url.QueryEscape(id)
	if !replicas.IsZero() {
		query += "&" + ParamReplicas + "=" + replicas.String()
	}
	u := url.URL{
		Scheme:   "http",
		Host:     node.Addr(),
		Path:     Path,
		RawQuery: query,
	}
	return u.String()
}

// ParseEntityQuery extracts id and the optional replicas hint from a request
// query.
func ParseEntityQuery(q url.Values) (string, Replicas, error) {
	id := q.Get(ParamID)
	if id == "" {
		return "", Replicas{}, ErrMissingID
	}
	raw := q.Get(ParamReplicas)
	if raw == "" {
		return id, Replicas{}, nil
	}
	replicas, err := ParseReplicas(raw)
	if err != nil {
		return "", Replicas{}, err
	}
	return id, replicas, nil
}
