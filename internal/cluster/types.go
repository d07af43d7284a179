package cluster

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ErrNoNodes is returned when a registry is built from an empty node list.
var ErrNoNodes = errors.New("no nodes configured")

// NodeEndpoint is one backend node. Endpoints are fixed at startup.
type NodeEndpoint struct {
	Host string `json:"host" yaml:"host"`
	Port int    `json:"port" yaml:"port"`
}

// Addr returns host:port.
func (e NodeEndpoint) Addr() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// BaseURL returns the plain-http base URL of the node.
func (e NodeEndpoint) BaseURL() string {
	return "http://" + e.Addr()
}

func (e NodeEndpoint) String() string {
	return e.Addr()
}

// ParseEndpoint parses a single "host:port" address.
func ParseEndpoint(addr string) (NodeEndpoint, error) {
	host, portStr, err := net.SplitHostPort(strings.TrimSpace(addr))
	if err != nil {
		return NodeEndpoint{}, fmt.Errorf("invalid node address %q: %w", addr, err)
	}
	if host == "" {
		return NodeEndpoint{}, fmt.Errorf("invalid node address %q: empty host", addr)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return NodeEndpoint{}, fmt.Errorf("invalid node address %q: bad port %q", addr, portStr)
	}
	return NodeEndpoint{Host: host, Port: port}, nil
}

// ParseEndpoints parses a comma-separated list of node addresses in the format:
// "host1:port1,host2:port2". Order is preserved.
func ParseEndpoints(s string) ([]NodeEndpoint, error) {
	if strings.TrimSpace(s) == "" {
		return []NodeEndpoint{}, nil
	}

	parts := strings.Split(s, ",")
	nodes := make([]NodeEndpoint, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		node, err := ParseEndpoint(part)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, node)
	}
	return nodes, nil
}

var httpClient = &http.Client{Timeout: 5 * time.Second}

// GetJSON fetches url and decodes the JSON body into out.
func GetJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("http %s: %d", url, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
