package cluster

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// Health states reported by Probe.
const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)

// NodeHealth is the result of one /health probe.
type NodeHealth struct {
	Node    NodeEndpoint  `json:"node"`
	Status  string        `json:"status"`
	Latency time.Duration `json:"latency"`
	Error   string        `json:"error,omitempty"`
}

// Healthy reports whether the node answered 200.
func (h NodeHealth) Healthy() bool {
	return h.Status == StatusHealthy
}

// Probe checks GET /health on every node concurrently, each bounded by
// timeout. Results are in node order. Probe never changes which nodes a
// registry selects; it only reports.
func Probe(ctx context.Context, nodes []NodeEndpoint, timeout time.Duration) []NodeHealth {
	results := make([]NodeHealth, len(nodes))

	var wg sync.WaitGroup
	for i, node := range nodes {
		wg.Add(1)
		go func(i int, node NodeEndpoint) {
			defer wg.Done()
			results[i] = probeOne(ctx, node, timeout)
		}(i, node)
	}
	wg.Wait()
	return results
}

func probeOne(ctx context.Context, node NodeEndpoint, timeout time.Duration) NodeHealth {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	health := NodeHealth{Node: node, Status: StatusUnhealthy}
	start := time.Now()
	err := checkHealth(ctx, node.BaseURL()+"/health")
	health.Latency = time.Since(start)
	if err != nil {
		health.Error = err.Error()
		return health
	}
	health.Status = StatusHealthy
	return health
}

func checkHealth(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}
	return nil
}
