// Package config holds the client configuration: the node list, the
// selection policy, transport budgets and timings. Values come from
// Default, then an optional YAML file, then MULTIKV_* environment variables.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dreamware/multikv/internal/cluster"
	"github.com/dreamware/multikv/internal/transport"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "MULTIKV_"

// Config is the client configuration. Durations are written as Go duration
// strings ("500ms", "1s") in YAML and in the environment.
type Config struct {
	Nodes          []string      `yaml:"nodes"`
	Policy         string        `yaml:"policy"`
	Transport      string        `yaml:"transport"`
	SharedWorkers  int           `yaml:"shared_workers"`
	PerNodeWorkers int           `yaml:"per_node_workers"`
	PerCallTimeout time.Duration `yaml:"per_call_timeout"`
	Deadline       time.Duration `yaml:"deadline"`
	SweepPause     time.Duration `yaml:"sweep_pause"`
	LogLevel       string        `yaml:"log_level"`
}

// Default returns the built-in configuration: three local nodes on ports
// 8020-8022 and the fixed policy. Transport is left empty so the layout
// follows the policy.
func Default() Config {
	return Config{
		Nodes:          []string{"localhost:8020", "localhost:8021", "localhost:8022"},
		Policy:         string(cluster.PolicyFixed),
		SharedWorkers:  transport.DefaultSharedWorkers,
		PerNodeWorkers: transport.DefaultPerNodeWorkers,
		PerCallTimeout: time.Second,
		Deadline:       500 * time.Millisecond,
		LogLevel:       "info",
	}
}

// Load returns Default overlaid with the YAML file at path. An empty path
// returns Default. Unknown keys are rejected.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := cfg.decode(data); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) decode(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// ApplyEnv overrides fields from MULTIKV_* variables found through lookup,
// typically os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	get := func(name string) (string, bool) {
		v, ok := lookup(EnvPrefix + name)
		return strings.TrimSpace(v), ok && strings.TrimSpace(v) != ""
	}

	if v, ok := get("NODES"); ok {
		c.Nodes = splitList(v)
	}
	if v, ok := get("POLICY"); ok {
		c.Policy = v
	}
	if v, ok := get("TRANSPORT"); ok {
		c.Transport = v
	}
	if v, ok := get("LOG_LEVEL"); ok {
		c.LogLevel = v
	}

	ints := []struct {
		name string
		dst  *int
	}{
		{"SHARED_WORKERS", &c.SharedWorkers},
		{"PER_NODE_WORKERS", &c.PerNodeWorkers},
	}
	for _, f := range ints {
		v, ok := get(f.name)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, f.name, err)
		}
		*f.dst = n
	}

	durations := []struct {
		name string
		dst  *time.Duration
	}{
		{"PER_CALL_TIMEOUT", &c.PerCallTimeout},
		{"DEADLINE", &c.Deadline},
		{"SWEEP_PAUSE", &c.SweepPause},
	}
	for _, f := range durations {
		v, ok := get(f.name)
		if !ok {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, f.name, err)
		}
		*f.dst = d
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate checks that the configuration can build a client.
func (c Config) Validate() error {
	if _, err := c.Endpoints(); err != nil {
		return err
	}
	if _, err := c.SelectionPolicy(); err != nil {
		return err
	}
	if _, err := c.TransportMode(); err != nil {
		return err
	}
	if c.SharedWorkers <= 0 || c.PerNodeWorkers <= 0 {
		return fmt.Errorf("worker budgets must be positive (shared=%d, per-node=%d)", c.SharedWorkers, c.PerNodeWorkers)
	}
	if c.PerCallTimeout <= 0 || c.Deadline <= 0 {
		return fmt.Errorf("timeouts must be positive (per-call=%v, deadline=%v)", c.PerCallTimeout, c.Deadline)
	}
	if c.SweepPause < 0 {
		return fmt.Errorf("sweep pause must not be negative: %v", c.SweepPause)
	}
	return nil
}

// Endpoints parses the node list.
func (c Config) Endpoints() ([]cluster.NodeEndpoint, error) {
	if len(c.Nodes) == 0 {
		return nil, cluster.ErrNoNodes
	}
	nodes := make([]cluster.NodeEndpoint, 0, len(c.Nodes))
	for _, n := range c.Nodes {
		ep, err := cluster.ParseEndpoint(n)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, ep)
	}
	return nodes, nil
}

// SelectionPolicy parses the node selection policy.
func (c Config) SelectionPolicy() (cluster.Policy, error) {
	return cluster.ParsePolicy(c.Policy)
}

// TransportMode parses the transport layout. Empty follows the policy: one
// client per node when the policy spreads traffic, one shared client
// otherwise.
func (c Config) TransportMode() (transport.Mode, error) {
	switch strings.ToLower(strings.TrimSpace(c.Transport)) {
	case "":
		policy, err := c.SelectionPolicy()
		if err != nil {
			return 0, err
		}
		if policy.MultiNode() {
			return transport.ModePerNode, nil
		}
		return transport.ModeShared, nil
	case "shared":
		return transport.ModeShared, nil
	case "per-node", "pernode":
		return transport.ModePerNode, nil
	default:
		return 0, fmt.Errorf("unknown transport mode %q", c.Transport)
	}
}
