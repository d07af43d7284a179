// Package main implements kvctl, a command-line driver for the multikv
// client. Each invocation runs one logical operation and prints its status.
//
// Usage:
//
//	kvctl [-config file] [-timeout d] read   table key field...
//	kvctl [-config file] [-timeout d] insert table key field=value...
//	kvctl [-config file] [-timeout d] update table key field=value...
//	kvctl [-config file] [-timeout d] delete table key
//	kvctl [-config file] [-timeout d] scan   table key
//	kvctl [-config file] stats
//	kvctl [-config file] health
//
// The node list and policy come from the config file and MULTIKV_*
// environment variables (MULTIKV_NODES, MULTIKV_POLICY, ...).
//
// Exit codes:
//   - 0: Operation returned OK
//   - 1: Operation returned NOT_FOUND or ERROR, scan was requested, or a
//     node failed its stats or health check
//   - 2: Usage or configuration error
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/exp/slices"

	"github.com/dreamware/multikv/internal/cluster"
	"github.com/dreamware/multikv/internal/config"
	"github.com/dreamware/multikv/internal/kvdb"
	"github.com/dreamware/multikv/internal/logging"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr, os.LookupEnv))
}

func run(args []string, stdout, stderr io.Writer, lookup func(string) (string, bool)) int {
	fs := flag.NewFlagSet("kvctl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "YAML config file")
	timeout := fs.Duration("timeout", 5*time.Second, "overall time limit")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	rest := fs.Args()
	if len(rest) == 0 {
		fmt.Fprintln(stderr, "usage: kvctl [-config file] read|insert|update|delete|scan|stats|health table key [field|field=value ...]")
		return 2
	}

	cfg, err := config.Load(*configPath)
	if err == nil {
		err = cfg.ApplyEnv(lookup)
	}
	if err != nil {
		fmt.Fprintf(stderr, "config: %v\n", err)
		return 2
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	switch rest[0] {
	case "stats":
		return stats(ctx, cfg, stdout, stderr)
	case "health":
		return health(ctx, cfg, stdout, stderr)
	}
	if len(rest) < 3 {
		fmt.Fprintf(stderr, "%s: need table and key\n", rest[0])
		return 2
	}
	op, table, key, params := rest[0], rest[1], rest[2], rest[3:]

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(stderr, "logger: %v\n", err)
		return 2
	}
	defer func() { _ = logger.Sync() }()

	db, err := kvdb.New(cfg, kvdb.WithLogger(logger))
	if err != nil {
		fmt.Fprintf(stderr, "%v\n", err)
		return 2
	}
	db.Init()

	var status kvdb.Status
	switch op {
	case "read":
		var values map[string][]byte
		status, values = db.Read(ctx, table, key, params)
		fmt.Fprintln(stdout, status)
		printValues(stdout, values)
	case "insert", "update":
		values, err := parseValues(params)
		if err != nil {
			fmt.Fprintf(stderr, "%s: %v\n", op, err)
			return 2
		}
		if op == "insert" {
			status = db.Insert(ctx, table, key, values)
		} else {
			status = db.Update(ctx, table, key, values)
		}
		fmt.Fprintln(stdout, status)
	case "delete":
		status = db.Delete(ctx, table, key)
		fmt.Fprintln(stdout, status)
	case "scan":
		if _, err := db.Scan(ctx, table, key, 0, params); errors.Is(err, kvdb.ErrUnsupported) {
			fmt.Fprintln(stderr, err)
		}
		return 1
	default:
		fmt.Fprintf(stderr, "unknown operation %q\n", op)
		return 2
	}

	logger.Debug("kvctl done", zap.String("op", op), zap.Stringer("status", status))
	if status != kvdb.StatusOK {
		return 1
	}
	return 0
}

// parseValues turns field=value arguments into a value map.
func parseValues(params []string) (map[string][]byte, error) {
	if len(params) == 0 {
		return nil, errors.New("need at least one field=value")
	}
	values := make(map[string][]byte, len(params))
	for _, p := range params {
		field, value, ok := strings.Cut(p, "=")
		if !ok || field == "" {
			return nil, fmt.Errorf("invalid field %q (expected field=value)", p)
		}
		values[field] = []byte(value)
	}
	return values, nil
}

func printValues(w io.Writer, values map[string][]byte) {
	fields := make([]string, 0, len(values))
	for f := range values {
		fields = append(fields, f)
	}
	slices.Sort(fields)
	for _, f := range fields {
		fmt.Fprintf(w, "%s=%s\n", f, values[f])
	}
}

// stats prints the /stats document of every configured node.
func stats(ctx context.Context, cfg config.Config, stdout, stderr io.Writer) int {
	nodes, err := cfg.Endpoints()
	if err != nil {
		fmt.Fprintf(stderr, "config: %v\n", err)
		return 2
	}

	code := 0
	enc := json.NewEncoder(stdout)
	for _, n := range nodes {
		var doc map[string]any
		if err := cluster.GetJSON(ctx, n.BaseURL()+"/stats", &doc); err != nil {
			fmt.Fprintf(stderr, "%s: %v\n", n, err)
			code = 1
			continue
		}
		if err := enc.Encode(map[string]any{"node": n.String(), "stats": doc}); err != nil {
			fmt.Fprintf(stderr, "%s: write stats: %v\n", n, err)
			code = 1
		}
	}
	return code
}

// health probes /health on every configured node.
func health(ctx context.Context, cfg config.Config, stdout, stderr io.Writer) int {
	nodes, err := cfg.Endpoints()
	if err != nil {
		fmt.Fprintf(stderr, "config: %v\n", err)
		return 2
	}

	code := 0
	for _, h := range cluster.Probe(ctx, nodes, cfg.PerCallTimeout) {
		if !h.Healthy() {
			code = 1
			fmt.Fprintf(stdout, "%s\t%s\t%s\n", h.Node, h.Status, h.Error)
			continue
		}
		fmt.Fprintf(stdout, "%s\t%s\t%v\n", h.Node, h.Status, h.Latency.Round(time.Microsecond))
	}
	return code
}
