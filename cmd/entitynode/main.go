// Package main implements entitynode, a single-process entity node that
// multikv clients can run against.
//
//	┌─────────────────────────────────────────┐
//	│               entitynode                │
//	├─────────────────────────────────────────┤
//	│  HTTP API:                              │
//	│    /v0/entity    - GET / PUT / DELETE   │
//	│    /health       - Health check         │
//	│    /stats        - Operation counters   │
//	├─────────────────────────────────────────┤
//	│  Store: memory | bbolt | cache          │
//	└─────────────────────────────────────────┘
//
// Configuration:
//   - NODE_LISTEN: Listen address (default: ":8020")
//   - NODE_ID: Name reported in logs and /stats (default: the listen address)
//   - NODE_STORE: memory, bbolt or cache (default: "memory")
//   - NODE_DATA_PATH: bbolt database file (default: "entities.db")
//   - NODE_CACHE_BYTES: freecache arena size (default: 64MiB)
//   - LOG_LEVEL: debug, info, warn, error or dev (default: "info")
//
// Example usage:
//
//	# Three local nodes matching the client defaults
//	NODE_LISTEN=:8020 ./entitynode &
//	NODE_LISTEN=:8021 NODE_STORE=bbolt NODE_DATA_PATH=/tmp/n1.db ./entitynode &
//	NODE_LISTEN=:8022 NODE_STORE=cache ./entitynode &
//
//	curl -X PUT 'localhost:8020/v0/entity?id=usertableuser1|field0&replicas=2/3' -d v0
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/dreamware/multikv/internal/entity"
	"github.com/dreamware/multikv/internal/logging"
	"github.com/dreamware/multikv/internal/storage"
)

// logFatal is a variable to allow mocking log.Fatal in tests.
var logFatal = log.Fatalf

func main() {
	logger, err := logging.New(getenv("LOG_LEVEL", "info"))
	if err != nil {
		logFatal("logger: %v", err)
		return
	}
	defer func() { _ = logger.Sync() }()

	listen := getenv("NODE_LISTEN", ":8020")
	id := getenv("NODE_ID", listen)
	backend := getenv("NODE_STORE", "memory")

	store, err := openStore(backend, getenv("NODE_DATA_PATH", "entities.db"), getenv("NODE_CACHE_BYTES", ""))
	if err != nil {
		logFatal("open store: %v", err)
		return
	}

	node := entity.NewNode(id, backend, store)
	s := newServer(listen, node, logger)

	go func() {
		logger.Info("listening", zap.String("node", id), zap.String("addr", listen), zap.String("store", backend))
		if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logFatal("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		logger.Warn("server shutdown", zap.Error(err))
	}
	if err := store.Close(); err != nil {
		logger.Warn("store close", zap.Error(err))
	}
	logger.Info("node stopped", zap.String("node", id))
}

func newServer(listen string, node *entity.Node, logger *zap.Logger) *http.Server {
	return &http.Server{
		Addr:              listen,
		Handler:           entity.Handler(node, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// openStore builds the backend named by kind.
func openStore(kind, path, cacheBytes string) (storage.Store, error) {
	switch kind {
	case "memory":
		return storage.NewMemoryStore(), nil
	case "bbolt":
		return storage.OpenBolt(path)
	case "cache":
		size := storage.DefaultCacheBytes
		if cacheBytes != "" {
			n, err := strconv.Atoi(cacheBytes)
			if err != nil || n <= 0 {
				return nil, fmt.Errorf("invalid NODE_CACHE_BYTES %q", cacheBytes)
			}
			size = n
		}
		return storage.NewCacheStore(size), nil
	default:
		return nil, fmt.Errorf("unknown store %q (want memory, bbolt or cache)", kind)
	}
}

// getenv returns the value of k, or def when k is unset or empty.
func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
