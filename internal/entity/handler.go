package entity

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/dreamware/multikv/internal/protocol"
	"github.com/dreamware/multikv/internal/storage"
)

// MaxValueBytes caps the body of a PUT.
const MaxValueBytes = 16 << 20

// Handler serves the entity protocol for node:
//
//	GET    /v0/entity?id=..   200 + raw bytes, 404 if absent
//	PUT    /v0/entity?id=..   201, body stored verbatim
//	DELETE /v0/entity?id=..   202, "tk*" removes every "tk|..." entity
//	GET    /health            200
//	GET    /stats             JSON Stats
//
// A missing id or a malformed replicas parameter is answered with 400.
func Handler(node *Node, logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &handler{node: node, logger: logger.With(zap.String("node", node.ID))}

	mux := http.NewServeMux()
	mux.HandleFunc(protocol.Path, h.entity)
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/stats", h.stats)
	return mux
}

type handler struct {
	node   *Node
	logger *zap.Logger
}

func (h *handler) entity(w http.ResponseWriter, r *http.Request) {
	id, replicas, err := protocol.ParseEntityQuery(r.URL.Query())
	if err != nil {
		h.node.badRequests.Add(1)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	logger := h.logger.With(zap.String("id", id), zap.Stringer("replicas", replicas))

	switch r.Method {
	case http.MethodGet:
		h.get(w, id, logger)
	case http.MethodPut:
		h.put(w, r, id, logger)
	case http.MethodDelete:
		h.delete(w, id, logger)
	default:
		w.Header().Set("Allow", "GET, PUT, DELETE")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *handler) get(w http.ResponseWriter, id string, logger *zap.Logger) {
	value, err := h.node.Get(id)
	if errors.Is(err, storage.ErrKeyNotFound) {
		http.Error(w, "key not found", http.StatusNotFound)
		return
	}
	if err != nil {
		logger.Error("get failed", zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(protocol.StatusRead)
	if _, err := w.Write(value); err != nil {
		logger.Debug("write response", zap.Error(err))
	}
}

func (h *handler) put(w http.ResponseWriter, r *http.Request, id string, logger *zap.Logger) {
	value, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxValueBytes))
	if err != nil {
		h.node.badRequests.Add(1)
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}
	if err := h.node.Put(id, value); err != nil {
		logger.Error("put failed", zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(protocol.StatusWritten)
}

func (h *handler) delete(w http.ResponseWriter, id string, logger *zap.Logger) {
	removed, err := h.node.Delete(id)
	if err != nil {
		logger.Error("delete failed", zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	logger.Debug("deleted", zap.Int("removed", removed))
	w.WriteHeader(protocol.StatusDeleted)
}

func (h *handler) stats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h.node.Stats()); err != nil {
		h.logger.Debug("write stats", zap.Error(err))
	}
}
