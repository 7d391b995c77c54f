// Package http exposes the bus's read-only operational surface over HTTP as
// JSON, for external monitoring tooling.
package http

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"

	"github.com/soniq/cascade"
	"github.com/soniq/cascade/coordinator"
)

// Handler implements http.Handler over a bus snapshot.
type Handler struct {
	bus *cascade.Bus
	mux *http.ServeMux

	mu     sync.RWMutex
	coords map[string]*coordinator.Coordinator
}

// New creates an HTTP handler for a bus.
//
// Routes:
//
//	GET /v1/bus/snapshot                 - counters, hot kinds, backlog
//	GET /v1/bus/subscriptions            - active subscriptions
//	GET /v1/bus/subscriptions/{id}       - one subscription
//	GET /v1/bus/coordinators             - registered coordinator stats
func New(bus *cascade.Bus) *Handler {
	h := &Handler{
		bus:    bus,
		mux:    http.NewServeMux(),
		coords: make(map[string]*coordinator.Coordinator),
	}
	h.mux.HandleFunc("/v1/bus/snapshot", h.handleSnapshot)
	h.mux.HandleFunc("/v1/bus/subscriptions", h.handleSubscriptions)
	h.mux.HandleFunc("/v1/bus/subscriptions/", h.handleSubscription)
	h.mux.HandleFunc("/v1/bus/coordinators", h.handleCoordinators)
	return h
}

// Register adds a coordinator to the /v1/bus/coordinators listing.
func (h *Handler) Register(c *coordinator.Coordinator) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.coords[c.Name()] = c
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

type snapshotResponse struct {
	Bus                 string              `json:"bus"`
	TotalEvents         uint64              `json:"total_events"`
	ActiveSubscriptions int                 `json:"active_subscriptions"`
	TotalSubscriptions  uint64              `json:"total_subscriptions"`
	TopKinds            []cascade.KindCount `json:"top_kinds"`
	ApproxMemoryBytes   uint64              `json:"approx_memory_bytes"`
	QueueLen            int                 `json:"queue_len"`
	Dropped             uint64              `json:"dropped"`
	Swept               uint64              `json:"swept"`
}

func (h *Handler) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s := h.bus.Snapshot()
	h.writeResponse(w, snapshotResponse{
		Bus:                 h.bus.Name(),
		TotalEvents:         s.TotalEvents,
		ActiveSubscriptions: s.ActiveSubscriptions,
		TotalSubscriptions:  s.TotalSubscriptions,
		TopKinds:            s.TopKinds,
		ApproxMemoryBytes:   s.ApproxMemoryBytes,
		QueueLen:            s.QueueLen,
		Dropped:             s.Dropped,
		Swept:               s.Swept,
	})
}

type subscriptionResponse struct {
	ID            string `json:"id"`
	Kind          string `json:"kind"`
	Owner         string `json:"owner"`
	Once          bool   `json:"once"`
	CreatedAt     string `json:"created_at"`
	LastTriggered string `json:"last_triggered,omitempty"`
	TriggerCount  uint64 `json:"trigger_count"`
}

const timeLayout = "2006-01-02T15:04:05.000Z07:00"

func subscriptionToResponse(info cascade.SubscriptionInfo) subscriptionResponse {
	resp := subscriptionResponse{
		ID:           info.ID,
		Kind:         string(info.Kind),
		Owner:        info.Owner,
		Once:         info.Once,
		CreatedAt:    info.CreatedAt.UTC().Format(timeLayout),
		TriggerCount: info.TriggerCount,
	}
	if !info.LastTriggered.IsZero() {
		resp.LastTriggered = info.LastTriggered.UTC().Format(timeLayout)
	}
	return resp
}

func (h *Handler) handleSubscriptions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	infos := h.bus.Subscriptions()
	out := make([]subscriptionResponse, len(infos))
	for i, info := range infos {
		out[i] = subscriptionToResponse(info)
	}
	h.writeResponse(w, map[string]any{"subscriptions": out})
}

func (h *Handler) handleSubscription(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/v1/bus/subscriptions/")
	if id == "" {
		h.writeError(w, http.StatusBadRequest, "subscription id is required")
		return
	}
	info, ok := h.bus.Subscription(id)
	if !ok {
		h.writeError(w, http.StatusNotFound, "subscription not found")
		return
	}
	h.writeResponse(w, subscriptionToResponse(info))
}

type coordinatorResponse struct {
	Name       string `json:"name"`
	State      string `json:"state"`
	Derived    uint64 `json:"derived"`
	Skipped    uint64 `json:"skipped"`
	Duplicates uint64 `json:"duplicates"`
	Cycles     uint64 `json:"cycles"`
	Timeouts   uint64 `json:"timeouts"`
}

func (h *Handler) handleCoordinators(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	h.mu.RLock()
	out := make([]coordinatorResponse, 0, len(h.coords))
	for _, c := range h.coords {
		stats := c.Snapshot()
		out = append(out, coordinatorResponse{
			Name:       c.Name(),
			State:      c.Guard().State().String(),
			Derived:    stats.Derived,
			Skipped:    stats.Skipped,
			Duplicates: stats.Guard.Duplicates,
			Cycles:     stats.Guard.Cycles,
			Timeouts:   stats.Guard.Timeouts,
		})
	}
	h.mu.RUnlock()
	h.writeResponse(w, map[string]any{"coordinators": out})
}

func (h *Handler) writeResponse(w http.ResponseWriter, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (h *Handler) writeError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	data, err := json.Marshal(struct {
		Error string `json:"error"`
	}{Error: message})
	if err != nil {
		return
	}
	w.Write(data)
}
