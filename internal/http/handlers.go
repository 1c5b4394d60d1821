package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/kjstillabower/weather-node/internal/lifecycle"
	"github.com/kjstillabower/weather-node/internal/node"
	"github.com/kjstillabower/weather-node/internal/state"
)

// Controller is the part of node.Controller the admin API needs.
type Controller interface {
	Configured() bool
	Addresses() []string
	Dispatch(ctx context.Context, address string, cmd node.Command) error
}

// StateReader exposes the device state surface.
type StateReader interface {
	Node(address string) (state.NodeState, bool)
	Nodes() []state.NodeState
	Notices() []state.Notice
}

// HealthConfig holds optional health dependencies.
type HealthConfig struct {
	StartTime time.Time
	// CachePing, when set, is called to check cache reachability. Used when backend is memcached.
	CachePing func() error
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	controller       Controller
	store            StateReader
	healthConfig     *HealthConfig
	logger           *zap.Logger
	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

// NewHandler returns a new Handler.
func NewHandler(controller Controller, store StateReader, healthConfig *HealthConfig, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		controller:   controller,
		store:        store,
		healthConfig: healthConfig,
		logger:       logger,
	}
}

// healthResult holds the computed health status and metadata for logging.
type healthResult struct {
	status     string
	statusCode int
	reason     string
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	result := h.computeHealthStatus()

	h.healthStatusMu.Lock()
	prev := h.healthStatusPrev
	if prev != "" && prev != result.status {
		h.logger.Info("health status transition",
			zap.String("previous_status", prev),
			zap.String("current_status", result.status),
			zap.String("reason", result.reason))
	}
	h.healthStatusPrev = result.status
	h.healthStatusMu.Unlock()

	checks := map[string]string{
		"controller": "configured",
	}
	if !h.controller.Configured() {
		checks["controller"] = "unconfigured"
	}
	for _, addr := range h.controller.Addresses() {
		if n, ok := h.store.Node(addr); ok && n.Available {
			checks[addr] = "available"
		} else {
			checks[addr] = "unavailable"
		}
	}
	if h.healthConfig != nil && h.healthConfig.CachePing != nil {
		if h.healthConfig.CachePing() == nil {
			checks["cache"] = "healthy"
		} else {
			checks["cache"] = "unhealthy"
		}
	}
	resp := map[string]interface{}{
		"status":    result.status,
		"service":   "weather-node",
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if h.healthConfig != nil && !h.healthConfig.StartTime.IsZero() {
		resp["uptime"] = time.Since(h.healthConfig.StartTime).Round(time.Second).String()
	}
	writeJSON(w, result.statusCode, resp)
}

// computeHealthStatus evaluates conditions in priority order:
// shutting-down > starting > unconfigured > degraded > ok.
func (h *Handler) computeHealthStatus() healthResult {
	switch lifecycle.CurrentPhase() {
	case lifecycle.PhaseShuttingDown:
		return healthResult{"shutting-down", http.StatusServiceUnavailable, "signal"}
	case lifecycle.PhaseStarting:
		return healthResult{"starting", http.StatusServiceUnavailable, "startup"}
	}
	if !h.controller.Configured() {
		return healthResult{"unconfigured", http.StatusServiceUnavailable, "missing_parameters"}
	}
	for _, addr := range h.controller.Addresses() {
		n, ok := h.store.Node(addr)
		if !ok || !n.Available {
			return healthResult{"degraded", http.StatusServiceUnavailable, "node_unavailable"}
		}
	}
	return healthResult{"ok", http.StatusOK, ""}
}

// GetNodes handles GET /nodes.
func (h *Handler) GetNodes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"nodes": h.store.Nodes()})
}

// GetNode handles GET /nodes/{address}.
func (h *Handler) GetNode(w http.ResponseWriter, r *http.Request) {
	address := mux.Vars(r)["address"]
	n, ok := h.store.Node(address)
	if !ok {
		writeError(w, r, http.StatusNotFound, "NODE_NOT_FOUND", "no node at "+address)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

// GetNotices handles GET /notices.
func (h *Handler) GetNotices(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"notices": h.store.Notices()})
}

// PostCommand handles POST /nodes/{address}/commands/{command}.
func (h *Handler) PostCommand(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	address := vars["address"]
	cmd, err := node.ParseCommand(vars["command"])
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "UNKNOWN_COMMAND", err.Error())
		return
	}

	logger := loggerFrom(r.Context(), h.logger)
	logger.Info("command received", zap.String("address", address), zap.Stringer("command", cmd))

	if err := h.controller.Dispatch(r.Context(), address, cmd); err != nil {
		writeCommandError(w, r, logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"address": address,
		"command": cmd.String(),
		"status":  "ok",
	})
}

func writeCommandError(w http.ResponseWriter, r *http.Request, logger *zap.Logger, err error) {
	switch {
	case errors.Is(err, node.ErrUnknownNode):
		writeError(w, r, http.StatusNotFound, "NODE_NOT_FOUND", err.Error())
	case errors.Is(err, node.ErrUnknownCommand):
		writeError(w, r, http.StatusBadRequest, "UNKNOWN_COMMAND", err.Error())
	case errors.Is(err, node.ErrNotConfigured):
		writeError(w, r, http.StatusConflict, "NOT_CONFIGURED", "API key and location must be set")
	default:
		logger.Error("command failed", zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "COMMAND_FAILED", "command failed")
	}
}

// writeJSON writes a JSON response with the specified HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes an error response in the standard error format with code, message,
// and requestId (correlation ID) if available in request context.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": correlationIDFrom(r.Context()),
		},
	})
}
