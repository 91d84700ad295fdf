package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/polyarb/agent/internal/agent"
)

// SupervisorView is the subset of Supervisor the operator API needs.
// Kept as an interface so handlers can be tested against a fake.
type SupervisorView interface {
	List() []agent.State
	Status(userID string) (agent.State, error)
	Start(ctx context.Context, userID string) error
	Stop(userID string) error
}

// Handlers holds the operator API's HTTP handler dependencies.
type Handlers struct {
	sup    SupervisorView
	logger *slog.Logger
}

// NewHandlers builds the operator API's handlers over sup.
func NewHandlers(sup SupervisorView, logger *slog.Logger) *Handlers {
	return &Handlers{sup: sup, logger: logger.With("component", "api-handlers")}
}

// HandleHealth reports process liveness.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleListAgents returns every managed agent's current state.
func (h *Handlers) HandleListAgents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, h.sup.List())
}

// HandleAgentAction routes /agents/{userId}/start, /agents/{userId}/stop,
// and /agents/{userId}/status.
func (h *Handlers) HandleAgentAction(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/agents/")
	parts := strings.SplitN(path, "/", 2)
	if len(parts) != 2 || parts[0] == "" {
		http.Error(w, "expected /agents/{userId}/{start|stop|status}", http.StatusBadRequest)
		return
	}
	userID, action := parts[0], parts[1]

	switch action {
	case "status":
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		state, err := h.sup.Status(userID)
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, state)

	case "start":
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if err := h.sup.Start(r.Context(), userID); err != nil {
			h.logger.Warn("start agent failed", "user_id", userID, "err", err)
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "started"})

	case "stop":
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if err := h.sup.Stop(userID); err != nil {
			h.logger.Warn("stop agent failed", "user_id", userID, "err", err)
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})

	default:
		http.Error(w, "unknown action: "+action, http.StatusNotFound)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
