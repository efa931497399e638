package httpapi

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"

	"github.com/ryabkov82/target-notion/internal/job"
	"github.com/ryabkov82/target-notion/internal/metrics"
	"github.com/ryabkov82/target-notion/internal/version"
)

// Handler serves run status while the target is running
type Handler struct {
	store   *job.Store
	metrics *metrics.Metrics
}

// NewHandler creates a new handler. m may be nil.
func NewHandler(store *job.Store, m *metrics.Metrics) *Handler {
	return &Handler{
		store:   store,
		metrics: m,
	}
}

// GetVersion handles GET /version
func (h *Handler) GetVersion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, version.Info())
}

// Healthz handles GET /healthz
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GetStatus handles GET /status, returning the current run
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	run, err := h.store.Current()
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// GetRun handles GET /runs/{runId}
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	runID := strings.TrimPrefix(r.URL.Path, "/runs/")
	if runID == "" {
		http.Error(w, "runId is required", http.StatusBadRequest)
		return
	}

	run, err := h.store.Get(runID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// CancelRun handles POST /runs/{runId}/cancel
func (h *Handler) CancelRun(w http.ResponseWriter, r *http.Request) {
	runID := strings.TrimPrefix(r.URL.Path, "/runs/")
	runID = strings.TrimSuffix(runID, "/cancel")
	if runID == "" {
		http.Error(w, "runId is required", http.StatusBadRequest)
		return
	}

	if err := h.store.Cancel(runID); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	log.Printf("Run canceled: %s", runID)
	writeJSON(w, http.StatusOK, map[string]string{"status": string(job.StatusCanceled)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Failed to encode response: %v", err)
	}
}
