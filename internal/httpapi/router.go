package httpapi

import (
	"net/http"
	"strings"
)

// SetupRouter sets up HTTP routes. apiKey guards everything except /version and /healthz.
func SetupRouter(handler *Handler, apiKey string) http.Handler {
	mux := http.NewServeMux()

	// GET /version
	mux.HandleFunc("/version", handler.GetVersion)

	// GET /healthz
	mux.HandleFunc("/healthz", handler.Healthz)

	// GET /status
	mux.HandleFunc("/status", handler.GetStatus)

	// GET /metrics
	mux.Handle("/metrics", handler.metrics.Handler())

	// GET /runs/{runId}
	// POST /runs/{runId}/cancel
	mux.HandleFunc("/runs/", func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/cancel") {
			if r.Method == http.MethodPost {
				handler.CancelRun(w, r)
			} else {
				http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			}
			return
		}
		if r.Method == http.MethodGet {
			handler.GetRun(w, r)
		} else {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})

	wrapped := AuthMiddleware(apiKey, mux)

	// Wrap to exclude /version and /healthz from auth
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/version" || r.URL.Path == "/healthz" {
			mux.ServeHTTP(w, r)
			return
		}
		wrapped.ServeHTTP(w, r)
	})
}
