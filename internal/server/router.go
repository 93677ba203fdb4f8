package server

import (
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/helixsec/fusion/internal/handlers"
	"github.com/helixsec/fusion/internal/middleware"
)

// NewRouter constructs a ServeMux with fusion API routes registered.
func NewRouter(h *handlers.Handler) http.Handler {
	mux := http.NewServeMux()

	// Health check and metrics
	mux.HandleFunc("/healthz", h.HealthCheck)
	mux.Handle("/metrics", promhttp.Handler())

	// Alert ingestion
	mux.HandleFunc("/api/v1/alerts", h.IngestAlert)

	// Group audit and confirmation
	mux.HandleFunc("/api/v1/groups/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/confirm") {
			h.ConfirmGroup(w, r)
		} else {
			h.GetGroup(w, r)
		}
	})

	return middleware.RequestID(mux)
}
