package observability

import (
	"encoding/json"
	"net/http"
)

// Healthz is a liveness probe served next to /metrics while a batch runs.
func Healthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
}

// NewMux routes /metrics to the given handler and /healthz to Healthz.
func NewMux(metrics http.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", metrics)
	mux.HandleFunc("GET /healthz", Healthz)
	return mux
}
