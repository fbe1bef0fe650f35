package handler

import "net/http"

// HealthHandler handles health checks.
type HealthHandler struct {
	node string
}

// NewHealthHandler creates a new HealthHandler reporting the node account id.
func NewHealthHandler(node string) *HealthHandler {
	return &HealthHandler{node: node}
}

// ServeHTTP implements the http.Handler interface.
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "node": h.node})
}
