package httpapi

import (
	"net/http"

	"go.uber.org/zap"
)

// Router wraps http.ServeMux; routes use method and {id} patterns.
type Router struct {
	mux    *http.ServeMux
	logger *zap.Logger
}

func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		mux:    http.NewServeMux(),
		logger: logger,
	}
}

func (r *Router) Handle(pattern string, h http.HandlerFunc) {
	r.mux.HandleFunc(pattern, h)
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// RegisterDeviceRoutes registers the operator command and chart endpoints.
func (r *Router) RegisterDeviceRoutes(h *DeviceHandler) {
	r.Handle("POST /api/v1/devices/{id}/commands", h.ApplyCommand)
	r.Handle("GET /api/v1/devices/{id}/history", h.GetHistory)
}

// RegisterAdminRoutes registers the history maintenance endpoints.
func (r *Router) RegisterAdminRoutes(h *AdminHandler) {
	r.Handle("POST /api/v1/admin/history/copy", h.CopyHistory)
	r.Handle("POST /api/v1/admin/devices/{id}/phantom/delete", h.DeletePhantom)
}

func (r *Router) RegisterHealthRoutes(h *HealthHandler) {
	r.Handle("GET /healthz", h.Health)
}
