package httpapi

import (
	"context"
	"net/http"
	"sort"
	"time"

	"go.uber.org/zap"
)

// Check reports whether one dependency is usable.
type Check func(ctx context.Context) error

type HealthHandler struct {
	checks  map[string]Check
	timeout time.Duration
	logger  *zap.Logger
}

func NewHealthHandler(checks map[string]Check, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{checks: checks, timeout: 2 * time.Second, logger: logger}
}

// Health handles GET /healthz. Any failing check yields 503.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	status := make(map[string]string, len(names))
	healthy := true
	for _, name := range names {
		if err := h.checks[name](ctx); err != nil {
			healthy = false
			status[name] = err.Error()
			h.logger.Warn("Health check failed", zap.String("check", name), zap.Error(err))
			continue
		}
		status[name] = "ok"
	}

	if !healthy {
		writeJSON(w, http.StatusServiceUnavailable, FailWith("unhealthy", status))
		return
	}
	writeJSON(w, http.StatusOK, Ok(status))
}
