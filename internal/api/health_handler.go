package api

import (
	"context"
	"net/http"
	"time"

	"github.com/eternalsentinel/sentinel/internal/pkg/httputil"
)

// handleHealth reports liveness of the server and its backing services.
// Degraded dependencies surface as 503 so load balancers rotate the
// instance out, but the body still says which check failed.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := map[string]string{}

	if err := s.store.Ping(ctx); err != nil {
		checks["database"] = err.Error()
		status = http.StatusServiceUnavailable
	} else {
		checks["database"] = "ok"
	}

	if s.redis != nil {
		if err := s.redis.Ping(ctx).Err(); err != nil {
			checks["redis"] = err.Error()
			status = http.StatusServiceUnavailable
		} else {
			checks["redis"] = "ok"
		}
	}

	body := map[string]any{
		"status": "ok",
		"time":   s.store.Now(),
		"checks": checks,
	}
	if status != http.StatusOK {
		body["status"] = "degraded"
	} else if depths, err := s.queue.Depths(ctx); err == nil {
		body["queues"] = depths
	}

	httputil.JSON(w, status, body)
}
