package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/kiranshivaraju/picflow/internal/api/response"
	"github.com/kiranshivaraju/picflow/pkg/models"
)

// Pinger checks a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// QueueStats reports the state of the processing queue.
type QueueStats interface {
	Len() int
	Workers() int
	Closed() bool
}

// StatusCounter counts in-memory jobs by status.
type StatusCounter interface {
	CountByStatus(st models.ProcessingStatus) int
}

// NewHealthHandler returns an http.HandlerFunc for GET /api/v1/health.
func NewHealthHandler(db, cache Pinger, q QueueStats, statuses StatusCounter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		checks := map[string]any{
			"database": pingStatus(ctx, db),
			"cache":    pingStatus(ctx, cache),
		}
		queueState := map[string]any{
			"status":     "ok",
			"queued":     q.Len(),
			"processing": statuses.CountByStatus(models.StatusProcessing),
			"workers":    q.Workers(),
		}
		if q.Closed() {
			queueState["status"] = "closed"
		}
		checks["queue"] = queueState

		if checks["database"] != "ok" || checks["cache"] != "ok" || q.Closed() {
			response.Error(w, http.StatusServiceUnavailable, response.CodeDegraded, "One or more services degraded", checks)
			return
		}

		checks["status"] = "ok"
		response.JSON(w, checks)
	}
}

func pingStatus(ctx context.Context, p Pinger) string {
	if p == nil {
		return "ok"
	}
	if err := p.Ping(ctx); err != nil {
		return "degraded"
	}
	return "ok"
}
