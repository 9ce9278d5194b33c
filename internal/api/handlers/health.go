package handlers

import (
	"context"
	"net/http"
	"time"

	"fractiverse/internal/app"
)

type HealthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
	LLM      string `json:"llm"`
}

// HealthHandler reports whether the store is reachable
func HealthHandler(config *app.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		resp := HealthResponse{Status: "ok", Database: "ok", LLM: "configured"}
		if config.LLM == nil {
			resp.LLM = "not_configured"
		}

		status := http.StatusOK
		if err := config.DB.Ping(ctx); err != nil {
			status = http.StatusServiceUnavailable
			resp.Status = "degraded"
			resp.Database = "unreachable"
		}
		sendJSON(w, status, resp)
	}
}
