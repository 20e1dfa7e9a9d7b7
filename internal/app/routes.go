package app

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"codearena/internal/middleware"
)

const healthTimeout = 2 * time.Second

type healthResponse struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components"`
}

// Router serves the operational endpoints.
func (app *App) Router() *mux.Router {
	router := mux.NewRouter()
	router.Use(middleware.Recover(app.Logger), middleware.Logging(app.Logger))
	router.HandleFunc("/healthz", app.handleHealth).Methods(http.MethodGet)
	router.Handle("/metrics", app.Metrics.Handler()).Methods(http.MethodGet)
	return router
}

// handleHealth reports unhealthy only when the database is down. Redis
// problems degrade caching but reads still succeed.
func (app *App) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	resp := healthResponse{Status: "ok", Components: map[string]string{}}
	status := http.StatusOK

	if err := app.Storage.Health(ctx); err != nil {
		resp.Status = "unavailable"
		resp.Components["database"] = err.Error()
		status = http.StatusServiceUnavailable
	} else {
		resp.Components["database"] = "ok"
	}

	if app.RedisClient == nil {
		resp.Components["redis"] = "disabled"
	} else if err := app.RedisClient.Health(ctx); err != nil {
		resp.Components["redis"] = err.Error()
		if resp.Status == "ok" {
			resp.Status = "degraded"
		}
	} else {
		resp.Components["redis"] = "ok"
	}

	if app.RemoteCache != nil {
		resp.Components["remote_cache_breaker"] = app.RemoteCache.Breaker().State().String()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}
