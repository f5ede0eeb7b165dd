package metrics

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// HealthChecker is anything whose liveness gates the health endpoint.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// HealthHandler reports process health as JSON. A failing store ping
// turns the status degraded with a 503 so orchestrators restart us.
func HealthHandler(store HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ok"
		code := http.StatusOK
		var storeErr string
		if err := store.Ping(ctx); err != nil {
			status = "degraded"
			code = http.StatusServiceUnavailable
			storeErr = err.Error()
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(map[string]any{
			"status":         status,
			"uptime_seconds": int64(Collector.Uptime().Seconds()),
			"store_error":    storeErr,
		})
	}
}
