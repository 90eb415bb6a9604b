package main

import (
	"context"
	"net/http"
	"time"

	"github.com/shirou/gopsutil/v3/mem"

	"github.com/nysa-labs/nysa-gateway/internal/httputil"
)

const healthTimeout = 3 * time.Second

func healthHandler(checks []healthCheck) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()

		status := "healthy"
		code := http.StatusOK
		results := make(map[string]string, len(checks))
		for _, c := range checks {
			if err := c.check(ctx); err != nil {
				results[c.name] = err.Error()
				if c.critical {
					status = "unhealthy"
					code = http.StatusServiceUnavailable
				} else if status == "healthy" {
					status = "degraded"
				}
				continue
			}
			results[c.name] = "ok"
		}

		body := map[string]interface{}{
			"status":    status,
			"service":   "nysa-gateway",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"checks":    results,
		}
		if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
			body["memory"] = map[string]interface{}{
				"total":        vm.Total,
				"used":         vm.Used,
				"used_percent": vm.UsedPercent,
			}
		}
		httputil.WriteJSON(w, code, body)
	})
}
