package main

import (
	"net/http"
	"time"

	"github.com/nysa-labs/nysa-gateway/internal/httputil"
	"github.com/nysa-labs/nysa-gateway/internal/logging"
	"github.com/nysa-labs/nysa-gateway/internal/middleware"
	"github.com/nysa-labs/nysa-gateway/internal/scheduler"
)

// adminOnly admits users listed in admins. It runs after authentication.
func adminOnly(admins map[string]struct{}, logger *logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := middleware.GetUserID(r.Context())
			if _, ok := admins[userID]; !ok || userID == "" {
				logger.LogSecurityEvent(r.Context(), "admin_denied", map[string]interface{}{"path": r.URL.Path})
				httputil.WriteErrorMessage(w, http.StatusForbidden, "Admin access required", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type jobView struct {
	Name     string     `json:"name"`
	Schedule string     `json:"schedule"`
	Runs     int        `json:"runs"`
	LastRun  *time.Time `json:"lastRun,omitempty"`
	LastErr  string     `json:"lastError,omitempty"`
}

// jobsHandler lists the housekeeping jobs and their last outcome.
func jobsHandler(s *scheduler.Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobs := s.Jobs()
		out := make([]jobView, 0, len(jobs))
		for _, j := range jobs {
			v := jobView{Name: j.Name, Schedule: j.Schedule, Runs: j.Runs}
			if !j.LastRun.IsZero() {
				last := j.LastRun
				v.LastRun = &last
			}
			if j.LastErr != nil {
				v.LastErr = j.LastErr.Error()
			}
			out = append(out, v)
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"jobs": out})
	}
}
