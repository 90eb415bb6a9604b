package middleware

import (
	"net/http"
	"runtime/debug"
	"time"

	"github.com/nysa-labs/nysa-gateway/internal/httputil"
	"github.com/nysa-labs/nysa-gateway/internal/logging"
)

// TraceHeader carries the request trace ID.
const TraceHeader = "X-Trace-ID"

// TracingMiddleware assigns a trace ID, logs the request and recovers panics.
type TracingMiddleware struct {
	logger *logging.Logger
}

// NewTracingMiddleware creates the middleware.
func NewTracingMiddleware(logger *logging.Logger) *TracingMiddleware {
	return &TracingMiddleware{logger: logger}
}

// Handler returns the middleware handler.
func (m *TracingMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := r.Header.Get(TraceHeader)
		if traceID == "" || len(traceID) > 128 {
			traceID = logging.NewTraceID()
		}
		ctx := logging.WithTraceID(r.Context(), traceID)
		w.Header().Set(TraceHeader, traceID)

		rw := wrap(w)
		start := time.Now()

		defer func() {
			if rec := recover(); rec != nil {
				m.logger.WithContext(ctx).WithField("panic", rec).WithField("stack", string(debug.Stack())).
					Error("handler panic")
				if !rw.written {
					httputil.InternalError(rw, "Internal server error")
				}
			}
			m.logger.LogRequest(ctx, r.Method, r.URL.Path, rw.statusCode, time.Since(start))
		}()

		next.ServeHTTP(rw, r.WithContext(ctx))
	})
}
