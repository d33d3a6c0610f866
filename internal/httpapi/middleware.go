package httpapi

import (
	"net/http"
	"time"

	"github.com/rs/xid"
)

// statusRecorder captures the status code written downstream.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// accessLog logs one line per request with a generated request id. Prometheus
// scrapes arrive every few seconds, so suppressed mode demotes the line to
// trace level instead of dropping it entirely.
func (h *handler) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		begin := time.Now()
		requestID := xid.New().String()
		w.Header().Set("X-Request-Id", requestID)
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)
		status := rec.status
		if status == 0 {
			status = http.StatusOK
		}
		fields := []any{
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"remote", r.RemoteAddr,
			"elapsed", time.Since(begin),
		}
		if h.cfg.SuppressAccessLogs {
			h.logger.Trace("httpapi.request", fields...)
			return
		}
		h.logger.Info("httpapi.request", fields...)
	})
}
