// Package httpserver is the OTLP HTTP receiver: three POST endpoints
// (/v1/traces, /v1/metrics, /v1/logs) routed with gorilla/mux, decoding
// either OTLP JSON or OTLP protobuf bodies and offering them to the same
// signal queue fabric the gRPC receiver feeds.
package httpserver

import (
	"net/http"
	"time"

	"github.com/conduktor/kafka-connect-opentelemetry/pkg/logger"
)

// AccessLogMiddleware logs each request's method, path, status, and
// duration, mirroring the teacher's request-logging middleware but through
// the structured logger instead of the standard log package.
func AccessLogMiddleware(log logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rec, r)

			log.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", rec.status).
				Dur("duration", time.Since(start)).
				Msg("otlp HTTP request")
		})
	}
}

// statusRecorder captures the status code a handler wrote, since
// http.ResponseWriter has no getter for it.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
