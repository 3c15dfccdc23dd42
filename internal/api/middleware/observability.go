package middleware

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/zatekoja/telecare/internal/infrastructure/observability"
)

// ObservabilityMiddleware traces every request and records the request metric
func ObservabilityMiddleware(metrics *observability.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, span := observability.StartSpan(r.Context(), r.Method)
			defer span.End()

			observability.SetSpanAttributes(span,
				attribute.String("http.method", r.Method),
				attribute.String("http.user_agent", r.UserAgent()),
			)
			if userID := r.Header.Get("X-User-ID"); userID != "" {
				observability.SetSpanAttributes(span, attribute.String("enduser.id", userID))
			}

			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			rr := r.WithContext(ctx)
			start := time.Now()

			next.ServeHTTP(rw, rr)

			// the mux fills in the pattern on the request it was handed
			route := routeOf(rr)
			span.SetName(route)
			observability.SetSpanAttributes(span,
				attribute.String("http.route", route),
				attribute.Int("http.status_code", rw.statusCode),
			)

			// long-lived streams would skew the latency histogram
			if !rw.hijacked && !rw.streamed {
				observability.RecordRequestMetric(ctx, metrics, r.Method, route, rw.statusCode, time.Since(start))
			}
		})
	}
}

// routeOf keeps metric cardinality bounded by preferring the matched pattern
func routeOf(r *http.Request) string {
	if r.Pattern != "" {
		return r.Pattern
	}
	return r.URL.Path
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	hijacked   bool
	streamed   bool
}

func (rw *responseWriter) WriteHeader(statusCode int) {
	rw.statusCode = statusCode
	rw.ResponseWriter.WriteHeader(statusCode)
}

func (rw *responseWriter) Flush() {
	if flusher, ok := rw.ResponseWriter.(http.Flusher); ok {
		rw.streamed = true
		flusher.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	rw.hijacked = true
	rw.statusCode = http.StatusSwitchingProtocols
	return hijacker.Hijack()
}
