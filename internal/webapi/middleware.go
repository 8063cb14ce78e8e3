package webapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// RequestObserver receives request lifecycle callbacks from MetricsMiddleware.
// Each service wires these to its own Prometheus collectors; the middleware
// itself stays registry-agnostic.
type RequestObserver struct {
	// Started is called when a request enters the handler chain.
	Started func()
	// Finished is called when the response is written. statusClass is the
	// collapsed status code ("2xx", "4xx", ...) to keep label cardinality low.
	Finished func(method, route, statusClass string, seconds float64)
}

// CorrelationIDMiddleware assigns each request a correlation ID (honoring an
// incoming X-Correlation-ID header), echoes it on the response, and stores a
// request-scoped logger carrying the ID in the request context.
func CorrelationIDMiddleware(logger *zap.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			corrID := r.Header.Get("X-Correlation-ID")
			if corrID == "" {
				corrID = uuid.New().String()
			}

			ctx := context.WithValue(r.Context(), "correlation_id", corrID)
			w.Header().Set("X-Correlation-ID", corrID)

			reqLogger := logger.With(zap.String("correlation_id", corrID))
			ctx = context.WithValue(ctx, "logger", reqLogger)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// MetricsMiddleware records per-request observations through obs and keeps the
// process-wide in-flight count used for shutdown draining.
func MetricsMiddleware(obs RequestObserver) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			globalInFlightTracker.Increment()
			if obs.Started != nil {
				obs.Started()
			}
			defer globalInFlightTracker.Decrement()

			recorder := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(recorder, r)

			if obs.Finished != nil {
				obs.Finished(r.Method, routeTemplate(r), statusClass(recorder.statusCode), time.Since(start).Seconds())
			}
		})
	}
}

// routeTemplate returns the matched mux route template (e.g. /movies/{id}) so
// metrics are labeled per route, not per URL. Falls back to the raw path for
// unrouted requests.
func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil && tmpl != "" {
			return tmpl
		}
	}
	return r.URL.Path
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

func statusClass(code int) string {
	return fmt.Sprintf("%dxx", code/100)
}

// TimeoutMiddleware sets a deadline on the request context. When exceeded,
// downstream handlers receive context.DeadlineExceeded. Apply only to routes
// that need it (e.g. routes that call an upstream).
func TimeoutMiddleware(timeout time.Duration) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RateLimitMiddleware returns 429 when the token bucket is exhausted. Disabled
// when limiter is nil. onDenied, when set, is called once per denial so the
// service can record it (health window, denial counter).
func RateLimitMiddleware(limiter *rate.Limiter, onDenied func()) mux.MiddlewareFunc {
	if limiter == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				if logger := Logger(r.Context()); logger != nil {
					logger.Debug("rate limit denied")
				}
				if onDenied != nil {
					onDenied()
				}
				WriteError(w, r, http.StatusTooManyRequests, "RATE_LIMITED", "Too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
