package webapi

import (
	"context"
	"encoding/json"
	"net/http"

	"go.uber.org/zap"
)

// WriteJSON writes a JSON response with the specified HTTP status code.
// Sets Content-Type header to application/json and encodes the provided value.
func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError writes an error response in the standard error format with code,
// message, and requestId (correlation ID) if available in request context.
func WriteError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	WriteJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": CorrelationID(r.Context()),
		},
	})
}

// CorrelationID returns the request correlation ID from context, or "" when
// the request did not pass through CorrelationIDMiddleware.
func CorrelationID(ctx context.Context) string {
	if v := ctx.Value("correlation_id"); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// Logger returns the request-scoped logger from context, or nil.
func Logger(ctx context.Context) *zap.Logger {
	if v := ctx.Value("logger"); v != nil {
		if l, ok := v.(*zap.Logger); ok && l != nil {
			return l
		}
	}
	return nil
}
