package server

import (
	"net/http"

	"blogane-live/internal/observability/logging"
	"github.com/go-chi/chi/v5/middleware"
)

// requestContext copies the id assigned by middleware.RequestID into the
// logging context and echoes it back to the caller.
func requestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := middleware.GetReqID(r.Context())
		if requestID == "" {
			next.ServeHTTP(w, r)
			return
		}
		w.Header().Set(middleware.RequestIDHeader, requestID)
		next.ServeHTTP(w, r.WithContext(logging.ContextWithRequestID(r.Context(), requestID)))
	})
}
