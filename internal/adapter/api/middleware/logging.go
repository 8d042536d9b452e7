package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/V4T54L/audit-trail/internal/pkg/requestcontext"
)

const CorrelationIDHeader = "X-Correlation-ID"

// responseWriter is a wrapper that captures the HTTP status code for logging.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Logging is a middleware factory that logs HTTP requests. It is the
// outermost stage: it installs the request state and assigns the correlation
// id, adopting a valid X-Correlation-ID from the client, and echoes it on
// the response.
func Logging(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ctx, st := requestcontext.Ensure(r.Context())
			if st.CorrelationID == uuid.Nil {
				st.CorrelationID = inboundCorrelationID(r)
			}
			w.Header().Set(CorrelationIDHeader, st.CorrelationID.String())

			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(rw, r.WithContext(ctx))

			logger.Info("handled request",
				"method", r.Method,
				"path", r.URL.Path,
				"remote_addr", r.RemoteAddr,
				"status", rw.statusCode,
				"duration_ms", time.Since(start).Milliseconds(),
				"correlation_id", st.CorrelationID,
				"user", st.User,
			)
		})
	}
}

func inboundCorrelationID(r *http.Request) uuid.UUID {
	if id, err := uuid.Parse(r.Header.Get(CorrelationIDHeader)); err == nil && id != uuid.Nil {
		return id
	}
	return uuid.New()
}
