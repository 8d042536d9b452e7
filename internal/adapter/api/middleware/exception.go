package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/V4T54L/audit-trail/internal/adapter/capture"
	"github.com/V4T54L/audit-trail/internal/domain"
	"github.com/V4T54L/audit-trail/internal/pkg/apiresponse"
	"github.com/V4T54L/audit-trail/internal/pkg/requestcontext"
)

// DefaultExceptionMessage is shown to clients when no message is configured.
const DefaultExceptionMessage = "An unexpected error occurred. Please try again later."

// ExceptionOptions controls what clients see when a request fails.
type ExceptionOptions struct {
	// Message is returned to clients and recorded as the Error event's error.
	Message string
	// Development returns the raw cause to clients instead of Message.
	Development bool
}

// Exception is the outer failure boundary. It recovers panics and picks up
// failures recorded by inner stages, records an Error event unless an inner
// Audit already did, and answers with a generic 500 payload. No failure
// escapes to the HTTP server.
func Exception(auditLogger domain.AuditLogger, opts ExceptionOptions, logger *slog.Logger) func(http.Handler) http.Handler {
	logger = logger.With("component", "exception_middleware")
	if opts.Message == "" {
		opts.Message = DefaultExceptionMessage
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, st := requestcontext.Ensure(r.Context())
			r = r.WithContext(ctx)

			body, err := capture.RequestBody(r)
			if err != nil {
				logger.Error("Failed to capture request body", "error", err, "correlation_id", st.CorrelationID)
			}

			failure := pendingFailure(invoke(next, w, r), st)
			if failure == nil {
				return
			}
			st.ClearFailure()

			if st.CorrelationID == uuid.Nil {
				st.CorrelationID = uuid.New()
			}
			cause := domain.RootCause(failure)

			var unhandled *domain.UnhandledError
			if !errors.As(failure, &unhandled) || !unhandled.Audited {
				event := requestEvent(r, st, body)
				event.Error = opts.Message
				event.Detail = cause.Error()
				if err := auditLogger.LogError(context.WithoutCancel(ctx), event); err != nil {
					logger.Error("Failed to audit error", "error", err, "correlation_id", st.CorrelationID)
				}
			}

			logger.Error("Request failed", "error", failure, "method", r.Method, "path", r.URL.Path, "correlation_id", st.CorrelationID)

			msg := opts.Message
			if opts.Development {
				msg = cause.Error()
			}
			if err := apiresponse.Write(w, http.StatusInternalServerError, apiresponse.Fail(http.StatusInternalServerError, true, msg)); err != nil {
				logger.Warn("Failed to write error response", "error", err, "correlation_id", st.CorrelationID)
			}
		})
	}
}
