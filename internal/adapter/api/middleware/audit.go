package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/V4T54L/audit-trail/internal/adapter/capture"
	"github.com/V4T54L/audit-trail/internal/domain"
	"github.com/V4T54L/audit-trail/internal/pkg/requestcontext"
)

// Audit is a middleware factory that records a Request event before the
// handler runs and a Response or Error event after it.
//
// The response is buffered. On success it is replayed to the client after
// the Response event is written; on failure it is discarded and the failure
// is left, marked as audited, in the request state for the outer boundary.
// Audit writes survive client disconnects. A failing sink is logged and never
// changes the outcome of the request.
func Audit(auditLogger domain.AuditLogger, logger *slog.Logger) func(http.Handler) http.Handler {
	logger = logger.With("component", "audit_middleware")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, st := requestcontext.Ensure(r.Context())
			if st.CorrelationID == uuid.Nil {
				st.CorrelationID = uuid.New()
			}
			r = r.WithContext(ctx)
			auditCtx := context.WithoutCancel(ctx)
			start := time.Now()

			body, err := capture.RequestBody(r)
			if err != nil {
				logger.Error("Failed to capture request body", "error", err, "correlation_id", st.CorrelationID)
			}

			event := requestEvent(r, st, body)
			if err := auditLogger.LogRequest(auditCtx, event); err != nil {
				logger.Error("Failed to audit request", "error", err, "correlation_id", st.CorrelationID)
			}

			rec := capture.NewResponseRecorder()
			failure := pendingFailure(invoke(next, rec, r), st)

			elapsed := time.Since(start).Milliseconds()
			event.ElapsedMs = &elapsed

			if failure == nil {
				event.ResponseBody = rec.Body()
				if err := auditLogger.LogResponse(auditCtx, event); err != nil {
					logger.Error("Failed to audit response", "error", err, "correlation_id", st.CorrelationID)
				}
				if err := rec.ReplayTo(w); err != nil {
					logger.Warn("Failed to write buffered response", "error", err, "correlation_id", st.CorrelationID)
				}
				return
			}

			unhandled := asUnhandled(failure)
			if !unhandled.Audited {
				event.Error, event.Detail = describe(unhandled)
				if err := auditLogger.LogError(auditCtx, event); err != nil {
					logger.Error("Failed to audit error", "error", err, "correlation_id", st.CorrelationID)
				}
				unhandled.Audited = true
			}
			st.SetFailure(unhandled)
		})
	}
}

// requestEvent captures the request metadata shared by every event of a request.
func requestEvent(r *http.Request, st *requestcontext.State, body string) domain.AuditEvent {
	return domain.AuditEvent{
		CorrelationID: st.CorrelationID,
		HTTPMethod:    r.Method,
		Path:          r.URL.Path,
		QueryString:   queryString(r),
		User:          st.User,
		RequestBody:   body,
	}
}

func queryString(r *http.Request) string {
	if r.URL.RawQuery == "" {
		return ""
	}
	return "?" + r.URL.RawQuery
}
