package middleware

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/V4T54L/audit-trail/internal/domain"
	"github.com/V4T54L/audit-trail/internal/pkg/apiresponse"
	"github.com/V4T54L/audit-trail/internal/pkg/requestcontext"
)

// Validation turns a validation failure raised by the handler into a
// rejection payload. The HTTP status stays 200; the payload's statusCode
// is 400. Any other failure passes through untouched.
func Validation(logger *slog.Logger) func(http.Handler) http.Handler {
	logger = logger.With("component", "validation_middleware")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, st := requestcontext.Ensure(r.Context())
			r = r.WithContext(ctx)

			if recovered := invokeValidation(next, w, r); recovered != nil {
				st.SetFailure(recovered)
			}

			var verr *domain.ValidationError
			if failure := st.Failure(); failure == nil || !errors.As(failure, &verr) {
				return
			}
			st.ClearFailure()

			logger.Debug("Request rejected by validation", "errors", verr.Messages, "correlation_id", st.CorrelationID)
			if err := apiresponse.Write(w, http.StatusOK, apiresponse.Fail(http.StatusBadRequest, true, verr.Messages...)); err != nil {
				logger.Warn("Failed to write validation response", "error", err)
			}
		})
	}
}

// invokeValidation runs next and recovers only panics carrying a
// ValidationError. Anything else keeps unwinding to the outer boundaries.
func invokeValidation(next http.Handler, w http.ResponseWriter, r *http.Request) (recovered error) {
	defer func() {
		rec := recover()
		if rec == nil {
			return
		}
		err, ok := rec.(error)
		var verr *domain.ValidationError
		if !ok || !errors.As(err, &verr) {
			panic(rec)
		}
		recovered = err
	}()

	next.ServeHTTP(w, r)
	return nil
}
