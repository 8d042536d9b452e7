package middleware

import (
	"log/slog"
	"net/http"

	"github.com/V4T54L/audit-trail/internal/domain"
	"github.com/V4T54L/audit-trail/internal/pkg/apiresponse"
	"github.com/V4T54L/audit-trail/internal/pkg/requestcontext"
)

const APIKeyHeader = "X-API-Key"

// Identity is a middleware factory that resolves the X-API-Key header to the
// key's owner and records it as the request's user. Requests without a key
// continue anonymously; an unknown key is rejected with 401.
func Identity(repo domain.IdentityRepository, logger *slog.Logger) func(http.Handler) http.Handler {
	logger = logger.With("component", "identity_middleware")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, st := requestcontext.Ensure(r.Context())
			r = r.WithContext(ctx)

			apiKey := r.Header.Get(APIKeyHeader)
			if apiKey == "" {
				next.ServeHTTP(w, r)
				return
			}

			owner, ok, err := repo.Resolve(ctx, apiKey)
			if err != nil {
				logger.Error("Failed to resolve API key", "error", err, "correlation_id", st.CorrelationID)
				_ = apiresponse.Write(w, http.StatusInternalServerError,
					apiresponse.Fail(http.StatusInternalServerError, false, http.StatusText(http.StatusInternalServerError)))
				return
			}

			if !ok {
				logger.Warn("Invalid API key provided", "remote_addr", r.RemoteAddr, "correlation_id", st.CorrelationID)
				_ = apiresponse.Write(w, http.StatusUnauthorized,
					apiresponse.Fail(http.StatusUnauthorized, true, "Unauthorized: invalid API key"))
				return
			}

			st.User = owner
			next.ServeHTTP(w, r)
		})
	}
}
