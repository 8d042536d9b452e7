package api

import (
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/V4T54L/audit-trail/internal/adapter/api/handler"
	"github.com/V4T54L/audit-trail/internal/adapter/api/middleware"
	"github.com/V4T54L/audit-trail/internal/domain"
	"github.com/V4T54L/audit-trail/internal/pkg/config"
)

// NewRouter creates the HTTP handler for the audit service: the application
// routes wrapped in the audit middleware chain
//
//	Logging → Exception → Identity → Audit → Validation → routes
//
// identityRepo may be nil, in which case every request is anonymous.
func NewRouter(
	cfg *config.Config,
	logger *slog.Logger,
	auditLogger domain.AuditLogger,
	identityRepo domain.IdentityRepository,
) http.Handler {
	mux := http.NewServeMux()

	eventsHandler := handler.NewEventsHandler(auditLogger, validator.New(), logger, cfg.MaxEventSize)
	mux.Handle("POST /events", handler.Func(eventsHandler.Handle))

	// Health check
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	return Chain(mux, cfg, logger, auditLogger, identityRepo)
}

// Chain wraps h in the audit middleware chain.
func Chain(h http.Handler, cfg *config.Config, logger *slog.Logger, auditLogger domain.AuditLogger, identityRepo domain.IdentityRepository) http.Handler {
	h = middleware.Validation(logger)(h)
	h = middleware.Audit(auditLogger, logger)(h)
	if identityRepo != nil {
		h = middleware.Identity(identityRepo, logger)(h)
	}
	h = middleware.Exception(auditLogger, middleware.ExceptionOptions{
		Message:     cfg.ExceptionMessage,
		Development: cfg.Development(),
	}, logger)(h)
	return middleware.Logging(logger)(h)
}
