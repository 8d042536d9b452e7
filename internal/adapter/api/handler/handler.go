package handler

import (
	"errors"
	"net/http"
	"runtime/debug"

	"github.com/V4T54L/audit-trail/internal/domain"
	"github.com/V4T54L/audit-trail/internal/pkg/requestcontext"
)

// Func is an HTTP handler that reports failures by returning them. The
// failure is recorded in the request state, where the validation, audit and
// exception middlewares pick it up.
type Func func(w http.ResponseWriter, r *http.Request) error

func (f Func) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	err := f(w, r)
	if err == nil {
		return
	}

	var verr *domain.ValidationError
	var unhandled *domain.UnhandledError
	if !errors.As(err, &verr) && !errors.As(err, &unhandled) {
		err = domain.Unhandled(err, string(debug.Stack()))
	}

	if !requestcontext.Fail(r.Context(), err) {
		// Served outside the middleware chain; nothing else will answer.
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}
