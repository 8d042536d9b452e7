package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"

	pkgerrors "github.com/pkg/errors"

	"github.com/V4T54L/audit-trail/internal/domain"
	"github.com/V4T54L/audit-trail/internal/pkg/requestcontext"
)

// invoke runs next and converts a panic into an UnhandledError carrying the
// stack of the panicking goroutine. http.ErrAbortHandler is re-panicked so
// the server can abort the connection as intended.
func invoke(next http.Handler, w http.ResponseWriter, r *http.Request) (failure error) {
	defer func() {
		rec := recover()
		if rec == nil {
			return
		}
		if rec == http.ErrAbortHandler {
			panic(rec)
		}
		failure = domain.Unhandled(panicError(rec), string(debug.Stack()))
	}()

	next.ServeHTTP(w, r)
	return nil
}

// pendingFailure returns the failure of the inner stages: the recovered
// panic if there was one, otherwise whatever was recorded in st.
func pendingFailure(recovered error, st *requestcontext.State) error {
	if recovered != nil {
		return recovered
	}
	return st.Failure()
}

func panicError(rec any) error {
	if err, ok := rec.(error); ok {
		return err
	}
	return fmt.Errorf("%v", rec)
}

// asUnhandled returns the UnhandledError in err's chain, wrapping err in a
// new one when there is none.
func asUnhandled(err error) *domain.UnhandledError {
	var unhandled *domain.UnhandledError
	if errors.As(err, &unhandled) {
		return unhandled
	}
	return &domain.UnhandledError{Cause: err}
}

type stackTracer interface {
	StackTrace() pkgerrors.StackTrace
}

// describe returns the innermost cause's message and the best stack trace
// available: the deepest pkg/errors stack in the chain, else the stack
// captured at recovery.
func describe(unhandled *domain.UnhandledError) (message, trace string) {
	message = domain.RootCause(unhandled).Error()

	var found stackTracer
	for err := error(unhandled); err != nil; err = errors.Unwrap(err) {
		if st, ok := err.(stackTracer); ok {
			found = st
		}
	}
	if found != nil {
		return message, fmt.Sprintf("%+v", found.StackTrace())
	}
	return message, unhandled.Stack
}
