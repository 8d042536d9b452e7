package middleware

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	pkgerrors "github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/V4T54L/audit-trail/internal/domain"
	"github.com/V4T54L/audit-trail/internal/domain/mocks"
	"github.com/V4T54L/audit-trail/internal/pkg/requestcontext"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

// withState installs a request state the way the outer chain does.
func withState(r *http.Request) (*http.Request, *requestcontext.State) {
	ctx, st := requestcontext.Ensure(r.Context())
	return r.WithContext(ctx), st
}

func TestAudit_Success(t *testing.T) {
	auditLogger := &mocks.MockAuditLogger{}
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"echo": ` + string(body) + `}`))
	})

	req := httptest.NewRequest(http.MethodPost, "/orders?expand=items&x=1", strings.NewReader(`"widget"`))
	req, st := withState(req)
	st.User = "alice"
	rr := httptest.NewRecorder()

	Audit(auditLogger, discard)(next).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusCreated, rr.Code)
	assert.Equal(t, `{"echo": "widget"}`, rr.Body.String())
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	events := auditLogger.Events()
	require.Len(t, events, 2)
	reqEvent, respEvent := events[0], events[1]

	assert.Equal(t, domain.KindRequest, reqEvent.Kind)
	assert.NotEqual(t, uuid.Nil, reqEvent.CorrelationID)
	assert.Equal(t, st.CorrelationID, reqEvent.CorrelationID)
	assert.Equal(t, "POST", reqEvent.HTTPMethod)
	assert.Equal(t, "/orders", reqEvent.Path)
	assert.Equal(t, "?expand=items&x=1", reqEvent.QueryString)
	assert.Equal(t, "alice", reqEvent.User)
	assert.Equal(t, `"widget"`, reqEvent.RequestBody)
	assert.Nil(t, reqEvent.ElapsedMs)

	assert.Equal(t, domain.KindResponse, respEvent.Kind)
	assert.Equal(t, reqEvent.CorrelationID, respEvent.CorrelationID)
	assert.Equal(t, `"widget"`, respEvent.RequestBody)
	assert.Equal(t, `{"echo": "widget"}`, respEvent.ResponseBody)
	require.NotNil(t, respEvent.ElapsedMs)
	assert.GreaterOrEqual(t, *respEvent.ElapsedMs, int64(0))
}

func TestAudit_PanicIsAuditedAndReraisedThroughState(t *testing.T) {
	auditLogger := &mocks.MockAuditLogger{}
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("partial output"))
		panic("inventory service unreachable")
	})

	req, st := withState(httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(`{"sku":"A"}`)))
	rr := httptest.NewRecorder()

	Audit(auditLogger, discard)(next).ServeHTTP(rr, req)

	assert.Zero(t, rr.Body.Len(), "partial output must not reach the client")

	errEvents := auditLogger.OfKind(domain.KindError)
	require.Len(t, errEvents, 1)
	e := errEvents[0]
	assert.Equal(t, "inventory service unreachable", e.Error)
	assert.Contains(t, e.Detail, "goroutine")
	assert.Equal(t, `{"sku":"A"}`, e.RequestBody)
	assert.Empty(t, e.ResponseBody)
	assert.NotNil(t, e.ElapsedMs)
	assert.Empty(t, auditLogger.OfKind(domain.KindResponse))

	var unhandled *domain.UnhandledError
	require.ErrorAs(t, st.Failure(), &unhandled)
	assert.True(t, unhandled.Audited)
}

func TestAudit_RecordedFailureUsesInnermostCauseAndPkgStack(t *testing.T) {
	auditLogger := &mocks.MockAuditLogger{}
	root := pkgerrors.New("connection refused")
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestcontext.Fail(r.Context(), domain.Unhandled(pkgerrors.Wrap(root, "load order"), "recovery stack"))
	})

	req, _ := withState(httptest.NewRequest(http.MethodGet, "/orders/1", nil))
	Audit(auditLogger, discard)(next).ServeHTTP(httptest.NewRecorder(), req)

	errEvents := auditLogger.OfKind(domain.KindError)
	require.Len(t, errEvents, 1)
	assert.Equal(t, "connection refused", errEvents[0].Error)
	assert.Contains(t, errEvents[0].Detail, "middleware_test.go")
	assert.NotEqual(t, "recovery stack", errEvents[0].Detail)
}

func TestAudit_AbortHandlerPropagates(t *testing.T) {
	next := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic(http.ErrAbortHandler)
	})
	req, _ := withState(httptest.NewRequest(http.MethodGet, "/", nil))

	assert.PanicsWithValue(t, http.ErrAbortHandler, func() {
		Audit(&mocks.MockAuditLogger{}, discard)(next).ServeHTTP(httptest.NewRecorder(), req)
	})
}

func TestAudit_SinkFailureDoesNotBreakRequest(t *testing.T) {
	auditLogger := &mocks.MockAuditLogger{Err: errors.New("sink file: disk full")}
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	req, _ := withState(httptest.NewRequest(http.MethodGet, "/", nil))
	rr := httptest.NewRecorder()

	Audit(auditLogger, discard)(next).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok", rr.Body.String())
}

func TestAudit_ClientDisconnectDoesNotCancelAuditContext(t *testing.T) {
	var sawCancelled bool
	auditLogger := &ctxCheckingLogger{onLog: func(err error) { sawCancelled = sawCancelled || err != nil }}
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	ctx, cancel := context.WithCancel(req.Context())
	cancel()
	req, _ = withState(req.WithContext(ctx))

	Audit(auditLogger, discard)(next).ServeHTTP(httptest.NewRecorder(), req)

	assert.False(t, sawCancelled)
	assert.Equal(t, 2, auditLogger.calls)
}

func TestException_GenericMessage(t *testing.T) {
	auditLogger := &mocks.MockAuditLogger{}
	next := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic(errors.New("nil pointer in pricing"))
	})
	req := httptest.NewRequest(http.MethodPut, "/prices?id=4", strings.NewReader(`{"p":1}`))
	rr := httptest.NewRecorder()

	Exception(auditLogger, ExceptionOptions{Message: "Try later."}, discard)(next).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.JSONEq(t, `{"data":null,"statusCode":500,"isSuccessful":false,"error":{"errors":["Try later."],"isShow":true},"message":""}`, rr.Body.String())

	errEvents := auditLogger.OfKind(domain.KindError)
	require.Len(t, errEvents, 1)
	e := errEvents[0]
	assert.Equal(t, "Try later.", e.Error)
	assert.Equal(t, "nil pointer in pricing", e.Detail)
	assert.Equal(t, `{"p":1}`, e.RequestBody)
	assert.Equal(t, "?id=4", e.QueryString)
	assert.NotEqual(t, uuid.Nil, e.CorrelationID)
}

func TestException_DevelopmentShowsCause(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestcontext.Fail(r.Context(), domain.Unhandled(errors.New("duplicate key"), ""))
	})
	rr := httptest.NewRecorder()

	Exception(&mocks.MockAuditLogger{}, ExceptionOptions{Development: true}, discard)(next).
		ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Contains(t, rr.Body.String(), `"errors":["duplicate key"]`)
}

func TestException_SkipsFailureAlreadyAudited(t *testing.T) {
	auditLogger := &mocks.MockAuditLogger{}
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestcontext.Fail(r.Context(), &domain.UnhandledError{Cause: errors.New("boom"), Audited: true})
	})
	rr := httptest.NewRecorder()

	Exception(auditLogger, ExceptionOptions{}, discard)(next).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Contains(t, rr.Body.String(), DefaultExceptionMessage)
	assert.Empty(t, auditLogger.Events())
}

func TestException_PassesThroughSuccess(t *testing.T) {
	auditLogger := &mocks.MockAuditLogger{}
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	rr := httptest.NewRecorder()

	Exception(auditLogger, ExceptionOptions{}, discard)(next).ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/x", nil))

	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Empty(t, auditLogger.Events())
}

func TestValidation(t *testing.T) {
	t.Run("recorded validation failure becomes a rejection payload", func(t *testing.T) {
		next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestcontext.Fail(r.Context(), domain.ValidationFailed("name is required", "qty must be positive"))
		})
		req, st := withState(httptest.NewRequest(http.MethodPost, "/", nil))
		rr := httptest.NewRecorder()

		Validation(discard)(next).ServeHTTP(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.JSONEq(t, `{"data":null,"statusCode":400,"isSuccessful":false,"error":{"errors":["name is required","qty must be positive"],"isShow":true},"message":""}`, rr.Body.String())
		assert.NoError(t, st.Failure())
	})

	t.Run("panicked validation failure is handled", func(t *testing.T) {
		next := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
			panic(domain.ValidationFailed("bad input"))
		})
		req, _ := withState(httptest.NewRequest(http.MethodPost, "/", nil))
		rr := httptest.NewRecorder()

		Validation(discard)(next).ServeHTTP(rr, req)

		assert.Contains(t, rr.Body.String(), `"bad input"`)
	})

	t.Run("other failures pass through", func(t *testing.T) {
		boom := domain.Unhandled(errors.New("boom"), "")
		next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestcontext.Fail(r.Context(), boom)
		})
		req, st := withState(httptest.NewRequest(http.MethodPost, "/", nil))
		rr := httptest.NewRecorder()

		Validation(discard)(next).ServeHTTP(rr, req)

		assert.Zero(t, rr.Body.Len())
		assert.Equal(t, boom, st.Failure())
	})

	t.Run("other panics keep unwinding", func(t *testing.T) {
		next := http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") })
		req, _ := withState(httptest.NewRequest(http.MethodPost, "/", nil))

		assert.PanicsWithValue(t, "boom", func() {
			Validation(discard)(next).ServeHTTP(httptest.NewRecorder(), req)
		})
	})
}

func TestIdentity(t *testing.T) {
	repo := &mocks.MockIdentityRepository{Owners: map[string]string{"k-123": "billing-service"}}
	var seenUser string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenUser = requestcontext.User(r.Context())
	})
	mw := Identity(repo, discard)(next)

	t.Run("known key sets the user", func(t *testing.T) {
		req, st := withState(httptest.NewRequest(http.MethodGet, "/", nil))
		req.Header.Set(APIKeyHeader, "k-123")
		rr := httptest.NewRecorder()

		mw.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "billing-service", seenUser)
		assert.Equal(t, "billing-service", st.User)
	})

	t.Run("missing key stays anonymous", func(t *testing.T) {
		seenUser = "unset"
		mw.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Empty(t, seenUser)
	})

	t.Run("unknown key is rejected", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(APIKeyHeader, "nope")
		rr := httptest.NewRecorder()

		mw.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		assert.Contains(t, rr.Body.String(), `"statusCode":401`)
	})

	t.Run("lookup failure is a server error", func(t *testing.T) {
		failing := Identity(&mocks.MockIdentityRepository{ResolveErr: errors.New("db down")}, discard)(next)
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(APIKeyHeader, "k-123")
		rr := httptest.NewRecorder()

		failing.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusInternalServerError, rr.Code)
	})
}

func TestLogging_CorrelationHeader(t *testing.T) {
	var seen uuid.UUID
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = requestcontext.CorrelationID(r.Context())
	})
	mw := Logging(discard)(next)

	t.Run("adopts a valid inbound id", func(t *testing.T) {
		id := uuid.New()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(CorrelationIDHeader, id.String())
		rr := httptest.NewRecorder()

		mw.ServeHTTP(rr, req)

		assert.Equal(t, id, seen)
		assert.Equal(t, id.String(), rr.Header().Get(CorrelationIDHeader))
	})

	t.Run("mints an id for garbage input", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(CorrelationIDHeader, "not-a-uuid")
		rr := httptest.NewRecorder()

		mw.ServeHTTP(rr, req)

		assert.NotEqual(t, uuid.Nil, seen)
		assert.Equal(t, seen.String(), rr.Header().Get(CorrelationIDHeader))
	})
}
