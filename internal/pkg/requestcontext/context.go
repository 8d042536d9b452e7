// Package requestcontext carries request-scoped audit state through the
// middleware chain.
//
// Values set by an inner middleware through context.WithValue are invisible
// to the outer ones, so the chain shares one mutable *State installed by the
// outermost middleware that calls Ensure:
//
//	ctx, st := requestcontext.Ensure(r.Context())
//	st.CorrelationID = uuid.New()
//
// Inner stages raise failures with Fail and boundaries inspect them with
// Failure. A State belongs to the goroutine serving the request and is not
// safe for concurrent use.
package requestcontext

import (
	"context"

	"github.com/google/uuid"
)

type stateKey struct{}

// ContextKeyState is exported for tests that need context.WithValue directly.
var ContextKeyState = stateKey{}

// State is the per-request audit state.
type State struct {
	CorrelationID uuid.UUID
	User          string

	failure error
}

// Ensure returns ctx unchanged with its existing State, or a derived context
// carrying a fresh State.
func Ensure(ctx context.Context) (context.Context, *State) {
	if st := FromContext(ctx); st != nil {
		return ctx, st
	}
	st := &State{}
	return context.WithValue(ctx, ContextKeyState, st), st
}

// FromContext returns the State installed in ctx, or nil.
func FromContext(ctx context.Context) *State {
	st, _ := ctx.Value(ContextKeyState).(*State)
	return st
}

// CorrelationID returns the correlation id of the request, or uuid.Nil if none is set.
func CorrelationID(ctx context.Context) uuid.UUID {
	if st := FromContext(ctx); st != nil {
		return st.CorrelationID
	}
	return uuid.Nil
}

// User returns the identity recorded for the request, or "".
func User(ctx context.Context) string {
	if st := FromContext(ctx); st != nil {
		return st.User
	}
	return ""
}

// Fail records err as the request's pending failure. It reports false when
// ctx carries no State, in which case nothing can observe the failure.
func Fail(ctx context.Context, err error) bool {
	st := FromContext(ctx)
	if st == nil {
		return false
	}
	st.failure = err
	return true
}

// Failure returns the pending failure, if any.
func (s *State) Failure() error {
	return s.failure
}

// SetFailure replaces the pending failure.
func (s *State) SetFailure(err error) {
	s.failure = err
}

// ClearFailure drops the pending failure once a boundary has handled it.
func (s *State) ClearFailure() {
	s.failure = nil
}
