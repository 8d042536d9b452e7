package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/V4T54L/audit-trail/internal/domain"
)

// MockSink records every event written to it.
type MockSink struct {
	SinkName string
	Delay    time.Duration
	WriteErr error
	CloseErr error

	mu     sync.Mutex
	events []domain.AuditEvent
	closed bool
}

func (m *MockSink) Name() string {
	if m.SinkName == "" {
		return "mock"
	}
	return m.SinkName
}

func (m *MockSink) Write(ctx context.Context, event domain.AuditEvent) error {
	if m.Delay > 0 {
		time.Sleep(m.Delay)
	}
	if m.WriteErr != nil {
		return m.WriteErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

func (m *MockSink) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return m.CloseErr
}

// Events returns a copy of the recorded events.
func (m *MockSink) Events() []domain.AuditEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.AuditEvent(nil), m.events...)
}

// Closed reports whether Close was called.
func (m *MockSink) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// MockAuditLogger records dispatched events with their kind stamped, the
// way the real logger hands them to sinks.
type MockAuditLogger struct {
	Err error

	mu     sync.Mutex
	events []domain.AuditEvent
}

func (m *MockAuditLogger) record(kind domain.Kind, event domain.AuditEvent) error {
	event.Kind = kind
	m.mu.Lock()
	m.events = append(m.events, event)
	m.mu.Unlock()
	return m.Err
}

func (m *MockAuditLogger) LogRequest(ctx context.Context, event domain.AuditEvent) error {
	return m.record(domain.KindRequest, event)
}

func (m *MockAuditLogger) LogResponse(ctx context.Context, event domain.AuditEvent) error {
	return m.record(domain.KindResponse, event)
}

func (m *MockAuditLogger) LogInfo(ctx context.Context, event domain.AuditEvent) error {
	return m.record(domain.KindInfo, event)
}

func (m *MockAuditLogger) LogWarning(ctx context.Context, event domain.AuditEvent) error {
	return m.record(domain.KindWarning, event)
}

func (m *MockAuditLogger) LogError(ctx context.Context, event domain.AuditEvent) error {
	return m.record(domain.KindError, event)
}

// Events returns a copy of the recorded events in dispatch order.
func (m *MockAuditLogger) Events() []domain.AuditEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.AuditEvent(nil), m.events...)
}

// OfKind returns the recorded events of one kind.
func (m *MockAuditLogger) OfKind(kind domain.Kind) []domain.AuditEvent {
	var out []domain.AuditEvent
	for _, e := range m.Events() {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}
