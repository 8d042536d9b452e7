package mocks

import (
	"context"
	"sync"

	"github.com/V4T54L/audit-trail/internal/domain"
)

// MockAuditRepository is a mock implementation of domain.AuditStreamRepository
// and domain.AuditBatchWriter for testing.
type MockAuditRepository struct {
	mu              sync.Mutex
	WrittenRecords  []domain.AuditRecord
	AckedMessageIDs []string
	DLQRecords      []domain.AuditRecord
	ReadBatchResult []domain.AuditRecord
	ReadErr         error
	WriteErr        error
	AckErr          error
	DLQErr          error

	// WriteFailures makes the first n WriteBatch calls fail with WriteErr.
	// Zero means WriteErr, when set, is returned on every call.
	WriteFailures int
	WriteCalls    int

	// Pending holds delivered records that were not acknowledged yet. Like a
	// consumer group, ReadBatch hands them out again before new records.
	Pending []domain.AuditRecord
}

func (m *MockAuditRepository) ReadBatch(ctx context.Context, group, consumer string, count int) ([]domain.AuditRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ReadErr != nil {
		return nil, m.ReadErr
	}
	if len(m.Pending) > 0 {
		return append([]domain.AuditRecord(nil), m.Pending...), nil
	}
	batch := m.ReadBatchResult
	m.ReadBatchResult = nil
	m.Pending = append(m.Pending, batch...)
	return batch, nil
}

func (m *MockAuditRepository) WriteBatch(ctx context.Context, records []domain.AuditRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.WriteCalls++
	if m.WriteErr != nil && (m.WriteFailures == 0 || m.WriteCalls <= m.WriteFailures) {
		return m.WriteErr
	}
	m.WrittenRecords = append(m.WrittenRecords, records...)
	return nil
}

func (m *MockAuditRepository) Acknowledge(ctx context.Context, group string, messageIDs ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.AckErr != nil {
		return m.AckErr
	}
	m.AckedMessageIDs = append(m.AckedMessageIDs, messageIDs...)

	acked := make(map[string]bool, len(messageIDs))
	for _, id := range messageIDs {
		acked[id] = true
	}
	pending := m.Pending[:0]
	for _, r := range m.Pending {
		if !acked[r.StreamMessageID] {
			pending = append(pending, r)
		}
	}
	m.Pending = pending
	return nil
}

func (m *MockAuditRepository) MoveToDLQ(ctx context.Context, records []domain.AuditRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.DLQErr != nil {
		return m.DLQErr
	}
	m.DLQRecords = append(m.DLQRecords, records...)
	return nil
}

// MockUnitOfWork records staged and committed records.
type MockUnitOfWork struct {
	mu         sync.Mutex
	Staged     []domain.AuditRecord
	Committed  []domain.AuditRecord
	RolledBack bool
	AddErr     error
	CommitErr  error
}

func (m *MockUnitOfWork) Add(ctx context.Context, record domain.AuditRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.AddErr != nil {
		return m.AddErr
	}
	m.Staged = append(m.Staged, record)
	return nil
}

func (m *MockUnitOfWork) Commit(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CommitErr != nil {
		return m.CommitErr
	}
	m.Committed = append(m.Committed, m.Staged...)
	m.Staged = nil
	return nil
}

func (m *MockUnitOfWork) Rollback() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Committed) == 0 {
		m.RolledBack = true
	}
	m.Staged = nil
	return nil
}

// MockUnitOfWorkFactory hands out a fresh MockUnitOfWork per Begin, or the
// prepared Next one when set.
type MockUnitOfWorkFactory struct {
	mu       sync.Mutex
	Next     *MockUnitOfWork
	Units    []*MockUnitOfWork
	BeginErr error
}

func (m *MockUnitOfWorkFactory) Begin(ctx context.Context) (domain.UnitOfWork, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.BeginErr != nil {
		return nil, m.BeginErr
	}
	uow := m.Next
	if uow == nil {
		uow = &MockUnitOfWork{}
	}
	m.Next = nil
	m.Units = append(m.Units, uow)
	return uow, nil
}

// Committed returns every record committed through units of this factory.
func (m *MockUnitOfWorkFactory) Committed() []domain.AuditRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.AuditRecord
	for _, uow := range m.Units {
		uow.mu.Lock()
		out = append(out, uow.Committed...)
		uow.mu.Unlock()
	}
	return out
}

// MockSpoolRepository is an in-memory domain.SpoolRepository.
type MockSpoolRepository struct {
	mu        sync.Mutex
	Records   []domain.AuditRecord
	WriteErr  error
	Drained  int
}

func (m *MockSpoolRepository) Write(ctx context.Context, record domain.AuditRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.WriteErr != nil {
		return m.WriteErr
	}
	m.Records = append(m.Records, record)
	return nil
}

func (m *MockSpoolRepository) Drain(ctx context.Context, handler func(record domain.AuditRecord) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.Records {
		if err := handler(r); err != nil {
			return err
		}
	}
	m.Records = nil
	m.Drained++
	return nil
}

// MockIdentityRepository resolves keys from a fixed map.
type MockIdentityRepository struct {
	mu         sync.Mutex
	Owners     map[string]string
	ResolveErr error
	Calls      int
}

func (m *MockIdentityRepository) Resolve(ctx context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls++
	if m.ResolveErr != nil {
		return "", false, m.ResolveErr
	}
	owner, ok := m.Owners[key]
	return owner, ok, nil
}
