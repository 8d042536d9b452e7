package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/V4T54L/audit-trail/internal/domain"
)

// Option customises a Sink.
type Option func(*Sink)

// WithClock overrides the clock used to stamp records.
func WithClock(now func() time.Time) Option {
	return func(s *Sink) { s.now = now }
}

// WithIDGenerator overrides how record ids are minted.
func WithIDGenerator(newID func() uuid.UUID) Option {
	return func(s *Sink) { s.newID = newID }
}

// Sink persists each audit event as one row, inside its own unit of work.
type Sink struct {
	factory domain.UnitOfWorkFactory
	timeout time.Duration
	now     func() time.Time
	newID   func() uuid.UUID
	logger  *slog.Logger
}

// New returns a database sink. A zero timeout leaves the caller's deadline in charge.
func New(factory domain.UnitOfWorkFactory, timeout time.Duration, logger *slog.Logger, options ...Option) *Sink {
	s := &Sink{
		factory: factory,
		timeout: timeout,
		now:     time.Now,
		newID:   uuid.New,
		logger:  logger.With("component", "database_sink"),
	}
	for _, o := range options {
		o(s)
	}
	return s
}

func (s *Sink) Name() string {
	return "database"
}

// Write maps event to an AuditRecord and commits it. The unit of work is
// rolled back on any failure and never outlives the call.
func (s *Sink) Write(ctx context.Context, event domain.AuditEvent) error {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	record := domain.NewAuditRecord(event, s.newID(), s.now())

	uow, err := s.factory.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin unit of work: %w", err)
	}
	defer func() {
		if rbErr := uow.Rollback(); rbErr != nil {
			s.logger.Warn("Failed to roll back unit of work", "error", rbErr, "record_id", record.ID)
		}
	}()

	if err := uow.Add(ctx, record); err != nil {
		return fmt.Errorf("failed to stage audit record: %w", err)
	}
	if err := uow.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit audit record: %w", err)
	}
	return nil
}
