package domain

import "context"

// UnitOfWork stages audit records and persists them atomically on Commit.
// A unit of work is used for one logical write and then discarded.
type UnitOfWork interface {
	// Add stages a record for insertion.
	Add(ctx context.Context, record AuditRecord) error

	// Commit persists everything staged so far.
	Commit(ctx context.Context) error

	// Rollback abandons the unit of work. It is a no-op after Commit.
	Rollback() error
}

// UnitOfWorkFactory opens units of work against the backing store.
type UnitOfWorkFactory interface {
	Begin(ctx context.Context) (UnitOfWork, error)
}

// AuditStreamRepository reads buffered audit records back from a stream.
type AuditStreamRepository interface {
	// ReadBatch reads up to count records for a consumer of the group. Records
	// delivered earlier but never acknowledged are returned again.
	ReadBatch(ctx context.Context, group, consumer string, count int) ([]AuditRecord, error)

	// Acknowledge marks records as processed in the stream.
	Acknowledge(ctx context.Context, group string, messageIDs ...string) error

	// MoveToDLQ parks records that could not be written.
	MoveToDLQ(ctx context.Context, records []AuditRecord) error
}

// AuditBatchWriter writes batches of records to the structured store.
// Writes must be idempotent on AuditRecord.ID.
type AuditBatchWriter interface {
	WriteBatch(ctx context.Context, records []AuditRecord) error
}

// SpoolRepository is the local fallback used while the stream is unreachable.
type SpoolRepository interface {
	// Write appends a record to the local spool.
	Write(ctx context.Context, record AuditRecord) error

	// Drain hands every spooled record to handler in write order and then
	// empties the spool. Writes wait until Drain returns. If handler fails
	// the spool keeps every record.
	Drain(ctx context.Context, handler func(record AuditRecord) error) error
}

// IdentityRepository resolves API keys to the name recorded as an event's user.
type IdentityRepository interface {
	// Resolve returns the owner of an active key, or ok=false when the key is unknown.
	Resolve(ctx context.Context, key string) (owner string, ok bool, err error)
}
