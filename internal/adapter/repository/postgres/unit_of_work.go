package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/V4T54L/audit-trail/internal/domain"
)

const auditTableName = "audit_logs"

const insertAuditQuery = `
	INSERT INTO ` + auditTableName + ` (id, correlation_id, logged_at, kind, error, detail, http_method, path, user_name, request_body, response_body, query_string, elapsed_ms)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

// UnitOfWorkFactory opens one transaction per unit of work.
type UnitOfWorkFactory struct {
	db *sql.DB
}

// NewUnitOfWorkFactory creates a factory over db.
func NewUnitOfWorkFactory(db *sql.DB) *UnitOfWorkFactory {
	return &UnitOfWorkFactory{db: db}
}

// Begin starts a transaction. The returned unit of work must be committed or
// rolled back by the caller.
func (f *UnitOfWorkFactory) Begin(ctx context.Context) (domain.UnitOfWork, error) {
	tx, err := f.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &unitOfWork{tx: tx}, nil
}

type unitOfWork struct {
	tx *sql.Tx
}

// Add inserts the record inside the open transaction.
func (u *unitOfWork) Add(ctx context.Context, record domain.AuditRecord) error {
	_, err := u.tx.ExecContext(ctx, insertAuditQuery, recordArgs(record)...)
	if err != nil {
		return fmt.Errorf("failed to insert audit record %s: %w", record.ID, err)
	}
	return nil
}

func (u *unitOfWork) Commit(ctx context.Context) error {
	return u.tx.Commit()
}

// Rollback is a no-op once the transaction has been committed.
func (u *unitOfWork) Rollback() error {
	if err := u.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}
	return nil
}

// recordArgs lists the column values of record in insert order.
func recordArgs(r domain.AuditRecord) []any {
	var elapsed sql.NullInt64
	if r.ElapsedMs != nil {
		elapsed = sql.NullInt64{Int64: *r.ElapsedMs, Valid: true}
	}
	return []any{
		r.ID, r.CorrelationID, r.Timestamp, int(r.Kind), r.Error, r.Detail,
		r.HTTPMethod, r.Path, r.User, r.RequestBody, r.ResponseBody, r.QueryString, elapsed,
	}
}
