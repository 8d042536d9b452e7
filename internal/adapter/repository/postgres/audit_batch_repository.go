package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/lib/pq"

	"github.com/V4T54L/audit-trail/internal/domain"
)

var auditColumns = []string{
	"id", "correlation_id", "logged_at", "kind", "error", "detail",
	"http_method", "path", "user_name", "request_body", "response_body", "query_string", "elapsed_ms",
}

// AuditBatchRepository implements domain.AuditBatchWriter for PostgreSQL.
type AuditBatchRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewAuditBatchRepository creates a new PostgreSQL batch writer.
func NewAuditBatchRepository(db *sql.DB, logger *slog.Logger) *AuditBatchRepository {
	return &AuditBatchRepository{db: db, logger: logger.With("component", "audit_batch_repository")}
}

// WriteBatch writes records with the COPY protocol into a temporary table and
// merges them into audit_logs. Rows whose id already exists are skipped, so a
// redelivered batch is harmless.
func (r *AuditBatchRepository) WriteBatch(ctx context.Context, records []domain.AuditRecord) error {
	if len(records) == 0 {
		return nil
	}

	txn, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer txn.Rollback() // no-op after Commit

	tempTableName := "audit_logs_temp_import"
	_, err = txn.ExecContext(ctx, `CREATE TEMP TABLE `+tempTableName+` (LIKE `+auditTableName+` INCLUDING DEFAULTS) ON COMMIT DROP;`)
	if err != nil {
		return fmt.Errorf("failed to create staging table: %w", err)
	}

	stmt, err := txn.PrepareContext(ctx, pq.CopyIn(tempTableName, auditColumns...))
	if err != nil {
		return fmt.Errorf("failed to prepare copy: %w", err)
	}

	for _, record := range records {
		if _, err = stmt.ExecContext(ctx, recordArgs(record)...); err != nil {
			_ = stmt.Close()
			return fmt.Errorf("failed to copy audit record %s: %w", record.ID, err)
		}
	}

	// Flush the buffered COPY data.
	if _, err := stmt.ExecContext(ctx); err != nil {
		_ = stmt.Close()
		return fmt.Errorf("failed to flush copy: %w", err)
	}
	if err := stmt.Close(); err != nil {
		return fmt.Errorf("failed to close copy statement: %w", err)
	}

	mergeQuery := `
		INSERT INTO ` + auditTableName + ` (id, correlation_id, logged_at, kind, error, detail, http_method, path, user_name, request_body, response_body, query_string, elapsed_ms)
		SELECT id, correlation_id, logged_at, kind, error, detail, http_method, path, user_name, request_body, response_body, query_string, elapsed_ms FROM ` + tempTableName + `
		ON CONFLICT (id) DO NOTHING;
	`
	res, err := txn.ExecContext(ctx, mergeQuery)
	if err != nil {
		return fmt.Errorf("failed to merge audit records: %w", err)
	}

	if err := txn.Commit(); err != nil {
		return fmt.Errorf("failed to commit audit batch: %w", err)
	}

	if inserted, err := res.RowsAffected(); err == nil && inserted < int64(len(records)) {
		r.logger.Debug("Skipped already persisted audit records", "batch_size", len(records), "inserted", inserted)
	}
	return nil
}
