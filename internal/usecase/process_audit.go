package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/V4T54L/audit-trail/internal/adapter/metrics"
	"github.com/V4T54L/audit-trail/internal/domain"
)

const (
	defaultBatchSize    = 500
	defaultRetryCount   = 3
	defaultRetryBackoff = 1 * time.Second
)

// ProcessAuditUseCase drains buffered audit records from the stream into the
// structured store.
type ProcessAuditUseCase struct {
	stream       domain.AuditStreamRepository
	writer       domain.AuditBatchWriter
	logger       *slog.Logger
	metrics      *metrics.AuditMetrics
	group        string
	consumer     string
	batchSize    int
	retryCount   int
	retryBackoff time.Duration
}

// NewProcessAuditUseCase creates the consumer use case. Non-positive retry
// settings fall back to defaults.
func NewProcessAuditUseCase(stream domain.AuditStreamRepository, writer domain.AuditBatchWriter, logger *slog.Logger, group, consumer string, retryCount int, retryBackoff time.Duration) *ProcessAuditUseCase {
	if retryCount <= 0 {
		retryCount = defaultRetryCount
	}
	if retryBackoff <= 0 {
		retryBackoff = defaultRetryBackoff
	}
	return &ProcessAuditUseCase{
		stream:       stream,
		writer:       writer,
		logger:       logger.With("component", "process_audit", "consumer", consumer),
		group:        group,
		consumer:     consumer,
		batchSize:    defaultBatchSize,
		retryCount:   retryCount,
		retryBackoff: retryBackoff,
	}
}

// WithBatchSize sets the maximum number of records read per batch.
func (uc *ProcessAuditUseCase) WithBatchSize(n int) *ProcessAuditUseCase {
	if n > 0 {
		uc.batchSize = n
	}
	return uc
}

// WithMetrics records consumer outcomes.
func (uc *ProcessAuditUseCase) WithMetrics(m *metrics.AuditMetrics) *ProcessAuditUseCase {
	uc.metrics = m
	return uc
}

// ProcessBatch reads one batch, writes it with retries and acknowledges it.
// A batch that keeps failing is parked in the DLQ and still acknowledged, so
// it does not block the stream; the write error is returned.
func (uc *ProcessAuditUseCase) ProcessBatch(ctx context.Context) (int, error) {
	records, err := uc.stream.ReadBatch(ctx, uc.group, uc.consumer, uc.batchSize)
	if err != nil {
		uc.logger.Error("Failed to read audit batch from stream", "error", err)
		return 0, err
	}
	if len(records) == 0 {
		return 0, nil
	}

	uc.logger.Debug("Read audit batch from stream", "count", len(records))

	writeErr := uc.writeWithRetry(ctx, records)
	if writeErr != nil {
		uc.logger.Error("Failed to write audit batch after retries, moving to DLQ", "error", writeErr, "count", len(records))
		if err := uc.stream.MoveToDLQ(ctx, records); err != nil {
			// Unacked, the batch stays pending and ReadBatch hands it out again.
			uc.logger.Error("Failed to move audit batch to DLQ", "error", err)
			return 0, fmt.Errorf("failed to park audit batch: %w", err)
		}
		uc.count("dlq", len(records))
	}

	messageIDs := make([]string, len(records))
	for i, record := range records {
		messageIDs[i] = record.StreamMessageID
	}

	if err := uc.stream.Acknowledge(ctx, uc.group, messageIDs...); err != nil {
		// The batch stays pending and is written again on redelivery; writes are idempotent on id.
		uc.logger.Error("Failed to acknowledge audit records", "error", err)
		return 0, err
	}

	if writeErr != nil {
		return 0, writeErr
	}

	uc.count("written", len(records))
	uc.logger.Info("Persisted audit batch", "count", len(records))
	return len(records), nil
}

// Run processes batches until ctx is cancelled.
func (uc *ProcessAuditUseCase) Run(ctx context.Context) {
	uc.logger.Info("Audit consumer started", "group", uc.group, "batch_size", uc.batchSize)
	for {
		select {
		case <-ctx.Done():
			uc.logger.Info("Audit consumer stopped")
			return
		default:
		}

		if _, err := uc.ProcessBatch(ctx); err != nil && ctx.Err() == nil {
			// Back off so a broken dependency is not hammered.
			select {
			case <-time.After(uc.retryBackoff):
			case <-ctx.Done():
			}
		}
	}
}

func (uc *ProcessAuditUseCase) writeWithRetry(ctx context.Context, records []domain.AuditRecord) error {
	var lastErr error
	for i := 0; i < uc.retryCount; i++ {
		err := uc.writer.WriteBatch(ctx, records)
		if err == nil {
			return nil
		}
		lastErr = err
		uc.logger.Warn("Failed to write audit batch, retrying", "attempt", i+1, "error", err)

		if i == uc.retryCount-1 {
			break
		}
		select {
		case <-time.After(uc.retryBackoff):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return lastErr
}

func (uc *ProcessAuditUseCase) count(status string, n int) {
	if uc.metrics != nil {
		uc.metrics.ConsumerRecords.WithLabelValues(status).Add(float64(n))
	}
}
