package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/V4T54L/audit-trail/internal/adapter/metrics"
	"github.com/V4T54L/audit-trail/internal/domain"
)

const payloadField = "payload"

// Config names the streams used by the repository.
type Config struct {
	StreamKey    string
	DLQStreamKey string
	Group        string
	WriteTimeout time.Duration
	ReadBlock    time.Duration
	// ClaimMinIdle is how long another consumer's entry must sit unacked
	// before ReadBatch takes it over.
	ClaimMinIdle time.Duration
}

// Option customises a StreamRepository.
type Option func(*StreamRepository)

// WithClock overrides the clock used to stamp records.
func WithClock(now func() time.Time) Option {
	return func(r *StreamRepository) { r.now = now }
}

// StreamRepository publishes audit records to a Redis Stream and reads them
// back for the consumer. When Redis is unreachable, writes fall back to the
// local spool, which is replayed once the connection recovers.
type StreamRepository struct {
	client      *redis.Client
	logger      *slog.Logger
	spool       domain.SpoolRepository
	metrics     *metrics.AuditMetrics
	cfg         Config
	now         func() time.Time
	isAvailable atomic.Bool
}

// NewStreamRepository creates a Redis-backed stream repository.
// The spool is optional; pass nil for consumers.
func NewStreamRepository(client *redis.Client, logger *slog.Logger, cfg Config, spool domain.SpoolRepository, m *metrics.AuditMetrics, options ...Option) *StreamRepository {
	if cfg.ReadBlock <= 0 {
		cfg.ReadBlock = 2 * time.Second
	}
	if cfg.ClaimMinIdle <= 0 {
		cfg.ClaimMinIdle = time.Minute
	}

	repo := &StreamRepository{
		client:  client,
		logger:  logger.With("component", "redis_stream_repository"),
		spool:   spool,
		metrics: m,
		cfg:     cfg,
		now:     time.Now,
	}
	for _, o := range options {
		o(repo)
	}
	repo.isAvailable.Store(true) // assume available until proven otherwise

	if cfg.Group != "" {
		if err := repo.setupConsumerGroup(context.Background()); err != nil {
			repo.markUnavailable()
			repo.logger.Error("Failed to setup consumer group, Redis may be unavailable on startup", "error", err)
		}
	}

	return repo
}

// Name identifies the repository when used as an audit sink.
func (r *StreamRepository) Name() string {
	return "redis"
}

// Write publishes event as a new AuditRecord.
func (r *StreamRepository) Write(ctx context.Context, event domain.AuditEvent) error {
	if r.cfg.WriteTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.WriteTimeout)
		defer cancel()
	}
	return r.Append(ctx, domain.NewAuditRecord(event, uuid.New(), r.now()))
}

// Append adds a record to the stream, falling back to the spool if Redis is unavailable.
func (r *StreamRepository) Append(ctx context.Context, record domain.AuditRecord) error {
	if !r.isAvailable.Load() {
		if r.spool == nil {
			return errors.New("redis is unavailable and spool is not configured")
		}
		r.logger.Warn("Redis is unavailable, writing to spool", "record_id", record.ID)
		return r.spool.Write(ctx, record)
	}

	err := r.appendToStream(ctx, r.cfg.StreamKey, record, nil)
	if err == nil {
		return nil
	}
	if !isNetworkError(err) {
		return err
	}

	if r.markUnavailable() {
		r.logger.Error("Redis connection lost during write", "error", err)
	}
	if r.spool == nil {
		return fmt.Errorf("redis became unavailable and spool is not configured: %w", err)
	}
	r.logger.Warn("Redis became unavailable, writing to spool", "record_id", record.ID)
	// The caller's deadline may be what failed; the spool write must still happen.
	return r.spool.Write(context.WithoutCancel(ctx), record)
}

func (r *StreamRepository) appendToStream(ctx context.Context, stream string, record domain.AuditRecord, extra map[string]interface{}) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal audit record: %w", err)
	}

	values := map[string]interface{}{payloadField: payload}
	for k, v := range extra {
		values[k] = v
	}

	if err := r.client.XAdd(ctx, &redis.XAddArgs{Stream: stream, Values: values}).Err(); err != nil {
		return fmt.Errorf("failed to XADD to redis stream %s: %w", stream, err)
	}
	return nil
}

// StartHealthCheck monitors Redis connectivity and replays the spool after a
// recovery. It blocks until ctx is done.
func (r *StreamRepository) StartHealthCheck(ctx context.Context, interval time.Duration) {
	if r.spool == nil {
		r.logger.Info("Spool is not configured, skipping health check")
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.logger.Info("Starting Redis health check and spool replayer", "interval", interval)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Stopping Redis health check")
			return
		case <-ticker.C:
			r.checkHealth(ctx)
		}
	}
}

func (r *StreamRepository) checkHealth(ctx context.Context) {
	if err := r.client.Ping(ctx).Err(); err != nil {
		if r.markUnavailable() {
			r.logger.Error("Redis connection lost", "error", err)
		}
		return
	}

	if r.isAvailable.Load() {
		// An Append that saw the outage may still have reached the spool
		// after the recovery drain.
		if err := r.ReplaySpool(ctx); err != nil {
			r.logger.Error("Failed to replay late spool records", "error", err)
		}
		return
	}

	r.logger.Info("Redis connection recovered")
	if r.cfg.Group != "" {
		if err := r.setupConsumerGroup(ctx); err != nil {
			r.logger.Error("Failed to setup consumer group after recovery", "error", err)
			return
		}
	}
	// Writes keep going to the spool until the replay has drained it.
	if err := r.ReplaySpool(ctx); err != nil {
		r.logger.Error("Failed to replay spool after Redis recovery", "error", err)
		return
	}
	r.markAvailable()
}

// ReplaySpool pushes every spooled record to the stream and empties the
// spool on success. A partial replay is retried in full later; the consumer
// skips records it has already persisted.
func (r *StreamRepository) ReplaySpool(ctx context.Context) error {
	replayed := 0
	replay := func(record domain.AuditRecord) error {
		if err := r.appendToStream(ctx, r.cfg.StreamKey, record, nil); err != nil {
			return err
		}
		replayed++
		return nil
	}
	if err := r.spool.Drain(ctx, replay); err != nil {
		return fmt.Errorf("spool replay failed after %d records: %w", replayed, err)
	}

	if replayed > 0 {
		r.logger.Info("Spool replay to Redis completed successfully", "records", replayed)
	}
	return nil
}

func (r *StreamRepository) setupConsumerGroup(ctx context.Context) error {
	err := r.client.XGroupCreateMkStream(ctx, r.cfg.StreamKey, r.cfg.Group, "0").Err()
	if err != nil && !isRedisBusyGroupError(err) {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}
	return nil
}

// ReadBatch reads up to count records for a consumer of the group. Entries
// already delivered to this consumer but never acknowledged come first, then
// entries another consumer left idle for ClaimMinIdle, then new ones.
// Malformed messages are moved to the DLQ and acknowledged.
func (r *StreamRepository) ReadBatch(ctx context.Context, group, consumer string, count int) ([]domain.AuditRecord, error) {
	messages, err := r.readGroup(ctx, group, consumer, "0", count, -1)
	if err != nil {
		return nil, err
	}

	if len(messages) == 0 {
		messages, _, err = r.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   r.cfg.StreamKey,
			Group:    group,
			Consumer: consumer,
			MinIdle:  r.cfg.ClaimMinIdle,
			Start:    "0-0",
			Count:    int64(count),
		}).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("failed to XAUTOCLAIM from redis: %w", err)
		}
		if len(messages) > 0 {
			r.logger.Info("Claimed idle audit records", "count", len(messages), "consumer", consumer)
		}
	}

	if len(messages) == 0 {
		messages, err = r.readGroup(ctx, group, consumer, ">", count, r.cfg.ReadBlock)
		if err != nil {
			return nil, err
		}
	}

	records := make([]domain.AuditRecord, 0, len(messages))
	var malformed []redis.XMessage
	for _, msg := range messages {
		record, err := decodeMessage(msg)
		if err != nil {
			r.logger.Warn("Malformed stream message", "message_id", msg.ID, "error", err)
			malformed = append(malformed, msg)
			continue
		}
		records = append(records, record)
	}

	if len(malformed) > 0 {
		if err := r.parkMalformed(ctx, group, malformed); err != nil {
			// They stay pending and are read again with the next batch.
			r.logger.Error("Failed to park malformed stream messages", "error", err, "count", len(malformed))
		}
	}

	return records, nil
}

func (r *StreamRepository) readGroup(ctx context.Context, group, consumer, id string, count int, block time.Duration) ([]redis.XMessage, error) {
	streams, err := r.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{r.cfg.StreamKey, id},
		Count:    int64(count),
		Block:    block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to XREADGROUP from redis: %w", err)
	}
	if len(streams) == 0 {
		return nil, nil
	}
	return streams[0].Messages, nil
}

// parkMalformed copies undecodable messages to the DLQ as they are and
// acknowledges them in the same transaction.
func (r *StreamRepository) parkMalformed(ctx context.Context, group string, messages []redis.XMessage) error {
	failedAt := r.now().UTC().Format(time.RFC3339)
	ids := make([]string, len(messages))
	pipe := r.client.TxPipeline()
	for i, msg := range messages {
		ids[i] = msg.ID
		values := map[string]interface{}{
			"original_stream": r.cfg.StreamKey,
			"original_msg_id": msg.ID,
			"failed_at":       failedAt,
			"malformed":       "true",
		}
		if payload, ok := msg.Values[payloadField]; ok {
			values[payloadField] = payload
		}
		pipe.XAdd(ctx, &redis.XAddArgs{Stream: r.cfg.DLQStreamKey, Values: values})
	}
	pipe.XAck(ctx, r.cfg.StreamKey, group, ids...)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to execute malformed DLQ pipeline: %w", err)
	}
	if r.metrics != nil {
		r.metrics.ConsumerRecords.WithLabelValues("malformed").Add(float64(len(messages)))
	}
	r.logger.Warn("Moved malformed stream messages to DLQ", "count", len(messages), "stream", r.cfg.DLQStreamKey)
	return nil
}

func decodeMessage(msg redis.XMessage) (domain.AuditRecord, error) {
	var record domain.AuditRecord
	payload, ok := msg.Values[payloadField].(string)
	if !ok {
		return record, errors.New("missing payload field")
	}
	if err := json.Unmarshal([]byte(payload), &record); err != nil {
		return record, fmt.Errorf("failed to unmarshal audit record: %w", err)
	}
	record.StreamMessageID = msg.ID
	return record, nil
}

// Acknowledge marks messages as processed for the group.
func (r *StreamRepository) Acknowledge(ctx context.Context, group string, messageIDs ...string) error {
	if len(messageIDs) == 0 {
		return nil
	}
	if err := r.client.XAck(ctx, r.cfg.StreamKey, group, messageIDs...).Err(); err != nil {
		return fmt.Errorf("failed to XACK messages in redis: %w", err)
	}
	return nil
}

// MoveToDLQ copies records that could not be persisted to the dead-letter stream.
func (r *StreamRepository) MoveToDLQ(ctx context.Context, records []domain.AuditRecord) error {
	if len(records) == 0 {
		return nil
	}

	failedAt := r.now().UTC().Format(time.RFC3339)
	pipe := r.client.Pipeline()
	for _, record := range records {
		payload, err := json.Marshal(record)
		if err != nil {
			r.logger.Error("Failed to marshal record for DLQ", "record_id", record.ID, "error", err)
			continue
		}
		pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: r.cfg.DLQStreamKey,
			Values: map[string]interface{}{
				payloadField:      payload,
				"original_stream": r.cfg.StreamKey,
				"original_msg_id": record.StreamMessageID,
				"failed_at":       failedAt,
			},
		})
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to execute DLQ pipeline: %w", err)
	}
	r.logger.Warn("Moved audit records to DLQ", "count", len(records), "stream", r.cfg.DLQStreamKey)
	return nil
}

// markUnavailable flips the repository to spool mode and reports whether it changed.
func (r *StreamRepository) markUnavailable() bool {
	changed := r.isAvailable.CompareAndSwap(true, false)
	if changed && r.metrics != nil {
		r.metrics.SpoolActive.Set(1)
	}
	return changed
}

func (r *StreamRepository) markAvailable() {
	if r.isAvailable.CompareAndSwap(false, true) && r.metrics != nil {
		r.metrics.SpoolActive.Set(0)
	}
}

func isRedisBusyGroupError(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "BUSYGROUP")
}

func isNetworkError(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) || errors.Is(err, redis.ErrClosed) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
