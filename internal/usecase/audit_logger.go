package usecase

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/V4T54L/audit-trail/internal/adapter/metrics"
	"github.com/V4T54L/audit-trail/internal/adapter/pii"
	"github.com/V4T54L/audit-trail/internal/domain"
)

// AuditLoggerUseCase fans every audit event out to a fixed set of sinks.
type AuditLoggerUseCase struct {
	sinks    []domain.Sink
	redactor *pii.Redactor
	metrics  *metrics.AuditMetrics
	logger   *slog.Logger
}

var _ domain.AuditLogger = (*AuditLoggerUseCase)(nil)

// NewAuditLogger creates the composite logger. The sink list is fixed for the
// lifetime of the logger. redactor and m may be nil.
func NewAuditLogger(sinks []domain.Sink, redactor *pii.Redactor, m *metrics.AuditMetrics, logger *slog.Logger) *AuditLoggerUseCase {
	return &AuditLoggerUseCase{
		sinks:    append([]domain.Sink(nil), sinks...),
		redactor: redactor,
		metrics:  m,
		logger:   logger.With("component", "audit_logger"),
	}
}

func (uc *AuditLoggerUseCase) LogRequest(ctx context.Context, event domain.AuditEvent) error {
	return uc.dispatch(ctx, domain.KindRequest, event)
}

func (uc *AuditLoggerUseCase) LogResponse(ctx context.Context, event domain.AuditEvent) error {
	return uc.dispatch(ctx, domain.KindResponse, event)
}

func (uc *AuditLoggerUseCase) LogInfo(ctx context.Context, event domain.AuditEvent) error {
	return uc.dispatch(ctx, domain.KindInfo, event)
}

func (uc *AuditLoggerUseCase) LogWarning(ctx context.Context, event domain.AuditEvent) error {
	return uc.dispatch(ctx, domain.KindWarning, event)
}

func (uc *AuditLoggerUseCase) LogError(ctx context.Context, event domain.AuditEvent) error {
	return uc.dispatch(ctx, domain.KindError, event)
}

// dispatch writes event to every sink concurrently and waits for all of them.
// A failing sink never stops the others; failures are reported together.
func (uc *AuditLoggerUseCase) dispatch(ctx context.Context, kind domain.Kind, event domain.AuditEvent) error {
	// event is a copy; the caller's value is never touched.
	event.Kind = kind
	if event.CorrelationID == uuid.Nil {
		event.CorrelationID = uuid.New()
	}
	if uc.redactor != nil {
		uc.redactor.Redact(&event)
	}
	if uc.metrics != nil {
		uc.metrics.EventsTotal.WithLabelValues(kind.String()).Inc()
	}

	// One failing sink never cancels the others. Wait reports whether any
	// sink failed and failures keeps each error by sink index.
	failures := make([]error, len(uc.sinks))
	var g errgroup.Group
	for i, sink := range uc.sinks {
		g.Go(func() error {
			failures[i] = uc.write(ctx, sink, event)
			return failures[i]
		})
	}
	if err := g.Wait(); err == nil {
		return nil
	}

	var sinkErrs []*domain.SinkError
	for i, err := range failures {
		if err != nil {
			sinkErrs = append(sinkErrs, &domain.SinkError{Sink: uc.sinks[i].Name(), Err: err})
		}
	}
	if len(sinkErrs) > 0 {
		return &domain.SinkErrors{Errors: sinkErrs}
	}
	return nil
}

func (uc *AuditLoggerUseCase) write(ctx context.Context, sink domain.Sink, event domain.AuditEvent) error {
	start := time.Now()
	err := sink.Write(ctx, event)

	if uc.metrics != nil {
		status := "ok"
		if err != nil {
			status = "error"
		}
		uc.metrics.SinkWritesTotal.WithLabelValues(sink.Name(), status).Inc()
		uc.metrics.SinkWriteDuration.WithLabelValues(sink.Name()).Observe(time.Since(start).Seconds())
	}
	if err != nil {
		uc.logger.Debug("Sink write failed", "sink", sink.Name(), "kind", event.Kind, "correlation_id", event.CorrelationID, "error", err)
	}
	return err
}

// Close releases every sink that holds a resource.
func (uc *AuditLoggerUseCase) Close() error {
	var sinkErrs []*domain.SinkError
	for _, sink := range uc.sinks {
		closer, ok := sink.(io.Closer)
		if !ok {
			continue
		}
		if err := closer.Close(); err != nil {
			sinkErrs = append(sinkErrs, &domain.SinkError{Sink: sink.Name(), Err: err})
		}
	}
	if len(sinkErrs) > 0 {
		return &domain.SinkErrors{Errors: sinkErrs}
	}
	return nil
}
