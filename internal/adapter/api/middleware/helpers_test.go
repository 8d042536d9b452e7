package middleware

import (
	"context"

	"github.com/V4T54L/audit-trail/internal/domain"
)

// ctxCheckingLogger reports the context error seen by each audit write.
type ctxCheckingLogger struct {
	calls int
	onLog func(ctxErr error)
}

func (l *ctxCheckingLogger) log(ctx context.Context) error {
	l.calls++
	l.onLog(ctx.Err())
	return nil
}

func (l *ctxCheckingLogger) LogRequest(ctx context.Context, _ domain.AuditEvent) error {
	return l.log(ctx)
}

func (l *ctxCheckingLogger) LogResponse(ctx context.Context, _ domain.AuditEvent) error {
	return l.log(ctx)
}

func (l *ctxCheckingLogger) LogInfo(ctx context.Context, _ domain.AuditEvent) error {
	return l.log(ctx)
}

func (l *ctxCheckingLogger) LogWarning(ctx context.Context, _ domain.AuditEvent) error {
	return l.log(ctx)
}

func (l *ctxCheckingLogger) LogError(ctx context.Context, _ domain.AuditEvent) error {
	return l.log(ctx)
}
