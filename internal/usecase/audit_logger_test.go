package usecase

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/V4T54L/audit-trail/internal/adapter/metrics"
	"github.com/V4T54L/audit-trail/internal/adapter/pii"
	"github.com/V4T54L/audit-trail/internal/domain"
	"github.com/V4T54L/audit-trail/internal/domain/mocks"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestAuditLogger_StampsKind(t *testing.T) {
	sink := &mocks.MockSink{}
	uc := NewAuditLogger([]domain.Sink{sink}, nil, nil, testLogger)
	ctx := context.Background()
	event := domain.AuditEvent{CorrelationID: uuid.New()}

	require.NoError(t, uc.LogRequest(ctx, event))
	require.NoError(t, uc.LogResponse(ctx, event))
	require.NoError(t, uc.LogInfo(ctx, event))
	require.NoError(t, uc.LogWarning(ctx, event))
	require.NoError(t, uc.LogError(ctx, event))

	var kinds []domain.Kind
	for _, e := range sink.Events() {
		kinds = append(kinds, e.Kind)
		assert.Equal(t, event.CorrelationID, e.CorrelationID)
	}
	assert.Equal(t, []domain.Kind{
		domain.KindRequest, domain.KindResponse, domain.KindInfo, domain.KindWarning, domain.KindError,
	}, kinds)
}

func TestAuditLogger_FanOutIsConcurrent(t *testing.T) {
	const delay = 100 * time.Millisecond
	sinks := []domain.Sink{
		&mocks.MockSink{SinkName: "a", Delay: delay},
		&mocks.MockSink{SinkName: "b", Delay: delay},
		&mocks.MockSink{SinkName: "c", Delay: delay},
	}
	uc := NewAuditLogger(sinks, nil, nil, testLogger)

	start := time.Now()
	require.NoError(t, uc.LogInfo(context.Background(), domain.AuditEvent{}))
	elapsed := time.Since(start)

	assert.Less(t, elapsed, 2*delay, "sinks should run in parallel")
	for _, s := range sinks {
		assert.Len(t, s.(*mocks.MockSink).Events(), 1, "call returns only after every sink finished")
	}
}

func TestAuditLogger_PartialFailure(t *testing.T) {
	diskFull := errors.New("disk full")
	dbDown := errors.New("db down")
	a := &mocks.MockSink{SinkName: "file", WriteErr: diskFull}
	b := &mocks.MockSink{SinkName: "redis"}
	c := &mocks.MockSink{SinkName: "database", WriteErr: dbDown}
	reg := prometheus.NewRegistry()
	m := metrics.NewAuditMetrics(reg)
	uc := NewAuditLogger([]domain.Sink{a, b, c}, nil, m, testLogger)

	err := uc.LogResponse(context.Background(), domain.AuditEvent{Path: "/x"})

	var sinkErrs *domain.SinkErrors
	require.ErrorAs(t, err, &sinkErrs)
	assert.Equal(t, []string{"file", "database"}, sinkErrs.Failed(), "failures are reported in configuration order")
	assert.ErrorIs(t, err, diskFull)
	assert.ErrorIs(t, err, dbDown)
	assert.Contains(t, err.Error(), "2 sinks failed")

	require.Len(t, b.Events(), 1, "healthy sink still writes")
	assert.Equal(t, "/x", b.Events()[0].Path)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.SinkWritesTotal.WithLabelValues("redis", "ok")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.SinkWritesTotal.WithLabelValues("file", "error")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.EventsTotal.WithLabelValues("Response")))
}

// ctxSink records whether its context was still live after a delay.
type ctxSink struct {
	delay  time.Duration
	ctxErr error
	wrote  bool
}

func (s *ctxSink) Name() string { return "slow" }

func (s *ctxSink) Write(ctx context.Context, event domain.AuditEvent) error {
	time.Sleep(s.delay)
	s.ctxErr = ctx.Err()
	s.wrote = true
	return nil
}

func TestAuditLogger_FailingSinkDoesNotCancelOthers(t *testing.T) {
	fast := &mocks.MockSink{SinkName: "file", WriteErr: errors.New("disk full")}
	slow := &ctxSink{delay: 50 * time.Millisecond}
	uc := NewAuditLogger([]domain.Sink{fast, slow}, nil, nil, testLogger)

	err := uc.LogInfo(context.Background(), domain.AuditEvent{})

	var sinkErrs *domain.SinkErrors
	require.ErrorAs(t, err, &sinkErrs)
	assert.Equal(t, []string{"file"}, sinkErrs.Failed())
	assert.True(t, slow.wrote, "call waits for the slow sink")
	assert.NoError(t, slow.ctxErr, "slow sink context stays live after another sink failed")
}

func TestAuditLogger_RedactsCopyOnly(t *testing.T) {
	sink := &mocks.MockSink{}
	redactor := pii.NewRedactor([]string{"password"}, testLogger)
	uc := NewAuditLogger([]domain.Sink{sink}, redactor, nil, testLogger)

	event := domain.AuditEvent{RequestBody: `{"user":"bob","password":"secret"}`}
	require.NoError(t, uc.LogRequest(context.Background(), event))

	assert.Equal(t, `{"user":"bob","password":"secret"}`, event.RequestBody, "caller's event is not mutated")
	assert.Equal(t, domain.Kind(0), event.Kind)
	assert.JSONEq(t, `{"user":"bob","password":"[REDACTED]"}`, sink.Events()[0].RequestBody)
}

func TestAuditLogger_AssignsMissingCorrelationID(t *testing.T) {
	a := &mocks.MockSink{SinkName: "a"}
	b := &mocks.MockSink{SinkName: "b"}
	uc := NewAuditLogger([]domain.Sink{a, b}, nil, nil, testLogger)

	require.NoError(t, uc.LogInfo(context.Background(), domain.AuditEvent{}))

	id := a.Events()[0].CorrelationID
	assert.NotEqual(t, uuid.Nil, id)
	assert.Equal(t, id, b.Events()[0].CorrelationID, "every sink sees the same id")
}

func TestAuditLogger_NoSinks(t *testing.T) {
	uc := NewAuditLogger(nil, nil, nil, testLogger)

	assert.NoError(t, uc.LogWarning(context.Background(), domain.AuditEvent{}))
	assert.NoError(t, uc.Close())
}

func TestAuditLogger_Close(t *testing.T) {
	a := &mocks.MockSink{SinkName: "a"}
	b := &mocks.MockSink{SinkName: "b", CloseErr: errors.New("flush failed")}
	uc := NewAuditLogger([]domain.Sink{a, b}, nil, nil, testLogger)

	err := uc.Close()

	var sinkErrs *domain.SinkErrors
	require.ErrorAs(t, err, &sinkErrs)
	assert.Equal(t, []string{"b"}, sinkErrs.Failed())
	assert.True(t, a.Closed())
	assert.True(t, b.Closed())
}
