package domain

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/V4T54L/audit-trail/internal/pkg/minify"
)

// Kind tags an audit event with the point of the request lifecycle it describes.
// The numeric values are persisted and must not be reordered.
type Kind int

const (
	KindRequest Kind = iota + 1
	KindResponse
	KindInfo
	KindWarning
	KindError
)

var kindNames = map[Kind]string{
	KindRequest:  "Request",
	KindResponse: "Response",
	KindInfo:     "Info",
	KindWarning:  "Warning",
	KindError:    "Error",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Glyph returns the marker printed in the header of a human-readable log block.
func (k Kind) Glyph() string {
	switch k {
	case KindInfo:
		return "ℹ️"
	case KindWarning:
		return "⚠️"
	case KindError:
		return "🔥"
	default:
		return "✅"
	}
}

// MarshalText encodes the kind by name so stream payloads stay readable.
func (k Kind) MarshalText() ([]byte, error) {
	if _, ok := kindNames[k]; !ok {
		return nil, fmt.Errorf("unknown audit kind %d", int(k))
	}
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(text []byte) error {
	parsed, err := ParseKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// ParseKind resolves a kind name case-insensitively.
func ParseKind(s string) (Kind, error) {
	for k, name := range kindNames {
		if strings.EqualFold(name, s) {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown audit kind %q", s)
}

// AuditEvent is the unit moved through the audit pipeline. It is built once per
// lifecycle point and treated as immutable afterwards; the write timestamp is
// assigned by each sink.
type AuditEvent struct {
	CorrelationID uuid.UUID `json:"correlation_id"`
	Kind          Kind      `json:"kind"`
	Error         string    `json:"error,omitempty"`
	Detail        string    `json:"detail,omitempty"`
	HTTPMethod    string    `json:"http_method,omitempty"`
	Path          string    `json:"path,omitempty"`
	QueryString   string    `json:"query_string,omitempty"`
	User          string    `json:"user,omitempty"`
	RequestBody   string    `json:"request_body,omitempty"`
	ResponseBody  string    `json:"response_body,omitempty"`
	ElapsedMs     *int64    `json:"elapsed_ms,omitempty"`
}

// AuditRecord is the persisted form of an AuditEvent.
type AuditRecord struct {
	ID            uuid.UUID `json:"id"`
	CorrelationID uuid.UUID `json:"correlation_id"`
	Timestamp     time.Time `json:"timestamp"`
	Kind          Kind      `json:"kind"`
	Error         string    `json:"error,omitempty"`
	Detail        string    `json:"detail,omitempty"`
	HTTPMethod    string    `json:"http_method,omitempty"`
	Path          string    `json:"path,omitempty"`
	User          string    `json:"user,omitempty"`
	RequestBody   string    `json:"request_body,omitempty"`
	ResponseBody  string    `json:"response_body,omitempty"`
	QueryString   string    `json:"query_string,omitempty"`
	ElapsedMs     *int64    `json:"elapsed_ms,omitempty"`

	StreamMessageID string `json:"-"` // set when read back from a stream
}

// NewAuditRecord maps an event onto a row, minifying both bodies.
func NewAuditRecord(event AuditEvent, id uuid.UUID, at time.Time) AuditRecord {
	return AuditRecord{
		ID:            id,
		CorrelationID: event.CorrelationID,
		Timestamp:     at,
		Kind:          event.Kind,
		Error:         event.Error,
		Detail:        event.Detail,
		HTTPMethod:    event.HTTPMethod,
		Path:          event.Path,
		User:          event.User,
		RequestBody:   minify.JSON(event.RequestBody),
		ResponseBody:  minify.JSON(event.ResponseBody),
		QueryString:   event.QueryString,
		ElapsedMs:     event.ElapsedMs,
	}
}

// Sink is a durable destination for audit events. Implementations own their
// resource and share no mutable state with other sinks.
type Sink interface {
	// Name identifies the sink in aggregated errors and metrics.
	Name() string

	// Write persists one event. event.Kind is already set by the caller.
	Write(ctx context.Context, event AuditEvent) error
}

// AuditLogger dispatches events of each kind to the configured sinks.
type AuditLogger interface {
	LogRequest(ctx context.Context, event AuditEvent) error
	LogResponse(ctx context.Context, event AuditEvent) error
	LogInfo(ctx context.Context, event AuditEvent) error
	LogWarning(ctx context.Context, event AuditEvent) error
	LogError(ctx context.Context, event AuditEvent) error
}
