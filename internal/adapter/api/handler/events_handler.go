package handler

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/V4T54L/audit-trail/internal/domain"
	"github.com/V4T54L/audit-trail/internal/pkg/apiresponse"
	"github.com/V4T54L/audit-trail/internal/pkg/requestcontext"
)

// EventEntry is an application event submitted by a client.
type EventEntry struct {
	Level   string `json:"level" validate:"required,oneof=info warning"`
	Message string `json:"message" validate:"required,max=4096"`
	Detail  string `json:"detail" validate:"max=65536"`
}

// EventsHandler records Info and Warning events submitted over HTTP.
type EventsHandler struct {
	auditLogger  domain.AuditLogger
	validate     *validator.Validate
	logger       *slog.Logger
	maxEventSize int64
}

// NewEventsHandler creates a new EventsHandler.
func NewEventsHandler(auditLogger domain.AuditLogger, validate *validator.Validate, logger *slog.Logger, maxEventSize int64) *EventsHandler {
	return &EventsHandler{
		auditLogger:  auditLogger,
		validate:     validate,
		logger:       logger.With("component", "events_handler"),
		maxEventSize: maxEventSize,
	}
}

// Handle accepts a single JSON entry or an NDJSON stream of entries. Either
// every entry is valid and all are logged, or the request is rejected with
// the list of problems and nothing is logged.
func (h *EventsHandler) Handle(w http.ResponseWriter, r *http.Request) error {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	// Enforce max body size
	r.Body = http.MaxBytesReader(w, r.Body, h.maxEventSize)

	var entries []EventEntry
	var err error
	switch mediaType {
	case "application/json":
		entries, err = decodeSingleJSON(r.Body)
	case "application/x-ndjson":
		entries, err = decodeNDJSON(r.Body, h.maxEventSize)
	default:
		return apiresponse.Write(w, http.StatusUnsupportedMediaType,
			apiresponse.Fail(http.StatusUnsupportedMediaType, true, "Unsupported Content-Type: "+mediaType))
	}
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			return apiresponse.Write(w, http.StatusRequestEntityTooLarge,
				apiresponse.Fail(http.StatusRequestEntityTooLarge, true, "Payload too large"))
		}
		var verr *domain.ValidationError
		if errors.As(err, &verr) {
			return err
		}
		return fmt.Errorf("failed to read events: %w", err)
	}

	if msgs := h.validateEntries(entries); len(msgs) > 0 {
		return domain.ValidationFailed(msgs...)
	}

	ctx := r.Context()
	accepted := 0
	for _, entry := range entries {
		event := domain.AuditEvent{
			CorrelationID: requestcontext.CorrelationID(ctx),
			HTTPMethod:    r.Method,
			Path:          r.URL.Path,
			User:          requestcontext.User(ctx),
			Detail:        entry.Message,
		}
		if entry.Detail != "" {
			event.Detail += "\n" + entry.Detail
		}

		var logErr error
		if entry.Level == "warning" {
			logErr = h.auditLogger.LogWarning(ctx, event)
		} else {
			logErr = h.auditLogger.LogInfo(ctx, event)
		}
		if logErr != nil {
			// Sinks are best-effort; the entry counts as accepted.
			h.logger.Warn("Failed to record application event", "error", logErr, "level", entry.Level)
		}
		accepted++
	}

	h.logger.Debug("Recorded application events", "count", accepted, "correlation_id", requestcontext.CorrelationID(ctx))
	return apiresponse.Write(w, http.StatusAccepted, apiresponse.Success(map[string]int{"accepted": accepted}, http.StatusAccepted, ""))
}

func (h *EventsHandler) validateEntries(entries []EventEntry) []string {
	if len(entries) == 0 {
		return []string{"at least one event is required"}
	}

	var msgs []string
	for i := range entries {
		entries[i].Level = strings.ToLower(strings.TrimSpace(entries[i].Level))
		err := h.validate.Struct(entries[i])
		if err == nil {
			continue
		}
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			msgs = append(msgs, err.Error())
			continue
		}
		for _, fe := range fieldErrs {
			msg := fieldMessage(fe)
			if len(entries) > 1 {
				msg = fmt.Sprintf("event %d: %s", i+1, msg)
			}
			msgs = append(msgs, msg)
		}
	}
	return msgs
}

func fieldMessage(fe validator.FieldError) string {
	field := strings.ToLower(fe.Field())
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
	default:
		return fmt.Sprintf("%s is invalid (%s)", field, fe.Tag())
	}
}

func decodeSingleJSON(body io.Reader) ([]EventEntry, error) {
	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, err
	}

	entry, err := decodeEntry(raw)
	if err != nil {
		return nil, domain.ValidationFailed("malformed JSON: " + err.Error())
	}
	return []EventEntry{entry}, nil
}

// decodeNDJSON reads one entry per line. The body is already capped at
// maxSize, so a line can never outgrow the scanner buffer.
func decodeNDJSON(body io.Reader, maxSize int64) ([]EventEntry, error) {
	var entries []EventEntry
	var msgs []string

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), int(maxSize)+1)
	line := 0
	for scanner.Scan() {
		line++
		data := bytes.TrimSpace(scanner.Bytes())
		if len(data) == 0 {
			continue
		}
		entry, err := decodeEntry(data)
		if err != nil {
			msgs = append(msgs, fmt.Sprintf("line %d: malformed JSON: %v", line, err))
			continue
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(msgs) > 0 {
		return nil, domain.ValidationFailed(msgs...)
	}
	return entries, nil
}

// decodeEntry rejects unknown fields for both content types.
func decodeEntry(data []byte) (EventEntry, error) {
	var entry EventEntry
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.DisallowUnknownFields()
	err := decoder.Decode(&entry)
	return entry, err
}
