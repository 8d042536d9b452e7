package pii

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/V4T54L/audit-trail/internal/domain"
)

const RedactedPlaceholder = "[REDACTED]"

// Redactor masks sensitive top-level fields of JSON bodies before they are audited.
type Redactor struct {
	fieldsToRedact map[string]struct{} // lower-cased field names
	logger         *slog.Logger
}

// NewRedactor creates a Redactor for the given field names. Matching is case-insensitive.
func NewRedactor(fields []string, logger *slog.Logger) *Redactor {
	fieldSet := make(map[string]struct{}, len(fields))
	for _, field := range fields {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		fieldSet[strings.ToLower(field)] = struct{}{}
	}
	return &Redactor{
		fieldsToRedact: fieldSet,
		logger:         logger.With("component", "redactor"),
	}
}

// Redact masks both bodies of event in place and reports whether anything changed.
// Callers pass a copy; the event they were handed stays untouched.
func (r *Redactor) Redact(event *domain.AuditEvent) bool {
	var reqChanged, respChanged bool
	event.RequestBody, reqChanged = r.RedactBody(event.RequestBody)
	event.ResponseBody, respChanged = r.RedactBody(event.ResponseBody)
	return reqChanged || respChanged
}

// RedactBody returns body with matching top-level fields of a JSON object
// replaced by RedactedPlaceholder. Anything that is not a JSON object is
// returned unchanged.
func (r *Redactor) RedactBody(body string) (string, bool) {
	if len(r.fieldsToRedact) == 0 || !strings.HasPrefix(strings.TrimSpace(body), "{") {
		return body, false
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(body), &fields); err != nil {
		return body, false
	}

	placeholder, _ := json.Marshal(RedactedPlaceholder)
	redacted := false
	for key := range fields {
		if _, ok := r.fieldsToRedact[strings.ToLower(key)]; ok {
			fields[key] = placeholder
			redacted = true
		}
	}
	if !redacted {
		return body, false
	}

	// Kept values are written back without HTML escaping of <, > and &.
	var out bytes.Buffer
	enc := json.NewEncoder(&out)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(fields); err != nil {
		r.logger.Error("Failed to marshal body after redaction", "error", err)
		return body, false
	}
	return strings.TrimSuffix(out.String(), "\n"), true
}
