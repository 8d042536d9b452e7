// Package minify removes insignificant whitespace from JSON bodies before they
// are stored.
package minify

import (
	"bytes"
	"encoding/json"
)

// JSON returns s compacted when it is valid JSON and s unchanged otherwise.
// Member order and string escapes are kept as written; nothing is escaped
// that the input did not already escape.
func JSON(s string) string {
	if s == "" {
		return s
	}

	var buf bytes.Buffer
	buf.Grow(len(s))
	if err := json.Compact(&buf, []byte(s)); err != nil {
		return s
	}
	return buf.String()
}
