// Package capture reads request and response bodies for auditing while
// leaving them intact for the handler and the client.
package capture

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
)

// ReplayableBody is an in-memory request body that can be rewound and read
// any number of times.
type ReplayableBody struct {
	*bytes.Reader
}

// Close is a no-op; the bytes stay available for the next reader.
func (b *ReplayableBody) Close() error {
	return nil
}

// RequestBody returns the request body as text and leaves r.Body positioned
// at its start.
//
// A request without a declared content length (zero or unknown) yields ""
// and r.Body is not touched. The first capture buffers the body into a
// ReplayableBody installed as r.Body; later captures rewind that buffer, so
// capturing is idempotent across middlewares. Bytes are returned verbatim.
func RequestBody(r *http.Request) (string, error) {
	if r.ContentLength <= 0 || r.Body == nil || r.Body == http.NoBody {
		return "", nil
	}

	body, ok := r.Body.(io.ReadSeeker)
	if !ok {
		data, err := io.ReadAll(r.Body)
		if err != nil {
			return "", fmt.Errorf("failed to buffer request body: %w", err)
		}
		_ = r.Body.Close()
		rb := &ReplayableBody{Reader: bytes.NewReader(data)}
		r.Body = rb
		body = rb
	}

	if _, err := body.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("failed to rewind request body: %w", err)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return "", fmt.Errorf("failed to read request body: %w", err)
	}
	if _, err := body.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("failed to rewind request body: %w", err)
	}

	return string(data), nil
}
