package capture

import (
	"bytes"
	"net/http"
)

// ResponseRecorder buffers a handler's response in memory. Nothing reaches
// the real client until ReplayTo is called, so a failed handler's partial
// output can be dropped by simply discarding the recorder.
type ResponseRecorder struct {
	header      http.Header
	status      int
	wroteHeader bool
	body        bytes.Buffer
}

// NewResponseRecorder returns an empty recorder with a 200 default status.
func NewResponseRecorder() *ResponseRecorder {
	return &ResponseRecorder{
		header: make(http.Header),
		status: http.StatusOK,
	}
}

func (rr *ResponseRecorder) Header() http.Header {
	return rr.header
}

func (rr *ResponseRecorder) WriteHeader(code int) {
	if rr.wroteHeader {
		return
	}
	rr.status = code
	rr.wroteHeader = true
}

func (rr *ResponseRecorder) Write(b []byte) (int, error) {
	if !rr.wroteHeader {
		rr.WriteHeader(http.StatusOK)
	}
	return rr.body.Write(b)
}

// StatusCode returns the status the handler set, or 200.
func (rr *ResponseRecorder) StatusCode() int {
	return rr.status
}

// Body returns the buffered response as text. It does not consume the buffer.
func (rr *ResponseRecorder) Body() string {
	return string(rr.body.Bytes())
}

// Len returns the number of buffered body bytes.
func (rr *ResponseRecorder) Len() int {
	return rr.body.Len()
}

// ReplayTo copies the buffered headers, status and body to w.
func (rr *ResponseRecorder) ReplayTo(w http.ResponseWriter) error {
	dst := w.Header()
	for k, v := range rr.header {
		dst[k] = append([]string(nil), v...)
	}
	w.WriteHeader(rr.status)
	_, err := w.Write(rr.body.Bytes())
	return err
}
