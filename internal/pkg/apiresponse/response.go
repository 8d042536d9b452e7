// Package apiresponse defines the JSON envelope returned to API clients.
package apiresponse

import (
	"encoding/json"
	"net/http"
)

// ErrorBody lists client-facing error messages. IsShow tells the client the
// messages are safe to present to an end user.
type ErrorBody struct {
	Errors []string `json:"errors"`
	IsShow bool     `json:"isShow"`
}

// Payload is the envelope shared by successful and failed responses.
// StatusCode is the semantic status, which may differ from the HTTP status.
type Payload struct {
	Data         any        `json:"data"`
	StatusCode   int        `json:"statusCode"`
	IsSuccessful bool       `json:"isSuccessful"`
	Error        *ErrorBody `json:"error"`
	Message      string     `json:"message"`
}

// Success wraps data in a successful payload.
func Success(data any, statusCode int, message string) Payload {
	return Payload{Data: data, StatusCode: statusCode, IsSuccessful: true, Message: message}
}

// Fail builds a failed payload from one or more messages.
func Fail(statusCode int, isShow bool, errs ...string) Payload {
	if errs == nil {
		errs = []string{}
	}
	return Payload{
		StatusCode: statusCode,
		Error:      &ErrorBody{Errors: errs, IsShow: isShow},
	}
}

// Write sends p as JSON with the given HTTP status.
func Write(w http.ResponseWriter, httpStatus int, p Payload) error {
	body, err := json.Marshal(p)
	if err != nil {
		return err
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	_, err = w.Write(body)
	return err
}
