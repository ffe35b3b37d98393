package jsonclient

import (
	"errors"
	"fmt"
)

// ErrCanceled is returned when the caller canceled the request context before it completed.
// Errors wrapping it also match context.Canceled (or the context's cause).
var ErrCanceled = errors.New("request canceled")

// HTTPError is returned for any non-2xx response status.
type HTTPError struct {
	Method string
	URL    string
	Status int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s %s: HTTP error: status %d", e.Method, e.URL, e.Status)
}

// DecodeError is returned when a response body is not valid JSON for the expected shape.
type DecodeError struct {
	URL string
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode response from %s: %v", e.URL, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// TransportError is returned when the request could not be sent or the response not read.
type TransportError struct {
	Method string
	URL    string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Method, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsCanceled reports whether err resulted from an intentional cancellation.
// Callers use it to suppress user-visible error reporting.
func IsCanceled(err error) bool {
	return errors.Is(err, ErrCanceled)
}

// StatusCode returns the HTTP status carried by err, or 0 if err is not an HTTPError.
func StatusCode(err error) int {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Status
	}
	return 0
}
