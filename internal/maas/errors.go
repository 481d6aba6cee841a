package maas

import (
	"errors"
	"fmt"

	"github.com/tidwall/gjson"

	"maas-router/internal/auth"
)

// ErrUnsupportedModel indicates the model name is in neither allow-list.
var ErrUnsupportedModel = errors.New("model is not supported")

// ErrInvalidParams indicates the caller's parameters cannot be sent.
var ErrInvalidParams = errors.New("invalid request parameters")

// ErrMissingToken indicates no bearer token could be obtained.
var ErrMissingToken = auth.ErrMissingToken

// HTTPError is returned when the service answers with a 4xx or 5xx status.
// It is never retried.
type HTTPError struct {
	StatusCode int
	URL        string
	// Body is the response body, verbatim.
	Body string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("error response %d while fetching %s: %s", e.StatusCode, e.URL, e.Body)
}

// Message returns the upstream error message when the body is a Google or
// OpenAI style error object, and the raw body otherwise.
func (e *HTTPError) Message() string {
	if gjson.Valid(e.Body) {
		for _, path := range []string{"error.message", "message", "0.error.message"} {
			if msg := gjson.Get(e.Body, path); msg.Type == gjson.String && msg.Str != "" {
				return msg.Str
			}
		}
	}
	return e.Body
}

// TransportError wraps connection failures, failed body reads and broken
// event framing. These are the only errors the retry loop retries.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// DecodeError indicates a response body or event payload that is not a JSON
// object. It is not retried.
type DecodeError struct {
	Data string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode response: %v", e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether err is a transient transport failure.
func IsRetryable(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
