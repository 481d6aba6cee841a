package maas

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"time"

	"github.com/google/uuid"
)

const (
	contentTypeJSON = "application/json"
	eventStreamType = "text/event-stream"
	userAgent       = "maas-router/0.1"
)

// Response holds the outcome of Do: Record for non-streaming calls, Stream
// for streaming ones.
type Response struct {
	Record Record
	Stream *Stream
}

// Do sends params, streaming when params["stream"] is true.
func (m *Model) Do(ctx context.Context, params map[string]any) (*Response, error) {
	payload, stream, err := m.EnrichParams(params)
	if err != nil {
		return nil, err
	}
	if stream {
		s, err := m.openStream(ctx, payload)
		if err != nil {
			return nil, err
		}
		return &Response{Stream: s}, nil
	}
	rec, err := m.complete(ctx, payload)
	if err != nil {
		return nil, err
	}
	return &Response{Record: rec}, nil
}

// Complete sends a non-streaming request and returns the decoded body. Any
// stream value in params is overridden.
func (m *Model) Complete(ctx context.Context, params map[string]any) (Record, error) {
	payload, _, err := m.EnrichParams(params)
	if err != nil {
		return nil, err
	}
	payload["stream"] = false
	return m.complete(ctx, payload)
}

// Stream opens a streaming request. The caller owns the returned stream and
// must drain or Close it.
func (m *Model) Stream(ctx context.Context, params map[string]any) (*Stream, error) {
	payload, _, err := m.EnrichParams(params)
	if err != nil {
		return nil, err
	}
	payload["stream"] = true
	return m.openStream(ctx, payload)
}

// CompletionResult is delivered by CompleteAsync.
type CompletionResult struct {
	Record Record
	Err    error
}

// CompleteAsync runs Complete on its own goroutine. The channel receives
// exactly one result and is then closed.
func (m *Model) CompleteAsync(ctx context.Context, params map[string]any) <-chan CompletionResult {
	payload, _, err := m.EnrichParams(params)
	ch := make(chan CompletionResult, 1)
	if err != nil {
		ch <- CompletionResult{Err: err}
		close(ch)
		return ch
	}
	payload["stream"] = false

	go func() {
		defer close(ch)
		rec, err := m.complete(ctx, payload)
		ch <- CompletionResult{Record: rec, Err: err}
	}()
	return ch
}

// StreamResult is one element delivered by StreamAsync.
type StreamResult struct {
	Record Record
	Err    error
}

// StreamAsync opens a stream on its own goroutine and forwards each record.
// An error is delivered at most once, as the last element. The channel is
// closed when the stream ends; cancelling ctx abandons the stream and
// releases the connection.
func (m *Model) StreamAsync(ctx context.Context, params map[string]any) <-chan StreamResult {
	payload, _, err := m.EnrichParams(params)
	ch := make(chan StreamResult)
	if err != nil {
		go func() {
			defer close(ch)
			sendResult(ctx, ch, StreamResult{Err: err})
		}()
		return ch
	}
	payload["stream"] = true

	go func() {
		defer close(ch)
		s, err := m.openStream(ctx, payload)
		if err != nil {
			sendResult(ctx, ch, StreamResult{Err: err})
			return
		}
		for rec, err := range s.Records() {
			if !sendResult(ctx, ch, StreamResult{Record: rec, Err: err}) {
				return
			}
		}
	}()
	return ch
}

func sendResult(ctx context.Context, ch chan<- StreamResult, res StreamResult) bool {
	select {
	case ch <- res:
		return true
	case <-ctx.Done():
		return false
	}
}

func (m *Model) complete(ctx context.Context, payload map[string]any) (Record, error) {
	logger := m.callLogger()
	start := time.Now()

	rec, err := withRetry(ctx, m.retry, IsRetryable, m.onRetry(logger), func(ctx context.Context) (Record, error) {
		return m.completeOnce(ctx, logger, payload)
	})
	m.recorder.ObserveRequest(m.identity.Requested, m.identity.Family, false, outcome(err), time.Since(start))
	if err != nil {
		logger.Debug("maas request failed", "error", err)
		return nil, err
	}
	return rec, nil
}

func (m *Model) completeOnce(ctx context.Context, logger *slog.Logger, payload map[string]any) (Record, error) {
	url := m.URL(false)
	req, err := m.newRequest(ctx, url, payload, false)
	if err != nil {
		return nil, err
	}

	logger.Debug("sending maas request", "url", url)
	resp, err := m.client.Do(req)
	if err != nil {
		return nil, &TransportError{Op: "send request", Err: err}
	}
	defer resp.Body.Close()

	if err := checkStatus(resp, url); err != nil {
		return nil, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Op: "read response", Err: err}
	}

	var rec Record
	if err := json.Unmarshal(body, &rec); err != nil {
		return nil, &DecodeError{Data: string(body), Err: err}
	}
	if rec == nil {
		return nil, &DecodeError{Data: string(body), Err: errors.New("response body is not a JSON object")}
	}
	return rec, nil
}

func (m *Model) openStream(ctx context.Context, payload map[string]any) (*Stream, error) {
	logger := m.callLogger()
	start := time.Now()

	s, err := withRetry(ctx, m.retry, IsRetryable, m.onRetry(logger), func(ctx context.Context) (*Stream, error) {
		return m.openStreamOnce(ctx, logger, payload)
	})
	m.recorder.ObserveRequest(m.identity.Requested, m.identity.Family, true, outcome(err), time.Since(start))
	if err != nil {
		logger.Debug("maas stream failed to open", "error", err)
		return nil, err
	}
	return s, nil
}

func (m *Model) openStreamOnce(ctx context.Context, logger *slog.Logger, payload map[string]any) (*Stream, error) {
	url := m.URL(true)
	req, err := m.newRequest(ctx, url, payload, true)
	if err != nil {
		return nil, err
	}

	logger.Debug("opening maas stream", "url", url)
	resp, err := m.client.Do(req)
	if err != nil {
		return nil, &TransportError{Op: "open event stream", Err: err}
	}
	if err := checkStatus(resp, url); err != nil {
		_ = resp.Body.Close()
		return nil, err
	}
	if err := checkEventStream(resp); err != nil {
		_ = resp.Body.Close()
		return nil, &TransportError{Op: "open event stream", Err: err}
	}

	name := m.identity.Requested
	m.recorder.StreamOpened(name)
	return newStream(resp.Body, func() {
		m.recorder.StreamClosed(name)
		logger.Debug("maas stream closed")
	}), nil
}

func (m *Model) newRequest(ctx context.Context, url string, payload map[string]any, stream bool) (*http.Request, error) {
	token, err := m.tokens.Token(ctx)
	if err != nil {
		if errors.Is(err, ErrMissingToken) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrMissingToken, err)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal payload: %v", ErrInvalidParams, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("construct request: %w", err)
	}

	for k, vs := range m.headers {
		req.Header[k] = append([]string(nil), vs...)
	}
	req.Header.Set("Content-Type", contentTypeJSON)
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Authorization", "Bearer "+token)
	if stream {
		req.Header.Set("Accept", eventStreamType)
	} else {
		req.Header.Set("Accept", contentTypeJSON)
	}
	return req, nil
}

// checkStatus turns a 4xx/5xx response into an *HTTPError carrying the
// whole body. A failed body read is a transport failure.
func checkStatus(resp *http.Response, url string) error {
	if resp.StatusCode < http.StatusBadRequest {
		return nil
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &TransportError{Op: "read error response", Err: err}
	}
	return &HTTPError{StatusCode: resp.StatusCode, URL: url, Body: string(body)}
}

// checkEventStream rejects a successful response whose body is not an event
// stream.
func checkEventStream(resp *http.Response) error {
	contentType := resp.Header.Get("Content-Type")
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil || mediaType != eventStreamType {
		return fmt.Errorf("expected response Content-Type %q, got %q", eventStreamType, contentType)
	}
	return nil
}

func (m *Model) callLogger() *slog.Logger {
	return m.logger.With("call_id", uuid.NewString())
}

func (m *Model) onRetry(logger *slog.Logger) func(int, error) {
	return func(attempt int, err error) {
		m.recorder.ObserveRetry(m.identity.Requested, m.identity.Family)
		logger.Warn("retrying maas request",
			"attempt", attempt+1,
			"max_attempts", m.retry.maxAttempts,
			"error", err,
		)
	}
}

func outcome(err error) string {
	var (
		httpErr      *HTTPError
		transportErr *TransportError
		decodeErr    *DecodeError
	)
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &httpErr):
		return fmt.Sprintf("http_%d", httpErr.StatusCode)
	case errors.As(err, &transportErr):
		return "transport_error"
	case errors.As(err, &decodeErr):
		return "decode_error"
	case errors.Is(err, ErrMissingToken):
		return "missing_token"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "error"
	}
}
