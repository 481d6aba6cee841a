package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"maas-router/internal/auth"
	"maas-router/internal/maas"
	"maas-router/internal/provider"
)

type requestError struct {
	Status  int
	Message string
	Type    string
	Code    string
}

func (e requestError) Error() string {
	return e.Message
}

type errorBody struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code,omitempty"`
	} `json:"error"`
}

func writeError(c echo.Context, status int, message, errType, code string) error {
	var payload errorBody
	payload.Error.Message = message
	payload.Error.Type = errType
	payload.Error.Code = code
	return c.JSON(status, payload)
}

func openAIErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	var reqErr requestError
	if errors.As(err, &reqErr) {
		_ = writeError(c, reqErr.Status, reqErr.Message, reqErr.Type, reqErr.Code)
		return
	}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		_ = writeError(c, he.Code, fmt.Sprint(he.Message), "invalid_request_error", "")
		return
	}

	_ = writeError(c, http.StatusInternalServerError, "internal server error", "server_error", "")
}

// toHTTPError maps router and MaaS errors to OpenAI error responses. An
// upstream status is passed through with the upstream message.
func toHTTPError(err error) requestError {
	var reqErr requestError
	if errors.As(err, &reqErr) {
		return reqErr
	}

	var httpErr *maas.HTTPError
	if errors.As(err, &httpErr) {
		return requestError{
			Status:  httpErr.StatusCode,
			Message: httpErr.Message(),
			Type:    "upstream_error",
			Code:    fmt.Sprintf("upstream_%d", httpErr.StatusCode),
		}
	}

	var transportErr *maas.TransportError
	var decodeErr *maas.DecodeError

	switch {
	case errors.Is(err, provider.ErrUnknownModel):
		return requestError{
			Status:  http.StatusNotFound,
			Message: err.Error(),
			Type:    "invalid_request_error",
			Code:    "model_not_found",
		}
	case errors.Is(err, maas.ErrUnsupportedModel), errors.Is(err, maas.ErrInvalidParams):
		return requestError{
			Status:  http.StatusBadRequest,
			Message: err.Error(),
			Type:    "invalid_request_error",
		}
	case errors.Is(err, auth.ErrMissingToken):
		return requestError{
			Status:  http.StatusBadGateway,
			Message: "could not obtain Vertex AI credentials",
			Type:    "upstream_error",
			Code:    "missing_token",
		}
	case errors.As(err, &transportErr):
		return requestError{
			Status:  http.StatusBadGateway,
			Message: "upstream connection failed",
			Type:    "upstream_error",
			Code:    "upstream_unavailable",
		}
	case errors.As(err, &decodeErr):
		return requestError{
			Status:  http.StatusBadGateway,
			Message: "upstream returned a malformed response",
			Type:    "upstream_error",
			Code:    "upstream_malformed",
		}
	case errors.Is(err, context.DeadlineExceeded):
		return requestError{
			Status:  http.StatusGatewayTimeout,
			Message: "upstream request timed out",
			Type:    "upstream_error",
		}
	}

	return requestError{
		Status:  http.StatusBadGateway,
		Message: "upstream provider error",
		Type:    "upstream_error",
	}
}

// writeSSEEvent writes payload as one data-only event.
func writeSSEEvent(w io.Writer, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal SSE payload: %w", err)
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("write SSE data: %w", err)
	}
	return nil
}
