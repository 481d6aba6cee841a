package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"maas-router/internal/config"
	"maas-router/internal/models"
	"maas-router/internal/router"
	"maas-router/internal/translator"
)

const (
	maxBodyBytes        = 1 << 20 // 1 MiB
	shutdownGracePeriod = 10 * time.Second
	readTimeout         = 30 * time.Second
	writeTimeout        = 11 * time.Minute
	idleTimeout         = 120 * time.Second

	sseDone = "[DONE]"
)

type Server struct {
	cfg     config.Config
	router  *router.Router
	app     *echo.Echo
	address string
	logger  *slog.Logger
	metrics http.Handler
}

// Option customises a Server.
type Option func(*Server)

// WithLogger sets the request and lifecycle logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetricsHandler replaces the default Prometheus handler served at the
// configured metrics path.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) {
		if h != nil {
			s.metrics = h
		}
	}
}

// New constructs an HTTP server wired with routing and middleware.
func New(cfg config.Config, rt *router.Router, opts ...Option) (*Server, error) {
	if rt == nil {
		return nil, errors.New("router must not be nil")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	srv := &Server{
		cfg:     cfg,
		router:  rt,
		address: fmt.Sprintf(":%d", cfg.Server.Port),
		logger:  slog.Default(),
		metrics: promhttp.Handler(),
	}
	for _, opt := range opts {
		opt(srv)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = openAIErrorHandler

	e.Pre(middleware.RemoveTrailingSlash())
	e.Use(middleware.Recover())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
	}))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogLatency:   true,
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogRequestID: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			srv.logger.Info("request",
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency_ms", v.Latency.Milliseconds(),
				"request_id", v.RequestID,
				"error", v.Error,
			)
			return nil
		},
	}))
	e.Use(middleware.SecureWithConfig(middleware.SecureConfig{
		XSSProtection:         "1; mode=block",
		ContentTypeNosniff:    "nosniff",
		XFrameOptions:         "DENY",
		HSTSMaxAge:            31536000,
		ContentSecurityPolicy: "default-src 'none'; frame-ancestors 'none'; form-action 'none'",
	}))

	srv.app = e
	srv.registerRoutes()

	return srv, nil
}

// Handler exposes the routed echo instance.
func (s *Server) Handler() http.Handler {
	return s.app
}

// Run starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	printStartupBanner(s.cfg, s.router.Models())
	s.logger.Info("starting server", "addr", s.address)

	httpServer := &http.Server{
		Addr:         s.address,
		Handler:      s.app,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.app.StartServer(httpServer); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
		defer cancel()
		if err := s.app.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server shutdown complete")
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) registerRoutes() {
	s.app.GET("/health", s.handleHealth)
	s.app.GET("/v1/models", s.handleModels)
	s.app.POST("/v1/chat/completions", s.handleChatCompletions)
	if s.cfg.Metrics.Enabled {
		s.app.GET(s.cfg.Metrics.Path, echo.WrapHandler(s.metrics))
	}
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleModels(c echo.Context) error {
	return c.JSON(http.StatusOK, translator.FromModels(s.router.Models()))
}

func (s *Server) handleChatCompletions(c echo.Context) error {
	var req translator.ChatCompletionRequest
	if err := decodeRequestBody(c, &req); err != nil {
		return err
	}

	ctx := c.Request().Context()
	unifiedReq := req.ToUnified()

	if unifiedReq.Stream {
		return s.streamChatCompletions(c, unifiedReq)
	}

	resp, modelInfo, err := s.router.Chat(ctx, unifiedReq)
	if err != nil {
		return s.upstreamError(c, err)
	}
	if resp == nil {
		return requestError{
			Status:  http.StatusBadGateway,
			Message: "upstream provider returned an empty response",
			Type:    "upstream_error",
		}
	}

	openAIResp := translator.FromUnifiedChat(modelInfo.ID, time.Now().Unix(), resp)
	return c.JSON(http.StatusOK, openAIResp)
}

// streamChatCompletions relays upstream chunks as chat.completion.chunk
// events and ends with the [DONE] sentinel. Errors before the first byte
// is written become regular error responses; later ones are sent as a
// final error event.
func (s *Server) streamChatCompletions(c echo.Context, req models.UnifiedChatRequest) error {
	writer := c.Response().Writer
	flusher, ok := writer.(http.Flusher)
	if !ok {
		s.logger.Error("http writer does not support flushing")
		return requestError{
			Status:  http.StatusInternalServerError,
			Message: "server does not support streaming responses",
			Type:    "server_error",
		}
	}

	stream, modelInfo, err := s.router.ChatStream(c.Request().Context(), req)
	if err != nil {
		return s.upstreamError(c, err)
	}
	defer stream.Close()

	header := c.Response().Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	c.Response().WriteHeader(http.StatusOK)
	flusher.Flush()

	created := time.Now().Unix()
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			s.logger.Warn("stream relay aborted", "model", modelInfo.ID, "error", err)
			reqErr := toHTTPError(err)
			var payload errorBody
			payload.Error.Message = reqErr.Message
			payload.Error.Type = reqErr.Type
			payload.Error.Code = reqErr.Code
			if werr := writeSSEEvent(writer, payload); werr != nil {
				return werr
			}
			flusher.Flush()
			return nil
		}

		if err := writeSSEEvent(writer, translator.FromUnifiedChunk(modelInfo.ID, created, chunk)); err != nil {
			s.logger.Debug("client went away during stream", "model", modelInfo.ID, "error", err)
			return nil
		}
		flusher.Flush()
	}

	if _, err := fmt.Fprintf(writer, "data: %s\n\n", sseDone); err != nil {
		return nil
	}
	flusher.Flush()
	return nil
}

func (s *Server) upstreamError(c echo.Context, err error) error {
	reqErr := toHTTPError(err)
	if reqErr.Status >= http.StatusInternalServerError {
		s.logger.Error("upstream call failed", "path", c.Path(), "error", err)
	}
	return reqErr
}

func decodeRequestBody[T any](c echo.Context, target *T) error {
	req := c.Request()
	defer req.Body.Close()

	req.Body = http.MaxBytesReader(c.Response(), req.Body, maxBodyBytes)

	decoder := json.NewDecoder(req.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) {
			return requestError{
				Status:  http.StatusBadRequest,
				Message: "request body is required",
				Type:    "invalid_request_error",
			}
		}
		return requestError{
			Status:  http.StatusBadRequest,
			Message: fmt.Sprintf("invalid JSON payload: %v", err),
			Type:    "invalid_request_error",
		}
	}

	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return requestError{
			Status:  http.StatusBadRequest,
			Message: "request body must contain a single JSON object",
			Type:    "invalid_request_error",
		}
	}
	return nil
}
