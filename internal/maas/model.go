package maas

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"maas-router/internal/auth"
	"maas-router/internal/httpclient"
)

const (
	// DefaultMaxRetries is the default number of attempts per call.
	DefaultMaxRetries     = 6
	defaultInitialBackoff = 4 * time.Second
	defaultMaxBackoff     = 10 * time.Second
	defaultBackoffFactor  = 2.0
)

// Config describes one hosted model.
type Config struct {
	ModelName string
	Project   string
	Region    string

	// Endpoint overrides the https://{region}-aiplatform.googleapis.com root.
	Endpoint string

	// MaxRetries is the maximum number of attempts per call, the first one
	// included. Zero means DefaultMaxRetries.
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	BackoffFactor  float64
}

// HTTPDoer executes HTTP requests. *http.Client satisfies it.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Recorder receives per-call telemetry. All methods must be safe for
// concurrent use.
type Recorder interface {
	ObserveRequest(model string, family Family, stream bool, outcome string, elapsed time.Duration)
	ObserveRetry(model string, family Family)
	StreamOpened(model string)
	StreamClosed(model string)
}

type nopRecorder struct{}

func (nopRecorder) ObserveRequest(string, Family, bool, string, time.Duration) {}
func (nopRecorder) ObserveRetry(string, Family)                                {}
func (nopRecorder) StreamOpened(string)                                        {}
func (nopRecorder) StreamClosed(string)                                        {}

// Option customises a Model.
type Option func(*Model)

// WithHTTPClient sets the transport shared by every call of the model.
func WithHTTPClient(client HTTPDoer) Option {
	return func(m *Model) {
		if client != nil {
			m.client = client
		}
	}
}

// WithTokenSource sets the credential provider.
func WithTokenSource(tokens auth.TokenSource) Option {
	return func(m *Model) {
		m.tokens = tokens
	}
}

// WithHeaders adds fixed headers to every request. Authorization and the
// content negotiation headers are always set by the model and win.
func WithHeaders(headers map[string]string) Option {
	return func(m *Model) {
		if len(headers) == 0 {
			return
		}
		m.headers = make(http.Header, len(headers))
		for k, v := range headers {
			m.headers.Set(k, v)
		}
	}
}

// WithLogger sets the logger used for attempt and retry logging.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Model) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithRecorder sets the telemetry sink.
func WithRecorder(rec Recorder) Option {
	return func(m *Model) {
		if rec != nil {
			m.recorder = rec
		}
	}
}

// Model is a validated, immutable model configuration. It is safe for
// concurrent use; the HTTP client is its only shared resource.
type Model struct {
	identity Identity
	project  string
	region   string
	endpoint string
	retry    retryPolicy

	client   HTTPDoer
	headers  http.Header
	tokens   auth.TokenSource
	logger   *slog.Logger
	recorder Recorder
}

// NewModel resolves cfg.ModelName and returns the model. It fails with
// ErrUnsupportedModel for names outside the allow-lists.
func NewModel(cfg Config, opts ...Option) (*Model, error) {
	identity, err := ResolveIdentity(cfg.ModelName)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.Project) == "" {
		return nil, errors.New("project must not be empty")
	}
	if strings.TrimSpace(cfg.Region) == "" {
		return nil, errors.New("region must not be empty")
	}
	if cfg.MaxRetries < 0 {
		return nil, fmt.Errorf("max retries must not be negative, got %d", cfg.MaxRetries)
	}

	m := &Model{
		identity: identity,
		project:  cfg.Project,
		region:   cfg.Region,
		endpoint: cfg.Endpoint,
		retry:    newRetryPolicy(cfg),
		logger:   slog.Default(),
		recorder: nopRecorder{},
	}
	for _, opt := range opts {
		opt(m)
	}

	if m.client == nil {
		m.client = httpclient.NewDefaultHTTPClient()
	}
	if m.tokens == nil {
		return nil, errors.New("token source must not be nil")
	}
	m.logger = m.logger.With("model", identity.Requested, "family", identity.Family.String())
	return m, nil
}

// Identity returns the resolved model name.
func (m *Model) Identity() Identity {
	return m.identity
}

// Name returns the configured model name.
func (m *Model) Name() string {
	return m.identity.Requested
}

// Family returns the resolved family.
func (m *Model) Family() Family {
	return m.identity.Family
}

// MaxAttempts returns the maximum number of attempts per call.
func (m *Model) MaxAttempts() int {
	return m.retry.maxAttempts
}

func newRetryPolicy(cfg Config) retryPolicy {
	p := retryPolicy{
		maxAttempts: cfg.MaxRetries,
		initial:     cfg.InitialBackoff,
		max:         cfg.MaxBackoff,
		factor:      cfg.BackoffFactor,
	}
	if p.maxAttempts == 0 {
		p.maxAttempts = DefaultMaxRetries
	}
	if p.initial <= 0 {
		p.initial = defaultInitialBackoff
	}
	if p.max <= 0 {
		p.max = defaultMaxBackoff
	}
	if p.max < p.initial {
		p.max = p.initial
	}
	if p.factor < 1 {
		p.factor = defaultBackoffFactor
	}
	return p
}
