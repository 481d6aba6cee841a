// Package httpclient builds the pooled HTTP clients shared by model calls.
package httpclient

import (
	"net"
	"net/http"
	"time"
)

const (
	defaultTimeout         = 600 * time.Second
	defaultDialTimeout     = 10 * time.Second
	defaultKeepAlive       = 30 * time.Second
	defaultIdleConnTimeout = 90 * time.Second
)

// Config holds transport settings.
type Config struct {
	// Timeout bounds a whole request, streamed body included. Zero disables it.
	Timeout               time.Duration
	DialTimeout           time.Duration
	KeepAlive             time.Duration
	IdleConnTimeout       time.Duration
	TLSHandshakeTimeout   time.Duration
	ResponseHeaderTimeout time.Duration
	MaxIdleConns          int
	MaxIdleConnsPerHost   int
}

// DefaultConfig returns settings suited to long-running LLM calls.
func DefaultConfig() Config {
	return Config{
		Timeout:             defaultTimeout,
		DialTimeout:         defaultDialTimeout,
		KeepAlive:           defaultKeepAlive,
		IdleConnTimeout:     defaultIdleConnTimeout,
		TLSHandshakeTimeout: 10 * time.Second,
		MaxIdleConns:        50,
		MaxIdleConnsPerHost: 50,
	}
}

// New creates an HTTP client with its own connection pool.
func New(cfg Config) *http.Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: cfg.DialTimeout, KeepAlive: cfg.KeepAlive}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          cfg.MaxIdleConns,
		MaxIdleConnsPerHost:   cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:       cfg.IdleConnTimeout,
		TLSHandshakeTimeout:   cfg.TLSHandshakeTimeout,
		ResponseHeaderTimeout: cfg.ResponseHeaderTimeout,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &http.Client{
		Timeout:   cfg.Timeout,
		Transport: transport,
	}
}

// NewDefaultHTTPClient is New(DefaultConfig()).
func NewDefaultHTTPClient() *http.Client {
	return New(DefaultConfig())
}
