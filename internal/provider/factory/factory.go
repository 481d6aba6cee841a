// Package factory assembles models and providers from configuration.
package factory

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"maas-router/internal/auth"
	"maas-router/internal/config"
	"maas-router/internal/httpclient"
	"maas-router/internal/maas"
	"maas-router/internal/provider"
	"maas-router/internal/provider/vertex"
)

// ProviderName is the name the Vertex AI provider registers under.
const ProviderName = "vertex"

// RegisterConfiguredProviders constructs providers from configuration and
// stores them in the registry. opts are applied to every model after the
// configured client, headers and credentials.
func RegisterConfiguredProviders(ctx context.Context, cfg config.Config, registry *provider.Registry, opts ...maas.Option) error {
	if registry == nil {
		return errors.New("registry must not be nil")
	}

	tokens, err := NewTokenSource(ctx, cfg.Vertex)
	if err != nil {
		return fmt.Errorf("initialise credentials: %w", err)
	}

	modelOpts := append([]maas.Option{maas.WithTokenSource(tokens)}, opts...)
	vertexProvider, err := vertex.New(ProviderName, cfg.Vertex, NewHTTPClient(cfg.Vertex), modelOpts...)
	if err != nil {
		return fmt.Errorf("initialise %s provider: %w", ProviderName, err)
	}
	if err := registry.RegisterProvider(ctx, vertexProvider, cfg.Vertex.Aliases); err != nil {
		return fmt.Errorf("register %s provider: %w", ProviderName, err)
	}

	return nil
}

// NewModel builds a single model from the Vertex settings. name need not be
// listed under vertex.models but must be in a family allow-list.
func NewModel(ctx context.Context, cfg config.VertexConfig, name string, opts ...maas.Option) (*maas.Model, error) {
	tokens, err := NewTokenSource(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("initialise credentials: %w", err)
	}

	base := []maas.Option{
		maas.WithHTTPClient(NewHTTPClient(cfg)),
		maas.WithHeaders(cfg.Headers),
		maas.WithTokenSource(tokens),
	}
	return maas.NewModel(maas.Config{
		ModelName:      name,
		Project:        cfg.Project,
		Region:         cfg.Location,
		Endpoint:       cfg.Endpoint,
		MaxRetries:     cfg.MaxRetries,
		InitialBackoff: cfg.InitialBackoff,
		MaxBackoff:     cfg.MaxBackoff,
	}, append(base, opts...)...)
}

// NewTokenSource returns a static token when one is configured and Google
// credentials otherwise.
func NewTokenSource(ctx context.Context, cfg config.VertexConfig) (auth.TokenSource, error) {
	if cfg.AccessToken != "" {
		return auth.StaticToken(cfg.AccessToken), nil
	}
	return auth.NewGoogleTokenSource(ctx, cfg.CredentialsFile)
}

// NewHTTPClient returns the pooled client shared by all configured models.
func NewHTTPClient(cfg config.VertexConfig) *http.Client {
	clientCfg := httpclient.DefaultConfig()
	clientCfg.Timeout = cfg.Timeout
	return httpclient.New(clientCfg)
}
