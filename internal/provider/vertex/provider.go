// Package vertex serves unified chat requests from Vertex AI MaaS models.
package vertex

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"maas-router/internal/config"
	"maas-router/internal/maas"
	"maas-router/internal/models"
	"maas-router/internal/provider"
)

// Provider routes each configured model to its MaaS family endpoint.
type Provider struct {
	name          string
	models        []models.Model
	byID          map[string]*maas.Model
	toolsInSystem bool
}

// New constructs the provider, resolving every configured model. opts are
// applied to each model (token source, logger, recorder).
func New(name string, cfg config.VertexConfig, client *http.Client, opts ...maas.Option) (*Provider, error) {
	if client == nil {
		return nil, errors.New("http client must not be nil")
	}
	if len(cfg.Models) == 0 {
		return nil, errors.New("at least one model must be configured")
	}

	p := &Provider{
		name:          name,
		models:        make([]models.Model, 0, len(cfg.Models)),
		byID:          make(map[string]*maas.Model, len(cfg.Models)),
		toolsInSystem: cfg.AppendToolsToSystemMessage,
	}

	modelOpts := append([]maas.Option{maas.WithHTTPClient(client), maas.WithHeaders(cfg.Headers)}, opts...)
	for _, mc := range cfg.Models {
		m, err := maas.NewModel(maas.Config{
			ModelName:      mc.ID,
			Project:        cfg.Project,
			Region:         cfg.Location,
			Endpoint:       cfg.Endpoint,
			MaxRetries:     cfg.MaxRetries,
			InitialBackoff: cfg.InitialBackoff,
			MaxBackoff:     cfg.MaxBackoff,
		}, modelOpts...)
		if err != nil {
			return nil, fmt.Errorf("model %s: %w", mc.ID, err)
		}

		p.byID[mc.ID] = m
		p.models = append(p.models, models.Model{
			ID:       mc.ID,
			Provider: name,
			Family:   m.Family().String(),
		})
	}

	return p, nil
}

func (p *Provider) Name() string {
	return p.name
}

func (p *Provider) ListModels(ctx context.Context) ([]models.Model, error) {
	result := make([]models.Model, len(p.models))
	copy(result, p.models)
	return result, nil
}

// Model returns the MaaS model configured under id.
func (p *Provider) Model(id string) (*maas.Model, bool) {
	m, ok := p.byID[id]
	return m, ok
}

func (p *Provider) Chat(ctx context.Context, req models.UnifiedChatRequest) (*models.UnifiedChatResponse, error) {
	m, ok := p.byID[req.Model]
	if !ok {
		return nil, fmt.Errorf("%w: %s", provider.ErrUnknownModel, req.Model)
	}

	req.Stream = false
	params, err := buildChatParams(req, m.Family(), p.toolsInSystem)
	if err != nil {
		return nil, err
	}

	rec, err := m.Complete(ctx, params)
	if err != nil {
		return nil, err
	}

	var resp chatResponse
	if err := decodeRecord(rec, &resp); err != nil {
		return nil, err
	}
	return resp.toUnified()
}

func (p *Provider) ChatStream(ctx context.Context, req models.UnifiedChatRequest) (provider.ChunkStream, error) {
	m, ok := p.byID[req.Model]
	if !ok {
		return nil, fmt.Errorf("%w: %s", provider.ErrUnknownModel, req.Model)
	}

	req.Stream = true
	params, err := buildChatParams(req, m.Family(), p.toolsInSystem)
	if err != nil {
		return nil, err
	}

	s, err := m.Stream(ctx, params)
	if err != nil {
		return nil, err
	}
	return &chunkStream{stream: s}, nil
}

// chunkStream adapts a record stream to unified chunks.
type chunkStream struct {
	mu     sync.Mutex
	stream *maas.Stream
}

func (c *chunkStream) Recv() (*models.UnifiedChatChunk, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, err := c.stream.Next()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, err
	}

	var resp chatResponse
	if err := decodeRecord(rec, &resp); err != nil {
		_ = c.stream.Close()
		return nil, err
	}
	return resp.toChunk(), nil
}

func (c *chunkStream) Close() error {
	return c.stream.Close()
}

var _ provider.Provider = (*Provider)(nil)
