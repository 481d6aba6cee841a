package router

import (
	"context"
	"fmt"

	"maas-router/internal/models"
	"maas-router/internal/provider"
)

// Router dispatches unified requests to the appropriate provider.
type Router struct {
	registry *provider.Registry
}

// New constructs a router backed by the provided registry.
func New(registry *provider.Registry) *Router {
	return &Router{
		registry: registry,
	}
}

// Models lists the models the router can serve.
func (r *Router) Models() []models.Model {
	return r.registry.Models()
}

// Chat routes a chat completion request to the configured provider.
func (r *Router) Chat(ctx context.Context, req models.UnifiedChatRequest) (*models.UnifiedChatResponse, models.Model, error) {
	modelInfo, providerImpl, sanitisedReq, err := r.resolve(req)
	if err != nil {
		return nil, models.Model{}, err
	}

	resp, err := providerImpl.Chat(ctx, sanitisedReq)
	if err != nil {
		return nil, models.Model{}, fmt.Errorf("provider %s chat request: %w", providerImpl.Name(), err)
	}
	return resp, modelInfo, nil
}

// ChatStream routes a streaming chat completion request. The caller must
// close the returned stream.
func (r *Router) ChatStream(ctx context.Context, req models.UnifiedChatRequest) (provider.ChunkStream, models.Model, error) {
	modelInfo, providerImpl, sanitisedReq, err := r.resolve(req)
	if err != nil {
		return nil, models.Model{}, err
	}

	stream, err := providerImpl.ChatStream(ctx, sanitisedReq)
	if err != nil {
		return nil, models.Model{}, fmt.Errorf("provider %s chat stream: %w", providerImpl.Name(), err)
	}
	return stream, modelInfo, nil
}

func (r *Router) resolve(req models.UnifiedChatRequest) (models.Model, provider.Provider, models.UnifiedChatRequest, error) {
	modelInfo, providerImpl, err := r.registry.LookupModel(req.Model)
	if err != nil {
		return models.Model{}, nil, models.UnifiedChatRequest{}, err
	}

	sanitisedReq := req
	sanitisedReq.Model = modelInfo.ID
	sanitisedReq.Options = cloneOptions(req.Options)
	return modelInfo, providerImpl, sanitisedReq, nil
}

func cloneOptions(options map[string]any) map[string]any {
	if len(options) == 0 {
		return nil
	}
	out := make(map[string]any, len(options))
	for k, v := range options {
		out[k] = v
	}
	return out
}
