package provider

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"maas-router/internal/models"
)

// ErrUnknownModel indicates the requested model is not registered.
var ErrUnknownModel = errors.New("unknown model")

// ErrDuplicateModel indicates an attempt to register the same model twice.
var ErrDuplicateModel = errors.New("model already registered")

// Provider defines the behaviour required to serve unified chat requests.
type Provider interface {
	Name() string
	ListModels(ctx context.Context) ([]models.Model, error)
	Chat(ctx context.Context, req models.UnifiedChatRequest) (*models.UnifiedChatResponse, error)
	ChatStream(ctx context.Context, req models.UnifiedChatRequest) (ChunkStream, error)
}

// ChunkStream yields streamed chat chunks. Recv returns io.EOF after the
// last chunk. Close must be called when the caller stops early.
type ChunkStream interface {
	Recv() (*models.UnifiedChatChunk, error)
	Close() error
}

type modelEntry struct {
	model    models.Model
	provider Provider
}

// Registry maintains a mapping of model IDs to providers.
type Registry struct {
	mu     sync.RWMutex
	models map[string]modelEntry
	byName map[string]Provider
}

// NewRegistry constructs an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{
		models: make(map[string]modelEntry),
		byName: make(map[string]Provider),
	}
}

// RegisterProvider adds the provider and its models to the registry, wiring optional aliases.
func (r *Registry) RegisterProvider(ctx context.Context, p Provider, aliases map[string]string) error {
	if p == nil {
		return errors.New("provider must not be nil")
	}

	modelsList, err := p.ListModels(ctx)
	if err != nil {
		return fmt.Errorf("list models for provider %q: %w", p.Name(), err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[p.Name()]; exists {
		return fmt.Errorf("provider %q already registered", p.Name())
	}
	r.byName[p.Name()] = p

	for _, model := range modelsList {
		if _, exists := r.models[model.ID]; exists {
			return fmt.Errorf("%w: %s", ErrDuplicateModel, model.ID)
		}

		r.models[model.ID] = modelEntry{
			model:    model,
			provider: p,
		}
	}

	for alias, target := range aliases {
		if _, exists := r.lookupFold(alias); exists {
			return fmt.Errorf("alias %q conflicts with existing model", alias)
		}

		targetEntry, ok := r.models[target]
		if !ok {
			targetEntry, ok = r.lookupFold(target)
		}
		if !ok {
			return fmt.Errorf("alias %q references unknown model %q", alias, target)
		}

		r.models[alias] = targetEntry
	}

	return nil
}

// LookupModel returns the provider and metadata for a given model ID.
func (r *Registry) LookupModel(modelID string) (models.Model, Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.models[modelID]
	if !ok {
		entry, ok = r.lookupFold(modelID)
	}
	if !ok {
		return models.Model{}, nil, fmt.Errorf("%w: %s", ErrUnknownModel, modelID)
	}
	return entry.model, entry.provider, nil
}

// lookupFold matches model IDs case-insensitively, mirroring the upstream
// model name resolution.
func (r *Registry) lookupFold(modelID string) (modelEntry, bool) {
	for id, entry := range r.models {
		if strings.EqualFold(id, modelID) {
			return entry, true
		}
	}
	return modelEntry{}, false
}

// Models returns every registered model, aliases excluded, sorted by ID.
func (r *Registry) Models() []models.Model {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.Model, 0, len(r.models))
	for id, entry := range r.models {
		if entry.model.ID == id {
			out = append(out, entry.model)
		}
	}
	slices.SortFunc(out, func(a, b models.Model) int {
		return strings.Compare(a.ID, b.ID)
	})
	return out
}
