package llm

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/kirillkom/corpus-router/internal/core/domain"
	"github.com/kirillkom/corpus-router/internal/core/ports"
	"github.com/kirillkom/corpus-router/internal/infrastructure/embedding/hashing"
	"github.com/kirillkom/corpus-router/internal/infrastructure/llm/ollama"
	"github.com/kirillkom/corpus-router/internal/infrastructure/llm/openai"
)

// Factory builds capabilities for catalog identifiers. Instances are cached
// per identifier and share the provider clients.
type Factory struct {
	catalog domain.Catalog
	params  domain.GenerationParams
	ollama  *ollama.Client
	openai  *openai.Client
	logger  *slog.Logger

	mu         sync.Mutex
	generators map[string]generator
	embedders  map[string]ports.Embedder
}

type generator interface {
	ports.Generator
	JSONCompleter
}

type FactoryOption func(*Factory)

func WithOllama(client *ollama.Client) FactoryOption {
	return func(f *Factory) { f.ollama = client }
}

func WithOpenAI(client *openai.Client) FactoryOption {
	return func(f *Factory) { f.openai = client }
}

func WithFactoryLogger(logger *slog.Logger) FactoryOption {
	return func(f *Factory) {
		if logger != nil {
			f.logger = logger
		}
	}
}

func NewFactory(catalog domain.Catalog, params domain.GenerationParams, opts ...FactoryOption) *Factory {
	f := &Factory{
		catalog:    catalog,
		params:     params,
		logger:     slog.Default(),
		generators: make(map[string]generator),
		embedders:  make(map[string]ports.Embedder),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *Factory) Catalog() domain.Catalog { return f.catalog }

func (f *Factory) Generator(modelID string) (ports.Generator, error) {
	spec, err := f.catalog.Lookup(domain.SettingLLM, modelID)
	if err != nil {
		return nil, err
	}
	return f.generator(spec)
}

// Selector resolves router models first and then generation models, so a
// session without a router model routes with its generation model.
func (f *Factory) Selector(modelID string) (ports.Selector, error) {
	spec, err := f.catalog.Lookup(domain.SettingRouterLLM, modelID)
	if err != nil {
		var chatErr error
		spec, chatErr = f.catalog.Lookup(domain.SettingLLM, modelID)
		if chatErr != nil {
			return nil, err
		}
	}
	gen, err := f.generator(spec)
	if err != nil {
		return nil, err
	}
	return NewSelector(gen, spec.ID, f.logger), nil
}

func (f *Factory) Embedder(modelID string) (ports.Embedder, error) {
	spec, err := f.catalog.Lookup(domain.SettingEmbeddingModel, modelID)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if e, ok := f.embedders[spec.ID]; ok {
		return e, nil
	}

	var e ports.Embedder
	switch spec.Provider {
	case ProviderOllama:
		if f.ollama == nil {
			return nil, f.unconfigured(spec)
		}
		e = ollama.NewEmbedder(f.ollama, spec.Name)
	case ProviderOpenAI:
		if f.openai == nil {
			return nil, f.unconfigured(spec)
		}
		e = openai.NewEmbedder(f.openai, spec.Name)
	case ProviderHashing:
		e = hashing.New(spec.ID, hashing.DefaultDimension)
	default:
		return nil, f.unconfigured(spec)
	}
	f.embedders[spec.ID] = e
	return e, nil
}

func (f *Factory) generator(spec domain.ModelSpec) (generator, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if g, ok := f.generators[spec.ID]; ok {
		return g, nil
	}

	var g generator
	switch spec.Provider {
	case ProviderOllama:
		if f.ollama == nil {
			return nil, f.unconfigured(spec)
		}
		g = ollama.NewGenerator(f.ollama, spec.Name, f.params)
	case ProviderOpenAI:
		if f.openai == nil {
			return nil, f.unconfigured(spec)
		}
		g = openai.NewGenerator(f.openai, spec.Name, f.params)
	default:
		return nil, f.unconfigured(spec)
	}
	f.generators[spec.ID] = g
	return g, nil
}

func (f *Factory) unconfigured(spec domain.ModelSpec) error {
	return domain.WrapError(domain.ErrUnknownModel, "capability factory",
		fmt.Errorf("model %q needs provider %q, which is not configured", spec.ID, spec.Provider))
}
