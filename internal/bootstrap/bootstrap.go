package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kirillkom/corpus-router/internal/config"
	"github.com/kirillkom/corpus-router/internal/core/domain"
	"github.com/kirillkom/corpus-router/internal/core/ports"
	"github.com/kirillkom/corpus-router/internal/core/usecase"
	"github.com/kirillkom/corpus-router/internal/infrastructure/chunking"
	"github.com/kirillkom/corpus-router/internal/infrastructure/indexstore/localfs"
	"github.com/kirillkom/corpus-router/internal/infrastructure/indexstore/postgres"
	"github.com/kirillkom/corpus-router/internal/infrastructure/llm"
	"github.com/kirillkom/corpus-router/internal/infrastructure/llm/ollama"
	"github.com/kirillkom/corpus-router/internal/infrastructure/llm/openai"
	"github.com/kirillkom/corpus-router/internal/infrastructure/queue/nats"
	"github.com/kirillkom/corpus-router/internal/infrastructure/reader/directory"
	"github.com/kirillkom/corpus-router/internal/infrastructure/resilience"
	"github.com/kirillkom/corpus-router/internal/infrastructure/vector/qdrant"
)

const (
	IndexStoreLocalFS  = "localfs"
	IndexStorePostgres = "postgres"
	VectorSearchMemory = "memory"
	VectorSearchQdrant = "qdrant"
)

type App struct {
	Config config.Config
	Logger *slog.Logger

	Factory  *llm.Factory
	Corpus   *usecase.CorpusService
	Searcher ports.VectorSearcher
	// Notifier is nil unless notifications are enabled.
	Notifier *nats.Notifier

	closeFns []func()
}

func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	app := &App{Config: cfg, Logger: logger}

	resilienceCfg := ResilienceConfig(cfg)
	executor := resilience.NewExecutor(resilienceCfg)
	logger.Info("resilience_configured", "policy", resilienceCfg)

	catalog, err := llm.LoadCatalog(cfg.ModelCatalogPath)
	if err != nil {
		return nil, err
	}
	factoryOpts := []llm.FactoryOption{
		llm.WithFactoryLogger(logger),
		llm.WithOllama(ollama.New(cfg.OllamaURL, ollama.WithExecutor(executor))),
	}
	if strings.TrimSpace(cfg.OpenAIBaseURL) != "" {
		factoryOpts = append(factoryOpts, llm.WithOpenAI(openai.New(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, openai.WithExecutor(executor))))
	}
	app.Factory = llm.NewFactory(catalog, GenerationParams(cfg), factoryOpts...)

	embedder, err := app.Factory.Embedder(cfg.DefaultEmbeddingModel)
	if err != nil {
		return nil, fmt.Errorf("default embedding model: %w", err)
	}

	store, err := app.openIndexStore(ctx)
	if err != nil {
		app.Close()
		return nil, err
	}

	corpusOpts := []usecase.CorpusOption{usecase.WithCorpusLogger(logger)}
	switch cfg.VectorSearch {
	case "", VectorSearchMemory:
	case VectorSearchQdrant:
		searcher := qdrant.New(cfg.QdrantURL, cfg.QdrantCollection, qdrant.WithExecutor(executor))
		app.Searcher = searcher
		corpusOpts = append(corpusOpts, usecase.WithVectorMirror(searcher))
	default:
		app.Close()
		return nil, domain.WrapError(domain.ErrInvalidInput, "bootstrap", fmt.Errorf("unknown VECTOR_SEARCH %q", cfg.VectorSearch))
	}

	app.Corpus = usecase.NewCorpusService(
		directory.New(logger),
		chunking.NewSplitter(cfg.ChunkSize, cfg.ChunkOverlap),
		embedder,
		store,
		corpusOpts...,
	)

	if cfg.NotificationsEnabled {
		notifier, err := nats.New(cfg.NATSURL, nats.Options{
			RebuildSubject:     cfg.NATSRebuildSubject,
			PersistedSubject:   cfg.NATSPersistedSubject,
			ResilienceExecutor: executor,
			Logger:             logger,
		})
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("init notifier: %w", err)
		}
		app.Notifier = notifier
		app.closeFns = append(app.closeFns, notifier.Close)
	}

	return app, nil
}

func (a *App) openIndexStore(ctx context.Context) (ports.IndexStore, error) {
	switch a.Config.IndexStore {
	case "", IndexStoreLocalFS:
		store, err := localfs.New(a.Config.StoragePath)
		if err != nil {
			return nil, fmt.Errorf("init index store: %w", err)
		}
		return store, nil
	case IndexStorePostgres:
		db, err := postgres.OpenDB(a.Config.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		a.closeFns = append(a.closeFns, func() { _ = db.Close() })
		store := postgres.NewStore(db)
		if err := store.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("ensure schema: %w", err)
		}
		return store, nil
	default:
		return nil, domain.WrapError(domain.ErrInvalidInput, "bootstrap", fmt.Errorf("unknown INDEX_STORE %q", a.Config.IndexStore))
	}
}

// NewSessionManager loads the persisted corpus, building it from DataPath
// when absent, and returns a manager for sessions over it.
func (a *App) NewSessionManager(ctx context.Context, opts ...usecase.SessionOption) (*usecase.SessionManager, error) {
	corpus, err := a.Corpus.LoadOrBuild(ctx, a.Config.DataPath)
	if err != nil {
		return nil, err
	}
	opts = append([]usecase.SessionOption{usecase.WithSessionLogger(a.Logger)}, opts...)
	if a.Searcher != nil {
		opts = append(opts, usecase.WithVectorSearcher(a.Searcher))
	}
	return usecase.NewSessionManager(corpus, a.Factory, DefaultSettings(a.Config), PipelineConfig(a.Config), opts...)
}

// FollowPersistedCorpus swaps newly persisted corpora into manager until ctx ends.
// It is a no-op when notifications are disabled.
func (a *App) FollowPersistedCorpus(ctx context.Context, manager *usecase.SessionManager) error {
	if a.Notifier == nil {
		return nil
	}
	return a.Notifier.SubscribeCorpusPersisted(ctx, func(ctx context.Context, builtAt time.Time) error {
		corpus, ok := a.Corpus.Load(ctx)
		if !ok {
			return domain.WrapError(domain.ErrIndexAbsent, "reload corpus", fmt.Errorf("persisted corpus built at %s could not be loaded", builtAt))
		}
		return manager.ReplaceCorpus(corpus)
	})
}

// Rebuild forces an index rebuild and announces it when notifications are enabled.
func (a *App) Rebuild(ctx context.Context, dataPath string) (int, error) {
	if strings.TrimSpace(dataPath) == "" {
		dataPath = a.Config.DataPath
	}
	corpus, err := a.Corpus.Rebuild(ctx, dataPath)
	if err != nil {
		return 0, err
	}
	if a.Notifier != nil {
		if err := a.Notifier.PublishCorpusPersisted(ctx, corpus.BuiltAt); err != nil {
			return corpus.Vector.Len(), fmt.Errorf("announce persisted corpus: %w", err)
		}
	}
	return corpus.Vector.Len(), nil
}

func (a *App) Close() {
	for i := len(a.closeFns) - 1; i >= 0; i-- {
		a.closeFns[i]()
	}
	a.closeFns = nil
}

func ResilienceConfig(cfg config.Config) resilience.Config {
	out := resilience.DefaultConfig()
	out.RetryMaxAttempts = cfg.ResilienceRetryMaxAttempts
	out.RetryInitialBackoff = cfg.ResilienceRetryBackoff
	out.AttemptTimeout = cfg.ResilienceAttemptTimeout
	out.BreakerEnabled = cfg.ResilienceBreakerEnabled
	return out
}

func GenerationParams(cfg config.Config) domain.GenerationParams {
	return domain.GenerationParams{
		Temperature:   cfg.Temperature,
		MaxTokens:     cfg.MaxTokens,
		ContextWindow: cfg.ContextWindow,
		Streaming:     cfg.Streaming,
	}
}

func DefaultSettings(cfg config.Config) domain.Settings {
	return domain.Settings{
		LLM:            cfg.DefaultLLM,
		RouterLLM:      cfg.DefaultRouterLLM,
		EmbeddingModel: cfg.DefaultEmbeddingModel,
	}
}

func PipelineConfig(cfg config.Config) usecase.PipelineConfig {
	return usecase.PipelineConfig{
		Params:             GenerationParams(cfg),
		VectorTopK:         cfg.VectorTopK,
		SummaryConcurrency: cfg.SummaryConcurrency,
		SummaryDescription: cfg.SummaryDescription,
		VectorDescription:  cfg.VectorDescription,
		FallbackPipeline:   domain.PipelineName(strings.TrimSpace(cfg.RouterFallbackPipeline)),
	}
}
