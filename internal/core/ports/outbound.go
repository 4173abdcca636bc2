package ports

import (
	"context"
	"time"

	"github.com/kirillkom/corpus-router/internal/core/domain"
	"github.com/kirillkom/corpus-router/internal/core/index"
	"github.com/kirillkom/corpus-router/internal/core/stream"
)

// DocumentReader loads every document under a data path.
type DocumentReader interface {
	Read(ctx context.Context, path string) ([]domain.Document, error)
}

// Chunker splits text into semantically usable chunks.
type Chunker interface {
	Split(text string) []string
}

// Embedder builds vectors for chunks and query text.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	Model() string
}

// Generator produces text for a fully rendered prompt.
type Generator interface {
	Complete(ctx context.Context, prompt string) (string, error)
	Stream(ctx context.Context, prompt string) (*stream.TokenStream, error)
}

// Selector picks exactly one of the numbered choices for a query.
type Selector interface {
	Select(ctx context.Context, query string, choices []string) (domain.RouteDecision, error)
}

// CapabilityFactory constructs capabilities for catalog identifiers.
type CapabilityFactory interface {
	Catalog() domain.Catalog
	Generator(modelID string) (Generator, error)
	Selector(modelID string) (Selector, error)
	Embedder(modelID string) (Embedder, error)
}

// IndexStore persists serialized indices under stable ids.
type IndexStore interface {
	Load(ctx context.Context, indexID string) ([]byte, error)
	Persist(ctx context.Context, records map[string][]byte) error
	// Lock serializes index builds across processes sharing the store.
	Lock(ctx context.Context) (unlock func(), err error)
}

// VectorSearcher is an external nearest-neighbour backend mirroring the similarity index.
type VectorSearcher interface {
	IndexEntries(ctx context.Context, entries []index.Entry) error
	Search(ctx context.Context, queryVector []float32, limit int) ([]domain.ScoredChunk, error)
}

// CorpusNotifier carries rebuild requests and persisted notifications between processes.
type CorpusNotifier interface {
	PublishRebuildRequested(ctx context.Context, dataPath string) error
	PublishCorpusPersisted(ctx context.Context, builtAt time.Time) error
	SubscribeRebuildRequested(ctx context.Context, handler func(context.Context, string) error) error
	SubscribeCorpusPersisted(ctx context.Context, handler func(context.Context, time.Time) error) error
}

// RouteObserver records routing outcomes.
type RouteObserver interface {
	ObserveRoute(pipeline domain.PipelineName, fallback bool)
	ObserveSelectionFailure()
	ObserveStream(pipeline domain.PipelineName, state stream.State, tokens int, duration time.Duration)
}
