package usecase

import (
	"context"
	"fmt"
	"strings"

	"github.com/kirillkom/corpus-router/internal/core/domain"
	"github.com/kirillkom/corpus-router/internal/core/index"
	"github.com/kirillkom/corpus-router/internal/core/ports"
	"github.com/kirillkom/corpus-router/internal/core/stream"
)

const DefaultVectorTopK = 2

type Retriever interface {
	Retrieve(ctx context.Context, query string) ([]domain.ScoredChunk, error)
}

// Synthesizer turns retrieved chunks into an answer, emitting fragments as
// they are generated.
type Synthesizer interface {
	Synthesize(ctx context.Context, query string, chunks []domain.ScoredChunk, emit stream.Emit) error
}

// Pipeline pairs one retriever with one synthesizer.
type Pipeline struct {
	Name        domain.PipelineName
	Description string

	retriever   Retriever
	synthesizer Synthesizer
}

func NewPipeline(name domain.PipelineName, description string, retriever Retriever, synthesizer Synthesizer) *Pipeline {
	return &Pipeline{
		Name:        name,
		Description: description,
		retriever:   retriever,
		synthesizer: synthesizer,
	}
}

// Query starts the pipeline and returns its answer stream immediately.
func (p *Pipeline) Query(ctx context.Context, text string) (*stream.TokenStream, error) {
	if strings.TrimSpace(text) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "pipeline query", fmt.Errorf("query is empty"))
	}
	return stream.New(ctx, func(ctx context.Context, emit stream.Emit) error {
		return p.run(ctx, text, emit)
	}), nil
}

func (p *Pipeline) run(ctx context.Context, text string, emit stream.Emit) error {
	chunks, err := p.retriever.Retrieve(ctx, text)
	if err != nil {
		return fmt.Errorf("%s retrieve: %w", p.Name, err)
	}
	if len(chunks) == 0 {
		return emit(domain.EmptyResponse)
	}
	if err := p.synthesizer.Synthesize(ctx, text, chunks, emit); err != nil {
		return fmt.Errorf("%s synthesize: %w", p.Name, err)
	}
	return nil
}

type vectorSearch func(ctx context.Context, vector []float32, k int) ([]domain.ScoredChunk, error)

// VectorRetriever embeds the query and returns its top-K nearest chunks.
type VectorRetriever struct {
	embedder ports.Embedder
	search   vectorSearch
	topK     int
}

func NewVectorRetriever(corpus *index.Corpus, embedder ports.Embedder, topK int) (*VectorRetriever, error) {
	if err := corpus.Validate(); err != nil {
		return nil, err
	}
	return newVectorRetriever(embedder, topK, func(_ context.Context, vector []float32, k int) ([]domain.ScoredChunk, error) {
		return corpus.Vector.TopK(vector, k)
	}), nil
}

// NewSearcherRetriever queries an external vector backend with the same top-K contract.
func NewSearcherRetriever(searcher ports.VectorSearcher, embedder ports.Embedder, topK int) *VectorRetriever {
	return newVectorRetriever(embedder, topK, searcher.Search)
}

func newVectorRetriever(embedder ports.Embedder, topK int, search vectorSearch) *VectorRetriever {
	if topK <= 0 {
		topK = DefaultVectorTopK
	}
	return &VectorRetriever{embedder: embedder, search: search, topK: topK}
}

func (r *VectorRetriever) Retrieve(ctx context.Context, query string) ([]domain.ScoredChunk, error) {
	vector, err := r.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	chunks, err := r.search(ctx, vector, r.topK)
	if err != nil {
		return nil, fmt.Errorf("similarity search: %w", err)
	}
	return chunks, nil
}

// SummaryRetriever returns every chunk of the corpus regardless of the query.
type SummaryRetriever struct {
	summary *index.SummaryIndex
}

func NewSummaryRetriever(corpus *index.Corpus) (*SummaryRetriever, error) {
	if err := corpus.Validate(); err != nil {
		return nil, err
	}
	return &SummaryRetriever{summary: corpus.Summary}, nil
}

func (r *SummaryRetriever) Retrieve(context.Context, string) ([]domain.ScoredChunk, error) {
	all := r.summary.All()
	out := make([]domain.ScoredChunk, 0, len(all))
	for _, c := range all {
		out = append(out, domain.ScoredChunk{Chunk: c})
	}
	return out, nil
}
