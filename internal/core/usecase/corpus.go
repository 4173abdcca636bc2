package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/kirillkom/corpus-router/internal/core/domain"
	"github.com/kirillkom/corpus-router/internal/core/index"
	"github.com/kirillkom/corpus-router/internal/core/ports"
)

const embedBatchSize = 64

// CorpusService builds, persists and loads the corpus indices.
type CorpusService struct {
	reader   ports.DocumentReader
	chunker  ports.Chunker
	embedder ports.Embedder
	store    ports.IndexStore
	mirror   ports.VectorSearcher
	logger   *slog.Logger
	now      func() time.Time

	buildMu sync.Mutex
}

type CorpusOption func(*CorpusService)

// WithVectorMirror copies every persisted similarity index into an external searcher.
func WithVectorMirror(mirror ports.VectorSearcher) CorpusOption {
	return func(s *CorpusService) { s.mirror = mirror }
}

func WithCorpusLogger(logger *slog.Logger) CorpusOption {
	return func(s *CorpusService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func NewCorpusService(
	reader ports.DocumentReader,
	chunker ports.Chunker,
	embedder ports.Embedder,
	store ports.IndexStore,
	opts ...CorpusOption,
) *CorpusService {
	s := &CorpusService{
		reader:   reader,
		chunker:  chunker,
		embedder: embedder,
		store:    store,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load returns the persisted corpus. Any failure is reported as absent and
// logged; it is never returned as an error.
func (s *CorpusService) Load(ctx context.Context) (*index.Corpus, bool) {
	records := make(map[string][]byte, 2)
	for _, id := range index.IDs() {
		raw, err := s.store.Load(ctx, id)
		if err != nil {
			s.logger.Info("corpus_absent", "index_id", id, "reason", err.Error())
			return nil, false
		}
		records[id] = raw
	}

	corpus, err := index.Decode(records)
	if err != nil {
		s.logger.Warn("corpus_absent", "reason", err.Error())
		return nil, false
	}
	if got, want := corpus.EmbeddingModel(), s.embedder.Model(); got != want {
		s.logger.Warn("corpus_absent",
			"reason", "embedding model mismatch",
			"persisted_model", got,
			"configured_model", want,
		)
		return nil, false
	}

	s.logger.Info("corpus_loaded",
		"chunks", corpus.Vector.Len(),
		"documents", len(corpus.Summary.Documents()),
		"embedding_model", corpus.EmbeddingModel(),
		"built_at", corpus.BuiltAt,
	)
	return corpus, true
}

// Build derives both indices from documents. It is a pure function of its input.
func (s *CorpusService) Build(ctx context.Context, documents []domain.Document) (*index.Corpus, error) {
	if len(documents) == 0 {
		return nil, domain.WrapError(domain.ErrEmptyCorpus, "build corpus", fmt.Errorf("no documents"))
	}

	chunks := make([]domain.Chunk, 0, len(documents)*4)
	for _, doc := range documents {
		for i, text := range s.chunker.Split(doc.Text) {
			chunks = append(chunks, domain.Chunk{
				ID:         domain.ChunkID(doc.ID, i),
				DocumentID: doc.ID,
				Source:     doc.Source,
				Index:      i,
				Text:       text,
			})
		}
	}
	if len(chunks) == 0 {
		return nil, domain.WrapError(domain.ErrEmptyCorpus, "build corpus", fmt.Errorf("documents contain no text"))
	}

	vectors, err := s.embedChunks(ctx, chunks)
	if err != nil {
		return nil, err
	}

	vec, err := index.NewSimilarityIndex(s.embedder.Model(), chunks, vectors)
	if err != nil {
		return nil, fmt.Errorf("build similarity index: %w", err)
	}
	return &index.Corpus{
		Vector:  vec,
		Summary: index.NewSummaryIndex(chunks),
		BuiltAt: s.now().UTC(),
	}, nil
}

func (s *CorpusService) embedChunks(ctx context.Context, chunks []domain.Chunk) ([][]float32, error) {
	vectors := make([][]float32, 0, len(chunks))
	for start := 0; start < len(chunks); start += embedBatchSize {
		end := min(start+embedBatchSize, len(chunks))
		texts := make([]string, 0, end-start)
		for _, c := range chunks[start:end] {
			texts = append(texts, c.Text)
		}
		batch, err := s.embedder.Embed(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("embed chunks: %w", err)
		}
		if len(batch) != len(texts) {
			return nil, fmt.Errorf("embed chunks: got %d vectors for %d texts", len(batch), len(texts))
		}
		vectors = append(vectors, batch...)
	}
	return vectors, nil
}

// Persist writes both indices so a later Load restores an equivalent corpus.
func (s *CorpusService) Persist(ctx context.Context, corpus *index.Corpus) error {
	records, err := index.Encode(corpus)
	if err != nil {
		return fmt.Errorf("encode corpus: %w", err)
	}
	if err := s.store.Persist(ctx, records); err != nil {
		return fmt.Errorf("persist corpus: %w", err)
	}
	if s.mirror != nil {
		if err := s.mirror.IndexEntries(ctx, corpus.Vector.Entries()); err != nil {
			return fmt.Errorf("mirror similarity index: %w", err)
		}
	}
	s.logger.Info("corpus_persisted", "chunks", corpus.Vector.Len(), "built_at", corpus.BuiltAt)
	return nil
}

// LoadOrBuild trusts persisted state and rebuilds from dataPath only when it is absent.
func (s *CorpusService) LoadOrBuild(ctx context.Context, dataPath string) (*index.Corpus, error) {
	if corpus, ok := s.Load(ctx); ok {
		return corpus, nil
	}

	unlock, err := s.lock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	// Another process may have finished a build while this one waited.
	if corpus, ok := s.Load(ctx); ok {
		return corpus, nil
	}
	return s.rebuildLocked(ctx, dataPath)
}

// Rebuild ignores persisted state and rebuilds from dataPath.
func (s *CorpusService) Rebuild(ctx context.Context, dataPath string) (*index.Corpus, error) {
	unlock, err := s.lock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()
	return s.rebuildLocked(ctx, dataPath)
}

func (s *CorpusService) lock(ctx context.Context) (func(), error) {
	s.buildMu.Lock()
	unlock, err := s.store.Lock(ctx)
	if err != nil {
		s.buildMu.Unlock()
		return nil, fmt.Errorf("acquire build lock: %w", err)
	}
	return func() {
		unlock()
		s.buildMu.Unlock()
	}, nil
}

func (s *CorpusService) rebuildLocked(ctx context.Context, dataPath string) (*index.Corpus, error) {
	if strings.TrimSpace(dataPath) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "rebuild corpus", fmt.Errorf("data path is required"))
	}
	start := time.Now()
	documents, err := s.reader.Read(ctx, dataPath)
	if err != nil {
		return nil, domain.WrapError(domain.ErrEmptyCorpus, "read documents", err)
	}
	corpus, err := s.Build(ctx, documents)
	if err != nil {
		return nil, err
	}
	if err := s.Persist(ctx, corpus); err != nil {
		return nil, err
	}
	s.logger.Info("corpus_built",
		"data_path", dataPath,
		"documents", len(documents),
		"chunks", corpus.Vector.Len(),
		"duration_ms", float64(time.Since(start).Microseconds())/1000.0,
	)
	return corpus, nil
}
