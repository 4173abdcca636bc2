package index

import (
	"fmt"
	"slices"
	"strings"

	"github.com/kirillkom/corpus-router/internal/core/domain"
)

// Entry pairs a chunk with its unit-length embedding.
type Entry struct {
	Chunk  domain.Chunk
	Vector []float32
}

// SimilarityIndex answers top-K nearest chunk lookups. It is read-only after
// construction and safe for concurrent readers.
type SimilarityIndex struct {
	embeddingModel string
	dim            int
	entries        []Entry
}

func NewSimilarityIndex(embeddingModel string, chunks []domain.Chunk, vectors [][]float32) (*SimilarityIndex, error) {
	if len(chunks) != len(vectors) {
		return nil, fmt.Errorf("chunks/vectors mismatch: %d != %d", len(chunks), len(vectors))
	}
	x := &SimilarityIndex{
		embeddingModel: strings.TrimSpace(embeddingModel),
		entries:        make([]Entry, 0, len(chunks)),
	}
	for i, chunk := range chunks {
		if len(vectors[i]) == 0 {
			return nil, fmt.Errorf("empty vector for chunk %s", chunk.ID)
		}
		if x.dim == 0 {
			x.dim = len(vectors[i])
		}
		if len(vectors[i]) != x.dim {
			return nil, fmt.Errorf("chunk %s: %w: got %d want %d", chunk.ID, ErrVectorLengthMismatch, len(vectors[i]), x.dim)
		}
		x.entries = append(x.entries, Entry{Chunk: chunk, Vector: NormalizeL2(vectors[i])})
	}
	return x, nil
}

func (x *SimilarityIndex) Len() int { return len(x.entries) }

func (x *SimilarityIndex) Dimension() int { return x.dim }

func (x *SimilarityIndex) EmbeddingModel() string { return x.embeddingModel }

// Entries returns a copy of the indexed entries in insertion order.
func (x *SimilarityIndex) Entries() []Entry {
	return slices.Clone(x.entries)
}

// TopK returns exactly min(k, Len()) chunks ordered by descending score.
// Equal scores are ordered by chunk id so repeated lookups agree.
func (x *SimilarityIndex) TopK(query []float32, k int) ([]domain.ScoredChunk, error) {
	if k <= 0 || len(x.entries) == 0 {
		return []domain.ScoredChunk{}, nil
	}
	if len(query) != x.dim {
		return nil, fmt.Errorf("query: %w: got %d want %d", ErrVectorLengthMismatch, len(query), x.dim)
	}

	q := NormalizeL2(query)
	scored := make([]domain.ScoredChunk, 0, len(x.entries))
	for _, e := range x.entries {
		score, err := Cosine(q, e.Vector)
		if err != nil {
			return nil, err
		}
		scored = append(scored, domain.ScoredChunk{Chunk: e.Chunk, Score: score})
	}
	slices.SortStableFunc(scored, compareScored)

	if k > len(scored) {
		k = len(scored)
	}
	return scored[:k], nil
}

func compareScored(a, b domain.ScoredChunk) int {
	switch {
	case a.Score > b.Score:
		return -1
	case a.Score < b.Score:
		return 1
	default:
		return strings.Compare(a.ID, b.ID)
	}
}
