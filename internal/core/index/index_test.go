package index

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/kirillkom/corpus-router/internal/core/domain"
)

func testChunks() []domain.Chunk {
	return []domain.Chunk{
		{ID: "doc-a:0", DocumentID: "doc-a", Source: "a.txt", Index: 0, Text: "wrote short stories"},
		{ID: "doc-a:1", DocumentID: "doc-a", Source: "a.txt", Index: 1, Text: "programmed an IBM 1401"},
		{ID: "doc-b:0", DocumentID: "doc-b", Source: "b.txt", Index: 0, Text: "started Viaweb"},
		{ID: "doc-b:1", DocumentID: "doc-b", Source: "b.txt", Index: 1, Text: "founded Y Combinator"},
	}
}

func testVectors() [][]float32 {
	return [][]float32{
		{1, 0, 0},
		{0.9, 0.1, 0},
		{0, 1, 0},
		{0, 0, 1},
	}
}

func TestTopKReturnsExactlyMinKN(t *testing.T) {
	x, err := NewSimilarityIndex("hashing-256", testChunks(), testVectors())
	if err != nil {
		t.Fatalf("NewSimilarityIndex() error = %v", err)
	}

	for _, tc := range []struct{ k, want int }{{2, 2}, {4, 4}, {10, 4}, {0, 0}} {
		got, err := x.TopK([]float32{1, 0, 0}, tc.k)
		if err != nil {
			t.Fatalf("TopK(%d) error = %v", tc.k, err)
		}
		if len(got) != tc.want {
			t.Fatalf("TopK(%d): expected %d results, got %d", tc.k, tc.want, len(got))
		}
	}
}

func TestTopKOrdersByDescendingScore(t *testing.T) {
	x, err := NewSimilarityIndex("hashing-256", testChunks(), testVectors())
	if err != nil {
		t.Fatalf("NewSimilarityIndex() error = %v", err)
	}
	got, err := x.TopK([]float32{1, 0, 0}, 2)
	if err != nil {
		t.Fatalf("TopK() error = %v", err)
	}
	if got[0].ID != "doc-a:0" || got[1].ID != "doc-a:1" {
		t.Fatalf("unexpected order: %s, %s", got[0].ID, got[1].ID)
	}
	if got[0].Score < got[1].Score {
		t.Fatalf("scores are not descending: %f < %f", got[0].Score, got[1].Score)
	}
}

func TestTopKBreaksTiesByChunkID(t *testing.T) {
	chunks := []domain.Chunk{
		{ID: "z:0", DocumentID: "z"},
		{ID: "a:0", DocumentID: "a"},
		{ID: "m:0", DocumentID: "m"},
	}
	vectors := [][]float32{{1, 1}, {1, 1}, {1, 1}}
	x, err := NewSimilarityIndex("m", chunks, vectors)
	if err != nil {
		t.Fatalf("NewSimilarityIndex() error = %v", err)
	}
	for i := 0; i < 5; i++ {
		got, err := x.TopK([]float32{1, 1}, 2)
		if err != nil {
			t.Fatalf("TopK() error = %v", err)
		}
		if got[0].ID != "a:0" || got[1].ID != "m:0" {
			t.Fatalf("expected deterministic tie order a:0, m:0; got %s, %s", got[0].ID, got[1].ID)
		}
	}
}

func TestTopKRejectsDimensionMismatch(t *testing.T) {
	x, err := NewSimilarityIndex("m", testChunks(), testVectors())
	if err != nil {
		t.Fatalf("NewSimilarityIndex() error = %v", err)
	}
	if _, err := x.TopK([]float32{1, 0}, 2); !errors.Is(err, ErrVectorLengthMismatch) {
		t.Fatalf("expected ErrVectorLengthMismatch, got %v", err)
	}
}

func TestSummaryAllReturnsEveryChunk(t *testing.T) {
	chunks := testChunks()
	x := NewSummaryIndex(chunks)

	all := x.All()
	if len(all) != len(chunks) {
		t.Fatalf("expected %d leaves, got %d", len(chunks), len(all))
	}
	for i := range chunks {
		if all[i].ID != chunks[i].ID {
			t.Fatalf("leaf %d: expected %s, got %s", i, chunks[i].ID, all[i].ID)
		}
	}
	if docs := x.Documents(); len(docs) != 2 || docs[0].DocumentID != "doc-a" {
		t.Fatalf("unexpected document nodes: %+v", docs)
	}
}

func TestEncodeDecodePreservesTopK(t *testing.T) {
	vec, err := NewSimilarityIndex("hashing-256", testChunks(), testVectors())
	if err != nil {
		t.Fatalf("NewSimilarityIndex() error = %v", err)
	}
	corpus := &Corpus{Vector: vec, Summary: NewSummaryIndex(testChunks()), BuiltAt: time.Unix(1700000000, 0)}

	records, err := Encode(corpus)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	restored, err := Decode(records)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}

	query := []float32{0.2, 0.9, 0.1}
	before, _ := corpus.Vector.TopK(query, 2)
	after, _ := restored.Vector.TopK(query, 2)
	for i := range before {
		if before[i].ID != after[i].ID {
			t.Fatalf("top-k differs after round trip at %d: %s vs %s", i, before[i].ID, after[i].ID)
		}
	}
	if restored.EmbeddingModel() != "hashing-256" {
		t.Fatalf("embedding model lost: %q", restored.EmbeddingModel())
	}
	if restored.Summary.Len() != corpus.Summary.Len() {
		t.Fatalf("summary leaves lost: %d vs %d", restored.Summary.Len(), corpus.Summary.Len())
	}
	if !restored.BuiltAt.Equal(corpus.BuiltAt) {
		t.Fatalf("built_at lost: %v", restored.BuiltAt)
	}
}

func TestDecodeRejectsUnknownFormatVersion(t *testing.T) {
	vec, _ := NewSimilarityIndex("m", testChunks(), testVectors())
	records, err := Encode(&Corpus{Vector: vec, Summary: NewSummaryIndex(testChunks())})
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	records[SummaryIndexID] = []byte(strings.Replace(string(records[SummaryIndexID]), `"format_version":1`, `"format_version":99`, 1))

	if _, err := Decode(records); !errors.Is(err, ErrIncompatibleRecord) {
		t.Fatalf("expected ErrIncompatibleRecord, got %v", err)
	}
}

func TestValidateReportsAbsentIndex(t *testing.T) {
	var c *Corpus
	if err := c.Validate(); !domain.IsKind(err, domain.ErrIndexAbsent) {
		t.Fatalf("expected ErrIndexAbsent, got %v", err)
	}
}
