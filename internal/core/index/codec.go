package index

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kirillkom/corpus-router/internal/core/domain"
)

const FormatVersion = 1

var ErrIncompatibleRecord = errors.New("incompatible index record")

type manifest struct {
	IndexID        string    `json:"index_id"`
	FormatVersion  int       `json:"format_version"`
	EmbeddingModel string    `json:"embedding_model,omitempty"`
	Dimension      int       `json:"dimension,omitempty"`
	BuiltAt        time.Time `json:"built_at"`
}

type vectorRecord struct {
	manifest
	Chunks []domain.Chunk `json:"chunks"`
	// Vectors holds len(Chunks)*Dimension little-endian float32 values.
	Vectors string `json:"vectors"`
}

type summaryRecord struct {
	manifest
	Documents []documentRecord `json:"documents"`
}

type documentRecord struct {
	DocumentID string         `json:"document_id"`
	Source     string         `json:"source"`
	Chunks     []domain.Chunk `json:"chunks"`
}

// Encode serializes both indices keyed by their stable ids.
func Encode(c *Corpus) (map[string][]byte, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	vec, err := encodeSimilarity(c.Vector, c.BuiltAt)
	if err != nil {
		return nil, err
	}
	sum, err := encodeSummary(c.Summary, c.BuiltAt)
	if err != nil {
		return nil, err
	}
	return map[string][]byte{
		VectorIndexID:  vec,
		SummaryIndexID: sum,
	}, nil
}

// Decode restores a corpus from records produced by Encode.
func Decode(records map[string][]byte) (*Corpus, error) {
	rawVec, ok := records[VectorIndexID]
	if !ok {
		return nil, fmt.Errorf("%w: missing %s", ErrIncompatibleRecord, VectorIndexID)
	}
	rawSum, ok := records[SummaryIndexID]
	if !ok {
		return nil, fmt.Errorf("%w: missing %s", ErrIncompatibleRecord, SummaryIndexID)
	}
	vec, builtAt, err := decodeSimilarity(rawVec)
	if err != nil {
		return nil, err
	}
	sum, err := decodeSummary(rawSum)
	if err != nil {
		return nil, err
	}
	return &Corpus{Vector: vec, Summary: sum, BuiltAt: builtAt}, nil
}

func encodeSimilarity(x *SimilarityIndex, builtAt time.Time) ([]byte, error) {
	chunks := make([]domain.Chunk, 0, len(x.entries))
	flat := make([]float32, 0, len(x.entries)*x.dim)
	for _, e := range x.entries {
		chunks = append(chunks, e.Chunk)
		flat = append(flat, e.Vector...)
	}

	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, flat); err != nil {
		return nil, fmt.Errorf("encode vectors: %w", err)
	}

	rec := vectorRecord{
		manifest: manifest{
			IndexID:        VectorIndexID,
			FormatVersion:  FormatVersion,
			EmbeddingModel: x.embeddingModel,
			Dimension:      x.dim,
			BuiltAt:        builtAt.UTC(),
		},
		Chunks:  chunks,
		Vectors: base64.StdEncoding.EncodeToString(buf.Bytes()),
	}
	return json.Marshal(rec)
}

func decodeSimilarity(raw []byte) (*SimilarityIndex, time.Time, error) {
	var rec vectorRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, time.Time{}, fmt.Errorf("%w: %s: %w", ErrIncompatibleRecord, VectorIndexID, err)
	}
	if err := rec.check(VectorIndexID); err != nil {
		return nil, time.Time{}, err
	}

	blob, err := base64.StdEncoding.DecodeString(rec.Vectors)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("%w: decode vectors: %w", ErrIncompatibleRecord, err)
	}
	want := len(rec.Chunks) * rec.Dimension
	if len(blob) != want*4 {
		return nil, time.Time{}, fmt.Errorf("%w: vector blob size %d, want %d", ErrIncompatibleRecord, len(blob), want*4)
	}
	flat := make([]float32, want)
	if err := binary.Read(bytes.NewReader(blob), binary.LittleEndian, flat); err != nil {
		return nil, time.Time{}, fmt.Errorf("%w: read vectors: %w", ErrIncompatibleRecord, err)
	}

	vectors := make([][]float32, len(rec.Chunks))
	for i := range rec.Chunks {
		vectors[i] = flat[i*rec.Dimension : (i+1)*rec.Dimension]
	}
	x, err := NewSimilarityIndex(rec.EmbeddingModel, rec.Chunks, vectors)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("%w: %w", ErrIncompatibleRecord, err)
	}
	return x, rec.BuiltAt, nil
}

func encodeSummary(x *SummaryIndex, builtAt time.Time) ([]byte, error) {
	docs := make([]documentRecord, 0, len(x.nodes))
	for _, n := range x.nodes {
		docs = append(docs, documentRecord{DocumentID: n.DocumentID, Source: n.Source, Chunks: n.Chunks})
	}
	rec := summaryRecord{
		manifest: manifest{
			IndexID:       SummaryIndexID,
			FormatVersion: FormatVersion,
			BuiltAt:       builtAt.UTC(),
		},
		Documents: docs,
	}
	return json.Marshal(rec)
}

func decodeSummary(raw []byte) (*SummaryIndex, error) {
	var rec summaryRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrIncompatibleRecord, SummaryIndexID, err)
	}
	if err := rec.check(SummaryIndexID); err != nil {
		return nil, err
	}
	x := &SummaryIndex{nodes: make([]DocumentNode, 0, len(rec.Documents))}
	for _, d := range rec.Documents {
		x.nodes = append(x.nodes, DocumentNode{DocumentID: d.DocumentID, Source: d.Source, Chunks: d.Chunks})
	}
	return x, nil
}

func (m manifest) check(indexID string) error {
	if m.IndexID != indexID {
		return fmt.Errorf("%w: index id %q, want %q", ErrIncompatibleRecord, m.IndexID, indexID)
	}
	if m.FormatVersion != FormatVersion {
		return fmt.Errorf("%w: %s format version %d, want %d", ErrIncompatibleRecord, indexID, m.FormatVersion, FormatVersion)
	}
	return nil
}
