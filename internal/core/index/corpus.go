package index

import (
	"fmt"
	"time"

	"github.com/kirillkom/corpus-router/internal/core/domain"
)

// Stable identifiers under which each index is persisted.
const (
	VectorIndexID  = "vector_index"
	SummaryIndexID = "summary_index"
)

func IDs() []string {
	return []string{VectorIndexID, SummaryIndexID}
}

// Corpus is the process-wide handle to both indices built from one document set.
type Corpus struct {
	Vector  *SimilarityIndex
	Summary *SummaryIndex
	BuiltAt time.Time
}

func (c *Corpus) Validate() error {
	if c == nil || c.Vector == nil || c.Summary == nil {
		return domain.WrapError(domain.ErrIndexAbsent, "validate corpus", fmt.Errorf("corpus indices are not loaded"))
	}
	return nil
}

func (c *Corpus) EmbeddingModel() string {
	if c == nil || c.Vector == nil {
		return ""
	}
	return c.Vector.EmbeddingModel()
}
