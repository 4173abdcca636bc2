// Package hashing is an offline embedder: lower-cased word unigrams and
// bigrams hashed into a fixed number of signed buckets, then L2 normalized.
package hashing

import (
	"context"
	"hash/fnv"
	"strings"
	"unicode"

	"github.com/kirillkom/corpus-router/internal/core/index"
)

const DefaultDimension = 512

type Embedder struct {
	model     string
	dimension int
}

func New(model string, dimension int) *Embedder {
	if dimension <= 0 {
		dimension = DefaultDimension
	}
	return &Embedder{model: model, dimension: dimension}
}

func (e *Embedder) Model() string { return e.model }

func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for _, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out = append(out, e.vector(text))
	}
	return out, nil
}

func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return e.vector(text), nil
}

func (e *Embedder) vector(text string) []float32 {
	vec := make([]float32, e.dimension)
	words := tokenize(text)
	for i, word := range words {
		e.add(vec, word, 1)
		if i > 0 {
			e.add(vec, words[i-1]+" "+word, 0.5)
		}
	}
	return index.NormalizeL2(vec)
}

func (e *Embedder) add(vec []float32, feature string, weight float32) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(feature))
	sum := h.Sum64()
	bucket := int(sum % uint64(e.dimension))
	if sum&(1<<63) != 0 {
		weight = -weight
	}
	vec[bucket] += weight
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
