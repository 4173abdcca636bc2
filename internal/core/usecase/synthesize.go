package usecase

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/corpus-router/internal/core/domain"
	"github.com/kirillkom/corpus-router/internal/core/ports"
	"github.com/kirillkom/corpus-router/internal/core/stream"
)

const defaultSummaryConcurrency = 4

// CompactSynthesizer packs chunks into as few context-filling prompts as
// possible. The first batch is answered, each later batch refines that
// answer, and only the final call streams.
type CompactSynthesizer struct {
	generator ports.Generator
	params    domain.GenerationParams
}

func NewCompactSynthesizer(generator ports.Generator, params domain.GenerationParams) *CompactSynthesizer {
	return &CompactSynthesizer{generator: generator, params: params}
}

func (s *CompactSynthesizer) Synthesize(ctx context.Context, query string, chunks []domain.ScoredChunk, emit stream.Emit) error {
	budget := contextBudget(s.params.ContextWindow, s.params.MaxTokens, buildRefinePrompt(query, "", ""))
	batches := packTexts(domain.ChunkTexts(chunks), budget)

	answer := ""
	for i, batch := range batches {
		var prompt string
		if i == 0 {
			prompt = buildQAPrompt(query, joinContext(batch))
		} else {
			prompt = buildRefinePrompt(query, answer, joinContext(batch))
		}

		if i == len(batches)-1 {
			return generateFinal(ctx, s.generator, s.params, prompt, emit)
		}

		var err error
		answer, err = s.generator.Complete(ctx, prompt)
		if err != nil {
			return fmt.Errorf("compact batch %d/%d: %w", i+1, len(batches), err)
		}
	}
	return nil
}

// TreeSummarizer summarizes batches of chunks against the query, then
// summarizes the summaries, until one batch remains for the streamed answer.
type TreeSummarizer struct {
	generator   ports.Generator
	params      domain.GenerationParams
	concurrency int
	logger      *slog.Logger
}

func NewTreeSummarizer(generator ports.Generator, params domain.GenerationParams, concurrency int) *TreeSummarizer {
	if concurrency <= 0 {
		concurrency = defaultSummaryConcurrency
	}
	return &TreeSummarizer{generator: generator, params: params, concurrency: concurrency, logger: slog.Default()}
}

func (s *TreeSummarizer) WithLogger(logger *slog.Logger) *TreeSummarizer {
	if logger != nil {
		s.logger = logger
	}
	return s
}

func (s *TreeSummarizer) Synthesize(ctx context.Context, query string, chunks []domain.ScoredChunk, emit stream.Emit) error {
	budget := contextBudget(s.params.ContextWindow, s.params.MaxTokens, buildSummaryPrompt(query, ""))
	texts := domain.ChunkTexts(chunks)

	prevBatches := 0
	for level := 0; ; level++ {
		batches := packTexts(texts, budget)
		if level > 0 && len(batches) >= prevBatches {
			// Summaries stopped shrinking: give every one an equal share of
			// the final prompt.
			share := max(budget/len(texts), 1)
			s.logger.Warn("tree_summarize_truncated",
				"level", level,
				"summaries", len(texts),
				"tokens_per_summary", share,
			)
			fitted := make([]string, len(texts))
			for i, text := range texts {
				fitted[i] = truncateTokens(text, share)
			}
			batches = [][]string{fitted}
		}
		if len(batches) == 1 {
			return generateFinal(ctx, s.generator, s.params, buildSummaryPrompt(query, joinContext(batches[0])), emit)
		}

		summaries, err := s.summarizeLevel(ctx, query, batches)
		if err != nil {
			return fmt.Errorf("tree summarize level %d: %w", level, err)
		}
		texts = summaries
		prevBatches = len(batches)
	}
}

func (s *TreeSummarizer) summarizeLevel(ctx context.Context, query string, batches [][]string) ([]string, error) {
	summaries := make([]string, len(batches))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(s.concurrency)
	for i, batch := range batches {
		group.Go(func() error {
			summary, err := s.generator.Complete(groupCtx, buildSummaryPrompt(query, joinContext(batch)))
			if err != nil {
				return err
			}
			summaries[i] = summary
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	return summaries, nil
}

func generateFinal(ctx context.Context, generator ports.Generator, params domain.GenerationParams, prompt string, emit stream.Emit) error {
	if !params.Streaming {
		text, err := generator.Complete(ctx, prompt)
		if err != nil {
			return err
		}
		return emit(text)
	}
	tokens, err := generator.Stream(ctx, prompt)
	if err != nil {
		return err
	}
	return stream.Pipe(tokens, emit)
}
