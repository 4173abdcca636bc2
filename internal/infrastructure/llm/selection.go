package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kirillkom/corpus-router/internal/core/domain"
)

// JSONCompleter is a generator that can be asked for a single JSON object.
type JSONCompleter interface {
	CompleteJSON(ctx context.Context, prompt string) (string, error)
}

// Selector asks a model to pick one numbered choice.
type Selector struct {
	completer JSONCompleter
	model     string
	logger    *slog.Logger
}

func NewSelector(completer JSONCompleter, model string, logger *slog.Logger) *Selector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Selector{completer: completer, model: model, logger: logger}
}

func (s *Selector) Select(ctx context.Context, query string, choices []string) (domain.RouteDecision, error) {
	if len(choices) == 0 {
		return domain.RouteDecision{}, domain.WrapError(domain.ErrSelectionFailed, "select", fmt.Errorf("no choices"))
	}
	raw, err := s.completer.CompleteJSON(ctx, buildSelectionPrompt(query, choices))
	if err != nil {
		if ctx.Err() != nil {
			return domain.RouteDecision{}, ctx.Err()
		}
		return domain.RouteDecision{}, domain.WrapError(domain.ErrSelectionFailed, "select", err)
	}
	decision, err := parseSelection(raw, len(choices))
	if err != nil {
		s.logger.Warn("selection_unparsable", "model", s.model, "raw", truncate(raw, 200), "error", err)
		return domain.RouteDecision{}, domain.WrapError(domain.ErrSelectionFailed, "select", err)
	}
	return decision, nil
}

func buildSelectionPrompt(query string, choices []string) string {
	var b strings.Builder
	b.WriteString("Some choices are given below. It is provided in a numbered list (1 to ")
	fmt.Fprintf(&b, "%d), where each item in the list corresponds to a summary.\n", len(choices))
	b.WriteString("---------------------\n")
	for i, choice := range choices {
		fmt.Fprintf(&b, "(%d) %s\n\n", i+1, strings.TrimSpace(choice))
	}
	b.WriteString("---------------------\n")
	b.WriteString("Using only the choices above and not prior knowledge, return the choice that is most relevant to the question: '")
	b.WriteString(query)
	b.WriteString("'\n\n")
	b.WriteString(`Return strict JSON object with keys:
choice (integer, the number of the selected choice), reason (string, one sentence).
No markdown, no extra keys.`)
	return b.String()
}

type selectionAnswer struct {
	Choice *int   `json:"choice"`
	Reason string `json:"reason"`
}

func parseSelection(raw string, n int) (domain.RouteDecision, error) {
	var answer selectionAnswer
	if err := json.Unmarshal([]byte(extractJSONObject(raw)), &answer); err != nil {
		return domain.RouteDecision{}, fmt.Errorf("parse selection json: %w", err)
	}
	if answer.Choice == nil {
		return domain.RouteDecision{}, fmt.Errorf("selection has no choice")
	}
	choice := *answer.Choice
	if choice < 1 || choice > n {
		return domain.RouteDecision{}, fmt.Errorf("choice %d out of range 1..%d", choice, n)
	}
	return domain.RouteDecision{Index: choice - 1, Reason: strings.TrimSpace(answer.Reason)}, nil
}

func extractJSONObject(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		return raw[start : end+1]
	}
	return raw
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
